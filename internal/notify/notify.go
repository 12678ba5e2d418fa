// Package notify sends operator-facing alerts when an item is
// dead-lettered. A Redis key
// with a short TTL throttles repeat notifications for the same queue so
// a pile-up of failures pages once, not once per item — the one place
// in this pipeline a short-TTL external key space earns its keep over
// the queue's own transactional store.
package notify

import (
	"context"
	"fmt"
	"time"

	goredis "github.com/redis/go-redis/v9"
	"github.com/slack-go/slack"
)

// poster is the slice of *slack.Client this package exercises; tests
// substitute a fake rather than hitting Slack's API.
type poster interface {
	PostMessageContext(ctx context.Context, channelID string, options ...slack.MsgOption) (string, string, error)
}

// Notifier posts a dead-letter alert to Slack, throttled per queue.
type Notifier struct {
	slack     poster
	channel   string
	redis     *goredis.Client
	throttle  time.Duration
	keyPrefix string
}

func New(webhookToken, channel string, redisClient *goredis.Client, throttle time.Duration) *Notifier {
	return &Notifier{
		slack:     slack.New(webhookToken),
		channel:   channel,
		redis:     redisClient,
		throttle:  throttle,
		keyPrefix: "trailcam:dead_letter_notify:",
	}
}

// NotifyDeadLetter posts one message for queueName's dead-letter event,
// unless a notification for the same queue was already sent within the
// throttle window.
func (n *Notifier) NotifyDeadLetter(ctx context.Context, queueName, itemID string, attempts int, cause error) error {
	key := n.keyPrefix + queueName
	ok, err := n.redis.SetNX(ctx, key, itemID, n.throttle).Result()
	if err != nil {
		// Redis being unavailable should not block the dead-letter path
		// itself; fall through and notify anyway rather than silently
		// dropping an operator alert.
		ok = true
	}
	if !ok {
		return nil
	}

	text := fmt.Sprintf(":warning: queue `%s`: item `%s` dead-lettered after %d attempts: %v",
		queueName, itemID, attempts, cause)
	_, _, err = n.slack.PostMessageContext(ctx, n.channel, slack.MsgOptionText(text, false))
	return err
}
