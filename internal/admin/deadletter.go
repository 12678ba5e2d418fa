package admin

import (
	"context"
	"errors"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/fdominguez1972/thumper-counter-sub002/internal/logging"
	"github.com/fdominguez1972/thumper-counter-sub002/internal/notify"
	"github.com/fdominguez1972/thumper-counter-sub002/internal/queue"
)

// DeadLetterWatcher polls each of the named queues' dead-letter tables
// and posts one throttled notification per queue when new items appear.
// It lives in internal/admin rather than internal/queue so the queue
// package never imports Slack or Redis.
type DeadLetterWatcher struct {
	Lister     DeadLetterLister
	Notifier   deadLetterNotifier
	QueueNames []string
	Logger     *logrus.Logger

	seen map[string]int
}

// DeadLetterLister is the subset of queue.Queue the watcher needs;
// satisfied by *queue.PostgresQueue and *queue.MemoryQueue.
type DeadLetterLister interface {
	DeadLetterDetails(ctx context.Context, queueName string) ([]queue.DeadLetterItem, error)
}

// deadLetterNotifier is the subset of *notify.Notifier the watcher
// needs; narrowed to an interface so tests can substitute a fake
// instead of exercising a real Slack client.
type deadLetterNotifier interface {
	NotifyDeadLetter(ctx context.Context, queueName, itemID string, attempts int, cause error) error
}

var _ deadLetterNotifier = (*notify.Notifier)(nil)

// Run polls every pollInterval until ctx is cancelled. Each tick, a
// queue whose dead-letter count grew since the last tick fires one
// (possibly throttled) notification naming the newest item.
func (w *DeadLetterWatcher) Run(ctx context.Context, pollInterval time.Duration) {
	ticker := time.NewTicker(pollInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			w.Tick(ctx)
		}
	}
}

// Tick runs one poll cycle immediately; Run calls this on a timer, but
// it is also useful standalone from an admin HTTP endpoint or a test.
func (w *DeadLetterWatcher) Tick(ctx context.Context) {
	if w.seen == nil {
		w.seen = make(map[string]int)
	}
	for _, name := range w.QueueNames {
		items, err := w.Lister.DeadLetterDetails(ctx, name)
		if err != nil {
			w.Logger.WithFields(logging.NewFields().Component("admin").Operation("dead_letter_watch").QueueName(name).Error(err).Logrus()).
				Warn("dead-letter list failed")
			continue
		}
		if len(items) <= w.seen[name] {
			w.seen[name] = len(items)
			continue
		}
		newest := items[len(items)-1]
		if err := w.Notifier.NotifyDeadLetter(ctx, name, newest.ItemID, newest.Attempts, errors.New("new dead-letter item")); err != nil {
			w.Logger.WithFields(logging.NewFields().Component("admin").Operation("dead_letter_watch").QueueName(name).Error(err).Logrus()).
				Warn("dead-letter notify failed")
		}
		w.seen[name] = len(items)
	}
}
