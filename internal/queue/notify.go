package queue

import (
	"context"
	"time"

	"github.com/lib/pq"
	"github.com/sirupsen/logrus"
)

// Wake is a channel-based wake-up signal derived from Postgres
// LISTEN/NOTIFY on a queue's channel (the channel name equals the queue
// name). It uses its own dedicated connection, independent of the sqlx
// pool used for regular queries, because lib/pq's Listener owns its
// connection lifecycle.
type Wake struct {
	listener *pq.Listener
	C        <-chan struct{}
}

// ListenForWake subscribes to NOTIFY events on queueName. Connection
// loss is handled by pq.Listener's own reconnect logic; callers should
// treat C as best-effort and keep polling Reserve on a timer regardless.
func ListenForWake(dsn, queueName string, logger *logrus.Logger) (*Wake, error) {
	events := make(chan struct{}, 1)
	reportProblem := func(ev pq.ListenerEventType, err error) {
		if err != nil {
			logger.WithError(err).Warn("queue notify listener event")
		}
	}
	listener := pq.NewListener(dsn, 10*time.Second, time.Minute, reportProblem)
	if err := listener.Listen(queueName); err != nil {
		listener.Close()
		return nil, err
	}

	go func() {
		for range listener.Notify {
			select {
			case events <- struct{}{}:
			default:
			}
		}
	}()

	return &Wake{listener: listener, C: events}, nil
}

func (w *Wake) Close() error {
	return w.listener.Close()
}

// WaitForWork blocks until either a wake notification arrives, the poll
// interval elapses, or ctx is cancelled — whichever comes first. A
// dispatcher calls this between Reserve attempts instead of a tight
// polling loop.
func (w *Wake) WaitForWork(ctx context.Context, pollInterval time.Duration) {
	timer := time.NewTimer(pollInterval)
	defer timer.Stop()
	select {
	case <-ctx.Done():
	case <-w.C:
	case <-timer.C:
	}
}
