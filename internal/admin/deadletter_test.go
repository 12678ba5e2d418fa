package admin_test

import (
	"context"
	"testing"
	"time"

	"github.com/fdominguez1972/thumper-counter-sub002/internal/admin"
	"github.com/fdominguez1972/thumper-counter-sub002/internal/queue"
)

type fakeNotifier struct {
	calls []string
}

func (f *fakeNotifier) NotifyDeadLetter(_ context.Context, queueName, itemID string, _ int, _ error) error {
	f.calls = append(f.calls, queueName+":"+itemID)
	return nil
}

func TestDeadLetterWatcherNotifiesOnceWhenBacklogGrows(t *testing.T) {
	q := queue.NewMemoryQueue(1)
	ctx := context.Background()
	_ = q.Enqueue(ctx, queue.Detect, "item-1")
	_, _ = q.Reserve(ctx, queue.Detect, time.Millisecond)
	time.Sleep(2 * time.Millisecond)
	_, _ = q.Reserve(ctx, queue.Detect, time.Second) // attempts now meets maxRetries: dead-lettered

	fn := &fakeNotifier{}
	w := &admin.DeadLetterWatcher{
		Lister:     q,
		Notifier:   fn,
		QueueNames: []string{queue.Detect},
		Logger:     silentLogger(),
	}

	w.Tick(ctx)
	if len(fn.calls) != 1 {
		t.Fatalf("expected 1 notification after first tick, got %d: %v", len(fn.calls), fn.calls)
	}

	w.Tick(ctx)
	if len(fn.calls) != 1 {
		t.Fatalf("expected no new notification on unchanged backlog, got %d: %v", len(fn.calls), fn.calls)
	}
}

func TestDeadLetterWatcherSkipsEmptyBacklog(t *testing.T) {
	q := queue.NewMemoryQueue(5)
	fn := &fakeNotifier{}
	w := &admin.DeadLetterWatcher{
		Lister:     q,
		Notifier:   fn,
		QueueNames: []string{queue.Detect, queue.ReID},
		Logger:     silentLogger(),
	}

	w.Tick(context.Background())
	if len(fn.calls) != 0 {
		t.Fatalf("expected no notifications for an empty backlog, got %v", fn.calls)
	}
}
