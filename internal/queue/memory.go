package queue

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"
)

// MemoryQueue is an in-process Queue implementation with the same
// at-least-once/visibility-timeout semantics as PostgresQueue, used by
// worker and dispatcher tests so they do not need a live database.
type MemoryQueue struct {
	mu         sync.Mutex
	items      map[string][]*memoryItem
	dead       map[string][]string
	maxRetries int
}

type memoryItem struct {
	itemID      string
	visibleAt   time.Time
	reservation string
	attempts    int
}

func NewMemoryQueue(maxRetries int) *MemoryQueue {
	return &MemoryQueue{
		items:      make(map[string][]*memoryItem),
		dead:       make(map[string][]string),
		maxRetries: maxRetries,
	}
}

func (q *MemoryQueue) Enqueue(_ context.Context, queueName, itemID string) error {
	q.mu.Lock()
	defer q.mu.Unlock()
	q.items[queueName] = append(q.items[queueName], &memoryItem{itemID: itemID, visibleAt: time.Now()})
	return nil
}

func (q *MemoryQueue) Reserve(_ context.Context, queueName string, visibilityTimeout time.Duration) (*Handle, error) {
	q.mu.Lock()
	defer q.mu.Unlock()

	now := time.Now()
	items := q.items[queueName]
	for i, it := range items {
		if it.reservation != "" && it.visibleAt.After(now) {
			continue // currently reserved and not yet timed out
		}
		if !it.visibleAt.After(now) {
			if it.attempts >= q.maxRetries {
				q.dead[queueName] = append(q.dead[queueName], it.itemID)
				q.items[queueName] = append(items[:i], items[i+1:]...)
				return nil, nil
			}
			it.attempts++
			it.reservation = uuid.NewString()
			it.visibleAt = now.Add(visibilityTimeout)
			return &Handle{QueueName: queueName, ItemID: it.itemID, Reservation: it.reservation, Attempts: it.attempts}, nil
		}
	}
	return nil, nil
}

func (q *MemoryQueue) Ack(_ context.Context, h *Handle) error {
	q.mu.Lock()
	defer q.mu.Unlock()
	items := q.items[h.QueueName]
	for i, it := range items {
		if it.itemID == h.ItemID && it.reservation == h.Reservation {
			q.items[h.QueueName] = append(items[:i], items[i+1:]...)
			return nil
		}
	}
	return nil
}

func (q *MemoryQueue) Nack(_ context.Context, h *Handle) error {
	q.mu.Lock()
	defer q.mu.Unlock()
	for _, it := range q.items[h.QueueName] {
		if it.itemID == h.ItemID && it.reservation == h.Reservation {
			it.visibleAt = time.Now()
			it.reservation = ""
			return nil
		}
	}
	return nil
}

func (q *MemoryQueue) Depth(_ context.Context, queueName string) (int, error) {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.items[queueName]), nil
}

// DeadLetterItems returns the items moved to the dead-letter list for
// queueName.
func (q *MemoryQueue) DeadLetterItems(queueName string) []string {
	q.mu.Lock()
	defer q.mu.Unlock()
	return append([]string(nil), q.dead[queueName]...)
}

// DeadLetterDetails mirrors PostgresQueue.DeadLetterDetails for tests
// that exercise DeadLetterLister against an in-memory queue; the
// in-memory queue does not track attempt counts per dead-lettered item,
// so Attempts is always maxRetries.
func (q *MemoryQueue) DeadLetterDetails(_ context.Context, queueName string) ([]DeadLetterItem, error) {
	q.mu.Lock()
	defer q.mu.Unlock()
	out := make([]DeadLetterItem, 0, len(q.dead[queueName]))
	for _, id := range q.dead[queueName] {
		out = append(out, DeadLetterItem{ItemID: id, Attempts: q.maxRetries})
	}
	return out, nil
}
