package queue

import (
	"context"
	"testing"
	"time"
)

func TestEnqueueReserveAck(t *testing.T) {
	ctx := context.Background()
	q := NewMemoryQueue(5)

	if err := q.Enqueue(ctx, Detect, "img-1"); err != nil {
		t.Fatalf("Enqueue: %v", err)
	}

	h, err := q.Reserve(ctx, Detect, time.Minute)
	if err != nil || h == nil {
		t.Fatalf("Reserve: %v, %v", h, err)
	}
	if h.ItemID != "img-1" {
		t.Errorf("ItemID = %v, want img-1", h.ItemID)
	}

	// The item is now in-flight; a second reserve should find nothing.
	h2, err := q.Reserve(ctx, Detect, time.Minute)
	if err != nil || h2 != nil {
		t.Fatalf("expected no item available while in-flight, got %v, %v", h2, err)
	}

	if err := q.Ack(ctx, h); err != nil {
		t.Fatalf("Ack: %v", err)
	}
	depth, _ := q.Depth(ctx, Detect)
	if depth != 0 {
		t.Errorf("Depth after ack = %v, want 0", depth)
	}
}

func TestNackMakesItemImmediatelyVisible(t *testing.T) {
	ctx := context.Background()
	q := NewMemoryQueue(5)
	q.Enqueue(ctx, Detect, "img-1")

	h, _ := q.Reserve(ctx, Detect, time.Minute)
	if err := q.Nack(ctx, h); err != nil {
		t.Fatalf("Nack: %v", err)
	}

	h2, err := q.Reserve(ctx, Detect, time.Minute)
	if err != nil || h2 == nil {
		t.Fatalf("expected item visible again after nack, got %v, %v", h2, err)
	}
}

func TestVisibilityTimeoutExpiry(t *testing.T) {
	ctx := context.Background()
	q := NewMemoryQueue(5)
	q.Enqueue(ctx, Detect, "img-1")

	h, _ := q.Reserve(ctx, Detect, 10*time.Millisecond)
	if h == nil {
		t.Fatal("expected a handle")
	}

	// Neither acked nor nacked; after the visibility timeout it should
	// become visible again.
	time.Sleep(20 * time.Millisecond)
	h2, err := q.Reserve(ctx, Detect, time.Minute)
	if err != nil || h2 == nil {
		t.Fatalf("expected item visible again after timeout, got %v, %v", h2, err)
	}
}

func TestEnqueueIsIdempotentForProducer(t *testing.T) {
	ctx := context.Background()
	q := NewMemoryQueue(5)
	// Calling enqueue twice with the same id is allowed by the queue;
	// the producer owns any dedup it wants.
	q.Enqueue(ctx, Detect, "img-1")
	q.Enqueue(ctx, Detect, "img-1")

	depth, _ := q.Depth(ctx, Detect)
	if depth != 2 {
		t.Errorf("Depth = %v, want 2 (queue does not dedup)", depth)
	}
}

func TestDeadLetterAfterMaxRetries(t *testing.T) {
	ctx := context.Background()
	q := NewMemoryQueue(2)
	q.Enqueue(ctx, Detect, "img-1")

	for i := 0; i < 2; i++ {
		h, err := q.Reserve(ctx, Detect, time.Millisecond)
		if err != nil || h == nil {
			t.Fatalf("Reserve attempt %d: %v, %v", i, h, err)
		}
		time.Sleep(2 * time.Millisecond)
	}

	// The third reserve should find the item at its retry limit and
	// dead-letter it instead of handing it out again.
	h, err := q.Reserve(ctx, Detect, time.Minute)
	if err != nil {
		t.Fatalf("Reserve: %v", err)
	}
	if h != nil {
		t.Fatalf("expected item to be dead-lettered, got handle %v", h)
	}
	dead := q.DeadLetterItems(Detect)
	if len(dead) != 1 || dead[0] != "img-1" {
		t.Errorf("DeadLetterItems = %v, want [img-1]", dead)
	}
}
