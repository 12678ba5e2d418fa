// Package queue implements named FIFO queues with at-least-once
// delivery and visibility timeouts, backed by a Postgres table rather
// than a dedicated queue service. Producers never import consumer
// code: this package only knows about queue names and opaque item ids,
// never about what a "detect" or "reid" item means.
package queue

import (
	"context"
	"time"
)

const (
	Detect = "detect"
	ReID   = "reid"
)

// Handle identifies one reserved item; it must be passed to Ack or Nack
// to resolve the reservation.
type Handle struct {
	RowID       int64
	QueueName   string
	ItemID      string
	Reservation string
	Attempts    int
}

// Queue is the Dispatch Queue contract
type Queue interface {
	// Enqueue appends item to the named FIFO. Safe to call multiple
	// times with the same id; the producer owns any dedup it wants.
	Enqueue(ctx context.Context, queueName, itemID string) error

	// Reserve hands the next visible item in queueName to the caller
	// and hides it for visibilityTimeout. Returns (nil, nil) if the
	// queue is currently empty.
	Reserve(ctx context.Context, queueName string, visibilityTimeout time.Duration) (*Handle, error)

	// Ack removes the item permanently.
	Ack(ctx context.Context, h *Handle) error

	// Nack makes the item immediately visible again.
	Nack(ctx context.Context, h *Handle) error

	// Depth returns the number of currently-enqueued (visible or
	// in-flight) items in queueName, for metrics and backpressure
	// observability.
	Depth(ctx context.Context, queueName string) (int, error)
}
