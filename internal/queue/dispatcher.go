package queue

import (
	"context"
	"time"

	"github.com/sirupsen/logrus"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
	"golang.org/x/sync/semaphore"

	"github.com/fdominguez1972/thumper-counter-sub002/internal/apperrors"
	"github.com/fdominguez1972/thumper-counter-sub002/internal/logging"
	"github.com/fdominguez1972/thumper-counter-sub002/internal/metrics"
)

// Handler processes one item and returns an error classified by
// internal/apperrors; the Dispatcher decides ack/nack from that
// classification.
type Handler func(ctx context.Context, itemID string) error

// Dispatcher owns one queue's worker pool: independent, parallel worker
// pools, each bounded by a configured maximum parallelism, never a
// single-threaded event loop. A Queue interface decouples producers
// from consumers — producers never import consumer code, they only
// enqueue by name.
type Dispatcher struct {
	Queue             Queue
	QueueName         string
	Concurrency       int
	VisibilityTimeout time.Duration
	ItemDeadline      time.Duration
	Handler           Handler
	Logger            *logrus.Logger
	Wake              *Wake // optional; nil falls back to pure polling
	PollInterval      time.Duration

	// Tracer traces each dispatched item. When nil, falls back to
	// otel.Tracer("dispatcher").
	Tracer trace.Tracer
}

func (d *Dispatcher) tracer() trace.Tracer {
	if d.Tracer != nil {
		return d.Tracer
	}
	return otel.Tracer("dispatcher")
}

// Run blocks, dispatching reserved items to at most Concurrency
// concurrently-running handler invocations, until ctx is cancelled. The
// GPU occupancy cap is this same semaphore, sized to
// Concurrency and shared by every goroutine in the pool — a single
// process-wide object, never per-request.
func (d *Dispatcher) Run(ctx context.Context) {
	sem := semaphore.NewWeighted(int64(d.Concurrency))
	poll := d.PollInterval
	if poll == 0 {
		poll = time.Second
	}

	for {
		if ctx.Err() != nil {
			return
		}
		if err := sem.Acquire(ctx, 1); err != nil {
			return
		}
		handle, err := d.Queue.Reserve(ctx, d.QueueName, d.VisibilityTimeout)
		if err != nil {
			sem.Release(1)
			d.Logger.WithFields(logging.NewFields().Component("dispatcher").QueueName(d.QueueName).Error(err).Logrus()).
				Warn("reserve failed")
			d.waitForWork(ctx, poll)
			continue
		}
		if handle == nil {
			sem.Release(1)
			if depth, derr := d.Queue.Depth(ctx, d.QueueName); derr == nil {
				metrics.SetQueueDepth(d.QueueName, depth)
			}
			d.waitForWork(ctx, poll)
			continue
		}

		go func(h *Handle) {
			defer sem.Release(1)
			d.process(ctx, h)
		}(handle)
	}
}

func (d *Dispatcher) waitForWork(ctx context.Context, poll time.Duration) {
	if d.Wake != nil {
		d.Wake.WaitForWork(ctx, poll)
		return
	}
	timer := time.NewTimer(poll)
	defer timer.Stop()
	select {
	case <-ctx.Done():
	case <-timer.C:
	}
}

func (d *Dispatcher) process(ctx context.Context, h *Handle) {
	itemCtx := ctx
	var cancel context.CancelFunc
	if d.ItemDeadline > 0 {
		itemCtx, cancel = context.WithTimeout(ctx, d.ItemDeadline)
		defer cancel()
	}

	itemCtx, span := d.tracer().Start(itemCtx, "queue.process",
		trace.WithAttributes(
			attribute.String("queue.name", d.QueueName),
			attribute.String("queue.item_id", h.ItemID),
		))
	defer span.End()

	fields := logging.NewFields().Component("dispatcher").QueueName(d.QueueName).ItemID(h.ItemID)

	start := time.Now()
	err := d.Handler(itemCtx, h.ItemID)
	outcome := "success"
	if err != nil {
		outcome = "retry"
		if !apperrors.ShouldRetry(err) {
			outcome = "terminal"
		}
		span.RecordError(err)
	}
	span.SetAttributes(attribute.String("queue.outcome", outcome))
	metrics.ObserveHandlerDuration(d.QueueName, outcome, time.Since(start))

	if err == nil {
		if ackErr := d.Queue.Ack(ctx, h); ackErr != nil {
			d.Logger.WithFields(fields.Error(ackErr).Logrus()).Error("ack failed")
		}
		return
	}

	if !apperrors.ShouldRetry(err) {
		// LogicViolation and ProfileRace are handled inline by the
		// handler itself; any other terminal kind
		// (InputCorrupt) has already recorded its own failure state.
		// Either way the item is done: ack so it is not redelivered.
		if ackErr := d.Queue.Ack(ctx, h); ackErr != nil {
			d.Logger.WithFields(fields.Error(ackErr).Logrus()).Error("ack failed after terminal error")
		}
		return
	}

	d.Logger.WithFields(fields.Error(err).Logrus()).Warn("handler failed, nacking for retry")
	if nackErr := d.Queue.Nack(ctx, h); nackErr != nil {
		d.Logger.WithFields(fields.Error(nackErr).Logrus()).Error("nack failed")
	}
}
