package inference

import (
	"context"
	"time"

	"github.com/sony/gobreaker"

	"github.com/fdominguez1972/thumper-counter-sub002/internal/apperrors"
	"github.com/fdominguez1972/thumper-counter-sub002/internal/domain"
)

// BreakerEngine wraps an Engine with a pair of gobreaker circuit
// breakers — one for Detect, one for Embed — so a wedged GPU trips
// open after a run of consecutive failures instead of letting every
// queued item queue up behind a hanging inference call: one named
// breaker per call site, state changes surfaced to
// metrics via OnStateChange.
type BreakerEngine struct {
	inner         Engine
	detectBreaker *gobreaker.CircuitBreaker
	embedBreaker  *gobreaker.CircuitBreaker
	onStateChange func(name string, from, to gobreaker.State)
}

// BreakerConfig tunes when the breakers trip and how long they stay
// open before probing again.
type BreakerConfig struct {
	ConsecutiveFailures uint32
	OpenTimeout         time.Duration
	OnStateChange       func(name string, from, to gobreaker.State)
}

func NewBreakerEngine(inner Engine, cfg BreakerConfig) *BreakerEngine {
	if cfg.ConsecutiveFailures == 0 {
		cfg.ConsecutiveFailures = 5
	}
	if cfg.OpenTimeout == 0 {
		cfg.OpenTimeout = 30 * time.Second
	}
	readyToTrip := func(counts gobreaker.Counts) bool {
		return counts.ConsecutiveFailures >= cfg.ConsecutiveFailures
	}
	newBreaker := func(name string) *gobreaker.CircuitBreaker {
		return gobreaker.NewCircuitBreaker(gobreaker.Settings{
			Name:        name,
			Timeout:     cfg.OpenTimeout,
			ReadyToTrip: readyToTrip,
			OnStateChange: func(n string, from, to gobreaker.State) {
				if cfg.OnStateChange != nil {
					cfg.OnStateChange(n, from, to)
				}
			},
		})
	}
	return &BreakerEngine{
		inner:         inner,
		detectBreaker: newBreaker("inference.detect"),
		embedBreaker:  newBreaker("inference.embed"),
		onStateChange: cfg.OnStateChange,
	}
}

func (b *BreakerEngine) Detect(ctx context.Context, imagePath string) ([]RawDetection, error) {
	out, err := b.detectBreaker.Execute(func() (interface{}, error) {
		return b.inner.Detect(ctx, imagePath)
	})
	if err != nil {
		return nil, classifyBreakerError(err)
	}
	return out.([]RawDetection), nil
}

func (b *BreakerEngine) Embed(ctx context.Context, imagePath string, bbox domain.Rect) (Embedding, error) {
	out, err := b.embedBreaker.Execute(func() (interface{}, error) {
		return b.inner.Embed(ctx, imagePath, bbox)
	})
	if err != nil {
		return Embedding{}, classifyBreakerError(err)
	}
	return out.(Embedding), nil
}

// classifyBreakerError preserves an inner AppError's kind so the
// dispatcher's ack/nack policy still applies; gobreaker's own
// ErrOpenState and ErrTooManyRequests are transient (the caller should
// back off and retry once the breaker half-opens).
func classifyBreakerError(err error) error {
	if _, ok := err.(*apperrors.AppError); ok {
		return err
	}
	if err == gobreaker.ErrOpenState || err == gobreaker.ErrTooManyRequests {
		return apperrors.NewTransientIO("inference.circuit_open", err)
	}
	return apperrors.NewTransientIO("inference.call", err)
}
