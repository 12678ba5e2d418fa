package inference_test

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/sony/gobreaker"

	"github.com/fdominguez1972/thumper-counter-sub002/internal/apperrors"
	"github.com/fdominguez1972/thumper-counter-sub002/internal/inference"
)

func TestBreakerEnginePassesThroughOnSuccess(t *testing.T) {
	inner := &inference.FakeEngine{
		DetectFunc: func(ctx context.Context, imagePath string) ([]inference.RawDetection, error) {
			return []inference.RawDetection{{Confidence: 0.9, Class: "doe"}}, nil
		},
	}
	eng := inference.NewBreakerEngine(inner, inference.BreakerConfig{})

	out, err := eng.Detect(context.Background(), "img.jpg")
	if err != nil {
		t.Fatalf("Detect: %v", err)
	}
	if len(out) != 1 || out[0].Class != "doe" {
		t.Errorf("out = %+v", out)
	}
}

func TestBreakerEngineTripsAfterConsecutiveFailures(t *testing.T) {
	var stateChanges []gobreaker.State
	inner := &inference.FakeEngine{
		DetectFunc: func(ctx context.Context, imagePath string) ([]inference.RawDetection, error) {
			return nil, apperrors.NewInferenceTimeout("detect")
		},
	}
	eng := inference.NewBreakerEngine(inner, inference.BreakerConfig{
		ConsecutiveFailures: 2,
		OpenTimeout:         time.Minute,
		OnStateChange: func(name string, from, to gobreaker.State) {
			stateChanges = append(stateChanges, to)
		},
	})

	for i := 0; i < 2; i++ {
		if _, err := eng.Detect(context.Background(), "img.jpg"); err == nil {
			t.Fatal("expected error")
		}
	}

	// The breaker is now open; the next call must fail fast without
	// invoking the inner engine, and the failure must still be
	// classified as retryable so the dispatcher nacks it.
	_, err := eng.Detect(context.Background(), "img.jpg")
	if err == nil {
		t.Fatal("expected circuit-open error")
	}
	if !apperrors.ShouldRetry(err) {
		t.Errorf("circuit-open error should be retryable, got %v", err)
	}

	found := false
	for _, s := range stateChanges {
		if s == gobreaker.StateOpen {
			found = true
		}
	}
	if !found {
		t.Errorf("expected a transition to StateOpen, got %v", stateChanges)
	}
}

func TestBreakerEnginePreservesAppErrorKind(t *testing.T) {
	inner := &inference.FakeEngine{
		DetectFunc: func(ctx context.Context, imagePath string) ([]inference.RawDetection, error) {
			return nil, apperrors.NewInputCorrupt("truncated jpeg")
		},
	}
	eng := inference.NewBreakerEngine(inner, inference.BreakerConfig{})

	_, err := eng.Detect(context.Background(), "img.jpg")
	if !apperrors.IsKind(err, apperrors.KindInputCorrupt) {
		t.Errorf("expected KindInputCorrupt, got %v", apperrors.GetKind(err))
	}
}

func TestBreakerEngineWrapsPlainError(t *testing.T) {
	inner := &inference.FakeEngine{
		DetectFunc: func(ctx context.Context, imagePath string) ([]inference.RawDetection, error) {
			return nil, errors.New("unexpected panic recovered")
		},
	}
	eng := inference.NewBreakerEngine(inner, inference.BreakerConfig{})

	_, err := eng.Detect(context.Background(), "img.jpg")
	if !apperrors.IsKind(err, apperrors.KindTransientIO) {
		t.Errorf("expected KindTransientIO, got %v", apperrors.GetKind(err))
	}
}
