package inference

import (
	"context"
	"sync/atomic"

	"github.com/fdominguez1972/thumper-counter-sub002/internal/domain"
)

// FakeEngine is a scriptable Engine used by detect/reid worker tests,
// preferring a hand-written fake over a generated mock for this
// collaborator interface.
type FakeEngine struct {
	DetectFunc func(ctx context.Context, imagePath string) ([]RawDetection, error)
	EmbedFunc  func(ctx context.Context, imagePath string, bbox domain.Rect) (Embedding, error)

	detectCalls atomic.Int32
	embedCalls  atomic.Int32
}

func (f *FakeEngine) Detect(ctx context.Context, imagePath string) ([]RawDetection, error) {
	f.detectCalls.Add(1)
	return f.DetectFunc(ctx, imagePath)
}

func (f *FakeEngine) Embed(ctx context.Context, imagePath string, bbox domain.Rect) (Embedding, error) {
	f.embedCalls.Add(1)
	return f.EmbedFunc(ctx, imagePath, bbox)
}

func (f *FakeEngine) DetectCalls() int32 { return f.detectCalls.Load() }
func (f *FakeEngine) EmbedCalls() int32  { return f.embedCalls.Load() }
