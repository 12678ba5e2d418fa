// Package inference wraps the object detector and embedding extractor
// behind a small interface, plus
// the supporting machinery built around it: a
// process-wide GPU-occupancy semaphore (owned by the caller, not this
// package — see internal/queue.Dispatcher), a registry that loads each
// model exactly once, and a circuit breaker that trips on a wedged GPU
// instead of letting every in-flight request pile up behind it.
package inference

import (
	"context"

	"github.com/fdominguez1972/thumper-counter-sub002/internal/domain"
)

// RawDetection is one detector output before in-image deduplication or
// domain validation, in the detector's native pixel coordinate space.
type RawDetection struct {
	X0, Y0, X1, Y1 int
	Confidence     float64
	Class          string
}

// Embedding is the output of the feature extractor for one crop: a
// primary embedding used as the ANN search key, plus zero or more
// auxiliary embeddings used only for re-ranking.
type Embedding struct {
	Primary   []float64
	Auxiliary [][]float64
}

// Engine is the contract the detect and Re-ID workers call through.
// Implementations own their own timeouts internally; callers still
// pass a ctx so a cancelled item stops inference promptly.
type Engine interface {
	// Detect runs the object detector over the image at path and
	// returns every raw detection it reports; applying a confidence
	// floor is left to the caller.
	Detect(ctx context.Context, imagePath string) ([]RawDetection, error)

	// Embed extracts the Re-ID feature vector(s) for one detection's
	// crop of the image.
	Embed(ctx context.Context, imagePath string, bbox domain.Rect) (Embedding, error)
}
