package vector

import (
	"fmt"

	"github.com/fdominguez1972/thumper-counter-sub002/internal/config"
	"github.com/fdominguez1972/thumper-counter-sub002/internal/database"
)

// NewIndex builds the configured Index backend: a single switch keyed
// on a config string, so swapping backends is an operator config
// change rather than a code change.
func NewIndex(cfg *config.PipelineConfig, deer *database.DeerRepository) (Index, error) {
	switch cfg.VectorBackend {
	case "", "postgres":
		return NewPostgresIndex(deer), nil
	case "memory":
		return NewMemoryIndex(), nil
	default:
		return nil, fmt.Errorf("vector: unknown backend %q", cfg.VectorBackend)
	}
}
