package vector

import (
	"context"
	"sync"

	"github.com/fdominguez1972/thumper-counter-sub002/internal/domain"
)

// MemoryIndex is an in-process Index used by worker tests (it lets
// internal/pipeline/reid tests exercise the full search-and-score path
// without a database) and as the backend NewIndex returns for the
// "memory" vector_backend setting.
type MemoryIndex struct {
	mu       sync.RWMutex
	profiles map[string]profileView
}

func NewMemoryIndex() *MemoryIndex {
	return &MemoryIndex{profiles: make(map[string]profileView)}
}

// Put inserts or overwrites a profile's searchable embedding; the
// Re-ID worker's test doubles call this to seed fixtures instead of
// reaching through a database.
func (idx *MemoryIndex) Put(id string, sex domain.Sex, embedding []float64, embeddingAlt [][]float64) {
	idx.mu.Lock()
	defer idx.mu.Unlock()
	idx.profiles[id] = profileView{id: id, sex: sex, embedding: embedding, embeddingAlt: embeddingAlt}
}

func (idx *MemoryIndex) Delete(id string) {
	idx.mu.Lock()
	defer idx.mu.Unlock()
	delete(idx.profiles, id)
}

func (idx *MemoryIndex) Search(_ context.Context, query []float64, sexFilter *domain.Sex, k int) ([]Match, error) {
	idx.mu.RLock()
	views := make([]profileView, 0, len(idx.profiles))
	for _, p := range idx.profiles {
		views = append(views, p)
	}
	idx.mu.RUnlock()
	return topK(scoreAndFilter(views, query, sexFilter), k), nil
}
