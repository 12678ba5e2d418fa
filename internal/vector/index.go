// Package vector implements candidate-search over Deer embeddings: an
// approximate-nearest-neighbour index, cosine metric, optionally
// restricted by sex. One interface, a Postgres-backed production
// implementation, and a drop-in in-memory implementation for tests and
// for environments with the vector backend disabled.
package vector

import (
	"context"
	"sort"

	"github.com/fdominguez1972/thumper-counter-sub002/internal/domain"
	"github.com/fdominguez1972/thumper-counter-sub002/internal/mathutil"
)

// Match is one candidate profile returned by a nearest-neighbour
// search, carrying enough of the profile to let the caller re-score it
// with auxiliary embeddings.
type Match struct {
	ProfileID    string
	Score        float64
	Embedding    []float64
	EmbeddingAlt [][]float64
}

// Index is the candidate-search contract used by the Re-ID worker.
type Index interface {
	// Search returns the k nearest profiles to query by cosine
	// similarity, restricted to sexFilter when it is non-nil (restricted
	// by sex when the detection's class implies a non-unknown sex).
	Search(ctx context.Context, query []float64, sexFilter *domain.Sex, k int) ([]Match, error)
}

// topK keeps the k highest-scoring matches from an unsorted slice,
// shared by every backend so ranking behaviour is identical regardless
// of storage.
func topK(matches []Match, k int) []Match {
	sort.Slice(matches, func(i, j int) bool { return matches[i].Score > matches[j].Score })
	if k > 0 && len(matches) > k {
		matches = matches[:k]
	}
	return matches
}

// scoreAndFilter is the shared scan-and-rank core: given a flat list of
// profiles, it filters by sex and scores the rest by cosine similarity
// against query. Both backends call this so "approximate nearest
// neighbour" means the same thing everywhere, even though the
// production backend fetches its candidate set from Postgres and the
// memory backend from an in-process map.
func scoreAndFilter(profiles []profileView, query []float64, sexFilter *domain.Sex) []Match {
	out := make([]Match, 0, len(profiles))
	for _, p := range profiles {
		if sexFilter != nil && p.sex != *sexFilter {
			continue
		}
		out = append(out, Match{
			ProfileID:    p.id,
			Score:        mathutil.CosineSimilarity(query, p.embedding),
			Embedding:    p.embedding,
			EmbeddingAlt: p.embeddingAlt,
		})
	}
	return out
}

type profileView struct {
	id           string
	sex          domain.Sex
	embedding    []float64
	embeddingAlt [][]float64
}
