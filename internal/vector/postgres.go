package vector

import (
	"context"

	"github.com/fdominguez1972/thumper-counter-sub002/internal/database"
	"github.com/fdominguez1972/thumper-counter-sub002/internal/domain"
)

// PostgresIndex is the production Index backend: it scans every Deer
// profile through DeerRepository.All and ranks them in application
// code. This is an explicit tradeoff ("approximate-nearest-
// neighbour search implemented as an application-side cosine scan over
// a float8[] column, not a dedicated vector extension") — acceptable at
// the profile-count scale of a camera-trap deployment, and it keeps
// sqlx/pgx as the only storage dependency instead of adding pgvector.
type PostgresIndex struct {
	Deer *database.DeerRepository
}

func NewPostgresIndex(deer *database.DeerRepository) *PostgresIndex {
	return &PostgresIndex{Deer: deer}
}

func (idx *PostgresIndex) Search(ctx context.Context, query []float64, sexFilter *domain.Sex, k int) ([]Match, error) {
	profiles, err := idx.Deer.All(ctx)
	if err != nil {
		return nil, err
	}
	views := make([]profileView, 0, len(profiles))
	for _, p := range profiles {
		views = append(views, profileView{id: p.ID, sex: p.Sex, embedding: p.Embedding, embeddingAlt: p.EmbeddingAlt})
	}
	return topK(scoreAndFilter(views, query, sexFilter), k), nil
}
