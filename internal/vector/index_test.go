package vector_test

import (
	"context"
	"testing"

	"github.com/fdominguez1972/thumper-counter-sub002/internal/domain"
	"github.com/fdominguez1972/thumper-counter-sub002/internal/vector"
)

func TestMemoryIndexRanksByCosineSimilarity(t *testing.T) {
	idx := vector.NewMemoryIndex()
	idx.Put("close", domain.SexBuck, []float64{1, 0, 0}, nil)
	idx.Put("far", domain.SexBuck, []float64{0, 1, 0}, nil)
	idx.Put("exact", domain.SexBuck, []float64{0.9, 0.1, 0}, nil)

	matches, err := idx.Search(context.Background(), []float64{1, 0, 0}, nil, 2)
	if err != nil {
		t.Fatalf("Search: %v", err)
	}
	if len(matches) != 2 {
		t.Fatalf("len(matches) = %d, want 2", len(matches))
	}
	if matches[0].ProfileID != "close" {
		t.Errorf("top match = %s, want close", matches[0].ProfileID)
	}
	if matches[0].Score < matches[1].Score {
		t.Errorf("matches not sorted descending: %v", matches)
	}
}

func TestMemoryIndexFiltersBySex(t *testing.T) {
	idx := vector.NewMemoryIndex()
	idx.Put("buck-1", domain.SexBuck, []float64{1, 0}, nil)
	idx.Put("doe-1", domain.SexDoe, []float64{1, 0}, nil)

	doe := domain.SexDoe
	matches, err := idx.Search(context.Background(), []float64{1, 0}, &doe, 10)
	if err != nil {
		t.Fatalf("Search: %v", err)
	}
	if len(matches) != 1 || matches[0].ProfileID != "doe-1" {
		t.Errorf("matches = %+v, want only doe-1", matches)
	}
}

func TestMemoryIndexNoFilterReturnsAllSexes(t *testing.T) {
	idx := vector.NewMemoryIndex()
	idx.Put("buck-1", domain.SexBuck, []float64{1, 0}, nil)
	idx.Put("doe-1", domain.SexDoe, []float64{1, 0}, nil)

	matches, err := idx.Search(context.Background(), []float64{1, 0}, nil, 10)
	if err != nil {
		t.Fatalf("Search: %v", err)
	}
	if len(matches) != 2 {
		t.Errorf("len(matches) = %d, want 2", len(matches))
	}
}

func TestMemoryIndexDelete(t *testing.T) {
	idx := vector.NewMemoryIndex()
	idx.Put("a", domain.SexUnknown, []float64{1, 0}, nil)
	idx.Delete("a")

	matches, _ := idx.Search(context.Background(), []float64{1, 0}, nil, 10)
	if len(matches) != 0 {
		t.Errorf("matches = %+v, want none after delete", matches)
	}
}
