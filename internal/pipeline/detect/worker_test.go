package detect

import (
	"testing"

	"github.com/fdominguez1972/thumper-counter-sub002/internal/domain"
)

func rectAt(x0 int) domain.Rect { return domain.Rect{X0: x0, Y0: 0, X1: x0 + 10, Y1: 10} }

func TestDedupKeepsHighestConfidenceAmongOverlapping(t *testing.T) {
	detections := []*domain.Detection{
		{ID: "low", Bbox: rectAt(0), Confidence: 0.6, Class: domain.ClassDoe},
		{ID: "high", Bbox: rectAt(1), Confidence: 0.9, Class: domain.ClassDoe},
	}
	out := dedup(detections, 0.5)

	var kept, dupped *domain.Detection
	for _, d := range out {
		if d.ID == "high" {
			kept = d
		}
		if d.ID == "low" {
			dupped = d
		}
	}
	if kept == nil || kept.IsDuplicate {
		t.Errorf("expected highest-confidence detection to survive as non-duplicate, got %+v", kept)
	}
	if dupped == nil || !dupped.IsDuplicate {
		t.Errorf("expected lower-confidence overlapping detection marked duplicate, got %+v", dupped)
	}
}

func TestDedupDisjointDetectionsBothSurvive(t *testing.T) {
	detections := []*domain.Detection{
		{ID: "a", Bbox: domain.Rect{X0: 0, Y0: 0, X1: 10, Y1: 10}, Confidence: 0.6, Class: domain.ClassDoe},
		{ID: "b", Bbox: domain.Rect{X0: 100, Y0: 100, X1: 110, Y1: 110}, Confidence: 0.9, Class: domain.ClassDoe},
	}
	out := dedup(detections, 0.5)
	for _, d := range out {
		if d.IsDuplicate {
			t.Errorf("disjoint detection %s incorrectly marked duplicate", d.ID)
		}
	}
}

func TestDedupPreservesAllRowsIncludingDuplicates(t *testing.T) {
	detections := []*domain.Detection{
		{ID: "a", Bbox: rectAt(0), Confidence: 0.9, Class: domain.ClassDoe},
		{ID: "b", Bbox: rectAt(1), Confidence: 0.8, Class: domain.ClassDoe},
		{ID: "c", Bbox: rectAt(2), Confidence: 0.7, Class: domain.ClassDoe},
	}
	out := dedup(detections, 0.1)
	if len(out) != 3 {
		t.Fatalf("len(out) = %d, want 3 (duplicates recorded, not dropped)", len(out))
	}
}

func TestFilterRecordableDropsNonDuplicateOtherClass(t *testing.T) {
	detections := []*domain.Detection{
		{ID: "other", Class: domain.ClassOther, IsDuplicate: false},
		{ID: "deer", Class: domain.ClassDoe, IsDuplicate: false},
		{ID: "other-dup", Class: domain.ClassOther, IsDuplicate: true},
	}
	out := filterRecordable(detections)
	if len(out) != 2 {
		t.Fatalf("len(out) = %d, want 2", len(out))
	}
	for _, d := range out {
		if d.ID == "other" {
			t.Error("non-duplicate other-class detection should have been dropped")
		}
	}
}
