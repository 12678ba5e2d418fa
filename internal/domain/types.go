// Package domain defines the pipeline's entities: Location, Image,
// Detection, Deer, and the closed enum value domains that are rejected
// at the repository boundary if violated.
package domain

import (
	"fmt"
	"time"
)

// ProcessingStatus is the closed set of Image lifecycle states
type ProcessingStatus string

const (
	StatusPending    ProcessingStatus = "pending"
	StatusProcessing ProcessingStatus = "processing"
	StatusCompleted  ProcessingStatus = "completed"
	StatusFailed     ProcessingStatus = "failed"
)

// ParseProcessingStatus accepts only the canonical textual form; any
// other string is an error rather than silently coerced.
func ParseProcessingStatus(s string) (ProcessingStatus, error) {
	switch ProcessingStatus(s) {
	case StatusPending, StatusProcessing, StatusCompleted, StatusFailed:
		return ProcessingStatus(s), nil
	default:
		return "", fmt.Errorf("domain: invalid processing_status %q", s)
	}
}

// validTransitions encodes the processing-status state machine:
// pending -> processing -> {completed, failed}, plus processing ->
// pending for a worker releasing an image after a retryable failure so
// the next delivery attempt can reclaim it. No other transition is
// permitted without operator intervention.
var validTransitions = map[ProcessingStatus]map[ProcessingStatus]bool{
	StatusPending:    {StatusProcessing: true},
	StatusProcessing: {StatusCompleted: true, StatusFailed: true, StatusPending: true},
	StatusCompleted:  {},
	StatusFailed:     {},
}

// CanTransition reports whether the state machine permits moving from
// `from` to `to`.
func CanTransition(from, to ProcessingStatus) bool {
	next, ok := validTransitions[from]
	return ok && next[to]
}

// DetectionClass is the closed set of coarse class tags
type DetectionClass string

const (
	ClassDoe    DetectionClass = "doe"
	ClassFawn   DetectionClass = "fawn"
	ClassMature DetectionClass = "mature"
	ClassMid    DetectionClass = "mid"
	ClassYoung  DetectionClass = "young"
	ClassOther  DetectionClass = "other"
)

// ParseDetectionClass accepts only the canonical textual form.
func ParseDetectionClass(s string) (DetectionClass, error) {
	switch DetectionClass(s) {
	case ClassDoe, ClassFawn, ClassMature, ClassMid, ClassYoung, ClassOther:
		return DetectionClass(s), nil
	default:
		return "", fmt.Errorf("domain: invalid detection class %q", s)
	}
}

// DeerClasses is the set of classes that enter Re-ID; ClassOther never
// does.
var DeerClasses = map[DetectionClass]bool{
	ClassDoe:    true,
	ClassFawn:   true,
	ClassMature: true,
	ClassMid:    true,
	ClassYoung:  true,
}

// IsDeerClass reports whether c participates in Re-ID.
func IsDeerClass(c DetectionClass) bool {
	return DeerClasses[c]
}

// Sex is the closed set of profile sexes.
type Sex string

const (
	SexBuck    Sex = "buck"
	SexDoe     Sex = "doe"
	SexFawn    Sex = "fawn"
	SexUnknown Sex = "unknown"
)

// SexForClass derives initial sex from detection class: buck from
// {mature, mid, young}, doe from doe, fawn from
// fawn, unknown otherwise.
func SexForClass(c DetectionClass) Sex {
	switch c {
	case ClassMature, ClassMid, ClassYoung:
		return SexBuck
	case ClassDoe:
		return SexDoe
	case ClassFawn:
		return SexFawn
	default:
		return SexUnknown
	}
}

// Location is a fixed field camera site.
type Location struct {
	ID   string
	Name string
	Lat  *float64
	Lon  *float64
}

// Image is one captured frame.
type Image struct {
	ID               string
	LocationID       string
	Path             string
	Filename         string
	Timestamp        time.Time
	ProcessingStatus ProcessingStatus
	ErrorMessage     string
}

// Rect is an axis-aligned integer rectangle in image pixel coordinates,
// duplicated in shape from internal/geometry.Rect so the domain package
// has no import-cycle dependency on the geometry package's IoU helpers;
// the Detection Worker converts a Rect to a geometry.Rect where it needs
// IoU.
type Rect struct {
	X0, Y0, X1, Y1 int
}

// Detection is one detector output, possibly deduplicated or assigned
// to a Deer.
type Detection struct {
	ID           string
	ImageID      string
	Bbox         Rect
	Confidence   float64
	Class        DetectionClass
	DeerID       *string
	BurstGroupID *string
	IsDuplicate  bool
}

// Deer is a persistent individual-animal profile.
type Deer struct {
	ID               string
	Sex              Sex
	Embedding        []float64
	EmbeddingAlt     [][]float64
	EmbeddingVersion string
	FirstSeen        time.Time
	LastSeen         time.Time
	SightingCount    int
}
