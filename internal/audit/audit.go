// Package audit writes one structured record per Re-ID decision —
// match, new-profile, or burst-inherited — to a dedicated trail
// distinct from the operational logrus logs the rest of the pipeline
// uses, built on zap.NewProductionConfig() for structured JSON output.
package audit

import (
	"time"

	"go.uber.org/zap"
)

// Decision is the outcome of one Re-ID scoring pass.
type Decision string

const (
	DecisionMatched        Decision = "matched"
	DecisionNewProfile     Decision = "new_profile"
	DecisionBurstInherited Decision = "burst_inherited"
)

// Logger is the audit sink. It wraps a *zap.Logger rather than
// re-implementing structured output, so the same rotation/shipping
// configuration used for the rest of the fleet applies here too.
type Logger struct {
	zap *zap.Logger
}

// New builds a production-configured zap logger writing JSON to the
// given output paths (e.g. "stdout", or a file path for log shipping).
func New(outputPaths []string) (*Logger, error) {
	cfg := zap.NewProductionConfig()
	if len(outputPaths) > 0 {
		cfg.OutputPaths = outputPaths
	}
	zl, err := cfg.Build()
	if err != nil {
		return nil, err
	}
	return &Logger{zap: zl}, nil
}

// NewNop returns a Logger that discards everything, for tests.
func NewNop() *Logger {
	return &Logger{zap: zap.NewNop()}
}

// RecordReID writes one audit line for a Re-ID decision.
func (l *Logger) RecordReID(detectionID, deerID string, decision Decision, score, threshold float64, candidateCount int, decidedAt time.Time) {
	l.zap.Info("reid_decision",
		zap.String("detection_id", detectionID),
		zap.String("deer_id", deerID),
		zap.String("decision", string(decision)),
		zap.Float64("score", score),
		zap.Float64("threshold", threshold),
		zap.Int("candidate_count", candidateCount),
		zap.Time("decided_at", decidedAt),
	)
}

func (l *Logger) Sync() error {
	return l.zap.Sync()
}
