// Package reid implements the Re-ID Worker: burst
// grouping, embedding extraction, candidate search, ensemble scoring,
// and the EMA profile update or new-profile creation that follows from
// the threshold decision. One Worker.Handle call is one detection.
package reid

import (
	"context"
	"time"

	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"
	"github.com/sirupsen/logrus"

	"github.com/fdominguez1972/thumper-counter-sub002/internal/apperrors"
	"github.com/fdominguez1972/thumper-counter-sub002/internal/audit"
	"github.com/fdominguez1972/thumper-counter-sub002/internal/database"
	"github.com/fdominguez1972/thumper-counter-sub002/internal/domain"
	"github.com/fdominguez1972/thumper-counter-sub002/internal/inference"
	"github.com/fdominguez1972/thumper-counter-sub002/internal/logging"
	"github.com/fdominguez1972/thumper-counter-sub002/internal/mathutil"
	"github.com/fdominguez1972/thumper-counter-sub002/internal/metrics"
	"github.com/fdominguez1972/thumper-counter-sub002/internal/vector"
)

// Worker holds the Re-ID Worker's collaborators.
type Worker struct {
	Images     *database.ImageRepository
	Detections *database.DetectionRepository
	Deer       *database.DeerRepository
	DB         *sqlx.DB
	Engine     inference.Engine
	Index      vector.Index
	Logger     *logrus.Logger
	Audit      *audit.Logger

	BurstWindow      time.Duration
	ReIDThreshold    float64
	PrimaryWeight    float64
	AuxiliaryWeight  float64
	ProfileEMAAlpha  float64
	CandidateK       int
	EmbeddingVersion string
}

// Handle is the internal/queue.Handler entry point: itemID is a
// Detection id.
func (w *Worker) Handle(ctx context.Context, detectionID string) error {
	fields := logging.NewFields().Component("reid_worker").Operation("handle").ItemID(detectionID)

	det, err := w.Detections.Get(ctx, detectionID)
	if err != nil {
		return err
	}
	if det.IsDuplicate || !domain.IsDeerClass(det.Class) {
		// Defensive: the Detection Worker never enqueues these, but an
		// idempotent no-op is cheaper than a LogicViolation if it
		// somehow happens.
		return nil
	}
	if det.DeerID != nil {
		w.Logger.WithFields(fields.Logrus()).Info("detection already assigned, skipping")
		return nil
	}

	img, err := w.Images.Get(ctx, det.ImageID)
	if err != nil {
		return err
	}

	windowStart := img.Timestamp.Add(-w.BurstWindow)
	windowEnd := img.Timestamp.Add(w.BurstWindow)
	burstMates, err := w.Detections.BurstCandidates(ctx, img.LocationID, windowStart, windowEnd)
	if err != nil {
		return err
	}

	if assigned := findBurstAssignment(burstMates, detectionID); assigned != "" {
		if err := w.assignToBurst(ctx, det, burstMates, detectionID, assigned); err != nil {
			return err
		}
		w.recordAudit(detectionID, assigned, audit.DecisionBurstInherited, 0, 0)
		return nil
	}

	embedding, err := w.Engine.Embed(ctx, img.Path, det.Bbox)
	if err != nil {
		return err
	}
	primary := mathutil.L2Normalize(embedding.Primary)

	sex := domain.SexForClass(det.Class)
	var sexFilter *domain.Sex
	if sex != domain.SexUnknown {
		sexFilter = &sex
	}

	candidates, err := w.Index.Search(ctx, primary, sexFilter, w.candidateK())
	if err != nil {
		return apperrors.NewTransientIO("reid.search", err)
	}

	best, bestScore, found := w.bestCandidate(candidates, primary, embedding.Auxiliary)

	if found && bestScore >= w.ReIDThreshold {
		burstGroupID := burstGroupIDFor(burstMates)
		if err := w.assignExisting(ctx, det, best.ProfileID, primary, embedding.Auxiliary, img.Timestamp, burstGroupID, burstMates, detectionID); err != nil {
			return err
		}
		w.recordAudit(detectionID, best.ProfileID, audit.DecisionMatched, bestScore, len(candidates))
		return nil
	}

	deerID, err := w.createProfile(ctx, det, sex, primary, embedding.Auxiliary, img.Timestamp)
	if err != nil {
		return err
	}
	w.recordAudit(detectionID, deerID, audit.DecisionNewProfile, bestScore, len(candidates))
	return nil
}

func (w *Worker) recordAudit(detectionID, deerID string, decision audit.Decision, score float64, candidateCount int) {
	metrics.IncReIDDecision(string(decision))
	if w.Audit == nil {
		return
	}
	w.Audit.RecordReID(detectionID, deerID, decision, score, w.ReIDThreshold, candidateCount, time.Now())
}

// findBurstAssignment returns the deer_id already assigned to another
// member of this detection's burst, or "" if none is assigned yet
func findBurstAssignment(burstMates []*domain.Detection, selfID string) string {
	for _, m := range burstMates {
		if m.ID == selfID {
			continue
		}
		if m.DeerID != nil {
			return *m.DeerID
		}
	}
	return ""
}

func burstGroupIDFor(burstMates []*domain.Detection) string {
	for _, m := range burstMates {
		if m.BurstGroupID != nil {
			return *m.BurstGroupID
		}
	}
	return uuid.NewString()
}

// assignToBurst short-circuits scoring entirely: this detection joins a
// burst that already resolved to a profile, so it inherits that
// profile's id without a second Re-ID decision.
func (w *Worker) assignToBurst(ctx context.Context, det *domain.Detection, burstMates []*domain.Detection, selfID, deerID string) error {
	burstGroupID := burstGroupIDFor(burstMates)
	return database.WithTx(ctx, w.DB, func(tx *sqlx.Tx) error {
		if err := w.Detections.AssignToProfile(ctx, tx, det.ID, deerID, &burstGroupID); err != nil {
			return err
		}
		return w.Detections.SetBurstGroup(ctx, tx, burstMemberIDs(burstMates, selfID), burstGroupID)
	})
}

func burstMemberIDs(burstMates []*domain.Detection, selfID string) []string {
	ids := make([]string, 0, len(burstMates)+1)
	ids = append(ids, selfID)
	for _, m := range burstMates {
		ids = append(ids, m.ID)
	}
	return ids
}

// bestCandidate re-scores every candidate with the full ensemble
// and returns the highest-scoring one.
func (w *Worker) bestCandidate(candidates []vector.Match, primary []float64, auxiliary [][]float64) (vector.Match, float64, bool) {
	var best vector.Match
	bestScore := -2.0 // below any valid cosine similarity
	found := false
	for _, c := range candidates {
		score := w.ensembleScore(primary, auxiliary, c)
		if score > bestScore {
			best, bestScore, found = c, score, true
		}
	}
	return best, bestScore, found
}

// ensembleScore computes a weighted sum of the
// primary cosine similarity and, when both sides have an auxiliary
// embedding, the auxiliary cosine similarity too. A candidate missing
// an auxiliary embedding degenerates to the single-model branch with
// the full weight placed on the primary term, rather than penalising a
// profile that predates the auxiliary extractor.
func (w *Worker) ensembleScore(primary []float64, auxiliary [][]float64, c vector.Match) float64 {
	if len(auxiliary) == 0 || len(c.EmbeddingAlt) == 0 {
		return mathutil.CosineSimilarity(primary, c.Embedding)
	}
	pairs := []mathutil.WeightedPair{
		{Query: primary, Candidate: c.Embedding, Weight: w.PrimaryWeight},
	}
	n := len(auxiliary)
	if len(c.EmbeddingAlt) < n {
		n = len(c.EmbeddingAlt)
	}
	if n == 0 {
		return mathutil.CosineSimilarity(primary, c.Embedding)
	}
	auxWeight := w.AuxiliaryWeight / float64(n)
	for i := 0; i < n; i++ {
		pairs = append(pairs, mathutil.WeightedPair{Query: auxiliary[i], Candidate: c.EmbeddingAlt[i], Weight: auxWeight})
	}
	return mathutil.EnsembleScore(pairs)
}

func (w *Worker) candidateK() int {
	if w.CandidateK <= 0 {
		return 10
	}
	return w.CandidateK
}

// assignExisting commits the "matched" branch of the threshold
// decision: lock the profile, EMA-update its embedding, bump its
// sighting stats, and assign the detection (and its burst) to it, all
// in one transaction.
func (w *Worker) assignExisting(
	ctx context.Context, det *domain.Detection, deerID string,
	primary []float64, auxiliary [][]float64, seenAt time.Time,
	burstGroupID string, burstMates []*domain.Detection, selfID string,
) error {
	return database.WithTx(ctx, w.DB, func(tx *sqlx.Tx) error {
		profile, err := w.Deer.LockForUpdate(ctx, tx, deerID)
		if err != nil {
			return err
		}

		newEmbedding := mathutil.EMAUpdate(profile.Embedding, primary, w.ProfileEMAAlpha)
		newAux := emaAuxiliary(profile.EmbeddingAlt, auxiliary, w.ProfileEMAAlpha)
		sightingCount := profile.SightingCount + 1
		lastSeen := seenAt
		if lastSeen.Before(profile.LastSeen) {
			lastSeen = profile.LastSeen
		}

		if err := w.Deer.UpdateProfile(ctx, tx, deerID, database.ProfilePatch{
			Embedding:     newEmbedding,
			EmbeddingAlt:  newAux,
			LastSeen:      &lastSeen,
			SightingCount: &sightingCount,
		}); err != nil {
			return err
		}
		if err := w.Detections.AssignToProfile(ctx, tx, det.ID, deerID, &burstGroupID); err != nil {
			return err
		}
		return w.Detections.SetBurstGroup(ctx, tx, burstMemberIDs(burstMates, selfID), burstGroupID)
	})
}

// createProfile commits the "no match" branch: a fresh profile seeded
// with this detection's embedding. Unlike assignExisting, it never
// touches burst_group_id — a new profile carries no burst assignment
// unless a later detection in the same burst later matches an existing
// profile and inherits into it via assignToBurst.
func (w *Worker) createProfile(
	ctx context.Context, det *domain.Detection, sex domain.Sex,
	primary []float64, auxiliary [][]float64, seenAt time.Time,
) (string, error) {
	var deerID string
	err := database.WithTx(ctx, w.DB, func(tx *sqlx.Tx) error {
		var err error
		deerID, err = w.Deer.InsertProfile(ctx, tx, &domain.Deer{
			Sex:              sex,
			Embedding:        primary,
			EmbeddingAlt:     auxiliary,
			EmbeddingVersion: w.EmbeddingVersion,
			FirstSeen:        seenAt,
			LastSeen:         seenAt,
			SightingCount:    1,
		})
		if err != nil {
			return err
		}
		return w.Detections.AssignToProfile(ctx, tx, det.ID, deerID, nil)
	})
	return deerID, err
}

// emaAuxiliary applies the same EMA update per-slot to the auxiliary
// embedding set. A profile that has not accumulated auxiliary
// embeddings yet simply adopts the new ones.
func emaAuxiliary(old, new [][]float64, alpha float64) [][]float64 {
	if len(old) == 0 {
		return new
	}
	n := len(old)
	if len(new) < n {
		n = len(new)
	}
	out := make([][]float64, n)
	for i := 0; i < n; i++ {
		out[i] = mathutil.EMAUpdate(old[i], new[i], alpha)
	}
	return out
}
