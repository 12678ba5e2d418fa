// Package detect implements the Detection Worker: the consumer side
// of the detect queue. One Worker.Handle call runs the full
// per-image algorithm — idempotency guard, inference call,
// in-image deduplication, bulk persist, hand-off to Re-ID — wired as an
// internal/queue.Handler so it plugs straight into a Dispatcher.
package detect

import (
	"context"
	"sort"

	"github.com/jmoiron/sqlx"
	"github.com/sirupsen/logrus"

	"github.com/fdominguez1972/thumper-counter-sub002/internal/apperrors"
	"github.com/fdominguez1972/thumper-counter-sub002/internal/database"
	"github.com/fdominguez1972/thumper-counter-sub002/internal/domain"
	"github.com/fdominguez1972/thumper-counter-sub002/internal/geometry"
	"github.com/fdominguez1972/thumper-counter-sub002/internal/inference"
	"github.com/fdominguez1972/thumper-counter-sub002/internal/logging"
	"github.com/fdominguez1972/thumper-counter-sub002/internal/queue"
)

// Worker holds the Detection Worker's collaborators: ImageRepository,
// DetectionRepository, an Engine, and the outbound Re-ID queue.
type Worker struct {
	Images     *database.ImageRepository
	Detections *database.DetectionRepository
	DB         *sqlx.DB
	Engine     inference.Engine
	ReIDQueue  queue.Queue
	Logger     *logrus.Logger

	ConfidenceFloor   float64
	IoUDedupThreshold float64
	RecordNonDeer     bool
}

// Handle is the internal/queue.Handler entry point: itemID is an Image
// id.
func (w *Worker) Handle(ctx context.Context, imageID string) error {
	fields := logging.NewFields().Component("detect_worker").Operation("handle").ItemID(imageID)

	img, err := w.Images.Get(ctx, imageID)
	if err != nil {
		return err
	}

	// Idempotency guard: only a pending image may
	// be claimed. A failed CAS means another worker already owns this
	// image, or a prior attempt completed or terminally failed it —
	// acked as a no-op, never retried. A prior attempt that hit a
	// retryable error released the image back to pending in
	// handleFailure, so a redelivered item claims it here normally.
	claimed, err := w.Images.CAS(ctx, imageID, domain.StatusPending, domain.StatusProcessing)
	if err != nil {
		return err
	}
	if !claimed {
		w.Logger.WithFields(fields.Logrus()).Info("image already claimed, skipping")
		return nil
	}

	raws, err := w.Engine.Detect(ctx, img.Path)
	if err != nil {
		w.handleFailure(ctx, imageID, err)
		return err
	}

	detections := w.buildDetections(imageID, raws)
	detections = dedup(detections, w.IoUDedupThreshold)
	if !w.RecordNonDeer {
		detections = filterRecordable(detections)
	}

	err = database.WithTx(ctx, w.DB, func(tx *sqlx.Tx) error {
		if err := w.Detections.BulkInsert(ctx, tx, detections); err != nil {
			return err
		}
		res, err := tx.ExecContext(ctx, `
			UPDATE images SET processing_status = $1 WHERE id = $2 AND processing_status = $3`,
			string(domain.StatusCompleted), imageID, string(domain.StatusProcessing))
		if err != nil {
			return apperrors.NewTransientIO("detect_worker.complete", err)
		}
		if n, err := res.RowsAffected(); err != nil || n != 1 {
			return apperrors.NewLogicViolation("image was not in processing state")
		}
		return nil
	})
	if err != nil {
		w.handleFailure(ctx, imageID, err)
		return err
	}

	if err := w.enqueueReID(ctx, detections); err != nil {
		// The image is already completed, so a redelivery of this item
		// finds it claimed and acks it without re-enqueueing; detections
		// stranded here are recovered by the admin reassign job.
		w.Logger.WithFields(fields.Error(err).Logrus()).Error("failed to enqueue re-id work")
		return err
	}

	return nil
}

// handleFailure dispositions a failed Detect or BulkInsert call by error
// kind: InputCorrupt (and any other non-retryable kind) terminally fails
// the image, recording err's message. A retryable kind (TransientIO,
// InferenceOOM, InferenceTimeout) releases the image back to pending
// without recording any error, leaving it for the dispatcher's nack to
// redeliver and a future attempt to reclaim.
func (w *Worker) handleFailure(ctx context.Context, imageID string, err error) {
	fields := logging.NewFields().Component("detect_worker").ItemID(imageID).Error(err)
	if apperrors.ShouldRetry(err) {
		if resetErr := w.Images.ResetToPending(ctx, imageID); resetErr != nil {
			w.Logger.WithFields(fields.Logrus()).Error("failed to release image back to pending")
		}
		return
	}
	if failErr := w.Images.Fail(ctx, imageID, err.Error()); failErr != nil {
		w.Logger.WithFields(fields.Logrus()).Error("failed to record image failure")
	}
}

// buildDetections converts raw detector output into domain.Detection
// rows, deriving class and an initially-empty profile assignment; sex
// derivation and Re-ID happen downstream in internal/pipeline/reid.
func (w *Worker) buildDetections(imageID string, raws []inference.RawDetection) []*domain.Detection {
	out := make([]*domain.Detection, 0, len(raws))
	for _, r := range raws {
		if r.Confidence < w.ConfidenceFloor {
			continue
		}
		class, err := domain.ParseDetectionClass(r.Class)
		if err != nil {
			class = domain.ClassOther
		}
		out = append(out, &domain.Detection{
			ImageID:    imageID,
			Bbox:       domain.Rect{X0: r.X0, Y0: r.Y0, X1: r.X1, Y1: r.Y1},
			Confidence: r.Confidence,
			Class:      class,
		})
	}
	return out
}

// dedup implements in-image deduplication:
// detections are sorted by descending confidence, and any detection
// whose IoU against an already-kept detection meets or exceeds
// threshold is marked a duplicate rather than dropped.
func dedup(detections []*domain.Detection, threshold float64) []*domain.Detection {
	sort.SliceStable(detections, func(i, j int) bool {
		return detections[i].Confidence > detections[j].Confidence
	})
	kept := make([]*domain.Detection, 0, len(detections))
	for _, d := range detections {
		dup := false
		for _, k := range kept {
			if geometry.IoU(toGeometry(d.Bbox), toGeometry(k.Bbox)) >= threshold {
				dup = true
				break
			}
		}
		if dup {
			d.IsDuplicate = true
		} else {
			kept = append(kept, d)
		}
	}
	return detections
}

// filterRecordable drops class=other detections entirely when the
// operator has disabled non-deer retention; duplicates and deer-class
// detections are always kept.
func filterRecordable(detections []*domain.Detection) []*domain.Detection {
	out := make([]*domain.Detection, 0, len(detections))
	for _, d := range detections {
		if d.Class == domain.ClassOther && !d.IsDuplicate {
			continue
		}
		out = append(out, d)
	}
	return out
}

func toGeometry(r domain.Rect) geometry.Rect {
	return geometry.Rect{X0: r.X0, Y0: r.Y0, X1: r.X1, Y1: r.Y1}
}

// enqueueReID hands every non-duplicate deer-class detection to the
// Re-ID queue.
func (w *Worker) enqueueReID(ctx context.Context, detections []*domain.Detection) error {
	for _, d := range detections {
		if d.IsDuplicate || !domain.IsDeerClass(d.Class) {
			continue
		}
		if err := w.ReIDQueue.Enqueue(ctx, queue.ReID, d.ID); err != nil {
			return apperrors.NewTransientIO("detect_worker.enqueue_reid", err)
		}
	}
	return nil
}
