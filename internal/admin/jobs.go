// Package admin implements the one-shot operator scripts: backfill,
// re-embed, reassign, each bounded-batch and safe to
// run repeatedly against a live pipeline (the same idempotency and
// locking primitives the workers use back these too, so a job
// interrupted mid-run leaves no partial state worse than before it
// started).
package admin

import (
	"context"

	"github.com/sirupsen/logrus"

	"github.com/fdominguez1972/thumper-counter-sub002/internal/database"
	"github.com/fdominguez1972/thumper-counter-sub002/internal/inference"
	"github.com/fdominguez1972/thumper-counter-sub002/internal/logging"
	"github.com/fdominguez1972/thumper-counter-sub002/internal/queue"
)

// defaultBatchSize bounds how many rows one job invocation touches, so
// an admin script run against a large backlog behaves like the
// pipeline's own bounded-concurrency workers rather than a single
// unbounded scan.
const defaultBatchSize = 500

// Jobs bundles the repositories and collaborators every admin script
// needs. Nothing here is queue-specific: a job either touches rows
// directly or calls Queue.Enqueue, exactly like a pipeline handler
// would.
type Jobs struct {
	Images     *database.ImageRepository
	Detections *database.DetectionRepository
	Deer       *database.DeerRepository
	Queue      queue.Queue
	Engine     *inference.Registry
	Logger     *logrus.Logger
	BatchSize  int
}

func (j *Jobs) batchSize() int {
	if j.BatchSize <= 0 {
		return defaultBatchSize
	}
	return j.BatchSize
}

// Backfill re-enqueues every image still `pending` onto the detect
// queue. It is the recovery path for images that were ingested but
// never made it onto the queue — e.g. an Ingest Gateway crash between
// the DB insert and the enqueue call.
func (j *Jobs) Backfill(ctx context.Context) (int, error) {
	ids, err := j.Images.PendingIDs(ctx, j.batchSize())
	if err != nil {
		return 0, err
	}
	n := 0
	for _, id := range ids {
		if err := j.Queue.Enqueue(ctx, queue.Detect, id); err != nil {
			j.Logger.WithFields(logging.NewFields().Component("admin").Operation("backfill").ItemID(id).Error(err).Logrus()).
				Warn("backfill enqueue failed")
			continue
		}
		n++
	}
	j.Logger.WithFields(logging.NewFields().Component("admin").Operation("backfill").Logrus()).
		WithField("enqueued", n).Info("backfill complete")
	return n, nil
}

// Reassign re-enqueues every non-duplicate, deer-class detection whose
// deer_id is still null onto the reid queue. This is
// the recovery path for detections stranded after a Detection Worker
// crash or enqueue failure between BulkInsert and the reid enqueue, or
// after a dead-lettered
// reid item is diagnosed and cleared for retry.
func (j *Jobs) Reassign(ctx context.Context) (int, error) {
	ids, err := j.Detections.UnassignedIDs(ctx, j.batchSize())
	if err != nil {
		return 0, err
	}
	n := 0
	for _, id := range ids {
		if err := j.Queue.Enqueue(ctx, queue.ReID, id); err != nil {
			j.Logger.WithFields(logging.NewFields().Component("admin").Operation("reassign").ItemID(id).Error(err).Logrus()).
				Warn("reassign enqueue failed")
			continue
		}
		n++
	}
	j.Logger.WithFields(logging.NewFields().Component("admin").Operation("reassign").Logrus()).
		WithField("enqueued", n).Info("reassign complete")
	return n, nil
}

// Reembed re-extracts every profile's primary embedding through
// targetVersion and writes it back, together with the new version tag,
// in one statement. A profile's stored embedding is a fused
// EMA over all its sightings, not tied to any one image, so this uses
// the profile's most recently seen detection as the representative
// image to re-run through the new extractor rather than attempting to
// replay every historical sighting.
func (j *Jobs) Reembed(ctx context.Context, targetVersion string) (int, error) {
	eng, err := j.Engine.Get(targetVersion)
	if err != nil {
		return 0, err
	}

	profiles, err := j.Deer.All(ctx)
	if err != nil {
		return 0, err
	}

	n := 0
	for _, profile := range profiles {
		if profile.EmbeddingVersion == targetVersion {
			continue
		}
		det, imagePath, err := j.Detections.LatestForProfile(ctx, profile.ID)
		if err != nil {
			j.Logger.WithFields(logging.NewFields().Component("admin").Operation("reembed").Resource("deer", profile.ID).Error(err).Logrus()).
				Warn("reembed: no representative detection, skipping")
			continue
		}
		embedding, err := eng.Embed(ctx, imagePath, det.Bbox)
		if err != nil {
			j.Logger.WithFields(logging.NewFields().Component("admin").Operation("reembed").Resource("deer", profile.ID).Error(err).Logrus()).
				Warn("reembed: embed call failed, skipping")
			continue
		}
		if err := j.Deer.SetEmbeddingVersion(ctx, profile.ID, embedding.Primary, targetVersion); err != nil {
			return n, err
		}
		n++
	}
	j.Logger.WithFields(logging.NewFields().Component("admin").Operation("reembed").Logrus()).
		WithField("updated", n).Info("reembed complete")
	return n, nil
}
