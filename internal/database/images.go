package database

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/jmoiron/sqlx"

	"github.com/fdominguez1972/thumper-counter-sub002/internal/apperrors"
	"github.com/fdominguez1972/thumper-counter-sub002/internal/domain"
)

// ImageRepository implements the Image-facing operations, in
// particular the CAS-guarded UpsertImageStatus that backs the
// Detection Worker's idempotency guard.
type ImageRepository struct {
	db *sqlx.DB
}

func NewImageRepository(db *sqlx.DB) *ImageRepository {
	return &ImageRepository{db: db}
}

type imageRow struct {
	ID               string `db:"id"`
	LocationID       string `db:"location_id"`
	Path             string `db:"path"`
	Filename         string `db:"filename"`
	Timestamp        sql.NullTime
	ProcessingStatus string `db:"processing_status"`
	ErrorMessage     string `db:"error_message"`
}

// Get loads one image by id.
func (r *ImageRepository) Get(ctx context.Context, id string) (*domain.Image, error) {
	var row imageRow
	err := r.db.GetContext(ctx, &row, `
		SELECT id, location_id, path, filename, timestamp, processing_status, error_message
		FROM images WHERE id = $1`, id)
	if err == sql.ErrNoRows {
		return nil, apperrors.New(apperrors.KindLogicViolation, "image not found").WithDetails(id)
	}
	if err != nil {
		return nil, apperrors.NewTransientIO("images.Get", err)
	}
	status, err := domain.ParseProcessingStatus(row.ProcessingStatus)
	if err != nil {
		return nil, apperrors.NewFatal("corrupt processing_status in storage", err)
	}
	return &domain.Image{
		ID:               row.ID,
		LocationID:       row.LocationID,
		Path:             row.Path,
		Filename:         row.Filename,
		Timestamp:        row.Timestamp.Time,
		ProcessingStatus: status,
		ErrorMessage:     row.ErrorMessage,
	}, nil
}

// CAS performs the compare-and-swap state transition
// "UpsertImageStatus(id, from, to)": it fails (returns false, nil) if
// the current status does not match `from`, rather than erroring —
// callers treat a failed CAS as "another worker already owns this" per
// the LogicViolation policy (ack silently).
func (r *ImageRepository) CAS(ctx context.Context, id string, from, to domain.ProcessingStatus) (bool, error) {
	if !domain.CanTransition(from, to) {
		return false, apperrors.NewLogicViolation(fmt.Sprintf("illegal transition %s -> %s", from, to))
	}
	res, err := r.db.ExecContext(ctx, `
		UPDATE images SET processing_status = $1 WHERE id = $2 AND processing_status = $3`,
		string(to), id, string(from))
	if err != nil {
		return false, apperrors.NewTransientIO("images.CAS", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, apperrors.NewTransientIO("images.CAS.RowsAffected", err)
	}
	return n == 1, nil
}

// Fail transitions the image to failed and records the error message,
// in one statement, conditioned on the image currently being
// `processing` (the only state the Detection Worker can fail from).
func (r *ImageRepository) Fail(ctx context.Context, id, errMessage string) error {
	res, err := r.db.ExecContext(ctx, `
		UPDATE images SET processing_status = 'failed', error_message = $1
		WHERE id = $2 AND processing_status = 'processing'`, errMessage, id)
	if err != nil {
		return apperrors.NewTransientIO("images.Fail", err)
	}
	n, _ := res.RowsAffected()
	if n != 1 {
		return apperrors.NewLogicViolation("image was not in processing state")
	}
	return nil
}

// Complete transitions the image to completed, conditioned on it
// currently being `processing`.
func (r *ImageRepository) Complete(ctx context.Context, id string) error {
	ok, err := r.CAS(ctx, id, domain.StatusProcessing, domain.StatusCompleted)
	if err != nil {
		return err
	}
	if !ok {
		return apperrors.NewLogicViolation("image was not in processing state")
	}
	return nil
}

// ResetToPending releases an image back to pending after a retryable
// failure (transient I/O, inference OOM or timeout), so a redelivered
// queue item can claim it with a fresh CAS rather than finding it stuck
// in processing and being acked away as "already claimed".
func (r *ImageRepository) ResetToPending(ctx context.Context, id string) error {
	ok, err := r.CAS(ctx, id, domain.StatusProcessing, domain.StatusPending)
	if err != nil {
		return err
	}
	if !ok {
		return apperrors.NewLogicViolation("image was not in processing state")
	}
	return nil
}

// PendingIDs lists image ids still pending, used by the backfill admin
// job.
func (r *ImageRepository) PendingIDs(ctx context.Context, limit int) ([]string, error) {
	var ids []string
	err := r.db.SelectContext(ctx, &ids, `
		SELECT id FROM images WHERE processing_status = 'pending' ORDER BY timestamp LIMIT $1`, limit)
	if err != nil {
		return nil, apperrors.NewTransientIO("images.PendingIDs", err)
	}
	return ids, nil
}
