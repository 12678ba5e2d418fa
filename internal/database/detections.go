package database

import (
	"context"
	"database/sql"
	"time"

	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"

	"github.com/fdominguez1972/thumper-counter-sub002/internal/apperrors"
	"github.com/fdominguez1972/thumper-counter-sub002/internal/domain"
)

// DetectionRepository implements the Detection-facing operations of
// the contract that detection inserts are atomic and return
// generated ids."
type DetectionRepository struct {
	db *sqlx.DB
}

func NewDetectionRepository(db *sqlx.DB) *DetectionRepository {
	return &DetectionRepository{db: db}
}

// BulkInsert inserts every detection for one image, including
// duplicates, in a single transaction. IDs are
// generated here and written back into the slice in place.
func (r *DetectionRepository) BulkInsert(ctx context.Context, tx *sqlx.Tx, detections []*domain.Detection) error {
	for _, d := range detections {
		if d.ID == "" {
			d.ID = uuid.NewString()
		}
		_, err := tx.ExecContext(ctx, `
			INSERT INTO detections (id, image_id, bbox_x0, bbox_y0, bbox_x1, bbox_y1,
			                         confidence, class, deer_id, burst_group_id, is_duplicate)
			VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11)`,
			d.ID, d.ImageID, d.Bbox.X0, d.Bbox.Y0, d.Bbox.X1, d.Bbox.Y1,
			d.Confidence, string(d.Class), d.DeerID, d.BurstGroupID, d.IsDuplicate)
		if err != nil {
			return apperrors.NewTransientIO("detections.BulkInsert", err)
		}
	}
	return nil
}

type detectionRow struct {
	ID           string         `db:"id"`
	ImageID      string         `db:"image_id"`
	BboxX0       int            `db:"bbox_x0"`
	BboxY0       int            `db:"bbox_y0"`
	BboxX1       int            `db:"bbox_x1"`
	BboxY1       int            `db:"bbox_y1"`
	Confidence   float64        `db:"confidence"`
	Class        string         `db:"class"`
	DeerID       sql.NullString `db:"deer_id"`
	BurstGroupID sql.NullString `db:"burst_group_id"`
	IsDuplicate  bool           `db:"is_duplicate"`
}

func (row detectionRow) toDomain() (*domain.Detection, error) {
	class, err := domain.ParseDetectionClass(row.Class)
	if err != nil {
		return nil, apperrors.NewFatal("corrupt class in storage", err)
	}
	d := &domain.Detection{
		ID:          row.ID,
		ImageID:     row.ImageID,
		Bbox:        domain.Rect{X0: row.BboxX0, Y0: row.BboxY0, X1: row.BboxX1, Y1: row.BboxY1},
		Confidence:  row.Confidence,
		Class:       class,
		IsDuplicate: row.IsDuplicate,
	}
	if row.DeerID.Valid {
		id := row.DeerID.String
		d.DeerID = &id
	}
	if row.BurstGroupID.Valid {
		id := row.BurstGroupID.String
		d.BurstGroupID = &id
	}
	return d, nil
}

const detectionColumns = `id, image_id, bbox_x0, bbox_y0, bbox_x1, bbox_y1, confidence, class, deer_id, burst_group_id, is_duplicate`

// Get loads one detection by id.
func (r *DetectionRepository) Get(ctx context.Context, id string) (*domain.Detection, error) {
	var row detectionRow
	err := r.db.GetContext(ctx, &row, `SELECT `+detectionColumns+` FROM detections WHERE id = $1`, id)
	if err == sql.ErrNoRows {
		return nil, apperrors.New(apperrors.KindLogicViolation, "detection not found").WithDetails(id)
	}
	if err != nil {
		return nil, apperrors.NewTransientIO("detections.Get", err)
	}
	return row.toDomain()
}

// BurstCandidates returns non-duplicate detections at the same location
// whose image timestamp falls within the closed interval
// [center-window, center+window].
func (r *DetectionRepository) BurstCandidates(ctx context.Context, locationID string, windowStart, windowEnd time.Time) ([]*domain.Detection, error) {
	var rows []detectionRow
	err := r.db.SelectContext(ctx, &rows, `
		SELECT d.id, d.image_id, d.bbox_x0, d.bbox_y0, d.bbox_x1, d.bbox_y1,
		       d.confidence, d.class, d.deer_id, d.burst_group_id, d.is_duplicate
		FROM detections d
		JOIN images i ON i.id = d.image_id
		WHERE i.location_id = $1
		  AND i.timestamp BETWEEN $2 AND $3
		  AND d.is_duplicate = FALSE
		ORDER BY i.timestamp`, locationID, windowStart, windowEnd)
	if err != nil {
		return nil, apperrors.NewTransientIO("detections.BurstCandidates", err)
	}
	out := make([]*domain.Detection, 0, len(rows))
	for _, row := range rows {
		d, err := row.toDomain()
		if err != nil {
			return nil, err
		}
		out = append(out, d)
	}
	return out, nil
}

// AssignToProfile sets deer_id (and, if it is still null,
// burst_group_id) on a detection. It does not touch the profile's
// stats; callers that update them do so in the same transaction via
// DeerRepository.
func (r *DetectionRepository) AssignToProfile(ctx context.Context, tx *sqlx.Tx, detectionID, deerID string, burstGroupID *string) error {
	_, err := tx.ExecContext(ctx, `
		UPDATE detections SET deer_id = $1, burst_group_id = COALESCE(burst_group_id, $2)
		WHERE id = $3`, deerID, burstGroupID, detectionID)
	if err != nil {
		return apperrors.NewTransientIO("detections.AssignToProfile", err)
	}
	return nil
}

// SetBurstGroup stamps burst_group_id on every detection in ids that
// does not already have one.
func (r *DetectionRepository) SetBurstGroup(ctx context.Context, tx *sqlx.Tx, ids []string, burstGroupID string) error {
	if len(ids) == 0 {
		return nil
	}
	query, args, err := sqlx.In(`UPDATE detections SET burst_group_id = ? WHERE id IN (?) AND burst_group_id IS NULL`, burstGroupID, ids)
	if err != nil {
		return apperrors.NewTransientIO("detections.SetBurstGroup.build", err)
	}
	query = tx.Rebind(query)
	if _, err := tx.ExecContext(ctx, query, args...); err != nil {
		return apperrors.NewTransientIO("detections.SetBurstGroup", err)
	}
	return nil
}

// LatestForProfile returns the most recently seen non-duplicate
// detection assigned to deerID, used by the admin "re-embed" job to
// pick a representative image to re-run through a new extractor
// version.
func (r *DetectionRepository) LatestForProfile(ctx context.Context, deerID string) (*domain.Detection, string, error) {
	var row detectionRow
	var imagePath string
	err := r.db.QueryRowxContext(ctx, `
		SELECT d.id, d.image_id, d.bbox_x0, d.bbox_y0, d.bbox_x1, d.bbox_y1,
		       d.confidence, d.class, d.deer_id, d.burst_group_id, d.is_duplicate, i.path
		FROM detections d
		JOIN images i ON i.id = d.image_id
		WHERE d.deer_id = $1 AND d.is_duplicate = FALSE
		ORDER BY i.timestamp DESC
		LIMIT 1`, deerID).Scan(
		&row.ID, &row.ImageID, &row.BboxX0, &row.BboxY0, &row.BboxX1, &row.BboxY1,
		&row.Confidence, &row.Class, &row.DeerID, &row.BurstGroupID, &row.IsDuplicate, &imagePath)
	if err == sql.ErrNoRows {
		return nil, "", apperrors.New(apperrors.KindLogicViolation, "no detections for profile").WithDetails(deerID)
	}
	if err != nil {
		return nil, "", apperrors.NewTransientIO("detections.LatestForProfile", err)
	}
	d, err := row.toDomain()
	if err != nil {
		return nil, "", err
	}
	return d, imagePath, nil
}

// UnassignedIDs lists detections eligible for re-enqueue to Re-ID: non
// duplicate, deer_id still null, class in the deer set. Used by the
// admin "reassign" job.
func (r *DetectionRepository) UnassignedIDs(ctx context.Context, limit int) ([]string, error) {
	var ids []string
	err := r.db.SelectContext(ctx, &ids, `
		SELECT id FROM detections
		WHERE deer_id IS NULL AND is_duplicate = FALSE AND class != 'other'
		ORDER BY id LIMIT $1`, limit)
	if err != nil {
		return nil, apperrors.NewTransientIO("detections.UnassignedIDs", err)
	}
	return ids, nil
}
