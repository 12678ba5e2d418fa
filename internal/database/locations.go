package database

import (
	"context"
	"database/sql"

	"github.com/jmoiron/sqlx"

	"github.com/fdominguez1972/thumper-counter-sub002/internal/apperrors"
	"github.com/fdominguez1972/thumper-counter-sub002/internal/domain"
)

// LocationRepository implements the Location operations: it
// is created out of band by the ingest side, so the pipeline only ever
// reads it and enforces the "deleting a location is forbidden while
// images reference it" ownership rule.
type LocationRepository struct {
	db *sqlx.DB
}

func NewLocationRepository(db *sqlx.DB) *LocationRepository {
	return &LocationRepository{db: db}
}

type locationRow struct {
	ID   string          `db:"id"`
	Name string          `db:"name"`
	Lat  sql.NullFloat64 `db:"lat"`
	Lon  sql.NullFloat64 `db:"lon"`
}

func (row locationRow) toDomain() *domain.Location {
	l := &domain.Location{ID: row.ID, Name: row.Name}
	if row.Lat.Valid {
		l.Lat = &row.Lat.Float64
	}
	if row.Lon.Valid {
		l.Lon = &row.Lon.Float64
	}
	return l
}

func (r *LocationRepository) Get(ctx context.Context, id string) (*domain.Location, error) {
	var row locationRow
	err := r.db.GetContext(ctx, &row, `SELECT id, name, lat, lon FROM locations WHERE id = $1`, id)
	if err == sql.ErrNoRows {
		return nil, apperrors.New(apperrors.KindLogicViolation, "location not found").WithDetails(id)
	}
	if err != nil {
		return nil, apperrors.NewTransientIO("locations.Get", err)
	}
	return row.toDomain(), nil
}

// Delete removes a location, refusing if any image still references it
func (r *LocationRepository) Delete(ctx context.Context, id string) error {
	var count int
	if err := r.db.GetContext(ctx, &count, `SELECT count(*) FROM images WHERE location_id = $1`, id); err != nil {
		return apperrors.NewTransientIO("locations.Delete.count", err)
	}
	if count > 0 {
		return apperrors.New(apperrors.KindLogicViolation, "cannot delete location with referencing images")
	}
	if _, err := r.db.ExecContext(ctx, `DELETE FROM locations WHERE id = $1`, id); err != nil {
		return apperrors.NewTransientIO("locations.Delete", err)
	}
	return nil
}
