package database

import (
	"context"
	"database/sql"
	"encoding/json"
	"time"

	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"
	"github.com/lib/pq"

	"github.com/fdominguez1972/thumper-counter-sub002/internal/apperrors"
	"github.com/fdominguez1972/thumper-counter-sub002/internal/domain"
)

// DeerRepository implements the profile-facing operations:
// LockProfileForUpdate, UpdateProfile, InsertProfile.
type DeerRepository struct {
	db *sqlx.DB
}

func NewDeerRepository(db *sqlx.DB) *DeerRepository {
	return &DeerRepository{db: db}
}

type deerRow struct {
	ID               string          `db:"id"`
	Sex              string          `db:"sex"`
	Embedding        pq.Float64Array `db:"embedding"`
	EmbeddingAlt     []byte          `db:"embedding_alt"`
	EmbeddingVersion string          `db:"embedding_version"`
	FirstSeen        time.Time       `db:"first_seen"`
	LastSeen         time.Time       `db:"last_seen"`
	SightingCount    int             `db:"sighting_count"`
}

// toDomain unmarshals embedding_alt leniently: the auxiliary
// embeddings are a re-ranking aid, never load-bearing, so a malformed
// or absent column degrades to "no auxiliary embeddings" rather than
// failing the read.
func (row deerRow) toDomain() *domain.Deer {
	var alt [][]float64
	_ = json.Unmarshal(row.EmbeddingAlt, &alt)
	return &domain.Deer{
		ID:               row.ID,
		Sex:              domain.Sex(row.Sex),
		Embedding:        []float64(row.Embedding),
		EmbeddingAlt:     alt,
		EmbeddingVersion: row.EmbeddingVersion,
		FirstSeen:        row.FirstSeen,
		LastSeen:         row.LastSeen,
		SightingCount:    row.SightingCount,
	}
}

func marshalEmbeddingAlt(alt [][]float64) []byte {
	if alt == nil {
		alt = [][]float64{}
	}
	b, _ := json.Marshal(alt)
	return b
}

// LockForUpdate blocks until the caller holds an exclusive row lock on
// the given profile, within tx, so concurrent Re-ID workers touching the
// same profile serialize instead of racing. The lock is released when
// tx commits or rolls back.
func (r *DeerRepository) LockForUpdate(ctx context.Context, tx *sqlx.Tx, id string) (*domain.Deer, error) {
	var row deerRow
	err := tx.GetContext(ctx, &row, `
		SELECT id, sex, embedding, embedding_alt, embedding_version, first_seen, last_seen, sighting_count
		FROM deer WHERE id = $1 FOR UPDATE`, id)
	if err == sql.ErrNoRows {
		return nil, apperrors.New(apperrors.KindLogicViolation, "profile not found").WithDetails(id)
	}
	if err != nil {
		return nil, apperrors.NewTransientIO("deer.LockForUpdate", err)
	}
	return row.toDomain(), nil
}

// ProfilePatch is the set of fields UpdateProfile may change; a nil
// field is left untouched.
type ProfilePatch struct {
	Embedding     []float64
	EmbeddingAlt  [][]float64
	LastSeen      *time.Time
	SightingCount *int
}

// UpdateProfile applies patch atomically, last-writer-wins under the
// row lock the caller already holds.
func (r *DeerRepository) UpdateProfile(ctx context.Context, tx *sqlx.Tx, id string, patch ProfilePatch) error {
	if patch.Embedding != nil {
		if _, err := tx.ExecContext(ctx, `UPDATE deer SET embedding = $1 WHERE id = $2`,
			pq.Array(patch.Embedding), id); err != nil {
			return apperrors.NewTransientIO("deer.UpdateProfile.embedding", err)
		}
	}
	if patch.EmbeddingAlt != nil {
		if _, err := tx.ExecContext(ctx, `UPDATE deer SET embedding_alt = $1 WHERE id = $2`,
			marshalEmbeddingAlt(patch.EmbeddingAlt), id); err != nil {
			return apperrors.NewTransientIO("deer.UpdateProfile.embedding_alt", err)
		}
	}
	if patch.LastSeen != nil {
		if _, err := tx.ExecContext(ctx, `UPDATE deer SET last_seen = $1 WHERE id = $2`, *patch.LastSeen, id); err != nil {
			return apperrors.NewTransientIO("deer.UpdateProfile.last_seen", err)
		}
	}
	if patch.SightingCount != nil {
		if _, err := tx.ExecContext(ctx, `UPDATE deer SET sighting_count = $1 WHERE id = $2`, *patch.SightingCount, id); err != nil {
			return apperrors.NewTransientIO("deer.UpdateProfile.sighting_count", err)
		}
	}
	return nil
}

// InsertProfile creates a new profile, callable from inside the Re-ID
// transaction
func (r *DeerRepository) InsertProfile(ctx context.Context, tx *sqlx.Tx, d *domain.Deer) (string, error) {
	if d.ID == "" {
		d.ID = uuid.NewString()
	}
	_, err := tx.ExecContext(ctx, `
		INSERT INTO deer (id, sex, embedding, embedding_alt, embedding_version, first_seen, last_seen, sighting_count)
		VALUES ($1,$2,$3,$4,$5,$6,$7,$8)`,
		d.ID, string(d.Sex), pq.Array(d.Embedding), marshalEmbeddingAlt(d.EmbeddingAlt),
		d.EmbeddingVersion, d.FirstSeen, d.LastSeen, d.SightingCount)
	if err != nil {
		return "", apperrors.NewTransientIO("deer.InsertProfile", err)
	}
	return d.ID, nil
}

// All returns every profile, used by the vector index's candidate scan
// and by the admin re-embed job.
func (r *DeerRepository) All(ctx context.Context) ([]*domain.Deer, error) {
	var rows []deerRow
	err := r.db.SelectContext(ctx, &rows, `
		SELECT id, sex, embedding, embedding_alt, embedding_version, first_seen, last_seen, sighting_count FROM deer`)
	if err != nil {
		return nil, apperrors.NewTransientIO("deer.All", err)
	}
	out := make([]*domain.Deer, 0, len(rows))
	for _, row := range rows {
		out = append(out, row.toDomain())
	}
	return out, nil
}

// SetEmbeddingVersion replaces a profile's primary embedding and
// re-tags its extraction scheme in one statement, used by the admin
// "re-embed" job.
func (r *DeerRepository) SetEmbeddingVersion(ctx context.Context, id string, embedding []float64, version string) error {
	_, err := r.db.ExecContext(ctx, `
		UPDATE deer SET embedding = $1, embedding_version = $2 WHERE id = $3`,
		pq.Array(embedding), version, id)
	if err != nil {
		return apperrors.NewTransientIO("deer.SetEmbeddingVersion", err)
	}
	return nil
}
