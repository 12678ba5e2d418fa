package database

import (
	"context"

	"github.com/jmoiron/sqlx"

	"github.com/fdominguez1972/thumper-counter-sub002/internal/apperrors"
)

// WithTx runs fn inside a transaction, committing on success and
// rolling back on any error or panic. Every pipeline mutation goes
// through this so that "insert detections + transition image" and
// "assign detection + update profile" are each a single atomic unit.
func WithTx(ctx context.Context, db *sqlx.DB, fn func(tx *sqlx.Tx) error) (err error) {
	tx, txErr := db.BeginTxx(ctx, nil)
	if txErr != nil {
		return apperrors.NewTransientIO("WithTx.Begin", txErr)
	}
	defer func() {
		if p := recover(); p != nil {
			_ = tx.Rollback()
			panic(p)
		}
		if err != nil {
			_ = tx.Rollback()
			return
		}
		if cerr := tx.Commit(); cerr != nil {
			err = apperrors.NewTransientIO("WithTx.Commit", cerr)
		}
	}()
	err = fn(tx)
	return err
}
