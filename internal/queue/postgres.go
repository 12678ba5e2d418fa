package queue

import (
	"context"
	"database/sql"
	"time"

	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"

	"github.com/fdominguez1972/thumper-counter-sub002/internal/apperrors"
	"github.com/fdominguez1972/thumper-counter-sub002/internal/metrics"
)

// PostgresQueue implements Queue on top of a queue_items table, using
// SELECT ... FOR UPDATE SKIP LOCKED so concurrent reservers never race
// for the same row.
type PostgresQueue struct {
	db         *sqlx.DB
	maxRetries int
}

func NewPostgresQueue(db *sqlx.DB, maxRetries int) *PostgresQueue {
	return &PostgresQueue{db: db, maxRetries: maxRetries}
}

func (q *PostgresQueue) Enqueue(ctx context.Context, queueName, itemID string) error {
	_, err := q.db.ExecContext(ctx, `
		INSERT INTO queue_items (queue_name, item_id) VALUES ($1, $2)`, queueName, itemID)
	if err != nil {
		return apperrors.NewTransientIO("queue.Enqueue", err)
	}
	return nil
}

func (q *PostgresQueue) Reserve(ctx context.Context, queueName string, visibilityTimeout time.Duration) (*Handle, error) {
	var h *Handle
	err := q.withTx(ctx, func(tx *sqlx.Tx) error {
		var row struct {
			ID       int64  `db:"id"`
			ItemID   string `db:"item_id"`
			Attempts int    `db:"attempts"`
		}
		err := tx.GetContext(ctx, &row, `
			SELECT id, item_id, attempts FROM queue_items
			WHERE queue_name = $1 AND visible_at <= now()
			ORDER BY enqueued_at
			LIMIT 1
			FOR UPDATE SKIP LOCKED`, queueName)
		if err == sql.ErrNoRows {
			return nil
		}
		if err != nil {
			return apperrors.NewTransientIO("queue.Reserve.select", err)
		}

		if row.Attempts >= q.maxRetries {
			if err := q.deadLetterLocked(ctx, tx, queueName, row.ID, row.ItemID, row.Attempts); err != nil {
				return err
			}
			metrics.IncDeadLetter(queueName)
			return nil
		}

		reservation := uuid.NewString()
		attempts := row.Attempts + 1
		_, err = tx.ExecContext(ctx, `
			UPDATE queue_items SET visible_at = now() + make_interval(secs => $1), reservation = $2, attempts = $3
			WHERE id = $4`, visibilityTimeout.Seconds(), reservation, attempts, row.ID)
		if err != nil {
			return apperrors.NewTransientIO("queue.Reserve.update", err)
		}
		h = &Handle{RowID: row.ID, QueueName: queueName, ItemID: row.ItemID, Reservation: reservation, Attempts: attempts}
		return nil
	})
	return h, err
}

func (q *PostgresQueue) deadLetterLocked(ctx context.Context, tx *sqlx.Tx, queueName string, rowID int64, itemID string, attempts int) error {
	if _, err := tx.ExecContext(ctx, `
		INSERT INTO dead_letter_items (queue_name, item_id, attempts) VALUES ($1, $2, $3)`,
		queueName, itemID, attempts); err != nil {
		return apperrors.NewTransientIO("queue.deadLetter.insert", err)
	}
	if _, err := tx.ExecContext(ctx, `DELETE FROM queue_items WHERE id = $1`, rowID); err != nil {
		return apperrors.NewTransientIO("queue.deadLetter.delete", err)
	}
	return nil
}

func (q *PostgresQueue) Ack(ctx context.Context, h *Handle) error {
	_, err := q.db.ExecContext(ctx, `
		DELETE FROM queue_items WHERE id = $1 AND reservation = $2`, h.RowID, h.Reservation)
	if err != nil {
		return apperrors.NewTransientIO("queue.Ack", err)
	}
	return nil
}

func (q *PostgresQueue) Nack(ctx context.Context, h *Handle) error {
	_, err := q.db.ExecContext(ctx, `
		UPDATE queue_items SET visible_at = now(), reservation = NULL
		WHERE id = $1 AND reservation = $2`, h.RowID, h.Reservation)
	if err != nil {
		return apperrors.NewTransientIO("queue.Nack", err)
	}
	return nil
}

func (q *PostgresQueue) Depth(ctx context.Context, queueName string) (int, error) {
	var n int
	err := q.db.GetContext(ctx, &n, `SELECT count(*) FROM queue_items WHERE queue_name = $1`, queueName)
	if err != nil {
		return 0, apperrors.NewTransientIO("queue.Depth", err)
	}
	return n, nil
}

// DeadLetterItems lists items that exceeded max_retries, for operator
// inspection and explicit re-enqueue.
func (q *PostgresQueue) DeadLetterItems(ctx context.Context, queueName string) ([]string, error) {
	var ids []string
	err := q.db.SelectContext(ctx, &ids, `
		SELECT item_id FROM dead_letter_items WHERE queue_name = $1 ORDER BY failed_at`, queueName)
	if err != nil {
		return nil, apperrors.NewTransientIO("queue.DeadLetterItems", err)
	}
	return ids, nil
}

// DeadLetterItem is one dead-lettered row, for watchers that want to
// report the attempt count alongside the item id.
type DeadLetterItem struct {
	ItemID   string `db:"item_id"`
	Attempts int    `db:"attempts"`
}

// DeadLetterDetails is DeadLetterItems with the attempt count each item
// was dead-lettered at, used by the operator-notification watcher.
func (q *PostgresQueue) DeadLetterDetails(ctx context.Context, queueName string) ([]DeadLetterItem, error) {
	var rows []DeadLetterItem
	err := q.db.SelectContext(ctx, &rows, `
		SELECT item_id, attempts FROM dead_letter_items WHERE queue_name = $1 ORDER BY failed_at`, queueName)
	if err != nil {
		return nil, apperrors.NewTransientIO("queue.DeadLetterDetails", err)
	}
	return rows, nil
}

func (q *PostgresQueue) withTx(ctx context.Context, fn func(tx *sqlx.Tx) error) (err error) {
	tx, txErr := q.db.BeginTxx(ctx, nil)
	if txErr != nil {
		return apperrors.NewTransientIO("queue.withTx.begin", txErr)
	}
	defer func() {
		if err != nil {
			_ = tx.Rollback()
			return
		}
		if cerr := tx.Commit(); cerr != nil {
			err = apperrors.NewTransientIO("queue.withTx.commit", cerr)
		}
	}()
	err = fn(tx)
	return err
}
