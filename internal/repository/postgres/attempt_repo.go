package postgres

import (
	"context"
	"errors"
	"time"

	"github.com/jackc/pgx/v5"

	"github.com/and161185/bruteguard/internal/model"
	"github.com/and161185/bruteguard/internal/repository"
)

// AttemptRepo implements repository.AttemptStore on the login_attempts table.
// Upsert holds a row lock for the duration of the mutation.
type AttemptRepo struct{ db *DB }

var (
	_ repository.AttemptStore = (*AttemptRepo)(nil)
	_ repository.Sweeper      = (*AttemptRepo)(nil)
)

// NewAttemptRepo constructs an attempt repository.
func NewAttemptRepo(db *DB) *AttemptRepo { return &AttemptRepo{db: db} }

const (
	selAttempt          = `SELECT client_key, attempts, last_attempt, blocked_until FROM login_attempts WHERE client_key=$1`
	selAttemptForUpdate = selAttempt + ` FOR UPDATE`
	insAttempt          = `INSERT INTO login_attempts (client_key, attempts, last_attempt, blocked_until) VALUES ($1, $2, $3, $4)`
	updAttempt          = `UPDATE login_attempts SET attempts=$2, last_attempt=$3, blocked_until=$4 WHERE client_key=$1`
	clearExpired        = `UPDATE login_attempts SET attempts=0, blocked_until=NULL WHERE blocked_until <= $1`
)

func scanAttempt(row pgx.Row) (*model.AttemptRecord, error) {
	var rec model.AttemptRecord
	err := row.Scan(&rec.Key, &rec.Attempts, &rec.LastAttempt, &rec.BlockedUntil)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &rec, nil
}

// Get selects the record for key without locking.
func (r *AttemptRepo) Get(ctx context.Context, key string) (*model.AttemptRecord, error) {
	rec, err := scanAttempt(r.db.Pool.QueryRow(ctx, selAttempt, key))
	if err != nil {
		return nil, mapErr(err)
	}
	return rec, nil
}

// Upsert locks the row, applies fn and writes the result in one transaction.
// Two first failures for the same key race on the insert; the loser gets
// errs.ErrConflict.
func (r *AttemptRepo) Upsert(
	ctx context.Context, key string, fn repository.Mutation,
) (rec *model.AttemptRecord, err error) {
	tx, err := r.db.Pool.BeginTx(ctx, pgx.TxOptions{})
	if err != nil {
		return nil, mapErr(err)
	}
	defer func() {
		if err != nil {
			_ = tx.Rollback(ctx)
			return
		}
		if e := tx.Commit(ctx); e != nil {
			rec, err = nil, mapErr(e)
		}
	}()

	cur, err := scanAttempt(tx.QueryRow(ctx, selAttemptForUpdate, key))
	if err != nil {
		return nil, mapErr(err)
	}

	next := fn(model.CloneRecord(cur))
	if next == nil {
		return cur, nil
	}
	next.Key = key

	q := updAttempt
	if cur == nil {
		q = insAttempt
	}
	if _, err = tx.Exec(ctx, q, key, next.Attempts, next.LastAttempt, next.BlockedUntil); err != nil {
		return nil, mapErr(err)
	}
	return next, nil
}

// ClearExpired resets all rows whose block ended at or before now.
func (r *AttemptRepo) ClearExpired(ctx context.Context, now time.Time) (int64, error) {
	tag, err := r.db.Pool.Exec(ctx, clearExpired, now)
	if err != nil {
		return 0, mapErr(err)
	}
	return tag.RowsAffected(), nil
}
