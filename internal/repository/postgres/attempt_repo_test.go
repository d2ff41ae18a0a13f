package postgres

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/jackc/pgx/v5/pgconn"
	pgxmock "github.com/pashagolub/pgxmock/v3"
	"github.com/stretchr/testify/require"

	"github.com/and161185/bruteguard/internal/errs"
	"github.com/and161185/bruteguard/internal/model"
)

func newDB(t *testing.T) (*DB, pgxmock.PgxPoolIface) {
	t.Helper()
	mock, err := pgxmock.NewPool()
	require.NoError(t, err)
	return &DB{Pool: mock}, mock
}

var attemptCols = []string{"client_key", "attempts", "last_attempt", "blocked_until"}

const (
	reSelAttempt       = `SELECT client_key, attempts, last_attempt, blocked_until FROM login_attempts WHERE client_key=\$1`
	reSelForUpdate     = reSelAttempt + ` FOR UPDATE`
	reInsAttempt       = `INSERT INTO login_attempts \(client_key, attempts, last_attempt, blocked_until\) VALUES \(\$1, \$2, \$3, \$4\)`
	reUpdAttempt       = `UPDATE login_attempts SET attempts=\$2, last_attempt=\$3, blocked_until=\$4 WHERE client_key=\$1`
	reClearExpiredStmt = `UPDATE login_attempts SET attempts=0, blocked_until=NULL WHERE blocked_until <= \$1`
)

func bump(now time.Time) func(cur *model.AttemptRecord) *model.AttemptRecord {
	return func(cur *model.AttemptRecord) *model.AttemptRecord {
		if cur == nil {
			cur = &model.AttemptRecord{}
		}
		cur.Attempts++
		cur.LastAttempt = now
		return cur
	}
}

func TestAttemptRepo_Get(t *testing.T) {
	db, mock := newDB(t)
	defer mock.Close()
	r := NewAttemptRepo(db)
	ctx := context.Background()
	last := time.Date(2025, 1, 1, 0, 0, 0, 0, time.UTC)
	until := last.Add(2 * time.Hour)

	mock.ExpectQuery(reSelAttempt).
		WithArgs("1.2.3.4").
		WillReturnRows(pgxmock.NewRows(attemptCols).AddRow("1.2.3.4", 10, last, &until))
	rec, err := r.Get(ctx, "1.2.3.4")
	require.NoError(t, err)
	require.Equal(t, 10, rec.Attempts)
	require.True(t, rec.LastAttempt.Equal(last))
	require.NotNil(t, rec.BlockedUntil)
	require.True(t, rec.BlockedUntil.Equal(until))

	mock.ExpectQuery(reSelAttempt).
		WithArgs("5.6.7.8").
		WillReturnRows(pgxmock.NewRows(attemptCols))
	rec, err = r.Get(ctx, "5.6.7.8")
	require.NoError(t, err)
	require.Nil(t, rec)

	mock.ExpectQuery(reSelAttempt).
		WithArgs("x").
		WillReturnError(errors.New("conn reset"))
	_, err = r.Get(ctx, "x")
	require.ErrorIs(t, err, errs.ErrStorage)

	require.NoError(t, mock.ExpectationsWereMet())
}

func TestAttemptRepo_Upsert_InsertUnseen(t *testing.T) {
	db, mock := newDB(t)
	defer mock.Close()
	r := NewAttemptRepo(db)
	ctx := context.Background()
	now := time.Date(2025, 1, 1, 12, 0, 0, 0, time.UTC)

	mock.ExpectBegin()
	mock.ExpectQuery(reSelForUpdate).
		WithArgs("k").
		WillReturnRows(pgxmock.NewRows(attemptCols))
	mock.ExpectExec(reInsAttempt).
		WithArgs("k", 1, now, (*time.Time)(nil)).
		WillReturnResult(pgxmock.NewResult("INSERT", 1))
	mock.ExpectCommit()

	rec, err := r.Upsert(ctx, "k", bump(now))
	require.NoError(t, err)
	require.Equal(t, "k", rec.Key)
	require.Equal(t, 1, rec.Attempts)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestAttemptRepo_Upsert_UpdateExisting(t *testing.T) {
	db, mock := newDB(t)
	defer mock.Close()
	r := NewAttemptRepo(db)
	ctx := context.Background()
	last := time.Date(2025, 1, 1, 11, 0, 0, 0, time.UTC)
	now := last.Add(time.Hour)
	until := now.Add(2 * time.Hour)

	mock.ExpectBegin()
	mock.ExpectQuery(reSelForUpdate).
		WithArgs("k").
		WillReturnRows(pgxmock.NewRows(attemptCols).AddRow("k", 9, last, nil))
	mock.ExpectExec(reUpdAttempt).
		WithArgs("k", 10, now, &until).
		WillReturnResult(pgxmock.NewResult("UPDATE", 1))
	mock.ExpectCommit()

	rec, err := r.Upsert(ctx, "k", func(cur *model.AttemptRecord) *model.AttemptRecord {
		require.NotNil(t, cur)
		require.Equal(t, 9, cur.Attempts)
		require.Nil(t, cur.BlockedUntil)
		cur.Attempts++
		cur.LastAttempt = now
		u := until
		cur.BlockedUntil = &u
		return cur
	})
	require.NoError(t, err)
	require.Equal(t, 10, rec.Attempts)
	require.True(t, rec.BlockedUntil.Equal(until))
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestAttemptRepo_Upsert_NilMutationSkipsWrite(t *testing.T) {
	db, mock := newDB(t)
	defer mock.Close()
	r := NewAttemptRepo(db)
	ctx := context.Background()

	mock.ExpectBegin()
	mock.ExpectQuery(reSelForUpdate).
		WithArgs("k").
		WillReturnRows(pgxmock.NewRows(attemptCols))
	mock.ExpectCommit()

	rec, err := r.Upsert(ctx, "k", func(*model.AttemptRecord) *model.AttemptRecord { return nil })
	require.NoError(t, err)
	require.Nil(t, rec)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestAttemptRepo_Upsert_InsertRaceIsConflict(t *testing.T) {
	db, mock := newDB(t)
	defer mock.Close()
	r := NewAttemptRepo(db)
	ctx := context.Background()
	now := time.Date(2025, 1, 1, 12, 0, 0, 0, time.UTC)

	mock.ExpectBegin()
	mock.ExpectQuery(reSelForUpdate).
		WithArgs("k").
		WillReturnRows(pgxmock.NewRows(attemptCols))
	mock.ExpectExec(reInsAttempt).
		WithArgs("k", 1, now, (*time.Time)(nil)).
		WillReturnError(&pgconn.PgError{Code: "23505"})
	mock.ExpectRollback()

	_, err := r.Upsert(ctx, "k", bump(now))
	require.ErrorIs(t, err, errs.ErrConflict)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestAttemptRepo_Upsert_CommitSerializationFailure(t *testing.T) {
	db, mock := newDB(t)
	defer mock.Close()
	r := NewAttemptRepo(db)
	ctx := context.Background()
	now := time.Date(2025, 1, 1, 12, 0, 0, 0, time.UTC)

	mock.ExpectBegin()
	mock.ExpectQuery(reSelForUpdate).
		WithArgs("k").
		WillReturnRows(pgxmock.NewRows(attemptCols).AddRow("k", 1, now, nil))
	mock.ExpectExec(reUpdAttempt).
		WithArgs("k", 2, now, (*time.Time)(nil)).
		WillReturnResult(pgxmock.NewResult("UPDATE", 1))
	mock.ExpectCommit().WillReturnError(&pgconn.PgError{Code: "40001"})

	rec, err := r.Upsert(ctx, "k", bump(now))
	require.ErrorIs(t, err, errs.ErrConflict)
	require.Nil(t, rec)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestAttemptRepo_Upsert_BeginAndSelectErrors(t *testing.T) {
	db, mock := newDB(t)
	defer mock.Close()
	r := NewAttemptRepo(db)
	ctx := context.Background()

	mock.ExpectBegin().WillReturnError(errors.New("pool exhausted"))
	_, err := r.Upsert(ctx, "k", bump(time.Now()))
	require.ErrorIs(t, err, errs.ErrStorage)

	mock.ExpectBegin()
	mock.ExpectQuery(reSelForUpdate).
		WithArgs("k").
		WillReturnError(&pgconn.PgError{Code: "40P01"})
	mock.ExpectRollback()
	_, err = r.Upsert(ctx, "k", bump(time.Now()))
	require.ErrorIs(t, err, errs.ErrConflict)

	require.NoError(t, mock.ExpectationsWereMet())
}

func TestAttemptRepo_ClearExpired(t *testing.T) {
	db, mock := newDB(t)
	defer mock.Close()
	r := NewAttemptRepo(db)
	ctx := context.Background()
	now := time.Date(2025, 1, 1, 12, 0, 0, 0, time.UTC)

	mock.ExpectExec(reClearExpiredStmt).
		WithArgs(now).
		WillReturnResult(pgxmock.NewResult("UPDATE", 3))
	n, err := r.ClearExpired(ctx, now)
	require.NoError(t, err)
	require.Equal(t, int64(3), n)

	mock.ExpectExec(reClearExpiredStmt).
		WithArgs(now).
		WillReturnError(errors.New("boom"))
	_, err = r.ClearExpired(ctx, now)
	require.ErrorIs(t, err, errs.ErrStorage)

	require.NoError(t, mock.ExpectationsWereMet())
}

func TestMapErr(t *testing.T) {
	require.NoError(t, mapErr(nil))
	require.ErrorIs(t, mapErr(&pgconn.PgError{Code: "23505"}), errs.ErrConflict)
	require.ErrorIs(t, mapErr(&pgconn.PgError{Code: "40001"}), errs.ErrConflict)
	require.ErrorIs(t, mapErr(&pgconn.PgError{Code: "40P01"}), errs.ErrConflict)
	require.ErrorIs(t, mapErr(&pgconn.PgError{Code: "23514"}), errs.ErrStorage)
	require.ErrorIs(t, mapErr(errors.New("x")), errs.ErrStorage)
}
