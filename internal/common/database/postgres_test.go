package database

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"testing"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/lib/pq"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestWithTx_CommitsOnSuccess(t *testing.T) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer db.Close()

	mock.ExpectBegin()
	mock.ExpectExec(`UPDATE applications`).WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectCommit()

	client := NewPostgresFromDB(db)
	err = client.WithTx(context.Background(), func(tx *sql.Tx) error {
		_, err := tx.ExecContext(context.Background(), "UPDATE applications SET status = 'SUBMITTED'")
		return err
	})

	assert.NoError(t, err)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestWithTx_RollsBackOnError(t *testing.T) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer db.Close()

	mock.ExpectBegin()
	mock.ExpectRollback()

	client := NewPostgresFromDB(db)
	boom := errors.New("boom")
	err = client.WithTx(context.Background(), func(tx *sql.Tx) error {
		return boom
	})

	assert.ErrorIs(t, err, boom)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestWithTx_RollsBackOnPanic(t *testing.T) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer db.Close()

	mock.ExpectBegin()
	mock.ExpectRollback()

	client := NewPostgresFromDB(db)
	assert.Panics(t, func() {
		_ = client.WithTx(context.Background(), func(tx *sql.Tx) error {
			panic("unexpected")
		})
	})
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestWithTx_BeginFailure(t *testing.T) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer db.Close()

	mock.ExpectBegin().WillReturnError(errors.New("too many connections"))

	client := NewPostgresFromDB(db)
	called := false
	err = client.WithTx(context.Background(), func(tx *sql.Tx) error {
		called = true
		return nil
	})

	assert.Error(t, err)
	assert.Contains(t, err.Error(), "begin transaction")
	assert.False(t, called)
}

func TestIsUniqueViolation(t *testing.T) {
	lockErr := &pq.Error{Code: "23505", Constraint: "unit_reservations_one_active_screening_lock"}

	assert.True(t, IsUniqueViolation(lockErr, ""))
	assert.True(t, IsUniqueViolation(lockErr, "unit_reservations_one_active_screening_lock"))
	assert.True(t, IsUniqueViolation(fmt.Errorf("insert: %w", lockErr), "unit_reservations_one_active_screening_lock"))
	assert.False(t, IsUniqueViolation(lockErr, "job_runs_idempotency_key_key"))
	assert.False(t, IsUniqueViolation(&pq.Error{Code: "23503"}, ""))
	assert.False(t, IsUniqueViolation(errors.New("plain"), ""))
}
