package reservation

import (
	"context"
	"errors"
	"testing"
	"time"

	leasingerrors "leasing-workers/internal/common/errors"
	"leasing-workers/internal/common/logger"
	"leasing-workers/internal/leasing/audit"
	"leasing-workers/internal/models"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/lib/pq"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var (
	now     = time.Date(2026, 4, 10, 9, 0, 0, 0, time.UTC)
	expires = now.Add(72 * time.Hour)
)

func newTestLedger(t *testing.T) *Ledger {
	log := logger.NewTestLogger(t)
	l := NewLedger(audit.NewTrail(log), log)
	l.now = func() time.Time { return now }
	return l
}

func reservationRows() *sqlmock.Rows {
	return sqlmock.NewRows([]string{
		"id", "org_id", "unit_id", "application_id", "kind", "status",
		"expires_at", "released_at", "release_reason_code", "created_at", "updated_at",
	})
}

func lockRequest() ClaimRequest {
	e := expires
	return ClaimRequest{OrgID: "org-1", UnitID: "unit-1", ApplicationID: "app-1", ExpiresAt: &e, Actor: "user-1"}
}

func TestCreateScreeningLock_Success(t *testing.T) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer db.Close()

	mock.ExpectQuery(`FROM unit_reservations\s+WHERE unit_id = \$1 AND application_id = \$2`).
		WithArgs("unit-1", "app-1").
		WillReturnRows(reservationRows())
	mock.ExpectExec(`^SAVEPOINT screening_lock$`).WillReturnResult(sqlmock.NewResult(0, 0))
	mock.ExpectExec(`INSERT INTO unit_reservations`).
		WithArgs(sqlmock.AnyArg(), "org-1", "unit-1", "app-1", "SCREENING_LOCK", "ACTIVE", expires, now).
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectExec(`^RELEASE SAVEPOINT screening_lock$`).WillReturnResult(sqlmock.NewResult(0, 0))
	mock.ExpectExec(`INSERT INTO audit_events`).WillReturnResult(sqlmock.NewResult(0, 1))

	result, err := newTestLedger(t).CreateScreeningLock(context.Background(), db, lockRequest())
	require.NoError(t, err)
	require.True(t, result.OK)
	assert.Equal(t, models.KindScreeningLock, result.Reservation.Kind)
	assert.Equal(t, "app-1", result.Reservation.HolderApplicationID())
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestCreateScreeningLock_ConflictReportsHolder(t *testing.T) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer db.Close()

	holderExpiry := now.Add(10 * time.Hour)

	mock.ExpectQuery(`FROM unit_reservations`).WillReturnRows(reservationRows())
	mock.ExpectExec(`^SAVEPOINT screening_lock$`).WillReturnResult(sqlmock.NewResult(0, 0))
	mock.ExpectExec(`INSERT INTO unit_reservations`).
		WillReturnError(&pq.Error{Code: "23505", Constraint: ScreeningLockConstraint})
	mock.ExpectExec(`^ROLLBACK TO SAVEPOINT screening_lock$`).WillReturnResult(sqlmock.NewResult(0, 0))
	mock.ExpectQuery(`SELECT application_id, expires_at FROM unit_reservations`).
		WithArgs("unit-1").
		WillReturnRows(sqlmock.NewRows([]string{"application_id", "expires_at"}).AddRow("app-holder", holderExpiry))

	result, err := newTestLedger(t).CreateScreeningLock(context.Background(), db, lockRequest())
	require.NoError(t, err, "an expected race is an outcome, not an error")
	assert.False(t, result.OK)
	assert.Equal(t, leasingerrors.ErrCodeReservationConflict, result.ErrorCode)
	assert.Equal(t, "app-holder", result.HolderApplicationID)
	require.NotNil(t, result.HolderExpiresAt)
	assert.True(t, holderExpiry.Equal(*result.HolderExpiresAt))
	assert.NoError(t, mock.ExpectationsWereMet())
}

func expectLockViolation(mock sqlmock.Sqlmock) {
	mock.ExpectExec(`^SAVEPOINT screening_lock$`).WillReturnResult(sqlmock.NewResult(0, 0))
	mock.ExpectExec(`INSERT INTO unit_reservations`).
		WillReturnError(&pq.Error{Code: "23505", Constraint: ScreeningLockConstraint})
	mock.ExpectExec(`^ROLLBACK TO SAVEPOINT screening_lock$`).WillReturnResult(sqlmock.NewResult(0, 0))
	mock.ExpectQuery(`SELECT application_id, expires_at FROM unit_reservations`).
		WithArgs("unit-1").
		WillReturnRows(sqlmock.NewRows([]string{"application_id", "expires_at"}))
}

func TestCreateScreeningLock_HolderReleasedBeforeLookupRetriesInsert(t *testing.T) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer db.Close()

	mock.ExpectQuery(`FROM unit_reservations`).WillReturnRows(reservationRows())
	expectLockViolation(mock)
	mock.ExpectExec(`^SAVEPOINT screening_lock$`).WillReturnResult(sqlmock.NewResult(0, 0))
	mock.ExpectExec(`INSERT INTO unit_reservations`).
		WithArgs(sqlmock.AnyArg(), "org-1", "unit-1", "app-1", "SCREENING_LOCK", "ACTIVE", expires, now).
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectExec(`^RELEASE SAVEPOINT screening_lock$`).WillReturnResult(sqlmock.NewResult(0, 0))
	mock.ExpectExec(`INSERT INTO audit_events`).WillReturnResult(sqlmock.NewResult(0, 1))

	result, err := newTestLedger(t).CreateScreeningLock(context.Background(), db, lockRequest())
	require.NoError(t, err)
	require.True(t, result.OK)
	assert.Equal(t, "app-1", result.Reservation.HolderApplicationID())
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestCreateScreeningLock_HolderNeverFoundIsRetryable(t *testing.T) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer db.Close()

	mock.ExpectQuery(`FROM unit_reservations`).WillReturnRows(reservationRows())
	expectLockViolation(mock)
	expectLockViolation(mock)

	result, err := newTestLedger(t).CreateScreeningLock(context.Background(), db, lockRequest())
	require.Error(t, err)
	assert.Nil(t, result, "a conflict without a holder is never reported")

	var stdErr *leasingerrors.StandardError
	require.True(t, errors.As(err, &stdErr))
	assert.Equal(t, leasingerrors.ErrCodeQueryExecutionFailed, stdErr.Code)
	assert.True(t, stdErr.Retryable)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestCreateScreeningLock_AlreadyHeldBySameApplication(t *testing.T) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer db.Close()

	mock.ExpectQuery(`FROM unit_reservations`).
		WillReturnRows(reservationRows().AddRow("res-1", "org-1", "unit-1", "app-1", "SCREENING_LOCK", "ACTIVE",
			expires, nil, nil, now, now))

	result, err := newTestLedger(t).CreateScreeningLock(context.Background(), db, lockRequest())
	require.NoError(t, err)
	assert.True(t, result.OK)
	assert.True(t, result.AlreadyHeld)
	assert.Equal(t, "res-1", result.Reservation.ID)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestCreateScreeningLock_OtherStoreErrorPropagates(t *testing.T) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer db.Close()

	mock.ExpectQuery(`FROM unit_reservations`).WillReturnRows(reservationRows())
	mock.ExpectExec(`^SAVEPOINT screening_lock$`).WillReturnResult(sqlmock.NewResult(0, 0))
	mock.ExpectExec(`INSERT INTO unit_reservations`).
		WillReturnError(&pq.Error{Code: "23503", Constraint: "unit_reservations_application_id_fkey"})

	_, err = newTestLedger(t).CreateScreeningLock(context.Background(), db, lockRequest())
	require.Error(t, err)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestCreateScreeningLock_MissingUnitIsProgrammerError(t *testing.T) {
	req := lockRequest()
	req.UnitID = ""
	_, err := newTestLedger(t).CreateScreeningLock(context.Background(), nil, req)
	assert.True(t, leasingerrors.IsInvalidInput(err))
}

func TestCreateSoftHold_CooperativeConflict(t *testing.T) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer db.Close()

	mock.ExpectQuery(`kind IN \('SOFT_HOLD', 'HARD_HOLD'\)`).
		WithArgs("unit-1", "app-1").
		WillReturnRows(reservationRows().AddRow("res-9", "org-1", "unit-1", nil, "HARD_HOLD", "ACTIVE",
			nil, nil, nil, now, now))

	result, err := newTestLedger(t).CreateSoftHold(context.Background(), db, lockRequest())
	require.NoError(t, err)
	assert.False(t, result.OK)
	assert.Equal(t, leasingerrors.ErrCodeHoldConflict, result.ErrorCode)
	assert.Empty(t, result.HolderApplicationID)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestCreateSoftHold_Success(t *testing.T) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer db.Close()

	mock.ExpectQuery(`kind IN \('SOFT_HOLD', 'HARD_HOLD'\)`).WillReturnRows(reservationRows())
	mock.ExpectExec(`INSERT INTO unit_reservations`).
		WithArgs(sqlmock.AnyArg(), "org-1", "unit-1", "app-1", "SOFT_HOLD", "ACTIVE", expires, now).
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectExec(`INSERT INTO audit_events`).WillReturnResult(sqlmock.NewResult(0, 1))

	result, err := newTestLedger(t).CreateSoftHold(context.Background(), db, lockRequest())
	require.NoError(t, err)
	assert.True(t, result.OK)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestCreateHardHold_SkipsCooperativeCheck(t *testing.T) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer db.Close()

	mock.ExpectExec(`INSERT INTO unit_reservations`).
		WithArgs(sqlmock.AnyArg(), "org-1", "unit-1", nil, "HARD_HOLD", "ACTIVE", nil, now).
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectExec(`INSERT INTO audit_events`).WillReturnResult(sqlmock.NewResult(0, 1))

	result, err := newTestLedger(t).CreateHardHold(context.Background(), db,
		ClaimRequest{OrgID: "org-1", UnitID: "unit-1", Actor: "admin"})
	require.NoError(t, err)
	assert.True(t, result.OK)
	assert.Nil(t, result.Reservation.ApplicationID)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestReleaseReservation(t *testing.T) {
	t.Run("not found", func(t *testing.T) {
		db, mock, err := sqlmock.New()
		require.NoError(t, err)
		defer db.Close()

		mock.ExpectQuery(`WHERE id = \$1 FOR UPDATE`).WithArgs("res-1").WillReturnRows(reservationRows())

		result, err := newTestLedger(t).ReleaseReservation(context.Background(), db, "res-1", models.ReleaseManual, "admin")
		require.NoError(t, err)
		assert.Equal(t, leasingerrors.ErrCodeNotFound, result.ErrorCode)
	})

	t.Run("not active is reported", func(t *testing.T) {
		db, mock, err := sqlmock.New()
		require.NoError(t, err)
		defer db.Close()

		mock.ExpectQuery(`WHERE id = \$1 FOR UPDATE`).
			WillReturnRows(reservationRows().AddRow("res-1", "org-1", "unit-1", "app-1", "SOFT_HOLD", "EXPIRED",
				nil, nil, "EXPIRED", now, now))

		result, err := newTestLedger(t).ReleaseReservation(context.Background(), db, "res-1", models.ReleaseManual, "admin")
		require.NoError(t, err)
		assert.False(t, result.OK)
		assert.Equal(t, leasingerrors.ErrCodeNotActive, result.ErrorCode)
		assert.NoError(t, mock.ExpectationsWereMet())
	})

	t.Run("active is released", func(t *testing.T) {
		db, mock, err := sqlmock.New()
		require.NoError(t, err)
		defer db.Close()

		mock.ExpectQuery(`WHERE id = \$1 FOR UPDATE`).
			WillReturnRows(reservationRows().AddRow("res-1", "org-1", "unit-1", "app-1", "SOFT_HOLD", "ACTIVE",
				expires, nil, nil, now, now))
		mock.ExpectExec(`UPDATE unit_reservations\s+SET status = 'RELEASED'`).
			WithArgs("res-1", now, models.ReleaseManual).
			WillReturnResult(sqlmock.NewResult(0, 1))
		mock.ExpectExec(`INSERT INTO audit_events`).WillReturnResult(sqlmock.NewResult(0, 1))

		result, err := newTestLedger(t).ReleaseReservation(context.Background(), db, "res-1", models.ReleaseManual, "admin")
		require.NoError(t, err)
		require.True(t, result.OK)
		assert.Equal(t, models.ReservationReleased, result.Reservation.Status)
		assert.Equal(t, models.ReleaseManual, *result.Reservation.ReleaseReasonCode)
		assert.NoError(t, mock.ExpectationsWereMet())
	})
}

func TestReleaseAllForApplication_AuditsEachRow(t *testing.T) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer db.Close()

	mock.ExpectQuery(`UPDATE unit_reservations.*WHERE application_id = \$1 AND status = 'ACTIVE'.*RETURNING`).
		WithArgs("app-1", now, models.ReleaseWithdrawn).
		WillReturnRows(reservationRows().
			AddRow("res-1", "org-1", "unit-1", "app-1", "SCREENING_LOCK", "RELEASED", expires, now, "WITHDRAWN", now, now).
			AddRow("res-2", "org-1", "unit-1", "app-1", "SOFT_HOLD", "RELEASED", expires, now, "WITHDRAWN", now, now))
	mock.ExpectExec(`INSERT INTO audit_events`).WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectExec(`INSERT INTO audit_events`).WillReturnResult(sqlmock.NewResult(0, 1))

	released, err := newTestLedger(t).ReleaseAllForApplication(context.Background(), db, "app-1", models.ReleaseWithdrawn, "user-1")
	require.NoError(t, err)
	require.Len(t, released, 2)
	for _, r := range released {
		assert.Equal(t, models.ReleaseWithdrawn, *r.ReleaseReasonCode)
	}
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestExpireReservations(t *testing.T) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer db.Close()

	mock.ExpectQuery(`SET status = 'EXPIRED'.*expires_at <= \$1`).
		WithArgs(now).
		WillReturnRows(reservationRows().
			AddRow("res-1", "org-1", "unit-1", "app-1", "SOFT_HOLD", "EXPIRED", now.Add(-time.Hour), nil, "EXPIRED", now, now))
	mock.ExpectExec(`INSERT INTO audit_events`).
		WithArgs(sqlmock.AnyArg(), "org-1", "app-1", audit.EventReservationExpired, audit.ActorSystem,
			"unit_reservation", "res-1", sqlmock.AnyArg(), sqlmock.AnyArg()).
		WillReturnResult(sqlmock.NewResult(0, 1))

	expired, err := newTestLedger(t).ExpireReservations(context.Background(), db, now)
	require.NoError(t, err)
	assert.Len(t, expired, 1)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestUpgradeScreeningLockToSoftHold(t *testing.T) {
	lockRow := func() *sqlmock.Rows {
		return reservationRows().AddRow("res-1", "org-1", "unit-1", "app-1", "SCREENING_LOCK", "ACTIVE",
			expires, nil, nil, now, now)
	}
	holdExpiry := now.Add(48 * time.Hour)

	t.Run("upgrades in place", func(t *testing.T) {
		db, mock, err := sqlmock.New()
		require.NoError(t, err)
		defer db.Close()

		mock.ExpectQuery(`kind = 'SCREENING_LOCK' AND status = 'ACTIVE'.*FOR UPDATE`).
			WithArgs("app-1").WillReturnRows(lockRow())
		mock.ExpectQuery(`kind IN \('SOFT_HOLD', 'HARD_HOLD'\)`).
			WithArgs("unit-1", "app-1").WillReturnRows(reservationRows())
		mock.ExpectExec(`SET kind = 'SOFT_HOLD'`).
			WithArgs("res-1", holdExpiry, now).
			WillReturnResult(sqlmock.NewResult(0, 1))
		mock.ExpectExec(`INSERT INTO audit_events`).WillReturnResult(sqlmock.NewResult(0, 1))

		result, err := newTestLedger(t).UpgradeScreeningLockToSoftHold(context.Background(), db, "app-1", &holdExpiry, "reviewer")
		require.NoError(t, err)
		require.True(t, result.OK)
		assert.Equal(t, "res-1", result.Reservation.ID, "same reservation id")
		assert.Equal(t, models.KindSoftHold, result.Reservation.Kind)
		assert.NoError(t, mock.ExpectationsWereMet())
	})

	t.Run("another hold wins", func(t *testing.T) {
		db, mock, err := sqlmock.New()
		require.NoError(t, err)
		defer db.Close()

		mock.ExpectQuery(`FOR UPDATE`).WillReturnRows(lockRow())
		mock.ExpectQuery(`kind IN \('SOFT_HOLD', 'HARD_HOLD'\)`).
			WillReturnRows(reservationRows().AddRow("res-2", "org-1", "unit-1", "app-2", "SOFT_HOLD", "ACTIVE",
				holdExpiry, nil, nil, now, now))

		result, err := newTestLedger(t).UpgradeScreeningLockToSoftHold(context.Background(), db, "app-1", &holdExpiry, "reviewer")
		require.NoError(t, err)
		assert.Equal(t, leasingerrors.ErrCodeHoldConflict, result.ErrorCode)
		assert.Equal(t, "app-2", result.HolderApplicationID)
		assert.NoError(t, mock.ExpectationsWereMet())
	})

	t.Run("lock changed between check and update", func(t *testing.T) {
		db, mock, err := sqlmock.New()
		require.NoError(t, err)
		defer db.Close()

		mock.ExpectQuery(`FOR UPDATE`).WillReturnRows(lockRow())
		mock.ExpectQuery(`kind IN \('SOFT_HOLD', 'HARD_HOLD'\)`).WillReturnRows(reservationRows())
		mock.ExpectExec(`SET kind = 'SOFT_HOLD'`).WillReturnResult(sqlmock.NewResult(0, 0))

		result, err := newTestLedger(t).UpgradeScreeningLockToSoftHold(context.Background(), db, "app-1", &holdExpiry, "reviewer")
		require.NoError(t, err)
		assert.Equal(t, leasingerrors.ErrCodeHoldConflict, result.ErrorCode)
		assert.NoError(t, mock.ExpectationsWereMet())
	})

	t.Run("store error", func(t *testing.T) {
		db, mock, err := sqlmock.New()
		require.NoError(t, err)
		defer db.Close()

		mock.ExpectQuery(`FOR UPDATE`).WillReturnError(errors.New("deadlock detected"))

		_, err = newTestLedger(t).UpgradeScreeningLockToSoftHold(context.Background(), db, "app-1", &holdExpiry, "reviewer")
		assert.Error(t, err)
	})
}
