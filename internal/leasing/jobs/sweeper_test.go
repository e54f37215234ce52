package jobs

import (
	"context"
	"fmt"
	"testing"
	"time"

	"leasing-workers/internal/common/config"
	"leasing-workers/internal/common/database"
	"leasing-workers/internal/common/logger"
	"leasing-workers/internal/leasing/application"
	"leasing-workers/internal/leasing/audit"
	"leasing-workers/internal/leasing/configresolver"
	"leasing-workers/internal/leasing/notify"
	"leasing-workers/internal/leasing/requirements"
	"leasing-workers/internal/leasing/reservation"
	"leasing-workers/internal/leasing/store/storetest"
	"leasing-workers/internal/models"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
)

var sweepNow = time.Date(2026, 6, 10, 3, 0, 0, 0, time.UTC)

var (
	configCols = []string{
		"id", "org_id", "property_id", "jurisdiction_code", "version", "document", "effective_at", "expires_at",
	}
	reservationCols = []string{
		"id", "org_id", "unit_id", "application_id", "kind", "status",
		"expires_at", "released_at", "release_reason_code", "created_at", "updated_at",
	}
	auditCols = []string{
		"id", "org_id", "application_id", "event_type", "actor", "target_type", "target_id", "metadata", "created_at",
	}
	reminderCols = append(append([]string{}, storetest.PartyRowColumns...), "org_id", "property_id", "jurisdiction_code")
)

type mockNotifier struct {
	mock.Mock
}

func (m *mockNotifier) SendReminder(ctx context.Context, r notify.Reminder) ([]models.Notification, error) {
	args := m.Called(ctx, r)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).([]models.Notification), args.Error(1)
}

type mockIndexer struct {
	mock.Mock
}

func (m *mockIndexer) IndexDocument(ctx context.Context, index, id string, doc interface{}) error {
	return m.Called(ctx, index, id, doc).Error(0)
}

func newTestSweeper(t *testing.T, notifier Notifier, indexer Indexer) (*Sweeper, sqlmock.Sqlmock) {
	db, dbMock, err := sqlmock.New()
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })

	log := logger.NewTestLogger(t)
	trail := audit.NewTrail(log)
	leasing := config.LeasingConfig{
		Defaults: config.PolicyDefaults{
			MaxReminders:          2,
			ReminderIntervalHours: 24,
			ScreeningTimeoutHours: 48,
		},
	}
	pg := database.NewPostgresFromDB(db)
	ledger := reservation.NewLedger(trail, log)
	reqs := requirements.NewEngine(trail, log)
	resolver := configresolver.NewResolver(nil, leasing, log)

	s := NewSweeper(Deps{
		Postgres: pg,
		Machine: application.NewMachine(pg, application.Deps{
			Resolver:     resolver,
			Ledger:       ledger,
			Requirements: reqs,
			Trail:        trail,
		}, leasing, log),
		Ledger:       ledger,
		Requirements: reqs,
		Resolver:     resolver,
		Trail:        trail,
		Notifier:     notifier,
		Indexer:      indexer,
		AuditIndex:   "audit-test",
	}, config.JobsConfig{BatchSize: 10}, leasing.Defaults, log)
	s.now = func() time.Time { return sweepNow }
	return s, dbMock
}

func expectClaim(dbMock sqlmock.Sqlmock, jobKey, targetID, key string, claimed bool) {
	rows := sqlmock.NewRows([]string{"id"})
	if claimed {
		rows.AddRow("run-" + key)
	}
	dbMock.ExpectQuery(`INSERT INTO job_runs .* ON CONFLICT \(idempotency_key\) DO NOTHING`).
		WithArgs(sqlmock.AnyArg(), jobKey, targetID, key, sqlmock.AnyArg()).
		WillReturnRows(rows)
}

func expectFinish(dbMock sqlmock.Sqlmock, key, status string) {
	dbMock.ExpectExec(`UPDATE job_runs SET status = \$2`).
		WithArgs("run-"+key, status, sqlmock.AnyArg(), sqlmock.AnyArg()).
		WillReturnResult(sqlmock.NewResult(0, 1))
}

func expectAudit(dbMock sqlmock.Sqlmock, eventType, targetType string, targetID interface{}) {
	dbMock.ExpectExec(`INSERT INTO audit_events`).
		WithArgs(sqlmock.AnyArg(), "org-1", "app-1", eventType, audit.ActorSystem, targetType, targetID,
			sqlmock.AnyArg(), sqlmock.AnyArg()).
		WillReturnResult(sqlmock.NewResult(0, 1))
}

func TestIdempotencyKey(t *testing.T) {
	assert.Equal(t, "submittedTtl:app-1", IdempotencyKey(JobSubmittedTTL, "app-1"))
	assert.Equal(t, "coApplicantReminders:party-1:MAXED", IdempotencyKey(JobCoApplicantReminders, "party-1", MaxedOrdinal))
}

func TestSubmittedTTL_RunTwiceProcessesOnce(t *testing.T) {
	s, dbMock := newTestSweeper(t, nil, nil)
	expired := time.Now().UTC().Add(-time.Hour)
	key := "submittedTtl:app-1"

	dbMock.ExpectQuery(`WHERE status = 'SUBMITTED' AND expires_at IS NOT NULL AND expires_at <= \$1`).
		WithArgs(sweepNow, 10).
		WillReturnRows(sqlmock.NewRows([]string{"id"}).AddRow("app-1"))
	expectClaim(dbMock, JobSubmittedTTL, "app-1", key, true)
	dbMock.ExpectBegin()
	dbMock.ExpectQuery(`FROM applications WHERE id = \$1 FOR UPDATE`).
		WithArgs("app-1").
		WillReturnRows(storetest.ApplicationRows(storetest.ApplicationFixture{
			ID: "app-1", Status: "SUBMITTED", ExpiresAt: expired, At: expired,
		}))
	dbMock.ExpectQuery(`UPDATE unit_reservations SET status = 'RELEASED'`).
		WithArgs("app-1", sqlmock.AnyArg(), models.ReleaseExpired).
		WillReturnRows(sqlmock.NewRows(reservationCols).
			AddRow("res-1", "org-1", "unit-1", "app-1", "SOFT_HOLD", "RELEASED", nil, expired, "EXPIRED", expired, expired))
	expectAudit(dbMock, audit.EventReservationReleased, "unit_reservation", "res-1")
	dbMock.ExpectExec(`UPDATE applications SET status = 'CLOSED'`).
		WithArgs("app-1", sqlmock.AnyArg(), models.ClosedReasonExpired).
		WillReturnResult(sqlmock.NewResult(0, 1))
	expectAudit(dbMock, audit.EventExpired, "application", "app-1")
	dbMock.ExpectCommit()
	expectFinish(dbMock, key, "SUCCESS")

	// A second sweep that still sees the row loses the claim and does nothing.
	dbMock.ExpectQuery(`WHERE status = 'SUBMITTED'`).
		WillReturnRows(sqlmock.NewRows([]string{"id"}).AddRow("app-1"))
	expectClaim(dbMock, JobSubmittedTTL, "app-1", key, false)

	first, err := s.SubmittedTTL(context.Background())
	require.NoError(t, err)
	assert.Equal(t, Stats{Candidates: 1, Succeeded: 1}, first)

	second, err := s.SubmittedTTL(context.Background())
	require.NoError(t, err)
	assert.Equal(t, Stats{Candidates: 1, Skipped: 1}, second)
	require.NoError(t, dbMock.ExpectationsWereMet())
}

func TestSubmittedTTL_FailureIsRecordedAndSweepContinues(t *testing.T) {
	s, dbMock := newTestSweeper(t, nil, nil)
	expired := time.Now().UTC().Add(-time.Hour)

	dbMock.ExpectQuery(`WHERE status = 'SUBMITTED'`).
		WillReturnRows(sqlmock.NewRows([]string{"id"}).AddRow("app-1").AddRow("app-2"))

	expectClaim(dbMock, JobSubmittedTTL, "app-1", "submittedTtl:app-1", true)
	dbMock.ExpectBegin()
	dbMock.ExpectQuery(`FROM applications WHERE id = \$1 FOR UPDATE`).
		WithArgs("app-1").
		WillReturnError(fmt.Errorf("connection reset"))
	dbMock.ExpectRollback()
	dbMock.ExpectExec(`UPDATE job_runs SET status = \$2`).
		WithArgs("run-submittedTtl:app-1", "FAILED", sqlmock.AnyArg(), sqlmock.AnyArg()).
		WillReturnResult(sqlmock.NewResult(0, 1))

	expectClaim(dbMock, JobSubmittedTTL, "app-2", "submittedTtl:app-2", true)
	dbMock.ExpectBegin()
	dbMock.ExpectQuery(`FROM applications WHERE id = \$1 FOR UPDATE`).
		WithArgs("app-2").
		WillReturnRows(storetest.ApplicationRows(storetest.ApplicationFixture{
			ID: "app-2", Status: "IN_REVIEW", ExpiresAt: expired, At: expired,
		}))
	dbMock.ExpectCommit()
	expectFinish(dbMock, "submittedTtl:app-2", "FAILED")

	stats, err := s.SubmittedTTL(context.Background())
	require.NoError(t, err)
	assert.Equal(t, Stats{Candidates: 2, Failed: 2}, stats)
	require.NoError(t, dbMock.ExpectationsWereMet())
}

func reminderRow(lastReminded interface{}) *sqlmock.Rows {
	invited := sweepNow.Add(-72 * time.Hour)
	return sqlmock.NewRows(reminderCols).AddRow(
		"party-2", "app-1", "CO_APPLICANT", "INVITED", "co@example.com", nil, "Dana", nil,
		invited, nil, lastReminded, invited, invited,
		"org-1", "property-1", nil)
}

func expectReminderCandidates(dbMock sqlmock.Sqlmock, rows *sqlmock.Rows, delivered int) {
	dbMock.ExpectQuery(`FROM parties p JOIN applications a ON a.id = p.application_id WHERE p.role = 'CO_APPLICANT'`).
		WithArgs(10).
		WillReturnRows(rows)
	dbMock.ExpectQuery(`FROM workflow_configs`).
		WithArgs("org-1", sweepNow).
		WillReturnRows(sqlmock.NewRows(configCols))
	dbMock.ExpectQuery(`SELECT COUNT\(\*\) FROM job_runs`).
		WithArgs(JobCoApplicantReminders, "party-2", "SUCCESS", "coApplicantReminders:party-2:MAXED").
		WillReturnRows(sqlmock.NewRows([]string{"count"}).AddRow(delivered))
}

func expectFailedCount(dbMock sqlmock.Sqlmock, key string, failed int) {
	dbMock.ExpectQuery(`SELECT COUNT\(\*\) FROM job_runs\s+WHERE status = 'FAILED'`).
		WithArgs(key).
		WillReturnRows(sqlmock.NewRows([]string{"count"}).AddRow(failed))
}

func lockAppAndParty(dbMock sqlmock.Sqlmock, partyStatus string) {
	dbMock.ExpectBegin()
	dbMock.ExpectQuery(`FROM applications WHERE id = \$1 FOR UPDATE`).
		WithArgs("app-1").
		WillReturnRows(storetest.ApplicationRows(storetest.ApplicationFixture{ID: "app-1", Status: "DRAFT", At: sweepNow}))
	dbMock.ExpectQuery(`FROM parties WHERE id = \$1 FOR UPDATE`).
		WithArgs("party-2").
		WillReturnRows(storetest.PartyRow(sqlmock.NewRows(storetest.PartyRowColumns),
			"party-2", "app-1", "CO_APPLICANT", partyStatus, sweepNow))
}

func TestCoApplicantReminders_SendsNextOrdinal(t *testing.T) {
	notifier := new(mockNotifier)
	s, dbMock := newTestSweeper(t, notifier, nil)
	key := "coApplicantReminders:party-2:2"

	expectReminderCandidates(dbMock, reminderRow(sweepNow.Add(-25*time.Hour)), 1)
	expectFailedCount(dbMock, key, 0)
	expectClaim(dbMock, JobCoApplicantReminders, "party-2", key, true)
	notifier.On("SendReminder", mock.Anything, mock.MatchedBy(func(r notify.Reminder) bool {
		return r.Party.ID == "party-2" && r.Ordinal == 2 && r.MaxCount == 2
	})).Return([]models.Notification{{Channel: models.ChannelEmail}}, nil)
	lockAppAndParty(dbMock, "INVITED")
	dbMock.ExpectExec(`UPDATE parties SET last_reminded_at = \$2`).
		WithArgs("party-2", sweepNow).
		WillReturnResult(sqlmock.NewResult(0, 1))
	expectAudit(dbMock, audit.EventReminderSent, "party", "party-2")
	dbMock.ExpectCommit()
	expectFinish(dbMock, key, "SUCCESS")

	stats, err := s.CoApplicantReminders(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 1, stats.Succeeded)
	notifier.AssertExpectations(t)
	require.NoError(t, dbMock.ExpectationsWereMet())
}

func TestCoApplicantReminders_FailedSendsDoNotCountTowardCeiling(t *testing.T) {
	notifier := new(mockNotifier)
	s, dbMock := newTestSweeper(t, notifier, nil)
	first := "coApplicantReminders:party-2:1"
	retry := "coApplicantReminders:party-2:1:retry2"

	// Two earlier sends of the first reminder failed; nothing was delivered.
	expectReminderCandidates(dbMock, reminderRow(nil), 0)
	expectFailedCount(dbMock, first, 2)
	expectClaim(dbMock, JobCoApplicantReminders, "party-2", retry, true)
	notifier.On("SendReminder", mock.Anything, mock.MatchedBy(func(r notify.Reminder) bool {
		return r.Ordinal == 1
	})).Return(nil, fmt.Errorf("smtp unavailable")).Once()
	expectFinish(dbMock, retry, "FAILED")

	stats, err := s.CoApplicantReminders(context.Background())
	require.NoError(t, err)
	assert.Equal(t, Stats{Candidates: 1, Failed: 1}, stats)
	notifier.AssertExpectations(t)
	require.NoError(t, dbMock.ExpectationsWereMet())
}

func TestCoApplicantReminders_NotDueYet(t *testing.T) {
	notifier := new(mockNotifier)
	s, dbMock := newTestSweeper(t, notifier, nil)

	expectReminderCandidates(dbMock, reminderRow(sweepNow.Add(-time.Hour)), 1)

	stats, err := s.CoApplicantReminders(context.Background())
	require.NoError(t, err)
	assert.Equal(t, Stats{}, stats)
	notifier.AssertNotCalled(t, "SendReminder", mock.Anything, mock.Anything)
	require.NoError(t, dbMock.ExpectationsWereMet())
}

func TestCoApplicantReminders_MaxedLocksPartyOnce(t *testing.T) {
	notifier := new(mockNotifier)
	s, dbMock := newTestSweeper(t, notifier, nil)
	key := "coApplicantReminders:party-2:MAXED"

	expectReminderCandidates(dbMock, reminderRow(sweepNow.Add(-25*time.Hour)), 2)
	expectClaim(dbMock, JobCoApplicantReminders, "party-2", key, true)
	lockAppAndParty(dbMock, "INVITED")
	dbMock.ExpectExec(`UPDATE parties SET status = 'LOCKED'`).
		WithArgs("party-2", sweepNow).
		WillReturnResult(sqlmock.NewResult(0, 1))
	expectAudit(dbMock, audit.EventPartyLocked, "party", "party-2")
	dbMock.ExpectCommit()
	expectFinish(dbMock, key, "SUCCESS")

	// A concurrent sweep that read the party before the lock loses the MAXED key.
	expectReminderCandidates(dbMock, reminderRow(sweepNow.Add(-25*time.Hour)), 2)
	expectClaim(dbMock, JobCoApplicantReminders, "party-2", key, false)

	first, err := s.CoApplicantReminders(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 1, first.Succeeded)

	second, err := s.CoApplicantReminders(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 1, second.Skipped)

	notifier.AssertNotCalled(t, "SendReminder", mock.Anything, mock.Anything)
	require.NoError(t, dbMock.ExpectationsWereMet())
}

func TestAuditIndex_ShipsAndStampsEvents(t *testing.T) {
	indexer := new(mockIndexer)
	s, dbMock := newTestSweeper(t, nil, indexer)

	dbMock.ExpectQuery(`FROM audit_events WHERE indexed_at IS NULL`).
		WithArgs(10).
		WillReturnRows(sqlmock.NewRows(auditCols).
			AddRow("ev-1", "org-1", "app-1", audit.EventSubmitted, "agent", "application", "app-1", []byte(`{}`), sweepNow).
			AddRow("ev-2", "org-1", nil, audit.EventReservationExpired, "system", "unit_reservation", "res-9", []byte(`{}`), sweepNow))

	dbMock.ExpectQuery(`SELECT COUNT\(\*\) FROM job_runs`).
		WithArgs(JobAuditIndex, "ev-1", "FAILED", "").
		WillReturnRows(sqlmock.NewRows([]string{"count"}).AddRow(0))
	expectClaim(dbMock, JobAuditIndex, "ev-1", "auditIndex:ev-1:1", true)
	indexer.On("IndexDocument", mock.Anything, "audit-test", "ev-1", mock.Anything).Return(nil)
	dbMock.ExpectExec(`UPDATE audit_events SET indexed_at = \$2`).
		WithArgs("ev-1", sqlmock.AnyArg()).
		WillReturnResult(sqlmock.NewResult(0, 1))
	expectFinish(dbMock, "auditIndex:ev-1:1", "SUCCESS")

	dbMock.ExpectQuery(`SELECT COUNT\(\*\) FROM job_runs`).
		WithArgs(JobAuditIndex, "ev-2", "FAILED", "").
		WillReturnRows(sqlmock.NewRows([]string{"count"}).AddRow(maxIndexAttempts))

	stats, err := s.AuditIndex(context.Background())
	require.NoError(t, err)
	assert.Equal(t, Stats{Candidates: 1, Succeeded: 1, Skipped: 1}, stats)
	indexer.AssertExpectations(t)
	require.NoError(t, dbMock.ExpectationsWereMet())
}

func TestReminderDue(t *testing.T) {
	created := sweepNow.Add(-100 * time.Hour)
	invited := sweepNow.Add(-30 * time.Hour)
	reminded := sweepNow.Add(-10 * time.Hour)

	assert.True(t, reminderDue(models.Party{CreatedAt: created}, 24, sweepNow))
	assert.True(t, reminderDue(models.Party{CreatedAt: created, InvitedAt: &invited}, 24, sweepNow))
	assert.False(t, reminderDue(models.Party{CreatedAt: created, InvitedAt: &invited, LastRemindedAt: &reminded}, 24, sweepNow))
	assert.True(t, reminderDue(models.Party{CreatedAt: created, InvitedAt: &invited, LastRemindedAt: &reminded}, 10, sweepNow))
}
