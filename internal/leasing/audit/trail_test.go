package audit

import (
	"context"
	"errors"
	"testing"
	"time"

	"leasing-workers/internal/common/logger"
	"leasing-workers/internal/models"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestTrail_Append_FillsDefaults(t *testing.T) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer db.Close()

	fixed := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	trail := NewTrail(logger.NewTestLogger(t))
	trail.now = func() time.Time { return fixed }

	mock.ExpectExec(`INSERT INTO audit_events`).
		WithArgs(sqlmock.AnyArg(), "org-1", nil, EventReservationExpired, ActorSystem,
			"unit_reservation", "res-1", []byte(`{}`), fixed).
		WillReturnResult(sqlmock.NewResult(0, 1))

	err = trail.Append(context.Background(), db, models.AuditEvent{
		OrgID:      "org-1",
		EventType:  EventReservationExpired,
		TargetType: "unit_reservation",
		TargetID:   "res-1",
	})
	require.NoError(t, err)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestTrail_Append_PropagatesStoreError(t *testing.T) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer db.Close()

	mock.ExpectExec(`INSERT INTO audit_events`).WillReturnError(errors.New("disk full"))

	app := &models.Application{ID: "app-1", OrgID: "org-1"}
	err = NewTrail(logger.NewNoOpLogger()).Append(context.Background(), db,
		ForApplication(app, EventSubmitted, "user-1", "application", app.ID, nil))
	require.Error(t, err)
	assert.Contains(t, err.Error(), EventSubmitted)
}

func TestTrail_ListUnindexed(t *testing.T) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer db.Close()

	created := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	mock.ExpectQuery(`FROM audit_events\s+WHERE indexed_at IS NULL`).
		WithArgs(50).
		WillReturnRows(sqlmock.NewRows([]string{
			"id", "org_id", "application_id", "event_type", "actor",
			"target_type", "target_id", "metadata", "created_at",
		}).AddRow("ev-1", "org-1", "app-1", EventSubmitted, "user-1",
			"application", "app-1", []byte(`{"expiresAt":"x"}`), created))

	events, err := NewTrail(logger.NewNoOpLogger()).ListUnindexed(context.Background(), db, 50)
	require.NoError(t, err)
	require.Len(t, events, 1)
	assert.Equal(t, "app-1", *events[0].ApplicationID)
	assert.Equal(t, "x", events[0].Metadata["expiresAt"])
	assert.NoError(t, mock.ExpectationsWereMet())
}
