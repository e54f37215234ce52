// internal/workers/requirements/create-info-request/handler_test.go
package createinforequest

import (
	"context"
	stderrors "errors"
	"testing"
	"time"

	"leasing-workers/internal/common/database"
	"leasing-workers/internal/common/errors"
	"leasing-workers/internal/common/logger"
	"leasing-workers/internal/leasing/requirements"
	"leasing-workers/internal/models"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
)

type mockInfoRequests struct {
	mock.Mock
}

func (m *mockInfoRequests) CreateInfoRequest(ctx context.Context, db database.DBTX, in requirements.CreateInfoRequestInput) (*requirements.Result, error) {
	args := m.Called(ctx, db, in)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*requirements.Result), args.Error(1)
}

func createTestHandler(t *testing.T, requests InfoRequests) (*Handler, sqlmock.Sqlmock) {
	db, dbMock, err := sqlmock.New()
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })

	config := &Config{Timeout: 5 * time.Second, DefaultDueInHours: 48}
	return NewHandler(config, database.NewPostgresFromDB(db), requests, logger.NewTestLogger(t)), dbMock
}

func TestHandler_Execute_OpensRequest(t *testing.T) {
	requests := new(mockInfoRequests)
	h, dbMock := createTestHandler(t, requests)

	requests.On("CreateInfoRequest", mock.Anything, mock.Anything, mock.MatchedBy(func(in requirements.CreateInfoRequestInput) bool {
		return in.ApplicationID == "app-1" &&
			len(in.Items) == 2 &&
			in.Items[0].DueInHours == 48 &&
			in.Items[1].DueInHours == 12
	})).Return(&requirements.Result{
		OK:                true,
		InfoRequest:       &models.InfoRequest{ID: "ir-1"},
		Items:             []models.RequirementItem{{ID: "req-1"}, {ID: "req-2"}},
		ApplicationStatus: models.StatusNeedsInfo,
	}, nil)
	dbMock.ExpectBegin()
	dbMock.ExpectCommit()

	output, err := h.Execute(context.Background(), &Input{
		ApplicationID: "app-1",
		Message:       "Please upload two recent pay stubs.",
		Items: []requirements.RequestedItem{
			{Type: models.RequirementDocument, Name: "Pay stub", Required: true},
			{Type: models.RequirementDocument, Name: "Employer letter", DueInHours: 12},
		},
		Actor: "agent-7",
	})
	require.NoError(t, err)
	assert.True(t, output.OK)
	assert.Equal(t, "ir-1", output.InfoRequestID)
	assert.Equal(t, []string{"req-1", "req-2"}, output.ItemIDs)
	assert.Equal(t, "NEEDS_INFO", output.ApplicationStatus)
	require.NoError(t, dbMock.ExpectationsWereMet())
}

func TestHandler_Execute_BusinessFailureCommits(t *testing.T) {
	requests := new(mockInfoRequests)
	h, dbMock := createTestHandler(t, requests)

	requests.On("CreateInfoRequest", mock.Anything, mock.Anything, mock.Anything).
		Return(&requirements.Result{ErrorCode: errors.ErrCodeInvalidStatus, Message: "application is DRAFT"}, nil)
	dbMock.ExpectBegin()
	dbMock.ExpectCommit()

	output, err := h.Execute(context.Background(), &Input{ApplicationID: "app-1", Message: "x"})
	require.NoError(t, err)
	assert.False(t, output.OK)
	assert.Equal(t, "INVALID_STATUS", output.ErrorCode)
	require.NoError(t, dbMock.ExpectationsWereMet())
}

func TestHandler_Execute_StoreFailureRollsBack(t *testing.T) {
	requests := new(mockInfoRequests)
	h, dbMock := createTestHandler(t, requests)

	requests.On("CreateInfoRequest", mock.Anything, mock.Anything, mock.Anything).
		Return(nil, stderrors.New("insert info request: connection reset"))
	dbMock.ExpectBegin()
	dbMock.ExpectRollback()

	output, err := h.Execute(context.Background(), &Input{ApplicationID: "app-1", Message: "x"})
	require.Error(t, err)
	assert.Nil(t, output)
	require.NoError(t, dbMock.ExpectationsWereMet())
}
