// internal/workers/application/submit-application/handler_test.go
package submitapplication

import (
	"context"
	stderrors "errors"
	"testing"
	"time"

	"leasing-workers/internal/common/errors"
	"leasing-workers/internal/common/logger"
	"leasing-workers/internal/leasing/application"
	"leasing-workers/internal/models"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
)

type mockSubmitter struct {
	mock.Mock
}

func (m *mockSubmitter) Submit(ctx context.Context, in application.SubmitInput) (*application.Result, error) {
	args := m.Called(ctx, in)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*application.Result), args.Error(1)
}

func createTestHandler(t *testing.T, machine Submitter) *Handler {
	return NewHandler(&Config{Timeout: 5 * time.Second}, machine, logger.NewTestLogger(t))
}

func TestHandler_Execute_Submitted(t *testing.T) {
	machine := new(mockSubmitter)
	expires := time.Date(2026, 6, 4, 12, 0, 0, 0, time.UTC)
	machine.On("Submit", mock.Anything, application.SubmitInput{
		ApplicationID: "app-1", ConsentSigned: true, Actor: "applicant-1",
	}).Return(&application.Result{
		OK:           true,
		Application:  &models.Application{ID: "app-1", Status: models.StatusSubmitted, ExpiresAt: &expires},
		Requirements: make([]models.RequirementItem, 3),
	}, nil)

	output, err := createTestHandler(t, machine).Execute(context.Background(), &Input{
		ApplicationID: "app-1", ConsentSigned: true, Actor: "applicant-1",
	})
	require.NoError(t, err)
	assert.True(t, output.OK)
	assert.Equal(t, "SUBMITTED", output.ApplicationStatus)
	assert.Equal(t, &expires, output.ExpiresAt)
	assert.Equal(t, 3, output.RequirementCount)
	machine.AssertExpectations(t)
}

func TestHandler_Execute_BusinessRejectionCompletes(t *testing.T) {
	machine := new(mockSubmitter)
	holderExpiry := time.Date(2026, 6, 5, 12, 0, 0, 0, time.UTC)
	machine.On("Submit", mock.Anything, mock.Anything).Return(&application.Result{
		ErrorCode:           errors.ErrCodeReservationConflict,
		Message:             "unit is locked by another application",
		HolderApplicationID: "app-9",
		HolderExpiresAt:     &holderExpiry,
		Application:         &models.Application{ID: "app-1", Status: models.StatusDraft},
	}, nil)

	output, err := createTestHandler(t, machine).Execute(context.Background(), &Input{ApplicationID: "app-1"})
	require.NoError(t, err)
	assert.False(t, output.OK)
	assert.Equal(t, "RESERVATION_CONFLICT", output.ErrorCode)
	assert.Equal(t, "app-9", output.HolderApplicationID)
	require.NotNil(t, output.ExpiresAt)
	assert.True(t, holderExpiry.Equal(*output.ExpiresAt))
	assert.Equal(t, "DRAFT", output.ApplicationStatus)
}

func TestHandler_Execute_PropagatesErrors(t *testing.T) {
	machine := new(mockSubmitter)
	machine.On("Submit", mock.Anything, mock.Anything).
		Return(nil, errors.NewQueryExecutionFailedError("submit", stderrors.New("connection reset")))

	output, err := createTestHandler(t, machine).Execute(context.Background(), &Input{ApplicationID: "app-1"})
	require.Error(t, err)
	assert.Nil(t, output)
}
