// internal/workers/application/draft-intake/handler_test.go
package draftintake

import (
	"context"
	"encoding/json"
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

type mockIntake struct {
	mock.Mock
}

func (m *mockIntake) StartDraft(ctx context.Context, in application.StartDraftInput) (*application.Result, error) {
	return resultOf(m.Called(ctx, in))
}

func (m *mockIntake) InviteParty(ctx context.Context, in application.InvitePartyInput) (*application.Result, error) {
	return resultOf(m.Called(ctx, in))
}

func (m *mockIntake) CompleteParty(ctx context.Context, in application.CompletePartyInput) (*application.Result, error) {
	return resultOf(m.Called(ctx, in))
}

func (m *mockIntake) SaveDraft(ctx context.Context, in application.SaveDraftInput) (*application.Result, error) {
	return resultOf(m.Called(ctx, in))
}

func (m *mockIntake) ResumeDraft(ctx context.Context, in application.ResumeDraftInput) (*application.Result, error) {
	return resultOf(m.Called(ctx, in))
}

func resultOf(args mock.Arguments) (*application.Result, error) {
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*application.Result), args.Error(1)
}

func createTestHandler(t *testing.T, machine Intake) *Handler {
	return NewHandler(&Config{Timeout: 5 * time.Second}, machine, logger.NewTestLogger(t))
}

func TestHandler_Execute_StartDraft(t *testing.T) {
	machine := new(mockIntake)
	expires := time.Date(2026, 6, 11, 12, 0, 0, 0, time.UTC)
	machine.On("StartDraft", mock.Anything, application.StartDraftInput{
		OrgID:      "org-1",
		PropertyID: "prop-1",
		UnitID:     "unit-1",
		Email:      "ana@example.com",
	}).Return(&application.Result{
		OK:          true,
		Application: &models.Application{ID: "app-1", Status: models.StatusDraft},
		Party:       &models.Party{ID: "party-1", Status: models.PartyInProgress},
		Session:     &models.DraftSession{ApplicationID: "app-1", Token: "tok-1", ExpiresAt: expires},
	}, nil)

	out, err := createTestHandler(t, machine).Execute(context.Background(), &Input{
		Action:  ActionStartDraft,
		Payload: json.RawMessage(`{"orgId":"org-1","propertyId":"prop-1","unitId":"unit-1","email":"ana@example.com"}`),
	})
	require.NoError(t, err)

	assert.True(t, out.OK)
	assert.Equal(t, "app-1", out.ApplicationID)
	assert.Equal(t, "DRAFT", out.ApplicationStatus)
	assert.Equal(t, "party-1", out.PartyID)
	assert.Equal(t, "tok-1", out.SessionToken)
	require.NotNil(t, out.SessionExpiresAt)
	assert.True(t, expires.Equal(*out.SessionExpiresAt))
	machine.AssertExpectations(t)
}

func TestHandler_Execute_CompletePartyBusinessFailure(t *testing.T) {
	machine := new(mockIntake)
	machine.On("CompleteParty", mock.Anything, application.CompletePartyInput{PartyID: "party-2"}).
		Return(&application.Result{OK: false, ErrorCode: errors.ErrCodeInvalidStatus, Message: "party is locked"}, nil)

	out, err := createTestHandler(t, machine).Execute(context.Background(), &Input{
		Action:  ActionCompleteParty,
		Payload: json.RawMessage(`{"partyId":"party-2"}`),
	})
	require.NoError(t, err)

	assert.False(t, out.OK)
	assert.Equal(t, string(errors.ErrCodeInvalidStatus), out.ErrorCode)
	machine.AssertExpectations(t)
}

func TestHandler_Execute_RejectsBadInput(t *testing.T) {
	machine := new(mockIntake)
	h := createTestHandler(t, machine)

	_, err := h.Execute(context.Background(), &Input{Action: "archive", Payload: json.RawMessage(`{}`)})
	require.Error(t, err)
	stdErr, ok := errors.AsStandardError(err)
	require.True(t, ok)
	assert.Equal(t, errors.ErrCodeInvalidInput, stdErr.Code)

	_, err = h.Execute(context.Background(), &Input{Action: ActionSaveDraft})
	require.Error(t, err)

	machine.AssertNotCalled(t, "SaveDraft", mock.Anything, mock.Anything)
}
