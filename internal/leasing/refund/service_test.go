package refund

import (
	"context"
	"testing"
	"time"

	"leasing-workers/internal/common/logger"
	"leasing-workers/internal/leasing/audit"
	"leasing-workers/internal/models"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var policyColumns = []string{
	"id", "org_id", "jurisdiction_code", "payment_type", "version", "policy_type",
	"refund_percentage", "refund_window_hours", "is_active", "effective_at", "expires_at",
}

func newTestService(t *testing.T) *Service {
	log := logger.NewTestLogger(t)
	s := NewService(audit.NewTrail(log), log)
	s.now = func() time.Time { return asOf }
	return s
}

func TestService_EvaluateIntents_CreatesRequestForEligible(t *testing.T) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer db.Close()

	effective := asOf.Add(-90 * 24 * time.Hour)
	mock.ExpectQuery(`FROM refund_policies`).
		WithArgs("org-1").
		WillReturnRows(sqlmock.NewRows(policyColumns).
			AddRow("rp-v1", "org-1", nil, models.PaymentTypeApplicationFee, 1, "NO_REFUND", nil, nil, true, effective, nil).
			AddRow("rp-v2", "org-1", nil, models.PaymentTypeApplicationFee, 2, "FULL_REFUND", nil, 720, true, effective, nil))
	mock.ExpectExec(`INSERT INTO refund_requests`).
		WithArgs(sqlmock.AnyArg(), "org-1", "app-1", "pi-paid", "rp-v2", 2,
			ReasonFullRefund, int64(5000), "PENDING", "user-1", asOf).
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectExec(`INSERT INTO audit_events`).
		WithArgs(sqlmock.AnyArg(), "org-1", "app-1", audit.EventRefundRequested, "user-1",
			"refund_request", sqlmock.AnyArg(), sqlmock.AnyArg(), sqlmock.AnyArg()).
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectExec(`INSERT INTO audit_events`).
		WithArgs(sqlmock.AnyArg(), "org-1", "app-1", audit.EventRefundIneligible, "user-1",
			"payment_intent", "pi-failed", sqlmock.AnyArg(), sqlmock.AnyArg()).
		WillReturnResult(sqlmock.NewResult(0, 1))

	app := &models.Application{ID: "app-1", OrgID: "org-1"}
	intents := []models.PaymentIntent{
		*paidIntent(5000, 2*time.Hour),
		{ID: "pi-failed", PaymentType: models.PaymentTypeApplicationFee, Status: models.PaymentFailed, AmountCents: 5000},
	}
	intents[0].ID = "pi-paid"

	outcomes, err := newTestService(t).EvaluateIntents(context.Background(), db, app, intents, "user-1")
	require.NoError(t, err)
	require.Len(t, outcomes, 2)

	require.NotNil(t, outcomes[0].Request)
	assert.Equal(t, 2, *outcomes[0].Request.PolicyVersion)
	assert.Equal(t, int64(5000), outcomes[0].Request.EligibleAmountCents)

	assert.Nil(t, outcomes[1].Request)
	assert.Equal(t, ReasonPaymentNotSucceeded, outcomes[1].Evaluation.ReasonCode)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestService_EvaluateIntents_NoIntentsSkipsStore(t *testing.T) {
	outcomes, err := newTestService(t).EvaluateIntents(context.Background(), nil, &models.Application{}, nil, "user-1")
	require.NoError(t, err)
	assert.Empty(t, outcomes)
}

func TestService_LoadPolicies_ScansPercentage(t *testing.T) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer db.Close()

	mock.ExpectQuery(`FROM refund_policies`).
		WillReturnRows(sqlmock.NewRows(policyColumns).
			AddRow("rp-1", "org-1", "CA", nil, 3, "PARTIAL_REFUND", "37.50", 48, true, asOf, nil))

	policies, err := newTestService(t).LoadPolicies(context.Background(), db, "org-1")
	require.NoError(t, err)
	require.Len(t, policies, 1)
	assert.True(t, policies[0].RefundPercentage.Valid)
	assert.Equal(t, "37.5", policies[0].RefundPercentage.Decimal.String())
	assert.Equal(t, 48, *policies[0].RefundWindowHours)
	assert.Nil(t, policies[0].PaymentType)
}
