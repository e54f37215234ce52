package refund

import (
	"context"
	"fmt"
	"time"

	"leasing-workers/internal/common/database"
	"leasing-workers/internal/common/logger"
	"leasing-workers/internal/leasing/audit"
	"leasing-workers/internal/models"

	"github.com/google/uuid"
)

// Service loads refund policies and records refund requests.
type Service struct {
	trail  *audit.Trail
	logger logger.Logger
	now    func() time.Time
}

func NewService(trail *audit.Trail, log logger.Logger) *Service {
	return &Service{
		trail:  trail,
		logger: logger.Component(log, "refund"),
		now:    func() time.Time { return time.Now().UTC() },
	}
}

// Outcome pairs an evaluation with the request it produced, if any.
type Outcome struct {
	PaymentIntentID string                `json:"paymentIntentId"`
	Evaluation      Evaluation            `json:"evaluation"`
	Request         *models.RefundRequest `json:"refundRequest,omitempty"`
}

// LoadPolicies returns the org's active refund policies.
func (s *Service) LoadPolicies(ctx context.Context, db database.DBTX, orgID string) ([]models.RefundPolicy, error) {
	rows, err := db.QueryContext(ctx, `
		SELECT id, org_id, jurisdiction_code, payment_type, version, policy_type,
		       refund_percentage, refund_window_hours, is_active, effective_at, expires_at
		FROM refund_policies
		WHERE org_id = $1 AND is_active`, orgID)
	if err != nil {
		return nil, fmt.Errorf("load refund policies: %w", err)
	}
	defer rows.Close()

	var policies []models.RefundPolicy
	for rows.Next() {
		var (
			p          models.RefundPolicy
			policyType string
		)
		if err := rows.Scan(&p.ID, &p.OrgID, &p.JurisdictionCode, &p.PaymentType, &p.Version, &policyType,
			&p.RefundPercentage, &p.RefundWindowHours, &p.IsActive, &p.EffectiveAt, &p.ExpiresAt); err != nil {
			return nil, fmt.Errorf("scan refund policy: %w", err)
		}
		p.PolicyType = models.RefundPolicyType(policyType)
		policies = append(policies, p)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate refund policies: %w", err)
	}
	return policies, nil
}

// EvaluateIntents resolves a policy per intent, evaluates it and creates a
// PENDING refund request for every eligible one. Ineligible evaluations are
// audited with their reason code.
func (s *Service) EvaluateIntents(ctx context.Context, db database.DBTX, app *models.Application, intents []models.PaymentIntent, actor string) ([]Outcome, error) {
	if len(intents) == 0 {
		return nil, nil
	}

	policies, err := s.LoadPolicies(ctx, db, app.OrgID)
	if err != nil {
		return nil, err
	}

	asOf := s.now()
	outcomes := make([]Outcome, 0, len(intents))
	for i := range intents {
		intent := &intents[i]
		policy := PickActiveRefundPolicy(policies, PolicyQuery{
			OrgID:            app.OrgID,
			JurisdictionCode: app.Jurisdiction(),
			PaymentType:      intent.PaymentType,
			AsOf:             asOf,
		})
		eval := Evaluate(intent, policy, asOf)
		outcome := Outcome{PaymentIntentID: intent.ID, Evaluation: eval}

		if !eval.Eligible {
			if err := s.trail.Append(ctx, db, audit.ForApplication(app, audit.EventRefundIneligible, actor,
				"payment_intent", intent.ID, map[string]interface{}{
					"reasonCode":    eval.ReasonCode,
					"policyVersion": eval.PolicyVersion,
				})); err != nil {
				return nil, err
			}
			outcomes = append(outcomes, outcome)
			continue
		}

		req, err := s.createRequest(ctx, db, app, intent, eval, actor)
		if err != nil {
			return nil, err
		}
		outcome.Request = req
		outcomes = append(outcomes, outcome)
	}
	return outcomes, nil
}

func (s *Service) createRequest(ctx context.Context, db database.DBTX, app *models.Application, intent *models.PaymentIntent, eval Evaluation, actor string) (*models.RefundRequest, error) {
	now := s.now()
	req := &models.RefundRequest{
		ID:                  uuid.New().String(),
		OrgID:               app.OrgID,
		ApplicationID:       app.ID,
		PaymentIntentID:     intent.ID,
		PolicyID:            eval.PolicyID,
		PolicyVersion:       eval.PolicyVersion,
		ReasonCode:          eval.ReasonCode,
		EligibleAmountCents: eval.EligibleAmountCents,
		Status:              models.RefundRequestPending,
		RequestedBy:         actor,
		CreatedAt:           now,
		UpdatedAt:           now,
	}

	if _, err := db.ExecContext(ctx, `
		INSERT INTO refund_requests (
			id, org_id, application_id, payment_intent_id, policy_id, policy_version,
			reason_code, eligible_amount_cents, status, requested_by, created_at, updated_at
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $11)`,
		req.ID, req.OrgID, req.ApplicationID, req.PaymentIntentID, req.PolicyID, req.PolicyVersion,
		req.ReasonCode, req.EligibleAmountCents, string(req.Status), req.RequestedBy, now,
	); err != nil {
		return nil, fmt.Errorf("insert refund request: %w", err)
	}

	if err := s.trail.Append(ctx, db, audit.ForApplication(app, audit.EventRefundRequested, actor,
		"refund_request", req.ID, map[string]interface{}{
			"paymentIntentId":     intent.ID,
			"policyId":            *eval.PolicyID,
			"policyVersion":       *eval.PolicyVersion,
			"eligibleAmountCents": eval.EligibleAmountCents,
		})); err != nil {
		return nil, err
	}

	s.logger.Info("refund request created", map[string]interface{}{
		"applicationId":       app.ID,
		"paymentIntentId":     intent.ID,
		"eligibleAmountCents": eval.EligibleAmountCents,
	})
	return req, nil
}
