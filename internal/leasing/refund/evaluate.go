// Package refund decides whether a payment is refundable under a policy and
// records refund requests for the eligible ones.
package refund

import (
	"time"

	"leasing-workers/internal/leasing/configresolver"
	"leasing-workers/internal/models"

	"github.com/shopspring/decimal"
)

// Reason codes, one per branch of Evaluate.
const (
	ReasonNoPolicy            = "NO_POLICY"
	ReasonPolicyInactive      = "POLICY_INACTIVE"
	ReasonPolicyNotEffective  = "POLICY_NOT_EFFECTIVE"
	ReasonPaymentNotSucceeded = "PAYMENT_NOT_SUCCEEDED"
	ReasonPaymentNotPaid      = "PAYMENT_NOT_PAID"
	ReasonOutsideWindow       = "OUTSIDE_REFUND_WINDOW"
	ReasonPolicyNoRefund      = "POLICY_NO_REFUND"
	ReasonMissingPercentage   = "MISSING_REFUND_PERCENTAGE"
	ReasonFullRefund          = "FULL_REFUND"
	ReasonPartialRefund       = "PARTIAL_REFUND"
	ReasonTimeBased           = "TIME_BASED"
	ReasonUnknownPolicyType   = "UNKNOWN_POLICY_TYPE"
)

// Evaluation is the decision for one payment.
type Evaluation struct {
	Eligible            bool    `json:"eligible"`
	ReasonCode          string  `json:"reasonCode"`
	PolicyID            *string `json:"policyId,omitempty"`
	PolicyVersion       *int    `json:"policyVersion,omitempty"`
	EligibleAmountCents int64   `json:"eligibleAmountCents"`
}

// Evaluate is a pure decision over intent and policy at asOf. The first
// failing check decides the reason code.
func Evaluate(intent *models.PaymentIntent, policy *models.RefundPolicy, asOf time.Time) Evaluation {
	if policy == nil {
		return Evaluation{ReasonCode: ReasonNoPolicy}
	}

	id, version := policy.ID, policy.Version
	out := Evaluation{PolicyID: &id, PolicyVersion: &version}
	ineligible := func(reason string) Evaluation {
		out.ReasonCode = reason
		return out
	}

	switch {
	case !policy.IsActive:
		return ineligible(ReasonPolicyInactive)
	case !configresolver.InWindow(policy.EffectiveAt, policy.ExpiresAt, asOf):
		return ineligible(ReasonPolicyNotEffective)
	case intent.Status != models.PaymentSucceeded:
		return ineligible(ReasonPaymentNotSucceeded)
	case intent.PaidAt == nil:
		return ineligible(ReasonPaymentNotPaid)
	case policy.RefundWindowHours != nil &&
		asOf.Sub(*intent.PaidAt) > time.Duration(*policy.RefundWindowHours)*time.Hour:
		return ineligible(ReasonOutsideWindow)
	}

	switch policy.PolicyType {
	case models.RefundNone:
		return ineligible(ReasonPolicyNoRefund)

	case models.RefundFull:
		out.Eligible = true
		out.ReasonCode = ReasonFullRefund
		out.EligibleAmountCents = intent.AmountCents
		return out

	case models.RefundPartial, models.RefundTimeBased:
		if !policy.RefundPercentage.Valid || policy.RefundPercentage.Decimal.IsZero() {
			return ineligible(ReasonMissingPercentage)
		}
		amount := PercentageOf(intent.AmountCents, policy.RefundPercentage.Decimal)
		if amount <= 0 {
			return ineligible(ReasonMissingPercentage)
		}
		out.Eligible = true
		out.EligibleAmountCents = amount
		if policy.PolicyType == models.RefundTimeBased {
			out.ReasonCode = ReasonTimeBased
		} else {
			out.ReasonCode = ReasonPartialRefund
		}
		return out
	}

	return ineligible(ReasonUnknownPolicyType)
}

// PercentageOf returns floor(amountCents * pct / 100).
func PercentageOf(amountCents int64, pct decimal.Decimal) int64 {
	return decimal.NewFromInt(amountCents).Mul(pct).Shift(-2).Floor().IntPart()
}

// PolicyQuery scopes refund policy selection.
type PolicyQuery struct {
	OrgID            string
	JurisdictionCode string
	PaymentType      string
	AsOf             time.Time
}

// PickActiveRefundPolicy selects the active, in-window policy for q:
//
//  1. payment type and jurisdiction both match
//  2. payment type matches, jurisdiction null
//  3. payment type null, a jurisdiction match preferred over null
//
// Ties break like workflow configs: version, effective time, id.
func PickActiveRefundPolicy(policies []models.RefundPolicy, q PolicyQuery) *models.RefundPolicy {
	var tiers [4]*models.RefundPolicy

	for i := range policies {
		p := &policies[i]
		if p.OrgID != q.OrgID || !p.IsActive || !configresolver.InWindow(p.EffectiveAt, p.ExpiresAt, q.AsOf) {
			continue
		}

		payType := deref(p.PaymentType)
		jur := deref(p.JurisdictionCode)
		jurMatch := jur != "" && jur == q.JurisdictionCode

		tier := -1
		switch {
		case payType != "" && payType == q.PaymentType && jurMatch:
			tier = 0
		case payType != "" && payType == q.PaymentType && jur == "":
			tier = 1
		case payType == "" && jurMatch:
			tier = 2
		case payType == "" && jur == "":
			tier = 3
		}
		if tier < 0 {
			continue
		}
		if tiers[tier] == nil || rankOf(p).Before(rankOf(tiers[tier])) {
			tiers[tier] = p
		}
	}

	for _, p := range tiers {
		if p != nil {
			return p
		}
	}
	return nil
}

func rankOf(p *models.RefundPolicy) configresolver.Rank {
	return configresolver.Rank{Version: p.Version, EffectiveAt: p.EffectiveAt, ID: p.ID}
}

func deref(s *string) string {
	if s == nil {
		return ""
	}
	return *s
}
