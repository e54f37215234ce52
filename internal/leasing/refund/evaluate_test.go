package refund

import (
	"math"
	"testing"
	"time"

	"leasing-workers/internal/models"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var asOf = time.Date(2026, 5, 20, 12, 0, 0, 0, time.UTC)

func intPtr(i int) *int { return &i }

func strPtr(s string) *string { return &s }

func timePtr(t time.Time) *time.Time { return &t }

func paidIntent(amount int64, paidAgo time.Duration) *models.PaymentIntent {
	return &models.PaymentIntent{
		ID:          "pi-1",
		PaymentType: models.PaymentTypeApplicationFee,
		Status:      models.PaymentSucceeded,
		AmountCents: amount,
		PaidAt:      timePtr(asOf.Add(-paidAgo)),
	}
}

func policy(policyType models.RefundPolicyType) *models.RefundPolicy {
	return &models.RefundPolicy{
		ID:          "rp-1",
		OrgID:       "org-1",
		Version:     2,
		PolicyType:  policyType,
		IsActive:    true,
		EffectiveAt: asOf.Add(-30 * 24 * time.Hour),
	}
}

func withPct(p *models.RefundPolicy, pct string) *models.RefundPolicy {
	p.RefundPercentage = decimal.NullDecimal{Decimal: decimal.RequireFromString(pct), Valid: true}
	return p
}

func TestEvaluate_DecisionTree(t *testing.T) {
	tests := []struct {
		name     string
		intent   *models.PaymentIntent
		policy   *models.RefundPolicy
		eligible bool
		reason   string
		amount   int64
	}{
		{name: "no policy", intent: paidIntent(5000, time.Hour), reason: ReasonNoPolicy},
		{
			name:   "inactive",
			intent: paidIntent(5000, time.Hour),
			policy: func() *models.RefundPolicy { p := policy(models.RefundFull); p.IsActive = false; return p }(),
			reason: ReasonPolicyInactive,
		},
		{
			name:   "not yet effective",
			intent: paidIntent(5000, time.Hour),
			policy: func() *models.RefundPolicy { p := policy(models.RefundFull); p.EffectiveAt = asOf.Add(time.Hour); return p }(),
			reason: ReasonPolicyNotEffective,
		},
		{
			name:   "no longer effective",
			intent: paidIntent(5000, time.Hour),
			policy: func() *models.RefundPolicy { p := policy(models.RefundFull); p.ExpiresAt = timePtr(asOf); return p }(),
			reason: ReasonPolicyNotEffective,
		},
		{
			name:   "payment failed",
			intent: func() *models.PaymentIntent { i := paidIntent(5000, time.Hour); i.Status = models.PaymentFailed; return i }(),
			policy: policy(models.RefundFull),
			reason: ReasonPaymentNotSucceeded,
		},
		{
			name:   "succeeded without paid timestamp",
			intent: func() *models.PaymentIntent { i := paidIntent(5000, time.Hour); i.PaidAt = nil; return i }(),
			policy: policy(models.RefundFull),
			reason: ReasonPaymentNotPaid,
		},
		{
			name:   "outside window",
			intent: paidIntent(5000, 73*time.Hour),
			policy: func() *models.RefundPolicy { p := policy(models.RefundFull); p.RefundWindowHours = intPtr(72); return p }(),
			reason: ReasonOutsideWindow,
		},
		{
			name:     "exactly at window edge",
			intent:   paidIntent(5000, 72*time.Hour),
			policy:   func() *models.RefundPolicy { p := policy(models.RefundFull); p.RefundWindowHours = intPtr(72); return p }(),
			eligible: true,
			reason:   ReasonFullRefund,
			amount:   5000,
		},
		{name: "no refund policy", intent: paidIntent(5000, time.Hour), policy: policy(models.RefundNone), reason: ReasonPolicyNoRefund},
		{name: "full refund", intent: paidIntent(5000, time.Hour), policy: policy(models.RefundFull), eligible: true, reason: ReasonFullRefund, amount: 5000},
		{
			name:     "partial floors",
			intent:   paidIntent(3333, time.Hour),
			policy:   withPct(policy(models.RefundPartial), "50"),
			eligible: true,
			reason:   ReasonPartialRefund,
			amount:   1666,
		},
		{
			name:     "time based uses percentage",
			intent:   paidIntent(10000, time.Hour),
			policy:   withPct(policy(models.RefundTimeBased), "12.5"),
			eligible: true,
			reason:   ReasonTimeBased,
			amount:   1250,
		},
		{name: "partial missing percentage", intent: paidIntent(5000, time.Hour), policy: policy(models.RefundPartial), reason: ReasonMissingPercentage},
		{name: "partial zero percentage", intent: paidIntent(5000, time.Hour), policy: withPct(policy(models.RefundPartial), "0"), reason: ReasonMissingPercentage},
		{name: "partial rounds to zero", intent: paidIntent(1, time.Hour), policy: withPct(policy(models.RefundPartial), "50"), reason: ReasonMissingPercentage},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := Evaluate(tt.intent, tt.policy, asOf)
			assert.Equal(t, tt.eligible, got.Eligible)
			assert.Equal(t, tt.reason, got.ReasonCode)
			assert.Equal(t, tt.amount, got.EligibleAmountCents)
			if tt.policy != nil {
				require.NotNil(t, got.PolicyVersion)
				assert.Equal(t, tt.policy.Version, *got.PolicyVersion)
			}
		})
	}
}

func TestEvaluate_PartialRefundNeverBelowFloor(t *testing.T) {
	amounts := []int64{1, 2, 3, 99, 100, 101, 1999, 5000, 12345, 999999}
	percentages := []string{"0.5", "1", "10", "33.33", "50", "66.67", "99.99", "100"}

	for _, amount := range amounts {
		for _, pct := range percentages {
			got := Evaluate(paidIntent(amount, time.Hour), withPct(policy(models.RefundPartial), pct), asOf)

			p, _ := decimal.RequireFromString(pct).Float64()
			want := int64(math.Floor(float64(amount) * p / 100))
			// Float reference is only trusted away from integer boundaries.
			if frac := float64(amount)*p/100 - float64(want); frac > 1e-6 && frac < 1-1e-6 {
				assert.Equal(t, want, got.EligibleAmountCents, "amount=%d pct=%s", amount, pct)
			}
			assert.Equal(t, PercentageOf(amount, decimal.RequireFromString(pct)), got.EligibleAmountCents)
			assert.Equal(t, got.EligibleAmountCents > 0, got.Eligible, "amount=%d pct=%s", amount, pct)
		}
	}
}

func TestPercentageOf_Exact(t *testing.T) {
	assert.Equal(t, int64(3333), PercentageOf(9999, decimal.RequireFromString("33.34")))
	assert.Equal(t, int64(5000), PercentageOf(5000, decimal.NewFromInt(100)))
	assert.Equal(t, int64(0), PercentageOf(99, decimal.RequireFromString("1")))
}

func TestPickActiveRefundPolicy(t *testing.T) {
	base := asOf.Add(-24 * time.Hour)
	mk := func(id, payType, jur string, version int) models.RefundPolicy {
		p := models.RefundPolicy{ID: id, OrgID: "org-1", Version: version, PolicyType: models.RefundFull, IsActive: true, EffectiveAt: base}
		if payType != "" {
			p.PaymentType = strPtr(payType)
		}
		if jur != "" {
			p.JurisdictionCode = strPtr(jur)
		}
		return p
	}
	q := PolicyQuery{OrgID: "org-1", JurisdictionCode: "CA", PaymentType: models.PaymentTypeApplicationFee, AsOf: asOf}

	tests := []struct {
		name     string
		policies []models.RefundPolicy
		wantID   string
	}{
		{
			name: "type and jurisdiction match wins",
			policies: []models.RefundPolicy{
				mk("generic", "", "", 9),
				mk("type-only", models.PaymentTypeApplicationFee, "", 9),
				mk("exact", models.PaymentTypeApplicationFee, "CA", 1),
			},
			wantID: "exact",
		},
		{
			name: "type with null jurisdiction beats untyped",
			policies: []models.RefundPolicy{
				mk("generic-ca", "", "CA", 9),
				mk("type-only", models.PaymentTypeApplicationFee, "", 1),
			},
			wantID: "type-only",
		},
		{
			name: "untyped prefers jurisdiction match",
			policies: []models.RefundPolicy{
				mk("generic", "", "", 9),
				mk("generic-ca", "", "CA", 1),
			},
			wantID: "generic-ca",
		},
		{
			name: "other payment type and jurisdiction ignored",
			policies: []models.RefundPolicy{
				mk("deposit", "SECURITY_DEPOSIT", "", 9),
				mk("generic-ny", "", "NY", 9),
				mk("generic", "", "", 1),
			},
			wantID: "generic",
		},
		{
			name: "version tie-break",
			policies: []models.RefundPolicy{
				mk("v1", models.PaymentTypeApplicationFee, "CA", 1),
				mk("v2", models.PaymentTypeApplicationFee, "CA", 2),
			},
			wantID: "v2",
		},
		{
			name: "inactive skipped",
			policies: []models.RefundPolicy{
				func() models.RefundPolicy { p := mk("off", models.PaymentTypeApplicationFee, "CA", 5); p.IsActive = false; return p }(),
			},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := PickActiveRefundPolicy(tt.policies, q)
			if tt.wantID == "" {
				assert.Nil(t, got)
				return
			}
			require.NotNil(t, got)
			assert.Equal(t, tt.wantID, got.ID)
		})
	}
}
