// internal/models/payment.go
package models

import (
	"encoding/json"
	"time"

	"github.com/shopspring/decimal"
)

type PaymentStatus string

const (
	PaymentRequiresAction PaymentStatus = "REQUIRES_ACTION"
	PaymentProcessing     PaymentStatus = "PROCESSING"
	PaymentSucceeded      PaymentStatus = "SUCCEEDED"
	PaymentFailed         PaymentStatus = "FAILED"
)

// InFlight reports whether the provider still owes an outcome.
func (s PaymentStatus) InFlight() bool {
	return s == PaymentRequiresAction || s == PaymentProcessing
}

const PaymentTypeApplicationFee = "APPLICATION_FEE"

// PaymentIntent is the logical payment for one (application, payment type).
type PaymentIntent struct {
	ID                 string        `json:"id"`
	OrgID              string        `json:"orgId"`
	ApplicationID      string        `json:"applicationId"`
	PaymentType        string        `json:"paymentType"`
	Status             PaymentStatus `json:"status"`
	AmountCents        int64         `json:"amountCents"`
	Currency           string        `json:"currency"`
	Provider           string        `json:"provider"`
	ProviderReference  *string       `json:"providerReference,omitempty"`
	ClientSecret       *string       `json:"clientSecret,omitempty"`
	AttemptsCount      int           `json:"attemptsCount"`
	LastFailureCode    *string       `json:"lastFailureCode,omitempty"`
	LastFailureMessage *string       `json:"lastFailureMessage,omitempty"`
	PaidAt             *time.Time    `json:"paidAt,omitempty"`
	CreatedAt          time.Time     `json:"createdAt"`
	UpdatedAt          time.Time     `json:"updatedAt"`
}

// PaymentAttempt is one provider round trip for an intent.
type PaymentAttempt struct {
	ID               string          `json:"id"`
	PaymentIntentID  string          `json:"paymentIntentId"`
	AttemptNumber    int             `json:"attemptNumber"`
	Status           PaymentStatus   `json:"status"`
	ProviderRequest  json.RawMessage `json:"providerRequest,omitempty"`
	ProviderResponse json.RawMessage `json:"providerResponse,omitempty"`
	FailureCode      *string         `json:"failureCode,omitempty"`
	FailureMessage   *string         `json:"failureMessage,omitempty"`
	CreatedAt        time.Time       `json:"createdAt"`
	UpdatedAt        time.Time       `json:"updatedAt"`
}

type RefundPolicyType string

const (
	RefundNone      RefundPolicyType = "NO_REFUND"
	RefundFull      RefundPolicyType = "FULL_REFUND"
	RefundPartial   RefundPolicyType = "PARTIAL_REFUND"
	RefundTimeBased RefundPolicyType = "TIME_BASED"
)

// RefundPolicy is versioned and scoped by org, jurisdiction and payment type.
type RefundPolicy struct {
	ID                string              `json:"id"`
	OrgID             string              `json:"orgId"`
	JurisdictionCode  *string             `json:"jurisdictionCode,omitempty"`
	PaymentType       *string             `json:"paymentType,omitempty"`
	Version           int                 `json:"version"`
	PolicyType        RefundPolicyType    `json:"policyType"`
	RefundPercentage  decimal.NullDecimal `json:"refundPercentage"`
	RefundWindowHours *int                `json:"refundWindowHours,omitempty"`
	IsActive          bool                `json:"isActive"`
	EffectiveAt       time.Time           `json:"effectiveAt"`
	ExpiresAt         *time.Time          `json:"expiresAt,omitempty"`
}

type RefundRequestStatus string

const (
	RefundRequestPending   RefundRequestStatus = "PENDING"
	RefundRequestApproved  RefundRequestStatus = "APPROVED"
	RefundRequestDenied    RefundRequestStatus = "DENIED"
	RefundRequestProcessed RefundRequestStatus = "PROCESSED"
	RefundRequestFailed    RefundRequestStatus = "FAILED"
)

// RefundRequest snapshots the eligibility decision that produced it.
type RefundRequest struct {
	ID                  string              `json:"id"`
	OrgID               string              `json:"orgId"`
	ApplicationID       string              `json:"applicationId"`
	PaymentIntentID     string              `json:"paymentIntentId"`
	PolicyID            *string             `json:"policyId,omitempty"`
	PolicyVersion       *int                `json:"policyVersion,omitempty"`
	ReasonCode          string              `json:"reasonCode"`
	EligibleAmountCents int64               `json:"eligibleAmountCents"`
	Status              RefundRequestStatus `json:"status"`
	RequestedBy         string              `json:"requestedBy"`
	CreatedAt           time.Time           `json:"createdAt"`
	UpdatedAt           time.Time           `json:"updatedAt"`
}
