// internal/models/decision.go
package models

import (
	"encoding/json"
	"time"
)

type DecisionOutcome string

const (
	OutcomeApproved               DecisionOutcome = "APPROVED"
	OutcomeApprovedWithConditions DecisionOutcome = "APPROVED_WITH_CONDITIONS"
	OutcomeConditional            DecisionOutcome = "CONDITIONAL"
	OutcomeDenied                 DecisionOutcome = "DENIED"
	OutcomeWithdrawn              DecisionOutcome = "WITHDRAWN"
)

// IsApproving reports outcomes that claim the unit.
func (o DecisionOutcome) IsApproving() bool {
	return o == OutcomeApproved || o == OutcomeApprovedWithConditions || o == OutcomeConditional
}

// Valid reports whether o is a known outcome.
func (o DecisionOutcome) Valid() bool {
	switch o {
	case OutcomeApproved, OutcomeApprovedWithConditions, OutcomeConditional, OutcomeDenied, OutcomeWithdrawn:
		return true
	}
	return false
}

// DecisionRecord is append-only; overrides add a new version.
type DecisionRecord struct {
	ID                string          `json:"id"`
	ApplicationID     string          `json:"applicationId"`
	Version           int             `json:"version"`
	Outcome           DecisionOutcome `json:"outcome"`
	IncomeFinding     *string         `json:"incomeFinding,omitempty"`
	CriminalFinding   *string         `json:"criminalFinding,omitempty"`
	Conditions        []string        `json:"conditions"`
	Notes             *string         `json:"notes,omitempty"`
	OverrideRequestID *string         `json:"overrideRequestId,omitempty"`
	DecidedBy         string          `json:"decidedBy"`
	CreatedAt         time.Time       `json:"createdAt"`
}

type OverrideKind string

const (
	OverridePriority OverrideKind = "PRIORITY"
	OverrideDecision OverrideKind = "DECISION"
)

type OverrideStatus string

const (
	OverridePending  OverrideStatus = "PENDING"
	OverrideApproved OverrideStatus = "APPROVED"
	OverrideDenied   OverrideStatus = "DENIED"
)

// OverrideRequest asks to change priority or a decision outcome.
type OverrideRequest struct {
	ID             string          `json:"id"`
	OrgID          string          `json:"orgId"`
	ApplicationID  string          `json:"applicationId"`
	Kind           OverrideKind    `json:"kind"`
	Status         OverrideStatus  `json:"status"`
	RequestedValue string          `json:"requestedValue"`
	Reason         string          `json:"reason"`
	BeforeSnapshot json.RawMessage `json:"beforeSnapshot"`
	AfterSnapshot  json.RawMessage `json:"afterSnapshot,omitempty"`
	RequestedBy    string          `json:"requestedBy"`
	ResolvedBy     *string         `json:"resolvedBy,omitempty"`
	ResolvedAt     *time.Time      `json:"resolvedAt,omitempty"`
	CreatedAt      time.Time       `json:"createdAt"`
	UpdatedAt      time.Time       `json:"updatedAt"`
}
