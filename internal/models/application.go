// internal/models/application.go
package models

import (
	"encoding/json"
	"time"
)

type ApplicationStatus string

const (
	StatusDraft      ApplicationStatus = "DRAFT"
	StatusSubmitted  ApplicationStatus = "SUBMITTED"
	StatusInReview   ApplicationStatus = "IN_REVIEW"
	StatusNeedsInfo  ApplicationStatus = "NEEDS_INFO"
	StatusDecisioned ApplicationStatus = "DECISIONED"
	StatusConverted  ApplicationStatus = "CONVERTED"
	StatusClosed     ApplicationStatus = "CLOSED"
)

// IsTerminal reports whether the engine refuses further mutations.
func (s ApplicationStatus) IsTerminal() bool {
	return s == StatusClosed || s == StatusConverted
}

// IsUnderReview covers the states from which a decision or info request is legal.
func (s ApplicationStatus) IsUnderReview() bool {
	return s == StatusSubmitted || s == StatusInReview || s == StatusNeedsInfo
}

type Priority string

const (
	PriorityStandard  Priority = "STANDARD"
	PriorityPriority  Priority = "PRIORITY"
	PriorityEmergency Priority = "EMERGENCY"
)

// Rank orders priority tiers; higher ranks are served first.
func (p Priority) Rank() int {
	switch p {
	case PriorityEmergency:
		return 3
	case PriorityPriority:
		return 2
	default:
		return 1
	}
}

// Valid reports whether p is a known tier.
func (p Priority) Valid() bool {
	return p == PriorityStandard || p == PriorityPriority || p == PriorityEmergency
}

const (
	ApplicationTypeIndividual = "INDIVIDUAL"
	ApplicationTypeJoint      = "JOINT"
)

const (
	ClosedReasonWithdrawn = "WITHDRAWN"
	ClosedReasonExpired   = "EXPIRED"
)

// Application is the aggregate root owned by the state machine.
type Application struct {
	ID                       string            `json:"id"`
	OrgID                    string            `json:"orgId"`
	PropertyID               string            `json:"propertyId"`
	UnitID                   string            `json:"unitId"`
	JurisdictionCode         *string           `json:"jurisdictionCode,omitempty"`
	Status                   ApplicationStatus `json:"status"`
	Priority                 Priority          `json:"priority"`
	ApplicationType          string            `json:"applicationType"`
	RelocationStatus         *string           `json:"relocationStatus,omitempty"`
	DuplicateCheckHash       string            `json:"duplicateCheckHash"`
	FeeStatus                *string           `json:"feeStatus,omitempty"`
	UnitAvailabilitySnapshot json.RawMessage   `json:"unitAvailabilitySnapshot,omitempty"`
	SubmittedAt              *time.Time        `json:"submittedAt,omitempty"`
	ExpiresAt                *time.Time        `json:"expiresAt,omitempty"`
	DecisionedAt             *time.Time        `json:"decisionedAt,omitempty"`
	ClosedAt                 *time.Time        `json:"closedAt,omitempty"`
	ClosedReason             *string           `json:"closedReason,omitempty"`
	CreatedAt                time.Time         `json:"createdAt"`
	UpdatedAt                time.Time         `json:"updatedAt"`
}

// Jurisdiction returns the jurisdiction code or "" when unset.
func (a *Application) Jurisdiction() string {
	if a.JurisdictionCode == nil {
		return ""
	}
	return *a.JurisdictionCode
}

// Relocation returns the relocation status or "" when unset.
func (a *Application) Relocation() string {
	if a.RelocationStatus == nil {
		return ""
	}
	return *a.RelocationStatus
}

// UnitAvailabilitySnapshot is captured on every submit attempt.
type UnitAvailabilitySnapshot struct {
	CheckedAt                time.Time `json:"checkedAt"`
	Available                bool      `json:"available"`
	ConflictingReservationID string    `json:"conflictingReservationId,omitempty"`
	ConflictingApplicationID string    `json:"conflictingApplicationId,omitempty"`
	ConflictingKind          string    `json:"conflictingKind,omitempty"`
}

type PartyRole string

const (
	RolePrimary     PartyRole = "PRIMARY"
	RoleCoApplicant PartyRole = "CO_APPLICANT"
	RoleOccupant    PartyRole = "OCCUPANT"
	RoleGuarantor   PartyRole = "GUARANTOR"
)

type PartyStatus string

const (
	PartyInProgress PartyStatus = "IN_PROGRESS"
	PartyInvited    PartyStatus = "INVITED"
	PartyComplete   PartyStatus = "COMPLETE"
	PartyLocked     PartyStatus = "LOCKED"
)

// Party is a person attached to an application.
type Party struct {
	ID             string      `json:"id"`
	ApplicationID  string      `json:"applicationId"`
	Role           PartyRole   `json:"role"`
	Status         PartyStatus `json:"status"`
	Email          string      `json:"email"`
	Phone          *string     `json:"phone,omitempty"`
	FirstName      *string     `json:"firstName,omitempty"`
	LastName       *string     `json:"lastName,omitempty"`
	InvitedAt      *time.Time  `json:"invitedAt,omitempty"`
	CompletedAt    *time.Time  `json:"completedAt,omitempty"`
	LastRemindedAt *time.Time  `json:"lastRemindedAt,omitempty"`
	CreatedAt      time.Time   `json:"createdAt"`
	UpdatedAt      time.Time   `json:"updatedAt"`
}
