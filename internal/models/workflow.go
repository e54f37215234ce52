// internal/models/workflow.go
package models

import (
	"encoding/json"
	"time"
)

// Unit intake modes.
const (
	IntakeLockOnSubmit = "LOCK_ON_SUBMIT"
	IntakeCapNSubmits  = "CAP_N_SUBMITS"
	IntakeOpen         = "OPEN"
)

// WorkflowConfig is a versioned policy document scoped by org and optionally
// property and jurisdiction.
type WorkflowConfig struct {
	ID               string          `json:"id"`
	OrgID            string          `json:"orgId"`
	PropertyID       *string         `json:"propertyId,omitempty"`
	JurisdictionCode *string         `json:"jurisdictionCode,omitempty"`
	Version          int             `json:"version"`
	Document         json.RawMessage `json:"document"`
	EffectiveAt      time.Time       `json:"effectiveAt"`
	ExpiresAt        *time.Time      `json:"expiresAt,omitempty"`

	// Policy is the decoded Document.
	Policy WorkflowPolicy `json:"-"`
}

// WorkflowPolicy is the decoded workflow config document. Zero values mean
// "not set" and are filled from engine defaults.
type WorkflowPolicy struct {
	UnitIntakeMode        string                `json:"unitIntakeMode,omitempty"`
	SubmitCap             int                   `json:"submitCap,omitempty"`
	SubmittedTTLHours     int                   `json:"submittedTtlHours,omitempty"`
	ScreeningLockTTLHours int                   `json:"screeningLockTtlHours,omitempty"`
	SoftHoldTTLHours      int                   `json:"softHoldTtlHours,omitempty"`
	ScreeningTimeoutHours int                   `json:"screeningTimeoutHours,omitempty"`
	RequiredCoApplicants  int                   `json:"requiredCoApplicants,omitempty"`
	MaxReminders          int                   `json:"maxReminders,omitempty"`
	ReminderIntervalHours int                   `json:"reminderIntervalHours,omitempty"`
	ApplicationFeeCents   int64                 `json:"applicationFeeCents,omitempty"`
	RequirementTemplates  []RequirementTemplate `json:"requirementTemplates,omitempty"`
}

// RequirementTemplate expands into RequirementItems at submit time.
type RequirementTemplate struct {
	ID                 string              `json:"id"`
	Type               RequirementType     `json:"type"`
	Name               string              `json:"name"`
	Required           bool                `json:"required"`
	PartyRoles         []PartyRole         `json:"partyRoles,omitempty"`
	RelocationStatuses []string            `json:"relocationStatuses,omitempty"`
	AlternativeSets    map[string][]string `json:"alternativeSets,omitempty"`
	DocumentType       string              `json:"documentType,omitempty"`
	DueInHours         int                 `json:"dueInHours,omitempty"`
}
