// internal/workers/application/draft-intake/models.go
package draftintake

import (
	"encoding/json"
	"time"
)

// Actions accepted by the worker. The payload shape depends on the action.
const (
	ActionStartDraft    = "startDraft"
	ActionInviteParty   = "inviteParty"
	ActionCompleteParty = "completeParty"
	ActionSaveDraft     = "saveDraft"
	ActionResumeDraft   = "resumeDraft"
)

type Input struct {
	Action  string          `json:"action"`
	Payload json.RawMessage `json:"payload"`
}

type Output struct {
	OK                bool       `json:"ok"`
	ErrorCode         string     `json:"errorCode,omitempty"`
	Message           string     `json:"message,omitempty"`
	ApplicationID     string     `json:"applicationId,omitempty"`
	ApplicationStatus string     `json:"applicationStatus,omitempty"`
	PartyID           string     `json:"partyId,omitempty"`
	PartyStatus       string     `json:"partyStatus,omitempty"`
	SessionToken      string     `json:"sessionToken,omitempty"`
	SessionExpiresAt  *time.Time `json:"sessionExpiresAt,omitempty"`
	Deduplicated      bool       `json:"deduplicated,omitempty"`
}
