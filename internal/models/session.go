// internal/models/session.go
package models

import (
	"encoding/json"
	"time"
)

// DraftSession is resumable, token-addressed scratch state for an applicant.
type DraftSession struct {
	ID             string          `json:"id"`
	ApplicationID  string          `json:"applicationId"`
	PartyID        *string         `json:"partyId,omitempty"`
	Token          string          `json:"token"`
	FormData       json.RawMessage `json:"formData"`
	Progress       json.RawMessage `json:"progress"`
	ExpiresAt      time.Time       `json:"expiresAt"`
	LastActivityAt time.Time       `json:"lastActivityAt"`
	CreatedAt      time.Time       `json:"createdAt"`
}

// IsExpired checks if the session has expired as of now.
func (s *DraftSession) IsExpired(now time.Time) bool {
	return !now.Before(s.ExpiresAt)
}

// UpdateActivity bumps the activity stamp used for latest-wins resume.
func (s *DraftSession) UpdateActivity(now time.Time) {
	s.LastActivityAt = now
}
