// internal/models/requirement.go
package models

import (
	"encoding/json"
	"time"
)

type RequirementType string

const (
	RequirementDocument     RequirementType = "DOCUMENT"
	RequirementScreening    RequirementType = "SCREENING"
	RequirementPayment      RequirementType = "PAYMENT"
	RequirementSignature    RequirementType = "SIGNATURE"
	RequirementVerification RequirementType = "VERIFICATION"
	RequirementCustom       RequirementType = "CUSTOM"
)

type RequirementStatus string

const (
	RequirementPending    RequirementStatus = "PENDING"
	RequirementInProgress RequirementStatus = "IN_PROGRESS"
	RequirementSubmitted  RequirementStatus = "SUBMITTED"
	RequirementApproved   RequirementStatus = "APPROVED"
	RequirementRejected   RequirementStatus = "REJECTED"
	RequirementWaived     RequirementStatus = "WAIVED"
	RequirementExpired    RequirementStatus = "EXPIRED"
)

// IsTerminal reports statuses that sweeps and waivers leave alone.
func (s RequirementStatus) IsTerminal() bool {
	return s == RequirementApproved || s == RequirementWaived || s == RequirementExpired
}

// RequirementItem is a unit of work scoped to an application and optionally a party.
type RequirementItem struct {
	ID            string              `json:"id"`
	ApplicationID string              `json:"applicationId"`
	PartyID       *string             `json:"partyId,omitempty"`
	InfoRequestID *string             `json:"infoRequestId,omitempty"`
	Type          RequirementType     `json:"type"`
	Name          string              `json:"name"`
	Status        RequirementStatus   `json:"status"`
	Required      bool                `json:"required"`
	DueAt         *time.Time          `json:"dueAt,omitempty"`
	Metadata      RequirementMetadata `json:"metadata"`
	CreatedAt     time.Time           `json:"createdAt"`
	UpdatedAt     time.Time           `json:"updatedAt"`
}

// Metadata kinds.
const (
	MetadataDocument  = "document"
	MetadataScreening = "screening"
	MetadataCustom    = "custom"
)

// RequirementMetadata is a tagged variant keyed by Kind. Only the fields of
// the active kind are populated; keys this type does not know about are
// kept in Extra and written back on marshal.
type RequirementMetadata struct {
	Kind             string `json:"kind"`
	SourceTemplateID string `json:"sourceTemplateId,omitempty"`

	// document
	DocumentType            string   `json:"documentType,omitempty"`
	AlternativeRequirements []string `json:"alternativeRequirements,omitempty"`

	// screening
	Provider      string `json:"provider,omitempty"`
	ScreeningType string `json:"screeningType,omitempty"`

	// custom
	Instructions string `json:"instructions,omitempty"`

	Extra map[string]json.RawMessage `json:"-"`
}

var knownMetadataKeys = map[string]struct{}{
	"kind": {}, "sourceTemplateId": {}, "documentType": {}, "alternativeRequirements": {},
	"provider": {}, "screeningType": {}, "instructions": {},
}

// MetadataKindFor picks the variant a requirement type carries.
func MetadataKindFor(t RequirementType) string {
	switch t {
	case RequirementDocument, RequirementVerification:
		return MetadataDocument
	case RequirementScreening:
		return MetadataScreening
	default:
		return MetadataCustom
	}
}

type requirementMetadataAlias RequirementMetadata

func (m RequirementMetadata) MarshalJSON() ([]byte, error) {
	known, err := json.Marshal(requirementMetadataAlias(m))
	if err != nil {
		return nil, err
	}
	if len(m.Extra) == 0 {
		return known, nil
	}

	merged := make(map[string]json.RawMessage, len(m.Extra)+4)
	for k, v := range m.Extra {
		merged[k] = v
	}
	var fields map[string]json.RawMessage
	if err := json.Unmarshal(known, &fields); err != nil {
		return nil, err
	}
	for k, v := range fields {
		merged[k] = v
	}
	return json.Marshal(merged)
}

func (m *RequirementMetadata) UnmarshalJSON(data []byte) error {
	var alias requirementMetadataAlias
	if err := json.Unmarshal(data, &alias); err != nil {
		return err
	}
	var raw map[string]json.RawMessage
	if err := json.Unmarshal(data, &raw); err != nil {
		return err
	}
	for k := range knownMetadataKeys {
		delete(raw, k)
	}
	*m = RequirementMetadata(alias)
	if len(raw) > 0 {
		m.Extra = raw
	}
	return nil
}

type DocumentStatus string

const (
	DocumentUploaded DocumentStatus = "UPLOADED"
	DocumentVerified DocumentStatus = "VERIFIED"
	DocumentRejected DocumentStatus = "REJECTED"
	DocumentExpired  DocumentStatus = "EXPIRED"
)

// Document is an uploaded artifact. Storage itself lives elsewhere; only the key is kept.
type Document struct {
	ID                string         `json:"id"`
	ApplicationID     string         `json:"applicationId"`
	PartyID           string         `json:"partyId"`
	RequirementItemID *string        `json:"requirementItemId,omitempty"`
	DocumentType      string         `json:"documentType"`
	StorageKey        string         `json:"storageKey"`
	Status            DocumentStatus `json:"status"`
	RejectionReason   *string        `json:"rejectionReason,omitempty"`
	VerifiedAt        *time.Time     `json:"verifiedAt,omitempty"`
	ExpiresAt         *time.Time     `json:"expiresAt,omitempty"`
	CreatedAt         time.Time      `json:"createdAt"`
	UpdatedAt         time.Time      `json:"updatedAt"`
}

type InfoRequestStatus string

const (
	InfoRequestOpen      InfoRequestStatus = "OPEN"
	InfoRequestResponded InfoRequestStatus = "RESPONDED"
)

// InfoRequest is an out-of-band ask for more material.
type InfoRequest struct {
	ID            string            `json:"id"`
	OrgID         string            `json:"orgId"`
	ApplicationID string            `json:"applicationId"`
	Status        InfoRequestStatus `json:"status"`
	Message       string            `json:"message"`
	UnlockScopes  []string          `json:"unlockScopes"`
	RequestedBy   string            `json:"requestedBy"`
	RespondedAt   *time.Time        `json:"respondedAt,omitempty"`
	CreatedAt     time.Time         `json:"createdAt"`
	UpdatedAt     time.Time         `json:"updatedAt"`
}
