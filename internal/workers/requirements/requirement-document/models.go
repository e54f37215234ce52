// internal/workers/requirements/requirement-document/models.go
package requirementdocument

import "encoding/json"

const (
	ActionAttach  = "attachDocument"
	ActionVerify  = "verifyDocument"
	ActionWaive   = "waiveRequirement"
	ActionRespond = "respondInfoRequest"
)

type Input struct {
	Action  string          `json:"action"`
	Payload json.RawMessage `json:"payload"`
}

type Output struct {
	OK                bool   `json:"ok"`
	ErrorCode         string `json:"errorCode,omitempty"`
	Message           string `json:"message,omitempty"`
	DocumentID        string `json:"documentId,omitempty"`
	DocumentStatus    string `json:"documentStatus,omitempty"`
	RequirementItemID string `json:"requirementItemId,omitempty"`
	RequirementStatus string `json:"requirementStatus,omitempty"`
	InfoRequestID     string `json:"infoRequestId,omitempty"`
	InfoRequestStatus string `json:"infoRequestStatus,omitempty"`
	ApplicationStatus string `json:"applicationStatus,omitempty"`
}
