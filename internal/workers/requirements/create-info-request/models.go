// internal/workers/requirements/create-info-request/models.go
package createinforequest

import "leasing-workers/internal/leasing/requirements"

type Input struct {
	ApplicationID string                       `json:"applicationId"`
	Message       string                       `json:"message"`
	UnlockScopes  []string                     `json:"unlockScopes,omitempty"`
	Items         []requirements.RequestedItem `json:"items,omitempty"`
	Actor         string                       `json:"actor"`
}

type Output struct {
	OK                bool     `json:"ok"`
	ErrorCode         string   `json:"errorCode,omitempty"`
	Message           string   `json:"message,omitempty"`
	InfoRequestID     string   `json:"infoRequestId,omitempty"`
	ItemIDs           []string `json:"requirementItemIds,omitempty"`
	ApplicationStatus string   `json:"applicationStatus,omitempty"`
}
