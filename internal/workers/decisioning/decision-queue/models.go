// internal/workers/decisioning/decision-queue/models.go
package decisionqueue

import "leasing-workers/internal/leasing/decisioning"

type Input struct {
	OrgID      string   `json:"orgId"`
	Statuses   []string `json:"statuses,omitempty"`
	Priorities []string `json:"priorities,omitempty"`
	PropertyID string   `json:"propertyId,omitempty"`
	Sort       string   `json:"sort,omitempty"`
	Limit      int      `json:"limit,omitempty"`
	Offset     int      `json:"offset,omitempty"`
}

// Entry is the compact queue row handed to the process.
type Entry struct {
	ApplicationID string `json:"applicationId"`
	Status        string `json:"status"`
	Priority      string `json:"priority"`
	NextAction    string `json:"nextAction"`
	SLA           string `json:"sla"`
}

type Output struct {
	Entries []Entry            `json:"queue"`
	Total   int                `json:"queueTotal"`
	Facets  decisioning.Facets `json:"queueFacets"`
}
