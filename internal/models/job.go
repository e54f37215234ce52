// internal/models/job.go
package models

import "time"

type JobRunStatus string

const (
	JobRunStarted JobRunStatus = "STARTED"
	JobRunSuccess JobRunStatus = "SUCCESS"
	JobRunFailed  JobRunStatus = "FAILED"
)

// JobRun is the idempotency record for one sweep action on one target.
type JobRun struct {
	ID             string       `json:"id"`
	JobKey         string       `json:"jobKey"`
	TargetID       string       `json:"targetId"`
	IdempotencyKey string       `json:"idempotencyKey"`
	Status         JobRunStatus `json:"status"`
	Error          *string      `json:"error,omitempty"`
	StartedAt      time.Time    `json:"startedAt"`
	FinishedAt     *time.Time   `json:"finishedAt,omitempty"`
}

// AuditEvent is an append-only record of a state change.
type AuditEvent struct {
	ID            string                 `json:"id"`
	OrgID         string                 `json:"orgId"`
	ApplicationID *string                `json:"applicationId,omitempty"`
	EventType     string                 `json:"eventType"`
	Actor         string                 `json:"actor"`
	TargetType    string                 `json:"targetType"`
	TargetID      string                 `json:"targetId"`
	Metadata      map[string]interface{} `json:"metadata"`
	CreatedAt     time.Time              `json:"createdAt"`
}
