// internal/workers/application/decide-application/models.go
package decideapplication

import "time"

type Input struct {
	ApplicationID   string   `json:"applicationId"`
	Outcome         string   `json:"outcome"`
	IncomeFinding   *string  `json:"incomeFinding,omitempty"`
	CriminalFinding *string  `json:"criminalFinding,omitempty"`
	Conditions      []string `json:"conditions,omitempty"`
	Notes           *string  `json:"notes,omitempty"`
	DecidedBy       string   `json:"decidedBy"`
}

type Output struct {
	OK                  bool       `json:"ok"`
	ErrorCode           string     `json:"errorCode,omitempty"`
	Message             string     `json:"message,omitempty"`
	ApplicationStatus   string     `json:"applicationStatus,omitempty"`
	DecisionVersion     int        `json:"decisionVersion,omitempty"`
	Outcome             string     `json:"outcome,omitempty"`
	HolderApplicationID string     `json:"holderApplicationId,omitempty"`
	HolderExpiresAt     *time.Time `json:"expiresAt,omitempty"`
	ReleasedCount       int        `json:"releasedCount"`
}
