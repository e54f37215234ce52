// internal/workers/application/submit-application/models.go
package submitapplication

import "time"

type Input struct {
	ApplicationID string `json:"applicationId"`
	ConsentSigned bool   `json:"consentSigned"`
	Actor         string `json:"actor"`
}

// Output is merged into the process variables. OK is false when the
// submission was rejected for a business reason named by ErrorCode.
type Output struct {
	OK                  bool       `json:"ok"`
	ErrorCode           string     `json:"errorCode,omitempty"`
	Message             string     `json:"message,omitempty"`
	ApplicationStatus   string     `json:"applicationStatus,omitempty"`
	ExpiresAt           *time.Time `json:"expiresAt,omitempty"`
	RequirementCount    int        `json:"requirementCount"`
	HolderApplicationID string     `json:"holderApplicationId,omitempty"`
}
