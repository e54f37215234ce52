// internal/workers/application/transition-application/models.go
package transitionapplication

// Actions accepted by the worker.
const (
	ActionStartReview  = "startReview"
	ActionWithdraw     = "withdraw"
	ActionConvert      = "convert"
	ActionCloseExpired = "closeExpired"
)

type Input struct {
	ApplicationID string `json:"applicationId"`
	Action        string `json:"action"`
	Actor         string `json:"actor"`
}

type Output struct {
	OK                bool     `json:"ok"`
	ErrorCode         string   `json:"errorCode,omitempty"`
	Message           string   `json:"message,omitempty"`
	ApplicationStatus string   `json:"applicationStatus,omitempty"`
	ClosedReason      string   `json:"closedReason,omitempty"`
	ReleasedCount     int      `json:"releasedCount"`
	RefundRequestIDs  []string `json:"refundRequestIds,omitempty"`
}
