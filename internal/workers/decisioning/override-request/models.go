// internal/workers/decisioning/override-request/models.go
package overriderequest

const (
	ActionRequest = "request"
	ActionResolve = "resolve"
)

type Input struct {
	Action string `json:"action"`

	ApplicationID  string `json:"applicationId,omitempty"`
	Kind           string `json:"kind,omitempty"`
	RequestedValue string `json:"requestedValue,omitempty"`
	Reason         string `json:"reason,omitempty"`

	OverrideID string `json:"overrideId,omitempty"`
	Approve    bool   `json:"approve,omitempty"`

	Actor string `json:"actor"`
}

type Output struct {
	OK              bool   `json:"ok"`
	ErrorCode       string `json:"errorCode,omitempty"`
	Message         string `json:"message,omitempty"`
	OverrideID      string `json:"overrideId,omitempty"`
	OverrideStatus  string `json:"overrideStatus,omitempty"`
	Priority        string `json:"priority,omitempty"`
	DecisionVersion int    `json:"decisionVersion,omitempty"`
}
