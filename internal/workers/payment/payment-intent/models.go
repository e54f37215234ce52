// internal/workers/payment/payment-intent/models.go
package paymentintent

const (
	ActionCreate  = "create"
	ActionConfirm = "confirm"
)

type Input struct {
	Action          string                 `json:"action"`
	ApplicationID   string                 `json:"applicationId,omitempty"`
	PaymentType     string                 `json:"paymentType,omitempty"`
	AmountCents     int64                  `json:"amountCents,omitempty"`
	PaymentIntentID string                 `json:"paymentIntentId,omitempty"`
	Confirmation    map[string]interface{} `json:"confirmation,omitempty"`
	Actor           string                 `json:"actor"`
}

type Output struct {
	OK              bool    `json:"ok"`
	ErrorCode       string  `json:"errorCode,omitempty"`
	Message         string  `json:"message,omitempty"`
	PaymentIntentID string  `json:"paymentIntentId,omitempty"`
	PaymentStatus   string  `json:"paymentStatus,omitempty"`
	AmountCents     int64   `json:"amountCents,omitempty"`
	ClientSecret    *string `json:"clientSecret,omitempty"`
	AttemptsCount   int     `json:"attemptsCount,omitempty"`
	AlreadyPaid     bool    `json:"alreadyPaid,omitempty"`
}
