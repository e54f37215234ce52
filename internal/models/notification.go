// internal/models/notification.go
package models

// Notification is one outbound message to a party.
type Notification struct {
	ApplicationID string                 `json:"applicationId"`
	PartyID       string                 `json:"partyId"`
	Type          string                 `json:"type"`    // "co_applicant_reminder"
	Channel       string                 `json:"channel"` // "email", "sms"
	Recipient     string                 `json:"recipient"`
	Payload       map[string]interface{} `json:"payload"`
}

// NotificationTemplate renders a notification type.
type NotificationTemplate struct {
	Type     string `json:"type"`
	Subject  string `json:"subject"`
	Body     string `json:"body"`
	HTMLBody string `json:"htmlBody,omitempty"`
}

const (
	ChannelEmail = "email"
	ChannelSMS   = "sms"

	NotificationCoApplicantReminder = "co_applicant_reminder"
)
