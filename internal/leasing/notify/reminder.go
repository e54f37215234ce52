// Package notify delivers party notifications over email and SMS.
package notify

import (
	"context"
	"fmt"
	"strings"

	"leasing-workers/internal/common/logger"
	"leasing-workers/internal/models"
)

// EmailSender sends one plain-text email.
type EmailSender interface {
	SendEmail(ctx context.Context, to, subject, body string) (string, error)
}

// SMSSender sends one SMS.
type SMSSender interface {
	SendSMS(ctx context.Context, phone, message string) (string, error)
}

var coApplicantReminder = models.NotificationTemplate{
	Type:    models.NotificationCoApplicantReminder,
	Subject: "Your rental application is waiting for you",
	Body: "Hi {firstName},\n\nYou were added to a rental application that can't be submitted " +
		"until you finish your part. This is reminder {ordinal} of {max}.\n",
}

const smsReminder = "Reminder {ordinal} of {max}: finish your part of the rental application so it can be submitted."

// Reminder is a co-applicant nudge.
type Reminder struct {
	Party    models.Party
	Ordinal  int
	MaxCount int
}

// Sender fans a notification out to the channels a party can be reached on.
// A nil sender disables that channel.
type Sender struct {
	email  EmailSender
	sms    SMSSender
	logger logger.Logger
}

func NewSender(email EmailSender, sms SMSSender, log logger.Logger) *Sender {
	return &Sender{email: email, sms: sms, logger: logger.Component(log, "notify")}
}

// SendReminder delivers r by email, and by SMS when the party has a phone.
// It returns the notifications that went out.
func (s *Sender) SendReminder(ctx context.Context, r Reminder) ([]models.Notification, error) {
	firstName := "there"
	if r.Party.FirstName != nil && *r.Party.FirstName != "" {
		firstName = *r.Party.FirstName
	}
	fill := strings.NewReplacer(
		"{firstName}", firstName,
		"{ordinal}", fmt.Sprint(r.Ordinal),
		"{max}", fmt.Sprint(r.MaxCount),
	)

	var sent []models.Notification
	if s.email != nil {
		id, err := s.email.SendEmail(ctx, r.Party.Email, coApplicantReminder.Subject, fill.Replace(coApplicantReminder.Body))
		if err != nil {
			return sent, err
		}
		sent = append(sent, s.notification(r, models.ChannelEmail, r.Party.Email, id))
	}

	if s.sms != nil && r.Party.Phone != nil && *r.Party.Phone != "" {
		id, err := s.sms.SendSMS(ctx, *r.Party.Phone, fill.Replace(smsReminder))
		switch {
		case err != nil && len(sent) == 0:
			return nil, err
		case err != nil:
			// The email already went out.
			s.logger.Warn("reminder sms failed", map[string]interface{}{
				"partyId": r.Party.ID,
				"error":   err.Error(),
			})
		default:
			sent = append(sent, s.notification(r, models.ChannelSMS, *r.Party.Phone, id))
		}
	}

	if len(sent) == 0 {
		return nil, fmt.Errorf("no notification channel reached party %s", r.Party.ID)
	}
	return sent, nil
}

func (s *Sender) notification(r Reminder, channel, recipient, messageID string) models.Notification {
	return models.Notification{
		ApplicationID: r.Party.ApplicationID,
		PartyID:       r.Party.ID,
		Type:          models.NotificationCoApplicantReminder,
		Channel:       channel,
		Recipient:     recipient,
		Payload: map[string]interface{}{
			"ordinal":   r.Ordinal,
			"messageId": messageID,
		},
	}
}
