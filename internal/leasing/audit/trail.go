// Package audit appends events to the audit_events log. Writes go through the
// caller's DBTX so an event commits or rolls back with the change it records.
package audit

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"leasing-workers/internal/common/database"
	"leasing-workers/internal/common/logger"
	"leasing-workers/internal/models"

	"github.com/google/uuid"
)

// Event types.
const (
	EventDraftStarted          = "application.draft_started"
	EventDraftDeduplicated     = "application.draft_deduplicated"
	EventDraftSaved            = "application.draft_saved"
	EventDraftResumed          = "application.draft_resumed"
	EventPartyInvited          = "party.invited"
	EventPartyCompleted        = "party.completed"
	EventPartyLocked           = "party.locked"
	EventSubmitted             = "application.submitted"
	EventSubmitRejected        = "application.submit_rejected"
	EventReviewStarted         = "application.review_started"
	EventDecisioned            = "application.decisioned"
	EventWithdrawn             = "application.withdrawn"
	EventConverted             = "application.converted"
	EventExpired               = "application.expired"
	EventReservationCreated    = "reservation.created"
	EventReservationConflict   = "reservation.conflict"
	EventReservationUpgraded   = "reservation.upgraded"
	EventReservationReleased   = "reservation.released"
	EventReservationExpired    = "reservation.expired"
	EventPaymentIntentCreated  = "payment.intent_created"
	EventPaymentConfirmed      = "payment.confirmed"
	EventPaymentFailed         = "payment.failed"
	EventRefundRequested       = "refund.requested"
	EventRefundIneligible      = "refund.ineligible"
	EventRequirementsGenerated = "requirements.generated"
	EventRequirementWaived     = "requirement.waived"
	EventRequirementExpired    = "requirement.expired"
	EventInfoRequestOpened     = "info_request.opened"
	EventInfoRequestResponded  = "info_request.responded"
	EventDocumentAttached      = "document.attached"
	EventDocumentVerified      = "document.verified"
	EventDocumentRejected      = "document.rejected"
	EventOverrideRequested     = "override.requested"
	EventOverrideResolved      = "override.resolved"
	EventReminderSent          = "party.reminder_sent"
)

// ActorSystem is recorded for automation-driven changes.
const ActorSystem = "system"

// Trail writes audit events.
type Trail struct {
	logger logger.Logger
	now    func() time.Time
}

func NewTrail(log logger.Logger) *Trail {
	return &Trail{
		logger: logger.Component(log, "audit"),
		now:    func() time.Time { return time.Now().UTC() },
	}
}

// Append inserts ev using db. Missing id and timestamp are filled in.
func (t *Trail) Append(ctx context.Context, db database.DBTX, ev models.AuditEvent) error {
	if ev.ID == "" {
		ev.ID = uuid.New().String()
	}
	if ev.CreatedAt.IsZero() {
		ev.CreatedAt = t.now()
	}
	if ev.Actor == "" {
		ev.Actor = ActorSystem
	}
	if ev.Metadata == nil {
		ev.Metadata = map[string]interface{}{}
	}

	metadataJSON, err := json.Marshal(ev.Metadata)
	if err != nil {
		return fmt.Errorf("marshal audit metadata: %w", err)
	}

	_, err = db.ExecContext(ctx, `
		INSERT INTO audit_events (
			id, org_id, application_id, event_type, actor,
			target_type, target_id, metadata, created_at
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)`,
		ev.ID, ev.OrgID, ev.ApplicationID, ev.EventType, ev.Actor,
		ev.TargetType, ev.TargetID, metadataJSON, ev.CreatedAt,
	)
	if err != nil {
		return fmt.Errorf("insert audit event %s: %w", ev.EventType, err)
	}

	t.logger.Debug("audit event appended", map[string]interface{}{
		"eventType": ev.EventType,
		"targetId":  ev.TargetID,
	})
	return nil
}

// ListUnindexed returns up to limit events not yet projected to search, oldest first.
func (t *Trail) ListUnindexed(ctx context.Context, db database.DBTX, limit int) ([]models.AuditEvent, error) {
	rows, err := db.QueryContext(ctx, `
		SELECT id, org_id, application_id, event_type, actor,
		       target_type, target_id, metadata, created_at
		FROM audit_events
		WHERE indexed_at IS NULL
		ORDER BY created_at, id
		LIMIT $1`, limit)
	if err != nil {
		return nil, fmt.Errorf("list unindexed audit events: %w", err)
	}
	defer rows.Close()

	var events []models.AuditEvent
	for rows.Next() {
		var (
			ev       models.AuditEvent
			metadata []byte
		)
		if err := rows.Scan(&ev.ID, &ev.OrgID, &ev.ApplicationID, &ev.EventType, &ev.Actor,
			&ev.TargetType, &ev.TargetID, &metadata, &ev.CreatedAt); err != nil {
			return nil, fmt.Errorf("scan audit event: %w", err)
		}
		if len(metadata) > 0 {
			if err := json.Unmarshal(metadata, &ev.Metadata); err != nil {
				t.logger.Warn("audit metadata not decodable", map[string]interface{}{
					"eventId": ev.ID,
					"error":   err,
				})
			}
		}
		events = append(events, ev)
	}
	return events, rows.Err()
}

// MarkIndexed stamps indexed_at on one event.
func (t *Trail) MarkIndexed(ctx context.Context, db database.DBTX, id string) error {
	if _, err := db.ExecContext(ctx,
		`UPDATE audit_events SET indexed_at = $2 WHERE id = $1 AND indexed_at IS NULL`,
		id, t.now()); err != nil {
		return fmt.Errorf("mark audit event %s indexed: %w", id, err)
	}
	return nil
}

// ForApplication builds an event for an application-scoped change.
func ForApplication(app *models.Application, eventType, actor, targetType, targetID string, metadata map[string]interface{}) models.AuditEvent {
	appID := app.ID
	return models.AuditEvent{
		OrgID:         app.OrgID,
		ApplicationID: &appID,
		EventType:     eventType,
		Actor:         actor,
		TargetType:    targetType,
		TargetID:      targetID,
		Metadata:      metadata,
	}
}
