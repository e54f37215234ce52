package requirements

import (
	"context"
	"fmt"
	"time"

	"leasing-workers/internal/common/database"
	"leasing-workers/internal/common/errors"
	"leasing-workers/internal/leasing/audit"
	"leasing-workers/internal/leasing/store"
	"leasing-workers/internal/models"

	"github.com/google/uuid"
)

// Verification actions.
const (
	ActionVerify = "VERIFY"
	ActionReject = "REJECT"
)

type AttachDocumentInput struct {
	ApplicationID     string     `json:"applicationId"`
	PartyID           string     `json:"partyId"`
	RequirementItemID *string    `json:"requirementItemId,omitempty"`
	DocumentType      string     `json:"documentType"`
	StorageKey        string     `json:"storageKey"`
	ExpiresAt         *time.Time `json:"expiresAt,omitempty"`
	Actor             string     `json:"actor"`
}

// AttachDocument records an upload. A linked requirement moves to SUBMITTED
// unless it was waived.
func (e *Engine) AttachDocument(ctx context.Context, db database.DBTX, in AttachDocumentInput) (*Result, error) {
	for field, v := range map[string]string{
		"applicationId": in.ApplicationID,
		"partyId":       in.PartyID,
		"documentType":  in.DocumentType,
		"storageKey":    in.StorageKey,
	} {
		if err := errors.RequireField(field, v); err != nil {
			return nil, err
		}
	}

	app, err := store.LockApplication(ctx, db, in.ApplicationID)
	if err != nil {
		return nil, err
	}
	if app == nil {
		return fail(errors.ErrCodeNotFound, "application not found"), nil
	}
	if app.Status.IsTerminal() {
		return fail(errors.ErrCodeInvalidStatus, fmt.Sprintf("application is %s", app.Status)), nil
	}

	party, err := store.LockParty(ctx, db, in.PartyID)
	if err != nil {
		return nil, err
	}
	if party == nil || party.ApplicationID != app.ID {
		return fail(errors.ErrCodeInvalidParty, "party does not belong to application"), nil
	}

	now := e.now()
	var item *models.RequirementItem
	if in.RequirementItemID != nil {
		item, err = lockItem(ctx, db, *in.RequirementItemID)
		if err != nil {
			return nil, err
		}
		if item == nil || item.ApplicationID != app.ID {
			return fail(errors.ErrCodeNotFound, "requirement item not found"), nil
		}
		if item.Status != models.RequirementWaived {
			if err := setItemStatus(ctx, db, item.ID, models.RequirementSubmitted, now); err != nil {
				return nil, err
			}
			item.Status = models.RequirementSubmitted
			item.UpdatedAt = now
		}
	}

	doc := &models.Document{
		ID:                uuid.New().String(),
		ApplicationID:     app.ID,
		PartyID:           party.ID,
		RequirementItemID: in.RequirementItemID,
		DocumentType:      in.DocumentType,
		StorageKey:        in.StorageKey,
		Status:            models.DocumentUploaded,
		ExpiresAt:         in.ExpiresAt,
		CreatedAt:         now,
		UpdatedAt:         now,
	}
	if _, err := db.ExecContext(ctx, `
		INSERT INTO documents (
			id, application_id, party_id, requirement_item_id, document_type, storage_key,
			status, expires_at, created_at, updated_at
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $9)`,
		doc.ID, doc.ApplicationID, doc.PartyID, doc.RequirementItemID, doc.DocumentType, doc.StorageKey,
		string(doc.Status), doc.ExpiresAt, now,
	); err != nil {
		return nil, fmt.Errorf("insert document: %w", err)
	}

	if err := e.trail.Append(ctx, db, audit.ForApplication(app, audit.EventDocumentAttached, in.Actor,
		"document", doc.ID, map[string]interface{}{
			"documentType":      doc.DocumentType,
			"requirementItemId": doc.RequirementItemID,
		})); err != nil {
		return nil, err
	}
	return &Result{OK: true, Document: doc, Item: item}, nil
}

type VerifyDocumentInput struct {
	DocumentID string `json:"documentId"`
	Action     string `json:"action"`
	Reason     string `json:"reason,omitempty"`
	Actor      string `json:"actor"`
}

var verifySources = map[string][]models.DocumentStatus{
	ActionVerify: {models.DocumentUploaded, models.DocumentRejected},
	ActionReject: {models.DocumentUploaded, models.DocumentVerified},
}

// VerifyDocument verifies or rejects a document and cascades the verdict to
// its requirement. A waived requirement keeps its status.
func (e *Engine) VerifyDocument(ctx context.Context, db database.DBTX, in VerifyDocumentInput) (*Result, error) {
	if err := errors.RequireField("documentId", in.DocumentID); err != nil {
		return nil, err
	}
	sources, ok := verifySources[in.Action]
	if !ok {
		return nil, errors.NewInvalidInputError("action", fmt.Sprintf("must be %s or %s", ActionVerify, ActionReject))
	}

	doc, err := lockDocument(ctx, db, in.DocumentID)
	if err != nil {
		return nil, err
	}
	if doc == nil {
		return fail(errors.ErrCodeNotFound, "document not found"), nil
	}
	if !containsStatus(sources, doc.Status) {
		result := fail(errors.ErrCodeInvalidStatus, fmt.Sprintf("cannot %s a %s document", in.Action, doc.Status))
		result.Document = doc
		return result, nil
	}

	app, err := store.LoadApplication(ctx, db, doc.ApplicationID)
	if err != nil {
		return nil, err
	}
	if app == nil {
		return fail(errors.ErrCodeNotFound, "application not found"), nil
	}

	now := e.now()
	docStatus, itemStatus, eventType := models.DocumentVerified, models.RequirementApproved, audit.EventDocumentVerified
	var verifiedAt *time.Time
	var reason *string
	if in.Action == ActionVerify {
		verifiedAt = &now
	} else {
		docStatus, itemStatus, eventType = models.DocumentRejected, models.RequirementRejected, audit.EventDocumentRejected
		if in.Reason != "" {
			reason = &in.Reason
		}
	}

	if _, err := db.ExecContext(ctx, `
		UPDATE documents SET status = $2, verified_at = $3, rejection_reason = $4, updated_at = $5
		WHERE id = $1`, doc.ID, string(docStatus), verifiedAt, reason, now); err != nil {
		return nil, fmt.Errorf("update document %s: %w", doc.ID, err)
	}
	doc.Status = docStatus
	doc.VerifiedAt = verifiedAt
	doc.RejectionReason = reason
	doc.UpdatedAt = now

	var item *models.RequirementItem
	if doc.RequirementItemID != nil {
		item, err = lockItem(ctx, db, *doc.RequirementItemID)
		if err != nil {
			return nil, err
		}
		if item != nil && item.Status != models.RequirementWaived {
			if err := setItemStatus(ctx, db, item.ID, itemStatus, now); err != nil {
				return nil, err
			}
			item.Status = itemStatus
			item.UpdatedAt = now
		}
	}

	if err := e.trail.Append(ctx, db, audit.ForApplication(app, eventType, in.Actor,
		"document", doc.ID, map[string]interface{}{
			"reason":            in.Reason,
			"requirementItemId": doc.RequirementItemID,
		})); err != nil {
		return nil, err
	}
	return &Result{OK: true, Document: doc, Item: item}, nil
}

type WaiveInput struct {
	RequirementItemID string `json:"requirementItemId"`
	Reason            string `json:"reason"`
	Actor             string `json:"actor"`
}

// WaiveRequirement waives any item that is not already approved, waived or expired.
func (e *Engine) WaiveRequirement(ctx context.Context, db database.DBTX, in WaiveInput) (*Result, error) {
	if err := errors.RequireField("requirementItemId", in.RequirementItemID); err != nil {
		return nil, err
	}

	item, err := lockItem(ctx, db, in.RequirementItemID)
	if err != nil {
		return nil, err
	}
	if item == nil {
		return fail(errors.ErrCodeNotFound, "requirement item not found"), nil
	}
	if item.Status.IsTerminal() {
		result := fail(errors.ErrCodeInvalidStatus, fmt.Sprintf("requirement is %s", item.Status))
		result.Item = item
		return result, nil
	}

	app, err := store.LoadApplication(ctx, db, item.ApplicationID)
	if err != nil {
		return nil, err
	}
	if app == nil {
		return fail(errors.ErrCodeNotFound, "application not found"), nil
	}

	now := e.now()
	if err := setItemStatus(ctx, db, item.ID, models.RequirementWaived, now); err != nil {
		return nil, err
	}
	item.Status = models.RequirementWaived
	item.UpdatedAt = now

	if err := e.trail.Append(ctx, db, audit.ForApplication(app, audit.EventRequirementWaived, in.Actor,
		"requirement_item", item.ID, map[string]interface{}{"reason": in.Reason})); err != nil {
		return nil, err
	}
	return &Result{OK: true, Item: item}, nil
}

// ExpireRequirement moves a non-terminal item to EXPIRED. It reports false
// when the item is gone or already settled.
func (e *Engine) ExpireRequirement(ctx context.Context, db database.DBTX, app *models.Application, itemID, actor string) (bool, error) {
	item, err := lockItem(ctx, db, itemID)
	if err != nil {
		return false, err
	}
	if item == nil || item.Status.IsTerminal() {
		return false, nil
	}

	if err := setItemStatus(ctx, db, item.ID, models.RequirementExpired, e.now()); err != nil {
		return false, err
	}
	if err := e.trail.Append(ctx, db, audit.ForApplication(app, audit.EventRequirementExpired, actor,
		"requirement_item", item.ID, map[string]interface{}{"type": string(item.Type)})); err != nil {
		return false, err
	}
	return true, nil
}

// ExpireDocument marks a document EXPIRED and expires its requirement
// unless it was waived. It returns the document as it was before expiry,
// or nil when there was nothing to do.
func (e *Engine) ExpireDocument(ctx context.Context, db database.DBTX, app *models.Application, documentID, actor string) (*models.Document, error) {
	doc, err := lockDocument(ctx, db, documentID)
	if err != nil {
		return nil, err
	}
	if doc == nil || doc.Status == models.DocumentExpired {
		return nil, nil
	}

	now := e.now()
	if _, err := db.ExecContext(ctx,
		`UPDATE documents SET status = 'EXPIRED', updated_at = $2 WHERE id = $1`, doc.ID, now); err != nil {
		return nil, fmt.Errorf("expire document %s: %w", doc.ID, err)
	}
	if doc.RequirementItemID != nil {
		if _, err := e.ExpireRequirement(ctx, db, app, *doc.RequirementItemID, actor); err != nil {
			return nil, err
		}
	}
	return doc, nil
}

func containsStatus(statuses []models.DocumentStatus, s models.DocumentStatus) bool {
	for _, v := range statuses {
		if v == s {
			return true
		}
	}
	return false
}
