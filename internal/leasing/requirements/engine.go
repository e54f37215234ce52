// Package requirements generates and tracks the work items an application
// must clear, the info requests that add to them, and the documents that
// satisfy them.
package requirements

import (
	"context"
	"fmt"
	"time"

	"leasing-workers/internal/common/database"
	"leasing-workers/internal/common/errors"
	"leasing-workers/internal/common/logger"
	"leasing-workers/internal/leasing/audit"
	"leasing-workers/internal/leasing/store"
	"leasing-workers/internal/models"

	"github.com/google/uuid"
	"github.com/lib/pq"
)

// Result is the outcome of a requirements operation.
type Result struct {
	OK                bool                     `json:"ok"`
	ErrorCode         errors.ErrorCode         `json:"errorCode,omitempty"`
	Message           string                   `json:"message,omitempty"`
	InfoRequest       *models.InfoRequest      `json:"infoRequest,omitempty"`
	Items             []models.RequirementItem `json:"items,omitempty"`
	Item              *models.RequirementItem  `json:"item,omitempty"`
	Document          *models.Document         `json:"document,omitempty"`
	ApplicationStatus models.ApplicationStatus `json:"applicationStatus,omitempty"`
}

func fail(code errors.ErrorCode, msg string) *Result {
	return &Result{ErrorCode: code, Message: msg}
}

type Engine struct {
	trail  *audit.Trail
	logger logger.Logger
	now    func() time.Time
}

func NewEngine(trail *audit.Trail, log logger.Logger) *Engine {
	return &Engine{
		trail:  trail,
		logger: logger.Component(log, "requirements"),
		now:    func() time.Time { return time.Now().UTC() },
	}
}

// Generate expands templates for app and stores the items. Templates are
// expanded once per application; a later call returns nothing.
func (e *Engine) Generate(ctx context.Context, db database.DBTX, app *models.Application, templates []models.RequirementTemplate, actor string) ([]models.RequirementItem, error) {
	if len(templates) == 0 {
		return nil, nil
	}

	var existing int
	if err := db.QueryRowContext(ctx, `
		SELECT COUNT(*) FROM requirement_items
		WHERE application_id = $1 AND info_request_id IS NULL`, app.ID).Scan(&existing); err != nil {
		return nil, fmt.Errorf("count requirement items: %w", err)
	}
	if existing > 0 {
		return nil, nil
	}

	parties, err := store.ListParties(ctx, db, app.ID)
	if err != nil {
		return nil, err
	}

	items := ExpandTemplates(templates, app, parties, e.now())
	for i := range items {
		if err := insertItem(ctx, db, &items[i]); err != nil {
			return nil, err
		}
	}

	if err := e.trail.Append(ctx, db, audit.ForApplication(app, audit.EventRequirementsGenerated, actor,
		"application", app.ID, map[string]interface{}{"count": len(items)})); err != nil {
		return nil, err
	}
	return items, nil
}

// RequestedItem describes a requirement opened by an info request.
type RequestedItem struct {
	Type         models.RequirementType `json:"type"`
	Name         string                 `json:"name"`
	PartyID      *string                `json:"partyId,omitempty"`
	Required     bool                   `json:"required"`
	DueInHours   int                    `json:"dueInHours,omitempty"`
	DocumentType string                 `json:"documentType,omitempty"`
	Instructions string                 `json:"instructions,omitempty"`
}

type CreateInfoRequestInput struct {
	ApplicationID string          `json:"applicationId"`
	Message       string          `json:"message"`
	UnlockScopes  []string        `json:"unlockScopes,omitempty"`
	Items         []RequestedItem `json:"items,omitempty"`
	Actor         string          `json:"actor"`
}

// CreateInfoRequest opens an info request with its requirement items and
// moves the application to NEEDS_INFO.
func (e *Engine) CreateInfoRequest(ctx context.Context, db database.DBTX, in CreateInfoRequestInput) (*Result, error) {
	if err := errors.RequireField("applicationId", in.ApplicationID); err != nil {
		return nil, err
	}
	if err := errors.RequireField("message", in.Message); err != nil {
		return nil, err
	}

	app, err := store.LockApplication(ctx, db, in.ApplicationID)
	if err != nil {
		return nil, err
	}
	if app == nil {
		return fail(errors.ErrCodeNotFound, "application not found"), nil
	}
	if !app.Status.IsUnderReview() {
		return fail(errors.ErrCodeInvalidStatus, fmt.Sprintf("cannot request info while %s", app.Status)), nil
	}

	if len(in.Items) > 0 {
		parties, err := store.ListParties(ctx, db, app.ID)
		if err != nil {
			return nil, err
		}
		known := make(map[string]struct{}, len(parties))
		for _, p := range parties {
			known[p.ID] = struct{}{}
		}
		for _, it := range in.Items {
			if it.PartyID == nil {
				continue
			}
			if _, ok := known[*it.PartyID]; !ok {
				return fail(errors.ErrCodeInvalidParty,
					fmt.Sprintf("party %s does not belong to application", *it.PartyID)), nil
			}
		}
	}

	now := e.now()
	scopes := in.UnlockScopes
	if scopes == nil {
		scopes = []string{}
	}
	ir := &models.InfoRequest{
		ID:            uuid.New().String(),
		OrgID:         app.OrgID,
		ApplicationID: app.ID,
		Status:        models.InfoRequestOpen,
		Message:       in.Message,
		UnlockScopes:  scopes,
		RequestedBy:   in.Actor,
		CreatedAt:     now,
		UpdatedAt:     now,
	}
	if _, err := db.ExecContext(ctx, `
		INSERT INTO info_requests (
			id, org_id, application_id, status, message, unlock_scopes, requested_by, created_at, updated_at
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $8)`,
		ir.ID, ir.OrgID, ir.ApplicationID, string(ir.Status), ir.Message, pq.Array(ir.UnlockScopes),
		ir.RequestedBy, now,
	); err != nil {
		return nil, fmt.Errorf("insert info request: %w", err)
	}

	items := make([]models.RequirementItem, 0, len(in.Items))
	for _, it := range in.Items {
		item := models.RequirementItem{
			ID:            uuid.New().String(),
			ApplicationID: app.ID,
			PartyID:       it.PartyID,
			InfoRequestID: &ir.ID,
			Type:          it.Type,
			Name:          it.Name,
			Status:        models.RequirementPending,
			Required:      it.Required,
			Metadata: models.RequirementMetadata{
				Kind:         models.MetadataKindFor(it.Type),
				DocumentType: it.DocumentType,
				Instructions: it.Instructions,
			},
			CreatedAt: now,
			UpdatedAt: now,
		}
		if it.DueInHours > 0 {
			due := now.Add(time.Duration(it.DueInHours) * time.Hour)
			item.DueAt = &due
		}
		if err := insertItem(ctx, db, &item); err != nil {
			return nil, err
		}
		items = append(items, item)
	}

	if err := store.SetStatus(ctx, db, app.ID, models.StatusNeedsInfo, now); err != nil {
		return nil, err
	}

	if err := e.trail.Append(ctx, db, audit.ForApplication(app, audit.EventInfoRequestOpened, in.Actor,
		"info_request", ir.ID, map[string]interface{}{
			"fromStatus":   string(app.Status),
			"items":        len(items),
			"unlockScopes": ir.UnlockScopes,
		})); err != nil {
		return nil, err
	}

	e.logger.Info("info request opened", map[string]interface{}{
		"applicationId": app.ID,
		"infoRequestId": ir.ID,
		"items":         len(items),
	})
	return &Result{OK: true, InfoRequest: ir, Items: items, ApplicationStatus: models.StatusNeedsInfo}, nil
}

type RespondInput struct {
	InfoRequestID string `json:"infoRequestId"`
	Actor         string `json:"actor"`
}

// RespondToInfoRequest marks an OPEN request RESPONDED. Answering the last
// open request returns a NEEDS_INFO application to IN_REVIEW. Requests on
// CLOSED or CONVERTED applications are refused.
func (e *Engine) RespondToInfoRequest(ctx context.Context, db database.DBTX, in RespondInput) (*Result, error) {
	if err := errors.RequireField("infoRequestId", in.InfoRequestID); err != nil {
		return nil, err
	}

	// Lock order: application, then info request.
	appID, err := infoRequestApplication(ctx, db, in.InfoRequestID)
	if err != nil {
		return nil, err
	}
	if appID == "" {
		return fail(errors.ErrCodeNotFound, "info request not found"), nil
	}
	app, err := store.LockApplication(ctx, db, appID)
	if err != nil {
		return nil, err
	}
	if app == nil {
		return fail(errors.ErrCodeNotFound, "application not found"), nil
	}
	if app.Status.IsTerminal() {
		return fail(errors.ErrCodeInvalidStatus, fmt.Sprintf("cannot respond while %s", app.Status)), nil
	}

	ir, err := lockInfoRequest(ctx, db, in.InfoRequestID)
	if err != nil {
		return nil, err
	}
	if ir == nil {
		return fail(errors.ErrCodeNotFound, "info request not found"), nil
	}
	if ir.Status != models.InfoRequestOpen {
		result := fail(errors.ErrCodeInvalidStatus, fmt.Sprintf("info request is %s", ir.Status))
		result.InfoRequest = ir
		return result, nil
	}

	now := e.now()
	if _, err := db.ExecContext(ctx, `
		UPDATE info_requests SET status = 'RESPONDED', responded_at = $2, updated_at = $2
		WHERE id = $1`, ir.ID, now); err != nil {
		return nil, fmt.Errorf("respond to info request: %w", err)
	}
	ir.Status = models.InfoRequestResponded
	ir.RespondedAt = &now
	ir.UpdatedAt = now

	var open int
	if err := db.QueryRowContext(ctx, `
		SELECT COUNT(*) FROM info_requests
		WHERE application_id = $1 AND status = 'OPEN'`, app.ID).Scan(&open); err != nil {
		return nil, fmt.Errorf("count open info requests: %w", err)
	}

	status := app.Status
	if open == 0 && app.Status == models.StatusNeedsInfo {
		if err := store.SetStatus(ctx, db, app.ID, models.StatusInReview, now); err != nil {
			return nil, err
		}
		status = models.StatusInReview
	}

	if err := e.trail.Append(ctx, db, audit.ForApplication(app, audit.EventInfoRequestResponded, in.Actor,
		"info_request", ir.ID, map[string]interface{}{
			"remainingOpen": open,
			"status":        string(status),
		})); err != nil {
		return nil, err
	}
	return &Result{OK: true, InfoRequest: ir, ApplicationStatus: status}, nil
}
