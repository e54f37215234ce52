package decisioning

import (
	"context"
	"database/sql"
	"encoding/json"
	stderrors "errors"
	"fmt"
	"time"

	"leasing-workers/internal/common/database"
	"leasing-workers/internal/common/errors"
	"leasing-workers/internal/common/logger"
	"leasing-workers/internal/leasing/audit"
	"leasing-workers/internal/leasing/store"
	"leasing-workers/internal/models"

	"github.com/google/uuid"
)

const overrideColumns = `id, org_id, application_id, kind, status, requested_value, reason,
	before_snapshot, after_snapshot, requested_by, resolved_by, resolved_at, created_at, updated_at`

// OverrideResult is the outcome of an override operation.
type OverrideResult struct {
	OK        bool             `json:"ok"`
	ErrorCode errors.ErrorCode `json:"errorCode,omitempty"`
	Message   string           `json:"message,omitempty"`

	Override    *models.OverrideRequest `json:"override,omitempty"`
	Decision    *models.DecisionRecord  `json:"decision,omitempty"`
	Application *models.Application    `json:"application,omitempty"`
}

func failOverride(code errors.ErrorCode, msg string) *OverrideResult {
	return &OverrideResult{ErrorCode: code, Message: msg}
}

// Overrides records and resolves priority and decision override requests.
type Overrides struct {
	recorder *Recorder
	trail    *audit.Trail
	logger   logger.Logger
	now      func() time.Time
}

func NewOverrides(recorder *Recorder, trail *audit.Trail, log logger.Logger) *Overrides {
	return &Overrides{
		recorder: recorder,
		trail:    trail,
		logger:   logger.Component(log, "overrides"),
		now:      func() time.Time { return time.Now().UTC() },
	}
}

type RequestOverrideInput struct {
	ApplicationID  string              `json:"applicationId"`
	Kind           models.OverrideKind `json:"kind"`
	RequestedValue string              `json:"requestedValue"`
	Reason         string              `json:"reason"`
	RequestedBy    string              `json:"requestedBy"`
}

func (in RequestOverrideInput) validate() error {
	for _, f := range []struct{ name, value string }{
		{"applicationId", in.ApplicationID},
		{"requestedValue", in.RequestedValue},
		{"reason", in.Reason},
		{"requestedBy", in.RequestedBy},
	} {
		if err := errors.RequireField(f.name, f.value); err != nil {
			return err
		}
	}
	switch in.Kind {
	case models.OverridePriority:
		if !models.Priority(in.RequestedValue).Valid() {
			return errors.NewInvalidInputError("requestedValue", fmt.Sprintf("unknown priority %q", in.RequestedValue))
		}
	case models.OverrideDecision:
		if !models.DecisionOutcome(in.RequestedValue).Valid() {
			return errors.NewInvalidInputError("requestedValue", fmt.Sprintf("unknown decision outcome %q", in.RequestedValue))
		}
	default:
		return errors.NewInvalidInputError("kind", "must be PRIORITY or DECISION")
	}
	return nil
}

// RequestOverride records a PENDING override with a snapshot of the value
// it would replace. A decision override needs an existing decision.
func (o *Overrides) RequestOverride(ctx context.Context, db database.DBTX, in RequestOverrideInput) (*OverrideResult, error) {
	if err := in.validate(); err != nil {
		return nil, err
	}

	app, err := store.LockApplication(ctx, db, in.ApplicationID)
	if err != nil {
		return nil, err
	}
	if app == nil {
		return failOverride(errors.ErrCodeNotFound, "application not found"), nil
	}
	if app.Status.IsTerminal() {
		return failOverride(errors.ErrCodeInvalidStatus, fmt.Sprintf("application is %s", app.Status)), nil
	}

	before, err := o.snapshot(ctx, db, app, in.Kind)
	if err != nil {
		return nil, err
	}
	if before == nil {
		return failOverride(errors.ErrCodeInvalidStatus, "application has no decision to override"), nil
	}
	beforeJSON, err := json.Marshal(before)
	if err != nil {
		return nil, fmt.Errorf("marshal override snapshot: %w", err)
	}

	now := o.now()
	ov := &models.OverrideRequest{
		ID:             uuid.New().String(),
		OrgID:          app.OrgID,
		ApplicationID:  app.ID,
		Kind:           in.Kind,
		Status:         models.OverridePending,
		RequestedValue: in.RequestedValue,
		Reason:         in.Reason,
		BeforeSnapshot: beforeJSON,
		RequestedBy:    in.RequestedBy,
		CreatedAt:      now,
		UpdatedAt:      now,
	}
	if _, err := db.ExecContext(ctx, `
		INSERT INTO override_requests (
			id, org_id, application_id, kind, status, requested_value, reason,
			before_snapshot, requested_by, created_at, updated_at
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $10)`,
		ov.ID, ov.OrgID, ov.ApplicationID, string(ov.Kind), string(ov.Status), ov.RequestedValue, ov.Reason,
		[]byte(ov.BeforeSnapshot), ov.RequestedBy, now,
	); err != nil {
		return nil, fmt.Errorf("insert override request: %w", err)
	}

	if err := o.trail.Append(ctx, db, audit.ForApplication(app, audit.EventOverrideRequested, in.RequestedBy,
		"override_request", ov.ID, map[string]interface{}{
			"kind":           string(ov.Kind),
			"requestedValue": ov.RequestedValue,
		})); err != nil {
		return nil, err
	}
	return &OverrideResult{OK: true, Override: ov, Application: app}, nil
}

type ResolveOverrideInput struct {
	OverrideID string `json:"overrideId"`
	Approve    bool   `json:"approve"`
	ResolvedBy string `json:"resolvedBy"`
}

// ResolveOverride approves or denies a PENDING override. Approval applies
// the requested priority, or appends a decision version linked to the
// override.
func (o *Overrides) ResolveOverride(ctx context.Context, db database.DBTX, in ResolveOverrideInput) (*OverrideResult, error) {
	if err := errors.RequireField("overrideId", in.OverrideID); err != nil {
		return nil, err
	}
	if err := errors.RequireField("resolvedBy", in.ResolvedBy); err != nil {
		return nil, err
	}

	var applicationID string
	err := db.QueryRowContext(ctx, `SELECT application_id FROM override_requests WHERE id = $1`, in.OverrideID).Scan(&applicationID)
	if stderrors.Is(err, sql.ErrNoRows) {
		return failOverride(errors.ErrCodeNotFound, "override request not found"), nil
	}
	if err != nil {
		return nil, fmt.Errorf("load override request: %w", err)
	}

	app, err := store.LockApplication(ctx, db, applicationID)
	if err != nil {
		return nil, err
	}
	if app == nil {
		return failOverride(errors.ErrCodeNotFound, "application not found"), nil
	}
	ov, err := scanOverride(db.QueryRowContext(ctx, `
		SELECT `+overrideColumns+` FROM override_requests WHERE id = $1 FOR UPDATE`, in.OverrideID))
	if err != nil {
		return nil, err
	}
	if ov.Status != models.OverridePending {
		result := failOverride(errors.ErrCodeInvalidStatus, fmt.Sprintf("override is %s", ov.Status))
		result.Override = ov
		return result, nil
	}
	if in.Approve && app.Status.IsTerminal() {
		return failOverride(errors.ErrCodeInvalidStatus, fmt.Sprintf("application is %s", app.Status)), nil
	}

	result := &OverrideResult{OK: true, Application: app}
	status := models.OverrideDenied
	after := ov.BeforeSnapshot
	if in.Approve {
		status = models.OverrideApproved
		switch ov.Kind {
		case models.OverridePriority:
			if err := o.applyPriority(ctx, db, app, models.Priority(ov.RequestedValue)); err != nil {
				return nil, err
			}
		case models.OverrideDecision:
			rec, err := o.applyDecision(ctx, db, app, ov, in.ResolvedBy)
			if err != nil {
				return nil, err
			}
			result.Decision = rec
		}
		snap, err := o.snapshot(ctx, db, app, ov.Kind)
		if err != nil {
			return nil, err
		}
		if after, err = json.Marshal(snap); err != nil {
			return nil, fmt.Errorf("marshal override snapshot: %w", err)
		}
	}

	now := o.now()
	if _, err := db.ExecContext(ctx, `
		UPDATE override_requests
		SET status = $2, after_snapshot = $3, resolved_by = $4, resolved_at = $5, updated_at = $5
		WHERE id = $1`, ov.ID, string(status), []byte(after), in.ResolvedBy, now); err != nil {
		return nil, fmt.Errorf("resolve override request: %w", err)
	}
	ov.Status = status
	ov.AfterSnapshot = after
	ov.ResolvedBy = &in.ResolvedBy
	ov.ResolvedAt = &now
	ov.UpdatedAt = now
	result.Override = ov

	if err := o.trail.Append(ctx, db, audit.ForApplication(app, audit.EventOverrideResolved, in.ResolvedBy,
		"override_request", ov.ID, map[string]interface{}{
			"kind":   string(ov.Kind),
			"status": string(status),
		})); err != nil {
		return nil, err
	}
	return result, nil
}

func (o *Overrides) applyPriority(ctx context.Context, db database.DBTX, app *models.Application, p models.Priority) error {
	now := o.now()
	if _, err := db.ExecContext(ctx,
		`UPDATE applications SET priority = $2, updated_at = $3 WHERE id = $1`,
		app.ID, string(p), now); err != nil {
		return fmt.Errorf("update application priority: %w", err)
	}
	app.Priority = p
	app.UpdatedAt = now
	return nil
}

func (o *Overrides) applyDecision(ctx context.Context, db database.DBTX, app *models.Application, ov *models.OverrideRequest, decidedBy string) (*models.DecisionRecord, error) {
	latest, err := o.recorder.Latest(ctx, db, app.ID)
	if err != nil {
		return nil, err
	}
	in := DecisionInput{
		Outcome:           models.DecisionOutcome(ov.RequestedValue),
		Notes:             &ov.Reason,
		OverrideRequestID: &ov.ID,
		DecidedBy:         decidedBy,
	}
	if latest != nil {
		in.IncomeFinding = latest.IncomeFinding
		in.CriminalFinding = latest.CriminalFinding
		in.Conditions = latest.Conditions
	}
	return o.recorder.Append(ctx, db, app.ID, in)
}

// snapshot captures the value an override of kind acts on. It returns nil
// for a decision override when no decision exists.
func (o *Overrides) snapshot(ctx context.Context, db database.DBTX, app *models.Application, kind models.OverrideKind) (map[string]interface{}, error) {
	if kind == models.OverridePriority {
		return map[string]interface{}{"priority": string(app.Priority)}, nil
	}
	latest, err := o.recorder.Latest(ctx, db, app.ID)
	if err != nil || latest == nil {
		return nil, err
	}
	return map[string]interface{}{
		"decisionVersion": latest.Version,
		"outcome":         string(latest.Outcome),
	}, nil
}

func scanOverride(row store.RowScanner) (*models.OverrideRequest, error) {
	var (
		ov     models.OverrideRequest
		kind   string
		status string
		before []byte
		after  []byte
	)
	if err := row.Scan(&ov.ID, &ov.OrgID, &ov.ApplicationID, &kind, &status, &ov.RequestedValue, &ov.Reason,
		&before, &after, &ov.RequestedBy, &ov.ResolvedBy, &ov.ResolvedAt, &ov.CreatedAt, &ov.UpdatedAt); err != nil {
		return nil, fmt.Errorf("scan override request: %w", err)
	}
	ov.Kind = models.OverrideKind(kind)
	ov.Status = models.OverrideStatus(status)
	ov.BeforeSnapshot = json.RawMessage(before)
	if len(after) > 0 {
		ov.AfterSnapshot = json.RawMessage(after)
	}
	return &ov, nil
}
