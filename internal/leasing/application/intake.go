package application

import (
	"context"
	"crypto/sha256"
	"database/sql"
	"encoding/hex"
	"encoding/json"
	stderrors "errors"
	"fmt"
	"strings"

	"leasing-workers/internal/common/database"
	"leasing-workers/internal/common/errors"
	"leasing-workers/internal/common/validation"
	"leasing-workers/internal/leasing/audit"
	"leasing-workers/internal/leasing/store"
	"leasing-workers/internal/models"

	"github.com/google/uuid"
)

const sessionColumns = `id, application_id, party_id, token, form_data, progress,
	expires_at, last_activity_at, created_at`

// DuplicateHash identifies draft starts for the same person and unit.
func DuplicateHash(email, unitID, propertyID string) string {
	sum := sha256.Sum256([]byte(strings.ToLower(strings.TrimSpace(email)) + "|" + unitID + "|" + propertyID))
	return hex.EncodeToString(sum[:])
}

type StartDraftInput struct {
	OrgID            string          `json:"orgId"`
	PropertyID       string          `json:"propertyId"`
	UnitID           string          `json:"unitId"`
	JurisdictionCode string          `json:"jurisdictionCode,omitempty"`
	Email            string          `json:"email"`
	FirstName        string          `json:"firstName,omitempty"`
	LastName         string          `json:"lastName,omitempty"`
	Phone            string          `json:"phone,omitempty"`
	ApplicationType  string          `json:"applicationType,omitempty"`
	RelocationStatus string          `json:"relocationStatus,omitempty"`
	Priority         models.Priority `json:"priority,omitempty"`
	Actor            string          `json:"actor,omitempty"`
}

func (in *StartDraftInput) validate() error {
	for _, f := range []struct{ name, value string }{
		{"orgId", in.OrgID},
		{"propertyId", in.PropertyID},
		{"unitId", in.UnitID},
		{"email", in.Email},
	} {
		if err := errors.RequireField(f.name, f.value); err != nil {
			return err
		}
	}
	if !validation.ValidateEmail(in.Email) {
		return errors.NewInvalidInputError("email", "not a valid email address")
	}
	if in.Phone != "" && !validation.ValidatePhone(in.Phone) {
		return errors.NewInvalidInputError("phone", "not a valid phone number")
	}
	if in.ApplicationType == "" {
		in.ApplicationType = models.ApplicationTypeIndividual
	}
	if in.ApplicationType != models.ApplicationTypeIndividual && in.ApplicationType != models.ApplicationTypeJoint {
		return errors.NewInvalidInputError("applicationType", "must be INDIVIDUAL or JOINT")
	}
	if in.Priority == "" {
		in.Priority = models.PriorityStandard
	}
	if !in.Priority.Valid() {
		return errors.NewInvalidInputError("priority", "must be STANDARD, PRIORITY or EMERGENCY")
	}
	return nil
}

// StartDraft creates a DRAFT application with its primary party and a draft
// session. Concurrent starts for the same email, unit and property are
// serialized on an advisory lock; a live application with the same hash
// created inside the lookback window is returned instead.
func (m *Machine) StartDraft(ctx context.Context, in StartDraftInput) (*Result, error) {
	if err := in.validate(); err != nil {
		return nil, err
	}
	return m.run(ctx, "startDraft", func(ctx context.Context, tx *sql.Tx) (*Result, error) {
		return m.startDraft(ctx, tx, in)
	})
}

func (m *Machine) startDraft(ctx context.Context, tx database.DBTX, in StartDraftInput) (*Result, error) {
	hash := DuplicateHash(in.Email, in.UnitID, in.PropertyID)
	if _, err := tx.ExecContext(ctx, `SELECT pg_advisory_xact_lock(hashtext($1))`, hash); err != nil {
		return nil, fmt.Errorf("acquire draft lock: %w", err)
	}

	now := m.now()
	existing, err := store.ScanApplication(tx.QueryRowContext(ctx, `
		SELECT `+store.ApplicationColumns+` FROM applications
		WHERE duplicate_check_hash = $1 AND status <> 'CLOSED' AND created_at > $2
		ORDER BY created_at DESC
		LIMIT 1`, hash, now.Add(-m.lookback)))
	if err != nil && !stderrors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("find duplicate draft: %w", err)
	}
	if existing != nil {
		if err := m.appEvent(ctx, tx, existing, audit.EventDraftDeduplicated, in.Actor, nil); err != nil {
			return nil, err
		}
		return &Result{OK: true, Application: existing, Deduplicated: true}, nil
	}

	app := &models.Application{
		ID:                 uuid.New().String(),
		OrgID:              in.OrgID,
		PropertyID:         in.PropertyID,
		UnitID:             in.UnitID,
		JurisdictionCode:   optional(in.JurisdictionCode),
		Status:             models.StatusDraft,
		Priority:           in.Priority,
		ApplicationType:    in.ApplicationType,
		RelocationStatus:   optional(in.RelocationStatus),
		DuplicateCheckHash: hash,
		CreatedAt:          now,
		UpdatedAt:          now,
	}
	if _, err := tx.ExecContext(ctx, `
		INSERT INTO applications (
			id, org_id, property_id, unit_id, jurisdiction_code, status, priority,
			application_type, relocation_status, duplicate_check_hash, created_at, updated_at
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $11)`,
		app.ID, app.OrgID, app.PropertyID, app.UnitID, app.JurisdictionCode, string(app.Status),
		string(app.Priority), app.ApplicationType, app.RelocationStatus, app.DuplicateCheckHash, now,
	); err != nil {
		return nil, fmt.Errorf("insert application: %w", err)
	}

	party := &models.Party{
		ID:            uuid.New().String(),
		ApplicationID: app.ID,
		Role:          models.RolePrimary,
		Status:        models.PartyInProgress,
		Email:         strings.TrimSpace(in.Email),
		Phone:         optional(in.Phone),
		FirstName:     optional(in.FirstName),
		LastName:      optional(in.LastName),
		CreatedAt:     now,
		UpdatedAt:     now,
	}
	if err := insertParty(ctx, tx, party); err != nil {
		return nil, err
	}

	session, err := m.newSession(ctx, tx, app.ID, &party.ID)
	if err != nil {
		return nil, err
	}

	if err := m.appEvent(ctx, tx, app, audit.EventDraftStarted, in.Actor, map[string]interface{}{
		"applicationType": app.ApplicationType,
		"priority":        string(app.Priority),
	}); err != nil {
		return nil, err
	}
	return &Result{OK: true, Application: app, Party: party, Session: session}, nil
}

type InvitePartyInput struct {
	ApplicationID string           `json:"applicationId"`
	Role          models.PartyRole `json:"role"`
	Email         string           `json:"email"`
	FirstName     string           `json:"firstName,omitempty"`
	LastName      string           `json:"lastName,omitempty"`
	Phone         string           `json:"phone,omitempty"`
	Actor         string           `json:"actor,omitempty"`
}

// InviteParty adds a non-primary party in INVITED with its own session.
func (m *Machine) InviteParty(ctx context.Context, in InvitePartyInput) (*Result, error) {
	if err := errors.RequireField("applicationId", in.ApplicationID); err != nil {
		return nil, err
	}
	if err := errors.RequireField("email", in.Email); err != nil {
		return nil, err
	}
	if !validation.ValidateEmail(in.Email) {
		return nil, errors.NewInvalidInputError("email", "not a valid email address")
	}

	return m.run(ctx, "inviteParty", func(ctx context.Context, tx *sql.Tx) (*Result, error) {
		switch in.Role {
		case models.RolePrimary:
			return fail(errors.ErrCodePrimaryExists, "an application has exactly one primary party"), nil
		case models.RoleCoApplicant, models.RoleOccupant, models.RoleGuarantor:
		default:
			return fail(errors.ErrCodeInvalidParty, fmt.Sprintf("unknown party role %q", in.Role)), nil
		}

		app, err := store.LockApplication(ctx, tx, in.ApplicationID)
		if err != nil {
			return nil, err
		}
		if app == nil {
			return fail(errors.ErrCodeNotFound, "application not found"), nil
		}
		if app.Status != models.StatusDraft && app.Status != models.StatusNeedsInfo {
			return fail(errors.ErrCodeInvalidStatus, fmt.Sprintf("cannot invite parties while %s", app.Status)), nil
		}

		now := m.now()
		party := &models.Party{
			ID:            uuid.New().String(),
			ApplicationID: app.ID,
			Role:          in.Role,
			Status:        models.PartyInvited,
			Email:         strings.TrimSpace(in.Email),
			Phone:         optional(in.Phone),
			FirstName:     optional(in.FirstName),
			LastName:      optional(in.LastName),
			InvitedAt:     &now,
			CreatedAt:     now,
			UpdatedAt:     now,
		}
		if err := insertParty(ctx, tx, party); err != nil {
			return nil, err
		}
		session, err := m.newSession(ctx, tx, app.ID, &party.ID)
		if err != nil {
			return nil, err
		}

		if err := m.trail.Append(ctx, tx, audit.ForApplication(app, audit.EventPartyInvited, in.Actor,
			"party", party.ID, map[string]interface{}{"role": string(party.Role)})); err != nil {
			return nil, err
		}
		return &Result{OK: true, Application: app, Party: party, Session: session}, nil
	})
}

type CompletePartyInput struct {
	PartyID string `json:"partyId"`
	Actor   string `json:"actor,omitempty"`
}

// CompleteParty marks an IN_PROGRESS or INVITED party COMPLETE. A locked
// party is refused; an already complete one is returned unchanged.
func (m *Machine) CompleteParty(ctx context.Context, in CompletePartyInput) (*Result, error) {
	if err := errors.RequireField("partyId", in.PartyID); err != nil {
		return nil, err
	}

	return m.run(ctx, "completeParty", func(ctx context.Context, tx *sql.Tx) (*Result, error) {
		var applicationID string
		err := tx.QueryRowContext(ctx, `SELECT application_id FROM parties WHERE id = $1`, in.PartyID).Scan(&applicationID)
		if stderrors.Is(err, sql.ErrNoRows) {
			return fail(errors.ErrCodeNotFound, "party not found"), nil
		}
		if err != nil {
			return nil, fmt.Errorf("load party: %w", err)
		}

		app, err := store.LockApplication(ctx, tx, applicationID)
		if err != nil {
			return nil, err
		}
		if app == nil {
			return fail(errors.ErrCodeNotFound, "application not found"), nil
		}
		if app.Status.IsTerminal() {
			return fail(errors.ErrCodeInvalidStatus, fmt.Sprintf("application is %s", app.Status)), nil
		}

		party, err := store.LockParty(ctx, tx, in.PartyID)
		if err != nil {
			return nil, err
		}
		if party == nil {
			return fail(errors.ErrCodeNotFound, "party not found"), nil
		}
		switch party.Status {
		case models.PartyComplete:
			return &Result{OK: true, Application: app, Party: party}, nil
		case models.PartyLocked:
			result := fail(errors.ErrCodeInvalidStatus, "party is locked")
			result.Party = party
			return result, nil
		}

		now := m.now()
		if _, err := tx.ExecContext(ctx, `
			UPDATE parties SET status = 'COMPLETE', completed_at = $2, updated_at = $2
			WHERE id = $1`, party.ID, now); err != nil {
			return nil, fmt.Errorf("complete party: %w", err)
		}
		party.Status = models.PartyComplete
		party.CompletedAt = &now
		party.UpdatedAt = now

		if err := m.trail.Append(ctx, tx, audit.ForApplication(app, audit.EventPartyCompleted, in.Actor,
			"party", party.ID, map[string]interface{}{"role": string(party.Role)})); err != nil {
			return nil, err
		}
		return &Result{OK: true, Application: app, Party: party}, nil
	})
}

type SaveDraftInput struct {
	Token    string          `json:"token"`
	FormData json.RawMessage `json:"formData,omitempty"`
	Progress json.RawMessage `json:"progress,omitempty"`
	Actor    string          `json:"actor,omitempty"`
}

// SaveDraft merges form data and progress into the session addressed by
// token. Top-level keys in the input replace stored keys.
func (m *Machine) SaveDraft(ctx context.Context, in SaveDraftInput) (*Result, error) {
	if err := errors.RequireField("token", in.Token); err != nil {
		return nil, err
	}

	return m.run(ctx, "saveDraft", func(ctx context.Context, tx *sql.Tx) (*Result, error) {
		session, err := findSession(ctx, tx, `
			SELECT `+sessionColumns+` FROM draft_sessions WHERE token = $1 FOR UPDATE`, in.Token)
		if err != nil {
			return nil, err
		}
		if session == nil {
			return fail(errors.ErrCodeNotFound, "draft session not found"), nil
		}
		now := m.now()
		if session.IsExpired(now) {
			return fail(errors.ErrCodeSessionExpired, "draft session expired"), nil
		}

		app, err := store.LoadApplication(ctx, tx, session.ApplicationID)
		if err != nil {
			return nil, err
		}
		if app == nil || app.Status.IsTerminal() {
			return fail(errors.ErrCodeInvalidStatus, "application no longer accepts changes"), nil
		}

		if session.FormData, err = mergeObjects(session.FormData, in.FormData); err != nil {
			return nil, errors.NewInvalidInputError("formData", err.Error())
		}
		if session.Progress, err = mergeObjects(session.Progress, in.Progress); err != nil {
			return nil, errors.NewInvalidInputError("progress", err.Error())
		}
		session.UpdateActivity(now)

		if _, err := tx.ExecContext(ctx, `
			UPDATE draft_sessions SET form_data = $2, progress = $3, last_activity_at = $4
			WHERE id = $1`,
			session.ID, []byte(session.FormData), []byte(session.Progress), now); err != nil {
			return nil, fmt.Errorf("save draft session: %w", err)
		}
		if err := m.trail.Append(ctx, tx, audit.ForApplication(app, audit.EventDraftSaved, in.Actor,
			"draft_session", session.ID, sessionMetadata(session))); err != nil {
			return nil, err
		}
		return &Result{OK: true, Application: app, Session: session}, nil
	})
}

type ResumeDraftInput struct {
	ApplicationID string  `json:"applicationId"`
	PartyID       *string `json:"partyId,omitempty"`
	Actor         string  `json:"actor,omitempty"`
}

// ResumeDraft returns the most recently active unexpired session for the
// application, narrowed to a party when one is given.
func (m *Machine) ResumeDraft(ctx context.Context, in ResumeDraftInput) (*Result, error) {
	if err := errors.RequireField("applicationId", in.ApplicationID); err != nil {
		return nil, err
	}

	return m.run(ctx, "resumeDraft", func(ctx context.Context, tx *sql.Tx) (*Result, error) {
		now := m.now()
		session, err := findSession(ctx, tx, `
			SELECT `+sessionColumns+` FROM draft_sessions
			WHERE application_id = $1 AND expires_at > $2
			  AND ($3::text IS NULL OR party_id = $3)
			ORDER BY last_activity_at DESC, id
			LIMIT 1
			FOR UPDATE`, in.ApplicationID, now, in.PartyID)
		if err != nil {
			return nil, err
		}
		if session == nil {
			return fail(errors.ErrCodeNotFound, "no active draft session"), nil
		}
		app, err := store.LoadApplication(ctx, tx, session.ApplicationID)
		if err != nil {
			return nil, err
		}
		if app == nil {
			return fail(errors.ErrCodeNotFound, "application not found"), nil
		}

		session.UpdateActivity(now)
		if _, err := tx.ExecContext(ctx,
			`UPDATE draft_sessions SET last_activity_at = $2 WHERE id = $1`, session.ID, now); err != nil {
			return nil, fmt.Errorf("touch draft session: %w", err)
		}
		if err := m.trail.Append(ctx, tx, audit.ForApplication(app, audit.EventDraftResumed, in.Actor,
			"draft_session", session.ID, sessionMetadata(session))); err != nil {
			return nil, err
		}
		return &Result{OK: true, Application: app, Session: session}, nil
	})
}

func (m *Machine) newSession(ctx context.Context, db database.DBTX, applicationID string, partyID *string) (*models.DraftSession, error) {
	now := m.now()
	s := &models.DraftSession{
		ID:             uuid.New().String(),
		ApplicationID:  applicationID,
		PartyID:        partyID,
		Token:          strings.ReplaceAll(uuid.New().String()+uuid.New().String(), "-", ""),
		FormData:       json.RawMessage(`{}`),
		Progress:       json.RawMessage(`{}`),
		ExpiresAt:      now.Add(m.sessionTTL),
		LastActivityAt: now,
		CreatedAt:      now,
	}
	if _, err := db.ExecContext(ctx, `
		INSERT INTO draft_sessions (
			id, application_id, party_id, token, form_data, progress, expires_at, last_activity_at, created_at
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $8)`,
		s.ID, s.ApplicationID, s.PartyID, s.Token, []byte(s.FormData), []byte(s.Progress), s.ExpiresAt, now,
	); err != nil {
		return nil, fmt.Errorf("insert draft session: %w", err)
	}
	return s, nil
}

func insertParty(ctx context.Context, db database.DBTX, p *models.Party) error {
	if _, err := db.ExecContext(ctx, `
		INSERT INTO parties (
			id, application_id, role, status, email, phone, first_name, last_name,
			invited_at, created_at, updated_at
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $10)`,
		p.ID, p.ApplicationID, string(p.Role), string(p.Status), p.Email, p.Phone, p.FirstName, p.LastName,
		p.InvitedAt, p.CreatedAt,
	); err != nil {
		return fmt.Errorf("insert party: %w", err)
	}
	return nil
}

func findSession(ctx context.Context, db database.DBTX, query string, args ...interface{}) (*models.DraftSession, error) {
	var (
		s        models.DraftSession
		formData []byte
		progress []byte
	)
	err := db.QueryRowContext(ctx, query, args...).Scan(&s.ID, &s.ApplicationID, &s.PartyID, &s.Token,
		&formData, &progress, &s.ExpiresAt, &s.LastActivityAt, &s.CreatedAt)
	if stderrors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("load draft session: %w", err)
	}
	s.FormData = orEmptyObject(formData)
	s.Progress = orEmptyObject(progress)
	return &s, nil
}

func sessionMetadata(s *models.DraftSession) map[string]interface{} {
	meta := map[string]interface{}{"expiresAt": s.ExpiresAt}
	if s.PartyID != nil {
		meta["partyId"] = *s.PartyID
	}
	return meta
}

// mergeObjects overlays the top-level keys of patch onto base.
func mergeObjects(base, patch json.RawMessage) (json.RawMessage, error) {
	if len(patch) == 0 {
		return orEmptyObject(base), nil
	}
	merged := map[string]json.RawMessage{}
	if len(base) > 0 {
		if err := json.Unmarshal(base, &merged); err != nil {
			return nil, fmt.Errorf("stored value is not an object: %w", err)
		}
	}
	var overlay map[string]json.RawMessage
	if err := json.Unmarshal(patch, &overlay); err != nil {
		return nil, fmt.Errorf("must be a JSON object: %w", err)
	}
	for k, v := range overlay {
		merged[k] = v
	}
	return json.Marshal(merged)
}

func orEmptyObject(b []byte) json.RawMessage {
	if len(b) == 0 {
		return json.RawMessage(`{}`)
	}
	return json.RawMessage(b)
}

func optional(s string) *string {
	if s == "" {
		return nil
	}
	return &s
}
