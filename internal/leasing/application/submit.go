package application

import (
	"context"
	"database/sql"
	"encoding/json"
	stderrors "errors"
	"fmt"

	"leasing-workers/internal/common/database"
	"leasing-workers/internal/common/errors"
	"leasing-workers/internal/leasing/audit"
	"leasing-workers/internal/leasing/reservation"
	"leasing-workers/internal/leasing/store"
	"leasing-workers/internal/models"

	"github.com/google/uuid"
)

// ConsentKindScreening is the consent template kind required before submit.
const ConsentKindScreening = "SCREENING"

type SubmitInput struct {
	ApplicationID string `json:"applicationId"`
	// ConsentSigned records screening consent against the active template
	// when none is on file yet.
	ConsentSigned bool   `json:"consentSigned,omitempty"`
	Actor         string `json:"actor,omitempty"`
}

// Submit moves a DRAFT application to SUBMITTED. The availability snapshot
// is persisted on every attempt. Rejections are audited and commit with the
// snapshot.
func (m *Machine) Submit(ctx context.Context, in SubmitInput) (*Result, error) {
	if err := errors.RequireField("applicationId", in.ApplicationID); err != nil {
		return nil, err
	}

	return m.run(ctx, "submit", func(ctx context.Context, tx *sql.Tx) (*Result, error) {
		app, err := store.LockApplication(ctx, tx, in.ApplicationID)
		if err != nil {
			return nil, err
		}
		if app == nil {
			return fail(errors.ErrCodeNotFound, "application not found"), nil
		}
		if app.Status != models.StatusDraft {
			return fail(errors.ErrCodeInvalidStatus, fmt.Sprintf("cannot submit from %s", app.Status)), nil
		}

		result, err := m.submit(ctx, tx, app, in)
		if err != nil {
			return nil, err
		}
		result.Application = app
		if !result.OK {
			if err := m.appEvent(ctx, tx, app, audit.EventSubmitRejected, in.Actor, map[string]interface{}{
				"errorCode": string(result.ErrorCode),
			}); err != nil {
				return nil, err
			}
		}
		return result, nil
	})
}

func (m *Machine) submit(ctx context.Context, tx database.DBTX, app *models.Application, in SubmitInput) (*Result, error) {
	policy, err := m.policyFor(ctx, tx, app)
	if err != nil {
		return nil, err
	}

	snapshot, err := m.captureAvailability(ctx, tx, app)
	if err != nil {
		return nil, err
	}
	if !snapshot.Available {
		result := fail(errors.ErrCodeUnitUnavailable, "unit is held by another application")
		result.Snapshot = snapshot
		return result, nil
	}

	parties, err := store.ListParties(ctx, tx, app.ID)
	if err != nil {
		return nil, err
	}
	primary, msg := checkParties(app, parties, policy.RequiredCoApplicants)
	if msg != "" {
		result := fail(errors.ErrCodePartiesIncomplete, msg)
		result.Snapshot = snapshot
		return result, nil
	}

	if policy.UnitIntakeMode == models.IntakeCapNSubmits {
		var submitted int
		if err := tx.QueryRowContext(ctx, `
			SELECT COUNT(*) FROM applications
			WHERE unit_id = $1 AND status = 'SUBMITTED' AND id <> $2`,
			app.UnitID, app.ID).Scan(&submitted); err != nil {
			return nil, fmt.Errorf("count submitted applications: %w", err)
		}
		if submitted >= policy.SubmitCap {
			result := fail(errors.ErrCodeSubmitCapReached,
				fmt.Sprintf("unit already has %d submitted applications", submitted))
			result.Snapshot = snapshot
			return result, nil
		}
	}

	signedBy := in.Actor
	if signedBy == "" {
		signedBy = primary.Email
	}
	consented, err := m.ensureConsent(ctx, tx, app, in.ConsentSigned, signedBy)
	if err != nil {
		return nil, err
	}
	if !consented {
		result := fail(errors.ErrCodeConsentRequired, "screening consent has not been signed")
		result.Snapshot = snapshot
		return result, nil
	}

	now := m.now()
	var lock *models.UnitReservation
	if policy.UnitIntakeMode == models.IntakeLockOnSubmit {
		claim, err := m.ledger.CreateScreeningLock(ctx, tx, reservation.ClaimRequest{
			OrgID:         app.OrgID,
			UnitID:        app.UnitID,
			ApplicationID: app.ID,
			ExpiresAt:     hoursFrom(now, policy.ScreeningLockTTLHours),
			Actor:         in.Actor,
		})
		if err != nil {
			return nil, err
		}
		if !claim.OK {
			result := fail(errors.ErrCodeReservationConflict, claim.Message)
			result.Snapshot = snapshot
			result.HolderApplicationID = claim.HolderApplicationID
			result.HolderExpiresAt = claim.HolderExpiresAt
			return result, nil
		}
		lock = claim.Reservation
	}

	expiresAt := hoursFrom(now, policy.SubmittedTTLHours)
	if _, err := tx.ExecContext(ctx, `
		UPDATE applications
		SET status = 'SUBMITTED', submitted_at = $2, expires_at = $3, updated_at = $2
		WHERE id = $1`, app.ID, now, expiresAt); err != nil {
		return nil, fmt.Errorf("submit application: %w", err)
	}
	app.Status = models.StatusSubmitted
	app.SubmittedAt = &now
	app.ExpiresAt = expiresAt
	app.UpdatedAt = now

	items, err := m.requirements.Generate(ctx, tx, app, policy.RequirementTemplates, in.Actor)
	if err != nil {
		return nil, err
	}

	meta := map[string]interface{}{
		"unitIntakeMode": policy.UnitIntakeMode,
		"requirements":   len(items),
	}
	if lock != nil {
		meta["reservationId"] = lock.ID
	}
	if err := m.appEvent(ctx, tx, app, audit.EventSubmitted, in.Actor, meta); err != nil {
		return nil, err
	}
	return &Result{OK: true, Snapshot: snapshot, Reservation: lock, Requirements: items}, nil
}

// captureAvailability checks for another application's hold on the unit and
// stores the result on the application row.
func (m *Machine) captureAvailability(ctx context.Context, db database.DBTX, app *models.Application) (*models.UnitAvailabilitySnapshot, error) {
	conflict, err := m.ledger.FindConflictingHold(ctx, db, app.UnitID, app.ID)
	if err != nil {
		return nil, err
	}
	now := m.now()
	snapshot := &models.UnitAvailabilitySnapshot{CheckedAt: now, Available: conflict == nil}
	if conflict != nil {
		snapshot.ConflictingReservationID = conflict.ID
		snapshot.ConflictingApplicationID = conflict.HolderApplicationID()
		snapshot.ConflictingKind = string(conflict.Kind)
	}

	raw, err := json.Marshal(snapshot)
	if err != nil {
		return nil, fmt.Errorf("marshal availability snapshot: %w", err)
	}
	if _, err := db.ExecContext(ctx, `
		UPDATE applications SET unit_availability_snapshot = $2, updated_at = $3
		WHERE id = $1`, app.ID, raw, now); err != nil {
		return nil, fmt.Errorf("store availability snapshot: %w", err)
	}
	app.UnitAvailabilitySnapshot = raw
	app.UpdatedAt = now
	return snapshot, nil
}

// checkParties returns the primary party, or a reason the party set is not
// ready for submit.
func checkParties(app *models.Application, parties []models.Party, requiredCoApplicants int) (*models.Party, string) {
	var (
		primary  *models.Party
		complete int
	)
	for i := range parties {
		p := &parties[i]
		switch p.Role {
		case models.RolePrimary:
			primary = p
		case models.RoleCoApplicant:
			if p.Status == models.PartyComplete {
				complete++
			}
		}
	}
	if primary == nil {
		return nil, "application has no primary party"
	}
	if primary.Status != models.PartyComplete {
		return nil, "primary party has not completed their section"
	}
	if app.ApplicationType == models.ApplicationTypeJoint {
		required := requiredCoApplicants
		if required < 1 {
			required = 1
		}
		if complete < required {
			return nil, fmt.Sprintf("joint application needs %d complete co-applicants, has %d", required, complete)
		}
	}
	return primary, ""
}

// ensureConsent reports whether screening consent against the active
// template is on file, recording it when signed is set. With no active
// template consent is not required.
func (m *Machine) ensureConsent(ctx context.Context, db database.DBTX, app *models.Application, signed bool, signedBy string) (bool, error) {
	var templateID string
	err := db.QueryRowContext(ctx, `
		SELECT id FROM consent_templates
		WHERE org_id = $1 AND kind = $2 AND is_active
		ORDER BY version DESC
		LIMIT 1`, app.OrgID, ConsentKindScreening).Scan(&templateID)
	if stderrors.Is(err, sql.ErrNoRows) {
		return true, nil
	}
	if err != nil {
		return false, fmt.Errorf("load consent template: %w", err)
	}

	var onFile bool
	if err := db.QueryRowContext(ctx, `
		SELECT EXISTS (
			SELECT 1 FROM application_consents
			WHERE application_id = $1 AND consent_template_id = $2
		)`, app.ID, templateID).Scan(&onFile); err != nil {
		return false, fmt.Errorf("check consent: %w", err)
	}
	if onFile {
		return true, nil
	}
	if !signed {
		return false, nil
	}

	if _, err := db.ExecContext(ctx, `
		INSERT INTO application_consents (id, application_id, consent_template_id, signed_by, signed_at)
		VALUES ($1, $2, $3, $4, $5)
		ON CONFLICT (application_id, consent_template_id) DO NOTHING`,
		uuid.New().String(), app.ID, templateID, signedBy, m.now()); err != nil {
		return false, fmt.Errorf("record consent: %w", err)
	}
	return true, nil
}
