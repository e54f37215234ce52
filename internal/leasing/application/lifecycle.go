package application

import (
	"context"
	"database/sql"
	"fmt"

	"leasing-workers/internal/common/database"
	"leasing-workers/internal/common/errors"
	"leasing-workers/internal/leasing/audit"
	"leasing-workers/internal/leasing/decisioning"
	"leasing-workers/internal/leasing/payment"
	"leasing-workers/internal/leasing/reservation"
	"leasing-workers/internal/leasing/store"
	"leasing-workers/internal/models"
)

// TransitionInput addresses an application for a simple transition.
type TransitionInput struct {
	ApplicationID string `json:"applicationId"`
	Actor         string `json:"actor,omitempty"`
}

// StartReview moves a SUBMITTED application to IN_REVIEW.
func (m *Machine) StartReview(ctx context.Context, in TransitionInput) (*Result, error) {
	if err := errors.RequireField("applicationId", in.ApplicationID); err != nil {
		return nil, err
	}

	return m.run(ctx, "startReview", func(ctx context.Context, tx *sql.Tx) (*Result, error) {
		app, result, err := m.lockFor(ctx, tx, in.ApplicationID, models.StatusSubmitted)
		if app == nil || err != nil {
			return result, err
		}
		if err := m.setStatus(ctx, tx, app, models.StatusInReview); err != nil {
			return nil, err
		}
		if err := m.appEvent(ctx, tx, app, audit.EventReviewStarted, in.Actor, nil); err != nil {
			return nil, err
		}
		return &Result{OK: true, Application: app}, nil
	})
}

type DecideInput struct {
	ApplicationID string `json:"applicationId"`
	decisioning.DecisionInput
}

// Decide records the next decision version and moves the application to
// DECISIONED. Approving outcomes claim the unit with a soft hold before
// anything is written, so a HOLD_CONFLICT leaves the application untouched.
// A denial releases the application's reservations.
func (m *Machine) Decide(ctx context.Context, in DecideInput) (*Result, error) {
	if err := errors.RequireField("applicationId", in.ApplicationID); err != nil {
		return nil, err
	}
	if err := errors.RequireField("decidedBy", in.DecidedBy); err != nil {
		return nil, err
	}
	if !in.Outcome.Valid() {
		return nil, errors.NewInvalidInputError("outcome", fmt.Sprintf("unknown decision outcome %q", in.Outcome))
	}

	return m.run(ctx, "decide", func(ctx context.Context, tx *sql.Tx) (*Result, error) {
		app, err := store.LockApplication(ctx, tx, in.ApplicationID)
		if err != nil {
			return nil, err
		}
		if app == nil {
			return fail(errors.ErrCodeNotFound, "application not found"), nil
		}
		if !app.Status.IsUnderReview() {
			return fail(errors.ErrCodeInvalidStatus, fmt.Sprintf("cannot decide from %s", app.Status)), nil
		}

		result := &Result{OK: true, Application: app}
		if in.Outcome.IsApproving() {
			claim, err := m.claimForApproval(ctx, tx, app, in.DecidedBy)
			if err != nil {
				return nil, err
			}
			if !claim.OK {
				conflict := fail(errors.ErrCodeHoldConflict, claim.Message)
				conflict.Application = app
				conflict.HolderApplicationID = claim.HolderApplicationID
				conflict.HolderExpiresAt = claim.HolderExpiresAt
				return conflict, nil
			}
			result.Reservation = claim.Reservation
		} else {
			released, err := m.ledger.ReleaseAllForApplication(ctx, tx, app.ID, models.ReleaseDecisioned, in.DecidedBy)
			if err != nil {
				return nil, err
			}
			result.Released = released
		}

		rec, err := m.decisions.Append(ctx, tx, app.ID, in.DecisionInput)
		if err != nil {
			return nil, err
		}
		result.Decision = rec

		now := m.now()
		if _, err := tx.ExecContext(ctx, `
			UPDATE applications SET status = 'DECISIONED', decisioned_at = $2, updated_at = $2
			WHERE id = $1`, app.ID, now); err != nil {
			return nil, fmt.Errorf("decision application: %w", err)
		}
		app.Status = models.StatusDecisioned
		app.DecisionedAt = &now
		app.UpdatedAt = now

		if err := m.appEvent(ctx, tx, app, audit.EventDecisioned, in.DecidedBy, map[string]interface{}{
			"outcome": string(rec.Outcome),
			"version": rec.Version,
		}); err != nil {
			return nil, err
		}
		return result, nil
	})
}

// claimForApproval keeps an existing hold, upgrades a screening lock, or
// places a new soft hold.
func (m *Machine) claimForApproval(ctx context.Context, tx database.DBTX, app *models.Application, actor string) (*reservation.Result, error) {
	active, err := m.ledger.ActiveForApplication(ctx, tx, app.ID)
	if err != nil {
		return nil, err
	}
	var lock *models.UnitReservation
	for i := range active {
		if active[i].Kind.IsHold() {
			return &reservation.Result{OK: true, Reservation: &active[i], AlreadyHeld: true}, nil
		}
		if active[i].Kind == models.KindScreeningLock {
			lock = &active[i]
		}
	}

	policy, err := m.policyFor(ctx, tx, app)
	if err != nil {
		return nil, err
	}
	expiresAt := hoursFrom(m.now(), policy.SoftHoldTTLHours)
	if lock != nil {
		return m.ledger.UpgradeScreeningLockToSoftHold(ctx, tx, app.ID, expiresAt, actor)
	}
	return m.ledger.CreateSoftHold(ctx, tx, reservation.ClaimRequest{
		OrgID:         app.OrgID,
		UnitID:        app.UnitID,
		ApplicationID: app.ID,
		ExpiresAt:     expiresAt,
		Actor:         actor,
	})
}

// Withdraw closes the application, releases its reservations and opens a
// refund request for every eligible payment.
func (m *Machine) Withdraw(ctx context.Context, in TransitionInput) (*Result, error) {
	if err := errors.RequireField("applicationId", in.ApplicationID); err != nil {
		return nil, err
	}

	return m.run(ctx, "withdraw", func(ctx context.Context, tx *sql.Tx) (*Result, error) {
		app, err := store.LockApplication(ctx, tx, in.ApplicationID)
		if err != nil {
			return nil, err
		}
		if app == nil {
			return fail(errors.ErrCodeNotFound, "application not found"), nil
		}
		switch app.Status {
		case models.StatusClosed:
			result := fail(errors.ErrCodeAlreadyClosed, "application is already closed")
			result.Application = app
			return result, nil
		case models.StatusConverted:
			return fail(errors.ErrCodeInvalidStatus, "converted applications cannot be withdrawn"), nil
		}

		released, err := m.ledger.ReleaseAllForApplication(ctx, tx, app.ID, models.ReleaseWithdrawn, in.Actor)
		if err != nil {
			return nil, err
		}
		intents, err := payment.IntentsForApplication(ctx, tx, app.ID)
		if err != nil {
			return nil, err
		}
		refunds, err := m.refunds.EvaluateIntents(ctx, tx, app, intents, in.Actor)
		if err != nil {
			return nil, err
		}

		from := app.Status
		if err := m.close(ctx, tx, app, models.ClosedReasonWithdrawn); err != nil {
			return nil, err
		}
		if err := m.appEvent(ctx, tx, app, audit.EventWithdrawn, in.Actor, map[string]interface{}{
			"fromStatus":           string(from),
			"releasedReservations": len(released),
			"refundEvaluations":    len(refunds),
		}); err != nil {
			return nil, err
		}
		return &Result{OK: true, Application: app, Released: released, Refunds: refunds}, nil
	})
}

// Convert moves a DECISIONED application whose latest decision approves it
// to CONVERTED.
func (m *Machine) Convert(ctx context.Context, in TransitionInput) (*Result, error) {
	if err := errors.RequireField("applicationId", in.ApplicationID); err != nil {
		return nil, err
	}

	return m.run(ctx, "convert", func(ctx context.Context, tx *sql.Tx) (*Result, error) {
		app, result, err := m.lockFor(ctx, tx, in.ApplicationID, models.StatusDecisioned)
		if app == nil || err != nil {
			return result, err
		}
		latest, err := m.decisions.Latest(ctx, tx, app.ID)
		if err != nil {
			return nil, err
		}
		if latest == nil || !latest.Outcome.IsApproving() {
			result := fail(errors.ErrCodeNotEligible, "latest decision does not approve the application")
			result.Application = app
			result.Decision = latest
			return result, nil
		}

		if err := m.setStatus(ctx, tx, app, models.StatusConverted); err != nil {
			return nil, err
		}
		if err := m.appEvent(ctx, tx, app, audit.EventConverted, in.Actor, map[string]interface{}{
			"decisionVersion": latest.Version,
		}); err != nil {
			return nil, err
		}
		return &Result{OK: true, Application: app, Decision: latest}, nil
	})
}

// CloseExpired closes a SUBMITTED application whose expiry has passed and
// releases its reservations.
func (m *Machine) CloseExpired(ctx context.Context, in TransitionInput) (*Result, error) {
	if err := errors.RequireField("applicationId", in.ApplicationID); err != nil {
		return nil, err
	}

	return m.run(ctx, "closeExpired", func(ctx context.Context, tx *sql.Tx) (*Result, error) {
		app, result, err := m.lockFor(ctx, tx, in.ApplicationID, models.StatusSubmitted)
		if app == nil || err != nil {
			return result, err
		}
		if app.ExpiresAt == nil || m.now().Before(*app.ExpiresAt) {
			result := fail(errors.ErrCodeNotEligible, "application has not expired")
			result.Application = app
			return result, nil
		}

		released, err := m.ledger.ReleaseAllForApplication(ctx, tx, app.ID, models.ReleaseExpired, in.Actor)
		if err != nil {
			return nil, err
		}
		if err := m.close(ctx, tx, app, models.ClosedReasonExpired); err != nil {
			return nil, err
		}
		if err := m.appEvent(ctx, tx, app, audit.EventExpired, in.Actor, map[string]interface{}{
			"releasedReservations": len(released),
		}); err != nil {
			return nil, err
		}
		return &Result{OK: true, Application: app, Released: released}, nil
	})
}

// lockFor locks the application and checks it is in want. When app is nil
// the returned result carries the rejection.
func (m *Machine) lockFor(ctx context.Context, tx database.DBTX, id string, want models.ApplicationStatus) (*models.Application, *Result, error) {
	app, err := store.LockApplication(ctx, tx, id)
	if err != nil {
		return nil, nil, err
	}
	if app == nil {
		return nil, fail(errors.ErrCodeNotFound, "application not found"), nil
	}
	if app.Status != want {
		result := fail(errors.ErrCodeInvalidStatus, fmt.Sprintf("application is %s, expected %s", app.Status, want))
		result.Application = app
		return nil, result, nil
	}
	return app, nil, nil
}

func (m *Machine) setStatus(ctx context.Context, db database.DBTX, app *models.Application, status models.ApplicationStatus) error {
	now := m.now()
	if err := store.SetStatus(ctx, db, app.ID, status, now); err != nil {
		return err
	}
	app.Status = status
	app.UpdatedAt = now
	return nil
}

func (m *Machine) close(ctx context.Context, db database.DBTX, app *models.Application, reason string) error {
	now := m.now()
	if _, err := db.ExecContext(ctx, `
		UPDATE applications
		SET status = 'CLOSED', closed_at = $2, closed_reason = $3, updated_at = $2
		WHERE id = $1`, app.ID, now, reason); err != nil {
		return fmt.Errorf("close application: %w", err)
	}
	app.Status = models.StatusClosed
	app.ClosedAt = &now
	app.ClosedReason = &reason
	app.UpdatedAt = now
	return nil
}
