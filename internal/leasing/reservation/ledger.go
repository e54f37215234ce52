// Package reservation grants, upgrades, releases and expires claims on units.
//
// Screening locks are exclusive through the partial unique index
// unit_reservations_one_active_screening_lock. Soft and hard holds are
// checked cooperatively: a read for other active holds, then an insert.
// Two concurrent soft-hold creations for the same unit can both succeed.
package reservation

import (
	"context"
	"database/sql"
	stderrors "errors"
	"fmt"
	"time"

	"leasing-workers/internal/common/database"
	"leasing-workers/internal/common/errors"
	"leasing-workers/internal/common/logger"
	"leasing-workers/internal/common/metrics"
	"leasing-workers/internal/leasing/audit"
	"leasing-workers/internal/models"

	"github.com/google/uuid"
)

// ScreeningLockConstraint is the partial unique index backing screening-lock exclusion.
const ScreeningLockConstraint = "unit_reservations_one_active_screening_lock"

const targetType = "unit_reservation"

const columns = `id, org_id, unit_id, application_id, kind, status, expires_at,
	released_at, release_reason_code, created_at, updated_at`

// Result is the outcome of a ledger operation. OK is false for expected
// business conditions; ErrorCode names which one.
type Result struct {
	OK                  bool                    `json:"ok"`
	ErrorCode           errors.ErrorCode        `json:"errorCode,omitempty"`
	Message             string                  `json:"message,omitempty"`
	Reservation         *models.UnitReservation `json:"reservation,omitempty"`
	HolderApplicationID string                  `json:"holderApplicationId,omitempty"`
	HolderExpiresAt     *time.Time              `json:"expiresAt,omitempty"`
	AlreadyHeld         bool                    `json:"alreadyHeld,omitempty"`
}

func fail(code errors.ErrorCode, msg string) *Result {
	return &Result{ErrorCode: code, Message: msg}
}

// ClaimRequest describes a new claim.
type ClaimRequest struct {
	OrgID         string
	UnitID        string
	ApplicationID string
	ExpiresAt     *time.Time
	Actor         string
}

func (r ClaimRequest) validate(needApplication bool) error {
	if err := errors.RequireField("orgId", r.OrgID); err != nil {
		return err
	}
	if err := errors.RequireField("unitId", r.UnitID); err != nil {
		return err
	}
	if needApplication {
		return errors.RequireField("applicationId", r.ApplicationID)
	}
	return nil
}

type Ledger struct {
	trail  *audit.Trail
	logger logger.Logger
	now    func() time.Time
}

func NewLedger(trail *audit.Trail, log logger.Logger) *Ledger {
	return &Ledger{
		trail:  trail,
		logger: logger.Component(log, "reservation-ledger"),
		now:    func() time.Time { return time.Now().UTC() },
	}
}

// CreateScreeningLock claims the unit exclusively for the application. It
// must run inside a transaction: the insert is wrapped in a savepoint so an
// expected unique violation leaves the transaction usable. A lock already
// held by the same application is returned as-is.
func (l *Ledger) CreateScreeningLock(ctx context.Context, tx database.DBTX, req ClaimRequest) (*Result, error) {
	if err := req.validate(true); err != nil {
		return nil, err
	}

	existing, err := l.findOne(ctx, tx, `
		SELECT `+columns+` FROM unit_reservations
		WHERE unit_id = $1 AND application_id = $2
		  AND kind = 'SCREENING_LOCK' AND status = 'ACTIVE'
		LIMIT 1`, req.UnitID, req.ApplicationID)
	if err != nil {
		return nil, err
	}
	if existing != nil {
		return &Result{OK: true, Reservation: existing, AlreadyHeld: true}, nil
	}

	res := l.newReservation(req, models.KindScreeningLock)
	for attempt := 1; ; attempt++ {
		inserted, err := l.insertScreeningLock(ctx, tx, res)
		if err != nil {
			return nil, err
		}
		if inserted {
			break
		}
		result, err := l.lockConflict(ctx, tx, req)
		if !stderrors.Is(err, errHolderReleased) {
			return result, err
		}
		// The holder went away between the violation and the lookup.
		if attempt == 2 {
			return nil, errors.NewQueryExecutionFailedError("create screening lock", err)
		}
	}

	if err := l.appendEvent(ctx, tx, res, audit.EventReservationCreated, req.Actor, nil); err != nil {
		return nil, err
	}
	return &Result{OK: true, Reservation: res}, nil
}

// insertScreeningLock reports false when another application holds the lock.
func (l *Ledger) insertScreeningLock(ctx context.Context, tx database.DBTX, res *models.UnitReservation) (bool, error) {
	if _, err := tx.ExecContext(ctx, `SAVEPOINT screening_lock`); err != nil {
		return false, fmt.Errorf("savepoint screening_lock: %w", err)
	}
	if err := l.insert(ctx, tx, res); err != nil {
		if !database.IsUniqueViolation(err, ScreeningLockConstraint) {
			return false, err
		}
		if _, rbErr := tx.ExecContext(ctx, `ROLLBACK TO SAVEPOINT screening_lock`); rbErr != nil {
			return false, fmt.Errorf("rollback to savepoint screening_lock: %w", rbErr)
		}
		return false, nil
	}
	if _, err := tx.ExecContext(ctx, `RELEASE SAVEPOINT screening_lock`); err != nil {
		return false, fmt.Errorf("release savepoint screening_lock: %w", err)
	}
	return true, nil
}

var errHolderReleased = stderrors.New("screening lock holder released before lookup")

func (l *Ledger) lockConflict(ctx context.Context, tx database.DBTX, req ClaimRequest) (*Result, error) {
	var (
		holderID  sql.NullString
		expiresAt *time.Time
	)
	err := tx.QueryRowContext(ctx, `
		SELECT application_id, expires_at FROM unit_reservations
		WHERE unit_id = $1 AND kind = 'SCREENING_LOCK' AND status = 'ACTIVE'
		LIMIT 1`, req.UnitID).Scan(&holderID, &expiresAt)
	if stderrors.Is(err, sql.ErrNoRows) {
		return nil, errHolderReleased
	}
	if err != nil {
		return nil, fmt.Errorf("load screening lock holder: %w", err)
	}

	metrics.ReservationConflicts.WithLabelValues(string(models.KindScreeningLock)).Inc()
	l.logger.Info("screening lock conflict", map[string]interface{}{
		"unitId":              req.UnitID,
		"applicationId":       req.ApplicationID,
		"holderApplicationId": holderID.String,
	})

	result := fail(errors.ErrCodeReservationConflict, "unit is locked for screening by another application")
	result.HolderApplicationID = holderID.String
	result.HolderExpiresAt = expiresAt
	return result, nil
}

// CreateSoftHold claims the unit for an approved application unless another
// application already holds a soft or hard hold on it.
func (l *Ledger) CreateSoftHold(ctx context.Context, db database.DBTX, req ClaimRequest) (*Result, error) {
	if err := req.validate(true); err != nil {
		return nil, err
	}

	conflict, err := l.FindConflictingHold(ctx, db, req.UnitID, req.ApplicationID)
	if err != nil {
		return nil, err
	}
	if conflict != nil {
		return l.holdConflict(conflict), nil
	}

	res := l.newReservation(req, models.KindSoftHold)
	if err := l.insert(ctx, db, res); err != nil {
		return nil, err
	}
	if err := l.appendEvent(ctx, db, res, audit.EventReservationCreated, req.Actor, nil); err != nil {
		return nil, err
	}
	return &Result{OK: true, Reservation: res}, nil
}

// CreateHardHold places an administrative hold. Hard holds override the
// cooperative check and may coexist with an existing soft hold.
func (l *Ledger) CreateHardHold(ctx context.Context, db database.DBTX, req ClaimRequest) (*Result, error) {
	if err := req.validate(false); err != nil {
		return nil, err
	}

	res := l.newReservation(req, models.KindHardHold)
	if err := l.insert(ctx, db, res); err != nil {
		return nil, err
	}
	if err := l.appendEvent(ctx, db, res, audit.EventReservationCreated, req.Actor, nil); err != nil {
		return nil, err
	}
	return &Result{OK: true, Reservation: res}, nil
}

func (l *Ledger) holdConflict(conflict *models.UnitReservation) *Result {
	metrics.ReservationConflicts.WithLabelValues(string(conflict.Kind)).Inc()
	result := fail(errors.ErrCodeHoldConflict, fmt.Sprintf("unit already has an active %s", conflict.Kind))
	result.HolderApplicationID = conflict.HolderApplicationID()
	result.HolderExpiresAt = conflict.ExpiresAt
	return result
}

// FindConflictingHold returns the oldest active soft or hard hold on the
// unit not owned by excludeApplicationID, or nil.
func (l *Ledger) FindConflictingHold(ctx context.Context, db database.DBTX, unitID, excludeApplicationID string) (*models.UnitReservation, error) {
	return l.findOne(ctx, db, `
		SELECT `+columns+` FROM unit_reservations
		WHERE unit_id = $1 AND status = 'ACTIVE'
		  AND kind IN ('SOFT_HOLD', 'HARD_HOLD')
		  AND (application_id IS NULL OR application_id <> $2)
		ORDER BY created_at, id
		LIMIT 1`, unitID, excludeApplicationID)
}

// ActiveForApplication lists the application's active reservations, oldest first.
func (l *Ledger) ActiveForApplication(ctx context.Context, db database.DBTX, applicationID string) ([]models.UnitReservation, error) {
	return l.findMany(ctx, db, `
		SELECT `+columns+` FROM unit_reservations
		WHERE application_id = $1 AND status = 'ACTIVE'
		ORDER BY created_at, id`, applicationID)
}

// ReleaseReservation releases one reservation. A reservation that is no
// longer ACTIVE is reported as NOT_ACTIVE.
func (l *Ledger) ReleaseReservation(ctx context.Context, db database.DBTX, reservationID, reasonCode, actor string) (*Result, error) {
	if err := errors.RequireField("reservationId", reservationID); err != nil {
		return nil, err
	}

	res, err := l.findOne(ctx, db, `
		SELECT `+columns+` FROM unit_reservations WHERE id = $1 FOR UPDATE`, reservationID)
	if err != nil {
		return nil, err
	}
	if res == nil {
		return fail(errors.ErrCodeNotFound, "reservation not found"), nil
	}
	if res.Status != models.ReservationActive {
		result := fail(errors.ErrCodeNotActive, fmt.Sprintf("reservation is %s", res.Status))
		result.Reservation = res
		return result, nil
	}

	now := l.now()
	if _, err := db.ExecContext(ctx, `
		UPDATE unit_reservations
		SET status = 'RELEASED', released_at = $2, release_reason_code = $3, updated_at = $2
		WHERE id = $1`, res.ID, now, reasonCode); err != nil {
		return nil, fmt.Errorf("release reservation %s: %w", res.ID, err)
	}
	res.Status = models.ReservationReleased
	res.ReleasedAt = &now
	res.ReleaseReasonCode = &reasonCode
	res.UpdatedAt = now

	if err := l.appendEvent(ctx, db, res, audit.EventReservationReleased, actor, map[string]interface{}{
		"releaseReasonCode": reasonCode,
	}); err != nil {
		return nil, err
	}
	return &Result{OK: true, Reservation: res}, nil
}

// ReleaseAllForApplication releases every active reservation the
// application holds and returns them.
func (l *Ledger) ReleaseAllForApplication(ctx context.Context, db database.DBTX, applicationID, reasonCode, actor string) ([]models.UnitReservation, error) {
	if err := errors.RequireField("applicationId", applicationID); err != nil {
		return nil, err
	}

	released, err := l.findMany(ctx, db, `
		UPDATE unit_reservations
		SET status = 'RELEASED', released_at = $2, release_reason_code = $3, updated_at = $2
		WHERE application_id = $1 AND status = 'ACTIVE'
		RETURNING `+columns, applicationID, l.now(), reasonCode)
	if err != nil {
		return nil, err
	}

	for i := range released {
		if err := l.appendEvent(ctx, db, &released[i], audit.EventReservationReleased, actor, map[string]interface{}{
			"releaseReasonCode": reasonCode,
		}); err != nil {
			return nil, err
		}
	}
	return released, nil
}

// ExpireReservations moves every ACTIVE reservation whose expiry has passed
// to EXPIRED, one audit event each.
func (l *Ledger) ExpireReservations(ctx context.Context, db database.DBTX, now time.Time) ([]models.UnitReservation, error) {
	expired, err := l.findMany(ctx, db, `
		UPDATE unit_reservations
		SET status = 'EXPIRED', release_reason_code = 'EXPIRED', updated_at = $1
		WHERE status = 'ACTIVE' AND expires_at IS NOT NULL AND expires_at <= $1
		RETURNING `+columns, now)
	if err != nil {
		return nil, err
	}

	for i := range expired {
		if err := l.appendEvent(ctx, db, &expired[i], audit.EventReservationExpired, audit.ActorSystem, nil); err != nil {
			return nil, err
		}
	}
	if len(expired) > 0 {
		l.logger.Info("reservations expired", map[string]interface{}{"count": len(expired)})
	}
	return expired, nil
}

// UpgradeScreeningLockToSoftHold converts the application's active
// screening lock into a soft hold in place. A soft or hard hold by another
// application, including one that lands between the check and the update,
// is reported as HOLD_CONFLICT.
func (l *Ledger) UpgradeScreeningLockToSoftHold(ctx context.Context, tx database.DBTX, applicationID string, expiresAt *time.Time, actor string) (*Result, error) {
	if err := errors.RequireField("applicationId", applicationID); err != nil {
		return nil, err
	}

	lock, err := l.findOne(ctx, tx, `
		SELECT `+columns+` FROM unit_reservations
		WHERE application_id = $1 AND kind = 'SCREENING_LOCK' AND status = 'ACTIVE'
		LIMIT 1
		FOR UPDATE`, applicationID)
	if err != nil {
		return nil, err
	}
	if lock == nil {
		return fail(errors.ErrCodeNotFound, "no active screening lock"), nil
	}

	conflict, err := l.FindConflictingHold(ctx, tx, lock.UnitID, applicationID)
	if err != nil {
		return nil, err
	}
	if conflict != nil {
		return l.holdConflict(conflict), nil
	}

	now := l.now()
	result, err := tx.ExecContext(ctx, `
		UPDATE unit_reservations
		SET kind = 'SOFT_HOLD', expires_at = $2, updated_at = $3
		WHERE id = $1 AND kind = 'SCREENING_LOCK' AND status = 'ACTIVE'`,
		lock.ID, expiresAt, now)
	if err != nil {
		return nil, fmt.Errorf("upgrade screening lock %s: %w", lock.ID, err)
	}
	if n, err := result.RowsAffected(); err != nil {
		return nil, fmt.Errorf("upgrade screening lock %s: %w", lock.ID, err)
	} else if n == 0 {
		metrics.ReservationConflicts.WithLabelValues(string(models.KindSoftHold)).Inc()
		return fail(errors.ErrCodeHoldConflict, "screening lock changed during upgrade"), nil
	}

	lock.Kind = models.KindSoftHold
	lock.ExpiresAt = expiresAt
	lock.UpdatedAt = now

	if err := l.appendEvent(ctx, tx, lock, audit.EventReservationUpgraded, actor, map[string]interface{}{
		"fromKind": string(models.KindScreeningLock),
	}); err != nil {
		return nil, err
	}
	return &Result{OK: true, Reservation: lock}, nil
}

func (l *Ledger) newReservation(req ClaimRequest, kind models.ReservationKind) *models.UnitReservation {
	now := l.now()
	res := &models.UnitReservation{
		ID:        uuid.New().String(),
		OrgID:     req.OrgID,
		UnitID:    req.UnitID,
		Kind:      kind,
		Status:    models.ReservationActive,
		ExpiresAt: req.ExpiresAt,
		CreatedAt: now,
		UpdatedAt: now,
	}
	if req.ApplicationID != "" {
		appID := req.ApplicationID
		res.ApplicationID = &appID
	}
	return res
}

func (l *Ledger) insert(ctx context.Context, db database.DBTX, res *models.UnitReservation) error {
	_, err := db.ExecContext(ctx, `
		INSERT INTO unit_reservations (
			id, org_id, unit_id, application_id, kind, status, expires_at, created_at, updated_at
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $8)`,
		res.ID, res.OrgID, res.UnitID, res.ApplicationID, string(res.Kind),
		string(res.Status), res.ExpiresAt, res.CreatedAt)
	if err != nil {
		return fmt.Errorf("insert %s: %w", res.Kind, err)
	}
	return nil
}

func (l *Ledger) appendEvent(ctx context.Context, db database.DBTX, res *models.UnitReservation, eventType, actor string, extra map[string]interface{}) error {
	metadata := map[string]interface{}{
		"unitId": res.UnitID,
		"kind":   string(res.Kind),
	}
	for k, v := range extra {
		metadata[k] = v
	}
	return l.trail.Append(ctx, db, models.AuditEvent{
		OrgID:         res.OrgID,
		ApplicationID: res.ApplicationID,
		EventType:     eventType,
		Actor:         actor,
		TargetType:    targetType,
		TargetID:      res.ID,
		Metadata:      metadata,
	})
}

type rowScanner interface {
	Scan(dest ...interface{}) error
}

func scanReservation(row rowScanner) (*models.UnitReservation, error) {
	var (
		r      models.UnitReservation
		kind   string
		status string
	)
	if err := row.Scan(&r.ID, &r.OrgID, &r.UnitID, &r.ApplicationID, &kind, &status,
		&r.ExpiresAt, &r.ReleasedAt, &r.ReleaseReasonCode, &r.CreatedAt, &r.UpdatedAt); err != nil {
		return nil, err
	}
	r.Kind = models.ReservationKind(kind)
	r.Status = models.ReservationStatus(status)
	return &r, nil
}

func (l *Ledger) findOne(ctx context.Context, db database.DBTX, query string, args ...interface{}) (*models.UnitReservation, error) {
	res, err := scanReservation(db.QueryRowContext(ctx, query, args...))
	if stderrors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("load reservation: %w", err)
	}
	return res, nil
}

func (l *Ledger) findMany(ctx context.Context, db database.DBTX, query string, args ...interface{}) ([]models.UnitReservation, error) {
	rows, err := db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("query reservations: %w", err)
	}
	defer rows.Close()

	var out []models.UnitReservation
	for rows.Next() {
		res, err := scanReservation(rows)
		if err != nil {
			return nil, fmt.Errorf("scan reservation: %w", err)
		}
		out = append(out, *res)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate reservations: %w", err)
	}
	return out, nil
}
