// Package application owns the application lifecycle:
//
//	DRAFT -> SUBMITTED -> IN_REVIEW <-> NEEDS_INFO -> DECISIONED -> CONVERTED | CLOSED
//
// and DRAFT, SUBMITTED, IN_REVIEW and NEEDS_INFO close directly on
// withdrawal or TTL expiry. Every operation runs in one transaction that
// row-locks the application; CLOSED and CONVERTED accept no mutations.
package application

import (
	"context"
	"database/sql"
	"time"

	"leasing-workers/internal/common/config"
	"leasing-workers/internal/common/database"
	"leasing-workers/internal/common/errors"
	"leasing-workers/internal/common/logger"
	"leasing-workers/internal/common/metrics"
	"leasing-workers/internal/common/observability"
	"leasing-workers/internal/leasing/audit"
	"leasing-workers/internal/leasing/configresolver"
	"leasing-workers/internal/leasing/decisioning"
	"leasing-workers/internal/leasing/refund"
	"leasing-workers/internal/leasing/requirements"
	"leasing-workers/internal/leasing/reservation"
	"leasing-workers/internal/models"
)

// Result is the outcome of a state machine operation. OK is false for
// expected business conditions named by ErrorCode.
type Result struct {
	OK        bool             `json:"ok"`
	ErrorCode errors.ErrorCode `json:"errorCode,omitempty"`
	Message   string           `json:"message,omitempty"`

	Application  *models.Application             `json:"application,omitempty"`
	Party        *models.Party                   `json:"party,omitempty"`
	Session      *models.DraftSession            `json:"session,omitempty"`
	Deduplicated bool                            `json:"deduplicated,omitempty"`
	Snapshot     *models.UnitAvailabilitySnapshot `json:"unitAvailability,omitempty"`
	Requirements []models.RequirementItem        `json:"requirements,omitempty"`
	Decision     *models.DecisionRecord          `json:"decision,omitempty"`

	Reservation         *models.UnitReservation  `json:"reservation,omitempty"`
	HolderApplicationID string                   `json:"holderApplicationId,omitempty"`
	HolderExpiresAt     *time.Time               `json:"expiresAt,omitempty"`
	Released            []models.UnitReservation `json:"releasedReservations,omitempty"`
	Refunds             []refund.Outcome         `json:"refunds,omitempty"`
}

func fail(code errors.ErrorCode, msg string) *Result {
	return &Result{ErrorCode: code, Message: msg}
}

// Deps are the collaborators the machine orchestrates.
type Deps struct {
	Resolver     *configresolver.Resolver
	Ledger       *reservation.Ledger
	Requirements *requirements.Engine
	Refunds      *refund.Service
	Decisions    *decisioning.Recorder
	Trail        *audit.Trail
}

type Machine struct {
	pg           *database.PostgresClient
	resolver     *configresolver.Resolver
	ledger       *reservation.Ledger
	requirements *requirements.Engine
	refunds      *refund.Service
	decisions    *decisioning.Recorder
	trail        *audit.Trail

	lookback   time.Duration
	sessionTTL time.Duration

	logger logger.Logger
	now    func() time.Time
}

func NewMachine(pg *database.PostgresClient, deps Deps, cfg config.LeasingConfig, log logger.Logger) *Machine {
	lookback := time.Duration(cfg.DuplicateLookbackHours) * time.Hour
	if lookback <= 0 {
		lookback = 24 * time.Hour
	}
	sessionTTL := time.Duration(cfg.DraftSessionTTLHours) * time.Hour
	if sessionTTL <= 0 {
		sessionTTL = 7 * 24 * time.Hour
	}
	return &Machine{
		pg:           pg,
		resolver:     deps.Resolver,
		ledger:       deps.Ledger,
		requirements: deps.Requirements,
		refunds:      deps.Refunds,
		decisions:    deps.Decisions,
		trail:        deps.Trail,
		lookback:     lookback,
		sessionTTL:   sessionTTL,
		logger:       logger.Component(log, "application-machine"),
		now:          func() time.Time { return time.Now().UTC() },
	}
}

// run executes op in a scoped transaction inside a span, recording the
// outcome metric. A business failure still commits what op wrote.
func (m *Machine) run(ctx context.Context, operation string, op func(ctx context.Context, tx *sql.Tx) (*Result, error)) (result *Result, err error) {
	ctx, span := observability.StartSpan(ctx, "application", operation)
	defer func() {
		ok, code := false, ""
		if result != nil {
			ok, code = result.OK, string(result.ErrorCode)
		}
		observability.EndSpan(span, ok, code, err)
		metrics.LeasingOperations.WithLabelValues("application."+operation, metrics.Outcome(ok && err == nil, code)).Inc()
	}()

	err = m.pg.WithTx(ctx, func(tx *sql.Tx) error {
		var opErr error
		result, opErr = op(ctx, tx)
		return opErr
	})
	if err != nil {
		m.logger.Error("operation failed", map[string]interface{}{
			"operation": operation,
			"error":     err.Error(),
		})
		return nil, err
	}
	if !result.OK {
		m.logger.Info("operation rejected", map[string]interface{}{
			"operation": operation,
			"errorCode": string(result.ErrorCode),
		})
	}
	return result, nil
}

func (m *Machine) policyFor(ctx context.Context, db database.DBTX, app *models.Application) (models.WorkflowPolicy, error) {
	res, err := m.resolver.Resolve(ctx, db, configresolver.Query{
		OrgID:            app.OrgID,
		PropertyID:       app.PropertyID,
		JurisdictionCode: app.Jurisdiction(),
		AsOf:             m.now(),
	})
	if err != nil {
		return models.WorkflowPolicy{}, err
	}
	return res.Policy, nil
}

func (m *Machine) appEvent(ctx context.Context, db database.DBTX, app *models.Application, eventType, actor string, metadata map[string]interface{}) error {
	return m.trail.Append(ctx, db, audit.ForApplication(app, eventType, actor, "application", app.ID, metadata))
}

func hoursFrom(now time.Time, hours int) *time.Time {
	if hours <= 0 {
		return nil
	}
	t := now.Add(time.Duration(hours) * time.Hour)
	return &t
}
