package jobs

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"leasing-workers/internal/common/config"
	"leasing-workers/internal/common/database"
	"leasing-workers/internal/common/logger"
	"leasing-workers/internal/common/metrics"
	"leasing-workers/internal/common/observability"
	"leasing-workers/internal/leasing/application"
	"leasing-workers/internal/leasing/audit"
	"leasing-workers/internal/leasing/configresolver"
	"leasing-workers/internal/leasing/notify"
	"leasing-workers/internal/leasing/requirements"
	"leasing-workers/internal/leasing/reservation"
	"leasing-workers/internal/leasing/store"
	"leasing-workers/internal/models"

	"golang.org/x/time/rate"
)

// Candidate results.
const (
	resultSuccess = "success"
	resultFailed  = "failed"
	resultSkipped = "skipped"
)

const (
	defaultBatchSize    = 100
	maxIndexAttempts    = 5
	defaultAuditIndex   = "leasing-audit-events"
	screeningRetryScope = "screening"
)

// Notifier delivers co-applicant reminders.
type Notifier interface {
	SendReminder(ctx context.Context, r notify.Reminder) ([]models.Notification, error)
}

// Indexer writes a document to the search index.
type Indexer interface {
	IndexDocument(ctx context.Context, index, id string, doc interface{}) error
}

// Stats summarizes one sweep.
type Stats struct {
	Candidates int `json:"candidates"`
	Succeeded  int `json:"succeeded"`
	Failed     int `json:"failed"`
	Skipped    int `json:"skipped"`
}

// Deps are the components the sweeps drive. Notifier and Indexer are
// optional; their sweeps are skipped when unset.
type Deps struct {
	Postgres      *database.PostgresClient
	Machine       *application.Machine
	Ledger        *reservation.Ledger
	Requirements  *requirements.Engine
	Resolver      *configresolver.Resolver
	Trail         *audit.Trail
	Notifier      Notifier
	Indexer       Indexer
	AuditIndex    string
	Observability *observability.Observability
}

// Sweeper implements the individual sweeps.
type Sweeper struct {
	pg           *database.PostgresClient
	machine      *application.Machine
	ledger       *reservation.Ledger
	requirements *requirements.Engine
	resolver     *configresolver.Resolver
	trail        *audit.Trail
	notifier     Notifier
	indexer      Indexer
	auditIndex   string
	obs          *observability.Observability

	runs             *Runs
	limiter          *rate.Limiter
	batchSize        int
	screeningTimeout time.Duration

	logger logger.Logger
	now    func() time.Time
}

func NewSweeper(deps Deps, cfg config.JobsConfig, defaults config.PolicyDefaults, log logger.Logger) *Sweeper {
	batch := cfg.BatchSize
	if batch <= 0 {
		batch = defaultBatchSize
	}
	limit := rate.Inf
	if cfg.RemindersPerSecond > 0 {
		limit = rate.Limit(cfg.RemindersPerSecond)
	}
	timeout := time.Duration(defaults.ScreeningTimeoutHours) * time.Hour
	if timeout <= 0 {
		timeout = 72 * time.Hour
	}
	index := deps.AuditIndex
	if index == "" {
		index = defaultAuditIndex
	}
	return &Sweeper{
		pg:               deps.Postgres,
		machine:          deps.Machine,
		ledger:           deps.Ledger,
		requirements:     deps.Requirements,
		resolver:         deps.Resolver,
		trail:            deps.Trail,
		notifier:         deps.Notifier,
		indexer:          deps.Indexer,
		auditIndex:       index,
		obs:              deps.Observability,
		runs:             NewRuns(),
		limiter:          rate.NewLimiter(limit, 1),
		batchSize:        batch,
		screeningTimeout: timeout,
		logger:           logger.Component(log, "jobs"),
		now:              func() time.Time { return time.Now().UTC() },
	}
}

// claim runs work under a job run for key, recording the outcome on the run.
// A failed candidate is logged and counted; it never stops the sweep.
func (s *Sweeper) claim(ctx context.Context, stats *Stats, jobKey, targetID string, ordinal []string, work func(ctx context.Context) error) {
	stats.Candidates++
	result := resultSkipped
	defer func() {
		metrics.SweepCandidates.WithLabelValues(jobKey, result).Inc()
		s.obs.RecordSweepCandidate(ctx, jobKey, result)
	}()

	run, err := s.runs.Start(ctx, s.pg.DB, jobKey, targetID, ordinal...)
	if err != nil {
		result = resultFailed
		stats.Failed++
		s.logger.Error("job run claim failed", map[string]interface{}{
			"job":      jobKey,
			"targetId": targetID,
			"error":    err.Error(),
		})
		return
	}
	if run == nil {
		stats.Skipped++
		return
	}

	workErr := work(ctx)
	if workErr != nil {
		result = resultFailed
		stats.Failed++
		s.logger.Warn("sweep candidate failed", map[string]interface{}{
			"job":      jobKey,
			"targetId": targetID,
			"error":    workErr.Error(),
		})
	} else {
		result = resultSuccess
		stats.Succeeded++
	}
	if err := s.runs.Finish(ctx, s.pg.DB, run, workErr); err != nil {
		s.logger.Error("job run finish failed", map[string]interface{}{
			"job":      jobKey,
			"targetId": targetID,
			"error":    err.Error(),
		})
	}
}

// ExpireReservations expires every lapsed ACTIVE reservation. It is
// idempotent by predicate and needs no job runs.
func (s *Sweeper) ExpireReservations(ctx context.Context) (Stats, error) {
	var stats Stats
	err := s.pg.WithTx(ctx, func(tx *sql.Tx) error {
		expired, err := s.ledger.ExpireReservations(ctx, tx, s.now())
		stats.Candidates, stats.Succeeded = len(expired), len(expired)
		return err
	})
	if err != nil {
		return Stats{}, err
	}
	return stats, nil
}

// SubmittedTTL closes SUBMITTED applications whose expiry has passed.
func (s *Sweeper) SubmittedTTL(ctx context.Context) (Stats, error) {
	ids, err := s.queryIDs(ctx, `
		SELECT id FROM applications
		WHERE status = 'SUBMITTED' AND expires_at IS NOT NULL AND expires_at <= $1
		ORDER BY expires_at, id
		LIMIT $2`, s.now(), s.batchSize)
	if err != nil {
		return Stats{}, fmt.Errorf("list expired applications: %w", err)
	}

	var stats Stats
	for _, applicationID := range ids {
		s.claim(ctx, &stats, JobSubmittedTTL, applicationID, nil, func(ctx context.Context) error {
			result, err := s.machine.CloseExpired(ctx, application.TransitionInput{
				ApplicationID: applicationID,
				Actor:         audit.ActorSystem,
			})
			if err != nil {
				return err
			}
			if !result.OK {
				return fmt.Errorf("%s: %s", result.ErrorCode, result.Message)
			}
			return nil
		})
	}
	return stats, nil
}

type screeningCandidate struct {
	itemID        string
	applicationID string
	partyID       *string
	name          string
}

// ScreeningTimeouts expires screening items that never completed, releases
// the application's screening lock and asks the applicant to re-authorize.
func (s *Sweeper) ScreeningTimeouts(ctx context.Context) (Stats, error) {
	now := s.now()
	rows, err := s.pg.DB.QueryContext(ctx, `
		SELECT r.id, r.application_id, r.party_id, r.name
		FROM requirement_items r
		JOIN applications a ON a.id = r.application_id
		WHERE r.type = 'SCREENING'
		  AND r.status IN ('PENDING', 'IN_PROGRESS', 'SUBMITTED')
		  AND a.status IN ('SUBMITTED', 'IN_REVIEW')
		  AND COALESCE(r.due_at, r.created_at + $2 * INTERVAL '1 hour') <= $1
		ORDER BY r.created_at, r.id
		LIMIT $3`, now, int(s.screeningTimeout/time.Hour), s.batchSize)
	if err != nil {
		return Stats{}, fmt.Errorf("list screening timeouts: %w", err)
	}
	var candidates []screeningCandidate
	for rows.Next() {
		var c screeningCandidate
		if err := rows.Scan(&c.itemID, &c.applicationID, &c.partyID, &c.name); err != nil {
			rows.Close()
			return Stats{}, fmt.Errorf("scan screening candidate: %w", err)
		}
		candidates = append(candidates, c)
	}
	rows.Close()
	if err := rows.Err(); err != nil {
		return Stats{}, fmt.Errorf("iterate screening candidates: %w", err)
	}

	var stats Stats
	for _, c := range candidates {
		s.claim(ctx, &stats, JobScreeningTimeouts, c.itemID, nil, func(ctx context.Context) error {
			return s.pg.WithTx(ctx, func(tx *sql.Tx) error {
				return s.timeOutScreening(ctx, tx, c)
			})
		})
	}
	return stats, nil
}

func (s *Sweeper) timeOutScreening(ctx context.Context, tx database.DBTX, c screeningCandidate) error {
	app, err := store.LockApplication(ctx, tx, c.applicationID)
	if err != nil {
		return err
	}
	if app == nil || !app.Status.IsUnderReview() {
		return nil
	}
	expired, err := s.requirements.ExpireRequirement(ctx, tx, app, c.itemID, audit.ActorSystem)
	if err != nil || !expired {
		return err
	}

	active, err := s.ledger.ActiveForApplication(ctx, tx, app.ID)
	if err != nil {
		return err
	}
	for _, res := range active {
		if res.Kind != models.KindScreeningLock {
			continue
		}
		if _, err := s.ledger.ReleaseReservation(ctx, tx, res.ID, models.ReleaseTimedOut, audit.ActorSystem); err != nil {
			return err
		}
	}

	result, err := s.requirements.CreateInfoRequest(ctx, tx, requirements.CreateInfoRequestInput{
		ApplicationID: app.ID,
		Message:       "Screening did not complete in time. Please authorize screening again.",
		UnlockScopes:  []string{screeningRetryScope},
		Items: []requirements.RequestedItem{{
			Type:     models.RequirementScreening,
			Name:     c.name,
			PartyID:  c.partyID,
			Required: true,
		}},
		Actor: audit.ActorSystem,
	})
	if err != nil {
		return err
	}
	if !result.OK {
		return fmt.Errorf("open info request: %s: %s", result.ErrorCode, result.Message)
	}
	return nil
}

// DocExpiry expires lapsed documents and overdue requirement items.
func (s *Sweeper) DocExpiry(ctx context.Context) (Stats, error) {
	now := s.now()
	docs, err := s.queryTargets(ctx, `
		SELECT d.id, d.application_id FROM documents d
		JOIN applications a ON a.id = d.application_id
		WHERE d.expires_at IS NOT NULL AND d.expires_at <= $1
		  AND d.status <> 'EXPIRED'
		  AND a.status NOT IN ('CLOSED', 'CONVERTED')
		ORDER BY d.expires_at, d.id
		LIMIT $2`, now, s.batchSize)
	if err != nil {
		return Stats{}, fmt.Errorf("list expired documents: %w", err)
	}
	items, err := s.queryTargets(ctx, `
		SELECT r.id, r.application_id FROM requirement_items r
		JOIN applications a ON a.id = r.application_id
		WHERE r.type <> 'SCREENING'
		  AND r.due_at IS NOT NULL AND r.due_at <= $1
		  AND r.status IN ('PENDING', 'IN_PROGRESS')
		  AND a.status NOT IN ('CLOSED', 'CONVERTED')
		ORDER BY r.due_at, r.id
		LIMIT $2`, now, s.batchSize)
	if err != nil {
		return Stats{}, fmt.Errorf("list overdue requirements: %w", err)
	}

	var stats Stats
	for _, t := range docs {
		s.claim(ctx, &stats, JobDocExpiry, t.id, nil, func(ctx context.Context) error {
			return s.withApplication(ctx, t.applicationID, func(tx *sql.Tx, app *models.Application) error {
				_, err := s.requirements.ExpireDocument(ctx, tx, app, t.id, audit.ActorSystem)
				return err
			})
		})
	}
	for _, t := range items {
		s.claim(ctx, &stats, JobDocExpiry, t.id, nil, func(ctx context.Context) error {
			return s.withApplication(ctx, t.applicationID, func(tx *sql.Tx, app *models.Application) error {
				_, err := s.requirements.ExpireRequirement(ctx, tx, app, t.id, audit.ActorSystem)
				return err
			})
		})
	}
	return stats, nil
}

// AuditIndex ships unindexed audit events to the search index.
func (s *Sweeper) AuditIndex(ctx context.Context) (Stats, error) {
	if s.indexer == nil {
		return Stats{}, nil
	}
	events, err := s.trail.ListUnindexed(ctx, s.pg.DB, s.batchSize)
	if err != nil {
		return Stats{}, err
	}

	var stats Stats
	for _, ev := range events {
		failed, err := s.runs.Count(ctx, s.pg.DB, JobAuditIndex, ev.ID, models.JobRunFailed, "")
		if err != nil {
			return stats, err
		}
		if failed >= maxIndexAttempts {
			stats.Skipped++
			continue
		}
		s.claim(ctx, &stats, JobAuditIndex, ev.ID, []string{fmt.Sprint(failed + 1)}, func(ctx context.Context) error {
			if err := s.indexer.IndexDocument(ctx, s.auditIndex, ev.ID, ev); err != nil {
				return err
			}
			return s.trail.MarkIndexed(ctx, s.pg.DB, ev.ID)
		})
	}
	return stats, nil
}

// withApplication runs fn in a transaction holding the application lock.
// A vanished application is a no-op.
func (s *Sweeper) withApplication(ctx context.Context, applicationID string, fn func(tx *sql.Tx, app *models.Application) error) error {
	return s.pg.WithTx(ctx, func(tx *sql.Tx) error {
		app, err := store.LockApplication(ctx, tx, applicationID)
		if err != nil || app == nil {
			return err
		}
		return fn(tx, app)
	})
}

type target struct {
	id            string
	applicationID string
}

func (s *Sweeper) queryTargets(ctx context.Context, query string, args ...interface{}) ([]target, error) {
	rows, err := s.pg.DB.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var targets []target
	for rows.Next() {
		var t target
		if err := rows.Scan(&t.id, &t.applicationID); err != nil {
			return nil, err
		}
		targets = append(targets, t)
	}
	return targets, rows.Err()
}

func (s *Sweeper) queryIDs(ctx context.Context, query string, args ...interface{}) ([]string, error) {
	rows, err := s.pg.DB.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var ids []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, err
		}
		ids = append(ids, id)
	}
	return ids, rows.Err()
}
