// Package jobs runs the periodic reconciliation sweeps. Every per-target
// action is claimed through a job_runs row keyed by an idempotency key, so a
// key is processed at most once no matter how many workers sweep.
package jobs

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"leasing-workers/internal/common/database"
	"leasing-workers/internal/models"

	"github.com/google/uuid"
)

// Job keys.
const (
	JobScreeningTimeouts    = "screeningTimeouts"
	JobDocExpiry            = "docExpiry"
	JobCoApplicantReminders = "coApplicantReminders"
	JobSubmittedTTL         = "submittedTtl"
	JobAuditIndex           = "auditIndex"
	JobReservationExpiry    = "reservationExpiry"
)

// MaxedOrdinal marks the terminal reminder run for a party.
const MaxedOrdinal = "MAXED"

// IdempotencyKey joins job key, target and optional ordinal.
func IdempotencyKey(jobKey, targetID string, ordinal ...string) string {
	return strings.Join(append([]string{jobKey, targetID}, ordinal...), ":")
}

// Runs claims and settles job runs. Each call is its own statement; no
// transaction is held across a claim and the work it guards.
type Runs struct {
	now func() time.Time
}

func NewRuns() *Runs {
	return &Runs{now: func() time.Time { return time.Now().UTC() }}
}

// Start claims key for jobKey/targetID. It returns nil when another run
// already holds the key.
func (r *Runs) Start(ctx context.Context, db database.DBTX, jobKey, targetID string, ordinal ...string) (*models.JobRun, error) {
	run := &models.JobRun{
		ID:             uuid.New().String(),
		JobKey:         jobKey,
		TargetID:       targetID,
		IdempotencyKey: IdempotencyKey(jobKey, targetID, ordinal...),
		Status:         models.JobRunStarted,
		StartedAt:      r.now(),
	}
	err := db.QueryRowContext(ctx, `
		INSERT INTO job_runs (id, job_key, target_id, idempotency_key, status, started_at)
		VALUES ($1, $2, $3, $4, 'STARTED', $5)
		ON CONFLICT (idempotency_key) DO NOTHING
		RETURNING id`,
		run.ID, run.JobKey, run.TargetID, run.IdempotencyKey, run.StartedAt,
	).Scan(&run.ID)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("start job run %s: %w", run.IdempotencyKey, err)
	}
	return run, nil
}

// Finish records SUCCESS, or FAILED with runErr.
func (r *Runs) Finish(ctx context.Context, db database.DBTX, run *models.JobRun, runErr error) error {
	now := r.now()
	run.Status = models.JobRunSuccess
	run.FinishedAt = &now
	var msg *string
	if runErr != nil {
		s := runErr.Error()
		msg = &s
		run.Status = models.JobRunFailed
		run.Error = msg
	}
	if _, err := db.ExecContext(ctx, `
		UPDATE job_runs SET status = $2, error = $3, finished_at = $4 WHERE id = $1`,
		run.ID, string(run.Status), msg, now); err != nil {
		return fmt.Errorf("finish job run %s: %w", run.IdempotencyKey, err)
	}
	return nil
}

// Count counts runs for a target in status, or in any status when status
// is empty, ignoring excludeKey.
func (r *Runs) Count(ctx context.Context, db database.DBTX, jobKey, targetID string, status models.JobRunStatus, excludeKey string) (int, error) {
	var n int
	if err := db.QueryRowContext(ctx, `
		SELECT COUNT(*) FROM job_runs
		WHERE job_key = $1 AND target_id = $2 AND ($3 = '' OR status = $3) AND idempotency_key <> $4`,
		jobKey, targetID, string(status), excludeKey).Scan(&n); err != nil {
		return 0, fmt.Errorf("count job runs: %w", err)
	}
	return n, nil
}

// RetryOrdinal names the nth retry of a failed ordinal.
func RetryOrdinal(n int) string {
	return fmt.Sprintf("retry%d", n)
}

// CountFailed counts FAILED runs under key and its retry keys.
func (r *Runs) CountFailed(ctx context.Context, db database.DBTX, key string) (int, error) {
	var n int
	if err := db.QueryRowContext(ctx, `
		SELECT COUNT(*) FROM job_runs
		WHERE status = 'FAILED' AND (idempotency_key = $1 OR idempotency_key LIKE $1 || ':retry%')`,
		key).Scan(&n); err != nil {
		return 0, fmt.Errorf("count failed job runs %s: %w", key, err)
	}
	return n, nil
}
