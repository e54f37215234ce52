package jobs

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"leasing-workers/internal/common/database"
	"leasing-workers/internal/leasing/audit"
	"leasing-workers/internal/leasing/configresolver"
	"leasing-workers/internal/leasing/notify"
	"leasing-workers/internal/leasing/store"
	"leasing-workers/internal/models"
)

type reminderCandidate struct {
	party models.Party
	app   models.Application
}

// CoApplicantReminders nudges invited co-applicants on DRAFT applications.
// Each reminder is its own run keyed by ordinal; a failed send is retried
// under ordinal:retryN. Only delivered reminders count toward the org's
// ceiling, and once it is reached a single MAXED run locks the party.
func (s *Sweeper) CoApplicantReminders(ctx context.Context) (Stats, error) {
	if s.notifier == nil {
		return Stats{}, nil
	}
	candidates, err := s.reminderCandidates(ctx)
	if err != nil {
		return Stats{}, err
	}

	var stats Stats
	now := s.now()
	for _, c := range candidates {
		res, err := s.resolver.Resolve(ctx, s.pg.DB, configresolver.Query{
			OrgID:            c.app.OrgID,
			PropertyID:       c.app.PropertyID,
			JurisdictionCode: c.app.Jurisdiction(),
			AsOf:             now,
		})
		if err != nil {
			return stats, err
		}
		policy := res.Policy

		maxedKey := IdempotencyKey(JobCoApplicantReminders, c.party.ID, MaxedOrdinal)
		delivered, err := s.runs.Count(ctx, s.pg.DB, JobCoApplicantReminders, c.party.ID, models.JobRunSuccess, maxedKey)
		if err != nil {
			return stats, err
		}

		if policy.MaxReminders > 0 && delivered >= policy.MaxReminders {
			s.claim(ctx, &stats, JobCoApplicantReminders, c.party.ID, []string{MaxedOrdinal}, func(ctx context.Context) error {
				return s.withApplication(ctx, c.app.ID, func(tx *sql.Tx, app *models.Application) error {
					return s.lockAbandonedParty(ctx, tx, app, c.party.ID, delivered)
				})
			})
			continue
		}

		if !reminderDue(c.party, policy.ReminderIntervalHours, now) {
			continue
		}

		ordinal := delivered + 1
		parts := []string{fmt.Sprint(ordinal)}
		failed, err := s.runs.CountFailed(ctx, s.pg.DB, IdempotencyKey(JobCoApplicantReminders, c.party.ID, parts...))
		if err != nil {
			return stats, err
		}
		if failed > 0 {
			parts = append(parts, RetryOrdinal(failed))
		}
		s.claim(ctx, &stats, JobCoApplicantReminders, c.party.ID, parts, func(ctx context.Context) error {
			if err := s.limiter.Wait(ctx); err != nil {
				return err
			}
			sent, err := s.notifier.SendReminder(ctx, notify.Reminder{
				Party:    c.party,
				Ordinal:  ordinal,
				MaxCount: policy.MaxReminders,
			})
			if err != nil {
				return err
			}
			return s.withApplication(ctx, c.app.ID, func(tx *sql.Tx, app *models.Application) error {
				return s.recordReminder(ctx, tx, app, c.party.ID, ordinal, sent)
			})
		})
	}
	return stats, nil
}

func (s *Sweeper) reminderCandidates(ctx context.Context) ([]reminderCandidate, error) {
	rows, err := s.pg.DB.QueryContext(ctx, `
		SELECT `+store.Qualify(store.PartyColumns, "p")+`, a.org_id, a.property_id, a.jurisdiction_code
		FROM parties p
		JOIN applications a ON a.id = p.application_id
		WHERE p.role = 'CO_APPLICANT'
		  AND p.status IN ('INVITED', 'IN_PROGRESS')
		  AND a.status = 'DRAFT'
		ORDER BY COALESCE(p.last_reminded_at, p.invited_at, p.created_at), p.id
		LIMIT $1`, s.batchSize)
	if err != nil {
		return nil, fmt.Errorf("list reminder candidates: %w", err)
	}
	defer rows.Close()

	var candidates []reminderCandidate
	for rows.Next() {
		var app models.Application
		party, err := store.ScanParty(store.AppendScanner{Row: rows, Extra: []interface{}{
			&app.OrgID, &app.PropertyID, &app.JurisdictionCode,
		}})
		if err != nil {
			return nil, fmt.Errorf("scan reminder candidate: %w", err)
		}
		app.ID = party.ApplicationID
		app.Status = models.StatusDraft
		candidates = append(candidates, reminderCandidate{party: *party, app: app})
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate reminder candidates: %w", err)
	}
	return candidates, nil
}

// reminderDue reports whether the interval since the last contact has passed.
func reminderDue(p models.Party, intervalHours int, now time.Time) bool {
	last := p.CreatedAt
	switch {
	case p.LastRemindedAt != nil:
		last = *p.LastRemindedAt
	case p.InvitedAt != nil:
		last = *p.InvitedAt
	}
	return !now.Before(last.Add(time.Duration(intervalHours) * time.Hour))
}

func (s *Sweeper) recordReminder(ctx context.Context, db database.DBTX, app *models.Application, partyID string, ordinal int, sent []models.Notification) error {
	party, err := store.LockParty(ctx, db, partyID)
	if err != nil || party == nil {
		return err
	}
	now := s.now()
	if _, err := db.ExecContext(ctx,
		`UPDATE parties SET last_reminded_at = $2, updated_at = $2 WHERE id = $1`, party.ID, now); err != nil {
		return fmt.Errorf("stamp party reminder: %w", err)
	}

	channels := make([]string, 0, len(sent))
	for _, n := range sent {
		channels = append(channels, n.Channel)
	}
	return s.trail.Append(ctx, db, audit.ForApplication(app, audit.EventReminderSent, audit.ActorSystem,
		"party", party.ID, map[string]interface{}{
			"ordinal":  ordinal,
			"channels": channels,
		}))
}

// lockAbandonedParty locks a party that never finished after the last
// allowed reminder.
func (s *Sweeper) lockAbandonedParty(ctx context.Context, db database.DBTX, app *models.Application, partyID string, reminders int) error {
	party, err := store.LockParty(ctx, db, partyID)
	if err != nil || party == nil {
		return err
	}
	if party.Status == models.PartyComplete || party.Status == models.PartyLocked {
		return nil
	}
	if _, err := db.ExecContext(ctx,
		`UPDATE parties SET status = 'LOCKED', updated_at = $2 WHERE id = $1`, party.ID, s.now()); err != nil {
		return fmt.Errorf("lock party: %w", err)
	}
	return s.trail.Append(ctx, db, audit.ForApplication(app, audit.EventPartyLocked, audit.ActorSystem,
		"party", party.ID, map[string]interface{}{
			"reason":    "MAX_REMINDERS",
			"reminders": reminders,
		}))
}
