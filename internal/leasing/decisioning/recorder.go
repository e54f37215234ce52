package decisioning

import (
	"context"
	"database/sql"
	"encoding/json"
	stderrors "errors"
	"fmt"
	"time"

	"leasing-workers/internal/common/database"
	"leasing-workers/internal/common/logger"
	"leasing-workers/internal/leasing/store"
	"leasing-workers/internal/models"

	"github.com/google/uuid"
)

const decisionColumns = `id, application_id, version, outcome, income_finding, criminal_finding,
	conditions, notes, override_request_id, decided_by, created_at`

// DecisionInput is the content of a new decision version.
type DecisionInput struct {
	Outcome           models.DecisionOutcome `json:"outcome"`
	IncomeFinding     *string                `json:"incomeFinding,omitempty"`
	CriminalFinding   *string                `json:"criminalFinding,omitempty"`
	Conditions        []string               `json:"conditions,omitempty"`
	Notes             *string                `json:"notes,omitempty"`
	OverrideRequestID *string                `json:"overrideRequestId,omitempty"`
	DecidedBy         string                 `json:"decidedBy"`
}

// Recorder appends versioned decision records. Callers hold the
// application row lock, which serializes version allocation.
type Recorder struct {
	logger logger.Logger
	now    func() time.Time
}

func NewRecorder(log logger.Logger) *Recorder {
	return &Recorder{
		logger: logger.Component(log, "decision-recorder"),
		now:    func() time.Time { return time.Now().UTC() },
	}
}

// Append stores the next decision version for the application.
func (r *Recorder) Append(ctx context.Context, db database.DBTX, applicationID string, in DecisionInput) (*models.DecisionRecord, error) {
	var version int
	if err := db.QueryRowContext(ctx, `
		SELECT COALESCE(MAX(version), 0) + 1 FROM decision_records
		WHERE application_id = $1`, applicationID).Scan(&version); err != nil {
		return nil, fmt.Errorf("allocate decision version: %w", err)
	}

	conditions := in.Conditions
	if conditions == nil {
		conditions = []string{}
	}
	rec := &models.DecisionRecord{
		ID:                uuid.New().String(),
		ApplicationID:     applicationID,
		Version:           version,
		Outcome:           in.Outcome,
		IncomeFinding:     in.IncomeFinding,
		CriminalFinding:   in.CriminalFinding,
		Conditions:        conditions,
		Notes:             in.Notes,
		OverrideRequestID: in.OverrideRequestID,
		DecidedBy:         in.DecidedBy,
		CreatedAt:         r.now(),
	}

	conditionsJSON, err := json.Marshal(rec.Conditions)
	if err != nil {
		return nil, fmt.Errorf("marshal conditions: %w", err)
	}
	if _, err := db.ExecContext(ctx, `
		INSERT INTO decision_records (
			id, application_id, version, outcome, income_finding, criminal_finding,
			conditions, notes, override_request_id, decided_by, created_at
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11)`,
		rec.ID, rec.ApplicationID, rec.Version, string(rec.Outcome), rec.IncomeFinding, rec.CriminalFinding,
		conditionsJSON, rec.Notes, rec.OverrideRequestID, rec.DecidedBy, rec.CreatedAt,
	); err != nil {
		return nil, fmt.Errorf("insert decision record: %w", err)
	}

	r.logger.Info("decision recorded", map[string]interface{}{
		"applicationId": applicationID,
		"version":       rec.Version,
		"outcome":       string(rec.Outcome),
	})
	return rec, nil
}

// Latest returns the highest decision version, or nil.
func (r *Recorder) Latest(ctx context.Context, db database.DBTX, applicationID string) (*models.DecisionRecord, error) {
	rec, err := scanDecision(db.QueryRowContext(ctx, `
		SELECT `+decisionColumns+` FROM decision_records
		WHERE application_id = $1
		ORDER BY version DESC
		LIMIT 1`, applicationID))
	if stderrors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	return rec, err
}

// History returns every decision version, oldest first.
func (r *Recorder) History(ctx context.Context, db database.DBTX, applicationID string) ([]models.DecisionRecord, error) {
	rows, err := db.QueryContext(ctx, `
		SELECT `+decisionColumns+` FROM decision_records
		WHERE application_id = $1
		ORDER BY version`, applicationID)
	if err != nil {
		return nil, fmt.Errorf("list decision records: %w", err)
	}
	defer rows.Close()

	var records []models.DecisionRecord
	for rows.Next() {
		rec, err := scanDecision(rows)
		if err != nil {
			return nil, err
		}
		records = append(records, *rec)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate decision records: %w", err)
	}
	return records, nil
}

func scanDecision(row store.RowScanner) (*models.DecisionRecord, error) {
	var (
		rec        models.DecisionRecord
		outcome    string
		conditions []byte
	)
	if err := row.Scan(&rec.ID, &rec.ApplicationID, &rec.Version, &outcome, &rec.IncomeFinding, &rec.CriminalFinding,
		&conditions, &rec.Notes, &rec.OverrideRequestID, &rec.DecidedBy, &rec.CreatedAt); err != nil {
		if stderrors.Is(err, sql.ErrNoRows) {
			return nil, err
		}
		return nil, fmt.Errorf("scan decision record: %w", err)
	}
	rec.Outcome = models.DecisionOutcome(outcome)
	rec.Conditions = []string{}
	if len(conditions) > 0 {
		if err := json.Unmarshal(conditions, &rec.Conditions); err != nil {
			return nil, fmt.Errorf("decode decision conditions: %w", err)
		}
	}
	return &rec, nil
}
