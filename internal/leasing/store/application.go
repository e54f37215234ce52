// Package store holds the application and party row access shared by the
// engine components.
package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"leasing-workers/internal/common/database"
	"leasing-workers/internal/models"
)

// ApplicationColumns is the select list scanned by ScanApplication.
const ApplicationColumns = `id, org_id, property_id, unit_id, jurisdiction_code, status, priority,
	application_type, relocation_status, duplicate_check_hash, fee_status,
	unit_availability_snapshot, submitted_at, expires_at, decisioned_at,
	closed_at, closed_reason, created_at, updated_at`

// RowScanner is satisfied by *sql.Row and *sql.Rows.
type RowScanner interface {
	Scan(dest ...interface{}) error
}

// Qualify prefixes every column of a select list with alias.
func Qualify(columns, alias string) string {
	cols := strings.Split(columns, ",")
	for i, c := range cols {
		cols[i] = alias + "." + strings.TrimSpace(c)
	}
	return strings.Join(cols, ", ")
}

// AppendScanner scans a known select list followed by Extra targets.
type AppendScanner struct {
	Row   RowScanner
	Extra []interface{}
}

func (s AppendScanner) Scan(dest ...interface{}) error {
	return s.Row.Scan(append(dest, s.Extra...)...)
}

// ScanApplication reads one row selected with ApplicationColumns.
func ScanApplication(row RowScanner) (*models.Application, error) {
	var (
		a        models.Application
		status   string
		priority string
		snapshot []byte
	)
	if err := row.Scan(&a.ID, &a.OrgID, &a.PropertyID, &a.UnitID, &a.JurisdictionCode, &status, &priority,
		&a.ApplicationType, &a.RelocationStatus, &a.DuplicateCheckHash, &a.FeeStatus,
		&snapshot, &a.SubmittedAt, &a.ExpiresAt, &a.DecisionedAt,
		&a.ClosedAt, &a.ClosedReason, &a.CreatedAt, &a.UpdatedAt); err != nil {
		return nil, err
	}
	a.Status = models.ApplicationStatus(status)
	a.Priority = models.Priority(priority)
	if len(snapshot) > 0 {
		a.UnitAvailabilitySnapshot = json.RawMessage(snapshot)
	}
	return &a, nil
}

// LoadApplication returns the application or nil when it does not exist.
func LoadApplication(ctx context.Context, db database.DBTX, id string) (*models.Application, error) {
	return loadApplication(ctx, db, `SELECT `+ApplicationColumns+` FROM applications WHERE id = $1`, id)
}

// LockApplication loads the application with a row lock held until the
// surrounding transaction ends.
func LockApplication(ctx context.Context, db database.DBTX, id string) (*models.Application, error) {
	return loadApplication(ctx, db, `SELECT `+ApplicationColumns+` FROM applications WHERE id = $1 FOR UPDATE`, id)
}

func loadApplication(ctx context.Context, db database.DBTX, query, id string) (*models.Application, error) {
	app, err := ScanApplication(db.QueryRowContext(ctx, query, id))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("load application %s: %w", id, err)
	}
	return app, nil
}

// SetFeeStatus records the latest fee payment status on the application.
func SetFeeStatus(ctx context.Context, db database.DBTX, applicationID string, status models.PaymentStatus, now time.Time) error {
	if _, err := db.ExecContext(ctx,
		`UPDATE applications SET fee_status = $2, updated_at = $3 WHERE id = $1`,
		applicationID, string(status), now); err != nil {
		return fmt.Errorf("update fee status: %w", err)
	}
	return nil
}

// SetStatus moves the application to status and bumps updated_at.
func SetStatus(ctx context.Context, db database.DBTX, applicationID string, status models.ApplicationStatus, now time.Time) error {
	if _, err := db.ExecContext(ctx,
		`UPDATE applications SET status = $2, updated_at = $3 WHERE id = $1`,
		applicationID, string(status), now); err != nil {
		return fmt.Errorf("update application status: %w", err)
	}
	return nil
}
