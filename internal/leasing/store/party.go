package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"leasing-workers/internal/common/database"
	"leasing-workers/internal/models"
)

// PartyColumns is the select list scanned by ScanParty.
const PartyColumns = `id, application_id, role, status, email, phone, first_name, last_name,
	invited_at, completed_at, last_reminded_at, created_at, updated_at`

// ScanParty reads one row selected with PartyColumns.
func ScanParty(row RowScanner) (*models.Party, error) {
	var (
		p      models.Party
		role   string
		status string
	)
	if err := row.Scan(&p.ID, &p.ApplicationID, &role, &status, &p.Email, &p.Phone, &p.FirstName, &p.LastName,
		&p.InvitedAt, &p.CompletedAt, &p.LastRemindedAt, &p.CreatedAt, &p.UpdatedAt); err != nil {
		return nil, err
	}
	p.Role = models.PartyRole(role)
	p.Status = models.PartyStatus(status)
	return &p, nil
}

// ListParties returns the application's parties, primary first.
func ListParties(ctx context.Context, db database.DBTX, applicationID string) ([]models.Party, error) {
	rows, err := db.QueryContext(ctx, `
		SELECT `+PartyColumns+` FROM parties
		WHERE application_id = $1
		ORDER BY CASE WHEN role = 'PRIMARY' THEN 0 ELSE 1 END, created_at, id`, applicationID)
	if err != nil {
		return nil, fmt.Errorf("list parties: %w", err)
	}
	defer rows.Close()

	var parties []models.Party
	for rows.Next() {
		p, err := ScanParty(rows)
		if err != nil {
			return nil, fmt.Errorf("scan party: %w", err)
		}
		parties = append(parties, *p)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate parties: %w", err)
	}
	return parties, nil
}

// LockParty loads one party with a row lock, or nil when absent.
func LockParty(ctx context.Context, db database.DBTX, partyID string) (*models.Party, error) {
	p, err := ScanParty(db.QueryRowContext(ctx,
		`SELECT `+PartyColumns+` FROM parties WHERE id = $1 FOR UPDATE`, partyID))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("load party %s: %w", partyID, err)
	}
	return p, nil
}
