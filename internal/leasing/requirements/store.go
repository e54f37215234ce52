package requirements

import (
	"context"
	"database/sql"
	"encoding/json"
	stderrors "errors"
	"fmt"
	"time"

	"leasing-workers/internal/common/database"
	"leasing-workers/internal/leasing/store"
	"leasing-workers/internal/models"

	"github.com/lib/pq"
)

const (
	itemColumns = `id, application_id, party_id, info_request_id, type, name, status, required,
		due_at, metadata, created_at, updated_at`

	documentColumns = `id, application_id, party_id, requirement_item_id, document_type, storage_key,
		status, rejection_reason, verified_at, expires_at, created_at, updated_at`

	infoRequestColumns = `id, org_id, application_id, status, message, unlock_scopes, requested_by,
		responded_at, created_at, updated_at`
)

func insertItem(ctx context.Context, db database.DBTX, item *models.RequirementItem) error {
	meta, err := json.Marshal(item.Metadata)
	if err != nil {
		return fmt.Errorf("marshal requirement metadata: %w", err)
	}
	if _, err := db.ExecContext(ctx, `
		INSERT INTO requirement_items (
			id, application_id, party_id, info_request_id, type, name, status, required,
			due_at, metadata, created_at, updated_at
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $11)`,
		item.ID, item.ApplicationID, item.PartyID, item.InfoRequestID, string(item.Type), item.Name,
		string(item.Status), item.Required, item.DueAt, meta, item.CreatedAt,
	); err != nil {
		return fmt.Errorf("insert requirement item: %w", err)
	}
	return nil
}

func setItemStatus(ctx context.Context, db database.DBTX, itemID string, status models.RequirementStatus, now time.Time) error {
	if _, err := db.ExecContext(ctx,
		`UPDATE requirement_items SET status = $2, updated_at = $3 WHERE id = $1`,
		itemID, string(status), now); err != nil {
		return fmt.Errorf("update requirement item %s: %w", itemID, err)
	}
	return nil
}

func lockItem(ctx context.Context, db database.DBTX, itemID string) (*models.RequirementItem, error) {
	item, err := scanItem(db.QueryRowContext(ctx,
		`SELECT `+itemColumns+` FROM requirement_items WHERE id = $1 FOR UPDATE`, itemID))
	if stderrors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	return item, err
}

// ListForApplication returns the application's requirement items, oldest first.
func ListForApplication(ctx context.Context, db database.DBTX, applicationID string) ([]models.RequirementItem, error) {
	rows, err := db.QueryContext(ctx, `
		SELECT `+itemColumns+` FROM requirement_items
		WHERE application_id = $1
		ORDER BY created_at, id`, applicationID)
	if err != nil {
		return nil, fmt.Errorf("list requirement items: %w", err)
	}
	defer rows.Close()

	var items []models.RequirementItem
	for rows.Next() {
		item, err := scanItem(rows)
		if err != nil {
			return nil, err
		}
		items = append(items, *item)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate requirement items: %w", err)
	}
	return items, nil
}

func scanItem(row store.RowScanner) (*models.RequirementItem, error) {
	var (
		item   models.RequirementItem
		typ    string
		status string
		meta   []byte
	)
	if err := row.Scan(&item.ID, &item.ApplicationID, &item.PartyID, &item.InfoRequestID, &typ, &item.Name,
		&status, &item.Required, &item.DueAt, &meta, &item.CreatedAt, &item.UpdatedAt); err != nil {
		if stderrors.Is(err, sql.ErrNoRows) {
			return nil, err
		}
		return nil, fmt.Errorf("scan requirement item: %w", err)
	}
	item.Type = models.RequirementType(typ)
	item.Status = models.RequirementStatus(status)
	if len(meta) > 0 {
		if err := json.Unmarshal(meta, &item.Metadata); err != nil {
			return nil, fmt.Errorf("decode requirement metadata %s: %w", item.ID, err)
		}
	}
	return &item, nil
}

func lockDocument(ctx context.Context, db database.DBTX, documentID string) (*models.Document, error) {
	doc, err := scanDocument(db.QueryRowContext(ctx,
		`SELECT `+documentColumns+` FROM documents WHERE id = $1 FOR UPDATE`, documentID))
	if stderrors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	return doc, err
}

func scanDocument(row store.RowScanner) (*models.Document, error) {
	var (
		d      models.Document
		status string
	)
	if err := row.Scan(&d.ID, &d.ApplicationID, &d.PartyID, &d.RequirementItemID, &d.DocumentType, &d.StorageKey,
		&status, &d.RejectionReason, &d.VerifiedAt, &d.ExpiresAt, &d.CreatedAt, &d.UpdatedAt); err != nil {
		if stderrors.Is(err, sql.ErrNoRows) {
			return nil, err
		}
		return nil, fmt.Errorf("scan document: %w", err)
	}
	d.Status = models.DocumentStatus(status)
	return &d, nil
}

// infoRequestApplication reads the owning application id without locking.
// It is empty when the request does not exist.
func infoRequestApplication(ctx context.Context, db database.DBTX, id string) (string, error) {
	var appID string
	err := db.QueryRowContext(ctx, `SELECT application_id FROM info_requests WHERE id = $1`, id).Scan(&appID)
	if stderrors.Is(err, sql.ErrNoRows) {
		return "", nil
	}
	if err != nil {
		return "", fmt.Errorf("load info request %s: %w", id, err)
	}
	return appID, nil
}

func lockInfoRequest(ctx context.Context, db database.DBTX, id string) (*models.InfoRequest, error) {
	var (
		ir     models.InfoRequest
		status string
		scopes pq.StringArray
	)
	err := db.QueryRowContext(ctx,
		`SELECT `+infoRequestColumns+` FROM info_requests WHERE id = $1 FOR UPDATE`, id).
		Scan(&ir.ID, &ir.OrgID, &ir.ApplicationID, &status, &ir.Message, &scopes, &ir.RequestedBy,
			&ir.RespondedAt, &ir.CreatedAt, &ir.UpdatedAt)
	if stderrors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("load info request %s: %w", id, err)
	}
	ir.Status = models.InfoRequestStatus(status)
	ir.UnlockScopes = []string(scopes)
	return &ir, nil
}
