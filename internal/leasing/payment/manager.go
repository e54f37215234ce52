// Package payment manages application-fee payment intents and their attempts.
//
// One intent exists per (application, payment type). A retry after a failed
// attempt reuses the intent and appends a new attempt; attempts are numbered
// densely from 1. Every mutation runs in one transaction that holds row
// locks on the application, the intent and its latest attempt.
package payment

import (
	"context"
	"database/sql"
	stderrors "errors"
	"fmt"
	"time"

	"leasing-workers/internal/common/config"
	"leasing-workers/internal/common/database"
	"leasing-workers/internal/common/errors"
	"leasing-workers/internal/common/logger"
	"leasing-workers/internal/common/metrics"
	"leasing-workers/internal/common/observability"
	"leasing-workers/internal/leasing/audit"
	"leasing-workers/internal/leasing/configresolver"
	"leasing-workers/internal/leasing/store"
	"leasing-workers/internal/models"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel/trace"
)

const (
	intentTarget = "payment_intent"

	intentColumns = `id, org_id, application_id, payment_type, status, amount_cents, currency,
		provider, provider_reference, client_secret, attempts_count,
		last_failure_code, last_failure_message, paid_at, created_at, updated_at`

	attemptColumns = `id, payment_intent_id, attempt_number, status, provider_request,
		provider_response, failure_code, failure_message, created_at, updated_at`
)

// Result is the outcome of a payment operation.
type Result struct {
	OK          bool                   `json:"ok"`
	ErrorCode   errors.ErrorCode       `json:"errorCode,omitempty"`
	Message     string                 `json:"message,omitempty"`
	Intent      *models.PaymentIntent  `json:"intent,omitempty"`
	Attempt     *models.PaymentAttempt `json:"attempt,omitempty"`
	AlreadyPaid bool                   `json:"alreadyPaid,omitempty"`
}

func fail(code errors.ErrorCode, msg string) *Result {
	return &Result{ErrorCode: code, Message: msg}
}

// CreateIntentInput opens or retries the payment for an application.
// AmountCents of zero charges the resolved application fee.
type CreateIntentInput struct {
	ApplicationID string
	PaymentType   string
	AmountCents   int64
	Actor         string
}

// ConfirmIntentInput settles the latest attempt of an intent.
type ConfirmIntentInput struct {
	PaymentIntentID string
	Confirmation    map[string]interface{}
	Actor           string
}

type Manager struct {
	pg       *database.PostgresClient
	provider Provider
	resolver *configresolver.Resolver
	trail    *audit.Trail
	currency string
	logger   logger.Logger
	now      func() time.Time
}

func NewManager(pg *database.PostgresClient, provider Provider, resolver *configresolver.Resolver, trail *audit.Trail, cfg config.LeasingConfig, log logger.Logger) *Manager {
	currency := cfg.Currency
	if currency == "" {
		currency = "USD"
	}
	return &Manager{
		pg:       pg,
		provider: provider,
		resolver: resolver,
		trail:    trail,
		currency: currency,
		logger:   logger.Component(log, "payment-manager"),
		now:      func() time.Time { return time.Now().UTC() },
	}
}

// CreateIntent returns the existing intent when it is paid or awaiting the
// provider. Otherwise it asks the provider for a new attempt, creating the
// intent on first use.
func (m *Manager) CreateIntent(ctx context.Context, in CreateIntentInput) (result *Result, err error) {
	if err := errors.RequireField("applicationId", in.ApplicationID); err != nil {
		return nil, err
	}
	if in.PaymentType == "" {
		in.PaymentType = models.PaymentTypeApplicationFee
	}

	ctx, span := observability.StartSpan(ctx, "payment", "createIntent")
	defer func() { m.finish(span, "createIntent", result, err) }()

	err = m.pg.WithTx(ctx, func(tx *sql.Tx) error {
		var txErr error
		result, txErr = m.createIntent(ctx, tx, in)
		return txErr
	})
	if err != nil {
		return nil, err
	}
	return result, nil
}

func (m *Manager) createIntent(ctx context.Context, tx database.DBTX, in CreateIntentInput) (*Result, error) {
	app, err := store.LockApplication(ctx, tx, in.ApplicationID)
	if err != nil {
		return nil, err
	}
	if app == nil {
		return fail(errors.ErrCodeNotFound, "application not found"), nil
	}
	if app.Status.IsTerminal() {
		return fail(errors.ErrCodeInvalidStatus, fmt.Sprintf("application is %s", app.Status)), nil
	}

	intent, err := m.lockIntentForApplication(ctx, tx, app.ID, in.PaymentType)
	if err != nil {
		return nil, err
	}
	if intent != nil {
		if intent.Status == models.PaymentSucceeded {
			return &Result{OK: true, Intent: intent, AlreadyPaid: true}, nil
		}
		if intent.Status.InFlight() {
			return &Result{OK: true, Intent: intent}, nil
		}
	}

	amount := in.AmountCents
	if amount == 0 {
		if amount, err = m.applicationFee(ctx, tx, app); err != nil {
			return nil, err
		}
	}

	intentID := uuid.New().String()
	priorAttempt := 0
	if intent != nil {
		intentID = intent.ID
		latest, err := m.lockLatestAttempt(ctx, tx, intent.ID)
		if err != nil {
			return nil, err
		}
		if latest != nil {
			priorAttempt = latest.AttemptNumber
		}
	}

	providerReq := ProviderIntentRequest{
		IntentID:    intentID,
		AmountCents: amount,
		Currency:    m.currency,
		Metadata: map[string]string{
			"applicationId": app.ID,
			"paymentType":   in.PaymentType,
		},
	}
	resp, err := m.provider.CreateIntent(ctx, providerReq)
	if err != nil {
		return nil, errors.NewPaymentProviderError(m.provider.Name(), err)
	}

	now := m.now()
	isNew := intent == nil
	if isNew {
		intent = &models.PaymentIntent{
			ID:            intentID,
			OrgID:         app.OrgID,
			ApplicationID: app.ID,
			PaymentType:   in.PaymentType,
			Currency:      m.currency,
			Provider:      m.provider.Name(),
			CreatedAt:     now,
		}
	}
	intent.Status = resp.Status
	intent.AmountCents = amount
	intent.ProviderReference = &resp.Reference
	intent.ClientSecret = nil
	if resp.ClientSecret != "" {
		intent.ClientSecret = &resp.ClientSecret
	}
	intent.AttemptsCount = priorAttempt + 1
	intent.LastFailureCode = nil
	intent.LastFailureMessage = nil
	intent.UpdatedAt = now

	if isNew {
		err = m.insertIntent(ctx, tx, intent)
	} else {
		err = m.retryIntent(ctx, tx, intent)
	}
	if err != nil {
		return nil, err
	}

	attempt := &models.PaymentAttempt{
		ID:               uuid.New().String(),
		PaymentIntentID:  intent.ID,
		AttemptNumber:    priorAttempt + 1,
		Status:           resp.Status,
		ProviderRequest:  mustJSON(providerReq),
		ProviderResponse: mustJSON(resp),
		CreatedAt:        now,
		UpdatedAt:        now,
	}
	if _, err := tx.ExecContext(ctx, `
		INSERT INTO payment_attempts (
			id, payment_intent_id, attempt_number, status, provider_request,
			provider_response, created_at, updated_at
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $7)`,
		attempt.ID, attempt.PaymentIntentID, attempt.AttemptNumber, string(attempt.Status),
		[]byte(attempt.ProviderRequest), []byte(attempt.ProviderResponse), now,
	); err != nil {
		return nil, fmt.Errorf("insert payment attempt: %w", err)
	}

	if err := store.SetFeeStatus(ctx, tx, app.ID, intent.Status, now); err != nil {
		return nil, err
	}

	if err := m.trail.Append(ctx, tx, audit.ForApplication(app, audit.EventPaymentIntentCreated, in.Actor,
		intentTarget, intent.ID, map[string]interface{}{
			"attemptNumber": attempt.AttemptNumber,
			"amountCents":   amount,
			"paymentType":   in.PaymentType,
		})); err != nil {
		return nil, err
	}

	m.logger.Info("payment attempt opened", map[string]interface{}{
		"applicationId":   app.ID,
		"paymentIntentId": intent.ID,
		"attemptNumber":   attempt.AttemptNumber,
	})
	return &Result{OK: true, Intent: intent, Attempt: attempt}, nil
}

// ConfirmIntent records the provider's verdict on the latest attempt. A
// declined payment commits its failure and returns PAYMENT_FAILED.
func (m *Manager) ConfirmIntent(ctx context.Context, in ConfirmIntentInput) (result *Result, err error) {
	if err := errors.RequireField("paymentIntentId", in.PaymentIntentID); err != nil {
		return nil, err
	}

	ctx, span := observability.StartSpan(ctx, "payment", "confirmIntent")
	defer func() { m.finish(span, "confirmIntent", result, err) }()

	err = m.pg.WithTx(ctx, func(tx *sql.Tx) error {
		var txErr error
		result, txErr = m.confirmIntent(ctx, tx, in)
		return txErr
	})
	if err != nil {
		return nil, err
	}
	return result, nil
}

func (m *Manager) confirmIntent(ctx context.Context, tx database.DBTX, in ConfirmIntentInput) (*Result, error) {
	var applicationID string
	err := tx.QueryRowContext(ctx,
		`SELECT application_id FROM payment_intents WHERE id = $1`, in.PaymentIntentID).Scan(&applicationID)
	if stderrors.Is(err, sql.ErrNoRows) {
		return fail(errors.ErrCodeNotFound, "payment intent not found"), nil
	}
	if err != nil {
		return nil, fmt.Errorf("load payment intent: %w", err)
	}

	app, err := store.LockApplication(ctx, tx, applicationID)
	if err != nil {
		return nil, err
	}
	if app == nil {
		return fail(errors.ErrCodeNotFound, "application not found"), nil
	}

	intent, err := m.findIntent(ctx, tx,
		`SELECT `+intentColumns+` FROM payment_intents WHERE id = $1 FOR UPDATE`, in.PaymentIntentID)
	if err != nil {
		return nil, err
	}
	if intent == nil {
		return fail(errors.ErrCodeNotFound, "payment intent not found"), nil
	}
	if intent.Status == models.PaymentSucceeded {
		return &Result{OK: true, Intent: intent, AlreadyPaid: true}, nil
	}
	if intent.Status == models.PaymentFailed {
		result := fail(errors.ErrCodeInvalidStatus, "payment intent failed; create a new attempt")
		result.Intent = intent
		return result, nil
	}

	attempt, err := m.lockLatestAttempt(ctx, tx, intent.ID)
	if err != nil {
		return nil, err
	}
	if attempt == nil {
		return fail(errors.ErrCodeNotFound, "payment intent has no attempts"), nil
	}

	ref := ""
	if intent.ProviderReference != nil {
		ref = *intent.ProviderReference
	}
	resp, err := m.provider.ConfirmIntent(ctx, ProviderConfirmRequest{Reference: ref, Confirmation: in.Confirmation})
	if err != nil {
		return nil, errors.NewPaymentProviderError(m.provider.Name(), err)
	}

	now := m.now()
	attempt.Status = resp.Status
	attempt.ProviderResponse = mustJSON(resp)
	attempt.FailureCode = optional(resp.FailureCode)
	attempt.FailureMessage = optional(resp.FailureMessage)
	attempt.UpdatedAt = now
	if _, err := tx.ExecContext(ctx, `
		UPDATE payment_attempts
		SET status = $2, provider_response = $3, failure_code = $4, failure_message = $5, updated_at = $6
		WHERE id = $1`,
		attempt.ID, string(attempt.Status), []byte(attempt.ProviderResponse),
		attempt.FailureCode, attempt.FailureMessage, now,
	); err != nil {
		return nil, fmt.Errorf("update payment attempt: %w", err)
	}

	intent.Status = resp.Status
	intent.LastFailureCode = attempt.FailureCode
	intent.LastFailureMessage = attempt.FailureMessage
	intent.UpdatedAt = now
	if resp.Status == models.PaymentSucceeded {
		intent.PaidAt = &now
	}
	if _, err := tx.ExecContext(ctx, `
		UPDATE payment_intents
		SET status = $2, last_failure_code = $3, last_failure_message = $4, paid_at = $5, updated_at = $6
		WHERE id = $1`,
		intent.ID, string(intent.Status), intent.LastFailureCode, intent.LastFailureMessage, intent.PaidAt, now,
	); err != nil {
		return nil, fmt.Errorf("update payment intent: %w", err)
	}

	if err := store.SetFeeStatus(ctx, tx, app.ID, intent.Status, now); err != nil {
		return nil, err
	}

	eventType := audit.EventPaymentConfirmed
	if resp.Status == models.PaymentFailed {
		eventType = audit.EventPaymentFailed
	}
	if err := m.trail.Append(ctx, tx, audit.ForApplication(app, eventType, in.Actor,
		intentTarget, intent.ID, map[string]interface{}{
			"attemptNumber": attempt.AttemptNumber,
			"status":        string(resp.Status),
			"failureCode":   resp.FailureCode,
		})); err != nil {
		return nil, err
	}

	if resp.Status == models.PaymentFailed {
		result := fail(errors.ErrCodePaymentFailed, resp.FailureMessage)
		result.Intent = intent
		result.Attempt = attempt
		return result, nil
	}
	return &Result{OK: true, Intent: intent, Attempt: attempt}, nil
}

// ListAttempts returns the intent's attempts in attempt order.
func (m *Manager) ListAttempts(ctx context.Context, db database.DBTX, paymentIntentID string) ([]models.PaymentAttempt, error) {
	if err := errors.RequireField("paymentIntentId", paymentIntentID); err != nil {
		return nil, err
	}
	rows, err := db.QueryContext(ctx, `
		SELECT `+attemptColumns+` FROM payment_attempts
		WHERE payment_intent_id = $1
		ORDER BY attempt_number`, paymentIntentID)
	if err != nil {
		return nil, fmt.Errorf("list payment attempts: %w", err)
	}
	defer rows.Close()

	var attempts []models.PaymentAttempt
	for rows.Next() {
		a, err := scanAttempt(rows)
		if err != nil {
			return nil, err
		}
		attempts = append(attempts, *a)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate payment attempts: %w", err)
	}
	return attempts, nil
}

// IntentsForApplication lists the application's intents, oldest first.
func IntentsForApplication(ctx context.Context, db database.DBTX, applicationID string) ([]models.PaymentIntent, error) {
	rows, err := db.QueryContext(ctx, `
		SELECT `+intentColumns+` FROM payment_intents
		WHERE application_id = $1
		ORDER BY created_at, id`, applicationID)
	if err != nil {
		return nil, fmt.Errorf("list payment intents: %w", err)
	}
	defer rows.Close()

	var intents []models.PaymentIntent
	for rows.Next() {
		i, err := scanIntent(rows)
		if err != nil {
			return nil, err
		}
		intents = append(intents, *i)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate payment intents: %w", err)
	}
	return intents, nil
}

func (m *Manager) applicationFee(ctx context.Context, db database.DBTX, app *models.Application) (int64, error) {
	res, err := m.resolver.Resolve(ctx, db, configresolver.Query{
		OrgID:            app.OrgID,
		PropertyID:       app.PropertyID,
		JurisdictionCode: app.Jurisdiction(),
		AsOf:             m.now(),
	})
	if err != nil {
		return 0, err
	}
	if res.Policy.ApplicationFeeCents <= 0 {
		return 0, errors.NewConfigInvalidError(app.OrgID, "application fee is not configured")
	}
	return res.Policy.ApplicationFeeCents, nil
}

func (m *Manager) insertIntent(ctx context.Context, db database.DBTX, i *models.PaymentIntent) error {
	if _, err := db.ExecContext(ctx, `
		INSERT INTO payment_intents (
			id, org_id, application_id, payment_type, status, amount_cents, currency,
			provider, provider_reference, client_secret, attempts_count, created_at, updated_at
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $12)`,
		i.ID, i.OrgID, i.ApplicationID, i.PaymentType, string(i.Status), i.AmountCents, i.Currency,
		i.Provider, i.ProviderReference, i.ClientSecret, i.AttemptsCount, i.CreatedAt,
	); err != nil {
		return fmt.Errorf("insert payment intent: %w", err)
	}
	return nil
}

func (m *Manager) retryIntent(ctx context.Context, db database.DBTX, i *models.PaymentIntent) error {
	if _, err := db.ExecContext(ctx, `
		UPDATE payment_intents
		SET status = $2, amount_cents = $3, provider_reference = $4, client_secret = $5,
		    attempts_count = $6, last_failure_code = NULL, last_failure_message = NULL, updated_at = $7
		WHERE id = $1`,
		i.ID, string(i.Status), i.AmountCents, i.ProviderReference, i.ClientSecret,
		i.AttemptsCount, i.UpdatedAt,
	); err != nil {
		return fmt.Errorf("update payment intent %s: %w", i.ID, err)
	}
	return nil
}

func (m *Manager) lockIntentForApplication(ctx context.Context, db database.DBTX, applicationID, paymentType string) (*models.PaymentIntent, error) {
	return m.findIntent(ctx, db, `
		SELECT `+intentColumns+` FROM payment_intents
		WHERE application_id = $1 AND payment_type = $2
		ORDER BY created_at DESC
		LIMIT 1
		FOR UPDATE`, applicationID, paymentType)
}

func (m *Manager) lockLatestAttempt(ctx context.Context, db database.DBTX, intentID string) (*models.PaymentAttempt, error) {
	a, err := scanAttempt(db.QueryRowContext(ctx, `
		SELECT `+attemptColumns+` FROM payment_attempts
		WHERE payment_intent_id = $1
		ORDER BY attempt_number DESC
		LIMIT 1
		FOR UPDATE`, intentID))
	if stderrors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	return a, err
}

func (m *Manager) findIntent(ctx context.Context, db database.DBTX, query string, args ...interface{}) (*models.PaymentIntent, error) {
	i, err := scanIntent(db.QueryRowContext(ctx, query, args...))
	if stderrors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	return i, err
}

func (m *Manager) finish(span trace.Span, op string, result *Result, err error) {
	ok, code := false, ""
	if result != nil {
		ok, code = result.OK, string(result.ErrorCode)
	}
	observability.EndSpan(span, ok, code, err)
	metrics.LeasingOperations.WithLabelValues("payment."+op, metrics.Outcome(ok && err == nil, code)).Inc()
}

func scanIntent(row store.RowScanner) (*models.PaymentIntent, error) {
	var (
		i      models.PaymentIntent
		status string
	)
	if err := row.Scan(&i.ID, &i.OrgID, &i.ApplicationID, &i.PaymentType, &status, &i.AmountCents, &i.Currency,
		&i.Provider, &i.ProviderReference, &i.ClientSecret, &i.AttemptsCount,
		&i.LastFailureCode, &i.LastFailureMessage, &i.PaidAt, &i.CreatedAt, &i.UpdatedAt); err != nil {
		if stderrors.Is(err, sql.ErrNoRows) {
			return nil, err
		}
		return nil, fmt.Errorf("scan payment intent: %w", err)
	}
	i.Status = models.PaymentStatus(status)
	return &i, nil
}

func scanAttempt(row store.RowScanner) (*models.PaymentAttempt, error) {
	var (
		a        models.PaymentAttempt
		status   string
		request  []byte
		response []byte
	)
	if err := row.Scan(&a.ID, &a.PaymentIntentID, &a.AttemptNumber, &status, &request,
		&response, &a.FailureCode, &a.FailureMessage, &a.CreatedAt, &a.UpdatedAt); err != nil {
		if stderrors.Is(err, sql.ErrNoRows) {
			return nil, err
		}
		return nil, fmt.Errorf("scan payment attempt: %w", err)
	}
	a.Status = models.PaymentStatus(status)
	if len(request) > 0 {
		a.ProviderRequest = request
	}
	if len(response) > 0 {
		a.ProviderResponse = response
	}
	return &a, nil
}

func optional(s string) *string {
	if s == "" {
		return nil
	}
	return &s
}
