// Package errors provides standardized error handling for the leasing engine
// and its BPMN workflow integration.
//
// Two classes exist. Business outcomes (NOT_FOUND, INVALID_STATUS,
// RESERVATION_CONFLICT, ...) are plain ErrorCode values carried inside
// operation results; callers branch on them. StandardError is reserved for
// programmer errors (missing identifiers) and infrastructure failures.
package errors

import (
	stderrors "errors"
	"fmt"
	"strings"
	"time"
)

// ==========================
// 1. Standard Error Types
// ==========================

// ErrorCode represents standardized internal error codes.
type ErrorCode string

// Business outcomes returned inside operation results.
const (
	ErrCodeNotFound            ErrorCode = "NOT_FOUND"
	ErrCodeInvalidStatus       ErrorCode = "INVALID_STATUS"
	ErrCodeUnitUnavailable     ErrorCode = "UNIT_UNAVAILABLE"
	ErrCodeReservationConflict ErrorCode = "RESERVATION_CONFLICT"
	ErrCodePartiesIncomplete   ErrorCode = "PARTIES_INCOMPLETE"
	ErrCodeSubmitCapReached    ErrorCode = "SUBMIT_CAP_REACHED"
	ErrCodeConsentRequired     ErrorCode = "CONSENT_REQUIRED"
	ErrCodePaymentFailed       ErrorCode = "PAYMENT_FAILED"
	ErrCodeNotEligible         ErrorCode = "NOT_ELIGIBLE"
	ErrCodeHoldConflict        ErrorCode = "HOLD_CONFLICT"
	ErrCodeNotActive           ErrorCode = "NOT_ACTIVE"
	ErrCodeAlreadyClosed       ErrorCode = "ALREADY_CLOSED"
	ErrCodeSessionExpired      ErrorCode = "SESSION_EXPIRED"
	ErrCodeInvalidParty        ErrorCode = "INVALID_PARTY"
	ErrCodePrimaryExists       ErrorCode = "PRIMARY_PARTY_EXISTS"
	ErrCodeDuplicateDraft      ErrorCode = "DUPLICATE_DRAFT"
)

// Programmer and infrastructure errors.
const (
	ErrCodeInvalidInput             ErrorCode = "INVALID_INPUT"
	ErrCodeDatabaseConnectionFailed ErrorCode = "DATABASE_CONNECTION_FAILED"
	ErrCodeQueryExecutionFailed     ErrorCode = "QUERY_EXECUTION_FAILED"
	ErrCodeConfigInvalid            ErrorCode = "CONFIG_INVALID"
	ErrCodePaymentProviderFailed    ErrorCode = "PAYMENT_PROVIDER_FAILED"
	ErrCodeNotificationSendFailed   ErrorCode = "NOTIFICATION_SEND_FAILED"
	ErrCodeSearchIndexFailed        ErrorCode = "SEARCH_INDEX_FAILED"
	ErrCodeWorkflowEngineFailed     ErrorCode = "WORKFLOW_ENGINE_FAILED"
	ErrCodeInternal                 ErrorCode = "INTERNAL_ERROR"
)

// StandardError represents a structured application error.
type StandardError struct {
	Code      ErrorCode              `json:"code"`
	Message   string                 `json:"message"`
	Details   string                 `json:"details,omitempty"`
	Retryable bool                   `json:"retryable"`
	Metadata  map[string]interface{} `json:"metadata,omitempty"`
	Timestamp time.Time              `json:"timestamp"`
	cause     error
}

func (e *StandardError) Error() string {
	if e.Details != "" {
		return fmt.Sprintf("StandardError[%s]: %s: %s", e.Code, e.Message, e.Details)
	}
	return fmt.Sprintf("StandardError[%s]: %s", e.Code, e.Message)
}

func (e *StandardError) Unwrap() error {
	return e.cause
}

// ==========================
// 2. BPMN Error Integration
// ==========================

// BPMNError represents an error that can be thrown to the Camunda workflow engine.
type BPMNError struct {
	Code           string                 `json:"code"`
	Message        string                 `json:"message"`
	Details        string                 `json:"details,omitempty"`
	Retryable      bool                   `json:"retryable"`
	Retries        int                    `json:"retries"`
	ErrorVariables map[string]interface{} `json:"errorVariables,omitempty"`
}

func (e *BPMNError) Error() string {
	return fmt.Sprintf("BPMNError[%s]: %s", e.Code, e.Message)
}

// ToErrorVariables returns a map suitable for setting Camunda job fail variables.
func (e *BPMNError) ToErrorVariables() map[string]interface{} {
	vars := map[string]interface{}{
		"errorCode":    e.Code,
		"errorMessage": e.Message,
		"errorDetails": e.Details,
		"retryable":    e.Retryable,
	}

	for k, v := range e.ErrorVariables {
		vars[k] = v
	}

	return vars
}

// ==========================
// 3. Error Constructors
// ==========================

// NewInvalidInputError reports a missing or malformed required field.
func NewInvalidInputError(field, details string) *StandardError {
	return &StandardError{
		Code:      ErrCodeInvalidInput,
		Message:   fmt.Sprintf("invalid input: %s", field),
		Details:   details,
		Retryable: false,
		Metadata:  map[string]interface{}{"field": field},
		Timestamp: time.Now().UTC(),
	}
}

// RequireField returns an INVALID_INPUT error when value is blank.
func RequireField(field, value string) error {
	if strings.TrimSpace(value) == "" {
		return NewInvalidInputError(field, "required field missing")
	}
	return nil
}

// NewQueryExecutionFailedError wraps a store failure for the named operation.
func NewQueryExecutionFailedError(operation string, err error) *StandardError {
	return &StandardError{
		Code:      ErrCodeQueryExecutionFailed,
		Message:   "Database query execution error",
		Details:   fmt.Sprintf("operation: %s, error: %s", operation, err.Error()),
		Retryable: true,
		Timestamp: time.Now().UTC(),
		cause:     err,
	}
}

// NewDatabaseConnectionFailedError creates a retryable database connection error.
func NewDatabaseConnectionFailedError(err error) *StandardError {
	return &StandardError{
		Code:      ErrCodeDatabaseConnectionFailed,
		Message:   "Database connection error",
		Details:   err.Error(),
		Retryable: true,
		Timestamp: time.Now().UTC(),
		cause:     err,
	}
}

// NewConfigInvalidError reports a workflow config document that failed validation.
func NewConfigInvalidError(configID, details string) *StandardError {
	return &StandardError{
		Code:      ErrCodeConfigInvalid,
		Message:   "Workflow config document is invalid",
		Details:   fmt.Sprintf("configId: %s, %s", configID, details),
		Retryable: false,
		Timestamp: time.Now().UTC(),
	}
}

// NewPaymentProviderError wraps a transport-level provider failure.
func NewPaymentProviderError(provider string, err error) *StandardError {
	return &StandardError{
		Code:      ErrCodePaymentProviderFailed,
		Message:   fmt.Sprintf("Payment provider '%s' error", provider),
		Details:   err.Error(),
		Retryable: true,
		Timestamp: time.Now().UTC(),
		cause:     err,
	}
}

// NewNotificationSendFailedError wraps a delivery failure.
func NewNotificationSendFailedError(channel string, err error) *StandardError {
	return &StandardError{
		Code:      ErrCodeNotificationSendFailed,
		Message:   "Notification delivery failed",
		Details:   fmt.Sprintf("channel: %s, error: %s", channel, err.Error()),
		Retryable: true,
		Timestamp: time.Now().UTC(),
		cause:     err,
	}
}

// NewSearchIndexFailedError wraps an Elasticsearch indexing failure.
func NewSearchIndexFailedError(index string, err error) *StandardError {
	return &StandardError{
		Code:      ErrCodeSearchIndexFailed,
		Message:   "Search index write failed",
		Details:   fmt.Sprintf("index: %s, error: %s", index, err.Error()),
		Retryable: true,
		Timestamp: time.Now().UTC(),
		cause:     err,
	}
}

// NewWorkflowEngineError wraps a failed Zeebe command.
func NewWorkflowEngineError(operation string, retryable bool, err error) *StandardError {
	return &StandardError{
		Code:      ErrCodeWorkflowEngineFailed,
		Message:   fmt.Sprintf("Zeebe operation '%s' failed", operation),
		Details:   err.Error(),
		Retryable: retryable,
		Timestamp: time.Now().UTC(),
		cause:     err,
	}
}

// ==========================
// 4. Classification
// ==========================

// AsStandardError unwraps err to a *StandardError when one is in the chain.
func AsStandardError(err error) (*StandardError, bool) {
	var stdErr *StandardError
	if stderrors.As(err, &stdErr) {
		return stdErr, true
	}
	return nil, false
}

// IsInvalidInput reports whether err is a programmer error.
func IsInvalidInput(err error) bool {
	stdErr, ok := AsStandardError(err)
	return ok && stdErr.Code == ErrCodeInvalidInput
}

func GetRetryCount(code ErrorCode) int {
	switch code {
	case ErrCodeDatabaseConnectionFailed,
		ErrCodeQueryExecutionFailed,
		ErrCodePaymentProviderFailed,
		ErrCodeNotificationSendFailed,
		ErrCodeSearchIndexFailed,
		ErrCodeWorkflowEngineFailed:
		return 3

	default:
		return 0
	}
}

func ConvertToBPMNError(stdErr *StandardError) *BPMNError {
	retries := GetRetryCount(stdErr.Code)
	if !stdErr.Retryable {
		retries = 0
	}

	return &BPMNError{
		Code:      string(stdErr.Code),
		Message:   stdErr.Message,
		Details:   stdErr.Details,
		Retryable: stdErr.Retryable,
		Retries:   retries,
		ErrorVariables: map[string]interface{}{
			"originalErrorCode": string(stdErr.Code),
			"timestamp":         stdErr.Timestamp.Format(time.RFC3339),
		},
	}
}

func IsRetryableErrorCode(code ErrorCode) bool {
	return GetRetryCount(code) > 0
}

func GetErrorCategory(code ErrorCode) string {
	codeStr := string(code)
	switch {
	case strings.Contains(codeStr, "DATABASE") || strings.Contains(codeStr, "QUERY"):
		return "DATABASE"
	case strings.Contains(codeStr, "PAYMENT"):
		return "PAYMENT"
	case strings.Contains(codeStr, "RESERVATION") || strings.Contains(codeStr, "HOLD") || strings.Contains(codeStr, "UNIT"):
		return "RESERVATION"
	case strings.Contains(codeStr, "NOTIFICATION"):
		return "NOTIFICATION"
	case strings.Contains(codeStr, "SEARCH"):
		return "SEARCH"
	case strings.Contains(codeStr, "WORKFLOW"):
		return "WORKFLOW"
	case strings.Contains(codeStr, "INVALID") || strings.Contains(codeStr, "CONFIG"):
		return "VALIDATION"
	default:
		return "BUSINESS"
	}
}
