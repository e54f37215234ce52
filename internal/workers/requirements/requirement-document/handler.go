// internal/workers/requirements/requirement-document/handler.go
package requirementdocument

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"

	"leasing-workers/internal/common/camunda"
	"leasing-workers/internal/common/database"
	"leasing-workers/internal/common/errors"
	"leasing-workers/internal/common/logger"
	"leasing-workers/internal/leasing/requirements"

	"github.com/camunda/zeebe/clients/go/v8/pkg/entities"
	"github.com/camunda/zeebe/clients/go/v8/pkg/worker"
)

const (
	TaskType = "requirement-document"
)

// Transactor runs fn in one database transaction.
type Transactor interface {
	WithTx(ctx context.Context, fn func(tx *sql.Tx) error) error
}

// Documents is the applicant-side and reviewer-side surface of the
// requirements engine.
type Documents interface {
	AttachDocument(ctx context.Context, db database.DBTX, in requirements.AttachDocumentInput) (*requirements.Result, error)
	VerifyDocument(ctx context.Context, db database.DBTX, in requirements.VerifyDocumentInput) (*requirements.Result, error)
	WaiveRequirement(ctx context.Context, db database.DBTX, in requirements.WaiveInput) (*requirements.Result, error)
	RespondToInfoRequest(ctx context.Context, db database.DBTX, in requirements.RespondInput) (*requirements.Result, error)
}

type Handler struct {
	config    *Config
	db        Transactor
	documents Documents
	jobs      *camunda.Responder
	logger    logger.Logger
}

func NewHandler(config *Config, db Transactor, documents Documents, log logger.Logger) *Handler {
	log = log.WithFields(map[string]interface{}{"taskType": TaskType})
	return &Handler{
		config:    config,
		db:        db,
		documents: documents,
		jobs:      camunda.NewResponder(log),
		logger:    log,
	}
}

func (h *Handler) Handle(client worker.JobClient, job entities.Job) {
	h.logger.Info("processing job", map[string]interface{}{
		"jobKey":      job.Key,
		"workflowKey": job.ProcessInstanceKey,
	})

	ctx, cancel := context.WithTimeout(context.Background(), h.config.Timeout)
	defer cancel()

	var input Input
	if err := json.Unmarshal([]byte(job.Variables), &input); err != nil {
		h.jobs.Fail(ctx, client, job, errors.NewInvalidInputError("variables", err.Error()))
		return
	}

	output, err := h.Execute(ctx, &input)
	if err != nil {
		h.jobs.Fail(ctx, client, job, err)
		return
	}
	h.jobs.Complete(ctx, client, job, output)
}

func (h *Handler) Execute(ctx context.Context, input *Input) (*Output, error) {
	op, err := h.operation(input)
	if err != nil {
		return nil, err
	}

	var result *requirements.Result
	err = h.db.WithTx(ctx, func(tx *sql.Tx) error {
		var err error
		result, err = op(ctx, tx)
		return err
	})
	if err != nil {
		return nil, err
	}

	output := &Output{
		OK:                result.OK,
		ErrorCode:         string(result.ErrorCode),
		Message:           result.Message,
		ApplicationStatus: string(result.ApplicationStatus),
	}
	if doc := result.Document; doc != nil {
		output.DocumentID = doc.ID
		output.DocumentStatus = string(doc.Status)
	}
	if item := result.Item; item != nil {
		output.RequirementItemID = item.ID
		output.RequirementStatus = string(item.Status)
	}
	if ir := result.InfoRequest; ir != nil {
		output.InfoRequestID = ir.ID
		output.InfoRequestStatus = string(ir.Status)
	}
	return output, nil
}

type operation func(ctx context.Context, db database.DBTX) (*requirements.Result, error)

// operation decodes the payload up front so malformed input never opens a
// transaction.
func (h *Handler) operation(input *Input) (operation, error) {
	switch input.Action {
	case ActionAttach:
		var in requirements.AttachDocumentInput
		if err := decodePayload(input.Payload, &in); err != nil {
			return nil, err
		}
		return func(ctx context.Context, db database.DBTX) (*requirements.Result, error) {
			return h.documents.AttachDocument(ctx, db, in)
		}, nil
	case ActionVerify:
		var in requirements.VerifyDocumentInput
		if err := decodePayload(input.Payload, &in); err != nil {
			return nil, err
		}
		return func(ctx context.Context, db database.DBTX) (*requirements.Result, error) {
			return h.documents.VerifyDocument(ctx, db, in)
		}, nil
	case ActionWaive:
		var in requirements.WaiveInput
		if err := decodePayload(input.Payload, &in); err != nil {
			return nil, err
		}
		return func(ctx context.Context, db database.DBTX) (*requirements.Result, error) {
			return h.documents.WaiveRequirement(ctx, db, in)
		}, nil
	case ActionRespond:
		var in requirements.RespondInput
		if err := decodePayload(input.Payload, &in); err != nil {
			return nil, err
		}
		return func(ctx context.Context, db database.DBTX) (*requirements.Result, error) {
			return h.documents.RespondToInfoRequest(ctx, db, in)
		}, nil
	default:
		return nil, errors.NewInvalidInputError("action", fmt.Sprintf("unsupported action %q", input.Action))
	}
}

func decodePayload(raw json.RawMessage, v interface{}) error {
	if len(raw) == 0 {
		return errors.NewInvalidInputError("payload", "payload is required")
	}
	if err := json.Unmarshal(raw, v); err != nil {
		return errors.NewInvalidInputError("payload", err.Error())
	}
	return nil
}
