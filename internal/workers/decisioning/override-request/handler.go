// internal/workers/decisioning/override-request/handler.go
package overriderequest

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"

	"leasing-workers/internal/common/camunda"
	"leasing-workers/internal/common/database"
	"leasing-workers/internal/common/errors"
	"leasing-workers/internal/common/logger"
	"leasing-workers/internal/leasing/decisioning"
	"leasing-workers/internal/models"

	"github.com/camunda/zeebe/clients/go/v8/pkg/entities"
	"github.com/camunda/zeebe/clients/go/v8/pkg/worker"
)

const (
	TaskType = "override-request"
)

type Transactor interface {
	WithTx(ctx context.Context, fn func(tx *sql.Tx) error) error
}

type Overrides interface {
	RequestOverride(ctx context.Context, db database.DBTX, in decisioning.RequestOverrideInput) (*decisioning.OverrideResult, error)
	ResolveOverride(ctx context.Context, db database.DBTX, in decisioning.ResolveOverrideInput) (*decisioning.OverrideResult, error)
}

type Handler struct {
	config    *Config
	db        Transactor
	overrides Overrides
	jobs      *camunda.Responder
	logger    logger.Logger
}

func NewHandler(config *Config, db Transactor, overrides Overrides, log logger.Logger) *Handler {
	log = log.WithFields(map[string]interface{}{"taskType": TaskType})
	return &Handler{
		config:    config,
		db:        db,
		overrides: overrides,
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
	var op func(tx *sql.Tx) (*decisioning.OverrideResult, error)
	switch input.Action {
	case ActionRequest:
		op = func(tx *sql.Tx) (*decisioning.OverrideResult, error) {
			return h.overrides.RequestOverride(ctx, tx, decisioning.RequestOverrideInput{
				ApplicationID:  input.ApplicationID,
				Kind:           models.OverrideKind(input.Kind),
				RequestedValue: input.RequestedValue,
				Reason:         input.Reason,
				RequestedBy:    input.Actor,
			})
		}
	case ActionResolve:
		op = func(tx *sql.Tx) (*decisioning.OverrideResult, error) {
			return h.overrides.ResolveOverride(ctx, tx, decisioning.ResolveOverrideInput{
				OverrideID: input.OverrideID,
				Approve:    input.Approve,
				ResolvedBy: input.Actor,
			})
		}
	default:
		return nil, errors.NewInvalidInputError("action", fmt.Sprintf("unsupported action %q", input.Action))
	}

	var result *decisioning.OverrideResult
	if err := h.db.WithTx(ctx, func(tx *sql.Tx) error {
		var err error
		result, err = op(tx)
		return err
	}); err != nil {
		return nil, err
	}

	output := &Output{
		OK:        result.OK,
		ErrorCode: string(result.ErrorCode),
		Message:   result.Message,
	}
	if result.Override != nil {
		output.OverrideID = result.Override.ID
		output.OverrideStatus = string(result.Override.Status)
	}
	if result.Application != nil {
		output.Priority = string(result.Application.Priority)
	}
	if result.Decision != nil {
		output.DecisionVersion = result.Decision.Version
	}
	return output, nil
}
