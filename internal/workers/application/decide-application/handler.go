// internal/workers/application/decide-application/handler.go
package decideapplication

import (
	"context"
	"encoding/json"

	"leasing-workers/internal/common/camunda"
	"leasing-workers/internal/common/errors"
	"leasing-workers/internal/common/logger"
	"leasing-workers/internal/leasing/application"
	"leasing-workers/internal/leasing/decisioning"
	"leasing-workers/internal/models"

	"github.com/camunda/zeebe/clients/go/v8/pkg/entities"
	"github.com/camunda/zeebe/clients/go/v8/pkg/worker"
)

const (
	TaskType = "decide-application"
)

type Decider interface {
	Decide(ctx context.Context, in application.DecideInput) (*application.Result, error)
}

type Handler struct {
	config  *Config
	machine Decider
	jobs    *camunda.Responder
	logger  logger.Logger
}

func NewHandler(config *Config, machine Decider, log logger.Logger) *Handler {
	log = log.WithFields(map[string]interface{}{"taskType": TaskType})
	return &Handler{
		config:  config,
		machine: machine,
		jobs:    camunda.NewResponder(log),
		logger:  log,
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
	outcome := models.DecisionOutcome(input.Outcome)
	if !outcome.Valid() {
		return nil, errors.NewInvalidInputError("outcome", "unknown decision outcome "+input.Outcome)
	}
	if err := errors.RequireField("decidedBy", input.DecidedBy); err != nil {
		return nil, err
	}

	result, err := h.machine.Decide(ctx, application.DecideInput{
		ApplicationID: input.ApplicationID,
		DecisionInput: decisioning.DecisionInput{
			Outcome:         outcome,
			IncomeFinding:   input.IncomeFinding,
			CriminalFinding: input.CriminalFinding,
			Conditions:      input.Conditions,
			Notes:           input.Notes,
			DecidedBy:       input.DecidedBy,
		},
	})
	if err != nil {
		return nil, err
	}

	output := &Output{
		OK:                  result.OK,
		ErrorCode:           string(result.ErrorCode),
		Message:             result.Message,
		HolderApplicationID: result.HolderApplicationID,
		HolderExpiresAt:     result.HolderExpiresAt,
		ReleasedCount:       len(result.Released),
	}
	if result.Application != nil {
		output.ApplicationStatus = string(result.Application.Status)
	}
	if result.Decision != nil {
		output.DecisionVersion = result.Decision.Version
		output.Outcome = string(result.Decision.Outcome)
	}
	return output, nil
}
