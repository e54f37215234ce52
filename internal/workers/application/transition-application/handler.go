// internal/workers/application/transition-application/handler.go
package transitionapplication

import (
	"context"
	"encoding/json"
	"fmt"

	"leasing-workers/internal/common/camunda"
	"leasing-workers/internal/common/errors"
	"leasing-workers/internal/common/logger"
	"leasing-workers/internal/leasing/application"

	"github.com/camunda/zeebe/clients/go/v8/pkg/entities"
	"github.com/camunda/zeebe/clients/go/v8/pkg/worker"
)

const (
	TaskType = "transition-application"
)

// Transitioner is the set of single-step lifecycle moves.
type Transitioner interface {
	StartReview(ctx context.Context, in application.TransitionInput) (*application.Result, error)
	Withdraw(ctx context.Context, in application.TransitionInput) (*application.Result, error)
	Convert(ctx context.Context, in application.TransitionInput) (*application.Result, error)
	CloseExpired(ctx context.Context, in application.TransitionInput) (*application.Result, error)
}

type Handler struct {
	config  *Config
	machine Transitioner
	jobs    *camunda.Responder
	logger  logger.Logger
}

func NewHandler(config *Config, machine Transitioner, log logger.Logger) *Handler {
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
	var op func(context.Context, application.TransitionInput) (*application.Result, error)
	switch input.Action {
	case ActionStartReview:
		op = h.machine.StartReview
	case ActionWithdraw:
		op = h.machine.Withdraw
	case ActionConvert:
		op = h.machine.Convert
	case ActionCloseExpired:
		op = h.machine.CloseExpired
	default:
		return nil, errors.NewInvalidInputError("action", fmt.Sprintf("unsupported action %q", input.Action))
	}

	result, err := op(ctx, application.TransitionInput{
		ApplicationID: input.ApplicationID,
		Actor:         input.Actor,
	})
	if err != nil {
		return nil, err
	}

	output := &Output{
		OK:            result.OK,
		ErrorCode:     string(result.ErrorCode),
		Message:       result.Message,
		ReleasedCount: len(result.Released),
	}
	if app := result.Application; app != nil {
		output.ApplicationStatus = string(app.Status)
		if app.ClosedReason != nil {
			output.ClosedReason = *app.ClosedReason
		}
	}
	for _, r := range result.Refunds {
		if r.Request != nil {
			output.RefundRequestIDs = append(output.RefundRequestIDs, r.Request.ID)
		}
	}
	return output, nil
}
