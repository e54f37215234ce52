// internal/workers/application/submit-application/handler.go
package submitapplication

import (
	"context"
	"encoding/json"

	"leasing-workers/internal/common/camunda"
	"leasing-workers/internal/common/errors"
	"leasing-workers/internal/common/logger"
	"leasing-workers/internal/leasing/application"

	"github.com/camunda/zeebe/clients/go/v8/pkg/entities"
	"github.com/camunda/zeebe/clients/go/v8/pkg/worker"
)

const (
	TaskType = "submit-application"
)

// Submitter is the slice of the application machine this worker drives.
type Submitter interface {
	Submit(ctx context.Context, in application.SubmitInput) (*application.Result, error)
}

type Handler struct {
	config  *Config
	machine Submitter
	jobs    *camunda.Responder
	logger  logger.Logger
}

func NewHandler(config *Config, machine Submitter, log logger.Logger) *Handler {
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
	result, err := h.machine.Submit(ctx, application.SubmitInput{
		ApplicationID: input.ApplicationID,
		ConsentSigned: input.ConsentSigned,
		Actor:         input.Actor,
	})
	if err != nil {
		return nil, err
	}

	output := &Output{
		OK:                  result.OK,
		ErrorCode:           string(result.ErrorCode),
		Message:             result.Message,
		RequirementCount:    len(result.Requirements),
		HolderApplicationID: result.HolderApplicationID,
	}
	if result.Application != nil {
		output.ApplicationStatus = string(result.Application.Status)
		output.ExpiresAt = result.Application.ExpiresAt
	}
	// A conflict reports the holder's expiry, not the rejected draft's.
	if result.HolderApplicationID != "" {
		output.ExpiresAt = result.HolderExpiresAt
	}

	if !result.OK {
		h.logger.Info("submission rejected", map[string]interface{}{
			"applicationId": input.ApplicationID,
			"errorCode":     output.ErrorCode,
		})
	}
	return output, nil
}
