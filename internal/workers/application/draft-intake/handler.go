// internal/workers/application/draft-intake/handler.go
package draftintake

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
	TaskType = "draft-intake"
)

// Intake covers the draft-stage operations before submission.
type Intake interface {
	StartDraft(ctx context.Context, in application.StartDraftInput) (*application.Result, error)
	InviteParty(ctx context.Context, in application.InvitePartyInput) (*application.Result, error)
	CompleteParty(ctx context.Context, in application.CompletePartyInput) (*application.Result, error)
	SaveDraft(ctx context.Context, in application.SaveDraftInput) (*application.Result, error)
	ResumeDraft(ctx context.Context, in application.ResumeDraftInput) (*application.Result, error)
}

type Handler struct {
	config  *Config
	machine Intake
	jobs    *camunda.Responder
	logger  logger.Logger
}

func NewHandler(config *Config, machine Intake, log logger.Logger) *Handler {
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
	result, err := h.dispatch(ctx, input)
	if err != nil {
		return nil, err
	}

	output := &Output{
		OK:           result.OK,
		ErrorCode:    string(result.ErrorCode),
		Message:      result.Message,
		Deduplicated: result.Deduplicated,
	}
	if app := result.Application; app != nil {
		output.ApplicationID = app.ID
		output.ApplicationStatus = string(app.Status)
	}
	if party := result.Party; party != nil {
		output.PartyID = party.ID
		output.PartyStatus = string(party.Status)
	}
	if session := result.Session; session != nil {
		if output.ApplicationID == "" {
			output.ApplicationID = session.ApplicationID
		}
		output.SessionToken = session.Token
		expiresAt := session.ExpiresAt
		output.SessionExpiresAt = &expiresAt
	}
	return output, nil
}

func (h *Handler) dispatch(ctx context.Context, input *Input) (*application.Result, error) {
	switch input.Action {
	case ActionStartDraft:
		var in application.StartDraftInput
		if err := decodePayload(input.Payload, &in); err != nil {
			return nil, err
		}
		return h.machine.StartDraft(ctx, in)
	case ActionInviteParty:
		var in application.InvitePartyInput
		if err := decodePayload(input.Payload, &in); err != nil {
			return nil, err
		}
		return h.machine.InviteParty(ctx, in)
	case ActionCompleteParty:
		var in application.CompletePartyInput
		if err := decodePayload(input.Payload, &in); err != nil {
			return nil, err
		}
		return h.machine.CompleteParty(ctx, in)
	case ActionSaveDraft:
		var in application.SaveDraftInput
		if err := decodePayload(input.Payload, &in); err != nil {
			return nil, err
		}
		return h.machine.SaveDraft(ctx, in)
	case ActionResumeDraft:
		var in application.ResumeDraftInput
		if err := decodePayload(input.Payload, &in); err != nil {
			return nil, err
		}
		return h.machine.ResumeDraft(ctx, in)
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
