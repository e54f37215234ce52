// internal/workers/payment/payment-intent/handler.go
package paymentintent

import (
	"context"
	"encoding/json"
	"fmt"

	"leasing-workers/internal/common/camunda"
	"leasing-workers/internal/common/errors"
	"leasing-workers/internal/common/logger"
	"leasing-workers/internal/leasing/payment"

	"github.com/camunda/zeebe/clients/go/v8/pkg/entities"
	"github.com/camunda/zeebe/clients/go/v8/pkg/worker"
)

const (
	TaskType = "payment-intent"
)

type Payments interface {
	CreateIntent(ctx context.Context, in payment.CreateIntentInput) (*payment.Result, error)
	ConfirmIntent(ctx context.Context, in payment.ConfirmIntentInput) (*payment.Result, error)
}

type Handler struct {
	config   *Config
	payments Payments
	jobs     *camunda.Responder
	logger   logger.Logger
}

func NewHandler(config *Config, payments Payments, log logger.Logger) *Handler {
	log = log.WithFields(map[string]interface{}{"taskType": TaskType})
	return &Handler{
		config:   config,
		payments: payments,
		jobs:     camunda.NewResponder(log),
		logger:   log,
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
	var (
		result *payment.Result
		err    error
	)
	switch input.Action {
	case ActionCreate:
		result, err = h.payments.CreateIntent(ctx, payment.CreateIntentInput{
			ApplicationID: input.ApplicationID,
			PaymentType:   input.PaymentType,
			AmountCents:   input.AmountCents,
			Actor:         input.Actor,
		})
	case ActionConfirm:
		result, err = h.payments.ConfirmIntent(ctx, payment.ConfirmIntentInput{
			PaymentIntentID: input.PaymentIntentID,
			Confirmation:    input.Confirmation,
			Actor:           input.Actor,
		})
	default:
		return nil, errors.NewInvalidInputError("action", fmt.Sprintf("unsupported action %q", input.Action))
	}
	if err != nil {
		return nil, err
	}

	output := &Output{
		OK:          result.OK,
		ErrorCode:   string(result.ErrorCode),
		Message:     result.Message,
		AlreadyPaid: result.AlreadyPaid,
	}
	if i := result.Intent; i != nil {
		output.PaymentIntentID = i.ID
		output.PaymentStatus = string(i.Status)
		output.AmountCents = i.AmountCents
		output.ClientSecret = i.ClientSecret
		output.AttemptsCount = i.AttemptsCount
	}
	return output, nil
}
