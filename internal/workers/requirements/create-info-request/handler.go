// internal/workers/requirements/create-info-request/handler.go
package createinforequest

import (
	"context"
	"database/sql"
	"encoding/json"

	"leasing-workers/internal/common/camunda"
	"leasing-workers/internal/common/database"
	"leasing-workers/internal/common/errors"
	"leasing-workers/internal/common/logger"
	"leasing-workers/internal/leasing/requirements"

	"github.com/camunda/zeebe/clients/go/v8/pkg/entities"
	"github.com/camunda/zeebe/clients/go/v8/pkg/worker"
)

const (
	TaskType = "create-info-request"
)

// Transactor runs fn in one database transaction.
type Transactor interface {
	WithTx(ctx context.Context, fn func(tx *sql.Tx) error) error
}

type InfoRequests interface {
	CreateInfoRequest(ctx context.Context, db database.DBTX, in requirements.CreateInfoRequestInput) (*requirements.Result, error)
}

type Handler struct {
	config   *Config
	db       Transactor
	requests InfoRequests
	jobs     *camunda.Responder
	logger   logger.Logger
}

func NewHandler(config *Config, db Transactor, requests InfoRequests, log logger.Logger) *Handler {
	log = log.WithFields(map[string]interface{}{"taskType": TaskType})
	return &Handler{
		config:   config,
		db:       db,
		requests: requests,
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
	items := make([]requirements.RequestedItem, len(input.Items))
	for i, item := range input.Items {
		if item.DueInHours == 0 {
			item.DueInHours = h.config.DefaultDueInHours
		}
		items[i] = item
	}

	var result *requirements.Result
	err := h.db.WithTx(ctx, func(tx *sql.Tx) error {
		var err error
		result, err = h.requests.CreateInfoRequest(ctx, tx, requirements.CreateInfoRequestInput{
			ApplicationID: input.ApplicationID,
			Message:       input.Message,
			UnlockScopes:  input.UnlockScopes,
			Items:         items,
			Actor:         input.Actor,
		})
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
	if result.InfoRequest != nil {
		output.InfoRequestID = result.InfoRequest.ID
	}
	for _, item := range result.Items {
		output.ItemIDs = append(output.ItemIDs, item.ID)
	}
	return output, nil
}
