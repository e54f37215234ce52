// internal/workers/decisioning/decision-queue/handler.go
package decisionqueue

import (
	"context"
	"encoding/json"

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
	TaskType = "decision-queue"
)

type Lister interface {
	List(ctx context.Context, db database.DBTX, f decisioning.QueueFilter) (*decisioning.QueuePage, error)
}

type Handler struct {
	config *Config
	db     database.DBTX
	queue  Lister
	jobs   *camunda.Responder
	logger logger.Logger
}

func NewHandler(config *Config, db database.DBTX, queue Lister, log logger.Logger) *Handler {
	log = log.WithFields(map[string]interface{}{"taskType": TaskType})
	return &Handler{
		config: config,
		db:     db,
		queue:  queue,
		jobs:   camunda.NewResponder(log),
		logger: log,
	}
}

func (h *Handler) Handle(client worker.JobClient, job entities.Job) {
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
	filter := decisioning.QueueFilter{
		OrgID:      input.OrgID,
		PropertyID: input.PropertyID,
		Sort:       input.Sort,
		Limit:      input.Limit,
		Offset:     input.Offset,
	}
	if filter.Limit <= 0 {
		filter.Limit = h.config.DefaultLimit
	}
	for _, s := range input.Statuses {
		filter.Statuses = append(filter.Statuses, models.ApplicationStatus(s))
	}
	for _, p := range input.Priorities {
		filter.Priorities = append(filter.Priorities, models.Priority(p))
	}

	page, err := h.queue.List(ctx, h.db, filter)
	if err != nil {
		return nil, err
	}

	output := &Output{
		Entries: make([]Entry, 0, len(page.Items)),
		Total:   page.Total,
		Facets:  page.Facets,
	}
	for _, item := range page.Items {
		output.Entries = append(output.Entries, Entry{
			ApplicationID: item.Application.ID,
			Status:        string(item.Application.Status),
			Priority:      string(item.Application.Priority),
			NextAction:    item.NextAction,
			SLA:           string(item.SLA),
		})
	}
	return output, nil
}
