// internal/common/camunda/worker.go
package camunda

import (
	"context"
	"time"

	"leasing-workers/internal/common/config"
	"leasing-workers/internal/common/errors"
	"leasing-workers/internal/common/logger"
	"leasing-workers/internal/common/metrics"

	"github.com/camunda/zeebe/clients/go/v8/pkg/entities"
	"github.com/camunda/zeebe/clients/go/v8/pkg/worker"
)

// JobHandler processes one activated job. It completes or fails the job
// itself.
type JobHandler func(client worker.JobClient, job entities.Job)

// Worker is an open job worker for one task type.
type Worker struct {
	worker   worker.JobWorker
	taskType string
	logger   logger.Logger
}

// StartWorker opens a job worker for taskType. It returns nil when the
// worker is disabled.
func (c *Client) StartWorker(taskType string, wcfg config.WorkerConfig, handler JobHandler, log logger.Logger) *Worker {
	log = log.WithFields(map[string]interface{}{"taskType": taskType})
	if !wcfg.Enabled {
		log.Info("worker disabled", nil)
		return nil
	}

	jobWorker := c.client.NewJobWorker().
		JobType(taskType).
		Handler(instrument(taskType, handler)).
		MaxJobsActive(wcfg.MaxJobsActive).
		Timeout(config.GetDuration(wcfg.Timeout)).
		Open()

	log.Info("worker started", map[string]interface{}{
		"maxJobsActive": wcfg.MaxJobsActive,
		"timeoutMs":     wcfg.Timeout,
	})
	return &Worker{worker: jobWorker, taskType: taskType, logger: log}
}

func instrument(taskType string, handler JobHandler) worker.JobHandler {
	return func(client worker.JobClient, job entities.Job) {
		active := metrics.WorkerJobsActive.WithLabelValues(taskType)
		active.Inc()
		start := time.Now()
		defer func() {
			active.Dec()
			metrics.WorkerJobDuration.WithLabelValues(taskType).Observe(time.Since(start).Seconds())
		}()
		handler(client, job)
	}
}

// Stop closes the worker and waits for in-flight jobs.
func (w *Worker) Stop() {
	w.logger.Info("stopping worker", nil)
	w.worker.Close()
	w.worker.AwaitClose()
}

// Responder completes jobs with output variables and routes failures
// through the error handler.
type Responder struct {
	errors *errors.ErrorHandler
	retry  *RetryConfig
	logger logger.Logger
}

func NewResponder(log logger.Logger) *Responder {
	return &Responder{
		errors: errors.NewErrorHandler(log),
		retry:  DefaultRetryConfig,
		logger: log,
	}
}

// Complete sends the job's output variables, retrying transient failures.
func (r *Responder) Complete(ctx context.Context, client worker.JobClient, job entities.Job, output interface{}) {
	ctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 30*time.Second)
	defer cancel()

	err := executeWithRetry(ctx, r.retry, "completeJob", func(ctx context.Context) error {
		cmd, err := client.NewCompleteJobCommand().JobKey(job.Key).VariablesFromObject(output)
		if err != nil {
			return err
		}
		_, err = cmd.Send(ctx)
		return err
	})
	if err != nil {
		r.logger.Error("failed to complete job", map[string]interface{}{
			"jobKey": job.Key,
			"error":  err.Error(),
		})
		return
	}
	metrics.WorkerJobsCompleted.WithLabelValues(job.Type).Inc()
	r.logger.Info("job completed", map[string]interface{}{"jobKey": job.Key})
}

// Fail reports err on the job: retryable errors fail the job with retries
// left, everything else is thrown as a BPMN error.
func (r *Responder) Fail(ctx context.Context, client worker.JobClient, job entities.Job, err error) {
	ctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 30*time.Second)
	defer cancel()

	code := "UNKNOWN"
	if stdErr, ok := errors.AsStandardError(err); ok {
		code = string(stdErr.Code)
	}
	metrics.WorkerJobsFailed.WithLabelValues(job.Type, code).Inc()
	r.errors.HandleJobError(ctx, client, job, err)
}
