// cmd/worker-manager/main.go
package main

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"

	"leasing-workers/internal/common/aws"
	"leasing-workers/internal/common/camunda"
	"leasing-workers/internal/common/config"
	"leasing-workers/internal/common/database"
	"leasing-workers/internal/common/logger"
	"leasing-workers/internal/common/observability"
	"leasing-workers/internal/leasing/application"
	"leasing-workers/internal/leasing/audit"
	"leasing-workers/internal/leasing/configresolver"
	"leasing-workers/internal/leasing/decisioning"
	"leasing-workers/internal/leasing/jobs"
	"leasing-workers/internal/leasing/notify"
	"leasing-workers/internal/leasing/payment"
	"leasing-workers/internal/leasing/refund"
	"leasing-workers/internal/leasing/requirements"
	"leasing-workers/internal/leasing/reservation"

	// Application lifecycle workers
	da "leasing-workers/internal/workers/application/decide-application"
	di "leasing-workers/internal/workers/application/draft-intake"
	sa "leasing-workers/internal/workers/application/submit-application"
	ta "leasing-workers/internal/workers/application/transition-application"

	// Decisioning workers
	dq "leasing-workers/internal/workers/decisioning/decision-queue"
	or "leasing-workers/internal/workers/decisioning/override-request"

	// Payments and requirements
	pi "leasing-workers/internal/workers/payment/payment-intent"
	cir "leasing-workers/internal/workers/requirements/create-info-request"
	rd "leasing-workers/internal/workers/requirements/requirement-document"
)

// retryWithBackoff attempts to execute a function with exponential backoff
func retryWithBackoff(operation func() error, maxRetries int, initialDelay time.Duration, log *zap.Logger, operationName string) error {
	var err error
	delay := initialDelay

	for i := 0; i < maxRetries; i++ {
		err = operation()
		if err == nil {
			return nil
		}

		if i < maxRetries-1 {
			log.Warn(fmt.Sprintf("%s failed, retrying...", operationName),
				zap.Error(err),
				zap.Int("attempt", i+1),
				zap.Int("maxRetries", maxRetries),
				zap.Duration("nextRetryIn", delay),
			)
			time.Sleep(delay)
			delay *= 2
		}
	}

	return fmt.Errorf("%s failed after %d attempts: %w", operationName, maxRetries, err)
}

// workerTimeout returns the configured job timeout, or def when unset.
func workerTimeout(cfg *config.Config, taskType string, def time.Duration) time.Duration {
	if ms := config.GetWorkerConfig(cfg, taskType).Timeout; ms > 0 {
		return config.GetDuration(ms)
	}
	return def
}

func main() {
	cfg, err := config.Load()
	if err != nil {
		bootLog := logger.New("info", "console")
		bootLog.Fatal("config load failed", zap.Error(err))
	}

	zapLog := logger.New(cfg.Logging.Level, cfg.Logging.Format)
	defer zapLog.Sync()

	log := logger.NewZapAdapter(zapLog)

	zapLog.Info("Starting worker manager...",
		zap.String("app", cfg.App.Name),
		zap.String("version", cfg.App.Version),
		zap.String("environment", cfg.App.Environment),
	)

	obs, err := observability.New(cfg.App.Name, cfg.Tracing)
	if err != nil {
		zapLog.Warn("observability partially initialized", zap.Error(err))
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// --- Init PostgreSQL with retry ---
	var pg *database.PostgresClient
	err = retryWithBackoff(func() error {
		var err error
		pg, err = database.NewPostgres(cfg.Database.Postgres)
		if err != nil {
			return err
		}
		return pg.Ping(ctx)
	}, 15, 2*time.Second, zapLog, "PostgreSQL connection")
	if err != nil {
		zapLog.Fatal("postgres failed after retries", zap.Error(err))
	}
	defer pg.Close()
	zapLog.Info("PostgreSQL connected successfully")

	if cfg.Database.Postgres.AutoMigrate {
		if err := pg.Migrate(ctx); err != nil {
			zapLog.Fatal("schema migration failed", zap.Error(err))
		}
		zapLog.Info("Schema migrated")
	}

	// --- Init Redis with retry ---
	var redis *database.RedisClient
	err = retryWithBackoff(func() error {
		var err error
		redis, err = database.NewRedis(cfg.Database.Redis)
		if err != nil {
			return err
		}
		return redis.Ping(ctx)
	}, 10, 2*time.Second, zapLog, "Redis connection")
	if err != nil {
		zapLog.Fatal("redis failed after retries", zap.Error(err))
	}
	defer redis.Close()
	zapLog.Info("Redis connected successfully")

	// --- Init Elasticsearch with retry ---
	var indexer jobs.Indexer
	if cfg.Database.Elasticsearch.Enabled() {
		var esClient *database.ElasticsearchClient
		err = retryWithBackoff(func() error {
			var err error
			esClient, err = database.NewElasticsearch(cfg.Database.Elasticsearch)
			if err != nil {
				return err
			}
			return esClient.Ping()
		}, 15, 2*time.Second, zapLog, "Elasticsearch connection")
		if err != nil {
			zapLog.Fatal("elasticsearch failed after retries", zap.Error(err))
		}
		indexer = esClient
		zapLog.Info("Elasticsearch connected successfully")
	}

	// --- Leasing engine ---
	cache := configresolver.NewCache(redis.GetClient(), time.Duration(cfg.Leasing.ConfigCacheTTLSeconds)*time.Second)
	resolver := configresolver.NewResolver(cache, cfg.Leasing, log)

	trail := audit.NewTrail(log)
	ledger := reservation.NewLedger(trail, log)
	reqs := requirements.NewEngine(trail, log)
	refunds := refund.NewService(trail, log)
	recorder := decisioning.NewRecorder(log)
	overrides := decisioning.NewOverrides(recorder, trail, log)

	caps, err := decisioning.DetectCapabilities(ctx, pg.DB)
	if err != nil {
		zapLog.Fatal("queue capability detection failed", zap.Error(err))
	}
	queue := decisioning.NewQueue(caps, log)
	zapLog.Info("Queue capabilities detected",
		zap.Bool("properties", caps.HasProperties),
		zap.Bool("units", caps.HasUnits),
	)

	machine := application.NewMachine(pg, application.Deps{
		Resolver:     resolver,
		Ledger:       ledger,
		Requirements: reqs,
		Refunds:      refunds,
		Decisions:    recorder,
		Trail:        trail,
	}, cfg.Leasing, log)

	provider, err := payment.NewProvider(cfg.Leasing.PaymentProvider)
	if err != nil {
		zapLog.Fatal("payment provider unavailable", zap.Error(err))
	}
	payments := payment.NewManager(pg, provider, resolver, trail, cfg.Leasing, log)

	// --- Notification channels ---
	var (
		email notify.EmailSender
		sms   notify.SMSSender
	)
	if cfg.Notifications.Email.Enabled {
		sesClient, err := aws.NewSESClient(ctx, cfg.Notifications.AWS.Region, cfg.Notifications.Email.FromEmail)
		if err != nil {
			zapLog.Fatal("failed to create SES client", zap.Error(err))
		}
		email = sesClient
	}
	if cfg.Notifications.SMS.Enabled {
		snsClient, err := aws.NewSNSClient(ctx, cfg.Notifications.AWS.Region, cfg.Notifications.SMS.SenderID)
		if err != nil {
			zapLog.Fatal("failed to create SNS client", zap.Error(err))
		}
		sms = snsClient
	}
	var notifier jobs.Notifier
	if email != nil || sms != nil {
		notifier = notify.NewSender(email, sms, log)
	}

	// --- Init Zeebe Client with retry ---
	var zc *camunda.Client
	err = retryWithBackoff(func() error {
		var err error
		zc, err = camunda.NewClientWithConfig(&camunda.ClientConfig{
			GatewayAddress:         cfg.Camunda.BrokerAddress,
			UsePlaintextConnection: true,
			ConnectionTimeout:      config.GetDuration(cfg.Camunda.RequestTimeout),
		})
		return err
	}, 10, 2*time.Second, zapLog, "Zeebe client initialization")
	if err != nil {
		zapLog.Fatal("zeebe client failed after retries", zap.Error(err))
	}
	zapLog.Info("Zeebe client connected successfully")

	// --- Register workers ---
	var workers []*camunda.Worker
	register := func(taskType string, handler camunda.JobHandler) {
		if w := zc.StartWorker(taskType, config.GetWorkerConfig(cfg, taskType), handler, log); w != nil {
			workers = append(workers, w)
		}
	}

	register(di.TaskType, di.NewHandler(
		&di.Config{Timeout: workerTimeout(cfg, di.TaskType, di.LoadConfig().Timeout)},
		machine, log,
	).Handle)

	register(sa.TaskType, sa.NewHandler(
		&sa.Config{Timeout: workerTimeout(cfg, sa.TaskType, sa.LoadConfig().Timeout)},
		machine, log,
	).Handle)

	register(da.TaskType, da.NewHandler(
		&da.Config{Timeout: workerTimeout(cfg, da.TaskType, da.LoadConfig().Timeout)},
		machine, log,
	).Handle)

	register(ta.TaskType, ta.NewHandler(
		&ta.Config{Timeout: workerTimeout(cfg, ta.TaskType, ta.LoadConfig().Timeout)},
		machine, log,
	).Handle)

	cirCfg := cir.LoadConfig()
	cirCfg.Timeout = workerTimeout(cfg, cir.TaskType, cirCfg.Timeout)
	register(cir.TaskType, cir.NewHandler(cirCfg, pg, reqs, log).Handle)

	register(rd.TaskType, rd.NewHandler(
		&rd.Config{Timeout: workerTimeout(cfg, rd.TaskType, rd.LoadConfig().Timeout)},
		pg, reqs, log,
	).Handle)

	register(pi.TaskType, pi.NewHandler(
		&pi.Config{Timeout: workerTimeout(cfg, pi.TaskType, pi.LoadConfig().Timeout)},
		payments, log,
	).Handle)

	register(or.TaskType, or.NewHandler(
		&or.Config{Timeout: workerTimeout(cfg, or.TaskType, or.LoadConfig().Timeout)},
		pg, overrides, log,
	).Handle)

	dqCfg := dq.LoadConfig()
	dqCfg.Timeout = workerTimeout(cfg, dq.TaskType, dqCfg.Timeout)
	register(dq.TaskType, dq.NewHandler(dqCfg, pg.DB, queue, log).Handle)

	zapLog.Info("Workers registered", zap.Int("count", len(workers)))

	// --- Background jobs ---
	runnerDone := make(chan struct{})
	if cfg.Jobs.Enabled {
		sweeper := jobs.NewSweeper(jobs.Deps{
			Postgres:      pg,
			Machine:       machine,
			Ledger:        ledger,
			Requirements:  reqs,
			Resolver:      resolver,
			Trail:         trail,
			Notifier:      notifier,
			Indexer:       indexer,
			AuditIndex:    cfg.Database.Elasticsearch.AuditIndex,
			Observability: obs,
		}, cfg.Jobs, cfg.Leasing.Defaults, log)
		runner := jobs.NewRunner(sweeper, cfg.Jobs, log)
		go func() {
			defer close(runnerDone)
			runner.Run(ctx)
		}()
	} else {
		close(runnerDone)
	}

	// --- Health & Metrics Server ---
	mux := http.NewServeMux()
	mux.HandleFunc("/health", func(w http.ResponseWriter, r *http.Request) {
		checkCtx, checkCancel := context.WithTimeout(r.Context(), 5*time.Second)
		defer checkCancel()

		checks := map[string]string{"postgres": "ok", "zeebe": "ok"}
		status := http.StatusOK
		if err := pg.Ping(checkCtx); err != nil {
			checks["postgres"] = err.Error()
			status = http.StatusServiceUnavailable
		}
		if err := zc.HealthCheck(checkCtx); err != nil {
			checks["zeebe"] = err.Error()
			status = http.StatusServiceUnavailable
		}

		state := "healthy"
		if status != http.StatusOK {
			state = "unhealthy"
		}
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(status)
		json.NewEncoder(w).Encode(map[string]interface{}{
			"status": state,
			"checks": checks,
			"time":   time.Now().Format(time.RFC3339),
		})
	})
	mux.Handle("/metrics", promhttp.Handler())

	server := &http.Server{
		Addr:              cfg.App.HTTPAddress,
		Handler:           mux,
		ReadHeaderTimeout: 5 * time.Second,
	}
	go func() {
		zapLog.Info("Health/Metrics server listening", zap.String("address", cfg.App.HTTPAddress))
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			zapLog.Error("Health/Metrics server failed", zap.Error(err))
		}
	}()

	// --- Graceful Shutdown ---
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, os.Interrupt, syscall.SIGTERM)
	<-sigCh

	zapLog.Info("Shutdown signal received, stopping workers...")
	cancel()

	for _, w := range workers {
		w.Stop()
	}
	// The runner returns once its in-flight sweep has settled.
	<-runnerDone

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer shutdownCancel()

	if err := server.Shutdown(shutdownCtx); err != nil {
		zapLog.Error("Error stopping health server", zap.Error(err))
	}
	if err := zc.Close(); err != nil {
		zapLog.Error("Error closing Zeebe client", zap.Error(err))
	}
	obs.Shutdown(shutdownCtx)

	zapLog.Info("Worker manager stopped gracefully")
}
