package main

import (
	"fmt"
	"log/slog"
	"net/http"

	"github.com/jmoiron/sqlx"
	_ "github.com/lib/pq"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"erp_sync/internal/config"
	"erp_sync/internal/httpapi"
	"erp_sync/internal/metrics"
	"erp_sync/internal/publisher"
	"erp_sync/internal/ratelimit"
	"erp_sync/internal/retry"
	"erp_sync/internal/scheduler"
	"erp_sync/internal/service"
	"erp_sync/internal/source/qbo"
	"erp_sync/internal/storage/postgres"
)

// app holds the wired components shared by every subcommand.
type app struct {
	cfg    *config.Config
	logger *slog.Logger

	db        *sqlx.DB
	publisher *publisher.RabbitMQ
	registry  *prometheus.Registry
	metrics   *metrics.Metrics

	limiter      *ratelimit.Limiter
	queue        *postgres.QueueStore
	history      *postgres.HistoryStore
	connections  *postgres.ConnectionStore
	sessions     *service.SessionManager
	worker       *service.Worker
	orchestrator *service.Orchestrator
	webhooks     *service.WebhookService
}

func newApp(cfg *config.Config, logger *slog.Logger) (*app, error) {
	db, err := sqlx.Connect("postgres", cfg.Database.DSN())
	if err != nil {
		return nil, fmt.Errorf("connect to database: %w", err)
	}
	logger.Info("connected to database")

	a := &app{cfg: cfg, logger: logger, db: db}

	a.registry = prometheus.NewRegistry()
	a.registry.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	a.metrics = metrics.New(a.registry)

	// A nil *RabbitMQ must not end up inside the interface.
	var pub service.Publisher
	if cfg.RabbitMQ.Enabled {
		a.publisher, err = publisher.NewRabbitMQ(publisher.Config{
			URL:        cfg.RabbitMQ.URL,
			Exchange:   cfg.RabbitMQ.Exchange,
			RoutingKey: cfg.RabbitMQ.RoutingKey,
			QueueName:  cfg.RabbitMQ.QueueName,
		}, logger)
		if err != nil {
			db.Close()
			return nil, fmt.Errorf("connect to rabbitmq: %w", err)
		}
		pub = a.publisher
	}

	a.connections = postgres.NewConnectionStore(db)
	a.queue = postgres.NewQueueStore(db)
	a.history = postgres.NewHistoryStore(db)
	records := postgres.NewRecordIndex(db)
	txManager := postgres.NewTransactionManager(db)

	a.limiter = ratelimit.New(ratelimit.Config{
		Capacity: cfg.RateLimit.Capacity,
		Window:   cfg.RateLimit.Window,
		Margin:   cfg.RateLimit.Margin,
	}, ratelimit.WithWaitObserver(a.metrics.ObserveLimiterWait))

	retrier := retry.New(retry.Config{
		MaxRetries:      cfg.API.Retry.MaxRetries,
		BaseDelay:       cfg.API.Retry.BaseDelay,
		MaxDelay:        cfg.API.Retry.MaxDelay,
		ExponentialBase: cfg.API.Retry.ExponentialBase,
		Jitter:          *cfg.API.Retry.Jitter,
	}, logger, retry.WithAttemptObserver(a.metrics.ObserveAttempt))

	client := qbo.New(qbo.Config{
		BaseURL:      cfg.API.BaseURL,
		Timeout:      cfg.API.Timeout,
		MinorVersion: cfg.API.MinorVersion,
	}, a.connections, a.limiter, retrier, logger)

	a.sessions = service.NewSessionManager(postgres.NewSessionStore(db), cfg.Sync.BatchSize, logger)

	a.worker, err = service.NewWorker(client, a.sessions, records, service.Stores{
		Customers: postgres.NewCustomerStore(db),
		Items:     postgres.NewItemStore(db),
		Invoices:  postgres.NewInvoiceStore(db),
		Payments:  postgres.NewPaymentStore(db),
	}, txManager, cfg.Sync, logger, service.WithWorkerMetrics(a.metrics))
	if err != nil {
		a.Close()
		return nil, fmt.Errorf("create worker: %w", err)
	}

	a.orchestrator = service.NewOrchestrator(a.worker, a.history, a.queue, pub, cfg.Sync, logger,
		service.WithOrchestratorMetrics(a.metrics))

	tenants := service.NewTenantResolver(a.connections, cfg.Webhook.TenantCacheSize, cfg.Webhook.TenantCacheTTL)
	a.webhooks = service.NewWebhookService(
		cfg.Webhook.VerifierToken,
		tenants,
		postgres.NewWebhookEventStore(db),
		records,
		a.queue,
		txManager,
		a.metrics,
		logger,
	)

	return a, nil
}

func (a *app) queueProcessor() *scheduler.QueueProcessor {
	return scheduler.NewQueueProcessor(a.queue, a.orchestrator, a.cfg.Queue, a.metrics, a.logger)
}

func (a *app) scheduler() *scheduler.Scheduler {
	return scheduler.NewScheduler(a.connections, a.queue, a.cfg.Sync.Interval, a.logger)
}

func (a *app) router() http.Handler {
	h := httpapi.NewHandler(httpapi.Dependencies{
		Orchestrator: a.orchestrator,
		Worker:       a.worker,
		Webhooks:     a.webhooks,
		Queue:        a.queue,
		History:      a.history,
		Sessions:     a.sessions,
		Limiter:      a.limiter,
	}, a.logger)
	return httpapi.NewRouter(h, promhttp.HandlerFor(a.registry, promhttp.HandlerOpts{}), a.logger)
}

func (a *app) Close() {
	if a.publisher != nil {
		if err := a.publisher.Close(); err != nil {
			a.logger.Error("failed to close rabbitmq", "error", err)
		}
	}
	if err := a.db.Close(); err != nil {
		a.logger.Error("failed to close database", "error", err)
	}
}
