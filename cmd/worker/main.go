package main

import (
	"context"
	"database/sql"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/bsm/redislock"
	"github.com/gorilla/mux"
	"github.com/joho/godotenv"
	_ "github.com/lib/pq"
	"github.com/robfig/cron/v3"
	"github.com/sirupsen/logrus"

	"mailpacer/internal/config"
	"mailpacer/internal/events"
	"mailpacer/internal/handler"
	"mailpacer/internal/logger"
	"mailpacer/internal/mailer"
	"mailpacer/internal/metrics"
	"mailpacer/internal/queue"
	"mailpacer/internal/ratelimit"
	"mailpacer/internal/repository"
	"mailpacer/internal/service"
	"mailpacer/internal/worker"
)

const version = "1.0.0"

func main() {
	// Load .env file (ignore error in production)
	_ = godotenv.Load()

	cfg, err := config.Load()
	if err != nil {
		logrus.Fatalf("Failed to load config: %v", err)
	}

	log := logger.New(cfg.LogLevel)
	entry := logger.Component(log, "worker")

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	db, err := sql.Open("postgres", cfg.GetDatabaseDSN())
	if err != nil {
		entry.Fatalf("Failed to connect to database: %v", err)
	}
	defer db.Close()

	if err := db.PingContext(ctx); err != nil {
		entry.Fatalf("Failed to ping database: %v", err)
	}
	entry.Info("✅ Connected to database")

	rdb, err := queue.Connect(ctx, cfg.Redis)
	if err != nil {
		entry.Fatalf("Failed to connect to redis: %v", err)
	}
	defer rdb.Close()
	entry.Info("✅ Connected to Redis")

	dispatch := queue.New(rdb, queue.Options{
		Name:          cfg.Queue.Name,
		Lease:         cfg.Queue.Lease,
		KeepCompleted: cfg.Queue.KeepCompleted,
		KeepFailed:    cfg.Queue.KeepFailed,
	})

	// Delivery events are optional; without a broker they are dropped
	var (
		publisher  events.Publisher = events.Discard{}
		eventsPing service.Pinger
	)
	if cfg.RabbitMQ.Enabled {
		conn, err := events.Dial(cfg.GetRabbitMQURL(), logger.Component(log, "events"))
		if err != nil {
			entry.Fatalf("Failed to connect to RabbitMQ: %v", err)
		}
		defer conn.Close()

		amqpPublisher, err := events.NewAMQPPublisher(conn, cfg.RabbitMQ.Queue)
		if err != nil {
			entry.Fatalf("Failed to create event publisher: %v", err)
		}
		publisher = amqpPublisher
		eventsPing = conn
		entry.Info("✅ Connected to RabbitMQ")
	}
	defer publisher.Close()

	transport := newMailer(cfg, log)

	campaignRepo := repository.NewCampaignRepository(db)
	jobRepo := repository.NewEmailJobRepository(db)

	delivery := service.NewDeliveryService(
		jobRepo,
		ratelimit.New(rdb),
		dispatch,
		transport,
		worker.Pacers{
			worker.NewPacer(cfg.Worker.MinDelay),
			ratelimit.NewPacer(rdb, dispatch.Name(), cfg.Worker.MinDelay),
		},
		publisher,
		service.DeliveryOptions{
			From:             cfg.Mail.From,
			DefaultSender:    cfg.Worker.SenderID,
			MaxEmailsPerHour: cfg.Worker.MaxEmailsPerHour,
		},
		logger.Component(log, "delivery"),
	)

	pool := worker.New(dispatch, delivery, worker.Options{
		Concurrency:  cfg.Worker.Concurrency,
		PollInterval: cfg.Queue.PollInterval,
		Lease:        cfg.Queue.Lease,
	}, logger.Component(log, "pool"))

	reconciler := service.NewReconciler(
		campaignRepo,
		jobRepo,
		dispatch,
		redislock.New(rdb),
		service.ReconcileOptions{
			Grace:    cfg.Reconcile.Grace,
			SenderID: cfg.Worker.SenderID,
		},
		logger.Component(log, "reconciler"),
	)

	scheduler := cron.New()
	if _, err := scheduler.AddFunc(cfg.Reconcile.Schedule, func() {
		if _, err := reconciler.Sweep(ctx); err != nil && ctx.Err() == nil {
			logger.LogError(entry, "main", "reconcile sweep", nil, err)
		}
	}); err != nil {
		entry.Fatalf("Invalid RECONCILE_SCHEDULE %q: %v", cfg.Reconcile.Schedule, err)
	}
	scheduler.Start()

	healthSvc := service.NewHealthService(
		db,
		service.PingFunc(func(ctx context.Context) error { return rdb.Ping(ctx).Err() }),
		eventsPing,
		version,
	)

	router := mux.NewRouter()
	router.Handle("/metrics", metrics.Handler()).Methods(http.MethodGet)
	router.HandleFunc("/health", handler.NewHealthHandler(healthSvc).HandleHealth).Methods(http.MethodGet)

	opsServer := &http.Server{
		Addr:              ":" + cfg.Server.MetricsPort,
		Handler:           router,
		ReadHeaderTimeout: 10 * time.Second,
	}

	go func() {
		entry.Infof("📊 Metrics on port %s", opsServer.Addr)
		if err := opsServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			entry.WithError(err).Error("Metrics server failed")
		}
	}()

	entry.WithFields(logrus.Fields{
		"pool_id":             pool.ID(),
		"queue":               dispatch.Name(),
		"concurrency":         cfg.Worker.Concurrency,
		"min_delay":           cfg.Worker.MinDelay.String(),
		"max_emails_per_hour": cfg.Worker.MaxEmailsPerHour,
	}).Info("🚀 Worker started")

	// Run returns once ctx is cancelled and in-flight sends have drained
	if err := pool.Run(ctx); err != nil {
		entry.WithError(err).Error("Worker pool exited with error")
	}

	entry.Info("🛑 Shutting down gracefully...")
	<-scheduler.Stop().Done()

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := opsServer.Shutdown(shutdownCtx); err != nil {
		entry.WithError(err).Error("Metrics server shutdown failed")
	}

	entry.Info("✅ Worker stopped")
}

// newMailer picks the SMTP relay when one is configured, otherwise the simulated transport
func newMailer(cfg *config.Config, log *logrus.Logger) mailer.Mailer {
	if cfg.Mail.SMTPHost == "" {
		logger.Component(log, "mailer").
			WithField("success_rate", cfg.Mail.SimulatedSuccessRate).
			Warn("SMTP_HOST not set, using simulated transport")
		return mailer.NewSimulatedMailer(cfg.Mail.SimulatedSuccessRate).
			WithLatency(50*time.Millisecond, 200*time.Millisecond)
	}

	return mailer.NewSMTPMailer(mailer.SMTPConfig{
		Host:     cfg.Mail.SMTPHost,
		Port:     cfg.Mail.SMTPPort,
		Username: cfg.Mail.SMTPUser,
		Password: cfg.Mail.SMTPPass,
	}, logger.Component(log, "mailer"))
}
