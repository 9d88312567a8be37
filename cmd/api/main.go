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

	"github.com/joho/godotenv"
	_ "github.com/lib/pq"
	"github.com/sirupsen/logrus"

	"mailpacer/internal/config"
	"mailpacer/internal/handler"
	"mailpacer/internal/logger"
	"mailpacer/internal/queue"
	"mailpacer/internal/repository"
	"mailpacer/internal/service"
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
	entry := logger.Component(log, "api")

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

	campaignRepo := repository.NewCampaignRepository(db)
	jobRepo := repository.NewEmailJobRepository(db)

	campaignSvc := service.NewCampaignService(campaignRepo, jobRepo, dispatch, cfg.Worker.SenderID, logger.Component(log, "expander"))
	emailSvc := service.NewEmailService(jobRepo)
	healthSvc := service.NewHealthService(
		db,
		service.PingFunc(func(ctx context.Context) error { return rdb.Ping(ctx).Err() }),
		nil,
		version,
	)

	router := handler.NewRouter(
		handler.NewCampaignHandler(campaignSvc, entry),
		handler.NewEmailHandler(emailSvc, entry),
		handler.NewHealthHandler(healthSvc),
		logger.Component(log, "http"),
	)

	server := &http.Server{
		Addr:              ":" + cfg.Server.Port,
		Handler:           router,
		ReadHeaderTimeout: 10 * time.Second,
	}

	go func() {
		entry.Infof("🚀 API Server starting on port %s", server.Addr)
		entry.Infof("📍 Health check: http://localhost%s/health", server.Addr)
		entry.Infof("🌍 Environment: %s", cfg.Env)
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			entry.Fatalf("Server failed: %v", err)
		}
	}()

	<-ctx.Done()
	entry.Info("🛑 Shutting down gracefully...")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		entry.WithError(err).Error("HTTP server shutdown failed")
	}

	entry.Info("✅ API stopped")
}
