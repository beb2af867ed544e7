package main

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/Guizzs26/go-datasync/internal/api"
	"github.com/Guizzs26/go-datasync/internal/broker"
	"github.com/Guizzs26/go-datasync/internal/config"
	"github.com/Guizzs26/go-datasync/internal/db"
	"github.com/Guizzs26/go-datasync/internal/service"
	"github.com/Guizzs26/go-datasync/pkg/infra"
)

func main() {
	cfg := config.Load()
	logger, closeLog := infra.SetupLogger(cfg, "server")
	defer closeLog()
	slog.SetDefault(logger)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	var (
		repo   service.Repository
		checks []api.HealthCheck
	)
	if cfg.DatabaseURL != "" {
		postgres, err := db.NewPostgresRepository(ctx, cfg.DatabaseURL, logger)
		if err != nil {
			logger.Error("Fatal error connecting to Postgres", "error", err)
			os.Exit(1)
		}
		defer postgres.Close()

		if err := postgres.EnsureSchema(ctx); err != nil {
			logger.Error("Fatal error preparing schema", "error", err)
			os.Exit(1)
		}
		repo = postgres
		checks = append(checks, postgres.Ping)
	} else {
		logger.Warn("DATABASE_URL not set, records are kept in memory only")
		repo = db.NewMemoryRepository()
	}

	opts := service.TableOptions{
		Tables:      cfg.Tables,
		SoftDelete:  cfg.SoftDelete,
		MaxPageSize: cfg.MaxPageSize,
	}

	brokerDone := make(chan struct{})
	if cfg.RabbitMQURL != "" {
		supervisor := broker.NewSupervisor(cfg.RabbitMQURL, logger)
		opts.Notifier = supervisor
		checks = append(checks, supervisor.Check)
		go func() {
			defer close(brokerDone)
			supervisor.Run(ctx)
		}()
	} else {
		close(brokerDone)
	}

	svc := service.NewTableService(repo, opts, logger)
	router := api.NewRouter(api.NewTableHandler(svc, logger), logger, checks...)

	server := &http.Server{
		Addr:              cfg.HTTPAddr,
		Handler:           router,
		ReadHeaderTimeout: 5 * time.Second,
		ReadTimeout:       15 * time.Second,
		WriteTimeout:      30 * time.Second,
	}

	go func() {
		logger.Info("Table server started", "addr", cfg.HTTPAddr, "pid", os.Getpid(), "soft_delete", cfg.SoftDelete)
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Error("HTTP server failed", "error", err)
			stop()
		}
	}()

	<-ctx.Done()
	logger.Info("Shutting down table server...")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		logger.Error("Graceful shutdown failed", "error", err)
	}
	<-brokerDone
	logger.Info("Shutdown complete")
}
