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

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/Guizzs26/go-datasync/internal/api"
	"github.com/Guizzs26/go-datasync/internal/broker"
	"github.com/Guizzs26/go-datasync/internal/config"
	"github.com/Guizzs26/go-datasync/internal/db"
	"github.com/Guizzs26/go-datasync/internal/processor"
	"github.com/Guizzs26/go-datasync/internal/service"
	"github.com/Guizzs26/go-datasync/pkg/infra"
	"github.com/Guizzs26/go-datasync/pkg/metrics"
)

func main() {
	cfg := config.Load()
	logger, closeLog := infra.SetupLogger(cfg, "syncer")
	defer closeLog()
	slog.SetDefault(logger)

	tables := cfg.SyncTables
	if len(tables) == 0 {
		tables = cfg.Tables
	}
	if len(tables) == 0 {
		logger.Error("CRITICAL: SYNC_TABLES environment variable is missing")
		os.Exit(1)
	}

	resolver, err := service.ResolverByName(cfg.ConflictPolicy)
	if err != nil {
		logger.Error("CRITICAL: invalid CONFLICT_POLICY", "error", err)
		os.Exit(1)
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	logger.Info("Syncer initializing...", "remote", cfg.RemoteURL, "tables", tables, "driver", cfg.LocalDriver)

	local, err := db.OpenLocal(ctx, cfg.LocalDriver, cfg.LocalDSN, logger)
	if err != nil {
		logger.Error("CRITICAL: local store unavailable", "error", err)
		os.Exit(1)
	}
	defer local.Close()

	remote, err := api.NewClient(cfg.RemoteURL, nil, logger)
	if err != nil {
		logger.Error("CRITICAL: invalid REMOTE_URL", "error", err)
		os.Exit(1)
	}

	store := processor.NewStore(local, logger)
	syncs := make([]service.TableSync, len(tables))
	for i, t := range tables {
		syncs[i] = service.TableSync{Table: t}
	}
	synchronizer := service.NewSynchronizer(
		service.NewPusher(remote, store, resolver, logger),
		service.NewPuller(remote, store, cfg.PageSize, logger),
		syncs, logger)

	go startObservabilityServer(ctx, cfg.MetricsPort, local, logger)

	triggers := make(chan string, len(tables))
	if cfg.RabbitMQURL != "" {
		go listen(ctx, cfg.RabbitMQURL, tables, triggers, logger)
	}

	synchronizer.Run(ctx, cfg.PollInterval, triggers)
	logger.Info("Shutdown complete")
}

// listen keeps a change listener attached to the broker, reconnecting with
// backoff whenever the link is lost.
func listen(ctx context.Context, url string, tables []string, triggers chan<- string, logger *slog.Logger) {
	connBackoff := infra.NewBackoff(infra.BrokerRetry)

	for {
		select {
		case <-ctx.Done():
			return
		default:
		}

		listener, err := broker.NewListener(url, tables, logger)
		if err != nil {
			wait := connBackoff.Next()
			logger.Error("RabbitMQ connection failed, retrying...", "wait_duration", wait, "attempt", connBackoff.Attempts(), "error", err)
			if infra.Sleep(ctx, wait) != nil {
				return
			}
			continue
		}

		connBackoff.Reset()
		metrics.HealthStatus.Set(1)
		logger.Info("Connected to broker, listening for change events")

		if err := listener.Listen(ctx, triggers); err != nil {
			logger.Error("Listener connection lost", "error", err)
			metrics.RabbitMQReconnections.Inc()
		}
		metrics.HealthStatus.Set(0)
		listener.Close()
	}
}

func startObservabilityServer(ctx context.Context, port string, local *db.LocalRepository, logger *slog.Logger) {
	gin.SetMode(gin.ReleaseMode)
	r := gin.New()
	r.Use(gin.Recovery())
	r.GET("/metrics", gin.WrapH(promhttp.Handler()))
	r.GET("/health", func(c *gin.Context) {
		if err := local.Ping(c.Request.Context()); err != nil {
			c.String(http.StatusServiceUnavailable, "LOCAL STORE UNAVAILABLE")
			return
		}
		c.String(http.StatusOK, "SYNCER ALIVE")
	})

	server := &http.Server{
		Addr:         ":" + port,
		Handler:      r,
		ReadTimeout:  5 * time.Second,
		WriteTimeout: 10 * time.Second,
	}
	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		server.Shutdown(shutdownCtx)
	}()

	logger.Info("Observability server online", "url", "http://localhost:"+port+"/metrics")
	if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		logger.Error("Observability server failed", "error", err)
	}
}
