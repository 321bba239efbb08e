// cmd/push-dispatcher/main.go
package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	awsclient "push-dispatcher/internal/common/aws"
	"push-dispatcher/internal/common/config"
	"push-dispatcher/internal/common/database"
	"push-dispatcher/internal/common/logger"
	"push-dispatcher/internal/common/observability"
	"push-dispatcher/internal/push"
	"push-dispatcher/internal/repository"
	"push-dispatcher/internal/trigger"
	dispatch "push-dispatcher/internal/workers/push/dispatch-notifications"
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

func main() {
	cfg, err := config.Load()
	if err != nil {
		fmt.Fprintf(os.Stderr, "config load failed: %v\n", err)
		os.Exit(1)
	}

	zapLog := logger.New(cfg.Logging.Level, cfg.Logging.Format).With(
		zap.String("service", cfg.App.Name),
		zap.String("environment", cfg.App.Environment),
	)
	defer zapLog.Sync()

	log := logger.NewZapAdapter(zapLog)

	zapLog.Info("Starting push dispatcher...")

	obs, err := observability.New(cfg.App.Name, cfg.Tracing.SampleRatio)
	if err != nil {
		zapLog.Warn("metrics exporter unavailable, continuing without otel metrics", zap.Error(err))
	}
	defer obs.Shutdown()

	ctx := context.Background()
	queryTimeout := config.GetDuration(cfg.Database.QueryTimeout)
	checks := map[string]trigger.Pinger{}

	// --- PostgreSQL (job store, device directory, history) ---
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
	checks["postgres"] = pg.Ping
	zapLog.Info("PostgreSQL connected successfully")

	var devices repository.DeviceLookup = repository.NewDeviceDirectory(pg.DB, queryTimeout)

	// --- Redis device cache (optional) ---
	if cfg.Database.Redis.Enabled {
		var rdb *database.RedisClient
		err = retryWithBackoff(func() error {
			var err error
			rdb, err = database.NewRedis(cfg.Database.Redis)
			if err != nil {
				return err
			}
			return rdb.Ping(ctx)
		}, 5, 2*time.Second, zapLog, "Redis connection")
		if err != nil {
			zapLog.Warn("redis unavailable, device cache disabled", zap.Error(err))
		} else {
			defer rdb.Close()
			checks["redis"] = rdb.Ping
			devices = repository.NewCachedDeviceDirectory(devices, rdb.Client, config.GetDuration(cfg.Devices.CacheTTL), log)
			zapLog.Info("Redis connected successfully")
		}
	}

	// --- History backend ---
	var history repository.HistoryStore
	switch cfg.History.Backend {
	case config.HistoryElastic:
		var es *database.ElasticsearchClient
		err = retryWithBackoff(func() error {
			var err error
			es, err = database.NewElasticsearch(cfg.Database.Elasticsearch)
			if err != nil {
				return err
			}
			return es.Ping(ctx)
		}, 15, 2*time.Second, zapLog, "Elasticsearch connection")
		if err != nil {
			zapLog.Fatal("elasticsearch failed after retries", zap.Error(err))
		}
		checks["elasticsearch"] = es.Ping
		history = repository.NewESHistoryStore(es.Client, cfg.History.Index)
		zapLog.Info("Elasticsearch connected successfully", zap.String("index", cfg.History.Index))
	default:
		history = repository.NewPostgresHistoryStore(pg.DB, queryTimeout)
	}

	// --- Terminal failure alerts ---
	var alerts dispatch.AlertPublisher = dispatch.NopAlertPublisher{}
	if cfg.Alerts.SNS.Enabled {
		snsClient, err := awsclient.NewSNSClient(ctx, cfg.Alerts.SNS.Region)
		if err != nil {
			zapLog.Warn("sns client unavailable, alerts disabled", zap.Error(err))
		} else {
			alerts = dispatch.NewSNSAlertPublisher(snsClient, cfg.Alerts.SNS.TopicARN)
			zapLog.Info("SNS alerts enabled", zap.String("topicArn", cfg.Alerts.SNS.TopicARN))
		}
	}

	handler := dispatch.NewHandler(
		dispatch.LoadConfig(cfg.Dispatcher),
		dispatch.Dependencies{
			Jobs:          repository.NewJobStore(pg.DB, queryTimeout, log),
			Devices:       devices,
			Sender:        push.NewGatewayClient(cfg.Gateway, log),
			History:       history,
			Alerts:        alerts,
			Observability: obs,
		},
		log,
	)

	// --- Trigger, health & metrics server ---
	if cfg.App.Environment == "production" {
		gin.SetMode(gin.ReleaseMode)
	}
	srv := &http.Server{
		Addr:              cfg.Server.Addr(),
		Handler:           trigger.NewServer(handler, checks, log).Handler(),
		ReadHeaderTimeout: 10 * time.Second,
	}
	go func() {
		zapLog.Info("Trigger server listening", zap.String("addr", srv.Addr))
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			zapLog.Fatal("Trigger server failed", zap.Error(err))
		}
	}()

	// --- Graceful Shutdown ---
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, os.Interrupt, syscall.SIGTERM)
	<-sigCh

	zapLog.Info("Shutdown signal received, draining in-flight dispatches...")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), config.GetDuration(cfg.Server.ShutdownTimeout))
	defer cancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		zapLog.Error("Error shutting down trigger server", zap.Error(err))
	}

	zapLog.Info("Push dispatcher stopped gracefully")
}
