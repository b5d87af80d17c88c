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

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"campusevents/internal/config"
	"campusevents/internal/lifecycle"
	"campusevents/internal/logging"
	"campusevents/internal/metrics"
	"campusevents/internal/queue"
	"campusevents/internal/scheduler"
	"campusevents/internal/store"
)

// Worker runs the lifecycle scheduler out of the API process. It applies
// event.changed messages from the queue and publishes its health to Redis.
func main() {
	cfg := config.Load()
	logger := logging.Setup(cfg.Env, cfg.LogLevel, cfg.LogFormat, "worker")
	if cfg.QueueBackend != "redis" {
		logger.Error("worker needs QUEUE_BACKEND=redis to receive event changes")
		os.Exit(1)
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		<-sigCh
		logger.Info("shutdown signal received")
		cancel()
	}()

	db, err := store.NewDB(store.Dialect(cfg.DatabaseDriver), cfg.DatabaseURL)
	if err != nil {
		logger.Error("db connect failed", "error", err)
		os.Exit(1)
	}
	defer db.Close()
	if cfg.AutoMigrate {
		if err := db.Migrate(ctx); err != nil {
			logger.Error("migrate failed", "error", err)
			os.Exit(1)
		}
	}

	rdb := store.NewRedis(cfg.Redis())
	defer rdb.Close()
	if !rdb.Healthy(ctx) {
		logger.Warn("redis not reachable at startup", "addr", cfg.RedisAddr)
	}
	q := queue.NewRedisQueue(rdb.Client, cfg.QueueKey,
		queue.WithMaxLen(int64(cfg.QueueMaxLen)),
		queue.WithQueueLogger(logger.With("component", "queue")))
	if n, err := q.Depth(ctx); err == nil && n > 0 {
		logger.Info("queue backlog at startup", "key", cfg.QueueKey, "messages", n)
	}

	reg := prometheus.NewRegistry()
	schedMetrics := metrics.NewScheduler(reg)
	events := lifecycle.NewRepository(db.Client)
	sched := scheduler.New(events, lifecycle.NewStatusLog(db.Client),
		scheduler.WithConfig(scheduler.Config{
			PollInterval:   cfg.PollInterval,
			PersistTimeout: cfg.PersistTimeout,
			RetryInitial:   cfg.RetryInitial,
			RetryMax:       cfg.RetryMax,
			MaxRetries:     cfg.MaxRetries,
		}),
		scheduler.WithPublisher(q),
		scheduler.WithMetrics(schedMetrics),
		scheduler.WithLogger(logger),
	)

	if n, err := sched.Recover(ctx); err != nil {
		logger.Error("scheduler recovery failed, supervisor will retry", "error", err)
	} else {
		logger.Info("scheduler recovered", "triggers", n)
		if err := sched.Start(ctx); err != nil {
			logger.Error("scheduler start failed", "error", err)
			os.Exit(1)
		}
	}

	sup, err := scheduler.NewSupervisor(sched, cfg.SupervisorSpec, logger, schedMetrics)
	if err != nil {
		logger.Error("invalid supervisor schedule", "spec", cfg.SupervisorSpec, "error", err)
		os.Exit(1)
	}
	sup.Start(ctx)

	go scheduler.NewHeartbeat(rdb.Client, sched, cfg.HeartbeatKey, cfg.HeartbeatInterval, logger).Run(ctx)
	metricsSrv := serveMetrics(cfg.WorkerMetricsPort, reg, logger)

	messages, err := q.Consume(ctx)
	if err != nil {
		logger.Error("queue consume init failed", "error", err)
		os.Exit(1)
	}

	logger.Info("worker started, waiting for messages")
	for msg := range messages {
		if err := sched.HandleMessage(ctx, msg); err != nil {
			logger.Warn("message failed", "type", msg.Type, "lag", queue.Lag(msg, time.Now()), "error", err)
		}
	}

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer shutdownCancel()
	sup.Stop()
	if err := sched.Stop(shutdownCtx); err != nil {
		logger.Warn("scheduler stop timed out", "error", err)
	}
	_ = metricsSrv.Shutdown(shutdownCtx)
	logger.Info("worker stopped")
}

func serveMetrics(port string, reg *prometheus.Registry, logger *slog.Logger) *http.Server {
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.HandlerFor(reg, promhttp.HandlerOpts{}))
	srv := &http.Server{Addr: ":" + port, Handler: mux, ReadHeaderTimeout: 5 * time.Second}
	go func() {
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Warn("metrics listener failed", "error", err)
		}
	}()
	return srv
}
