package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"campusevents/internal/attendance"
	"campusevents/internal/auth"
	"campusevents/internal/classify"
	"campusevents/internal/config"
	"campusevents/internal/httpapi"
	"campusevents/internal/httpmiddleware"
	"campusevents/internal/lifecycle"
	"campusevents/internal/logging"
	"campusevents/internal/metrics"
	"campusevents/internal/queue"
	"campusevents/internal/scheduler"
	"campusevents/internal/store"
)

func main() {
	cfg := config.Load()
	logger := logging.Setup(cfg.Env, cfg.LogLevel, cfg.LogFormat, "api")

	if err := cfg.Validate(); err != nil {
		logger.Error("invalid configuration", "error", err)
		os.Exit(1)
	}
	if cfg.Env == "production" || cfg.Env == "prod" {
		gin.SetMode(gin.ReleaseMode)
	}

	if err := runHTTP(cfg, logger); err != nil {
		logger.Error("http server failed", "error", err)
		os.Exit(1)
	}
}

func runHTTP(cfg config.App, logger *slog.Logger) error {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	db, err := store.NewDB(store.Dialect(cfg.DatabaseDriver), cfg.DatabaseURL)
	if err != nil {
		return fmt.Errorf("connect database: %w", err)
	}
	defer db.Close()
	if cfg.AutoMigrate {
		if err := db.Migrate(ctx); err != nil {
			return fmt.Errorf("migrate: %w", err)
		}
	}

	var rdb *store.Redis
	if cfg.NeedsRedis() {
		rdb = store.NewRedis(cfg.Redis())
		defer rdb.Close()
		if !rdb.Healthy(ctx) {
			logger.Warn("redis not reachable at startup", "addr", cfg.RedisAddr)
		}
	}

	var q queue.Queue
	if cfg.QueueBackend == "memory" {
		q = queue.NewInMemory(256)
	} else {
		q = queue.NewRedisQueue(rdb.Client, cfg.QueueKey,
			queue.WithMaxLen(int64(cfg.QueueMaxLen)),
			queue.WithQueueLogger(logger.With("component", "queue")))
	}

	var locker attendance.Locker = attendance.NewLocalLocker()
	if cfg.LockBackend == "redis" {
		locker = attendance.NewRedisLocker(rdb.Client, "", cfg.LockTTL)
	}

	reg := prometheus.DefaultRegisterer
	events := lifecycle.NewRepository(db.Client)
	statusLog := lifecycle.NewStatusLog(db.Client)
	attRepo := attendance.NewRepository(db.Client)

	svc := attendance.NewService(events, attRepo, attRepo,
		attendance.WithLocker(locker),
		attendance.WithClassifier(classify.New(cfg.Weights)),
		attendance.WithMetrics(metrics.NewAttendance(reg)),
		attendance.WithLogger(logger.With("component", "attendance")),
		attendance.WithStoreTimeout(cfg.StoreTimeout),
	)

	signer := auth.NewSigner(cfg.JWTSigningKey, cfg.JWTIssuer, cfg.TokenTTL)
	deps := httpapi.Deps{
		Events:     events,
		Audit:      statusLog,
		Attendance: svc,
		Signer:     signer,
		Logger:     logger,
		Pingers: []httpapi.Pinger{
			{Name: "db", Ping: db.Client.PingContext},
		},
	}
	if rdb != nil {
		deps.Pingers = append(deps.Pingers, httpapi.Pinger{
			Name: "redis",
			Ping: rdb.Ping,
		})
	}

	var (
		sched *scheduler.Scheduler
		sup   *scheduler.Supervisor
	)
	if cfg.SchedulerMode == config.SchedulerEmbedded {
		schedMetrics := metrics.NewScheduler(reg)
		schedLogger := logger.With("component", "scheduler")
		sched = scheduler.New(events, statusLog,
			scheduler.WithConfig(scheduler.Config{
				PollInterval:   cfg.PollInterval,
				PersistTimeout: cfg.PersistTimeout,
				RetryInitial:   cfg.RetryInitial,
				RetryMax:       cfg.RetryMax,
				MaxRetries:     cfg.MaxRetries,
			}),
			scheduler.WithPublisher(q),
			scheduler.WithMetrics(schedMetrics),
			scheduler.WithLogger(schedLogger),
		)
		// a failed recovery leaves the loop stopped; the supervisor retries it
		if n, err := sched.Recover(ctx); err != nil {
			logger.Error("scheduler recovery failed", "error", err)
		} else {
			logger.Info("scheduler recovered", "triggers", n)
			if err := sched.Start(ctx); err != nil {
				return fmt.Errorf("start scheduler: %w", err)
			}
		}
		sup, err = scheduler.NewSupervisor(sched, cfg.SupervisorSpec, schedLogger, schedMetrics)
		if err != nil {
			return fmt.Errorf("scheduler supervisor: %w", err)
		}
		sup.Start(ctx)

		deps.Notifier = sched
		deps.Health = sched
		deps.Injector = sched
		// the embedded scheduler is the only consumer, whichever backend carries it
		go consumeLocal(ctx, q, sched, logger)
	} else {
		deps.Notifier = scheduler.NewQueueNotifier(q)
		deps.Health = scheduler.NewRemoteHealth(rdb.Client, cfg.HeartbeatKey)
	}

	limiter := httpmiddleware.NewTokenBucket(cfg.RateLimitPerMin, cfg.RateLimitPerMin)
	go sweepLimiter(ctx, limiter)

	r := gin.New()
	r.Use(gin.Recovery())
	r.Use(gin.LoggerWithConfig(gin.LoggerConfig{
		SkipPaths: []string{"/healthz", "/metrics"},
	}))
	r.Use(cors.New(corsConfig(cfg.CORSOrigins)))
	r.Use(httpmiddleware.SecurityHeaders())

	r.GET("/metrics", gin.WrapH(promhttp.Handler()))
	httpapi.New(deps).Register(r, limiter.GinMiddleware())

	srv := &http.Server{
		Addr:         ":" + cfg.HTTPPort,
		Handler:      r,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 15 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	serveErr := make(chan error, 1)
	go func() {
		logger.Info("starting server", "addr", srv.Addr, "scheduler_mode", cfg.SchedulerMode)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			serveErr <- err
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	select {
	case <-quit:
		logger.Info("shutting down server")
	case err := <-serveErr:
		return err
	}

	// give outstanding requests 10 seconds to complete
	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer shutdownCancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Warn("server forced shutdown", "error", err)
	}
	if sup != nil {
		sup.Stop()
	}
	if sched != nil {
		if err := sched.Stop(shutdownCtx); err != nil {
			logger.Warn("scheduler stop timed out", "error", err)
		}
	}
	cancel()
	logger.Info("server exited")
	return nil
}

func corsConfig(origins []string) cors.Config {
	c := cors.Config{
		AllowMethods: []string{"GET", "POST", "PUT", "DELETE", "OPTIONS"},
		AllowHeaders: []string{"Origin", "Content-Type", "Accept", "Authorization"},
		MaxAge:       12 * time.Hour,
	}
	if len(origins) == 0 || (len(origins) == 1 && origins[0] == "*") {
		c.AllowAllOrigins = true
		return c
	}
	c.AllowOrigins = origins
	c.AllowCredentials = true
	return c
}

// consumeLocal drains the queue for the embedded scheduler: transitions are
// logged and change notifications are applied.
func consumeLocal(ctx context.Context, q queue.Queue, sched *scheduler.Scheduler, logger *slog.Logger) {
	messages, err := q.Consume(ctx)
	if err != nil {
		logger.Error("queue consume init failed", "error", err)
		return
	}
	for msg := range messages {
		switch msg.Type {
		case queue.TypeEventTransitioned:
			var tr queue.EventTransitioned
			if err := msg.Decode(&tr); err == nil {
				logger.Debug("event transitioned",
					"event_id", tr.EventID,
					"status", tr.NewStatus,
					"sub_status", tr.NewSubStatus,
					"trigger", tr.Trigger)
			}
		default:
			if err := sched.HandleMessage(ctx, msg); err != nil {
				logger.Warn("queue message failed", "type", msg.Type, "error", err)
			}
		}
	}
}

func sweepLimiter(ctx context.Context, l *httpmiddleware.TokenBucket) {
	ticker := time.NewTicker(10 * time.Minute)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			l.Sweep(30 * time.Minute)
		}
	}
}
