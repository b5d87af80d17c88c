package scheduler

import (
	"context"
	"errors"
	"log/slog"
	"sync"

	"github.com/robfig/cron/v3"

	"campusevents/internal/metrics"
)

// DefaultSupervisorSpec is how often the supervisor checks the loop.
const DefaultSupervisorSpec = "@every 5m"

// Supervisor periodically verifies the trigger loop is alive and restarts it,
// rebuilding the queue first, when it is not.
type Supervisor struct {
	sched   *Scheduler
	cron    *cron.Cron
	logger  *slog.Logger
	metrics *metrics.Scheduler

	mu  sync.Mutex
	ctx context.Context
}

// NewSupervisor registers the liveness check on a cron schedule such as
// "@every 5m". Overlapping runs are skipped.
func NewSupervisor(sched *Scheduler, spec string, logger *slog.Logger, m *metrics.Scheduler) (*Supervisor, error) {
	if spec == "" {
		spec = DefaultSupervisorSpec
	}
	if logger == nil {
		logger = slog.Default()
	}
	cronLogger := cron.PrintfLogger(slog.NewLogLogger(logger.Handler(), slog.LevelWarn))
	sup := &Supervisor{
		sched:   sched,
		cron:    cron.New(cron.WithChain(cron.SkipIfStillRunning(cronLogger)), cron.WithLogger(cronLogger)),
		logger:  logger,
		metrics: m,
		ctx:     context.Background(),
	}
	if _, err := sup.cron.AddFunc(spec, sup.run); err != nil {
		return nil, err
	}
	return sup, nil
}

// Start begins the schedule. Restarted loops inherit ctx.
func (s *Supervisor) Start(ctx context.Context) {
	s.mu.Lock()
	s.ctx = ctx
	s.mu.Unlock()
	s.cron.Start()
	s.logger.Info("scheduler supervisor started")
}

// Stop halts the schedule and waits for a running check to finish.
func (s *Supervisor) Stop() {
	<-s.cron.Stop().Done()
}

func (s *Supervisor) run() {
	s.mu.Lock()
	ctx := s.ctx
	s.mu.Unlock()
	if ctx.Err() != nil {
		return
	}
	if _, err := s.Check(ctx); err != nil {
		s.logger.Error("scheduler restart failed", "alert", true, "error", err)
	}
}

// Check restarts the loop if it is not running. It reports whether a restart
// happened.
func (s *Supervisor) Check(ctx context.Context) (bool, error) {
	health := s.sched.HealthCheck()
	if health.Running {
		s.logger.Debug("scheduler healthy", "queue_size", health.QueueSize)
		return false, nil
	}

	s.logger.Warn("scheduler loop not running, restarting")
	if _, err := s.sched.Recover(ctx); err != nil {
		return false, err
	}
	if err := s.sched.Start(ctx); err != nil && !errors.Is(err, ErrAlreadyRunning) {
		return false, err
	}
	if s.metrics != nil {
		s.metrics.SupervisorStarts.Inc()
	}
	return true, nil
}
