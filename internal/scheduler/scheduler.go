// Package scheduler keeps an in-memory, time-ordered queue of lifecycle
// triggers and advances event status as their boundaries pass.
package scheduler

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/cenkalti/backoff/v4"

	"campusevents/internal/apperr"
	"campusevents/internal/lifecycle"
	"campusevents/internal/metrics"
	"campusevents/internal/queue"
)

// SourceScheduler marks transitions applied by the trigger loop.
const SourceScheduler = "scheduler"

// ErrAlreadyRunning is returned by Start when the loop is live.
var ErrAlreadyRunning = errors.New("scheduler already running")

// EventStore is the scheduler's view of event persistence.
type EventStore interface {
	Get(ctx context.Context, id string) (lifecycle.Event, error)
	FindPending(ctx context.Context) ([]lifecycle.Event, error)
	UpdateStatus(ctx context.Context, id string, status lifecycle.Status, sub lifecycle.SubStatus) error
}

// TransitionLogger appends to the status audit trail.
type TransitionLogger interface {
	Record(ctx context.Context, tr lifecycle.Transition) error
}

// Publisher fans out applied transitions.
type Publisher interface {
	Publish(ctx context.Context, msg queue.Message) error
}

// Config tunes the trigger loop.
type Config struct {
	// PollInterval bounds how long the loop sleeps without looking at the queue.
	PollInterval time.Duration
	// PersistTimeout bounds every store call made while firing.
	PersistTimeout time.Duration
	// RetryInitial and RetryMax shape the exponential backoff of failed triggers.
	RetryInitial time.Duration
	RetryMax     time.Duration
	// MaxRetries is how many failed attempts a trigger may have before an alert.
	MaxRetries int
}

// DefaultConfig returns production defaults.
func DefaultConfig() Config {
	return Config{
		PollInterval:   time.Minute,
		PersistTimeout: 5 * time.Second,
		RetryInitial:   2 * time.Second,
		RetryMax:       5 * time.Minute,
		MaxRetries:     5,
	}
}

func (c Config) withDefaults() Config {
	d := DefaultConfig()
	if c.PollInterval <= 0 {
		c.PollInterval = d.PollInterval
	}
	if c.PersistTimeout <= 0 {
		c.PersistTimeout = d.PersistTimeout
	}
	if c.RetryInitial <= 0 {
		c.RetryInitial = d.RetryInitial
	}
	if c.RetryMax < c.RetryInitial {
		c.RetryMax = c.RetryInitial
	}
	if c.MaxRetries <= 0 {
		c.MaxRetries = d.MaxRetries
	}
	return c
}

// Health is the liveness report of the loop.
type Health struct {
	Running     bool       `json:"running"`
	QueueSize   int        `json:"queue_size"`
	StartedAt   *time.Time `json:"started_at,omitempty"`
	NextTrigger *Trigger   `json:"next_trigger,omitempty"`
}

// Scheduler owns the trigger queue of every managed event. All queue
// mutations happen under mu; store calls never do.
type Scheduler struct {
	store     EventStore
	audit     TransitionLogger
	publisher Publisher
	clock     Clock
	cfg       Config
	metrics   *metrics.Scheduler
	logger    *slog.Logger

	mu        sync.Mutex
	queue     *triggerQueue
	running   bool
	startedAt time.Time
	cancel    context.CancelFunc
	done      chan struct{}

	wake chan struct{}
}

// Option customises a Scheduler.
type Option func(*Scheduler)

// WithClock replaces the wall clock, mostly for tests.
func WithClock(c Clock) Option { return func(s *Scheduler) { s.clock = c } }

// WithConfig sets loop timing and retry policy.
func WithConfig(c Config) Option { return func(s *Scheduler) { s.cfg = c } }

// WithPublisher announces applied transitions on a queue.
func WithPublisher(p Publisher) Option { return func(s *Scheduler) { s.publisher = p } }

// WithMetrics enables Prometheus instrumentation.
func WithMetrics(m *metrics.Scheduler) Option { return func(s *Scheduler) { s.metrics = m } }

// WithLogger sets the logger.
func WithLogger(l *slog.Logger) Option { return func(s *Scheduler) { s.logger = l } }

// New creates a stopped scheduler with an empty queue.
func New(store EventStore, audit TransitionLogger, opts ...Option) *Scheduler {
	s := &Scheduler{
		store:  store,
		audit:  audit,
		clock:  RealClock{},
		cfg:    DefaultConfig(),
		logger: slog.Default(),
		queue:  newTriggerQueue(),
		wake:   make(chan struct{}, 1),
	}
	for _, o := range opts {
		o(s)
	}
	s.cfg = s.cfg.withDefaults()
	return s
}

// AddEventTriggers upserts one trigger per future boundary of evt and returns
// how many were scheduled. Events the scheduler does not manage get none.
func (s *Scheduler) AddEventTriggers(evt lifecycle.Event, now time.Time) int {
	if !evt.Status.Managed() {
		return 0
	}
	s.mu.Lock()
	n := s.addLocked(evt, now)
	s.updateQueueGauge()
	s.mu.Unlock()
	s.signal()
	return n
}

// RemoveEventTriggers drops every live trigger of an event.
func (s *Scheduler) RemoveEventTriggers(eventID string) int {
	s.mu.Lock()
	defer s.mu.Unlock()
	n := s.queue.removeEvent(eventID)
	s.updateQueueGauge()
	return n
}

// Refresh replaces an event's triggers after its boundaries or status changed.
func (s *Scheduler) Refresh(evt lifecycle.Event, now time.Time) int {
	s.mu.Lock()
	s.queue.removeEvent(evt.ID)
	n := 0
	if evt.Status.Managed() {
		n = s.addLocked(evt, now)
	}
	s.updateQueueGauge()
	s.mu.Unlock()
	s.signal()
	return n
}

// Inject schedules a trigger by hand. It replaces any live trigger of the same
// event and kind.
func (s *Scheduler) Inject(t Trigger) {
	if t.At.IsZero() {
		t.At = s.clock.Now()
	}
	s.mu.Lock()
	s.queue.upsert(t)
	s.updateQueueGauge()
	s.mu.Unlock()
	s.signal()
}

// Pending returns a copy of the queued triggers in no particular order.
func (s *Scheduler) Pending() []Trigger {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.queue.snapshot()
}

func (s *Scheduler) addLocked(evt lifecycle.Event, now time.Time) int {
	triggers := TriggersFor(evt, now)
	for _, t := range triggers {
		s.queue.upsert(t)
	}
	return len(triggers)
}

// Recover rebuilds the queue from storage. Events whose stored status lags
// behind a boundary that passed while nothing was running get an immediate
// catch-up trigger.
func (s *Scheduler) Recover(ctx context.Context) (int, error) {
	ctx, cancel := context.WithTimeout(ctx, s.cfg.PersistTimeout)
	events, err := s.store.FindPending(ctx)
	cancel()
	if err != nil {
		return 0, fmt.Errorf("recover triggers: %w", err)
	}

	now := s.clock.Now()
	s.mu.Lock()
	s.queue.reset()
	n := 0
	for _, evt := range events {
		if !evt.Status.Managed() {
			continue
		}
		n += s.addLocked(evt, now)
		status, sub := evt.Derive(now)
		if status == evt.Status && sub == evt.SubStatus {
			continue
		}
		if kind, ok := lastCrossed(evt, now); ok {
			s.queue.upsert(Trigger{EventID: evt.ID, Kind: kind, At: now})
			n++
		}
	}
	s.updateQueueGauge()
	s.mu.Unlock()
	s.signal()

	if s.metrics != nil {
		s.metrics.Recoveries.Inc()
	}
	s.logger.Info("trigger queue recovered", "events", len(events), "triggers", n)
	return n, nil
}

// Start launches the loop in the background. The loop runs until ctx ends or
// Stop is called.
func (s *Scheduler) Start(ctx context.Context) error {
	s.mu.Lock()
	if s.running {
		s.mu.Unlock()
		return ErrAlreadyRunning
	}
	loopCtx, cancel := context.WithCancel(ctx)
	done := make(chan struct{})
	s.running = true
	s.startedAt = s.clock.Now()
	s.cancel = cancel
	s.done = done
	s.mu.Unlock()

	if s.metrics != nil {
		s.metrics.Running.Set(1)
	}
	go func() {
		defer func() {
			s.mu.Lock()
			s.running = false
			s.mu.Unlock()
			if s.metrics != nil {
				s.metrics.Running.Set(0)
			}
			close(done)
		}()
		s.RunLoop(loopCtx)
	}()

	s.logger.Info("scheduler started", "poll_interval", s.cfg.PollInterval, "max_retries", s.cfg.MaxRetries)
	return nil
}

// Stop cancels the loop and waits for it to exit or for ctx to end.
func (s *Scheduler) Stop(ctx context.Context) error {
	s.mu.Lock()
	cancel, done := s.cancel, s.done
	s.mu.Unlock()
	if cancel == nil {
		return nil
	}
	cancel()
	select {
	case <-done:
		s.logger.Info("scheduler stopped")
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// HealthCheck reports whether the loop is alive and how many triggers wait.
func (s *Scheduler) HealthCheck() Health {
	s.mu.Lock()
	defer s.mu.Unlock()
	h := Health{Running: s.running, QueueSize: s.queue.Len()}
	if s.running {
		started := s.startedAt
		h.StartedAt = &started
	}
	if next, ok := s.queue.peek(); ok {
		h.NextTrigger = &next
	}
	return h
}

// Health implements HealthSource for an embedded scheduler.
func (s *Scheduler) Health(context.Context) (Health, error) {
	return s.HealthCheck(), nil
}

// RunLoop fires due triggers until ctx ends. It sleeps until the earliest
// trigger or PollInterval, whichever comes first, and wakes early when an
// earlier trigger is added.
func (s *Scheduler) RunLoop(ctx context.Context) {
	for {
		if ctx.Err() != nil {
			return
		}
		s.Tick(ctx)

		wait := s.cfg.PollInterval
		s.mu.Lock()
		next, ok := s.queue.peek()
		s.mu.Unlock()
		if ok {
			if d := next.At.Sub(s.clock.Now()); d < wait {
				wait = d
			}
			if wait <= 0 {
				continue
			}
		}

		select {
		case <-ctx.Done():
			return
		case <-s.wake:
		case <-s.clock.After(wait):
		}
	}
}

// Tick fires every trigger due now and returns how many were handled. Failed
// triggers go back on the queue with a backoff delay.
func (s *Scheduler) Tick(ctx context.Context) int {
	now := s.clock.Now()
	s.mu.Lock()
	due := s.queue.popDue(now)
	s.updateQueueGauge()
	s.mu.Unlock()

	fired := 0
	for _, t := range due {
		if ctx.Err() != nil {
			s.requeue(t)
			continue
		}
		if err := s.safeFire(ctx, t, now); err != nil {
			s.retry(t, now, err)
			continue
		}
		fired++
	}
	return fired
}

// safeFire isolates a panic in one trigger from the loop.
func (s *Scheduler) safeFire(ctx context.Context, t Trigger, now time.Time) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("trigger panicked: %v", r)
		}
	}()
	return s.fire(ctx, t, now)
}

func (s *Scheduler) fire(ctx context.Context, t Trigger, now time.Time) error {
	evt, err := s.getEvent(ctx, t.EventID)
	if errors.Is(err, apperr.ErrNotFound) {
		s.logger.Warn("dropping trigger for missing event", "event_id", t.EventID, "trigger", t.Kind)
		return nil
	}
	if err != nil {
		return err
	}
	if !evt.Status.Managed() {
		return nil
	}

	status, sub := evt.Derive(now)
	if status == evt.Status && sub == evt.SubStatus {
		return nil
	}
	if err := s.updateStatus(ctx, evt.ID, status, sub); err != nil {
		return err
	}
	if s.metrics != nil {
		s.metrics.TriggersFired.WithLabelValues(string(t.Kind)).Inc()
	}
	s.logger.Info("event status advanced",
		"event_id", evt.ID,
		"trigger", t.Kind,
		"from", evt.SubStatus,
		"to", sub)

	tr := lifecycle.Transition{
		EventID:   evt.ID,
		OldStatus: evt.Status,
		NewStatus: status,
		OldSub:    evt.SubStatus,
		NewSub:    sub,
		Source:    SourceScheduler,
		ChangedAt: now.UTC(),
	}
	// the status is already stored; a lost audit row is not worth a replay
	if err := s.record(ctx, tr); err != nil {
		s.logger.Warn("status log write failed", "event_id", evt.ID, "error", err)
	}
	s.publish(ctx, tr, t.Kind)
	return nil
}

func (s *Scheduler) retry(t Trigger, now time.Time, cause error) {
	t.Attempts++
	if s.metrics != nil {
		s.metrics.PersistFailures.Inc()
	}
	delay := s.backoffDelay(t.Attempts)
	if t.Attempts == s.cfg.MaxRetries+1 {
		if s.metrics != nil {
			s.metrics.Escalations.Inc()
		}
		s.logger.Error("trigger keeps failing",
			"alert", true,
			"event_id", t.EventID,
			"trigger", t.Kind,
			"attempts", t.Attempts,
			"error", cause)
	} else {
		s.logger.Warn("trigger failed, rescheduling",
			"event_id", t.EventID,
			"trigger", t.Kind,
			"attempts", t.Attempts,
			"retry_in", delay,
			"error", cause)
	}
	t.At = now.Add(delay)
	s.requeue(t)
}

// requeue puts t back unless the event was rescheduled meanwhile.
func (s *Scheduler) requeue(t Trigger) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.queue.has(t.key()) {
		return
	}
	s.queue.upsert(t)
	s.updateQueueGauge()
}

// backoffDelay is the wait before the given attempt number, capped at RetryMax.
func (s *Scheduler) backoffDelay(attempt int) time.Duration {
	b := backoff.NewExponentialBackOff()
	b.InitialInterval = s.cfg.RetryInitial
	b.MaxInterval = s.cfg.RetryMax
	b.RandomizationFactor = 0
	b.MaxElapsedTime = 0
	b.Reset()
	delay := b.NextBackOff()
	for i := 1; i < attempt; i++ {
		delay = b.NextBackOff()
	}
	return delay
}

func (s *Scheduler) getEvent(ctx context.Context, id string) (lifecycle.Event, error) {
	ctx, cancel := context.WithTimeout(ctx, s.cfg.PersistTimeout)
	defer cancel()
	return s.store.Get(ctx, id)
}

func (s *Scheduler) updateStatus(ctx context.Context, id string, status lifecycle.Status, sub lifecycle.SubStatus) error {
	ctx, cancel := context.WithTimeout(ctx, s.cfg.PersistTimeout)
	defer cancel()
	return s.store.UpdateStatus(ctx, id, status, sub)
}

func (s *Scheduler) record(ctx context.Context, tr lifecycle.Transition) error {
	if s.audit == nil {
		return nil
	}
	ctx, cancel := context.WithTimeout(ctx, s.cfg.PersistTimeout)
	defer cancel()
	return s.audit.Record(ctx, tr)
}

func (s *Scheduler) publish(ctx context.Context, tr lifecycle.Transition, kind TriggerKind) {
	if s.publisher == nil {
		return
	}
	msg, err := queue.NewMessage(queue.TypeEventTransitioned, queue.EventTransitioned{
		EventID:      tr.EventID,
		OldStatus:    string(tr.OldStatus),
		NewStatus:    string(tr.NewStatus),
		OldSubStatus: string(tr.OldSub),
		NewSubStatus: string(tr.NewSub),
		Trigger:      string(kind),
		At:           tr.ChangedAt,
	})
	if err != nil {
		s.logger.Warn("encode transition", "event_id", tr.EventID, "error", err)
		return
	}
	ctx, cancel := context.WithTimeout(ctx, s.cfg.PersistTimeout)
	defer cancel()
	if err := s.publisher.Publish(ctx, msg); err != nil {
		s.logger.Warn("publish transition", "event_id", tr.EventID, "error", err)
	}
}

func (s *Scheduler) signal() {
	select {
	case s.wake <- struct{}{}:
	default:
	}
}

// updateQueueGauge must be called with mu held.
func (s *Scheduler) updateQueueGauge() {
	if s.metrics != nil {
		s.metrics.QueueSize.Set(float64(s.queue.Len()))
	}
}
