package scheduler

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"campusevents/internal/apperr"
	"campusevents/internal/lifecycle"
	"campusevents/internal/metrics"
	"campusevents/internal/queue"
)

var base = time.Date(2026, 9, 1, 8, 0, 0, 0, time.UTC)

func at(d time.Duration) *time.Time {
	t := base.Add(d)
	return &t
}

type fakeClock struct {
	mu      sync.Mutex
	now     time.Time
	waiters []waiter
}

type waiter struct {
	deadline time.Time
	ch       chan time.Time
}

func newFakeClock(now time.Time) *fakeClock { return &fakeClock{now: now} }

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *fakeClock) After(d time.Duration) <-chan time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	ch := make(chan time.Time, 1)
	if d <= 0 {
		ch <- c.now
		return ch
	}
	c.waiters = append(c.waiters, waiter{deadline: c.now.Add(d), ch: ch})
	return ch
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(d)
	kept := c.waiters[:0]
	for _, w := range c.waiters {
		if !w.deadline.After(c.now) {
			w.ch <- c.now
			continue
		}
		kept = append(kept, w)
	}
	c.waiters = kept
}

type fakeStore struct {
	mu       sync.Mutex
	events   map[string]lifecycle.Event
	failures int
	updates  int
}

func newFakeStore(events ...lifecycle.Event) *fakeStore {
	s := &fakeStore{events: map[string]lifecycle.Event{}}
	for _, e := range events {
		s.events[e.ID] = e
	}
	return s
}

func (s *fakeStore) Get(_ context.Context, id string) (lifecycle.Event, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	e, ok := s.events[id]
	if !ok {
		return lifecycle.Event{}, fmt.Errorf("event %s: %w", id, apperr.ErrNotFound)
	}
	return e, nil
}

func (s *fakeStore) FindPending(context.Context) ([]lifecycle.Event, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []lifecycle.Event
	for _, e := range s.events {
		if e.Status.Managed() {
			out = append(out, e)
		}
	}
	return out, nil
}

func (s *fakeStore) UpdateStatus(_ context.Context, id string, status lifecycle.Status, sub lifecycle.SubStatus) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.failures > 0 {
		s.failures--
		return apperr.Persistence("update status", errors.New("connection reset"))
	}
	e := s.events[id]
	e.Status, e.SubStatus = status, sub
	s.events[id] = e
	s.updates++
	return nil
}

func (s *fakeStore) sub(id string) lifecycle.SubStatus {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.events[id].SubStatus
}

type fakeAudit struct {
	mu   sync.Mutex
	rows []lifecycle.Transition
}

func (a *fakeAudit) Record(_ context.Context, tr lifecycle.Transition) error {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.rows = append(a.rows, tr)
	return nil
}

func (a *fakeAudit) len() int {
	a.mu.Lock()
	defer a.mu.Unlock()
	return len(a.rows)
}

// scenarioEvent has registration at +1h..+2h and the event at +3h..+5h.
func scenarioEvent(id string) lifecycle.Event {
	return lifecycle.Event{
		ID:                id,
		Name:              "Guest Lecture",
		RegistrationStart: at(time.Hour),
		RegistrationEnd:   at(2 * time.Hour),
		Start:             at(3 * time.Hour),
		End:               at(5 * time.Hour),
		Status:            lifecycle.StatusUpcoming,
		SubStatus:         lifecycle.SubRegistrationNotStarted,
	}
}

type harness struct {
	clock   *fakeClock
	store   *fakeStore
	audit   *fakeAudit
	metrics *metrics.Scheduler
	sched   *Scheduler
}

func newHarness(t *testing.T, cfg Config, events ...lifecycle.Event) *harness {
	t.Helper()
	h := &harness{
		clock:   newFakeClock(base),
		store:   newFakeStore(events...),
		audit:   &fakeAudit{},
		metrics: metrics.NewScheduler(prometheus.NewRegistry()),
	}
	h.sched = New(h.store, h.audit, WithClock(h.clock), WithConfig(cfg), WithMetrics(h.metrics))
	return h
}

func TestTriggersFor(t *testing.T) {
	evt := scenarioEvent("e")
	evt.CertificateEnd = at(48 * time.Hour)

	tests := []struct {
		name string
		now  time.Time
		want []TriggerKind
	}{
		{name: "all future", now: base, want: allKinds},
		{name: "registration open", now: base.Add(90 * time.Minute), want: []TriggerKind{KindRegistrationClose, KindEventStart, KindEventEnd, KindCertificateEnd}},
		{name: "boundary instant is not future", now: base.Add(3 * time.Hour), want: []TriggerKind{KindEventEnd, KindCertificateEnd}},
		{name: "everything passed", now: base.Add(72 * time.Hour), want: nil},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var kinds []TriggerKind
			for _, tr := range TriggersFor(evt, tt.now) {
				assert.Equal(t, "e", tr.EventID)
				kinds = append(kinds, tr.Kind)
			}
			assert.Equal(t, tt.want, kinds)
		})
	}

	evt.RegistrationStart, evt.CertificateEnd = nil, nil
	assert.Len(t, TriggersFor(evt, base), 3, "missing boundaries produce no trigger")
}

func TestAddEventTriggers_OneLiveTriggerPerKind(t *testing.T) {
	h := newHarness(t, Config{})
	evt := scenarioEvent("e")

	assert.Equal(t, 4, h.sched.AddEventTriggers(evt, base))
	assert.Equal(t, 4, h.sched.AddEventTriggers(evt, base))
	assert.Equal(t, 4, h.sched.HealthCheck().QueueSize)
	assert.Equal(t, 4.0, testutil.ToFloat64(h.metrics.QueueSize))

	// moving a boundary moves its trigger instead of adding one
	evt.Start = at(4 * time.Hour)
	h.sched.AddEventTriggers(evt, base)
	pending := h.sched.Pending()
	require.Len(t, pending, 4)
	for _, tr := range pending {
		if tr.Kind == KindEventStart {
			assert.True(t, tr.At.Equal(*at(4 * time.Hour)))
		}
	}
}

func TestAddEventTriggers_UnmanagedStatus(t *testing.T) {
	h := newHarness(t, Config{})
	for _, st := range []lifecycle.Status{lifecycle.StatusDraft, lifecycle.StatusPendingApproval, lifecycle.StatusCompleted} {
		evt := scenarioEvent("e")
		evt.Status = st
		assert.Zero(t, h.sched.AddEventTriggers(evt, base), st)
	}
	assert.Zero(t, h.sched.HealthCheck().QueueSize)
}

func TestRemoveAndRefresh(t *testing.T) {
	h := newHarness(t, Config{})
	a, b := scenarioEvent("a"), scenarioEvent("b")
	h.sched.AddEventTriggers(a, base)
	h.sched.AddEventTriggers(b, base)

	assert.Equal(t, 4, h.sched.RemoveEventTriggers("a"))
	assert.Zero(t, h.sched.RemoveEventTriggers("a"))
	assert.Equal(t, 4, h.sched.HealthCheck().QueueSize)

	b.RegistrationStart, b.RegistrationEnd = nil, nil
	assert.Equal(t, 2, h.sched.Refresh(b, base))
	assert.Equal(t, 2, h.sched.HealthCheck().QueueSize)

	b.Status = lifecycle.StatusDraft
	assert.Zero(t, h.sched.Refresh(b, base), "declined events lose their triggers")
	assert.Zero(t, h.sched.HealthCheck().QueueSize)
}

func TestTick_AdvancesThroughLifecycle(t *testing.T) {
	evt := scenarioEvent("e")
	h := newHarness(t, Config{}, evt)
	h.sched.AddEventTriggers(evt, base)
	ctx := context.Background()

	assert.Zero(t, h.sched.Tick(ctx), "nothing due yet")

	h.clock.Advance(90 * time.Minute)
	assert.Equal(t, 1, h.sched.Tick(ctx))
	assert.Equal(t, lifecycle.SubRegistrationOpen, h.store.sub("e"))

	h.clock.Advance(2 * time.Hour) // +3.5h: close and start both due
	assert.Equal(t, 2, h.sched.Tick(ctx))
	assert.Equal(t, lifecycle.SubEventStarted, h.store.sub("e"))

	h.clock.Advance(2 * time.Hour)
	assert.Equal(t, 1, h.sched.Tick(ctx))
	assert.Equal(t, lifecycle.SubEventCompleted, h.store.sub("e"), "no certificate window jumps to completed")

	assert.Zero(t, h.sched.HealthCheck().QueueSize)
	// the second due trigger at +3.5h found nothing left to change
	assert.Equal(t, 3, h.store.updates)
	require.Equal(t, 3, h.audit.len())
	last := h.audit.rows[2]
	assert.Equal(t, SourceScheduler, last.Source)
	assert.Equal(t, lifecycle.StatusOngoing, last.OldStatus)
	assert.Equal(t, lifecycle.StatusCompleted, last.NewStatus)
	assert.Equal(t, 1.0, testutil.ToFloat64(h.metrics.TriggersFired.WithLabelValues(string(KindEventEnd))))
}

func TestTick_PublishesTransitions(t *testing.T) {
	evt := scenarioEvent("e")
	h := newHarness(t, Config{}, evt)
	q := queue.NewInMemory(4)
	h.sched = New(h.store, h.audit, WithClock(h.clock), WithPublisher(q))
	h.sched.AddEventTriggers(evt, base)

	h.clock.Advance(time.Hour)
	require.Equal(t, 1, h.sched.Tick(context.Background()))

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	ch, err := q.Consume(ctx)
	require.NoError(t, err)
	select {
	case msg := <-ch:
		assert.Equal(t, queue.TypeEventTransitioned, msg.Type)
		var body queue.EventTransitioned
		require.NoError(t, msg.Decode(&body))
		assert.Equal(t, "e", body.EventID)
		assert.Equal(t, string(KindRegistrationOpen), body.Trigger)
		assert.Equal(t, string(lifecycle.SubRegistrationOpen), body.NewSubStatus)
	case <-time.After(time.Second):
		t.Fatal("transition not published")
	}
}

func TestTick_RetriesPersistenceFailures(t *testing.T) {
	evt := scenarioEvent("e")
	h := newHarness(t, Config{RetryInitial: time.Second, RetryMax: 4 * time.Second, MaxRetries: 2}, evt)
	h.store.failures = 4
	h.sched.AddEventTriggers(evt, base)
	ctx := context.Background()

	h.clock.Advance(time.Hour)
	assert.Zero(t, h.sched.Tick(ctx))
	pending := h.sched.Pending()
	require.Len(t, pending, 4, "failed trigger is kept")

	var retried Trigger
	for _, tr := range pending {
		if tr.Kind == KindRegistrationOpen {
			retried = tr
		}
	}
	assert.Equal(t, 1, retried.Attempts)
	assert.True(t, retried.At.Equal(base.Add(time.Hour+time.Second)))

	// second and third failures; the third exceeds MaxRetries
	h.clock.Advance(time.Second)
	assert.Zero(t, h.sched.Tick(ctx))
	h.clock.Advance(2 * time.Second)
	assert.Zero(t, h.sched.Tick(ctx))
	assert.Equal(t, 1.0, testutil.ToFloat64(h.metrics.Escalations))

	// the alert fires once per trigger
	h.clock.Advance(3 * time.Second)
	assert.Zero(t, h.sched.Tick(ctx))
	assert.Equal(t, 1.0, testutil.ToFloat64(h.metrics.Escalations))
	assert.Equal(t, 4.0, testutil.ToFloat64(h.metrics.PersistFailures))

	h.clock.Advance(4 * time.Second)
	assert.Equal(t, 1, h.sched.Tick(ctx))
	assert.Equal(t, lifecycle.SubRegistrationOpen, h.store.sub("e"))
}

func TestTick_FailureIsolatedPerEvent(t *testing.T) {
	a, b := scenarioEvent("a"), scenarioEvent("b")
	h := newHarness(t, Config{}, a, b)
	h.store.failures = 1
	h.sched.AddEventTriggers(a, base)
	h.sched.AddEventTriggers(b, base)

	h.clock.Advance(time.Hour)
	assert.Equal(t, 1, h.sched.Tick(context.Background()))
	opened := 0
	for _, id := range []string{"a", "b"} {
		if h.store.sub(id) == lifecycle.SubRegistrationOpen {
			opened++
		}
	}
	assert.Equal(t, 1, opened)
}

func TestTick_DropsTriggersOfMissingEvents(t *testing.T) {
	h := newHarness(t, Config{})
	h.sched.Inject(Trigger{EventID: "ghost", Kind: KindEventStart, At: base})
	assert.Equal(t, 1, h.sched.Tick(context.Background()))
	assert.Zero(t, h.sched.HealthCheck().QueueSize)
}

func TestInject_FiresImmediately(t *testing.T) {
	evt := scenarioEvent("e")
	evt.RegistrationStart = at(-time.Hour)
	h := newHarness(t, Config{}, evt)

	h.sched.Inject(Trigger{EventID: "e", Kind: KindRegistrationOpen})
	assert.Equal(t, 1, h.sched.Tick(context.Background()))
	assert.Equal(t, lifecycle.SubRegistrationOpen, h.store.sub("e"))
}

func TestRecover_RebuildsQueueAndCatchesUp(t *testing.T) {
	stale := scenarioEvent("stale")
	fresh := scenarioEvent("fresh")
	draft := scenarioEvent("draft")
	draft.Status = lifecycle.StatusDraft
	h := newHarness(t, Config{}, stale, fresh, draft)

	h.sched.Inject(Trigger{EventID: "leftover", Kind: KindEventEnd, At: base.Add(time.Hour)})
	h.clock.Advance(150 * time.Minute) // registration closed while down

	n, err := h.sched.Recover(context.Background())
	require.NoError(t, err)
	// each managed event: start + end + one catch-up
	assert.Equal(t, 6, n)
	assert.Equal(t, 6, h.sched.HealthCheck().QueueSize)
	assert.Equal(t, 1.0, testutil.ToFloat64(h.metrics.Recoveries))

	assert.Equal(t, 2, h.sched.Tick(context.Background()))
	assert.Equal(t, lifecycle.SubRegistrationClosed, h.store.sub("stale"))
	assert.Equal(t, lifecycle.SubRegistrationClosed, h.store.sub("fresh"))
	assert.Equal(t, lifecycle.SubRegistrationNotStarted, h.store.sub("draft"))
}

type failingStore struct{ fakeStore }

func (*failingStore) FindPending(context.Context) ([]lifecycle.Event, error) {
	return nil, apperr.Persistence("find pending", errors.New("timeout"))
}

func TestRecover_SurfacesStoreError(t *testing.T) {
	s := New(&failingStore{}, nil)
	_, err := s.Recover(context.Background())
	assert.ErrorIs(t, err, apperr.ErrPersistence)
}

func TestRunLoop_StartStopAndHealth(t *testing.T) {
	evt := scenarioEvent("e")
	h := newHarness(t, Config{PollInterval: time.Minute}, evt)
	h.sched.AddEventTriggers(evt, base)

	assert.False(t, h.sched.HealthCheck().Running)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	require.NoError(t, h.sched.Start(ctx))
	assert.ErrorIs(t, h.sched.Start(ctx), ErrAlreadyRunning)

	health := h.sched.HealthCheck()
	assert.True(t, health.Running)
	assert.Equal(t, 4, health.QueueSize)
	require.NotNil(t, health.NextTrigger)
	assert.Equal(t, KindRegistrationOpen, health.NextTrigger.Kind)

	assert.Eventually(t, func() bool {
		h.clock.Advance(10 * time.Minute)
		return h.store.sub("e") == lifecycle.SubEventCompleted
	}, 5*time.Second, 5*time.Millisecond)

	stopCtx, stopCancel := context.WithTimeout(context.Background(), time.Second)
	defer stopCancel()
	require.NoError(t, h.sched.Stop(stopCtx))
	assert.False(t, h.sched.HealthCheck().Running)
	assert.Equal(t, 0.0, testutil.ToFloat64(h.metrics.Running))
}

func TestRunLoop_WakesOnEarlierTrigger(t *testing.T) {
	evt := scenarioEvent("e")
	h := newHarness(t, Config{PollInterval: 24 * time.Hour}, evt)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	require.NoError(t, h.sched.Start(ctx))

	evt.RegistrationStart = at(0)
	h.store.mu.Lock()
	h.store.events["e"] = evt
	h.store.mu.Unlock()

	// the loop is asleep on a day-long poll; a due injection must still fire
	h.sched.Inject(Trigger{EventID: "e", Kind: KindRegistrationOpen, At: base})

	assert.Eventually(t, func() bool {
		return h.store.sub("e") == lifecycle.SubRegistrationOpen
	}, 5*time.Second, 5*time.Millisecond)
}

func TestSupervisor_RestartsStoppedLoop(t *testing.T) {
	evt := scenarioEvent("e")
	h := newHarness(t, Config{}, evt)
	sup, err := NewSupervisor(h.sched, "", nil, h.metrics)
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	restarted, err := sup.Check(ctx)
	require.NoError(t, err)
	assert.True(t, restarted)
	assert.True(t, h.sched.HealthCheck().Running)
	assert.Equal(t, 4, h.sched.HealthCheck().QueueSize, "queue rebuilt from storage")

	restarted, err = sup.Check(ctx)
	require.NoError(t, err)
	assert.False(t, restarted)
	assert.Equal(t, 1.0, testutil.ToFloat64(h.metrics.SupervisorStarts))

	stopCtx, stopCancel := context.WithTimeout(context.Background(), time.Second)
	defer stopCancel()
	require.NoError(t, h.sched.Stop(stopCtx))
}

func TestNewSupervisor_RejectsBadSpec(t *testing.T) {
	_, err := NewSupervisor(New(newFakeStore(), nil), "every now and then", nil, nil)
	assert.Error(t, err)
}
