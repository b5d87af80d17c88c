package attendance

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"campusevents/internal/apperr"
	"campusevents/internal/classify"
	"campusevents/internal/lifecycle"
	"campusevents/internal/metrics"
)

// EventReader loads the event an attendance config belongs to.
type EventReader interface {
	Get(ctx context.Context, id string) (lifecycle.Event, error)
}

// ConfigStore persists attendance configs.
type ConfigStore interface {
	GetConfig(ctx context.Context, eventID string) (Config, error)
	SaveConfig(ctx context.Context, cfg Config) error
}

// RecordStore persists per-student records.
type RecordStore interface {
	GetRecord(ctx context.Context, eventID, studentID string) (Record, error)
	UpsertRecord(ctx context.Context, rec Record) error
	ListRecords(ctx context.Context, eventID string) ([]Record, error)
}

// Service coordinates strategy selection, checkpoint generation and marking.
type Service struct {
	events     EventReader
	configs    ConfigStore
	records    RecordStore
	locker     Locker
	classifier *classify.Classifier
	tracker    Tracker
	metrics    *metrics.Attendance
	logger     *slog.Logger
	now        func() time.Time
	timeout    time.Duration
}

// Option customises a Service.
type Option func(*Service)

// WithLocker replaces the in-process locker, e.g. with a RedisLocker.
func WithLocker(l Locker) Option { return func(s *Service) { s.locker = l } }

// WithClassifier sets the classifier and its weights.
func WithClassifier(c *classify.Classifier) Option { return func(s *Service) { s.classifier = c } }

// WithMetrics enables Prometheus instrumentation.
func WithMetrics(m *metrics.Attendance) Option { return func(s *Service) { s.metrics = m } }

// WithLogger sets the logger.
func WithLogger(l *slog.Logger) Option { return func(s *Service) { s.logger = l } }

// WithClock overrides time.Now.
func WithClock(now func() time.Time) Option { return func(s *Service) { s.now = now } }

// WithStoreTimeout bounds every persistence call.
func WithStoreTimeout(d time.Duration) Option { return func(s *Service) { s.timeout = d } }

// NewService creates a service over the given stores.
func NewService(events EventReader, configs ConfigStore, records RecordStore, opts ...Option) *Service {
	s := &Service{
		events:     events,
		configs:    configs,
		records:    records,
		locker:     NewLocalLocker(),
		classifier: classify.New(classify.DefaultWeights()),
		logger:     slog.Default(),
		now:        time.Now,
		timeout:    5 * time.Second,
	}
	for _, o := range opts {
		o(s)
	}
	return s
}

func (s *Service) bounded(ctx context.Context) (context.Context, context.CancelFunc) {
	return context.WithTimeout(ctx, s.timeout)
}

// Preview classifies an event and lays out its checkpoints without saving anything.
func (s *Service) Preview(evt lifecycle.Event) (classify.Result, []Checkpoint) {
	res := s.classifier.Classify(classify.InputFromEvent(evt))
	return res, GenerateCheckpoints(evt.ID, res.Strategy, evt.Start, evt.End, evt.Description)
}

// InitializeAttendance returns the event's config, creating it on first use.
// An existing config is never regenerated.
func (s *Service) InitializeAttendance(ctx context.Context, eventID string) (Config, error) {
	if cfg, err := s.getConfig(ctx, eventID); err == nil {
		return cfg, nil
	} else if !errors.Is(err, apperr.ErrNotFound) {
		return Config{}, err
	}

	unlock, err := s.locker.Lock(ctx, "init:"+eventID)
	if err != nil {
		return Config{}, fmt.Errorf("lock config %s: %w", eventID, err)
	}
	defer unlock()

	// another caller may have created it while we waited
	if cfg, err := s.getConfig(ctx, eventID); err == nil {
		return cfg, nil
	} else if !errors.Is(err, apperr.ErrNotFound) {
		return Config{}, err
	}

	evt, err := s.getEvent(ctx, eventID)
	if err != nil {
		return Config{}, err
	}
	res, checkpoints := s.Preview(evt)
	now := s.now().UTC()
	cfg := Config{
		EventID:       eventID,
		Strategy:      res.Strategy,
		Checkpoints:   checkpoints,
		Criteria:      Criteria{MinPercentage: DefaultMinPercentage},
		Confidence:    res.Confidence,
		Reasoning:     res.Reasoning,
		AutoGenerated: true,
		CreatedAt:     now,
		UpdatedAt:     now,
	}
	if err := s.saveConfig(ctx, cfg); err != nil {
		return Config{}, err
	}
	if s.metrics != nil {
		s.metrics.Initialized.WithLabelValues(string(cfg.Strategy)).Inc()
		s.metrics.ClassifyScore.Observe(cfg.Confidence)
	}
	s.logger.Info("attendance config created",
		"event_id", eventID,
		"strategy", cfg.Strategy,
		"confidence", cfg.Confidence,
		"checkpoints", len(cfg.Checkpoints))
	return cfg, nil
}

// MarkResult is returned by Mark.
type MarkResult struct {
	CheckpointID string      `json:"checkpoint_id"`
	Status       FinalStatus `json:"status"`
	Percentage   float64     `json:"percentage"`
}

// Mark completes a checkpoint for a student. With an empty checkpointID the
// checkpoint open right now is used. Marks for the same student are
// serialised, so a duplicate always sees the first one and gets ErrAlreadyMarked.
func (s *Service) Mark(ctx context.Context, eventID, studentID, checkpointID string, metadata map[string]string) (MarkResult, error) {
	if studentID == "" {
		return MarkResult{}, errors.New("student id required")
	}
	if _, err := s.InitializeAttendance(ctx, eventID); err != nil {
		return MarkResult{}, err
	}
	evt, err := s.getEvent(ctx, eventID)
	if err != nil {
		return MarkResult{}, err
	}

	unlock, err := s.locker.Lock(ctx, eventID+":"+studentID)
	if err != nil {
		return MarkResult{}, fmt.Errorf("lock record %s/%s: %w", eventID, studentID, err)
	}
	defer unlock()

	// read the config only now so an edit made while we waited is honoured
	cfg, err := s.getConfig(ctx, eventID)
	if err != nil {
		return MarkResult{}, err
	}
	rec, err := s.getRecord(ctx, eventID, studentID)
	if err != nil {
		return MarkResult{}, err
	}

	now := s.now().UTC()
	if checkpointID == "" {
		cp, err := ActiveCheckpoint(cfg, rec, now)
		if err != nil {
			s.observe("no_active")
			return MarkResult{}, err
		}
		checkpointID = cp.ID
	}

	if err := s.tracker.Mark(cfg, &rec, checkpointID, metadata, evt.End, now); err != nil {
		switch {
		case errors.Is(err, apperr.ErrAlreadyMarked):
			s.observe("duplicate")
		case errors.Is(err, apperr.ErrUnknownCheckpoint):
			s.observe("unknown_checkpoint")
		}
		return MarkResult{}, err
	}

	ctx, cancel := s.bounded(ctx)
	defer cancel()
	if err := s.records.UpsertRecord(ctx, rec); err != nil {
		s.observe("error")
		return MarkResult{}, err
	}
	s.observe("marked")
	s.logger.Debug("checkpoint marked",
		"event_id", eventID,
		"student_id", studentID,
		"checkpoint_id", checkpointID,
		"percentage", rec.Percentage)
	return MarkResult{CheckpointID: checkpointID, Status: rec.FinalStatus, Percentage: rec.Percentage}, nil
}

// GetStatus returns a student's breakdown recomputed against the current config.
func (s *Service) GetStatus(ctx context.Context, eventID, studentID string) (Report, error) {
	cfg, err := s.InitializeAttendance(ctx, eventID)
	if err != nil {
		return Report{}, err
	}
	evt, err := s.getEvent(ctx, eventID)
	if err != nil {
		return Report{}, err
	}
	rec, err := s.getRecord(ctx, eventID, studentID)
	if err != nil {
		return Report{}, err
	}
	return BuildReport(cfg, rec, evt.End, s.now().UTC()), nil
}

// Config returns the stored config without creating one.
func (s *Service) Config(ctx context.Context, eventID string) (Config, error) {
	return s.getConfig(ctx, eventID)
}

// Roster returns the breakdown of every student with a record, recomputed
// against the current config.
func (s *Service) Roster(ctx context.Context, eventID string) ([]Report, error) {
	cfg, err := s.getConfig(ctx, eventID)
	if err != nil {
		return nil, err
	}
	evt, err := s.getEvent(ctx, eventID)
	if err != nil {
		return nil, err
	}
	lctx, cancel := s.bounded(ctx)
	defer cancel()
	recs, err := s.records.ListRecords(lctx, eventID)
	if err != nil {
		return nil, err
	}
	now := s.now().UTC()
	out := make([]Report, 0, len(recs))
	for _, rec := range recs {
		out = append(out, BuildReport(cfg, rec, evt.End, now))
	}
	return out, nil
}

// ConfigUpdate carries an organizer's edits. Nil fields are left unchanged.
type ConfigUpdate struct {
	Checkpoints []Checkpoint `json:"checkpoints,omitempty"`
	Criteria    *Criteria    `json:"criteria,omitempty"`
}

// UpdateConfig applies organizer edits to an existing config.
func (s *Service) UpdateConfig(ctx context.Context, eventID string, upd ConfigUpdate) (Config, error) {
	unlock, err := s.locker.Lock(ctx, "init:"+eventID)
	if err != nil {
		return Config{}, fmt.Errorf("lock config %s: %w", eventID, err)
	}
	defer unlock()

	cfg, err := s.getConfig(ctx, eventID)
	if err != nil {
		return Config{}, err
	}
	if upd.Checkpoints != nil {
		cps := make([]Checkpoint, len(upd.Checkpoints))
		copy(cps, upd.Checkpoints)
		for i := range cps {
			if cps[i].ID == "" {
				cps[i].ID = uuid.NewString()
			}
		}
		cfg.Checkpoints = cps
	}
	if upd.Criteria != nil {
		cfg.Criteria = *upd.Criteria
	}
	if err := ValidateConfig(cfg); err != nil {
		return Config{}, err
	}
	cfg.AutoGenerated = false
	cfg.UpdatedAt = s.now().UTC()
	if err := s.saveConfig(ctx, cfg); err != nil {
		return Config{}, err
	}
	s.logger.Info("attendance config updated", "event_id", eventID, "checkpoints", len(cfg.Checkpoints))
	return cfg, nil
}

// OverrideStrategy replaces the strategy chosen by the classifier and lays
// out fresh checkpoints for it. Existing marks stay on the records but only
// count for checkpoint ids that survive.
func (s *Service) OverrideStrategy(ctx context.Context, eventID string, strategy classify.Strategy) (Config, error) {
	if _, err := classify.ParseStrategy(string(strategy)); err != nil {
		return Config{}, fmt.Errorf("%w: %v", apperr.ErrInvalidEligibility, err)
	}
	if _, err := s.InitializeAttendance(ctx, eventID); err != nil {
		return Config{}, err
	}
	evt, err := s.getEvent(ctx, eventID)
	if err != nil {
		return Config{}, err
	}

	unlock, err := s.locker.Lock(ctx, "init:"+eventID)
	if err != nil {
		return Config{}, fmt.Errorf("lock config %s: %w", eventID, err)
	}
	defer unlock()

	// criteria edits that landed before the lock must survive the override
	cfg, err := s.getConfig(ctx, eventID)
	if err != nil {
		return Config{}, err
	}
	cfg.Strategy = strategy
	cfg.Checkpoints = GenerateCheckpoints(eventID, strategy, evt.Start, evt.End, evt.Description)
	cfg.Reasoning = "strategy set by organizer"
	cfg.Confidence = 1
	cfg.AutoGenerated = false
	cfg.UpdatedAt = s.now().UTC()
	if cfg.Criteria.MinMandatory > len(cfg.Checkpoints) {
		cfg.Criteria.MinMandatory = len(cfg.Checkpoints)
	}
	if err := ValidateConfig(cfg); err != nil {
		return Config{}, err
	}
	if err := s.saveConfig(ctx, cfg); err != nil {
		return Config{}, err
	}
	s.logger.Info("attendance strategy overridden", "event_id", eventID, "strategy", strategy)
	return cfg, nil
}

func (s *Service) getConfig(ctx context.Context, eventID string) (Config, error) {
	ctx, cancel := s.bounded(ctx)
	defer cancel()
	return s.configs.GetConfig(ctx, eventID)
}

func (s *Service) saveConfig(ctx context.Context, cfg Config) error {
	ctx, cancel := s.bounded(ctx)
	defer cancel()
	return s.configs.SaveConfig(ctx, cfg)
}

func (s *Service) getEvent(ctx context.Context, eventID string) (lifecycle.Event, error) {
	ctx, cancel := s.bounded(ctx)
	defer cancel()
	return s.events.Get(ctx, eventID)
}

// getRecord returns the stored record or a fresh pending one.
func (s *Service) getRecord(ctx context.Context, eventID, studentID string) (Record, error) {
	ctx, cancel := s.bounded(ctx)
	defer cancel()
	rec, err := s.records.GetRecord(ctx, eventID, studentID)
	if errors.Is(err, apperr.ErrNotFound) {
		return NewRecord(eventID, studentID), nil
	}
	return rec, err
}

func (s *Service) observe(outcome string) {
	if s.metrics != nil {
		s.metrics.Marks.WithLabelValues(outcome).Inc()
	}
}
