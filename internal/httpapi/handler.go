// Package httpapi exposes the lifecycle and attendance core over HTTP.
package httpapi

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"

	"campusevents/internal/apperr"
	"campusevents/internal/attendance"
	"campusevents/internal/auth"
	"campusevents/internal/classify"
	"campusevents/internal/lifecycle"
	"campusevents/internal/scheduler"
)

// EventStore is what the API needs from event persistence.
type EventStore interface {
	Get(ctx context.Context, id string) (lifecycle.Event, error)
	Upsert(ctx context.Context, evt lifecycle.Event) error
	UpdateStatus(ctx context.Context, id string, status lifecycle.Status, sub lifecycle.SubStatus) error
}

// AuditLog records manual transitions and lists the trail.
type AuditLog interface {
	Record(ctx context.Context, tr lifecycle.Transition) error
	List(ctx context.Context, eventID string) ([]lifecycle.Transition, error)
}

// Injector accepts manual triggers. Only an embedded scheduler provides one.
type Injector interface {
	Inject(t scheduler.Trigger)
}

// Pinger is a named dependency checked by /healthz.
type Pinger struct {
	Name string
	Ping func(ctx context.Context) error
}

// Handler serves the v1 API.
type Handler struct {
	events     EventStore
	audit      AuditLog
	attendance *attendance.Service
	notifier   scheduler.Notifier
	health     scheduler.HealthSource
	injector   Injector
	signer     *auth.Signer
	pingers    []Pinger
	logger     *slog.Logger
	now        func() time.Time
}

// Deps groups the Handler's collaborators. Injector and Pingers are optional.
type Deps struct {
	Events     EventStore
	Audit      AuditLog
	Attendance *attendance.Service
	Notifier   scheduler.Notifier
	Health     scheduler.HealthSource
	Injector   Injector
	Signer     *auth.Signer
	Pingers    []Pinger
	Logger     *slog.Logger
	Now        func() time.Time
}

// New creates a handler.
func New(d Deps) *Handler {
	h := &Handler{
		events:     d.Events,
		audit:      d.Audit,
		attendance: d.Attendance,
		notifier:   d.Notifier,
		health:     d.Health,
		injector:   d.Injector,
		signer:     d.Signer,
		pingers:    d.Pingers,
		logger:     d.Logger,
		now:        d.Now,
	}
	if h.logger == nil {
		h.logger = slog.Default()
	}
	if h.now == nil {
		h.now = time.Now
	}
	return h
}

// Register mounts every route on r.
func (h *Handler) Register(r gin.IRouter, limiter gin.HandlerFunc) {
	r.GET("/healthz", h.Healthz)

	v1 := r.Group("/v1", auth.Bearer(h.signer))
	if limiter != nil {
		v1.Use(limiter)
	}
	organizer := auth.RequireRole(auth.RoleOrganizer)

	v1.POST("/events", organizer, h.UpsertEvent)
	v1.GET("/events/:id", h.GetEvent)
	v1.GET("/events/:id/transitions", organizer, h.ListTransitions)
	v1.POST("/events/:id/approve", auth.RequireRole(), h.ApproveEvent)
	v1.POST("/events/:id/decline", auth.RequireRole(), h.DeclineEvent)

	att := v1.Group("/events/:id/attendance")
	att.POST("/init", organizer, h.InitAttendance)
	att.GET("/config", h.GetConfig)
	att.PUT("/config", organizer, h.UpdateConfig)
	att.PUT("/strategy", organizer, h.OverrideStrategy)
	att.POST("/mark", h.Mark)
	att.GET("/students/:student_id", h.StudentStatus)
	att.GET("/records", organizer, h.Roster)

	v1.POST("/classify", organizer, h.Classify)
	v1.GET("/scheduler/health", h.SchedulerHealth)
	v1.POST("/scheduler/triggers", auth.RequireRole(), h.InjectTrigger)
}

// ---------- Errors ----------

func (h *Handler) fail(c *gin.Context, err error) {
	status := apperr.HTTPStatus(err)
	msg := err.Error()
	switch {
	case errors.Is(err, apperr.ErrPersistence):
		msg = "storage unavailable"
	case status >= http.StatusInternalServerError:
		msg = "internal error"
	}
	if status >= http.StatusInternalServerError {
		h.logger.Error("request failed",
			"method", c.Request.Method,
			"path", c.FullPath(),
			"error", err)
	}
	c.JSON(status, gin.H{"error": msg})
}

func badRequest(c *gin.Context, err error) {
	c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
}

// ---------- Health ----------

// Healthz pings storage and Redis.
func (h *Handler) Healthz(c *gin.Context) {
	ctx, cancel := context.WithTimeout(c.Request.Context(), 2*time.Second)
	defer cancel()
	status := http.StatusOK
	checks := gin.H{}
	for _, p := range h.pingers {
		if err := p.Ping(ctx); err != nil {
			checks[p.Name] = err.Error()
			status = http.StatusServiceUnavailable
			continue
		}
		checks[p.Name] = "ok"
	}
	state := "ok"
	if status != http.StatusOK {
		state = "degraded"
	}
	c.JSON(status, gin.H{"status": state, "checks": checks})
}

// SchedulerHealth reports the trigger loop. 503 when it is not running.
func (h *Handler) SchedulerHealth(c *gin.Context) {
	if h.health == nil {
		c.JSON(http.StatusServiceUnavailable, gin.H{"error": "scheduler health unavailable"})
		return
	}
	health, err := h.health.Health(c.Request.Context())
	if err != nil {
		h.fail(c, apperr.Persistence("scheduler health", err))
		return
	}
	status := http.StatusOK
	if !health.Running {
		status = http.StatusServiceUnavailable
	}
	c.JSON(status, health)
}

type injectRequest struct {
	EventID string                `json:"event_id" binding:"required"`
	Kind    scheduler.TriggerKind `json:"kind" binding:"required,oneof=registration_open registration_close event_start event_end certificate_end"`
	At      *time.Time            `json:"at"`
}

// InjectTrigger schedules a manual trigger on the embedded scheduler.
func (h *Handler) InjectTrigger(c *gin.Context) {
	if h.injector == nil {
		c.JSON(http.StatusNotImplemented, gin.H{"error": "scheduler runs in another process"})
		return
	}
	var req injectRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, err)
		return
	}
	t := scheduler.Trigger{EventID: req.EventID, Kind: req.Kind, At: h.now().UTC()}
	if req.At != nil {
		t.At = req.At.UTC()
	}
	h.injector.Inject(t)
	c.JSON(http.StatusAccepted, t)
}

// ---------- Classification ----------

// Classify previews the strategy and checkpoints of an event without saving.
func (h *Handler) Classify(c *gin.Context) {
	var req eventRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, err)
		return
	}
	evt := req.toEvent()
	if evt.ID == "" {
		evt.ID = "preview"
	}
	res, checkpoints := h.attendance.Preview(evt)
	c.JSON(http.StatusOK, gin.H{"classification": res, "checkpoints": checkpoints})
}

func parseStrategy(s string) (classify.Strategy, error) {
	st, err := classify.ParseStrategy(s)
	if err != nil {
		return "", errors.Join(apperr.ErrInvalidEligibility, err)
	}
	return st, nil
}

func newEventID() string { return uuid.NewString() }
