package httpapi

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"

	"campusevents/internal/apperr"
	"campusevents/internal/lifecycle"
)

type eventRequest struct {
	ID                string           `json:"id"`
	Name              string           `json:"name" binding:"required"`
	Type              string           `json:"type"`
	Description       string           `json:"description"`
	Venue             string           `json:"venue"`
	VenueCapacity     *int             `json:"venue_capacity" binding:"omitempty,gte=0"`
	RegistrationMode  string           `json:"registration_mode" binding:"omitempty,oneof=individual team"`
	TeamMin           int              `json:"team_min" binding:"gte=0"`
	TeamMax           int              `json:"team_max" binding:"gte=0"`
	Start             *time.Time       `json:"start"`
	End               *time.Time       `json:"end"`
	RegistrationStart *time.Time       `json:"registration_start"`
	RegistrationEnd   *time.Time       `json:"registration_end"`
	CertificateEnd    *time.Time       `json:"certificate_end"`
	Status            lifecycle.Status `json:"status" binding:"omitempty,oneof=draft pending_approval"`
}

func (r eventRequest) toEvent() lifecycle.Event {
	return lifecycle.Event{
		ID:                r.ID,
		Name:              r.Name,
		Type:              r.Type,
		Description:       r.Description,
		Venue:             r.Venue,
		VenueCapacity:     r.VenueCapacity,
		RegistrationMode:  r.RegistrationMode,
		TeamMin:           r.TeamMin,
		TeamMax:           r.TeamMax,
		Start:             utc(r.Start),
		End:               utc(r.End),
		RegistrationStart: utc(r.RegistrationStart),
		RegistrationEnd:   utc(r.RegistrationEnd),
		CertificateEnd:    utc(r.CertificateEnd),
	}
}

// checkOrder rejects pairs of boundaries that run backwards.
func (r eventRequest) checkOrder() error {
	pairs := []struct {
		a, b   *time.Time
		aN, bN string
	}{
		{r.RegistrationStart, r.RegistrationEnd, "registration_start", "registration_end"},
		{r.Start, r.End, "start", "end"},
		{r.End, r.CertificateEnd, "end", "certificate_end"},
	}
	for _, p := range pairs {
		if p.a != nil && p.b != nil && p.b.Before(*p.a) {
			return fmt.Errorf("%s must not be before %s", p.bN, p.aN)
		}
	}
	if r.TeamMax > 0 && r.TeamMin > r.TeamMax {
		return errors.New("team_min must not exceed team_max")
	}
	return nil
}

func utc(t *time.Time) *time.Time {
	if t == nil {
		return nil
	}
	v := t.UTC()
	return &v
}

// ---------- Events ----------

// UpsertEvent stores an event as sent by the registration subsystem. New
// events wait for approval; approved events get their status re-derived from
// the new boundaries.
func (h *Handler) UpsertEvent(c *gin.Context) {
	var req eventRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, err)
		return
	}
	if err := req.checkOrder(); err != nil {
		badRequest(c, err)
		return
	}
	ctx := c.Request.Context()
	evt := req.toEvent()
	created := evt.ID == ""
	if created {
		evt.ID = newEventID()
	}

	var prev *lifecycle.Event
	if !created {
		existing, err := h.events.Get(ctx, evt.ID)
		switch {
		case err == nil:
			prev = &existing
		case errors.Is(err, apperr.ErrNotFound):
			created = true
		default:
			h.fail(c, err)
			return
		}
	}

	evt.Status = lifecycle.StatusPendingApproval
	if prev != nil {
		evt.Status = prev.Status
	}
	if req.Status != "" {
		evt.Status = req.Status
	}
	if evt.Status.Managed() || evt.Status == lifecycle.StatusCompleted {
		evt.Status, evt.SubStatus = evt.Derive(h.now().UTC())
	} else {
		evt.SubStatus = lifecycle.SubRegistrationNotStarted
	}
	evt.UpdatedAt = h.now().UTC()

	if err := h.events.Upsert(ctx, evt); err != nil {
		h.fail(c, err)
		return
	}
	if prev != nil {
		h.recordTransition(ctx, *prev, evt, "edit")
	}
	h.notify(ctx, evt)

	status := http.StatusOK
	if created {
		status = http.StatusCreated
	}
	c.JSON(status, evt)
}

// GetEvent returns an event with its stored status.
func (h *Handler) GetEvent(c *gin.Context) {
	evt, err := h.events.Get(c.Request.Context(), c.Param("id"))
	if err != nil {
		h.fail(c, err)
		return
	}
	c.JSON(http.StatusOK, evt)
}

// ListTransitions returns the status audit trail of an event.
func (h *Handler) ListTransitions(c *gin.Context) {
	ctx := c.Request.Context()
	if _, err := h.events.Get(ctx, c.Param("id")); err != nil {
		h.fail(c, err)
		return
	}
	trail, err := h.audit.List(ctx, c.Param("id"))
	if err != nil {
		h.fail(c, err)
		return
	}
	if trail == nil {
		trail = []lifecycle.Transition{}
	}
	c.JSON(http.StatusOK, gin.H{"transitions": trail})
}

// ApproveEvent moves an event under scheduler control at the status its
// boundaries imply right now.
func (h *Handler) ApproveEvent(c *gin.Context) {
	ctx := c.Request.Context()
	evt, err := h.events.Get(ctx, c.Param("id"))
	if err != nil {
		h.fail(c, err)
		return
	}
	status, sub := evt.Derive(h.now().UTC())
	updated, err := h.setStatus(ctx, evt, status, sub, "approval")
	if err != nil {
		h.fail(c, err)
		return
	}
	c.JSON(http.StatusOK, updated)
}

// DeclineEvent sends an event back to draft and drops its triggers.
func (h *Handler) DeclineEvent(c *gin.Context) {
	ctx := c.Request.Context()
	evt, err := h.events.Get(ctx, c.Param("id"))
	if err != nil {
		h.fail(c, err)
		return
	}
	updated, err := h.setStatus(ctx, evt, lifecycle.StatusDraft, lifecycle.SubRegistrationNotStarted, "decline")
	if err != nil {
		h.fail(c, err)
		return
	}
	c.JSON(http.StatusOK, updated)
}

func (h *Handler) setStatus(ctx context.Context, evt lifecycle.Event, status lifecycle.Status, sub lifecycle.SubStatus, source string) (lifecycle.Event, error) {
	prev := evt
	if err := h.events.UpdateStatus(ctx, evt.ID, status, sub); err != nil {
		return lifecycle.Event{}, err
	}
	evt.Status, evt.SubStatus = status, sub
	evt.UpdatedAt = h.now().UTC()
	h.recordTransition(ctx, prev, evt, source)
	h.notify(ctx, evt)
	return evt, nil
}

// recordTransition appends to the audit trail when the status moved. A
// failure is logged; the write it describes already happened.
func (h *Handler) recordTransition(ctx context.Context, prev, next lifecycle.Event, source string) {
	if prev.Status == next.Status && prev.SubStatus == next.SubStatus {
		return
	}
	err := h.audit.Record(ctx, lifecycle.Transition{
		EventID:   next.ID,
		OldStatus: prev.Status,
		NewStatus: next.Status,
		OldSub:    prev.SubStatus,
		NewSub:    next.SubStatus,
		Source:    source,
		ChangedAt: h.now().UTC(),
	})
	if err != nil {
		h.logger.Warn("audit record failed", "event_id", next.ID, "source", source, "error", err)
	}
}

func (h *Handler) notify(ctx context.Context, evt lifecycle.Event) {
	if h.notifier == nil {
		return
	}
	if err := h.notifier.EventChanged(ctx, evt); err != nil {
		h.logger.Warn("scheduler notify failed", "event_id", evt.ID, "error", err)
	}
}
