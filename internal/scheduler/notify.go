package scheduler

import (
	"context"
	"errors"
	"fmt"

	"campusevents/internal/apperr"
	"campusevents/internal/lifecycle"
	"campusevents/internal/queue"
)

// Notifier is told about event edits, approvals and declines so triggers can
// be rebuilt.
type Notifier interface {
	EventChanged(ctx context.Context, evt lifecycle.Event) error
}

// EventChanged refreshes the event's triggers in process.
func (s *Scheduler) EventChanged(_ context.Context, evt lifecycle.Event) error {
	s.Refresh(evt, s.clock.Now())
	return nil
}

// QueueNotifier forwards event changes to a scheduler running in another process.
type QueueNotifier struct {
	q Publisher
}

// NewQueueNotifier publishes on q.
func NewQueueNotifier(q Publisher) *QueueNotifier {
	return &QueueNotifier{q: q}
}

// EventChanged publishes queue.TypeEventChanged.
func (n *QueueNotifier) EventChanged(ctx context.Context, evt lifecycle.Event) error {
	msg, err := queue.NewMessage(queue.TypeEventChanged, queue.EventChanged{
		EventID: evt.ID,
		Removed: !evt.Status.Managed(),
	})
	if err != nil {
		return err
	}
	return n.q.Publish(ctx, msg)
}

// HandleMessage applies a queue.TypeEventChanged message. Other message types
// are ignored. The event is re-read so stale messages cannot resurrect old
// boundaries.
func (s *Scheduler) HandleMessage(ctx context.Context, msg queue.Message) error {
	if msg.Type != queue.TypeEventChanged {
		return nil
	}
	var body queue.EventChanged
	if err := msg.Decode(&body); err != nil {
		return fmt.Errorf("decode %s: %w", msg.Type, err)
	}
	if body.EventID == "" {
		return errors.New("event.changed without event id")
	}
	if body.Removed {
		s.RemoveEventTriggers(body.EventID)
		return nil
	}

	evt, err := s.getEvent(ctx, body.EventID)
	if errors.Is(err, apperr.ErrNotFound) {
		s.RemoveEventTriggers(body.EventID)
		return nil
	}
	if err != nil {
		return err
	}
	n := s.Refresh(evt, s.clock.Now())
	s.logger.Debug("triggers refreshed", "event_id", evt.ID, "triggers", n)
	return nil
}
