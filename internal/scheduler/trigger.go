package scheduler

import (
	"container/heap"
	"time"

	"campusevents/internal/lifecycle"
)

// TriggerKind names the boundary a trigger fires on.
type TriggerKind string

const (
	KindRegistrationOpen  TriggerKind = "registration_open"
	KindRegistrationClose TriggerKind = "registration_close"
	KindEventStart        TriggerKind = "event_start"
	KindEventEnd          TriggerKind = "event_end"
	KindCertificateEnd    TriggerKind = "certificate_end"
)

// Trigger is a scheduled lifecycle transition for one event. At most one live
// trigger exists per (EventID, Kind).
type Trigger struct {
	EventID  string      `json:"event_id"`
	Kind     TriggerKind `json:"kind"`
	At       time.Time   `json:"at"`
	Attempts int         `json:"attempts,omitempty"`
}

type triggerKey struct {
	eventID string
	kind    TriggerKind
}

func (t Trigger) key() triggerKey { return triggerKey{t.EventID, t.Kind} }

type boundary struct {
	kind TriggerKind
	at   *time.Time
}

// boundaries lists the event's timestamps in lifecycle order.
func boundaries(evt lifecycle.Event) []boundary {
	return []boundary{
		{KindRegistrationOpen, evt.RegistrationStart},
		{KindRegistrationClose, evt.RegistrationEnd},
		{KindEventStart, evt.Start},
		{KindEventEnd, evt.End},
		{KindCertificateEnd, evt.CertificateEnd},
	}
}

// TriggersFor returns one trigger per boundary strictly after now.
func TriggersFor(evt lifecycle.Event, now time.Time) []Trigger {
	var out []Trigger
	for _, b := range boundaries(evt) {
		if b.at != nil && b.at.After(now) {
			out = append(out, Trigger{EventID: evt.ID, Kind: b.kind, At: b.at.UTC()})
		}
	}
	return out
}

// lastCrossed returns the kind of the latest boundary at or before now.
func lastCrossed(evt lifecycle.Event, now time.Time) (TriggerKind, bool) {
	var (
		kind   TriggerKind
		latest time.Time
		found  bool
	)
	for _, b := range boundaries(evt) {
		if b.at == nil || b.at.After(now) {
			continue
		}
		if !found || !b.at.Before(latest) {
			kind, latest, found = b.kind, *b.at, true
		}
	}
	return kind, found
}

// triggerQueue is a min-heap on At with an index for identity lookups. It is
// not safe for concurrent use; the Scheduler guards it.
type triggerQueue struct {
	items []*queued
	index map[triggerKey]*queued
}

type queued struct {
	Trigger
	pos int
}

func newTriggerQueue() *triggerQueue {
	return &triggerQueue{index: make(map[triggerKey]*queued)}
}

func (q *triggerQueue) Len() int { return len(q.items) }

func (q *triggerQueue) Less(i, j int) bool {
	a, b := q.items[i], q.items[j]
	if a.At.Equal(b.At) {
		// keep same-instant triggers in lifecycle order
		return kindRank(a.Kind) < kindRank(b.Kind)
	}
	return a.At.Before(b.At)
}

func (q *triggerQueue) Swap(i, j int) {
	q.items[i], q.items[j] = q.items[j], q.items[i]
	q.items[i].pos = i
	q.items[j].pos = j
}

func (q *triggerQueue) Push(x any) {
	item := x.(*queued)
	item.pos = len(q.items)
	q.items = append(q.items, item)
}

func (q *triggerQueue) Pop() any {
	old := q.items
	n := len(old)
	item := old[n-1]
	old[n-1] = nil
	q.items = old[:n-1]
	item.pos = -1
	return item
}

// upsert inserts t or moves the live trigger with the same identity.
func (q *triggerQueue) upsert(t Trigger) {
	if item, ok := q.index[t.key()]; ok {
		item.Trigger = t
		heap.Fix(q, item.pos)
		return
	}
	item := &queued{Trigger: t}
	q.index[t.key()] = item
	heap.Push(q, item)
}

func (q *triggerQueue) remove(k triggerKey) bool {
	item, ok := q.index[k]
	if !ok {
		return false
	}
	heap.Remove(q, item.pos)
	delete(q.index, k)
	return true
}

func (q *triggerQueue) removeEvent(eventID string) int {
	n := 0
	for _, k := range allKinds {
		if q.remove(triggerKey{eventID, k}) {
			n++
		}
	}
	return n
}

func (q *triggerQueue) has(k triggerKey) bool {
	_, ok := q.index[k]
	return ok
}

func (q *triggerQueue) peek() (Trigger, bool) {
	if len(q.items) == 0 {
		return Trigger{}, false
	}
	return q.items[0].Trigger, true
}

// popDue removes and returns every trigger due at or before now, earliest first.
func (q *triggerQueue) popDue(now time.Time) []Trigger {
	var due []Trigger
	for len(q.items) > 0 && !q.items[0].At.After(now) {
		item := heap.Pop(q).(*queued)
		delete(q.index, item.key())
		due = append(due, item.Trigger)
	}
	return due
}

func (q *triggerQueue) reset() {
	q.items = nil
	q.index = make(map[triggerKey]*queued)
}

func (q *triggerQueue) snapshot() []Trigger {
	out := make([]Trigger, 0, len(q.items))
	for _, item := range q.items {
		out = append(out, item.Trigger)
	}
	return out
}

var allKinds = []TriggerKind{
	KindRegistrationOpen,
	KindRegistrationClose,
	KindEventStart,
	KindEventEnd,
	KindCertificateEnd,
}

func kindRank(k TriggerKind) int {
	for i, v := range allKinds {
		if v == k {
			return i
		}
	}
	return len(allKinds)
}
