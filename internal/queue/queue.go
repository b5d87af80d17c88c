package queue

import (
	"context"
	"encoding/json"
	"time"
)

// Message types carried between the API and the scheduler worker.
const (
	// TypeEventChanged asks the scheduler to rebuild the triggers of one event.
	TypeEventChanged = "event.changed"
	// TypeEventTransitioned announces a status change applied by the scheduler.
	TypeEventTransitioned = "event.transitioned"
)

// Message is one queued notification. Body is JSON; At is when it was
// built, so consumers can tell how far behind they are.
type Message struct {
	Type string
	Body []byte
	At   time.Time
}

// NewMessage encodes v as the JSON body of a message.
func NewMessage(typ string, v any) (Message, error) {
	body, err := json.Marshal(v)
	if err != nil {
		return Message{}, err
	}
	return Message{Type: typ, Body: body, At: time.Now().UTC()}, nil
}

// Decode unmarshals the message body into v.
func (m Message) Decode(v any) error {
	return json.Unmarshal(m.Body, v)
}

// EventChanged is the body of TypeEventChanged. Removed means the event no
// longer needs triggers (declined or deleted).
type EventChanged struct {
	EventID string `json:"event_id"`
	Removed bool   `json:"removed,omitempty"`
}

// EventTransitioned is the body of TypeEventTransitioned.
type EventTransitioned struct {
	EventID      string    `json:"event_id"`
	OldStatus    string    `json:"old_status"`
	NewStatus    string    `json:"new_status"`
	OldSubStatus string    `json:"old_sub_status"`
	NewSubStatus string    `json:"new_sub_status"`
	Trigger      string    `json:"trigger"`
	At           time.Time `json:"at"`
}

// Queue is the abstraction over different backends.
type Queue interface {
	Publish(ctx context.Context, msg Message) error
	Consume(ctx context.Context) (<-chan Message, error)
}

// Lag is how long msg waited between NewMessage and now. Zero when unknown.
func Lag(msg Message, now time.Time) time.Duration {
	if msg.At.IsZero() || now.Before(msg.At) {
		return 0
	}
	return now.Sub(msg.At)
}

// InMemory is a minimal channel-backed queue for dev/testing and for running
// the scheduler inside the API process.
type InMemory struct {
	ch chan Message
}

// NewInMemory creates a bounded in-memory queue.
func NewInMemory(size int) *InMemory {
	return &InMemory{ch: make(chan Message, size)}
}

// Depth is the number of buffered messages.
func (q *InMemory) Depth(context.Context) (int64, error) {
	return int64(len(q.ch)), nil
}

// Publish enqueues a message, blocking while the buffer is full.
func (q *InMemory) Publish(ctx context.Context, msg Message) error {
	select {
	case q.ch <- msg:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Consume returns a channel for workers.
func (q *InMemory) Consume(ctx context.Context) (<-chan Message, error) {
	out := make(chan Message)
	go func() {
		defer close(out)
		for {
			select {
			case msg := <-q.ch:
				select {
				case out <- msg:
				case <-ctx.Done():
					return
				}
			case <-ctx.Done():
				return
			}
		}
	}()
	return out, nil
}
