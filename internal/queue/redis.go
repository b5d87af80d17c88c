package queue

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/redis/go-redis/v9"

	"campusevents/internal/store"
)

// envelope is the wire form of a Message on the Redis list.
type envelope struct {
	Type string          `json:"type"`
	At   time.Time       `json:"at,omitempty"`
	Body json.RawMessage `json:"body,omitempty"`
}

func encode(msg Message) (string, error) {
	data, err := json.Marshal(envelope{Type: msg.Type, At: msg.At, Body: msg.Body})
	if err != nil {
		return "", fmt.Errorf("encode %s message: %w", msg.Type, err)
	}
	return string(data), nil
}

func decode(s string) (Message, error) {
	var env envelope
	if err := json.Unmarshal([]byte(s), &env); err != nil {
		return Message{}, err
	}
	if env.Type == "" {
		return Message{}, errors.New("message without type")
	}
	return Message{Type: env.Type, Body: []byte(env.Body), At: env.At}, nil
}

// RedisQueue is a list-backed queue: producers LPUSH, consumers BRPOP, so
// messages come out oldest first.
type RedisQueue struct {
	client     *redis.Client
	key        string
	maxLen     int64
	popTimeout time.Duration
	logger     *slog.Logger
}

// RedisOption configures a RedisQueue.
type RedisOption func(*RedisQueue)

// WithMaxLen caps the list. Publishing past the cap drops the oldest
// messages, so a queue nobody drains stays bounded. Zero means unbounded.
func WithMaxLen(n int64) RedisOption {
	return func(q *RedisQueue) { q.maxLen = n }
}

// WithPopTimeout sets how long one BRPOP blocks before it is reissued.
func WithPopTimeout(d time.Duration) RedisOption {
	return func(q *RedisQueue) {
		if d > 0 {
			q.popTimeout = d
		}
	}
}

// WithQueueLogger reports messages that could not be decoded.
func WithQueueLogger(l *slog.Logger) RedisOption {
	return func(q *RedisQueue) {
		if l != nil {
			q.logger = l
		}
	}
}

// NewRedisQueue builds a queue on key, or store.QueueKey when empty.
func NewRedisQueue(client *redis.Client, key string, opts ...RedisOption) *RedisQueue {
	if key == "" {
		key = store.QueueKey
	}
	q := &RedisQueue{client: client, key: key, popTimeout: 5 * time.Second, logger: slog.Default()}
	for _, opt := range opts {
		opt(q)
	}
	return q
}

// Publish enqueues a message and trims the list to the configured cap.
func (q *RedisQueue) Publish(ctx context.Context, msg Message) error {
	data, err := encode(msg)
	if err != nil {
		return err
	}
	if q.maxLen <= 0 {
		return q.client.LPush(ctx, q.key, data).Err()
	}
	_, err = q.client.TxPipelined(ctx, func(p redis.Pipeliner) error {
		p.LPush(ctx, q.key, data)
		p.LTrim(ctx, q.key, 0, q.maxLen-1)
		return nil
	})
	return err
}

// Depth is the number of messages waiting on the list.
func (q *RedisQueue) Depth(ctx context.Context) (int64, error) {
	return q.client.LLen(ctx, q.key).Result()
}

// Consume streams messages using BRPOP until ctx ends. Undecodable entries
// are logged and skipped.
func (q *RedisQueue) Consume(ctx context.Context) (<-chan Message, error) {
	out := make(chan Message)
	go func() {
		defer close(out)
		for {
			res, err := q.client.BRPop(ctx, q.popTimeout, q.key).Result()
			if err != nil {
				if ctx.Err() != nil {
					return
				}
				if errors.Is(err, redis.Nil) {
					continue
				}
				// back off briefly so a dead server does not spin the loop
				select {
				case <-time.After(time.Second):
				case <-ctx.Done():
					return
				}
				continue
			}
			if len(res) != 2 {
				continue
			}
			msg, err := decode(res[1])
			if err != nil {
				q.logger.Warn("dropping undecodable queue entry", "key", q.key, "error", err)
				continue
			}
			select {
			case out <- msg:
			case <-ctx.Done():
				return
			}
		}
	}()
	return out, nil
}
