package scheduler

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"time"

	"github.com/redis/go-redis/v9"

	"campusevents/internal/store"
)

// HealthSource answers scheduler health for the API.
type HealthSource interface {
	Health(ctx context.Context) (Health, error)
}

// Heartbeat periodically stores the scheduler's health in Redis with a TTL,
// so an API process without an embedded scheduler can report on the worker.
type Heartbeat struct {
	client   *redis.Client
	sched    *Scheduler
	key      string
	interval time.Duration
	logger   *slog.Logger
}

// NewHeartbeat writes to key (store.HeartbeatKey when empty) every interval;
// entries expire after three missed beats.
func NewHeartbeat(client *redis.Client, sched *Scheduler, key string, interval time.Duration, logger *slog.Logger) *Heartbeat {
	if key == "" {
		key = store.HeartbeatKey
	}
	if interval <= 0 {
		interval = 15 * time.Second
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Heartbeat{client: client, sched: sched, key: key, interval: interval, logger: logger}
}

// Beat writes the current health once.
func (h *Heartbeat) Beat(ctx context.Context) error {
	data, err := json.Marshal(h.sched.HealthCheck())
	if err != nil {
		return err
	}
	return h.client.Set(ctx, h.key, data, 3*h.interval).Err()
}

// Run beats until ctx ends.
func (h *Heartbeat) Run(ctx context.Context) {
	ticker := time.NewTicker(h.interval)
	defer ticker.Stop()

	for {
		if err := h.Beat(ctx); err != nil && ctx.Err() == nil {
			h.logger.Warn("scheduler heartbeat failed", "error", err)
		}
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}
	}
}

// RemoteHealth reads the health written by a Heartbeat. A missing or expired
// key means the worker is not running.
type RemoteHealth struct {
	client *redis.Client
	key    string
}

// NewRemoteHealth reads from key, or store.HeartbeatKey when empty.
func NewRemoteHealth(client *redis.Client, key string) *RemoteHealth {
	if key == "" {
		key = store.HeartbeatKey
	}
	return &RemoteHealth{client: client, key: key}
}

// Health implements HealthSource.
func (r *RemoteHealth) Health(ctx context.Context) (Health, error) {
	data, err := r.client.Get(ctx, r.key).Bytes()
	if errors.Is(err, redis.Nil) {
		return Health{}, nil
	}
	if err != nil {
		return Health{}, err
	}
	var h Health
	if err := json.Unmarshal(data, &h); err != nil {
		return Health{}, err
	}
	return h, nil
}
