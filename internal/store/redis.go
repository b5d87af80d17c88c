package store

import (
	"context"
	"errors"
	"strings"
	"time"

	"github.com/redis/go-redis/v9"
)

// KeyPrefix namespaces every Redis key the services write, so one instance
// can be shared between deployments.
const KeyPrefix = "campusevents"

// Well-known keys.
const (
	// QueueKey is the list carrying event.changed and event.transitioned.
	QueueKey = KeyPrefix + ":queue"
	// HeartbeatKey holds the worker scheduler's last reported health.
	HeartbeatKey = KeyPrefix + ":scheduler:health"
	// LockPrefix is prepended to attendance lock names.
	LockPrefix = KeyPrefix + ":lock:"
)

// Key joins parts under KeyPrefix: Key("lock", "evt-1") is "campusevents:lock:evt-1".
func Key(parts ...string) string {
	return KeyPrefix + ":" + strings.Join(parts, ":")
}

// RedisConfig addresses one Redis instance. Zero timeouts get short defaults
// so a missing server fails requests fast instead of hanging them.
type RedisConfig struct {
	Addr         string
	Password     string
	DB           int
	DialTimeout  time.Duration
	ReadTimeout  time.Duration
	WriteTimeout time.Duration
}

func (c RedisConfig) options() *redis.Options {
	opts := &redis.Options{
		Addr:         c.Addr,
		Password:     c.Password,
		DB:           c.DB,
		DialTimeout:  c.DialTimeout,
		ReadTimeout:  c.ReadTimeout,
		WriteTimeout: c.WriteTimeout,
	}
	if opts.DialTimeout <= 0 {
		opts.DialTimeout = 2 * time.Second
	}
	if opts.ReadTimeout <= 0 {
		opts.ReadTimeout = time.Second
	}
	if opts.WriteTimeout <= 0 {
		opts.WriteTimeout = time.Second
	}
	return opts
}

// Redis wraps the client shared by the queue, lock and heartbeat.
type Redis struct {
	Client *redis.Client
}

// NewRedis builds a client. No connection is made until first use.
func NewRedis(cfg RedisConfig) *Redis {
	return &Redis{Client: redis.NewClient(cfg.options())}
}

var errNoRedis = errors.New("redis not configured")

// Ping round-trips to the server.
func (r *Redis) Ping(ctx context.Context) error {
	if r == nil || r.Client == nil {
		return errNoRedis
	}
	return r.Client.Ping(ctx).Err()
}

// Healthy reports whether Ping succeeds.
func (r *Redis) Healthy(ctx context.Context) bool {
	return r.Ping(ctx) == nil
}

// Close releases the connection pool.
func (r *Redis) Close() error {
	if r == nil || r.Client == nil {
		return nil
	}
	return r.Client.Close()
}
