package upload

import (
	"context"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

// RedisConfig configures the Redis stream sink.
type RedisConfig struct {
	Addr     string // e.g. localhost:6379
	Password string
	DB       int
	Prefix   string // stream key prefix, e.g. "gobell" -> gobell:logs
	MaxLen   int64  // approximate stream cap; 0 = unbounded
}

// RedisSink appends entries to a Redis stream. The stream ID assigned by
// XADD is the entry key, so keys are server-assigned and strictly ordered.
type RedisSink struct {
	client *redis.Client
	prefix string
	maxLen int64
}

// NewRedisSink connects and verifies the server is reachable.
func NewRedisSink(ctx context.Context, cfg RedisConfig) (*RedisSink, error) {
	client := redis.NewClient(&redis.Options{
		Addr:     cfg.Addr,
		Password: cfg.Password,
		DB:       cfg.DB,
	})

	pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err := client.Ping(pingCtx).Err(); err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("failed to connect to redis at %s: %w", cfg.Addr, err)
	}

	return &RedisSink{client: client, prefix: cfg.Prefix, maxLen: cfg.MaxLen}, nil
}

func (r *RedisSink) streamKey(path string) string {
	if r.prefix == "" {
		return path
	}
	return r.prefix + ":" + path
}

func (r *RedisSink) Push(ctx context.Context, path string, entry LogEntry) (string, error) {
	args := &redis.XAddArgs{
		Stream: r.streamKey(path),
		ID:     "*",
		Values: map[string]interface{}{"image": entry.Image},
	}
	if r.maxLen > 0 {
		args.MaxLen = r.maxLen
		args.Approx = true
	}
	return r.client.XAdd(ctx, args).Result()
}

func (r *RedisSink) List(ctx context.Context, path string, n int) ([]Record, error) {
	if n <= 0 {
		n = 20
	}
	msgs, err := r.client.XRevRangeN(ctx, r.streamKey(path), "+", "-", int64(n)).Result()
	if err != nil {
		return nil, err
	}
	out := make([]Record, 0, len(msgs))
	for _, m := range msgs {
		img, _ := m.Values["image"].(string)
		out = append(out, Record{Key: m.ID, Time: streamIDTime(m.ID), Entry: LogEntry{Image: img}})
	}
	return out, nil
}

// streamIDTime extracts the millisecond timestamp from a "<ms>-<seq>" ID.
func streamIDTime(id string) time.Time {
	var ms, seq int64
	if _, err := fmt.Sscanf(id, "%d-%d", &ms, &seq); err != nil {
		return time.Time{}
	}
	return time.UnixMilli(ms)
}

// Close closes the underlying Redis client
func (r *RedisSink) Close() error {
	return r.client.Close()
}
