// Package cache is a read-through JSON cache for derived views such as
// student profiles and teacher leaderboards.
package cache

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/redis/go-redis/v9"
)

const (
	// DefaultExpiration bounds staleness when an invalidation is lost.
	DefaultExpiration = 15 * time.Minute
	namespace         = "guild:"
)

// ErrMiss is returned by Get when the key is absent.
var ErrMiss = errors.New("cache miss")

// Cache stores JSON values under namespaced keys.
type Cache interface {
	Get(ctx context.Context, key string, v any) error
	Set(ctx context.Context, key string, v any) error
	Delete(ctx context.Context, keys ...string) error
}

func ProfileKey(studentID string) string {
	return fmt.Sprintf("profile:%s", studentID)
}

func LeaderboardKey(teacherID string) string {
	return fmt.Sprintf("leaderboard:%s", teacherID)
}

// Redis is a Cache backed by a redis server.
type Redis struct {
	client     redis.Cmdable
	expiration time.Duration
}

// NewRedis wraps client. A zero expiration uses DefaultExpiration.
func NewRedis(client redis.Cmdable, expiration time.Duration) *Redis {
	if expiration <= 0 {
		expiration = DefaultExpiration
	}
	return &Redis{client: client, expiration: expiration}
}

// Dial connects to addr and pings it.
func Dial(ctx context.Context, addr, password string, db int) (*redis.Client, error) {
	client := redis.NewClient(&redis.Options{
		Addr:     addr,
		Password: password,
		DB:       db,
	})
	if err := client.Ping(ctx).Err(); err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("redis ping %s: %w", addr, err)
	}
	return client, nil
}

func (r *Redis) Get(ctx context.Context, key string, v any) error {
	data, err := r.client.Get(ctx, namespace+key).Bytes()
	if errors.Is(err, redis.Nil) {
		return ErrMiss
	}
	if err != nil {
		return fmt.Errorf("cache get %s: %w", key, err)
	}
	if err := json.Unmarshal(data, v); err != nil {
		return fmt.Errorf("cache decode %s: %w", key, err)
	}
	return nil
}

func (r *Redis) Set(ctx context.Context, key string, v any) error {
	data, err := json.Marshal(v)
	if err != nil {
		return fmt.Errorf("cache encode %s: %w", key, err)
	}
	return r.client.Set(ctx, namespace+key, data, r.expiration).Err()
}

func (r *Redis) Delete(ctx context.Context, keys ...string) error {
	if len(keys) == 0 {
		return nil
	}
	full := make([]string, len(keys))
	for i, k := range keys {
		full[i] = namespace + k
	}
	return r.client.Del(ctx, full...).Err()
}

// Noop never stores anything.
type Noop struct{}

func (Noop) Get(context.Context, string, any) error  { return ErrMiss }
func (Noop) Set(context.Context, string, any) error  { return nil }
func (Noop) Delete(context.Context, ...string) error { return nil }

// Fetch returns the cached value for key, or calls load and caches its
// result. Cache failures are logged and fall through to load.
func Fetch[T any](ctx context.Context, c Cache, logger *slog.Logger, key string, load func(context.Context) (T, error)) (T, error) {
	var v T
	err := c.Get(ctx, key, &v)
	if err == nil {
		return v, nil
	}
	if !errors.Is(err, ErrMiss) && logger != nil {
		logger.Warn("cache read failed", "key", key, "error", err)
	}

	v, err = load(ctx)
	if err != nil {
		return v, err
	}
	if err := c.Set(ctx, key, v); err != nil && logger != nil {
		logger.Warn("cache write failed", "key", key, "error", err)
	}
	return v, nil
}

// Invalidator drops the views derived from a student's progress.
type Invalidator struct {
	Cache  Cache
	Logger *slog.Logger
}

// InvalidateProfile removes the student's profile and the leaderboard of
// their teacher.
func (i Invalidator) InvalidateProfile(ctx context.Context, studentID, teacherID string) {
	keys := []string{ProfileKey(studentID)}
	if teacherID != "" {
		keys = append(keys, LeaderboardKey(teacherID))
	}
	if err := i.Cache.Delete(ctx, keys...); err != nil && i.Logger != nil {
		i.Logger.Warn("cache invalidate failed", "student_id", studentID, "error", err)
	}
}
