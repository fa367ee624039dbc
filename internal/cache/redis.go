package cache

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/Nexar-Turismo/nexarturismo-sub002/internal/domain"
	"github.com/redis/go-redis/v9"
)

const keyPrefix = "entitlement:"

// Redis is a Cache shared by every API replica.
type Redis struct {
	client    redis.UniversalClient
	retention time.Duration
}

// NewRedis creates a Redis cache. Keys expire retention after they are written.
func NewRedis(client redis.UniversalClient, retention time.Duration) *Redis {
	return &Redis{client: client, retention: retention}
}

var _ Cache = (*Redis)(nil)

// Connect parses a redis:// URL and pings the server.
func Connect(ctx context.Context, url string) (*redis.Client, error) {
	opt, err := redis.ParseURL(url)
	if err != nil {
		return nil, fmt.Errorf("failed to parse redis url: %w", err)
	}
	client := redis.NewClient(opt)
	if err := client.Ping(ctx).Err(); err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("failed to ping redis: %w", err)
	}
	return client, nil
}

func (r *Redis) Get(ctx context.Context, userID string) (*Entry, error) {
	raw, err := r.client.Get(ctx, keyPrefix+userID).Bytes()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return nil, nil
		}
		return nil, fmt.Errorf("failed to read entitlement cache: %w", err)
	}
	var e Entry
	if err := json.Unmarshal(raw, &e); err != nil {
		return nil, fmt.Errorf("failed to decode entitlement cache entry: %w", err)
	}
	return &e, nil
}

func (r *Redis) Set(ctx context.Context, userID string, ent domain.Entitlement) error {
	raw, err := json.Marshal(Entry{Entitlement: ent, StoredAt: time.Now().UTC()})
	if err != nil {
		return fmt.Errorf("failed to encode entitlement cache entry: %w", err)
	}
	if err := r.client.Set(ctx, keyPrefix+userID, raw, r.retention).Err(); err != nil {
		return fmt.Errorf("failed to write entitlement cache: %w", err)
	}
	return nil
}

func (r *Redis) Invalidate(ctx context.Context, userID string) error {
	if err := r.client.Del(ctx, keyPrefix+userID).Err(); err != nil {
		return fmt.Errorf("failed to invalidate entitlement cache: %w", err)
	}
	return nil
}

// Ping reports whether the Redis server is reachable.
func (r *Redis) Ping(ctx context.Context) error {
	return r.client.Ping(ctx).Err()
}
