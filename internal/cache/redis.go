package cache

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"energy-service/internal/models"

	"github.com/go-redis/redis/v8"
)

const recentListKey = "measurements:recent"

type Options struct {
	Addr       string
	Password   string
	DB         int
	RecentSize int64
	TTL        time.Duration
}

// RedisClient keeps a bounded journal of recently written measurements. It is
// a feed of raw writes, not a cache of derived reports.
type RedisClient struct {
	client     *redis.Client
	recentSize int64
	ttl        time.Duration
}

func NewRedisClient(ctx context.Context, opts Options) (*RedisClient, error) {
	client := redis.NewClient(&redis.Options{
		Addr:         opts.Addr,
		Password:     opts.Password,
		DB:           opts.DB,
		PoolSize:     100,
		MinIdleConns: 10,
		MaxRetries:   3,
	})

	if err := client.Ping(ctx).Err(); err != nil {
		client.Close()
		return nil, err
	}

	if opts.RecentSize <= 0 {
		opts.RecentSize = 1000
	}
	if opts.TTL <= 0 {
		opts.TTL = time.Hour
	}
	return &RedisClient{
		client:     client,
		recentSize: opts.RecentSize,
		ttl:        opts.TTL,
	}, nil
}

func measurementKey(m models.Measurement) string {
	return fmt.Sprintf("measurement:%s:%d", m.DeviceID, m.Timestamp.UnixNano())
}

func (r *RedisClient) Record(ctx context.Context, m models.Measurement) error {
	key := measurementKey(m)

	data, err := json.Marshal(m)
	if err != nil {
		return fmt.Errorf("failed to marshal measurement: %w", err)
	}

	pipe := r.client.TxPipeline()
	pipe.Set(ctx, key, data, r.ttl)
	pipe.LPush(ctx, recentListKey, key)
	pipe.LTrim(ctx, recentListKey, 0, r.recentSize-1)
	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("failed to journal measurement in Redis: %w", err)
	}
	return nil
}

// Recent returns up to count of the newest journaled measurements, newest
// first. Entries whose value already expired are skipped.
func (r *RedisClient) Recent(ctx context.Context, count int64) ([]models.Measurement, error) {
	if count <= 0 || count > r.recentSize {
		count = r.recentSize
	}

	keys, err := r.client.LRange(ctx, recentListKey, 0, count-1).Result()
	if err != nil {
		return nil, fmt.Errorf("failed to get recent measurement keys: %w", err)
	}
	if len(keys) == 0 {
		return []models.Measurement{}, nil
	}

	values, err := r.client.MGet(ctx, keys...).Result()
	if err != nil {
		return nil, fmt.Errorf("failed to load recent measurements: %w", err)
	}

	out := make([]models.Measurement, 0, len(values))
	for _, v := range values {
		s, ok := v.(string)
		if !ok {
			continue
		}
		var m models.Measurement
		if err := json.Unmarshal([]byte(s), &m); err != nil {
			continue
		}
		out = append(out, m)
	}
	return out, nil
}

func (r *RedisClient) Close() error {
	return r.client.Close()
}
