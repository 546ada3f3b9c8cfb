package repository

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/GoPolymarket/ctf-exchange/internal/config"
	"github.com/GoPolymarket/ctf-exchange/internal/events"
)

type RedisClient struct {
	Client *redis.Client
}

func NewRedisClient(cfg *config.Config) (*RedisClient, error) {
	if cfg.Redis.Addr == "" {
		return nil, fmt.Errorf("redis address is empty")
	}

	rdb := redis.NewClient(&redis.Options{
		Addr:     cfg.Redis.Addr,
		Password: cfg.Redis.Password,
		DB:       cfg.Redis.DB,
	})

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if err := rdb.Ping(ctx).Err(); err != nil {
		return nil, fmt.Errorf("failed to connect to redis: %w", err)
	}

	return &RedisClient{Client: rdb}, nil
}

func (r *RedisClient) Close() error {
	return r.Client.Close()
}

// pushCapped prepends payload to a list bounded at max entries.
func (r *RedisClient) pushCapped(ctx context.Context, key string, max int, payload []byte) error {
	pipe := r.Client.TxPipeline()
	pipe.LPush(ctx, key, payload)
	pipe.LTrim(ctx, key, 0, int64(max-1))
	_, err := pipe.Exec(ctx)
	return err
}

// RedisEventLog keeps the most recent events in a capped list. It is the
// fallback history when postgres is not configured.
type RedisEventLog struct {
	client  *RedisClient
	listKey string
	listMax int
}

func NewRedisEventLog(client *RedisClient, listKey string, listMax int) *RedisEventLog {
	if listKey == "" {
		listKey = "ctfx_events"
	}
	if listMax <= 0 {
		listMax = 10000
	}
	return &RedisEventLog{client: client, listKey: listKey, listMax: listMax}
}

func (l *RedisEventLog) Publish(ctx context.Context, ev events.Event) error {
	payload, err := json.Marshal(ev)
	if err != nil {
		return err
	}
	return l.client.pushCapped(ctx, l.listKey, l.listMax, payload)
}

func (l *RedisEventLog) List(ctx context.Context, f EventFilter) ([]events.Event, error) {
	return scanCapped(ctx, l.client, l.listKey, l.listMax, f.limit(), f.Matches)
}

// scanCapped decodes newest-first entries of a capped list until limit
// entries pass keep. Undecodable entries are skipped.
func scanCapped[T any](ctx context.Context, client *RedisClient, key string, max, limit int, keep func(T) bool) ([]T, error) {
	items, err := client.Client.LRange(ctx, key, 0, int64(fetchWindow(limit, max)-1)).Result()
	if errors.Is(err, redis.Nil) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("read %s: %w", key, err)
	}
	out := make([]T, 0, limit)
	for _, raw := range items {
		var v T
		if json.Unmarshal([]byte(raw), &v) != nil || !keep(v) {
			continue
		}
		if out = append(out, v); len(out) == limit {
			break
		}
	}
	return out, nil
}

// fetchWindow over-reads so filtered queries still fill their limit.
func fetchWindow(limit, max int) int {
	fetch := limit * 5
	if fetch < 100 {
		fetch = 100
	}
	if fetch > max {
		fetch = max
	}
	return fetch
}
