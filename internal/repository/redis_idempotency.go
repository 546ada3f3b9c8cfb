package repository

import (
	"context"
	"encoding/json"
	"time"

	"github.com/GoPolymarket/ctf-exchange/internal/model"
)

// RedisIdempotencyStore shares idempotency keys across gateway instances.
type RedisIdempotencyStore struct {
	client *RedisClient
	ttl    time.Duration
	prefix string
}

func NewRedisIdempotencyStore(client *RedisClient, ttl time.Duration) *RedisIdempotencyStore {
	if ttl <= 0 {
		ttl = 24 * time.Hour
	}
	return &RedisIdempotencyStore{
		client: client,
		ttl:    ttl,
		prefix: "idem:",
	}
}

func (s *RedisIdempotencyStore) GetOrLock(key string) (*model.IdempotencyRecord, bool) {
	ctx := context.Background()
	payload, _ := json.Marshal(model.IdempotencyRecord{CreatedAt: time.Now().UTC(), Processing: true})
	locked, err := s.client.Client.SetNX(ctx, s.prefix+key, payload, s.ttl).Result()
	if err == nil && locked {
		return nil, false
	}
	raw, err := s.client.Client.Get(ctx, s.prefix+key).Bytes()
	if err != nil {
		return nil, false
	}
	var rec model.IdempotencyRecord
	if err := json.Unmarshal(raw, &rec); err != nil {
		return nil, false
	}
	return &rec, true
}

func (s *RedisIdempotencyStore) Save(key string, status int, body []byte) {
	payload, _ := json.Marshal(model.IdempotencyRecord{Status: status, Body: body, CreatedAt: time.Now().UTC()})
	_ = s.client.Client.Set(context.Background(), s.prefix+key, payload, s.ttl).Err()
}

func (s *RedisIdempotencyStore) Unlock(key string) {
	_ = s.client.Client.Del(context.Background(), s.prefix+key).Err()
}
