package repository

import (
	"context"
	"encoding/json"

	"github.com/GoPolymarket/ctf-exchange/internal/model"
)

// RedisAuditRepo stores audit entries in a capped list when postgres is not
// configured. Queries scan the newest entries only.
type RedisAuditRepo struct {
	client *RedisClient
	key    string
	max    int
}

func NewRedisAuditRepo(client *RedisClient, key string, max int) *RedisAuditRepo {
	r := &RedisAuditRepo{client: client, key: key, max: max}
	if r.key == "" {
		r.key = "ctfx_audit"
	}
	if r.max <= 0 {
		r.max = 10000
	}
	return r
}

func (r *RedisAuditRepo) Insert(ctx context.Context, entry *model.AuditLog) error {
	if entry == nil {
		return nil
	}
	payload, err := json.Marshal(entry)
	if err != nil {
		return err
	}
	return r.client.pushCapped(ctx, r.key, r.max, payload)
}

func (r *RedisAuditRepo) List(ctx context.Context, f AuditFilter) ([]*model.AuditLog, error) {
	return scanCapped(ctx, r.client, r.key, r.max, f.limit(), f.Matches)
}
