package service

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/GoPolymarket/ctf-exchange/internal/model"
	"github.com/GoPolymarket/ctf-exchange/internal/repository"
)

type memAuditRepo struct {
	mu      sync.Mutex
	entries []*model.AuditLog
	listErr error
}

func (r *memAuditRepo) Insert(_ context.Context, e *model.AuditLog) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.entries = append(r.entries, e)
	return nil
}

func (r *memAuditRepo) List(context.Context, repository.AuditFilter) ([]*model.AuditLog, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.entries, r.listErr
}

func TestAuditServiceWritesRepoAndFile(t *testing.T) {
	dir := t.TempDir()
	repo := &memAuditRepo{}
	svc, err := NewAuditService(dir, repo)
	require.NoError(t, err)

	svc.Log(&model.AuditLog{ID: "a1", Account: "desk", Path: "/v1/orders/fill", CreatedAt: time.Now()})
	svc.Close()

	assert.Len(t, repo.entries, 1)
	files, err := filepath.Glob(filepath.Join(dir, "audit-*.jsonl"))
	require.NoError(t, err)
	require.Len(t, files, 1)
	raw, err := os.ReadFile(files[0])
	require.NoError(t, err)
	assert.Contains(t, string(raw), `"id":"a1"`)
}

func TestAuditListFallsBackToBuffer(t *testing.T) {
	repo := &memAuditRepo{listErr: errors.New("db down")}
	svc, err := NewAuditService("", repo)
	require.NoError(t, err)
	defer svc.Close()

	base := time.Unix(1_700_000_000, 0)
	for i, acct := range []string{"desk", "ops", "desk"} {
		svc.Log(&model.AuditLog{ID: string(rune('a' + i)), Account: acct, CreatedAt: base.Add(time.Duration(i) * time.Second)})
	}

	got, err := svc.List(context.Background(), repository.AuditFilter{Account: "desk"})
	require.NoError(t, err)
	require.Len(t, got, 2)
	assert.Equal(t, "c", got[0].ID)
	assert.Equal(t, "a", got[1].ID)
}
