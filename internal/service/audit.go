package service

import (
	"context"
	"encoding/json"
	"log/slog"
	"os"
	"path/filepath"
	"time"

	"github.com/GoPolymarket/ctf-exchange/internal/model"
	"github.com/GoPolymarket/ctf-exchange/internal/pkg/logger"
	"github.com/GoPolymarket/ctf-exchange/internal/repository"
)

const auditQueueSize = 1000

type AuditRepo interface {
	Insert(ctx context.Context, entry *model.AuditLog) error
	List(ctx context.Context, f repository.AuditFilter) ([]*model.AuditLog, error)
}

// AuditService persists audit entries off the request path. Every entry lands
// in a recent-history ring first, then in the durable repo and the daily jsonl
// file when those are configured.
type AuditService struct {
	queue  chan *model.AuditLog
	recent *repository.MemoryAuditLog
	repo   AuditRepo
	file   *os.File
	log    *slog.Logger
	done   chan struct{}
}

// NewAuditService starts the background writer. An empty logDir disables the
// jsonl file; a nil repo keeps history in memory only.
func NewAuditService(logDir string, repo AuditRepo) (*AuditService, error) {
	file, err := openAuditFile(logDir, time.Now())
	if err != nil {
		return nil, err
	}
	s := &AuditService{
		queue:  make(chan *model.AuditLog, auditQueueSize),
		recent: repository.NewMemoryAuditLog(auditQueueSize),
		repo:   repo,
		file:   file,
		log:    logger.Component("audit"),
		done:   make(chan struct{}),
	}
	go s.drain()
	return s, nil
}

func openAuditFile(dir string, day time.Time) (*os.File, error) {
	if dir == "" {
		return nil, nil
	}
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, err
	}
	name := filepath.Join(dir, "audit-"+day.Format(time.DateOnly)+".jsonl")
	return os.OpenFile(name, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0o644)
}

// Log never blocks. When the writer falls behind the entry is still queryable
// from the ring but is not persisted.
func (s *AuditService) Log(entry *model.AuditLog) {
	_ = s.recent.Insert(context.Background(), entry)
	select {
	case s.queue <- entry:
	default:
		s.log.Warn("audit queue full, entry not persisted", "id", entry.ID, "path", entry.Path)
	}
}

// List prefers the durable repo and falls back to the ring on error.
func (s *AuditService) List(ctx context.Context, f repository.AuditFilter) ([]*model.AuditLog, error) {
	if s.repo == nil {
		return s.recent.List(ctx, f)
	}
	out, err := s.repo.List(ctx, f)
	if err != nil {
		s.log.Warn("audit repo list failed, serving recent entries", "error", err)
		return s.recent.List(ctx, f)
	}
	return out, nil
}

func (s *AuditService) drain() {
	defer close(s.done)
	var enc *json.Encoder
	if s.file != nil {
		enc = json.NewEncoder(s.file)
	}
	for entry := range s.queue {
		if s.repo != nil {
			if err := s.repo.Insert(context.Background(), entry); err != nil {
				s.log.Error("audit insert failed", "id", entry.ID, "error", err)
			}
		}
		if enc == nil {
			continue
		}
		if err := enc.Encode(entry); err != nil {
			s.log.Error("audit file write failed", "error", err)
		}
	}
}

// Close drains queued entries before returning.
func (s *AuditService) Close() {
	close(s.queue)
	<-s.done
	if s.file != nil {
		_ = s.file.Close()
	}
}
