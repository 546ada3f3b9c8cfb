package repository

import (
	"context"

	"github.com/GoPolymarket/ctf-exchange/internal/events"
	"github.com/GoPolymarket/ctf-exchange/internal/model"
)

// MemoryEventLog is a bounded ring of recent events, used when no external
// store is configured.
type MemoryEventLog struct {
	ring *ring[events.Event]
}

func NewMemoryEventLog(max int) *MemoryEventLog {
	return &MemoryEventLog{ring: newRing[events.Event](max)}
}

func (m *MemoryEventLog) Publish(_ context.Context, ev events.Event) error {
	m.ring.push(ev)
	return nil
}

// List returns matching events newest first.
func (m *MemoryEventLog) List(_ context.Context, f EventFilter) ([]events.Event, error) {
	return m.ring.newest(f.limit(), f.Matches), nil
}

// MemoryAuditLog holds the most recent audit entries. The audit service keeps
// one alongside its durable repo so queries survive a store outage.
type MemoryAuditLog struct {
	ring *ring[*model.AuditLog]
}

func NewMemoryAuditLog(max int) *MemoryAuditLog {
	return &MemoryAuditLog{ring: newRing[*model.AuditLog](max)}
}

func (m *MemoryAuditLog) Insert(_ context.Context, entry *model.AuditLog) error {
	if entry != nil {
		m.ring.push(entry)
	}
	return nil
}

func (m *MemoryAuditLog) List(_ context.Context, f AuditFilter) ([]*model.AuditLog, error) {
	return m.ring.newest(f.limit(), f.Matches), nil
}
