package repository

import (
	"time"

	"github.com/GoPolymarket/ctf-exchange/internal/events"
	"github.com/GoPolymarket/ctf-exchange/internal/model"
)

const (
	defaultListLimit = 100
	maxListLimit     = 1000
)

// EventFilter narrows event history queries. Zero fields match everything.
type EventFilter struct {
	Types  []events.Type
	Source string
	From   *time.Time
	To     *time.Time
	Limit  int
}

func (f EventFilter) limit() int {
	if f.Limit <= 0 || f.Limit > maxListLimit {
		return defaultListLimit
	}
	return f.Limit
}

func (f EventFilter) typeNames() []string {
	out := make([]string, len(f.Types))
	for i, t := range f.Types {
		out[i] = string(t)
	}
	return out
}

// Matches applies the filter to a single event.
func (f EventFilter) Matches(ev events.Event) bool {
	if f.Source != "" && ev.Source != f.Source {
		return false
	}
	if f.From != nil && ev.Time.Before(*f.From) {
		return false
	}
	if f.To != nil && ev.Time.After(*f.To) {
		return false
	}
	if len(f.Types) == 0 {
		return true
	}
	for _, t := range f.Types {
		if ev.Type == t {
			return true
		}
	}
	return false
}

// AuditFilter narrows audit queries.
type AuditFilter struct {
	Account string
	From    *time.Time
	To      *time.Time
	Limit   int
}

func (f AuditFilter) limit() int {
	return EventFilter{Limit: f.Limit}.limit()
}

// Matches applies the filter to a single audit entry.
func (f AuditFilter) Matches(entry *model.AuditLog) bool {
	switch {
	case f.Account != "" && entry.Account != f.Account:
		return false
	case f.From != nil && entry.CreatedAt.Before(*f.From):
		return false
	case f.To != nil && entry.CreatedAt.After(*f.To):
		return false
	}
	return true
}
