package repository

import (
	"context"
	"time"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"github.com/GoPolymarket/ctf-exchange/internal/events"
)

type eventRecord struct {
	ID        string         `gorm:"primaryKey;type:text"`
	Type      string         `gorm:"type:varchar(64);not null;index:idx_events_type_time,priority:1"`
	Source    string         `gorm:"type:varchar(32);not null;index"`
	Payload   map[string]any `gorm:"type:jsonb;serializer:json"`
	CreatedAt time.Time      `gorm:"type:timestamptz;not null;index:idx_events_type_time,priority:2"`
}

func (eventRecord) TableName() string {
	return "protocol_events"
}

// PostgresEventStore persists the event history and serves it back to the
// API. It is an events.Sink.
type PostgresEventStore struct {
	db *gorm.DB
}

func NewPostgresEventStore(db *gorm.DB) *PostgresEventStore {
	return &PostgresEventStore{db: db}
}

func (s *PostgresEventStore) Publish(ctx context.Context, ev events.Event) error {
	rec := eventRecord{
		ID:        ev.ID,
		Type:      string(ev.Type),
		Source:    ev.Source,
		Payload:   ev.Payload,
		CreatedAt: ev.Time,
	}
	return s.db.WithContext(ctx).
		Clauses(clause.OnConflict{DoNothing: true}).
		Create(&rec).Error
}

func (s *PostgresEventStore) List(ctx context.Context, f EventFilter) ([]events.Event, error) {
	q := s.db.WithContext(ctx).Model(&eventRecord{})
	if len(f.Types) > 0 {
		q = q.Where("type IN ?", f.typeNames())
	}
	if f.Source != "" {
		q = q.Where("source = ?", f.Source)
	}
	if f.From != nil {
		q = q.Where("created_at >= ?", *f.From)
	}
	if f.To != nil {
		q = q.Where("created_at <= ?", *f.To)
	}

	var rows []eventRecord
	if err := q.Order("created_at DESC").Limit(f.limit()).Find(&rows).Error; err != nil {
		return nil, err
	}
	out := make([]events.Event, 0, len(rows))
	for _, r := range rows {
		out = append(out, events.Event{
			ID:      r.ID,
			Type:    events.Type(r.Type),
			Source:  r.Source,
			Time:    r.CreatedAt.UTC(),
			Payload: r.Payload,
		})
	}
	return out, nil
}

// Cleanup drops events older than the retention window.
func (s *PostgresEventStore) Cleanup(ctx context.Context, olderThan time.Duration) (int64, error) {
	if olderThan <= 0 {
		return 0, nil
	}
	cutoff := time.Now().UTC().Add(-olderThan)
	res := s.db.WithContext(ctx).Where("created_at < ?", cutoff).Delete(&eventRecord{})
	return res.RowsAffected, res.Error
}
