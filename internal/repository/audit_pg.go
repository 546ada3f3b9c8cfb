package repository

import (
	"context"
	"time"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"github.com/GoPolymarket/ctf-exchange/internal/model"
)

type auditRecord struct {
	ID           string         `gorm:"primaryKey;type:text"`
	Account      string         `gorm:"type:varchar(128);index:idx_audit_account_time,priority:1"`
	Method       string         `gorm:"type:varchar(16)"`
	Path         string         `gorm:"type:text"`
	IP           string         `gorm:"type:varchar(64)"`
	UserAgent    string         `gorm:"type:text"`
	RequestBody  string         `gorm:"type:text"`
	StatusCode   int            `gorm:"type:integer"`
	ResponseBody string         `gorm:"type:text"`
	LatencyMs    int64          `gorm:"type:bigint"`
	Context      map[string]any `gorm:"type:jsonb;serializer:json"`
	CreatedAt    time.Time      `gorm:"type:timestamptz;index:idx_audit_account_time,priority:2,sort:desc"`
}

func (auditRecord) TableName() string {
	return "audit_logs"
}

type PostgresAuditRepo struct {
	db *gorm.DB
}

func NewPostgresAuditRepo(db *gorm.DB) *PostgresAuditRepo {
	return &PostgresAuditRepo{db: db}
}

func (r *PostgresAuditRepo) Insert(ctx context.Context, entry *model.AuditLog) error {
	if entry == nil {
		return nil
	}
	rec := auditRecord{
		ID:           entry.ID,
		Account:      entry.Account,
		Method:       entry.Method,
		Path:         entry.Path,
		IP:           entry.IP,
		UserAgent:    entry.UserAgent,
		RequestBody:  entry.RequestBody,
		StatusCode:   entry.StatusCode,
		ResponseBody: entry.ResponseBody,
		LatencyMs:    entry.LatencyMs,
		Context:      entry.Context,
		CreatedAt:    entry.CreatedAt,
	}
	return r.db.WithContext(ctx).
		Clauses(clause.OnConflict{DoNothing: true}).
		Create(&rec).Error
}

func (r *PostgresAuditRepo) List(ctx context.Context, f AuditFilter) ([]*model.AuditLog, error) {
	q := r.db.WithContext(ctx).Model(&auditRecord{})
	if f.Account != "" {
		q = q.Where("account = ?", f.Account)
	}
	if f.From != nil {
		q = q.Where("created_at >= ?", *f.From)
	}
	if f.To != nil {
		q = q.Where("created_at <= ?", *f.To)
	}

	var rows []auditRecord
	if err := q.Order("created_at DESC").Limit(f.limit()).Find(&rows).Error; err != nil {
		return nil, err
	}
	records := make([]*model.AuditLog, 0, len(rows))
	for _, row := range rows {
		ctxMap := row.Context
		if ctxMap == nil {
			ctxMap = map[string]interface{}{}
		}
		records = append(records, &model.AuditLog{
			ID:           row.ID,
			Account:      row.Account,
			Method:       row.Method,
			Path:         row.Path,
			IP:           row.IP,
			UserAgent:    row.UserAgent,
			RequestBody:  row.RequestBody,
			StatusCode:   row.StatusCode,
			ResponseBody: row.ResponseBody,
			LatencyMs:    row.LatencyMs,
			Context:      ctxMap,
			CreatedAt:    row.CreatedAt,
		})
	}
	return records, nil
}

func (r *PostgresAuditRepo) Cleanup(ctx context.Context, olderThan time.Duration) error {
	if olderThan <= 0 {
		return nil
	}
	cutoff := time.Now().UTC().Add(-olderThan)
	return r.db.WithContext(ctx).Where("created_at < ?", cutoff).Delete(&auditRecord{}).Error
}
