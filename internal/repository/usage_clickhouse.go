package repository

import (
	"context"
	"strings"

	"github.com/jmoiron/sqlx"

	"github.com/usagegate/usagegate/internal/model"
)

// UsageRepository persists append-only usage records in ClickHouse and
// serves the reporting queries.
type UsageRepository interface {
	InsertBatch(ctx context.Context, recs []model.UsageRecord) error
	ListByTenant(ctx context.Context, tenantID string, category model.ResourceCategory, limit, offset int) ([]model.UsageRecord, error)
	SumByCategory(ctx context.Context, tenantID string, category model.ResourceCategory) (int64, error)
}

type usageRepository struct {
	ch *sqlx.DB // ClickHouse connection
}

func NewUsageRepository(ch *sqlx.DB) UsageRepository {
	return &usageRepository{ch: ch}
}

// InsertBatch writes all records in a single multi-row INSERT.
func (r *usageRepository) InsertBatch(ctx context.Context, recs []model.UsageRecord) error {
	if len(recs) == 0 {
		return nil
	}

	var sb strings.Builder
	args := make([]any, 0, len(recs)*12)

	sb.WriteString(`INSERT INTO usagegate.usage_records
		(id, tenant_id, user_id, category, quantity, unit, endpoint, method, status_code, duration_ms, tier, created_at) VALUES `)
	for i, rec := range recs {
		if i > 0 {
			sb.WriteString(",")
		}
		sb.WriteString("(?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)")
		args = append(args,
			rec.ID, rec.TenantID, rec.UserID, rec.Category.String(), rec.Quantity, rec.Unit,
			rec.Endpoint, rec.Method, rec.StatusCode, rec.DurationMs, rec.Tier, rec.CreatedAt,
		)
	}

	_, err := r.ch.ExecContext(ctx, sb.String(), args...)
	return err
}

func (r *usageRepository) ListByTenant(ctx context.Context, tenantID string, category model.ResourceCategory, limit, offset int) ([]model.UsageRecord, error) {
	if limit <= 0 || limit > 1000 {
		limit = 50
	}
	if offset < 0 {
		offset = 0
	}

	q := `
		SELECT id, tenant_id, user_id, category, quantity, unit, endpoint, method, status_code, duration_ms, tier, created_at
		FROM usagegate.usage_records
		WHERE tenant_id = ?
	`
	args := []any{tenantID}

	if category != "" {
		q += " AND category = ?"
		args = append(args, category.String())
	}

	q += " ORDER BY created_at DESC LIMIT ? OFFSET ?"
	args = append(args, limit, offset)

	var rows []model.UsageRecord
	if err := r.ch.SelectContext(ctx, &rows, q, args...); err != nil {
		return nil, err
	}
	return rows, nil
}

// SumByCategory totals recorded quantity for reconciliation against the
// quota store's period counters.
func (r *usageRepository) SumByCategory(ctx context.Context, tenantID string, category model.ResourceCategory) (int64, error) {
	var total int64
	err := r.ch.GetContext(ctx, &total, `
		SELECT toInt64(sum(quantity))
		FROM usagegate.usage_records
		WHERE tenant_id = ? AND category = ?
	`, tenantID, category.String())
	if err != nil {
		return 0, err
	}
	return total, nil
}
