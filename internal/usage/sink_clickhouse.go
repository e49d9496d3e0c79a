package usage

import (
	"context"

	"github.com/usagegate/usagegate/internal/model"
	"github.com/usagegate/usagegate/internal/repository"
)

// ClickHouseSink writes batches straight into the ledger table. Used in
// single-process deployments where no Kafka leg is configured.
type ClickHouseSink struct {
	repo repository.UsageRepository
}

func NewClickHouseSink(repo repository.UsageRepository) *ClickHouseSink {
	return &ClickHouseSink{repo: repo}
}

var _ Sink = (*ClickHouseSink)(nil)

func (s *ClickHouseSink) Write(ctx context.Context, recs []model.UsageRecord) error {
	return s.repo.InsertBatch(ctx, recs)
}
