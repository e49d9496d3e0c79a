package governance

import (
	"context"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/usagegate/usagegate/internal/metrics"
	"github.com/usagegate/usagegate/internal/model"
	"github.com/usagegate/usagegate/internal/store"
)

// PeriodFunc maps an instant to a billing period label and its end time.
type PeriodFunc func(time.Time) (label string, end time.Time)

// MonthlyPeriod is the default billing period: calendar month, UTC.
func MonthlyPeriod(now time.Time) (string, time.Time) {
	now = now.UTC()
	start := time.Date(now.Year(), now.Month(), 1, 0, 0, 0, 0, time.UTC)
	return start.Format("2006-01"), start.AddDate(0, 1, 0)
}

// QuotaDecision is the structured result of a quota pre-check.
type QuotaDecision struct {
	Allowed bool
	Status  model.QuotaStatus
}

// Enforcer compares cumulative per-period consumption against tier ceilings.
// Only the pre-check reads; accumulation happens after the handler ran, via
// Add, so a denied request never consumes quota.
type Enforcer struct {
	store  store.QuotaStore
	period PeriodFunc
	log    *zap.Logger
	now    func() time.Time
}

func NewEnforcer(s store.QuotaStore, period PeriodFunc, log *zap.Logger) *Enforcer {
	if period == nil {
		period = MonthlyPeriod
	}
	if log == nil {
		log = zap.NewNop()
	}
	return &Enforcer{store: s, period: period, log: log, now: time.Now}
}

func quotaKey(tenantID string, cat model.ResourceCategory, period string) string {
	return fmt.Sprintf("q:%s:%s:%s", tenantID, cat, period)
}

// Check compares used+qty against the tier ceiling for the category.
// A missing or zero ceiling means unlimited. Store failures fail open.
func (e *Enforcer) Check(ctx context.Context, tenantID string, tier model.BillingTier, cat model.ResourceCategory, qty int64) QuotaDecision {
	period, _ := e.period(e.now())
	status := model.QuotaStatus{
		TenantID: tenantID,
		Category: cat,
		Limit:    tier.Quota(cat),
		Period:   period,
	}

	if tenantID == "" || status.Limit <= 0 {
		return QuotaDecision{Allowed: true, Status: status}
	}

	used, err := e.store.GetUsage(ctx, quotaKey(tenantID, cat, period))
	if err != nil {
		metrics.StoreFailuresTotal.WithLabelValues("quota").Inc()
		e.log.Warn("quota store unavailable, failing open",
			zap.String("tenant", tenantID), zap.String("category", cat.String()), zap.Error(err))
		return QuotaDecision{Allowed: true, Status: status}
	}

	status.Used = used
	return QuotaDecision{Allowed: used+qty <= status.Limit, Status: status}
}

// Add accumulates consumed quantity into the current period total. Called
// post-hoc by the usage recorder; failures are the caller's to log.
func (e *Enforcer) Add(ctx context.Context, tenantID string, cat model.ResourceCategory, qty int64) error {
	if tenantID == "" || qty <= 0 {
		return nil
	}
	period, end := e.period(e.now())
	// keep the key a day past period end for late flushes and reconciliation
	ttl := end.Sub(e.now()) + 24*time.Hour
	_, err := e.store.AddUsage(ctx, quotaKey(tenantID, cat, period), qty, ttl)
	return err
}

// Status reports current consumption against every ceiling the tier defines.
func (e *Enforcer) Status(ctx context.Context, tenantID string, tier model.BillingTier) []model.QuotaStatus {
	period, _ := e.period(e.now())
	out := make([]model.QuotaStatus, 0, len(tier.Quotas))
	for _, cat := range []model.ResourceCategory{
		model.CategoryAPICalls,
		model.CategoryAITokens,
		model.CategoryContentGeneration,
		model.CategoryStorage,
		model.CategoryBandwidth,
	} {
		limit := tier.Quota(cat)
		if limit <= 0 {
			continue
		}
		used, err := e.store.GetUsage(ctx, quotaKey(tenantID, cat, period))
		if err != nil {
			e.log.Warn("quota status read failed", zap.String("category", cat.String()), zap.Error(err))
			continue
		}
		out = append(out, model.QuotaStatus{
			TenantID: tenantID,
			Category: cat,
			Used:     used,
			Limit:    limit,
			Period:   period,
		})
	}
	return out
}
