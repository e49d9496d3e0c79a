package governance

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/usagegate/usagegate/internal/model"
	"github.com/usagegate/usagegate/internal/store"
)

func testTier() model.BillingTier {
	return model.BillingTier{
		Name: "free",
		Quotas: map[model.ResourceCategory]int64{
			model.CategoryAPICalls: 100,
			model.CategoryAITokens: 1000,
		},
	}
}

func TestEnforcerAllowsUnderCeiling(t *testing.T) {
	e := NewEnforcer(store.NewMemoryStore(), nil, nil)

	qd := e.Check(context.Background(), "t1", testTier(), model.CategoryAPICalls, 1)
	require.True(t, qd.Allowed)
	assert.Equal(t, int64(0), qd.Status.Used)
	assert.Equal(t, int64(100), qd.Status.Limit)
}

func TestEnforcerDeniesAtCeiling(t *testing.T) {
	e := NewEnforcer(store.NewMemoryStore(), nil, nil)

	require.NoError(t, e.Add(context.Background(), "t2", model.CategoryAPICalls, 100))

	qd := e.Check(context.Background(), "t2", testTier(), model.CategoryAPICalls, 1)
	require.False(t, qd.Allowed)
	assert.Equal(t, int64(100), qd.Status.Used)
	assert.Equal(t, int64(100), qd.Status.Limit)
	assert.Equal(t, "t2", qd.Status.TenantID)
}

func TestEnforcerExactFitAllowed(t *testing.T) {
	e := NewEnforcer(store.NewMemoryStore(), nil, nil)

	require.NoError(t, e.Add(context.Background(), "t1", model.CategoryAPICalls, 99))

	// 99 used + 1 requested fits a ceiling of 100
	assert.True(t, e.Check(context.Background(), "t1", testTier(), model.CategoryAPICalls, 1).Allowed)
}

func TestEnforcerUnlimitedCategory(t *testing.T) {
	e := NewEnforcer(store.NewMemoryStore(), nil, nil)

	// storage has no ceiling in this tier
	require.NoError(t, e.Add(context.Background(), "t1", model.CategoryStorage, 1<<40))
	assert.True(t, e.Check(context.Background(), "t1", testTier(), model.CategoryStorage, 1).Allowed)
}

type failingQuotaStore struct{}

func (failingQuotaStore) GetUsage(ctx context.Context, key string) (int64, error) {
	return 0, errors.New("store unreachable")
}

func (failingQuotaStore) AddUsage(ctx context.Context, key string, qty int64, ttl time.Duration) (int64, error) {
	return 0, errors.New("store unreachable")
}

func TestEnforcerFailsOpenOnStoreError(t *testing.T) {
	e := NewEnforcer(failingQuotaStore{}, nil, nil)

	assert.True(t, e.Check(context.Background(), "t1", testTier(), model.CategoryAPICalls, 1).Allowed)
}

func TestEnforcerPeriodIsolation(t *testing.T) {
	ms := store.NewMemoryStore()
	e := NewEnforcer(ms, nil, nil)

	now := time.Date(2026, 8, 30, 12, 0, 0, 0, time.UTC)
	e.now = func() time.Time { return now }

	require.NoError(t, e.Add(context.Background(), "t1", model.CategoryAPICalls, 100))
	require.False(t, e.Check(context.Background(), "t1", testTier(), model.CategoryAPICalls, 1).Allowed)

	// new billing period, fresh total
	now = now.AddDate(0, 1, 0)
	qd := e.Check(context.Background(), "t1", testTier(), model.CategoryAPICalls, 1)
	require.True(t, qd.Allowed)
	assert.Equal(t, int64(0), qd.Status.Used)
}

func TestEnforcerStatus(t *testing.T) {
	e := NewEnforcer(store.NewMemoryStore(), nil, nil)

	require.NoError(t, e.Add(context.Background(), "t1", model.CategoryAPICalls, 7))
	require.NoError(t, e.Add(context.Background(), "t1", model.CategoryAITokens, 42))

	statuses := e.Status(context.Background(), "t1", testTier())
	require.Len(t, statuses, 2)
	byCat := map[model.ResourceCategory]model.QuotaStatus{}
	for _, s := range statuses {
		byCat[s.Category] = s
	}
	assert.Equal(t, int64(7), byCat[model.CategoryAPICalls].Used)
	assert.Equal(t, int64(42), byCat[model.CategoryAITokens].Used)
}

func TestMonthlyPeriod(t *testing.T) {
	label, end := MonthlyPeriod(time.Date(2026, 8, 30, 23, 59, 0, 0, time.UTC))
	assert.Equal(t, "2026-08", label)
	assert.Equal(t, time.Date(2026, 9, 1, 0, 0, 0, 0, time.UTC), end)
}
