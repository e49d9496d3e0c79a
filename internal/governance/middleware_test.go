package governance

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strconv"
	"sync"
	"testing"
	"time"

	echo "github.com/labstack/echo/v4"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/usagegate/usagegate/internal/identity"
	"github.com/usagegate/usagegate/internal/model"
	"github.com/usagegate/usagegate/internal/store"
	"github.com/usagegate/usagegate/internal/usage"
)

type captureRecorder struct {
	mu   sync.Mutex
	recs []model.UsageRecord
}

func (c *captureRecorder) Enqueue(rec model.UsageRecord) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.recs = append(c.recs, rec)
	return true
}

func (c *captureRecorder) records() []model.UsageRecord {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := make([]model.UsageRecord, len(c.recs))
	copy(out, c.recs)
	return out
}

type testEnv struct {
	e        *echo.Echo
	governor *Governor
	enforcer *Enforcer
	captured *captureRecorder
	handled  *int
}

func defaultTestConfig() Config {
	return Config{
		EnableRateLimiting:     true,
		EnableUsageTracking:    true,
		EnableTenantLimits:     true,
		EnableGlobalLimits:     true,
		TrackAPICalls:          true,
		TrackAITokens:          true,
		TrackContentGeneration: true,
		TrackStorage:           true,
		TrackBandwidth:         true,
		DefaultTier:            "free",
		UpgradeURL:             "/billing/upgrade",
	}
}

func newTestEnv(t *testing.T, cfg Config, tiers map[string]model.BillingTier) *testEnv {
	t.Helper()
	ms := store.NewMemoryStore()
	exclude, err := NewExclusionFilter([]string{`^/health.*`})
	require.NoError(t, err)

	captured := &captureRecorder{}
	enforcer := NewEnforcer(ms, nil, nil)
	handled := 0
	g := NewGovernor(
		cfg,
		exclude,
		identity.NewResolver(""),
		nil,
		NewLimiter(ms, nil),
		enforcer,
		captured,
		tiers,
		nil,
	)
	return &testEnv{
		e:        echo.New(),
		governor: g,
		enforcer: enforcer,
		captured: captured,
		handled:  &handled,
	}
}

func (env *testEnv) do(req *http.Request, handler echo.HandlerFunc) *httptest.ResponseRecorder {
	if handler == nil {
		handler = func(c echo.Context) error {
			*env.handled++
			return c.JSON(http.StatusOK, map[string]string{"ok": "true"})
		}
	}
	rec := httptest.NewRecorder()
	c := env.e.NewContext(req, rec)
	_ = env.governor.Middleware()(handler)(c)
	return rec
}

func freeTier(max int64) map[string]model.BillingTier {
	return map[string]model.BillingTier{
		"free": {
			Name: "free",
			Rules: []model.RateLimitRule{
				{ID: "tenant-rpm", Scope: model.ScopeTenant, Window: time.Minute, Max: max},
			},
			Quotas: map[model.ResourceCategory]int64{
				model.CategoryAPICalls: 100,
			},
		},
	}
}

func tenantReq(tenant, path string) *http.Request {
	req := httptest.NewRequest("GET", "http://example.com"+path, nil)
	if tenant != "" {
		req.Header.Set(identity.TenantHeader, tenant)
	}
	return req
}

func TestMiddlewareRateLimitHeadersCountDown(t *testing.T) {
	env := newTestEnv(t, defaultTestConfig(), freeTier(5))

	for i := 0; i < 5; i++ {
		rec := env.do(tenantReq("T1", "/v1/thing"), nil)
		require.Equal(t, http.StatusOK, rec.Code, "request %d", i+1)
		assert.Equal(t, "5", rec.Header().Get("X-RateLimit-Limit"))
		assert.Equal(t, strconv.Itoa(4-i), rec.Header().Get("X-RateLimit-Remaining"))
		assert.NotEmpty(t, rec.Header().Get("X-RateLimit-Reset"))
	}
	assert.Equal(t, 5, *env.handled)

	rec := env.do(tenantReq("T1", "/v1/thing"), nil)
	require.Equal(t, http.StatusTooManyRequests, rec.Code)
	assert.Equal(t, 5, *env.handled, "denied request must not reach the handler")
	assert.NotEmpty(t, rec.Header().Get("Retry-After"))

	var body struct {
		Error             string `json:"error"`
		RetryAfterSeconds int64  `json:"retry_after_seconds"`
		CurrentUsage      int64  `json:"current_usage"`
		Limit             int64  `json:"limit"`
		WindowReset       int64  `json:"window_reset"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	assert.Equal(t, "rate_limited", body.Error)
	assert.Greater(t, body.RetryAfterSeconds, int64(0))
	assert.Equal(t, int64(6), body.CurrentUsage)
	assert.Equal(t, int64(5), body.Limit)
	assert.Greater(t, body.WindowReset, int64(0))
}

func TestMiddlewareDeniedRequestProducesNoRecord(t *testing.T) {
	env := newTestEnv(t, defaultTestConfig(), freeTier(1))

	env.do(tenantReq("T1", "/v1/thing"), nil)
	env.do(tenantReq("T1", "/v1/thing"), nil) // denied

	recs := env.captured.records()
	require.Len(t, recs, 1)
	assert.Equal(t, model.CategoryAPICalls, recs[0].Category)
}

func TestMiddlewareQuotaExceededReturns402(t *testing.T) {
	env := newTestEnv(t, defaultTestConfig(), freeTier(1000))

	require.NoError(t, env.enforcer.Add(context.Background(), "T2", model.CategoryAPICalls, 100))

	rec := env.do(tenantReq("T2", "/v1/thing"), nil)
	require.Equal(t, http.StatusPaymentRequired, rec.Code)
	assert.Zero(t, *env.handled)
	assert.Empty(t, env.captured.records())

	var body struct {
		Error       string            `json:"error"`
		QuotaStatus model.QuotaStatus `json:"quota_status"`
		UpgradeURL  string            `json:"upgrade_url"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	assert.Equal(t, "quota_exceeded", body.Error)
	assert.Equal(t, int64(100), body.QuotaStatus.Used)
	assert.Equal(t, int64(100), body.QuotaStatus.Limit)
	assert.Equal(t, "/billing/upgrade", body.UpgradeURL)
}

func TestMiddlewareExclusionBypassesEverything(t *testing.T) {
	env := newTestEnv(t, defaultTestConfig(), freeTier(1))

	for i := 0; i < 3; i++ {
		rec := env.do(tenantReq("T1", "/healthz"), nil)
		require.Equal(t, http.StatusOK, rec.Code)
		assert.Empty(t, rec.Header().Get("X-RateLimit-Limit"))
	}
	assert.Equal(t, 3, *env.handled, "handler still runs for excluded paths")
	assert.Empty(t, env.captured.records(), "excluded paths produce no usage records")
}

func TestMiddlewareRecordsHandlerFailure(t *testing.T) {
	env := newTestEnv(t, defaultTestConfig(), freeTier(2))

	rec := env.do(tenantReq("T1", "/v1/boom"), func(c echo.Context) error {
		return errors.New("downstream exploded")
	})
	require.Equal(t, http.StatusInternalServerError, rec.Code)

	recs := env.captured.records()
	require.Len(t, recs, 1, "handler failure is still a billable event")
	assert.Equal(t, http.StatusInternalServerError, recs[0].StatusCode)

	// the failed request kept its rate-limit slot
	env.do(tenantReq("T1", "/v1/thing"), nil)
	denied := env.do(tenantReq("T1", "/v1/thing"), nil)
	assert.Equal(t, http.StatusTooManyRequests, denied.Code)
}

func TestMiddlewareUsageRecordFields(t *testing.T) {
	env := newTestEnv(t, defaultTestConfig(), freeTier(10))

	req := tenantReq("T1", "/v1/items")
	req.Header.Set(identity.UserHeader, "u9")
	env.do(req, nil)

	recs := env.captured.records()
	require.Len(t, recs, 1)
	r := recs[0]
	assert.NotEmpty(t, r.ID)
	assert.Equal(t, "T1", r.TenantID)
	assert.Equal(t, "u9", r.UserID)
	assert.Equal(t, model.CategoryAPICalls, r.Category)
	assert.Equal(t, int64(1), r.Quantity)
	assert.Equal(t, "call", r.Unit)
	assert.Equal(t, "/v1/items", r.Endpoint)
	assert.Equal(t, "GET", r.Method)
	assert.Equal(t, http.StatusOK, r.StatusCode)
	assert.GreaterOrEqual(t, r.DurationMs, int64(0))
	assert.Equal(t, "free", r.Tier)
	assert.False(t, r.CreatedAt.IsZero())
}

func TestMiddlewareSideChannelMetrics(t *testing.T) {
	env := newTestEnv(t, defaultTestConfig(), freeTier(10))

	env.do(tenantReq("T1", "/v1/completions"), func(c echo.Context) error {
		usage.Add(c, model.CategoryAITokens, 128, "token")
		return c.JSON(http.StatusOK, map[string]string{"done": "yes"})
	})

	recs := env.captured.records()
	require.Len(t, recs, 2)
	byCat := map[model.ResourceCategory]model.UsageRecord{}
	for _, r := range recs {
		byCat[r.Category] = r
	}
	assert.Equal(t, int64(1), byCat[model.CategoryAPICalls].Quantity)
	assert.Equal(t, int64(128), byCat[model.CategoryAITokens].Quantity)
	assert.Equal(t, "token", byCat[model.CategoryAITokens].Unit)
}

func TestMiddlewareCategoryTogglesFilterRecords(t *testing.T) {
	cfg := defaultTestConfig()
	cfg.TrackAITokens = false
	env := newTestEnv(t, cfg, freeTier(10))

	env.do(tenantReq("T1", "/v1/completions"), func(c echo.Context) error {
		usage.Add(c, model.CategoryAITokens, 128, "token")
		return c.JSON(http.StatusOK, map[string]string{"done": "yes"})
	})

	recs := env.captured.records()
	require.Len(t, recs, 1)
	assert.Equal(t, model.CategoryAPICalls, recs[0].Category)
}

func TestMiddlewareNoTenantSkipsTenantGovernance(t *testing.T) {
	env := newTestEnv(t, defaultTestConfig(), freeTier(1))

	// three anonymous requests against a tenant limit of 1: all pass because
	// tenant rules cannot apply without a tenant
	for i := 0; i < 3; i++ {
		rec := env.do(tenantReq("", "/v1/thing"), nil)
		require.Equal(t, http.StatusOK, rec.Code)
	}

	recs := env.captured.records()
	require.Len(t, recs, 3, "anonymous traffic is still metered")
	assert.Empty(t, recs[0].TenantID)
}

func TestMiddlewareDisabledRateLimiting(t *testing.T) {
	cfg := defaultTestConfig()
	cfg.EnableRateLimiting = false
	env := newTestEnv(t, cfg, freeTier(1))

	for i := 0; i < 5; i++ {
		rec := env.do(tenantReq("T1", "/v1/thing"), nil)
		require.Equal(t, http.StatusOK, rec.Code)
		assert.Empty(t, rec.Header().Get("X-RateLimit-Limit"))
	}
}

func TestMiddlewareUnknownTierFallsBackToDefault(t *testing.T) {
	env := newTestEnv(t, defaultTestConfig(), freeTier(2))

	req := tenantReq("T1", "/v1/thing")
	req.Header.Set("X-Tenant-ID", "T1")
	req.URL.RawQuery = "tier=enterprise" // not an identity signal, ignored

	rec := env.do(req, nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "2", rec.Header().Get("X-RateLimit-Limit"))
}
