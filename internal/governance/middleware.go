package governance

import (
	"net/http"
	"strconv"
	"time"

	echo "github.com/labstack/echo/v4"
	"go.uber.org/zap"

	"github.com/usagegate/usagegate/internal/identity"
	"github.com/usagegate/usagegate/internal/metrics"
	"github.com/usagegate/usagegate/internal/model"
	"github.com/usagegate/usagegate/internal/repository"
	"github.com/usagegate/usagegate/internal/usage"
	"github.com/usagegate/usagegate/internal/util"
)

// Context keys set for downstream handlers.
const (
	CtxTenantID = "tenant_id"
	CtxUserID   = "user_id"
	CtxTier     = "tier"
)

// Config is the recognized-options surface, constructed once at startup and
// immutable afterwards.
type Config struct {
	EnableRateLimiting  bool
	EnableUsageTracking bool
	EnableTenantLimits  bool
	EnableGlobalLimits  bool

	TrackAPICalls          bool
	TrackAITokens          bool
	TrackContentGeneration bool
	TrackStorage           bool
	TrackBandwidth         bool

	DefaultTier string
	UpgradeURL  string
}

func (c Config) tracked(cat model.ResourceCategory) bool {
	switch cat {
	case model.CategoryAPICalls:
		return c.TrackAPICalls
	case model.CategoryAITokens:
		return c.TrackAITokens
	case model.CategoryContentGeneration:
		return c.TrackContentGeneration
	case model.CategoryStorage:
		return c.TrackStorage
	case model.CategoryBandwidth:
		return c.TrackBandwidth
	}
	return false
}

// Enqueuer is the recorder surface the orchestrator needs.
type Enqueuer interface {
	Enqueue(rec model.UsageRecord) bool
}

// rateLimitBody is the 429 response payload.
type rateLimitBody struct {
	Error             string `json:"error"`
	Message           string `json:"message"`
	RetryAfterSeconds int64  `json:"retry_after_seconds"`
	CurrentUsage      int64  `json:"current_usage"`
	Limit             int64  `json:"limit"`
	WindowReset       int64  `json:"window_reset"`
}

// quotaBody is the 402 response payload.
type quotaBody struct {
	Error       string            `json:"error"`
	Message     string            `json:"message"`
	QuotaStatus model.QuotaStatus `json:"quota_status"`
	UpgradeURL  string            `json:"upgrade_url,omitempty"`
}

// Governor sequences exclusion, identity, rate limiting and quota checks
// around the wrapped handler, then hands the completed request to the
// recorder. It is the only entry/exit point of the governance layer.
type Governor struct {
	cfg      Config
	exclude  *ExclusionFilter
	resolver *identity.Resolver
	tenants  repository.TenantsRepository // optional tier hydration
	limiter  *Limiter
	quota    *Enforcer
	recorder Enqueuer // optional
	tiers    map[string]model.BillingTier
	log      *zap.Logger
}

func NewGovernor(
	cfg Config,
	exclude *ExclusionFilter,
	resolver *identity.Resolver,
	tenants repository.TenantsRepository,
	limiter *Limiter,
	quota *Enforcer,
	recorder Enqueuer,
	tiers map[string]model.BillingTier,
	log *zap.Logger,
) *Governor {
	if log == nil {
		log = zap.NewNop()
	}
	return &Governor{
		cfg:      cfg,
		exclude:  exclude,
		resolver: resolver,
		tenants:  tenants,
		limiter:  limiter,
		quota:    quota,
		recorder: recorder,
		tiers:    tiers,
		log:      log,
	}
}

// Tier returns the named tier definition, falling back to the default tier
// and finally to an empty (unlimited) tier so governance never errors on an
// unknown plan name.
func (g *Governor) Tier(name string) model.BillingTier {
	if t, ok := g.tiers[name]; ok {
		return t
	}
	if t, ok := g.tiers[g.cfg.DefaultTier]; ok {
		return t
	}
	return model.BillingTier{Name: name}
}

// Quota exposes the enforcer for status endpoints.
func (g *Governor) Quota() *Enforcer { return g.quota }

// Resolve exposes identity resolution for handlers outside the middleware.
func (g *Governor) Resolve(r *http.Request) identity.Identity {
	return g.resolver.Resolve(r)
}

// Middleware wraps a handler with the full governance sequence. Denied
// requests never reach the handler and never produce usage records; a
// handler-side failure is still a billable event.
func (g *Governor) Middleware() echo.MiddlewareFunc {
	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			req := c.Request()
			path := req.URL.Path

			if g.exclude != nil && g.exclude.Excluded(path) {
				metrics.RequestsTotal.WithLabelValues("excluded").Inc()
				return next(c)
			}

			start := time.Now()
			ctx := req.Context()

			id := g.resolver.Resolve(req)
			if id.Tier == "" && id.TenantID != "" && g.tenants != nil {
				t, err := g.tenants.GetBySlug(ctx, id.TenantID)
				if err != nil {
					g.log.Warn("tenant lookup failed, using default tier",
						zap.String("tenant", id.TenantID), zap.Error(err))
				} else if t != nil {
					id.Tier = t.Tier
				}
			}
			if id.Tier == "" {
				id.Tier = g.cfg.DefaultTier
			}
			tier := g.Tier(id.Tier)

			c.Set(CtxTenantID, id.TenantID)
			c.Set(CtxUserID, id.UserID)
			c.Set(CtxTier, id.Tier)

			if g.cfg.EnableRateLimiting && g.limiter != nil {
				dec := g.limiter.Check(ctx, id, g.applicableRules(tier))
				if dec.Limit > 0 {
					setRateLimitHeaders(c, dec)
				}
				if !dec.Allowed {
					metrics.RequestsTotal.WithLabelValues("rate_limited").Inc()
					msg := dec.Message
					if msg == "" {
						msg = "rate limit exceeded, retry later"
					}
					c.Response().Header().Set("Retry-After",
						strconv.FormatInt(int64(dec.RetryAfter/time.Second), 10))
					return c.JSON(http.StatusTooManyRequests, rateLimitBody{
						Error:             "rate_limited",
						Message:           msg,
						RetryAfterSeconds: int64(dec.RetryAfter / time.Second),
						CurrentUsage:      dec.Current,
						Limit:             dec.Limit,
						WindowReset:       dec.WindowEnd.Unix(),
					})
				}
			}

			if g.cfg.EnableUsageTracking && g.quota != nil && id.TenantID != "" {
				qd := g.quota.Check(ctx, id.TenantID, tier, model.CategoryAPICalls, 1)
				if !qd.Allowed {
					metrics.RequestsTotal.WithLabelValues("quota_exceeded").Inc()
					return c.JSON(http.StatusPaymentRequired, quotaBody{
						Error:       "quota_exceeded",
						Message:     "api_calls quota exhausted for the current billing period",
						QuotaStatus: qd.Status,
						UpgradeURL:  g.cfg.UpgradeURL,
					})
				}
			}

			err := next(c)
			if err != nil {
				// let echo materialize the error response so the recorded
				// status matches what the caller sees
				c.Error(err)
			}
			metrics.RequestsTotal.WithLabelValues("allowed").Inc()

			if g.cfg.EnableUsageTracking && g.recorder != nil {
				g.record(c, id, start)
			}
			return nil
		}
	}
}

// applicableRules filters tier rules by the configured scope toggles.
func (g *Governor) applicableRules(tier model.BillingTier) []model.RateLimitRule {
	rules := make([]model.RateLimitRule, 0, len(tier.Rules))
	for _, r := range tier.Rules {
		switch r.Scope {
		case model.ScopeTenant, model.ScopeUser:
			if !g.cfg.EnableTenantLimits {
				continue
			}
		case model.ScopeGlobal:
			if !g.cfg.EnableGlobalLimits {
				continue
			}
		}
		rules = append(rules, r)
	}
	return rules
}

// record enqueues the api_calls record plus any side-channel metrics the
// handler reported. Fire and forget: Enqueue never blocks.
func (g *Governor) record(c echo.Context, id identity.Identity, start time.Time) {
	req := c.Request()
	now := time.Now()
	base := model.UsageRecord{
		TenantID:   id.TenantID,
		UserID:     id.UserID,
		Endpoint:   req.URL.Path,
		Method:     req.Method,
		StatusCode: c.Response().Status,
		DurationMs: now.Sub(start).Milliseconds(),
		Tier:       id.Tier,
		CreatedAt:  now,
	}

	if g.cfg.tracked(model.CategoryAPICalls) {
		rec := base
		rec.ID = util.NewULID()
		rec.Category = model.CategoryAPICalls
		rec.Quantity = 1
		rec.Unit = "call"
		g.recorder.Enqueue(rec)
	}

	for _, m := range usage.Collected(c) {
		if !g.cfg.tracked(m.Category) {
			continue
		}
		rec := base
		rec.ID = util.NewULID()
		rec.Category = m.Category
		rec.Quantity = m.Quantity
		rec.Unit = m.Unit
		g.recorder.Enqueue(rec)
	}
}

func setRateLimitHeaders(c echo.Context, dec Decision) {
	h := c.Response().Header()
	h.Set("X-RateLimit-Limit", strconv.FormatInt(dec.Limit, 10))
	h.Set("X-RateLimit-Remaining", strconv.FormatInt(dec.Remaining(), 10))
	h.Set("X-RateLimit-Reset", strconv.FormatInt(dec.WindowEnd.Unix(), 10))
}
