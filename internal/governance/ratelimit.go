package governance

import (
	"context"
	"fmt"
	"sort"
	"time"

	"go.uber.org/zap"

	"github.com/usagegate/usagegate/internal/identity"
	"github.com/usagegate/usagegate/internal/metrics"
	"github.com/usagegate/usagegate/internal/model"
	"github.com/usagegate/usagegate/internal/store"
)

// Decision is the structured result of a rate-limit check.
type Decision struct {
	Allowed    bool
	RuleID     string
	Scope      model.RateLimitScope
	Limit      int64
	Current    int64
	WindowEnd  time.Time
	RetryAfter time.Duration
	Message    string
}

// Remaining reports how many requests are left in the current window.
func (d Decision) Remaining() int64 {
	if r := d.Limit - d.Current; r > 0 {
		return r
	}
	return 0
}

// Limiter evaluates fixed-window rules against an external atomic counter
// store. It holds no mutable state of its own.
type Limiter struct {
	store store.CounterStore
	log   *zap.Logger

	// now is overridable in tests.
	now func() time.Time
}

func NewLimiter(s store.CounterStore, log *zap.Logger) *Limiter {
	if log == nil {
		log = zap.NewNop()
	}
	return &Limiter{store: s, log: log, now: time.Now}
}

// scope evaluation order is fixed so the first failing rule is deterministic.
var scopeOrder = map[model.RateLimitScope]int{
	model.ScopeTenant: 0,
	model.ScopeUser:   1,
	model.ScopeGlobal: 2,
}

// Check atomically increments the window counter for every applicable rule
// and compares against its ceiling. All rules must pass; the first failing
// rule's metadata is returned. Tenant/user rules are skipped when the
// corresponding subject is unresolved. A store failure fails open: the rule
// is treated as passed and the failure is logged.
func (l *Limiter) Check(ctx context.Context, id identity.Identity, rules []model.RateLimitRule) Decision {
	ordered := make([]model.RateLimitRule, len(rules))
	copy(ordered, rules)
	sort.SliceStable(ordered, func(i, j int) bool {
		if ordered[i].Scope != ordered[j].Scope {
			return scopeOrder[ordered[i].Scope] < scopeOrder[ordered[j].Scope]
		}
		return ordered[i].ID < ordered[j].ID
	})

	now := l.now()
	primary := Decision{Allowed: true}

	for _, rule := range ordered {
		subject := ""
		switch rule.Scope {
		case model.ScopeTenant:
			subject = id.TenantID
		case model.ScopeUser:
			subject = id.UserID
		case model.ScopeGlobal:
			subject = "all"
		}
		if subject == "" || rule.Max <= 0 || rule.Window <= 0 {
			continue
		}

		windowIdx := now.UnixNano() / int64(rule.Window)
		key := fmt.Sprintf("rl:%s:%s:%s:%d", rule.Scope, subject, rule.ID, windowIdx)

		// expiry is 2x the window so a counter never outlives its window
		// but survives clock skew at the boundary
		cnt, err := l.store.IncrWindow(ctx, key, 2*rule.Window)
		if err != nil {
			metrics.StoreFailuresTotal.WithLabelValues("ratelimit").Inc()
			l.log.Warn("rate limit store unavailable, failing open",
				zap.String("rule", rule.ID), zap.Error(err))
			continue
		}

		windowEnd := time.Unix(0, (windowIdx+1)*int64(rule.Window))
		d := Decision{
			Allowed:   cnt <= rule.Max,
			RuleID:    rule.ID,
			Scope:     rule.Scope,
			Limit:     rule.Max,
			Current:   cnt,
			WindowEnd: windowEnd,
			Message:   rule.Message,
		}
		if !d.Allowed {
			d.RetryAfter = windowEnd.Sub(now)
			if d.RetryAfter < time.Second {
				d.RetryAfter = time.Second
			}
			return d
		}
		if primary.RuleID == "" {
			primary = d
		}
	}

	return primary
}
