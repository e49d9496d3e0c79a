package model

import (
	"strings"
	"time"
)

// RateLimitScope selects which subject a rule counts against.
type RateLimitScope string

const (
	ScopeTenant RateLimitScope = "tenant"
	ScopeUser   RateLimitScope = "user"
	ScopeGlobal RateLimitScope = "global"
)

func (s RateLimitScope) String() string { return string(s) }

func (s RateLimitScope) Valid() bool {
	return s == ScopeTenant || s == ScopeUser || s == ScopeGlobal
}

// ParseRateLimitScope normalizes input; empty => tenant.
func ParseRateLimitScope(s string) (RateLimitScope, bool) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "", "tenant":
		return ScopeTenant, true
	case "user":
		return ScopeUser, true
	case "global":
		return ScopeGlobal, true
	default:
		return ScopeTenant, false
	}
}

// RateLimitRule is one fixed-window ceiling. Rules are configuration,
// immutable at runtime; several rules may apply to a single request and all
// of them must pass.
type RateLimitRule struct {
	ID      string
	Scope   RateLimitScope
	Window  time.Duration
	Max     int64
	Message string // optional custom denial message
}

// BillingTier maps a plan name to its rate-limit rules and quota ceilings.
type BillingTier struct {
	Name   string
	Rules  []RateLimitRule
	Quotas map[ResourceCategory]int64 // 0 or absent = unlimited
}

// Quota returns the ceiling for a category, 0 meaning unlimited.
func (t BillingTier) Quota(c ResourceCategory) int64 {
	if t.Quotas == nil {
		return 0
	}
	return t.Quotas[c]
}
