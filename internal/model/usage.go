package model

import (
	"strings"
	"time"
)

// ResourceCategory identifies a metered resource class.
type ResourceCategory string

const (
	CategoryAPICalls          ResourceCategory = "api_calls"
	CategoryAITokens          ResourceCategory = "ai_tokens"
	CategoryContentGeneration ResourceCategory = "content_generation"
	CategoryStorage           ResourceCategory = "storage"
	CategoryBandwidth         ResourceCategory = "bandwidth"
)

func (c ResourceCategory) String() string { return string(c) }

func (c ResourceCategory) Valid() bool {
	switch c {
	case CategoryAPICalls, CategoryAITokens, CategoryContentGeneration, CategoryStorage, CategoryBandwidth:
		return true
	}
	return false
}

// ParseResourceCategory normalizes input. Returns (value, true) if valid.
func ParseResourceCategory(s string) (ResourceCategory, bool) {
	c := ResourceCategory(strings.ToLower(strings.TrimSpace(s)))
	return c, c.Valid()
}

// UsageRecord is one append-only consumption entry, persisted in ClickHouse
// for later billing reconciliation. Never mutated after creation.
type UsageRecord struct {
	ID         string           `db:"id" json:"id"` // ULID
	TenantID   string           `db:"tenant_id" json:"tenant_id"`
	UserID     string           `db:"user_id" json:"user_id,omitempty"`
	Category   ResourceCategory `db:"category" json:"category"`
	Quantity   int64            `db:"quantity" json:"quantity"`
	Unit       string           `db:"unit" json:"unit"` // "call", "token", "byte", "item"
	Endpoint   string           `db:"endpoint" json:"endpoint"`
	Method     string           `db:"method" json:"method"`
	StatusCode int              `db:"status_code" json:"status_code"`
	DurationMs int64            `db:"duration_ms" json:"duration_ms"`
	Tier       string           `db:"tier" json:"tier"`
	CreatedAt  time.Time        `db:"created_at" json:"created_at"`
}

// QuotaStatus reports per-category consumption for the current billing period.
type QuotaStatus struct {
	TenantID string           `json:"tenant_id"`
	Category ResourceCategory `json:"category"`
	Used     int64            `json:"used"`
	Limit    int64            `json:"limit"` // 0 = unlimited
	Period   string           `json:"period"`
}
