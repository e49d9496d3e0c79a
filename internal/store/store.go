// Package store defines the external counter/quota primitives the governance
// layer delegates atomicity to. All mutable state lives behind these
// interfaces; the in-process code is a pure client.
package store

import (
	"context"
	"time"
)

// CounterStore provides atomic increment-with-expiry for rate-limit windows.
type CounterStore interface {
	// IncrWindow atomically increments the counter at key, ensuring it
	// expires after ttl, and returns the updated count. The increment and
	// the read must be a single atomic operation.
	IncrWindow(ctx context.Context, key string, ttl time.Duration) (int64, error)
}

// QuotaStore provides read/accumulate operations for per-period usage totals.
type QuotaStore interface {
	// GetUsage returns the accumulated total at key, 0 when absent.
	GetUsage(ctx context.Context, key string) (int64, error)
	// AddUsage atomically adds qty to key with the given expiry and returns
	// the new total.
	AddUsage(ctx context.Context, key string, qty int64, ttl time.Duration) (int64, error)
}
