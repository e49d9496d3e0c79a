package model

import "time"

type TenantStatus string

const (
	TenantActive    TenantStatus = "active"
	TenantSuspended TenantStatus = "suspended"
)

// Tenant is the DB entity persisted in the tenants table.
type Tenant struct {
	ID        int64        `db:"id"`
	Slug      string       `db:"slug"` // external tenant identifier (subdomain, header value)
	Name      string       `db:"name"`
	Status    TenantStatus `db:"status"` // active|suspended
	Tier      string       `db:"tier"`   // billing tier name, e.g. "free"
	CreatedAt time.Time    `db:"created_at"`
	UpdatedAt time.Time    `db:"updated_at"`
}
