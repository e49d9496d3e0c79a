package repository

import (
	"context"
	"database/sql"
	"errors"

	"github.com/jmoiron/sqlx"

	"github.com/usagegate/usagegate/internal/model"
)

type TenantsRepository interface {
	GetBySlug(ctx context.Context, slug string) (*model.Tenant, error)
}

type TenantsRepositoryImpl struct {
	db *sqlx.DB
}

func NewTenantsRepository(db *sqlx.DB) *TenantsRepositoryImpl {
	return &TenantsRepositoryImpl{db: db}
}

var _ TenantsRepository = (*TenantsRepositoryImpl)(nil)

// GetBySlug returns nil, nil when the tenant is unknown.
func (r *TenantsRepositoryImpl) GetBySlug(ctx context.Context, slug string) (*model.Tenant, error) {
	var t model.Tenant
	err := r.db.GetContext(ctx, &t, `
		SELECT id, slug, name, status, tier, created_at, updated_at
		  FROM tenants
		 WHERE slug = ? LIMIT 1
	`, slug)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &t, nil
}
