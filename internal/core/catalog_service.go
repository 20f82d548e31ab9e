package core

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

// Product is an entry of the tenant's internal catalog.
type Product struct {
	ID        int       `json:"id"`
	TenantID  int       `json:"tenant_id"`
	Code      string    `json:"code"`
	Name      string    `json:"name"`
	Unit      string    `json:"unit"`
	IsActive  bool      `json:"is_active"`
	CreatedAt time.Time `json:"created_at"`
}

// CatalogService is read-only access to the product master data.
type CatalogService interface {
	ListProducts(ctx context.Context, tenantID int) ([]Product, error)
	// GetProduct returns an active product of the tenant, or ErrNotFound.
	GetProduct(ctx context.Context, q Querier, tenantID, productID int) (*Product, error)
}

type catalogService struct {
	pool *pgxpool.Pool
}

func NewCatalogService(pool *pgxpool.Pool) CatalogService {
	return &catalogService{pool: pool}
}

func (s *catalogService) ListProducts(ctx context.Context, tenantID int) ([]Product, error) {
	rows, err := s.pool.Query(ctx, `
		SELECT id, tenant_id, code, name, unit, is_active, created_at
		FROM products
		WHERE tenant_id = $1 AND is_active = true
		ORDER BY code
	`, tenantID)
	if err != nil {
		return nil, fmt.Errorf("failed to query products: %w", err)
	}
	defer rows.Close()

	var products []Product
	for rows.Next() {
		var p Product
		if err := rows.Scan(&p.ID, &p.TenantID, &p.Code, &p.Name, &p.Unit, &p.IsActive, &p.CreatedAt); err != nil {
			return nil, fmt.Errorf("failed to scan product: %w", err)
		}
		products = append(products, p)
	}
	return products, rows.Err()
}

func (s *catalogService) GetProduct(ctx context.Context, q Querier, tenantID, productID int) (*Product, error) {
	if q == nil {
		q = s.pool
	}
	var p Product
	err := q.QueryRow(ctx, `
		SELECT id, tenant_id, code, name, unit, is_active, created_at
		FROM products
		WHERE tenant_id = $1 AND id = $2 AND is_active = true
	`, tenantID, productID).Scan(&p.ID, &p.TenantID, &p.Code, &p.Name, &p.Unit, &p.IsActive, &p.CreatedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, fmt.Errorf("product %d: %w", productID, ErrNotFound)
		}
		return nil, fmt.Errorf("failed to fetch product %d: %w", productID, err)
	}
	return &p, nil
}
