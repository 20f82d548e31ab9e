package core

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
)

// MappingResolver walks its strategies in order and returns the first hit.
// The default chain is specific (SKU + supplier) then generic (SKU only).
type MappingResolver struct {
	strategies []MappingStrategy
}

// NewMappingResolver builds a resolver. With no strategies it uses the default chain.
func NewMappingResolver(strategies ...MappingStrategy) *MappingResolver {
	if len(strategies) == 0 {
		strategies = []MappingStrategy{specificMappingStrategy{}, genericMappingStrategy{}}
	}
	return &MappingResolver{strategies: strategies}
}

// Resolve returns the winning mapping, or nil when no tier matches.
func (r *MappingResolver) Resolve(ctx context.Context, q Querier, key MappingKey) (*ProductMapping, error) {
	for _, s := range r.strategies {
		m, err := s.Lookup(ctx, q, key)
		if err != nil {
			return nil, fmt.Errorf("%s mapping lookup for sku %q: %w", s.Class(), key.SupplierSKU, err)
		}
		if m != nil {
			return m, nil
		}
	}
	return nil, nil
}

// InitialStatus is the status a new queue entry gets for key.
func (r *MappingResolver) InitialStatus(ctx context.Context, q Querier, key MappingKey) (QueueStatus, error) {
	m, err := r.Resolve(ctx, q, key)
	if err != nil {
		return "", err
	}
	if m == nil {
		return StatusMappingRequired, nil
	}
	return StatusReady, nil
}

// UpsertSpecificMapping points (SKU, supplier) at productID, creating the
// mapping or overwriting its target. Last writer wins.
func UpsertSpecificMapping(ctx context.Context, q Querier, key MappingKey, productID int) (*ProductMapping, error) {
	if key.SupplierSKU == "" || key.SupplierTaxID == "" {
		return nil, newValidationError("specific mapping requires supplier sku and supplier tax id")
	}
	m := &ProductMapping{}
	err := q.QueryRow(ctx, `
		INSERT INTO product_mappings (tenant_id, supplier_sku, supplier_tax_id, product_id)
		VALUES ($1, $2, $3, $4)
		ON CONFLICT (tenant_id, supplier_sku, supplier_tax_id) WHERE supplier_tax_id IS NOT NULL
		DO UPDATE SET product_id = EXCLUDED.product_id, updated_at = NOW()
		RETURNING id, tenant_id, supplier_sku, supplier_tax_id, product_id, created_at, updated_at`,
		key.TenantID, key.SupplierSKU, key.SupplierTaxID, productID,
	).Scan(&m.ID, &m.TenantID, &m.SupplierSKU, &m.SupplierTaxID, &m.ProductID, &m.CreatedAt, &m.UpdatedAt)
	if err != nil {
		return nil, fmt.Errorf("upsert mapping for sku %q: %w", key.SupplierSKU, err)
	}
	return m, nil
}

type specificMappingStrategy struct{}

func (specificMappingStrategy) Class() MappingClass { return MappingSpecific }

func (specificMappingStrategy) Lookup(ctx context.Context, q Querier, key MappingKey) (*ProductMapping, error) {
	if key.SupplierTaxID == "" {
		return nil, nil
	}
	return scanMapping(q.QueryRow(ctx, `
		SELECT id, tenant_id, supplier_sku, supplier_tax_id, product_id, created_at, updated_at
		FROM product_mappings
		WHERE tenant_id = $1 AND supplier_sku = $2 AND supplier_tax_id = $3`,
		key.TenantID, key.SupplierSKU, key.SupplierTaxID,
	))
}

type genericMappingStrategy struct{}

func (genericMappingStrategy) Class() MappingClass { return MappingGeneric }

func (genericMappingStrategy) Lookup(ctx context.Context, q Querier, key MappingKey) (*ProductMapping, error) {
	return scanMapping(q.QueryRow(ctx, `
		SELECT id, tenant_id, supplier_sku, supplier_tax_id, product_id, created_at, updated_at
		FROM product_mappings
		WHERE tenant_id = $1 AND supplier_sku = $2 AND supplier_tax_id IS NULL`,
		key.TenantID, key.SupplierSKU,
	))
}

func scanMapping(row pgx.Row) (*ProductMapping, error) {
	m := &ProductMapping{}
	err := row.Scan(&m.ID, &m.TenantID, &m.SupplierSKU, &m.SupplierTaxID, &m.ProductID, &m.CreatedAt, &m.UpdatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return m, nil
}
