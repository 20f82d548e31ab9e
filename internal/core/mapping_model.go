package core

import (
	"context"
	"time"
)

// MappingClass distinguishes supplier-specific mappings from SKU-only ones.
type MappingClass string

const (
	MappingSpecific MappingClass = "specific" // SKU + supplier tax id
	MappingGeneric  MappingClass = "generic"  // SKU only
)

// ProductMapping links a supplier SKU to an internal product.
// SupplierTaxID is nil for generic mappings.
type ProductMapping struct {
	ID            int       `json:"id"`
	TenantID      int       `json:"tenant_id"`
	SupplierSKU   string    `json:"supplier_sku"`
	SupplierTaxID *string   `json:"supplier_tax_id,omitempty"`
	ProductID     int       `json:"product_id"`
	CreatedAt     time.Time `json:"created_at"`
	UpdatedAt     time.Time `json:"updated_at"`
}

// Class reports which lookup tier the mapping belongs to.
func (m *ProductMapping) Class() MappingClass {
	if m.SupplierTaxID == nil {
		return MappingGeneric
	}
	return MappingSpecific
}

// MappingKey identifies the line being resolved.
type MappingKey struct {
	TenantID      int
	SupplierSKU   string
	SupplierTaxID string
}

// MappingStrategy is one tier of the mapping resolution chain.
// Lookup returns (nil, nil) when the tier has no answer.
type MappingStrategy interface {
	Class() MappingClass
	Lookup(ctx context.Context, q Querier, key MappingKey) (*ProductMapping, error)
}

// MappingSuggestion is an advisory product match for an unmapped line.
// It is never applied automatically.
type MappingSuggestion struct {
	ProductID  int     `json:"product_id" jsonschema_description:"The id of the catalog product that best matches the supplier line. Must be one of the listed ids, or 0 if none match."`
	Confidence float64 `json:"confidence" jsonschema_description:"Confidence score between 0.0 and 1.0"`
	Reasoning  string  `json:"reasoning" jsonschema_description:"Short explanation of why this product matches the supplier description"`
}
