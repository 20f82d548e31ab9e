package core

import (
	"context"
	"time"

	"github.com/jackc/pgx/v5"
)

// AutoImportInternalCode marks clients created from an ingested document.
const AutoImportInternalCode = "AUTO-IMPORT"

// Party is a counterparty (client) keyed by (tenant, tax id).
type Party struct {
	ID           int       `json:"id"`
	TenantID     int       `json:"tenant_id"`
	TaxID        string    `json:"tax_id"`
	Name         string    `json:"name"`
	Address      string    `json:"address"`
	Phone        *string   `json:"phone,omitempty"`
	InternalCode string    `json:"internal_code"`
	AutoCreated  bool      `json:"auto_created"`
	CreatedAt    time.Time `json:"created_at"`
}

// PartyService is the counterparty registry.
type PartyService interface {
	// EnsurePartyTx creates the recipient as a client on first sight.
	// It reports whether a new record was inserted.
	EnsurePartyTx(ctx context.Context, tx pgx.Tx, tenantID int, recipient Identity, addr RecipientAddress) (bool, error)

	// FindByTaxID returns the client for (tenant, tax id) or ErrNotFound.
	FindByTaxID(ctx context.Context, q Querier, tenantID int, taxID string) (*Party, error)
}
