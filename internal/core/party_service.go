package core

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/jackc/pgx/v5"
)

type partyService struct{}

// NewPartyService constructs a PartyService backed by the clients table.
// It holds no connection; callers pass the transaction or pool to use.
func NewPartyService() PartyService {
	return &partyService{}
}

func (s *partyService) EnsurePartyTx(ctx context.Context, tx pgx.Tx, tenantID int, recipient Identity, addr RecipientAddress) (bool, error) {
	if recipient.TaxID == "" {
		return false, newValidationError("recipient tax id is required")
	}

	var exists bool
	if err := tx.QueryRow(ctx,
		"SELECT EXISTS(SELECT 1 FROM clients WHERE tenant_id = $1 AND tax_id = $2)",
		tenantID, recipient.TaxID,
	).Scan(&exists); err != nil {
		return false, fmt.Errorf("check client %s: %w", recipient.TaxID, err)
	}
	if exists {
		return false, nil
	}

	var phone *string
	if addr.Phone != "" {
		phone = &addr.Phone
	}

	// A concurrent ingestion may insert the same recipient between the check
	// and the insert; the unique key turns that into a no-op.
	tag, err := tx.Exec(ctx, `
		INSERT INTO clients (tenant_id, tax_id, name, address, phone, internal_code, auto_created)
		VALUES ($1, $2, $3, $4, $5, $6, true)
		ON CONFLICT (tenant_id, tax_id) DO NOTHING`,
		tenantID, recipient.TaxID, recipient.Name, ComposeAddress(addr), phone, AutoImportInternalCode,
	)
	if err != nil {
		return false, fmt.Errorf("create client %s: %w", recipient.TaxID, err)
	}
	return tag.RowsAffected() == 1, nil
}

func (s *partyService) FindByTaxID(ctx context.Context, q Querier, tenantID int, taxID string) (*Party, error) {
	p := &Party{}
	err := q.QueryRow(ctx, `
		SELECT id, tenant_id, tax_id, name, address, phone, internal_code, auto_created, created_at
		FROM clients
		WHERE tenant_id = $1 AND tax_id = $2`,
		tenantID, taxID,
	).Scan(&p.ID, &p.TenantID, &p.TaxID, &p.Name, &p.Address, &p.Phone, &p.InternalCode, &p.AutoCreated, &p.CreatedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, fmt.Errorf("client %s: %w", taxID, ErrNotFound)
		}
		return nil, fmt.Errorf("find client %s: %w", taxID, err)
	}
	return p, nil
}

// ComposeAddress renders "street, number - district, city - state",
// dropping the parts the document did not carry.
func ComposeAddress(a RecipientAddress) string {
	join := func(sep string, parts ...string) string {
		out := make([]string, 0, len(parts))
		for _, p := range parts {
			if p != "" {
				out = append(out, p)
			}
		}
		return strings.Join(out, sep)
	}
	return join(" - ",
		join(", ", a.Street, a.Number),
		join(", ", a.District, a.City),
		a.State,
	)
}
