package core

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
)

// Balances are never stored. Every read sums issued_certificates for the lot,
// so a caller that must not oversell locks the lot rows first (lockProductLots)
// and only then runs the balance query in a fresh statement.

const lotBalanceSelect = `
	SELECT ec.id, ec.tenant_id, ec.product_id, ec.received_quantity, ec.measure_unit,
	       ec.expiration_date, ec.manufacturing_date, ec.internal_lot, ec.supplier_lot,
	       ec.status, ec.created_at,
	       COALESCE((SELECT SUM(ic.sold_quantity) FROM issued_certificates ic
	                 WHERE ic.entry_certificate_id = ec.id), 0)
	FROM entry_certificates ec`

func scanLotBalance(row pgx.Row) (LotBalance, error) {
	var lb LotBalance
	l := &lb.Lot
	if err := row.Scan(&l.ID, &l.TenantID, &l.ProductID, &l.ReceivedQuantity, &l.MeasureUnit,
		&l.ExpirationDate, &l.ManufacturingDate, &l.InternalLot, &l.SupplierLot,
		&l.Status, &l.CreatedAt, &lb.Issued); err != nil {
		return LotBalance{}, err
	}
	lb.Balance = l.ReceivedQuantity.Sub(lb.Issued)
	return lb, nil
}

// productLotBalances returns every lot of the product with its current
// balance, FEFO ordered. Lots with no balance left are included.
func productLotBalances(ctx context.Context, q Querier, tenantID, productID int) ([]LotBalance, error) {
	rows, err := q.Query(ctx, lotBalanceSelect+`
		WHERE ec.tenant_id = $1 AND ec.product_id = $2`,
		tenantID, productID,
	)
	if err != nil {
		return nil, fmt.Errorf("failed to query lots for product %d: %w", productID, err)
	}
	defer rows.Close()

	var lots []LotBalance
	for rows.Next() {
		lb, err := scanLotBalance(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan lot: %w", err)
		}
		lots = append(lots, lb)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to read lots: %w", err)
	}
	SortFEFO(lots)
	return lots, nil
}

// lockProductLots takes row locks on every lot of the product in id order.
// Concurrent allocators for the same product queue here instead of each
// reading a balance the other is about to spend.
func lockProductLots(ctx context.Context, tx pgx.Tx, tenantID, productID int) error {
	rows, err := tx.Query(ctx, `
		SELECT id FROM entry_certificates
		WHERE tenant_id = $1 AND product_id = $2
		ORDER BY id
		FOR UPDATE`,
		tenantID, productID,
	)
	if err != nil {
		return fmt.Errorf("failed to lock lots for product %d: %w", productID, err)
	}
	defer rows.Close()
	for rows.Next() {
	}
	return rows.Err()
}

// lotBalance returns one lot with its current balance, or ErrNotFound.
func lotBalance(ctx context.Context, q Querier, tenantID, lotID int) (*LotBalance, error) {
	lb, err := scanLotBalance(q.QueryRow(ctx, lotBalanceSelect+`
		WHERE ec.tenant_id = $1 AND ec.id = $2`,
		tenantID, lotID,
	))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, fmt.Errorf("lot %d: %w", lotID, ErrNotFound)
		}
		return nil, fmt.Errorf("failed to compute balance of lot %d: %w", lotID, err)
	}
	return &lb, nil
}

func insertAllocation(ctx context.Context, tx pgx.Tx, a *OutboundAllocation) error {
	err := tx.QueryRow(ctx, `
		INSERT INTO issued_certificates
			(tenant_id, entry_certificate_id, client_id, invoice_number, sold_quantity,
			 measure_unit, issue_date, custom_lot, queue_id)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
		RETURNING id, created_at`,
		a.TenantID, a.LotID, a.PartyID, a.InvoiceNumber, a.SoldQuantity,
		a.MeasureUnit, a.IssueDate, a.CustomLot, a.QueueID,
	).Scan(&a.ID, &a.CreatedAt)
	if err != nil {
		return fmt.Errorf("failed to insert allocation against lot %d: %w", a.LotID, err)
	}
	return nil
}
