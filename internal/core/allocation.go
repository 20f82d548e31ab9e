package core

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
)

// Both allocation policies run the same locked sequence:
//
//	lock queue row → check status → resolve mapping → lock product lots
//	→ recompute balances → decide → insert allocations → set status → commit
//
// Storage errors roll the whole transaction back, leaving the entry's status
// as it was. Business outcomes (no mapping, no single lot, no client) are
// committed as status + message on the entry.

// allocationScope is what both policies need once the entry row is locked.
type allocationScope struct {
	entry   *QueueView
	mapping *ProductMapping
	lots    []LotBalance
}

// lockScope locks the entry and, when the entry is mapped, every lot of the
// mapped product, then reads the balances fresh. A nil mapping means the
// entry has none any more.
func (s *issuanceService) lockScope(ctx context.Context, tx pgx.Tx, tenantID, queueID int, op QueueOperation) (*allocationScope, error) {
	v, err := getQueueView(ctx, tx, tenantID, queueID, true)
	if err != nil {
		return nil, err
	}
	if err := checkTransition(v, op); err != nil {
		return nil, err
	}
	sc := &allocationScope{entry: v}

	sc.mapping, err = s.resolver.Resolve(ctx, tx, mappingKeyOf(v))
	if err != nil || sc.mapping == nil {
		return sc, err
	}
	if err := lockProductLots(ctx, tx, tenantID, sc.mapping.ProductID); err != nil {
		return nil, err
	}
	sc.lots, err = productLotBalances(ctx, tx, tenantID, sc.mapping.ProductID)
	if err != nil {
		return nil, err
	}
	return sc, nil
}

func issueDate() time.Time {
	return time.Now().UTC().Truncate(24 * time.Hour)
}

func newAllocation(v *QueueView, party *Party, lot InboundLot, qty LotSelection) OutboundAllocation {
	queueID := v.ID
	return OutboundAllocation{
		TenantID:      v.TenantID,
		LotID:         lot.ID,
		PartyID:       party.ID,
		InvoiceNumber: v.Document.Number,
		SoldQuantity:  qty.Quantity,
		MeasureUnit:   v.Item.Unit,
		IssueDate:     issueDate(),
		CustomLot:     lot.CustomLotLabel(),
		QueueID:       &queueID,
	}
}

// IssueManual applies the operator's lot selections in the order given.
// The call is all-or-nothing: a pair that exceeds the lot's running balance
// fails the whole call with ErrInsufficientBalance and nothing is written.
// A missing client is a hard failure (ErrMissingCounterparty); the entry's
// status is not changed.
func (s *issuanceService) IssueManual(ctx context.Context, tenantID, queueID int, selections []LotSelection) (*AllocationResult, error) {
	if len(selections) == 0 {
		return nil, newValidationError("at least one lot selection is required")
	}

	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback(ctx)

	sc, err := s.lockScope(ctx, tx, tenantID, queueID, OpManualIssue)
	if err != nil {
		return nil, err
	}
	if sc.mapping == nil {
		return nil, fmt.Errorf("queue entry %d (sku %s): %w", queueID, sc.entry.Item.ProductCode, ErrMappingRequired)
	}

	party, err := s.parties.FindByTaxID(ctx, tx, tenantID, sc.entry.Document.RecipientTaxID)
	if err != nil {
		if errors.Is(err, ErrNotFound) {
			return nil, fmt.Errorf("recipient %s: %w", sc.entry.Document.RecipientTaxID, ErrMissingCounterparty)
		}
		return nil, err
	}

	if _, err := ApplySelections(sc.lots, selections); err != nil {
		return nil, err
	}

	lotsByID := make(map[int]InboundLot, len(sc.lots))
	for _, l := range sc.lots {
		lotsByID[l.Lot.ID] = l.Lot
	}

	res := &AllocationResult{QueueID: queueID, Mode: ModeManual, Status: StatusIssued}
	for _, sel := range selections {
		a := newAllocation(sc.entry, party, lotsByID[sel.LotID], sel)
		if err := insertAllocation(ctx, tx, &a); err != nil {
			return nil, err
		}
		res.Allocations = append(res.Allocations, a)
	}

	if err := setQueueStatus(ctx, tx, queueID, StatusIssued, nil); err != nil {
		return nil, err
	}
	if err := tx.Commit(ctx); err != nil {
		return nil, fmt.Errorf("failed to commit manual issuance: %w", err)
	}
	return res, nil
}

// RunAutomaticAllocation allocates the item's full quantity from the first
// FEFO lot that covers it alone. It never splits: when no single lot is
// enough the entry goes to MANUAL_REVIEW and nothing is allocated.
func (s *issuanceService) RunAutomaticAllocation(ctx context.Context, tenantID, queueID int) (*AllocationResult, error) {
	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback(ctx)

	sc, err := s.lockScope(ctx, tx, tenantID, queueID, OpAutoAllocate)
	if err != nil {
		return nil, err
	}

	res := &AllocationResult{QueueID: queueID, Mode: ModeAutomatic}
	outcome := func(status QueueStatus, msg string) (*AllocationResult, error) {
		if err := setQueueStatus(ctx, tx, queueID, status, &msg); err != nil {
			return nil, err
		}
		if err := tx.Commit(ctx); err != nil {
			return nil, fmt.Errorf("failed to commit allocation outcome: %w", err)
		}
		res.Status, res.Message = status, msg
		return res, nil
	}

	if sc.mapping == nil {
		return outcome(StatusMappingRequired, MsgMappingNotFound)
	}

	lot, ok := PickSingleLot(sc.lots, sc.entry.Item.Quantity)
	if !ok {
		return outcome(StatusManualReview, MsgSingleLotShortfall)
	}

	party, err := s.parties.FindByTaxID(ctx, tx, tenantID, sc.entry.Document.RecipientTaxID)
	if errors.Is(err, ErrNotFound) {
		return outcome(StatusError, MsgCounterpartyMissing)
	}
	if err != nil {
		return nil, err
	}

	a := newAllocation(sc.entry, party, lot.Lot, LotSelection{LotID: lot.Lot.ID, Quantity: sc.entry.Item.Quantity})
	if err := insertAllocation(ctx, tx, &a); err != nil {
		return nil, err
	}
	if err := setQueueStatus(ctx, tx, queueID, StatusIssued, nil); err != nil {
		return nil, err
	}
	if err := tx.Commit(ctx); err != nil {
		return nil, fmt.Errorf("failed to commit allocation: %w", err)
	}
	res.Status = StatusIssued
	res.Allocations = []OutboundAllocation{a}
	return res, nil
}

func (s *issuanceService) RunAutomaticAllocationBatch(ctx context.Context, tenantID int) (*BatchSummary, error) {
	rows, err := s.pool.Query(ctx, `
		SELECT id FROM issuance_queue
		WHERE tenant_id = $1 AND status = $2
		ORDER BY created_at, id`,
		tenantID, StatusReady,
	)
	if err != nil {
		return nil, fmt.Errorf("failed to query ready entries: %w", err)
	}
	ids, err := pgx.CollectRows(rows, pgx.RowTo[int])
	if err != nil {
		return nil, fmt.Errorf("failed to read ready entries: %w", err)
	}

	sum := &BatchSummary{}
	for _, id := range ids {
		if err := ctx.Err(); err != nil {
			return sum, err
		}
		res, err := s.RunAutomaticAllocation(ctx, tenantID, id)
		if err != nil {
			// Taken by a concurrent pass or operator since the listing.
			if errors.Is(err, ErrInvalidTransition) || errors.Is(err, ErrNotFound) {
				continue
			}
			sum.Processed++
			sum.Failed++
			continue
		}
		sum.Processed++
		switch res.Status {
		case StatusIssued:
			sum.Issued++
		case StatusManualReview:
			sum.ManualReview++
		case StatusError:
			sum.Error++
		case StatusMappingRequired:
			sum.MappingRequired++
		}
	}
	return sum, nil
}
