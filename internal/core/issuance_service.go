package core

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

// IssuanceService drives fiscal documents from ingestion to issued certificates.
// Every method is tenant-scoped; an id belonging to another tenant is ErrNotFound.
type IssuanceService interface {
	// Ingest parses an NF-e payload and stores the document, its items and one
	// queue entry per item in a single transaction. A repeated access key yields
	// an IngestAlreadyImported result and writes nothing. Parse failures are
	// returned as *ValidationError.
	Ingest(ctx context.Context, tenantID int, payload []byte) (*IngestResult, error)

	// ListQueue returns every queue entry of the tenant joined with its item and
	// document, oldest first.
	ListQueue(ctx context.Context, tenantID int) ([]QueueView, error)
	GetQueueEntry(ctx context.Context, tenantID, queueID int) (*QueueView, error)

	// ResolveMapping points the entry's (SKU, issuer) pair at productID and marks
	// the entry READY.
	ResolveMapping(ctx context.Context, tenantID, queueID, productID int) (*ProductMapping, error)
	// Unlink sends the entry back to MAPPING_REQUIRED. Mappings are untouched.
	Unlink(ctx context.Context, tenantID, queueID int) error
	// DeleteEntry removes the entry and its line item, and the document when
	// that was its last item. It reports whether the document was removed.
	DeleteEntry(ctx context.Context, tenantID, queueID int) (bool, error)

	// ListEligibleLots returns the FEFO-ordered lots with positive balance for
	// the entry's mapped product; empty when the entry is unmapped.
	ListEligibleLots(ctx context.Context, tenantID, queueID int) ([]LotBalance, error)
	IssueManual(ctx context.Context, tenantID, queueID int, selections []LotSelection) (*AllocationResult, error)
	RunAutomaticAllocation(ctx context.Context, tenantID, queueID int) (*AllocationResult, error)
	// RunAutomaticAllocationBatch runs the automatic policy over every READY
	// entry of the tenant, oldest first. A failing entry is counted and skipped.
	RunAutomaticAllocationBatch(ctx context.Context, tenantID int) (*BatchSummary, error)

	LotBalance(ctx context.Context, tenantID, lotID int) (*LotBalance, error)
}

type issuanceService struct {
	pool     *pgxpool.Pool
	resolver *MappingResolver
	parties  PartyService
	catalog  CatalogService
}

func NewIssuanceService(pool *pgxpool.Pool, resolver *MappingResolver, parties PartyService, catalog CatalogService) IssuanceService {
	if resolver == nil {
		resolver = NewMappingResolver()
	}
	return &issuanceService{pool: pool, resolver: resolver, parties: parties, catalog: catalog}
}

// ── Ingestion ────────────────────────────────────────────────────────────────

func (s *issuanceService) Ingest(ctx context.Context, tenantID int, payload []byte) (*IngestResult, error) {
	doc, err := ParseNFe(payload)
	if err != nil {
		return nil, err
	}
	h := doc.Header
	duplicate := &IngestResult{
		Outcome:   IngestAlreadyImported,
		AccessKey: h.AccessKey,
		Message:   fmt.Sprintf("document %s already imported", h.AccessKey),
	}

	var exists bool
	if err := s.pool.QueryRow(ctx,
		"SELECT EXISTS(SELECT 1 FROM nfe_documents WHERE tenant_id = $1 AND access_key = $2)",
		tenantID, h.AccessKey,
	).Scan(&exists); err != nil {
		return nil, fmt.Errorf("failed to check access key: %w", err)
	}
	if exists {
		return duplicate, nil
	}

	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback(ctx)

	var documentID int
	err = tx.QueryRow(ctx, `
		INSERT INTO nfe_documents
			(tenant_id, access_key, number, series, issuer_tax_id, issuer_name,
			 recipient_tax_id, recipient_name, emission_date, raw_payload, status)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11)
		RETURNING id`,
		tenantID, h.AccessKey, h.Number, h.Series, h.Issuer.TaxID, h.Issuer.Name,
		h.Recipient.TaxID, h.Recipient.Name, h.EmissionDate, doc.Raw, DocumentStatusImported,
	).Scan(&documentID)
	if err != nil {
		// Lost a race with a concurrent ingestion of the same key.
		if isUniqueViolation(err) {
			return duplicate, nil
		}
		return nil, fmt.Errorf("failed to insert document: %w", err)
	}

	if _, err := s.parties.EnsurePartyTx(ctx, tx, tenantID, h.Recipient, h.Address); err != nil {
		return nil, fmt.Errorf("failed to register recipient: %w", err)
	}

	for i, item := range doc.Items {
		var itemID int
		if err := tx.QueryRow(ctx, `
			INSERT INTO nfe_items
				(document_id, sequence_number, product_code, product_name, quantity, unit, unit_value, ncm, cfop)
			VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
			RETURNING id`,
			documentID, item.SequenceNumber, item.ProductCode, item.Description,
			item.Quantity, item.Unit, item.UnitValue, item.NCM, item.CFOP,
		).Scan(&itemID); err != nil {
			return nil, fmt.Errorf("failed to insert item %d: %w", i+1, err)
		}

		status, err := s.resolver.InitialStatus(ctx, tx, MappingKey{
			TenantID:      tenantID,
			SupplierSKU:   item.ProductCode,
			SupplierTaxID: h.Issuer.TaxID,
		})
		if err != nil {
			return nil, err
		}

		if _, err := tx.Exec(ctx, `
			INSERT INTO issuance_queue (tenant_id, item_id, status, priority)
			VALUES ($1, $2, $3, 0)`,
			tenantID, itemID, status,
		); err != nil {
			return nil, fmt.Errorf("failed to enqueue item %d: %w", i+1, err)
		}
	}

	if err := tx.Commit(ctx); err != nil {
		if isUniqueViolation(err) {
			return duplicate, nil
		}
		return nil, fmt.Errorf("failed to commit ingestion: %w", err)
	}
	return &IngestResult{
		Outcome:    IngestAccepted,
		DocumentID: documentID,
		AccessKey:  h.AccessKey,
		Items:      len(doc.Items),
		Message:    fmt.Sprintf("document %s imported with %d item(s)", h.Number, len(doc.Items)),
	}, nil
}

// ── Queue reads ──────────────────────────────────────────────────────────────

const queueViewSelect = `
	SELECT q.id, q.tenant_id, q.item_id, q.status, q.priority, q.error_message, q.created_at, q.updated_at,
	       i.id, i.sequence_number, i.product_code, i.product_name, i.quantity, i.unit, i.unit_value, i.ncm,
	       d.id, d.number, d.series, d.issuer_name, d.issuer_tax_id, d.recipient_name, d.recipient_tax_id, d.emission_date
	FROM issuance_queue q
	JOIN nfe_items i ON i.id = q.item_id
	JOIN nfe_documents d ON d.id = i.document_id`

func scanQueueView(row pgx.Row) (QueueView, error) {
	var v QueueView
	e, it, d := &v.QueueEntry, &v.Item, &v.Document
	err := row.Scan(
		&e.ID, &e.TenantID, &e.ItemID, &e.Status, &e.Priority, &e.ErrorMessage, &e.CreatedAt, &e.UpdatedAt,
		&it.ID, &it.SequenceNumber, &it.ProductCode, &it.ProductName, &it.Quantity, &it.Unit, &it.UnitValue, &it.NCM,
		&d.ID, &d.Number, &d.Series, &d.IssuerName, &d.IssuerTaxID, &d.RecipientName, &d.RecipientTaxID, &d.EmissionDate,
	)
	if err == nil && !e.Status.Valid() {
		err = fmt.Errorf("queue entry %d has unknown status %q", e.ID, e.Status)
	}
	return v, err
}

func (s *issuanceService) ListQueue(ctx context.Context, tenantID int) ([]QueueView, error) {
	rows, err := s.pool.Query(ctx, queueViewSelect+`
		WHERE q.tenant_id = $1
		ORDER BY q.created_at, q.id`,
		tenantID,
	)
	if err != nil {
		return nil, fmt.Errorf("failed to query issuance queue: %w", err)
	}
	defer rows.Close()

	var out []QueueView
	for rows.Next() {
		v, err := scanQueueView(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan queue entry: %w", err)
		}
		out = append(out, v)
	}
	return out, rows.Err()
}

func (s *issuanceService) GetQueueEntry(ctx context.Context, tenantID, queueID int) (*QueueView, error) {
	return getQueueView(ctx, s.pool, tenantID, queueID, false)
}

// getQueueView loads one entry. With lock set the queue row is locked
// FOR UPDATE; q must then be a transaction.
func getQueueView(ctx context.Context, q Querier, tenantID, queueID int, lock bool) (*QueueView, error) {
	sql := queueViewSelect + `
		WHERE q.tenant_id = $1 AND q.id = $2`
	if lock {
		sql += `
		FOR UPDATE OF q`
	}
	v, err := scanQueueView(q.QueryRow(ctx, sql, tenantID, queueID))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, fmt.Errorf("queue entry %d: %w", queueID, ErrNotFound)
		}
		return nil, fmt.Errorf("failed to load queue entry %d: %w", queueID, err)
	}
	return &v, nil
}

func mappingKeyOf(v *QueueView) MappingKey {
	return MappingKey{
		TenantID:      v.TenantID,
		SupplierSKU:   v.Item.ProductCode,
		SupplierTaxID: v.Document.IssuerTaxID,
	}
}

func setQueueStatus(ctx context.Context, tx pgx.Tx, queueID int, status QueueStatus, message *string) error {
	if _, err := tx.Exec(ctx, `
		UPDATE issuance_queue
		SET status = $1, error_message = $2, updated_at = NOW()
		WHERE id = $3`,
		status, message, queueID,
	); err != nil {
		return fmt.Errorf("failed to set queue entry %d to %s: %w", queueID, status, err)
	}
	return nil
}

func checkTransition(v *QueueView, op QueueOperation) error {
	if !v.Status.Allows(op) {
		return fmt.Errorf("cannot %s queue entry %d in status %s: %w", op, v.ID, v.Status, ErrInvalidTransition)
	}
	return nil
}

// ── Lifecycle operations ─────────────────────────────────────────────────────

func (s *issuanceService) ResolveMapping(ctx context.Context, tenantID, queueID, productID int) (*ProductMapping, error) {
	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback(ctx)

	v, err := getQueueView(ctx, tx, tenantID, queueID, true)
	if err != nil {
		return nil, err
	}
	if err := checkTransition(v, OpResolveMapping); err != nil {
		return nil, err
	}
	if _, err := s.catalog.GetProduct(ctx, tx, tenantID, productID); err != nil {
		return nil, err
	}

	m, err := UpsertSpecificMapping(ctx, tx, mappingKeyOf(v), productID)
	if err != nil {
		return nil, err
	}
	if err := setQueueStatus(ctx, tx, queueID, StatusReady, nil); err != nil {
		return nil, err
	}
	if err := tx.Commit(ctx); err != nil {
		return nil, fmt.Errorf("failed to commit mapping: %w", err)
	}
	return m, nil
}

func (s *issuanceService) Unlink(ctx context.Context, tenantID, queueID int) error {
	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback(ctx)

	v, err := getQueueView(ctx, tx, tenantID, queueID, true)
	if err != nil {
		return err
	}
	if err := checkTransition(v, OpUnlink); err != nil {
		return err
	}
	if err := setQueueStatus(ctx, tx, queueID, StatusMappingRequired, nil); err != nil {
		return err
	}
	return tx.Commit(ctx)
}

func (s *issuanceService) DeleteEntry(ctx context.Context, tenantID, queueID int) (bool, error) {
	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return false, fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback(ctx)

	v, err := getQueueView(ctx, tx, tenantID, queueID, true)
	if err != nil {
		return false, err
	}

	// Serialize deletes within one document so two concurrent deletes of its
	// last two items cannot both see a sibling and leave it empty.
	if _, err := tx.Exec(ctx, "SELECT id FROM nfe_documents WHERE id = $1 FOR UPDATE", v.Document.ID); err != nil {
		return false, fmt.Errorf("failed to lock document %d: %w", v.Document.ID, err)
	}

	if _, err := tx.Exec(ctx, "DELETE FROM issuance_queue WHERE id = $1", queueID); err != nil {
		return false, fmt.Errorf("failed to delete queue entry %d: %w", queueID, err)
	}
	if _, err := tx.Exec(ctx, "DELETE FROM nfe_items WHERE id = $1", v.ItemID); err != nil {
		return false, fmt.Errorf("failed to delete item %d: %w", v.ItemID, err)
	}

	var remaining int
	if err := tx.QueryRow(ctx, "SELECT COUNT(*) FROM nfe_items WHERE document_id = $1", v.Document.ID).Scan(&remaining); err != nil {
		return false, fmt.Errorf("failed to count remaining items: %w", err)
	}
	documentDeleted := false
	if remaining == 0 {
		if _, err := tx.Exec(ctx, "DELETE FROM nfe_documents WHERE id = $1", v.Document.ID); err != nil {
			return false, fmt.Errorf("failed to delete document %d: %w", v.Document.ID, err)
		}
		documentDeleted = true
	}

	if err := tx.Commit(ctx); err != nil {
		return false, fmt.Errorf("failed to commit delete: %w", err)
	}
	return documentDeleted, nil
}

// ── Ledger reads ─────────────────────────────────────────────────────────────

func (s *issuanceService) ListEligibleLots(ctx context.Context, tenantID, queueID int) ([]LotBalance, error) {
	v, err := getQueueView(ctx, s.pool, tenantID, queueID, false)
	if err != nil {
		return nil, err
	}
	m, err := s.resolver.Resolve(ctx, s.pool, mappingKeyOf(v))
	if err != nil {
		return nil, err
	}
	if m == nil {
		return []LotBalance{}, nil
	}
	lots, err := productLotBalances(ctx, s.pool, tenantID, m.ProductID)
	if err != nil {
		return nil, err
	}
	return EligibleLots(lots), nil
}

func (s *issuanceService) LotBalance(ctx context.Context, tenantID, lotID int) (*LotBalance, error) {
	return lotBalance(ctx, s.pool, tenantID, lotID)
}
