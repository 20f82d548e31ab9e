package core_test

import (
	"context"
	"errors"
	"os"
	"strings"
	"sync"
	"testing"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/joho/godotenv"
	"github.com/shopspring/decimal"

	"github.com/magnus-im/CertificateManager/internal/core"
)

const (
	supplierTaxID  = "12345678000195"
	recipientTaxID = "98765432000110"
	accessKey      = "35240112345678000195550010000012341000012345"
)

func setupTestDB(t *testing.T) (*pgxpool.Pool, core.IssuanceService, context.Context) {
	t.Helper()
	_ = godotenv.Load("../../.env")

	// Use a dedicated TEST database to avoid wiping the live app database.
	dbURL := os.Getenv("TEST_DATABASE_URL")
	if dbURL == "" {
		t.Skip("TEST_DATABASE_URL not set; skipping integration test to protect live database")
	}

	ctx := context.Background()
	pool, err := pgxpool.New(ctx, dbURL)
	if err != nil {
		t.Fatalf("Failed to connect to test database: %v", err)
	}
	t.Cleanup(pool.Close)

	_, err = pool.Exec(ctx, `
		TRUNCATE TABLE issued_certificates, entry_certificates, issuance_queue, product_mappings,
			nfe_items, nfe_documents, clients, products, tenants RESTART IDENTITY CASCADE;

		INSERT INTO tenants (id, name) VALUES (1, 'Tenant One'), (2, 'Tenant Two');

		INSERT INTO products (id, tenant_id, code, name, unit) VALUES
		(1, 1, 'P-CITRIC', 'Acido Citrico', 'KG'),
		(2, 1, 'P-BICARB', 'Bicarbonato', 'KG'),
		(3, 1, 'P-OTHER',  'Outro',       'KG'),
		(4, 2, 'P-CITRIC', 'Acido Citrico', 'KG');
	`)
	if err != nil {
		t.Fatalf("Failed to seed test database: %v", err)
	}

	catalog := core.NewCatalogService(pool)
	svc := core.NewIssuanceService(pool, core.NewMappingResolver(), core.NewPartyService(), catalog)
	return pool, svc, ctx
}

func fixture(t *testing.T) []byte {
	t.Helper()
	b, err := os.ReadFile("testdata/nfe_proc.xml")
	if err != nil {
		t.Fatalf("read fixture: %v", err)
	}
	return b
}

func withAccessKey(payload []byte, key string) []byte {
	return []byte(strings.Replace(string(payload), accessKey, key, 1))
}

func seedLot(t *testing.T, ctx context.Context, pool *pgxpool.Pool, productID int, qty int64, expires string) int {
	t.Helper()
	var id int
	err := pool.QueryRow(ctx, `
		INSERT INTO entry_certificates (tenant_id, product_id, received_quantity, measure_unit, expiration_date, internal_lot)
		VALUES (1, $1, $2, 'KG', $3::date, $4)
		RETURNING id`,
		productID, decimal.NewFromInt(qty), expires, "L-"+expires,
	).Scan(&id)
	if err != nil {
		t.Fatalf("seed lot: %v", err)
	}
	return id
}

func seedGenericMapping(t *testing.T, ctx context.Context, pool *pgxpool.Pool, sku string, productID int) {
	t.Helper()
	if _, err := pool.Exec(ctx,
		"INSERT INTO product_mappings (tenant_id, supplier_sku, product_id) VALUES (1, $1, $2)",
		sku, productID,
	); err != nil {
		t.Fatalf("seed mapping: %v", err)
	}
}

// queueFor returns the queue entry backing the line item with the given SKU.
func queueFor(t *testing.T, ctx context.Context, svc core.IssuanceService, sku string) core.QueueView {
	t.Helper()
	entries, err := svc.ListQueue(ctx, 1)
	if err != nil {
		t.Fatalf("ListQueue failed: %v", err)
	}
	for _, e := range entries {
		if e.Item.ProductCode == sku {
			return e
		}
	}
	t.Fatalf("no queue entry for sku %s", sku)
	return core.QueueView{}
}

func balanceOf(t *testing.T, ctx context.Context, svc core.IssuanceService, lotID int) decimal.Decimal {
	t.Helper()
	lb, err := svc.LotBalance(ctx, 1, lotID)
	if err != nil {
		t.Fatalf("LotBalance(%d) failed: %v", lotID, err)
	}
	return lb.Balance
}

func ingestAndMap(t *testing.T, ctx context.Context, pool *pgxpool.Pool, svc core.IssuanceService) {
	t.Helper()
	seedGenericMapping(t, ctx, pool, "SKU-001", 1)
	res, err := svc.Ingest(ctx, 1, fixture(t))
	if err != nil {
		t.Fatalf("Ingest failed: %v", err)
	}
	if res.Outcome != core.IngestAccepted {
		t.Fatalf("expected accepted, got %s", res.Outcome)
	}
}

// ── Ingestion ─────────────────────────────────────────────────────────────────

func TestIngest_Idempotent(t *testing.T) {
	pool, svc, ctx := setupTestDB(t)

	first, err := svc.Ingest(ctx, 1, fixture(t))
	if err != nil {
		t.Fatalf("first Ingest failed: %v", err)
	}
	if first.Outcome != core.IngestAccepted || first.Items != 2 {
		t.Fatalf("unexpected first result: %+v", first)
	}

	second, err := svc.Ingest(ctx, 1, fixture(t))
	if err != nil {
		t.Fatalf("second Ingest returned error instead of outcome: %v", err)
	}
	if second.Outcome != core.IngestAlreadyImported {
		t.Errorf("expected already_imported, got %s", second.Outcome)
	}

	var docs, items, queue, clients int
	pool.QueryRow(ctx, "SELECT COUNT(*) FROM nfe_documents").Scan(&docs)
	pool.QueryRow(ctx, "SELECT COUNT(*) FROM nfe_items").Scan(&items)
	pool.QueryRow(ctx, "SELECT COUNT(*) FROM issuance_queue").Scan(&queue)
	pool.QueryRow(ctx, "SELECT COUNT(*) FROM clients WHERE auto_created AND internal_code = 'AUTO-IMPORT'").Scan(&clients)
	if docs != 1 || items != 2 || queue != 2 || clients != 1 {
		t.Errorf("expected 1 doc, 2 items, 2 queue entries, 1 client; got %d, %d, %d, %d", docs, items, queue, clients)
	}

	// Same key under another tenant is a different document.
	other, err := svc.Ingest(ctx, 2, fixture(t))
	if err != nil || other.Outcome != core.IngestAccepted {
		t.Fatalf("tenant 2 ingest: %+v, %v", other, err)
	}
}

func TestIngest_ConcurrentSameKey(t *testing.T) {
	pool, svc, ctx := setupTestDB(t)
	payload := fixture(t)

	var wg sync.WaitGroup
	outcomes := make([]core.IngestOutcome, 4)
	for i := range outcomes {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			res, err := svc.Ingest(ctx, 1, payload)
			if err != nil {
				t.Errorf("Ingest %d failed: %v", i, err)
				return
			}
			outcomes[i] = res.Outcome
		}(i)
	}
	wg.Wait()

	accepted := 0
	for _, o := range outcomes {
		if o == core.IngestAccepted {
			accepted++
		}
	}
	if accepted != 1 {
		t.Errorf("expected exactly one accepted ingestion, got %d (%v)", accepted, outcomes)
	}
	var items int
	pool.QueryRow(ctx, "SELECT COUNT(*) FROM nfe_items").Scan(&items)
	if items != 2 {
		t.Errorf("expected 2 items, got %d", items)
	}
}

func TestIngest_ParseFailureWritesNothing(t *testing.T) {
	pool, svc, ctx := setupTestDB(t)

	_, err := svc.Ingest(ctx, 1, []byte("<nfeProc><NFe/></nfeProc>"))
	if !core.IsValidationError(err) {
		t.Fatalf("expected validation error, got %v", err)
	}
	var docs int
	pool.QueryRow(ctx, "SELECT COUNT(*) FROM nfe_documents").Scan(&docs)
	if docs != 0 {
		t.Errorf("expected no documents, got %d", docs)
	}
}

func TestIngest_InitialStatusFromMappings(t *testing.T) {
	pool, svc, ctx := setupTestDB(t)
	ingestAndMap(t, ctx, pool, svc)

	if s := queueFor(t, ctx, svc, "SKU-001").Status; s != core.StatusReady {
		t.Errorf("mapped SKU: expected READY, got %s", s)
	}
	if s := queueFor(t, ctx, svc, "SKU-002").Status; s != core.StatusMappingRequired {
		t.Errorf("unmapped SKU: expected MAPPING_REQUIRED, got %s", s)
	}
}

// ── Mapping lifecycle ─────────────────────────────────────────────────────────

func TestResolveMapping_SpecificPrecedence(t *testing.T) {
	pool, svc, ctx := setupTestDB(t)
	ingestAndMap(t, ctx, pool, svc)

	entry := queueFor(t, ctx, svc, "SKU-001")
	m, err := svc.ResolveMapping(ctx, 1, entry.ID, 3)
	if err != nil {
		t.Fatalf("ResolveMapping failed: %v", err)
	}
	if m.Class() != core.MappingSpecific || m.SupplierTaxID == nil || *m.SupplierTaxID != supplierTaxID {
		t.Fatalf("expected specific mapping for supplier, got %+v", m)
	}

	r := core.NewMappingResolver()
	got, err := r.Resolve(ctx, pool, core.MappingKey{TenantID: 1, SupplierSKU: "SKU-001", SupplierTaxID: supplierTaxID})
	if err != nil || got == nil || got.ProductID != 3 {
		t.Fatalf("expected specific mapping to product 3, got %+v, %v", got, err)
	}
	got, err = r.Resolve(ctx, pool, core.MappingKey{TenantID: 1, SupplierSKU: "SKU-001", SupplierTaxID: "00000000000000"})
	if err != nil || got == nil || got.ProductID != 1 {
		t.Fatalf("other supplier should fall back to generic product 1, got %+v, %v", got, err)
	}

	// Resolving again overwrites the target instead of adding a row.
	if _, err := svc.ResolveMapping(ctx, 1, entry.ID, 2); err != nil {
		t.Fatalf("second ResolveMapping failed: %v", err)
	}
	var n int
	pool.QueryRow(ctx, "SELECT COUNT(*) FROM product_mappings WHERE supplier_tax_id IS NOT NULL").Scan(&n)
	if n != 1 {
		t.Errorf("expected one specific mapping, got %d", n)
	}
}

func TestResolveMapping_Failures(t *testing.T) {
	pool, svc, ctx := setupTestDB(t)
	ingestAndMap(t, ctx, pool, svc)
	entry := queueFor(t, ctx, svc, "SKU-002")

	if _, err := svc.ResolveMapping(ctx, 1, 9999, 1); !errors.Is(err, core.ErrNotFound) {
		t.Errorf("unknown entry: expected ErrNotFound, got %v", err)
	}
	if _, err := svc.ResolveMapping(ctx, 2, entry.ID, 4); !errors.Is(err, core.ErrNotFound) {
		t.Errorf("other tenant: expected ErrNotFound, got %v", err)
	}
	if _, err := svc.ResolveMapping(ctx, 1, entry.ID, 4); !errors.Is(err, core.ErrNotFound) {
		t.Errorf("product of other tenant: expected ErrNotFound, got %v", err)
	}
	if s := queueFor(t, ctx, svc, "SKU-002").Status; s != core.StatusMappingRequired {
		t.Errorf("failed resolve must not change status, got %s", s)
	}
}

func TestUnlink_Reversible(t *testing.T) {
	pool, svc, ctx := setupTestDB(t)
	ingestAndMap(t, ctx, pool, svc)
	lotID := seedLot(t, ctx, pool, 1, 100, "2025-01-01")
	entry := queueFor(t, ctx, svc, "SKU-001")

	if err := svc.Unlink(ctx, 1, entry.ID); err != nil {
		t.Fatalf("Unlink failed: %v", err)
	}
	if s := queueFor(t, ctx, svc, "SKU-001").Status; s != core.StatusMappingRequired {
		t.Errorf("expected MAPPING_REQUIRED, got %s", s)
	}

	var mappings int
	pool.QueryRow(ctx, "SELECT COUNT(*) FROM product_mappings WHERE supplier_sku = 'SKU-001' AND product_id = 1").Scan(&mappings)
	if mappings != 1 {
		t.Errorf("unlink must not touch mappings, found %d", mappings)
	}
	if b := balanceOf(t, ctx, svc, lotID); !b.Equal(decimal.NewFromInt(100)) {
		t.Errorf("unlink must not touch balances, got %s", b)
	}

	if err := svc.Unlink(ctx, 1, 9999); !errors.Is(err, core.ErrNotFound) {
		t.Errorf("expected ErrNotFound, got %v", err)
	}
}

// ── Delete ────────────────────────────────────────────────────────────────────

func TestDeleteEntry_CascadeOnEmpty(t *testing.T) {
	pool, svc, ctx := setupTestDB(t)
	ingestAndMap(t, ctx, pool, svc)

	first := queueFor(t, ctx, svc, "SKU-001")
	second := queueFor(t, ctx, svc, "SKU-002")

	docDeleted, err := svc.DeleteEntry(ctx, 1, first.ID)
	if err != nil {
		t.Fatalf("DeleteEntry failed: %v", err)
	}
	if docDeleted {
		t.Errorf("document must survive while it has items")
	}
	var docs int
	pool.QueryRow(ctx, "SELECT COUNT(*) FROM nfe_documents").Scan(&docs)
	if docs != 1 {
		t.Errorf("expected document intact, got %d", docs)
	}

	docDeleted, err = svc.DeleteEntry(ctx, 1, second.ID)
	if err != nil {
		t.Fatalf("DeleteEntry failed: %v", err)
	}
	if !docDeleted {
		t.Errorf("expected document removed with its last item")
	}
	pool.QueryRow(ctx, "SELECT COUNT(*) FROM nfe_documents").Scan(&docs)
	if docs != 0 {
		t.Errorf("expected no documents, got %d", docs)
	}

	if _, err := svc.DeleteEntry(ctx, 1, second.ID); !errors.Is(err, core.ErrNotFound) {
		t.Errorf("expected ErrNotFound on repeated delete, got %v", err)
	}

	// The access key is free again once the document is gone.
	res, err := svc.Ingest(ctx, 1, fixture(t))
	if err != nil || res.Outcome != core.IngestAccepted {
		t.Errorf("re-ingest after delete: %+v, %v", res, err)
	}
}

func TestDeleteEntry_ConcurrentLastItems(t *testing.T) {
	pool, svc, ctx := setupTestDB(t)
	ingestAndMap(t, ctx, pool, svc)
	ids := []int{queueFor(t, ctx, svc, "SKU-001").ID, queueFor(t, ctx, svc, "SKU-002").ID}

	var wg sync.WaitGroup
	for _, id := range ids {
		wg.Add(1)
		go func(id int) {
			defer wg.Done()
			if _, err := svc.DeleteEntry(ctx, 1, id); err != nil {
				t.Errorf("DeleteEntry(%d) failed: %v", id, err)
			}
		}(id)
	}
	wg.Wait()

	var docs int
	pool.QueryRow(ctx, "SELECT COUNT(*) FROM nfe_documents").Scan(&docs)
	if docs != 0 {
		t.Errorf("expected no orphaned document, got %d", docs)
	}
}

// ── Allocation ────────────────────────────────────────────────────────────────

func TestAutomaticAllocation_FEFO(t *testing.T) {
	pool, svc, ctx := setupTestDB(t)
	ingestAndMap(t, ctx, pool, svc) // SKU-001 requests 80
	late := seedLot(t, ctx, pool, 1, 100, "2025-06-01")
	early := seedLot(t, ctx, pool, 1, 100, "2025-01-01")
	entry := queueFor(t, ctx, svc, "SKU-001")

	lots, err := svc.ListEligibleLots(ctx, 1, entry.ID)
	if err != nil {
		t.Fatalf("ListEligibleLots failed: %v", err)
	}
	if len(lots) != 2 || lots[0].Lot.ID != early {
		t.Fatalf("expected earliest lot first, got %+v", lots)
	}

	res, err := svc.RunAutomaticAllocation(ctx, 1, entry.ID)
	if err != nil {
		t.Fatalf("RunAutomaticAllocation failed: %v", err)
	}
	if res.Status != core.StatusIssued || len(res.Allocations) != 1 {
		t.Fatalf("expected one allocation and ISSUED, got %+v", res)
	}
	a := res.Allocations[0]
	if a.LotID != early || a.CustomLot != "L-2025-01-01" || a.InvoiceNumber != "1234" || a.QueueID == nil {
		t.Errorf("unexpected allocation: %+v", a)
	}
	if b := balanceOf(t, ctx, svc, early); !b.Equal(decimal.NewFromInt(20)) {
		t.Errorf("early lot: expected balance 20, got %s", b)
	}
	if b := balanceOf(t, ctx, svc, late); !b.Equal(decimal.NewFromInt(100)) {
		t.Errorf("late lot: expected untouched 100, got %s", b)
	}

	// ISSUED is terminal: a second pass must not allocate again.
	if _, err := svc.RunAutomaticAllocation(ctx, 1, entry.ID); !errors.Is(err, core.ErrInvalidTransition) {
		t.Errorf("expected ErrInvalidTransition, got %v", err)
	}
	if err := svc.Unlink(ctx, 1, entry.ID); !errors.Is(err, core.ErrInvalidTransition) {
		t.Errorf("expected ErrInvalidTransition on unlink of ISSUED, got %v", err)
	}
}

func TestAutomaticAllocation_SingleLotConstraint(t *testing.T) {
	pool, svc, ctx := setupTestDB(t)
	seedGenericMapping(t, ctx, pool, "SKU-002", 2) // SKU-002 requests 60
	if _, err := svc.Ingest(ctx, 1, fixture(t)); err != nil {
		t.Fatalf("Ingest failed: %v", err)
	}
	a := seedLot(t, ctx, pool, 2, 40, "2025-01-01")
	b := seedLot(t, ctx, pool, 2, 40, "2025-06-01")
	entry := queueFor(t, ctx, svc, "SKU-002")

	res, err := svc.RunAutomaticAllocation(ctx, 1, entry.ID)
	if err != nil {
		t.Fatalf("RunAutomaticAllocation failed: %v", err)
	}
	if res.Status != core.StatusManualReview || len(res.Allocations) != 0 {
		t.Fatalf("expected MANUAL_REVIEW without allocations, got %+v", res)
	}
	view := queueFor(t, ctx, svc, "SKU-002")
	if view.ErrorMessage == nil || *view.ErrorMessage != core.MsgSingleLotShortfall {
		t.Errorf("expected shortfall message, got %v", view.ErrorMessage)
	}
	for _, id := range []int{a, b} {
		if bal := balanceOf(t, ctx, svc, id); !bal.Equal(decimal.NewFromInt(40)) {
			t.Errorf("lot %d: expected 40, got %s", id, bal)
		}
	}

	// Operator splits 30 + 30 from MANUAL_REVIEW.
	issued, err := svc.IssueManual(ctx, 1, entry.ID, []core.LotSelection{
		{LotID: a, Quantity: decimal.NewFromInt(30)},
		{LotID: b, Quantity: decimal.NewFromInt(30)},
	})
	if err != nil {
		t.Fatalf("IssueManual failed: %v", err)
	}
	if issued.Status != core.StatusIssued || len(issued.Allocations) != 2 {
		t.Fatalf("expected two allocations and ISSUED, got %+v", issued)
	}
	for _, id := range []int{a, b} {
		if bal := balanceOf(t, ctx, svc, id); !bal.Equal(decimal.NewFromInt(10)) {
			t.Errorf("lot %d: expected 10, got %s", id, bal)
		}
	}
	if view := queueFor(t, ctx, svc, "SKU-002"); view.ErrorMessage != nil {
		t.Errorf("expected message cleared, got %q", *view.ErrorMessage)
	}
}

func TestAutomaticAllocation_MissingCounterparty(t *testing.T) {
	pool, svc, ctx := setupTestDB(t)
	ingestAndMap(t, ctx, pool, svc)
	lotID := seedLot(t, ctx, pool, 1, 100, "2025-01-01")
	if _, err := pool.Exec(ctx, "DELETE FROM clients WHERE tax_id = $1", recipientTaxID); err != nil {
		t.Fatalf("delete clients: %v", err)
	}
	entry := queueFor(t, ctx, svc, "SKU-001")

	res, err := svc.RunAutomaticAllocation(ctx, 1, entry.ID)
	if err != nil {
		t.Fatalf("RunAutomaticAllocation failed: %v", err)
	}
	if res.Status != core.StatusError || res.Message != core.MsgCounterpartyMissing {
		t.Errorf("expected ERROR with counterparty message, got %+v", res)
	}
	if b := balanceOf(t, ctx, svc, lotID); !b.Equal(decimal.NewFromInt(100)) {
		t.Errorf("no balance may be consumed, got %s", b)
	}

	_, err = svc.IssueManual(ctx, 1, entry.ID, []core.LotSelection{{LotID: lotID, Quantity: decimal.NewFromInt(10)}})
	if !errors.Is(err, core.ErrMissingCounterparty) {
		t.Errorf("manual issuance: expected ErrMissingCounterparty, got %v", err)
	}
}

func TestAutomaticAllocation_MappingGone(t *testing.T) {
	pool, svc, ctx := setupTestDB(t)
	ingestAndMap(t, ctx, pool, svc)
	if _, err := pool.Exec(ctx, "DELETE FROM product_mappings"); err != nil {
		t.Fatalf("delete mappings: %v", err)
	}
	entry := queueFor(t, ctx, svc, "SKU-001")

	res, err := svc.RunAutomaticAllocation(ctx, 1, entry.ID)
	if err != nil {
		t.Fatalf("RunAutomaticAllocation failed: %v", err)
	}
	if res.Status != core.StatusMappingRequired || res.Message != core.MsgMappingNotFound {
		t.Errorf("expected MAPPING_REQUIRED, got %+v", res)
	}
	lots, err := svc.ListEligibleLots(ctx, 1, entry.ID)
	if err != nil || len(lots) != 0 {
		t.Errorf("unmapped entry must list no lots, got %v, %v", lots, err)
	}
}

func TestIssueManual_RejectsOverdraw(t *testing.T) {
	pool, svc, ctx := setupTestDB(t)
	ingestAndMap(t, ctx, pool, svc)
	lotID := seedLot(t, ctx, pool, 1, 40, "2025-01-01")
	foreign := seedLot(t, ctx, pool, 2, 40, "2025-01-01")
	entry := queueFor(t, ctx, svc, "SKU-001")

	_, err := svc.IssueManual(ctx, 1, entry.ID, []core.LotSelection{
		{LotID: lotID, Quantity: decimal.NewFromInt(30)},
		{LotID: lotID, Quantity: decimal.NewFromInt(30)},
	})
	if !errors.Is(err, core.ErrInsufficientBalance) {
		t.Fatalf("expected ErrInsufficientBalance, got %v", err)
	}
	if b := balanceOf(t, ctx, svc, lotID); !b.Equal(decimal.NewFromInt(40)) {
		t.Errorf("failed call must write nothing, balance %s", b)
	}
	if s := queueFor(t, ctx, svc, "SKU-001").Status; s != core.StatusReady {
		t.Errorf("failed call must keep status, got %s", s)
	}

	_, err = svc.IssueManual(ctx, 1, entry.ID, []core.LotSelection{{LotID: lotID, Quantity: decimal.RequireFromString("0.00001")}})
	if !core.IsValidationError(err) {
		t.Fatalf("quantity beyond stored scale: expected validation error, got %v", err)
	}
	if b := balanceOf(t, ctx, svc, lotID); !b.Equal(decimal.NewFromInt(40)) {
		t.Errorf("rejected selection must write nothing, balance %s", b)
	}

	_, err = svc.IssueManual(ctx, 1, entry.ID, []core.LotSelection{{LotID: foreign, Quantity: decimal.NewFromInt(1)}})
	if !errors.Is(err, core.ErrNotFound) {
		t.Errorf("lot of another product: expected ErrNotFound, got %v", err)
	}

	unmapped := queueFor(t, ctx, svc, "SKU-002")
	_, err = svc.IssueManual(ctx, 1, unmapped.ID, []core.LotSelection{{LotID: lotID, Quantity: decimal.NewFromInt(1)}})
	if !errors.Is(err, core.ErrInvalidTransition) {
		t.Errorf("MAPPING_REQUIRED entry: expected ErrInvalidTransition, got %v", err)
	}
}

func TestAllocation_ConcurrentNeverOversells(t *testing.T) {
	pool, svc, ctx := setupTestDB(t)
	seedGenericMapping(t, ctx, pool, "SKU-001", 1)
	lotID := seedLot(t, ctx, pool, 1, 100, "2025-01-01")

	// Five documents each request 80 of the same product from a 100 lot.
	const docs = 5
	for i := 0; i < docs; i++ {
		key := accessKey[:40] + string(rune('0'+i)) + "000"
		if _, err := svc.Ingest(ctx, 1, withAccessKey(fixture(t), key)); err != nil {
			t.Fatalf("Ingest %d failed: %v", i, err)
		}
	}
	entries, err := svc.ListQueue(ctx, 1)
	if err != nil {
		t.Fatalf("ListQueue failed: %v", err)
	}

	var wg sync.WaitGroup
	for _, e := range entries {
		if e.Item.ProductCode != "SKU-001" {
			continue
		}
		wg.Add(2)
		go func(id int) {
			defer wg.Done()
			if _, err := svc.RunAutomaticAllocation(ctx, 1, id); err != nil && !errors.Is(err, core.ErrInvalidTransition) {
				t.Errorf("auto %d: %v", id, err)
			}
		}(e.ID)
		go func(id int) {
			defer wg.Done()
			_, err := svc.IssueManual(ctx, 1, id, []core.LotSelection{{LotID: lotID, Quantity: decimal.NewFromInt(80)}})
			if err != nil && !errors.Is(err, core.ErrInsufficientBalance) && !errors.Is(err, core.ErrInvalidTransition) {
				t.Errorf("manual %d: %v", id, err)
			}
		}(e.ID)
	}
	wg.Wait()

	b := balanceOf(t, ctx, svc, lotID)
	if b.IsNegative() {
		t.Fatalf("lot oversold: balance %s", b)
	}
	if !b.Equal(decimal.NewFromInt(20)) {
		t.Errorf("expected exactly one 80 allocation, balance %s", b)
	}
}

func TestAutomaticAllocationBatch(t *testing.T) {
	pool, svc, ctx := setupTestDB(t)
	seedGenericMapping(t, ctx, pool, "SKU-001", 1)
	seedGenericMapping(t, ctx, pool, "SKU-002", 2)
	if _, err := svc.Ingest(ctx, 1, fixture(t)); err != nil {
		t.Fatalf("Ingest failed: %v", err)
	}
	seedLot(t, ctx, pool, 1, 100, "2025-01-01")
	seedLot(t, ctx, pool, 2, 40, "2025-01-01")

	sum, err := svc.RunAutomaticAllocationBatch(ctx, 1)
	if err != nil {
		t.Fatalf("batch failed: %v", err)
	}
	if sum.Processed != 2 || sum.Issued != 1 || sum.ManualReview != 1 || sum.Failed != 0 {
		t.Errorf("unexpected summary: %+v", sum)
	}

	// Re-running is safe: nothing is READY any more.
	again, err := svc.RunAutomaticAllocationBatch(ctx, 1)
	if err != nil {
		t.Fatalf("second batch failed: %v", err)
	}
	if again.Processed != 0 {
		t.Errorf("expected nothing to process, got %+v", again)
	}
}
