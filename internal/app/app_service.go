package app

import (
	"context"
	"errors"
	"fmt"

	"github.com/shopspring/decimal"
	"github.com/sirupsen/logrus"

	"github.com/magnus-im/CertificateManager/internal/ai"
	"github.com/magnus-im/CertificateManager/internal/core"
	"github.com/magnus-im/CertificateManager/internal/logging"
	"github.com/magnus-im/CertificateManager/internal/metrics"
)

const moduleName = "app"

type appService struct {
	issuance  core.IssuanceService
	catalog   core.CatalogService
	suggester ai.Suggester
	metrics   *metrics.Metrics
	log       logrus.FieldLogger
}

// NewAppService constructs an appService that satisfies ApplicationService.
// suggester may be nil when the AI tier is not configured.
func NewAppService(
	issuance core.IssuanceService,
	catalog core.CatalogService,
	suggester ai.Suggester,
	m *metrics.Metrics,
	log logrus.FieldLogger,
) ApplicationService {
	return &appService{
		issuance:  issuance,
		catalog:   catalog,
		suggester: suggester,
		metrics:   m,
		log:       log,
	}
}

// logFailure records storage/infrastructure failures. Business rejections
// (validation, not found, invalid transition) are the caller's to report.
func (s *appService) logFailure(funcName, detail string, data any, err error) {
	if core.IsValidationError(err) ||
		errors.Is(err, core.ErrNotFound) ||
		errors.Is(err, core.ErrInvalidTransition) ||
		errors.Is(err, core.ErrMappingRequired) ||
		errors.Is(err, core.ErrInsufficientBalance) ||
		errors.Is(err, core.ErrMissingCounterparty) ||
		errors.Is(err, ai.ErrUnavailable) ||
		errors.Is(err, context.Canceled) {
		return
	}
	logging.LogError(s.log, moduleName, funcName, detail, data, err)
}

func (s *appService) ImportDocument(ctx context.Context, req ImportDocumentRequest) (*core.IngestResult, error) {
	if err := core.Validate(req); err != nil {
		s.metrics.RecordIngest("invalid")
		return nil, err
	}

	res, err := s.issuance.Ingest(ctx, req.TenantID, req.Payload)
	if err != nil {
		if core.IsValidationError(err) {
			s.metrics.RecordIngest("invalid")
			s.log.WithFields(logrus.Fields{"tenant_id": req.TenantID, "filename": req.Filename}).
				Warnf("rejected NF-e: %v", err)
			return nil, err
		}
		s.metrics.RecordIngest("error")
		s.logFailure("ImportDocument", fmt.Sprintf("tenant %d", req.TenantID), req.Filename, err)
		return nil, err
	}

	s.metrics.RecordIngest(string(res.Outcome))
	s.log.WithFields(logrus.Fields{
		"tenant_id":   req.TenantID,
		"access_key":  res.AccessKey,
		"document_id": res.DocumentID,
		"items":       res.Items,
		"outcome":     res.Outcome,
	}).Info("NF-e ingestion")
	return res, nil
}

func (s *appService) ListQueue(ctx context.Context, tenantID int) (*QueueListResult, error) {
	entries, err := s.issuance.ListQueue(ctx, tenantID)
	if err != nil {
		s.logFailure("ListQueue", fmt.Sprintf("tenant %d", tenantID), nil, err)
		return nil, err
	}
	if entries == nil {
		entries = []core.QueueView{}
	}
	counts := make(map[core.QueueStatus]int)
	for _, e := range entries {
		counts[e.Status]++
	}
	return &QueueListResult{Entries: entries, Counts: counts}, nil
}

func (s *appService) ResolveMapping(ctx context.Context, req ResolveMappingRequest) (*core.ProductMapping, error) {
	if err := core.Validate(req); err != nil {
		return nil, err
	}
	m, err := s.issuance.ResolveMapping(ctx, req.TenantID, req.QueueID, req.ProductID)
	if err != nil {
		s.logFailure("ResolveMapping", fmt.Sprintf("queue entry %d", req.QueueID), req, err)
		return nil, err
	}
	s.log.WithFields(logrus.Fields{
		"tenant_id":    req.TenantID,
		"queue_id":     req.QueueID,
		"supplier_sku": m.SupplierSKU,
		"product_id":   m.ProductID,
	}).Info("product mapping resolved")
	return m, nil
}

func (s *appService) UnlinkEntry(ctx context.Context, tenantID, queueID int) error {
	if err := s.issuance.Unlink(ctx, tenantID, queueID); err != nil {
		s.logFailure("UnlinkEntry", fmt.Sprintf("queue entry %d", queueID), nil, err)
		return err
	}
	return nil
}

func (s *appService) DeleteEntry(ctx context.Context, tenantID, queueID int) (*DeleteResult, error) {
	docDeleted, err := s.issuance.DeleteEntry(ctx, tenantID, queueID)
	if err != nil {
		s.logFailure("DeleteEntry", fmt.Sprintf("queue entry %d", queueID), nil, err)
		return nil, err
	}
	s.log.WithFields(logrus.Fields{
		"tenant_id":        tenantID,
		"queue_id":         queueID,
		"document_deleted": docDeleted,
	}).Info("queue entry deleted")
	return &DeleteResult{QueueID: queueID, DocumentDeleted: docDeleted}, nil
}

func (s *appService) ListEligibleLots(ctx context.Context, tenantID, queueID int) (*LotListResult, error) {
	lots, err := s.issuance.ListEligibleLots(ctx, tenantID, queueID)
	if err != nil {
		s.logFailure("ListEligibleLots", fmt.Sprintf("queue entry %d", queueID), nil, err)
		return nil, err
	}
	return &LotListResult{QueueID: queueID, Lots: lots}, nil
}

func (s *appService) IssueManual(ctx context.Context, req IssueManualRequest) (*core.AllocationResult, error) {
	if err := core.Validate(req); err != nil {
		return nil, err
	}
	res, err := s.issuance.IssueManual(ctx, req.TenantID, req.QueueID, req.Selections)
	s.recordAllocation(core.ModeManual, res, err)
	if err != nil {
		s.logFailure("IssueManual", fmt.Sprintf("queue entry %d", req.QueueID), req.Selections, err)
		return nil, err
	}
	return res, nil
}

func (s *appService) AutoIssue(ctx context.Context, tenantID, queueID int) (*core.AllocationResult, error) {
	res, err := s.issuance.RunAutomaticAllocation(ctx, tenantID, queueID)
	s.recordAllocation(core.ModeAutomatic, res, err)
	if err != nil {
		s.logFailure("AutoIssue", fmt.Sprintf("queue entry %d", queueID), nil, err)
		return nil, err
	}
	return res, nil
}

func (s *appService) AutoIssueAll(ctx context.Context, tenantID int) (*core.BatchSummary, error) {
	sum, err := s.issuance.RunAutomaticAllocationBatch(ctx, tenantID)
	if err != nil {
		s.logFailure("AutoIssueAll", fmt.Sprintf("tenant %d", tenantID), sum, err)
		return nil, err
	}
	s.log.WithFields(logrus.Fields{
		"tenant_id":        tenantID,
		"processed":        sum.Processed,
		"issued":           sum.Issued,
		"manual_review":    sum.ManualReview,
		"error":            sum.Error,
		"mapping_required": sum.MappingRequired,
		"failed":           sum.Failed,
	}).Info("automatic allocation pass")
	return sum, nil
}

func (s *appService) recordAllocation(mode core.AllocationMode, res *core.AllocationResult, err error) {
	if err != nil {
		s.metrics.RecordAllocation(string(mode), "error", decimal.Zero)
		return
	}
	s.metrics.RecordAllocation(string(mode), string(res.Status), res.Allocated())
	s.log.WithFields(logrus.Fields{
		"queue_id":    res.QueueID,
		"mode":        mode,
		"status":      res.Status,
		"allocations": len(res.Allocations),
		"quantity":    res.Allocated().String(),
	}).Info("allocation")
}

func (s *appService) SuggestMapping(ctx context.Context, tenantID, queueID int) (*core.MappingSuggestion, error) {
	if s.suggester == nil {
		return nil, ai.ErrUnavailable
	}
	entry, err := s.issuance.GetQueueEntry(ctx, tenantID, queueID)
	if err != nil {
		return nil, err
	}
	if entry.Status != core.StatusMappingRequired {
		return nil, fmt.Errorf("queue entry %d is %s, not %s: %w",
			queueID, entry.Status, core.StatusMappingRequired, core.ErrInvalidTransition)
	}
	products, err := s.catalog.ListProducts(ctx, tenantID)
	if err != nil {
		s.logFailure("SuggestMapping", fmt.Sprintf("tenant %d", tenantID), nil, err)
		return nil, err
	}

	suggestion, err := s.suggester.SuggestProduct(ctx, ai.SupplierLine{
		SKU:           entry.Item.ProductCode,
		Description:   entry.Item.ProductName,
		Unit:          entry.Item.Unit,
		NCM:           entry.Item.NCM,
		SupplierName:  entry.Document.IssuerName,
		SupplierTaxID: entry.Document.IssuerTaxID,
	}, products)
	if err != nil {
		s.logFailure("SuggestMapping", fmt.Sprintf("queue entry %d", queueID), nil, err)
		return nil, err
	}
	return suggestion, nil
}

func (s *appService) GetLotBalance(ctx context.Context, tenantID, lotID int) (*core.LotBalance, error) {
	lb, err := s.issuance.LotBalance(ctx, tenantID, lotID)
	if err != nil {
		s.logFailure("GetLotBalance", fmt.Sprintf("lot %d", lotID), nil, err)
		return nil, err
	}
	return lb, nil
}

func (s *appService) ListProducts(ctx context.Context, tenantID int) (*ProductListResult, error) {
	products, err := s.catalog.ListProducts(ctx, tenantID)
	if err != nil {
		s.logFailure("ListProducts", fmt.Sprintf("tenant %d", tenantID), nil, err)
		return nil, err
	}
	if products == nil {
		products = []core.Product{}
	}
	return &ProductListResult{Products: products}, nil
}
