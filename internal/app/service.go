package app

import (
	"context"

	"github.com/magnus-im/CertificateManager/internal/core"
)

// ApplicationService is the single interface all adapters (CLI, Web) call.
// It decouples presentation from business logic. Implementations must contain
// no fmt.Println and no display logic of any kind.
type ApplicationService interface {
	// ImportDocument ingests an NF-e XML payload. A repeated access key is not an
	// error: the result's Outcome is core.IngestAlreadyImported.
	ImportDocument(ctx context.Context, req ImportDocumentRequest) (*core.IngestResult, error)

	// ListQueue returns the tenant's issuance queue, oldest first.
	ListQueue(ctx context.Context, tenantID int) (*QueueListResult, error)

	// ResolveMapping links the entry's supplier SKU to a catalog product and
	// marks the entry READY.
	ResolveMapping(ctx context.Context, req ResolveMappingRequest) (*core.ProductMapping, error)

	// UnlinkEntry returns an entry to MAPPING_REQUIRED without touching mappings.
	UnlinkEntry(ctx context.Context, tenantID, queueID int) error

	// DeleteEntry removes the entry and its line item (and the document when it
	// was the last item).
	DeleteEntry(ctx context.Context, tenantID, queueID int) (*DeleteResult, error)

	// ListEligibleLots returns the FEFO-ordered lots an operator may issue from.
	ListEligibleLots(ctx context.Context, tenantID, queueID int) (*LotListResult, error)

	// IssueManual issues the entry from the operator's explicit lot split.
	IssueManual(ctx context.Context, req IssueManualRequest) (*core.AllocationResult, error)

	// AutoIssue runs the single-lot automatic allocation for one entry.
	AutoIssue(ctx context.Context, tenantID, queueID int) (*core.AllocationResult, error)

	// AutoIssueAll runs the automatic allocation over every READY entry.
	AutoIssueAll(ctx context.Context, tenantID int) (*core.BatchSummary, error)

	// SuggestMapping asks the AI tier for a catalog match for an unmapped entry.
	// Nothing is written; the operator confirms through ResolveMapping.
	SuggestMapping(ctx context.Context, tenantID, queueID int) (*core.MappingSuggestion, error)

	// GetLotBalance returns the derived balance of one entry lot.
	GetLotBalance(ctx context.Context, tenantID, lotID int) (*core.LotBalance, error)

	// ListProducts returns the tenant's active catalog.
	ListProducts(ctx context.Context, tenantID int) (*ProductListResult, error)
}
