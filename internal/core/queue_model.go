package core

import (
	"time"

	"github.com/shopspring/decimal"
)

// QueueStatus is the processing state of one issuance queue entry.
//
//	MAPPING_REQUIRED ──resolve──▶ READY ──auto/manual issue──▶ ISSUED
//	      ▲                        │  │
//	      └────────unlink──────────┘  └─auto──▶ MANUAL_REVIEW | ERROR
//
// ISSUED is terminal. Any entry may be deleted.
type QueueStatus string

const (
	StatusPending         QueueStatus = "PENDING"
	StatusMappingRequired QueueStatus = "MAPPING_REQUIRED"
	StatusReady           QueueStatus = "READY"
	StatusManualReview    QueueStatus = "MANUAL_REVIEW"
	StatusIssued          QueueStatus = "ISSUED"
	StatusError           QueueStatus = "ERROR"
)

// QueueOperation names an operator- or system-driven queue transition.
type QueueOperation string

const (
	OpResolveMapping QueueOperation = "resolve_mapping"
	OpUnlink         QueueOperation = "unlink"
	OpAutoAllocate   QueueOperation = "auto_allocate"
	OpManualIssue    QueueOperation = "manual_issue"
)

// Messages stored on entries that need operator attention.
const (
	MsgMappingNotFound     = "mapping not found"
	MsgSingleLotShortfall  = "insufficient balance in a single lot; manual lot selection required"
	MsgCounterpartyMissing = "counterparty not found"
)

var allowedFrom = map[QueueOperation]map[QueueStatus]bool{
	OpResolveMapping: {StatusPending: true, StatusMappingRequired: true, StatusReady: true, StatusManualReview: true, StatusError: true},
	OpUnlink:         {StatusMappingRequired: true, StatusReady: true, StatusManualReview: true, StatusError: true},
	OpAutoAllocate:   {StatusReady: true, StatusManualReview: true, StatusError: true},
	OpManualIssue:    {StatusReady: true, StatusManualReview: true, StatusError: true},
}

// Allows reports whether op may run on an entry in status s.
func (s QueueStatus) Allows(op QueueOperation) bool {
	return allowedFrom[op][s]
}

// Valid reports whether s is one of the known statuses.
func (s QueueStatus) Valid() bool {
	switch s {
	case StatusPending, StatusMappingRequired, StatusReady, StatusManualReview, StatusIssued, StatusError:
		return true
	}
	return false
}

// QueueEntry is the per-line-item unit of work.
type QueueEntry struct {
	ID           int         `json:"id"`
	TenantID     int         `json:"tenant_id"`
	ItemID       int         `json:"item_id"`
	Status       QueueStatus `json:"status"`
	Priority     int         `json:"priority"`
	ErrorMessage *string     `json:"error_message,omitempty"`
	CreatedAt    time.Time   `json:"created_at"`
	UpdatedAt    time.Time   `json:"updated_at"`
}

// QueueItemSummary is the line item part of a queue listing row.
type QueueItemSummary struct {
	ID             int             `json:"id"`
	SequenceNumber *int            `json:"sequence_number,omitempty"`
	ProductCode    string          `json:"product_code"`
	ProductName    string          `json:"product_name"`
	Quantity       decimal.Decimal `json:"quantity"`
	Unit           string          `json:"unit"`
	UnitValue      decimal.Decimal `json:"unit_value"`
	NCM            string          `json:"ncm"`
}

// QueueDocumentSummary is the document part of a queue listing row.
type QueueDocumentSummary struct {
	ID             int       `json:"id"`
	Number         string    `json:"number"`
	Series         string    `json:"series"`
	IssuerName     string    `json:"issuer_name"`
	IssuerTaxID    string    `json:"issuer_tax_id"`
	RecipientName  string    `json:"recipient_name"`
	RecipientTaxID string    `json:"recipient_tax_id"`
	EmissionDate   time.Time `json:"emission_date"`
}

// QueueView is a queue entry joined with its line item and document.
type QueueView struct {
	QueueEntry
	Item     QueueItemSummary     `json:"item"`
	Document QueueDocumentSummary `json:"document"`
}
