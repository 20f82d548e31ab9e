package core

import (
	"time"

	"github.com/shopspring/decimal"
)

// InboundLot is one received batch of a product (an entry certificate).
// It is created by the receiving workflow and only read here.
type InboundLot struct {
	ID                int             `json:"id"`
	TenantID          int             `json:"tenant_id"`
	ProductID         int             `json:"product_id"`
	ReceivedQuantity  decimal.Decimal `json:"received_quantity"`
	MeasureUnit       string          `json:"measure_unit"`
	ExpirationDate    *time.Time      `json:"expiration_date,omitempty"`
	ManufacturingDate *time.Time      `json:"manufacturing_date,omitempty"`
	InternalLot       *string         `json:"internal_lot,omitempty"`
	SupplierLot       *string         `json:"supplier_lot,omitempty"`
	Status            string          `json:"status"`
	CreatedAt         time.Time       `json:"created_at"`
}

// Stored scale of quantity and unit value columns.
const (
	QuantityScale  = 4
	UnitValueScale = 10
)

// fitsScale reports whether d has no significant digits beyond places.
func fitsScale(d decimal.Decimal, places int32) bool {
	return d.Equal(d.Truncate(places))
}

// CustomLotLabel is the lot label printed on an allocation.
func (l InboundLot) CustomLotLabel() string {
	if l.InternalLot != nil && *l.InternalLot != "" {
		return *l.InternalLot
	}
	return "N/A"
}

// LotBalance is a lot annotated with its derived balance:
// Balance = ReceivedQuantity - Issued.
type LotBalance struct {
	Lot     InboundLot      `json:"lot"`
	Issued  decimal.Decimal `json:"issued"`
	Balance decimal.Decimal `json:"balance"`
}

// OutboundAllocation is an issued certificate: quantity consumed from a lot
// on behalf of a client. Immutable once written.
type OutboundAllocation struct {
	ID            int             `json:"id"`
	TenantID      int             `json:"tenant_id"`
	LotID         int             `json:"entry_certificate_id"`
	PartyID       int             `json:"client_id"`
	InvoiceNumber string          `json:"invoice_number"`
	SoldQuantity  decimal.Decimal `json:"sold_quantity"`
	MeasureUnit   string          `json:"measure_unit"`
	IssueDate     time.Time       `json:"issue_date"`
	CustomLot     string          `json:"custom_lot"`
	QueueID       *int            `json:"queue_id,omitempty"`
	CreatedAt     time.Time       `json:"created_at"`
}

// LotSelection is one operator-chosen (lot, quantity) pair for manual issuance.
type LotSelection struct {
	LotID    int             `json:"lot_id" validate:"required,gt=0"`
	Quantity decimal.Decimal `json:"quantity" validate:"gt=0"`
}

// AllocationMode distinguishes the two allocation policies.
type AllocationMode string

const (
	ModeAutomatic AllocationMode = "automatic"
	ModeManual    AllocationMode = "manual"
)

// AllocationResult reports the outcome of one allocation call.
type AllocationResult struct {
	QueueID     int                  `json:"queue_id"`
	Mode        AllocationMode       `json:"mode"`
	Status      QueueStatus          `json:"status"`
	Message     string               `json:"message,omitempty"`
	Allocations []OutboundAllocation `json:"allocations,omitempty"`
}

// Allocated sums the quantities of the allocations created by the call.
func (r *AllocationResult) Allocated() decimal.Decimal {
	total := decimal.Zero
	for _, a := range r.Allocations {
		total = total.Add(a.SoldQuantity)
	}
	return total
}

// BatchSummary counts the outcomes of an automatic pass over a tenant's queue.
type BatchSummary struct {
	Processed       int `json:"processed"`
	Issued          int `json:"issued"`
	ManualReview    int `json:"manual_review"`
	Error           int `json:"error"`
	MappingRequired int `json:"mapping_required"`
	Failed          int `json:"failed"`
}
