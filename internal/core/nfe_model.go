package core

import (
	"time"

	"github.com/shopspring/decimal"
)

// DocumentStatusImported is the lifecycle status set when a document is ingested.
const DocumentStatusImported = "imported"

// Identity is a tax id plus legal name as printed on a fiscal document.
type Identity struct {
	TaxID string `json:"tax_id" validate:"required"`
	Name  string `json:"name"`
}

// RecipientAddress carries the optional address sub-fields of the recipient.
type RecipientAddress struct {
	Street   string `json:"street,omitempty"`
	Number   string `json:"number,omitempty"`
	District string `json:"district,omitempty"`
	City     string `json:"city,omitempty"`
	State    string `json:"state,omitempty"`
	Phone    string `json:"phone,omitempty"`
}

// DocumentHeader is the normalized header of a fiscal document.
type DocumentHeader struct {
	AccessKey    string           `json:"access_key" validate:"required,len=44,number"`
	Number       string           `json:"number" validate:"required"`
	Series       string           `json:"series"`
	EmissionDate time.Time        `json:"emission_date" validate:"required"`
	Issuer       Identity         `json:"issuer"`
	Recipient    Identity         `json:"recipient"`
	Address      RecipientAddress `json:"address"`
}

// ParsedItem is one normalized product line of a fiscal document.
type ParsedItem struct {
	SequenceNumber *int            `json:"sequence_number,omitempty"`
	ProductCode    string          `json:"product_code" validate:"required"`
	Description    string          `json:"description"`
	Quantity       decimal.Decimal `json:"quantity" validate:"gt=0"`
	Unit           string          `json:"unit"`
	UnitValue      decimal.Decimal `json:"unit_value"`
	NCM            string          `json:"ncm"`
	CFOP           string          `json:"cfop"`
}

// ParsedDocument is the parser output: one header plus its items in document order.
type ParsedDocument struct {
	Header DocumentHeader `json:"header"`
	Items  []ParsedItem   `json:"items" validate:"required,min=1,dive"`
	Raw    string         `json:"-"`
}

// IngestOutcome distinguishes an accepted document from a re-ingested one.
type IngestOutcome string

const (
	IngestAccepted        IngestOutcome = "accepted"
	IngestAlreadyImported IngestOutcome = "already_imported"
)

// IngestResult is returned by Ingest. Parse failures are returned as errors instead.
type IngestResult struct {
	Outcome    IngestOutcome `json:"outcome"`
	DocumentID int           `json:"document_id,omitempty"`
	AccessKey  string        `json:"access_key"`
	Items      int           `json:"items,omitempty"`
	Message    string        `json:"message"`
}
