package app

import "github.com/magnus-im/CertificateManager/internal/core"

// ImportDocumentRequest is the input for ingesting one NF-e payload.
type ImportDocumentRequest struct {
	TenantID int    `json:"-" validate:"required,gt=0"`
	Filename string `json:"filename"`
	Payload  []byte `json:"-" validate:"required,min=1"`
}

// ResolveMappingRequest links a queue entry's supplier SKU to a catalog product.
type ResolveMappingRequest struct {
	TenantID  int `json:"-" validate:"required,gt=0"`
	QueueID   int `json:"queue_id" validate:"required,gt=0"`
	ProductID int `json:"product_id" validate:"required,gt=0"`
}

// IssueManualRequest is the operator's explicit lot split for one queue entry.
type IssueManualRequest struct {
	TenantID   int                 `json:"-" validate:"required,gt=0"`
	QueueID    int                 `json:"-" validate:"required,gt=0"`
	Selections []core.LotSelection `json:"selections" validate:"required,min=1,dive"`
}
