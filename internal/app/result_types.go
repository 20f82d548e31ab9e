package app

import "github.com/magnus-im/CertificateManager/internal/core"

// QueueListResult is returned by ListQueue.
type QueueListResult struct {
	Entries []core.QueueView         `json:"entries"`
	Counts  map[core.QueueStatus]int `json:"counts"`
}

// DeleteResult is returned by DeleteEntry.
type DeleteResult struct {
	QueueID         int  `json:"queue_id"`
	DocumentDeleted bool `json:"document_deleted"`
}

// LotListResult is returned by ListEligibleLots.
type LotListResult struct {
	QueueID int               `json:"queue_id"`
	Lots    []core.LotBalance `json:"lots"`
}

// ProductListResult is returned by ListProducts.
type ProductListResult struct {
	Products []core.Product `json:"products"`
}
