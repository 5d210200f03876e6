package port

import "context"

// ExternalStatusRow is one upstream status record
type ExternalStatusRow struct {
	Row           int    `json:"row"`
	InvoiceNumber string `json:"invoice_number"`
	Status        string `json:"status"`
}

// StatusFeed reads the upstream system's status export
type StatusFeed interface {
	Rows(ctx context.Context) ([]ExternalStatusRow, error)
}
