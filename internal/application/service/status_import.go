package service

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/garyjia/expense-reconciler/internal/application/port"
	"github.com/garyjia/expense-reconciler/internal/domain/entity"
)

// ImportReport summarizes one status feed import
type ImportReport struct {
	Total     int                                  `json:"total"`
	Applied   int                                  `json:"applied"`
	Unchanged int                                  `json:"unchanged"`
	Failed    []ImportFailure                      `json:"failed,omitempty"`
	Statuses  map[int64]entity.ReimbursementStatus `json:"statuses"`
}

// ImportFailure describes a row that could not be ingested
type ImportFailure struct {
	Row           int    `json:"row"`
	InvoiceNumber string `json:"invoice_number"`
	Reason        string `json:"reason"`
}

// StatusImporter ingests an upstream status feed row by row
type StatusImporter interface {
	Import(ctx context.Context, feed port.StatusFeed, actor entity.Actor) (*ImportReport, error)
}

type statusImporterImpl struct {
	reimbursements port.ReimbursementRepository
	resolver       Resolver
	logger         Logger
}

// NewStatusImporter creates a new StatusImporter
func NewStatusImporter(reimbursements port.ReimbursementRepository, resolver Resolver, logger Logger) StatusImporter {
	return &statusImporterImpl{
		reimbursements: reimbursements,
		resolver:       resolver,
		logger:         logger,
	}
}

// Import ingests every row. Rows for unknown invoices are reported, not fatal.
// Reading the feed and persistence failures abort the import.
func (s *statusImporterImpl) Import(ctx context.Context, feed port.StatusFeed, actor entity.Actor) (*ImportReport, error) {
	rows, err := feed.Rows(ctx)
	if err != nil {
		return nil, fmt.Errorf("read status feed: %w", err)
	}

	report := &ImportReport{
		Total:    len(rows),
		Statuses: make(map[int64]entity.ReimbursementStatus),
	}

	for _, row := range rows {
		invoice := strings.TrimSpace(row.InvoiceNumber)
		r, err := s.reimbursements.GetByInvoiceNumber(ctx, invoice)
		if err != nil {
			return report, fmt.Errorf("row %d: get reimbursement: %w", row.Row, err)
		}
		if r == nil {
			report.Failed = append(report.Failed, ImportFailure{Row: row.Row, InvoiceNumber: invoice, Reason: "unknown invoice number"})
			continue
		}

		before := r.Status
		status, err := s.resolver.IngestExternalStatus(ctx, r.ID, strings.TrimSpace(row.Status), actor)
		if err != nil {
			if errors.Is(err, ErrNotFound) || errors.Is(err, ErrValidation) {
				report.Failed = append(report.Failed, ImportFailure{Row: row.Row, InvoiceNumber: invoice, Reason: err.Error()})
				continue
			}
			return report, fmt.Errorf("row %d: %w", row.Row, err)
		}

		report.Statuses[r.ID] = status
		if status == before {
			report.Unchanged++
		} else {
			report.Applied++
		}
	}

	s.logger.Info("Status feed imported",
		"total", report.Total,
		"applied", report.Applied,
		"unchanged", report.Unchanged,
		"failed", len(report.Failed),
		"actor", actor.String(),
	)
	return report, nil
}
