package repository

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/garyjia/expense-reconciler/internal/application/port"
	"github.com/garyjia/expense-reconciler/internal/domain/entity"
	"github.com/garyjia/expense-reconciler/internal/infrastructure/persistence/sqlite"
	"go.uber.org/zap"
)

// ReconciliationStore implements port.ReconciliationStore. It is the only
// writer of fee_line_items.verification_status and reimbursements.status.
type ReconciliationStore struct {
	db     *sql.DB
	logger *zap.Logger
}

// NewReconciliationStore creates a new reconciliation store
func NewReconciliationStore(db *sql.DB, logger *zap.Logger) port.ReconciliationStore {
	return &ReconciliationStore{
		db:     db,
		logger: logger,
	}
}

const snapshotColumns = `wo.id, wo.kind, wo.status, wo.opinion, wo.audit_result, wo.updated_at`

// LoadWorkOrdersForLineItem returns the work orders selected for the line item
func (s *ReconciliationStore) LoadWorkOrdersForLineItem(ctx context.Context, lineItemID int64) ([]entity.WorkOrderSnapshot, error) {
	query := `
		SELECT ` + snapshotColumns + `
		FROM work_orders wo
		JOIN selections s ON s.work_order_id = wo.id
		WHERE s.line_item_id = ?
		ORDER BY wo.id
	`
	snapshots, err := s.loadSnapshots(ctx, query, lineItemID)
	if err != nil {
		s.logger.Error("Failed to load work orders for line item", zap.Int64("line_item_id", lineItemID), zap.Error(err))
		return nil, fmt.Errorf("failed to load work orders for line item: %w", err)
	}
	return snapshots, nil
}

// LoadWorkOrdersForReimbursement returns every work order of the reimbursement
func (s *ReconciliationStore) LoadWorkOrdersForReimbursement(ctx context.Context, reimbursementID int64) ([]entity.WorkOrderSnapshot, error) {
	query := `
		SELECT ` + snapshotColumns + `
		FROM work_orders wo
		WHERE wo.reimbursement_id = ?
		ORDER BY wo.id
	`
	snapshots, err := s.loadSnapshots(ctx, query, reimbursementID)
	if err != nil {
		s.logger.Error("Failed to load work orders for reimbursement", zap.Int64("reimbursement_id", reimbursementID), zap.Error(err))
		return nil, fmt.Errorf("failed to load work orders for reimbursement: %w", err)
	}
	return snapshots, nil
}

func (s *ReconciliationStore) loadSnapshots(ctx context.Context, query string, arg int64) ([]entity.WorkOrderSnapshot, error) {
	rows, err := sqlite.ExecutorFor(ctx, s.db).QueryContext(ctx, query, arg)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var snapshots []entity.WorkOrderSnapshot
	for rows.Next() {
		var snap entity.WorkOrderSnapshot
		if err := rows.Scan(&snap.ID, &snap.Kind, &snap.Status, &snap.Opinion, &snap.AuditResult, &snap.UpdatedAt); err != nil {
			return nil, err
		}
		snapshots = append(snapshots, snap)
	}
	return snapshots, rows.Err()
}

// LoadLineItemStatuses returns the verification status of each line item of the reimbursement
func (s *ReconciliationStore) LoadLineItemStatuses(ctx context.Context, reimbursementID int64) ([]entity.LineItemStatus, error) {
	query := `
		SELECT li.id, li.verification_status
		FROM fee_line_items li
		JOIN reimbursements r ON r.invoice_number = li.document_number
		WHERE r.id = ?
		ORDER BY li.id
	`

	rows, err := sqlite.ExecutorFor(ctx, s.db).QueryContext(ctx, query, reimbursementID)
	if err != nil {
		s.logger.Error("Failed to load line item statuses", zap.Int64("reimbursement_id", reimbursementID), zap.Error(err))
		return nil, fmt.Errorf("failed to load line item statuses: %w", err)
	}
	defer rows.Close()

	var statuses []entity.LineItemStatus
	for rows.Next() {
		var st entity.LineItemStatus
		if err := rows.Scan(&st.LineItemID, &st.Status); err != nil {
			return nil, fmt.Errorf("failed to scan line item status: %w", err)
		}
		statuses = append(statuses, st)
	}
	return statuses, rows.Err()
}

// IsReimbursementClosed reports whether the reimbursement is closed. A missing
// reimbursement is not closed.
func (s *ReconciliationStore) IsReimbursementClosed(ctx context.Context, reimbursementID int64) (bool, error) {
	var status entity.ReimbursementStatus
	err := sqlite.ExecutorFor(ctx, s.db).QueryRowContext(ctx,
		`SELECT status FROM reimbursements WHERE id = ?`, reimbursementID).Scan(&status)
	if errors.Is(err, sql.ErrNoRows) {
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("failed to read reimbursement status: %w", err)
	}
	return status == entity.ReimbursementClosed, nil
}

// PersistLineItemStatus writes the derived verification status
func (s *ReconciliationStore) PersistLineItemStatus(ctx context.Context, lineItemID int64, status entity.VerificationStatus) error {
	if !status.IsValid() {
		return fmt.Errorf("invalid verification status %q", status)
	}

	_, err := sqlite.ExecutorFor(ctx, s.db).ExecContext(ctx,
		`UPDATE fee_line_items SET verification_status = ?, updated_at = ? WHERE id = ?`,
		status, time.Now().UTC(), lineItemID)
	if err != nil {
		s.logger.Error("Failed to persist line item status", zap.Int64("line_item_id", lineItemID), zap.Error(err))
		return fmt.Errorf("failed to persist line item status: %w", err)
	}
	return nil
}

// PersistReimbursementStatus writes the status together with the override flag
func (s *ReconciliationStore) PersistReimbursementStatus(ctx context.Context, reimbursementID int64, status entity.ReimbursementStatus, manualOverride bool, overrideAt *time.Time) error {
	if !status.IsValid() {
		return fmt.Errorf("invalid reimbursement status %q", status)
	}

	_, err := sqlite.ExecutorFor(ctx, s.db).ExecContext(ctx, `
		UPDATE reimbursements
		SET status = ?, manual_override = ?, manual_override_at = ?, updated_at = ?
		WHERE id = ?
	`, status, manualOverride, overrideAt, time.Now().UTC(), reimbursementID)
	if err != nil {
		s.logger.Error("Failed to persist reimbursement status", zap.Int64("reimbursement_id", reimbursementID), zap.Error(err))
		return fmt.Errorf("failed to persist reimbursement status: %w", err)
	}
	return nil
}
