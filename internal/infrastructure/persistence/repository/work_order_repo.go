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

// WorkOrderRepository implements port.WorkOrderRepository
type WorkOrderRepository struct {
	db     *sql.DB
	logger *zap.Logger
}

// NewWorkOrderRepository creates a new work order repository
func NewWorkOrderRepository(db *sql.DB, logger *zap.Logger) port.WorkOrderRepository {
	return &WorkOrderRepository{
		db:     db,
		logger: logger,
	}
}

const workOrderColumns = `
	id, kind, status, reimbursement_id, opinion, audit_result, audit_date,
	communication_method, content, source_work_order_id, creator_id, updated_by,
	created_at, updated_at`

// Create inserts a work order. Timestamps come from the caller; latest-wins
// reconciliation compares them.
func (r *WorkOrderRepository) Create(ctx context.Context, wo *entity.WorkOrder) error {
	if wo.CreatedAt.IsZero() {
		wo.CreatedAt = time.Now().UTC()
	}
	if wo.UpdatedAt.IsZero() {
		wo.UpdatedAt = wo.CreatedAt
	}

	query := `
		INSERT INTO work_orders (
			kind, status, reimbursement_id, opinion, audit_result, audit_date,
			communication_method, content, source_work_order_id, creator_id, updated_by,
			created_at, updated_at
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`

	result, err := sqlite.ExecutorFor(ctx, r.db).ExecContext(ctx, query,
		wo.Kind,
		wo.Status,
		wo.ReimbursementID,
		wo.Opinion,
		wo.AuditResult,
		wo.AuditDate,
		wo.CommunicationMethod,
		wo.Content,
		wo.SourceWorkOrderID,
		wo.CreatorID,
		wo.UpdatedBy,
		wo.CreatedAt,
		wo.UpdatedAt,
	)
	if err != nil {
		r.logger.Error("Failed to create work order",
			zap.Int64("reimbursement_id", wo.ReimbursementID),
			zap.String("kind", string(wo.Kind)),
			zap.Error(err))
		return fmt.Errorf("failed to create work order: %w", err)
	}

	id, err := result.LastInsertId()
	if err != nil {
		return fmt.Errorf("failed to get last insert id: %w", err)
	}

	wo.ID = id
	return nil
}

// GetByID retrieves a work order by ID
func (r *WorkOrderRepository) GetByID(ctx context.Context, id int64) (*entity.WorkOrder, error) {
	return r.getOne(ctx, `SELECT `+workOrderColumns+` FROM work_orders WHERE id = ?`, id)
}

// GetBySourceID retrieves the audit spawned from a receipt intake order
func (r *WorkOrderRepository) GetBySourceID(ctx context.Context, sourceWorkOrderID int64) (*entity.WorkOrder, error) {
	return r.getOne(ctx, `SELECT `+workOrderColumns+` FROM work_orders WHERE source_work_order_id = ?`, sourceWorkOrderID)
}

func (r *WorkOrderRepository) getOne(ctx context.Context, query string, arg int64) (*entity.WorkOrder, error) {
	wo, err := scanWorkOrder(sqlite.ExecutorFor(ctx, r.db).QueryRowContext(ctx, query, arg))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		r.logger.Error("Failed to get work order", zap.Int64("key", arg), zap.Error(err))
		return nil, fmt.Errorf("failed to get work order: %w", err)
	}
	return wo, nil
}

// GetByReimbursementID retrieves every work order of a reimbursement, oldest first
func (r *WorkOrderRepository) GetByReimbursementID(ctx context.Context, reimbursementID int64) ([]*entity.WorkOrder, error) {
	query := `SELECT ` + workOrderColumns + ` FROM work_orders WHERE reimbursement_id = ? ORDER BY id`

	rows, err := sqlite.ExecutorFor(ctx, r.db).QueryContext(ctx, query, reimbursementID)
	if err != nil {
		r.logger.Error("Failed to get work orders", zap.Int64("reimbursement_id", reimbursementID), zap.Error(err))
		return nil, fmt.Errorf("failed to get work orders: %w", err)
	}
	defer rows.Close()

	var orders []*entity.WorkOrder
	for rows.Next() {
		wo, err := scanWorkOrder(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan work order: %w", err)
		}
		orders = append(orders, wo)
	}
	return orders, rows.Err()
}

// Update writes the mutable fields. Kind, reimbursement and source never change.
func (r *WorkOrderRepository) Update(ctx context.Context, wo *entity.WorkOrder) error {
	query := `
		UPDATE work_orders
		SET status = ?, opinion = ?, audit_result = ?, audit_date = ?,
			communication_method = ?, content = ?, updated_by = ?, updated_at = ?
		WHERE id = ?
	`

	result, err := sqlite.ExecutorFor(ctx, r.db).ExecContext(ctx, query,
		wo.Status,
		wo.Opinion,
		wo.AuditResult,
		wo.AuditDate,
		wo.CommunicationMethod,
		wo.Content,
		wo.UpdatedBy,
		wo.UpdatedAt,
		wo.ID,
	)
	if err != nil {
		r.logger.Error("Failed to update work order", zap.Int64("id", wo.ID), zap.Error(err))
		return fmt.Errorf("failed to update work order: %w", err)
	}

	if n, err := result.RowsAffected(); err == nil && n == 0 {
		return fmt.Errorf("work order %d: %w", wo.ID, sql.ErrNoRows)
	}
	return nil
}

// Delete removes the work order; its selections cascade
func (r *WorkOrderRepository) Delete(ctx context.Context, id int64) error {
	if _, err := sqlite.ExecutorFor(ctx, r.db).ExecContext(ctx, `DELETE FROM work_orders WHERE id = ?`, id); err != nil {
		r.logger.Error("Failed to delete work order", zap.Int64("id", id), zap.Error(err))
		return fmt.Errorf("failed to delete work order: %w", err)
	}
	return nil
}

func scanWorkOrder(row rowScanner) (*entity.WorkOrder, error) {
	var wo entity.WorkOrder
	var auditDate sql.NullTime
	var source sql.NullInt64

	err := row.Scan(
		&wo.ID,
		&wo.Kind,
		&wo.Status,
		&wo.ReimbursementID,
		&wo.Opinion,
		&wo.AuditResult,
		&auditDate,
		&wo.CommunicationMethod,
		&wo.Content,
		&source,
		&wo.CreatorID,
		&wo.UpdatedBy,
		&wo.CreatedAt,
		&wo.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}

	wo.AuditDate = nullTime(auditDate)
	if source.Valid {
		v := source.Int64
		wo.SourceWorkOrderID = &v
	}
	return &wo, nil
}
