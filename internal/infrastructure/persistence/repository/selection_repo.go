package repository

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/garyjia/expense-reconciler/internal/application/port"
	"github.com/garyjia/expense-reconciler/internal/domain/entity"
	"github.com/garyjia/expense-reconciler/internal/infrastructure/persistence/sqlite"
	"go.uber.org/zap"
)

// SelectionRepository implements port.SelectionRepository
type SelectionRepository struct {
	db     *sql.DB
	logger *zap.Logger
}

// NewSelectionRepository creates a new selection repository
func NewSelectionRepository(db *sql.DB, logger *zap.Logger) port.SelectionRepository {
	return &SelectionRepository{
		db:     db,
		logger: logger,
	}
}

// Create inserts the pairing unless it already exists
func (r *SelectionRepository) Create(ctx context.Context, sel *entity.Selection) (bool, error) {
	if sel.CreatedAt.IsZero() {
		sel.CreatedAt = time.Now().UTC()
	}

	query := `
		INSERT INTO selections (work_order_id, line_item_id, note, created_by, created_at)
		VALUES (?, ?, ?, ?, ?)
		ON CONFLICT (work_order_id, line_item_id) DO NOTHING
	`

	result, err := sqlite.ExecutorFor(ctx, r.db).ExecContext(ctx, query,
		sel.WorkOrderID,
		sel.LineItemID,
		sel.Note,
		sel.CreatedBy,
		sel.CreatedAt,
	)
	if err != nil {
		r.logger.Error("Failed to create selection",
			zap.Int64("work_order_id", sel.WorkOrderID),
			zap.Int64("line_item_id", sel.LineItemID),
			zap.Error(err))
		return false, fmt.Errorf("failed to create selection: %w", err)
	}

	n, err := result.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("failed to get rows affected: %w", err)
	}
	if n == 0 {
		return false, nil
	}

	id, err := result.LastInsertId()
	if err != nil {
		return false, fmt.Errorf("failed to get last insert id: %w", err)
	}
	sel.ID = id
	return true, nil
}

// Delete removes the pairing
func (r *SelectionRepository) Delete(ctx context.Context, workOrderID, lineItemID int64) (bool, error) {
	result, err := sqlite.ExecutorFor(ctx, r.db).ExecContext(ctx,
		`DELETE FROM selections WHERE work_order_id = ? AND line_item_id = ?`, workOrderID, lineItemID)
	if err != nil {
		r.logger.Error("Failed to delete selection",
			zap.Int64("work_order_id", workOrderID),
			zap.Int64("line_item_id", lineItemID),
			zap.Error(err))
		return false, fmt.Errorf("failed to delete selection: %w", err)
	}

	n, err := result.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("failed to get rows affected: %w", err)
	}
	return n > 0, nil
}

// GetByWorkOrderID retrieves the selections of a work order, by line item id
func (r *SelectionRepository) GetByWorkOrderID(ctx context.Context, workOrderID int64) ([]*entity.Selection, error) {
	query := `
		SELECT id, work_order_id, line_item_id, note, created_by, created_at
		FROM selections
		WHERE work_order_id = ?
		ORDER BY line_item_id
	`

	rows, err := sqlite.ExecutorFor(ctx, r.db).QueryContext(ctx, query, workOrderID)
	if err != nil {
		r.logger.Error("Failed to get selections", zap.Int64("work_order_id", workOrderID), zap.Error(err))
		return nil, fmt.Errorf("failed to get selections: %w", err)
	}
	defer rows.Close()

	var selections []*entity.Selection
	for rows.Next() {
		var sel entity.Selection
		if err := rows.Scan(&sel.ID, &sel.WorkOrderID, &sel.LineItemID, &sel.Note, &sel.CreatedBy, &sel.CreatedAt); err != nil {
			return nil, fmt.Errorf("failed to scan selection: %w", err)
		}
		selections = append(selections, &sel)
	}
	return selections, rows.Err()
}
