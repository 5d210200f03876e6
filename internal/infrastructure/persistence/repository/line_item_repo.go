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

// LineItemRepository implements port.LineItemRepository. Amounts are stored
// as decimal text.
type LineItemRepository struct {
	db     *sql.DB
	logger *zap.Logger
}

// NewLineItemRepository creates a new fee line item repository
func NewLineItemRepository(db *sql.DB, logger *zap.Logger) port.LineItemRepository {
	return &LineItemRepository{
		db:     db,
		logger: logger,
	}
}

const lineItemColumns = `
	id, document_number, external_id, description, amount, verification_status,
	created_at, updated_at`

// Create inserts a pending line item
func (r *LineItemRepository) Create(ctx context.Context, item *entity.FeeLineItem) error {
	if item.CreatedAt.IsZero() {
		item.CreatedAt = time.Now().UTC()
	}
	item.UpdatedAt = item.CreatedAt
	item.VerificationStatus = entity.VerificationPending

	query := `
		INSERT INTO fee_line_items (
			document_number, external_id, description, amount, verification_status,
			created_at, updated_at
		) VALUES (?, ?, ?, ?, ?, ?, ?)
	`

	result, err := sqlite.ExecutorFor(ctx, r.db).ExecContext(ctx, query,
		item.DocumentNumber,
		item.ExternalID,
		item.Description,
		item.Amount.String(),
		item.VerificationStatus,
		item.CreatedAt,
		item.UpdatedAt,
	)
	if err != nil {
		r.logger.Error("Failed to create line item",
			zap.String("document_number", item.DocumentNumber),
			zap.String("external_id", item.ExternalID),
			zap.Error(err))
		return fmt.Errorf("failed to create line item: %w", err)
	}

	id, err := result.LastInsertId()
	if err != nil {
		return fmt.Errorf("failed to get last insert id: %w", err)
	}

	item.ID = id
	return nil
}

// GetByID retrieves a line item by ID
func (r *LineItemRepository) GetByID(ctx context.Context, id int64) (*entity.FeeLineItem, error) {
	query := `SELECT ` + lineItemColumns + ` FROM fee_line_items WHERE id = ?`

	item, err := scanLineItem(sqlite.ExecutorFor(ctx, r.db).QueryRowContext(ctx, query, id))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		r.logger.Error("Failed to get line item by ID", zap.Int64("id", id), zap.Error(err))
		return nil, fmt.Errorf("failed to get line item: %w", err)
	}
	return item, nil
}

// GetByExternalID retrieves a line item by its upstream identifier
func (r *LineItemRepository) GetByExternalID(ctx context.Context, externalID string) (*entity.FeeLineItem, error) {
	query := `SELECT ` + lineItemColumns + ` FROM fee_line_items WHERE external_id = ?`

	item, err := scanLineItem(sqlite.ExecutorFor(ctx, r.db).QueryRowContext(ctx, query, externalID))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		r.logger.Error("Failed to get line item by external ID", zap.String("external_id", externalID), zap.Error(err))
		return nil, fmt.Errorf("failed to get line item: %w", err)
	}
	return item, nil
}

// GetByDocumentNumber retrieves the line items of a reimbursement, by id
func (r *LineItemRepository) GetByDocumentNumber(ctx context.Context, documentNumber string) ([]*entity.FeeLineItem, error) {
	query := `SELECT ` + lineItemColumns + ` FROM fee_line_items WHERE document_number = ? ORDER BY id`

	rows, err := sqlite.ExecutorFor(ctx, r.db).QueryContext(ctx, query, documentNumber)
	if err != nil {
		r.logger.Error("Failed to get line items", zap.String("document_number", documentNumber), zap.Error(err))
		return nil, fmt.Errorf("failed to get line items: %w", err)
	}
	defer rows.Close()

	var items []*entity.FeeLineItem
	for rows.Next() {
		item, err := scanLineItem(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan line item: %w", err)
		}
		items = append(items, item)
	}
	return items, rows.Err()
}

func scanLineItem(row rowScanner) (*entity.FeeLineItem, error) {
	var item entity.FeeLineItem
	err := row.Scan(
		&item.ID,
		&item.DocumentNumber,
		&item.ExternalID,
		&item.Description,
		&item.Amount,
		&item.VerificationStatus,
		&item.CreatedAt,
		&item.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}
	return &item, nil
}
