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

// ReimbursementRepository implements port.ReimbursementRepository
type ReimbursementRepository struct {
	db     *sql.DB
	logger *zap.Logger
}

// NewReimbursementRepository creates a new reimbursement repository
func NewReimbursementRepository(db *sql.DB, logger *zap.Logger) port.ReimbursementRepository {
	return &ReimbursementRepository{
		db:     db,
		logger: logger,
	}
}

const reimbursementColumns = `
	id, invoice_number, status, external_status, manual_override, manual_override_at,
	last_update_at, last_viewed_at, created_at, updated_at`

// Create inserts a pending reimbursement
func (r *ReimbursementRepository) Create(ctx context.Context, reimbursement *entity.Reimbursement) error {
	if reimbursement.CreatedAt.IsZero() {
		reimbursement.CreatedAt = time.Now().UTC()
	}
	reimbursement.UpdatedAt = reimbursement.CreatedAt
	reimbursement.Status = entity.ReimbursementPending
	reimbursement.ManualOverride = false
	reimbursement.ManualOverrideAt = nil

	query := `
		INSERT INTO reimbursements (
			invoice_number, status, external_status, created_at, updated_at
		) VALUES (?, ?, ?, ?, ?)
	`

	result, err := sqlite.ExecutorFor(ctx, r.db).ExecContext(ctx, query,
		reimbursement.InvoiceNumber,
		reimbursement.Status,
		reimbursement.ExternalStatus,
		reimbursement.CreatedAt,
		reimbursement.UpdatedAt,
	)
	if err != nil {
		r.logger.Error("Failed to create reimbursement",
			zap.String("invoice_number", reimbursement.InvoiceNumber), zap.Error(err))
		return fmt.Errorf("failed to create reimbursement: %w", err)
	}

	id, err := result.LastInsertId()
	if err != nil {
		return fmt.Errorf("failed to get last insert id: %w", err)
	}

	reimbursement.ID = id
	return nil
}

// GetByID retrieves a reimbursement by ID
func (r *ReimbursementRepository) GetByID(ctx context.Context, id int64) (*entity.Reimbursement, error) {
	query := `SELECT ` + reimbursementColumns + ` FROM reimbursements WHERE id = ?`

	reimbursement, err := scanReimbursement(sqlite.ExecutorFor(ctx, r.db).QueryRowContext(ctx, query, id))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		r.logger.Error("Failed to get reimbursement by ID", zap.Int64("id", id), zap.Error(err))
		return nil, fmt.Errorf("failed to get reimbursement: %w", err)
	}
	return reimbursement, nil
}

// GetByInvoiceNumber retrieves a reimbursement by its invoice number
func (r *ReimbursementRepository) GetByInvoiceNumber(ctx context.Context, invoiceNumber string) (*entity.Reimbursement, error) {
	query := `SELECT ` + reimbursementColumns + ` FROM reimbursements WHERE invoice_number = ?`

	reimbursement, err := scanReimbursement(sqlite.ExecutorFor(ctx, r.db).QueryRowContext(ctx, query, invoiceNumber))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		r.logger.Error("Failed to get reimbursement by invoice number",
			zap.String("invoice_number", invoiceNumber), zap.Error(err))
		return nil, fmt.Errorf("failed to get reimbursement: %w", err)
	}
	return reimbursement, nil
}

// List returns reimbursements newest first
func (r *ReimbursementRepository) List(ctx context.Context, limit, offset int) ([]*entity.Reimbursement, error) {
	query := `SELECT ` + reimbursementColumns + ` FROM reimbursements ORDER BY id DESC LIMIT ? OFFSET ?`

	rows, err := sqlite.ExecutorFor(ctx, r.db).QueryContext(ctx, query, limit, offset)
	if err != nil {
		r.logger.Error("Failed to list reimbursements", zap.Error(err))
		return nil, fmt.Errorf("failed to list reimbursements: %w", err)
	}
	defer rows.Close()

	var reimbursements []*entity.Reimbursement
	for rows.Next() {
		reimbursement, err := scanReimbursement(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan reimbursement: %w", err)
		}
		reimbursements = append(reimbursements, reimbursement)
	}
	return reimbursements, rows.Err()
}

// SetExternalStatus stores the upstream label verbatim
func (r *ReimbursementRepository) SetExternalStatus(ctx context.Context, id int64, label string) error {
	query := `UPDATE reimbursements SET external_status = ?, updated_at = ? WHERE id = ?`

	if _, err := sqlite.ExecutorFor(ctx, r.db).ExecContext(ctx, query, label, time.Now().UTC(), id); err != nil {
		r.logger.Error("Failed to set external status", zap.Int64("id", id), zap.Error(err))
		return fmt.Errorf("failed to set external status: %w", err)
	}
	return nil
}

// TouchLastUpdate moves last_update_at forward; an older timestamp is ignored
func (r *ReimbursementRepository) TouchLastUpdate(ctx context.Context, id int64, at time.Time) error {
	query := `
		UPDATE reimbursements SET last_update_at = ?
		WHERE id = ? AND (last_update_at IS NULL OR last_update_at < ?)
	`

	at = at.UTC()
	if _, err := sqlite.ExecutorFor(ctx, r.db).ExecContext(ctx, query, at, id, at); err != nil {
		r.logger.Error("Failed to touch last update", zap.Int64("id", id), zap.Error(err))
		return fmt.Errorf("failed to touch last update: %w", err)
	}
	return nil
}

type rowScanner interface {
	Scan(dest ...interface{}) error
}

func scanReimbursement(row rowScanner) (*entity.Reimbursement, error) {
	var reimbursement entity.Reimbursement
	var overrideAt, lastUpdateAt, lastViewedAt sql.NullTime

	err := row.Scan(
		&reimbursement.ID,
		&reimbursement.InvoiceNumber,
		&reimbursement.Status,
		&reimbursement.ExternalStatus,
		&reimbursement.ManualOverride,
		&overrideAt,
		&lastUpdateAt,
		&lastViewedAt,
		&reimbursement.CreatedAt,
		&reimbursement.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}

	reimbursement.ManualOverrideAt = nullTime(overrideAt)
	reimbursement.LastUpdateAt = nullTime(lastUpdateAt)
	reimbursement.LastViewedAt = nullTime(lastViewedAt)
	return &reimbursement, nil
}

func nullTime(t sql.NullTime) *time.Time {
	if !t.Valid {
		return nil
	}
	v := t.Time
	return &v
}
