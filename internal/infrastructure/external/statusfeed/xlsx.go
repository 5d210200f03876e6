// Package statusfeed reads upstream reimbursement statuses from spreadsheet exports.
package statusfeed

import (
	"context"
	"errors"
	"fmt"
	"io"
	"strings"

	"github.com/xuri/excelize/v2"
	"go.uber.org/zap"

	"github.com/garyjia/expense-reconciler/internal/application/port"
)

// ErrMissingColumn is returned when the header row lacks a required column
var ErrMissingColumn = errors.New("missing column")

// Header aliases accepted for each column, compared case-insensitively
var (
	invoiceHeaders = []string{"invoice_number", "invoice number", "单据编号", "发票号"}
	statusHeaders  = []string{"status", "external_status", "状态", "付款状态"}
)

// XLSXFeed is a port.StatusFeed over one sheet of an XLSX workbook. The first
// non-empty row is the header.
type XLSXFeed struct {
	open   func() (*excelize.File, error)
	sheet  string
	logger *zap.Logger
}

// NewXLSXFile reads the workbook at path. An empty sheet selects the first one.
func NewXLSXFile(path, sheet string, logger *zap.Logger) *XLSXFeed {
	return &XLSXFeed{
		open:   func() (*excelize.File, error) { return excelize.OpenFile(path) },
		sheet:  sheet,
		logger: logger,
	}
}

// NewXLSXReader reads the workbook from r, for uploads
func NewXLSXReader(r io.Reader, sheet string, logger *zap.Logger) *XLSXFeed {
	return &XLSXFeed{
		open:   func() (*excelize.File, error) { return excelize.OpenReader(r) },
		sheet:  sheet,
		logger: logger,
	}
}

// Rows returns every data row. Row numbers match the spreadsheet's.
func (f *XLSXFeed) Rows(ctx context.Context) ([]port.ExternalStatusRow, error) {
	book, err := f.open()
	if err != nil {
		return nil, fmt.Errorf("open workbook: %w", err)
	}
	defer func() {
		if err := book.Close(); err != nil {
			f.logger.Warn("Failed to close workbook", zap.Error(err))
		}
	}()

	sheet := f.sheet
	if sheet == "" {
		sheet = book.GetSheetName(0)
	}

	rows, err := book.GetRows(sheet)
	if err != nil {
		return nil, fmt.Errorf("read sheet %q: %w", sheet, err)
	}

	headerAt := -1
	for i, row := range rows {
		if !blank(row) {
			headerAt = i
			break
		}
	}
	if headerAt < 0 {
		return nil, nil
	}

	invoiceCol := column(rows[headerAt], invoiceHeaders)
	if invoiceCol < 0 {
		return nil, fmt.Errorf("%w: invoice_number in sheet %q", ErrMissingColumn, sheet)
	}
	statusCol := column(rows[headerAt], statusHeaders)
	if statusCol < 0 {
		return nil, fmt.Errorf("%w: status in sheet %q", ErrMissingColumn, sheet)
	}

	var out []port.ExternalStatusRow
	for i := headerAt + 1; i < len(rows); i++ {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		invoice := cell(rows[i], invoiceCol)
		if invoice == "" {
			continue
		}
		out = append(out, port.ExternalStatusRow{
			Row:           i + 1,
			InvoiceNumber: invoice,
			Status:        cell(rows[i], statusCol),
		})
	}

	f.logger.Info("Status sheet read",
		zap.String("sheet", sheet),
		zap.Int("rows", len(out)))
	return out, nil
}

func column(header []string, aliases []string) int {
	for i, h := range header {
		h = strings.ToLower(strings.TrimSpace(h))
		for _, alias := range aliases {
			if h == alias {
				return i
			}
		}
	}
	return -1
}

func cell(row []string, col int) string {
	if col >= len(row) {
		return ""
	}
	return strings.TrimSpace(row[col])
}

func blank(row []string) bool {
	for _, c := range row {
		if strings.TrimSpace(c) != "" {
			return false
		}
	}
	return true
}

var _ port.StatusFeed = (*XLSXFeed)(nil)
