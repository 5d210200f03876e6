package statusfeed

import (
	"bytes"
	"context"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/xuri/excelize/v2"
	"go.uber.org/zap"

	"github.com/garyjia/expense-reconciler/internal/application/port"
)

func writeSheet(t *testing.T, sheet string, rows [][]interface{}) *excelize.File {
	t.Helper()
	f := excelize.NewFile()
	if sheet != "Sheet1" {
		_, err := f.NewSheet(sheet)
		require.NoError(t, err)
	}
	for i, row := range rows {
		axis, err := excelize.CoordinatesToCellName(1, i+1)
		require.NoError(t, err)
		require.NoError(t, f.SetSheetRow(sheet, axis, &row))
	}
	return f
}

func TestXLSXFeed_ReadsRows(t *testing.T) {
	f := writeSheet(t, "Sheet1", [][]interface{}{
		{"Invoice_Number", "Applicant", "Status"},
		{"INV-001", "Li", "已付款"},
		{"", "", ""},
		{" INV-002 ", "Wang", "submitted"},
		{"INV-003", "Zhao"},
	})
	path := filepath.Join(t.TempDir(), "status.xlsx")
	require.NoError(t, f.SaveAs(path))

	rows, err := NewXLSXFile(path, "", zap.NewNop()).Rows(context.Background())
	require.NoError(t, err)

	assert.Equal(t, []port.ExternalStatusRow{
		{Row: 2, InvoiceNumber: "INV-001", Status: "已付款"},
		{Row: 4, InvoiceNumber: "INV-002", Status: "submitted"},
		{Row: 5, InvoiceNumber: "INV-003", Status: ""},
	}, rows)
}

func TestXLSXFeed_Reader(t *testing.T) {
	f := writeSheet(t, "导出", [][]interface{}{
		{"单据编号", "付款状态"},
		{"INV-010", "待付款"},
	})
	var buf bytes.Buffer
	require.NoError(t, f.Write(&buf))

	rows, err := NewXLSXReader(&buf, "导出", zap.NewNop()).Rows(context.Background())
	require.NoError(t, err)
	require.Len(t, rows, 1)
	assert.Equal(t, "INV-010", rows[0].InvoiceNumber)
	assert.Equal(t, "待付款", rows[0].Status)
}

func TestXLSXFeed_MissingColumn(t *testing.T) {
	f := writeSheet(t, "Sheet1", [][]interface{}{
		{"invoice_number", "amount"},
		{"INV-001", "12.00"},
	})
	path := filepath.Join(t.TempDir(), "bad.xlsx")
	require.NoError(t, f.SaveAs(path))

	_, err := NewXLSXFile(path, "", zap.NewNop()).Rows(context.Background())
	assert.ErrorIs(t, err, ErrMissingColumn)
}

func TestXLSXFeed_Errors(t *testing.T) {
	_, err := NewXLSXFile(filepath.Join(t.TempDir(), "missing.xlsx"), "", zap.NewNop()).Rows(context.Background())
	assert.Error(t, err)

	f := writeSheet(t, "Sheet1", nil)
	path := filepath.Join(t.TempDir(), "empty.xlsx")
	require.NoError(t, f.SaveAs(path))

	_, err = NewXLSXFile(path, "Nope", zap.NewNop()).Rows(context.Background())
	assert.Error(t, err, "unknown sheet")

	rows, err := NewXLSXFile(path, "", zap.NewNop()).Rows(context.Background())
	require.NoError(t, err)
	assert.Empty(t, rows)
}
