package table

import (
	"bytes"
	"context"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/xuri/excelize/v2"

	"fundrecon/internal/seckey"
	"fundrecon/internal/types"
)

func TestReadCSVKeepsCodesAsText(t *testing.T) {
	data := "Report generated 2025-12-30\n" +
		"TMCode,Qty,Symbol\n" +
		"07536,\"1,200\",NIFTY\n" +
		"00123,-40,BANKNIFTY\n" +
		",,\n"

	tbl, err := Read(strings.NewReader(data), FormatCSV, Options{Name: "trades", StartRow: 1})
	require.NoError(t, err)

	assert.Equal(t, []string{"TMCode", "Qty", "Symbol"}, tbl.Columns)
	require.Len(t, tbl.Rows, 2, "trailing blank row dropped")
	assert.Equal(t, "07536", tbl.Rows[0].Text("TMCode"))
	assert.Equal(t, "1,200", tbl.Rows[0].Text("Qty"))
	assert.Equal(t, "00123", tbl.Rows[1].Text("TMCode"))
	assert.Equal(t, 3, tbl.Rows[0].Line)
}

func TestReadCSVNoHeaderAndStartCol(t *testing.T) {
	data := "x,A,1\nx,B,2\n"
	tbl, err := Read(strings.NewReader(data), FormatCSV, Options{NoHeader: true, StartCol: 1})
	require.NoError(t, err)
	assert.Equal(t, []string{"Column1", "Column2"}, tbl.Columns)
	require.Len(t, tbl.Rows, 2)
	assert.Equal(t, "B", tbl.Rows[1].Text("Column1"))
}

func TestHeaderNamesDeduplicated(t *testing.T) {
	assert.Equal(t, []string{"Qty", "Qty.1", "Column3"}, headerNames([]string{"Qty", " Qty ", ""}))
}

func TestReadXLSXRawValues(t *testing.T) {
	f := excelize.NewFile()
	sheet := f.GetSheetName(0)
	require.NoError(t, f.SetSheetRow(sheet, "A1", &[]any{"ClnName", "TMCode", "ExpiryDate", "Saleable"}))
	require.NoError(t, f.SetSheetRow(sheet, "A2", &[]any{"FundX", "07536", 46021, 45}))
	var buf bytes.Buffer
	require.NoError(t, f.Write(&buf))

	tbl, err := Read(bytes.NewReader(buf.Bytes()), FormatXLSX, Options{Name: "holding", DateColumns: []string{"ExpiryDate"}})
	require.NoError(t, err)
	require.Len(t, tbl.Rows, 1)

	row := tbl.Rows[0]
	assert.Equal(t, "07536", row.Text("TMCode"))
	assert.Equal(t, "45", row.Text("Saleable"))

	exp, ok := row.Get("ExpiryDate")
	require.True(t, ok)
	assert.Equal(t, types.CellDate, exp.Kind)
	assert.Equal(t, "2025-12-30", exp.Time.Format("2006-01-02"))
}

func TestDateColumnLeavesCompactDatesAsText(t *testing.T) {
	data := "Symbol,Expiry Date,Option Type,Strike Price\n" +
		"NIFTY,20251230,PE,19500\n" +
		"NIFTY,46021,PE,19500\n"

	tbl, err := Read(strings.NewReader(data), FormatCSV, Options{Name: "lpa", DateColumns: []string{"Expiry Date"}})
	require.NoError(t, err)
	require.Len(t, tbl.Rows, 2)

	compact, _ := tbl.Rows[0].Get("Expiry Date")
	assert.Equal(t, types.CellText, compact.Kind)
	assert.Equal(t, "20251230", compact.Text)

	serial, _ := tbl.Rows[1].Get("Expiry Date")
	assert.Equal(t, types.CellDate, serial.Kind)

	cols := seckey.Columns{Underlying: "Symbol", Expiry: "Expiry Date", OptionType: "Option Type", Strike: "Strike Price", Prefix: "NSE"}
	for _, row := range tbl.Rows {
		key, err := cols.FromRow(row)
		require.NoError(t, err)
		assert.Equal(t, "NSENIFTY20251230P19500", key)
	}
}

func TestLoadAllPreservesSourceOrder(t *testing.T) {
	dir := t.TempDir()
	a := filepath.Join(dir, "a.csv")
	b := filepath.Join(dir, "b.csv")
	require.NoError(t, os.WriteFile(a, []byte("K,V\n1,10\n1,20\n"), 0o644))
	require.NoError(t, os.WriteFile(b, []byte("K,V\n2,30\n"), 0o644))

	tables, err := LoadAll(context.Background(), []Source{{Path: a}, {Path: b}})
	require.NoError(t, err)
	require.Len(t, tables, 2)
	assert.Equal(t, "a.csv", tables[0].Name)
	assert.Equal(t, "10", tables[0].Rows[0].Text("V"))
	assert.Equal(t, "20", tables[0].Rows[1].Text("V"))
	assert.Equal(t, "b.csv", tables[1].Name)
}

func TestLoadUnsupported(t *testing.T) {
	_, err := Load("trades.pdf", Options{})
	assert.ErrorIs(t, err, ErrUnsupportedFormat)
}
