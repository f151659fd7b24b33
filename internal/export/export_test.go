package export

import (
	"archive/zip"
	"bytes"
	"encoding/csv"
	"io"
	"testing"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/xuri/excelize/v2"

	"fundrecon/internal/types"
)

func sampleResult() *types.ReconResult {
	return &types.ReconResult{
		Report: "asio_quantity",
		Fields: []string{"SecurityKey", "Identity", "Geneva", "Holding", "Difference", "Status"},
		Records: []types.MatchedRecord{
			{Key: "INE001", Identity: "FundX", SideA: decimal.NewFromInt(100), SideB: decimal.NewFromInt(90), Difference: decimal.NewFromInt(10), Status: types.StatusMatched},
			{Key: "INE002", Identity: "FundX", SideA: decimal.NewFromInt(5), Difference: decimal.NewFromInt(5), Status: types.StatusSourceOnly},
		},
	}
}

func TestMatchedRowsFollowFieldOrder(t *testing.T) {
	res := sampleResult()
	rows := MatchedRows(res.Fields, res.Records)
	require.Len(t, rows, 2)
	assert.Equal(t, []string{"INE001", "FundX", "100", "90", "10", "MATCHED"}, rows[0])
	assert.Equal(t, []string{"INE002", "FundX", "5", "0", "5", "SOURCE_ONLY"}, rows[1])
}

func TestWriteCSV(t *testing.T) {
	var buf bytes.Buffer
	require.NoError(t, Result(&buf, FormatCSV, sampleResult()))

	all, err := csv.NewReader(&buf).ReadAll()
	require.NoError(t, err)
	require.Len(t, all, 3)
	assert.Equal(t, "SecurityKey", all[0][0])
	assert.Equal(t, "SOURCE_ONLY", all[2][5])
}

func TestWriteXLSXKeepsTextKeys(t *testing.T) {
	var buf bytes.Buffer
	rows := [][]string{{"07536", "NSENIFTY20251230F0"}}
	require.NoError(t, WriteXLSX(&buf, "loader", []string{"Code", "Investment"}, rows))

	f, err := excelize.OpenReader(&buf)
	require.NoError(t, err)
	defer f.Close()
	got, err := f.GetRows("loader")
	require.NoError(t, err)
	require.Len(t, got, 2)
	assert.Equal(t, []string{"Code", "Investment"}, got[0])
	assert.Equal(t, "07536", got[1][0])
}

func TestLoaderRows(t *testing.T) {
	res := &types.LoaderResult{
		Loader:  "price_loader",
		Headers: []string{"Investment", "Price"},
		Records: []types.LoaderRecord{{Fields: []string{"Investment", "Price"}, Values: map[string]string{"Investment": "K1", "Price": "1.5"}}},
	}
	var buf bytes.Buffer
	require.NoError(t, Loader(&buf, FormatCSV, res))
	assert.Equal(t, "Investment,Price\nK1,1.5\n", buf.String())
}

func TestBundle(t *testing.T) {
	var buf bytes.Buffer
	require.NoError(t, Bundle(&buf, []File{
		{Name: "a.csv", Data: []byte("x\n1\n")},
		{Name: "b.csv", Data: []byte("y\n2\n")},
	}))

	zr, err := zip.NewReader(bytes.NewReader(buf.Bytes()), int64(buf.Len()))
	require.NoError(t, err)
	require.Len(t, zr.File, 2)
	rc, err := zr.File[1].Open()
	require.NoError(t, err)
	defer rc.Close()
	b, err := io.ReadAll(rc)
	require.NoError(t, err)
	assert.Equal(t, "y\n2\n", string(b))
}

func TestParseFormat(t *testing.T) {
	f, err := ParseFormat("")
	require.NoError(t, err)
	assert.Equal(t, FormatCSV, f)
	_, err = ParseFormat("pdf")
	assert.Error(t, err)
}
