// Package export writes engine output as CSV, XLSX or a ZIP bundle of both.
// Output is plain: a header row followed by values, no styling.
package export

import (
	"archive/zip"
	"encoding/csv"
	"fmt"
	"io"

	"github.com/xuri/excelize/v2"

	"fundrecon/internal/types"
)

type Format string

const (
	FormatCSV  Format = "csv"
	FormatXLSX Format = "xlsx"
)

func ParseFormat(s string) (Format, error) {
	switch Format(s) {
	case FormatCSV, FormatXLSX:
		return Format(s), nil
	case "":
		return FormatCSV, nil
	}
	return "", fmt.Errorf("invalid export format '%s': must be 'csv' or 'xlsx'", s)
}

func WriteCSV(w io.Writer, headers []string, rows [][]string) error {
	cw := csv.NewWriter(w)
	if err := cw.Write(headers); err != nil {
		return err
	}
	if err := cw.WriteAll(rows); err != nil {
		return fmt.Errorf("write csv: %w", err)
	}
	return nil
}

// WriteXLSX writes a single-sheet workbook. Every value is stored as text so
// keys such as "07536" survive a round trip through Excel.
func WriteXLSX(w io.Writer, sheet string, headers []string, rows [][]string) error {
	if sheet == "" {
		sheet = "Sheet1"
	}
	f := excelize.NewFile()
	defer f.Close()

	if sheet != "Sheet1" {
		if err := f.SetSheetName("Sheet1", sheet); err != nil {
			return fmt.Errorf("rename sheet: %w", err)
		}
	}
	if err := setRow(f, sheet, 1, headers); err != nil {
		return err
	}
	for i, r := range rows {
		if err := setRow(f, sheet, i+2, r); err != nil {
			return err
		}
	}
	if _, err := f.WriteTo(w); err != nil {
		return fmt.Errorf("write xlsx: %w", err)
	}
	return nil
}

func setRow(f *excelize.File, sheet string, n int, values []string) error {
	cell, err := excelize.CoordinatesToCellName(1, n)
	if err != nil {
		return err
	}
	row := make([]any, len(values))
	for i, v := range values {
		row[i] = v
	}
	return f.SetSheetRow(sheet, cell, &row)
}

// Write dispatches on format.
func Write(w io.Writer, format Format, sheet string, headers []string, rows [][]string) error {
	switch format {
	case FormatXLSX:
		return WriteXLSX(w, sheet, headers, rows)
	case FormatCSV, "":
		return WriteCSV(w, headers, rows)
	}
	return fmt.Errorf("unknown export format %q", format)
}

// File is one entry of a bundle.
type File struct {
	Name string
	Data []byte
}

func Bundle(w io.Writer, files []File) error {
	zw := zip.NewWriter(w)
	for _, f := range files {
		fw, err := zw.Create(f.Name)
		if err != nil {
			return fmt.Errorf("bundle %s: %w", f.Name, err)
		}
		if _, err := fw.Write(f.Data); err != nil {
			return fmt.Errorf("bundle %s: %w", f.Name, err)
		}
	}
	return zw.Close()
}

// MatchedRows flattens reconciliation records in the order of fields.
// Recognised fields are SecurityKey, Identity, Difference, Status and Ledger;
// any other field is taken as a side label.
func MatchedRows(fields []string, records []types.MatchedRecord) [][]string {
	out := make([][]string, 0, len(records))
	for _, r := range records {
		row := make([]string, len(fields))
		for i, f := range fields {
			row[i] = matchedValue(r, f, fields)
		}
		out = append(out, row)
	}
	return out
}

func matchedValue(r types.MatchedRecord, field string, fields []string) string {
	switch field {
	case "SecurityKey":
		return r.Key
	case "Identity":
		return r.Identity
	case "Difference":
		return r.Difference.String()
	case "Status":
		return string(r.Status)
	case "Ledger":
		return r.Ledger
	}
	// side labels sit at positions 2 and 3
	if len(fields) > 3 && field == fields[2] {
		return r.SideA.String()
	}
	if len(fields) > 3 && field == fields[3] {
		return r.SideB.String()
	}
	return ""
}

func LoaderRows(records []types.LoaderRecord) [][]string {
	out := make([][]string, 0, len(records))
	for _, r := range records {
		out = append(out, r.Slice())
	}
	return out
}

// Result renders a reconciliation result.
func Result(w io.Writer, format Format, res *types.ReconResult) error {
	return Write(w, format, res.Report, res.Fields, MatchedRows(res.Fields, res.Records))
}

// Loader renders a loader result.
func Loader(w io.Writer, format Format, res *types.LoaderResult) error {
	return Write(w, format, res.Loader, res.Headers, LoaderRows(res.Records))
}
