// Package table reads CSV, XLS and XLSX files into types.Table. Every cell is
// kept as text; only columns listed in Options.DateColumns are typed, so codes
// like "07536" reach resolvers exactly as written.
package table

import (
	"bytes"
	"context"
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/extrame/xls"
	"github.com/xuri/excelize/v2"
	"golang.org/x/sync/errgroup"

	"fundrecon/internal/seckey"
	"fundrecon/internal/types"
)

const maxXLSRows = 1 << 20

type Format string

const (
	FormatCSV  Format = "csv"
	FormatXLS  Format = "xls"
	FormatXLSX Format = "xlsx"
)

var ErrUnsupportedFormat = errors.New("unsupported file format")

type Options struct {
	// Name identifies the table in errors and logs. Defaults to the file name.
	Name string
	// StartRow is the number of leading rows to skip before the header.
	StartRow int
	// StartCol is the number of leading columns to skip.
	StartCol int
	// NoHeader names columns Column1..ColumnN instead of reading a header row.
	NoHeader bool
	// Sheet selects an XLSX sheet; empty means the first one.
	Sheet string
	// DateColumns are parsed as Excel serial dates when the raw cell is numeric.
	DateColumns []string
	// Comma overrides the CSV delimiter.
	Comma rune
}

func DetectFormat(path string) (Format, error) {
	switch strings.ToLower(filepath.Ext(path)) {
	case ".csv", ".txt":
		return FormatCSV, nil
	case ".xls":
		return FormatXLS, nil
	case ".xlsx", ".xlsm":
		return FormatXLSX, nil
	}
	return "", fmt.Errorf("%w: %s", ErrUnsupportedFormat, path)
}

// Load reads one file.
func Load(path string, opts Options) (*types.Table, error) {
	format, err := DetectFormat(path)
	if err != nil {
		return nil, err
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("could not open file %s: %w", path, err)
	}
	if opts.Name == "" {
		opts.Name = filepath.Base(path)
	}
	return Read(bytes.NewReader(data), format, opts)
}

// Read parses data in the given format.
func Read(r io.ReadSeeker, format Format, opts Options) (*types.Table, error) {
	var (
		rows [][]string
		err  error
	)
	switch format {
	case FormatCSV:
		rows, err = readCSV(r, opts)
	case FormatXLSX:
		rows, err = readXLSX(r, opts)
	case FormatXLS:
		rows, err = readXLS(r)
	default:
		return nil, fmt.Errorf("%w: %s", ErrUnsupportedFormat, format)
	}
	if err != nil {
		return nil, fmt.Errorf("read %s: %w", opts.Name, err)
	}
	return build(rows, opts), nil
}

// Source is one file of a batch.
type Source struct {
	Path    string
	Options Options
}

// LoadAll reads independent files concurrently. Row order inside each file is
// preserved; results are returned in the order of sources.
func LoadAll(ctx context.Context, sources []Source) ([]*types.Table, error) {
	out := make([]*types.Table, len(sources))
	g, ctx := errgroup.WithContext(ctx)
	for i, src := range sources {
		i, src := i, src
		g.Go(func() error {
			if err := ctx.Err(); err != nil {
				return err
			}
			t, err := Load(src.Path, src.Options)
			if err != nil {
				return err
			}
			out[i] = t
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}
	return out, nil
}

func readCSV(r io.Reader, opts Options) ([][]string, error) {
	cr := csv.NewReader(r)
	cr.FieldsPerRecord = -1
	cr.LazyQuotes = true
	cr.TrimLeadingSpace = true
	if opts.Comma != 0 {
		cr.Comma = opts.Comma
	}
	rows, err := cr.ReadAll()
	if err != nil {
		return nil, err
	}
	if len(rows) > 0 && len(rows[0]) > 0 {
		rows[0][0] = strings.TrimPrefix(rows[0][0], "\ufeff")
	}
	return rows, nil
}

// readXLSX returns raw cell values: numbers without display formatting and
// dates as serials. DateColumns are converted in build.
func readXLSX(r io.Reader, opts Options) ([][]string, error) {
	f, err := excelize.OpenReader(r)
	if err != nil {
		return nil, err
	}
	defer f.Close()

	sheet := opts.Sheet
	if sheet == "" {
		sheet = f.GetSheetName(0)
	}
	return f.GetRows(sheet, excelize.Options{RawCellValue: true})
}

// readXLS reads legacy workbooks. The library flattens all sheets; exchange
// and custodian .xls exports carry a single sheet.
func readXLS(r io.ReadSeeker) ([][]string, error) {
	wb, err := xls.OpenReader(r, "utf-8")
	if err != nil {
		return nil, err
	}
	if wb.NumSheets() == 0 {
		return nil, fmt.Errorf("no sheets found")
	}
	return wb.ReadAllCells(maxXLSRows), nil
}

func build(rows [][]string, opts Options) *types.Table {
	if opts.StartRow > 0 {
		if opts.StartRow >= len(rows) {
			rows = nil
		} else {
			rows = rows[opts.StartRow:]
		}
	}
	rows = trimTrailingBlank(rows)

	var columns []string
	if opts.NoHeader {
		width := 0
		for _, r := range rows {
			if n := len(r) - opts.StartCol; n > width {
				width = n
			}
		}
		for i := 1; i <= width; i++ {
			columns = append(columns, "Column"+strconv.Itoa(i))
		}
	} else if len(rows) > 0 {
		columns = headerNames(shift(rows[0], opts.StartCol))
		rows = rows[1:]
	}

	dateCols := map[int]bool{}
	for _, dc := range opts.DateColumns {
		for i, c := range columns {
			if c == dc {
				dateCols[i] = true
			}
		}
	}

	t := types.NewTable(opts.Name, columns)
	first := opts.StartRow + 1
	if !opts.NoHeader {
		first++
	}
	for j, raw := range rows {
		raw = shift(raw, opts.StartCol)
		if isBlank(raw) {
			continue
		}
		cells := make([]types.Cell, len(columns))
		for i := range columns {
			var s string
			if i < len(raw) {
				s = raw[i]
			}
			cells[i] = cell(s, dateCols[i])
		}
		t.Append(cells, first+j)
	}
	return t
}

func cell(s string, isDate bool) types.Cell {
	c := types.TextCell(s)
	if !isDate || c.IsBlank() {
		return c
	}
	// numbers outside the serial window ("20251230") stay text
	if t, ok := seckey.ExcelSerial(c.Text); ok {
		return types.DateCell(t.Truncate(24 * time.Hour))
	}
	return c
}

func headerNames(raw []string) []string {
	out := make([]string, len(raw))
	seen := map[string]int{}
	for i, h := range raw {
		h = strings.TrimSpace(h)
		if h == "" {
			h = "Column" + strconv.Itoa(i+1)
		}
		if n := seen[h]; n > 0 {
			seen[h]++
			h = fmt.Sprintf("%s.%d", h, n)
		} else {
			seen[h] = 1
		}
		out[i] = h
	}
	return out
}

func shift(r []string, n int) []string {
	if n <= 0 {
		return r
	}
	if n >= len(r) {
		return nil
	}
	return r[n:]
}

func isBlank(r []string) bool {
	for _, v := range r {
		if strings.TrimSpace(v) != "" {
			return false
		}
	}
	return true
}

func trimTrailingBlank(rows [][]string) [][]string {
	for len(rows) > 0 && isBlank(rows[len(rows)-1]) {
		rows = rows[:len(rows)-1]
	}
	return rows
}
