// Package bhavcopy parses exchange end-of-day settlement files into a table
// with the canonical key and price columns, so prices can be reconciled and
// loaded like any other source.
package bhavcopy

import (
	"bufio"
	"bytes"
	"context"
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"

	"github.com/gocarina/gocsv"
	"golang.org/x/sync/errgroup"

	"fundrecon/internal/types"
)

type Format string

const (
	FormatNSE      Format = "nse"
	FormatNSEUDiFF Format = "nse_udiff"
	FormatMCX      Format = "mcx"
)

var ErrUnknownFormat = errors.New("unrecognised bhavcopy header")

const headerPeek = 4096

// NSERow is one line of the NSE F&O bhavcopy (fo<DD><MON><YYYY>bhav.csv).
type NSERow struct {
	Instrument string `csv:"INSTRUMENT"`
	Symbol     string `csv:"SYMBOL"`
	Expiry     string `csv:"EXPIRY_DT"`
	Strike     string `csv:"STRIKE_PR"`
	OptionType string `csv:"OPTION_TYP"`
	Open       string `csv:"OPEN"`
	High       string `csv:"HIGH"`
	Low        string `csv:"LOW"`
	Close      string `csv:"CLOSE"`
	Settle     string `csv:"SETTLE_PR"`
	Contracts  string `csv:"CONTRACTS"`
	OpenInt    string `csv:"OPEN_INT"`
	Timestamp  string `csv:"TIMESTAMP"`
}

// UDiFFRow is one line of the NSE common bhavcopy introduced in 2024.
type UDiFFRow struct {
	TradeDate      string `csv:"TradDt"`
	Segment        string `csv:"Sgmt"`
	InstrumentType string `csv:"FinInstrmTp"`
	Symbol         string `csv:"TckrSymb"`
	Expiry         string `csv:"XpryDt"`
	Strike         string `csv:"StrkPric"`
	OptionType     string `csv:"OptnTp"`
	Close          string `csv:"ClsPric"`
	Settle         string `csv:"SttlmPric"`
	OpenInterest   string `csv:"OpnIntrst"`
}

// MCXRow is one line of the MCX bhavcopy export.
type MCXRow struct {
	Date           string `csv:"Date"`
	InstrumentName string `csv:"Instrument Name"`
	Symbol         string `csv:"Symbol"`
	Expiry         string `csv:"Expiry Date"`
	OptionType     string `csv:"Option Type"`
	Strike         string `csv:"Strike Price"`
	Open           string `csv:"Open"`
	High           string `csv:"High"`
	Low            string `csv:"Low"`
	Close          string `csv:"Close"`
	PreviousClose  string `csv:"Previous Close"`
}

// Columns of the converted table.
var Columns = []string{
	types.ColTradeDate,
	types.ColSegment,
	"InstrumentType",
	types.ColUnderlying,
	types.ColExpiry,
	types.ColOptionType,
	types.ColStrike,
	types.ColSettlePrice,
	types.ColClosePrice,
}

// DetectFormat looks at the header line.
func DetectFormat(header string) (Format, error) {
	h := strings.ToUpper(header)
	switch {
	case strings.Contains(h, "SETTLE_PR") && strings.Contains(h, "OPTION_TYP"):
		return FormatNSE, nil
	case strings.Contains(h, "TCKRSYMB") && strings.Contains(h, "STTLMPRIC"):
		return FormatNSEUDiFF, nil
	case strings.Contains(h, "INSTRUMENT NAME") && strings.Contains(h, "EXPIRY DATE"):
		return FormatMCX, nil
	}
	return "", ErrUnknownFormat
}

// Load parses a bhavcopy file of any supported format.
func Load(path string) (*types.Table, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("could not open bhavcopy %s: %w", path, err)
	}
	t, _, err := Parse(filepath.Base(path), bytes.NewReader(data))
	if err != nil {
		return nil, fmt.Errorf("bhavcopy %s: %w", path, err)
	}
	return t, nil
}

// LoadAll reads several bhavcopies concurrently and concatenates them in
// path order into one table.
func LoadAll(ctx context.Context, name string, paths []string) (*types.Table, error) {
	parts := make([]*types.Table, len(paths))
	g, ctx := errgroup.WithContext(ctx)
	for i, p := range paths {
		i, p := i, p
		g.Go(func() error {
			if err := ctx.Err(); err != nil {
				return err
			}
			t, err := Load(p)
			if err != nil {
				return err
			}
			parts[i] = t
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}
	out := types.NewTable(name, Columns)
	for _, part := range parts {
		out.Rows = append(out.Rows, part.Rows...)
	}
	return out, nil
}

// Parse detects the format from the header and converts every row.
func Parse(name string, r io.Reader) (*types.Table, Format, error) {
	br := bufio.NewReader(r)
	head, err := br.Peek(headerPeek)
	if err != nil && !errors.Is(err, io.EOF) {
		return nil, "", err
	}
	if i := bytes.IndexByte(head, '\n'); i >= 0 {
		head = head[:i]
	}
	format, err := DetectFormat(string(head))
	if err != nil {
		return nil, "", err
	}

	t := types.NewTable(name, Columns)
	switch format {
	case FormatNSE:
		var rows []NSERow
		if err := decode(br, &rows); err != nil {
			return nil, format, err
		}
		for _, row := range rows {
			t.AppendMap(fromNSE(row))
		}
	case FormatNSEUDiFF:
		var rows []UDiFFRow
		if err := decode(br, &rows); err != nil {
			return nil, format, err
		}
		for _, row := range rows {
			t.AppendMap(fromUDiFF(row))
		}
	case FormatMCX:
		var rows []MCXRow
		if err := decode(br, &rows); err != nil {
			return nil, format, err
		}
		for _, row := range rows {
			t.AppendMap(fromMCX(row))
		}
	}
	return t, format, nil
}

func decode(r io.Reader, out any) error {
	cr := csv.NewReader(&bomSkipper{r: r})
	cr.FieldsPerRecord = -1
	cr.LazyQuotes = true
	cr.TrimLeadingSpace = true
	return gocsv.UnmarshalCSV(cr, out)
}

type bomSkipper struct {
	r    io.Reader
	done bool
}

func (b *bomSkipper) Read(p []byte) (int, error) {
	n, err := b.r.Read(p)
	if !b.done && n > 0 {
		b.done = true
		if bytes.HasPrefix(p[:n], []byte("\ufeff")) {
			copy(p, p[3:n])
			n -= 3
		}
	}
	return n, err
}

// futuresType normalizes exchange futures markers ("XX", "-", "FUT") to F.
func futuresType(optionType string) string {
	ot := strings.ToUpper(strings.TrimSpace(optionType))
	switch ot {
	case "", "XX", "-", "FUT", "FF":
		return "F"
	}
	return ot
}

func fromNSE(r NSERow) map[string]string {
	return map[string]string{
		types.ColTradeDate:   r.Timestamp,
		types.ColSegment:     "NSE",
		"InstrumentType":     r.Instrument,
		types.ColUnderlying:  r.Symbol,
		types.ColExpiry:      r.Expiry,
		types.ColOptionType:  futuresType(r.OptionType),
		types.ColStrike:      r.Strike,
		types.ColSettlePrice: r.Settle,
		types.ColClosePrice:  r.Close,
	}
}

func fromUDiFF(r UDiFFRow) map[string]string {
	return map[string]string{
		types.ColTradeDate:   r.TradeDate,
		types.ColSegment:     "NSE",
		"InstrumentType":     r.InstrumentType,
		types.ColUnderlying:  r.Symbol,
		types.ColExpiry:      r.Expiry,
		types.ColOptionType:  futuresType(r.OptionType),
		types.ColStrike:      r.Strike,
		types.ColSettlePrice: r.Settle,
		types.ColClosePrice:  r.Close,
	}
}

func fromMCX(r MCXRow) map[string]string {
	return map[string]string{
		types.ColTradeDate:   r.Date,
		types.ColSegment:     "MCX",
		"InstrumentType":     r.InstrumentName,
		types.ColUnderlying:  r.Symbol,
		types.ColExpiry:      r.Expiry,
		types.ColOptionType:  futuresType(r.OptionType),
		types.ColStrike:      r.Strike,
		types.ColSettlePrice: "",
		types.ColClosePrice:  r.Close,
	}
}
