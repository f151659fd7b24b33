package projection

import (
	"fmt"
	"sort"
	"strings"

	"github.com/shopspring/decimal"

	"fundrecon/internal/numeric"
	"fundrecon/internal/refdata"
	"fundrecon/internal/seckey"
	"fundrecon/internal/types"
)

// Date layout the accounting system loads.
const LoaderDateLayout = "01/02/2006"

// Broker trade file columns.
const (
	TradeID         = "Trade ID"
	TradeDate       = "Trade Date"
	TradeSettleDate = "Settlement Date"
	TradeClient     = "Client Code"
	TradeTMCode     = "TM Code"
	TradeSymbol     = "Symbol"
	TradeExpiry     = "Expiry Date"
	TradeOptionType = "Option Type"
	TradeStrike     = "Strike Price"
	TradeSide       = "Buy/Sell"
	TradeQuantity   = "Quantity"
	TradePrice      = "Price"
	TradeSegment    = "Segment"
)

// TradeLoaderHeaders is the fixed column order of the trade loader file.
// Amount and FX fields are always blank; the accounting system computes them.
var TradeLoaderHeaders = []string{
	"RecordType",
	"RecordAction",
	"KeyValue",
	"KeyValue.KeyName",
	"UserTranId1",
	"Portfolio",
	"LocationAccount",
	"Strategy",
	"Investment",
	"Broker",
	"EventDate",
	"SettleDate",
	"ActualSettleDate",
	"Quantity",
	"Price",
	"PriceDenomination",
	"CounterInvestment",
	"NetInvestmentAmount",
	"NetCounterAmount",
	"TradeFX",
	"NotionalAmount",
	"FundStructure",
	"Comments",
}

// PriceLoaderHeaders is the fixed column order of the price loader file.
var PriceLoaderHeaders = []string{
	"RecordType",
	"RecordAction",
	"Investment",
	"PriceDate",
	"Price",
	"PriceType",
	"PriceSource",
	"Currency",
}

// TradeLoader turns broker F&O trade lines into trade loader records.
func TradeLoader() LoaderSpec {
	return LoaderSpec{
		Name:     "trade_loader",
		Template: "trade_loader",
		Headers:  TradeLoaderHeaders,
		Defaults: map[string]string{
			"RecordAction":      "InsertUpdate",
			"KeyValue.KeyName":  "GenevaUserID",
			"Strategy":          "Default",
			"PriceDenomination": "CALC",
			"CounterInvestment": "INR",
			"FundStructure":     "CE",
		},
		Key: &seckey.Columns{
			Underlying:    TradeSymbol,
			Expiry:        TradeExpiry,
			OptionType:    TradeOptionType,
			Strike:        TradeStrike,
			Prefix:        "NSE",
			SegmentColumn: TradeSegment,
		},
		Rules: Rules{
			"RecordType":       Func(recordType, TradeSide),
			"KeyValue":         FromColumn(TradeID, true),
			"UserTranId1":      FromColumn(TradeID, true),
			"Portfolio":        FromReference(refdata.MapClientCode, TradeClient, refdata.Identity()),
			"LocationAccount":  FromReference(refdata.MapTradingMember, TradeTMCode, refdata.Synthesize("TM-{key}")),
			"Investment":       FromSecurityKey(),
			"Broker":           FromColumn(TradeTMCode, false),
			"EventDate":        DateFromColumn(TradeDate, LoaderDateLayout, true),
			"SettleDate":       Func(settleDate, TradeDate),
			"ActualSettleDate": Func(settleDate, TradeDate),
			"Quantity":         Func(absDecimal(TradeQuantity), TradeQuantity),
			"Price":            Func(decimalOf(TradePrice), TradePrice),
			"Comments":         Func(contractDescription),
		},
	}
}

// PriceLoader turns a canonical bhavcopy table into price loader records.
// Settle price is used when present, else close.
func PriceLoader() LoaderSpec {
	return LoaderSpec{
		Name:     "price_loader",
		Template: "price_loader",
		Headers:  PriceLoaderHeaders,
		Defaults: map[string]string{
			"RecordType":   "Price",
			"RecordAction": "InsertUpdate",
			"PriceType":    "Settle",
			"PriceSource":  "BHAVCOPY",
			"Currency":     "INR",
		},
		Key: &seckey.Columns{
			Underlying:    types.ColUnderlying,
			Expiry:        types.ColExpiry,
			OptionType:    types.ColOptionType,
			Strike:        types.ColStrike,
			Prefix:        "NSE",
			SegmentColumn: types.ColSegment,
		},
		Rules: Rules{
			"Investment": FromSecurityKey(),
			"PriceDate":  DateFromColumn(types.ColTradeDate, LoaderDateLayout, true),
			"Price":      Func(settleOrClose),
		},
	}
}

var loaders = map[string]func() LoaderSpec{
	"trade_loader": TradeLoader,
	"price_loader": PriceLoader,
}

func Loader(name string) (LoaderSpec, error) {
	f, ok := loaders[name]
	if !ok {
		return LoaderSpec{}, fmt.Errorf("unknown loader %q (known: %v)", name, LoaderNames())
	}
	return f(), nil
}

func LoaderNames() []string {
	names := make([]string, 0, len(loaders))
	for n := range loaders {
		names = append(names, n)
	}
	sort.Strings(names)
	return names
}

// contractDescription spells the derived key out for the accounting
// system's comment field, e.g. "NIFTY 12/30/2025 P 19500" or
// "CRUDEOIL 11/18/2025 FUT".
func contractDescription(_ types.Row, env Env) (string, error) {
	c, err := seckey.Split(env.Key)
	if err != nil {
		return "", nil
	}
	exp := c.Expiry.Format(LoaderDateLayout)
	if c.TypeChar == "F" {
		return fmt.Sprintf("%s %s FUT", c.Underlying, exp), nil
	}
	return fmt.Sprintf("%s %s %s %d", c.Underlying, exp, c.TypeChar, c.Strike), nil
}

func recordType(row types.Row, _ Env) (string, error) {
	side := strings.ToUpper(strings.TrimSpace(row.Text(TradeSide)))
	switch side {
	case "B", "BUY":
		return "Buy", nil
	case "S", "SELL":
		return "Sell", nil
	}
	return "", &FieldError{Field: "RecordType", Reason: "bad_side", Value: side}
}

// settleDate falls back to the trade date when the file has no settlement
// date for the row.
func settleDate(row types.Row, _ Env) (string, error) {
	col := TradeSettleDate
	if c, ok := row.Get(TradeSettleDate); !ok || c.IsBlank() {
		col = TradeDate
	}
	return DateFromColumn(col, LoaderDateLayout, true).apply("SettleDate", row, Env{})
}

func decimalOf(column string) func(types.Row, Env) (string, error) {
	return func(row types.Row, env Env) (string, error) {
		return valueOf(column, row, env).String(), nil
	}
}

func absDecimal(column string) func(types.Row, Env) (string, error) {
	return func(row types.Row, env Env) (string, error) {
		return valueOf(column, row, env).Abs().String(), nil
	}
}

func valueOf(column string, row types.Row, env Env) decimal.Decimal {
	cell, _ := row.Get(column)
	if env.Counter != nil {
		return env.Counter.Decimal(column, cell)
	}
	return numeric.ToDecimal(cell, numeric.DefaultPrecision)
}

func settleOrClose(row types.Row, env Env) (string, error) {
	if row.Has(types.ColSettlePrice) {
		if v := valueOf(types.ColSettlePrice, row, env); !v.IsZero() {
			return v.String(), nil
		}
	}
	if row.Has(types.ColClosePrice) {
		return valueOf(types.ColClosePrice, row, env).String(), nil
	}
	return "", &FieldError{Field: "Price", Reason: ReasonMissingValue}
}
