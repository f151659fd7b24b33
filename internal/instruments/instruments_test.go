package instruments

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"fundrecon/internal/seckey"
	"fundrecon/internal/types"
)

const dump = "instrument_token,exchange_token,tradingsymbol,name,last_price,expiry,strike,tick_size,lot_size,instrument_type,segment,exchange\n" +
	"12345,48,NIFTY25DEC19500PE,\"NIFTY\",0,2025-12-30,19500,0.05,75,PE,NFO-OPT,NFO\n" +
	"12346,49,NIFTY25DECFUT,\"NIFTY\",0,2025-12-30,0,0.1,75,FUT,NFO-FUT,NFO\n" +
	"22346,89,CRUDEOIL25NOVFUT,\"CRUDEOIL\",0,2025-11-18,0,1,100,FUT,MCX-FUT,MCX\n"

func TestComponentsFeedKeyDerivation(t *testing.T) {
	m, err := Parse(strings.NewReader(dump))
	require.NoError(t, err)
	assert.Equal(t, 3, m.Len())

	cases := map[string]string{
		"NIFTY25DEC19500PE": "NSENIFTY20251230P19500",
		"nifty25decfut":     "NSENIFTY20251230F0",
		"CRUDEOIL25NOVFUT":  "MCXCRUDEOIL20251118F0",
	}
	for sym, want := range cases {
		c, ok := m.Components(sym)
		require.True(t, ok, sym)
		key, err := seckey.Derive(c.Underlying, c.Expiry, c.OptionType, c.Strike, seckey.PrefixForSegment(c.Segment))
		require.NoError(t, err, sym)
		assert.Equal(t, want, key, sym)
	}
}

func TestEnrichAppendsCanonicalColumns(t *testing.T) {
	m, err := Parse(strings.NewReader(dump))
	require.NoError(t, err)

	trades := types.NewTable("trades", []string{"Symbol", "Qty"})
	trades.AppendMap(map[string]string{"Symbol": "NIFTY25DEC19500PE", "Qty": "75"})
	trades.AppendMap(map[string]string{"Symbol": "UNKNOWN1", "Qty": "10"})

	out, unknown, err := m.Enrich(trades, "Symbol")
	require.NoError(t, err)
	assert.Equal(t, []string{"UNKNOWN1"}, unknown)
	assert.True(t, out.HasColumn(types.ColExpiry))
	require.Len(t, out.Rows, 2)

	assert.Equal(t, "75", out.Rows[0].Text("Qty"))
	assert.Equal(t, "NIFTY", out.Rows[0].Text(types.ColUnderlying))
	assert.Equal(t, "PE", out.Rows[0].Text(types.ColOptionType))
	assert.Equal(t, "2025-12-30", out.Rows[0].Text(types.ColExpiry))
	assert.Equal(t, "", out.Rows[1].Text(types.ColUnderlying))

	_, _, err = m.Enrich(trades, "TradingSymbol")
	var schemaErr *types.SchemaError
	assert.ErrorAs(t, err, &schemaErr)
}

func TestEnrichOverwritesExistingCanonicalColumn(t *testing.T) {
	m, err := Parse(strings.NewReader(dump))
	require.NoError(t, err)

	lpa := types.NewTable("lpa", []string{"Symbol", types.ColSegment})
	lpa.AppendMap(map[string]string{"Symbol": "CRUDEOIL25NOVFUT", types.ColSegment: "FO"})
	lpa.AppendMap(map[string]string{"Symbol": "UNKNOWN1", types.ColSegment: "FO"})

	out, _, err := m.Enrich(lpa, "Symbol")
	require.NoError(t, err)

	n := 0
	for _, c := range out.Columns {
		if c == types.ColSegment {
			n++
		}
	}
	assert.Equal(t, 1, n, "no duplicate column")
	assert.Len(t, out.Columns, 6)
	assert.Equal(t, "MCX", out.Rows[0].Text(types.ColSegment))
	assert.Equal(t, "FO", out.Rows[1].Text(types.ColSegment), "unknown symbol keeps the file's value")

	key, err := seckey.Canonical("NSE").FromRow(out.Rows[0])
	require.NoError(t, err)
	assert.Equal(t, "MCXCRUDEOIL20251118F0", key)
}
