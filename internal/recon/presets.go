package recon

import (
	"fmt"
	"sort"

	"fundrecon/internal/refdata"
	"fundrecon/internal/types"
)

// Geneva position export columns.
const (
	GenevaPortfolio  = "Portfolio"
	GenevaInvestment = "Investment"
	GenevaQuantity   = "TradedQuantity"
)

// Custodian holding statement columns.
const (
	HoldingClient   = "ClnName"
	HoldingISIN     = "InstrISIN"
	HoldingSaleable = "Saleable"
	HoldingFundCode = "FundCode"
)

// LPA (broker position appraisal) columns.
const (
	LPAClient     = "Client Code"
	LPASymbol     = "Symbol"
	LPAExpiry     = "Expiry Date"
	LPAOptionType = "Option Type"
	LPAStrike     = "Strike Price"
	LPASide       = "Buy/Sell"
	LPAQuantity   = "Quantity"
	LPASettle     = "Settlement Price"
	LPASegment    = "Segment"
)

func lpaParts(prefix string) *KeyParts {
	return &KeyParts{
		Underlying:    LPASymbol,
		Expiry:        LPAExpiry,
		OptionType:    LPAOptionType,
		Strike:        LPAStrike,
		Prefix:        prefix,
		SegmentColumn: LPASegment,
	}
}

func canonicalParts(prefix string) *KeyParts {
	return &KeyParts{
		Underlying: types.ColUnderlying,
		Expiry:     types.ColExpiry,
		OptionType: types.ColOptionType,
		Strike:     types.ColStrike,
		Prefix:     prefix,
	}
}

// ASIOQuantity compares Geneva traded quantities with custodian holdings per
// portfolio. Difference is Geneva − Holding.
func ASIOQuantity() Descriptor {
	return Descriptor{
		Name:     "asio_quantity",
		SignNote: "Geneva − Holding",
		SideA: SourceSpec{
			Label:          "Geneva",
			KeyColumn:      GenevaInvestment,
			IdentityColumn: GenevaPortfolio,
			IdentityMap:    refdata.MapPortfolio,
			IdentityPolicy: refdata.Identity(),
			ValueColumn:    GenevaQuantity,
			Aggregation:    AggSum,
		},
		SideB: SourceSpec{
			Label:          "Holding",
			KeyColumn:      HoldingISIN,
			IdentityColumn: HoldingClient,
			IdentityMap:    refdata.MapPortfolio,
			IdentityPolicy: refdata.Identity(),
			ValueColumn:    HoldingSaleable,
			Aggregation:    AggSum,
		},
	}
}

// ASIOThreeWay splits the custodian side into CDS and regular sub-ledgers
// whose fund codes resolve to portfolios through the custodian fund map.
func ASIOThreeWay() ThreeWayDescriptor {
	sub := func(label string) SourceSpec {
		return SourceSpec{
			Label:          label,
			KeyColumn:      HoldingISIN,
			IdentityColumn: HoldingFundCode,
			IdentityMap:    refdata.MapCustodianFund,
			IdentityPolicy: refdata.Identity(),
			ValueColumn:    HoldingSaleable,
			Aggregation:    AggSum,
		}
	}
	return ThreeWayDescriptor{
		Name:     "asio_threeway",
		SignNote: "Geneva − (CDS + Regular)",
		Master:   ASIOQuantity().SideA,
		CDS:      sub(LedgerCDS),
		Regular:  sub(LedgerRegular),
	}
}

// FNOPosition compares Geneva F&O positions with the broker LPA, netting
// buy and sell lines. Difference is Geneva − LPA.
func FNOPosition() Descriptor {
	return Descriptor{
		Name:     "fno_position",
		SignNote: "Geneva − LPA",
		SideA: SourceSpec{
			Label:          "Geneva",
			KeyColumn:      GenevaInvestment,
			IdentityColumn: GenevaPortfolio,
			IdentityMap:    refdata.MapPortfolio,
			IdentityPolicy: refdata.Identity(),
			ValueColumn:    GenevaQuantity,
			Aggregation:    AggSum,
		},
		SideB: SourceSpec{
			Label:          "LPA",
			Parts:          lpaParts("NSE"),
			IdentityColumn: LPAClient,
			IdentityMap:    refdata.MapClientCode,
			IdentityPolicy: refdata.Identity(),
			ValueColumn:    LPAQuantity,
			SideColumn:     LPASide,
			SellValues:     []string{"S", "SELL"},
			Aggregation:    AggSum,
		},
	}
}

// FNOPrice compares LPA settlement prices with NSE bhavcopy settle prices.
// Difference is LPA − Bhavcopy.
func FNOPrice() Descriptor {
	return Descriptor{
		Name:     "fno_price",
		SignNote: "LPA − Bhavcopy",
		SideA: SourceSpec{
			Label:       "LPA",
			Parts:       lpaParts("NSE"),
			ValueColumn: LPASettle,
			Aggregation: AggLast,
		},
		SideB: SourceSpec{
			Label:       "Bhavcopy",
			Parts:       canonicalParts("NSE"),
			ValueColumn: types.ColSettlePrice,
			Aggregation: AggLast,
		},
	}
}

// MCXPrice is FNOPrice for commodity contracts against the MCX bhavcopy.
func MCXPrice() Descriptor {
	d := FNOPrice()
	d.Name = "mcx_price"
	d.SideA.Parts = lpaParts("MCX")
	d.SideB.Parts = canonicalParts("MCX")
	d.SideB.ValueColumn = types.ColClosePrice
	return d
}

var presets = map[string]func() Descriptor{
	"asio_quantity": ASIOQuantity,
	"fno_position":  FNOPosition,
	"fno_price":     FNOPrice,
	"mcx_price":     MCXPrice,
}

// Preset returns a two-way descriptor by name.
func Preset(name string) (Descriptor, error) {
	f, ok := presets[name]
	if !ok {
		return Descriptor{}, fmt.Errorf("unknown report %q (known: %v)", name, PresetNames())
	}
	return f(), nil
}

func PresetNames() []string {
	names := make([]string, 0, len(presets))
	for n := range presets {
		names = append(names, n)
	}
	sort.Strings(names)
	return names
}

var threeWayPresets = map[string]func() ThreeWayDescriptor{
	"asio_threeway": ASIOThreeWay,
}

// ThreeWayPreset returns a master-vs-sub-ledgers descriptor by name.
func ThreeWayPreset(name string) (ThreeWayDescriptor, error) {
	f, ok := threeWayPresets[name]
	if !ok {
		return ThreeWayDescriptor{}, fmt.Errorf("unknown three-way report %q", name)
	}
	return f(), nil
}

func ThreeWayPresetNames() []string {
	names := make([]string, 0, len(threeWayPresets))
	for n := range threeWayPresets {
		names = append(names, n)
	}
	sort.Strings(names)
	return names
}
