package market

import "strings"

// SymbolClass groups instruments that share pip and stop-distance
// characteristics.
type SymbolClass string

const (
	ClassMajorFX  SymbolClass = "major_fx"
	ClassJPYCross SymbolClass = "jpy_cross"
	ClassMetal    SymbolClass = "metal"
)

// SymbolSpec describes the per-instrument constants used by risk and
// monitoring: pip size, typical spread and the stop-distance floor/ceiling
// in pips.
type SymbolSpec struct {
	Symbol        string      `json:"symbol"`
	Class         SymbolClass `json:"class"`
	PipValue      float64     `json:"pip_value"`
	TypicalSpread float64     `json:"typical_spread"` // pips
	MinStopPips   float64     `json:"min_stop_pips"`
	MaxStopPips   float64     `json:"max_stop_pips"`
}

// PriceToPips converts a price distance into pips for the instrument.
func (s SymbolSpec) PriceToPips(distance float64) float64 {
	if s.PipValue == 0 {
		return 0
	}
	return distance / s.PipValue
}

// PipsToPrice converts a pip distance into price units.
func (s SymbolSpec) PipsToPrice(pips float64) float64 {
	return pips * s.PipValue
}

var symbolCatalog = map[string]SymbolSpec{
	"EURUSD": {Symbol: "EURUSD", Class: ClassMajorFX, PipValue: 0.0001, TypicalSpread: 1.0, MinStopPips: 15, MaxStopPips: 50},
	"GBPUSD": {Symbol: "GBPUSD", Class: ClassMajorFX, PipValue: 0.0001, TypicalSpread: 1.5, MinStopPips: 15, MaxStopPips: 60},
	"AUDUSD": {Symbol: "AUDUSD", Class: ClassMajorFX, PipValue: 0.0001, TypicalSpread: 1.2, MinStopPips: 15, MaxStopPips: 50},
	"USDCAD": {Symbol: "USDCAD", Class: ClassMajorFX, PipValue: 0.0001, TypicalSpread: 1.5, MinStopPips: 15, MaxStopPips: 50},
	"NZDUSD": {Symbol: "NZDUSD", Class: ClassMajorFX, PipValue: 0.0001, TypicalSpread: 1.5, MinStopPips: 15, MaxStopPips: 50},
	"USDJPY": {Symbol: "USDJPY", Class: ClassJPYCross, PipValue: 0.01, TypicalSpread: 1.0, MinStopPips: 30, MaxStopPips: 80},
	"EURJPY": {Symbol: "EURJPY", Class: ClassJPYCross, PipValue: 0.01, TypicalSpread: 1.5, MinStopPips: 30, MaxStopPips: 80},
	"XAUUSD": {Symbol: "XAUUSD", Class: ClassMetal, PipValue: 0.1, TypicalSpread: 3.0, MinStopPips: 50, MaxStopPips: 200},
}

// Spec returns the catalog entry for a symbol. Unknown symbols fall back to
// major-FX characteristics so an unlisted pair still gets sane stop floors.
func Spec(symbol string) SymbolSpec {
	key := strings.ToUpper(strings.ReplaceAll(symbol, "_", ""))
	if spec, ok := symbolCatalog[key]; ok {
		return spec
	}
	spec := symbolCatalog["EURUSD"]
	spec.Symbol = key
	return spec
}

// KnownSymbols lists the catalog symbols in no particular order.
func KnownSymbols() []string {
	out := make([]string, 0, len(symbolCatalog))
	for s := range symbolCatalog {
		out = append(out, s)
	}
	return out
}
