package common

import (
	"context"
	"strings"
)

// InstrumentRules are the exchange lot constraints for one trading pair.
type InstrumentRules struct {
	MinQty   float64
	MaxQty   float64
	StepSize float64
}

// Rulebook maps pair symbol (e.g. "BTCUSDT") to its lot constraints. It is
// loaded once at startup and cached for the process lifetime.
type Rulebook map[string]InstrumentRules

// Lookup returns the rules for a pair, case-insensitively.
func (r Rulebook) Lookup(pair string) (InstrumentRules, bool) {
	rules, ok := r[strings.ToUpper(pair)]
	return rules, ok
}

// OrderResult is the exchange ack for a market order.
type OrderResult struct {
	OrderID     string
	Price       float64 // average fill price; 0 when the exchange reports none
	OrigQty     float64
	ExecutedQty float64
	Type        string
}

// Fill is a single matched execution from trade history.
type Fill struct {
	Price           float64
	Qty             float64
	Commission      float64
	CommissionAsset string
}

// Gateway is the remote market-data and order-placement service.
type Gateway interface {
	GetPrice(ctx context.Context, base, quote string) (float64, error)
	GetAvailableBalance(ctx context.Context, currency string) (float64, error)
	MarketBuy(ctx context.Context, pair string, qty float64) (OrderResult, error)
	MarketSell(ctx context.Context, pair string, qty float64) (OrderResult, error)
	GetTradeHistory(ctx context.Context, pair, exchangeOrderID string) ([]Fill, error)
	LoadInstrumentRules(ctx context.Context) (Rulebook, error)
}
