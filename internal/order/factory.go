package order

import (
	"fmt"
	"time"

	"github.com/shopspring/decimal"

	"tradecore/internal/clock"
	"tradecore/internal/events"
	"tradecore/pkg/types"
)

// Factory produces validated orders with monotonic identifiers scoped by a
// (trader tag, strategy tag) pair. Each strategy owns exactly one factory,
// so the counter needs no locking.
type Factory struct {
	traderTag   string
	strategyTag string
	clock       clock.Clock
	count       int
}

// NewFactory creates a factory for one strategy.
func NewFactory(traderTag, strategyTag string, clk clock.Clock) *Factory {
	return &Factory{
		traderTag:   traderTag,
		strategyTag: strategyTag,
		clock:       clk,
	}
}

// Count returns how many orders the factory has produced.
func (f *Factory) Count() int { return f.count }

// Reset winds the identifier counter back to zero. Only meaningful between
// backtest runs.
func (f *Factory) Reset() { f.count = 0 }

func (f *Factory) nextID() types.OrderID {
	f.count++
	return types.OrderID(fmt.Sprintf("O-%s-%s-%d", f.traderTag, f.strategyTag, f.count))
}

// Market builds a MARKET order. Market orders are unpriced and expire DAY.
func (f *Factory) Market(symbol types.Symbol, label types.Label, side types.OrderSide, quantity int64) (*Order, error) {
	return f.build(symbol, label, side, types.Market, quantity, decimal.Decimal{}, types.DAY, time.Time{}, types.PurposeNone)
}

// Limit builds a LIMIT order at the given price.
func (f *Factory) Limit(symbol types.Symbol, label types.Label, side types.OrderSide, quantity int64, price decimal.Decimal, tif types.TimeInForce, expire time.Time) (*Order, error) {
	return f.build(symbol, label, side, types.Limit, quantity, price, tif, expire, types.PurposeNone)
}

// StopMarket builds a STOP_MARKET order triggered at the given price.
func (f *Factory) StopMarket(symbol types.Symbol, label types.Label, side types.OrderSide, quantity int64, price decimal.Decimal, tif types.TimeInForce, expire time.Time) (*Order, error) {
	return f.build(symbol, label, side, types.StopMarket, quantity, price, tif, expire, types.PurposeNone)
}

// StopLimit builds a STOP_LIMIT order.
func (f *Factory) StopLimit(symbol types.Symbol, label types.Label, side types.OrderSide, quantity int64, price decimal.Decimal, tif types.TimeInForce, expire time.Time) (*Order, error) {
	return f.build(symbol, label, side, types.StopLimit, quantity, price, tif, expire, types.PurposeNone)
}

// MarketIfTouched builds an MIT order triggered at the given price.
func (f *Factory) MarketIfTouched(symbol types.Symbol, label types.Label, side types.OrderSide, quantity int64, price decimal.Decimal, tif types.TimeInForce, expire time.Time) (*Order, error) {
	return f.build(symbol, label, side, types.MarketIfTouched, quantity, price, tif, expire, types.PurposeNone)
}

// AtomicMarket builds a bracket with a MARKET entry, a STOP_MARKET
// stop-loss, and, when takeProfit is non-zero, a LIMIT take-profit.
func (f *Factory) AtomicMarket(symbol types.Symbol, label types.Label, side types.OrderSide, quantity int64, stopLoss, takeProfit decimal.Decimal) (*AtomicOrder, error) {
	entry, err := f.build(symbol, label+"_E", side, types.Market, quantity, decimal.Decimal{}, types.DAY, time.Time{}, types.PurposeEntry)
	if err != nil {
		return nil, err
	}
	return f.buildChildren(entry, label, quantity, stopLoss, takeProfit)
}

// AtomicLimit builds a bracket with a LIMIT entry at the given price.
func (f *Factory) AtomicLimit(symbol types.Symbol, label types.Label, side types.OrderSide, quantity int64, entryPrice, stopLoss, takeProfit decimal.Decimal) (*AtomicOrder, error) {
	entry, err := f.build(symbol, label+"_E", side, types.Limit, quantity, entryPrice, types.DAY, time.Time{}, types.PurposeEntry)
	if err != nil {
		return nil, err
	}
	return f.buildChildren(entry, label, quantity, stopLoss, takeProfit)
}

// buildChildren derives the stop-loss and optional take-profit from the
// entry: opposite side, equal quantity, GTC.
func (f *Factory) buildChildren(entry *Order, label types.Label, quantity int64, stopLoss, takeProfit decimal.Decimal) (*AtomicOrder, error) {
	sl, err := f.build(entry.Symbol, label+"_SL", entry.Side.Opposite(), types.StopMarket, quantity, stopLoss, types.GTC, time.Time{}, types.PurposeStopLoss)
	if err != nil {
		return nil, err
	}
	var tp *Order
	if !takeProfit.IsZero() {
		tp, err = f.build(entry.Symbol, label+"_TP", entry.Side.Opposite(), types.Limit, quantity, takeProfit, types.GTC, time.Time{}, types.PurposeTakeProfit)
		if err != nil {
			return nil, err
		}
	}
	return newAtomicOrder(entry, sl, tp), nil
}

func (f *Factory) build(symbol types.Symbol, label types.Label, side types.OrderSide, typ types.OrderType, quantity int64, price decimal.Decimal, tif types.TimeInForce, expire time.Time, purpose types.OrderPurpose) (*Order, error) {
	qty, err := types.NewQuantity(quantity)
	if err != nil {
		return nil, fmt.Errorf("build %s order: %w", typ, err)
	}
	if typ.IsPriced() && price.IsZero() {
		return nil, fmt.Errorf("build %s order: price required", typ)
	}
	if !typ.IsPriced() && !price.IsZero() {
		return nil, fmt.Errorf("build %s order: price not applicable", typ)
	}

	now := f.clock.TimeNow()
	if tif == types.GTD {
		if expire.IsZero() {
			return nil, fmt.Errorf("build %s order: GTD requires an expire time", typ)
		}
		if !expire.After(now) {
			return nil, fmt.Errorf("build %s order: GTD expire time %s is not in the future", typ, expire)
		}
	} else if !expire.IsZero() {
		return nil, fmt.Errorf("build %s order: expire time only applies to GTD", typ)
	}

	init := &events.OrderInitialized{
		Meta:        events.NewMeta(now),
		OrderID:     f.nextID(),
		Symbol:      symbol,
		Label:       label,
		Side:        side,
		Type:        typ,
		Quantity:    qty,
		Price:       price,
		TimeInForce: tif,
		ExpireTime:  expire,
	}
	return newOrder(init, purpose), nil
}
