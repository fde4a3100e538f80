// Package position models net exposure built from fills. A position opens
// on the first fill mapped to its id, changes with every further fill, and
// closes when net quantity returns to zero.
package position

import (
	"fmt"
	"time"

	"github.com/shopspring/decimal"

	"tradecore/internal/events"
	"tradecore/pkg/types"
)

// Position is the net exposure of one or more fills sharing a PositionID.
// The engine treats it as opaque: construct with a first fill, Apply
// subsequent fills, observe IsClosed and ReturnRealized.
type Position struct {
	ID               types.PositionID
	BrokerPositionID types.BrokerPositionID
	Symbol           types.Symbol
	FromOrderID      types.OrderID
	EntryTime        time.Time
	ExitTime         time.Time

	relativeQuantity int64 // signed net quantity: buys positive, sells negative
	peakQuantity     int64
	direction        types.MarketPosition
	entryDirection   types.MarketPosition
	avgOpenPrice     decimal.Decimal
	avgClosePrice    decimal.Decimal
	returnRealized   decimal.Decimal
	closed           bool

	executionIDs map[types.ExecutionID]struct{}
	orderIDs     map[types.OrderID]struct{}
	eventCount   int
	lastFill     *events.OrderFilled
}

// NewPosition opens a position from its first fill.
func NewPosition(id types.PositionID, fill *events.OrderFilled) *Position {
	p := &Position{
		ID:               id,
		BrokerPositionID: fill.BrokerPositionID,
		Symbol:           fill.Symbol,
		FromOrderID:      fill.OrderID,
		EntryTime:        fill.ExecutionTime,
		executionIDs:     make(map[types.ExecutionID]struct{}),
		orderIDs:         make(map[types.OrderID]struct{}),
	}
	p.applyFill(fill)
	p.entryDirection = p.direction
	return p
}

// Apply folds one more fill into the position.
func (p *Position) Apply(fill *events.OrderFilled) error {
	if p.closed {
		return fmt.Errorf("apply to position %s: already closed", p.ID)
	}
	p.applyFill(fill)
	return nil
}

func (p *Position) applyFill(fill *events.OrderFilled) {
	p.executionIDs[fill.ExecutionID] = struct{}{}
	p.orderIDs[fill.OrderID] = struct{}{}
	p.eventCount++
	p.lastFill = fill

	qty := int64(fill.FilledQuantity)
	opening := p.relativeQuantity == 0 ||
		(p.relativeQuantity > 0) == (fill.Side == types.BUY)

	if opening {
		// Entry or scale-in: volume-weight the open price.
		open := absInt64(p.relativeQuantity)
		p.avgOpenPrice = vwap(p.avgOpenPrice, open, fill.AveragePrice, qty)
	} else {
		// Reduction: volume-weight the close price over the closing legs.
		closedSoFar := p.peakQuantity - absInt64(p.relativeQuantity)
		p.avgClosePrice = vwap(p.avgClosePrice, closedSoFar, fill.AveragePrice, qty)
	}

	if fill.Side == types.BUY {
		p.relativeQuantity += qty
	} else {
		p.relativeQuantity -= qty
	}

	if abs := absInt64(p.relativeQuantity); abs > p.peakQuantity {
		p.peakQuantity = abs
	}

	switch {
	case p.relativeQuantity > 0:
		p.direction = types.LONG
	case p.relativeQuantity < 0:
		p.direction = types.SHORT
	default:
		p.direction = types.FLAT
		p.close(fill.ExecutionTime)
	}
}

// close marks the position flat and locks in the realized return:
// the relative move from average open to average close, signed by the
// entry direction.
func (p *Position) close(at time.Time) {
	p.closed = true
	p.ExitTime = at
	if p.avgOpenPrice.IsZero() {
		return
	}
	move := p.avgClosePrice.Sub(p.avgOpenPrice).Div(p.avgOpenPrice)
	if p.entryDirection == types.SHORT {
		move = move.Neg()
	}
	p.returnRealized = move
}

// IsClosed reports whether net quantity has returned to zero.
func (p *Position) IsClosed() bool { return p.closed }

// IsLong reports whether the position is net long.
func (p *Position) IsLong() bool { return p.direction == types.LONG }

// IsShort reports whether the position is net short.
func (p *Position) IsShort() bool { return p.direction == types.SHORT }

// Direction returns the current market position: LONG, SHORT or FLAT.
func (p *Position) Direction() types.MarketPosition { return p.direction }

// Quantity returns the absolute net quantity.
func (p *Position) Quantity() types.Quantity {
	return types.Quantity(absInt64(p.relativeQuantity))
}

// RelativeQuantity returns the signed net quantity: buys positive, sells
// negative.
func (p *Position) RelativeQuantity() int64 { return p.relativeQuantity }

// PeakQuantity returns the largest absolute net quantity the position
// reached.
func (p *Position) PeakQuantity() types.Quantity {
	return types.Quantity(p.peakQuantity)
}

// AverageOpenPrice returns the volume-weighted entry price.
func (p *Position) AverageOpenPrice() decimal.Decimal { return p.avgOpenPrice }

// AverageClosePrice returns the volume-weighted exit price over the legs
// that reduced the position.
func (p *Position) AverageClosePrice() decimal.Decimal { return p.avgClosePrice }

// ReturnRealized returns the realized fractional return, set once when the
// position closes.
func (p *Position) ReturnRealized() decimal.Decimal { return p.returnRealized }

// ExecutionIDs returns a copy of the execution ids folded in so far.
func (p *Position) ExecutionIDs() []types.ExecutionID {
	out := make([]types.ExecutionID, 0, len(p.executionIDs))
	for id := range p.executionIDs {
		out = append(out, id)
	}
	return out
}

// OrderIDs returns a copy of the order ids that contributed fills.
func (p *Position) OrderIDs() []types.OrderID {
	out := make([]types.OrderID, 0, len(p.orderIDs))
	for id := range p.orderIDs {
		out = append(out, id)
	}
	return out
}

// EventCount returns the number of fills applied.
func (p *Position) EventCount() int { return p.eventCount }

// LastFill returns the most recent applied fill.
func (p *Position) LastFill() *events.OrderFilled { return p.lastFill }

// vwap folds (addPrice, addQty) into a running volume-weighted average that
// already covers baseQty units.
func vwap(base decimal.Decimal, baseQty int64, addPrice decimal.Decimal, addQty int64) decimal.Decimal {
	if baseQty+addQty == 0 {
		return base
	}
	bq := decimal.NewFromInt(baseQty)
	aq := decimal.NewFromInt(addQty)
	scale := -addPrice.Exponent() + 4
	if s := -base.Exponent() + 4; s > scale {
		scale = s
	}
	return base.Mul(bq).Add(addPrice.Mul(aq)).DivRound(bq.Add(aq), scale)
}

func absInt64(v int64) int64 {
	if v < 0 {
		return -v
	}
	return v
}
