// Package order implements the order model: the lifecycle state machine,
// the atomic (bracket) order triple, and the factory that strategies use to
// build validated orders.
package order

import (
	"fmt"
	"time"

	"github.com/shopspring/decimal"

	"tradecore/internal/events"
	"tradecore/pkg/types"
)

// Order is the central entity of the execution core. It is created by an
// OrderFactory, added to the execution database on submit, and mutated only
// through Apply in response to broker events.
type Order struct {
	ID          types.OrderID
	Symbol      types.Symbol
	Label       types.Label
	Side        types.OrderSide
	Type        types.OrderType
	Purpose     types.OrderPurpose
	Quantity    types.Quantity
	Price       decimal.Decimal // zero for MARKET orders
	TimeInForce types.TimeInForce
	ExpireTime  time.Time // set iff TimeInForce is GTD
	Timestamp   time.Time
	InitID      types.GUID

	// Assigned by the events that first reveal them.
	BrokerOrderID    types.BrokerOrderID
	AccountID        types.AccountID
	BrokerPositionID types.BrokerPositionID

	state          types.OrderState
	filledQuantity types.Quantity
	averagePrice   decimal.Decimal
	slippage       decimal.Decimal
	executionIDs   map[types.ExecutionID]struct{}
	eventLog       []events.OrderEvent
}

// newOrder constructs an order from its initialization event. Only the
// factory calls this; validation has already happened there.
func newOrder(init *events.OrderInitialized, purpose types.OrderPurpose) *Order {
	o := &Order{
		ID:          init.OrderID,
		Symbol:      init.Symbol,
		Label:       init.Label,
		Side:        init.Side,
		Type:        init.Type,
		Purpose:     purpose,
		Quantity:    init.Quantity,
		Price:       init.Price,
		TimeInForce: init.TimeInForce,
		ExpireTime:  init.ExpireTime,
		Timestamp:   init.Timestamp,
		InitID:      init.ID,

		state:        types.StateInitialized,
		executionIDs: make(map[types.ExecutionID]struct{}),
	}
	o.eventLog = append(o.eventLog, init)
	return o
}

// State returns the current lifecycle state.
func (o *Order) State() types.OrderState { return o.state }

// FilledQuantity returns the cumulative filled quantity across all fills.
func (o *Order) FilledQuantity() types.Quantity { return o.filledQuantity }

// AveragePrice returns the volume-weighted average fill price.
func (o *Order) AveragePrice() decimal.Decimal { return o.averagePrice }

// Slippage returns signed slippage versus the order price. Zero for
// unpriced order types.
func (o *Order) Slippage() decimal.Decimal { return o.slippage }

// ExecutionIDs returns a copy of the set of execution ids seen so far.
func (o *Order) ExecutionIDs() []types.ExecutionID {
	ids := make([]types.ExecutionID, 0, len(o.executionIDs))
	for id := range o.executionIDs {
		ids = append(ids, id)
	}
	return ids
}

// Events returns a copy of the append-only event log.
func (o *Order) Events() []events.OrderEvent {
	log := make([]events.OrderEvent, len(o.eventLog))
	copy(log, o.eventLog)
	return log
}

// LastEvent returns the most recent applied event.
func (o *Order) LastEvent() events.OrderEvent {
	return o.eventLog[len(o.eventLog)-1]
}

// EventCount returns the number of applied events, including the
// initialization event.
func (o *Order) EventCount() int { return len(o.eventLog) }

// IsWorking reports whether the order is live at the venue.
func (o *Order) IsWorking() bool { return o.state.IsWorking() }

// IsCompleted reports whether the order has reached a terminal state.
func (o *Order) IsCompleted() bool { return o.state.IsCompleted() }

// Apply transitions the order with the given event. It is the only mutator:
// it appends to the event log, moves the state machine, and for fills
// updates filled quantity, average price, execution ids and slippage.
//
// Apply returns an error when the event references a different order, or a
// different account than the one already assigned. OrderCancelReject is not
// applicable: it never changes order state.
func (o *Order) Apply(e events.OrderEvent) error {
	if e.RefOrderID() != o.ID {
		return fmt.Errorf("apply to order %s: event is for order %s", o.ID, e.RefOrderID())
	}
	if id, ok := eventAccountID(e); ok && o.AccountID != "" && id != o.AccountID {
		return fmt.Errorf("apply to order %s: event account %s does not match %s", o.ID, id, o.AccountID)
	}

	switch ev := e.(type) {
	case *events.OrderSubmitted:
		o.AccountID = ev.AccountID
		o.state = types.StateSubmitted
	case *events.OrderInvalid:
		o.state = types.StateInvalid
	case *events.OrderDenied:
		o.state = types.StateDenied
	case *events.OrderRejected:
		o.state = types.StateRejected
	case *events.OrderAccepted:
		o.state = types.StateAccepted
	case *events.OrderWorking:
		o.BrokerOrderID = ev.BrokerOrderID
		o.state = types.StateWorking
	case *events.OrderModified:
		// A modify rewrites quantity and price in place; the order stays
		// working unless the new quantity now trails the filled quantity.
		o.BrokerOrderID = ev.BrokerOrderID
		o.Quantity = ev.ModifiedQuantity
		o.Price = ev.ModifiedPrice
		if o.filledQuantity > o.Quantity {
			o.state = types.StateOverFilled
		}
	case *events.OrderCancelled:
		o.state = types.StateCancelled
	case *events.OrderExpired:
		o.state = types.StateExpired
	case *events.OrderFilled:
		o.applyFill(ev)
	default:
		return fmt.Errorf("apply to order %s: event %T is not applicable", o.ID, e)
	}

	o.eventLog = append(o.eventLog, e)
	return nil
}

func (o *Order) applyFill(e *events.OrderFilled) {
	// Duplicate execution ids are tolerated silently: set semantics.
	o.executionIDs[e.ExecutionID] = struct{}{}
	o.BrokerPositionID = e.BrokerPositionID

	// Volume-weight the average price across fill legs.
	prevQty := decimal.NewFromInt(int64(o.filledQuantity))
	fillQty := decimal.NewFromInt(int64(e.FilledQuantity))
	total := prevQty.Add(fillQty)
	if total.IsPositive() {
		o.averagePrice = o.averagePrice.Mul(prevQty).
			Add(e.AveragePrice.Mul(fillQty)).
			DivRound(total, int32(maxExponent(o.averagePrice, e.AveragePrice))+4)
	}
	o.filledQuantity += e.FilledQuantity

	o.setFilledState()
	o.setSlippage()
}

// setFilledState derives the filled sub-state from the quantity comparison.
// An over-fill surfaces as its own terminal state rather than being capped;
// reconciling it is an upstream risk control's job.
func (o *Order) setFilledState() {
	switch {
	case o.filledQuantity < o.Quantity:
		o.state = types.StatePartiallyFilled
	case o.filledQuantity == o.Quantity:
		o.state = types.StateFilled
	default:
		o.state = types.StateOverFilled
	}
}

// setSlippage computes signed slippage for priced order types, at the
// precision of the average fill price.
func (o *Order) setSlippage() {
	if !o.Type.IsPriced() {
		return
	}
	if o.Side == types.BUY {
		o.slippage = o.averagePrice.Sub(o.Price)
	} else {
		o.slippage = o.Price.Sub(o.averagePrice)
	}
	o.slippage = o.slippage.Round(-o.averagePrice.Exponent())
}

// eventAccountID extracts the account id from the events that carry one.
func eventAccountID(e events.OrderEvent) (types.AccountID, bool) {
	switch ev := e.(type) {
	case *events.OrderSubmitted:
		return ev.AccountID, true
	case *events.OrderRejected:
		return ev.AccountID, true
	case *events.OrderAccepted:
		return ev.AccountID, true
	case *events.OrderWorking:
		return ev.AccountID, true
	case *events.OrderModified:
		return ev.AccountID, true
	case *events.OrderCancelled:
		return ev.AccountID, true
	case *events.OrderExpired:
		return ev.AccountID, true
	case *events.OrderFilled:
		return ev.AccountID, true
	}
	return "", false
}

// maxExponent returns the larger decimal scale of the two prices, as a
// positive digit count.
func maxExponent(a, b decimal.Decimal) int {
	ea, eb := int(-a.Exponent()), int(-b.Exponent())
	if ea > eb {
		return ea
	}
	return eb
}

// AtomicOrder is a bracket of entry, stop-loss and optional take-profit
// treated as one logical submission. Children carry the opposite side from
// the entry, the same quantity, and GTC time in force; the stop-loss is
// always STOP_MARKET.
type AtomicOrder struct {
	ID         types.OrderID
	Entry      *Order
	StopLoss   *Order
	TakeProfit *Order // nil when no take-profit was requested
}

// HasTakeProfit reports whether the bracket includes a take-profit child.
func (a *AtomicOrder) HasTakeProfit() bool { return a.TakeProfit != nil }

func newAtomicOrder(entry, stopLoss, takeProfit *Order) *AtomicOrder {
	return &AtomicOrder{
		ID:         "A" + entry.ID,
		Entry:      entry,
		StopLoss:   stopLoss,
		TakeProfit: takeProfit,
	}
}
