// Package events defines the event taxonomy flowing through the execution
// core: order lifecycle events returned by the broker gateway, position
// events derived by the engine from fills, account state updates, and time
// events fired by clocks.
//
// Events are immutable once constructed. The engine dispatches on the
// OrderEvent / PositionEvent / AccountState split, so a new variant that
// implements none of them is surfaced as an error instead of being silently
// dropped.
package events

import (
	"time"

	"github.com/shopspring/decimal"

	"tradecore/pkg/types"
)

// Event is the common surface of every event in the system.
type Event interface {
	EventID() types.GUID
	EventTimestamp() time.Time
}

// OrderEvent is implemented by every event that references an order.
type OrderEvent interface {
	Event
	RefOrderID() types.OrderID
}

// PositionEvent is implemented by the events the engine derives from fills.
type PositionEvent interface {
	Event
	RefPositionID() types.PositionID
	RefStrategyID() types.StrategyID
}

// Meta carries the identity and timestamp common to all events.
type Meta struct {
	ID        types.GUID
	Timestamp time.Time
}

// NewMeta stamps a fresh GUID onto the given event time.
func NewMeta(ts time.Time) Meta {
	return Meta{ID: types.NewGUID(), Timestamp: ts}
}

func (m Meta) EventID() types.GUID       { return m.ID }
func (m Meta) EventTimestamp() time.Time { return m.Timestamp }

// ————————————————————————————————————————————————————————————————————————
// Order events
// ————————————————————————————————————————————————————————————————————————

// OrderInitialized is recorded when a factory builds an order. It is the
// first entry in every order's event log.
type OrderInitialized struct {
	Meta
	OrderID     types.OrderID
	Symbol      types.Symbol
	Label       types.Label
	Side        types.OrderSide
	Type        types.OrderType
	Quantity    types.Quantity
	Price       decimal.Decimal // zero for MARKET orders
	TimeInForce types.TimeInForce
	ExpireTime  time.Time // set iff TimeInForce is GTD
}

func (e *OrderInitialized) RefOrderID() types.OrderID { return e.OrderID }

// OrderInvalid means the order failed validation before ever reaching the
// broker.
type OrderInvalid struct {
	Meta
	OrderID types.OrderID
	Reason  string
}

func (e *OrderInvalid) RefOrderID() types.OrderID { return e.OrderID }

// OrderDenied means an internal control refused to send the order.
type OrderDenied struct {
	Meta
	OrderID types.OrderID
	Reason  string
}

func (e *OrderDenied) RefOrderID() types.OrderID { return e.OrderID }

// OrderSubmitted confirms transport of the order to the broker.
type OrderSubmitted struct {
	Meta
	OrderID       types.OrderID
	AccountID     types.AccountID
	SubmittedTime time.Time
}

func (e *OrderSubmitted) RefOrderID() types.OrderID { return e.OrderID }

// OrderRejected means the broker refused the order.
type OrderRejected struct {
	Meta
	OrderID      types.OrderID
	AccountID    types.AccountID
	RejectedTime time.Time
	Reason       string
}

func (e *OrderRejected) RefOrderID() types.OrderID { return e.OrderID }

// OrderAccepted means the broker acknowledged the order.
type OrderAccepted struct {
	Meta
	OrderID      types.OrderID
	AccountID    types.AccountID
	AcceptedTime time.Time
}

func (e *OrderAccepted) RefOrderID() types.OrderID { return e.OrderID }

// OrderWorking means the order is live in the venue's book. It carries the
// venue's own order id, the first time the core learns it.
type OrderWorking struct {
	Meta
	OrderID       types.OrderID
	BrokerOrderID types.BrokerOrderID
	AccountID     types.AccountID
	Symbol        types.Symbol
	Label         types.Label
	Side          types.OrderSide
	Type          types.OrderType
	Quantity      types.Quantity
	Price         decimal.Decimal
	TimeInForce   types.TimeInForce
	ExpireTime    time.Time
	WorkingTime   time.Time
}

func (e *OrderWorking) RefOrderID() types.OrderID { return e.OrderID }

// OrderModified confirms an in-place amendment of quantity and price.
type OrderModified struct {
	Meta
	OrderID          types.OrderID
	BrokerOrderID    types.BrokerOrderID
	AccountID        types.AccountID
	ModifiedQuantity types.Quantity
	ModifiedPrice    decimal.Decimal
	ModifiedTime     time.Time
}

func (e *OrderModified) RefOrderID() types.OrderID { return e.OrderID }

// OrderCancelled confirms a cancel.
type OrderCancelled struct {
	Meta
	OrderID       types.OrderID
	AccountID     types.AccountID
	CancelledTime time.Time
}

func (e *OrderCancelled) RefOrderID() types.OrderID { return e.OrderID }

// OrderCancelReject means a modify or cancel request was refused. It is
// forwarded to the owning strategy but never applied to the order.
type OrderCancelReject struct {
	Meta
	OrderID      types.OrderID
	AccountID    types.AccountID
	RejectedTime time.Time
	Response     string
	Reason       string
}

func (e *OrderCancelReject) RefOrderID() types.OrderID { return e.OrderID }

// OrderExpired means the order lapsed at the venue (DAY close, GTD expiry).
type OrderExpired struct {
	Meta
	OrderID     types.OrderID
	AccountID   types.AccountID
	ExpiredTime time.Time
}

func (e *OrderExpired) RefOrderID() types.OrderID { return e.OrderID }

// OrderFilled reports one fill: the quantity and volume-weighted price of
// this execution leg. The order accumulates filled quantity and average
// price across legs.
type OrderFilled struct {
	Meta
	OrderID          types.OrderID
	AccountID        types.AccountID
	ExecutionID      types.ExecutionID
	BrokerPositionID types.BrokerPositionID
	Symbol           types.Symbol
	Side             types.OrderSide
	FilledQuantity   types.Quantity
	AveragePrice     decimal.Decimal
	ExecutionTime    time.Time
}

func (e *OrderFilled) RefOrderID() types.OrderID { return e.OrderID }

// ————————————————————————————————————————————————————————————————————————
// Position events
// ————————————————————————————————————————————————————————————————————————

// PositionOpened is derived by the engine from the first fill mapped to a
// position id.
type PositionOpened struct {
	Meta
	PositionID types.PositionID
	StrategyID types.StrategyID
	Fill       *OrderFilled
}

func (e *PositionOpened) RefPositionID() types.PositionID { return e.PositionID }
func (e *PositionOpened) RefStrategyID() types.StrategyID { return e.StrategyID }

// PositionModified is derived from a fill that changed an open position
// without flattening it.
type PositionModified struct {
	Meta
	PositionID types.PositionID
	StrategyID types.StrategyID
	Fill       *OrderFilled
}

func (e *PositionModified) RefPositionID() types.PositionID { return e.PositionID }
func (e *PositionModified) RefStrategyID() types.StrategyID { return e.StrategyID }

// PositionClosed is derived from the fill that returned a position's net
// quantity to zero.
type PositionClosed struct {
	Meta
	PositionID types.PositionID
	StrategyID types.StrategyID
	Fill       *OrderFilled
}

func (e *PositionClosed) RefPositionID() types.PositionID { return e.PositionID }
func (e *PositionClosed) RefStrategyID() types.StrategyID { return e.StrategyID }

// ————————————————————————————————————————————————————————————————————————
// Account events
// ————————————————————————————————————————————————————————————————————————

// AccountState is the broker's periodic snapshot of account balances and
// margin usage.
type AccountState struct {
	Meta
	AccountID             types.AccountID
	Brokerage             types.Brokerage
	Currency              types.Currency
	CashBalance           decimal.Decimal
	CashStartDay          decimal.Decimal
	CashActivityDay       decimal.Decimal
	MarginUsedLiquidation decimal.Decimal
	MarginUsedMaintenance decimal.Decimal
	MarginRatio           decimal.Decimal
	MarginCallStatus      string
}

// ————————————————————————————————————————————————————————————————————————
// Time events
// ————————————————————————————————————————————————————————————————————————

// TimeEvent is fired by a clock for an alert or timer schedule.
type TimeEvent struct {
	Meta
	Label types.Label
}
