// Package strategy provides the base type trading strategies embed to talk
// to the execution engine: an order factory, command helpers, and the
// event dispatch split into typed callbacks.
package strategy

import (
	"fmt"
	"log/slog"

	"github.com/shopspring/decimal"

	"tradecore/internal/clock"
	"tradecore/internal/engine"
	"tradecore/internal/events"
	"tradecore/internal/order"
	"tradecore/pkg/types"
)

// EventHandlers are the optional typed callbacks a concrete strategy
// plugs into its Base. Nil handlers are skipped.
type EventHandlers struct {
	OnOrderEvent    func(ev events.OrderEvent)
	OnPositionEvent func(ev events.PositionEvent)
	OnAccountEvent  func(ev *events.AccountState)
	OnTimeEvent     func(ev events.TimeEvent)
}

// Base carries the machinery every strategy needs: identity, clock, order
// factory, and the engine handle received at registration. Concrete
// strategies embed it and set Handlers.
type Base struct {
	id       types.StrategyID
	clock    clock.Clock
	factory  *order.Factory
	logger   *slog.Logger
	engine   *engine.Engine
	Handlers EventHandlers
}

// NewBase creates a strategy base. The factory's identifier scope is the
// (trader tag, strategy id) pair, so order ids from different strategies
// never collide.
func NewBase(traderTag string, id types.StrategyID, clk clock.Clock, logger *slog.Logger) *Base {
	return &Base{
		id:      id,
		clock:   clk,
		factory: order.NewFactory(traderTag, string(id), clk),
		logger:  logger.With("component", "strategy", "strategy_id", string(id)),
	}
}

// ID returns the strategy identifier.
func (b *Base) ID() types.StrategyID { return b.id }

// RegisterExecutionEngine stores the engine handle. The engine calls this
// during registration.
func (b *Base) RegisterExecutionEngine(e *engine.Engine) { b.engine = e }

// Clock returns the strategy's time source.
func (b *Base) Clock() clock.Clock { return b.clock }

// OrderFactory returns the strategy-owned factory.
func (b *Base) OrderFactory() *order.Factory { return b.factory }

// Logger returns the strategy-scoped logger.
func (b *Base) Logger() *slog.Logger { return b.logger }

// HandleEvent dispatches an engine event to the typed callbacks.
func (b *Base) HandleEvent(ev events.Event) {
	switch v := ev.(type) {
	case events.OrderEvent:
		if b.Handlers.OnOrderEvent != nil {
			b.Handlers.OnOrderEvent(v)
		}
	case events.PositionEvent:
		if b.Handlers.OnPositionEvent != nil {
			b.Handlers.OnPositionEvent(v)
		}
	case *events.AccountState:
		if b.Handlers.OnAccountEvent != nil {
			b.Handlers.OnAccountEvent(v)
		}
	case events.TimeEvent:
		if b.Handlers.OnTimeEvent != nil {
			b.Handlers.OnTimeEvent(v)
		}
	default:
		b.logger.Warn("unhandled event", "event", fmt.Sprintf("%T", ev))
	}
}

// ————————————————————————————————————————————————————————————————————————
// Command helpers
// ————————————————————————————————————————————————————————————————————————

// SubmitOrder submits one order against a position id.
func (b *Base) SubmitOrder(o *order.Order, positionID types.PositionID) error {
	if b.engine == nil {
		return fmt.Errorf("strategy %s: not registered with an engine", b.id)
	}
	return b.engine.Execute(&engine.SubmitOrder{
		CommandMeta: engine.NewCommandMeta(b.clock.TimeNow()),
		Order:       o,
		StrategyID:  b.id,
		PositionID:  positionID,
	})
}

// SubmitAtomicOrder submits a bracket against a position id.
func (b *Base) SubmitAtomicOrder(a *order.AtomicOrder, positionID types.PositionID) error {
	if b.engine == nil {
		return fmt.Errorf("strategy %s: not registered with an engine", b.id)
	}
	return b.engine.Execute(&engine.SubmitAtomicOrder{
		CommandMeta: engine.NewCommandMeta(b.clock.TimeNow()),
		AtomicOrder: a,
		StrategyID:  b.id,
		PositionID:  positionID,
	})
}

// ModifyOrder asks the broker to amend a working order.
func (b *Base) ModifyOrder(orderID types.OrderID, quantity types.Quantity, price decimal.Decimal) error {
	if b.engine == nil {
		return fmt.Errorf("strategy %s: not registered with an engine", b.id)
	}
	return b.engine.Execute(&engine.ModifyOrder{
		CommandMeta:      engine.NewCommandMeta(b.clock.TimeNow()),
		OrderID:          orderID,
		ModifiedQuantity: quantity,
		ModifiedPrice:    price,
	})
}

// CancelOrder asks the broker to cancel a working order.
func (b *Base) CancelOrder(orderID types.OrderID, reason string) error {
	if b.engine == nil {
		return fmt.Errorf("strategy %s: not registered with an engine", b.id)
	}
	return b.engine.Execute(&engine.CancelOrder{
		CommandMeta: engine.NewCommandMeta(b.clock.TimeNow()),
		OrderID:     orderID,
		Reason:      reason,
	})
}

// AccountInquiry requests a fresh account snapshot.
func (b *Base) AccountInquiry() error {
	if b.engine == nil {
		return fmt.Errorf("strategy %s: not registered with an engine", b.id)
	}
	return b.engine.Execute(&engine.AccountInquiry{
		CommandMeta: engine.NewCommandMeta(b.clock.TimeNow()),
	})
}

// IsFlat reports whether this strategy holds no open position.
func (b *Base) IsFlat() bool {
	if b.engine == nil {
		return true
	}
	return b.engine.Database().IsFlat(b.id)
}
