// Package engine implements the execution engine: the single mutator of
// execution state. It dispatches strategy commands outbound to the broker
// gateway and applies the returned events to orders, positions and the
// account, keeping every database index coherent.
//
// Concurrency model: all command and event handling is serialized behind
// one mutex, so producers (strategies, the gateway adapter, clock timers)
// may call in from any goroutine. Strategy callbacks are dispatched after
// the lock is released, which lets a strategy submit follow-up commands
// from inside its event handler.
package engine

import (
	"fmt"
	"log/slog"
	"sync"
	"time"

	"tradecore/internal/account"
	"tradecore/internal/clock"
	"tradecore/internal/database"
	"tradecore/internal/events"
	"tradecore/internal/order"
	"tradecore/internal/position"
	"tradecore/pkg/types"
)

// ExecutionClient is the outbound port to a broker gateway. No method may
// block the engine thread: implementations queue work and return.
// Events flow back through Engine.OnEvent.
type ExecutionClient interface {
	Connect() error
	Disconnect() error
	Dispose()
	AccountInquiry(cmd *AccountInquiry) error
	SubmitOrder(cmd *SubmitOrder) error
	SubmitAtomicOrder(cmd *SubmitAtomicOrder) error
	ModifyOrder(cmd *ModifyOrder) error
	CancelOrder(cmd *CancelOrder) error
	Reset()
}

// Strategy is the inbound port a registered strategy exposes to the
// engine.
type Strategy interface {
	ID() types.StrategyID
	RegisterExecutionEngine(e *Engine)
	HandleEvent(ev events.Event)
}

// Portfolio receives realized-return records and account updates. The
// engine reports each closed position exactly once.
type Portfolio interface {
	OnPositionClosed(strategyID types.StrategyID, p *position.Position, closedAt time.Time)
	OnAccountState(a *account.Account)
}

// Engine is the execution engine.
type Engine struct {
	traderID  types.TraderID
	clock     clock.Clock
	db        database.ExecutionDatabase
	account   *account.Account
	portfolio Portfolio
	logger    *slog.Logger

	mu           sync.Mutex
	client       ExecutionClient
	strategies   map[types.StrategyID]Strategy
	commandCount int
	eventCount   int
}

// delivery is one strategy callback queued for dispatch after the lock is
// released.
type delivery struct {
	strategy Strategy
	event    events.Event
}

// New creates an execution engine.
func New(traderID types.TraderID, clk clock.Clock, db database.ExecutionDatabase, acct *account.Account, portfolio Portfolio, logger *slog.Logger) *Engine {
	return &Engine{
		traderID:   traderID,
		clock:      clk,
		db:         db,
		account:    acct,
		portfolio:  portfolio,
		logger:     logger.With("component", "exec_engine"),
		strategies: make(map[types.StrategyID]Strategy),
	}
}

// RegisterClient attaches the broker gateway the engine forwards commands
// to.
func (e *Engine) RegisterClient(client ExecutionClient) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.client = client
}

// RegisterStrategy registers a strategy with the engine and the database,
// and hands the strategy its engine handle.
func (e *Engine) RegisterStrategy(s Strategy) error {
	e.mu.Lock()
	if _, dup := e.strategies[s.ID()]; dup {
		e.mu.Unlock()
		return fmt.Errorf("register strategy %s: already registered", s.ID())
	}
	if err := e.db.AddStrategy(s.ID()); err != nil {
		e.mu.Unlock()
		return err
	}
	e.strategies[s.ID()] = s
	e.mu.Unlock()

	s.RegisterExecutionEngine(e)
	return nil
}

// DeregisterStrategy detaches a strategy. Its orders and positions stay in
// the database.
func (e *Engine) DeregisterStrategy(s Strategy) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	if _, ok := e.strategies[s.ID()]; !ok {
		return fmt.Errorf("deregister strategy %s: not registered", s.ID())
	}
	if err := e.db.DeleteStrategy(s.ID()); err != nil {
		return err
	}
	delete(e.strategies, s.ID())
	return nil
}

// CommandCount returns the number of commands executed.
func (e *Engine) CommandCount() int {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.commandCount
}

// EventCount returns the number of events received, including dropped
// ones.
func (e *Engine) EventCount() int {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.eventCount
}

// Database exposes the engine's query surface to strategies.
func (e *Engine) Database() database.ExecutionDatabase { return e.db }

// Clock returns the engine's time source.
func (e *Engine) Clock() clock.Clock { return e.clock }

// ResetCounts zeroes the command and event counters. Only meaningful
// between backtest runs.
func (e *Engine) ResetCounts() {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.commandCount = 0
	e.eventCount = 0
}

// ————————————————————————————————————————————————————————————————————————
// Command path
// ————————————————————————————————————————————————————————————————————————

// Execute dispatches a command to the broker gateway, recording order
// intent into the database first. Precondition violations (duplicate ids,
// no client) propagate to the caller and the command is not forwarded.
func (e *Engine) Execute(cmd Command) error {
	e.mu.Lock()
	defer e.mu.Unlock()

	e.commandCount++
	if e.client == nil {
		return fmt.Errorf("execute command: no execution client registered")
	}

	switch c := cmd.(type) {
	case *AccountInquiry:
		return e.client.AccountInquiry(c)
	case *SubmitOrder:
		return e.executeSubmitOrder(c)
	case *SubmitAtomicOrder:
		return e.executeSubmitAtomicOrder(c)
	case *ModifyOrder:
		return e.client.ModifyOrder(c)
	case *CancelOrder:
		return e.client.CancelOrder(c)
	default:
		return fmt.Errorf("execute command: unrecognized command %T", cmd)
	}
}

func (e *Engine) executeSubmitOrder(c *SubmitOrder) error {
	if err := e.db.AddOrder(c.Order, c.StrategyID, c.PositionID); err != nil {
		return err
	}
	e.watchExpiry(c.Order)
	return e.client.SubmitOrder(c)
}

func (e *Engine) executeSubmitAtomicOrder(c *SubmitAtomicOrder) error {
	atomic := c.AtomicOrder
	if err := e.db.AddOrder(atomic.Entry, c.StrategyID, c.PositionID); err != nil {
		return err
	}
	if err := e.db.AddOrder(atomic.StopLoss, c.StrategyID, c.PositionID); err != nil {
		return err
	}
	if atomic.HasTakeProfit() {
		if err := e.db.AddOrder(atomic.TakeProfit, c.StrategyID, c.PositionID); err != nil {
			return err
		}
	}
	e.watchExpiry(atomic.Entry)
	return e.client.SubmitAtomicOrder(c)
}

// watchExpiry schedules a time alert for a GTD order and cancels the order
// if it is still working when the alert fires. The broker remains the
// authority: the resulting state change arrives as an OrderCancelled or
// OrderExpired event like any other.
func (e *Engine) watchExpiry(o *order.Order) {
	if o.TimeInForce != types.GTD {
		return
	}
	orderID := o.ID
	label := types.Label("EXPIRE-" + string(orderID))
	err := e.clock.SetTimeAlert(label, o.ExpireTime, func(ev events.TimeEvent) {
		if !e.db.IsOrderWorking(orderID) {
			return
		}
		cancel := &CancelOrder{
			CommandMeta: NewCommandMeta(ev.Timestamp),
			OrderID:     orderID,
			Reason:      "GTD_EXPIRED",
		}
		if err := e.Execute(cancel); err != nil {
			e.logger.Error("cannot cancel expired order", "order_id", string(orderID), "error", err)
		}
	})
	if err != nil {
		e.logger.Error("cannot schedule expiry alert", "order_id", string(orderID), "error", err)
	}
}

// ————————————————————————————————————————————————————————————————————————
// Event path
// ————————————————————————————————————————————————————————————————————————

// OnEvent applies an inbound event. Malformed or unresolvable events are
// logged and dropped; they never take the engine down. The event counter
// counts received events, successful or not.
func (e *Engine) OnEvent(ev events.Event) {
	e.mu.Lock()
	deliveries := e.handle(ev)
	e.mu.Unlock()

	for _, d := range deliveries {
		d.strategy.HandleEvent(d.event)
	}
}

// handle counts one received event and processes it. Derived position
// events re-enter here, so they are counted like externally received ones.
// Caller holds the lock.
func (e *Engine) handle(ev events.Event) []delivery {
	e.eventCount++
	return e.process(ev)
}

// process mutates state for one event and returns the strategy deliveries
// it produced, in dispatch order. Caller holds the lock.
func (e *Engine) process(ev events.Event) []delivery {
	switch v := ev.(type) {
	case events.OrderEvent:
		return e.processOrderEvent(v)
	case events.PositionEvent:
		return e.processPositionEvent(v)
	case *events.AccountState:
		return e.processAccountEvent(v)
	default:
		e.logger.Error("unrecognized event", "event", fmt.Sprintf("%T", ev))
		return nil
	}
}

func (e *Engine) processOrderEvent(ev events.OrderEvent) []delivery {
	orderID := ev.RefOrderID()
	o, ok := e.db.GetOrder(orderID)
	if !ok {
		e.logger.Error("cannot find order for event",
			"order_id", string(orderID), "event", fmt.Sprintf("%T", ev))
		return nil
	}

	// A cancel reject is forwarded as a warning but never applied: the
	// order's state is unchanged by a refused modify or cancel.
	if _, isCancelReject := ev.(*events.OrderCancelReject); !isCancelReject {
		if err := o.Apply(ev); err != nil {
			e.logger.Error("cannot apply event to order",
				"order_id", string(orderID), "error", err)
			return nil
		}
		e.db.UpdateOrder(o)
	}

	strategyID, ok := e.db.GetStrategyForOrder(orderID)
	if !ok {
		e.logger.Error("cannot find strategy for order", "order_id", string(orderID))
		return nil
	}
	s, ok := e.strategies[strategyID]
	if !ok {
		e.logger.Error("strategy not registered", "strategy_id", string(strategyID))
		return nil
	}

	deliveries := []delivery{{strategy: s, event: ev}}
	if fill, isFill := ev.(*events.OrderFilled); isFill {
		deliveries = append(deliveries, e.processFill(fill, strategyID)...)
	}
	return deliveries
}

// processFill runs the fill sub-protocol: resolve the position id, open or
// modify the position, and recursively handle the derived position event.
// The derived event is dispatched after the source fill so strategies see
// a coherent order, position and database state.
func (e *Engine) processFill(fill *events.OrderFilled, strategyID types.StrategyID) []delivery {
	positionID, ok := e.db.GetPositionID(fill.OrderID)
	if !ok {
		e.logger.Error("cannot find position id for order", "order_id", string(fill.OrderID))
		return nil
	}

	p, exists := e.db.GetPosition(positionID)
	if !exists {
		p = position.NewPosition(positionID, fill)
		if err := e.db.AddPosition(p, strategyID); err != nil {
			e.logger.Error("cannot add position", "position_id", string(positionID), "error", err)
			return nil
		}
		opened := &events.PositionOpened{
			Meta:       events.NewMeta(fill.ExecutionTime),
			PositionID: positionID,
			StrategyID: strategyID,
			Fill:       fill,
		}
		return e.handle(opened)
	}

	if err := p.Apply(fill); err != nil {
		e.logger.Error("cannot apply fill to position",
			"position_id", string(positionID), "error", err)
		return nil
	}
	e.db.UpdatePosition(p)

	var derived events.PositionEvent
	if p.IsClosed() {
		derived = &events.PositionClosed{
			Meta:       events.NewMeta(fill.ExecutionTime),
			PositionID: positionID,
			StrategyID: strategyID,
			Fill:       fill,
		}
	} else {
		derived = &events.PositionModified{
			Meta:       events.NewMeta(fill.ExecutionTime),
			PositionID: positionID,
			StrategyID: strategyID,
			Fill:       fill,
		}
	}
	return e.handle(derived)
}

func (e *Engine) processPositionEvent(ev events.PositionEvent) []delivery {
	if closed, ok := ev.(*events.PositionClosed); ok && e.portfolio != nil {
		if p, found := e.db.GetPosition(closed.PositionID); found {
			e.portfolio.OnPositionClosed(closed.RefStrategyID(), p, closed.Timestamp)
		}
	}

	s, ok := e.strategies[ev.RefStrategyID()]
	if !ok {
		e.logger.Error("cannot find strategy for position event",
			"strategy_id", string(ev.RefStrategyID()),
			"position_id", string(ev.RefPositionID()))
		return nil
	}
	return []delivery{{strategy: s, event: ev}}
}

func (e *Engine) processAccountEvent(ev *events.AccountState) []delivery {
	if e.account.Initialized() && ev.AccountID != e.account.ID {
		e.logger.Warn("account state event for different account",
			"event_account_id", string(ev.AccountID),
			"account_id", string(e.account.ID))
		return nil
	}
	if err := e.account.Apply(ev); err != nil {
		e.logger.Warn("cannot apply account state", "error", err)
		return nil
	}
	e.db.UpdateAccount(ev)
	if e.portfolio != nil {
		e.portfolio.OnAccountState(e.account)
	}
	return nil
}
