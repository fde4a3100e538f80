// sim.go implements the simulated broker gateway used by backtests and
// tests. It acknowledges commands deterministically and lets the caller
// inject fills, rejections and account snapshots.
package exchange

import (
	"fmt"
	"log/slog"
	"sync"

	"github.com/shopspring/decimal"

	"tradecore/internal/clock"
	"tradecore/internal/engine"
	"tradecore/internal/events"
	"tradecore/internal/order"
	"tradecore/pkg/types"
)

// SimClient is the deterministic ExecutionClient variant.
//
// Command methods are called by the engine while it holds its dispatch
// lock, so their acknowledgement events are staged rather than delivered.
// Flush delivers staged events in order; the control methods (FillOrder,
// RejectOrder, ...) flush before acting, so a test usually only needs an
// explicit Flush after a submit it wants acknowledged on its own.
type SimClient struct {
	engine    *engine.Engine
	clock     clock.Clock
	accountID types.AccountID
	brokerage types.Brokerage
	currency  types.Currency
	logger    *slog.Logger

	mu        sync.Mutex
	connected bool
	pending   []events.Event
	orders    map[types.OrderID]*order.Order
	held      map[types.OrderID][]*order.Order // atomic children staged until the entry fills
	balance   decimal.Decimal
	seq       int
}

// NewSimClient creates a simulated gateway for the given account.
func NewSimClient(accountID types.AccountID, brokerage types.Brokerage, currency types.Currency, startingBalance decimal.Decimal, clk clock.Clock, eng *engine.Engine, logger *slog.Logger) *SimClient {
	return &SimClient{
		engine:    eng,
		clock:     clk,
		accountID: accountID,
		brokerage: brokerage,
		currency:  currency,
		logger:    logger.With("component", "sim_client"),
		orders:    make(map[types.OrderID]*order.Order),
		held:      make(map[types.OrderID][]*order.Order),
		balance:   startingBalance,
	}
}

// Connect marks the client connected.
func (c *SimClient) Connect() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.connected = true
	return nil
}

// Disconnect marks the client disconnected.
func (c *SimClient) Disconnect() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.connected = false
	return nil
}

// Dispose releases the client.
func (c *SimClient) Dispose() {}

// Reset drops staged events and forgets all orders.
func (c *SimClient) Reset() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.pending = nil
	c.orders = make(map[types.OrderID]*order.Order)
	c.held = make(map[types.OrderID][]*order.Order)
	c.seq = 0
}

// AccountInquiry stages an account state snapshot.
func (c *SimClient) AccountInquiry(cmd *engine.AccountInquiry) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.pending = append(c.pending, c.accountState())
	return nil
}

// SubmitOrder stages the submit, accept and working acknowledgements.
func (c *SimClient) SubmitOrder(cmd *engine.SubmitOrder) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.stageWorking(cmd.Order)
	return nil
}

// SubmitAtomicOrder works the entry and holds the children until the entry
// fills.
func (c *SimClient) SubmitAtomicOrder(cmd *engine.SubmitAtomicOrder) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	a := cmd.AtomicOrder
	c.stageWorking(a.Entry)

	children := []*order.Order{a.StopLoss}
	if a.HasTakeProfit() {
		children = append(children, a.TakeProfit)
	}
	for _, child := range children {
		c.orders[child.ID] = child
		c.pending = append(c.pending,
			&events.OrderSubmitted{Meta: c.meta(), OrderID: child.ID, AccountID: c.accountID, SubmittedTime: c.clock.TimeNow()},
			&events.OrderAccepted{Meta: c.meta(), OrderID: child.ID, AccountID: c.accountID, AcceptedTime: c.clock.TimeNow()},
		)
	}
	c.held[a.Entry.ID] = children
	return nil
}

// ModifyOrder stages an OrderModified, or a cancel reject when the order
// is not known to be live.
func (c *SimClient) ModifyOrder(cmd *engine.ModifyOrder) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if _, ok := c.orders[cmd.OrderID]; !ok {
		c.pending = append(c.pending, c.cancelReject(cmd.OrderID, "MODIFY", "order not found"))
		return nil
	}
	c.pending = append(c.pending, &events.OrderModified{
		Meta:             c.meta(),
		OrderID:          cmd.OrderID,
		BrokerOrderID:    types.BrokerOrderID("B-" + string(cmd.OrderID)),
		AccountID:        c.accountID,
		ModifiedQuantity: cmd.ModifiedQuantity,
		ModifiedPrice:    cmd.ModifiedPrice,
		ModifiedTime:     c.clock.TimeNow(),
	})
	return nil
}

// CancelOrder stages an OrderCancelled, or a cancel reject when the order
// is not known to be live.
func (c *SimClient) CancelOrder(cmd *engine.CancelOrder) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if _, ok := c.orders[cmd.OrderID]; !ok {
		c.pending = append(c.pending, c.cancelReject(cmd.OrderID, "CANCEL", "order not found"))
		return nil
	}
	delete(c.orders, cmd.OrderID)
	c.pending = append(c.pending, &events.OrderCancelled{
		Meta:          c.meta(),
		OrderID:       cmd.OrderID,
		AccountID:     c.accountID,
		CancelledTime: c.clock.TimeNow(),
	})
	return nil
}

// ————————————————————————————————————————————————————————————————————————
// Test controls
// ————————————————————————————————————————————————————————————————————————

// Flush delivers all staged events to the engine in order. It must not be
// called from inside an engine command handler.
func (c *SimClient) Flush() int {
	c.mu.Lock()
	staged := c.pending
	c.pending = nil
	c.mu.Unlock()

	for _, ev := range staged {
		c.engine.OnEvent(ev)
	}
	return len(staged)
}

// FillOrder delivers a fill for the given order. A full fill of an atomic
// entry releases the held children into the working state.
func (c *SimClient) FillOrder(orderID types.OrderID, quantity int64, price decimal.Decimal) error {
	c.Flush()

	c.mu.Lock()
	o, ok := c.orders[orderID]
	if !ok {
		c.mu.Unlock()
		return fmt.Errorf("fill order %s: not live at sim gateway", orderID)
	}
	c.seq++
	fill := &events.OrderFilled{
		Meta:             c.meta(),
		OrderID:          orderID,
		AccountID:        c.accountID,
		ExecutionID:      types.ExecutionID(fmt.Sprintf("E-%d", c.seq)),
		BrokerPositionID: types.BrokerPositionID("BP-" + string(orderID)),
		Symbol:           o.Symbol,
		Side:             o.Side,
		FilledQuantity:   types.Quantity(quantity),
		AveragePrice:     price,
		ExecutionTime:    c.clock.TimeNow(),
	}
	c.mu.Unlock()

	c.engine.OnEvent(fill)

	// Release atomic children once the entry completes.
	if tracked, found := c.engine.Database().GetOrder(orderID); found && tracked.IsCompleted() {
		c.mu.Lock()
		delete(c.orders, orderID)
		children := c.held[orderID]
		delete(c.held, orderID)
		for _, child := range children {
			c.pending = append(c.pending, &events.OrderWorking{
				Meta:          c.meta(),
				OrderID:       child.ID,
				BrokerOrderID: types.BrokerOrderID("B-" + string(child.ID)),
				AccountID:     c.accountID,
				Symbol:        child.Symbol,
				Label:         child.Label,
				Side:          child.Side,
				Type:          child.Type,
				Quantity:      child.Quantity,
				Price:         child.Price,
				TimeInForce:   child.TimeInForce,
				ExpireTime:    child.ExpireTime,
				WorkingTime:   c.clock.TimeNow(),
			})
		}
		c.mu.Unlock()
		c.Flush()
	}
	return nil
}

// RejectOrder delivers an OrderRejected for a live order.
func (c *SimClient) RejectOrder(orderID types.OrderID, reason string) {
	c.Flush()
	c.mu.Lock()
	delete(c.orders, orderID)
	ev := &events.OrderRejected{
		Meta:         c.meta(),
		OrderID:      orderID,
		AccountID:    c.accountID,
		RejectedTime: c.clock.TimeNow(),
		Reason:       reason,
	}
	c.mu.Unlock()
	c.engine.OnEvent(ev)
}

// ExpireOrder delivers an OrderExpired for a live order.
func (c *SimClient) ExpireOrder(orderID types.OrderID) {
	c.Flush()
	c.mu.Lock()
	delete(c.orders, orderID)
	ev := &events.OrderExpired{
		Meta:        c.meta(),
		OrderID:     orderID,
		AccountID:   c.accountID,
		ExpiredTime: c.clock.TimeNow(),
	}
	c.mu.Unlock()
	c.engine.OnEvent(ev)
}

// PublishAccountState delivers an account snapshot with the given cash
// balance.
func (c *SimClient) PublishAccountState(balance decimal.Decimal) {
	c.Flush()
	c.mu.Lock()
	c.balance = balance
	ev := c.accountState()
	c.mu.Unlock()
	c.engine.OnEvent(ev)
}

// ————————————————————————————————————————————————————————————————————————
// Internals
// ————————————————————————————————————————————————————————————————————————

// stageWorking stages the full submit/accept/working acknowledgement run
// for one order. Caller holds mu.
func (c *SimClient) stageWorking(o *order.Order) {
	c.orders[o.ID] = o
	now := c.clock.TimeNow()
	c.pending = append(c.pending,
		&events.OrderSubmitted{Meta: c.meta(), OrderID: o.ID, AccountID: c.accountID, SubmittedTime: now},
		&events.OrderAccepted{Meta: c.meta(), OrderID: o.ID, AccountID: c.accountID, AcceptedTime: now},
		&events.OrderWorking{
			Meta:          c.meta(),
			OrderID:       o.ID,
			BrokerOrderID: types.BrokerOrderID("B-" + string(o.ID)),
			AccountID:     c.accountID,
			Symbol:        o.Symbol,
			Label:         o.Label,
			Side:          o.Side,
			Type:          o.Type,
			Quantity:      o.Quantity,
			Price:         o.Price,
			TimeInForce:   o.TimeInForce,
			ExpireTime:    o.ExpireTime,
			WorkingTime:   now,
		},
	)
}

func (c *SimClient) cancelReject(orderID types.OrderID, response, reason string) *events.OrderCancelReject {
	return &events.OrderCancelReject{
		Meta:         c.meta(),
		OrderID:      orderID,
		AccountID:    c.accountID,
		RejectedTime: c.clock.TimeNow(),
		Response:     response,
		Reason:       reason,
	}
}

func (c *SimClient) accountState() *events.AccountState {
	return &events.AccountState{
		Meta:         c.meta(),
		AccountID:    c.accountID,
		Brokerage:    c.brokerage,
		Currency:     c.currency,
		CashBalance:  c.balance,
		CashStartDay: c.balance,
	}
}

func (c *SimClient) meta() events.Meta {
	return events.NewMeta(c.clock.TimeNow())
}
