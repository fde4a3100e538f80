package strategy

import (
	"log/slog"
	"os"
	"testing"
	"time"

	"github.com/shopspring/decimal"

	"tradecore/internal/account"
	"tradecore/internal/clock"
	"tradecore/internal/database"
	"tradecore/internal/engine"
	"tradecore/internal/events"
	"tradecore/internal/exchange"
	"tradecore/internal/portfolio"
	"tradecore/pkg/types"
)

var (
	testSymbol = types.NewSymbol("AAPL", "NASDAQ")
	testStart  = time.Date(2024, 3, 1, 9, 30, 0, 0, time.UTC)
)

type stratRig struct {
	clock *clock.TestClock
	eng   *engine.Engine
	sim   *exchange.SimClient
	base  *Base
}

func newStratRig(t *testing.T) *stratRig {
	t.Helper()
	logger := slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelError}))

	clk := clock.NewTestClock(testStart)
	db := database.NewInMemory(logger)
	eng := engine.New("TRADER-001", clk, db, account.New(), portfolio.NewAnalyzer(logger), logger)
	sim := exchange.NewSimClient("ACC1", "SIM", types.USD, decimal.NewFromInt(100_000), clk, eng, logger)
	eng.RegisterClient(sim)

	base := NewBase("TRADER-001", "S1", clk, logger)
	if err := eng.RegisterStrategy(base); err != nil {
		t.Fatalf("RegisterStrategy: %v", err)
	}
	return &stratRig{clock: clk, eng: eng, sim: sim, base: base}
}

func TestBaseRegistrationWiresEngineHandle(t *testing.T) {
	t.Parallel()
	rig := newStratRig(t)

	if rig.base.engine != rig.eng {
		t.Fatal("RegisterStrategy must hand the strategy its engine handle")
	}
	if rig.base.ID() != "S1" {
		t.Errorf("ID = %s, want S1", rig.base.ID())
	}
	if rig.base.OrderFactory() == nil {
		t.Fatal("strategy must own an order factory")
	}
}

func TestBaseSubmitAndFillDispatchesCallbacks(t *testing.T) {
	t.Parallel()
	rig := newStratRig(t)

	var orderEvents []events.OrderEvent
	var positionEvents []events.PositionEvent
	rig.base.Handlers = EventHandlers{
		OnOrderEvent:    func(ev events.OrderEvent) { orderEvents = append(orderEvents, ev) },
		OnPositionEvent: func(ev events.PositionEvent) { positionEvents = append(positionEvents, ev) },
	}

	o, err := rig.base.OrderFactory().Market(testSymbol, "IN", types.BUY, 10)
	if err != nil {
		t.Fatalf("Market: %v", err)
	}
	if err := rig.base.SubmitOrder(o, "P1"); err != nil {
		t.Fatalf("SubmitOrder: %v", err)
	}
	if rig.base.IsFlat() != true {
		t.Fatal("strategy must be flat before any fill")
	}

	if err := rig.sim.FillOrder(o.ID, 10, decimal.RequireFromString("100.00")); err != nil {
		t.Fatalf("FillOrder: %v", err)
	}

	// submitted, accepted, working, filled
	if len(orderEvents) != 4 {
		t.Fatalf("order callbacks = %d, want 4", len(orderEvents))
	}
	if _, ok := orderEvents[3].(*events.OrderFilled); !ok {
		t.Errorf("last order event = %T, want *events.OrderFilled", orderEvents[3])
	}
	if len(positionEvents) != 1 {
		t.Fatalf("position callbacks = %d, want 1", len(positionEvents))
	}
	if _, ok := positionEvents[0].(*events.PositionOpened); !ok {
		t.Errorf("position event = %T, want *events.PositionOpened", positionEvents[0])
	}
	if rig.base.IsFlat() {
		t.Error("strategy with an open position is not flat")
	}
}

func TestBaseAccountCallback(t *testing.T) {
	t.Parallel()
	rig := newStratRig(t)

	// Account events are not strategy-addressed; the engine applies them
	// to the account without forwarding. The callback fires only when the
	// strategy is handed one directly.
	var accounts []*events.AccountState
	rig.base.Handlers = EventHandlers{
		OnAccountEvent: func(ev *events.AccountState) { accounts = append(accounts, ev) },
	}

	if err := rig.base.AccountInquiry(); err != nil {
		t.Fatalf("AccountInquiry: %v", err)
	}
	rig.sim.Flush()

	rig.base.HandleEvent(&events.AccountState{Meta: events.NewMeta(testStart), AccountID: "ACC1"})
	if len(accounts) != 1 {
		t.Errorf("account callbacks = %d, want 1", len(accounts))
	}
}

func TestBaseCancelFromInsideCallback(t *testing.T) {
	t.Parallel()
	rig := newStratRig(t)

	o, _ := rig.base.OrderFactory().Limit(testSymbol, "A", types.BUY, 10, decimal.RequireFromString("1.00"), types.GTC, time.Time{})

	// Cancel as soon as the order goes working: commands issued from
	// inside an event callback must not deadlock the engine.
	rig.base.Handlers = EventHandlers{
		OnOrderEvent: func(ev events.OrderEvent) {
			if _, ok := ev.(*events.OrderWorking); ok {
				if err := rig.base.CancelOrder(o.ID, "IMMEDIATE"); err != nil {
					t.Errorf("CancelOrder: %v", err)
				}
			}
		},
	}

	if err := rig.base.SubmitOrder(o, "P1"); err != nil {
		t.Fatalf("SubmitOrder: %v", err)
	}
	rig.sim.Flush() // acks; the working ack triggers the cancel command
	rig.sim.Flush() // cancel confirmation

	if o.State() != types.StateCancelled {
		t.Fatalf("state = %s, want CANCELLED", o.State())
	}
}

func TestBaseCommandsRequireRegistration(t *testing.T) {
	t.Parallel()
	logger := slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelError}))
	base := NewBase("TRADER-001", "S9", clock.NewTestClock(testStart), logger)

	if err := base.AccountInquiry(); err == nil {
		t.Fatal("commands before registration should fail")
	}
	if !base.IsFlat() {
		t.Error("an unregistered strategy is trivially flat")
	}
}
