package database

import (
	"log/slog"
	"os"
	"testing"
	"time"

	"github.com/shopspring/decimal"

	"tradecore/internal/clock"
	"tradecore/internal/events"
	"tradecore/internal/order"
	"tradecore/internal/position"
	"tradecore/pkg/types"
)

var (
	testSymbol = types.NewSymbol("GBPUSD", "FXCM")
	testStart  = time.Date(2024, 3, 1, 9, 30, 0, 0, time.UTC)
)

func newTestDB() *InMemory {
	logger := slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelError}))
	return NewInMemory(logger)
}

func newTestOrder(t *testing.T, f *order.Factory) *order.Order {
	t.Helper()
	o, err := f.Market(testSymbol, "ENTRY", types.BUY, 100)
	if err != nil {
		t.Fatalf("Market: %v", err)
	}
	return o
}

func newFactory() *order.Factory {
	return order.NewFactory("TESTER", "S1", clock.NewTestClock(testStart))
}

func testFill(orderID types.OrderID, side types.OrderSide, qty int64, ts time.Time) *events.OrderFilled {
	return &events.OrderFilled{
		Meta:           events.NewMeta(ts),
		OrderID:        orderID,
		AccountID:      "ACC1",
		ExecutionID:    types.ExecutionID("E-" + string(orderID)),
		Symbol:         testSymbol,
		Side:           side,
		FilledQuantity: types.Quantity(qty),
		AveragePrice:   decimal.RequireFromString("1.50000"),
		ExecutionTime:  ts,
	}
}

func TestAddStrategyAndDuplicate(t *testing.T) {
	t.Parallel()
	db := newTestDB()

	if err := db.AddStrategy("S1"); err != nil {
		t.Fatalf("AddStrategy: %v", err)
	}
	if err := db.AddStrategy("S1"); err == nil {
		t.Fatal("duplicate AddStrategy should fail")
	}
	if got := db.StrategyIDs(); len(got) != 1 || got[0] != "S1" {
		t.Errorf("StrategyIDs = %v, want [S1]", got)
	}
}

func TestAddOrderIndexes(t *testing.T) {
	t.Parallel()
	db := newTestDB()
	f := newFactory()
	o := newTestOrder(t, f)

	if err := db.AddStrategy("S1"); err != nil {
		t.Fatalf("AddStrategy: %v", err)
	}
	if err := db.AddOrder(o, "S1", "P1"); err != nil {
		t.Fatalf("AddOrder: %v", err)
	}

	if !db.OrderExists(o.ID) {
		t.Fatal("OrderExists = false after AddOrder")
	}
	if sid, ok := db.GetStrategyForOrder(o.ID); !ok || sid != "S1" {
		t.Errorf("GetStrategyForOrder = %s/%v, want S1/true", sid, ok)
	}
	if pid, ok := db.GetPositionID(o.ID); !ok || pid != "P1" {
		t.Errorf("GetPositionID = %s/%v, want P1/true", pid, ok)
	}
	if sid, ok := db.GetStrategyForPosition("P1"); !ok || sid != "S1" {
		t.Errorf("GetStrategyForPosition = %s/%v, want S1/true", sid, ok)
	}

	// Pre-submission order sits in neither partition.
	if db.IsOrderWorking(o.ID) || db.IsOrderCompleted(o.ID) {
		t.Error("fresh order must be in neither partition")
	}
	if db.CountOrdersTotal() != 1 {
		t.Errorf("CountOrdersTotal = %d, want 1", db.CountOrdersTotal())
	}
}

func TestAddOrderDuplicateFails(t *testing.T) {
	t.Parallel()
	db := newTestDB()
	f := newFactory()
	o := newTestOrder(t, f)

	if err := db.AddOrder(o, "S1", "P1"); err != nil {
		t.Fatalf("AddOrder: %v", err)
	}
	if err := db.AddOrder(o, "S1", "P1"); err == nil {
		t.Fatal("duplicate AddOrder should fail")
	}
}

func TestAddOrderStrategyPositionMismatchFails(t *testing.T) {
	t.Parallel()
	db := newTestDB()
	f := newFactory()

	a := newTestOrder(t, f)
	b := newTestOrder(t, f)

	if err := db.AddOrder(a, "S1", "P1"); err != nil {
		t.Fatalf("AddOrder: %v", err)
	}
	// P1 already belongs to S1: indexing an S2 order to it is a
	// programming error.
	if err := db.AddOrder(b, "S2", "P1"); err == nil {
		t.Fatal("cross-strategy position mapping should fail")
	}
	if db.OrderExists(b.ID) {
		t.Error("failed AddOrder must not insert the order")
	}
}

func TestUpdateOrderRepartitions(t *testing.T) {
	t.Parallel()
	db := newTestDB()
	f := newFactory()
	o := newTestOrder(t, f)

	if err := db.AddOrder(o, "S1", "P1"); err != nil {
		t.Fatalf("AddOrder: %v", err)
	}

	apply := func(ev events.OrderEvent) {
		t.Helper()
		if err := o.Apply(ev); err != nil {
			t.Fatalf("Apply: %v", err)
		}
		db.UpdateOrder(o)
	}

	apply(&events.OrderSubmitted{Meta: events.NewMeta(testStart), OrderID: o.ID, AccountID: "ACC1", SubmittedTime: testStart})
	if db.IsOrderWorking(o.ID) || db.IsOrderCompleted(o.ID) {
		t.Error("submitted order must be in neither partition")
	}

	apply(&events.OrderWorking{Meta: events.NewMeta(testStart), OrderID: o.ID, BrokerOrderID: "B1", AccountID: "ACC1", WorkingTime: testStart})
	if !db.IsOrderWorking(o.ID) {
		t.Error("working order must join the working partition")
	}
	if db.CountOrdersWorking() != 1 {
		t.Errorf("CountOrdersWorking = %d, want 1", db.CountOrdersWorking())
	}

	apply(&events.OrderCancelled{Meta: events.NewMeta(testStart), OrderID: o.ID, AccountID: "ACC1", CancelledTime: testStart})
	if db.IsOrderWorking(o.ID) {
		t.Error("cancelled order must leave the working partition")
	}
	if !db.IsOrderCompleted(o.ID) {
		t.Error("cancelled order must join the completed partition")
	}
	if db.CountOrdersWorking() != 0 || db.CountOrdersCompleted() != 1 {
		t.Errorf("counts = %d working / %d completed, want 0 / 1",
			db.CountOrdersWorking(), db.CountOrdersCompleted())
	}
}

func TestPositionLifecycle(t *testing.T) {
	t.Parallel()
	db := newTestDB()

	p := position.NewPosition("P1", testFill("O1", types.BUY, 100, testStart))
	if err := db.AddPosition(p, "S1"); err != nil {
		t.Fatalf("AddPosition: %v", err)
	}
	if err := db.AddPosition(p, "S1"); err == nil {
		t.Fatal("duplicate AddPosition should fail")
	}

	if !db.IsPositionOpen(p.ID) || db.IsPositionClosed(p.ID) {
		t.Fatal("new position must be open")
	}
	if db.IsFlat("S1") {
		t.Error("strategy with an open position is not flat")
	}
	if db.IsFlatAll() {
		t.Error("database with an open position is not flat")
	}

	if err := p.Apply(testFill("O2", types.SELL, 100, testStart.Add(time.Second))); err != nil {
		t.Fatalf("Apply: %v", err)
	}
	db.UpdatePosition(p)

	if db.IsPositionOpen(p.ID) || !db.IsPositionClosed(p.ID) {
		t.Fatal("closed position must move to the closed partition")
	}
	if !db.IsFlat("S1") || !db.IsFlatAll() {
		t.Error("all positions closed: strategy and database must be flat")
	}
	if db.CountPositionsOpen() != 0 || db.CountPositionsClosed() != 1 {
		t.Errorf("counts = %d open / %d closed, want 0 / 1",
			db.CountPositionsOpen(), db.CountPositionsClosed())
	}
}

func TestDeleteStrategyDetachesButKeepsEntities(t *testing.T) {
	t.Parallel()
	db := newTestDB()
	f := newFactory()
	o := newTestOrder(t, f)

	if err := db.AddStrategy("S1"); err != nil {
		t.Fatalf("AddStrategy: %v", err)
	}
	if err := db.AddOrder(o, "S1", "P1"); err != nil {
		t.Fatalf("AddOrder: %v", err)
	}
	p := position.NewPosition("P1", testFill(o.ID, types.BUY, 100, testStart))
	if err := db.AddPosition(p, "S1"); err != nil {
		t.Fatalf("AddPosition: %v", err)
	}

	if err := db.DeleteStrategy("S1"); err != nil {
		t.Fatalf("DeleteStrategy: %v", err)
	}
	if err := db.DeleteStrategy("S1"); err == nil {
		t.Fatal("deleting an unknown strategy should fail")
	}

	if !db.OrderExists(o.ID) {
		t.Error("DeleteStrategy must not remove orders")
	}
	if !db.PositionExists("P1") {
		t.Error("DeleteStrategy must not remove positions")
	}
	if got := db.GetOrders("S1"); len(got) != 0 {
		t.Errorf("GetOrders after delete = %d entries, want 0", len(got))
	}
}

func TestQueriesReturnDefensiveCopies(t *testing.T) {
	t.Parallel()
	db := newTestDB()
	f := newFactory()
	o := newTestOrder(t, f)

	if err := db.AddOrder(o, "S1", "P1"); err != nil {
		t.Fatalf("AddOrder: %v", err)
	}

	got := db.GetOrdersAll()
	delete(got, o.ID)
	if !db.OrderExists(o.ID) {
		t.Fatal("mutating a query result must not affect the store")
	}
}

func TestResetReplaysIdentically(t *testing.T) {
	t.Parallel()
	db := newTestDB()

	seed := func() {
		f := newFactory()
		o := newTestOrder(t, f)
		if err := db.AddStrategy("S1"); err != nil {
			t.Fatalf("AddStrategy: %v", err)
		}
		if err := db.AddOrder(o, "S1", "P1"); err != nil {
			t.Fatalf("AddOrder: %v", err)
		}
		p := position.NewPosition("P1", testFill(o.ID, types.BUY, 100, testStart))
		if err := db.AddPosition(p, "S1"); err != nil {
			t.Fatalf("AddPosition: %v", err)
		}
	}

	seed()
	ordersBefore := db.CountOrdersTotal()
	positionsBefore := db.CountPositionsTotal()

	db.Reset()
	if db.CountOrdersTotal() != 0 || db.CountPositionsTotal() != 0 || len(db.StrategyIDs()) != 0 {
		t.Fatal("Reset must clear every store and index")
	}

	// An identical replay must succeed and produce identical contents.
	seed()
	if db.CountOrdersTotal() != ordersBefore || db.CountPositionsTotal() != positionsBefore {
		t.Errorf("replay counts = %d/%d, want %d/%d",
			db.CountOrdersTotal(), db.CountPositionsTotal(), ordersBefore, positionsBefore)
	}
	if !db.IsPositionOpen("P1") {
		t.Error("replayed position must be open again")
	}
}

func TestCheckResidualsDoesNotMutate(t *testing.T) {
	t.Parallel()
	db := newTestDB()
	f := newFactory()
	o := newTestOrder(t, f)

	if err := db.AddOrder(o, "S1", "P1"); err != nil {
		t.Fatalf("AddOrder: %v", err)
	}
	if err := o.Apply(&events.OrderWorking{Meta: events.NewMeta(testStart), OrderID: o.ID, AccountID: "ACC1", WorkingTime: testStart}); err != nil {
		t.Fatalf("Apply: %v", err)
	}
	db.UpdateOrder(o)
	p := position.NewPosition("P1", testFill(o.ID, types.BUY, 100, testStart))
	if err := db.AddPosition(p, "S1"); err != nil {
		t.Fatalf("AddPosition: %v", err)
	}

	db.CheckResiduals()

	if !db.IsOrderWorking(o.ID) || !db.IsPositionOpen("P1") {
		t.Error("CheckResiduals must only log, never mutate")
	}
}
