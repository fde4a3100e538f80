package position

import (
	"testing"
	"time"

	"github.com/shopspring/decimal"

	"tradecore/internal/events"
	"tradecore/pkg/types"
)

var (
	testSymbol = types.NewSymbol("AUDUSD", "FXCM")
	testStart  = time.Date(2024, 3, 1, 9, 30, 0, 0, time.UTC)
)

func fill(orderID types.OrderID, execID types.ExecutionID, side types.OrderSide, qty int64, price string, ts time.Time) *events.OrderFilled {
	return &events.OrderFilled{
		Meta:             events.NewMeta(ts),
		OrderID:          orderID,
		AccountID:        "ACC1",
		ExecutionID:      execID,
		BrokerPositionID: "BP-1",
		Symbol:           testSymbol,
		Side:             side,
		FilledQuantity:   types.Quantity(qty),
		AveragePrice:     decimal.RequireFromString(price),
		ExecutionTime:    ts,
	}
}

func TestPositionOpensLong(t *testing.T) {
	t.Parallel()
	p := NewPosition("P1", fill("O1", "E1", types.BUY, 100, "1.00050", testStart))

	if !p.IsLong() || p.IsShort() || p.IsClosed() {
		t.Fatalf("direction = %s, want LONG and open", p.Direction())
	}
	if got := p.Quantity(); got != 100 {
		t.Errorf("Quantity = %d, want 100", got)
	}
	if got := p.RelativeQuantity(); got != 100 {
		t.Errorf("RelativeQuantity = %d, want 100", got)
	}
	if p.FromOrderID != "O1" {
		t.Errorf("FromOrderID = %s, want O1", p.FromOrderID)
	}
	if !p.EntryTime.Equal(testStart) {
		t.Errorf("EntryTime = %s, want %s", p.EntryTime, testStart)
	}
}

func TestPositionOpensShort(t *testing.T) {
	t.Parallel()
	p := NewPosition("P1", fill("O1", "E1", types.SELL, 50, "100.00", testStart))

	if !p.IsShort() {
		t.Fatalf("direction = %s, want SHORT", p.Direction())
	}
	if got := p.RelativeQuantity(); got != -50 {
		t.Errorf("RelativeQuantity = %d, want -50", got)
	}
}

func TestPositionScaleInVolumeWeightsOpenPrice(t *testing.T) {
	t.Parallel()
	p := NewPosition("P1", fill("O1", "E1", types.BUY, 40, "100.00", testStart))
	if err := p.Apply(fill("O2", "E2", types.BUY, 60, "101.00", testStart.Add(time.Second))); err != nil {
		t.Fatalf("Apply: %v", err)
	}

	if got := p.Quantity(); got != 100 {
		t.Errorf("Quantity = %d, want 100", got)
	}
	if got, want := p.AverageOpenPrice(), decimal.RequireFromString("100.6"); !got.Equal(want) {
		t.Errorf("AverageOpenPrice = %s, want %s", got, want)
	}
	if got := p.PeakQuantity(); got != 100 {
		t.Errorf("PeakQuantity = %d, want 100", got)
	}
}

func TestPositionClosesWithRealizedReturn(t *testing.T) {
	t.Parallel()
	p := NewPosition("P2", fill("O1", "E1", types.BUY, 10, "100.00", testStart))
	if err := p.Apply(fill("O2", "E2", types.SELL, 10, "99.00", testStart.Add(time.Minute))); err != nil {
		t.Fatalf("Apply: %v", err)
	}

	if !p.IsClosed() {
		t.Fatal("position must close when net quantity returns to zero")
	}
	if p.Direction() != types.FLAT {
		t.Errorf("direction = %s, want FLAT", p.Direction())
	}
	if got, want := p.ReturnRealized(), decimal.RequireFromString("-0.01"); !got.Equal(want) {
		t.Errorf("ReturnRealized = %s, want %s", got, want)
	}
	if !p.ExitTime.Equal(testStart.Add(time.Minute)) {
		t.Errorf("ExitTime = %s, want %s", p.ExitTime, testStart.Add(time.Minute))
	}
}

func TestPositionShortRealizedReturnSign(t *testing.T) {
	t.Parallel()
	p := NewPosition("P3", fill("O1", "E1", types.SELL, 10, "100.00", testStart))
	if err := p.Apply(fill("O2", "E2", types.BUY, 10, "99.00", testStart.Add(time.Minute))); err != nil {
		t.Fatalf("Apply: %v", err)
	}

	// Short sold at 100, bought back at 99: a gain.
	if got, want := p.ReturnRealized(), decimal.RequireFromString("0.01"); !got.Equal(want) {
		t.Errorf("ReturnRealized = %s, want %s", got, want)
	}
}

func TestPositionPartialCloseStaysOpen(t *testing.T) {
	t.Parallel()
	p := NewPosition("P4", fill("O1", "E1", types.BUY, 100, "50.00", testStart))
	if err := p.Apply(fill("O2", "E2", types.SELL, 30, "51.00", testStart.Add(time.Second))); err != nil {
		t.Fatalf("Apply: %v", err)
	}

	if p.IsClosed() {
		t.Fatal("partially reduced position must stay open")
	}
	if got := p.Quantity(); got != 70 {
		t.Errorf("Quantity = %d, want 70", got)
	}
	if got, want := p.AverageClosePrice(), decimal.RequireFromString("51.00"); !got.Equal(want) {
		t.Errorf("AverageClosePrice = %s, want %s", got, want)
	}
	if !p.ReturnRealized().IsZero() {
		t.Error("realized return must stay zero until the position closes")
	}
}

func TestPositionApplyAfterCloseFails(t *testing.T) {
	t.Parallel()
	p := NewPosition("P5", fill("O1", "E1", types.BUY, 10, "100.00", testStart))
	if err := p.Apply(fill("O2", "E2", types.SELL, 10, "100.00", testStart.Add(time.Second))); err != nil {
		t.Fatalf("Apply: %v", err)
	}
	if err := p.Apply(fill("O3", "E3", types.BUY, 10, "100.00", testStart.Add(2*time.Second))); err == nil {
		t.Fatal("Apply to a closed position should fail")
	}
}

func TestPositionTracksContributors(t *testing.T) {
	t.Parallel()
	p := NewPosition("P6", fill("O1", "E1", types.BUY, 10, "100.00", testStart))
	_ = p.Apply(fill("O2", "E2", types.BUY, 10, "100.00", testStart.Add(time.Second)))
	_ = p.Apply(fill("O2", "E3", types.BUY, 10, "100.00", testStart.Add(2*time.Second)))

	if got := len(p.OrderIDs()); got != 2 {
		t.Errorf("len(OrderIDs) = %d, want 2", got)
	}
	if got := len(p.ExecutionIDs()); got != 3 {
		t.Errorf("len(ExecutionIDs) = %d, want 3", got)
	}
	if got := p.EventCount(); got != 3 {
		t.Errorf("EventCount = %d, want 3", got)
	}
	if p.LastFill().ExecutionID != "E3" {
		t.Errorf("LastFill = %s, want E3", p.LastFill().ExecutionID)
	}
}
