package types

import "testing"

func TestParseSymbol(t *testing.T) {
	t.Parallel()

	s, err := ParseSymbol("audusd.fxcm")
	if err != nil {
		t.Fatalf("ParseSymbol: %v", err)
	}
	if s.Code != "AUDUSD" || s.Venue != "FXCM" {
		t.Errorf("symbol = %+v, want AUDUSD/FXCM", s)
	}
	if s.String() != "AUDUSD.FXCM" {
		t.Errorf("String = %q, want AUDUSD.FXCM", s.String())
	}

	for _, bad := range []string{"", "AUDUSD", ".FXCM", "AUDUSD."} {
		if _, err := ParseSymbol(bad); err == nil {
			t.Errorf("ParseSymbol(%q) should fail", bad)
		}
	}
}

func TestOrderSideOpposite(t *testing.T) {
	t.Parallel()
	if BUY.Opposite() != SELL || SELL.Opposite() != BUY {
		t.Error("Opposite must swap BUY and SELL")
	}
}

func TestOrderTypeIsPriced(t *testing.T) {
	t.Parallel()
	if Market.IsPriced() {
		t.Error("MARKET must be unpriced")
	}
	for _, typ := range []OrderType{Limit, StopMarket, StopLimit, MarketIfTouched} {
		if !typ.IsPriced() {
			t.Errorf("%s must be priced", typ)
		}
	}
}

func TestOrderStatePartitions(t *testing.T) {
	t.Parallel()

	completed := []OrderState{
		StateInvalid, StateDenied, StateRejected, StateCancelled,
		StateExpired, StateFilled, StateOverFilled,
	}
	working := []OrderState{StateWorking, StatePartiallyFilled}
	neither := []OrderState{StateInitialized, StateSubmitted, StateAccepted}

	for _, s := range completed {
		if !s.IsCompleted() || s.IsWorking() {
			t.Errorf("%s must be completed and not working", s)
		}
	}
	for _, s := range working {
		if !s.IsWorking() || s.IsCompleted() {
			t.Errorf("%s must be working and not completed", s)
		}
	}
	for _, s := range neither {
		if s.IsWorking() || s.IsCompleted() {
			t.Errorf("%s must be in neither partition", s)
		}
	}
}

func TestNewQuantity(t *testing.T) {
	t.Parallel()

	if _, err := NewQuantity(0); err == nil {
		t.Error("zero quantity should fail")
	}
	if _, err := NewQuantity(-1); err == nil {
		t.Error("negative quantity should fail")
	}
	q, err := NewQuantity(100)
	if err != nil || q != 100 {
		t.Errorf("NewQuantity(100) = %d, %v", q, err)
	}
}

func TestNewGUIDUnique(t *testing.T) {
	t.Parallel()
	a, b := NewGUID(), NewGUID()
	if a == b || a == "" {
		t.Errorf("GUIDs must be unique and non-empty: %s, %s", a, b)
	}
}
