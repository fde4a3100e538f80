// wire.go defines the gateway's JSON wire format and the translation
// between wire messages and the core event taxonomy. Prices cross the wire
// as strings to preserve decimal precision.
package exchange

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/shopspring/decimal"

	"tradecore/internal/events"
	"tradecore/pkg/types"
)

// wireOrder is the outbound order payload for POST /orders.
type wireOrder struct {
	OrderID     string `json:"order_id"`
	Symbol      string `json:"symbol"`
	Label       string `json:"label"`
	Side        string `json:"side"`
	Type        string `json:"type"`
	Quantity    int64  `json:"quantity"`
	Price       string `json:"price,omitempty"`
	TimeInForce string `json:"time_in_force"`
	ExpireTime  string `json:"expire_time,omitempty"`
}

// wireAtomicOrder is the outbound payload for POST /orders/atomic.
type wireAtomicOrder struct {
	Entry      wireOrder  `json:"entry"`
	StopLoss   wireOrder  `json:"stop_loss"`
	TakeProfit *wireOrder `json:"take_profit,omitempty"`
}

// wireModify is the outbound payload for PUT /orders/{id}.
type wireModify struct {
	Quantity int64  `json:"quantity"`
	Price    string `json:"price"`
}

// wireCommandResponse is the gateway's acknowledgement for command POSTs.
type wireCommandResponse struct {
	Success  bool   `json:"success"`
	ErrorMsg string `json:"error_msg"`
}

// wireEvent is the envelope for every inbound event on the event feed.
// Type discriminates the payload; unknown fields are simply absent.
type wireEvent struct {
	Type      string `json:"type"`
	EventID   string `json:"event_id"`
	Timestamp string `json:"timestamp"`

	OrderID          string          `json:"order_id,omitempty"`
	BrokerOrderID    string          `json:"broker_order_id,omitempty"`
	AccountID        string          `json:"account_id,omitempty"`
	Symbol           string          `json:"symbol,omitempty"`
	Label            string          `json:"label,omitempty"`
	Side             string          `json:"side,omitempty"`
	OrderType        string          `json:"order_type,omitempty"`
	Quantity         int64           `json:"quantity,omitempty"`
	Price            decimal.Decimal `json:"price,omitempty"`
	TimeInForce      string          `json:"time_in_force,omitempty"`
	ExpireTime       string          `json:"expire_time,omitempty"`
	Reason           string          `json:"reason,omitempty"`
	Response         string          `json:"response,omitempty"`
	ExecutionID      string          `json:"execution_id,omitempty"`
	BrokerPositionID string          `json:"broker_position_id,omitempty"`
	FilledQuantity   int64           `json:"filled_quantity,omitempty"`
	AveragePrice     decimal.Decimal `json:"average_price,omitempty"`

	Brokerage             string          `json:"brokerage,omitempty"`
	Currency              string          `json:"currency,omitempty"`
	CashBalance           decimal.Decimal `json:"cash_balance,omitempty"`
	CashStartDay          decimal.Decimal `json:"cash_start_day,omitempty"`
	CashActivityDay       decimal.Decimal `json:"cash_activity_day,omitempty"`
	MarginUsedLiquidation decimal.Decimal `json:"margin_used_liquidation,omitempty"`
	MarginUsedMaintenance decimal.Decimal `json:"margin_used_maintenance,omitempty"`
	MarginRatio           decimal.Decimal `json:"margin_ratio,omitempty"`
	MarginCallStatus      string          `json:"margin_call_status,omitempty"`
}

// encodeOrder converts an order to its wire form.
func encodeOrder(id types.OrderID, symbol types.Symbol, label types.Label, side types.OrderSide, typ types.OrderType, qty types.Quantity, price decimal.Decimal, tif types.TimeInForce, expire time.Time) wireOrder {
	w := wireOrder{
		OrderID:     string(id),
		Symbol:      symbol.String(),
		Label:       string(label),
		Side:        string(side),
		Type:        string(typ),
		Quantity:    int64(qty),
		TimeInForce: string(tif),
	}
	if typ.IsPriced() {
		w.Price = price.String()
	}
	if !expire.IsZero() {
		w.ExpireTime = expire.UTC().Format(time.RFC3339Nano)
	}
	return w
}

// decodeEvent translates one wire envelope into a core event.
func decodeEvent(raw []byte) (events.Event, error) {
	var w wireEvent
	if err := json.Unmarshal(raw, &w); err != nil {
		return nil, fmt.Errorf("decode event: %w", err)
	}

	ts, err := time.Parse(time.RFC3339Nano, w.Timestamp)
	if err != nil {
		return nil, fmt.Errorf("decode event %s: bad timestamp %q: %w", w.Type, w.Timestamp, err)
	}
	meta := events.Meta{ID: types.GUID(w.EventID), Timestamp: ts.UTC()}
	if meta.ID == "" {
		meta.ID = types.NewGUID()
	}

	orderID := types.OrderID(w.OrderID)
	accountID := types.AccountID(w.AccountID)

	switch w.Type {
	case "order_invalid":
		return &events.OrderInvalid{Meta: meta, OrderID: orderID, Reason: w.Reason}, nil
	case "order_denied":
		return &events.OrderDenied{Meta: meta, OrderID: orderID, Reason: w.Reason}, nil
	case "order_submitted":
		return &events.OrderSubmitted{Meta: meta, OrderID: orderID, AccountID: accountID, SubmittedTime: ts}, nil
	case "order_accepted":
		return &events.OrderAccepted{Meta: meta, OrderID: orderID, AccountID: accountID, AcceptedTime: ts}, nil
	case "order_rejected":
		return &events.OrderRejected{Meta: meta, OrderID: orderID, AccountID: accountID, RejectedTime: ts, Reason: w.Reason}, nil
	case "order_working":
		ev := &events.OrderWorking{
			Meta:          meta,
			OrderID:       orderID,
			BrokerOrderID: types.BrokerOrderID(w.BrokerOrderID),
			AccountID:     accountID,
			Label:         types.Label(w.Label),
			Side:          types.OrderSide(w.Side),
			Type:          types.OrderType(w.OrderType),
			Quantity:      types.Quantity(w.Quantity),
			Price:         w.Price,
			TimeInForce:   types.TimeInForce(w.TimeInForce),
			WorkingTime:   ts,
		}
		if w.Symbol != "" {
			if ev.Symbol, err = types.ParseSymbol(w.Symbol); err != nil {
				return nil, err
			}
		}
		if w.ExpireTime != "" {
			expire, err := time.Parse(time.RFC3339Nano, w.ExpireTime)
			if err != nil {
				return nil, fmt.Errorf("decode event %s: bad expire time: %w", w.Type, err)
			}
			ev.ExpireTime = expire.UTC()
		}
		return ev, nil
	case "order_modified":
		return &events.OrderModified{
			Meta:             meta,
			OrderID:          orderID,
			BrokerOrderID:    types.BrokerOrderID(w.BrokerOrderID),
			AccountID:        accountID,
			ModifiedQuantity: types.Quantity(w.Quantity),
			ModifiedPrice:    w.Price,
			ModifiedTime:     ts,
		}, nil
	case "order_cancelled":
		return &events.OrderCancelled{Meta: meta, OrderID: orderID, AccountID: accountID, CancelledTime: ts}, nil
	case "order_cancel_reject":
		return &events.OrderCancelReject{Meta: meta, OrderID: orderID, AccountID: accountID, RejectedTime: ts, Response: w.Response, Reason: w.Reason}, nil
	case "order_expired":
		return &events.OrderExpired{Meta: meta, OrderID: orderID, AccountID: accountID, ExpiredTime: ts}, nil
	case "order_filled":
		ev := &events.OrderFilled{
			Meta:             meta,
			OrderID:          orderID,
			AccountID:        accountID,
			ExecutionID:      types.ExecutionID(w.ExecutionID),
			BrokerPositionID: types.BrokerPositionID(w.BrokerPositionID),
			Side:             types.OrderSide(w.Side),
			FilledQuantity:   types.Quantity(w.FilledQuantity),
			AveragePrice:     w.AveragePrice,
			ExecutionTime:    ts,
		}
		if w.Symbol != "" {
			if ev.Symbol, err = types.ParseSymbol(w.Symbol); err != nil {
				return nil, err
			}
		}
		return ev, nil
	case "account_state":
		return &events.AccountState{
			Meta:                  meta,
			AccountID:             accountID,
			Brokerage:             types.Brokerage(w.Brokerage),
			Currency:              types.Currency(w.Currency),
			CashBalance:           w.CashBalance,
			CashStartDay:          w.CashStartDay,
			CashActivityDay:       w.CashActivityDay,
			MarginUsedLiquidation: w.MarginUsedLiquidation,
			MarginUsedMaintenance: w.MarginUsedMaintenance,
			MarginRatio:           w.MarginRatio,
			MarginCallStatus:      w.MarginCallStatus,
		}, nil
	default:
		return nil, fmt.Errorf("decode event: unknown type %q", w.Type)
	}
}
