package engine

import (
	"time"

	"github.com/shopspring/decimal"

	"tradecore/internal/order"
	"tradecore/pkg/types"
)

// Command is the inbound surface strategies drive the engine with.
type Command interface {
	CommandID() types.GUID
	CommandTimestamp() time.Time
}

// CommandMeta carries the identity and timestamp common to all commands.
type CommandMeta struct {
	ID        types.GUID
	Timestamp time.Time
}

// NewCommandMeta stamps a fresh GUID onto the given command time.
func NewCommandMeta(ts time.Time) CommandMeta {
	return CommandMeta{ID: types.NewGUID(), Timestamp: ts}
}

func (m CommandMeta) CommandID() types.GUID       { return m.ID }
func (m CommandMeta) CommandTimestamp() time.Time { return m.Timestamp }

// AccountInquiry requests a fresh AccountState event from the broker.
type AccountInquiry struct {
	CommandMeta
}

// SubmitOrder sends a single order to the broker, pre-associating it with a
// position id.
type SubmitOrder struct {
	CommandMeta
	Order      *order.Order
	StrategyID types.StrategyID
	PositionID types.PositionID
}

// SubmitAtomicOrder sends an atomic (bracket) order to the broker. All
// three children share one position id.
type SubmitAtomicOrder struct {
	CommandMeta
	AtomicOrder *order.AtomicOrder
	StrategyID  types.StrategyID
	PositionID  types.PositionID
}

// ModifyOrder asks the broker to amend a working order's quantity and
// price. The order itself mutates only when the OrderModified event
// returns.
type ModifyOrder struct {
	CommandMeta
	OrderID          types.OrderID
	ModifiedQuantity types.Quantity
	ModifiedPrice    decimal.Decimal
}

// CancelOrder asks the broker to cancel a working order.
type CancelOrder struct {
	CommandMeta
	OrderID types.OrderID
	Reason  string
}
