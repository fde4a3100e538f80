// Package account holds the last-known brokerage account state, built from
// the AccountState events the gateway returns.
package account

import (
	"fmt"
	"time"

	"github.com/shopspring/decimal"

	"tradecore/internal/events"
	"tradecore/pkg/types"
)

// Account is the in-memory view of one brokerage account. It initializes
// on the first applied event; every subsequent event must carry the same
// account id.
type Account struct {
	ID        types.AccountID
	Brokerage types.Brokerage
	Currency  types.Currency

	initialized           bool
	cashBalance           decimal.Decimal
	cashStartDay          decimal.Decimal
	cashActivityDay       decimal.Decimal
	marginUsedLiquidation decimal.Decimal
	marginUsedMaintenance decimal.Decimal
	marginRatio           decimal.Decimal
	marginCallStatus      string
	lastUpdated           time.Time
	eventLog              []*events.AccountState
}

// New returns an empty, uninitialized account.
func New() *Account {
	return &Account{}
}

// Apply folds an account state event into the account. The first event
// initializes identity; later events must match it.
func (a *Account) Apply(e *events.AccountState) error {
	if a.initialized && e.AccountID != a.ID {
		return fmt.Errorf("apply to account %s: event is for account %s", a.ID, e.AccountID)
	}
	if !a.initialized {
		a.ID = e.AccountID
		a.Brokerage = e.Brokerage
		a.Currency = e.Currency
		a.initialized = true
	}

	a.cashBalance = e.CashBalance
	a.cashStartDay = e.CashStartDay
	a.cashActivityDay = e.CashActivityDay
	a.marginUsedLiquidation = e.MarginUsedLiquidation
	a.marginUsedMaintenance = e.MarginUsedMaintenance
	a.marginRatio = e.MarginRatio
	a.marginCallStatus = e.MarginCallStatus
	a.lastUpdated = e.Timestamp
	a.eventLog = append(a.eventLog, e)
	return nil
}

// Initialized reports whether the account has applied at least one event.
func (a *Account) Initialized() bool { return a.initialized }

// CashBalance returns the current cash balance.
func (a *Account) CashBalance() decimal.Decimal { return a.cashBalance }

// CashStartDay returns the cash balance at the session open.
func (a *Account) CashStartDay() decimal.Decimal { return a.cashStartDay }

// CashActivityDay returns the cash moved during the session.
func (a *Account) CashActivityDay() decimal.Decimal { return a.cashActivityDay }

// MarginUsedLiquidation returns margin held against liquidation.
func (a *Account) MarginUsedLiquidation() decimal.Decimal { return a.marginUsedLiquidation }

// MarginUsedMaintenance returns margin held for maintenance.
func (a *Account) MarginUsedMaintenance() decimal.Decimal { return a.marginUsedMaintenance }

// MarginRatio returns the broker-reported margin ratio.
func (a *Account) MarginRatio() decimal.Decimal { return a.marginRatio }

// MarginCallStatus returns the broker-reported margin call status.
func (a *Account) MarginCallStatus() string { return a.marginCallStatus }

// FreeEquity returns cash less margin in use.
func (a *Account) FreeEquity() decimal.Decimal {
	return a.cashBalance.Sub(a.marginUsedLiquidation.Add(a.marginUsedMaintenance))
}

// LastUpdated returns the timestamp of the most recent applied event.
func (a *Account) LastUpdated() time.Time { return a.lastUpdated }

// LastEvent returns the most recent applied event, or nil before
// initialization.
func (a *Account) LastEvent() *events.AccountState {
	if len(a.eventLog) == 0 {
		return nil
	}
	return a.eventLog[len(a.eventLog)-1]
}

// EventCount returns the number of applied events.
func (a *Account) EventCount() int { return len(a.eventLog) }
