// Package portfolio aggregates realized returns and account state across
// all strategies. It is the engine's analyzer collaborator: each closed
// position is reported to it exactly once.
package portfolio

import (
	"log/slog"
	"sync"
	"time"

	"github.com/shopspring/decimal"

	"tradecore/internal/account"
	"tradecore/internal/position"
	"tradecore/pkg/types"
)

// ReturnRecord is one realized-return observation.
type ReturnRecord struct {
	PositionID types.PositionID
	StrategyID types.StrategyID
	Return     decimal.Decimal
	ClosedAt   time.Time
}

// Analyzer accumulates per-strategy realized returns and mirrors the last
// known account state.
type Analyzer struct {
	logger *slog.Logger

	mu       sync.RWMutex
	seen     map[types.PositionID]struct{}
	records  []ReturnRecord
	byStrat  map[types.StrategyID]decimal.Decimal
	equity   decimal.Decimal
	currency types.Currency
}

// NewAnalyzer creates an empty analyzer.
func NewAnalyzer(logger *slog.Logger) *Analyzer {
	return &Analyzer{
		logger:  logger.With("component", "portfolio"),
		seen:    make(map[types.PositionID]struct{}),
		byStrat: make(map[types.StrategyID]decimal.Decimal),
	}
}

// OnPositionClosed records the realized return of a closed position. A
// position already recorded is ignored, preserving exactly-once reporting
// even if an upstream replays the closing event.
func (a *Analyzer) OnPositionClosed(strategyID types.StrategyID, p *position.Position, closedAt time.Time) {
	a.mu.Lock()
	defer a.mu.Unlock()

	if _, dup := a.seen[p.ID]; dup {
		a.logger.Warn("position already recorded", "position_id", string(p.ID))
		return
	}
	a.seen[p.ID] = struct{}{}

	ret := p.ReturnRealized()
	a.records = append(a.records, ReturnRecord{
		PositionID: p.ID,
		StrategyID: strategyID,
		Return:     ret,
		ClosedAt:   closedAt,
	})
	a.byStrat[strategyID] = a.byStrat[strategyID].Add(ret)

	a.logger.Info("position closed",
		"position_id", string(p.ID),
		"strategy_id", string(strategyID),
		"return", ret.String(),
	)
}

// OnAccountState mirrors the latest account equity.
func (a *Analyzer) OnAccountState(acct *account.Account) {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.equity = acct.FreeEquity()
	a.currency = acct.Currency
}

// Records returns a copy of all realized-return records in arrival order.
func (a *Analyzer) Records() []ReturnRecord {
	a.mu.RLock()
	defer a.mu.RUnlock()
	out := make([]ReturnRecord, len(a.records))
	copy(out, a.records)
	return out
}

// RealizedReturn returns the cumulative realized return for one strategy.
func (a *Analyzer) RealizedReturn(strategyID types.StrategyID) decimal.Decimal {
	a.mu.RLock()
	defer a.mu.RUnlock()
	return a.byStrat[strategyID]
}

// Equity returns the last mirrored free equity.
func (a *Analyzer) Equity() decimal.Decimal {
	a.mu.RLock()
	defer a.mu.RUnlock()
	return a.equity
}

// Reset clears all records. Only meaningful between backtest runs.
func (a *Analyzer) Reset() {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.seen = make(map[types.PositionID]struct{})
	a.records = nil
	a.byStrat = make(map[types.StrategyID]decimal.Decimal)
	a.equity = decimal.Decimal{}
}
