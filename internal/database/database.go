// Package database implements the execution database: the sole owner of
// the order and position stores and of every index between orders,
// positions and strategies.
//
// The database is a pure indexed store with no side-effecting logic. The
// execution engine is its only mutator; queries returning collections hand
// back defensive copies so readers on other goroutines always see a
// consistent view.
package database

import (
	"fmt"
	"log/slog"
	"sync"

	"tradecore/internal/events"
	"tradecore/internal/order"
	"tradecore/internal/position"
	"tradecore/pkg/types"
)

// ExecutionDatabase is the capability the engine mutates and strategies
// query. InMemory is the contract implementation; a durable variant can
// wrap it behind the same surface.
type ExecutionDatabase interface {
	AddStrategy(id types.StrategyID) error
	DeleteStrategy(id types.StrategyID) error
	AddOrder(o *order.Order, strategyID types.StrategyID, positionID types.PositionID) error
	AddPosition(p *position.Position, strategyID types.StrategyID) error
	UpdateOrder(o *order.Order)
	UpdatePosition(p *position.Position)
	UpdateAccount(e *events.AccountState)

	StrategyIDs() []types.StrategyID
	OrderExists(id types.OrderID) bool
	IsOrderWorking(id types.OrderID) bool
	IsOrderCompleted(id types.OrderID) bool
	GetOrder(id types.OrderID) (*order.Order, bool)
	GetOrders(strategyID types.StrategyID) map[types.OrderID]*order.Order
	GetOrdersAll() map[types.OrderID]*order.Order
	GetOrdersWorking(strategyID types.StrategyID) map[types.OrderID]*order.Order
	GetOrdersCompleted(strategyID types.StrategyID) map[types.OrderID]*order.Order
	GetStrategyForOrder(id types.OrderID) (types.StrategyID, bool)

	PositionExists(id types.PositionID) bool
	PositionExistsForOrder(id types.OrderID) bool
	GetPositionID(orderID types.OrderID) (types.PositionID, bool)
	GetPosition(id types.PositionID) (*position.Position, bool)
	GetPositionForOrder(orderID types.OrderID) (*position.Position, bool)
	GetPositions(strategyID types.StrategyID) map[types.PositionID]*position.Position
	GetPositionsAll() map[types.PositionID]*position.Position
	GetPositionsOpen(strategyID types.StrategyID) map[types.PositionID]*position.Position
	GetPositionsClosed(strategyID types.StrategyID) map[types.PositionID]*position.Position
	GetStrategyForPosition(id types.PositionID) (types.StrategyID, bool)
	IsPositionOpen(id types.PositionID) bool
	IsPositionClosed(id types.PositionID) bool
	IsFlat(strategyID types.StrategyID) bool
	IsFlatAll() bool

	CountOrdersTotal() int
	CountOrdersWorking() int
	CountOrdersCompleted() int
	CountPositionsTotal() int
	CountPositionsOpen() int
	CountPositionsClosed() int

	CheckResiduals()
	Reset()
}

// InMemory is the in-memory execution database. All operations share one
// read-write mutex: mutations are serialized, queries may run concurrently.
type InMemory struct {
	mu     sync.RWMutex
	logger *slog.Logger

	orders     map[types.OrderID]*order.Order
	positions  map[types.PositionID]*position.Position
	strategies map[types.StrategyID]struct{}

	orderStrategy     map[types.OrderID]types.StrategyID
	orderPosition     map[types.OrderID]types.PositionID
	positionStrategy  map[types.PositionID]types.StrategyID
	positionOrders    map[types.PositionID]map[types.OrderID]struct{}
	strategyOrders    map[types.StrategyID]map[types.OrderID]struct{}
	strategyPositions map[types.StrategyID]map[types.PositionID]struct{}

	ordersWorking   map[types.OrderID]struct{}
	ordersCompleted map[types.OrderID]struct{}
	positionsOpen   map[types.PositionID]struct{}
	positionsClosed map[types.PositionID]struct{}
}

// NewInMemory creates an empty in-memory execution database.
func NewInMemory(logger *slog.Logger) *InMemory {
	db := &InMemory{logger: logger.With("component", "database")}
	db.initStores()
	return db
}

func (db *InMemory) initStores() {
	db.orders = make(map[types.OrderID]*order.Order)
	db.positions = make(map[types.PositionID]*position.Position)
	db.strategies = make(map[types.StrategyID]struct{})
	db.orderStrategy = make(map[types.OrderID]types.StrategyID)
	db.orderPosition = make(map[types.OrderID]types.PositionID)
	db.positionStrategy = make(map[types.PositionID]types.StrategyID)
	db.positionOrders = make(map[types.PositionID]map[types.OrderID]struct{})
	db.strategyOrders = make(map[types.StrategyID]map[types.OrderID]struct{})
	db.strategyPositions = make(map[types.StrategyID]map[types.PositionID]struct{})
	db.ordersWorking = make(map[types.OrderID]struct{})
	db.ordersCompleted = make(map[types.OrderID]struct{})
	db.positionsOpen = make(map[types.PositionID]struct{})
	db.positionsClosed = make(map[types.PositionID]struct{})
}

// ————————————————————————————————————————————————————————————————————————
// Mutations
// ————————————————————————————————————————————————————————————————————————

// AddStrategy registers a strategy id.
func (db *InMemory) AddStrategy(id types.StrategyID) error {
	db.mu.Lock()
	defer db.mu.Unlock()
	if _, dup := db.strategies[id]; dup {
		return fmt.Errorf("add strategy %s: already registered", id)
	}
	db.strategies[id] = struct{}{}
	if db.strategyOrders[id] == nil {
		db.strategyOrders[id] = make(map[types.OrderID]struct{})
	}
	if db.strategyPositions[id] == nil {
		db.strategyPositions[id] = make(map[types.PositionID]struct{})
	}
	db.logger.Info("strategy registered", "strategy_id", string(id))
	return nil
}

// DeleteStrategy deregisters a strategy and detaches its indexed sets.
// Orders and positions themselves are never removed.
func (db *InMemory) DeleteStrategy(id types.StrategyID) error {
	db.mu.Lock()
	defer db.mu.Unlock()
	if _, ok := db.strategies[id]; !ok {
		return fmt.Errorf("delete strategy %s: not registered", id)
	}
	delete(db.strategies, id)
	delete(db.strategyOrders, id)
	delete(db.strategyPositions, id)
	db.logger.Info("strategy deregistered", "strategy_id", string(id))
	return nil
}

// AddOrder inserts a new order and indexes it against its strategy and
// position. Duplicate ids and position/strategy mismatches are programming
// errors and fail loudly.
func (db *InMemory) AddOrder(o *order.Order, strategyID types.StrategyID, positionID types.PositionID) error {
	db.mu.Lock()
	defer db.mu.Unlock()

	if _, dup := db.orders[o.ID]; dup {
		return fmt.Errorf("add order %s: id already in order store", o.ID)
	}
	if _, dup := db.orderStrategy[o.ID]; dup {
		return fmt.Errorf("add order %s: id already in order-strategy index", o.ID)
	}
	if _, dup := db.orderPosition[o.ID]; dup {
		return fmt.Errorf("add order %s: id already in order-position index", o.ID)
	}
	// A pre-existing position mapping must agree on the owning strategy.
	if owner, ok := db.positionStrategy[positionID]; ok && owner != strategyID {
		return fmt.Errorf("add order %s: position %s belongs to strategy %s, not %s",
			o.ID, positionID, owner, strategyID)
	}

	db.orders[o.ID] = o
	db.orderStrategy[o.ID] = strategyID
	db.orderPosition[o.ID] = positionID
	db.positionStrategy[positionID] = strategyID

	if db.positionOrders[positionID] == nil {
		db.positionOrders[positionID] = make(map[types.OrderID]struct{})
	}
	db.positionOrders[positionID][o.ID] = struct{}{}

	if db.strategyOrders[strategyID] == nil {
		db.strategyOrders[strategyID] = make(map[types.OrderID]struct{})
	}
	db.strategyOrders[strategyID][o.ID] = struct{}{}

	if db.strategyPositions[strategyID] == nil {
		db.strategyPositions[strategyID] = make(map[types.PositionID]struct{})
	}
	db.strategyPositions[strategyID][positionID] = struct{}{}

	return nil
}

// AddPosition inserts a new position and marks it open.
func (db *InMemory) AddPosition(p *position.Position, strategyID types.StrategyID) error {
	db.mu.Lock()
	defer db.mu.Unlock()

	if _, dup := db.positions[p.ID]; dup {
		return fmt.Errorf("add position %s: id already in position store", p.ID)
	}
	db.positions[p.ID] = p
	db.positionStrategy[p.ID] = strategyID
	if db.strategyPositions[strategyID] == nil {
		db.strategyPositions[strategyID] = make(map[types.PositionID]struct{})
	}
	db.strategyPositions[strategyID][p.ID] = struct{}{}
	db.positionsOpen[p.ID] = struct{}{}
	return nil
}

// UpdateOrder re-partitions the order between the working and completed
// sets based on its own flags.
func (db *InMemory) UpdateOrder(o *order.Order) {
	db.mu.Lock()
	defer db.mu.Unlock()

	if o.IsWorking() {
		db.ordersWorking[o.ID] = struct{}{}
		delete(db.ordersCompleted, o.ID)
	} else if o.IsCompleted() {
		db.ordersCompleted[o.ID] = struct{}{}
		delete(db.ordersWorking, o.ID)
	} else {
		// Pre-submission states sit in neither partition.
		delete(db.ordersWorking, o.ID)
		delete(db.ordersCompleted, o.ID)
	}
}

// UpdatePosition moves the position to the closed set once it reports
// closed.
func (db *InMemory) UpdatePosition(p *position.Position) {
	db.mu.Lock()
	defer db.mu.Unlock()

	if p.IsClosed() {
		db.positionsClosed[p.ID] = struct{}{}
		delete(db.positionsOpen, p.ID)
	} else {
		db.positionsOpen[p.ID] = struct{}{}
		delete(db.positionsClosed, p.ID)
	}
}

// UpdateAccount is a no-op for the in-memory variant; a durable variant
// would persist the event here.
func (db *InMemory) UpdateAccount(e *events.AccountState) {}

// ————————————————————————————————————————————————————————————————————————
// Queries
// ————————————————————————————————————————————————————————————————————————

// StrategyIDs returns the registered strategy ids.
func (db *InMemory) StrategyIDs() []types.StrategyID {
	db.mu.RLock()
	defer db.mu.RUnlock()
	out := make([]types.StrategyID, 0, len(db.strategies))
	for id := range db.strategies {
		out = append(out, id)
	}
	return out
}

// OrderExists reports whether the order id is in the store.
func (db *InMemory) OrderExists(id types.OrderID) bool {
	db.mu.RLock()
	defer db.mu.RUnlock()
	_, ok := db.orders[id]
	return ok
}

// IsOrderWorking reports membership in the working partition.
func (db *InMemory) IsOrderWorking(id types.OrderID) bool {
	db.mu.RLock()
	defer db.mu.RUnlock()
	_, ok := db.ordersWorking[id]
	return ok
}

// IsOrderCompleted reports membership in the completed partition.
func (db *InMemory) IsOrderCompleted(id types.OrderID) bool {
	db.mu.RLock()
	defer db.mu.RUnlock()
	_, ok := db.ordersCompleted[id]
	return ok
}

// GetOrder looks up an order by id.
func (db *InMemory) GetOrder(id types.OrderID) (*order.Order, bool) {
	db.mu.RLock()
	defer db.mu.RUnlock()
	o, ok := db.orders[id]
	return o, ok
}

// GetOrders returns the orders indexed to one strategy.
func (db *InMemory) GetOrders(strategyID types.StrategyID) map[types.OrderID]*order.Order {
	db.mu.RLock()
	defer db.mu.RUnlock()
	out := make(map[types.OrderID]*order.Order, len(db.strategyOrders[strategyID]))
	for id := range db.strategyOrders[strategyID] {
		out[id] = db.orders[id]
	}
	return out
}

// GetOrdersAll returns every order in the store.
func (db *InMemory) GetOrdersAll() map[types.OrderID]*order.Order {
	db.mu.RLock()
	defer db.mu.RUnlock()
	out := make(map[types.OrderID]*order.Order, len(db.orders))
	for id, o := range db.orders {
		out[id] = o
	}
	return out
}

// GetOrdersWorking returns the working orders of one strategy.
func (db *InMemory) GetOrdersWorking(strategyID types.StrategyID) map[types.OrderID]*order.Order {
	db.mu.RLock()
	defer db.mu.RUnlock()
	out := make(map[types.OrderID]*order.Order)
	for id := range db.strategyOrders[strategyID] {
		if _, ok := db.ordersWorking[id]; ok {
			out[id] = db.orders[id]
		}
	}
	return out
}

// GetOrdersCompleted returns the completed orders of one strategy.
func (db *InMemory) GetOrdersCompleted(strategyID types.StrategyID) map[types.OrderID]*order.Order {
	db.mu.RLock()
	defer db.mu.RUnlock()
	out := make(map[types.OrderID]*order.Order)
	for id := range db.strategyOrders[strategyID] {
		if _, ok := db.ordersCompleted[id]; ok {
			out[id] = db.orders[id]
		}
	}
	return out
}

// GetStrategyForOrder resolves the owning strategy of an order.
func (db *InMemory) GetStrategyForOrder(id types.OrderID) (types.StrategyID, bool) {
	db.mu.RLock()
	defer db.mu.RUnlock()
	sid, ok := db.orderStrategy[id]
	return sid, ok
}

// PositionExists reports whether the position id is in the store.
func (db *InMemory) PositionExists(id types.PositionID) bool {
	db.mu.RLock()
	defer db.mu.RUnlock()
	_, ok := db.positions[id]
	return ok
}

// PositionExistsForOrder reports whether the order maps to an existing
// position.
func (db *InMemory) PositionExistsForOrder(id types.OrderID) bool {
	db.mu.RLock()
	defer db.mu.RUnlock()
	pid, ok := db.orderPosition[id]
	if !ok {
		return false
	}
	_, ok = db.positions[pid]
	return ok
}

// GetPositionID resolves the position id an order was submitted against.
func (db *InMemory) GetPositionID(orderID types.OrderID) (types.PositionID, bool) {
	db.mu.RLock()
	defer db.mu.RUnlock()
	pid, ok := db.orderPosition[orderID]
	return pid, ok
}

// GetPosition looks up a position by id.
func (db *InMemory) GetPosition(id types.PositionID) (*position.Position, bool) {
	db.mu.RLock()
	defer db.mu.RUnlock()
	p, ok := db.positions[id]
	return p, ok
}

// GetPositionForOrder resolves the position an order's fills feed.
func (db *InMemory) GetPositionForOrder(orderID types.OrderID) (*position.Position, bool) {
	db.mu.RLock()
	defer db.mu.RUnlock()
	pid, ok := db.orderPosition[orderID]
	if !ok {
		return nil, false
	}
	p, ok := db.positions[pid]
	return p, ok
}

// GetPositions returns the positions indexed to one strategy.
func (db *InMemory) GetPositions(strategyID types.StrategyID) map[types.PositionID]*position.Position {
	db.mu.RLock()
	defer db.mu.RUnlock()
	out := make(map[types.PositionID]*position.Position, len(db.strategyPositions[strategyID]))
	for id := range db.strategyPositions[strategyID] {
		if p, ok := db.positions[id]; ok {
			out[id] = p
		}
	}
	return out
}

// GetPositionsAll returns every position in the store.
func (db *InMemory) GetPositionsAll() map[types.PositionID]*position.Position {
	db.mu.RLock()
	defer db.mu.RUnlock()
	out := make(map[types.PositionID]*position.Position, len(db.positions))
	for id, p := range db.positions {
		out[id] = p
	}
	return out
}

// GetPositionsOpen returns the open positions of one strategy.
func (db *InMemory) GetPositionsOpen(strategyID types.StrategyID) map[types.PositionID]*position.Position {
	db.mu.RLock()
	defer db.mu.RUnlock()
	out := make(map[types.PositionID]*position.Position)
	for id := range db.strategyPositions[strategyID] {
		if _, open := db.positionsOpen[id]; open {
			out[id] = db.positions[id]
		}
	}
	return out
}

// GetPositionsClosed returns the closed positions of one strategy.
func (db *InMemory) GetPositionsClosed(strategyID types.StrategyID) map[types.PositionID]*position.Position {
	db.mu.RLock()
	defer db.mu.RUnlock()
	out := make(map[types.PositionID]*position.Position)
	for id := range db.strategyPositions[strategyID] {
		if _, closed := db.positionsClosed[id]; closed {
			out[id] = db.positions[id]
		}
	}
	return out
}

// GetStrategyForPosition resolves the owning strategy of a position.
func (db *InMemory) GetStrategyForPosition(id types.PositionID) (types.StrategyID, bool) {
	db.mu.RLock()
	defer db.mu.RUnlock()
	sid, ok := db.positionStrategy[id]
	return sid, ok
}

// IsPositionOpen reports membership in the open partition.
func (db *InMemory) IsPositionOpen(id types.PositionID) bool {
	db.mu.RLock()
	defer db.mu.RUnlock()
	_, ok := db.positionsOpen[id]
	return ok
}

// IsPositionClosed reports membership in the closed partition.
func (db *InMemory) IsPositionClosed(id types.PositionID) bool {
	db.mu.RLock()
	defer db.mu.RUnlock()
	_, ok := db.positionsClosed[id]
	return ok
}

// IsFlat reports whether the strategy holds no open position.
func (db *InMemory) IsFlat(strategyID types.StrategyID) bool {
	db.mu.RLock()
	defer db.mu.RUnlock()
	for id := range db.strategyPositions[strategyID] {
		if _, open := db.positionsOpen[id]; open {
			return false
		}
	}
	return true
}

// IsFlatAll reports whether no strategy holds an open position.
func (db *InMemory) IsFlatAll() bool {
	db.mu.RLock()
	defer db.mu.RUnlock()
	return len(db.positionsOpen) == 0
}

// CountOrdersTotal returns the size of the order store.
func (db *InMemory) CountOrdersTotal() int {
	db.mu.RLock()
	defer db.mu.RUnlock()
	return len(db.orders)
}

// CountOrdersWorking returns the size of the working partition.
func (db *InMemory) CountOrdersWorking() int {
	db.mu.RLock()
	defer db.mu.RUnlock()
	return len(db.ordersWorking)
}

// CountOrdersCompleted returns the size of the completed partition.
func (db *InMemory) CountOrdersCompleted() int {
	db.mu.RLock()
	defer db.mu.RUnlock()
	return len(db.ordersCompleted)
}

// CountPositionsTotal returns the size of the position store.
func (db *InMemory) CountPositionsTotal() int {
	db.mu.RLock()
	defer db.mu.RUnlock()
	return len(db.positions)
}

// CountPositionsOpen returns the size of the open partition.
func (db *InMemory) CountPositionsOpen() int {
	db.mu.RLock()
	defer db.mu.RUnlock()
	return len(db.positionsOpen)
}

// CountPositionsClosed returns the size of the closed partition.
func (db *InMemory) CountPositionsClosed() int {
	db.mu.RLock()
	defer db.mu.RUnlock()
	return len(db.positionsClosed)
}

// CheckResiduals logs any still-working orders and still-open positions.
// It never mutates state.
func (db *InMemory) CheckResiduals() {
	db.mu.RLock()
	defer db.mu.RUnlock()
	for id := range db.ordersWorking {
		db.logger.Warn("residual working order", "order_id", string(id))
	}
	for id := range db.positionsOpen {
		db.logger.Warn("residual open position", "position_id", string(id))
	}
}

// Reset clears all stores and indexes, leaving the database usable.
func (db *InMemory) Reset() {
	db.mu.Lock()
	defer db.mu.Unlock()
	db.initStores()
	db.logger.Info("database reset")
}
