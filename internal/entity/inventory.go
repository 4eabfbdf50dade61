package entity

import (
	"time"

	"github.com/uptrace/bun"
)

// InventoryRecord tracks stock for a single product.
// Invariant: 0 <= Reserved <= Stock. Version increments on every mutation and
// backs optimistic concurrency; mutations are single conditional updates.
type InventoryRecord struct {
	bun.BaseModel `bun:"table:inventory_records"`

	ID        int64     `bun:",pk,autoincrement"`
	ProductID int64     `bun:"product_id"`
	Stock     int64     `bun:"stock"`
	Reserved  int64     `bun:"reserved"`
	Version   int64     `bun:"version"`
	UpdatedAt time.Time `bun:"updated_at,nullzero"`
}

// Available is the quantity that can still be reserved.
func (r *InventoryRecord) Available() int64 {
	return r.Stock - r.Reserved
}

// StockOperation enumerates the kinds of inventory mutation.
type StockOperation string

const (
	StockOpIncrement StockOperation = "increment"
	StockOpDecrement StockOperation = "decrement"
	StockOpSet       StockOperation = "set"
	StockOpReserve   StockOperation = "reserve"
	StockOpRelease   StockOperation = "release"
)

// StockChangeLog is an append-only record of an inventory mutation. Rows are
// never updated or deleted. PreviousStock/NewStock record the actual effect,
// which may differ from the requested delta when clamping applied.
type StockChangeLog struct {
	bun.BaseModel `bun:"table:stock_change_logs"`

	ID            int64          `bun:",pk,autoincrement"`
	ProductID     int64          `bun:"product_id"`
	PreviousStock int64          `bun:"previous_stock"`
	NewStock      int64          `bun:"new_stock"`
	Delta         int64          `bun:"delta"`
	Operation     StockOperation `bun:"operation"`
	Reason        string         `bun:"reason"`
	ActorID       int64          `bun:"actor_id"`
	CreatedAt     time.Time      `bun:"created_at,nullzero,notnull,default:CURRENT_TIMESTAMP"`
}
