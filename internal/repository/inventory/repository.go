package inventory

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/uptrace/bun"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/Additional-Code/caravel/internal/database"
	"github.com/Additional-Code/caravel/internal/entity"
)

var repoTracer = otel.Tracer("github.com/Additional-Code/caravel/repository/inventory")

// Repository errors.
var (
	ErrNotFound          = errors.New("inventory record not found")
	ErrInsufficientStock = errors.New("insufficient stock")
	ErrConflict          = errors.New("inventory record modified concurrently")
)

// AdjustResult reports the attempted versus actual effect of an adjust call.
// They differ when clamping applied.
type AdjustResult struct {
	ProductID     int64
	PreviousStock int64
	NewStock      int64
	Requested     int64
}

// Repository owns per-product stock counts. Reserve and release are single
// conditional updates; adjust is a version compare-and-swap. Every mutation
// appends one StockChangeLog row in the same transaction.
type Repository struct {
	writer *bun.DB
	reader *bun.DB
}

// NewRepository wires a repository backed by configured database connections.
func NewRepository(conns *database.Connections) *Repository {
	return &Repository{
		writer: conns.Writer,
		reader: conns.Reader,
	}
}

// GetByProductID fetches the inventory record for a product.
func (r *Repository) GetByProductID(ctx context.Context, productID int64) (*entity.InventoryRecord, error) {
	ctx, span := repoTracer.Start(ctx, "InventoryRepository.GetByProductID", trace.WithAttributes(attribute.Int64("product.id", productID)))
	defer span.End()

	record := new(entity.InventoryRecord)
	err := r.reader.NewSelect().Model(record).Where("product_id = ?", productID).Scan(ctx)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "select failed")
		return nil, err
	}
	return record, nil
}

// Create inserts a fresh inventory record (seeding, product onboarding).
func (r *Repository) Create(ctx context.Context, record *entity.InventoryRecord) error {
	if record == nil {
		return errors.New("nil inventory record")
	}
	_, err := r.writer.NewInsert().Model(record).Exec(ctx)
	return err
}

// Reserve places a hold of quantity against available stock. The guard
// `stock - reserved >= quantity` and the increment happen in one statement,
// so concurrent reservations on the same product cannot oversell.
func (r *Repository) Reserve(ctx context.Context, productID, quantity int64, reason string, actorID int64) error {
	if quantity <= 0 {
		return fmt.Errorf("invalid reserve quantity: %d", quantity)
	}
	ctx, span := repoTracer.Start(ctx, "InventoryRepository.Reserve", trace.WithAttributes(
		attribute.Int64("product.id", productID),
		attribute.Int64("quantity", quantity),
	))
	defer span.End()

	err := r.writer.RunInTx(ctx, nil, func(ctx context.Context, tx bun.Tx) error {
		res, err := tx.NewUpdate().Model((*entity.InventoryRecord)(nil)).
			Set("reserved = reserved + ?", quantity).
			Set("version = version + 1").
			Set("updated_at = ?", time.Now().UTC()).
			Where("product_id = ?", productID).
			Where("stock - reserved >= ?", quantity).
			Exec(ctx)
		if err != nil {
			return err
		}
		rows, err := res.RowsAffected()
		if err != nil {
			return err
		}
		if rows == 0 {
			// Distinguish a missing product from an exhausted one.
			exists, err := tx.NewSelect().Model((*entity.InventoryRecord)(nil)).
				Where("product_id = ?", productID).
				Exists(ctx)
			if err != nil {
				return err
			}
			if !exists {
				return ErrNotFound
			}
			return ErrInsufficientStock
		}
		return appendLog(ctx, tx, productID, entity.StockOpReserve, quantity, reason, actorID)
	})
	if err != nil && !errors.Is(err, ErrNotFound) && !errors.Is(err, ErrInsufficientStock) {
		span.RecordError(err)
		span.SetStatus(codes.Error, "reserve failed")
	}
	return err
}

// Release returns a hold, floored at zero so a duplicate release for the
// same failure can never drive reserved negative.
func (r *Repository) Release(ctx context.Context, productID, quantity int64, reason string, actorID int64) error {
	if quantity <= 0 {
		return fmt.Errorf("invalid release quantity: %d", quantity)
	}
	ctx, span := repoTracer.Start(ctx, "InventoryRepository.Release", trace.WithAttributes(
		attribute.Int64("product.id", productID),
		attribute.Int64("quantity", quantity),
	))
	defer span.End()

	err := r.writer.RunInTx(ctx, nil, func(ctx context.Context, tx bun.Tx) error {
		res, err := tx.NewUpdate().Model((*entity.InventoryRecord)(nil)).
			Set("reserved = GREATEST(reserved - ?, 0)", quantity).
			Set("version = version + 1").
			Set("updated_at = ?", time.Now().UTC()).
			Where("product_id = ?", productID).
			Exec(ctx)
		if err != nil {
			return err
		}
		rows, err := res.RowsAffected()
		if err != nil {
			return err
		}
		if rows == 0 {
			return ErrNotFound
		}
		return appendLog(ctx, tx, productID, entity.StockOpRelease, quantity, reason, actorID)
	})
	if err != nil && !errors.Is(err, ErrNotFound) {
		span.RecordError(err)
		span.SetStatus(codes.Error, "release failed")
	}
	return err
}

// Adjust changes the raw stock figure via compare-and-swap on the record
// version: the write only lands if the record is unchanged since the read.
// On a version miss the caller retries; this repository does not loop.
// One log row is written even when clamping reduced the change to zero,
// recording attempted versus actual effect.
func (r *Repository) Adjust(ctx context.Context, productID, quantity int64, op entity.StockOperation, reason string, actorID int64) (*AdjustResult, error) {
	if quantity < 0 {
		return nil, fmt.Errorf("invalid adjust quantity: %d", quantity)
	}
	ctx, span := repoTracer.Start(ctx, "InventoryRepository.Adjust", trace.WithAttributes(
		attribute.Int64("product.id", productID),
		attribute.Int64("quantity", quantity),
		attribute.String("operation", string(op)),
	))
	defer span.End()

	var result *AdjustResult
	err := r.writer.RunInTx(ctx, nil, func(ctx context.Context, tx bun.Tx) error {
		record := new(entity.InventoryRecord)
		err := tx.NewSelect().Model(record).Where("product_id = ?", productID).Scan(ctx)
		if errors.Is(err, sql.ErrNoRows) {
			return ErrNotFound
		}
		if err != nil {
			return err
		}

		newStock, err := applyOperation(record, quantity, op)
		if err != nil {
			return err
		}

		res, err := tx.NewUpdate().Model((*entity.InventoryRecord)(nil)).
			Set("stock = ?", newStock).
			Set("version = version + 1").
			Set("updated_at = ?", time.Now().UTC()).
			Where("product_id = ?", productID).
			Where("version = ?", record.Version).
			Exec(ctx)
		if err != nil {
			return err
		}
		rows, err := res.RowsAffected()
		if err != nil {
			return err
		}
		if rows == 0 {
			return ErrConflict
		}

		log := &entity.StockChangeLog{
			ProductID:     productID,
			PreviousStock: record.Stock,
			NewStock:      newStock,
			Delta:         newStock - record.Stock,
			Operation:     op,
			Reason:        reason,
			ActorID:       actorID,
			CreatedAt:     time.Now().UTC(),
		}
		if _, err := tx.NewInsert().Model(log).Exec(ctx); err != nil {
			return err
		}

		result = &AdjustResult{
			ProductID:     productID,
			PreviousStock: record.Stock,
			NewStock:      newStock,
			Requested:     quantity,
		}
		return nil
	})
	if err != nil {
		if !errors.Is(err, ErrNotFound) && !errors.Is(err, ErrConflict) {
			span.RecordError(err)
			span.SetStatus(codes.Error, "adjust failed")
		}
		return nil, err
	}
	return result, nil
}

// applyOperation computes the clamped post-adjust stock. Stock never drops
// below the reserved hold; doing so would break reserved <= stock.
func applyOperation(record *entity.InventoryRecord, quantity int64, op entity.StockOperation) (int64, error) {
	switch op {
	case entity.StockOpIncrement:
		return record.Stock + quantity, nil
	case entity.StockOpDecrement:
		next := record.Stock - quantity
		if next < record.Reserved {
			next = record.Reserved
		}
		return next, nil
	case entity.StockOpSet:
		next := quantity
		if next < record.Reserved {
			next = record.Reserved
		}
		return next, nil
	default:
		return 0, fmt.Errorf("unsupported stock operation: %s", op)
	}
}

// appendLog writes the ledger row for a reserve/release movement. Raw stock
// is unchanged by holds, so previous and new stock are equal and the delta
// records the hold movement.
func appendLog(ctx context.Context, tx bun.Tx, productID int64, op entity.StockOperation, quantity int64, reason string, actorID int64) error {
	record := new(entity.InventoryRecord)
	if err := tx.NewSelect().Model(record).Where("product_id = ?", productID).Scan(ctx); err != nil {
		return err
	}
	log := &entity.StockChangeLog{
		ProductID:     productID,
		PreviousStock: record.Stock,
		NewStock:      record.Stock,
		Delta:         quantity,
		Operation:     op,
		Reason:        reason,
		ActorID:       actorID,
		CreatedAt:     time.Now().UTC(),
	}
	_, err := tx.NewInsert().Model(log).Exec(ctx)
	return err
}
