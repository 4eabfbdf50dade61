package order

import (
	"context"
	"database/sql"
	"errors"
	"time"

	"github.com/uptrace/bun"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/Additional-Code/caravel/internal/database"
	"github.com/Additional-Code/caravel/internal/entity"
)

var repoTracer = otel.Tracer("github.com/Additional-Code/caravel/repository/order")

// ErrNotFound is returned when an order is missing.
var ErrNotFound = errors.New("order not found")

// ErrConflict is returned when a conditional update matched no row: the
// order's status changed since it was read, or it was soft-deleted.
var ErrConflict = errors.New("order modified concurrently")

// Repository encapsulates read/write access for orders. Every status
// transition is a single conditional update keyed on the expected pre-state,
// so concurrent operations on the same order serialize at the transition
// boundary instead of racing.
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

// Create persists a new order and its line items.
func (r *Repository) Create(ctx context.Context, order *entity.Order) error {
	if order == nil {
		return errors.New("nil order")
	}
	ctx, span := repoTracer.Start(ctx, "OrderRepository.Create", trace.WithAttributes(attribute.String("order.number", order.Number)))
	defer span.End()

	err := r.writer.RunInTx(ctx, nil, func(ctx context.Context, tx bun.Tx) error {
		if _, err := tx.NewInsert().Model(order).Exec(ctx); err != nil {
			return err
		}
		for _, item := range order.Items {
			item.OrderID = order.ID
		}
		if len(order.Items) > 0 {
			if _, err := tx.NewInsert().Model(&order.Items).Exec(ctx); err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "insert failed")
	}
	return err
}

// GetByID fetches an order and its line items by primary key.
func (r *Repository) GetByID(ctx context.Context, id int64) (*entity.Order, error) {
	ctx, span := repoTracer.Start(ctx, "OrderRepository.GetByID", trace.WithAttributes(attribute.Int64("order.id", id)))
	defer span.End()

	order := new(entity.Order)
	err := r.reader.NewSelect().Model(order).
		Relation("Items").
		Where("o.id = ?", id).
		Scan(ctx)
	if errors.Is(err, sql.ErrNoRows) {
		span.SetStatus(codes.Error, "not found")
		return nil, ErrNotFound
	}
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "select failed")
		return nil, err
	}
	return order, nil
}

// GetByNumber fetches an order by its human-readable number. Carriers echo
// the invoice back in webhooks when the tracking id is absent.
func (r *Repository) GetByNumber(ctx context.Context, number string) (*entity.Order, error) {
	ctx, span := repoTracer.Start(ctx, "OrderRepository.GetByNumber", trace.WithAttributes(attribute.String("order.number", number)))
	defer span.End()

	order := new(entity.Order)
	err := r.reader.NewSelect().Model(order).
		Relation("Items").
		Where("o.number = ?", number).
		Scan(ctx)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "select failed")
		return nil, err
	}
	return order, nil
}

// UpdateStatus applies from -> to as one conditional update. Soft-deleted
// orders never transition. Returns ErrConflict when the row no longer matches
// the expected pre-state.
func (r *Repository) UpdateStatus(ctx context.Context, id int64, from, to entity.Status) error {
	ctx, span := repoTracer.Start(ctx, "OrderRepository.UpdateStatus", trace.WithAttributes(
		attribute.Int64("order.id", id),
		attribute.String("order.from", string(from)),
		attribute.String("order.to", string(to)),
	))
	defer span.End()

	res, err := r.writer.NewUpdate().Model((*entity.Order)(nil)).
		Set("status = ?", to).
		Set("updated_at = ?", time.Now().UTC()).
		Where("id = ?", id).
		Where("status = ?", from).
		Where("deleted_at IS NULL").
		Exec(ctx)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "update failed")
		return err
	}
	return oneRowOr(res, ErrConflict)
}

// MarkShipped transitions a shippable order to shipped and records the
// courier and tracking handle in the same conditional update.
func (r *Repository) MarkShipped(ctx context.Context, id int64, from entity.Status, courier, trackingID string) error {
	ctx, span := repoTracer.Start(ctx, "OrderRepository.MarkShipped", trace.WithAttributes(
		attribute.Int64("order.id", id),
		attribute.String("order.courier", courier),
	))
	defer span.End()

	res, err := r.writer.NewUpdate().Model((*entity.Order)(nil)).
		Set("status = ?", entity.StatusShipped).
		Set("courier_name = ?", courier).
		Set("tracking_id = ?", trackingID).
		Set("updated_at = ?", time.Now().UTC()).
		Where("id = ?", id).
		Where("status = ?", from).
		Where("deleted_at IS NULL").
		Exec(ctx)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "update failed")
		return err
	}
	return oneRowOr(res, ErrConflict)
}

// SoftDelete stamps deleted_at and, when the order has an owning user, flags
// that user's account in the same transaction. Both writes succeed or
// neither does.
func (r *Repository) SoftDelete(ctx context.Context, id int64, userID *int64) error {
	ctx, span := repoTracer.Start(ctx, "OrderRepository.SoftDelete", trace.WithAttributes(attribute.Int64("order.id", id)))
	defer span.End()

	now := time.Now().UTC()
	err := r.writer.RunInTx(ctx, nil, func(ctx context.Context, tx bun.Tx) error {
		res, err := tx.NewUpdate().Model((*entity.Order)(nil)).
			Set("deleted_at = ?", now).
			Set("updated_at = ?", now).
			Where("id = ?", id).
			Where("deleted_at IS NULL").
			Exec(ctx)
		if err != nil {
			return err
		}
		if err := oneRowOr(res, ErrConflict); err != nil {
			return err
		}
		if userID != nil {
			return flagUser(ctx, tx, *userID, now)
		}
		return nil
	})
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "soft delete failed")
	}
	return err
}

// Restore clears deleted_at. It deliberately leaves any user flag in place;
// unflagging requires an explicit separate action.
func (r *Repository) Restore(ctx context.Context, id int64) error {
	ctx, span := repoTracer.Start(ctx, "OrderRepository.Restore", trace.WithAttributes(attribute.Int64("order.id", id)))
	defer span.End()

	res, err := r.writer.NewUpdate().Model((*entity.Order)(nil)).
		Set("deleted_at = NULL").
		Set("updated_at = ?", time.Now().UTC()).
		Where("id = ?", id).
		Where("deleted_at IS NOT NULL").
		Exec(ctx)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "restore failed")
		return err
	}
	return oneRowOr(res, ErrConflict)
}

// SetFake stores the fake-order classification. Marking true on an owned
// order flags the user in the same transaction. The flag never touches
// status or inventory.
func (r *Repository) SetFake(ctx context.Context, id int64, value bool, userID *int64) error {
	ctx, span := repoTracer.Start(ctx, "OrderRepository.SetFake", trace.WithAttributes(
		attribute.Int64("order.id", id),
		attribute.Bool("order.fake", value),
	))
	defer span.End()

	now := time.Now().UTC()
	err := r.writer.RunInTx(ctx, nil, func(ctx context.Context, tx bun.Tx) error {
		res, err := tx.NewUpdate().Model((*entity.Order)(nil)).
			Set("fake = ?", value).
			Set("updated_at = ?", now).
			Where("id = ?", id).
			Exec(ctx)
		if err != nil {
			return err
		}
		if err := oneRowOr(res, ErrNotFound); err != nil {
			return err
		}
		if value && userID != nil {
			return flagUser(ctx, tx, *userID, now)
		}
		return nil
	})
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "set fake failed")
	}
	return err
}

func oneRowOr(res sql.Result, fallback error) error {
	rows, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if rows == 0 {
		return fallback
	}
	return nil
}

func flagUser(ctx context.Context, tx bun.Tx, userID int64, now time.Time) error {
	res, err := tx.NewUpdate().Model((*entity.User)(nil)).
		Set("flagged = ?", true).
		Set("flagged_at = ?", now).
		Set("updated_at = ?", now).
		Where("id = ?", userID).
		Exec(ctx)
	if err != nil {
		return err
	}
	return oneRowOr(res, errors.New("owning user not found"))
}
