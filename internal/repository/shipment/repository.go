package shipment

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

var repoTracer = otel.Tracer("github.com/Additional-Code/caravel/repository/shipment")

// ErrNotFound is returned when a shipment record is missing.
var ErrNotFound = errors.New("shipment not found")

// Repository stores carrier-side shipment handles, one per order-provider
// pair. Event application is guarded on the stored last-update timestamp so
// replayed or out-of-order webhook deliveries never roll state backwards.
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

// Create persists a freshly placed shipment.
func (r *Repository) Create(ctx context.Context, s *entity.Shipment) error {
	if s == nil {
		return errors.New("nil shipment")
	}
	ctx, span := repoTracer.Start(ctx, "ShipmentRepository.Create", trace.WithAttributes(
		attribute.Int64("order.id", s.OrderID),
		attribute.String("shipment.provider", s.ProviderID),
	))
	defer span.End()

	_, err := r.writer.NewInsert().Model(s).Exec(ctx)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "insert failed")
	}
	return err
}

// GetByOrderID fetches the shipment for an order.
func (r *Repository) GetByOrderID(ctx context.Context, orderID int64) (*entity.Shipment, error) {
	ctx, span := repoTracer.Start(ctx, "ShipmentRepository.GetByOrderID", trace.WithAttributes(attribute.Int64("order.id", orderID)))
	defer span.End()

	s := new(entity.Shipment)
	err := r.reader.NewSelect().Model(s).Where("order_id = ?", orderID).Scan(ctx)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "select failed")
		return nil, err
	}
	return s, nil
}

// GetByTrackingID fetches a shipment by the carrier-assigned tracking id.
func (r *Repository) GetByTrackingID(ctx context.Context, trackingID string) (*entity.Shipment, error) {
	ctx, span := repoTracer.Start(ctx, "ShipmentRepository.GetByTrackingID", trace.WithAttributes(attribute.String("shipment.tracking_id", trackingID)))
	defer span.End()

	s := new(entity.Shipment)
	err := r.reader.NewSelect().Model(s).Where("tracking_id = ?", trackingID).Scan(ctx)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "select failed")
		return nil, err
	}
	return s, nil
}

// ApplyEvent merges a carrier event into the shipment iff the event is
// strictly newer than what is stored. The returned bool reports whether the
// row changed; false means the event was stale or duplicated and is a no-op.
func (r *Repository) ApplyEvent(ctx context.Context, shipmentID int64, carrierStatus string, normalized entity.Status, message string, deliveryCharge int64, eventTime time.Time) (bool, error) {
	ctx, span := repoTracer.Start(ctx, "ShipmentRepository.ApplyEvent", trace.WithAttributes(
		attribute.Int64("shipment.id", shipmentID),
		attribute.String("shipment.status", carrierStatus),
	))
	defer span.End()

	q := r.writer.NewUpdate().Model((*entity.Shipment)(nil)).
		Set("carrier_status = ?", carrierStatus).
		Set("normalized_status = ?", normalized).
		Set("last_message = ?", message).
		Set("last_update = ?", eventTime).
		Set("updated_at = ?", time.Now().UTC()).
		Where("id = ?", shipmentID).
		Where("last_update < ?", eventTime)
	if deliveryCharge > 0 {
		q = q.Set("delivery_charge = ?", deliveryCharge)
	}

	res, err := q.Exec(ctx)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "update failed")
		return false, err
	}
	rows, err := res.RowsAffected()
	if err != nil {
		return false, err
	}
	return rows > 0, nil
}
