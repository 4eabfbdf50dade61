package webhook

import (
	"context"
	"errors"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/fx"
	"go.uber.org/zap"

	"github.com/Additional-Code/caravel/internal/entity"
	orderrepo "github.com/Additional-Code/caravel/internal/repository/order"
	shipmentrepo "github.com/Additional-Code/caravel/internal/repository/shipment"
	"github.com/Additional-Code/caravel/internal/service/fulfillment"
	"github.com/Additional-Code/caravel/internal/shipping"
	"github.com/Additional-Code/caravel/pkg/errorbank"
)

var reconcilerTracer = otel.Tracer("github.com/Additional-Code/caravel/service/webhook")

var eventsProcessed = promauto.NewCounterVec(prometheus.CounterOpts{
	Name: "caravel_webhook_events_total",
	Help: "Carrier webhook deliveries by provider and outcome.",
}, []string{"provider", "result"})

// Counter outcomes. Stale, duplicate, and unmatched deliveries are accepted
// without mutating anything; carriers retry on non-2xx, so only signature and
// parse failures reject the delivery.
const (
	resultApplied   = "applied"
	resultStale     = "stale"
	resultIgnored   = "ignored"
	resultUnmatched = "unmatched"
	resultRejected  = "rejected"
	resultFailed    = "failed"
)

// Registry is the slice of the provider registry the reconciler needs.
type Registry interface {
	Resolve(id string) (shipping.Provider, error)
	WebhookSecret(id string) (string, error)
}

// Shipments looks up and advances shipment records.
type Shipments interface {
	GetByTrackingID(ctx context.Context, trackingID string) (*entity.Shipment, error)
	GetByOrderID(ctx context.Context, orderID int64) (*entity.Shipment, error)
	ApplyEvent(ctx context.Context, shipmentID int64, carrierStatus string, normalized entity.Status, message string, deliveryCharge int64, eventTime time.Time) (bool, error)
}

// Orders resolves the order a shipment belongs to.
type Orders interface {
	GetByID(ctx context.Context, id int64) (*entity.Order, error)
	GetByNumber(ctx context.Context, number string) (*entity.Order, error)
}

// Orchestrator applies normalized carrier statuses to the order state machine.
type Orchestrator interface {
	ApplyCarrierStatus(ctx context.Context, order *entity.Order, target entity.Status, via string, actorID int64) error
}

// Reconciler turns raw carrier webhook deliveries into guarded state
// transitions. It verifies the signature before reading the body, drops
// stale and duplicate events, and routes legal transitions through the
// fulfillment state machine.
type Reconciler struct {
	registry  Registry
	shipments Shipments
	orders    Orders
	orch      Orchestrator
	logger    *zap.Logger
}

// Params defines dependencies for constructing Reconciler.
type Params struct {
	fx.In

	Registry  *shipping.Registry
	Shipments *shipmentrepo.Repository
	Orders    *orderrepo.Repository
	Service   *fulfillment.Service
	Logger    *zap.Logger
}

// NewReconciler wires a new Reconciler instance.
func NewReconciler(p Params) *Reconciler {
	return &Reconciler{
		registry:  p.Registry,
		shipments: p.Shipments,
		orders:    p.Orders,
		orch:      p.Service,
		logger:    p.Logger,
	}
}

// NewReconcilerWith builds a Reconciler from explicit collaborators.
func NewReconcilerWith(registry Registry, shipments Shipments, orders Orders, orch Orchestrator, logger *zap.Logger) *Reconciler {
	return &Reconciler{registry: registry, shipments: shipments, orders: orders, orch: orch, logger: logger}
}

// Process handles one webhook delivery. A nil return means the carrier
// should consider the delivery accepted, including the no-op outcomes for
// stale, duplicate, and unmatched events. Errors carry the status the
// transport layer should answer with: unauthorized for signature failures,
// bad request for unparseable bodies.
func (r *Reconciler) Process(ctx context.Context, providerID string, payload []byte, signature string) error {
	ctx, span := reconcilerTracer.Start(ctx, "WebhookReconciler.Process", trace.WithAttributes(attribute.String("provider", providerID)))
	defer span.End()

	provider, err := r.registry.Resolve(providerID)
	if err != nil {
		// An unknown or disabled provider has no secret to verify against;
		// the delivery cannot be authenticated.
		eventsProcessed.WithLabelValues(providerID, resultRejected).Inc()
		return errorbank.Unauthorized("unknown webhook source", errorbank.WithCause(err))
	}

	secret, err := r.registry.WebhookSecret(providerID)
	if err != nil || secret == "" {
		eventsProcessed.WithLabelValues(providerID, resultRejected).Inc()
		return errorbank.Unauthorized("webhook secret not configured")
	}
	if !provider.VerifyWebhookSignature(payload, signature, secret) {
		eventsProcessed.WithLabelValues(providerID, resultRejected).Inc()
		return errorbank.Unauthorized("webhook signature mismatch")
	}

	event, err := provider.ParseWebhookEvent(payload)
	if err != nil {
		eventsProcessed.WithLabelValues(providerID, resultFailed).Inc()
		return errorbank.BadRequest("unparseable webhook payload", errorbank.WithCause(err))
	}

	shipment, order, err := r.match(ctx, event)
	if err != nil {
		return err
	}
	if shipment == nil {
		r.logger.Warn("webhook event matched no shipment",
			zap.String("provider", providerID),
			zap.String("tracking_id", event.TrackingID),
			zap.String("invoice", event.Invoice),
		)
		eventsProcessed.WithLabelValues(providerID, resultUnmatched).Inc()
		return nil
	}

	if !event.Timestamp.After(shipment.LastUpdate) {
		// Duplicate delivery or an event older than what we already hold.
		eventsProcessed.WithLabelValues(providerID, resultStale).Inc()
		return nil
	}

	// The order transitions before the shipment record consumes the event.
	// If it ran the other way a transition failure would leave the record
	// ahead of the order, and the carrier's retry of the same event would
	// read as stale forever.
	transitionErr := r.orch.ApplyCarrierStatus(ctx, order, event.NormalizedStatus, "webhook:"+providerID, fulfillment.SystemActorID)
	if transitionErr != nil && errorbank.From(transitionErr).Kind() != errorbank.KindConflict {
		eventsProcessed.WithLabelValues(providerID, resultFailed).Inc()
		return transitionErr
	}

	applied, err := r.shipments.ApplyEvent(ctx, shipment.ID, event.CarrierStatus, event.NormalizedStatus, event.Message, event.DeliveryCharge, event.Timestamp)
	if err != nil {
		eventsProcessed.WithLabelValues(providerID, resultFailed).Inc()
		return errorbank.Internal("failed to record webhook event", errorbank.WithCause(err))
	}
	if !applied {
		// A concurrent delivery consumed a newer event between our read and
		// the conditional update; the record already moved past this one.
		eventsProcessed.WithLabelValues(providerID, resultStale).Inc()
		return nil
	}

	if transitionErr != nil {
		// The mapped status has no legal transition from the current order
		// state, e.g. a late "pending" after shipping. The shipment record
		// keeps the carrier detail; the order stands.
		r.logger.Info("webhook status ignored by state machine",
			zap.String("provider", providerID),
			zap.Int64("order_id", order.ID),
			zap.String("order_status", string(order.Status)),
			zap.String("event_status", string(event.NormalizedStatus)),
		)
		eventsProcessed.WithLabelValues(providerID, resultIgnored).Inc()
		return nil
	}

	eventsProcessed.WithLabelValues(providerID, resultApplied).Inc()
	return nil
}

// match resolves the shipment an event refers to, preferring the carrier's
// tracking id and falling back to the order number some carriers echo back
// as the invoice. A nil shipment with a nil error means no match.
func (r *Reconciler) match(ctx context.Context, event *shipping.WebhookEvent) (*entity.Shipment, *entity.Order, error) {
	if event.TrackingID != "" {
		shipment, err := r.shipments.GetByTrackingID(ctx, event.TrackingID)
		if err == nil {
			order, err := r.orders.GetByID(ctx, shipment.OrderID)
			if err != nil {
				return nil, nil, errorbank.Internal("failed to load order for shipment", errorbank.WithCause(err))
			}
			return shipment, order, nil
		}
		if !errors.Is(err, shipmentrepo.ErrNotFound) {
			return nil, nil, errorbank.Internal("failed to look up shipment", errorbank.WithCause(err))
		}
	}

	if event.Invoice == "" {
		return nil, nil, nil
	}
	order, err := r.orders.GetByNumber(ctx, event.Invoice)
	if errors.Is(err, orderrepo.ErrNotFound) {
		return nil, nil, nil
	}
	if err != nil {
		return nil, nil, errorbank.Internal("failed to look up order by invoice", errorbank.WithCause(err))
	}
	shipment, err := r.shipments.GetByOrderID(ctx, order.ID)
	if errors.Is(err, shipmentrepo.ErrNotFound) {
		return nil, nil, nil
	}
	if err != nil {
		return nil, nil, errorbank.Internal("failed to look up shipment by order", errorbank.WithCause(err))
	}
	return shipment, order, nil
}
