package fulfillment

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/fx"
	"go.uber.org/zap"

	"github.com/Additional-Code/caravel/internal/audit"
	"github.com/Additional-Code/caravel/internal/cache"
	"github.com/Additional-Code/caravel/internal/config"
	"github.com/Additional-Code/caravel/internal/entity"
	"github.com/Additional-Code/caravel/internal/messaging"
	invrepo "github.com/Additional-Code/caravel/internal/repository/inventory"
	orderrepo "github.com/Additional-Code/caravel/internal/repository/order"
	shipmentrepo "github.com/Additional-Code/caravel/internal/repository/shipment"
	invsvc "github.com/Additional-Code/caravel/internal/service/inventory"
	"github.com/Additional-Code/caravel/internal/shipping"
	"github.com/Additional-Code/caravel/pkg/errorbank"
)

var serviceTracer = otel.Tracer("github.com/Additional-Code/caravel/service/fulfillment")

// SystemActorID marks mutations driven by carrier events rather than a person.
const SystemActorID int64 = 0

// maxTransitionAttempts bounds the automatic retry when a conditional status
// update loses a race. The retry re-reads and re-applies; anything beyond a
// few attempts surfaces as a conflict.
const maxTransitionAttempts = 3

// OrderStore is the order persistence contract.
type OrderStore interface {
	GetByID(ctx context.Context, id int64) (*entity.Order, error)
	GetByNumber(ctx context.Context, number string) (*entity.Order, error)
	UpdateStatus(ctx context.Context, id int64, from, to entity.Status) error
	MarkShipped(ctx context.Context, id int64, from entity.Status, courier, trackingID string) error
	SoftDelete(ctx context.Context, id int64, userID *int64) error
	Restore(ctx context.Context, id int64) error
	SetFake(ctx context.Context, id int64, value bool, userID *int64) error
}

// InventoryLedger is the slice of the inventory service the orchestrator uses.
type InventoryLedger interface {
	Reserve(ctx context.Context, productID, quantity int64, reason string, actorID int64) error
	Release(ctx context.Context, productID, quantity int64, reason string, actorID int64) error
	Adjust(ctx context.Context, item invsvc.AdjustItem, actorID int64) (*invrepo.AdjustResult, error)
}

// ShipmentStore is the shipment persistence contract.
type ShipmentStore interface {
	Create(ctx context.Context, s *entity.Shipment) error
	GetByOrderID(ctx context.Context, orderID int64) (*entity.Shipment, error)
	GetByTrackingID(ctx context.Context, trackingID string) (*entity.Shipment, error)
	ApplyEvent(ctx context.Context, shipmentID int64, carrierStatus string, normalized entity.Status, message string, deliveryCharge int64, eventTime time.Time) (bool, error)
}

// ProviderRegistry resolves configured carrier adapters.
type ProviderRegistry interface {
	Resolve(id string) (shipping.Provider, error)
	Pickup() shipping.PickupPoint
}

// ShipRequest carries the recipient details for handing an order to a carrier.
type ShipRequest struct {
	ProviderID       string
	RecipientName    string
	RecipientPhone   string
	RecipientAddress string
	RecipientCity    string
	Note             string
}

// TrackView is the normalized tracking state exposed to callers.
type TrackView struct {
	OrderID           int64          `json:"order_id"`
	Number            string         `json:"number"`
	Status            entity.Status  `json:"status"`
	CourierName       string         `json:"courier_name,omitempty"`
	TrackingID        string         `json:"tracking_id,omitempty"`
	CarrierStatus     string         `json:"carrier_status,omitempty"`
	LastMessage       string         `json:"last_message,omitempty"`
	LastUpdate        *time.Time     `json:"last_update,omitempty"`
	EstimatedDelivery *time.Time     `json:"estimated_delivery,omitempty"`
	DeliveryCharge    int64          `json:"delivery_charge,omitempty"`
}

// OrderEvent is published on every fulfillment state change.
type OrderEvent struct {
	Type       string        `json:"type"`
	OrderID    int64         `json:"order_id"`
	Number     string        `json:"number"`
	Status     entity.Status `json:"status"`
	Provider   string        `json:"provider,omitempty"`
	TrackingID string        `json:"tracking_id,omitempty"`
	OccurredAt time.Time     `json:"occurred_at"`
}

// Event types emitted on the fulfillment topic.
const (
	EventOrderShipped    = "order.shipped"
	EventOrderCancelled  = "order.cancelled"
	EventStatusChanged   = "shipment.status_changed"
	EventOrderDeleted    = "order.deleted"
	EventOrderRestored   = "order.restored"
	EventOrderFakeMarked = "order.fake_marked"
)

// Service is the fulfillment orchestrator: it owns the order state machine
// and coordinates inventory holds, carrier calls, audit, and events.
type Service struct {
	orders    OrderStore
	ledger    InventoryLedger
	shipments ShipmentStore
	registry  ProviderRegistry
	auditor   *audit.Recorder
	cache     cache.Store
	cacheTTL  time.Duration
	logger    *zap.Logger
	publisher messaging.Client
	messaging messagingConfig
	timeout   time.Duration
}

type messagingConfig struct {
	enabled bool
	topic   string
}

// Params defines dependencies for constructing Service.
type Params struct {
	fx.In

	Orders    *orderrepo.Repository
	Inventory *invsvc.Service
	Shipments *shipmentrepo.Repository
	Registry  *shipping.Registry
	Auditor   *audit.Recorder
	Cache     cache.Store
	Config    config.Config
	Logger    *zap.Logger
	Publisher messaging.Client
}

// NewService wires a new Service instance.
func NewService(p Params) *Service {
	return &Service{
		orders:    p.Orders,
		ledger:    p.Inventory,
		shipments: p.Shipments,
		registry:  p.Registry,
		auditor:   p.Auditor,
		cache:     p.Cache,
		cacheTTL:  p.Config.Cache.DefaultTTL,
		logger:    p.Logger,
		publisher: p.Publisher,
		messaging: messagingConfig{
			enabled: p.Config.Messaging.Enabled,
			topic:   p.Config.Messaging.Kafka.Topic,
		},
		timeout: p.Config.Shipping.RequestTimeout,
	}
}

// Deps bundles the orchestrator collaborators for direct construction in
// tests.
type Deps struct {
	Orders    OrderStore
	Ledger    InventoryLedger
	Shipments ShipmentStore
	Registry  ProviderRegistry
	Auditor   *audit.Recorder
	Cache     cache.Store
	CacheTTL  time.Duration
	Logger    *zap.Logger
	Publisher messaging.Client
	Topic     string
	Timeout   time.Duration
}

// NewServiceWith builds a Service from explicit collaborators.
func NewServiceWith(d Deps) *Service {
	return &Service{
		orders:    d.Orders,
		ledger:    d.Ledger,
		shipments: d.Shipments,
		registry:  d.Registry,
		auditor:   d.Auditor,
		cache:     d.Cache,
		cacheTTL:  d.CacheTTL,
		logger:    d.Logger,
		publisher: d.Publisher,
		messaging: messagingConfig{enabled: d.Publisher != nil, topic: d.Topic},
		timeout:   d.Timeout,
	}
}

// Get loads an order for callers that need the full record.
func (s *Service) Get(ctx context.Context, id int64) (*entity.Order, error) {
	order, err := s.orders.GetByID(ctx, id)
	if errors.Is(err, orderrepo.ErrNotFound) {
		return nil, errorbank.NotFound("order not found")
	}
	if err != nil {
		return nil, errorbank.Internal("failed to load order", errorbank.WithCause(err))
	}
	return order, nil
}

// Ship reserves inventory for every line item, places the shipment with the
// selected carrier, and transitions the order to shipped. A failed carrier
// call releases every hold and leaves the order untouched; the error goes
// back to the caller, never into a silent retry.
func (s *Service) Ship(ctx context.Context, orderID int64, req ShipRequest, actorID int64) (*entity.Shipment, error) {
	ctx, span := serviceTracer.Start(ctx, "FulfillmentService.Ship", trace.WithAttributes(attribute.Int64("order.id", orderID)))
	defer span.End()

	order, err := s.Get(ctx, orderID)
	if err != nil {
		return nil, err
	}
	if order.SoftDeleted() {
		return nil, errorbank.Conflict("order is deleted")
	}
	if !order.Status.Shippable() {
		return nil, errorbank.Conflict(fmt.Sprintf("order cannot ship from status %s", order.Status))
	}
	if req.RecipientName == "" || req.RecipientPhone == "" || req.RecipientAddress == "" {
		return nil, errorbank.BadRequest("recipient name, phone, and address are required")
	}

	provider, err := s.registry.Resolve(req.ProviderID)
	if err != nil {
		return nil, mapRegistryErr(err)
	}

	s.checkRecipient(ctx, provider, order, req.RecipientPhone, actorID)

	reserved, err := s.reserveItems(ctx, order, actorID)
	if err != nil {
		return nil, err
	}

	result, err := s.createShipment(ctx, provider, order, req)
	if err != nil {
		s.releaseItems(ctx, reserved, "ship failed: "+errorbank.From(err).Message(), actorID)
		return nil, err
	}

	now := time.Now().UTC()
	shipment := &entity.Shipment{
		OrderID:           order.ID,
		ProviderID:        provider.ID(),
		TrackingID:        result.TrackingID,
		ProviderOrderID:   result.ProviderOrderID,
		CarrierStatus:     result.CarrierStatus,
		NormalizedStatus:  entity.StatusShipped,
		DeliveryCharge:    result.DeliveryCharge,
		EstimatedDelivery: result.EstimatedDelivery,
		LastUpdate:        now,
		CreatedAt:         now,
		UpdatedAt:         now,
	}
	if err := s.shipments.Create(ctx, shipment); err != nil {
		// The carrier-side shipment exists; keep the holds and surface the
		// failure for manual reconciliation instead of guessing.
		span.RecordError(err)
		span.SetStatus(codes.Error, "persist shipment failed")
		return nil, errorbank.Internal("shipment placed but not persisted; reconcile manually", errorbank.WithCause(err))
	}

	if err := s.markShipped(ctx, order, provider.ID(), result.TrackingID); err != nil {
		return nil, err
	}

	s.auditor.Record(ctx, "order", strconv.FormatInt(order.ID, 10), actorID, entity.AuditUpdate,
		map[string]any{"status": order.Status},
		map[string]any{"status": entity.StatusShipped, "provider": provider.ID(), "tracking_id": result.TrackingID},
	)
	s.publish(ctx, EventOrderShipped, order, entity.StatusShipped, provider.ID(), result.TrackingID)
	s.invalidateTrack(ctx, order.ID)

	return shipment, nil
}

// checkRecipient consults the carrier's recipient risk check when the
// adapter offers one. The score is advisory: it goes into the audit trail
// for the ops team but never blocks the shipment.
func (s *Service) checkRecipient(ctx context.Context, provider shipping.Provider, order *entity.Order, phone string, actorID int64) {
	checker, ok := provider.(shipping.FraudChecker)
	if !ok {
		return
	}

	callCtx, cancel := context.WithTimeout(ctx, s.timeout)
	defer cancel()

	score, err := checker.CheckFraud(callCtx, phone)
	if err != nil {
		s.logger.Warn("recipient risk check failed",
			zap.String("provider", provider.ID()),
			zap.Int64("order_id", order.ID),
			zap.Error(err),
		)
		return
	}

	s.logger.Info("recipient risk score",
		zap.String("provider", provider.ID()),
		zap.Int64("order_id", order.ID),
		zap.Int64("total_parcels", score.TotalParcels),
		zap.Float64("success_ratio", score.SuccessRatio),
	)
	s.auditor.Record(ctx, "order", strconv.FormatInt(order.ID, 10), actorID, entity.AuditCustom,
		nil,
		map[string]any{
			"risk_check":    provider.ID(),
			"total_parcels": score.TotalParcels,
			"delivered":     score.Delivered,
			"cancelled":     score.Cancelled,
			"success_ratio": score.SuccessRatio,
		},
	)
}

func (s *Service) reserveItems(ctx context.Context, order *entity.Order, actorID int64) ([]*entity.OrderItem, error) {
	reason := "order " + order.Number + " reservation"
	reserved := make([]*entity.OrderItem, 0, len(order.Items))
	for _, item := range order.Items {
		if err := s.ledger.Reserve(ctx, item.ProductID, item.Quantity, reason, actorID); err != nil {
			s.releaseItems(ctx, reserved, "reservation rollback for order "+order.Number, actorID)
			if errors.Is(err, invrepo.ErrInsufficientStock) {
				return nil, errorbank.Conflict(fmt.Sprintf("insufficient stock for product %d", item.ProductID))
			}
			if errors.Is(err, invrepo.ErrNotFound) {
				return nil, errorbank.NotFound(fmt.Sprintf("no inventory record for product %d", item.ProductID))
			}
			return nil, errorbank.Internal("failed to reserve inventory", errorbank.WithCause(err))
		}
		reserved = append(reserved, item)
	}
	return reserved, nil
}

// releaseItems rolls back holds; release floors at zero so releasing an
// item twice for the same failure is harmless.
func (s *Service) releaseItems(ctx context.Context, items []*entity.OrderItem, reason string, actorID int64) {
	for _, item := range items {
		if err := s.ledger.Release(ctx, item.ProductID, item.Quantity, reason, actorID); err != nil {
			s.logger.Error("release reservation failed",
				zap.Int64("product_id", item.ProductID),
				zap.Int64("quantity", item.Quantity),
				zap.Error(err),
			)
		}
	}
}

func (s *Service) createShipment(ctx context.Context, provider shipping.Provider, order *entity.Order, req ShipRequest) (*shipping.ShipmentResult, error) {
	var itemCount int64
	for _, item := range order.Items {
		itemCount += item.Quantity
	}

	cod := order.TotalAmount
	if order.PaymentStatus == entity.PaymentPaid {
		cod = 0
	}

	callCtx, cancel := context.WithTimeout(ctx, s.timeout)
	defer cancel()

	result, err := provider.CreateShipment(callCtx, shipping.ShipmentRequest{
		OrderNumber:      order.Number,
		RecipientName:    req.RecipientName,
		RecipientPhone:   req.RecipientPhone,
		RecipientAddress: req.RecipientAddress,
		RecipientCity:    req.RecipientCity,
		CODAmount:        cod,
		ItemCount:        itemCount,
		ItemSummary:      fmt.Sprintf("%d items", itemCount),
		Note:             req.Note,
		Pickup:           s.registry.Pickup(),
	})
	if err != nil {
		return nil, mapProviderErr(err)
	}
	if result.TrackingID == "" {
		return nil, errorbank.Unavailable("carrier returned no tracking id")
	}
	return result, nil
}

// markShipped applies the shipped transition, re-reading on a lost race.
func (s *Service) markShipped(ctx context.Context, order *entity.Order, providerID, trackingID string) error {
	from := order.Status
	for attempt := 0; attempt < maxTransitionAttempts; attempt++ {
		err := s.orders.MarkShipped(ctx, order.ID, from, providerID, trackingID)
		if err == nil {
			return nil
		}
		if !errors.Is(err, orderrepo.ErrConflict) {
			return errorbank.Internal("failed to mark order shipped", errorbank.WithCause(err))
		}

		current, loadErr := s.orders.GetByID(ctx, order.ID)
		if loadErr != nil {
			return errorbank.Internal("failed to re-read order after conflict", errorbank.WithCause(loadErr))
		}
		if !current.Status.Shippable() || current.SoftDeleted() {
			s.logger.Warn("order left shippable state during carrier call; shipment needs reconciliation",
				zap.Int64("order_id", order.ID),
				zap.String("status", string(current.Status)),
				zap.String("tracking_id", trackingID),
			)
			return errorbank.Conflict("order state changed during shipment; reconcile manually")
		}
		from = current.Status
	}
	return errorbank.Conflict("order state is changing concurrently; retry")
}

// Cancel stops fulfillment of an order. Carrier-side cancellation is
// best-effort: the business invariant is "stop fulfilling", not "guarantee
// the carrier cancelled", so a carrier failure is logged and the internal
// cancellation proceeds.
func (s *Service) Cancel(ctx context.Context, orderID int64, actorID int64) error {
	ctx, span := serviceTracer.Start(ctx, "FulfillmentService.Cancel", trace.WithAttributes(attribute.Int64("order.id", orderID)))
	defer span.End()

	order, err := s.Get(ctx, orderID)
	if err != nil {
		return err
	}
	if order.SoftDeleted() {
		return errorbank.Conflict("order is deleted")
	}
	if order.Status.Terminal() {
		return errorbank.Conflict(fmt.Sprintf("order cannot cancel from status %s", order.Status))
	}

	shipment, err := s.shipments.GetByOrderID(ctx, orderID)
	if err != nil && !errors.Is(err, shipmentrepo.ErrNotFound) {
		return errorbank.Internal("failed to load shipment", errorbank.WithCause(err))
	}
	if shipment != nil {
		s.cancelCarrierSide(ctx, shipment)
	}

	if order.Status == entity.StatusShipped {
		s.releaseItems(ctx, order.Items, "order "+order.Number+" cancelled", actorID)
	}

	if err := s.transition(ctx, order, entity.StatusCancelled); err != nil {
		return err
	}

	s.auditor.Record(ctx, "order", strconv.FormatInt(order.ID, 10), actorID, entity.AuditUpdate,
		map[string]any{"status": order.Status},
		map[string]any{"status": entity.StatusCancelled},
	)
	s.publish(ctx, EventOrderCancelled, order, entity.StatusCancelled, courierOf(shipment), trackingOf(shipment))
	s.invalidateTrack(ctx, order.ID)
	return nil
}

func (s *Service) cancelCarrierSide(ctx context.Context, shipment *entity.Shipment) {
	provider, err := s.registry.Resolve(shipment.ProviderID)
	if err != nil {
		s.logger.Warn("carrier cancel skipped; provider unavailable",
			zap.String("provider", shipment.ProviderID),
			zap.Error(err),
		)
		return
	}

	callCtx, cancel := context.WithTimeout(ctx, s.timeout)
	defer cancel()

	result, err := provider.CancelShipment(callCtx, shipment.TrackingID)
	if err != nil {
		s.logger.Warn("carrier cancel failed",
			zap.String("provider", shipment.ProviderID),
			zap.String("tracking_id", shipment.TrackingID),
			zap.Error(err),
		)
		return
	}
	if !result.Success {
		s.logger.Info("carrier declined cancellation",
			zap.String("provider", shipment.ProviderID),
			zap.String("tracking_id", shipment.TrackingID),
			zap.String("message", result.Message),
		)
	}
}

// SoftDelete hides the order and flags the owning user's account as a fraud
// signal; both writes share one transaction.
func (s *Service) SoftDelete(ctx context.Context, orderID int64, actorID int64) error {
	ctx, span := serviceTracer.Start(ctx, "FulfillmentService.SoftDelete", trace.WithAttributes(attribute.Int64("order.id", orderID)))
	defer span.End()

	order, err := s.Get(ctx, orderID)
	if err != nil {
		return err
	}
	if order.SoftDeleted() {
		return errorbank.Conflict("order is already deleted")
	}

	if err := s.orders.SoftDelete(ctx, orderID, order.UserID); err != nil {
		if errors.Is(err, orderrepo.ErrConflict) {
			return errorbank.Conflict("order is already deleted")
		}
		return errorbank.Internal("failed to delete order", errorbank.WithCause(err))
	}

	s.auditor.Record(ctx, "order", strconv.FormatInt(orderID, 10), actorID, entity.AuditDelete,
		map[string]any{"status": order.Status},
		map[string]any{"soft_delete": true},
	)
	if order.UserID != nil {
		s.auditor.Record(ctx, "user", strconv.FormatInt(*order.UserID, 10), actorID, entity.AuditCustom,
			nil,
			map[string]any{"flagged": true, "cause": "order_deleted", "order_id": orderID},
		)
	}
	s.publish(ctx, EventOrderDeleted, order, order.Status, "", "")
	s.invalidateTrack(ctx, orderID)
	return nil
}

// Restore clears the soft delete. The user flag stays; unflagging is an
// explicit separate action.
func (s *Service) Restore(ctx context.Context, orderID int64, actorID int64) error {
	ctx, span := serviceTracer.Start(ctx, "FulfillmentService.Restore", trace.WithAttributes(attribute.Int64("order.id", orderID)))
	defer span.End()

	order, err := s.Get(ctx, orderID)
	if err != nil {
		return err
	}
	if !order.SoftDeleted() {
		return errorbank.Conflict("order is not deleted")
	}

	if err := s.orders.Restore(ctx, orderID); err != nil {
		if errors.Is(err, orderrepo.ErrConflict) {
			return errorbank.Conflict("order is not deleted")
		}
		return errorbank.Internal("failed to restore order", errorbank.WithCause(err))
	}

	s.auditor.Record(ctx, "order", strconv.FormatInt(orderID, 10), actorID, entity.AuditUpdate,
		nil,
		map[string]any{"restored": true},
	)
	s.publish(ctx, EventOrderRestored, order, order.Status, "", "")
	return nil
}

// MarkFake classifies the order. Marking true flags the owning user in the
// same transaction. Inventory already reserved at ship time stays reserved;
// fake-marking is after-the-fact classification, not a stock reversal.
func (s *Service) MarkFake(ctx context.Context, orderID int64, value bool, actorID int64) error {
	ctx, span := serviceTracer.Start(ctx, "FulfillmentService.MarkFake", trace.WithAttributes(attribute.Int64("order.id", orderID)))
	defer span.End()

	order, err := s.Get(ctx, orderID)
	if err != nil {
		return err
	}

	if err := s.orders.SetFake(ctx, orderID, value, order.UserID); err != nil {
		if errors.Is(err, orderrepo.ErrNotFound) {
			return errorbank.NotFound("order not found")
		}
		return errorbank.Internal("failed to mark order", errorbank.WithCause(err))
	}

	s.auditor.Record(ctx, "order", strconv.FormatInt(orderID, 10), actorID, entity.AuditUpdate,
		map[string]any{"fake": order.Fake},
		map[string]any{"fake": value},
	)
	if value && order.UserID != nil {
		s.auditor.Record(ctx, "user", strconv.FormatInt(*order.UserID, 10), actorID, entity.AuditCustom,
			nil,
			map[string]any{"flagged": true, "cause": "order_fake", "order_id": orderID},
		)
	}
	s.publish(ctx, EventOrderFakeMarked, order, order.Status, "", "")
	return nil
}

// ApplyCarrierStatus moves an order to the status a carrier event mapped to,
// through the same state machine manual actions use. Illegal transitions
// (stale or backward-mapping events) are conflicts the caller may treat as
// no-ops.
func (s *Service) ApplyCarrierStatus(ctx context.Context, order *entity.Order, target entity.Status, via string, actorID int64) error {
	ctx, span := serviceTracer.Start(ctx, "FulfillmentService.ApplyCarrierStatus", trace.WithAttributes(attribute.Int64("order.id", order.ID)))
	defer span.End()

	if order.Status == target {
		return nil
	}
	if !entity.CanTransition(order.Status, target) {
		return errorbank.Conflict(fmt.Sprintf("no transition from %s to %s", order.Status, target))
	}

	if target == entity.StatusCancelled && order.Status == entity.StatusShipped {
		s.releaseItems(ctx, order.Items, "order "+order.Number+" cancelled by carrier", actorID)
	}

	if err := s.transition(ctx, order, target); err != nil {
		return err
	}

	if target == entity.StatusDelivered {
		s.settleDelivery(ctx, order, actorID)
	}

	s.auditor.Record(ctx, "order", strconv.FormatInt(order.ID, 10), actorID, entity.AuditUpdate,
		map[string]any{"status": order.Status},
		map[string]any{"status": target, "via": via},
	)
	s.publish(ctx, EventStatusChanged, order, target, order.CourierName, order.TrackingID)
	s.invalidateTrack(ctx, order.ID)
	return nil
}

// settleDelivery converts the reservation into a real stock decrement once
// the carrier confirms delivery. Fake orders release their hold but never
// touch real stock.
func (s *Service) settleDelivery(ctx context.Context, order *entity.Order, actorID int64) {
	reason := "order " + order.Number + " delivered"
	for _, item := range order.Items {
		if err := s.ledger.Release(ctx, item.ProductID, item.Quantity, reason, actorID); err != nil {
			s.logger.Error("release on delivery failed",
				zap.Int64("product_id", item.ProductID),
				zap.Error(err),
			)
			continue
		}
		if order.Fake {
			continue
		}
		if _, err := s.ledger.Adjust(ctx, invsvc.AdjustItem{
			ProductID: item.ProductID,
			Quantity:  item.Quantity,
			Operation: entity.StockOpDecrement,
			Reason:    reason,
		}, actorID); err != nil {
			s.logger.Error("stock decrement on delivery failed",
				zap.Int64("product_id", item.ProductID),
				zap.Error(err),
			)
		}
	}
}

// transition applies order.Status -> target with bounded conflict retry.
func (s *Service) transition(ctx context.Context, order *entity.Order, target entity.Status) error {
	from := order.Status
	for attempt := 0; attempt < maxTransitionAttempts; attempt++ {
		err := s.orders.UpdateStatus(ctx, order.ID, from, target)
		if err == nil {
			return nil
		}
		if !errors.Is(err, orderrepo.ErrConflict) {
			return errorbank.Internal("failed to update order status", errorbank.WithCause(err))
		}

		current, loadErr := s.orders.GetByID(ctx, order.ID)
		if loadErr != nil {
			return errorbank.Internal("failed to re-read order after conflict", errorbank.WithCause(loadErr))
		}
		if current.Status == target {
			return nil
		}
		if !entity.CanTransition(current.Status, target) || current.SoftDeleted() {
			return errorbank.Conflict(fmt.Sprintf("no transition from %s to %s", current.Status, target))
		}
		from = current.Status
	}
	return errorbank.Conflict("order state is changing concurrently; retry")
}

// Track returns the normalized tracking view, served from cache when warm.
func (s *Service) Track(ctx context.Context, orderID int64) (*TrackView, error) {
	ctx, span := serviceTracer.Start(ctx, "FulfillmentService.Track", trace.WithAttributes(attribute.Int64("order.id", orderID)))
	defer span.End()

	if view, err := s.trackFromCache(ctx, orderID); err == nil {
		return view, nil
	} else if !errors.Is(err, cache.ErrCacheMiss) {
		s.logger.Warn("tracking cache read failed", zap.Int64("order_id", orderID), zap.Error(err))
	}

	order, err := s.Get(ctx, orderID)
	if err != nil {
		return nil, err
	}

	view := &TrackView{
		OrderID:     order.ID,
		Number:      order.Number,
		Status:      order.Status,
		CourierName: order.CourierName,
		TrackingID:  order.TrackingID,
	}

	shipment, err := s.shipments.GetByOrderID(ctx, orderID)
	if err != nil && !errors.Is(err, shipmentrepo.ErrNotFound) {
		return nil, errorbank.Internal("failed to load shipment", errorbank.WithCause(err))
	}
	if shipment != nil {
		view.CarrierStatus = shipment.CarrierStatus
		view.LastMessage = shipment.LastMessage
		view.EstimatedDelivery = shipment.EstimatedDelivery
		view.DeliveryCharge = shipment.DeliveryCharge
		lastUpdate := shipment.LastUpdate
		view.LastUpdate = &lastUpdate
	}

	if err := s.storeTrack(ctx, view); err != nil {
		s.logger.Warn("tracking cache write failed", zap.Int64("order_id", orderID), zap.Error(err))
	}
	return view, nil
}

// Sync pulls the current status from the carrier and applies it through the
// same guarded path webhook events use.
func (s *Service) Sync(ctx context.Context, orderID int64, actorID int64) (*TrackView, error) {
	ctx, span := serviceTracer.Start(ctx, "FulfillmentService.Sync", trace.WithAttributes(attribute.Int64("order.id", orderID)))
	defer span.End()

	order, err := s.Get(ctx, orderID)
	if err != nil {
		return nil, err
	}
	shipment, err := s.shipments.GetByOrderID(ctx, orderID)
	if errors.Is(err, shipmentrepo.ErrNotFound) {
		return nil, errorbank.Conflict("order has no shipment to sync")
	}
	if err != nil {
		return nil, errorbank.Internal("failed to load shipment", errorbank.WithCause(err))
	}

	provider, err := s.registry.Resolve(shipment.ProviderID)
	if err != nil {
		return nil, mapRegistryErr(err)
	}

	callCtx, cancel := context.WithTimeout(ctx, s.timeout)
	defer cancel()

	status, err := provider.GetStatus(callCtx, shipment.TrackingID)
	if err != nil {
		return nil, mapProviderErr(err)
	}

	// The transition runs unconditionally: carriers echo the same updated_at
	// on repeat polls, so gating on the shipment record's ordering guard
	// would make a sync after a lost transition a permanent no-op. The state
	// machine already drops same-status and backward applications.
	if err := s.ApplyCarrierStatus(ctx, order, status.NormalizedStatus, "manual_sync", actorID); err != nil {
		// A conflict means the mapped status has no legal transition from
		// the current order state; the record still takes the message below.
		if errorbank.From(err).Kind() != errorbank.KindConflict {
			return nil, err
		}
	}

	if _, err := s.shipments.ApplyEvent(ctx, shipment.ID, status.CarrierStatus, status.NormalizedStatus, status.Message, 0, status.UpdatedAt); err != nil {
		return nil, errorbank.Internal("failed to record carrier status", errorbank.WithCause(err))
	}

	s.invalidateTrack(ctx, orderID)
	return s.Track(ctx, orderID)
}

func (s *Service) publish(ctx context.Context, eventType string, order *entity.Order, status entity.Status, provider, trackingID string) {
	if !s.messaging.enabled || s.publisher == nil {
		return
	}
	event := OrderEvent{
		Type:       eventType,
		OrderID:    order.ID,
		Number:     order.Number,
		Status:     status,
		Provider:   provider,
		TrackingID: trackingID,
		OccurredAt: time.Now().UTC(),
	}
	payload, err := json.Marshal(event)
	if err != nil {
		s.logger.Error("marshal fulfillment event", zap.Error(err))
		return
	}
	if err := s.publisher.Publish(ctx, []byte(fmt.Sprintf("order-%d", order.ID)), payload); err != nil {
		s.logger.Error("publish fulfillment event", zap.String("type", eventType), zap.Error(err))
	}
}

func (s *Service) trackCacheKey(orderID int64) string {
	return fmt.Sprintf("track:%d", orderID)
}

func (s *Service) trackFromCache(ctx context.Context, orderID int64) (*TrackView, error) {
	if s.cache == nil {
		return nil, cache.ErrCacheMiss
	}
	raw, err := s.cache.Get(ctx, s.trackCacheKey(orderID))
	if err != nil {
		return nil, err
	}
	var view TrackView
	if err := json.Unmarshal(raw, &view); err != nil {
		return nil, err
	}
	return &view, nil
}

func (s *Service) storeTrack(ctx context.Context, view *TrackView) error {
	if s.cache == nil || view == nil {
		return nil
	}
	raw, err := json.Marshal(view)
	if err != nil {
		return err
	}
	return s.cache.Set(ctx, s.trackCacheKey(view.OrderID), raw, s.cacheTTL)
}

func (s *Service) invalidateTrack(ctx context.Context, orderID int64) {
	if s.cache == nil {
		return
	}
	if err := s.cache.Delete(ctx, s.trackCacheKey(orderID)); err != nil {
		s.logger.Warn("tracking cache invalidation failed", zap.Int64("order_id", orderID), zap.Error(err))
	}
}

func mapProviderErr(err error) error {
	switch {
	case errors.Is(err, shipping.ErrUnavailable):
		return errorbank.Unavailable("shipping provider unavailable", errorbank.WithCause(err))
	case errors.Is(err, shipping.ErrRejected):
		return errorbank.Unprocessable("shipping provider rejected the request", errorbank.WithCause(err))
	default:
		return errorbank.Internal("shipping provider call failed", errorbank.WithCause(err))
	}
}

func mapRegistryErr(err error) error {
	switch {
	case errors.Is(err, shipping.ErrUnknownProvider):
		return errorbank.NotFound("unknown shipping provider", errorbank.WithCause(err))
	case errors.Is(err, shipping.ErrProviderInactive):
		return errorbank.Conflict("shipping provider is inactive", errorbank.WithCause(err))
	default:
		return errorbank.Internal("provider resolution failed", errorbank.WithCause(err))
	}
}

func courierOf(s *entity.Shipment) string {
	if s == nil {
		return ""
	}
	return s.ProviderID
}

func trackingOf(s *entity.Shipment) string {
	if s == nil {
		return ""
	}
	return s.TrackingID
}
