package order

import (
	"net/http"
	"strconv"

	"github.com/labstack/echo/v4"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	"github.com/Additional-Code/caravel/internal/auth"
	"github.com/Additional-Code/caravel/internal/dto"
	"github.com/Additional-Code/caravel/internal/entity"
	"github.com/Additional-Code/caravel/internal/presentation/http/response"
	service "github.com/Additional-Code/caravel/internal/service/fulfillment"
	"github.com/Additional-Code/caravel/internal/transport/http/middleware"
	"github.com/Additional-Code/caravel/pkg/errorbank"
)

var httpTracer = otel.Tracer("github.com/Additional-Code/caravel/transport/http/order")

// Handler exposes order fulfillment endpoints over HTTP.
type Handler struct {
	svc *service.Service
}

// NewHandler constructs an order Handler.
func NewHandler(svc *service.Service) *Handler {
	return &Handler{svc: svc}
}

// Register routes with the provided Echo instance. Tracking is open to the
// order's owner; everything else requires an elevated role.
func Register(e *echo.Echo, h *Handler, verifier *auth.Verifier) {
	g := e.Group("/orders", middleware.Authenticate(verifier))
	g.GET("/:id/track", h.track)

	staff := g.Group("", middleware.RequireElevated())
	staff.GET("/:id", h.getByID)
	staff.POST("/:id/ship", h.ship)
	staff.POST("/:id/cancel", h.cancel)
	staff.POST("/:id/sync", h.sync)
	staff.PATCH("/:id", h.patch)
	staff.DELETE("/:id", h.remove)
}

func (h *Handler) getByID(c echo.Context) error {
	b := response.New(c)

	id, err := orderID(c)
	if err != nil {
		return b.WithError(err).Build()
	}

	ctx, span := httpTracer.Start(c.Request().Context(), "orders.getByID", trace.WithAttributes(attribute.Int64("order.id", id)))
	defer span.End()

	order, err := h.svc.Get(ctx, id)
	if err != nil {
		return b.WithError(err).Build()
	}

	return b.WithData(toDTO(order)).Build()
}

func (h *Handler) ship(c echo.Context) error {
	b := response.New(c)

	id, err := orderID(c)
	if err != nil {
		return b.WithError(err).Build()
	}

	var payload struct {
		ProviderID       string `json:"provider_id"`
		RecipientName    string `json:"recipient_name"`
		RecipientPhone   string `json:"recipient_phone"`
		RecipientAddress string `json:"recipient_address"`
		RecipientCity    string `json:"recipient_city"`
		Note             string `json:"note"`
	}
	if err := c.Bind(&payload); err != nil {
		return b.WithError(errorbank.BadRequest("invalid payload", errorbank.WithCause(err))).Build()
	}

	ctx, span := httpTracer.Start(c.Request().Context(), "orders.ship", trace.WithAttributes(
		attribute.Int64("order.id", id),
		attribute.String("provider", payload.ProviderID),
	))
	defer span.End()

	shipment, err := h.svc.Ship(ctx, id, service.ShipRequest{
		ProviderID:       payload.ProviderID,
		RecipientName:    payload.RecipientName,
		RecipientPhone:   payload.RecipientPhone,
		RecipientAddress: payload.RecipientAddress,
		RecipientCity:    payload.RecipientCity,
		Note:             payload.Note,
	}, actorID(c))
	if err != nil {
		return b.WithError(err).Build()
	}

	return b.WithStatus(http.StatusCreated).WithData(toShipmentDTO(shipment)).Build()
}

func (h *Handler) cancel(c echo.Context) error {
	b := response.New(c)

	id, err := orderID(c)
	if err != nil {
		return b.WithError(err).Build()
	}

	ctx, span := httpTracer.Start(c.Request().Context(), "orders.cancel", trace.WithAttributes(attribute.Int64("order.id", id)))
	defer span.End()

	if err := h.svc.Cancel(ctx, id, actorID(c)); err != nil {
		return b.WithError(err).Build()
	}

	order, err := h.svc.Get(ctx, id)
	if err != nil {
		return b.WithError(err).Build()
	}
	return b.WithData(toDTO(order)).Build()
}

func (h *Handler) sync(c echo.Context) error {
	b := response.New(c)

	id, err := orderID(c)
	if err != nil {
		return b.WithError(err).Build()
	}

	ctx, span := httpTracer.Start(c.Request().Context(), "orders.sync", trace.WithAttributes(attribute.Int64("order.id", id)))
	defer span.End()

	view, err := h.svc.Sync(ctx, id, actorID(c))
	if err != nil {
		return b.WithError(err).Build()
	}
	return b.WithData(view).Build()
}

func (h *Handler) patch(c echo.Context) error {
	b := response.New(c)

	id, err := orderID(c)
	if err != nil {
		return b.WithError(err).Build()
	}

	var payload struct {
		Restore bool  `json:"restore"`
		Fake    *bool `json:"fake"`
	}
	if err := c.Bind(&payload); err != nil {
		return b.WithError(errorbank.BadRequest("invalid payload", errorbank.WithCause(err))).Build()
	}
	if !payload.Restore && payload.Fake == nil {
		return b.WithError(errorbank.BadRequest("nothing to update")).Build()
	}

	ctx, span := httpTracer.Start(c.Request().Context(), "orders.patch", trace.WithAttributes(attribute.Int64("order.id", id)))
	defer span.End()

	if payload.Restore {
		if err := h.svc.Restore(ctx, id, actorID(c)); err != nil {
			return b.WithError(err).Build()
		}
	}
	if payload.Fake != nil {
		if err := h.svc.MarkFake(ctx, id, *payload.Fake, actorID(c)); err != nil {
			return b.WithError(err).Build()
		}
	}

	order, err := h.svc.Get(ctx, id)
	if err != nil {
		return b.WithError(err).Build()
	}
	return b.WithData(toDTO(order)).Build()
}

func (h *Handler) remove(c echo.Context) error {
	b := response.New(c)

	id, err := orderID(c)
	if err != nil {
		return b.WithError(err).Build()
	}

	ctx, span := httpTracer.Start(c.Request().Context(), "orders.remove", trace.WithAttributes(attribute.Int64("order.id", id)))
	defer span.End()

	if err := h.svc.SoftDelete(ctx, id, actorID(c)); err != nil {
		return b.WithError(err).Build()
	}
	return b.WithStatus(http.StatusNoContent).Build()
}

func (h *Handler) track(c echo.Context) error {
	b := response.New(c)

	id, err := orderID(c)
	if err != nil {
		return b.WithError(err).Build()
	}

	ctx, span := httpTracer.Start(c.Request().Context(), "orders.track", trace.WithAttributes(attribute.Int64("order.id", id)))
	defer span.End()

	principal, ok := middleware.PrincipalFrom(c)
	if !ok {
		return b.WithError(errorbank.Unauthorized("missing credentials")).Build()
	}
	if !principal.Elevated() {
		order, err := h.svc.Get(ctx, id)
		if err != nil {
			return b.WithError(err).Build()
		}
		// Customers see only their own orders; answer not-found rather than
		// confirming the order exists.
		if order.UserID == nil || *order.UserID != principal.ActorID {
			return b.WithError(errorbank.NotFound("order not found")).Build()
		}
	}

	view, err := h.svc.Track(ctx, id)
	if err != nil {
		return b.WithError(err).Build()
	}
	return b.WithData(view).Build()
}

func orderID(c echo.Context) (int64, error) {
	id, err := strconv.ParseInt(c.Param("id"), 10, 64)
	if err != nil {
		return 0, errorbank.BadRequest("invalid id", errorbank.WithCause(err))
	}
	return id, nil
}

func actorID(c echo.Context) int64 {
	if principal, ok := middleware.PrincipalFrom(c); ok {
		return principal.ActorID
	}
	return 0
}

func toDTO(order *entity.Order) dto.OrderResponse {
	items := make([]dto.OrderItemResponse, 0, len(order.Items))
	for _, item := range order.Items {
		items = append(items, dto.OrderItemResponse{
			ID:        item.ID,
			ProductID: item.ProductID,
			Quantity:  item.Quantity,
			UnitPrice: item.UnitPrice,
		})
	}
	return dto.OrderResponse{
		ID:            order.ID,
		Number:        order.Number,
		Status:        order.Status,
		PaymentStatus: order.PaymentStatus,
		CustomerID:    order.CustomerID,
		CourierName:   order.CourierName,
		TrackingID:    order.TrackingID,
		TotalAmount:   order.TotalAmount,
		Fake:          order.Fake,
		Deleted:       order.SoftDeleted(),
		Items:         items,
		CreatedAt:     order.CreatedAt,
		UpdatedAt:     order.UpdatedAt,
	}
}

func toShipmentDTO(s *entity.Shipment) dto.ShipmentResponse {
	return dto.ShipmentResponse{
		ID:                s.ID,
		OrderID:           s.OrderID,
		ProviderID:        s.ProviderID,
		TrackingID:        s.TrackingID,
		ProviderOrderID:   s.ProviderOrderID,
		CarrierStatus:     s.CarrierStatus,
		NormalizedStatus:  s.NormalizedStatus,
		DeliveryCharge:    s.DeliveryCharge,
		EstimatedDelivery: s.EstimatedDelivery,
		LastUpdate:        s.LastUpdate,
		CreatedAt:         s.CreatedAt,
	}
}
