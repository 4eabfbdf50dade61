package inventory

import (
	"strconv"

	"github.com/labstack/echo/v4"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	"github.com/Additional-Code/caravel/internal/auth"
	"github.com/Additional-Code/caravel/internal/dto"
	"github.com/Additional-Code/caravel/internal/entity"
	"github.com/Additional-Code/caravel/internal/presentation/http/response"
	service "github.com/Additional-Code/caravel/internal/service/inventory"
	"github.com/Additional-Code/caravel/internal/transport/http/middleware"
	"github.com/Additional-Code/caravel/pkg/errorbank"
)

var httpTracer = otel.Tracer("github.com/Additional-Code/caravel/transport/http/inventory")

// Handler exposes inventory endpoints over HTTP. All routes are staff-only.
type Handler struct {
	svc *service.Service
}

// NewHandler constructs an inventory Handler.
func NewHandler(svc *service.Service) *Handler {
	return &Handler{svc: svc}
}

// Register routes with the provided Echo instance.
func Register(e *echo.Echo, h *Handler, verifier *auth.Verifier) {
	g := e.Group("/inventory", middleware.Authenticate(verifier), middleware.RequireElevated())
	g.GET("/:productId", h.get)
	g.POST("/adjust", h.adjust)
	g.POST("/bulk-adjust", h.bulkAdjust)
}

type adjustPayload struct {
	ProductID int64  `json:"product_id"`
	Quantity  int64  `json:"quantity"`
	Operation string `json:"operation"`
	Reason    string `json:"reason"`
}

func (p adjustPayload) toItem() service.AdjustItem {
	return service.AdjustItem{
		ProductID: p.ProductID,
		Quantity:  p.Quantity,
		Operation: entity.StockOperation(p.Operation),
		Reason:    p.Reason,
	}
}

func (h *Handler) get(c echo.Context) error {
	b := response.New(c)

	productID, err := strconv.ParseInt(c.Param("productId"), 10, 64)
	if err != nil {
		return b.WithError(errorbank.BadRequest("invalid product id", errorbank.WithCause(err))).Build()
	}

	ctx, span := httpTracer.Start(c.Request().Context(), "inventory.get", trace.WithAttributes(attribute.Int64("product.id", productID)))
	defer span.End()

	record, err := h.svc.Get(ctx, productID)
	if err != nil {
		return b.WithError(err).Build()
	}
	return b.WithData(toDTO(record)).Build()
}

func (h *Handler) adjust(c echo.Context) error {
	b := response.New(c)

	var payload adjustPayload
	if err := c.Bind(&payload); err != nil {
		return b.WithError(errorbank.BadRequest("invalid payload", errorbank.WithCause(err))).Build()
	}

	ctx, span := httpTracer.Start(c.Request().Context(), "inventory.adjust", trace.WithAttributes(
		attribute.Int64("product.id", payload.ProductID),
		attribute.String("operation", payload.Operation),
	))
	defer span.End()

	result, err := h.svc.Adjust(ctx, payload.toItem(), actorID(c))
	if err != nil {
		return b.WithError(err).Build()
	}

	return b.WithData(dto.AdjustOutcomeResponse{
		ProductID:     result.ProductID,
		Success:       true,
		PreviousStock: result.PreviousStock,
		NewStock:      result.NewStock,
	}).Build()
}

func (h *Handler) bulkAdjust(c echo.Context) error {
	b := response.New(c)

	var payload struct {
		Items []adjustPayload `json:"items"`
	}
	if err := c.Bind(&payload); err != nil {
		return b.WithError(errorbank.BadRequest("invalid payload", errorbank.WithCause(err))).Build()
	}
	if len(payload.Items) == 0 {
		return b.WithError(errorbank.BadRequest("items are required")).Build()
	}

	ctx, span := httpTracer.Start(c.Request().Context(), "inventory.bulkAdjust", trace.WithAttributes(attribute.Int("items", len(payload.Items))))
	defer span.End()

	items := make([]service.AdjustItem, 0, len(payload.Items))
	for _, p := range payload.Items {
		items = append(items, p.toItem())
	}

	outcomes := h.svc.BulkAdjust(ctx, items, actorID(c))

	results := make([]dto.AdjustOutcomeResponse, 0, len(outcomes))
	for _, o := range outcomes {
		results = append(results, dto.AdjustOutcomeResponse{
			ProductID:     o.ProductID,
			Success:       o.Success,
			Error:         o.ErrorKind,
			Message:       o.Message,
			PreviousStock: o.PreviousStock,
			NewStock:      o.NewStock,
		})
	}
	return b.WithData(results).Build()
}

func actorID(c echo.Context) int64 {
	if principal, ok := middleware.PrincipalFrom(c); ok {
		return principal.ActorID
	}
	return 0
}

func toDTO(r *entity.InventoryRecord) dto.InventoryResponse {
	return dto.InventoryResponse{
		ProductID: r.ProductID,
		Stock:     r.Stock,
		Reserved:  r.Reserved,
		Available: r.Available(),
		Version:   r.Version,
		UpdatedAt: r.UpdatedAt,
	}
}
