package webhook

import (
	"io"

	"github.com/labstack/echo/v4"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	"github.com/Additional-Code/caravel/internal/presentation/http/response"
	service "github.com/Additional-Code/caravel/internal/service/webhook"
	"github.com/Additional-Code/caravel/pkg/errorbank"
)

var httpTracer = otel.Tracer("github.com/Additional-Code/caravel/transport/http/webhook")

// signatureHeaders are checked in order; carriers are inconsistent about
// which one they send.
var signatureHeaders = []string{"X-Signature", "X-Webhook-Signature"}

// Handler receives carrier webhook deliveries. The route is deliberately
// unauthenticated at the transport level; the reconciler authenticates each
// delivery by its HMAC signature over the raw body.
type Handler struct {
	reconciler *service.Reconciler
}

// NewHandler constructs a webhook Handler.
func NewHandler(reconciler *service.Reconciler) *Handler {
	return &Handler{reconciler: reconciler}
}

// Register routes with the provided Echo instance.
func Register(e *echo.Echo, h *Handler) {
	e.POST("/webhooks/:provider", h.receive)
}

func (h *Handler) receive(c echo.Context) error {
	b := response.New(c)
	providerID := c.Param("provider")

	ctx, span := httpTracer.Start(c.Request().Context(), "webhooks.receive", trace.WithAttributes(attribute.String("provider", providerID)))
	defer span.End()

	payload, err := io.ReadAll(c.Request().Body)
	if err != nil {
		return b.WithError(errorbank.BadRequest("unreadable body", errorbank.WithCause(err))).Build()
	}

	var signature string
	for _, header := range signatureHeaders {
		if signature = c.Request().Header.Get(header); signature != "" {
			break
		}
	}

	if err := h.reconciler.Process(ctx, providerID, payload, signature); err != nil {
		return b.WithError(err).Build()
	}

	return b.WithData(map[string]string{"status": "ok"}).Build()
}
