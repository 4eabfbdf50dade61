package inventory

import (
	"go.uber.org/fx"

	"github.com/labstack/echo/v4"

	"github.com/Additional-Code/caravel/internal/auth"
)

// Module wires HTTP inventory handlers.
var Module = fx.Options(
	fx.Provide(NewHandler),
	fx.Invoke(func(e *echo.Echo, h *Handler, verifier *auth.Verifier) {
		Register(e, h, verifier)
	}),
)
