package http

import (
	"go.uber.org/fx"

	inventorytransport "github.com/Additional-Code/caravel/internal/transport/http/inventory"
	ordertransport "github.com/Additional-Code/caravel/internal/transport/http/order"
	webhooktransport "github.com/Additional-Code/caravel/internal/transport/http/webhook"
)

// Module aggregates all HTTP transport handlers.
var Module = fx.Options(
	ordertransport.Module,
	inventorytransport.Module,
	webhooktransport.Module,
)
