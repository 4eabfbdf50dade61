package app

import (
	"go.uber.org/fx"

	"github.com/Additional-Code/caravel/internal/audit"
	"github.com/Additional-Code/caravel/internal/auth"
	"github.com/Additional-Code/caravel/internal/cache"
	"github.com/Additional-Code/caravel/internal/config"
	"github.com/Additional-Code/caravel/internal/database"
	"github.com/Additional-Code/caravel/internal/logger"
	"github.com/Additional-Code/caravel/internal/messaging"
	"github.com/Additional-Code/caravel/internal/observability"
	repositoryaudit "github.com/Additional-Code/caravel/internal/repository/audit"
	repositoryinventory "github.com/Additional-Code/caravel/internal/repository/inventory"
	repositoryorder "github.com/Additional-Code/caravel/internal/repository/order"
	repositoryshipment "github.com/Additional-Code/caravel/internal/repository/shipment"
	grpcserver "github.com/Additional-Code/caravel/internal/server/grpc"
	httpserver "github.com/Additional-Code/caravel/internal/server/http"
	servicefulfillment "github.com/Additional-Code/caravel/internal/service/fulfillment"
	serviceinventory "github.com/Additional-Code/caravel/internal/service/inventory"
	servicewebhook "github.com/Additional-Code/caravel/internal/service/webhook"
	"github.com/Additional-Code/caravel/internal/shipping"
	"github.com/Additional-Code/caravel/internal/shipping/pathao"
	"github.com/Additional-Code/caravel/internal/shipping/steadfast"
	transporthttp "github.com/Additional-Code/caravel/internal/transport/http"
	"github.com/Additional-Code/caravel/internal/worker"
	workerfulfillment "github.com/Additional-Code/caravel/internal/worker/fulfillment"
)

// Core provides the foundational modules shared across executables.
var Core = fx.Options(
	config.Module,
	cache.Module,
	database.Module,
	logger.Module,
	messaging.Module,
	observability.Module,
	auth.Module,
	repositoryorder.Module,
	repositoryinventory.Module,
	repositoryshipment.Module,
	repositoryaudit.Module,
	audit.Module,
	steadfast.Module,
	pathao.Module,
	shipping.Module,
	serviceinventory.Module,
	servicefulfillment.Module,
	servicewebhook.Module,
)

// HTTP wires the HTTP transport on top of the core modules.
var HTTP = fx.Options(
	Core,
	httpserver.Module,
	grpcserver.Module,
	transporthttp.Module,
)

// Worker exposes background worker processing.
var Worker = fx.Options(
	Core,
	worker.Module,
	workerfulfillment.Module,
)

// Module is the default application wiring (HTTP only).
var Module = HTTP
