package steadfast

import (
	"go.uber.org/fx"
	"go.uber.org/zap"

	"github.com/Additional-Code/caravel/internal/config"
	"github.com/Additional-Code/caravel/internal/shipping"
)

// Module registers the steadfast adapter with the provider registry.
var Module = fx.Module("shipping_steadfast",
	fx.Provide(
		fx.Annotate(
			NewRegistration,
			fx.ResultTags(`group:"shipping.providers"`),
		),
	),
)

// NewRegistration builds the registry entry from configuration.
func NewRegistration(cfg config.Config, logger *zap.Logger) shipping.Registration {
	carrier := cfg.Shipping.Steadfast
	return shipping.Registration{
		Provider:      New(carrier.BaseURL, carrier.APIKey, carrier.SecretKey, cfg.Shipping.RequestTimeout, logger),
		Enabled:       carrier.Enabled,
		WebhookSecret: carrier.WebhookSecret,
	}
}
