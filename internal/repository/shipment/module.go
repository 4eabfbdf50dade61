package shipment

import "go.uber.org/fx"

// Module provides the shipment repository to Fx.
var Module = fx.Provide(NewRepository)
