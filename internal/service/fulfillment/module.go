package fulfillment

import "go.uber.org/fx"

// Module provides the fulfillment service to Fx.
var Module = fx.Provide(NewService)
