package fulfillment

import (
	"context"
	"encoding/json"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/fx"
	"go.uber.org/zap"

	"github.com/Additional-Code/caravel/internal/config"
	"github.com/Additional-Code/caravel/internal/messaging"
	fulfillmentsvc "github.com/Additional-Code/caravel/internal/service/fulfillment"
	"github.com/Additional-Code/caravel/internal/worker"
)

var workerTracer = otel.Tracer("github.com/Additional-Code/caravel/worker/fulfillment")

var eventsConsumed = promauto.NewCounterVec(prometheus.CounterOpts{
	Name: "caravel_fulfillment_events_total",
	Help: "Fulfillment events consumed from the stream, by type.",
}, []string{"type"})

// Module registers fulfillment worker handlers.
var Module = fx.Module("worker_fulfillment",
	fx.Provide(
		fx.Annotate(
			NewEventHandler,
			fx.ResultTags(`group:"worker.handlers"`),
		),
	),
)

// NewEventHandler sets up a worker handler that records fulfillment events
// from the stream.
func NewEventHandler(logger *zap.Logger, cfg config.Config) worker.HandlerRegistration {
	handler := func(ctx context.Context, msg messaging.Message) error {
		ctx, span := workerTracer.Start(ctx, "worker.fulfillment.process", trace.WithAttributes(
			attribute.String("messaging.topic", msg.Topic),
		))
		defer span.End()

		var event fulfillmentsvc.OrderEvent
		if err := json.Unmarshal(msg.Value, &event); err != nil {
			logger.Error("failed to decode fulfillment event", zap.Error(err))

			span.RecordError(err)
			span.SetStatus(codes.Error, "decode error")
			return err
		}

		eventsConsumed.WithLabelValues(event.Type).Inc()
		logger.Info("fulfillment event processed",
			zap.String("type", event.Type),
			zap.Int64("order_id", event.OrderID),
			zap.String("number", event.Number),
			zap.String("status", string(event.Status)),
			zap.String("provider", event.Provider),
			zap.String("tracking_id", event.TrackingID),
		)

		return nil
	}

	return worker.HandlerRegistration{
		Topic:   cfg.Messaging.Kafka.Topic,
		Handler: handler,
	}
}
