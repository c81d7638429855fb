package jobs

import (
	"context"

	"go.uber.org/zap"

	"github.com/eventops/fulfillment/internal/services"
)

// LogOrderEventPublisher writes order events to the application log. It is the default driver
// for local development.
type LogOrderEventPublisher struct {
	logger *zap.Logger
}

var _ services.OrderEventPublisher = (*LogOrderEventPublisher)(nil)

func NewLogOrderEventPublisher(logger *zap.Logger) *LogOrderEventPublisher {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &LogOrderEventPublisher{logger: logger.Named("events")}
}

func (p *LogOrderEventPublisher) PublishOrderEvent(_ context.Context, event services.OrderEvent) error {
	p.logger.Info("order event",
		zap.String("type", event.Type),
		zap.String("orderId", event.OrderID),
		zap.String("orderNumber", event.OrderNumber),
		zap.String("previousStatus", event.PreviousStatus),
		zap.String("currentStatus", event.CurrentStatus),
		zap.String("actorId", event.ActorID),
		zap.Time("occurredAt", event.OccurredAt),
		zap.Any("metadata", event.Metadata),
	)
	return nil
}
