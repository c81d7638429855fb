package services

import (
	"context"
	"errors"
	"time"
)

const orderEventTransitioned = "order.transition.occurred"

// OrderEventPublisher publishes order domain events for downstream consumers such as quote
// delivery and client notifications.
type OrderEventPublisher interface {
	PublishOrderEvent(ctx context.Context, event OrderEvent) error
}

// OrderEvent captures metadata for emitted order domain events.
type OrderEvent struct {
	Type           string
	OrderID        string
	OrderNumber    string
	CompanyID      string
	PreviousStatus string
	CurrentStatus  string
	ActorID        string
	OccurredAt     time.Time
	Metadata       map[string]any
}

// Metrics receives operation outcomes for instrumentation.
type Metrics interface {
	ObserveTransition(from, to, result string)
	ObserveReservation(result string)
	ObservePricing(result string)
}

type noopMetrics struct{}

func (noopMetrics) ObserveTransition(string, string, string) {}
func (noopMetrics) ObserveReservation(string)                {}
func (noopMetrics) ObservePricing(string)                    {}

func resultLabel(err error) string {
	if err == nil {
		return "ok"
	}
	switch {
	case errors.Is(err, ErrForbidden):
		return "forbidden"
	case errors.Is(err, ErrInvalidTransition):
		return "invalid_transition"
	case errors.Is(err, ErrGuardNotSatisfied):
		return "guard_not_satisfied"
	case errors.Is(err, ErrInsufficientAvailability):
		return "insufficient_availability"
	case errors.Is(err, ErrInvalidWindow):
		return "invalid_window"
	case IsConfigurationGap(err):
		return "configuration_gap"
	default:
		return "error"
	}
}
