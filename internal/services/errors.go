package services

import (
	"errors"
	"fmt"
	"strings"
	"unicode/utf8"

	"github.com/eventops/fulfillment/internal/repositories"
)

// MinReasonLength is the minimum number of characters required for audit reasons.
const MinReasonLength = 10

var (
	// ErrInvalidInput signals the caller provided invalid data.
	ErrInvalidInput = errors.New("fulfillment: invalid input")
	// ErrNotFound indicates the requested record does not exist.
	ErrNotFound = errors.New("fulfillment: not found")
	// ErrConflict indicates the record state does not allow the operation.
	ErrConflict = errors.New("fulfillment: conflict")
	// ErrUnavailable indicates a backing dependency could not be reached.
	ErrUnavailable = errors.New("fulfillment: dependency unavailable")
	// ErrForbidden indicates the actor may not perform the operation.
	ErrForbidden = errors.New("fulfillment: forbidden")
	// ErrReasonTooShort indicates an audit reason below MinReasonLength characters.
	ErrReasonTooShort = fmt.Errorf("%w: reason must be at least %d characters", ErrInvalidInput, MinReasonLength)

	// ErrInvalidTransition indicates the requested status is not reachable from the current one.
	ErrInvalidTransition = errors.New("order: invalid transition")
	// ErrGuardNotSatisfied indicates the transition is allowed in principle but a precondition is unmet.
	ErrGuardNotSatisfied = errors.New("order: guard not satisfied")

	// ErrNoPricingTierFound indicates no volume tier covers the order volume.
	ErrNoPricingTierFound = errors.New("pricing: no pricing tier found")
	// ErrNoTransportRateFound indicates the transport rate table has no matching entry.
	ErrNoTransportRateFound = errors.New("pricing: no transport rate found")
	// ErrMarginOverrideReasonRequired indicates a margin override without justification.
	ErrMarginOverrideReasonRequired = errors.New("pricing: margin override reason required")
	// ErrMarginUnchanged indicates a margin override equal to the applied margin.
	ErrMarginUnchanged = errors.New("pricing: margin unchanged")

	// ErrInsufficientAvailability indicates the asset cannot cover the requested quantity.
	ErrInsufficientAvailability = errors.New("booking: insufficient availability")
	// ErrInvalidWindow indicates an inverted event window.
	ErrInvalidWindow = errors.New("booking: invalid window")
)

// IsConfigurationGap reports whether err stems from missing rate configuration. Such errors are
// expected while an order is in pricing review and never corrupt order state.
func IsConfigurationGap(err error) bool {
	return errors.Is(err, ErrNoPricingTierFound) || errors.Is(err, ErrNoTransportRateFound)
}

func requireReason(reason string) (string, error) {
	trimmed := strings.TrimSpace(reason)
	if utf8.RuneCountInString(trimmed) < MinReasonLength {
		return "", ErrReasonTooShort
	}
	return trimmed, nil
}

func mapRepositoryError(err error, subject string) error {
	if err == nil {
		return nil
	}

	var repoErr repositories.RepositoryError
	if errors.As(err, &repoErr) {
		switch {
		case repoErr.IsNotFound():
			return fmt.Errorf("%w: %s: %v", ErrNotFound, subject, err)
		case repoErr.IsConflict():
			return fmt.Errorf("%w: %s: %v", ErrConflict, subject, err)
		case repoErr.IsUnavailable():
			return fmt.Errorf("%w: %s: %v", ErrUnavailable, subject, err)
		}
	}
	return err
}
