package firestore

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"cloud.google.com/go/firestore"

	domain "github.com/eventops/fulfillment/internal/domain"
	pfirestore "github.com/eventops/fulfillment/internal/platform/firestore"
	"github.com/eventops/fulfillment/internal/repositories"
)

const assetBookingsCollection = "assetBookings"

// BookingRepository stores asset bookings. Bookings are immutable apart from the release stamp.
type BookingRepository struct {
	provider *pfirestore.Provider
	bookings *pfirestore.Collection[bookingDocument]
	assets   *pfirestore.Collection[assetDocument]
}

var _ repositories.BookingRepository = (*BookingRepository)(nil)

func NewBookingRepository(provider *pfirestore.Provider) (*BookingRepository, error) {
	if provider == nil {
		return nil, errors.New("booking repository requires firestore provider")
	}
	return &BookingRepository{
		provider: provider,
		bookings: pfirestore.NewCollection[bookingDocument](provider, assetBookingsCollection),
		assets:   pfirestore.NewCollection[assetDocument](provider, assetsCollection),
	}, nil
}

// ListOverlapping returns active bookings of the asset whose blocked interval intersects
// [from, until). Firestore allows the range filter on one field only; the upper bound on
// blockedUntil is applied after the query.
func (r *BookingRepository) ListOverlapping(ctx context.Context, assetID string, from, until time.Time) ([]domain.AssetBooking, error) {
	if r == nil || r.bookings == nil {
		return nil, errors.New("booking repository not initialised")
	}
	docs, err := r.bookings.Query(ctx, func(q firestore.Query) firestore.Query {
		return q.Where("assetId", "==", strings.TrimSpace(assetID)).
			Where("active", "==", true).
			Where("blockedFrom", "<", until.UTC())
	})
	if err != nil {
		return nil, err
	}
	var result []domain.AssetBooking
	for _, doc := range docs {
		booking := doc.Data.toDomain(doc.ID)
		if booking.Overlaps(from, until) {
			result = append(result, booking)
		}
	}
	return result, nil
}

func (r *BookingRepository) ListByOrder(ctx context.Context, orderID string) ([]domain.AssetBooking, error) {
	if r == nil || r.bookings == nil {
		return nil, errors.New("booking repository not initialised")
	}
	docs, err := r.activeByOrder(ctx, orderID)
	if err != nil {
		return nil, err
	}
	result := make([]domain.AssetBooking, 0, len(docs))
	for _, doc := range docs {
		result = append(result, doc.Data.toDomain(doc.ID))
	}
	return result, nil
}

// Insert creates the bookings and bumps the bookingSeq of every affected asset in one
// transaction. Two transactions that both read an asset and then insert against it cannot
// both commit.
func (r *BookingRepository) Insert(ctx context.Context, bookings []domain.AssetBooking) error {
	if r == nil || r.provider == nil {
		return errors.New("booking repository not initialised")
	}
	if len(bookings) == 0 {
		return nil
	}
	return r.provider.RunTransaction(ctx, func(ctx context.Context, _ *firestore.Transaction) error {
		bumped := make(map[string]struct{}, len(bookings))
		for _, booking := range bookings {
			if strings.TrimSpace(booking.ID) == "" {
				return fmt.Errorf("booking insert: booking id is required")
			}
			if err := r.bookings.Create(ctx, booking.ID, newBookingDocument(booking)); err != nil {
				return err
			}
			if _, ok := bumped[booking.AssetID]; ok {
				continue
			}
			bumped[booking.AssetID] = struct{}{}
			if err := r.assets.Update(ctx, booking.AssetID, []firestore.Update{
				{Path: "bookingSeq", Value: firestore.Increment(1)},
			}); err != nil {
				return err
			}
		}
		return nil
	})
}

func (r *BookingRepository) ReleaseByOrder(ctx context.Context, orderID string, releasedAt time.Time) (int, error) {
	if r == nil || r.provider == nil {
		return 0, errors.New("booking repository not initialised")
	}
	released := 0
	err := r.provider.RunTransaction(ctx, func(ctx context.Context, _ *firestore.Transaction) error {
		released = 0
		docs, err := r.activeByOrder(ctx, orderID)
		if err != nil {
			return err
		}
		at := releasedAt.UTC()
		for _, doc := range docs {
			if err := r.bookings.Update(ctx, doc.ID, []firestore.Update{
				{Path: "active", Value: false},
				{Path: "releasedAt", Value: at},
			}); err != nil {
				return err
			}
			released++
		}
		return nil
	})
	if err != nil {
		return 0, err
	}
	return released, nil
}

func (r *BookingRepository) activeByOrder(ctx context.Context, orderID string) ([]pfirestore.Document[bookingDocument], error) {
	return r.bookings.Query(ctx, func(q firestore.Query) firestore.Query {
		return q.Where("orderId", "==", strings.TrimSpace(orderID)).Where("active", "==", true)
	})
}

type bookingDocument struct {
	AssetID      string     `firestore:"assetId"`
	OrderID      string     `firestore:"orderId"`
	Quantity     int        `firestore:"quantity"`
	BlockedFrom  time.Time  `firestore:"blockedFrom"`
	BlockedUntil time.Time  `firestore:"blockedUntil"`
	Active       bool       `firestore:"active"`
	CreatedAt    time.Time  `firestore:"createdAt"`
	ReleasedAt   *time.Time `firestore:"releasedAt,omitempty"`
}

func newBookingDocument(booking domain.AssetBooking) bookingDocument {
	return bookingDocument{
		AssetID:      booking.AssetID,
		OrderID:      booking.OrderID,
		Quantity:     booking.Quantity,
		BlockedFrom:  booking.BlockedFrom.UTC(),
		BlockedUntil: booking.BlockedUntil.UTC(),
		Active:       booking.ReleasedAt == nil,
		CreatedAt:    booking.CreatedAt.UTC(),
		ReleasedAt:   utcPtr(booking.ReleasedAt),
	}
}

func (d bookingDocument) toDomain(id string) domain.AssetBooking {
	return domain.AssetBooking{
		ID:           id,
		AssetID:      d.AssetID,
		OrderID:      d.OrderID,
		Quantity:     d.Quantity,
		BlockedFrom:  d.BlockedFrom.UTC(),
		BlockedUntil: d.BlockedUntil.UTC(),
		CreatedAt:    d.CreatedAt.UTC(),
		ReleasedAt:   utcPtr(d.ReleasedAt),
	}
}
