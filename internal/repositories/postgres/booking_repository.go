package postgres

import (
	"context"
	"errors"
	"strings"
	"time"

	domain "github.com/eventops/fulfillment/internal/domain"
	ppostgres "github.com/eventops/fulfillment/internal/platform/postgres"
	"github.com/eventops/fulfillment/internal/repositories"
)

const bookingColumns = `id, asset_id, order_id, quantity, blocked_from, blocked_until, created_at, released_at`

// BookingRepository stores rows in asset_bookings. Callers serialise writers per asset through
// AssetRepository.LockForBooking.
type BookingRepository struct {
	db *ppostgres.DB
}

var _ repositories.BookingRepository = (*BookingRepository)(nil)

func NewBookingRepository(db *ppostgres.DB) (*BookingRepository, error) {
	if db == nil {
		return nil, errors.New("booking repository requires postgres db")
	}
	return &BookingRepository{db: db}, nil
}

func (r *BookingRepository) ListOverlapping(ctx context.Context, assetID string, from, until time.Time) ([]domain.AssetBooking, error) {
	var rows []bookingRow
	err := r.db.Select(ctx, "asset_bookings.overlapping", &rows, `
		SELECT `+bookingColumns+` FROM asset_bookings
		WHERE asset_id = $1 AND released_at IS NULL AND blocked_from < $3 AND blocked_until > $2
		ORDER BY blocked_from, id`, strings.TrimSpace(assetID), from.UTC(), until.UTC())
	if err != nil {
		return nil, err
	}
	return bookingsFromRows(rows), nil
}

func (r *BookingRepository) ListByOrder(ctx context.Context, orderID string) ([]domain.AssetBooking, error) {
	var rows []bookingRow
	err := r.db.Select(ctx, "asset_bookings.by_order", &rows, `
		SELECT `+bookingColumns+` FROM asset_bookings
		WHERE order_id = $1 AND released_at IS NULL ORDER BY asset_id, id`, strings.TrimSpace(orderID))
	if err != nil {
		return nil, err
	}
	return bookingsFromRows(rows), nil
}

// Insert writes all bookings inside one transaction, joining the caller's when present.
func (r *BookingRepository) Insert(ctx context.Context, bookings []domain.AssetBooking) error {
	if len(bookings) == 0 {
		return nil
	}
	return r.db.RunInTx(ctx, func(ctx context.Context) error {
		for _, b := range bookings {
			if strings.TrimSpace(b.ID) == "" {
				return errors.New("booking insert: booking id is required")
			}
			_, err := r.db.Exec(ctx, "asset_bookings.insert", `
				INSERT INTO asset_bookings (`+bookingColumns+`)
				VALUES ($1, $2, $3, $4, $5, $6, $7, $8)`,
				b.ID, b.AssetID, b.OrderID, b.Quantity, b.BlockedFrom.UTC(), b.BlockedUntil.UTC(), b.CreatedAt.UTC(), utcPtr(b.ReleasedAt))
			if err != nil {
				return err
			}
		}
		return nil
	})
}

func (r *BookingRepository) ReleaseByOrder(ctx context.Context, orderID string, releasedAt time.Time) (int, error) {
	tag, err := r.db.Exec(ctx, "asset_bookings.release", `
		UPDATE asset_bookings SET released_at = $2 WHERE order_id = $1 AND released_at IS NULL`,
		strings.TrimSpace(orderID), releasedAt.UTC())
	if err != nil {
		return 0, err
	}
	return int(tag.RowsAffected()), nil
}

type bookingRow struct {
	ID           string     `db:"id"`
	AssetID      string     `db:"asset_id"`
	OrderID      string     `db:"order_id"`
	Quantity     int        `db:"quantity"`
	BlockedFrom  time.Time  `db:"blocked_from"`
	BlockedUntil time.Time  `db:"blocked_until"`
	CreatedAt    time.Time  `db:"created_at"`
	ReleasedAt   *time.Time `db:"released_at"`
}

func bookingsFromRows(rows []bookingRow) []domain.AssetBooking {
	bookings := make([]domain.AssetBooking, 0, len(rows))
	for _, row := range rows {
		bookings = append(bookings, domain.AssetBooking{
			ID:           row.ID,
			AssetID:      row.AssetID,
			OrderID:      row.OrderID,
			Quantity:     row.Quantity,
			BlockedFrom:  row.BlockedFrom.UTC(),
			BlockedUntil: row.BlockedUntil.UTC(),
			CreatedAt:    row.CreatedAt.UTC(),
			ReleasedAt:   utcPtr(row.ReleasedAt),
		})
	}
	return bookings
}
