package domain

import "time"

// Asset is a physical inventory item that can be booked for events.
type Asset struct {
	ID            string
	Name          string
	TotalQuantity int
}

// AssetBooking reserves a quantity of an asset for [BlockedFrom, BlockedUntil).
// Bookings are never edited; releasing stamps ReleasedAt.
type AssetBooking struct {
	ID           string
	AssetID      string
	OrderID      string
	Quantity     int
	BlockedFrom  time.Time
	BlockedUntil time.Time
	CreatedAt    time.Time
	ReleasedAt   *time.Time
}

// Active reports whether the booking still holds inventory.
func (b AssetBooking) Active() bool {
	return b.ReleasedAt == nil
}

// Overlaps reports whether the booking interval intersects [from, until).
func (b AssetBooking) Overlaps(from, until time.Time) bool {
	return b.BlockedFrom.Before(until) && from.Before(b.BlockedUntil)
}

// Availability summarises how much of an asset is free over a window.
type Availability struct {
	AssetID       string
	From          time.Time
	Until         time.Time
	TotalQuantity int
	Booked        int
	Available     int
}
