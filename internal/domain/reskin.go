package domain

import "time"

// ReskinStatus tracks the fabrication sub-workflow.
type ReskinStatus string

const (
	ReskinStatusPending   ReskinStatus = "pending"
	ReskinStatusComplete  ReskinStatus = "complete"
	ReskinStatusCancelled ReskinStatus = "cancelled"
)

// ReskinRequest rebrands an existing asset for a specific order.
type ReskinRequest struct {
	ID               string
	OrderID          string
	OriginalAssetID  string
	TargetBrand      string
	Status           ReskinStatus
	NewAssetID       *string
	CompletionPhotos []string
	CompletionNotes  *string
	CancelReason     *string
	CreatedBy        string
	CreatedAt        time.Time
	UpdatedAt        time.Time
	CompletedAt      *time.Time
	CancelledAt      *time.Time
}
