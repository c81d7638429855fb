package domain

import (
	"time"

	"github.com/shopspring/decimal"
)

// LineItemType distinguishes catalog-priced charges from operator-entered ones.
type LineItemType string

const (
	LineItemTypeCatalog LineItemType = "CATALOG"
	LineItemTypeCustom  LineItemType = "CUSTOM"
)

// BillingMode controls whether a line item is charged to the client.
type BillingMode string

const (
	BillingModeBillable      BillingMode = "BILLABLE"
	BillingModeNonBillable   BillingMode = "NON_BILLABLE"
	BillingModeComplimentary BillingMode = "COMPLIMENTARY"
)

// Valid reports whether the billing mode is recognised.
func (m BillingMode) Valid() bool {
	switch m {
	case BillingModeBillable, BillingModeNonBillable, BillingModeComplimentary:
		return true
	default:
		return false
	}
}

// LineItemTarget identifies the entity a line item is attached to. Exactly one of
// OrderID or InboundRequestID is set.
type LineItemTarget struct {
	OrderID          string
	InboundRequestID string
	PurposeType      string
}

// LineItem is an append-only charge record. Voided items are kept for audit.
type LineItem struct {
	ID          string
	Target      LineItemTarget
	Type        LineItemType
	ServiceType string
	Category    string
	Description string
	Quantity    decimal.Decimal
	Unit        string
	UnitRate    decimal.Decimal
	Total       decimal.Decimal
	BillingMode BillingMode
	IsVoided    bool
	VoidReason  *string
	VoidedBy    *string
	VoidedAt    *time.Time
	Metadata    map[string]any
	CreatedBy   string
	CreatedAt   time.Time
}

// Active reports whether the line item still contributes to pricing.
func (li LineItem) Active() bool {
	return !li.IsVoided
}
