package domain

import "github.com/shopspring/decimal"

// Company carries the pricing defaults of a client company.
type Company struct {
	ID                   string
	Name                 string
	DefaultMarginPercent decimal.Decimal
}

// VolumeTier prices base operations for volumes in [MinVolume, MaxVolume).
// A nil MaxVolume leaves the tier open ended.
type VolumeTier struct {
	ID        string
	MinVolume decimal.Decimal
	MaxVolume *decimal.Decimal
	Rate      decimal.Decimal
}

// Contains reports whether the volume falls inside the tier bounds.
func (t VolumeTier) Contains(volume decimal.Decimal) bool {
	if volume.LessThan(t.MinVolume) {
		return false
	}
	if t.MaxVolume != nil && !volume.LessThan(*t.MaxVolume) {
		return false
	}
	return true
}

// TransportRate is the flat rate for a (emirate, trip type, vehicle type) combination.
type TransportRate struct {
	ID          string
	Emirate     string
	TripType    TripType
	VehicleType string
	Rate        decimal.Decimal
}

// VehicleType is an entry of the vehicle catalog.
type VehicleType struct {
	Code        string
	Name        string
	MaxVolumeM3 decimal.Decimal
	SortOrder   int
}

// ServiceType is a catalog service whose unit rate prices CATALOG line items.
type ServiceType struct {
	ID       string
	Name     string
	Category string
	Unit     string
	UnitRate decimal.Decimal
	Active   bool
}
