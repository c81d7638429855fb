package services

import (
	"context"
	"errors"
	"fmt"
	"slices"
	"strings"
	"sync"
	"time"

	"github.com/shopspring/decimal"
	"golang.org/x/sync/singleflight"

	domain "github.com/eventops/fulfillment/internal/domain"
	"github.com/eventops/fulfillment/internal/platform/textutil"
	"github.com/eventops/fulfillment/internal/repositories"
)

const defaultRateCacheTTL = 5 * time.Minute

// RateCard is the snapshot of rate configuration the pricing computation runs against.
type RateCard struct {
	CompanyID      string
	MarginPercent  decimal.Decimal
	VolumeTiers    []domain.VolumeTier
	TransportRates []domain.TransportRate
	VehicleTypes   []domain.VehicleType
}

// RateLookupDeps bundles collaborators for the rate lookup.
type RateLookupDeps struct {
	Rates  repositories.RateRepository
	TTL    time.Duration
	Clock  func() time.Time
	Logger func(ctx context.Context, event string, fields map[string]any)
}

type rateCatalog struct {
	tiers     []domain.VolumeTier
	transport []domain.TransportRate
	vehicles  []domain.VehicleType
	services  map[string]domain.ServiceType
	loadedAt  time.Time
}

type rateLookup struct {
	rates  repositories.RateRepository
	ttl    time.Duration
	clock  func() time.Time
	logger func(context.Context, string, map[string]any)

	mu      sync.RWMutex
	catalog *rateCatalog
	loads   singleflight.Group
}

// NewRateLookup constructs a cached RateLookup over the rate configuration store.
func NewRateLookup(deps RateLookupDeps) (RateLookup, error) {
	if deps.Rates == nil {
		return nil, errors.New("rate lookup: rate repository is required")
	}
	ttl := deps.TTL
	if ttl <= 0 {
		ttl = defaultRateCacheTTL
	}
	clock := deps.Clock
	if clock == nil {
		clock = time.Now
	}
	logger := deps.Logger
	if logger == nil {
		logger = func(context.Context, string, map[string]any) {}
	}
	return &rateLookup{
		rates:  deps.Rates,
		ttl:    ttl,
		clock:  clock,
		logger: logger,
	}, nil
}

func (l *rateLookup) RateCard(ctx context.Context, companyID string) (RateCard, error) {
	margin, err := l.CompanyMargin(ctx, companyID)
	if err != nil {
		return RateCard{}, err
	}
	catalog, err := l.load(ctx)
	if err != nil {
		return RateCard{}, err
	}
	return RateCard{
		CompanyID:      companyID,
		MarginPercent:  margin,
		VolumeTiers:    catalog.tiers,
		TransportRates: catalog.transport,
		VehicleTypes:   catalog.vehicles,
	}, nil
}

func (l *rateLookup) CompanyMargin(ctx context.Context, companyID string) (decimal.Decimal, error) {
	companyID = strings.TrimSpace(companyID)
	if companyID == "" {
		return decimal.Zero, fmt.Errorf("%w: company id is required", ErrInvalidInput)
	}
	company, err := l.rates.GetCompany(ctx, companyID)
	if err != nil {
		return decimal.Zero, mapRepositoryError(err, "company "+companyID)
	}
	return company.DefaultMarginPercent, nil
}

func (l *rateLookup) ServiceType(ctx context.Context, serviceTypeID string) (ServiceType, error) {
	serviceTypeID = strings.TrimSpace(serviceTypeID)
	if serviceTypeID == "" {
		return ServiceType{}, fmt.Errorf("%w: service type is required", ErrInvalidInput)
	}
	catalog, err := l.load(ctx)
	if err != nil {
		return ServiceType{}, err
	}
	service, ok := catalog.services[serviceTypeID]
	if !ok || !service.Active {
		return ServiceType{}, fmt.Errorf("%w: service type %s", ErrNotFound, serviceTypeID)
	}
	return service, nil
}

func (l *rateLookup) VehicleTypes(ctx context.Context) ([]VehicleType, error) {
	catalog, err := l.load(ctx)
	if err != nil {
		return nil, err
	}
	return slices.Clone(catalog.vehicles), nil
}

// Invalidate drops the cached catalog so the next lookup reloads it.
func (l *rateLookup) Invalidate() {
	l.mu.Lock()
	l.catalog = nil
	l.mu.Unlock()
}

func (l *rateLookup) load(ctx context.Context) (*rateCatalog, error) {
	l.mu.RLock()
	cached := l.catalog
	l.mu.RUnlock()
	if cached != nil && l.clock().Sub(cached.loadedAt) < l.ttl {
		return cached, nil
	}

	value, err, _ := l.loads.Do("catalog", func() (any, error) {
		catalog, err := l.fetch(ctx)
		if err != nil {
			return nil, err
		}
		l.mu.Lock()
		l.catalog = catalog
		l.mu.Unlock()
		l.logger(ctx, "rates.catalog.loaded", map[string]any{
			"tiers":     len(catalog.tiers),
			"transport": len(catalog.transport),
			"vehicles":  len(catalog.vehicles),
			"services":  len(catalog.services),
		})
		return catalog, nil
	})
	if err != nil {
		if cached != nil {
			l.logger(ctx, "rates.catalog.stale", map[string]any{"error": err.Error()})
			return cached, nil
		}
		return nil, err
	}
	return value.(*rateCatalog), nil
}

func (l *rateLookup) fetch(ctx context.Context) (*rateCatalog, error) {
	tiers, err := l.rates.ListVolumeTiers(ctx)
	if err != nil {
		return nil, mapRepositoryError(err, "volume tiers")
	}
	transport, err := l.rates.ListTransportRates(ctx)
	if err != nil {
		return nil, mapRepositoryError(err, "transport rates")
	}
	vehicles, err := l.rates.ListVehicleTypes(ctx)
	if err != nil {
		return nil, mapRepositoryError(err, "vehicle types")
	}
	serviceTypes, err := l.rates.ListServiceTypes(ctx)
	if err != nil {
		return nil, mapRepositoryError(err, "service types")
	}

	services := make(map[string]domain.ServiceType, len(serviceTypes))
	for _, service := range serviceTypes {
		services[service.ID] = service
	}
	slices.SortFunc(tiers, func(a, b domain.VolumeTier) int { return a.MinVolume.Cmp(b.MinVolume) })
	slices.SortFunc(vehicles, compareVehicles)

	return &rateCatalog{
		tiers:     tiers,
		transport: transport,
		vehicles:  vehicles,
		services:  services,
		loadedAt:  l.clock(),
	}, nil
}

func compareVehicles(a, b domain.VehicleType) int {
	if c := a.MaxVolumeM3.Cmp(b.MaxVolumeM3); c != 0 {
		return c
	}
	return a.SortOrder - b.SortOrder
}

// FindVolumeTier returns the tier whose [min, max) range contains volume.
func FindVolumeTier(tiers []domain.VolumeTier, volume decimal.Decimal) (domain.VolumeTier, error) {
	for _, tier := range tiers {
		if tier.Contains(volume) {
			return tier, nil
		}
	}
	return domain.VolumeTier{}, fmt.Errorf("%w: volume %s m3", ErrNoPricingTierFound, volume.String())
}

// FindTransportRate returns the rate for the emirate, trip type and vehicle combination.
func FindTransportRate(rates []domain.TransportRate, emirate string, trip domain.TripType, vehicle string) (domain.TransportRate, error) {
	emirateKey := textutil.FoldKey(emirate)
	vehicleKey := textutil.FoldKey(vehicle)
	for _, rate := range rates {
		if textutil.FoldKey(rate.Emirate) == emirateKey && rate.TripType == trip && textutil.FoldKey(rate.VehicleType) == vehicleKey {
			return rate, nil
		}
	}
	return domain.TransportRate{}, fmt.Errorf("%w: %s / %s / %s", ErrNoTransportRateFound, emirate, trip, vehicle)
}

// DefaultVehicle returns the smallest vehicle whose capacity covers volume, falling back to the
// largest vehicle when none does. vehicles must be sorted by capacity.
func DefaultVehicle(vehicles []domain.VehicleType, volume decimal.Decimal) (domain.VehicleType, bool) {
	if len(vehicles) == 0 {
		return domain.VehicleType{}, false
	}
	for _, vehicle := range vehicles {
		if !volume.GreaterThan(vehicle.MaxVolumeM3) {
			return vehicle, true
		}
	}
	return vehicles[len(vehicles)-1], true
}
