package postgres

import (
	"context"
	"errors"
	"fmt"

	ppostgres "github.com/eventops/fulfillment/internal/platform/postgres"
	"github.com/eventops/fulfillment/internal/repositories"
)

// Registry wires every Postgres repository onto a shared pool.
type Registry struct {
	db        *ppostgres.DB
	orders    *OrderRepository
	history   *OrderHistoryRepository
	lineItems *LineItemRepository
	rates     repositories.RateRepository
	assets    *AssetRepository
	bookings  *BookingRepository
	reskins   *ReskinRepository
	health    repositories.HealthRepository
}

var _ repositories.Registry = (*Registry)(nil)

// Option customises the registry.
type Option func(*Registry)

// WithRateRepository replaces the table backed rate repository, e.g. with a file backed one.
func WithRateRepository(rates repositories.RateRepository) Option {
	return func(r *Registry) {
		if rates != nil {
			r.rates = rates
		}
	}
}

// NewRegistry constructs the Postgres repositories. Extra dependency checks are appended to the
// Postgres check in health reports.
func NewRegistry(db *ppostgres.DB, extraChecks []repositories.DependencyCheck, opts ...Option) (*Registry, error) {
	if db == nil {
		return nil, errors.New("postgres registry requires db")
	}
	reg := &Registry{db: db}

	var err error
	if reg.orders, err = NewOrderRepository(db); err != nil {
		return nil, err
	}
	if reg.history, err = NewOrderHistoryRepository(db); err != nil {
		return nil, err
	}
	if reg.lineItems, err = NewLineItemRepository(db); err != nil {
		return nil, err
	}
	if reg.rates, err = NewRateRepository(db); err != nil {
		return nil, err
	}
	if reg.assets, err = NewAssetRepository(db); err != nil {
		return nil, err
	}
	if reg.bookings, err = NewBookingRepository(db); err != nil {
		return nil, err
	}
	if reg.reskins, err = NewReskinRepository(db); err != nil {
		return nil, err
	}
	for _, opt := range opts {
		if opt != nil {
			opt(reg)
		}
	}

	checks := append([]repositories.DependencyCheck{{Name: "postgres", Check: db.Ping}}, extraChecks...)
	if reg.health, err = repositories.NewDependencyHealthRepository(checks); err != nil {
		return nil, fmt.Errorf("postgres registry: %w", err)
	}
	return reg, nil
}

func (r *Registry) RunInTx(ctx context.Context, fn func(ctx context.Context) error) error {
	return r.db.RunInTx(ctx, fn)
}

func (r *Registry) Close(context.Context) error {
	r.db.Close()
	return nil
}

func (r *Registry) Orders() repositories.OrderRepository { return r.orders }
func (r *Registry) OrderHistory() repositories.OrderHistoryRepository { return r.history }
func (r *Registry) LineItems() repositories.LineItemRepository { return r.lineItems }
func (r *Registry) Rates() repositories.RateRepository { return r.rates }
func (r *Registry) Assets() repositories.AssetRepository { return r.assets }
func (r *Registry) Bookings() repositories.BookingRepository { return r.bookings }
func (r *Registry) Reskins() repositories.ReskinRepository { return r.reskins }
func (r *Registry) Health() repositories.HealthRepository { return r.health }
