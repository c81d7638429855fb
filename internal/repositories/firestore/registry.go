package firestore

import (
	"context"
	"errors"
	"fmt"

	"google.golang.org/api/iterator"

	pfirestore "github.com/eventops/fulfillment/internal/platform/firestore"
	"github.com/eventops/fulfillment/internal/repositories"
)

// Reservations on a busy asset contend on the same document, so allow more retries than the
// client default.
const transactionAttempts = 10

// Registry wires every Firestore repository onto a shared provider.
type Registry struct {
	*pfirestore.UnitOfWork

	provider  *pfirestore.Provider
	orders    *OrderRepository
	history   *OrderHistoryRepository
	lineItems *LineItemRepository
	rates     *RateRepository
	assets    *AssetRepository
	bookings  *BookingRepository
	reskins   *ReskinRepository
	health    repositories.HealthRepository
}

var _ repositories.Registry = (*Registry)(nil)

// NewRegistry constructs the Firestore repositories. Extra dependency checks are appended to the
// Firestore check in health reports.
func NewRegistry(provider *pfirestore.Provider, extraChecks ...repositories.DependencyCheck) (*Registry, error) {
	if provider == nil {
		return nil, errors.New("firestore registry requires provider")
	}
	reg := &Registry{
		UnitOfWork: pfirestore.NewUnitOfWork(provider, pfirestore.WithTxAttempts(transactionAttempts)),
		provider:   provider,
	}

	var err error
	if reg.orders, err = NewOrderRepository(provider); err != nil {
		return nil, err
	}
	if reg.history, err = NewOrderHistoryRepository(provider); err != nil {
		return nil, err
	}
	if reg.lineItems, err = NewLineItemRepository(provider); err != nil {
		return nil, err
	}
	if reg.rates, err = NewRateRepository(provider); err != nil {
		return nil, err
	}
	if reg.assets, err = NewAssetRepository(provider); err != nil {
		return nil, err
	}
	if reg.bookings, err = NewBookingRepository(provider); err != nil {
		return nil, err
	}
	if reg.reskins, err = NewReskinRepository(provider); err != nil {
		return nil, err
	}

	checks := append([]repositories.DependencyCheck{{Name: "firestore", Check: reg.ping}}, extraChecks...)
	if reg.health, err = repositories.NewDependencyHealthRepository(checks); err != nil {
		return nil, fmt.Errorf("firestore registry: %w", err)
	}
	return reg, nil
}

func (r *Registry) Close(ctx context.Context) error {
	return r.provider.Close(ctx)
}

func (r *Registry) Orders() repositories.OrderRepository { return r.orders }
func (r *Registry) OrderHistory() repositories.OrderHistoryRepository { return r.history }
func (r *Registry) LineItems() repositories.LineItemRepository { return r.lineItems }
func (r *Registry) Rates() repositories.RateRepository { return r.rates }
func (r *Registry) Assets() repositories.AssetRepository { return r.assets }
func (r *Registry) Bookings() repositories.BookingRepository { return r.bookings }
func (r *Registry) Reskins() repositories.ReskinRepository { return r.reskins }
func (r *Registry) Health() repositories.HealthRepository { return r.health }

func (r *Registry) ping(ctx context.Context) error {
	client, err := r.provider.Client(ctx)
	if err != nil {
		return err
	}
	iter := client.Collection(ordersCollection).Limit(1).Documents(ctx)
	defer iter.Stop()
	if _, err := iter.Next(); err != nil && !errors.Is(err, iterator.Done) {
		return pfirestore.WrapError("firestore.ping", err)
	}
	return nil
}
