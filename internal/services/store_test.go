package services

import (
	"context"
	"maps"
	"slices"
	"sort"
	"sync"
	"time"

	domain "github.com/eventops/fulfillment/internal/domain"
	"github.com/eventops/fulfillment/internal/repositories"
)

type memTxKey struct{}

// memStore is an in-memory implementation of every repository used by the services. RunInTx
// serialises units of work and restores the previous state when fn fails.
type memStore struct {
	txMu sync.Mutex
	mu   sync.Mutex

	orders    map[string]domain.Order
	history   []domain.OrderStatusHistoryEntry
	lineItems []domain.LineItem
	assets    map[string]domain.Asset
	bookings  []domain.AssetBooking
	reskins   map[string]domain.ReskinRequest

	appendErr      error
	bookingInsertN int
}

func newMemStore() *memStore {
	return &memStore{
		orders:  map[string]domain.Order{},
		assets:  map[string]domain.Asset{},
		reskins: map[string]domain.ReskinRequest{},
	}
}

type memSnapshot struct {
	orders    map[string]domain.Order
	history   []domain.OrderStatusHistoryEntry
	lineItems []domain.LineItem
	bookings  []domain.AssetBooking
	reskins   map[string]domain.ReskinRequest
}

func (s *memStore) RunInTx(ctx context.Context, fn func(context.Context) error) error {
	if ctx.Value(memTxKey{}) != nil {
		return fn(ctx)
	}
	s.txMu.Lock()
	defer s.txMu.Unlock()

	s.mu.Lock()
	snap := memSnapshot{
		orders:    maps.Clone(s.orders),
		history:   slices.Clone(s.history),
		lineItems: slices.Clone(s.lineItems),
		bookings:  slices.Clone(s.bookings),
		reskins:   maps.Clone(s.reskins),
	}
	s.mu.Unlock()

	if err := fn(context.WithValue(ctx, memTxKey{}, true)); err != nil {
		s.mu.Lock()
		s.orders = snap.orders
		s.history = snap.history
		s.lineItems = snap.lineItems
		s.bookings = snap.bookings
		s.reskins = snap.reskins
		s.mu.Unlock()
		return err
	}
	return nil
}

func (s *memStore) orderRepo() repositories.OrderRepository          { return memOrders{s} }
func (s *memStore) historyRepo() repositories.OrderHistoryRepository { return memHistory{s} }
func (s *memStore) lineItemRepo() repositories.LineItemRepository    { return memLineItems{s} }
func (s *memStore) assetRepo() repositories.AssetRepository          { return memAssets{s} }
func (s *memStore) bookingRepo() repositories.BookingRepository      { return memBookings{s} }
func (s *memStore) reskinRepo() repositories.ReskinRepository        { return memReskins{s} }

func (s *memStore) putOrder(order domain.Order) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.orders[order.ID] = order
}

func (s *memStore) putAsset(asset domain.Asset) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.assets[asset.ID] = asset
}

func (s *memStore) order(id string) domain.Order {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.orders[id]
}

func (s *memStore) activeBookings(orderID string) []domain.AssetBooking {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []domain.AssetBooking
	for _, booking := range s.bookings {
		if booking.OrderID == orderID && booking.Active() {
			out = append(out, booking)
		}
	}
	return out
}

type memOrders struct{ s *memStore }

func (r memOrders) Insert(_ context.Context, order domain.Order) error {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	if _, ok := r.s.orders[order.ID]; ok {
		return repositories.Conflict("orders.insert", "order exists")
	}
	r.s.orders[order.ID] = order
	return nil
}

func (r memOrders) Update(_ context.Context, order domain.Order) error {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	if _, ok := r.s.orders[order.ID]; !ok {
		return repositories.NotFound("orders.update", "order not found")
	}
	r.s.orders[order.ID] = order
	return nil
}

func (r memOrders) FindByID(_ context.Context, id string) (domain.Order, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	order, ok := r.s.orders[id]
	if !ok {
		return domain.Order{}, repositories.NotFound("orders.find", "order not found")
	}
	return order, nil
}

func (r memOrders) LockByID(ctx context.Context, id string) (domain.Order, error) {
	return r.FindByID(ctx, id)
}

type memHistory struct{ s *memStore }

func (r memHistory) Append(_ context.Context, entry domain.OrderStatusHistoryEntry) error {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	if r.s.appendErr != nil {
		return r.s.appendErr
	}
	r.s.history = append(r.s.history, entry)
	return nil
}

func (r memHistory) List(_ context.Context, orderID string) ([]domain.OrderStatusHistoryEntry, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	var out []domain.OrderStatusHistoryEntry
	for _, entry := range r.s.history {
		if entry.OrderID == orderID {
			out = append(out, entry)
		}
	}
	return out, nil
}

type memLineItems struct{ s *memStore }

func (r memLineItems) Insert(_ context.Context, item domain.LineItem) error {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	r.s.lineItems = append(r.s.lineItems, item)
	return nil
}

func (r memLineItems) FindByID(_ context.Context, id string) (domain.LineItem, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	for _, item := range r.s.lineItems {
		if item.ID == id {
			return item, nil
		}
	}
	return domain.LineItem{}, repositories.NotFound("line_items.find", "line item not found")
}

func (r memLineItems) List(_ context.Context, filter repositories.LineItemFilter) ([]domain.LineItem, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	var out []domain.LineItem
	for _, item := range r.s.lineItems {
		if item.Target.OrderID != filter.Target.OrderID || item.Target.InboundRequestID != filter.Target.InboundRequestID {
			continue
		}
		if item.IsVoided && !filter.IncludeVoided {
			continue
		}
		out = append(out, item)
	}
	return out, nil
}

func (r memLineItems) Void(_ context.Context, req repositories.VoidLineItemRequest) (domain.LineItem, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	for i, item := range r.s.lineItems {
		if item.ID != req.ItemID {
			continue
		}
		if item.IsVoided {
			return domain.LineItem{}, repositories.Conflict("line_items.void", "already voided")
		}
		reason, by, at := req.Reason, req.VoidedBy, req.VoidedAt
		item.IsVoided = true
		item.VoidReason = &reason
		item.VoidedBy = &by
		item.VoidedAt = &at
		r.s.lineItems[i] = item
		return item, nil
	}
	return domain.LineItem{}, repositories.NotFound("line_items.void", "line item not found")
}

type memAssets struct{ s *memStore }

func (r memAssets) FindByID(_ context.Context, id string) (domain.Asset, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	asset, ok := r.s.assets[id]
	if !ok {
		return domain.Asset{}, repositories.NotFound("assets.find", "asset not found")
	}
	return asset, nil
}

func (r memAssets) LockForBooking(_ context.Context, ids []string) (map[string]domain.Asset, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	out := make(map[string]domain.Asset, len(ids))
	for _, id := range ids {
		asset, ok := r.s.assets[id]
		if !ok {
			return nil, repositories.NotFound("assets.lock", "asset "+id+" not found")
		}
		out[id] = asset
	}
	return out, nil
}

type memBookings struct{ s *memStore }

func (r memBookings) ListOverlapping(_ context.Context, assetID string, from, until time.Time) ([]domain.AssetBooking, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	var out []domain.AssetBooking
	for _, booking := range r.s.bookings {
		if booking.AssetID == assetID && booking.Active() && booking.Overlaps(from, until) {
			out = append(out, booking)
		}
	}
	return out, nil
}

func (r memBookings) ListByOrder(_ context.Context, orderID string) ([]domain.AssetBooking, error) {
	return r.s.activeBookings(orderID), nil
}

func (r memBookings) Insert(_ context.Context, bookings []domain.AssetBooking) error {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	r.s.bookings = append(r.s.bookings, bookings...)
	r.s.bookingInsertN++
	return nil
}

func (r memBookings) ReleaseByOrder(_ context.Context, orderID string, releasedAt time.Time) (int, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	released := 0
	for i, booking := range r.s.bookings {
		if booking.OrderID == orderID && booking.Active() {
			at := releasedAt
			booking.ReleasedAt = &at
			r.s.bookings[i] = booking
			released++
		}
	}
	return released, nil
}

type memReskins struct{ s *memStore }

func (r memReskins) Insert(_ context.Context, reskin domain.ReskinRequest) error {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	r.s.reskins[reskin.ID] = reskin
	return nil
}

func (r memReskins) Update(_ context.Context, reskin domain.ReskinRequest) error {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	if _, ok := r.s.reskins[reskin.ID]; !ok {
		return repositories.NotFound("reskins.update", "reskin not found")
	}
	r.s.reskins[reskin.ID] = reskin
	return nil
}

func (r memReskins) FindByID(_ context.Context, id string) (domain.ReskinRequest, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	reskin, ok := r.s.reskins[id]
	if !ok {
		return domain.ReskinRequest{}, repositories.NotFound("reskins.find", "reskin not found")
	}
	return reskin, nil
}

func (r memReskins) ListByOrder(_ context.Context, orderID string) ([]domain.ReskinRequest, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	var out []domain.ReskinRequest
	for _, reskin := range r.s.reskins {
		if reskin.OrderID == orderID {
			out = append(out, reskin)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

type stubLineItemRepo struct {
	insertFn func(context.Context, domain.LineItem) error
	findFn   func(context.Context, string) (domain.LineItem, error)
	listFn   func(context.Context, repositories.LineItemFilter) ([]domain.LineItem, error)
	voidFn   func(context.Context, repositories.VoidLineItemRequest) (domain.LineItem, error)
}

func (s *stubLineItemRepo) Insert(ctx context.Context, item domain.LineItem) error {
	if s.insertFn != nil {
		return s.insertFn(ctx, item)
	}
	return nil
}

func (s *stubLineItemRepo) FindByID(ctx context.Context, id string) (domain.LineItem, error) {
	if s.findFn != nil {
		return s.findFn(ctx, id)
	}
	return domain.LineItem{}, repositories.NotFound("line_items.find", "line item not found")
}

func (s *stubLineItemRepo) List(ctx context.Context, filter repositories.LineItemFilter) ([]domain.LineItem, error) {
	if s.listFn != nil {
		return s.listFn(ctx, filter)
	}
	return nil, nil
}

func (s *stubLineItemRepo) Void(ctx context.Context, req repositories.VoidLineItemRequest) (domain.LineItem, error) {
	if s.voidFn != nil {
		return s.voidFn(ctx, req)
	}
	return domain.LineItem{}, nil
}

type captureOrderEvents struct {
	mu     sync.Mutex
	events []OrderEvent
	err    error
}

func (c *captureOrderEvents) PublishOrderEvent(_ context.Context, event OrderEvent) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.events = append(c.events, event)
	return c.err
}

type stubReferenceVerifier struct {
	err  error
	refs []string
}

func (s *stubReferenceVerifier) VerifyReferences(_ context.Context, refs []string) error {
	s.refs = append(s.refs, refs...)
	return s.err
}

func fixedClock(t time.Time) func() time.Time {
	return func() time.Time { return t }
}

func sequenceIDs() func() string {
	var mu sync.Mutex
	next := 0
	return func() string {
		mu.Lock()
		defer mu.Unlock()
		next++
		return string(rune('A'+next/26)) + string(rune('A'+next%26))
	}
}

var (
	adminActor     = domain.Actor{ID: "usr_admin", Role: domain.RoleAdmin}
	logisticsActor = domain.Actor{ID: "usr_ops", Role: domain.RoleLogistics}
	clientActor    = domain.Actor{ID: "usr_client", Role: domain.RoleClient, CompanyIDs: []string{"cmp_1"}}
)
