package handlers

import (
	"bytes"
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/go-chi/chi/v5"
	"github.com/shopspring/decimal"

	domain "github.com/eventops/fulfillment/internal/domain"
	"github.com/eventops/fulfillment/internal/platform/auth"
	"github.com/eventops/fulfillment/internal/services"
)

var errNotStubbed = errors.New("not stubbed")

func newRequestAs(method, target, body string, role domain.Role) *http.Request {
	req := httptest.NewRequest(method, target, bytes.NewReader([]byte(body)))
	req.Header.Set("Content-Type", "application/json")
	if role != "" {
		identity := &auth.Identity{UID: "user-1", Role: role, CompanyIDs: []string{"co-1"}}
		req = req.WithContext(auth.WithIdentity(req.Context(), identity))
	}
	return req
}

func serve(t *testing.T, register RouteRegistrar, req *http.Request) *httptest.ResponseRecorder {
	t.Helper()
	router := chi.NewRouter()
	register(router)
	rr := httptest.NewRecorder()
	router.ServeHTTP(rr, req)
	return rr
}

type stubOrderService struct {
	createFn     func(context.Context, services.CreateOrderCommand) (services.Order, error)
	getFn        func(context.Context, services.GetOrderCommand) (services.Order, error)
	historyFn    func(context.Context, services.GetOrderCommand) ([]services.OrderStatusHistoryEntry, error)
	transitionFn func(context.Context, services.TransitionCommand) (services.OrderStatusHistoryEntry, error)
	cancelFn     func(context.Context, services.CancelOrderCommand) (services.OrderStatusHistoryEntry, error)
	returnFn     func(context.Context, services.ReturnToLogisticsCommand) (services.OrderStatusHistoryEntry, error)
	itemsFn      func(context.Context, services.SetOrderItemsCommand) (services.Order, error)
	jobNumberFn  func(context.Context, services.UpdateJobNumberCommand) (services.Order, error)
	windowsFn    func(context.Context, services.UpdateWindowsCommand) (services.Order, error)
	vehicleFn    func(context.Context, services.UpdateVehicleCommand) (services.Order, error)
}

var _ services.OrderService = (*stubOrderService)(nil)

func (s *stubOrderService) CreateOrder(ctx context.Context, cmd services.CreateOrderCommand) (services.Order, error) {
	if s.createFn != nil {
		return s.createFn(ctx, cmd)
	}
	return services.Order{}, errNotStubbed
}

func (s *stubOrderService) GetOrder(ctx context.Context, cmd services.GetOrderCommand) (services.Order, error) {
	if s.getFn != nil {
		return s.getFn(ctx, cmd)
	}
	return services.Order{}, errNotStubbed
}

func (s *stubOrderService) ListHistory(ctx context.Context, cmd services.GetOrderCommand) ([]services.OrderStatusHistoryEntry, error) {
	if s.historyFn != nil {
		return s.historyFn(ctx, cmd)
	}
	return nil, errNotStubbed
}

func (s *stubOrderService) SubmitTransition(ctx context.Context, cmd services.TransitionCommand) (services.OrderStatusHistoryEntry, error) {
	if s.transitionFn != nil {
		return s.transitionFn(ctx, cmd)
	}
	return services.OrderStatusHistoryEntry{}, errNotStubbed
}

func (s *stubOrderService) Cancel(ctx context.Context, cmd services.CancelOrderCommand) (services.OrderStatusHistoryEntry, error) {
	if s.cancelFn != nil {
		return s.cancelFn(ctx, cmd)
	}
	return services.OrderStatusHistoryEntry{}, errNotStubbed
}

func (s *stubOrderService) ReturnToLogistics(ctx context.Context, cmd services.ReturnToLogisticsCommand) (services.OrderStatusHistoryEntry, error) {
	if s.returnFn != nil {
		return s.returnFn(ctx, cmd)
	}
	return services.OrderStatusHistoryEntry{}, errNotStubbed
}

func (s *stubOrderService) SetItems(ctx context.Context, cmd services.SetOrderItemsCommand) (services.Order, error) {
	if s.itemsFn != nil {
		return s.itemsFn(ctx, cmd)
	}
	return services.Order{}, errNotStubbed
}

func (s *stubOrderService) UpdateJobNumber(ctx context.Context, cmd services.UpdateJobNumberCommand) (services.Order, error) {
	if s.jobNumberFn != nil {
		return s.jobNumberFn(ctx, cmd)
	}
	return services.Order{}, errNotStubbed
}

func (s *stubOrderService) UpdateWindows(ctx context.Context, cmd services.UpdateWindowsCommand) (services.Order, error) {
	if s.windowsFn != nil {
		return s.windowsFn(ctx, cmd)
	}
	return services.Order{}, errNotStubbed
}

func (s *stubOrderService) UpdateVehicle(ctx context.Context, cmd services.UpdateVehicleCommand) (services.Order, error) {
	if s.vehicleFn != nil {
		return s.vehicleFn(ctx, cmd)
	}
	return services.Order{}, errNotStubbed
}

type stubPricingService struct {
	previewFn func(context.Context, services.PreviewPricingCommand) (services.OrderPricing, error)
	approveFn func(context.Context, services.ApproveQuoteCommand) (services.QuoteApproval, error)
}

var _ services.PricingService = (*stubPricingService)(nil)

func (s *stubPricingService) PreviewPricing(ctx context.Context, cmd services.PreviewPricingCommand) (services.OrderPricing, error) {
	if s.previewFn != nil {
		return s.previewFn(ctx, cmd)
	}
	return services.OrderPricing{}, errNotStubbed
}

func (s *stubPricingService) ApproveQuote(ctx context.Context, cmd services.ApproveQuoteCommand) (services.QuoteApproval, error) {
	if s.approveFn != nil {
		return s.approveFn(ctx, cmd)
	}
	return services.QuoteApproval{}, errNotStubbed
}

type stubRateLookup struct {
	vehicles    []services.VehicleType
	err         error
	invalidated int
}

var _ services.RateLookup = (*stubRateLookup)(nil)

func (s *stubRateLookup) RateCard(context.Context, string) (services.RateCard, error) {
	return services.RateCard{}, errNotStubbed
}

func (s *stubRateLookup) CompanyMargin(context.Context, string) (decimal.Decimal, error) {
	return decimal.Zero, errNotStubbed
}

func (s *stubRateLookup) ServiceType(context.Context, string) (services.ServiceType, error) {
	return services.ServiceType{}, errNotStubbed
}

func (s *stubRateLookup) VehicleTypes(context.Context) ([]services.VehicleType, error) {
	return s.vehicles, s.err
}

func (s *stubRateLookup) Invalidate() {
	s.invalidated++
}

type stubLineItemService struct {
	catalogFn func(context.Context, services.AddCatalogItemCommand) (services.LineItem, error)
	customFn  func(context.Context, services.AddCustomItemCommand) (services.LineItem, error)
	voidFn    func(context.Context, services.VoidLineItemCommand) (services.LineItem, error)
	listFn    func(context.Context, services.ListLineItemsCommand) ([]services.LineItem, error)
}

var _ services.LineItemService = (*stubLineItemService)(nil)

func (s *stubLineItemService) AddCatalogItem(ctx context.Context, cmd services.AddCatalogItemCommand) (services.LineItem, error) {
	if s.catalogFn != nil {
		return s.catalogFn(ctx, cmd)
	}
	return services.LineItem{}, errNotStubbed
}

func (s *stubLineItemService) AddCustomItem(ctx context.Context, cmd services.AddCustomItemCommand) (services.LineItem, error) {
	if s.customFn != nil {
		return s.customFn(ctx, cmd)
	}
	return services.LineItem{}, errNotStubbed
}

func (s *stubLineItemService) VoidItem(ctx context.Context, cmd services.VoidLineItemCommand) (services.LineItem, error) {
	if s.voidFn != nil {
		return s.voidFn(ctx, cmd)
	}
	return services.LineItem{}, errNotStubbed
}

func (s *stubLineItemService) ListItems(ctx context.Context, cmd services.ListLineItemsCommand) ([]services.LineItem, error) {
	if s.listFn != nil {
		return s.listFn(ctx, cmd)
	}
	return nil, errNotStubbed
}

type stubBookingService struct {
	reserveFn      func(context.Context, services.ReserveBookingCommand) (services.AssetBooking, error)
	availabilityFn func(context.Context, services.AvailabilityQuery) (services.Availability, error)
}

var _ services.BookingService = (*stubBookingService)(nil)

func (s *stubBookingService) Reserve(ctx context.Context, cmd services.ReserveBookingCommand) (services.AssetBooking, error) {
	if s.reserveFn != nil {
		return s.reserveFn(ctx, cmd)
	}
	return services.AssetBooking{}, errNotStubbed
}

func (s *stubBookingService) Availability(ctx context.Context, q services.AvailabilityQuery) (services.Availability, error) {
	if s.availabilityFn != nil {
		return s.availabilityFn(ctx, q)
	}
	return services.Availability{}, errNotStubbed
}

func (s *stubBookingService) ReserveForOrder(context.Context, services.Order) ([]services.AssetBooking, error) {
	return nil, errNotStubbed
}

func (s *stubBookingService) ReleaseForOrder(context.Context, string) (int, error) {
	return 0, errNotStubbed
}

type stubReskinService struct {
	createFn   func(context.Context, services.CreateReskinCommand) (services.ReskinRequest, error)
	completeFn func(context.Context, services.CompleteReskinCommand) (services.ReskinRequest, error)
	cancelFn   func(context.Context, services.CancelReskinCommand) (services.ReskinRequest, error)
	listFn     func(context.Context, services.ListReskinsCommand) ([]services.ReskinRequest, error)
}

var _ services.ReskinService = (*stubReskinService)(nil)

func (s *stubReskinService) CreateReskin(ctx context.Context, cmd services.CreateReskinCommand) (services.ReskinRequest, error) {
	if s.createFn != nil {
		return s.createFn(ctx, cmd)
	}
	return services.ReskinRequest{}, errNotStubbed
}

func (s *stubReskinService) CompleteReskin(ctx context.Context, cmd services.CompleteReskinCommand) (services.ReskinRequest, error) {
	if s.completeFn != nil {
		return s.completeFn(ctx, cmd)
	}
	return services.ReskinRequest{}, errNotStubbed
}

func (s *stubReskinService) CancelReskin(ctx context.Context, cmd services.CancelReskinCommand) (services.ReskinRequest, error) {
	if s.cancelFn != nil {
		return s.cancelFn(ctx, cmd)
	}
	return services.ReskinRequest{}, errNotStubbed
}

func (s *stubReskinService) ListReskins(ctx context.Context, cmd services.ListReskinsCommand) ([]services.ReskinRequest, error) {
	if s.listFn != nil {
		return s.listFn(ctx, cmd)
	}
	return nil, errNotStubbed
}

type stubSystemService struct {
	report services.SystemHealthReport
	err    error
}

var _ services.SystemService = (*stubSystemService)(nil)

func (s *stubSystemService) HealthReport(context.Context) (services.SystemHealthReport, error) {
	return s.report, s.err
}
