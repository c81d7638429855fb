package handlers

import (
	"errors"
	"net/http"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"

	domain "github.com/eventops/fulfillment/internal/domain"
	"github.com/eventops/fulfillment/internal/platform/httpx"
	"github.com/eventops/fulfillment/internal/services"
)

type venuePayload struct {
	Name    string `json:"name"`
	Address string `json:"address"`
	City    string `json:"city"`
	Emirate string `json:"emirate"`
	Country string `json:"country"`
}

type orderItemPayload struct {
	AssetID    string `json:"asset_id"`
	Quantity   int    `json:"quantity"`
	RefurbDays int    `json:"refurb_days,omitempty"`
}

type windowPayload struct {
	Start *string `json:"start,omitempty"`
	End   *string `json:"end,omitempty"`
}

type marginOverridePayload struct {
	Percent    string `json:"percent"`
	Reason     string `json:"reason"`
	ApprovedBy string `json:"approved_by"`
	ApprovedAt string `json:"approved_at"`
}

type orderPayload struct {
	ID                   string                 `json:"id"`
	OrderNumber          string                 `json:"order_number"`
	CompanyID            string                 `json:"company_id"`
	Status               string                 `json:"status"`
	EventStartDate       string                 `json:"event_start_date"`
	EventEndDate         string                 `json:"event_end_date"`
	Venue                venuePayload           `json:"venue"`
	VolumeM3             string                 `json:"volume_m3"`
	WeightKg             string                 `json:"weight_kg"`
	Items                []orderItemPayload     `json:"items"`
	DeliveryWindow       *windowPayload         `json:"delivery_window,omitempty"`
	PickupWindow         *windowPayload         `json:"pickup_window,omitempty"`
	JobNumber            *string                `json:"job_number,omitempty"`
	TransportVehicleType string                 `json:"transport_vehicle_type"`
	TransportTripType    string                 `json:"transport_trip_type"`
	VehicleChangeReason  *string                `json:"vehicle_change_reason,omitempty"`
	MarginOverride       *marginOverridePayload `json:"margin_override,omitempty"`
	CreatedBy            string                 `json:"created_by"`
	CreatedAt            string                 `json:"created_at"`
	UpdatedAt            string                 `json:"updated_at,omitempty"`
}

type orderResponse struct {
	Order orderPayload `json:"order"`
}

type historyEntryPayload struct {
	ID             string  `json:"id"`
	OrderID        string  `json:"order_id"`
	PreviousStatus string  `json:"previous_status,omitempty"`
	Status         string  `json:"status"`
	Timestamp      string  `json:"timestamp"`
	UpdatedBy      string  `json:"updated_by"`
	Notes          *string `json:"notes,omitempty"`
}

type historyResponse struct {
	Items []historyEntryPayload `json:"items"`
}

type transitionResponse struct {
	Entry historyEntryPayload `json:"entry"`
}

type createOrderRequest struct {
	CompanyID      string             `json:"company_id"`
	EventStartDate string             `json:"event_start_date"`
	EventEndDate   string             `json:"event_end_date"`
	Venue          venuePayload       `json:"venue"`
	VolumeM3       string             `json:"volume_m3"`
	WeightKg       string             `json:"weight_kg"`
	Items          []orderItemPayload `json:"items"`
	TripType       string             `json:"trip_type"`
	VehicleType    string             `json:"vehicle_type"`
}

type transitionRequest struct {
	Status string  `json:"status"`
	Notes  *string `json:"notes"`
}

type cancelOrderRequest struct {
	Notes *string `json:"notes"`
}

type reasonRequest struct {
	Reason string `json:"reason"`
}

type setItemsRequest struct {
	Items []orderItemPayload `json:"items"`
}

type jobNumberRequest struct {
	JobNumber string `json:"job_number"`
}

type windowsRequest struct {
	DeliveryWindow *windowPayload `json:"delivery_window"`
	PickupWindow   *windowPayload `json:"pickup_window"`
}

type vehicleRequest struct {
	VehicleType string `json:"vehicle_type"`
	TripType    string `json:"trip_type"`
	Reason      string `json:"reason"`
}

// OrderHandlers exposes the order lifecycle and the dedicated order field updates.
type OrderHandlers struct {
	orders services.OrderService
}

// NewOrderHandlers constructs a new OrderHandlers instance.
func NewOrderHandlers(orders services.OrderService) *OrderHandlers {
	return &OrderHandlers{orders: orders}
}

// Routes registers the /orders endpoints.
func (h *OrderHandlers) Routes(r chi.Router) {
	if r == nil {
		return
	}
	r.Post("/orders", h.createOrder)
	r.Get("/orders/{orderID}", h.getOrder)
	r.Get("/orders/{orderID}/history", h.listHistory)
	r.Post("/orders/{orderID}/transitions", h.submitTransition)
	r.Post("/orders/{orderID}:cancel", h.cancelOrder)
	r.Post("/orders/{orderID}:return-to-logistics", h.returnToLogistics)
	r.Put("/orders/{orderID}/items", h.setItems)
	r.Patch("/orders/{orderID}/job-number", h.updateJobNumber)
	r.Patch("/orders/{orderID}/windows", h.updateWindows)
	r.Patch("/orders/{orderID}/vehicle", h.updateVehicle)
}

func (h *OrderHandlers) createOrder(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	if h.orders == nil {
		serviceUnavailable(ctx, w, "order")
		return
	}
	actor, ok := requireActor(w, r)
	if !ok {
		return
	}

	var req createOrderRequest
	if !decodeCommand(w, r, &req) {
		return
	}

	start, err := parseTimeParam(req.EventStartDate)
	if err != nil {
		invalidRequest(ctx, w, "event_start_date must be an RFC3339 timestamp or a date")
		return
	}
	end, err := parseTimeParam(req.EventEndDate)
	if err != nil {
		invalidRequest(ctx, w, "event_end_date must be an RFC3339 timestamp or a date")
		return
	}
	volume, err := parseDecimalField(req.VolumeM3, "volume_m3")
	if err != nil {
		invalidRequest(ctx, w, err.Error())
		return
	}
	weight, err := parseDecimalField(req.WeightKg, "weight_kg")
	if err != nil {
		invalidRequest(ctx, w, err.Error())
		return
	}

	order, err := h.orders.CreateOrder(ctx, services.CreateOrderCommand{
		Actor:          actor,
		CompanyID:      strings.TrimSpace(req.CompanyID),
		EventStartDate: start,
		EventEndDate:   end,
		Venue:          domain.Venue(req.Venue),
		VolumeM3:       volume,
		WeightKg:       weight,
		Items:          toOrderItems(req.Items),
		TripType:       domain.TripType(strings.ToUpper(strings.TrimSpace(req.TripType))),
		VehicleType:    strings.TrimSpace(req.VehicleType),
	})
	if err != nil {
		writeServiceError(ctx, w, err, "order")
		return
	}
	httpx.WriteJSON(w, http.StatusCreated, orderResponse{Order: buildOrderPayload(order)})
}

func (h *OrderHandlers) getOrder(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	if h.orders == nil {
		serviceUnavailable(ctx, w, "order")
		return
	}
	actor, ok := requireActor(w, r)
	if !ok {
		return
	}
	orderID, ok := pathParam(w, r, "orderID", "order id")
	if !ok {
		return
	}

	order, err := h.orders.GetOrder(ctx, services.GetOrderCommand{OrderID: orderID, Actor: actor})
	if err != nil {
		writeServiceError(ctx, w, err, "order")
		return
	}
	httpx.WriteJSON(w, http.StatusOK, orderResponse{Order: buildOrderPayload(order)})
}

func (h *OrderHandlers) listHistory(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	if h.orders == nil {
		serviceUnavailable(ctx, w, "order")
		return
	}
	actor, ok := requireActor(w, r)
	if !ok {
		return
	}
	orderID, ok := pathParam(w, r, "orderID", "order id")
	if !ok {
		return
	}

	entries, err := h.orders.ListHistory(ctx, services.GetOrderCommand{OrderID: orderID, Actor: actor})
	if err != nil {
		writeServiceError(ctx, w, err, "order")
		return
	}
	items := make([]historyEntryPayload, 0, len(entries))
	for _, entry := range entries {
		items = append(items, buildHistoryEntryPayload(entry))
	}
	httpx.WriteJSON(w, http.StatusOK, historyResponse{Items: items})
}

func (h *OrderHandlers) submitTransition(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	if h.orders == nil {
		serviceUnavailable(ctx, w, "order")
		return
	}
	actor, ok := requireActor(w, r)
	if !ok {
		return
	}
	orderID, ok := pathParam(w, r, "orderID", "order id")
	if !ok {
		return
	}

	var req transitionRequest
	if !decodeCommand(w, r, &req) {
		return
	}
	status := domain.OrderStatus(strings.ToUpper(strings.TrimSpace(req.Status)))
	if !status.Valid() {
		invalidRequest(ctx, w, "status must be a valid order status")
		return
	}

	entry, err := h.orders.SubmitTransition(ctx, services.TransitionCommand{
		OrderID:         orderID,
		RequestedStatus: status,
		Actor:           actor,
		Notes:           optionalString(req.Notes),
	})
	if err != nil {
		writeServiceError(ctx, w, err, "order")
		return
	}
	httpx.WriteJSON(w, http.StatusOK, transitionResponse{Entry: buildHistoryEntryPayload(entry)})
}

func (h *OrderHandlers) cancelOrder(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	if h.orders == nil {
		serviceUnavailable(ctx, w, "order")
		return
	}
	actor, ok := requireActor(w, r)
	if !ok {
		return
	}
	orderID, ok := pathParam(w, r, "orderID", "order id")
	if !ok {
		return
	}

	// The body is optional for cancellation.
	var req cancelOrderRequest
	if err := httpx.DecodeJSON(r, maxCommandBodySize, &req); err != nil && !errors.Is(err, httpx.ErrEmptyBody) {
		httpx.WriteDecodeError(w, r, err)
		return
	}

	entry, err := h.orders.Cancel(ctx, services.CancelOrderCommand{
		OrderID: orderID,
		Actor:   actor,
		Notes:   optionalString(req.Notes),
	})
	if err != nil {
		writeServiceError(ctx, w, err, "order")
		return
	}
	httpx.WriteJSON(w, http.StatusOK, transitionResponse{Entry: buildHistoryEntryPayload(entry)})
}

func (h *OrderHandlers) returnToLogistics(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	if h.orders == nil {
		serviceUnavailable(ctx, w, "order")
		return
	}
	actor, ok := requireActor(w, r)
	if !ok {
		return
	}
	orderID, ok := pathParam(w, r, "orderID", "order id")
	if !ok {
		return
	}

	var req reasonRequest
	if !decodeCommand(w, r, &req) {
		return
	}

	entry, err := h.orders.ReturnToLogistics(ctx, services.ReturnToLogisticsCommand{
		OrderID: orderID,
		Actor:   actor,
		Reason:  req.Reason,
	})
	if err != nil {
		writeServiceError(ctx, w, err, "order")
		return
	}
	httpx.WriteJSON(w, http.StatusOK, transitionResponse{Entry: buildHistoryEntryPayload(entry)})
}

func (h *OrderHandlers) setItems(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	if h.orders == nil {
		serviceUnavailable(ctx, w, "order")
		return
	}
	actor, ok := requireActor(w, r)
	if !ok {
		return
	}
	orderID, ok := pathParam(w, r, "orderID", "order id")
	if !ok {
		return
	}

	var req setItemsRequest
	if !decodeCommand(w, r, &req) {
		return
	}

	order, err := h.orders.SetItems(ctx, services.SetOrderItemsCommand{
		OrderID: orderID,
		Actor:   actor,
		Items:   toOrderItems(req.Items),
	})
	if err != nil {
		writeServiceError(ctx, w, err, "order")
		return
	}
	httpx.WriteJSON(w, http.StatusOK, orderResponse{Order: buildOrderPayload(order)})
}

func (h *OrderHandlers) updateJobNumber(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	if h.orders == nil {
		serviceUnavailable(ctx, w, "order")
		return
	}
	actor, ok := requireActor(w, r)
	if !ok {
		return
	}
	orderID, ok := pathParam(w, r, "orderID", "order id")
	if !ok {
		return
	}

	var req jobNumberRequest
	if !decodeCommand(w, r, &req) {
		return
	}

	order, err := h.orders.UpdateJobNumber(ctx, services.UpdateJobNumberCommand{
		OrderID:   orderID,
		Actor:     actor,
		JobNumber: req.JobNumber,
	})
	if err != nil {
		writeServiceError(ctx, w, err, "order")
		return
	}
	httpx.WriteJSON(w, http.StatusOK, orderResponse{Order: buildOrderPayload(order)})
}

func (h *OrderHandlers) updateWindows(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	if h.orders == nil {
		serviceUnavailable(ctx, w, "order")
		return
	}
	actor, ok := requireActor(w, r)
	if !ok {
		return
	}
	orderID, ok := pathParam(w, r, "orderID", "order id")
	if !ok {
		return
	}

	var req windowsRequest
	if !decodeCommand(w, r, &req) {
		return
	}
	delivery, err := toTimeWindow(req.DeliveryWindow)
	if err != nil {
		invalidRequest(ctx, w, "delivery_window bounds must be RFC3339 timestamps")
		return
	}
	pickup, err := toTimeWindow(req.PickupWindow)
	if err != nil {
		invalidRequest(ctx, w, "pickup_window bounds must be RFC3339 timestamps")
		return
	}

	order, err := h.orders.UpdateWindows(ctx, services.UpdateWindowsCommand{
		OrderID:        orderID,
		Actor:          actor,
		DeliveryWindow: delivery,
		PickupWindow:   pickup,
	})
	if err != nil {
		writeServiceError(ctx, w, err, "order")
		return
	}
	httpx.WriteJSON(w, http.StatusOK, orderResponse{Order: buildOrderPayload(order)})
}

func (h *OrderHandlers) updateVehicle(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	if h.orders == nil {
		serviceUnavailable(ctx, w, "order")
		return
	}
	actor, ok := requireActor(w, r)
	if !ok {
		return
	}
	orderID, ok := pathParam(w, r, "orderID", "order id")
	if !ok {
		return
	}

	var req vehicleRequest
	if !decodeCommand(w, r, &req) {
		return
	}

	order, err := h.orders.UpdateVehicle(ctx, services.UpdateVehicleCommand{
		OrderID:     orderID,
		Actor:       actor,
		VehicleType: strings.TrimSpace(req.VehicleType),
		TripType:    domain.TripType(strings.ToUpper(strings.TrimSpace(req.TripType))),
		Reason:      req.Reason,
	})
	if err != nil {
		writeServiceError(ctx, w, err, "order")
		return
	}
	httpx.WriteJSON(w, http.StatusOK, orderResponse{Order: buildOrderPayload(order)})
}

func toOrderItems(items []orderItemPayload) []domain.OrderItem {
	if len(items) == 0 {
		return nil
	}
	out := make([]domain.OrderItem, 0, len(items))
	for _, item := range items {
		out = append(out, domain.OrderItem{
			AssetID:    strings.TrimSpace(item.AssetID),
			Quantity:   item.Quantity,
			RefurbDays: item.RefurbDays,
		})
	}
	return out
}

func toTimeWindow(payload *windowPayload) (*domain.TimeWindow, error) {
	if payload == nil {
		return nil, nil
	}
	window := &domain.TimeWindow{}
	if payload.Start != nil && strings.TrimSpace(*payload.Start) != "" {
		start, err := time.Parse(time.RFC3339, strings.TrimSpace(*payload.Start))
		if err != nil {
			return nil, err
		}
		start = start.UTC()
		window.Start = &start
	}
	if payload.End != nil && strings.TrimSpace(*payload.End) != "" {
		end, err := time.Parse(time.RFC3339, strings.TrimSpace(*payload.End))
		if err != nil {
			return nil, err
		}
		end = end.UTC()
		window.End = &end
	}
	return window, nil
}

func buildWindowPayload(window *domain.TimeWindow) *windowPayload {
	if window == nil {
		return nil
	}
	return &windowPayload{Start: formatTimePtr(window.Start), End: formatTimePtr(window.End)}
}

func buildOrderPayload(order domain.Order) orderPayload {
	payload := orderPayload{
		ID:                   order.ID,
		OrderNumber:          order.OrderNumber,
		CompanyID:            order.CompanyID,
		Status:               string(order.Status),
		EventStartDate:       formatTime(order.EventStartDate),
		EventEndDate:         formatTime(order.EventEndDate),
		Venue:                venuePayload(order.Venue),
		VolumeM3:             order.VolumeM3.String(),
		WeightKg:             order.WeightKg.String(),
		Items:                make([]orderItemPayload, 0, len(order.Items)),
		DeliveryWindow:       buildWindowPayload(order.DeliveryWindow),
		PickupWindow:         buildWindowPayload(order.PickupWindow),
		JobNumber:            order.JobNumber,
		TransportVehicleType: order.TransportVehicleType,
		TransportTripType:    string(order.TransportTripType),
		VehicleChangeReason:  order.VehicleChangeReason,
		CreatedBy:            order.CreatedBy,
		CreatedAt:            formatTime(order.CreatedAt),
		UpdatedAt:            formatTime(order.UpdatedAt),
	}
	for _, item := range order.Items {
		payload.Items = append(payload.Items, orderItemPayload(item))
	}
	if mo := order.MarginOverride; mo != nil {
		payload.MarginOverride = &marginOverridePayload{
			Percent:    mo.Percent.String(),
			Reason:     mo.Reason,
			ApprovedBy: mo.ApprovedBy,
			ApprovedAt: formatTime(mo.ApprovedAt),
		}
	}
	return payload
}

func buildHistoryEntryPayload(entry domain.OrderStatusHistoryEntry) historyEntryPayload {
	return historyEntryPayload{
		ID:             entry.ID,
		OrderID:        entry.OrderID,
		PreviousStatus: string(entry.PreviousStatus),
		Status:         string(entry.Status),
		Timestamp:      formatTime(entry.Timestamp),
		UpdatedBy:      entry.UpdatedBy,
		Notes:          entry.Notes,
	}
}
