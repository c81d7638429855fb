package handlers

import (
	"net/http"
	"strings"

	"github.com/go-chi/chi/v5"
	"github.com/shopspring/decimal"

	domain "github.com/eventops/fulfillment/internal/domain"
	"github.com/eventops/fulfillment/internal/platform/httpx"
	"github.com/eventops/fulfillment/internal/services"
)

type pricingIssuePayload struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

type pricingPayload struct {
	BaseOperations struct {
		Volume string `json:"volume"`
		Rate   string `json:"rate"`
		Total  string `json:"total"`
	} `json:"base_operations"`
	Transport struct {
		Emirate             string  `json:"emirate"`
		TripType            string  `json:"trip_type"`
		VehicleType         string  `json:"vehicle_type"`
		FinalRate           string  `json:"final_rate"`
		VehicleChanged      bool    `json:"vehicle_changed"`
		VehicleChangeReason *string `json:"vehicle_change_reason,omitempty"`
	} `json:"transport"`
	LineItems struct {
		CatalogTotal string `json:"catalog_total"`
		CustomTotal  string `json:"custom_total"`
	} `json:"line_items"`
	Margin struct {
		Percent        string  `json:"percent"`
		Amount         string  `json:"amount"`
		Overridden     bool    `json:"overridden"`
		OverrideReason *string `json:"override_reason,omitempty"`
	} `json:"margin"`
	LogisticsSubTotal string                `json:"logistics_sub_total"`
	ClientTotal       string                `json:"client_total"`
	Complete          bool                  `json:"complete"`
	Issues            []pricingIssuePayload `json:"issues,omitempty"`
}

type pricingResponse struct {
	Pricing pricingPayload `json:"pricing"`
}

type approveQuoteRequest struct {
	MarginOverride *string `json:"margin_override"`
	OverrideReason string  `json:"override_reason"`
	Notes          *string `json:"notes"`
}

type approveQuoteResponse struct {
	Pricing pricingPayload      `json:"pricing"`
	Entry   historyEntryPayload `json:"entry"`
}

type vehicleTypePayload struct {
	Code        string `json:"code"`
	Name        string `json:"name"`
	MaxVolumeM3 string `json:"max_volume_m3"`
	SortOrder   int    `json:"sort_order"`
}

type vehicleTypesResponse struct {
	Items []vehicleTypePayload `json:"items"`
}

// PricingHandlers exposes pricing previews, quote approval and the vehicle catalog.
type PricingHandlers struct {
	pricing services.PricingService
	rates   services.RateLookup
}

// NewPricingHandlers constructs a new PricingHandlers instance.
func NewPricingHandlers(pricing services.PricingService, rates services.RateLookup) *PricingHandlers {
	return &PricingHandlers{pricing: pricing, rates: rates}
}

// Routes registers the pricing endpoints.
func (h *PricingHandlers) Routes(r chi.Router) {
	if r == nil {
		return
	}
	r.Get("/orders/{orderID}/pricing", h.previewPricing)
	r.Post("/orders/{orderID}/quote:approve", h.approveQuote)
	r.Get("/rates/vehicle-types", h.listVehicleTypes)
}

func (h *PricingHandlers) previewPricing(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	if h.pricing == nil {
		serviceUnavailable(ctx, w, "pricing")
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

	pricing, err := h.pricing.PreviewPricing(ctx, services.PreviewPricingCommand{OrderID: orderID, Actor: actor})
	if err != nil {
		writeServiceError(ctx, w, err, "order")
		return
	}
	httpx.WriteJSON(w, http.StatusOK, pricingResponse{Pricing: buildPricingPayload(pricing)})
}

func (h *PricingHandlers) approveQuote(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	if h.pricing == nil {
		serviceUnavailable(ctx, w, "pricing")
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

	var req approveQuoteRequest
	if !decodeCommand(w, r, &req) {
		return
	}
	cmd := services.ApproveQuoteCommand{
		OrderID:        orderID,
		Actor:          actor,
		OverrideReason: req.OverrideReason,
		Notes:          optionalString(req.Notes),
	}
	if req.MarginOverride != nil && strings.TrimSpace(*req.MarginOverride) != "" {
		percent, err := decimal.NewFromString(strings.TrimSpace(*req.MarginOverride))
		if err != nil {
			invalidRequest(ctx, w, "margin_override must be a decimal percentage")
			return
		}
		cmd.MarginOverride = &percent
	}

	approval, err := h.pricing.ApproveQuote(ctx, cmd)
	if err != nil {
		writeServiceError(ctx, w, err, "order")
		return
	}
	httpx.WriteJSON(w, http.StatusOK, approveQuoteResponse{
		Pricing: buildPricingPayload(approval.Pricing),
		Entry:   buildHistoryEntryPayload(approval.History),
	})
}

func (h *PricingHandlers) listVehicleTypes(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	if h.rates == nil {
		serviceUnavailable(ctx, w, "rates")
		return
	}
	if _, ok := requireActor(w, r); !ok {
		return
	}

	vehicles, err := h.rates.VehicleTypes(ctx)
	if err != nil {
		writeServiceError(ctx, w, err, "rates")
		return
	}
	items := make([]vehicleTypePayload, 0, len(vehicles))
	for _, v := range vehicles {
		items = append(items, vehicleTypePayload{
			Code:        v.Code,
			Name:        v.Name,
			MaxVolumeM3: v.MaxVolumeM3.String(),
			SortOrder:   v.SortOrder,
		})
	}
	httpx.WriteJSON(w, http.StatusOK, vehicleTypesResponse{Items: items})
}

func buildPricingPayload(p domain.OrderPricing) pricingPayload {
	var payload pricingPayload
	payload.BaseOperations.Volume = p.BaseOperations.Volume.String()
	payload.BaseOperations.Rate = p.BaseOperations.Rate.String()
	payload.BaseOperations.Total = p.BaseOperations.Total.String()
	payload.Transport.Emirate = p.Transport.Emirate
	payload.Transport.TripType = string(p.Transport.TripType)
	payload.Transport.VehicleType = p.Transport.VehicleType
	payload.Transport.FinalRate = p.Transport.FinalRate.String()
	payload.Transport.VehicleChanged = p.Transport.VehicleChanged
	payload.Transport.VehicleChangeReason = p.Transport.VehicleChangeReason
	payload.LineItems.CatalogTotal = p.LineItems.CatalogTotal.String()
	payload.LineItems.CustomTotal = p.LineItems.CustomTotal.String()
	payload.Margin.Percent = p.Margin.Percent.String()
	payload.Margin.Amount = p.Margin.Amount.String()
	payload.Margin.Overridden = p.Margin.Overridden
	payload.Margin.OverrideReason = p.Margin.OverrideReason
	payload.LogisticsSubTotal = p.LogisticsSubTotal.String()
	payload.ClientTotal = p.ClientTotal.String()
	payload.Complete = p.Complete
	for _, issue := range p.Issues {
		payload.Issues = append(payload.Issues, pricingIssuePayload(issue))
	}
	return payload
}
