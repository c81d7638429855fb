package handlers

import (
	"net/http"
	"strconv"
	"strings"

	"github.com/go-chi/chi/v5"

	domain "github.com/eventops/fulfillment/internal/domain"
	"github.com/eventops/fulfillment/internal/platform/httpx"
	"github.com/eventops/fulfillment/internal/services"
)

type lineItemPayload struct {
	ID               string         `json:"id"`
	OrderID          string         `json:"order_id,omitempty"`
	InboundRequestID string         `json:"inbound_request_id,omitempty"`
	PurposeType      string         `json:"purpose_type,omitempty"`
	Type             string         `json:"line_item_type"`
	ServiceType      string         `json:"service_type,omitempty"`
	Category         string         `json:"category"`
	Description      string         `json:"description"`
	Quantity         string         `json:"quantity"`
	Unit             string         `json:"unit"`
	UnitRate         string         `json:"unit_rate"`
	Total            string         `json:"total"`
	BillingMode      string         `json:"billing_mode"`
	IsVoided         bool           `json:"is_voided"`
	VoidReason       *string        `json:"void_reason,omitempty"`
	VoidedBy         *string        `json:"voided_by,omitempty"`
	VoidedAt         *string        `json:"voided_at,omitempty"`
	Metadata         map[string]any `json:"metadata,omitempty"`
	CreatedBy        string         `json:"created_by"`
	CreatedAt        string         `json:"created_at"`
}

type lineItemResponse struct {
	Item lineItemPayload `json:"item"`
}

type lineItemListResponse struct {
	Items []lineItemPayload `json:"items"`
}

type addLineItemRequest struct {
	Type          string         `json:"line_item_type"`
	PurposeType   string         `json:"purpose_type"`
	ServiceTypeID string         `json:"service_type_id"`
	Quantity      string         `json:"quantity"`
	Description   string         `json:"description"`
	Category      string         `json:"category"`
	Total         string         `json:"total"`
	BillingMode   string         `json:"billing_mode"`
	Metadata      map[string]any `json:"metadata"`
	Attachments   []string       `json:"attachments"`
}

// LineItemHandlers exposes the line item ledger of orders and inbound requests.
type LineItemHandlers struct {
	items services.LineItemService
}

// NewLineItemHandlers constructs a new LineItemHandlers instance.
func NewLineItemHandlers(items services.LineItemService) *LineItemHandlers {
	return &LineItemHandlers{items: items}
}

// Routes registers the line item endpoints.
func (h *LineItemHandlers) Routes(r chi.Router) {
	if r == nil {
		return
	}
	r.Get("/orders/{orderID}/line-items", h.listLineItems(orderTarget))
	r.Post("/orders/{orderID}/line-items", h.addLineItem(orderTarget))
	r.Get("/inbound-requests/{requestID}/line-items", h.listLineItems(inboundRequestTarget))
	r.Post("/inbound-requests/{requestID}/line-items", h.addLineItem(inboundRequestTarget))
	r.Post("/line-items/{itemID}:void", h.voidLineItem)
}

type targetResolver func(w http.ResponseWriter, r *http.Request) (domain.LineItemTarget, bool)

func orderTarget(w http.ResponseWriter, r *http.Request) (domain.LineItemTarget, bool) {
	orderID, ok := pathParam(w, r, "orderID", "order id")
	if !ok {
		return domain.LineItemTarget{}, false
	}
	return domain.LineItemTarget{OrderID: orderID}, true
}

func inboundRequestTarget(w http.ResponseWriter, r *http.Request) (domain.LineItemTarget, bool) {
	requestID, ok := pathParam(w, r, "requestID", "inbound request id")
	if !ok {
		return domain.LineItemTarget{}, false
	}
	return domain.LineItemTarget{InboundRequestID: requestID}, true
}

func (h *LineItemHandlers) listLineItems(resolve targetResolver) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		ctx := r.Context()
		if h.items == nil {
			serviceUnavailable(ctx, w, "line_item")
			return
		}
		actor, ok := requireActor(w, r)
		if !ok {
			return
		}
		target, ok := resolve(w, r)
		if !ok {
			return
		}

		includeVoided := false
		if raw := strings.TrimSpace(r.URL.Query().Get("include_voided")); raw != "" {
			parsed, err := strconv.ParseBool(raw)
			if err != nil {
				invalidRequest(ctx, w, "include_voided must be a boolean")
				return
			}
			includeVoided = parsed
		}

		items, err := h.items.ListItems(ctx, services.ListLineItemsCommand{
			Actor:         actor,
			Target:        target,
			IncludeVoided: includeVoided,
		})
		if err != nil {
			writeServiceError(ctx, w, err, "line_item")
			return
		}
		payload := make([]lineItemPayload, 0, len(items))
		for _, item := range items {
			payload = append(payload, buildLineItemPayload(item))
		}
		httpx.WriteJSON(w, http.StatusOK, lineItemListResponse{Items: payload})
	}
}

func (h *LineItemHandlers) addLineItem(resolve targetResolver) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		ctx := r.Context()
		if h.items == nil {
			serviceUnavailable(ctx, w, "line_item")
			return
		}
		actor, ok := requireActor(w, r)
		if !ok {
			return
		}
		target, ok := resolve(w, r)
		if !ok {
			return
		}

		var req addLineItemRequest
		if !decodeCommand(w, r, &req) {
			return
		}
		target.PurposeType = strings.TrimSpace(req.PurposeType)
		mode := domain.BillingMode(strings.ToUpper(strings.TrimSpace(req.BillingMode)))

		var (
			item domain.LineItem
			err  error
		)
		switch domain.LineItemType(strings.ToUpper(strings.TrimSpace(req.Type))) {
		case domain.LineItemTypeCatalog:
			quantity, parseErr := parseDecimalField(req.Quantity, "quantity")
			if parseErr != nil {
				invalidRequest(ctx, w, parseErr.Error())
				return
			}
			item, err = h.items.AddCatalogItem(ctx, services.AddCatalogItemCommand{
				Actor:         actor,
				Target:        target,
				ServiceTypeID: strings.TrimSpace(req.ServiceTypeID),
				Quantity:      quantity,
				BillingMode:   mode,
				Metadata:      req.Metadata,
				Attachments:   req.Attachments,
			})
		case domain.LineItemTypeCustom:
			total, parseErr := parseDecimalField(req.Total, "total")
			if parseErr != nil {
				invalidRequest(ctx, w, parseErr.Error())
				return
			}
			item, err = h.items.AddCustomItem(ctx, services.AddCustomItemCommand{
				Actor:       actor,
				Target:      target,
				Description: req.Description,
				Category:    req.Category,
				Total:       total,
				BillingMode: mode,
				Attachments: req.Attachments,
			})
		default:
			invalidRequest(ctx, w, "line_item_type must be CATALOG or CUSTOM")
			return
		}
		if err != nil {
			writeServiceError(ctx, w, err, "line_item")
			return
		}
		httpx.WriteJSON(w, http.StatusCreated, lineItemResponse{Item: buildLineItemPayload(item)})
	}
}

func (h *LineItemHandlers) voidLineItem(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	if h.items == nil {
		serviceUnavailable(ctx, w, "line_item")
		return
	}
	actor, ok := requireActor(w, r)
	if !ok {
		return
	}
	itemID, ok := pathParam(w, r, "itemID", "line item id")
	if !ok {
		return
	}

	var req reasonRequest
	if !decodeCommand(w, r, &req) {
		return
	}

	item, err := h.items.VoidItem(ctx, services.VoidLineItemCommand{Actor: actor, ItemID: itemID, Reason: req.Reason})
	if err != nil {
		writeServiceError(ctx, w, err, "line_item")
		return
	}
	httpx.WriteJSON(w, http.StatusOK, lineItemResponse{Item: buildLineItemPayload(item)})
}

func buildLineItemPayload(item domain.LineItem) lineItemPayload {
	return lineItemPayload{
		ID:               item.ID,
		OrderID:          item.Target.OrderID,
		InboundRequestID: item.Target.InboundRequestID,
		PurposeType:      item.Target.PurposeType,
		Type:             string(item.Type),
		ServiceType:      item.ServiceType,
		Category:         item.Category,
		Description:      item.Description,
		Quantity:         item.Quantity.String(),
		Unit:             item.Unit,
		UnitRate:         item.UnitRate.String(),
		Total:            item.Total.String(),
		BillingMode:      string(item.BillingMode),
		IsVoided:         item.IsVoided,
		VoidReason:       item.VoidReason,
		VoidedBy:         item.VoidedBy,
		VoidedAt:         formatTimePtr(item.VoidedAt),
		Metadata:         item.Metadata,
		CreatedBy:        item.CreatedBy,
		CreatedAt:        formatTime(item.CreatedAt),
	}
}
