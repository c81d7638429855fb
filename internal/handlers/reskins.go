package handlers

import (
	"net/http"
	"strings"

	"github.com/go-chi/chi/v5"

	domain "github.com/eventops/fulfillment/internal/domain"
	"github.com/eventops/fulfillment/internal/platform/httpx"
	"github.com/eventops/fulfillment/internal/services"
)

type reskinPayload struct {
	ID               string   `json:"id"`
	OrderID          string   `json:"order_id"`
	OriginalAssetID  string   `json:"original_asset_id"`
	TargetBrand      string   `json:"target_brand"`
	Status           string   `json:"status"`
	NewAssetID       *string  `json:"new_asset_id,omitempty"`
	CompletionPhotos []string `json:"completion_photos,omitempty"`
	CompletionNotes  *string  `json:"completion_notes,omitempty"`
	CancelReason     *string  `json:"cancel_reason,omitempty"`
	CreatedBy        string   `json:"created_by"`
	CreatedAt        string   `json:"created_at"`
	UpdatedAt        string   `json:"updated_at,omitempty"`
	CompletedAt      *string  `json:"completed_at,omitempty"`
	CancelledAt      *string  `json:"cancelled_at,omitempty"`
}

type reskinResponse struct {
	Reskin reskinPayload `json:"reskin"`
}

type reskinListResponse struct {
	Items []reskinPayload `json:"items"`
}

type createReskinRequest struct {
	OriginalAssetID string `json:"original_asset_id"`
	TargetBrand     string `json:"target_brand"`
}

type completeReskinRequest struct {
	NewAssetID string   `json:"new_asset_id"`
	Photos     []string `json:"photos"`
	Notes      *string  `json:"notes"`
}

// ReskinHandlers exposes the fabrication sub-workflow.
type ReskinHandlers struct {
	reskins services.ReskinService
}

// NewReskinHandlers constructs a new ReskinHandlers instance.
func NewReskinHandlers(reskins services.ReskinService) *ReskinHandlers {
	return &ReskinHandlers{reskins: reskins}
}

// Routes registers the reskin endpoints.
func (h *ReskinHandlers) Routes(r chi.Router) {
	if r == nil {
		return
	}
	r.Get("/orders/{orderID}/reskins", h.listReskins)
	r.Post("/orders/{orderID}/reskins", h.createReskin)
	r.Post("/reskins/{reskinID}:complete", h.completeReskin)
	r.Post("/reskins/{reskinID}:cancel", h.cancelReskin)
}

func (h *ReskinHandlers) listReskins(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	if h.reskins == nil {
		serviceUnavailable(ctx, w, "reskin")
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

	reskins, err := h.reskins.ListReskins(ctx, services.ListReskinsCommand{Actor: actor, OrderID: orderID})
	if err != nil {
		writeServiceError(ctx, w, err, "reskin")
		return
	}
	items := make([]reskinPayload, 0, len(reskins))
	for _, reskin := range reskins {
		items = append(items, buildReskinPayload(reskin))
	}
	httpx.WriteJSON(w, http.StatusOK, reskinListResponse{Items: items})
}

func (h *ReskinHandlers) createReskin(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	if h.reskins == nil {
		serviceUnavailable(ctx, w, "reskin")
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

	var req createReskinRequest
	if !decodeCommand(w, r, &req) {
		return
	}

	reskin, err := h.reskins.CreateReskin(ctx, services.CreateReskinCommand{
		Actor:           actor,
		OrderID:         orderID,
		OriginalAssetID: strings.TrimSpace(req.OriginalAssetID),
		TargetBrand:     strings.TrimSpace(req.TargetBrand),
	})
	if err != nil {
		writeServiceError(ctx, w, err, "reskin")
		return
	}
	httpx.WriteJSON(w, http.StatusCreated, reskinResponse{Reskin: buildReskinPayload(reskin)})
}

func (h *ReskinHandlers) completeReskin(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	if h.reskins == nil {
		serviceUnavailable(ctx, w, "reskin")
		return
	}
	actor, ok := requireActor(w, r)
	if !ok {
		return
	}
	reskinID, ok := pathParam(w, r, "reskinID", "reskin id")
	if !ok {
		return
	}

	var req completeReskinRequest
	if !decodeCommand(w, r, &req) {
		return
	}

	reskin, err := h.reskins.CompleteReskin(ctx, services.CompleteReskinCommand{
		Actor:      actor,
		ReskinID:   reskinID,
		NewAssetID: strings.TrimSpace(req.NewAssetID),
		Photos:     req.Photos,
		Notes:      optionalString(req.Notes),
	})
	if err != nil {
		writeServiceError(ctx, w, err, "reskin")
		return
	}
	httpx.WriteJSON(w, http.StatusOK, reskinResponse{Reskin: buildReskinPayload(reskin)})
}

func (h *ReskinHandlers) cancelReskin(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	if h.reskins == nil {
		serviceUnavailable(ctx, w, "reskin")
		return
	}
	actor, ok := requireActor(w, r)
	if !ok {
		return
	}
	reskinID, ok := pathParam(w, r, "reskinID", "reskin id")
	if !ok {
		return
	}

	var req reasonRequest
	if !decodeCommand(w, r, &req) {
		return
	}

	reskin, err := h.reskins.CancelReskin(ctx, services.CancelReskinCommand{Actor: actor, ReskinID: reskinID, Reason: req.Reason})
	if err != nil {
		writeServiceError(ctx, w, err, "reskin")
		return
	}
	httpx.WriteJSON(w, http.StatusOK, reskinResponse{Reskin: buildReskinPayload(reskin)})
}

func buildReskinPayload(r domain.ReskinRequest) reskinPayload {
	return reskinPayload{
		ID:               r.ID,
		OrderID:          r.OrderID,
		OriginalAssetID:  r.OriginalAssetID,
		TargetBrand:      r.TargetBrand,
		Status:           string(r.Status),
		NewAssetID:       r.NewAssetID,
		CompletionPhotos: r.CompletionPhotos,
		CompletionNotes:  r.CompletionNotes,
		CancelReason:     r.CancelReason,
		CreatedBy:        r.CreatedBy,
		CreatedAt:        formatTime(r.CreatedAt),
		UpdatedAt:        formatTime(r.UpdatedAt),
		CompletedAt:      formatTimePtr(r.CompletedAt),
		CancelledAt:      formatTimePtr(r.CancelledAt),
	}
}
