package handlers

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"testing"
	"time"

	domain "github.com/eventops/fulfillment/internal/domain"
	"github.com/eventops/fulfillment/internal/services"
)

func TestReskinHandlersCreateAndList(t *testing.T) {
	created := time.Date(2024, 5, 3, 12, 0, 0, 0, time.UTC)
	var captured services.CreateReskinCommand
	svc := &stubReskinService{
		createFn: func(_ context.Context, cmd services.CreateReskinCommand) (services.ReskinRequest, error) {
			captured = cmd
			return services.ReskinRequest{
				ID:              "rs-1",
				OrderID:         cmd.OrderID,
				OriginalAssetID: cmd.OriginalAssetID,
				TargetBrand:     cmd.TargetBrand,
				Status:          domain.ReskinStatusPending,
				CreatedAt:       created,
			}, nil
		},
		listFn: func(_ context.Context, cmd services.ListReskinsCommand) ([]services.ReskinRequest, error) {
			return []services.ReskinRequest{{ID: "rs-1", OrderID: cmd.OrderID, Status: domain.ReskinStatusPending}}, nil
		},
	}
	handler := NewReskinHandlers(svc)

	rr := serve(t, handler.Routes, newRequestAs(http.MethodPost, "/orders/ord-1/reskins", `{"original_asset_id":"asset-1","target_brand":"Acme"}`, domain.RoleLogistics))
	if rr.Code != http.StatusCreated {
		t.Fatalf("expected status 201, got %d: %s", rr.Code, rr.Body.String())
	}
	if captured.OrderID != "ord-1" || captured.OriginalAssetID != "asset-1" || captured.TargetBrand != "Acme" {
		t.Fatalf("unexpected command: %#v", captured)
	}

	rr = serve(t, handler.Routes, newRequestAs(http.MethodGet, "/orders/ord-1/reskins", "", domain.RoleLogistics))
	if rr.Code != http.StatusOK {
		t.Fatalf("expected status 200, got %d", rr.Code)
	}
	var resp reskinListResponse
	if err := json.Unmarshal(rr.Body.Bytes(), &resp); err != nil {
		t.Fatalf("failed to parse response: %v", err)
	}
	if len(resp.Items) != 1 || resp.Items[0].Status != "pending" {
		t.Fatalf("unexpected reskins: %#v", resp.Items)
	}
}

func TestReskinHandlersComplete(t *testing.T) {
	var captured services.CompleteReskinCommand
	svc := &stubReskinService{
		completeFn: func(_ context.Context, cmd services.CompleteReskinCommand) (services.ReskinRequest, error) {
			captured = cmd
			newAsset := cmd.NewAssetID
			return services.ReskinRequest{ID: cmd.ReskinID, Status: domain.ReskinStatusComplete, NewAssetID: &newAsset, CompletionPhotos: cmd.Photos}, nil
		},
	}
	handler := NewReskinHandlers(svc)

	body := `{"new_asset_id":"asset-9","photos":["gs://bucket/photo-1.jpg"],"notes":"done"}`
	rr := serve(t, handler.Routes, newRequestAs(http.MethodPost, "/reskins/rs-1:complete", body, domain.RoleLogistics))

	if rr.Code != http.StatusOK {
		t.Fatalf("expected status 200, got %d: %s", rr.Code, rr.Body.String())
	}
	if captured.ReskinID != "rs-1" || captured.NewAssetID != "asset-9" || len(captured.Photos) != 1 {
		t.Fatalf("unexpected command: %#v", captured)
	}
	var resp reskinResponse
	if err := json.Unmarshal(rr.Body.Bytes(), &resp); err != nil {
		t.Fatalf("failed to parse response: %v", err)
	}
	if resp.Reskin.NewAssetID == nil || *resp.Reskin.NewAssetID != "asset-9" {
		t.Fatalf("unexpected reskin payload: %#v", resp.Reskin)
	}
}

func TestReskinHandlersCancelConflict(t *testing.T) {
	svc := &stubReskinService{
		cancelFn: func(context.Context, services.CancelReskinCommand) (services.ReskinRequest, error) {
			return services.ReskinRequest{}, fmt.Errorf("%w: reskin rs-1 is complete", services.ErrConflict)
		},
	}
	handler := NewReskinHandlers(svc)

	rr := serve(t, handler.Routes, newRequestAs(http.MethodPost, "/reskins/rs-1:cancel", `{"reason":"brand dropped the campaign"}`, domain.RoleLogistics))

	if rr.Code != http.StatusConflict {
		t.Fatalf("expected status 409, got %d", rr.Code)
	}
	if code := decodeErrorCode(t, rr.Body.Bytes()); code != "reskin_conflict" {
		t.Fatalf("expected reskin_conflict, got %s", code)
	}
}
