package handlers

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"testing"
	"time"

	"github.com/shopspring/decimal"

	domain "github.com/eventops/fulfillment/internal/domain"
	"github.com/eventops/fulfillment/internal/services"
)

func TestLineItemHandlersAddCatalogItem(t *testing.T) {
	var captured services.AddCatalogItemCommand
	svc := &stubLineItemService{
		catalogFn: func(_ context.Context, cmd services.AddCatalogItemCommand) (services.LineItem, error) {
			captured = cmd
			return services.LineItem{
				ID:          "li-1",
				Target:      cmd.Target,
				Type:        domain.LineItemTypeCatalog,
				ServiceType: cmd.ServiceTypeID,
				Quantity:    cmd.Quantity,
				UnitRate:    decimal.RequireFromString("75"),
				Total:       decimal.RequireFromString("225"),
				BillingMode: domain.BillingModeBillable,
				CreatedAt:   time.Date(2024, 5, 1, 0, 0, 0, 0, time.UTC),
			}, nil
		},
	}
	handler := NewLineItemHandlers(svc)

	body := `{"line_item_type":"catalog","service_type_id":"svc-install","quantity":"3","billing_mode":"BILLABLE"}`
	rr := serve(t, handler.Routes, newRequestAs(http.MethodPost, "/orders/ord-1/line-items", body, domain.RoleLogistics))

	if rr.Code != http.StatusCreated {
		t.Fatalf("expected status 201, got %d: %s", rr.Code, rr.Body.String())
	}
	if captured.Target.OrderID != "ord-1" || captured.Target.InboundRequestID != "" {
		t.Fatalf("unexpected target: %#v", captured.Target)
	}
	if !captured.Quantity.Equal(decimal.NewFromInt(3)) {
		t.Fatalf("expected quantity 3, got %s", captured.Quantity)
	}

	var resp lineItemResponse
	if err := json.Unmarshal(rr.Body.Bytes(), &resp); err != nil {
		t.Fatalf("failed to parse response: %v", err)
	}
	if resp.Item.Total != "225" || resp.Item.Type != "CATALOG" {
		t.Fatalf("unexpected item payload: %#v", resp.Item)
	}
}

func TestLineItemHandlersAddCustomItemToInboundRequest(t *testing.T) {
	var captured services.AddCustomItemCommand
	svc := &stubLineItemService{
		customFn: func(_ context.Context, cmd services.AddCustomItemCommand) (services.LineItem, error) {
			captured = cmd
			return services.LineItem{ID: "li-2", Target: cmd.Target, Type: domain.LineItemTypeCustom, Total: cmd.Total}, nil
		},
	}
	handler := NewLineItemHandlers(svc)

	body := `{"line_item_type":"CUSTOM","purpose_type":"ORDER","description":"Crane hire","category":"EQUIPMENT","total":"1200.50"}`
	rr := serve(t, handler.Routes, newRequestAs(http.MethodPost, "/inbound-requests/req-9/line-items", body, domain.RoleLogistics))

	if rr.Code != http.StatusCreated {
		t.Fatalf("expected status 201, got %d: %s", rr.Code, rr.Body.String())
	}
	if captured.Target.InboundRequestID != "req-9" || captured.Target.PurposeType != "ORDER" {
		t.Fatalf("unexpected target: %#v", captured.Target)
	}
	if !captured.Total.Equal(decimal.RequireFromString("1200.50")) {
		t.Fatalf("expected total 1200.50, got %s", captured.Total)
	}
}

func TestLineItemHandlersRejectUnknownType(t *testing.T) {
	handler := NewLineItemHandlers(&stubLineItemService{})

	rr := serve(t, handler.Routes, newRequestAs(http.MethodPost, "/orders/ord-1/line-items", `{"line_item_type":"DISCOUNT"}`, domain.RoleLogistics))

	if rr.Code != http.StatusBadRequest {
		t.Fatalf("expected status 400, got %d", rr.Code)
	}
}

func TestLineItemHandlersListIncludeVoided(t *testing.T) {
	var captured services.ListLineItemsCommand
	svc := &stubLineItemService{
		listFn: func(_ context.Context, cmd services.ListLineItemsCommand) ([]services.LineItem, error) {
			captured = cmd
			reason := "duplicate entry"
			return []services.LineItem{
				{ID: "li-1", Target: cmd.Target, Type: domain.LineItemTypeCatalog},
				{ID: "li-2", Target: cmd.Target, Type: domain.LineItemTypeCustom, IsVoided: true, VoidReason: &reason},
			}, nil
		},
	}
	handler := NewLineItemHandlers(svc)

	rr := serve(t, handler.Routes, newRequestAs(http.MethodGet, "/orders/ord-1/line-items?include_voided=true", "", domain.RoleAdmin))

	if rr.Code != http.StatusOK {
		t.Fatalf("expected status 200, got %d", rr.Code)
	}
	if !captured.IncludeVoided {
		t.Fatalf("expected include_voided to be forwarded")
	}
	var resp lineItemListResponse
	if err := json.Unmarshal(rr.Body.Bytes(), &resp); err != nil {
		t.Fatalf("failed to parse response: %v", err)
	}
	if len(resp.Items) != 2 || !resp.Items[1].IsVoided {
		t.Fatalf("unexpected items: %#v", resp.Items)
	}

	rr = serve(t, handler.Routes, newRequestAs(http.MethodGet, "/orders/ord-1/line-items?include_voided=maybe", "", domain.RoleAdmin))
	if rr.Code != http.StatusBadRequest {
		t.Fatalf("expected status 400 for malformed flag, got %d", rr.Code)
	}
}

func TestLineItemHandlersVoid(t *testing.T) {
	cases := []struct {
		name       string
		err        error
		wantStatus int
	}{
		{name: "ok", wantStatus: http.StatusOK},
		{name: "already voided", err: fmt.Errorf("%w: line item li-1 already voided", services.ErrConflict), wantStatus: http.StatusConflict},
		{name: "short reason", err: services.ErrReasonTooShort, wantStatus: http.StatusBadRequest},
		{name: "not found", err: fmt.Errorf("%w: line item li-1", services.ErrNotFound), wantStatus: http.StatusNotFound},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			var captured services.VoidLineItemCommand
			svc := &stubLineItemService{
				voidFn: func(_ context.Context, cmd services.VoidLineItemCommand) (services.LineItem, error) {
					captured = cmd
					if tc.err != nil {
						return services.LineItem{}, tc.err
					}
					return services.LineItem{ID: cmd.ItemID, IsVoided: true, VoidReason: &cmd.Reason}, nil
				},
			}
			handler := NewLineItemHandlers(svc)

			rr := serve(t, handler.Routes, newRequestAs(http.MethodPost, "/line-items/li-1:void", `{"reason":"client withdrew the request"}`, domain.RoleLogistics))

			if rr.Code != tc.wantStatus {
				t.Fatalf("expected status %d, got %d: %s", tc.wantStatus, rr.Code, rr.Body.String())
			}
			if captured.ItemID != "li-1" || captured.Reason != "client withdrew the request" {
				t.Fatalf("unexpected command: %#v", captured)
			}
		})
	}
}
