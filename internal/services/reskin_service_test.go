package services

import (
	"context"
	"errors"
	"testing"

	domain "github.com/eventops/fulfillment/internal/domain"
)

func TestReskinServiceGatesFabrication(t *testing.T) {
	f := newFulfillmentFixture(t)
	ctx := context.Background()
	f.seedOrder("ord_1", domain.OrderStatusConfirmed)

	reskin, err := f.reskins.CreateReskin(ctx, CreateReskinCommand{
		Actor: logisticsActor, OrderID: "ord_1", OriginalAssetID: "ast_stage", TargetBrand: "Acme Motors",
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if reskin.Status != domain.ReskinStatusPending || reskin.ID[:4] != reskinIDPrefix {
		t.Fatalf("unexpected reskin %+v", reskin)
	}

	f.setDeliveryWindow(t, "ord_1")
	_, err = f.orders.SubmitTransition(ctx, TransitionCommand{OrderID: "ord_1", RequestedStatus: domain.OrderStatusInPreparation, Actor: logisticsActor})
	if !errors.Is(err, ErrGuardNotSatisfied) {
		t.Fatalf("expected pending reskin to block preparation, got %v", err)
	}

	f.transition(t, "ord_1", logisticsActor, domain.OrderStatusAwaitingFabrication)
	_, err = f.orders.SubmitTransition(ctx, TransitionCommand{OrderID: "ord_1", RequestedStatus: domain.OrderStatusReadyForDelivery, Actor: logisticsActor})
	if !errors.Is(err, ErrGuardNotSatisfied) {
		t.Fatalf("expected pending reskin to block leaving fabrication, got %v", err)
	}

	completed, err := f.reskins.CompleteReskin(ctx, CompleteReskinCommand{
		Actor: logisticsActor, ReskinID: reskin.ID, NewAssetID: "ast_stage_acme", Photos: []string{"reskins/rsk/front.jpg"},
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if completed.Status != domain.ReskinStatusComplete || completed.NewAssetID == nil || completed.CompletedAt == nil {
		t.Fatalf("unexpected completed reskin %+v", completed)
	}

	f.transition(t, "ord_1", logisticsActor, domain.OrderStatusReadyForDelivery)
}

func TestReskinServiceAwaitingFabricationNeedsPendingReskin(t *testing.T) {
	f := newFulfillmentFixture(t)
	f.seedOrder("ord_1", domain.OrderStatusConfirmed)

	_, err := f.orders.SubmitTransition(context.Background(), TransitionCommand{OrderID: "ord_1", RequestedStatus: domain.OrderStatusAwaitingFabrication, Actor: logisticsActor})
	if !errors.Is(err, ErrGuardNotSatisfied) {
		t.Fatalf("expected guard failure, got %v", err)
	}
}

func TestReskinServiceCreateValidation(t *testing.T) {
	f := newFulfillmentFixture(t)
	ctx := context.Background()
	f.seedOrder("ord_1", domain.OrderStatusConfirmed)
	f.seedOrder("ord_2", domain.OrderStatusInTransit)

	if _, err := f.reskins.CreateReskin(ctx, CreateReskinCommand{Actor: logisticsActor, OrderID: "ord_1", OriginalAssetID: "ast_other", TargetBrand: "Acme"}); !errors.Is(err, ErrInvalidInput) {
		t.Fatalf("expected asset outside order to fail, got %v", err)
	}
	if _, err := f.reskins.CreateReskin(ctx, CreateReskinCommand{Actor: logisticsActor, OrderID: "ord_2", OriginalAssetID: "ast_stage", TargetBrand: "Acme"}); !errors.Is(err, ErrConflict) {
		t.Fatalf("expected late reskin to conflict, got %v", err)
	}
	if _, err := f.reskins.CreateReskin(ctx, CreateReskinCommand{Actor: clientActor, OrderID: "ord_1", OriginalAssetID: "ast_stage", TargetBrand: "Acme"}); !errors.Is(err, ErrForbidden) {
		t.Fatalf("expected client create to be forbidden, got %v", err)
	}
	if _, err := f.reskins.CreateReskin(ctx, CreateReskinCommand{Actor: logisticsActor, OrderID: "ord_1", OriginalAssetID: "ast_stage", TargetBrand: "Acme"}); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if _, err := f.reskins.CreateReskin(ctx, CreateReskinCommand{Actor: logisticsActor, OrderID: "ord_1", OriginalAssetID: "ast_stage", TargetBrand: "Other"}); !errors.Is(err, ErrConflict) {
		t.Fatalf("expected duplicate pending reskin to conflict, got %v", err)
	}
}

func TestReskinServiceCancelIsAdminOnly(t *testing.T) {
	f := newFulfillmentFixture(t)
	ctx := context.Background()
	f.seedOrder("ord_1", domain.OrderStatusConfirmed)

	reskin, err := f.reskins.CreateReskin(ctx, CreateReskinCommand{Actor: logisticsActor, OrderID: "ord_1", OriginalAssetID: "ast_booth", TargetBrand: "Acme"})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if _, err := f.reskins.CancelReskin(ctx, CancelReskinCommand{Actor: logisticsActor, ReskinID: reskin.ID, Reason: "brand pulled out of event"}); !errors.Is(err, ErrForbidden) {
		t.Fatalf("expected logistics cancel to be forbidden, got %v", err)
	}
	if _, err := f.reskins.CancelReskin(ctx, CancelReskinCommand{Actor: adminActor, ReskinID: reskin.ID, Reason: "nope"}); !errors.Is(err, ErrReasonTooShort) {
		t.Fatalf("expected short reason error, got %v", err)
	}

	cancelled, err := f.reskins.CancelReskin(ctx, CancelReskinCommand{Actor: adminActor, ReskinID: reskin.ID, Reason: "brand pulled out of event"})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if cancelled.Status != domain.ReskinStatusCancelled || cancelled.CancelReason == nil {
		t.Fatalf("unexpected cancelled reskin %+v", cancelled)
	}

	if _, err := f.reskins.CompleteReskin(ctx, CompleteReskinCommand{Actor: adminActor, ReskinID: reskin.ID, NewAssetID: "ast_new"}); !errors.Is(err, ErrConflict) {
		t.Fatalf("expected completing a cancelled reskin to conflict, got %v", err)
	}

	list, err := f.reskins.ListReskins(ctx, ListReskinsCommand{Actor: clientActor, OrderID: "ord_1"})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(list) != 1 || list[0].Status != domain.ReskinStatusCancelled {
		t.Fatalf("unexpected reskins %+v", list)
	}
}

func TestReskinServiceVerifiesCompletionPhotos(t *testing.T) {
	store := newMemStore()
	store.putOrder(domain.Order{ID: "ord_1", CompanyID: "cmp_1", Status: domain.OrderStatusAwaitingFabrication,
		Items: []domain.OrderItem{{AssetID: "ast_stage", Quantity: 1}}})
	policy, err := NewCasbinRolePolicy("")
	if err != nil {
		t.Fatalf("policy: %v", err)
	}
	refs := &stubReferenceVerifier{err: errors.New("object reskins/missing.jpg not found")}
	svc, err := NewReskinService(ReskinServiceDeps{
		Reskins: store.reskinRepo(), Orders: store.orderRepo(), Policy: policy, References: refs, UnitOfWork: store,
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	reskin, err := svc.CreateReskin(context.Background(), CreateReskinCommand{Actor: logisticsActor, OrderID: "ord_1", OriginalAssetID: "ast_stage", TargetBrand: "Acme"})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	_, err = svc.CompleteReskin(context.Background(), CompleteReskinCommand{
		Actor: logisticsActor, ReskinID: reskin.ID, NewAssetID: "ast_new", Photos: []string{"reskins/missing.jpg"},
	})
	if !errors.Is(err, ErrInvalidInput) {
		t.Fatalf("expected invalid input, got %v", err)
	}
	if got, _ := store.reskinRepo().FindByID(context.Background(), reskin.ID); got.Status != domain.ReskinStatusPending {
		t.Fatalf("expected reskin to stay pending, got %s", got.Status)
	}
}
