package services

import (
	"context"
	"errors"
	"testing"

	domain "github.com/eventops/fulfillment/internal/domain"
)

func TestPricingServiceApproveQuoteValidation(t *testing.T) {
	ctx := context.Background()

	cases := []struct {
		name   string
		status domain.OrderStatus
		cmd    ApproveQuoteCommand
		want   error
	}{
		{"override equals company default", domain.OrderStatusPendingApproval,
			ApproveQuoteCommand{Actor: adminActor, MarginOverride: decPtr("25"), OverrideReason: "keep it as is"}, ErrMarginUnchanged},
		{"override without reason", domain.OrderStatusPendingApproval,
			ApproveQuoteCommand{Actor: adminActor, MarginOverride: decPtr("18")}, ErrMarginOverrideReasonRequired},
		{"override out of range", domain.OrderStatusPendingApproval,
			ApproveQuoteCommand{Actor: adminActor, MarginOverride: decPtr("-5"), OverrideReason: "loss leader"}, ErrInvalidInput},
		{"logistics approval", domain.OrderStatusPendingApproval,
			ApproveQuoteCommand{Actor: logisticsActor}, ErrForbidden},
		{"not yet reviewed", domain.OrderStatusSubmitted,
			ApproveQuoteCommand{Actor: adminActor}, ErrInvalidTransition},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			f := newFulfillmentFixture(t)
			f.seedOrder("ord_1", tc.status)
			tc.cmd.OrderID = "ord_1"

			_, err := f.quotes.ApproveQuote(ctx, tc.cmd)
			if !errors.Is(err, tc.want) {
				t.Fatalf("expected %v, got %v", tc.want, err)
			}
			order := f.store.order("ord_1")
			if order.Status != tc.status || order.MarginOverride != nil {
				t.Fatalf("expected order untouched, got %+v", order)
			}
			if len(f.events.events) != 0 {
				t.Fatalf("expected no events, got %+v", f.events.events)
			}
		})
	}
}

func TestPricingServiceApproveQuotePersistsOverride(t *testing.T) {
	f := newFulfillmentFixture(t)
	ctx := context.Background()
	f.seedOrder("ord_1", domain.OrderStatusPricingReview)

	if _, err := f.lineItems.AddCatalogItem(ctx, AddCatalogItemCommand{
		Actor: logisticsActor, Target: LineItemTarget{OrderID: "ord_1"}, ServiceTypeID: "svc_crew", Quantity: dec("4"),
	}); err != nil {
		t.Fatalf("add catalog item: %v", err)
	}
	if _, err := f.lineItems.AddCustomItem(ctx, AddCustomItemCommand{
		Actor: logisticsActor, Target: LineItemTarget{OrderID: "ord_1"}, Description: "Permit", Category: "fees", Total: dec("150"),
	}); err != nil {
		t.Fatalf("add custom item: %v", err)
	}

	approval, err := f.quotes.ApproveQuote(ctx, ApproveQuoteCommand{
		OrderID: "ord_1", Actor: adminActor, MarginOverride: decPtr("10"), OverrideReason: "strategic account",
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	// 1000 base + 500 transport + 200 catalog = 1700; 10% margin = 170; + 150 custom.
	pricing := approval.Pricing
	if !pricing.LogisticsSubTotal.Equal(dec("1700")) || !pricing.Margin.Amount.Equal(dec("170")) || !pricing.ClientTotal.Equal(dec("2020")) {
		t.Fatalf("unexpected pricing %+v", pricing)
	}
	if !pricing.Margin.Overridden || pricing.Margin.OverrideReason == nil || *pricing.Margin.OverrideReason != "strategic account" {
		t.Fatalf("unexpected margin %+v", pricing.Margin)
	}

	order := f.store.order("ord_1")
	if order.Status != domain.OrderStatusQuoted {
		t.Fatalf("expected QUOTED, got %s", order.Status)
	}
	if order.MarginOverride == nil || !order.MarginOverride.Percent.Equal(dec("10")) || order.MarginOverride.ApprovedBy != adminActor.ID {
		t.Fatalf("expected persisted override, got %+v", order.MarginOverride)
	}
	if !order.MarginOverride.ApprovedAt.Equal(ledgerNow) {
		t.Fatalf("unexpected approval time %s", order.MarginOverride.ApprovedAt)
	}
}

func TestPricingServiceRejectsOverrideEqualToPersistedOverride(t *testing.T) {
	f := newFulfillmentFixture(t)
	order := f.seedOrder("ord_1", domain.OrderStatusPendingApproval)
	order.MarginOverride = &domain.MarginOverride{Percent: dec("15"), Reason: "agreed in contract"}
	f.store.putOrder(order)

	_, err := f.quotes.ApproveQuote(context.Background(), ApproveQuoteCommand{
		OrderID: "ord_1", Actor: adminActor, MarginOverride: decPtr("15"), OverrideReason: "same again",
	})
	if !errors.Is(err, ErrMarginUnchanged) {
		t.Fatalf("expected margin unchanged, got %v", err)
	}
}

func TestPricingServiceOverrideBackToCompanyMarginClearsOverride(t *testing.T) {
	f := newFulfillmentFixture(t)
	order := f.seedOrder("ord_1", domain.OrderStatusPendingApproval)
	order.MarginOverride = &domain.MarginOverride{Percent: dec("15"), Reason: "agreed in contract"}
	f.store.putOrder(order)

	company := f.rates.card.MarginPercent.String()
	approval, err := f.quotes.ApproveQuote(context.Background(), ApproveQuoteCommand{
		OrderID: "ord_1", Actor: adminActor, MarginOverride: decPtr(company), OverrideReason: "contract terms expired",
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if approval.Pricing.Margin.Overridden || !approval.Pricing.Margin.Percent.Equal(f.rates.card.MarginPercent) {
		t.Fatalf("expected company margin applied, got %+v", approval.Pricing.Margin)
	}
	if got := f.store.order("ord_1").MarginOverride; got != nil {
		t.Fatalf("expected stored override cleared, got %+v", got)
	}
}

func TestPricingServiceApproveQuoteBlockedByConfigurationGap(t *testing.T) {
	f := newFulfillmentFixture(t)
	order := f.seedOrder("ord_1", domain.OrderStatusPendingApproval)
	order.VolumeM3 = dec("-1")
	f.store.putOrder(order)

	_, err := f.quotes.ApproveQuote(context.Background(), ApproveQuoteCommand{OrderID: "ord_1", Actor: adminActor})
	if !errors.Is(err, ErrGuardNotSatisfied) || !errors.Is(err, ErrNoPricingTierFound) {
		t.Fatalf("expected guard failure from missing tier, got %v", err)
	}
	if got := f.store.order("ord_1").Status; got != domain.OrderStatusPendingApproval {
		t.Fatalf("expected status unchanged, got %s", got)
	}
}

func TestPricingServicePreviewExcludesVoidedItems(t *testing.T) {
	f := newFulfillmentFixture(t)
	ctx := context.Background()
	f.seedOrder("ord_1", domain.OrderStatusPricingReview)

	item, err := f.lineItems.AddCustomItem(ctx, AddCustomItemCommand{
		Actor: logisticsActor, Target: LineItemTarget{OrderID: "ord_1"}, Description: "Rigging", Category: "labour", Total: dec("400"),
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	preview, err := f.quotes.PreviewPricing(ctx, PreviewPricingCommand{OrderID: "ord_1", Actor: logisticsActor})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !preview.LineItems.CustomTotal.Equal(dec("400")) {
		t.Fatalf("expected custom total 400, got %s", preview.LineItems.CustomTotal)
	}

	if _, err := f.lineItems.VoidItem(ctx, VoidLineItemCommand{Actor: logisticsActor, ItemID: item.ID, Reason: "client supplies own crew"}); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	for i := 0; i < 2; i++ {
		preview, err = f.quotes.PreviewPricing(ctx, PreviewPricingCommand{OrderID: "ord_1", Actor: logisticsActor})
		if err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
		if !preview.LineItems.CustomTotal.IsZero() || !preview.ClientTotal.Equal(dec("1875")) {
			t.Fatalf("expected voided item excluded, got %+v", preview)
		}
	}
}

func TestPricingServicePreviewReportsConfigurationGaps(t *testing.T) {
	f := newFulfillmentFixture(t)
	order := f.seedOrder("ord_1", domain.OrderStatusPricingReview)
	order.Venue = domain.Venue{City: "Fujairah"}
	f.store.putOrder(order)

	preview, err := f.quotes.PreviewPricing(context.Background(), PreviewPricingCommand{OrderID: "ord_1", Actor: logisticsActor})
	if err != nil {
		t.Fatalf("expected configuration gaps to be reported, got %v", err)
	}
	if preview.Complete || len(preview.Issues) != 1 || preview.Issues[0].Code != pricingIssueNoTransport {
		t.Fatalf("unexpected preview %+v", preview)
	}
	if !preview.BaseOperations.Total.Equal(dec("1000")) {
		t.Fatalf("expected base operations priced, got %s", preview.BaseOperations.Total)
	}

	if _, err := f.quotes.PreviewPricing(context.Background(), PreviewPricingCommand{OrderID: "ord_1", Actor: clientActor}); !errors.Is(err, ErrForbidden) {
		t.Fatalf("expected client preview to be forbidden, got %v", err)
	}
}
