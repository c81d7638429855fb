package services

import (
	"context"
	"errors"
	"math/rand"
	"testing"

	"github.com/shopspring/decimal"

	domain "github.com/eventops/fulfillment/internal/domain"
	"github.com/eventops/fulfillment/internal/repositories"
)

func dec(value string) decimal.Decimal {
	return decimal.RequireFromString(value)
}

func decPtr(value string) *decimal.Decimal {
	d := dec(value)
	return &d
}

func testRateCard() RateCard {
	return RateCard{
		CompanyID:     "co-1",
		MarginPercent: dec("25"),
		VolumeTiers: []domain.VolumeTier{
			{ID: "t1", MinVolume: dec("0"), MaxVolume: decPtr("10"), Rate: dec("120")},
			{ID: "t2", MinVolume: dec("10"), MaxVolume: decPtr("50"), Rate: dec("100")},
			{ID: "t3", MinVolume: dec("50"), Rate: dec("80")},
		},
		TransportRates: []domain.TransportRate{
			{ID: "r1", Emirate: "Dubai", TripType: domain.TripTypeRoundTrip, VehicleType: "TRUCK_3T", Rate: dec("500")},
			{ID: "r2", Emirate: "Dubai", TripType: domain.TripTypeRoundTrip, VehicleType: "TRUCK_7T", Rate: dec("900")},
		},
		VehicleTypes: []domain.VehicleType{
			{Code: "TRUCK_3T", MaxVolumeM3: dec("20")},
			{Code: "TRUCK_7T", MaxVolumeM3: dec("60")},
		},
	}
}

func testPricingOrder() Order {
	return Order{
		ID:                "ord_1",
		CompanyID:         "co-1",
		VolumeM3:          dec("10"),
		Venue:             domain.Venue{City: "Dubai"},
		TransportTripType: domain.TripTypeRoundTrip,
	}
}

func catalogItem(id, total string) LineItem {
	return LineItem{ID: id, Type: domain.LineItemTypeCatalog, Total: dec(total), BillingMode: domain.BillingModeBillable}
}

func customItem(id, total string) LineItem {
	return LineItem{ID: id, Type: domain.LineItemTypeCustom, Total: dec(total), BillingMode: domain.BillingModeBillable}
}

func TestComputePricingWorkedExample(t *testing.T) {
	items := []LineItem{catalogItem("li_1", "200"), customItem("li_2", "150")}

	pricing, err := ComputePricing(testPricingOrder(), items, testRateCard(), nil)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if !pricing.BaseOperations.Total.Equal(dec("1000")) {
		t.Fatalf("expected base ops 1000, got %s", pricing.BaseOperations.Total)
	}
	if !pricing.Transport.FinalRate.Equal(dec("500")) {
		t.Fatalf("expected transport 500, got %s", pricing.Transport.FinalRate)
	}
	if !pricing.LogisticsSubTotal.Equal(dec("1700")) {
		t.Fatalf("expected sub total 1700, got %s", pricing.LogisticsSubTotal)
	}
	if !pricing.Margin.Amount.Equal(dec("425")) {
		t.Fatalf("expected margin 425, got %s", pricing.Margin.Amount)
	}
	if !pricing.ClientTotal.Equal(dec("2275")) {
		t.Fatalf("expected client total 2275, got %s", pricing.ClientTotal)
	}
	if !pricing.Complete || len(pricing.Issues) != 0 {
		t.Fatalf("expected complete pricing, got %+v", pricing)
	}
	if pricing.Transport.VehicleType != "TRUCK_3T" || pricing.Transport.VehicleChanged {
		t.Fatalf("expected default vehicle, got %+v", pricing.Transport)
	}
}

func TestComputePricingClientTotalInvariant(t *testing.T) {
	rng := rand.New(rand.NewSource(42))
	card := testRateCard()

	for i := 0; i < 500; i++ {
		order := testPricingOrder()
		order.VolumeM3 = decimal.New(rng.Int63n(100000), -2)
		card.MarginPercent = decimal.New(rng.Int63n(10000), -2)
		card.TransportRates[0].Rate = decimal.New(rng.Int63n(1000000), -2)
		card.VehicleTypes[0].MaxVolumeM3 = dec("10000")

		var items []LineItem
		for j := 0; j < rng.Intn(6); j++ {
			item := catalogItem("c", decimal.New(rng.Int63n(100000), -2).String())
			item.IsVoided = rng.Intn(4) == 0
			items = append(items, item)
		}
		for j := 0; j < rng.Intn(3); j++ {
			items = append(items, customItem("u", decimal.New(rng.Int63n(100000), -2).String()))
		}

		pricing, err := ComputePricing(order, items, card, nil)
		if err != nil {
			t.Fatalf("iteration %d: unexpected error: %v", i, err)
		}

		expectedSub := pricing.BaseOperations.Total.Add(pricing.Transport.FinalRate).Add(pricing.LineItems.CatalogTotal)
		if !pricing.LogisticsSubTotal.Equal(expectedSub) {
			t.Fatalf("iteration %d: sub total %s != %s", i, pricing.LogisticsSubTotal, expectedSub)
		}
		factor := decimal.NewFromInt(1).Add(pricing.Margin.Percent.Div(decimal.NewFromInt(100)))
		expected := pricing.LogisticsSubTotal.Mul(factor).Add(pricing.LineItems.CustomTotal)
		if !pricing.ClientTotal.Equal(expected) {
			t.Fatalf("iteration %d: client total %s != %s", i, pricing.ClientTotal, expected)
		}
	}
}

func TestComputePricingExcludesVoidedAndNonBillable(t *testing.T) {
	voided := catalogItem("li_void", "999")
	voided.IsVoided = true
	complimentary := catalogItem("li_comp", "50")
	complimentary.BillingMode = domain.BillingModeComplimentary
	voidedCustom := customItem("li_void_custom", "75")
	voidedCustom.IsVoided = true

	items := []LineItem{catalogItem("li_1", "200"), voided, complimentary, customItem("li_2", "150"), voidedCustom}
	pricing, err := ComputePricing(testPricingOrder(), items, testRateCard(), nil)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !pricing.LineItems.CatalogTotal.Equal(dec("200")) {
		t.Fatalf("expected catalog total 200, got %s", pricing.LineItems.CatalogTotal)
	}
	if !pricing.LineItems.CustomTotal.Equal(dec("150")) {
		t.Fatalf("expected custom total 150, got %s", pricing.LineItems.CustomTotal)
	}
}

func TestComputePricingTierBoundsAreHalfOpen(t *testing.T) {
	card := testRateCard()
	cases := map[string]string{
		"0":      "120",
		"9.99":   "120",
		"10":     "100",
		"49.999": "100",
		"50":     "80",
		"5000":   "80",
	}
	for volume, rate := range cases {
		order := testPricingOrder()
		order.VolumeM3 = dec(volume)
		order.TransportVehicleType = "TRUCK_3T"
		pricing, _ := ComputePricing(order, nil, card, nil)
		if !pricing.BaseOperations.Rate.Equal(dec(rate)) {
			t.Fatalf("volume %s: expected rate %s, got %s", volume, rate, pricing.BaseOperations.Rate)
		}
	}
}

func TestComputePricingConfigurationGaps(t *testing.T) {
	card := testRateCard()
	card.VolumeTiers = card.VolumeTiers[1:]

	order := testPricingOrder()
	order.VolumeM3 = dec("5")
	order.Venue = domain.Venue{City: "Fujairah"}

	pricing, err := ComputePricing(order, []LineItem{catalogItem("li_1", "200")}, card, nil)
	if !errors.Is(err, ErrNoPricingTierFound) {
		t.Fatalf("expected no tier error, got %v", err)
	}
	if !errors.Is(err, ErrNoTransportRateFound) {
		t.Fatalf("expected no transport rate error, got %v", err)
	}
	if !IsConfigurationGap(err) {
		t.Fatalf("expected configuration gap")
	}
	if pricing.Complete {
		t.Fatalf("expected incomplete pricing")
	}
	if len(pricing.Issues) != 2 {
		t.Fatalf("expected two issues, got %+v", pricing.Issues)
	}
	if !pricing.LineItems.CatalogTotal.Equal(dec("200")) {
		t.Fatalf("expected line item totals to be populated, got %s", pricing.LineItems.CatalogTotal)
	}
	if !pricing.ClientTotal.IsZero() {
		t.Fatalf("expected no client total, got %s", pricing.ClientTotal)
	}
}

func TestComputePricingMarginOverride(t *testing.T) {
	order := testPricingOrder()
	card := testRateCard()

	t.Run("override with reason applies", func(t *testing.T) {
		pricing, err := ComputePricing(order, nil, card, &MarginOverrideInput{Percent: dec("30"), Reason: "strategic account"})
		if err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
		if !pricing.Margin.Overridden || !pricing.Margin.Percent.Equal(dec("30")) {
			t.Fatalf("expected override to apply, got %+v", pricing.Margin)
		}
		if pricing.Margin.OverrideReason == nil || *pricing.Margin.OverrideReason != "strategic account" {
			t.Fatalf("expected override reason, got %v", pricing.Margin.OverrideReason)
		}
		if !pricing.Margin.Amount.Equal(dec("450")) {
			t.Fatalf("expected margin 450, got %s", pricing.Margin.Amount)
		}
	})

	t.Run("override without reason ignored", func(t *testing.T) {
		pricing, _ := ComputePricing(order, nil, card, &MarginOverrideInput{Percent: dec("30")})
		if pricing.Margin.Overridden || !pricing.Margin.Percent.Equal(dec("25")) {
			t.Fatalf("expected default margin, got %+v", pricing.Margin)
		}
	})

	t.Run("override equal to default ignored", func(t *testing.T) {
		pricing, _ := ComputePricing(order, nil, card, &MarginOverrideInput{Percent: dec("25.00"), Reason: "same"})
		if pricing.Margin.Overridden {
			t.Fatalf("expected override to be ignored, got %+v", pricing.Margin)
		}
	})
}

func TestComputePricingVehicleChange(t *testing.T) {
	order := testPricingOrder()
	order.TransportVehicleType = "TRUCK_7T"
	order.VehicleChangeReason = valuePtr("fragile staging needs a bigger truck")

	pricing, err := ComputePricing(order, nil, testRateCard(), nil)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !pricing.Transport.VehicleChanged {
		t.Fatalf("expected vehicle change flag")
	}
	if !pricing.Transport.FinalRate.Equal(dec("900")) {
		t.Fatalf("expected 7T rate, got %s", pricing.Transport.FinalRate)
	}
	if pricing.Transport.VehicleChangeReason == nil {
		t.Fatalf("expected vehicle change reason")
	}
}

type stubRateLookup struct {
	card       RateCard
	cardErr    error
	services   map[string]ServiceType
	vehicles   []VehicleType
	invalidate int
}

func (s *stubRateLookup) RateCard(_ context.Context, companyID string) (RateCard, error) {
	if s.cardErr != nil {
		return RateCard{}, s.cardErr
	}
	card := s.card
	card.CompanyID = companyID
	return card, nil
}

func (s *stubRateLookup) CompanyMargin(context.Context, string) (decimal.Decimal, error) {
	if s.cardErr != nil {
		return decimal.Zero, s.cardErr
	}
	return s.card.MarginPercent, nil
}

func (s *stubRateLookup) ServiceType(_ context.Context, id string) (ServiceType, error) {
	service, ok := s.services[id]
	if !ok {
		return ServiceType{}, ErrNotFound
	}
	return service, nil
}

func (s *stubRateLookup) VehicleTypes(context.Context) ([]VehicleType, error) {
	if s.vehicles != nil {
		return s.vehicles, nil
	}
	return s.card.VehicleTypes, nil
}

func (s *stubRateLookup) Invalidate() { s.invalidate++ }

func TestPricingEngineUsesPersistedOverride(t *testing.T) {
	items := &stubLineItemRepo{}
	items.listFn = func(_ context.Context, filter repositories.LineItemFilter) ([]LineItem, error) {
		if filter.Target.OrderID != "ord_1" || filter.IncludeVoided {
			t.Fatalf("unexpected filter %+v", filter)
		}
		return []LineItem{catalogItem("li_1", "200")}, nil
	}
	engine, err := NewPricingEngine(PricingEngineDeps{Rates: &stubRateLookup{card: testRateCard()}, LineItems: items})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	order := testPricingOrder()
	order.MarginOverride = &domain.MarginOverride{Percent: dec("10"), Reason: "approved discount"}

	pricing, err := engine.Price(context.Background(), order, nil)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !pricing.Margin.Percent.Equal(dec("10")) || !pricing.Margin.Overridden {
		t.Fatalf("expected persisted override, got %+v", pricing.Margin)
	}
	if !pricing.ClientTotal.Equal(dec("1870")) {
		t.Fatalf("expected client total 1870, got %s", pricing.ClientTotal)
	}
}
