package postgres

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/shopspring/decimal"

	domain "github.com/eventops/fulfillment/internal/domain"
	ppostgres "github.com/eventops/fulfillment/internal/platform/postgres"
	"github.com/eventops/fulfillment/internal/repositories"
)

// RateRepository reads pricing configuration tables.
type RateRepository struct {
	db *ppostgres.DB
}

var _ repositories.RateRepository = (*RateRepository)(nil)

func NewRateRepository(db *ppostgres.DB) (*RateRepository, error) {
	if db == nil {
		return nil, errors.New("rate repository requires postgres db")
	}
	return &RateRepository{db: db}, nil
}

func (r *RateRepository) GetCompany(ctx context.Context, companyID string) (domain.Company, error) {
	var row struct {
		ID     string `db:"id"`
		Name   string `db:"name"`
		Margin string `db:"default_margin_percent"`
	}
	err := r.db.Get(ctx, "companies.get", &row, `
		SELECT id, name, default_margin_percent::text AS default_margin_percent
		FROM companies WHERE id = $1`, strings.TrimSpace(companyID))
	if err != nil {
		return domain.Company{}, err
	}
	margin, err := decimal.NewFromString(row.Margin)
	if err != nil {
		return domain.Company{}, fmt.Errorf("decode company %s margin: %w", row.ID, err)
	}
	return domain.Company{ID: row.ID, Name: row.Name, DefaultMarginPercent: margin}, nil
}

func (r *RateRepository) ListVolumeTiers(ctx context.Context) ([]domain.VolumeTier, error) {
	var rows []struct {
		ID        string  `db:"id"`
		MinVolume string  `db:"min_volume"`
		MaxVolume *string `db:"max_volume"`
		Rate      string  `db:"rate"`
	}
	err := r.db.Select(ctx, "volume_tiers.list", &rows, `
		SELECT id, min_volume::text AS min_volume, max_volume::text AS max_volume, rate::text AS rate
		FROM volume_tiers ORDER BY min_volume, id`)
	if err != nil {
		return nil, err
	}
	tiers := make([]domain.VolumeTier, 0, len(rows))
	for _, row := range rows {
		minVolume, err := decimal.NewFromString(row.MinVolume)
		if err != nil {
			return nil, fmt.Errorf("decode volume tier %s: %w", row.ID, err)
		}
		rate, err := decimal.NewFromString(row.Rate)
		if err != nil {
			return nil, fmt.Errorf("decode volume tier %s: %w", row.ID, err)
		}
		tier := domain.VolumeTier{ID: row.ID, MinVolume: minVolume, Rate: rate}
		if row.MaxVolume != nil {
			maxVolume, err := decimal.NewFromString(*row.MaxVolume)
			if err != nil {
				return nil, fmt.Errorf("decode volume tier %s: %w", row.ID, err)
			}
			tier.MaxVolume = &maxVolume
		}
		tiers = append(tiers, tier)
	}
	return tiers, nil
}

func (r *RateRepository) ListTransportRates(ctx context.Context) ([]domain.TransportRate, error) {
	var rows []struct {
		ID          string `db:"id"`
		Emirate     string `db:"emirate"`
		TripType    string `db:"trip_type"`
		VehicleType string `db:"vehicle_type"`
		Rate        string `db:"rate"`
	}
	err := r.db.Select(ctx, "transport_rates.list", &rows, `
		SELECT id, emirate, trip_type, vehicle_type, rate::text AS rate
		FROM transport_rates ORDER BY emirate, trip_type, vehicle_type`)
	if err != nil {
		return nil, err
	}
	rates := make([]domain.TransportRate, 0, len(rows))
	for _, row := range rows {
		rate, err := decimal.NewFromString(row.Rate)
		if err != nil {
			return nil, fmt.Errorf("decode transport rate %s: %w", row.ID, err)
		}
		rates = append(rates, domain.TransportRate{
			ID:          row.ID,
			Emirate:     row.Emirate,
			TripType:    domain.TripType(row.TripType),
			VehicleType: row.VehicleType,
			Rate:        rate,
		})
	}
	return rates, nil
}

func (r *RateRepository) ListVehicleTypes(ctx context.Context) ([]domain.VehicleType, error) {
	var rows []struct {
		Code        string `db:"code"`
		Name        string `db:"name"`
		MaxVolumeM3 string `db:"max_volume_m3"`
		SortOrder   int    `db:"sort_order"`
	}
	err := r.db.Select(ctx, "vehicle_types.list", &rows, `
		SELECT code, name, max_volume_m3::text AS max_volume_m3, sort_order
		FROM vehicle_types ORDER BY sort_order, code`)
	if err != nil {
		return nil, err
	}
	vehicles := make([]domain.VehicleType, 0, len(rows))
	for _, row := range rows {
		maxVolume, err := decimal.NewFromString(row.MaxVolumeM3)
		if err != nil {
			return nil, fmt.Errorf("decode vehicle type %s: %w", row.Code, err)
		}
		vehicles = append(vehicles, domain.VehicleType{
			Code:        row.Code,
			Name:        row.Name,
			MaxVolumeM3: maxVolume,
			SortOrder:   row.SortOrder,
		})
	}
	return vehicles, nil
}

func (r *RateRepository) ListServiceTypes(ctx context.Context) ([]domain.ServiceType, error) {
	var rows []struct {
		ID       string `db:"id"`
		Name     string `db:"name"`
		Category string `db:"category"`
		Unit     string `db:"unit"`
		UnitRate string `db:"unit_rate"`
		Active   bool   `db:"active"`
	}
	err := r.db.Select(ctx, "service_types.list", &rows, `
		SELECT id, name, category, unit, unit_rate::text AS unit_rate, active
		FROM service_types ORDER BY name, id`)
	if err != nil {
		return nil, err
	}
	types := make([]domain.ServiceType, 0, len(rows))
	for _, row := range rows {
		unitRate, err := decimal.NewFromString(row.UnitRate)
		if err != nil {
			return nil, fmt.Errorf("decode service type %s: %w", row.ID, err)
		}
		types = append(types, domain.ServiceType{
			ID:       row.ID,
			Name:     row.Name,
			Category: row.Category,
			Unit:     row.Unit,
			UnitRate: unitRate,
			Active:   row.Active,
		})
	}
	return types, nil
}
