// Package ratefile serves the rate catalog from a YAML file. It backs local development and
// deployments that keep pricing configuration under version control.
package ratefile

import (
	"context"
	"errors"
	"fmt"
	"os"
	"sort"
	"strings"

	"github.com/shopspring/decimal"
	"gopkg.in/yaml.v3"

	domain "github.com/eventops/fulfillment/internal/domain"
	"github.com/eventops/fulfillment/internal/repositories"
)

type catalogFile struct {
	Companies      []companyEntry       `yaml:"companies"`
	VolumeTiers    []volumeTierEntry    `yaml:"volume_tiers"`
	TransportRates []transportRateEntry `yaml:"transport_rates"`
	VehicleTypes   []vehicleTypeEntry   `yaml:"vehicle_types"`
	ServiceTypes   []serviceTypeEntry   `yaml:"service_types"`
}

type companyEntry struct {
	ID                   string `yaml:"id"`
	Name                 string `yaml:"name"`
	DefaultMarginPercent string `yaml:"default_margin_percent"`
}

type volumeTierEntry struct {
	ID        string  `yaml:"id"`
	MinVolume string  `yaml:"min_volume"`
	MaxVolume *string `yaml:"max_volume"`
	Rate      string  `yaml:"rate"`
}

type transportRateEntry struct {
	ID          string `yaml:"id"`
	Emirate     string `yaml:"emirate"`
	TripType    string `yaml:"trip_type"`
	VehicleType string `yaml:"vehicle_type"`
	Rate        string `yaml:"rate"`
}

type vehicleTypeEntry struct {
	Code        string `yaml:"code"`
	Name        string `yaml:"name"`
	MaxVolumeM3 string `yaml:"max_volume_m3"`
	SortOrder   int    `yaml:"sort_order"`
}

type serviceTypeEntry struct {
	ID       string `yaml:"id"`
	Name     string `yaml:"name"`
	Category string `yaml:"category"`
	Unit     string `yaml:"unit"`
	UnitRate string `yaml:"unit_rate"`
	Active   *bool  `yaml:"active"`
}

// Repository is an immutable, fully decoded rate catalog.
type Repository struct {
	companies      map[string]domain.Company
	volumeTiers    []domain.VolumeTier
	transportRates []domain.TransportRate
	vehicleTypes   []domain.VehicleType
	serviceTypes   []domain.ServiceType
}

var _ repositories.RateRepository = (*Repository)(nil)

// Load reads and decodes the catalog at path.
func Load(path string) (*Repository, error) {
	path = strings.TrimSpace(path)
	if path == "" {
		return nil, errors.New("ratefile: path is required")
	}
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("ratefile: read %s: %w", path, err)
	}
	repo, err := Parse(raw)
	if err != nil {
		return nil, fmt.Errorf("ratefile: %s: %w", path, err)
	}
	return repo, nil
}

// Parse decodes a YAML catalog. Amounts are written as strings so they round-trip exactly.
func Parse(raw []byte) (*Repository, error) {
	var file catalogFile
	if err := yaml.Unmarshal(raw, &file); err != nil {
		return nil, fmt.Errorf("decode catalog: %w", err)
	}

	repo := &Repository{companies: make(map[string]domain.Company, len(file.Companies))}
	for _, entry := range file.Companies {
		id := strings.TrimSpace(entry.ID)
		if id == "" {
			return nil, errors.New("company id is required")
		}
		margin, err := decimal.NewFromString(entry.DefaultMarginPercent)
		if err != nil {
			return nil, fmt.Errorf("company %s margin: %w", id, err)
		}
		repo.companies[id] = domain.Company{ID: id, Name: entry.Name, DefaultMarginPercent: margin}
	}

	for _, entry := range file.VolumeTiers {
		minVolume, err := decimal.NewFromString(entry.MinVolume)
		if err != nil {
			return nil, fmt.Errorf("volume tier %s min: %w", entry.ID, err)
		}
		rate, err := decimal.NewFromString(entry.Rate)
		if err != nil {
			return nil, fmt.Errorf("volume tier %s rate: %w", entry.ID, err)
		}
		tier := domain.VolumeTier{ID: entry.ID, MinVolume: minVolume, Rate: rate}
		if entry.MaxVolume != nil {
			maxVolume, err := decimal.NewFromString(*entry.MaxVolume)
			if err != nil {
				return nil, fmt.Errorf("volume tier %s max: %w", entry.ID, err)
			}
			tier.MaxVolume = &maxVolume
		}
		repo.volumeTiers = append(repo.volumeTiers, tier)
	}
	sort.SliceStable(repo.volumeTiers, func(i, j int) bool {
		return repo.volumeTiers[i].MinVolume.LessThan(repo.volumeTiers[j].MinVolume)
	})

	for _, entry := range file.TransportRates {
		rate, err := decimal.NewFromString(entry.Rate)
		if err != nil {
			return nil, fmt.Errorf("transport rate %s: %w", entry.ID, err)
		}
		repo.transportRates = append(repo.transportRates, domain.TransportRate{
			ID:          entry.ID,
			Emirate:     entry.Emirate,
			TripType:    domain.TripType(strings.ToUpper(strings.TrimSpace(entry.TripType))),
			VehicleType: entry.VehicleType,
			Rate:        rate,
		})
	}

	for _, entry := range file.VehicleTypes {
		maxVolume, err := decimal.NewFromString(entry.MaxVolumeM3)
		if err != nil {
			return nil, fmt.Errorf("vehicle type %s: %w", entry.Code, err)
		}
		repo.vehicleTypes = append(repo.vehicleTypes, domain.VehicleType{
			Code:        entry.Code,
			Name:        entry.Name,
			MaxVolumeM3: maxVolume,
			SortOrder:   entry.SortOrder,
		})
	}
	sort.SliceStable(repo.vehicleTypes, func(i, j int) bool {
		return repo.vehicleTypes[i].SortOrder < repo.vehicleTypes[j].SortOrder
	})

	for _, entry := range file.ServiceTypes {
		unitRate, err := decimal.NewFromString(entry.UnitRate)
		if err != nil {
			return nil, fmt.Errorf("service type %s: %w", entry.ID, err)
		}
		active := true
		if entry.Active != nil {
			active = *entry.Active
		}
		repo.serviceTypes = append(repo.serviceTypes, domain.ServiceType{
			ID:       entry.ID,
			Name:     entry.Name,
			Category: entry.Category,
			Unit:     entry.Unit,
			UnitRate: unitRate,
			Active:   active,
		})
	}
	return repo, nil
}

func (r *Repository) GetCompany(_ context.Context, companyID string) (domain.Company, error) {
	company, ok := r.companies[strings.TrimSpace(companyID)]
	if !ok {
		return domain.Company{}, repositories.NotFound("ratefile.company", fmt.Sprintf("company %s not found", companyID))
	}
	return company, nil
}

func (r *Repository) ListVolumeTiers(context.Context) ([]domain.VolumeTier, error) {
	return append([]domain.VolumeTier(nil), r.volumeTiers...), nil
}

func (r *Repository) ListTransportRates(context.Context) ([]domain.TransportRate, error) {
	return append([]domain.TransportRate(nil), r.transportRates...), nil
}

func (r *Repository) ListVehicleTypes(context.Context) ([]domain.VehicleType, error) {
	return append([]domain.VehicleType(nil), r.vehicleTypes...), nil
}

func (r *Repository) ListServiceTypes(context.Context) ([]domain.ServiceType, error) {
	return append([]domain.ServiceType(nil), r.serviceTypes...), nil
}
