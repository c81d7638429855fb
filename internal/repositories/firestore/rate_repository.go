package firestore

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strings"

	"cloud.google.com/go/firestore"

	domain "github.com/eventops/fulfillment/internal/domain"
	pfirestore "github.com/eventops/fulfillment/internal/platform/firestore"
	"github.com/eventops/fulfillment/internal/repositories"
)

const (
	companiesCollection      = "companies"
	volumeTiersCollection    = "volumeTiers"
	transportRatesCollection = "transportRates"
	vehicleTypesCollection   = "vehicleTypes"
	serviceTypesCollection   = "serviceTypes"
)

// RateRepository reads pricing configuration maintained by administrators.
type RateRepository struct {
	companies    *pfirestore.Collection[companyDocument]
	tiers        *pfirestore.Collection[volumeTierDocument]
	transport    *pfirestore.Collection[transportRateDocument]
	vehicles     *pfirestore.Collection[vehicleTypeDocument]
	serviceTypes *pfirestore.Collection[serviceTypeDocument]
}

var _ repositories.RateRepository = (*RateRepository)(nil)

func NewRateRepository(provider *pfirestore.Provider) (*RateRepository, error) {
	if provider == nil {
		return nil, errors.New("rate repository requires firestore provider")
	}
	return &RateRepository{
		companies:    pfirestore.NewCollection[companyDocument](provider, companiesCollection),
		tiers:        pfirestore.NewCollection[volumeTierDocument](provider, volumeTiersCollection),
		transport:    pfirestore.NewCollection[transportRateDocument](provider, transportRatesCollection),
		vehicles:     pfirestore.NewCollection[vehicleTypeDocument](provider, vehicleTypesCollection),
		serviceTypes: pfirestore.NewCollection[serviceTypeDocument](provider, serviceTypesCollection),
	}, nil
}

func (r *RateRepository) GetCompany(ctx context.Context, companyID string) (domain.Company, error) {
	doc, err := r.companies.Get(ctx, strings.TrimSpace(companyID))
	if err != nil {
		return domain.Company{}, err
	}
	margin, err := parseDecimal(doc.Data.DefaultMarginPercent)
	if err != nil {
		return domain.Company{}, fmt.Errorf("decode company %s margin: %w", doc.ID, err)
	}
	return domain.Company{ID: doc.ID, Name: doc.Data.Name, DefaultMarginPercent: margin}, nil
}

func (r *RateRepository) ListVolumeTiers(ctx context.Context) ([]domain.VolumeTier, error) {
	docs, err := r.tiers.Query(ctx, nil)
	if err != nil {
		return nil, err
	}
	tiers := make([]domain.VolumeTier, 0, len(docs))
	for _, doc := range docs {
		minVolume, err := parseDecimal(doc.Data.MinVolume)
		if err != nil {
			return nil, fmt.Errorf("decode volume tier %s: %w", doc.ID, err)
		}
		rate, err := parseDecimal(doc.Data.Rate)
		if err != nil {
			return nil, fmt.Errorf("decode volume tier %s: %w", doc.ID, err)
		}
		tier := domain.VolumeTier{ID: doc.ID, MinVolume: minVolume, Rate: rate}
		if doc.Data.MaxVolume != nil {
			maxVolume, err := parseDecimal(*doc.Data.MaxVolume)
			if err != nil {
				return nil, fmt.Errorf("decode volume tier %s: %w", doc.ID, err)
			}
			tier.MaxVolume = &maxVolume
		}
		tiers = append(tiers, tier)
	}
	// Bounds are stored as decimal strings, so ordering happens here rather than in the query.
	sort.SliceStable(tiers, func(i, j int) bool { return tiers[i].MinVolume.LessThan(tiers[j].MinVolume) })
	return tiers, nil
}

func (r *RateRepository) ListTransportRates(ctx context.Context) ([]domain.TransportRate, error) {
	docs, err := r.transport.Query(ctx, nil)
	if err != nil {
		return nil, err
	}
	rates := make([]domain.TransportRate, 0, len(docs))
	for _, doc := range docs {
		rate, err := parseDecimal(doc.Data.Rate)
		if err != nil {
			return nil, fmt.Errorf("decode transport rate %s: %w", doc.ID, err)
		}
		rates = append(rates, domain.TransportRate{
			ID:          doc.ID,
			Emirate:     doc.Data.Emirate,
			TripType:    domain.TripType(doc.Data.TripType),
			VehicleType: doc.Data.VehicleType,
			Rate:        rate,
		})
	}
	return rates, nil
}

func (r *RateRepository) ListVehicleTypes(ctx context.Context) ([]domain.VehicleType, error) {
	docs, err := r.vehicles.Query(ctx, func(q firestore.Query) firestore.Query {
		return q.OrderBy("sortOrder", firestore.Asc)
	})
	if err != nil {
		return nil, err
	}
	vehicles := make([]domain.VehicleType, 0, len(docs))
	for _, doc := range docs {
		maxVolume, err := parseDecimal(doc.Data.MaxVolumeM3)
		if err != nil {
			return nil, fmt.Errorf("decode vehicle type %s: %w", doc.ID, err)
		}
		vehicles = append(vehicles, domain.VehicleType{
			Code:        doc.ID,
			Name:        doc.Data.Name,
			MaxVolumeM3: maxVolume,
			SortOrder:   doc.Data.SortOrder,
		})
	}
	return vehicles, nil
}

func (r *RateRepository) ListServiceTypes(ctx context.Context) ([]domain.ServiceType, error) {
	docs, err := r.serviceTypes.Query(ctx, nil)
	if err != nil {
		return nil, err
	}
	types := make([]domain.ServiceType, 0, len(docs))
	for _, doc := range docs {
		unitRate, err := parseDecimal(doc.Data.UnitRate)
		if err != nil {
			return nil, fmt.Errorf("decode service type %s: %w", doc.ID, err)
		}
		types = append(types, domain.ServiceType{
			ID:       doc.ID,
			Name:     doc.Data.Name,
			Category: doc.Data.Category,
			Unit:     doc.Data.Unit,
			UnitRate: unitRate,
			Active:   doc.Data.Active,
		})
	}
	return types, nil
}

type companyDocument struct {
	Name                 string `firestore:"name"`
	DefaultMarginPercent string `firestore:"defaultMarginPercent"`
}

type volumeTierDocument struct {
	MinVolume string  `firestore:"minVolume"`
	MaxVolume *string `firestore:"maxVolume,omitempty"`
	Rate      string  `firestore:"rate"`
}

type transportRateDocument struct {
	Emirate     string `firestore:"emirate"`
	TripType    string `firestore:"tripType"`
	VehicleType string `firestore:"vehicleType"`
	Rate        string `firestore:"rate"`
}

type vehicleTypeDocument struct {
	Name        string `firestore:"name"`
	MaxVolumeM3 string `firestore:"maxVolumeM3"`
	SortOrder   int    `firestore:"sortOrder"`
}

type serviceTypeDocument struct {
	Name     string `firestore:"name"`
	Category string `firestore:"category"`
	Unit     string `firestore:"unit"`
	UnitRate string `firestore:"unitRate"`
	Active   bool   `firestore:"active"`
}
