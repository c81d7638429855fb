package firestore

import (
	"context"
	"errors"
	"sort"
	"strings"

	domain "github.com/eventops/fulfillment/internal/domain"
	pfirestore "github.com/eventops/fulfillment/internal/platform/firestore"
	"github.com/eventops/fulfillment/internal/repositories"
)

const assetsCollection = "assets"

// AssetRepository reads bookable assets. Each asset document carries a bookingSeq counter that
// BookingRepository.Insert bumps, so concurrent reservations on the same asset conflict at commit.
type AssetRepository struct {
	base *pfirestore.Collection[assetDocument]
}

var _ repositories.AssetRepository = (*AssetRepository)(nil)

func NewAssetRepository(provider *pfirestore.Provider) (*AssetRepository, error) {
	if provider == nil {
		return nil, errors.New("asset repository requires firestore provider")
	}
	return &AssetRepository{
		base: pfirestore.NewCollection[assetDocument](provider, assetsCollection),
	}, nil
}

func (r *AssetRepository) FindByID(ctx context.Context, assetID string) (domain.Asset, error) {
	if r == nil || r.base == nil {
		return domain.Asset{}, errors.New("asset repository not initialised")
	}
	doc, err := r.base.Get(ctx, strings.TrimSpace(assetID))
	if err != nil {
		return domain.Asset{}, err
	}
	return doc.Data.toDomain(doc.ID), nil
}

// LockForBooking reads every asset through the ambient transaction in a stable order.
func (r *AssetRepository) LockForBooking(ctx context.Context, assetIDs []string) (map[string]domain.Asset, error) {
	if r == nil || r.base == nil {
		return nil, errors.New("asset repository not initialised")
	}
	if _, ok := pfirestore.TransactionFromContext(ctx); !ok {
		return nil, repositories.NewStoreError("assets.lock", repositories.ErrorCodeUnknown, "lock requires a transaction", nil)
	}
	ids := append([]string(nil), assetIDs...)
	sort.Strings(ids)

	assets := make(map[string]domain.Asset, len(ids))
	for _, id := range ids {
		if _, seen := assets[id]; seen {
			continue
		}
		doc, err := r.base.Get(ctx, id)
		if err != nil {
			return nil, err
		}
		assets[id] = doc.Data.toDomain(doc.ID)
	}
	return assets, nil
}

type assetDocument struct {
	Name          string `firestore:"name"`
	TotalQuantity int    `firestore:"totalQuantity"`
	BookingSeq    int64  `firestore:"bookingSeq"`
}

func (d assetDocument) toDomain(id string) domain.Asset {
	return domain.Asset{ID: id, Name: d.Name, TotalQuantity: d.TotalQuantity}
}
