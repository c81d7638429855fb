package postgres

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strings"

	domain "github.com/eventops/fulfillment/internal/domain"
	ppostgres "github.com/eventops/fulfillment/internal/platform/postgres"
	"github.com/eventops/fulfillment/internal/repositories"
)

// AssetRepository reads the assets table.
type AssetRepository struct {
	db *ppostgres.DB
}

var _ repositories.AssetRepository = (*AssetRepository)(nil)

func NewAssetRepository(db *ppostgres.DB) (*AssetRepository, error) {
	if db == nil {
		return nil, errors.New("asset repository requires postgres db")
	}
	return &AssetRepository{db: db}, nil
}

type assetRow struct {
	ID            string `db:"id"`
	Name          string `db:"name"`
	TotalQuantity int    `db:"total_quantity"`
}

func (r *AssetRepository) FindByID(ctx context.Context, assetID string) (domain.Asset, error) {
	var row assetRow
	if err := r.db.Get(ctx, "assets.get", &row, `SELECT id, name, total_quantity FROM assets WHERE id = $1`, strings.TrimSpace(assetID)); err != nil {
		return domain.Asset{}, err
	}
	return domain.Asset(row), nil
}

// LockForBooking row-locks the assets in id order so that two reservations touching the same
// assets queue instead of deadlocking.
func (r *AssetRepository) LockForBooking(ctx context.Context, assetIDs []string) (map[string]domain.Asset, error) {
	if !ppostgres.InTx(ctx) {
		return nil, errors.New("assets.lock: lock requires a transaction")
	}
	seen := make(map[string]struct{}, len(assetIDs))
	ids := make([]string, 0, len(assetIDs))
	for _, id := range assetIDs {
		id = strings.TrimSpace(id)
		if _, ok := seen[id]; ok || id == "" {
			continue
		}
		seen[id] = struct{}{}
		ids = append(ids, id)
	}
	sort.Strings(ids)

	var rows []assetRow
	err := r.db.Select(ctx, "assets.lock", &rows, `
		SELECT id, name, total_quantity FROM assets WHERE id = ANY($1) ORDER BY id FOR UPDATE`, ids)
	if err != nil {
		return nil, err
	}
	assets := make(map[string]domain.Asset, len(rows))
	for _, row := range rows {
		assets[row.ID] = domain.Asset(row)
	}
	for _, id := range ids {
		if _, ok := assets[id]; !ok {
			return nil, ppostgres.NotFound("assets.lock", fmt.Sprintf("asset %s not found", id))
		}
	}
	return assets, nil
}
