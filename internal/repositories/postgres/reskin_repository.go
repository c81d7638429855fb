package postgres

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	domain "github.com/eventops/fulfillment/internal/domain"
	ppostgres "github.com/eventops/fulfillment/internal/platform/postgres"
	"github.com/eventops/fulfillment/internal/repositories"
)

const reskinColumns = `id, order_id, original_asset_id, target_brand, status, new_asset_id,
	completion_photos::text AS completion_photos, completion_notes, cancel_reason, created_by,
	created_at, updated_at, completed_at, cancelled_at`

// ReskinRepository stores rows in reskin_requests.
type ReskinRepository struct {
	db *ppostgres.DB
}

var _ repositories.ReskinRepository = (*ReskinRepository)(nil)

func NewReskinRepository(db *ppostgres.DB) (*ReskinRepository, error) {
	if db == nil {
		return nil, errors.New("reskin repository requires postgres db")
	}
	return &ReskinRepository{db: db}, nil
}

func (r *ReskinRepository) Insert(ctx context.Context, reskin domain.ReskinRequest) error {
	args, err := reskinArgs(reskin)
	if err != nil {
		return err
	}
	_, err = r.db.Exec(ctx, "reskin_requests.insert", `
		INSERT INTO reskin_requests (
			id, order_id, original_asset_id, target_brand, status, new_asset_id, completion_photos,
			completion_notes, cancel_reason, created_by, created_at, updated_at, completed_at, cancelled_at
		) VALUES ($1, $2, $3, $4, $5, $6, $7::jsonb, $8, $9, $10, $11, $12, $13, $14)`, args...)
	return err
}

func (r *ReskinRepository) Update(ctx context.Context, reskin domain.ReskinRequest) error {
	args, err := reskinArgs(reskin)
	if err != nil {
		return err
	}
	tag, err := r.db.Exec(ctx, "reskin_requests.update", `
		UPDATE reskin_requests SET
			order_id = $2, original_asset_id = $3, target_brand = $4, status = $5, new_asset_id = $6,
			completion_photos = $7::jsonb, completion_notes = $8, cancel_reason = $9, created_by = $10,
			created_at = $11, updated_at = $12, completed_at = $13, cancelled_at = $14
		WHERE id = $1`, args...)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return ppostgres.NotFound("reskin_requests.update", fmt.Sprintf("reskin request %s not found", reskin.ID))
	}
	return nil
}

func (r *ReskinRepository) FindByID(ctx context.Context, reskinID string) (domain.ReskinRequest, error) {
	var row reskinRow
	if err := r.db.Get(ctx, "reskin_requests.get", &row, `SELECT `+reskinColumns+` FROM reskin_requests WHERE id = $1`, strings.TrimSpace(reskinID)); err != nil {
		return domain.ReskinRequest{}, err
	}
	return row.toDomain()
}

func (r *ReskinRepository) ListByOrder(ctx context.Context, orderID string) ([]domain.ReskinRequest, error) {
	var rows []reskinRow
	err := r.db.Select(ctx, "reskin_requests.by_order", &rows, `
		SELECT `+reskinColumns+` FROM reskin_requests WHERE order_id = $1 ORDER BY created_at, id`, strings.TrimSpace(orderID))
	if err != nil {
		return nil, err
	}
	reskins := make([]domain.ReskinRequest, 0, len(rows))
	for _, row := range rows {
		reskin, err := row.toDomain()
		if err != nil {
			return nil, err
		}
		reskins = append(reskins, reskin)
	}
	return reskins, nil
}

func reskinArgs(reskin domain.ReskinRequest) ([]any, error) {
	var photos *string
	if len(reskin.CompletionPhotos) > 0 {
		raw, err := json.Marshal(reskin.CompletionPhotos)
		if err != nil {
			return nil, fmt.Errorf("encode reskin %s photos: %w", reskin.ID, err)
		}
		photos = stringPtr(string(raw))
	}
	return []any{
		reskin.ID,
		reskin.OrderID,
		reskin.OriginalAssetID,
		reskin.TargetBrand,
		string(reskin.Status),
		reskin.NewAssetID,
		photos,
		reskin.CompletionNotes,
		reskin.CancelReason,
		reskin.CreatedBy,
		reskin.CreatedAt.UTC(),
		reskin.UpdatedAt.UTC(),
		utcPtr(reskin.CompletedAt),
		utcPtr(reskin.CancelledAt),
	}, nil
}

type reskinRow struct {
	ID               string     `db:"id"`
	OrderID          string     `db:"order_id"`
	OriginalAssetID  string     `db:"original_asset_id"`
	TargetBrand      string     `db:"target_brand"`
	Status           string     `db:"status"`
	NewAssetID       *string    `db:"new_asset_id"`
	CompletionPhotos *string    `db:"completion_photos"`
	CompletionNotes  *string    `db:"completion_notes"`
	CancelReason     *string    `db:"cancel_reason"`
	CreatedBy        string     `db:"created_by"`
	CreatedAt        time.Time  `db:"created_at"`
	UpdatedAt        time.Time  `db:"updated_at"`
	CompletedAt      *time.Time `db:"completed_at"`
	CancelledAt      *time.Time `db:"cancelled_at"`
}

func (row reskinRow) toDomain() (domain.ReskinRequest, error) {
	var photos []string
	if row.CompletionPhotos != nil {
		if err := json.Unmarshal([]byte(*row.CompletionPhotos), &photos); err != nil {
			return domain.ReskinRequest{}, fmt.Errorf("decode reskin %s photos: %w", row.ID, err)
		}
	}
	return domain.ReskinRequest{
		ID:               row.ID,
		OrderID:          row.OrderID,
		OriginalAssetID:  row.OriginalAssetID,
		TargetBrand:      row.TargetBrand,
		Status:           domain.ReskinStatus(row.Status),
		NewAssetID:       row.NewAssetID,
		CompletionPhotos: photos,
		CompletionNotes:  row.CompletionNotes,
		CancelReason:     row.CancelReason,
		CreatedBy:        row.CreatedBy,
		CreatedAt:        row.CreatedAt.UTC(),
		UpdatedAt:        row.UpdatedAt.UTC(),
		CompletedAt:      utcPtr(row.CompletedAt),
		CancelledAt:      utcPtr(row.CancelledAt),
	}, nil
}
