package firestore

import (
	"context"
	"errors"
	"strings"
	"time"

	"cloud.google.com/go/firestore"

	domain "github.com/eventops/fulfillment/internal/domain"
	pfirestore "github.com/eventops/fulfillment/internal/platform/firestore"
	"github.com/eventops/fulfillment/internal/repositories"
)

const reskinRequestsCollection = "reskinRequests"

// ReskinRepository persists reskin requests.
type ReskinRepository struct {
	base *pfirestore.Collection[reskinDocument]
}

var _ repositories.ReskinRepository = (*ReskinRepository)(nil)

func NewReskinRepository(provider *pfirestore.Provider) (*ReskinRepository, error) {
	if provider == nil {
		return nil, errors.New("reskin repository requires firestore provider")
	}
	return &ReskinRepository{
		base: pfirestore.NewCollection[reskinDocument](provider, reskinRequestsCollection),
	}, nil
}

func (r *ReskinRepository) Insert(ctx context.Context, reskin domain.ReskinRequest) error {
	if r == nil || r.base == nil {
		return errors.New("reskin repository not initialised")
	}
	return r.base.Create(ctx, reskin.ID, newReskinDocument(reskin))
}

func (r *ReskinRepository) Update(ctx context.Context, reskin domain.ReskinRequest) error {
	if r == nil || r.base == nil {
		return errors.New("reskin repository not initialised")
	}
	return r.base.Set(ctx, reskin.ID, newReskinDocument(reskin))
}

func (r *ReskinRepository) FindByID(ctx context.Context, reskinID string) (domain.ReskinRequest, error) {
	if r == nil || r.base == nil {
		return domain.ReskinRequest{}, errors.New("reskin repository not initialised")
	}
	doc, err := r.base.Get(ctx, strings.TrimSpace(reskinID))
	if err != nil {
		return domain.ReskinRequest{}, err
	}
	return doc.Data.toDomain(doc.ID), nil
}

func (r *ReskinRepository) ListByOrder(ctx context.Context, orderID string) ([]domain.ReskinRequest, error) {
	if r == nil || r.base == nil {
		return nil, errors.New("reskin repository not initialised")
	}
	docs, err := r.base.Query(ctx, func(q firestore.Query) firestore.Query {
		return q.Where("orderId", "==", strings.TrimSpace(orderID)).OrderBy("createdAt", firestore.Asc)
	})
	if err != nil {
		return nil, err
	}
	reskins := make([]domain.ReskinRequest, 0, len(docs))
	for _, doc := range docs {
		reskins = append(reskins, doc.Data.toDomain(doc.ID))
	}
	return reskins, nil
}

type reskinDocument struct {
	OrderID          string     `firestore:"orderId"`
	OriginalAssetID  string     `firestore:"originalAssetId"`
	TargetBrand      string     `firestore:"targetBrand"`
	Status           string     `firestore:"status"`
	NewAssetID       *string    `firestore:"newAssetId,omitempty"`
	CompletionPhotos []string   `firestore:"completionPhotos,omitempty"`
	CompletionNotes  *string    `firestore:"completionNotes,omitempty"`
	CancelReason     *string    `firestore:"cancelReason,omitempty"`
	CreatedBy        string     `firestore:"createdBy"`
	CreatedAt        time.Time  `firestore:"createdAt"`
	UpdatedAt        time.Time  `firestore:"updatedAt"`
	CompletedAt      *time.Time `firestore:"completedAt,omitempty"`
	CancelledAt      *time.Time `firestore:"cancelledAt,omitempty"`
}

func newReskinDocument(reskin domain.ReskinRequest) reskinDocument {
	return reskinDocument{
		OrderID:          reskin.OrderID,
		OriginalAssetID:  reskin.OriginalAssetID,
		TargetBrand:      reskin.TargetBrand,
		Status:           string(reskin.Status),
		NewAssetID:       reskin.NewAssetID,
		CompletionPhotos: reskin.CompletionPhotos,
		CompletionNotes:  reskin.CompletionNotes,
		CancelReason:     reskin.CancelReason,
		CreatedBy:        reskin.CreatedBy,
		CreatedAt:        reskin.CreatedAt.UTC(),
		UpdatedAt:        reskin.UpdatedAt.UTC(),
		CompletedAt:      utcPtr(reskin.CompletedAt),
		CancelledAt:      utcPtr(reskin.CancelledAt),
	}
}

func (d reskinDocument) toDomain(id string) domain.ReskinRequest {
	return domain.ReskinRequest{
		ID:               id,
		OrderID:          d.OrderID,
		OriginalAssetID:  d.OriginalAssetID,
		TargetBrand:      d.TargetBrand,
		Status:           domain.ReskinStatus(d.Status),
		NewAssetID:       d.NewAssetID,
		CompletionPhotos: d.CompletionPhotos,
		CompletionNotes:  d.CompletionNotes,
		CancelReason:     d.CancelReason,
		CreatedBy:        d.CreatedBy,
		CreatedAt:        d.CreatedAt.UTC(),
		UpdatedAt:        d.UpdatedAt.UTC(),
		CompletedAt:      utcPtr(d.CompletedAt),
		CancelledAt:      utcPtr(d.CancelledAt),
	}
}
