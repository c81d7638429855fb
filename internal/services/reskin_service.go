package services

import (
	"context"
	"errors"
	"fmt"
	"slices"
	"strings"
	"time"

	"github.com/oklog/ulid/v2"

	domain "github.com/eventops/fulfillment/internal/domain"
	"github.com/eventops/fulfillment/internal/platform/textutil"
	"github.com/eventops/fulfillment/internal/repositories"
)

const reskinIDPrefix = "rsk_"

// reskinOpenStatuses are the order statuses in which new reskin requests may be raised.
var reskinOpenStatuses = []domain.OrderStatus{
	domain.OrderStatusDraft,
	domain.OrderStatusSubmitted,
	domain.OrderStatusPricingReview,
	domain.OrderStatusPendingApproval,
	domain.OrderStatusQuoted,
	domain.OrderStatusConfirmed,
	domain.OrderStatusAwaitingFabrication,
}

// ReskinServiceDeps bundles collaborators for the fabrication sub-workflow.
type ReskinServiceDeps struct {
	Reskins     repositories.ReskinRepository
	Orders      repositories.OrderRepository
	Policy      RolePolicy
	References  ReferenceVerifier
	UnitOfWork  repositories.UnitOfWork
	Clock       func() time.Time
	IDGenerator func() string
	Logger      func(ctx context.Context, event string, fields map[string]any)
}

type reskinService struct {
	reskins    repositories.ReskinRepository
	orders     repositories.OrderRepository
	policy     RolePolicy
	references ReferenceVerifier
	unitOfWork repositories.UnitOfWork
	clock      func() time.Time
	newID      func() string
	logger     func(context.Context, string, map[string]any)
}

// NewReskinService wires dependencies into a ReskinService.
func NewReskinService(deps ReskinServiceDeps) (ReskinService, error) {
	if deps.Reskins == nil {
		return nil, errors.New("reskin service: reskin repository is required")
	}
	if deps.Orders == nil {
		return nil, errors.New("reskin service: order repository is required")
	}
	if deps.Policy == nil {
		return nil, errors.New("reskin service: role policy is required")
	}
	unit := deps.UnitOfWork
	if unit == nil {
		unit = noopUnitOfWork{}
	}
	clock := deps.Clock
	if clock == nil {
		clock = time.Now
	}
	idGen := deps.IDGenerator
	if idGen == nil {
		idGen = func() string { return ulid.Make().String() }
	}
	logger := deps.Logger
	if logger == nil {
		logger = func(context.Context, string, map[string]any) {}
	}
	return &reskinService{
		reskins:    deps.Reskins,
		orders:     deps.Orders,
		policy:     deps.Policy,
		references: deps.References,
		unitOfWork: unit,
		clock: func() time.Time {
			return clock().UTC()
		},
		newID:  idGen,
		logger: logger,
	}, nil
}

func (s *reskinService) CreateReskin(ctx context.Context, cmd CreateReskinCommand) (ReskinRequest, error) {
	orderID := strings.TrimSpace(cmd.OrderID)
	assetID := strings.TrimSpace(cmd.OriginalAssetID)
	brand := textutil.Sanitize(cmd.TargetBrand)
	switch {
	case orderID == "":
		return ReskinRequest{}, fmt.Errorf("%w: order id is required", ErrInvalidInput)
	case assetID == "":
		return ReskinRequest{}, fmt.Errorf("%w: original asset id is required", ErrInvalidInput)
	case brand == "":
		return ReskinRequest{}, fmt.Errorf("%w: target brand is required", ErrInvalidInput)
	}
	if err := s.policy.Authorize(cmd.Actor, ActionReskinCreate); err != nil {
		return ReskinRequest{}, err
	}

	var reskin ReskinRequest
	err := s.unitOfWork.RunInTx(ctx, func(txCtx context.Context) error {
		order, err := s.lockOrder(txCtx, cmd.Actor, orderID)
		if err != nil {
			return err
		}
		if !slices.Contains(reskinOpenStatuses, order.Status) {
			return fmt.Errorf("%w: order %s no longer accepts reskin requests in status %s", ErrConflict, order.ID, order.Status)
		}
		if !slices.ContainsFunc(order.Items, func(item OrderItem) bool { return item.AssetID == assetID }) {
			return fmt.Errorf("%w: asset %s is not part of order %s", ErrInvalidInput, assetID, order.ID)
		}
		existing, err := s.reskins.ListByOrder(txCtx, order.ID)
		if err != nil {
			return mapRepositoryError(err, "reskins of order "+order.ID)
		}
		if slices.ContainsFunc(existing, func(r ReskinRequest) bool {
			return r.OriginalAssetID == assetID && r.Status == domain.ReskinStatusPending
		}) {
			return fmt.Errorf("%w: asset %s already has a pending reskin request", ErrConflict, assetID)
		}

		now := s.clock()
		reskin = ReskinRequest{
			ID:              reskinIDPrefix + s.newID(),
			OrderID:         order.ID,
			OriginalAssetID: assetID,
			TargetBrand:     brand,
			Status:          domain.ReskinStatusPending,
			CreatedBy:       cmd.Actor.ID,
			CreatedAt:       now,
			UpdatedAt:       now,
		}
		if err := s.reskins.Insert(txCtx, reskin); err != nil {
			return mapRepositoryError(err, "reskin")
		}
		return nil
	})
	if err != nil {
		return ReskinRequest{}, err
	}

	s.logger(ctx, "reskin.created", map[string]any{
		"reskinId": reskin.ID,
		"orderId":  reskin.OrderID,
		"assetId":  reskin.OriginalAssetID,
	})
	return reskin, nil
}

func (s *reskinService) CompleteReskin(ctx context.Context, cmd CompleteReskinCommand) (ReskinRequest, error) {
	newAssetID := strings.TrimSpace(cmd.NewAssetID)
	if newAssetID == "" {
		return ReskinRequest{}, fmt.Errorf("%w: new asset id is required", ErrInvalidInput)
	}
	photos := make([]string, 0, len(cmd.Photos))
	for _, ref := range cmd.Photos {
		if trimmed := strings.TrimSpace(ref); trimmed != "" {
			photos = append(photos, trimmed)
		}
	}
	if err := s.policy.Authorize(cmd.Actor, ActionReskinComplete); err != nil {
		return ReskinRequest{}, err
	}
	if len(photos) > 0 && s.references != nil {
		if err := s.references.VerifyReferences(ctx, photos); err != nil {
			return ReskinRequest{}, fmt.Errorf("%w: %v", ErrInvalidInput, err)
		}
	}
	notes := textutil.SanitizePtr(cmd.Notes)

	return s.resolve(ctx, cmd.Actor, cmd.ReskinID, "reskin.completed", func(reskin *ReskinRequest, now time.Time) {
		reskin.Status = domain.ReskinStatusComplete
		reskin.NewAssetID = &newAssetID
		reskin.CompletionPhotos = photos
		reskin.CompletionNotes = notes
		reskin.CompletedAt = &now
	})
}

func (s *reskinService) CancelReskin(ctx context.Context, cmd CancelReskinCommand) (ReskinRequest, error) {
	reason, err := requireReason(textutil.Sanitize(cmd.Reason))
	if err != nil {
		return ReskinRequest{}, err
	}
	if err := s.policy.Authorize(cmd.Actor, ActionReskinCancel); err != nil {
		return ReskinRequest{}, err
	}
	return s.resolve(ctx, cmd.Actor, cmd.ReskinID, "reskin.cancelled", func(reskin *ReskinRequest, now time.Time) {
		reskin.Status = domain.ReskinStatusCancelled
		reskin.CancelReason = &reason
		reskin.CancelledAt = &now
	})
}

// resolve moves a pending reskin to a final status while holding the owning order's lock, so
// the change serialises with the order leaving AWAITING_FABRICATION.
func (s *reskinService) resolve(ctx context.Context, actor Actor, reskinID, event string, mutate func(*ReskinRequest, time.Time)) (ReskinRequest, error) {
	reskinID = strings.TrimSpace(reskinID)
	if reskinID == "" {
		return ReskinRequest{}, fmt.Errorf("%w: reskin id is required", ErrInvalidInput)
	}

	var updated ReskinRequest
	err := s.unitOfWork.RunInTx(ctx, func(txCtx context.Context) error {
		reskin, err := s.reskins.FindByID(txCtx, reskinID)
		if err != nil {
			return mapRepositoryError(err, "reskin "+reskinID)
		}
		if _, err := s.lockOrder(txCtx, actor, reskin.OrderID); err != nil {
			return err
		}
		if reskin.Status != domain.ReskinStatusPending {
			return fmt.Errorf("%w: reskin %s is %s", ErrConflict, reskin.ID, reskin.Status)
		}
		now := s.clock()
		mutate(&reskin, now)
		reskin.UpdatedAt = now
		if err := s.reskins.Update(txCtx, reskin); err != nil {
			return mapRepositoryError(err, "reskin "+reskinID)
		}
		updated = reskin
		return nil
	})
	if err != nil {
		return ReskinRequest{}, err
	}

	s.logger(ctx, event, map[string]any{
		"reskinId": updated.ID,
		"orderId":  updated.OrderID,
		"actor":    actor.ID,
	})
	return updated, nil
}

func (s *reskinService) ListReskins(ctx context.Context, cmd ListReskinsCommand) ([]ReskinRequest, error) {
	orderID := strings.TrimSpace(cmd.OrderID)
	if orderID == "" {
		return nil, fmt.Errorf("%w: order id is required", ErrInvalidInput)
	}
	order, err := s.orders.FindByID(ctx, orderID)
	if err != nil {
		return nil, mapRepositoryError(err, "order "+orderID)
	}
	if err := authorizeOrder(s.policy, cmd.Actor, ActionReskinRead, order); err != nil {
		return nil, err
	}
	reskins, err := s.reskins.ListByOrder(ctx, orderID)
	if err != nil {
		return nil, mapRepositoryError(err, "reskins of order "+orderID)
	}
	return reskins, nil
}

func (s *reskinService) lockOrder(ctx context.Context, actor Actor, orderID string) (Order, error) {
	order, err := s.orders.LockByID(ctx, orderID)
	if err != nil {
		return Order{}, mapRepositoryError(err, "order "+orderID)
	}
	if !actor.CanAccessCompany(order.CompanyID) {
		return Order{}, fmt.Errorf("%w: actor cannot access company %s", ErrForbidden, order.CompanyID)
	}
	return order, nil
}
