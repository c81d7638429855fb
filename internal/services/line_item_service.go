package services

import (
	"context"
	"errors"
	"fmt"
	"maps"
	"slices"
	"strings"
	"time"

	"github.com/oklog/ulid/v2"
	"github.com/shopspring/decimal"

	domain "github.com/eventops/fulfillment/internal/domain"
	"github.com/eventops/fulfillment/internal/platform/textutil"
	"github.com/eventops/fulfillment/internal/repositories"
)

const lineItemIDPrefix = "li_"

// editableLineItemStatuses are the order statuses in which the ledger of an order may change.
var editableLineItemStatuses = []domain.OrderStatus{
	domain.OrderStatusDraft,
	domain.OrderStatusSubmitted,
	domain.OrderStatusPricingReview,
	domain.OrderStatusPendingApproval,
}

// LineItemServiceDeps bundles collaborators required by the line item ledger.
type LineItemServiceDeps struct {
	LineItems   repositories.LineItemRepository
	Orders      repositories.OrderRepository
	Rates       RateLookup
	Policy      RolePolicy
	References  ReferenceVerifier
	UnitOfWork  repositories.UnitOfWork
	Clock       func() time.Time
	IDGenerator func() string
	Logger      func(ctx context.Context, event string, fields map[string]any)
}

type lineItemService struct {
	lineItems  repositories.LineItemRepository
	orders     repositories.OrderRepository
	rates      RateLookup
	policy     RolePolicy
	references ReferenceVerifier
	unitOfWork repositories.UnitOfWork
	clock      func() time.Time
	newID      func() string
	logger     func(context.Context, string, map[string]any)
}

// NewLineItemService wires dependencies into a LineItemService.
func NewLineItemService(deps LineItemServiceDeps) (LineItemService, error) {
	if deps.LineItems == nil {
		return nil, errors.New("line item service: line item repository is required")
	}
	if deps.Orders == nil {
		return nil, errors.New("line item service: order repository is required")
	}
	if deps.Rates == nil {
		return nil, errors.New("line item service: rate lookup is required")
	}
	if deps.Policy == nil {
		return nil, errors.New("line item service: role policy is required")
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

	return &lineItemService{
		lineItems:  deps.LineItems,
		orders:     deps.Orders,
		rates:      deps.Rates,
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

func (s *lineItemService) AddCatalogItem(ctx context.Context, cmd AddCatalogItemCommand) (LineItem, error) {
	target, err := normalizeTarget(cmd.Target)
	if err != nil {
		return LineItem{}, err
	}
	if !cmd.Quantity.IsPositive() {
		return LineItem{}, fmt.Errorf("%w: quantity must be positive", ErrInvalidInput)
	}
	mode, err := normalizeBillingMode(cmd.BillingMode)
	if err != nil {
		return LineItem{}, err
	}
	if err := s.policy.Authorize(cmd.Actor, ActionLineItemAdd); err != nil {
		return LineItem{}, err
	}

	service, err := s.rates.ServiceType(ctx, cmd.ServiceTypeID)
	if err != nil {
		return LineItem{}, err
	}
	attachments, err := s.verifyAttachments(ctx, cmd.Attachments)
	if err != nil {
		return LineItem{}, err
	}

	metadata := maps.Clone(cmd.Metadata)
	if len(attachments) > 0 {
		if metadata == nil {
			metadata = map[string]any{}
		}
		metadata["attachments"] = attachments
	}

	item := LineItem{
		ID:          lineItemIDPrefix + s.newID(),
		Target:      target,
		Type:        domain.LineItemTypeCatalog,
		ServiceType: service.ID,
		Category:    service.Category,
		Description: service.Name,
		Quantity:    cmd.Quantity,
		Unit:        service.Unit,
		UnitRate:    service.UnitRate,
		Total:       cmd.Quantity.Mul(service.UnitRate),
		BillingMode: mode,
		Metadata:    metadata,
		CreatedBy:   cmd.Actor.ID,
		CreatedAt:   s.clock(),
	}
	return s.insert(ctx, cmd.Actor, item)
}

func (s *lineItemService) AddCustomItem(ctx context.Context, cmd AddCustomItemCommand) (LineItem, error) {
	target, err := normalizeTarget(cmd.Target)
	if err != nil {
		return LineItem{}, err
	}
	description := textutil.Sanitize(cmd.Description)
	if description == "" {
		return LineItem{}, fmt.Errorf("%w: description is required", ErrInvalidInput)
	}
	category := textutil.Sanitize(cmd.Category)
	if category == "" {
		return LineItem{}, fmt.Errorf("%w: category is required", ErrInvalidInput)
	}
	if cmd.Total.IsNegative() {
		return LineItem{}, fmt.Errorf("%w: total must not be negative", ErrInvalidInput)
	}
	mode, err := normalizeBillingMode(cmd.BillingMode)
	if err != nil {
		return LineItem{}, err
	}
	if err := s.policy.Authorize(cmd.Actor, ActionLineItemAdd); err != nil {
		return LineItem{}, err
	}
	attachments, err := s.verifyAttachments(ctx, cmd.Attachments)
	if err != nil {
		return LineItem{}, err
	}

	item := LineItem{
		ID:          lineItemIDPrefix + s.newID(),
		Target:      target,
		Type:        domain.LineItemTypeCustom,
		Category:    category,
		Description: description,
		Quantity:    decimal.NewFromInt(1),
		UnitRate:    cmd.Total,
		Total:       cmd.Total,
		BillingMode: mode,
		CreatedBy:   cmd.Actor.ID,
		CreatedAt:   s.clock(),
	}
	if len(attachments) > 0 {
		item.Metadata = map[string]any{"attachments": attachments}
	}
	return s.insert(ctx, cmd.Actor, item)
}

func (s *lineItemService) VoidItem(ctx context.Context, cmd VoidLineItemCommand) (LineItem, error) {
	itemID := strings.TrimSpace(cmd.ItemID)
	if itemID == "" {
		return LineItem{}, fmt.Errorf("%w: item id is required", ErrInvalidInput)
	}
	reason, err := requireReason(textutil.Sanitize(cmd.Reason))
	if err != nil {
		return LineItem{}, err
	}
	if err := s.policy.Authorize(cmd.Actor, ActionLineItemVoid); err != nil {
		return LineItem{}, err
	}

	var voided LineItem
	err = s.unitOfWork.RunInTx(ctx, func(txCtx context.Context) error {
		item, err := s.lineItems.FindByID(txCtx, itemID)
		if err != nil {
			return mapRepositoryError(err, "line item "+itemID)
		}
		if item.IsVoided {
			return fmt.Errorf("%w: line item %s is already voided", ErrConflict, itemID)
		}
		if err := s.lockEditableTarget(txCtx, cmd.Actor, item.Target); err != nil {
			return err
		}
		voided, err = s.lineItems.Void(txCtx, repositories.VoidLineItemRequest{
			ItemID:   itemID,
			Reason:   reason,
			VoidedBy: cmd.Actor.ID,
			VoidedAt: s.clock(),
		})
		if err != nil {
			return mapRepositoryError(err, "line item "+itemID)
		}
		return nil
	})
	if err != nil {
		return LineItem{}, err
	}

	s.logger(ctx, "line_item.voided", map[string]any{
		"lineItemId": voided.ID,
		"orderId":    voided.Target.OrderID,
		"actor":      cmd.Actor.ID,
	})
	return voided, nil
}

func (s *lineItemService) ListItems(ctx context.Context, cmd ListLineItemsCommand) ([]LineItem, error) {
	target, err := normalizeTarget(cmd.Target)
	if err != nil {
		return nil, err
	}
	if target.OrderID != "" {
		order, err := s.orders.FindByID(ctx, target.OrderID)
		if err != nil {
			return nil, mapRepositoryError(err, "order "+target.OrderID)
		}
		if err := authorizeOrder(s.policy, cmd.Actor, ActionLineItemRead, order); err != nil {
			return nil, err
		}
	} else if err := s.policy.Authorize(cmd.Actor, ActionLineItemRead); err != nil {
		return nil, err
	}

	items, err := s.lineItems.List(ctx, repositories.LineItemFilter{Target: target, IncludeVoided: cmd.IncludeVoided})
	if err != nil {
		return nil, mapRepositoryError(err, "line items")
	}
	return items, nil
}

func (s *lineItemService) insert(ctx context.Context, actor Actor, item LineItem) (LineItem, error) {
	err := s.unitOfWork.RunInTx(ctx, func(txCtx context.Context) error {
		if err := s.lockEditableTarget(txCtx, actor, item.Target); err != nil {
			return err
		}
		if err := s.lineItems.Insert(txCtx, item); err != nil {
			return mapRepositoryError(err, "line item")
		}
		return nil
	})
	if err != nil {
		return LineItem{}, err
	}

	s.logger(ctx, "line_item.added", map[string]any{
		"lineItemId": item.ID,
		"type":       string(item.Type),
		"orderId":    item.Target.OrderID,
		"inboundId":  item.Target.InboundRequestID,
		"total":      item.Total.String(),
	})
	return item, nil
}

// lockEditableTarget serialises ledger changes with transitions and quote approval of the
// owning order.
func (s *lineItemService) lockEditableTarget(ctx context.Context, actor Actor, target LineItemTarget) error {
	if target.OrderID == "" {
		return nil
	}
	order, err := s.orders.LockByID(ctx, target.OrderID)
	if err != nil {
		return mapRepositoryError(err, "order "+target.OrderID)
	}
	if !actor.CanAccessCompany(order.CompanyID) {
		return fmt.Errorf("%w: actor cannot access company %s", ErrForbidden, order.CompanyID)
	}
	if !slices.Contains(editableLineItemStatuses, order.Status) {
		return fmt.Errorf("%w: line items of order %s are locked in status %s", ErrConflict, order.ID, order.Status)
	}
	return nil
}

func (s *lineItemService) verifyAttachments(ctx context.Context, refs []string) ([]string, error) {
	cleaned := make([]string, 0, len(refs))
	for _, ref := range refs {
		if trimmed := strings.TrimSpace(ref); trimmed != "" {
			cleaned = append(cleaned, trimmed)
		}
	}
	if len(cleaned) == 0 {
		return nil, nil
	}
	if s.references != nil {
		if err := s.references.VerifyReferences(ctx, cleaned); err != nil {
			return nil, fmt.Errorf("%w: %v", ErrInvalidInput, err)
		}
	}
	return cleaned, nil
}

func normalizeTarget(target LineItemTarget) (LineItemTarget, error) {
	target.OrderID = strings.TrimSpace(target.OrderID)
	target.InboundRequestID = strings.TrimSpace(target.InboundRequestID)
	target.PurposeType = strings.TrimSpace(target.PurposeType)
	switch {
	case target.OrderID != "" && target.InboundRequestID != "":
		return LineItemTarget{}, fmt.Errorf("%w: line item target must be an order or an inbound request, not both", ErrInvalidInput)
	case target.OrderID == "" && target.InboundRequestID == "":
		return LineItemTarget{}, fmt.Errorf("%w: line item target is required", ErrInvalidInput)
	case target.InboundRequestID != "" && target.PurposeType == "":
		return LineItemTarget{}, fmt.Errorf("%w: purpose type is required for inbound requests", ErrInvalidInput)
	}
	return target, nil
}

func normalizeBillingMode(mode domain.BillingMode) (domain.BillingMode, error) {
	if mode == "" {
		return domain.BillingModeBillable, nil
	}
	mode = domain.BillingMode(strings.ToUpper(strings.TrimSpace(string(mode))))
	if !mode.Valid() {
		return "", fmt.Errorf("%w: unsupported billing mode %q", ErrInvalidInput, mode)
	}
	return mode, nil
}

type noopUnitOfWork struct{}

func (noopUnitOfWork) RunInTx(ctx context.Context, fn func(context.Context) error) error {
	return fn(ctx)
}
