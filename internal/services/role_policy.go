package services

import (
	"errors"
	"fmt"
	"strings"

	"github.com/casbin/casbin/v2"
	"github.com/casbin/casbin/v2/model"
	fileadapter "github.com/casbin/casbin/v2/persist/file-adapter"

	domain "github.com/eventops/fulfillment/internal/domain"
)

// Actions checked against the role policy.
const (
	ActionOrderCreate            = "order:create"
	ActionOrderRead              = "order:read"
	ActionOrderItems             = "order:items"
	ActionOrderJobNumber         = "order:job_number"
	ActionOrderWindows           = "order:windows"
	ActionOrderVehicle           = "order:vehicle"
	ActionOrderCancel            = "order:cancel"
	ActionOrderReturnToLogistics = "order:return_to_logistics"
	ActionPricingPreview         = "pricing:preview"
	ActionQuoteApprove           = "quote:approve"
	ActionLineItemRead           = "line_item:read"
	ActionLineItemAdd            = "line_item:add"
	ActionLineItemVoid           = "line_item:void"
	ActionBookingReserve         = "booking:reserve"
	ActionBookingRead            = "booking:read"
	ActionReskinRead             = "reskin:read"
	ActionReskinCreate           = "reskin:create"
	ActionReskinComplete         = "reskin:complete"
	ActionReskinCancel           = "reskin:cancel"
)

// TransitionAction is the policy action for moving an order into status.
func TransitionAction(status domain.OrderStatus) string {
	return "transition:" + string(status)
}

const rolePolicyModel = `
[request_definition]
r = sub, act

[policy_definition]
p = sub, act

[policy_effect]
e = some(where (p.eft == allow))

[matchers]
m = r.sub == p.sub && keyMatch(r.act, p.act)
`

// defaultRolePolicies grant ADMIN everything; LOGISTICS runs pricing and operations; CLIENT
// submits, accepts or declines quotes, and cancels.
var defaultRolePolicies = [][]string{
	{string(domain.RoleAdmin), "*"},

	{string(domain.RoleLogistics), ActionOrderCreate},
	{string(domain.RoleLogistics), ActionOrderRead},
	{string(domain.RoleLogistics), ActionOrderItems},
	{string(domain.RoleLogistics), ActionOrderJobNumber},
	{string(domain.RoleLogistics), ActionOrderWindows},
	{string(domain.RoleLogistics), ActionOrderVehicle},
	{string(domain.RoleLogistics), ActionOrderCancel},
	{string(domain.RoleLogistics), ActionPricingPreview},
	{string(domain.RoleLogistics), "line_item:*"},
	{string(domain.RoleLogistics), "booking:*"},
	{string(domain.RoleLogistics), ActionReskinRead},
	{string(domain.RoleLogistics), ActionReskinCreate},
	{string(domain.RoleLogistics), ActionReskinComplete},
	{string(domain.RoleLogistics), TransitionAction(domain.OrderStatusPricingReview)},
	{string(domain.RoleLogistics), TransitionAction(domain.OrderStatusPendingApproval)},
	{string(domain.RoleLogistics), TransitionAction(domain.OrderStatusAwaitingFabrication)},
	{string(domain.RoleLogistics), TransitionAction(domain.OrderStatusInPreparation)},
	{string(domain.RoleLogistics), TransitionAction(domain.OrderStatusReadyForDelivery)},
	{string(domain.RoleLogistics), TransitionAction(domain.OrderStatusInTransit)},
	{string(domain.RoleLogistics), TransitionAction(domain.OrderStatusDelivered)},
	{string(domain.RoleLogistics), TransitionAction(domain.OrderStatusInUse)},
	{string(domain.RoleLogistics), TransitionAction(domain.OrderStatusAwaitingReturn)},
	{string(domain.RoleLogistics), TransitionAction(domain.OrderStatusClosed)},

	{string(domain.RoleClient), ActionOrderCreate},
	{string(domain.RoleClient), ActionOrderRead},
	{string(domain.RoleClient), ActionOrderItems},
	{string(domain.RoleClient), ActionOrderCancel},
	{string(domain.RoleClient), ActionLineItemRead},
	{string(domain.RoleClient), ActionReskinRead},
	{string(domain.RoleClient), TransitionAction(domain.OrderStatusSubmitted)},
	{string(domain.RoleClient), TransitionAction(domain.OrderStatusConfirmed)},
	{string(domain.RoleClient), TransitionAction(domain.OrderStatusDeclined)},
}

// RolePolicy decides whether an actor's role may perform an action.
type RolePolicy interface {
	Authorize(actor Actor, action string) error
}

// CasbinRolePolicy evaluates role grants with a casbin enforcer.
type CasbinRolePolicy struct {
	enforcer *casbin.SyncedEnforcer
}

// NewCasbinRolePolicy builds the policy from the built-in grants, or from a casbin CSV policy
// file when policyFile is non-empty.
func NewCasbinRolePolicy(policyFile string) (*CasbinRolePolicy, error) {
	m, err := model.NewModelFromString(rolePolicyModel)
	if err != nil {
		return nil, fmt.Errorf("role policy: load model: %w", err)
	}

	var enforcer *casbin.SyncedEnforcer
	if path := strings.TrimSpace(policyFile); path != "" {
		enforcer, err = casbin.NewSyncedEnforcer(m, fileadapter.NewAdapter(path))
		if err != nil {
			return nil, fmt.Errorf("role policy: load %s: %w", path, err)
		}
	} else {
		enforcer, err = casbin.NewSyncedEnforcer(m)
		if err != nil {
			return nil, fmt.Errorf("role policy: init enforcer: %w", err)
		}
		if _, err := enforcer.AddPolicies(defaultRolePolicies); err != nil {
			return nil, fmt.Errorf("role policy: add default grants: %w", err)
		}
	}

	return &CasbinRolePolicy{enforcer: enforcer}, nil
}

// Authorize returns ErrForbidden unless the actor's role is granted the action.
func (p *CasbinRolePolicy) Authorize(actor Actor, action string) error {
	if p == nil || p.enforcer == nil {
		return errors.New("role policy: not initialised")
	}
	if !actor.Role.Valid() || strings.TrimSpace(actor.ID) == "" {
		return fmt.Errorf("%w: unauthenticated actor", ErrForbidden)
	}
	allowed, err := p.enforcer.Enforce(string(actor.Role), action)
	if err != nil {
		return fmt.Errorf("role policy: enforce %s: %w", action, err)
	}
	if !allowed {
		return fmt.Errorf("%w: role %s may not perform %s", ErrForbidden, actor.Role, action)
	}
	return nil
}

func authorizeOrder(policy RolePolicy, actor Actor, action string, order Order) error {
	if err := policy.Authorize(actor, action); err != nil {
		return err
	}
	if !actor.CanAccessCompany(order.CompanyID) {
		return fmt.Errorf("%w: actor cannot access company %s", ErrForbidden, order.CompanyID)
	}
	return nil
}
