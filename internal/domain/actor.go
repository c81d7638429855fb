package domain

import "slices"

// Role is the coarse permission level of an authenticated caller.
type Role string

const (
	RoleAdmin     Role = "ADMIN"
	RoleLogistics Role = "LOGISTICS"
	RoleClient    Role = "CLIENT"
)

// Valid reports whether the role is recognised.
func (r Role) Valid() bool {
	return r == RoleAdmin || r == RoleLogistics || r == RoleClient
}

// Actor is the caller on whose behalf an operation runs.
type Actor struct {
	ID         string
	Role       Role
	CompanyIDs []string
}

// CanAccessCompany reports whether the actor may act on records owned by the company.
// Platform staff (admin and logistics) are not scoped to companies.
func (a Actor) CanAccessCompany(companyID string) bool {
	switch a.Role {
	case RoleAdmin, RoleLogistics:
		return true
	case RoleClient:
		return companyID != "" && slices.Contains(a.CompanyIDs, companyID)
	default:
		return false
	}
}
