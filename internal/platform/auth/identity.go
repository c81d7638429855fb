package auth

import (
	"context"
	"strings"

	firebaseauth "firebase.google.com/go/v4/auth"

	domain "github.com/eventops/fulfillment/internal/domain"
)

// Identity is the authenticated console user extracted from a Firebase ID token.
type Identity struct {
	UID        string
	Email      string
	Role       domain.Role
	CompanyIDs []string

	token *firebaseauth.Token
}

// Token exposes the decoded Firebase ID token associated with this identity.
func (i *Identity) Token() *firebaseauth.Token {
	if i == nil {
		return nil
	}
	return i.token
}

// Actor converts the identity into the caller representation used by services.
func (i *Identity) Actor() domain.Actor {
	if i == nil {
		return domain.Actor{}
	}
	return domain.Actor{
		ID:         i.UID,
		Role:       i.Role,
		CompanyIDs: append([]string(nil), i.CompanyIDs...),
	}
}

type identityContextKey struct{}

// WithIdentity stores the identity within the context for downstream handlers.
func WithIdentity(ctx context.Context, identity *Identity) context.Context {
	return context.WithValue(ctx, identityContextKey{}, identity)
}

// IdentityFromContext retrieves the identity previously stored in context.
func IdentityFromContext(ctx context.Context) (*Identity, bool) {
	identity, ok := ctx.Value(identityContextKey{}).(*Identity)
	if !ok || identity == nil {
		return nil, false
	}
	return identity, true
}

// ActorFromContext returns the actor of the authenticated user, if any.
func ActorFromContext(ctx context.Context) (domain.Actor, bool) {
	identity, ok := IdentityFromContext(ctx)
	if !ok {
		return domain.Actor{}, false
	}
	return identity.Actor(), true
}

// ParseRole maps a claim value onto a known role. Unknown values yield an empty role.
func ParseRole(value string) domain.Role {
	role := domain.Role(strings.ToUpper(strings.TrimSpace(value)))
	if !role.Valid() {
		return ""
	}
	return role
}
