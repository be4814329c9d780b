package shared

import "context"

// Identity is the authenticated caller as resolved by the auth boundary.
// Tokens are issued and validated upstream; by the time an Identity exists
// the caller is trusted and only permission checks remain.
type Identity struct {
	UserID      int64
	CompanyID   int64
	Permissions []string
}

// Can reports whether the identity holds the given permission.
func (id Identity) Can(perm string) bool {
	for _, granted := range id.Permissions {
		if granted == perm {
			return true
		}
	}
	return false
}

// Scope narrows the identity to the values every service call needs:
// which company's books, and who is acting. Services receive a Scope
// explicitly instead of digging tenancy out of ambient state.
type Scope struct {
	CompanyID int64
	ActorID   int64
}

// Scope derives the call scope from the identity.
func (id Identity) Scope() Scope {
	return Scope{CompanyID: id.CompanyID, ActorID: id.UserID}
}

type identityContextKey struct{}

// ContextWithIdentity stores the resolved identity in context.
func ContextWithIdentity(ctx context.Context, id Identity) context.Context {
	return context.WithValue(ctx, identityContextKey{}, id)
}

// IdentityFromContext extracts the identity from context. The second return
// is false when no auth middleware ran.
func IdentityFromContext(ctx context.Context) (Identity, bool) {
	id, ok := ctx.Value(identityContextKey{}).(Identity)
	return id, ok
}
