package auth

import "context"

type contextKey struct{}

const RoleAdmin = "admin"

type AuthContext struct {
	UserID string
	Email  string
	Role   string
}

func WithAuth(ctx context.Context, ac AuthContext) context.Context {
	return context.WithValue(ctx, contextKey{}, ac)
}

func FromContext(ctx context.Context) (AuthContext, bool) {
	ac, ok := ctx.Value(contextKey{}).(AuthContext)
	return ac, ok
}

func UserID(ctx context.Context) string {
	ac, ok := FromContext(ctx)
	if !ok {
		return ""
	}
	return ac.UserID
}

func IsAdmin(ctx context.Context) bool {
	ac, ok := FromContext(ctx)
	if !ok {
		return false
	}
	return ac.Role == RoleAdmin
}

// CanActFor reports whether the caller may act on ownerID's data: their own,
// or anyone's for admins.
func CanActFor(ctx context.Context, ownerID string) bool {
	ac, ok := FromContext(ctx)
	if !ok {
		return false
	}
	return ac.UserID == ownerID || ac.Role == RoleAdmin
}
