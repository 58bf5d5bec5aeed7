package middleware

import "context"

type contextKey string

const (
	UserIDKey   contextKey = "user_id"
	UserNameKey contextKey = "user_name"
	RoleKey     contextKey = "role"
)

// GetUserID returns the authenticated user id from the context (set by Auth).
func GetUserID(ctx context.Context) string {
	v, _ := ctx.Value(UserIDKey).(string)
	return v
}

// GetUserName returns the authenticated user's display name from the context.
func GetUserName(ctx context.Context) string {
	v, _ := ctx.Value(UserNameKey).(string)
	return v
}

// GetRole returns the authenticated role ("user" or "admin") from the context.
func GetRole(ctx context.Context) string {
	v, _ := ctx.Value(RoleKey).(string)
	return v
}

// IsAdmin reports whether the request was authenticated as staff.
func IsAdmin(ctx context.Context) bool {
	return GetRole(ctx) == "admin"
}
