package api

import "context"

// ctxKey is a type for context keys to avoid collisions
type ctxKey string

const (
	ctxUserID   ctxKey = "user_id"
	ctxUserPlan ctxKey = "user_plan"
)

// GetUserID retrieves the authenticated user ID from the request context.
// Returns the user ID and true if found, otherwise an empty string and false.
func GetUserID(ctx context.Context) (string, bool) {
	id, ok := ctx.Value(ctxUserID).(string)
	return id, ok && id != ""
}

// WithUserID adds the authenticated user ID to the request context.
// This is typically called by the auth middleware after verifying the token.
func WithUserID(ctx context.Context, id string) context.Context {
	return context.WithValue(ctx, ctxUserID, id)
}

// GetUserPlan retrieves the caller's plan type from the request context.
func GetUserPlan(ctx context.Context) (string, bool) {
	plan, ok := ctx.Value(ctxUserPlan).(string)
	return plan, ok && plan != ""
}

// WithUserPlan adds the caller's plan type to the request context.
func WithUserPlan(ctx context.Context, plan string) context.Context {
	return context.WithValue(ctx, ctxUserPlan, plan)
}
