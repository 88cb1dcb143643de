package handler

import "context"

type contextKey struct{}

// WithAdmin stores the authenticated admin's email in the context.
func WithAdmin(ctx context.Context, email string) context.Context {
	return context.WithValue(ctx, contextKey{}, email)
}

// AdminFromContext retrieves the authenticated admin's email from the context.
func AdminFromContext(ctx context.Context) string {
	email, _ := ctx.Value(contextKey{}).(string)
	return email
}
