package device

import "context"

type contextKeyDescription struct{}

// GetDescription retrieves the human-readable device description (browser and
// OS parsed from the User-Agent) from the context.
func GetDescription(ctx context.Context) string {
	if desc, ok := ctx.Value(contextKeyDescription{}).(string); ok {
		return desc
	}
	return ""
}

// WithDescription injects a device description into a context.
// Useful for service unit tests that don't run the full HTTP middleware chain.
func WithDescription(ctx context.Context, desc string) context.Context {
	return context.WithValue(ctx, contextKeyDescription{}, desc)
}
