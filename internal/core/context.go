package core

import "context"

type contextKey string

const (
	ctxKeyActor     contextKey = "import_actor"
	ctxKeyIPAddress contextKey = "import_ip"
)

// ContextWithActor records who triggered an import. Record stores read it
// to fill created_by.
func ContextWithActor(ctx context.Context, actorID string) context.Context {
	if actorID == "" {
		return ctx
	}
	return context.WithValue(ctx, ctxKeyActor, actorID)
}

// ActorFromContext returns the actor id, or "" when none was set.
func ActorFromContext(ctx context.Context) string {
	if v, ok := ctx.Value(ctxKeyActor).(string); ok {
		return v
	}
	return ""
}

// ContextWithIPAddress adds the client IP address for request logging.
func ContextWithIPAddress(ctx context.Context, ip string) context.Context {
	return context.WithValue(ctx, ctxKeyIPAddress, ip)
}

// IPAddressFromContext extracts the client IP address.
func IPAddressFromContext(ctx context.Context) string {
	if v, ok := ctx.Value(ctxKeyIPAddress).(string); ok {
		return v
	}
	return ""
}
