package web

import (
	"context"
	"net/http"
	"strings"

	"github.com/JonMunkholm/importer/internal/core"
)

// ActorHeader names the caller on execute requests. Authentication is
// handled upstream; the value is recorded as created_by.
const ActorHeader = "X-Actor-ID"

// WithRequestMetadata adds the acting user to ctx for record stores.
func WithRequestMetadata(ctx context.Context, r *http.Request) context.Context {
	return core.ContextWithActor(ctx, actorFromRequest(r))
}

func actorFromRequest(r *http.Request) string {
	return strings.TrimSpace(r.Header.Get(ActorHeader))
}
