package auth

import (
	"context"
	"net/http"
	"strings"

	"github.com/casgen-dev/casgen/internal/types"
)

// KeyHeader is the primary authentication header. A Bearer token in
// the Authorization header is accepted as an alternative.
const KeyHeader = "X-API-Key"

// ExtractKey pulls the raw API key from the request headers. Empty
// means no credentials were presented.
func ExtractKey(r *http.Request) string {
	if key := r.Header.Get(KeyHeader); key != "" {
		return key
	}
	const bearerPrefix = "Bearer "
	if auth := r.Header.Get("Authorization"); strings.HasPrefix(auth, bearerPrefix) {
		return strings.TrimPrefix(auth, bearerPrefix)
	}
	return ""
}

type contextKey struct{ name string }

var apiKeyContextKey = &contextKey{"api-key"}

// ContextWithKey stores the admitted key record in the context.
func ContextWithKey(ctx context.Context, key *types.APIKey) context.Context {
	return context.WithValue(ctx, apiKeyContextKey, key)
}

// KeyFromContext retrieves the admitted key record, or nil when the
// request did not pass admission.
func KeyFromContext(ctx context.Context) *types.APIKey {
	key, _ := ctx.Value(apiKeyContextKey).(*types.APIKey)
	return key
}
