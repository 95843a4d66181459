package httpapi

import (
	"errors"
	"net/http"
	"strings"

	"github.com/ramon-gama/pesarq-ramon-teste-sub004/internal/identity"
)

const (
	authHeader = "Authorization"
	bearer     = "Bearer "
)

var publicPaths = []string{
	"/metrics",
	"/healthz",
	"/readyz",
	"/v1/info",
	"/",
}

// withAuth attaches the bearer token and, when it validates, the
// resolved actor to the request context. A missing or bad token is not
// an error at this layer: the session endpoints degrade to the
// unauthenticated view, matching the tenant context's own terminal
// state.
func (a *API) withAuth(next http.Handler) http.Handler {
	if a == nil || a.resolver == nil {
		return next
	}
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method == http.MethodOptions || isPublicPath(r.URL.Path) {
			next.ServeHTTP(w, r)
			return
		}

		token, err := extractBearerToken(r.Header.Get(authHeader))
		if err != nil {
			next.ServeHTTP(w, r)
			return
		}

		ctx := identity.ContextWithToken(r.Context(), token)
		if actor, rerr := a.resolver.Resolve(ctx); rerr == nil && actor != nil {
			ctx = identity.ContextWithActor(ctx, *actor)
		}
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

func extractBearerToken(header string) (string, error) {
	header = strings.TrimSpace(header)
	if header == "" {
		return "", errors.New("missing bearer token")
	}
	if !strings.HasPrefix(strings.ToLower(header), strings.ToLower(bearer)) {
		return "", errors.New("invalid authorization scheme")
	}
	token := strings.TrimSpace(header[len(bearer):])
	if token == "" {
		return "", errors.New("missing bearer token")
	}
	return token, nil
}

func isPublicPath(path string) bool {
	for _, p := range publicPaths {
		if path == p {
			return true
		}
	}
	return false
}
