package api

import (
	"context"
	"net/http"
	"time"

	"github.com/vantage6/vantage6-sub004/pkg/auth"
	"github.com/vantage6/vantage6-sub004/pkg/log"
)

type ctxKey int

const ctxClaimsKey ctxKey = iota

// requestLog logs one line per request, using the same component-scoped
// zerolog logger pattern as the rest of the codebase.
func requestLog(next http.Handler) http.Handler {
	logger := log.WithComponent("api")
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		next.ServeHTTP(w, r)
		logger.Debug().
			Str("method", r.Method).
			Str("path", r.URL.Path).
			Dur("elapsed", time.Since(start)).
			Msg("handled request")
	})
}

// authenticate verifies the bearer JWT on every route it wraps and
// stores its claims in the request context for handlers to read via
// claimsFromContext. Unauthenticated endpoints (token issuance,
// websocket upgrade) are mounted outside this middleware's subrouter.
func authenticate(minter *auth.Minter) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			tokenString := bearerToken(r)
			if tokenString == "" {
				unauthorized(w, "missing bearer token")
				return
			}
			claims, err := minter.Verify(tokenString)
			if err != nil {
				unauthorized(w, "invalid or expired token")
				return
			}
			ctx := context.WithValue(r.Context(), ctxClaimsKey, claims)
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}

func bearerToken(r *http.Request) string {
	const prefix = "Bearer "
	h := r.Header.Get("Authorization")
	if len(h) > len(prefix) && h[:len(prefix)] == prefix {
		return h[len(prefix):]
	}
	return ""
}

func claimsFromContext(ctx context.Context) *auth.Claims {
	claims, _ := ctx.Value(ctxClaimsKey).(*auth.Claims)
	return claims
}
