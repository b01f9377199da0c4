// Package identity resolves the caller of a mock backend request from its
// bearer token.
package identity

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"net"
	"net/http"
	"regexp"
	"strings"
)

type contextKey int

const (
	userIDKey contextKey = iota
	usernameKey
)

var tokenPattern = regexp.MustCompile(`^[A-Za-z0-9._~+/=-]{1,512}$`)

// UserIDFromContext extracts the user ID from the request context.
func UserIDFromContext(ctx context.Context) string {
	if v, ok := ctx.Value(userIDKey).(string); ok {
		return v
	}
	return ""
}

// UsernameFromContext extracts the username from the request context.
func UsernameFromContext(ctx context.Context) string {
	if v, ok := ctx.Value(usernameKey).(string); ok {
		return v
	}
	return ""
}

// WithUser returns a context carrying userID, for handlers invoked outside
// the middleware.
func WithUser(ctx context.Context, userID string) context.Context {
	ctx = context.WithValue(ctx, userIDKey, userID)
	return context.WithValue(ctx, usernameKey, deriveUsername(userID))
}

// UserIDForToken maps a bearer token to a stable user ID.
func UserIDForToken(token string) string {
	sum := sha256.Sum256([]byte(token))
	return "user_" + hex.EncodeToString(sum[:16])
}

func deriveUsername(userID string) string {
	if len(userID) > 13 {
		return "traveler-" + userID[len(userID)-8:]
	}
	return "traveler"
}

func bearerToken(r *http.Request) string {
	h := strings.TrimSpace(r.Header.Get("Authorization"))
	if len(h) < 7 || !strings.EqualFold(h[:7], "bearer ") {
		return ""
	}
	token := strings.TrimSpace(h[7:])
	if !tokenPattern.MatchString(token) {
		return ""
	}
	return token
}

// Middleware rejects requests without a valid bearer token and stores the
// caller's identity in the request context.
func Middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		token := bearerToken(r)
		if token == "" {
			w.Header().Set("Content-Type", "application/json")
			w.Header().Set("WWW-Authenticate", "Bearer")
			http.Error(w, `{"code":"unauthenticated","detail":"missing or malformed bearer token"}`, http.StatusUnauthorized)
			return
		}
		next.ServeHTTP(w, r.WithContext(WithUser(r.Context(), UserIDForToken(token))))
	})
}

// IPFromRequest returns a normalized remote IP for optional request tracing.
func IPFromRequest(r *http.Request) string {
	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		return r.RemoteAddr
	}
	return host
}
