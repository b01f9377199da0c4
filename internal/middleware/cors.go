// Package middleware provides HTTP middleware for the mock travel backend.
package middleware

import (
	"net/http"
	"strconv"
	"strings"
)

const (
	corsMethods = "GET, POST, DELETE, OPTIONS"
	// Bearer credentials and stream resumption must survive a preflight.
	corsHeaders = "Authorization, Content-Type, Last-Event-ID"
	corsMaxAge  = 10 * 60
)

// originPolicy is the parsed allow-list. Credentials are granted only to
// explicitly listed origins.
type originPolicy struct {
	any      bool
	explicit map[string]struct{}
}

func newOriginPolicy(origins []string) originPolicy {
	p := originPolicy{explicit: make(map[string]struct{}, len(origins))}
	for _, o := range origins {
		o = strings.TrimRight(strings.TrimSpace(o), "/")
		switch o {
		case "":
		case "*":
			p.any = true
		default:
			p.explicit[o] = struct{}{}
		}
	}
	return p
}

// allow reports whether origin may call the API and whether it may send
// credentials.
func (p originPolicy) allow(origin string) (allowed, credentials bool) {
	if origin == "" {
		return false, false
	}
	if _, ok := p.explicit[origin]; ok {
		return true, true
	}
	return p.any, false
}

// CORS answers preflights and decorates responses for allowed origins.
// Preflights are answered here and never reach the router.
func CORS(allowedOrigins []string) func(http.Handler) http.Handler {
	policy := newOriginPolicy(allowedOrigins)
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			origin := r.Header.Get("Origin")
			h := w.Header()
			h.Add("Vary", "Origin")

			allowed, credentials := policy.allow(origin)
			if allowed {
				h.Set("Access-Control-Allow-Origin", origin)
				h.Set("Access-Control-Allow-Methods", corsMethods)
				h.Set("Access-Control-Allow-Headers", corsHeaders)
				if credentials {
					h.Set("Access-Control-Allow-Credentials", "true")
				}
			}

			if r.Method == http.MethodOptions {
				if allowed {
					h.Set("Access-Control-Max-Age", strconv.Itoa(corsMaxAge))
				}
				w.WriteHeader(http.StatusOK)
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}
