package identity

import (
	"net/http"
	"net/http/httptest"
	"testing"
)

func TestMiddlewareRequiresBearer(t *testing.T) {
	var seen string
	h := Middleware(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		seen = UserIDFromContext(r.Context())
	}))

	tests := []struct {
		name   string
		header string
		want   int
	}{
		{"missing", "", http.StatusUnauthorized},
		{"wrong scheme", "Basic abc", http.StatusUnauthorized},
		{"bad characters", "Bearer a b", http.StatusUnauthorized},
		{"valid", "Bearer token-1", http.StatusOK},
		{"lower case scheme", "bearer token-1", http.StatusOK},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			seen = ""
			req := httptest.NewRequest(http.MethodGet, "/", nil)
			if tt.header != "" {
				req.Header.Set("Authorization", tt.header)
			}
			rec := httptest.NewRecorder()
			h.ServeHTTP(rec, req)
			if rec.Code != tt.want {
				t.Fatalf("status = %d, want %d", rec.Code, tt.want)
			}
			if tt.want == http.StatusOK && seen != UserIDForToken("token-1") {
				t.Fatalf("user id = %q", seen)
			}
		})
	}
}

func TestUserIDForTokenIsStable(t *testing.T) {
	a, b := UserIDForToken("alpha"), UserIDForToken("alpha")
	if a != b {
		t.Fatalf("ids differ: %q vs %q", a, b)
	}
	if a == UserIDForToken("beta") {
		t.Fatal("distinct tokens share an id")
	}
}
