package middleware

import (
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
)

func TestCORS(t *testing.T) {
	next := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusTeapot)
	})

	t.Run("explicit origin gets credentials", func(t *testing.T) {
		h := CORS([]string{"http://localhost:5173"})(next)
		req := httptest.NewRequest(http.MethodGet, "/", nil)
		req.Header.Set("Origin", "http://localhost:5173")
		rec := httptest.NewRecorder()
		h.ServeHTTP(rec, req)
		if got := rec.Header().Get("Access-Control-Allow-Origin"); got != "http://localhost:5173" {
			t.Fatalf("allow origin = %q", got)
		}
		if rec.Header().Get("Access-Control-Allow-Credentials") != "true" {
			t.Fatal("credentials header missing")
		}
		if rec.Code != http.StatusTeapot {
			t.Fatalf("status = %d, want passthrough", rec.Code)
		}
	})

	t.Run("wildcard never allows credentials", func(t *testing.T) {
		h := CORS([]string{"*"})(next)
		req := httptest.NewRequest(http.MethodGet, "/", nil)
		req.Header.Set("Origin", "https://evil.example")
		rec := httptest.NewRecorder()
		h.ServeHTTP(rec, req)
		if rec.Header().Get("Access-Control-Allow-Credentials") != "" {
			t.Fatal("credentials allowed for wildcard")
		}
	})

	t.Run("preflight short circuits", func(t *testing.T) {
		h := CORS([]string{"*"})(next)
		req := httptest.NewRequest(http.MethodOptions, "/", nil)
		req.Header.Set("Origin", "http://localhost:5173")
		rec := httptest.NewRecorder()
		h.ServeHTTP(rec, req)
		if rec.Code != http.StatusOK {
			t.Fatalf("status = %d, want 200", rec.Code)
		}
		if rec.Header().Get("Access-Control-Max-Age") == "" {
			t.Fatal("preflight missing max age")
		}
		if !strings.Contains(rec.Header().Get("Access-Control-Allow-Headers"), "Last-Event-ID") {
			t.Fatal("preflight must allow Last-Event-ID")
		}
	})

	t.Run("unlisted origin gets no headers", func(t *testing.T) {
		h := CORS([]string{"http://localhost:5173/"})(next)
		req := httptest.NewRequest(http.MethodGet, "/", nil)
		req.Header.Set("Origin", "https://evil.example")
		rec := httptest.NewRecorder()
		h.ServeHTTP(rec, req)
		if rec.Header().Get("Access-Control-Allow-Origin") != "" {
			t.Fatal("unlisted origin was allowed")
		}
		if rec.Header().Get("Vary") != "Origin" {
			t.Fatal("responses must vary on Origin")
		}
		if rec.Code != http.StatusTeapot {
			t.Fatalf("status = %d, want passthrough", rec.Code)
		}
	})

	t.Run("trailing slash in allow-list still matches", func(t *testing.T) {
		h := CORS([]string{"http://localhost:5173/"})(next)
		req := httptest.NewRequest(http.MethodGet, "/", nil)
		req.Header.Set("Origin", "http://localhost:5173")
		rec := httptest.NewRecorder()
		h.ServeHTTP(rec, req)
		if rec.Header().Get("Access-Control-Allow-Credentials") != "true" {
			t.Fatal("explicit origin should get credentials")
		}
	})
}
