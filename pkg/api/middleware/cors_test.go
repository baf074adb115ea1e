package middleware

import (
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/docsieve/docsieve/config"
)

func corsConfig() *config.CORSConfig {
	return &config.CORSConfig{
		Enabled:        true,
		AllowedOrigins: []string{"https://console.docsieve.dev"},
		AllowedMethods: []string{"GET", "POST", "DELETE"},
		AllowedHeaders: []string{"Content-Type", "X-Request-ID"},
		ExposedHeaders: []string{"X-Request-ID"},
		MaxAge:         600,
	}
}

func okHandler() http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
	})
}

func TestCORSAllowsListedOrigin(t *testing.T) {
	handler := CORS(corsConfig())(okHandler())

	req := httptest.NewRequest("GET", "/api/v1/bus/stats", nil)
	req.Header.Set("Origin", "https://console.docsieve.dev")
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, req)

	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200", rec.Code)
	}
	if got := rec.Header().Get("Access-Control-Allow-Origin"); got != "https://console.docsieve.dev" {
		t.Errorf("Allow-Origin = %q", got)
	}
	if got := rec.Header().Get("Vary"); got != "Origin" {
		t.Errorf("Vary = %q", got)
	}
	if got := rec.Header().Get("Access-Control-Expose-Headers"); got != "X-Request-ID" {
		t.Errorf("Expose-Headers = %q", got)
	}
}

func TestCORSIgnoresUnlistedOrigin(t *testing.T) {
	handler := CORS(corsConfig())(okHandler())

	req := httptest.NewRequest("GET", "/api/v1/bus/stats", nil)
	req.Header.Set("Origin", "https://evil.example")
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, req)

	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200 passthrough", rec.Code)
	}
	if got := rec.Header().Get("Access-Control-Allow-Origin"); got != "" {
		t.Errorf("Allow-Origin = %q, want none", got)
	}
}

func TestCORSPreflight(t *testing.T) {
	handler := CORS(corsConfig())(okHandler())

	req := httptest.NewRequest(http.MethodOptions, "/api/v1/signals", nil)
	req.Header.Set("Origin", "https://console.docsieve.dev")
	req.Header.Set("Access-Control-Request-Method", "POST")
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, req)

	if rec.Code != http.StatusNoContent {
		t.Fatalf("status = %d, want 204", rec.Code)
	}
	if got := rec.Header().Get("Access-Control-Allow-Methods"); got != "GET, POST, DELETE" {
		t.Errorf("Allow-Methods = %q", got)
	}
	if got := rec.Header().Get("Access-Control-Max-Age"); got != "600" {
		t.Errorf("Max-Age = %q", got)
	}
}

func TestCORSWildcardOrigin(t *testing.T) {
	cfg := corsConfig()
	cfg.AllowedOrigins = []string{"*"}
	handler := CORS(cfg)(okHandler())

	req := httptest.NewRequest("GET", "/api/v1/bus/stats", nil)
	req.Header.Set("Origin", "https://anywhere.example")
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, req)

	if got := rec.Header().Get("Access-Control-Allow-Origin"); got != "https://anywhere.example" {
		t.Errorf("Allow-Origin = %q", got)
	}
}

func TestCORSDisabledPassesThrough(t *testing.T) {
	cfg := corsConfig()
	cfg.Enabled = false
	handler := CORS(cfg)(okHandler())

	req := httptest.NewRequest("GET", "/api/v1/bus/stats", nil)
	req.Header.Set("Origin", "https://console.docsieve.dev")
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, req)

	if got := rec.Header().Get("Access-Control-Allow-Origin"); got != "" {
		t.Errorf("Allow-Origin = %q, want none when disabled", got)
	}
}
