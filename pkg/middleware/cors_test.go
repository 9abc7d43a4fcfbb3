package middleware

import (
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
)

func corsRequest(t *testing.T, cfg CORSConfig, method, origin string) *httptest.ResponseRecorder {
	t.Helper()
	next := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	})

	req := httptest.NewRequest(method, "/", nil)
	if origin != "" {
		req.Header.Set("Origin", origin)
	}
	rec := httptest.NewRecorder()
	CORS(cfg)(next).ServeHTTP(rec, req)
	return rec
}

func TestCORS_DevelopmentWildcard(t *testing.T) {
	cfg := CORSConfig{Environment: "development"}

	rec := corsRequest(t, cfg, http.MethodGet, "https://anywhere.example")
	assert.Equal(t, "*", rec.Header().Get("Access-Control-Allow-Origin"))
}

func TestCORS_ProductionAllowsListedOrigin(t *testing.T) {
	cfg := CORSConfig{
		Environment:    "production",
		AllowedOrigins: []string{"https://app.example.com"},
	}

	rec := corsRequest(t, cfg, http.MethodGet, "https://app.example.com")
	assert.Equal(t, "https://app.example.com", rec.Header().Get("Access-Control-Allow-Origin"))
	assert.Equal(t, "Origin", rec.Header().Get("Vary"))
}

func TestCORS_ProductionRejectsUnlistedOrigin(t *testing.T) {
	cfg := CORSConfig{
		Environment:    "production",
		AllowedOrigins: []string{"https://app.example.com"},
	}

	rec := corsRequest(t, cfg, http.MethodGet, "https://evil.example.com")
	assert.Empty(t, rec.Header().Get("Access-Control-Allow-Origin"))
}

func TestCORS_PreflightShortCircuits(t *testing.T) {
	cfg := CORSConfig{Environment: "development"}

	rec := corsRequest(t, cfg, http.MethodOptions, "https://app.example.com")
	assert.Equal(t, http.StatusNoContent, rec.Code)
	assert.Contains(t, rec.Header().Get("Access-Control-Allow-Headers"), "Authorization")
}
