//go:build !integration

package web

import (
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"
)

const testSecret = "test-api-jwt-secret-please-change"

func TestAuthMiddleware(t *testing.T) {
	dummyHandler := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		c, ok := ClaimsFrom(r.Context())
		if !ok || c.Subject != "settlement-service" {
			w.WriteHeader(http.StatusTeapot)
			return
		}
		w.WriteHeader(http.StatusOK)
	})

	auth := NewAuthManager(testSecret, time.Minute)
	server := NewServer(nil, nil, auth, newTestLogger())
	protected := server.authMiddleware(dummyHandler)

	call := func(hdr string) int {
		req := httptest.NewRequest(http.MethodGet, "/api/v1/ocr/stats", nil)
		if hdr != "" {
			req.Header.Set("Authorization", hdr)
		}
		rr := httptest.NewRecorder()
		protected.ServeHTTP(rr, req)
		return rr.Code
	}

	t.Run("should reject a request without credentials", func(t *testing.T) {
		if code := call(""); code != http.StatusUnauthorized {
			t.Fatalf("expected 401, got %d", code)
		}
	})

	t.Run("should reject a header without scheme", func(t *testing.T) {
		if code := call("whatever-token"); code != http.StatusUnauthorized {
			t.Fatalf("expected 401, got %d", code)
		}
	})

	t.Run("should reject a non-bearer scheme", func(t *testing.T) {
		if code := call("Basic aaa.bbb.ccc"); code != http.StatusUnauthorized {
			t.Fatalf("expected 401, got %d", code)
		}
	})

	t.Run("should reject an invalid jwt", func(t *testing.T) {
		if code := call("Bearer invalid.jwt.token"); code != http.StatusUnauthorized {
			t.Fatalf("expected 401, got %d", code)
		}
	})

	t.Run("should reject a token signed with another secret", func(t *testing.T) {
		other := NewAuthManager("another-secret", time.Minute)
		tok, err := other.Issue("settlement-service", "ocr")
		if err != nil {
			t.Fatalf("Issue: %v", err)
		}
		if code := call("Bearer " + tok); code != http.StatusUnauthorized {
			t.Fatalf("expected 401, got %d", code)
		}
	})

	t.Run("should reject an expired token", func(t *testing.T) {
		past := NewAuthManager(testSecret, time.Minute)
		past.now = func() time.Time { return time.Now().Add(-time.Hour) }
		tok, err := past.Issue("settlement-service", "ocr")
		if err != nil {
			t.Fatalf("Issue: %v", err)
		}
		if code := call("Bearer " + tok); code != http.StatusUnauthorized {
			t.Fatalf("expected 401, got %d", code)
		}
	})

	t.Run("should accept a valid bearer token and expose claims", func(t *testing.T) {
		tok, err := auth.Issue("settlement-service", "ocr")
		if err != nil || tok == "" {
			t.Fatalf("failed to issue test token: %v", err)
		}
		if code := call("bearer " + tok); code != http.StatusOK {
			t.Fatalf("expected 200, got %d", code)
		}
	})

	t.Run("should reject everything when auth is not configured", func(t *testing.T) {
		noAuth := NewServer(nil, nil, nil, newTestLogger()).authMiddleware(dummyHandler)
		req := httptest.NewRequest(http.MethodGet, "/api/v1/ocr/stats", nil)
		rr := httptest.NewRecorder()
		noAuth.ServeHTTP(rr, req)
		if rr.Code != http.StatusUnauthorized {
			t.Fatalf("expected 401, got %d", rr.Code)
		}
	})
}

func TestPublicRoutes(t *testing.T) {
	router := NewServer(&MockOCRJobUC{}, &MockQueue{}, NewAuthManager(testSecret, time.Minute), newTestLogger()).Routes()

	t.Run("should serve health without a token", func(t *testing.T) {
		rr := httptest.NewRecorder()
		router.ServeHTTP(rr, httptest.NewRequest(http.MethodGet, "/health", nil))
		if rr.Code != http.StatusOK || rr.Body.String() != "OK" {
			t.Fatalf("expected 200 OK, got %d %q", rr.Code, rr.Body.String())
		}
	})

	t.Run("should serve prometheus metrics without a token", func(t *testing.T) {
		rr := httptest.NewRecorder()
		router.ServeHTTP(rr, httptest.NewRequest(http.MethodGet, "/metrics", nil))
		if rr.Code != http.StatusOK || !strings.Contains(rr.Body.String(), "go_goroutines") {
			t.Fatalf("expected metrics body, got %d", rr.Code)
		}
	})

	t.Run("should protect api routes", func(t *testing.T) {
		rr := httptest.NewRecorder()
		router.ServeHTTP(rr, httptest.NewRequest(http.MethodGet, "/api/v1/ocr/stats", nil))
		if rr.Code != http.StatusUnauthorized {
			t.Fatalf("expected 401, got %d", rr.Code)
		}
	})
}
