// ABOUTME: Tests for HTTP authentication middleware
// ABOUTME: Covers token extraction, validation, and query-parameter fallback

package auth

import (
	"net/http"
	"net/http/httptest"
	"testing"
	"time"
)

var httpTestSecret = []byte("http-middleware-test-secret-32b!")

func TestHTTPAuthMiddleware_ValidToken(t *testing.T) {
	verifier := NewJWTVerifier(httpTestSecret)

	principalID := "user-123"
	token, _ := verifier.Generate(principalID, time.Hour)

	middleware := HTTPAuthMiddleware(verifier)

	var gotAuthCtx *AuthContext
	handler := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotAuthCtx = FromContext(r.Context())
		w.WriteHeader(http.StatusOK)
	})

	req := httptest.NewRequest(http.MethodGet, "/v1/sessions", nil)
	req.Header.Set("Authorization", "Bearer "+token)
	rec := httptest.NewRecorder()

	middleware(handler).ServeHTTP(rec, req)

	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, want %d", rec.Code, http.StatusOK)
	}
	if gotAuthCtx == nil {
		t.Fatal("AuthContext not attached to request context")
	}
	if gotAuthCtx.PrincipalID != principalID {
		t.Errorf("PrincipalID = %q, want %q", gotAuthCtx.PrincipalID, principalID)
	}
}

func TestHTTPAuthMiddleware_QueryTokenFallback(t *testing.T) {
	verifier := NewJWTVerifier(httpTestSecret)
	token, _ := verifier.Generate("user-123", time.Hour)

	middleware := HTTPAuthMiddleware(verifier)

	handler := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	})

	// No Authorization header; token passed as query parameter (WebSocket case)
	req := httptest.NewRequest(http.MethodGet, "/v1/stream?token="+token, nil)
	rec := httptest.NewRecorder()

	middleware(handler).ServeHTTP(rec, req)

	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, want %d", rec.Code, http.StatusOK)
	}
}

func TestHTTPAuthMiddleware_Rejections(t *testing.T) {
	verifier := NewJWTVerifier(httpTestSecret)
	middleware := HTTPAuthMiddleware(verifier)

	handler := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		t.Error("handler should not be reached")
	})

	tests := []struct {
		name   string
		header string
	}{
		{name: "missing header", header: ""},
		{name: "not bearer", header: "Basic dXNlcjpwYXNz"},
		{name: "empty bearer", header: "Bearer "},
		{name: "garbage token", header: "Bearer not-a-jwt"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			req := httptest.NewRequest(http.MethodGet, "/v1/sessions", nil)
			if tt.header != "" {
				req.Header.Set("Authorization", tt.header)
			}
			rec := httptest.NewRecorder()

			middleware(handler).ServeHTTP(rec, req)

			if rec.Code != http.StatusUnauthorized {
				t.Errorf("status = %d, want %d", rec.Code, http.StatusUnauthorized)
			}
		})
	}
}

func TestHTTPAuthMiddleware_ExpiredToken(t *testing.T) {
	verifier := NewJWTVerifier(httpTestSecret)
	token, _ := verifier.Generate("user-123", -time.Hour)

	middleware := HTTPAuthMiddleware(verifier)
	handler := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		t.Error("handler should not be reached")
	})

	req := httptest.NewRequest(http.MethodGet, "/v1/sessions", nil)
	req.Header.Set("Authorization", "Bearer "+token)
	rec := httptest.NewRecorder()

	middleware(handler).ServeHTTP(rec, req)

	if rec.Code != http.StatusUnauthorized {
		t.Errorf("status = %d, want %d", rec.Code, http.StatusUnauthorized)
	}
}
