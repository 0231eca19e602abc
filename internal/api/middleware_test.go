package api

import (
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

const testAdminSecret = "admin-test-secret"

func adminToken(t *testing.T, secret string, claims jwt.MapClaims) string {
	t.Helper()
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	signed, err := token.SignedString([]byte(secret))
	if err != nil {
		t.Fatalf("failed to sign test token: %v", err)
	}
	return signed
}

func TestAdminAuthMiddleware_AllowsAdminAndExposesIdentity(t *testing.T) {
	var seenUserID string
	next := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		seenUserID, _ = GetAdminUserID(r.Context())
		w.WriteHeader(http.StatusOK)
	})
	handler := AdminAuthMiddleware(testAdminSecret)(next)

	req := httptest.NewRequest(http.MethodGet, "/admin/orders", nil)
	req.Header.Set("Authorization", "Bearer "+adminToken(t, testAdminSecret, jwt.MapClaims{
		"sub":  "admin_7",
		"role": "admin",
		"exp":  time.Now().Add(time.Hour).Unix(),
	}))
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, req)

	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rec.Code)
	}
	if seenUserID != "admin_7" {
		t.Fatalf("expected admin id on context, got %q", seenUserID)
	}
}

func TestAdminAuthMiddleware_RejectsMissingOrMalformedHeader(t *testing.T) {
	handler := AdminAuthMiddleware(testAdminSecret)(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		t.Fatal("handler must not be reached")
	}))

	for _, header := range []string{"", "NotBearer token", "Bearer "} {
		req := httptest.NewRequest(http.MethodGet, "/admin/orders", nil)
		if header != "" {
			req.Header.Set("Authorization", header)
		}
		rec := httptest.NewRecorder()
		handler.ServeHTTP(rec, req)

		if rec.Code != http.StatusUnauthorized {
			t.Fatalf("header %q: expected 401, got %d", header, rec.Code)
		}
	}
}

func TestAdminAuthMiddleware_RejectsWrongSecret(t *testing.T) {
	handler := AdminAuthMiddleware(testAdminSecret)(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		t.Fatal("handler must not be reached")
	}))

	req := httptest.NewRequest(http.MethodGet, "/admin/orders", nil)
	req.Header.Set("Authorization", "Bearer "+adminToken(t, "other-secret", jwt.MapClaims{
		"sub":  "admin_7",
		"role": "admin",
		"exp":  time.Now().Add(time.Hour).Unix(),
	}))
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, req)

	if rec.Code != http.StatusUnauthorized {
		t.Fatalf("expected 401 for wrong secret, got %d", rec.Code)
	}
}

func TestAdminAuthMiddleware_RejectsMissingAdminRole(t *testing.T) {
	handler := AdminAuthMiddleware(testAdminSecret)(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		t.Fatal("handler must not be reached")
	}))

	req := httptest.NewRequest(http.MethodGet, "/admin/orders", nil)
	req.Header.Set("Authorization", "Bearer "+adminToken(t, testAdminSecret, jwt.MapClaims{
		"sub":  "user_1",
		"role": "customer",
		"exp":  time.Now().Add(time.Hour).Unix(),
	}))
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, req)

	if rec.Code != http.StatusForbidden {
		t.Fatalf("expected 403 for non-admin role, got %d", rec.Code)
	}
}

func TestAdminAuthMiddleware_RejectsExpiredToken(t *testing.T) {
	handler := AdminAuthMiddleware(testAdminSecret)(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		t.Fatal("handler must not be reached")
	}))

	req := httptest.NewRequest(http.MethodGet, "/admin/orders", nil)
	req.Header.Set("Authorization", "Bearer "+adminToken(t, testAdminSecret, jwt.MapClaims{
		"sub":  "admin_7",
		"role": "admin",
		"exp":  time.Now().Add(-time.Hour).Unix(),
	}))
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, req)

	if rec.Code != http.StatusUnauthorized {
		t.Fatalf("expected 401 for expired token, got %d", rec.Code)
	}
}
