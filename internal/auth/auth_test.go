package auth

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"
)

func TestGenerateAndValidateToken(t *testing.T) {
	cfg := DefaultJWTConfig("test-secret")

	token, expiresAt, err := cfg.GenerateToken(7, "https://acme.feedboard.app")
	if err != nil {
		t.Fatalf("generate: %v", err)
	}
	if time.Until(expiresAt) < 23*time.Hour {
		t.Fatalf("expected a 24h token, expires at %v", expiresAt)
	}

	claims, err := cfg.ValidateToken(token)
	if err != nil {
		t.Fatalf("validate: %v", err)
	}
	if claims.TenantID != 7 || claims.TenantURL != "https://acme.feedboard.app" {
		t.Fatalf("unexpected claims %+v", claims)
	}
}

func TestValidateTokenRejectsWrongSecretAndExpiry(t *testing.T) {
	token, _, err := DefaultJWTConfig("secret-a").GenerateToken(7, "")
	if err != nil {
		t.Fatalf("generate: %v", err)
	}
	if _, err := DefaultJWTConfig("secret-b").ValidateToken(token); err == nil {
		t.Fatalf("expected signature failure")
	}

	expired, _, err := NewJWTConfig("secret-a", -time.Minute).GenerateToken(7, "")
	if err != nil {
		t.Fatalf("generate: %v", err)
	}
	if _, err := DefaultJWTConfig("secret-a").ValidateToken(expired); err != ErrTokenExpired {
		t.Fatalf("expected ErrTokenExpired, got %v", err)
	}
}

func TestExtractTokenFromHeader(t *testing.T) {
	tests := []struct {
		header string
		want   string
		ok     bool
	}{
		{header: "Bearer abc", want: "abc", ok: true},
		{header: "bearer abc", want: "abc", ok: true},
		{header: "", ok: false},
		{header: "Basic abc", ok: false},
		{header: "Bearer ", ok: false},
	}
	for _, tt := range tests {
		got, err := ExtractTokenFromHeader(tt.header)
		if (err == nil) != tt.ok || got != tt.want {
			t.Fatalf("header %q: got %q, err %v", tt.header, got, err)
		}
	}
}

func TestChiMiddleware(t *testing.T) {
	cfg := DefaultJWTConfig("test-secret")
	var seen *Claims
	handler := cfg.ChiMiddleware()(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		claims, err := GetClaimsFromContext(r.Context())
		if err != nil {
			t.Fatalf("claims missing: %v", err)
		}
		seen = claims
		w.WriteHeader(http.StatusNoContent)
	}))

	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/", nil))
	if rec.Code != http.StatusUnauthorized {
		t.Fatalf("expected 401 without token, got %d", rec.Code)
	}
	var body map[string]any
	if err := json.NewDecoder(rec.Body).Decode(&body); err != nil || body["code"] != "missing_token" {
		t.Fatalf("unexpected error body %v (%v)", body, err)
	}

	token, _, _ := cfg.GenerateToken(9, "https://t9.example")
	req := httptest.NewRequest(http.MethodGet, "/", nil)
	req.Header.Set("Authorization", "Bearer "+token)
	rec = httptest.NewRecorder()
	handler.ServeHTTP(rec, req)
	if rec.Code != http.StatusNoContent {
		t.Fatalf("expected pass-through, got %d", rec.Code)
	}
	if seen == nil || seen.TenantID != 9 {
		t.Fatalf("expected tenant claims in context, got %+v", seen)
	}

	seen = nil
	rec = httptest.NewRecorder()
	handler.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/?access_token="+token, nil))
	if rec.Code != http.StatusNoContent || seen == nil || seen.TenantID != 9 {
		t.Fatalf("expected query token to authenticate, got %d", rec.Code)
	}

	req = httptest.NewRequest(http.MethodGet, "/", nil)
	req.Header.Set("Authorization", "Bearer not-a-jwt")
	rec = httptest.NewRecorder()
	handler.ServeHTTP(rec, req)
	if rec.Code != http.StatusUnauthorized {
		t.Fatalf("expected 401 for a bad token, got %d", rec.Code)
	}
}
