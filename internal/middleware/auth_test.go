package middleware

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"prepaid/internal/auth"
)

func TestBearerToken(t *testing.T) {
	tests := []struct {
		header string
		want   string
		err    error
	}{
		{"", "", ErrMissingToken},
		{"Token abc", "", ErrMalformedAuth},
		{"Bearer", "", ErrMalformedAuth},
		{"Bearer    ", "", ErrMalformedAuth},
		{"bearer abc.def", "abc.def", nil},
		{"Bearer  abc.def ", "abc.def", nil},
	}
	for _, tt := range tests {
		req := httptest.NewRequest(http.MethodGet, "/", nil)
		if tt.header != "" {
			req.Header.Set("Authorization", tt.header)
		}
		got, err := BearerToken(req)
		if err != tt.err || got != tt.want {
			t.Fatalf("header %q: got (%q, %v), want (%q, %v)", tt.header, got, err, tt.want, tt.err)
		}
	}
}

func TestAuthRejects(t *testing.T) {
	expired, err := auth.GenerateToken("secret", "user-1", -time.Minute)
	if err != nil {
		t.Fatalf("failed to generate token: %v", err)
	}
	foreign, err := auth.GenerateToken("other-secret", "user-1", time.Minute)
	if err != nil {
		t.Fatalf("failed to generate token: %v", err)
	}
	tests := []struct {
		name   string
		header string
		code   string
	}{
		{"missing header", "", "unauthorized"},
		{"wrong scheme", "Token abc", "unauthorized"},
		{"garbage", "Bearer invalid", "invalid_token"},
		{"wrong secret", "Bearer " + foreign, "invalid_token"},
		{"expired", "Bearer " + expired, "token_expired"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			handler := Auth("secret")(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				t.Fatalf("handler should not be called")
			}))
			req := httptest.NewRequest(http.MethodGet, "/", nil)
			if tt.header != "" {
				req.Header.Set("Authorization", tt.header)
			}
			rr := httptest.NewRecorder()
			handler.ServeHTTP(rr, req)
			if rr.Code != http.StatusUnauthorized {
				t.Fatalf("expected 401, got %d", rr.Code)
			}
			var body map[string]string
			if err := json.Unmarshal(rr.Body.Bytes(), &body); err != nil || body["error"] != tt.code {
				t.Fatalf("expected error %q, got %s", tt.code, rr.Body.String())
			}
		})
	}
}

func TestAuthStoresUserID(t *testing.T) {
	token, err := auth.GenerateToken("secret", "user-1", time.Minute)
	if err != nil {
		t.Fatalf("failed to generate token: %v", err)
	}
	handler := Auth("secret")(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		userID, ok := UserIDFromContext(r.Context())
		if !ok || userID != "user-1" {
			t.Fatalf("expected user-1 in context, got %q", userID)
		}
		w.WriteHeader(http.StatusNoContent)
	}))
	req := httptest.NewRequest(http.MethodGet, "/", nil)
	req.Header.Set("Authorization", "Bearer "+token)
	rr := httptest.NewRecorder()
	handler.ServeHTTP(rr, req)
	if rr.Code != http.StatusNoContent {
		t.Fatalf("expected 204, got %d", rr.Code)
	}
}
