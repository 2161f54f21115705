package spapi

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
)

func TestBearerTokenExchangedOncePerRun(t *testing.T) {
	var calls int32
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		atomic.AddInt32(&calls, 1)
		if err := r.ParseForm(); err != nil {
			w.WriteHeader(http.StatusBadRequest)
			return
		}
		if r.PostForm.Get("grant_type") != "refresh_token" || r.PostForm.Get("refresh_token") != "refresh-1" {
			w.WriteHeader(http.StatusBadRequest)
			return
		}
		_, _ = w.Write([]byte(`{"access_token":"access-1","expires_in":3600}`))
	}))
	defer server.Close()

	auth := NewAuthenticator(AuthConfig{
		TokenURL:     server.URL,
		ClientID:     "client",
		ClientSecret: "secret",
		RefreshToken: "refresh-1",
	})

	for i := 0; i < 3; i++ {
		token, err := auth.BearerToken(context.Background())
		if err != nil {
			t.Fatalf("expected token, got err=%v", err)
		}
		if token != "access-1" {
			t.Fatalf("expected access-1, got %q", token)
		}
	}
	if got := atomic.LoadInt32(&calls); got != 1 {
		t.Fatalf("expected a single exchange, got %d", got)
	}
}

func TestBearerTokenRejectionIsAuthError(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusBadRequest)
		_, _ = w.Write([]byte(`{"error":"invalid_grant","error_description":"refresh token expired"}`))
	}))
	defer server.Close()

	auth := NewAuthenticator(AuthConfig{
		TokenURL:     server.URL,
		ClientID:     "client",
		ClientSecret: "secret",
		RefreshToken: "stale",
	})

	_, err := auth.BearerToken(context.Background())
	var authErr *AuthError
	if !errors.As(err, &authErr) {
		t.Fatalf("expected *AuthError, got %v", err)
	}
	if authErr.StatusCode != http.StatusBadRequest {
		t.Fatalf("expected status 400, got %d", authErr.StatusCode)
	}
}

func TestBearerTokenMissingCredentialsIsAuthError(t *testing.T) {
	auth := NewAuthenticator(AuthConfig{TokenURL: "http://localhost:0"})
	_, err := auth.BearerToken(context.Background())
	var authErr *AuthError
	if !errors.As(err, &authErr) {
		t.Fatalf("expected *AuthError, got %v", err)
	}
}

func TestRestrictedTokenExchange(t *testing.T) {
	mux := http.NewServeMux()
	mux.HandleFunc("POST /token", func(w http.ResponseWriter, _ *http.Request) {
		_, _ = w.Write([]byte(`{"access_token":"access-2"}`))
	})
	mux.HandleFunc("POST /tokens/restricted", func(w http.ResponseWriter, r *http.Request) {
		if r.Header.Get("x-api-access-token") != "access-2" {
			w.WriteHeader(http.StatusUnauthorized)
			return
		}
		_, _ = w.Write([]byte(`{"restrictedDataToken":"rdt-1"}`))
	})
	server := httptest.NewServer(mux)
	defer server.Close()

	auth := NewAuthenticator(AuthConfig{
		TokenURL:     server.URL + "/token",
		APIBaseURL:   server.URL,
		ClientID:     "client",
		ClientSecret: "secret",
		RefreshToken: "refresh-1",
	})

	token, err := auth.RestrictedToken(context.Background(), "/orders/v0/orders", http.MethodGet, []string{"buyerInfo"})
	if err != nil {
		t.Fatalf("expected restricted token, got err=%v", err)
	}
	if token != "rdt-1" {
		t.Fatalf("expected rdt-1, got %q", token)
	}
}
