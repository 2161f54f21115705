package spapi

import (
	"context"
	"encoding/json"
	"net/http"
	"net/url"
	"strings"
	"sync"
	"time"
)

// TokenProvider supplies credentials for seller API calls.
type TokenProvider interface {
	// BearerToken returns the short-lived access token for regular calls.
	BearerToken(ctx context.Context) (string, error)
	// RestrictedToken returns a scoped token for requests that touch
	// personally identifying fields (buyer info, shipping addresses).
	RestrictedToken(ctx context.Context, path, method string, dataElements []string) (string, error)
}

// AuthConfig configures the refresh-token exchange.
type AuthConfig struct {
	TokenURL     string
	APIBaseURL   string
	ClientID     string
	ClientSecret string
	RefreshToken string
	Timeout      time.Duration
	HTTPClient   *http.Client
}

// Authenticator exchanges a long-lived refresh token for bearer tokens. The
// bearer token is fetched once per process run and reused read-only by every
// concurrent driver; refresh-on-expiry is deliberately out of scope.
type Authenticator struct {
	config     AuthConfig
	httpClient *http.Client

	once  sync.Once
	token string
	err   error
}

func NewAuthenticator(config AuthConfig) *Authenticator {
	if config.Timeout <= 0 {
		config.Timeout = 30 * time.Second
	}
	if config.HTTPClient == nil {
		config.HTTPClient = &http.Client{Timeout: config.Timeout}
	}
	return &Authenticator{config: config, httpClient: config.HTTPClient}
}

func (a *Authenticator) BearerToken(ctx context.Context) (string, error) {
	a.once.Do(func() {
		a.token, a.err = a.exchange(ctx)
	})
	return a.token, a.err
}

func (a *Authenticator) exchange(ctx context.Context) (string, error) {
	if a.config.ClientID == "" || a.config.ClientSecret == "" || a.config.RefreshToken == "" {
		return "", &AuthError{Message: "client id, client secret and refresh token are all required"}
	}

	form := url.Values{}
	form.Set("grant_type", "refresh_token")
	form.Set("refresh_token", a.config.RefreshToken)
	form.Set("client_id", a.config.ClientID)
	form.Set("client_secret", a.config.ClientSecret)

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, a.config.TokenURL, strings.NewReader(form.Encode()))
	if err != nil {
		return "", &AuthError{Message: err.Error()}
	}
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")

	resp, err := a.httpClient.Do(req)
	if err != nil {
		return "", &AuthError{Message: err.Error()}
	}
	defer resp.Body.Close()

	var parsed struct {
		AccessToken string `json:"access_token"`
		Error       string `json:"error_description"`
	}
	decodeErr := json.NewDecoder(resp.Body).Decode(&parsed)

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return "", &AuthError{StatusCode: resp.StatusCode, Message: parsed.Error}
	}
	if decodeErr != nil {
		return "", &AuthError{Message: "decode token response: " + decodeErr.Error()}
	}
	if parsed.AccessToken == "" {
		return "", &AuthError{Message: "token response without access_token"}
	}
	return parsed.AccessToken, nil
}

// RestrictedToken exchanges the bearer token for a resource-scoped token.
// Restricted tokens are short-lived and request-shaped, so they are not cached.
func (a *Authenticator) RestrictedToken(ctx context.Context, path, method string, dataElements []string) (string, error) {
	bearer, err := a.BearerToken(ctx)
	if err != nil {
		return "", err
	}

	payload, err := json.Marshal(map[string]any{
		"restrictedResources": []map[string]any{
			{
				"method":       method,
				"path":         path,
				"dataElements": dataElements,
			},
		},
	})
	if err != nil {
		return "", &AuthError{Message: err.Error()}
	}

	endpoint := strings.TrimSuffix(a.config.APIBaseURL, "/") + "/tokens/restricted"
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, strings.NewReader(string(payload)))
	if err != nil {
		return "", &AuthError{Message: err.Error()}
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("x-api-access-token", bearer)

	resp, err := a.httpClient.Do(req)
	if err != nil {
		return "", &AuthError{Message: err.Error()}
	}
	defer resp.Body.Close()

	var parsed struct {
		RestrictedDataToken string `json:"restrictedDataToken"`
	}
	decodeErr := json.NewDecoder(resp.Body).Decode(&parsed)

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return "", &AuthError{StatusCode: resp.StatusCode, Message: "restricted token exchange rejected"}
	}
	if decodeErr != nil || parsed.RestrictedDataToken == "" {
		return "", &AuthError{Message: "restricted token response without token"}
	}
	return parsed.RestrictedDataToken, nil
}
