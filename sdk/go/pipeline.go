package cleanlinesdk

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"sync"
	"time"
)

var (
	// ErrNotAuthenticated is returned for protected calls without a session.
	ErrNotAuthenticated = errors.New("not authenticated")
	// ErrAuthRecoveryFailed is returned when the single 401 recovery retry
	// could not restore the session.
	ErrAuthRecoveryFailed = errors.New("authentication recovery failed")
)

// TokenSource supplies bearer tokens for protected requests.
type TokenSource interface {
	// Token returns a valid access token, refreshing it first when
	// forceRefresh is set or the cached token expired.
	Token(ctx context.Context, forceRefresh bool) (string, error)
	// Authenticated reports whether a session exists at all.
	Authenticated() bool
}

// StaticTokenSource returns a fixed token and never refreshes.
type StaticTokenSource struct {
	AccessToken string
}

func (s StaticTokenSource) Token(ctx context.Context, forceRefresh bool) (string, error) {
	if s.AccessToken == "" {
		return "", ErrNotAuthenticated
	}
	return s.AccessToken, nil
}

func (s StaticTokenSource) Authenticated() bool { return s.AccessToken != "" }

// RefreshTokenSource exchanges a stored refresh token for access tokens via
// POST /v1/auth/refresh. The server rotates the refresh token on every
// exchange; the source keeps the latest one.
type RefreshTokenSource struct {
	BaseURL    string
	HTTPClient *http.Client
	Now        func() time.Time

	mu           sync.Mutex
	accessToken  string
	refreshToken string
	expiresAt    time.Time
}

// SetSession seeds the source from a login response.
func (s *RefreshTokenSource) SetSession(accessToken, refreshToken string, expiresIn int) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.accessToken = accessToken
	s.refreshToken = refreshToken
	s.expiresAt = s.now().Add(time.Duration(expiresIn) * time.Second)
}

// Clear drops the session.
func (s *RefreshTokenSource) Clear() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.accessToken = ""
	s.refreshToken = ""
	s.expiresAt = time.Time{}
}

func (s *RefreshTokenSource) Authenticated() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.refreshToken != ""
}

func (s *RefreshTokenSource) now() time.Time {
	if s.Now != nil {
		return s.Now()
	}
	return time.Now()
}

func (s *RefreshTokenSource) httpClient() *http.Client {
	if s.HTTPClient != nil {
		return s.HTTPClient
	}
	return http.DefaultClient
}

func (s *RefreshTokenSource) Token(ctx context.Context, forceRefresh bool) (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.refreshToken == "" {
		return "", ErrNotAuthenticated
	}
	if !forceRefresh && s.accessToken != "" && s.now().Before(s.expiresAt) {
		return s.accessToken, nil
	}
	body, err := json.Marshal(map[string]string{"refresh_token": s.refreshToken})
	if err != nil {
		return "", err
	}
	url := strings.TrimRight(s.BaseURL, "/") + "/v1/auth/refresh"
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(body))
	if err != nil {
		return "", err
	}
	req.Header.Set("Content-Type", "application/json")
	resp, err := s.httpClient().Do(req)
	if err != nil {
		return "", err
	}
	defer resp.Body.Close()
	if resp.StatusCode == http.StatusUnauthorized {
		// Refresh token revoked or expired; the session is gone.
		s.accessToken = ""
		s.refreshToken = ""
		return "", ErrNotAuthenticated
	}
	if resp.StatusCode >= 300 {
		return "", fmt.Errorf("refresh failed: status=%d", resp.StatusCode)
	}
	var tr struct {
		AccessToken  string `json:"access_token"`
		RefreshToken string `json:"refresh_token"`
		ExpiresIn    int    `json:"expires_in"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&tr); err != nil {
		return "", err
	}
	s.accessToken = tr.AccessToken
	s.refreshToken = tr.RefreshToken
	s.expiresAt = s.now().Add(time.Duration(tr.ExpiresIn) * time.Second)
	return s.accessToken, nil
}

type recoveryAction int

const (
	recoveryDeliver recoveryAction = iota
	recoveryRetry
	recoveryFail
)

// recoveryPolicy is the 401 recovery state machine, kept separate from the
// transport: the first 401 asks for one retry, the second gives up, anything
// else is delivered as-is.
type recoveryPolicy struct {
	retried bool
}

func (p *recoveryPolicy) Observe(statusCode int) recoveryAction {
	if statusCode != http.StatusUnauthorized {
		return recoveryDeliver
	}
	if p.retried {
		return recoveryFail
	}
	p.retried = true
	return recoveryRetry
}

// publicEndpoint reports whether the endpoint needs no bearer token.
func publicEndpoint(endpoint string) bool {
	p := "/" + strings.TrimLeft(strings.SplitN(endpoint, "?", 2)[0], "/")
	switch p {
	case "/v1/health", "/v1/auth/register", "/v1/auth/login", "/v1/auth/refresh":
		return true
	}
	return false
}
