package engine

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"

	"cleanline/internal/domain"
	"cleanline/internal/engine/auth"
	"cleanline/internal/repo"
)

var (
	ErrInvalidCredentials = errors.New("invalid credentials")
	ErrRefreshExpired     = errors.New("refresh token expired")
)

// RegisterUser creates a user account. The first registered user becomes a
// manager regardless of the requested role.
func (e Engine) RegisterUser(ctx context.Context, email, name, password, role string) (domain.User, error) {
	email = strings.ToLower(strings.TrimSpace(email))
	if email == "" {
		return domain.User{}, errors.New("email is required")
	}
	if len(password) < 8 {
		return domain.User{}, errors.New("password must be at least 8 characters")
	}
	if role == "" {
		role = auth.RoleCleaner
	}
	if !auth.ValidRole(role) {
		return domain.User{}, fmt.Errorf("invalid role %s", role)
	}
	n, err := e.Repo.CountUsers(ctx)
	if err != nil {
		return domain.User{}, err
	}
	if n == 0 {
		role = auth.RoleManager
	}
	hash, err := auth.HashPassword(password)
	if err != nil {
		return domain.User{}, err
	}
	u := domain.User{
		ID:           uuid.NewString(),
		Email:        email,
		Name:         name,
		Role:         role,
		PasswordHash: hash,
		CreatedAt:    e.now().UTC().Format(time.RFC3339),
	}
	if err := e.Repo.InsertUser(ctx, u); err != nil {
		return domain.User{}, fmt.Errorf("insert user: %w", err)
	}
	return u, nil
}

// LoginUser verifies credentials and issues a fresh refresh token. The raw
// token is returned once; only its hash is stored.
func (e Engine) LoginUser(ctx context.Context, email, password string) (domain.User, string, error) {
	u, err := e.Repo.GetUserByEmail(ctx, strings.ToLower(strings.TrimSpace(email)))
	if err == repo.ErrNotFound {
		return domain.User{}, "", ErrInvalidCredentials
	}
	if err != nil {
		return domain.User{}, "", err
	}
	if !auth.VerifyPassword(u.PasswordHash, password) {
		return domain.User{}, "", ErrInvalidCredentials
	}
	token, err := e.issueRefreshToken(ctx, u.ID)
	if err != nil {
		return domain.User{}, "", err
	}
	return u, token, nil
}

// RefreshSession exchanges a valid refresh token for the owning user and a
// rotated replacement token. The presented token is revoked either way.
func (e Engine) RefreshSession(ctx context.Context, rawToken string) (domain.User, string, error) {
	t, err := e.Repo.GetRefreshTokenByHash(ctx, repo.HashToken(rawToken))
	if err == repo.ErrNotFound {
		return domain.User{}, "", ErrInvalidCredentials
	}
	if err != nil {
		return domain.User{}, "", err
	}
	if err := e.Repo.DeleteRefreshToken(ctx, t.ID); err != nil {
		return domain.User{}, "", err
	}
	expires, err := time.Parse(time.RFC3339, t.ExpiresAt)
	if err != nil || e.now().UTC().After(expires) {
		return domain.User{}, "", ErrRefreshExpired
	}
	u, err := e.Repo.GetUser(ctx, t.UserID)
	if err != nil {
		return domain.User{}, "", err
	}
	token, err := e.issueRefreshToken(ctx, u.ID)
	if err != nil {
		return domain.User{}, "", err
	}
	return u, token, nil
}

// Logout revokes every refresh token the user holds. Outstanding access
// tokens stay valid until they expire.
func (e Engine) Logout(ctx context.Context, userID string) error {
	return e.Repo.DeleteRefreshTokensForUser(ctx, userID)
}

func (e Engine) issueRefreshToken(ctx context.Context, userID string) (string, error) {
	raw, err := auth.NewToken()
	if err != nil {
		return "", err
	}
	now := e.now().UTC()
	t := domain.RefreshToken{
		ID:        uuid.NewString(),
		UserID:    userID,
		TokenHash: repo.HashToken(raw),
		ExpiresAt: now.Add(time.Duration(e.Config.RefreshTokenTTL()) * time.Hour).Format(time.RFC3339),
		CreatedAt: now.Format(time.RFC3339),
	}
	if err := e.Repo.InsertRefreshToken(ctx, t); err != nil {
		return "", err
	}
	return raw, nil
}
