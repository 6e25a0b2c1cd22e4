package repo

import (
	"context"
	"crypto/sha256"
	"database/sql"
	"encoding/hex"
	"errors"
	"strings"

	"cleanline/internal/domain"
)

// HashToken returns a stable SHA-256 hex digest for the provided token.
// Refresh tokens are only ever stored hashed.
func HashToken(token string) string {
	sum := sha256.Sum256([]byte(strings.TrimSpace(token)))
	return hex.EncodeToString(sum[:])
}

func (r Repo) InsertUser(ctx context.Context, u domain.User) error {
	if u.ID == "" {
		return errors.New("id required")
	}
	if u.Email == "" {
		return errors.New("email required")
	}
	if u.PasswordHash == "" {
		return errors.New("password_hash required")
	}
	_, err := r.DB.ExecContext(ctx, `INSERT INTO users(id,email,name,role,password_hash,created_at) VALUES (?,?,?,?,?,?)`,
		u.ID, u.Email, nullable(u.Name), u.Role, u.PasswordHash, u.CreatedAt)
	return err
}

func scanUser(row *sql.Row) (domain.User, error) {
	var u domain.User
	var name sql.NullString
	err := row.Scan(&u.ID, &u.Email, &name, &u.Role, &u.PasswordHash, &u.CreatedAt)
	if err == sql.ErrNoRows {
		return u, ErrNotFound
	}
	if name.Valid {
		u.Name = name.String
	}
	return u, err
}

func (r Repo) GetUser(ctx context.Context, id string) (domain.User, error) {
	return scanUser(r.DB.QueryRowContext(ctx, `SELECT id,email,name,role,password_hash,created_at FROM users WHERE id=?`, id))
}

func (r Repo) GetUserByEmail(ctx context.Context, email string) (domain.User, error) {
	return scanUser(r.DB.QueryRowContext(ctx, `SELECT id,email,name,role,password_hash,created_at FROM users WHERE email=?`, email))
}

func (r Repo) CountUsers(ctx context.Context) (int, error) {
	var n int
	err := r.DB.QueryRowContext(ctx, `SELECT count(*) FROM users`).Scan(&n)
	return n, err
}

// InsertRefreshToken stores a hashed refresh token. TokenHash must already
// contain the hashed value.
func (r Repo) InsertRefreshToken(ctx context.Context, t domain.RefreshToken) error {
	if t.TokenHash == "" {
		return errors.New("token_hash required")
	}
	_, err := r.DB.ExecContext(ctx, `INSERT INTO refresh_tokens(id,user_id,token_hash,expires_at,created_at) VALUES (?,?,?,?,?)`,
		t.ID, t.UserID, t.TokenHash, t.ExpiresAt, t.CreatedAt)
	return err
}

func (r Repo) GetRefreshTokenByHash(ctx context.Context, hash string) (domain.RefreshToken, error) {
	var t domain.RefreshToken
	err := r.DB.QueryRowContext(ctx, `SELECT id,user_id,token_hash,expires_at,created_at FROM refresh_tokens WHERE token_hash=? LIMIT 1`, hash).
		Scan(&t.ID, &t.UserID, &t.TokenHash, &t.ExpiresAt, &t.CreatedAt)
	if err == sql.ErrNoRows {
		return t, ErrNotFound
	}
	return t, err
}

func (r Repo) DeleteRefreshToken(ctx context.Context, id string) error {
	_, err := r.DB.ExecContext(ctx, `DELETE FROM refresh_tokens WHERE id=?`, id)
	return err
}

func (r Repo) DeleteRefreshTokensForUser(ctx context.Context, userID string) error {
	_, err := r.DB.ExecContext(ctx, `DELETE FROM refresh_tokens WHERE user_id=?`, userID)
	return err
}
