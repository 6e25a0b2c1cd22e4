package app

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"

	"cleanline/internal/config"
	"cleanline/internal/db"
	"cleanline/internal/engine"
	"cleanline/internal/migrate"
)

// Open opens the workspace database, applies migrations, and loads the
// config. A missing config file falls back to the built-in default.
func Open(ctx context.Context, workspace string) (*sql.DB, *config.Config, error) {
	conn, err := db.Open(db.Config{Workspace: workspace})
	if err != nil {
		return nil, nil, err
	}
	if err := migrate.Migrate(conn); err != nil {
		conn.Close()
		return nil, nil, fmt.Errorf("migrate: %w", err)
	}
	cfg, err := config.LoadOptional(workspace)
	if err != nil {
		conn.Close()
		return nil, nil, err
	}
	if cfg == nil {
		cfg = config.Default("cleanline")
	}
	return conn, cfg, nil
}

// OpenEngine wraps Open and returns a ready engine.
func OpenEngine(ctx context.Context, workspace string) (engine.Engine, func(), error) {
	conn, cfg, err := Open(ctx, workspace)
	if err != nil {
		return engine.Engine{}, nil, err
	}
	return engine.New(conn, cfg), func() { conn.Close() }, nil
}

// Credentials is the locally stored CLI session.
type Credentials struct {
	BaseURL      string `json:"base_url"`
	Email        string `json:"email"`
	AccessToken  string `json:"access_token"`
	RefreshToken string `json:"refresh_token"`
	ExpiresIn    int    `json:"expires_in"`
}

func credentialsPath(workspace string) (string, error) {
	base, err := db.EnsureWorkspace(workspace)
	if err != nil {
		return "", err
	}
	return filepath.Join(base, "credentials.json"), nil
}

// SaveCredentials writes the CLI session with owner-only permissions.
func SaveCredentials(workspace string, creds Credentials) error {
	path, err := credentialsPath(workspace)
	if err != nil {
		return err
	}
	data, err := json.MarshalIndent(creds, "", "  ")
	if err != nil {
		return err
	}
	return os.WriteFile(path, data, 0o600)
}

// DeleteCredentials removes the stored CLI session, if any.
func DeleteCredentials(workspace string) error {
	path, err := credentialsPath(workspace)
	if err != nil {
		return err
	}
	if err := os.Remove(path); err != nil && !os.IsNotExist(err) {
		return err
	}
	return nil
}

// LoadCredentials reads the stored CLI session.
func LoadCredentials(workspace string) (Credentials, error) {
	path, err := credentialsPath(workspace)
	if err != nil {
		return Credentials{}, err
	}
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return Credentials{}, fmt.Errorf("not logged in; run cleanline login first")
		}
		return Credentials{}, err
	}
	var creds Credentials
	if err := json.Unmarshal(data, &creds); err != nil {
		return Credentials{}, err
	}
	return creds, nil
}
