// Package db provides the SQLite persistence used by the trading core:
// encrypted exchange credentials, trade history, admitted open trades and
// per-user auto-trading configuration.
package db

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
)

var (
	ErrUserIDRequired = errors.New("user_id is required for data isolation")
	ErrNotFound       = errors.New("record not found")
)

// ----------------------------------------
// Credential Queries
// ----------------------------------------

// CredentialQueries stores encrypted exchange credentials.
type CredentialQueries struct {
	db *sql.DB
}

func NewCredentialQueries(db *sql.DB) *CredentialQueries {
	return &CredentialQueries{db: db}
}

// UpsertCredential stores or replaces a user's credentials for one exchange.
func (q *CredentialQueries) UpsertCredential(ctx context.Context, c ExchangeCredential) error {
	if c.UserID == "" {
		return ErrUserIDRequired
	}
	if c.KeyVersion == 0 {
		c.KeyVersion = 1
	}
	_, err := q.db.ExecContext(ctx, `
		INSERT INTO exchange_credentials (
			user_id, exchange, api_key_encrypted, secret_key_encrypted,
			passphrase_encrypted, key_version, is_active, created_at, updated_at
		)
		VALUES (?, ?, ?, ?, ?, ?, 1, CURRENT_TIMESTAMP, CURRENT_TIMESTAMP)
		ON CONFLICT(user_id, exchange) DO UPDATE SET
			api_key_encrypted = excluded.api_key_encrypted,
			secret_key_encrypted = excluded.secret_key_encrypted,
			passphrase_encrypted = excluded.passphrase_encrypted,
			key_version = excluded.key_version,
			is_active = 1,
			updated_at = CURRENT_TIMESTAMP
	`, c.UserID, c.Exchange, c.APIKeyEncrypted, c.SecretKeyEncrypted, c.PassphraseEncrypted, c.KeyVersion)
	if err != nil {
		return fmt.Errorf("upsert credential: %w", err)
	}
	return nil
}

// GetCredential returns the active credentials of a user for one exchange.
func (q *CredentialQueries) GetCredential(ctx context.Context, userID, exchange string) (*ExchangeCredential, error) {
	if userID == "" {
		return nil, ErrUserIDRequired
	}
	var c ExchangeCredential
	err := q.db.QueryRowContext(ctx, `
		SELECT user_id, exchange, api_key_encrypted, secret_key_encrypted,
		       passphrase_encrypted, COALESCE(key_version, 1), is_active, created_at, updated_at
		FROM exchange_credentials
		WHERE user_id = ? AND exchange = ? AND is_active = 1
	`, userID, exchange).Scan(&c.UserID, &c.Exchange, &c.APIKeyEncrypted, &c.SecretKeyEncrypted,
		&c.PassphraseEncrypted, &c.KeyVersion, &c.IsActive, &c.CreatedAt, &c.UpdatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("query credential: %w", err)
	}
	return &c, nil
}

// ListExchanges returns the exchanges a user has active credentials for.
func (q *CredentialQueries) ListExchanges(ctx context.Context, userID string) ([]string, error) {
	if userID == "" {
		return nil, ErrUserIDRequired
	}
	rows, err := q.db.QueryContext(ctx, `
		SELECT exchange FROM exchange_credentials
		WHERE user_id = ? AND is_active = 1
		ORDER BY exchange
	`, userID)
	if err != nil {
		return nil, fmt.Errorf("query exchanges: %w", err)
	}
	defer rows.Close()

	var out []string
	for rows.Next() {
		var ex string
		if err := rows.Scan(&ex); err != nil {
			return nil, fmt.Errorf("scan exchange: %w", err)
		}
		out = append(out, ex)
	}
	return out, rows.Err()
}

// DeactivateCredential disables stored credentials without deleting them.
func (q *CredentialQueries) DeactivateCredential(ctx context.Context, userID, exchange string) error {
	if userID == "" {
		return ErrUserIDRequired
	}
	res, err := q.db.ExecContext(ctx, `
		UPDATE exchange_credentials SET is_active = 0, updated_at = CURRENT_TIMESTAMP
		WHERE user_id = ? AND exchange = ?
	`, userID, exchange)
	if err != nil {
		return fmt.Errorf("deactivate credential: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return ErrNotFound
	}
	return nil
}

// ----------------------------------------
// Config Queries
// ----------------------------------------

// ConfigQueries stores per-user auto-trading configuration as JSON.
type ConfigQueries struct {
	db *sql.DB
}

func NewConfigQueries(db *sql.DB) *ConfigQueries {
	return &ConfigQueries{db: db}
}

// SaveConfig upserts the JSON config document of a user.
func (q *ConfigQueries) SaveConfig(ctx context.Context, userID, configJSON string) error {
	if userID == "" {
		return ErrUserIDRequired
	}
	_, err := q.db.ExecContext(ctx, `
		INSERT INTO auto_trading_configs (user_id, config, updated_at)
		VALUES (?, ?, CURRENT_TIMESTAMP)
		ON CONFLICT(user_id) DO UPDATE SET config = excluded.config, updated_at = CURRENT_TIMESTAMP
	`, userID, configJSON)
	if err != nil {
		return fmt.Errorf("save config: %w", err)
	}
	return nil
}

// LoadConfig returns the stored JSON config, or ErrNotFound.
func (q *ConfigQueries) LoadConfig(ctx context.Context, userID string) (string, error) {
	if userID == "" {
		return "", ErrUserIDRequired
	}
	var cfg string
	err := q.db.QueryRowContext(ctx, `SELECT config FROM auto_trading_configs WHERE user_id = ?`, userID).Scan(&cfg)
	if errors.Is(err, sql.ErrNoRows) {
		return "", ErrNotFound
	}
	if err != nil {
		return "", fmt.Errorf("load config: %w", err)
	}
	return cfg, nil
}

// ListConfigUsers returns every user with a stored config, ordered by ID.
func (q *ConfigQueries) ListConfigUsers(ctx context.Context) ([]string, error) {
	rows, err := q.db.QueryContext(ctx, `SELECT user_id FROM auto_trading_configs ORDER BY user_id`)
	if err != nil {
		return nil, fmt.Errorf("query config users: %w", err)
	}
	defer rows.Close()

	var out []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, fmt.Errorf("scan config user: %w", err)
		}
		out = append(out, id)
	}
	return out, rows.Err()
}
