package database

import (
	"context"
	"fmt"
	"time"
)

// BotRecord is one row in the bot registry: which credential a bot runs
// on and whether it is trading.
type BotRecord struct {
	BotID          string    `json:"bot_id"`
	UserID         string    `json:"user_id"`
	CredentialID   string    `json:"credential_id"`
	TradingEnabled bool      `json:"trading_enabled"`
	RegisteredAt   time.Time `json:"registered_at"`
}

// BotRegistry persists the bot-to-credential mapping. It backs the
// capacity validator's BotDirectory.
type BotRegistry struct {
	db *DB
}

// NewBotRegistry creates a registry over the shared pool.
func NewBotRegistry(db *DB) *BotRegistry {
	return &BotRegistry{db: db}
}

// RegisterBot upserts a bot's registry row.
func (r *BotRegistry) RegisterBot(ctx context.Context, rec *BotRecord) error {
	query := `
		INSERT INTO bot_registry (bot_id, user_id, credential_id, trading_enabled, registered_at)
		VALUES ($1, $2, $3, $4, $5)
		ON CONFLICT (bot_id) DO UPDATE SET
			credential_id = EXCLUDED.credential_id,
			trading_enabled = EXCLUDED.trading_enabled`

	_, err := r.db.Pool.Exec(ctx, query,
		rec.BotID, rec.UserID, rec.CredentialID, rec.TradingEnabled, rec.RegisteredAt)
	if err != nil {
		return fmt.Errorf("failed to register bot %s: %w", rec.BotID, err)
	}
	return nil
}

// UnregisterBot removes a bot's registry row.
func (r *BotRegistry) UnregisterBot(ctx context.Context, botID string) error {
	_, err := r.db.Pool.Exec(ctx, `DELETE FROM bot_registry WHERE bot_id = $1`, botID)
	if err != nil {
		return fmt.Errorf("failed to unregister bot %s: %w", botID, err)
	}
	return nil
}

// ActiveBotCount counts active, trading-enabled bots on a credential.
func (r *BotRegistry) ActiveBotCount(ctx context.Context, credentialID string) (int, error) {
	var count int
	err := r.db.Pool.QueryRow(ctx,
		`SELECT COUNT(*) FROM bot_registry WHERE credential_id = $1 AND trading_enabled = TRUE`,
		credentialID).Scan(&count)
	if err != nil {
		return 0, fmt.Errorf("failed to count bots for credential %s: %w", credentialID, err)
	}
	return count, nil
}

// UserCredentials lists the distinct credentials a user's bots run on.
func (r *BotRegistry) UserCredentials(ctx context.Context, userID string) ([]string, error) {
	rows, err := r.db.Pool.Query(ctx,
		`SELECT DISTINCT credential_id FROM bot_registry WHERE user_id = $1 ORDER BY credential_id`,
		userID)
	if err != nil {
		return nil, fmt.Errorf("failed to list credentials for user %s: %w", userID, err)
	}
	defer rows.Close()

	var out []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, err
		}
		out = append(out, id)
	}
	return out, rows.Err()
}

// BotsOnCredential lists the bots registered to one credential.
func (r *BotRegistry) BotsOnCredential(ctx context.Context, credentialID string) ([]*BotRecord, error) {
	rows, err := r.db.Pool.Query(ctx, `
		SELECT bot_id, user_id, credential_id, trading_enabled, registered_at
		FROM bot_registry WHERE credential_id = $1 ORDER BY registered_at ASC`, credentialID)
	if err != nil {
		return nil, fmt.Errorf("failed to list bots for credential %s: %w", credentialID, err)
	}
	defer rows.Close()

	var out []*BotRecord
	for rows.Next() {
		var rec BotRecord
		if err := rows.Scan(&rec.BotID, &rec.UserID, &rec.CredentialID,
			&rec.TradingEnabled, &rec.RegisteredAt); err != nil {
			return nil, err
		}
		out = append(out, &rec)
	}
	return out, rows.Err()
}
