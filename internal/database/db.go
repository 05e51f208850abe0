package database

import (
	"context"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/rs/zerolog"
)

// DB wraps the PostgreSQL connection pool.
type DB struct {
	Pool   *pgxpool.Pool
	logger zerolog.Logger
}

// Config holds database connection settings.
type Config struct {
	Host     string `json:"host"`
	Port     int    `json:"port"`
	User     string `json:"user"`
	Password string `json:"password"`
	Database string `json:"database"`
	SSLMode  string `json:"ssl_mode"`
}

// NewDB connects to PostgreSQL and verifies the connection.
func NewDB(cfg Config, logger zerolog.Logger) (*DB, error) {
	dsn := fmt.Sprintf(
		"host=%s port=%d user=%s password=%s dbname=%s sslmode=%s",
		cfg.Host, cfg.Port, cfg.User, cfg.Password, cfg.Database, cfg.SSLMode,
	)

	poolConfig, err := pgxpool.ParseConfig(dsn)
	if err != nil {
		return nil, fmt.Errorf("unable to parse database config: %w", err)
	}

	poolConfig.MaxConns = 25
	poolConfig.MinConns = 5
	poolConfig.MaxConnLifetime = time.Hour
	poolConfig.MaxConnIdleTime = 30 * time.Minute
	poolConfig.HealthCheckPeriod = time.Minute

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	pool, err := pgxpool.NewWithConfig(ctx, poolConfig)
	if err != nil {
		return nil, fmt.Errorf("unable to create connection pool: %w", err)
	}

	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("unable to ping database: %w", err)
	}

	log := logger.With().Str("component", "Database").Logger()
	log.Info().Str("database", cfg.Database).Msg("Connected to PostgreSQL")

	return &DB{Pool: pool, logger: log}, nil
}

// Close closes the connection pool.
func (db *DB) Close() {
	if db.Pool != nil {
		db.Pool.Close()
		db.logger.Info().Msg("Database connection closed")
	}
}

// RunMigrations creates the schema if it does not exist.
func (db *DB) RunMigrations(ctx context.Context) error {
	db.logger.Info().Msg("Running database migrations")

	migrations := []string{
		`CREATE TABLE IF NOT EXISTS trades (
			id UUID PRIMARY KEY,
			bot_id VARCHAR(64) NOT NULL,
			user_id VARCHAR(64),
			symbol VARCHAR(20) NOT NULL,
			direction VARCHAR(4) NOT NULL,
			order_type VARCHAR(16) NOT NULL,
			quantity DECIMAL(20, 8) NOT NULL,
			entry_price DECIMAL(20, 8) NOT NULL DEFAULT 0,
			exit_price DECIMAL(20, 8),
			current_price DECIMAL(20, 8),
			stop_loss DECIMAL(20, 8),
			take_profit DECIMAL(20, 8),
			status VARCHAR(10) NOT NULL,
			profit_loss DECIMAL(20, 8) NOT NULL DEFAULT 0,
			profit_loss_percent DECIMAL(10, 4) NOT NULL DEFAULT 0,
			fees DECIMAL(20, 8) NOT NULL DEFAULT 0,
			risk_reward_ratio DECIMAL(10, 4),
			exit_reason VARCHAR(128),
			broker_order_id VARCHAR(64),
			broker_position_id VARCHAR(64),
			created_at TIMESTAMP NOT NULL,
			opened_at TIMESTAMP,
			closed_at TIMESTAMP,
			duration_seconds DECIMAL(14, 2)
		)`,
		`CREATE INDEX IF NOT EXISTS idx_trades_bot_status ON trades(bot_id, status)`,
		`CREATE INDEX IF NOT EXISTS idx_trades_bot_created ON trades(bot_id, created_at DESC)`,

		`CREATE TABLE IF NOT EXISTS positions (
			trade_id UUID PRIMARY KEY REFERENCES trades(id),
			bot_id VARCHAR(64) NOT NULL,
			user_id VARCHAR(64),
			symbol VARCHAR(20) NOT NULL,
			direction VARCHAR(4) NOT NULL,
			quantity DECIMAL(20, 8) NOT NULL,
			entry_price DECIMAL(20, 8) NOT NULL,
			current_price DECIMAL(20, 8) NOT NULL,
			profit_loss DECIMAL(20, 8) NOT NULL DEFAULT 0,
			open BOOLEAN NOT NULL DEFAULT TRUE,
			opened_at TIMESTAMP NOT NULL,
			closed_at TIMESTAMP
		)`,
		`CREATE INDEX IF NOT EXISTS idx_positions_bot_open ON positions(bot_id, open)`,

		`CREATE TABLE IF NOT EXISTS daily_pnl_summaries (
			bot_id VARCHAR(64) NOT NULL,
			summary_date DATE NOT NULL,
			daily_pnl DECIMAL(20, 8) NOT NULL DEFAULT 0,
			cumulative_pnl DECIMAL(20, 8) NOT NULL DEFAULT 0,
			trades_opened INT NOT NULL DEFAULT 0,
			trades_closed INT NOT NULL DEFAULT 0,
			winning_trades INT NOT NULL DEFAULT 0,
			losing_trades INT NOT NULL DEFAULT 0,
			largest_win DECIMAL(20, 8) NOT NULL DEFAULT 0,
			largest_loss DECIMAL(20, 8) NOT NULL DEFAULT 0,
			drawdown DECIMAL(20, 8) NOT NULL DEFAULT 0,
			updated_at TIMESTAMP NOT NULL,
			PRIMARY KEY (bot_id, summary_date)
		)`,

		`CREATE TABLE IF NOT EXISTS bot_registry (
			bot_id VARCHAR(64) PRIMARY KEY,
			user_id VARCHAR(64) NOT NULL,
			credential_id VARCHAR(64) NOT NULL,
			trading_enabled BOOLEAN NOT NULL DEFAULT TRUE,
			registered_at TIMESTAMP NOT NULL
		)`,
		`CREATE INDEX IF NOT EXISTS idx_bot_registry_credential ON bot_registry(credential_id)`,
		`CREATE INDEX IF NOT EXISTS idx_bot_registry_user ON bot_registry(user_id)`,
	}

	for i, migration := range migrations {
		if _, err := db.Pool.Exec(ctx, migration); err != nil {
			return fmt.Errorf("migration %d failed: %w", i+1, err)
		}
	}

	db.logger.Info().Msg("Database migrations completed")
	return nil
}
