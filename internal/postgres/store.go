// Package postgres is the authoritative relational store for stat
// configuration, per-player values, and group membership.
package postgres

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/gamestats-service/internal/config"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
)

// Store provides PostgreSQL-based data access
type Store struct {
	pool   *pgxpool.Pool
	logger *slog.Logger
}

// NewStore creates a new PostgreSQL store
func NewStore(cfg *config.PostgresConfig, logger *slog.Logger) (*Store, error) {
	poolConfig, err := pgxpool.ParseConfig(cfg.ConnectionString())
	if err != nil {
		return nil, fmt.Errorf("parsing connection string: %w", err)
	}

	poolConfig.MaxConns = int32(cfg.MaxConnections)
	poolConfig.MinConns = int32(cfg.MinConnections)
	poolConfig.MaxConnLifetime = cfg.MaxConnLifetime
	poolConfig.MaxConnIdleTime = cfg.MaxConnIdleTime

	pool, err := pgxpool.NewWithConfig(context.Background(), poolConfig)
	if err != nil {
		return nil, fmt.Errorf("creating connection pool: %w", err)
	}

	if err := pool.Ping(context.Background()); err != nil {
		pool.Close()
		return nil, fmt.Errorf("connecting to database: %w", err)
	}

	return &Store{
		pool:   pool,
		logger: logger,
	}, nil
}

// Close closes the database connection pool
func (s *Store) Close() {
	s.pool.Close()
}

// Pool returns the underlying connection pool
func (s *Store) Pool() *pgxpool.Pool {
	return s.pool
}

// isUniqueViolation reports whether err is the store's
// uniqueness-constraint violation signal (SQLSTATE 23505)
func isUniqueViolation(err error) bool {
	var pgErr *pgconn.PgError
	return errors.As(err, &pgErr) && pgErr.Code == "23505"
}

// RunMigrations executes database migrations
func (s *Store) RunMigrations(ctx context.Context) error {
	migrations := []string{
		`CREATE TABLE IF NOT EXISTS games (
			id VARCHAR(64) PRIMARY KEY,
			name VARCHAR(255) NOT NULL,
			created_at TIMESTAMP DEFAULT CURRENT_TIMESTAMP,
			updated_at TIMESTAMP DEFAULT CURRENT_TIMESTAMP
		)`,
		`CREATE TABLE IF NOT EXISTS players (
			id VARCHAR(64) PRIMARY KEY,
			game_id VARCHAR(64) NOT NULL REFERENCES games(id) ON DELETE CASCADE,
			created_at TIMESTAMP DEFAULT CURRENT_TIMESTAMP,
			updated_at TIMESTAMP DEFAULT CURRENT_TIMESTAMP
		)`,
		`CREATE TABLE IF NOT EXISTS player_aliases (
			id VARCHAR(64) PRIMARY KEY,
			player_id VARCHAR(64) NOT NULL REFERENCES players(id) ON DELETE CASCADE,
			game_id VARCHAR(64) NOT NULL REFERENCES games(id) ON DELETE CASCADE,
			service VARCHAR(64) NOT NULL,
			identifier VARCHAR(255) NOT NULL,
			created_at TIMESTAMP DEFAULT CURRENT_TIMESTAMP,
			UNIQUE(game_id, service, identifier)
		)`,
		`CREATE TABLE IF NOT EXISTS game_stats (
			id VARCHAR(64) PRIMARY KEY,
			game_id VARCHAR(64) NOT NULL REFERENCES games(id) ON DELETE CASCADE,
			internal_name VARCHAR(128) NOT NULL,
			global BOOLEAN NOT NULL DEFAULT FALSE,
			global_value DOUBLE PRECISION NOT NULL DEFAULT 0,
			default_value DOUBLE PRECISION NOT NULL DEFAULT 0,
			min_value DOUBLE PRECISION,
			max_value DOUBLE PRECISION,
			max_change DOUBLE PRECISION,
			min_time_between_updates INT NOT NULL DEFAULT 0,
			created_at TIMESTAMP DEFAULT CURRENT_TIMESTAMP,
			updated_at TIMESTAMP DEFAULT CURRENT_TIMESTAMP,
			UNIQUE(game_id, internal_name)
		)`,
		`CREATE TABLE IF NOT EXISTS player_game_stats (
			id VARCHAR(64) PRIMARY KEY,
			player_id VARCHAR(64) NOT NULL REFERENCES players(id) ON DELETE CASCADE,
			stat_id VARCHAR(64) NOT NULL REFERENCES game_stats(id) ON DELETE CASCADE,
			value DOUBLE PRECISION NOT NULL,
			created_at TIMESTAMP DEFAULT CURRENT_TIMESTAMP,
			updated_at TIMESTAMP DEFAULT CURRENT_TIMESTAMP,
			UNIQUE(player_id, stat_id)
		)`,
		`CREATE TABLE IF NOT EXISTS player_groups (
			id VARCHAR(64) PRIMARY KEY,
			game_id VARCHAR(64) NOT NULL REFERENCES games(id) ON DELETE CASCADE,
			name VARCHAR(255) NOT NULL,
			rule_mode VARCHAR(10) NOT NULL DEFAULT 'all',
			rules JSONB NOT NULL DEFAULT '[]',
			created_at TIMESTAMP DEFAULT CURRENT_TIMESTAMP,
			updated_at TIMESTAMP DEFAULT CURRENT_TIMESTAMP
		)`,
		`CREATE TABLE IF NOT EXISTS player_group_members (
			group_id VARCHAR(64) NOT NULL REFERENCES player_groups(id) ON DELETE CASCADE,
			player_id VARCHAR(64) NOT NULL REFERENCES players(id) ON DELETE CASCADE,
			created_at TIMESTAMP DEFAULT CURRENT_TIMESTAMP,
			PRIMARY KEY(group_id, player_id)
		)`,
		`CREATE TABLE IF NOT EXISTS webhook_endpoints (
			id VARCHAR(64) PRIMARY KEY,
			game_id VARCHAR(64) NOT NULL REFERENCES games(id) ON DELETE CASCADE,
			url TEXT NOT NULL,
			secret VARCHAR(255) NOT NULL DEFAULT '',
			created_at TIMESTAMP DEFAULT CURRENT_TIMESTAMP
		)`,
		`CREATE INDEX IF NOT EXISTS idx_player_game_stats_player ON player_game_stats(player_id)`,
		`CREATE INDEX IF NOT EXISTS idx_game_stats_game ON game_stats(game_id)`,
		`CREATE INDEX IF NOT EXISTS idx_player_groups_game ON player_groups(game_id)`,
	}

	for _, migration := range migrations {
		_, err := s.pool.Exec(ctx, migration)
		if err != nil {
			return fmt.Errorf("executing migration: %w", err)
		}
	}

	s.logger.Info("database migrations completed")
	return nil
}
