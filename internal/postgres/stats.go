package postgres

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/gamestats-service/internal/domain"
	"github.com/gamestats-service/internal/service"
	"github.com/jackc/pgx/v5"
)

const gameStatColumns = `id, game_id, internal_name, global, global_value, default_value,
	min_value, max_value, max_change, min_time_between_updates, created_at, updated_at`

func scanGameStat(row pgx.Row) (*domain.GameStat, error) {
	var stat domain.GameStat
	err := row.Scan(
		&stat.ID,
		&stat.GameID,
		&stat.InternalName,
		&stat.Global,
		&stat.GlobalValue,
		&stat.DefaultValue,
		&stat.MinValue,
		&stat.MaxValue,
		&stat.MaxChange,
		&stat.MinTimeBetweenUpdates,
		&stat.CreatedAt,
		&stat.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}
	return &stat, nil
}

// GetStat retrieves a stat's configuration by ID
func (s *Store) GetStat(ctx context.Context, statID string) (*domain.GameStat, error) {
	query := fmt.Sprintf(`SELECT %s FROM game_stats WHERE id = $1`, gameStatColumns)
	stat, err := scanGameStat(s.pool.QueryRow(ctx, query, statID))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, domain.ErrStatNotFound
		}
		return nil, fmt.Errorf("getting stat: %w", err)
	}
	return stat, nil
}

// GetStatByName retrieves a stat's configuration by game and internal name
func (s *Store) GetStatByName(ctx context.Context, gameID, internalName string) (*domain.GameStat, error) {
	query := fmt.Sprintf(`SELECT %s FROM game_stats WHERE game_id = $1 AND internal_name = $2`, gameStatColumns)
	stat, err := scanGameStat(s.pool.QueryRow(ctx, query, gameID, internalName))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, domain.ErrStatNotFound
		}
		return nil, fmt.Errorf("getting stat by name: %w", err)
	}
	return stat, nil
}

// GetAlias resolves a player alias by ID
func (s *Store) GetAlias(ctx context.Context, aliasID string) (*domain.PlayerAlias, error) {
	query := `
		SELECT id, player_id, game_id, service, identifier, created_at
		FROM player_aliases
		WHERE id = $1
	`
	var alias domain.PlayerAlias
	err := s.pool.QueryRow(ctx, query, aliasID).Scan(
		&alias.ID,
		&alias.PlayerID,
		&alias.GameID,
		&alias.Service,
		&alias.Identifier,
		&alias.CreatedAt,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, domain.ErrAliasNotFound
		}
		return nil, fmt.Errorf("getting alias: %w", err)
	}
	return &alias, nil
}

// GetPlayerStat retrieves a player's current value for a stat
func (s *Store) GetPlayerStat(ctx context.Context, playerID, statID string) (*domain.PlayerGameStat, error) {
	query := `
		SELECT id, player_id, stat_id, value, created_at, updated_at
		FROM player_game_stats
		WHERE player_id = $1 AND stat_id = $2
	`
	var row domain.PlayerGameStat
	err := s.pool.QueryRow(ctx, query, playerID, statID).Scan(
		&row.ID,
		&row.PlayerID,
		&row.StatID,
		&row.Value,
		&row.CreatedAt,
		&row.UpdatedAt,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			// The row is created lazily on first mutation; the player
			// itself may well exist.
			return nil, domain.ErrPlayerStatNotFound
		}
		return nil, fmt.Errorf("getting player stat: %w", err)
	}
	return &row, nil
}

// InStatTx runs fn inside one transaction. The transaction commits when
// fn returns nil and rolls back otherwise.
func (s *Store) InStatTx(ctx context.Context, fn func(tx service.StatTx) error) error {
	return pgx.BeginFunc(ctx, s.pool, func(tx pgx.Tx) error {
		return fn(&statTx{tx: tx})
	})
}

// statTx exposes the row-locked operations of one mutation transaction
type statTx struct {
	tx pgx.Tx
}

// LockGameStat loads the stat's row under a pessimistic write lock,
// blocking concurrent mutators of the same stat until commit.
func (t *statTx) LockGameStat(ctx context.Context, statID string) (*domain.GameStat, error) {
	query := fmt.Sprintf(`SELECT %s FROM game_stats WHERE id = $1 FOR UPDATE`, gameStatColumns)
	stat, err := scanGameStat(t.tx.QueryRow(ctx, query, statID))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, domain.ErrStatNotFound
		}
		return nil, fmt.Errorf("locking stat row: %w", err)
	}
	return stat, nil
}

// LockPlayerStat loads the (player, stat) row under a pessimistic write
// lock. A missing row returns (nil, nil): creation is the caller's call.
func (t *statTx) LockPlayerStat(ctx context.Context, playerID, statID string) (*domain.PlayerGameStat, error) {
	query := `
		SELECT id, player_id, stat_id, value, created_at, updated_at
		FROM player_game_stats
		WHERE player_id = $1 AND stat_id = $2
		FOR UPDATE
	`
	var row domain.PlayerGameStat
	err := t.tx.QueryRow(ctx, query, playerID, statID).Scan(
		&row.ID,
		&row.PlayerID,
		&row.StatID,
		&row.Value,
		&row.CreatedAt,
		&row.UpdatedAt,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, nil
		}
		return nil, fmt.Errorf("locking player stat row: %w", err)
	}
	return &row, nil
}

// InsertPlayerStat creates the lazily-initialized (player, stat) row
func (t *statTx) InsertPlayerStat(ctx context.Context, row *domain.PlayerGameStat) error {
	query := `
		INSERT INTO player_game_stats (id, player_id, stat_id, value, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6)
	`
	_, err := t.tx.Exec(ctx, query, row.ID, row.PlayerID, row.StatID, row.Value, row.CreatedAt, row.UpdatedAt)
	if err != nil {
		if isUniqueViolation(err) {
			return fmt.Errorf("player stat initialized concurrently: %w", err)
		}
		return fmt.Errorf("inserting player stat: %w", err)
	}
	return nil
}

// UpdatePlayerStatValue writes the new value of an existing row
func (t *statTx) UpdatePlayerStatValue(ctx context.Context, rowID string, value float64, updatedAt time.Time) error {
	query := `UPDATE player_game_stats SET value = $2, updated_at = $3 WHERE id = $1`
	_, err := t.tx.Exec(ctx, query, rowID, value, updatedAt)
	if err != nil {
		return fmt.Errorf("updating player stat value: %w", err)
	}
	return nil
}

// UpdateStatGlobalValue writes the new global aggregate of a stat
func (t *statTx) UpdateStatGlobalValue(ctx context.Context, statID string, globalValue float64) error {
	query := `UPDATE game_stats SET global_value = $2, updated_at = $3 WHERE id = $1`
	_, err := t.tx.Exec(ctx, query, statID, globalValue, time.Now())
	if err != nil {
		return fmt.Errorf("updating stat global value: %w", err)
	}
	return nil
}
