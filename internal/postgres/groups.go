package postgres

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/gamestats-service/internal/domain"
	"github.com/jackc/pgx/v5"
)

// GetPlayer retrieves a player by ID
func (s *Store) GetPlayer(ctx context.Context, playerID string) (*domain.Player, error) {
	query := `SELECT id, game_id, created_at, updated_at FROM players WHERE id = $1`
	var player domain.Player
	err := s.pool.QueryRow(ctx, query, playerID).Scan(
		&player.ID,
		&player.GameID,
		&player.CreatedAt,
		&player.UpdatedAt,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, domain.ErrPlayerNotFound
		}
		return nil, fmt.Errorf("getting player: %w", err)
	}
	return &player, nil
}

// ListGroups retrieves the dynamic groups of a game
func (s *Store) ListGroups(ctx context.Context, gameID string) ([]domain.PlayerGroup, error) {
	query := `
		SELECT id, game_id, name, rule_mode, rules, created_at, updated_at
		FROM player_groups
		WHERE game_id = $1
		ORDER BY created_at
	`
	rows, err := s.pool.Query(ctx, query, gameID)
	if err != nil {
		return nil, fmt.Errorf("listing groups: %w", err)
	}
	defer rows.Close()

	var groups []domain.PlayerGroup
	for rows.Next() {
		var group domain.PlayerGroup
		var rulesJSON []byte
		err := rows.Scan(
			&group.ID,
			&group.GameID,
			&group.Name,
			&group.RuleMode,
			&rulesJSON,
			&group.CreatedAt,
			&group.UpdatedAt,
		)
		if err != nil {
			return nil, fmt.Errorf("scanning group: %w", err)
		}
		if err := json.Unmarshal(rulesJSON, &group.Rules); err != nil {
			return nil, fmt.Errorf("parsing group rules: %w", err)
		}
		groups = append(groups, group)
	}
	return groups, rows.Err()
}

// PlayerStatValues returns the player's current value for every stat of
// their game keyed by internal name, falling back to the stat's default
// where no row exists yet.
func (s *Store) PlayerStatValues(ctx context.Context, playerID string) (map[string]float64, error) {
	query := `
		SELECT gs.internal_name, COALESCE(pgs.value, gs.default_value)
		FROM game_stats gs
		JOIN players p ON p.game_id = gs.game_id
		LEFT JOIN player_game_stats pgs ON pgs.stat_id = gs.id AND pgs.player_id = p.id
		WHERE p.id = $1
	`
	rows, err := s.pool.Query(ctx, query, playerID)
	if err != nil {
		return nil, fmt.Errorf("getting player stat values: %w", err)
	}
	defer rows.Close()

	values := make(map[string]float64)
	for rows.Next() {
		var name string
		var value float64
		if err := rows.Scan(&name, &value); err != nil {
			return nil, fmt.Errorf("scanning stat value: %w", err)
		}
		values[name] = value
	}
	return values, rows.Err()
}

// ListMemberships returns the set of group IDs the player currently
// belongs to
func (s *Store) ListMemberships(ctx context.Context, playerID string) (map[string]struct{}, error) {
	query := `SELECT group_id FROM player_group_members WHERE player_id = $1`
	rows, err := s.pool.Query(ctx, query, playerID)
	if err != nil {
		return nil, fmt.Errorf("listing memberships: %w", err)
	}
	defer rows.Close()

	memberships := make(map[string]struct{})
	for rows.Next() {
		var groupID string
		if err := rows.Scan(&groupID); err != nil {
			return nil, fmt.Errorf("scanning membership: %w", err)
		}
		memberships[groupID] = struct{}{}
	}
	return memberships, rows.Err()
}

// UpdateMemberships applies one membership diff in a single transaction.
// A uniqueness violation on insertion means another evaluation raced us
// in and is treated as a no-op.
func (s *Store) UpdateMemberships(ctx context.Context, playerID string, add, remove []string) error {
	if len(add) == 0 && len(remove) == 0 {
		return nil
	}

	err := pgx.BeginFunc(ctx, s.pool, func(tx pgx.Tx) error {
		now := time.Now()
		for _, groupID := range add {
			_, err := tx.Exec(ctx, `
				INSERT INTO player_group_members (group_id, player_id, created_at)
				VALUES ($1, $2, $3)
				ON CONFLICT (group_id, player_id) DO NOTHING
			`, groupID, playerID, now)
			if err != nil && !isUniqueViolation(err) {
				return fmt.Errorf("adding membership: %w", err)
			}
		}
		for _, groupID := range remove {
			_, err := tx.Exec(ctx, `
				DELETE FROM player_group_members
				WHERE group_id = $1 AND player_id = $2
			`, groupID, playerID)
			if err != nil {
				return fmt.Errorf("removing membership: %w", err)
			}
		}
		return nil
	})
	if err != nil {
		return fmt.Errorf("updating memberships: %w", err)
	}
	return nil
}

// ListWebhookEndpoints retrieves the integration endpoints of a game
func (s *Store) ListWebhookEndpoints(ctx context.Context, gameID string) ([]domain.WebhookEndpoint, error) {
	query := `SELECT id, game_id, url, secret, created_at FROM webhook_endpoints WHERE game_id = $1`
	rows, err := s.pool.Query(ctx, query, gameID)
	if err != nil {
		return nil, fmt.Errorf("listing webhook endpoints: %w", err)
	}
	defer rows.Close()

	var endpoints []domain.WebhookEndpoint
	for rows.Next() {
		var ep domain.WebhookEndpoint
		if err := rows.Scan(&ep.ID, &ep.GameID, &ep.URL, &ep.Secret, &ep.CreatedAt); err != nil {
			return nil, fmt.Errorf("scanning webhook endpoint: %w", err)
		}
		endpoints = append(endpoints, ep)
	}
	return endpoints, rows.Err()
}
