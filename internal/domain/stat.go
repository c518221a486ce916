package domain

import (
	"time"

	"github.com/google/uuid"
)

// Game represents a single game registered with the service
type Game struct {
	ID        string    `json:"id"`
	Name      string    `json:"name"`
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// Player represents a player within one game
type Player struct {
	ID        string    `json:"id"`
	GameID    string    `json:"game_id"`
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// PlayerAlias identifies a player on an external service (e.g. Steam,
// a launcher, a custom auth provider). Mutations are always addressed to
// an alias; the owning player is resolved behind it.
type PlayerAlias struct {
	ID         string    `json:"id"`
	PlayerID   string    `json:"player_id"`
	GameID     string    `json:"game_id"`
	Service    string    `json:"service"`
	Identifier string    `json:"identifier"`
	CreatedAt  time.Time `json:"created_at"`
}

// GameStat is the configuration for one named statistic within one game,
// plus the globally aggregated value when the stat is global.
type GameStat struct {
	ID           string  `json:"id"`
	GameID       string  `json:"game_id"`
	InternalName string  `json:"internal_name"`
	Global       bool    `json:"global"`
	GlobalValue  float64 `json:"global_value,omitempty"`
	DefaultValue float64 `json:"default_value"`

	// Nil bounds are treated as unbounded.
	MinValue  *float64 `json:"min_value,omitempty"`
	MaxValue  *float64 `json:"max_value,omitempty"`
	MaxChange *float64 `json:"max_change,omitempty"`

	// Minimum seconds between two accepted updates for the same player.
	// Zero disables the rate limit.
	MinTimeBetweenUpdates int `json:"min_time_between_updates"`

	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// UpdateWindow returns the rate-limit window as a duration.
func (s *GameStat) UpdateWindow() time.Duration {
	return time.Duration(s.MinTimeBetweenUpdates) * time.Second
}

// CheckBounds validates a candidate value against the configured bounds.
// Unset bounds pass unconditionally.
func (s *GameStat) CheckBounds(candidate float64) error {
	if s.MinValue != nil && candidate < *s.MinValue {
		return &OutOfBoundsError{Bound: *s.MinValue, Direction: BoundLow}
	}
	if s.MaxValue != nil && candidate > *s.MaxValue {
		return &OutOfBoundsError{Bound: *s.MaxValue, Direction: BoundHigh}
	}
	return nil
}

// PlayerGameStat is the authoritative current value of one stat for one
// player. Rows are created lazily on first mutation; (player, stat) is
// unique.
type PlayerGameStat struct {
	ID        string    `json:"id"`
	PlayerID  string    `json:"player_id"`
	StatID    string    `json:"stat_id"`
	Value     float64   `json:"value"`
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// PlayerGameStatSnapshot is an immutable record of one accepted mutation,
// destined for the analytics store. It copies the committed state at
// creation time and is never joined back to the relational rows.
type PlayerGameStatSnapshot struct {
	ID            string    `json:"id"`
	GameID        string    `json:"game_id"`
	PlayerID      string    `json:"player_id"`
	PlayerAliasID string    `json:"player_alias_id"`
	StatID        string    `json:"stat_id"`
	StatName      string    `json:"stat_name"`
	Change        float64   `json:"change"`
	Value         float64   `json:"value"`
	GlobalValue   *float64  `json:"global_value,omitempty"`
	CreatedAt     time.Time `json:"created_at"`
}

// NewSnapshot builds a snapshot from the committed state of a mutation.
// globalValue is nil for non-global stats.
func NewSnapshot(stat *GameStat, alias *PlayerAlias, change, value float64, globalValue *float64, at time.Time) PlayerGameStatSnapshot {
	return PlayerGameStatSnapshot{
		ID:            uuid.NewString(),
		GameID:        stat.GameID,
		PlayerID:      alias.PlayerID,
		PlayerAliasID: alias.ID,
		StatID:        stat.ID,
		StatName:      stat.InternalName,
		Change:        change,
		Value:         value,
		GlobalValue:   globalValue,
		CreatedAt:     at,
	}
}

// StatMutationEvent is an ingested request to mutate a player's stat,
// e.g. from the Kafka topic.
type StatMutationEvent struct {
	GameID        string  `json:"game_id"`
	StatName      string  `json:"stat_name"`
	PlayerAliasID string  `json:"player_alias_id"`
	Change        float64 `json:"change"`
}

// WebhookEndpoint is a per-game integration endpoint that receives
// accepted mutations.
type WebhookEndpoint struct {
	ID        string    `json:"id"`
	GameID    string    `json:"game_id"`
	URL       string    `json:"url"`
	Secret    string    `json:"-"`
	CreatedAt time.Time `json:"created_at"`
}

// StatAggregates holds ad-hoc aggregates over a stat's snapshot history.
type StatAggregates struct {
	StatID string  `json:"stat_id"`
	Count  int64   `json:"count"`
	Min    float64 `json:"min"`
	Max    float64 `json:"max"`
	Avg    float64 `json:"avg"`
	Median float64 `json:"median"`
}
