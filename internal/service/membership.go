package service

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/gamestats-service/internal/domain"
)

// GroupStore is the relational store behind membership evaluation
type GroupStore interface {
	GetPlayer(ctx context.Context, playerID string) (*domain.Player, error)
	ListGroups(ctx context.Context, gameID string) ([]domain.PlayerGroup, error)
	PlayerStatValues(ctx context.Context, playerID string) (map[string]float64, error)
	ListMemberships(ctx context.Context, playerID string) (map[string]struct{}, error)
	// UpdateMemberships applies one diff in a single write; concurrent
	// duplicate insertions must be treated as benign no-ops.
	UpdateMemberships(ctx context.Context, playerID string, add, remove []string) error
}

// MembershipEvaluator recomputes a player's dynamic group membership
// from their current stat values.
type MembershipEvaluator struct {
	store  GroupStore
	logger *slog.Logger
}

// NewMembershipEvaluator creates a new membership evaluator
func NewMembershipEvaluator(store GroupStore, logger *slog.Logger) *MembershipEvaluator {
	return &MembershipEvaluator{
		store:  store,
		logger: logger,
	}
}

// Recheck evaluates every dynamic group of the player's game against the
// player's current stats and persists the membership diff once at the
// end. A player already in the right groups is a no-op.
func (e *MembershipEvaluator) Recheck(ctx context.Context, playerID string) error {
	player, err := e.store.GetPlayer(ctx, playerID)
	if err != nil {
		return fmt.Errorf("loading player for membership recheck: %w", err)
	}

	groups, err := e.store.ListGroups(ctx, player.GameID)
	if err != nil {
		return fmt.Errorf("loading groups: %w", err)
	}
	if len(groups) == 0 {
		return nil
	}

	stats, err := e.store.PlayerStatValues(ctx, playerID)
	if err != nil {
		return fmt.Errorf("loading player stat values: %w", err)
	}

	current, err := e.store.ListMemberships(ctx, playerID)
	if err != nil {
		return fmt.Errorf("loading current memberships: %w", err)
	}

	var add, remove []string
	for _, group := range groups {
		eligible := group.Eligible(stats)
		_, member := current[group.ID]
		switch {
		case eligible && !member:
			add = append(add, group.ID)
		case !eligible && member:
			remove = append(remove, group.ID)
		}
	}

	if len(add) == 0 && len(remove) == 0 {
		return nil
	}

	if err := e.store.UpdateMemberships(ctx, playerID, add, remove); err != nil {
		return fmt.Errorf("persisting membership diff: %w", err)
	}

	e.logger.Debug("recomputed group membership",
		"player_id", playerID,
		"added", len(add),
		"removed", len(remove),
	)
	return nil
}
