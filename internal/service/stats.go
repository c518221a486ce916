// Package service implements the stat-mutation-and-metrics-flush
// pipeline: bounded atomic stat updates, snapshot buffering, and the
// membership recomputation triggered after each flush.
package service

import (
	"context"
	"fmt"
	"log/slog"
	"math"
	"time"

	"github.com/gamestats-service/internal/domain"
	"github.com/gamestats-service/internal/errtrack"
	"github.com/google/uuid"
)

// StatTx exposes the row-locked operations available inside one mutation
// transaction.
type StatTx interface {
	// LockGameStat loads the stat row under a pessimistic write lock.
	LockGameStat(ctx context.Context, statID string) (*domain.GameStat, error)
	// LockPlayerStat loads the (player, stat) row under a pessimistic
	// write lock, or returns (nil, nil) when no row exists yet.
	LockPlayerStat(ctx context.Context, playerID, statID string) (*domain.PlayerGameStat, error)
	InsertPlayerStat(ctx context.Context, row *domain.PlayerGameStat) error
	UpdatePlayerStatValue(ctx context.Context, rowID string, value float64, updatedAt time.Time) error
	UpdateStatGlobalValue(ctx context.Context, statID string, globalValue float64) error
}

// StatStore is the relational store behind the mutator
type StatStore interface {
	InStatTx(ctx context.Context, fn func(tx StatTx) error) error
	GetStatByName(ctx context.Context, gameID, internalName string) (*domain.GameStat, error)
	GetAlias(ctx context.Context, aliasID string) (*domain.PlayerAlias, error)
}

// SnapshotSink receives the snapshot of each accepted mutation
type SnapshotSink interface {
	Add(snapshot domain.PlayerGameStatSnapshot)
}

// Notifier is told about each accepted mutation after commit
// (webhooks, websocket broadcast). Notifications are best-effort.
type Notifier interface {
	StatUpdated(ctx context.Context, snapshot domain.PlayerGameStatSnapshot)
}

// ValueCache caches committed per-player values for cheap reads
type ValueCache interface {
	CacheStatValue(ctx context.Context, statID, playerID string, value float64) error
}

// StatMutator applies bounded, rate-limited deltas to player stat values
// and, for global stats, to the shared aggregate.
type StatMutator struct {
	store     StatStore
	sink      SnapshotSink
	cache     ValueCache
	notifiers []Notifier
	reporter  errtrack.Reporter
	logger    *slog.Logger
	now       func() time.Time
}

// NewStatMutator creates a new stat mutator. cache may be nil; notifiers
// may be empty.
func NewStatMutator(
	store StatStore,
	sink SnapshotSink,
	cache ValueCache,
	reporter errtrack.Reporter,
	logger *slog.Logger,
	notifiers ...Notifier,
) *StatMutator {
	return &StatMutator{
		store:     store,
		sink:      sink,
		cache:     cache,
		notifiers: notifiers,
		reporter:  reporter,
		logger:    logger,
		now:       time.Now,
	}
}

// Apply validates and applies delta to the player's value for the stat,
// and to the stat's global aggregate when the stat is global, inside one
// transaction. Validation failures abort the transaction and return a
// typed error; no partial state is written. On success the snapshot is
// buffered and side effects fire without ever failing the mutation.
func (m *StatMutator) Apply(ctx context.Context, stat *domain.GameStat, alias *domain.PlayerAlias, delta float64) (*domain.PlayerGameStat, error) {
	var (
		updated     *domain.PlayerGameStat
		globalValue *float64
		committedAt time.Time
	)

	err := m.store.InStatTx(ctx, func(tx StatTx) error {
		cur := stat
		if stat.Global {
			// Lock the aggregate row first so concurrent writers of the
			// same stat serialize here rather than deadlocking on the
			// player rows.
			locked, err := tx.LockGameStat(ctx, stat.ID)
			if err != nil {
				return err
			}
			cur = locked
		}

		row, err := tx.LockPlayerStat(ctx, alias.PlayerID, cur.ID)
		if err != nil {
			return err
		}

		now := m.now()
		if row != nil && cur.MinTimeBetweenUpdates > 0 {
			if elapsed := now.Sub(row.UpdatedAt); elapsed < cur.UpdateWindow() {
				return &domain.RateLimitedError{RetryAfter: cur.UpdateWindow() - elapsed}
			}
		}

		if cur.MaxChange != nil && math.Abs(delta) > *cur.MaxChange {
			return &domain.ChangeTooLargeError{Max: *cur.MaxChange}
		}

		current := cur.DefaultValue
		if row != nil {
			current = row.Value
		}
		candidate := current + delta
		if err := cur.CheckBounds(candidate); err != nil {
			return err
		}

		if row == nil {
			row = &domain.PlayerGameStat{
				ID:        uuid.NewString(),
				PlayerID:  alias.PlayerID,
				StatID:    cur.ID,
				Value:     candidate,
				CreatedAt: now,
				UpdatedAt: now,
			}
			if err := tx.InsertPlayerStat(ctx, row); err != nil {
				return err
			}
		} else {
			row.Value = candidate
			row.UpdatedAt = now
			if err := tx.UpdatePlayerStatValue(ctx, row.ID, candidate, now); err != nil {
				return err
			}
		}

		if cur.Global {
			gv := cur.GlobalValue + delta
			if err := tx.UpdateStatGlobalValue(ctx, cur.ID, gv); err != nil {
				return err
			}
			globalValue = &gv
		}

		updated = row
		committedAt = now
		return nil
	})
	if err != nil {
		return nil, err
	}

	// Post-commit side effects: the mutation is durable, nothing below
	// may fail it or delay the caller beyond the synchronous buffer add.
	snapshot := domain.NewSnapshot(stat, alias, delta, updated.Value, globalValue, committedAt)
	m.sink.Add(snapshot)
	go m.fanOut(snapshot)

	return updated, nil
}

// ApplyEvent resolves an ingested mutation event and applies it
func (m *StatMutator) ApplyEvent(ctx context.Context, event domain.StatMutationEvent) (*domain.PlayerGameStat, error) {
	stat, err := m.store.GetStatByName(ctx, event.GameID, event.StatName)
	if err != nil {
		return nil, err
	}
	alias, err := m.store.GetAlias(ctx, event.PlayerAliasID)
	if err != nil {
		return nil, err
	}
	if alias.GameID != stat.GameID {
		return nil, fmt.Errorf("alias %s does not belong to game %s: %w", alias.ID, stat.GameID, domain.ErrInvalidRequest)
	}
	return m.Apply(ctx, stat, alias, event.Change)
}

// fanOut delivers a committed snapshot to the cache and the registered
// notifiers, capturing failures instead of surfacing them.
func (m *StatMutator) fanOut(snapshot domain.PlayerGameStatSnapshot) {
	ctx := context.Background()

	if m.cache != nil {
		if err := m.cache.CacheStatValue(ctx, snapshot.StatID, snapshot.PlayerID, snapshot.Value); err != nil {
			m.reporter.Report(ctx, fmt.Errorf("caching committed value: %w", err))
		}
	}
	for _, notifier := range m.notifiers {
		notifier.StatUpdated(ctx, snapshot)
	}
}
