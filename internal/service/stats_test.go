package service

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"testing"
	"time"

	"github.com/gamestats-service/internal/domain"
)

// fakeStatStore emulates the relational store: reads hand out copies,
// writes are staged per transaction and applied only on commit.
type fakeStatStore struct {
	stats   map[string]*domain.GameStat
	rows    map[string]*domain.PlayerGameStat
	aliases map[string]*domain.PlayerAlias
}

func newFakeStatStore() *fakeStatStore {
	return &fakeStatStore{
		stats:   make(map[string]*domain.GameStat),
		rows:    make(map[string]*domain.PlayerGameStat),
		aliases: make(map[string]*domain.PlayerAlias),
	}
}

func rowKey(playerID, statID string) string { return playerID + "|" + statID }

func (s *fakeStatStore) InStatTx(ctx context.Context, fn func(tx StatTx) error) error {
	tx := &fakeStatTx{store: s}
	if err := fn(tx); err != nil {
		return err
	}
	for _, commit := range tx.pending {
		commit()
	}
	return nil
}

func (s *fakeStatStore) GetStatByName(ctx context.Context, gameID, internalName string) (*domain.GameStat, error) {
	for _, stat := range s.stats {
		if stat.GameID == gameID && stat.InternalName == internalName {
			cp := *stat
			return &cp, nil
		}
	}
	return nil, domain.ErrStatNotFound
}

func (s *fakeStatStore) GetAlias(ctx context.Context, aliasID string) (*domain.PlayerAlias, error) {
	alias, ok := s.aliases[aliasID]
	if !ok {
		return nil, domain.ErrAliasNotFound
	}
	cp := *alias
	return &cp, nil
}

type fakeStatTx struct {
	store   *fakeStatStore
	pending []func()
}

func (t *fakeStatTx) LockGameStat(ctx context.Context, statID string) (*domain.GameStat, error) {
	stat, ok := t.store.stats[statID]
	if !ok {
		return nil, domain.ErrStatNotFound
	}
	cp := *stat
	return &cp, nil
}

func (t *fakeStatTx) LockPlayerStat(ctx context.Context, playerID, statID string) (*domain.PlayerGameStat, error) {
	row, ok := t.store.rows[rowKey(playerID, statID)]
	if !ok {
		return nil, nil
	}
	cp := *row
	return &cp, nil
}

func (t *fakeStatTx) InsertPlayerStat(ctx context.Context, row *domain.PlayerGameStat) error {
	cp := *row
	t.pending = append(t.pending, func() {
		t.store.rows[rowKey(cp.PlayerID, cp.StatID)] = &cp
	})
	return nil
}

func (t *fakeStatTx) UpdatePlayerStatValue(ctx context.Context, rowID string, value float64, updatedAt time.Time) error {
	t.pending = append(t.pending, func() {
		for _, row := range t.store.rows {
			if row.ID == rowID {
				row.Value = value
				row.UpdatedAt = updatedAt
			}
		}
	})
	return nil
}

func (t *fakeStatTx) UpdateStatGlobalValue(ctx context.Context, statID string, globalValue float64) error {
	t.pending = append(t.pending, func() {
		t.store.stats[statID].GlobalValue = globalValue
	})
	return nil
}

// fakeSink collects buffered snapshots
type fakeSink struct {
	snapshots []domain.PlayerGameStatSnapshot
}

func (s *fakeSink) Add(snapshot domain.PlayerGameStatSnapshot) {
	s.snapshots = append(s.snapshots, snapshot)
}

type nopReporter struct{}

func (nopReporter) Report(context.Context, error) {}

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func ptr(v float64) *float64 { return &v }

func seedStore(stat *domain.GameStat, aliases ...*domain.PlayerAlias) *fakeStatStore {
	store := newFakeStatStore()
	store.stats[stat.ID] = stat
	for _, alias := range aliases {
		store.aliases[alias.ID] = alias
	}
	return store
}

func newTestMutator(store *fakeStatStore, sink *fakeSink) *StatMutator {
	return NewStatMutator(store, sink, nil, nopReporter{}, testLogger())
}

func goldStat() *domain.GameStat {
	return &domain.GameStat{
		ID:                    "stat-gold",
		GameID:                "game-1",
		InternalName:          "gold",
		Global:                true,
		DefaultValue:          0,
		MinValue:              ptr(0),
		MaxValue:              ptr(999),
		MaxChange:             ptr(99),
		MinTimeBetweenUpdates: 5,
	}
}

func aliasFor(id, playerID string) *domain.PlayerAlias {
	return &domain.PlayerAlias{ID: id, PlayerID: playerID, GameID: "game-1", Service: "steam", Identifier: id}
}

func TestApplySeedsDefaultValueOnFirstMutation(t *testing.T) {
	stat := &domain.GameStat{ID: "s1", GameID: "game-1", InternalName: "xp", DefaultValue: 10}
	store := seedStore(stat, aliasFor("a1", "p1"))
	mutator := newTestMutator(store, &fakeSink{})

	row, err := mutator.Apply(context.Background(), stat, store.aliases["a1"], 5)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if row.Value != 15 {
		t.Errorf("expected default 10 + delta 5 = 15, got %g", row.Value)
	}
	if stored := store.rows[rowKey("p1", "s1")]; stored == nil || stored.Value != 15 {
		t.Errorf("expected committed row with value 15, got %+v", stored)
	}
}

func TestApplyRateLimitsWithinWindow(t *testing.T) {
	stat := goldStat()
	store := seedStore(stat, aliasFor("a1", "p1"))
	mutator := newTestMutator(store, &fakeSink{})

	current := time.Date(2024, 6, 1, 12, 0, 0, 0, time.UTC)
	mutator.now = func() time.Time { return current }

	if _, err := mutator.Apply(context.Background(), stat, store.aliases["a1"], 50); err != nil {
		t.Fatalf("first apply failed: %v", err)
	}

	current = current.Add(2 * time.Second)
	_, err := mutator.Apply(context.Background(), stat, store.aliases["a1"], 10)
	var rl *domain.RateLimitedError
	if !errors.As(err, &rl) {
		t.Fatalf("expected RateLimitedError, got %v", err)
	}
	if rl.RetryAfter != 3*time.Second {
		t.Errorf("expected retry after 3s, got %s", rl.RetryAfter)
	}
	if store.rows[rowKey("p1", stat.ID)].Value != 50 {
		t.Error("rate-limited mutation must not change the value")
	}

	// Spaced past the window, the mutation succeeds.
	current = current.Add(10 * time.Second)
	row, err := mutator.Apply(context.Background(), stat, store.aliases["a1"], 10)
	if err != nil {
		t.Fatalf("apply after window failed: %v", err)
	}
	if row.Value != 60 {
		t.Errorf("expected value 60, got %g", row.Value)
	}
}

func TestApplyRejectsOversizedChange(t *testing.T) {
	stat := goldStat()
	store := seedStore(stat, aliasFor("a1", "p1"))
	mutator := newTestMutator(store, &fakeSink{})

	_, err := mutator.Apply(context.Background(), stat, store.aliases["a1"], -100)
	var ctl *domain.ChangeTooLargeError
	if !errors.As(err, &ctl) {
		t.Fatalf("expected ChangeTooLargeError, got %v", err)
	}
	if ctl.Max != 99 {
		t.Errorf("expected max 99 in error, got %g", ctl.Max)
	}
	if len(store.rows) != 0 {
		t.Error("rejected mutation must not create a row")
	}
}

func TestApplyRejectsOutOfBoundsValues(t *testing.T) {
	stat := goldStat()
	store := seedStore(stat, aliasFor("a1", "p1"))
	mutator := newTestMutator(store, &fakeSink{})

	_, err := mutator.Apply(context.Background(), stat, store.aliases["a1"], -50)
	var oob *domain.OutOfBoundsError
	if !errors.As(err, &oob) {
		t.Fatalf("expected OutOfBoundsError, got %v", err)
	}
	if oob.Direction != domain.BoundLow || oob.Bound != 0 {
		t.Errorf("expected low bound 0, got %+v", oob)
	}

	if _, err := mutator.Apply(context.Background(), stat, store.aliases["a1"], 99); err != nil {
		t.Fatalf("in-bounds apply failed: %v", err)
	}

	mutator.now = func() time.Time { return time.Now().Add(time.Hour) }
	for i := 0; i < 10; i++ {
		mutator.Apply(context.Background(), stat, store.aliases["a1"], 99)
		mutator.now = func() time.Time { return time.Now().Add(time.Duration(i+2) * time.Hour) }
	}

	_, err = mutator.Apply(context.Background(), stat, store.aliases["a1"], 99)
	if !errors.As(err, &oob) {
		t.Fatalf("expected OutOfBoundsError at the high bound, got %v", err)
	}
	if oob.Direction != domain.BoundHigh || oob.Bound != 999 {
		t.Errorf("expected high bound 999, got %+v", oob)
	}
}

func TestApplyTreatsUnsetBoundsAsUnbounded(t *testing.T) {
	stat := &domain.GameStat{ID: "s1", GameID: "game-1", InternalName: "score"}
	store := seedStore(stat, aliasFor("a1", "p1"))
	mutator := newTestMutator(store, &fakeSink{})

	row, err := mutator.Apply(context.Background(), stat, store.aliases["a1"], -1e12)
	if err != nil {
		t.Fatalf("unexpected error with no bounds configured: %v", err)
	}
	if row.Value != -1e12 {
		t.Errorf("expected value -1e12, got %g", row.Value)
	}
}

func TestApplyAccumulatesGlobalAggregate(t *testing.T) {
	stat := goldStat()
	store := seedStore(stat, aliasFor("a1", "p1"), aliasFor("a2", "p2"))
	sink := &fakeSink{}
	mutator := newTestMutator(store, sink)

	applyFor := func(aliasID string, delta float64) {
		t.Helper()
		// Resolve fresh config so the second apply sees the committed
		// aggregate, as callers do in production.
		current, err := store.GetStatByName(context.Background(), "game-1", "gold")
		if err != nil {
			t.Fatal(err)
		}
		if _, err := mutator.Apply(context.Background(), current, store.aliases[aliasID], delta); err != nil {
			t.Fatalf("apply for %s failed: %v", aliasID, err)
		}
	}

	applyFor("a1", 50)
	applyFor("a2", 20)

	if store.stats[stat.ID].GlobalValue != 70 {
		t.Errorf("expected global value 70, got %g", store.stats[stat.ID].GlobalValue)
	}
	if len(sink.snapshots) != 2 {
		t.Fatalf("expected 2 buffered snapshots, got %d", len(sink.snapshots))
	}
	if sink.snapshots[1].GlobalValue == nil || *sink.snapshots[1].GlobalValue != 70 {
		t.Errorf("expected second snapshot to carry global value 70, got %+v", sink.snapshots[1].GlobalValue)
	}
}

func TestApplyBuffersSnapshotOfCommittedState(t *testing.T) {
	stat := goldStat()
	store := seedStore(stat, aliasFor("a1", "p1"))
	sink := &fakeSink{}
	mutator := newTestMutator(store, sink)

	if _, err := mutator.Apply(context.Background(), stat, store.aliases["a1"], 50); err != nil {
		t.Fatalf("apply failed: %v", err)
	}

	if len(sink.snapshots) != 1 {
		t.Fatalf("expected 1 snapshot, got %d", len(sink.snapshots))
	}
	snap := sink.snapshots[0]
	if snap.Change != 50 || snap.Value != 50 || snap.PlayerID != "p1" || snap.PlayerAliasID != "a1" || snap.StatName != "gold" {
		t.Errorf("snapshot does not reflect committed state: %+v", snap)
	}
	if snap.ID == "" {
		t.Error("snapshot must carry a fresh id")
	}
}

func TestApplyRejectedMutationBuffersNothing(t *testing.T) {
	stat := goldStat()
	store := seedStore(stat, aliasFor("a1", "p1"))
	sink := &fakeSink{}
	mutator := newTestMutator(store, sink)

	if _, err := mutator.Apply(context.Background(), stat, store.aliases["a1"], 5000); err == nil {
		t.Fatal("expected rejection")
	}
	if len(sink.snapshots) != 0 {
		t.Errorf("rejected mutation must not produce a snapshot, got %d", len(sink.snapshots))
	}
}

func TestApplyEventResolvesStatAndAlias(t *testing.T) {
	stat := goldStat()
	store := seedStore(stat, aliasFor("a1", "p1"))
	mutator := newTestMutator(store, &fakeSink{})

	row, err := mutator.ApplyEvent(context.Background(), domain.StatMutationEvent{
		GameID:        "game-1",
		StatName:      "gold",
		PlayerAliasID: "a1",
		Change:        25,
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if row.Value != 25 {
		t.Errorf("expected value 25, got %g", row.Value)
	}

	_, err = mutator.ApplyEvent(context.Background(), domain.StatMutationEvent{
		GameID:        "game-1",
		StatName:      "mana",
		PlayerAliasID: "a1",
		Change:        1,
	})
	if !errors.Is(err, domain.ErrStatNotFound) {
		t.Errorf("expected ErrStatNotFound for unknown stat, got %v", err)
	}
}

func TestApplyEventRejectsCrossGameAlias(t *testing.T) {
	stat := goldStat()
	otherGameAlias := &domain.PlayerAlias{ID: "a9", PlayerID: "p9", GameID: "game-2"}
	store := seedStore(stat, otherGameAlias)
	mutator := newTestMutator(store, &fakeSink{})

	_, err := mutator.ApplyEvent(context.Background(), domain.StatMutationEvent{
		GameID:        "game-1",
		StatName:      "gold",
		PlayerAliasID: "a9",
		Change:        1,
	})
	if !errors.Is(err, domain.ErrInvalidRequest) {
		t.Errorf("expected ErrInvalidRequest for cross-game alias, got %v", err)
	}
}

func TestApplySerializesDeltasOnSameRow(t *testing.T) {
	stat := &domain.GameStat{ID: "s1", GameID: "game-1", InternalName: "kills", DefaultValue: 0}
	store := seedStore(stat, aliasFor("a1", "p1"))
	mutator := newTestMutator(store, &fakeSink{})

	total := 0.0
	for i := 1; i <= 20; i++ {
		delta := float64(i)
		if _, err := mutator.Apply(context.Background(), stat, store.aliases["a1"], delta); err != nil {
			t.Fatalf("apply %d failed: %v", i, err)
		}
		total += delta
	}

	if got := store.rows[rowKey("p1", "s1")].Value; got != total {
		t.Errorf("expected final value %g (default + sum of accepted deltas), got %g", total, got)
	}
}

func TestApplyEventErrorMessageNamesAlias(t *testing.T) {
	stat := goldStat()
	store := seedStore(stat)
	mutator := newTestMutator(store, &fakeSink{})

	_, err := mutator.ApplyEvent(context.Background(), domain.StatMutationEvent{
		GameID:        "game-1",
		StatName:      "gold",
		PlayerAliasID: "missing",
		Change:        1,
	})
	if !errors.Is(err, domain.ErrAliasNotFound) {
		t.Fatalf("expected ErrAliasNotFound, got %v", err)
	}
	if fmt.Sprint(err) == "" {
		t.Error("expected a descriptive error message")
	}
}
