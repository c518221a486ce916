package service

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/gamestats-service/internal/domain"
	"github.com/gamestats-service/internal/errtrack"
	"github.com/gamestats-service/internal/metrics"
	"github.com/gamestats-service/internal/redis"
)

// SnapshotMetricName is the metric name the flusher registers under
const SnapshotMetricName = "player-game-stat-snapshots"

// SnapshotWriter bulk-writes snapshots to the analytics store. Writes
// must be idempotent by snapshot id: a batch may be delivered more than
// once after a partial failure.
type SnapshotWriter interface {
	BulkInsertSnapshots(ctx context.Context, snapshots []domain.PlayerGameStatSnapshot) error
}

// Locker guards at-most-once-concurrently work per key
type Locker interface {
	WithLock(ctx context.Context, key string, ttl time.Duration, fn func(ctx context.Context) error) (bool, error)
}

// MembershipChecker recomputes one player's group membership
type MembershipChecker interface {
	Recheck(ctx context.Context, playerID string) error
}

// SnapshotFlusher buffers the snapshots of accepted mutations and, on
// each flush tick, bulk-writes them to the analytics store and triggers
// membership recomputation once per distinct player in the flushed
// batch. This is the only path from a stat mutation to a membership
// recheck: the hot write path never evaluates groups.
type SnapshotFlusher struct {
	buffer        *metrics.Buffer[domain.PlayerGameStatSnapshot]
	locker        Locker
	checker       MembershipChecker
	lockTTL       time.Duration
	maxConcurrent int
	reporter      errtrack.Reporter
	logger        *slog.Logger
}

// NewSnapshotFlusher creates the snapshot flusher. maxConcurrent caps the
// membership-recheck fan-out per flush.
func NewSnapshotFlusher(
	writer SnapshotWriter,
	locker Locker,
	checker MembershipChecker,
	lockTTL time.Duration,
	maxConcurrent int,
	reporter errtrack.Reporter,
	logger *slog.Logger,
) *SnapshotFlusher {
	if maxConcurrent <= 0 {
		maxConcurrent = 1
	}
	f := &SnapshotFlusher{
		locker:        locker,
		checker:       checker,
		lockTTL:       lockTTL,
		maxConcurrent: maxConcurrent,
		reporter:      reporter,
		logger:        logger,
	}
	f.buffer = metrics.NewBuffer(
		SnapshotMetricName,
		func(s domain.PlayerGameStatSnapshot) string { return s.ID },
		writer.BulkInsertSnapshots,
		reporter,
		logger,
		metrics.WithPostFlush(f.recheckMemberships),
	)
	return f
}

// Name returns the metric name for scheduler registration
func (f *SnapshotFlusher) Name() string {
	return f.buffer.Name()
}

// Add buffers the snapshot of one accepted mutation
func (f *SnapshotFlusher) Add(snapshot domain.PlayerGameStatSnapshot) {
	f.buffer.Add(snapshot)
}

// Len returns the number of buffered snapshots
func (f *SnapshotFlusher) Len() int {
	return f.buffer.Len()
}

// Handle drains the buffer into the analytics store
func (f *SnapshotFlusher) Handle(ctx context.Context) {
	f.buffer.Handle(ctx)
}

// recheckMemberships triggers one lock-guarded membership recomputation
// per distinct player in the flushed batch. Players whose lock is held
// elsewhere are skipped; the next mutation-triggered flush retries them.
func (f *SnapshotFlusher) recheckMemberships(ctx context.Context, flushed []domain.PlayerGameStatSnapshot) {
	seen := make(map[string]struct{}, len(flushed))
	players := make([]string, 0, len(flushed))
	for _, snapshot := range flushed {
		if _, ok := seen[snapshot.PlayerID]; ok {
			continue
		}
		seen[snapshot.PlayerID] = struct{}{}
		players = append(players, snapshot.PlayerID)
	}

	sem := make(chan struct{}, f.maxConcurrent)
	var wg sync.WaitGroup
	for _, playerID := range players {
		wg.Add(1)
		sem <- struct{}{}
		go func(playerID string) {
			defer wg.Done()
			defer func() { <-sem }()

			acquired, err := f.locker.WithLock(ctx, redis.MembershipKey(playerID), f.lockTTL, func(ctx context.Context) error {
				return f.checker.Recheck(ctx, playerID)
			})
			if err != nil {
				f.reporter.Report(ctx, fmt.Errorf("membership recheck for player %s: %w", playerID, err))
				return
			}
			if !acquired {
				f.logger.Debug("membership recheck already running", "player_id", playerID)
			}
		}(playerID)
	}
	wg.Wait()
}
