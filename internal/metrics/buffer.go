// Package metrics provides the in-process buffering of pending analytics
// records and their periodic batched flush into the analytics store.
package metrics

import (
	"context"
	"fmt"
	"log/slog"
	"sync"

	"github.com/gamestats-service/internal/errtrack"
)

// FlushFunc performs one bulk write of drained records to the analytics
// store. The store must tolerate duplicate inserts of records with the
// same key: a failure after the store accepted data but before the buffer
// was cleared causes the same records to be flushed again.
type FlushFunc[T any] func(ctx context.Context, records []T) error

// PostFlushFunc runs after a successful flush with the records that were
// written. It is best-effort; its outcome does not affect buffer
// bookkeeping.
type PostFlushFunc[T any] func(ctx context.Context, records []T)

// Buffer accumulates records of one metric type keyed by a unique id.
// Adding a record under an existing key overwrites instead of
// duplicating, which protects against at-least-once redelivery upstream.
//
// A Buffer is owned by a single process; deploying multiple flush workers
// for the same metric name would double-flush.
type Buffer[T any] struct {
	name      string
	keyFunc   func(T) string
	flush     FlushFunc[T]
	postFlush PostFlushFunc[T]
	reporter  errtrack.Reporter
	logger    *slog.Logger

	mu    sync.Mutex
	items map[string]T
	order []string
}

// Option configures a Buffer
type Option[T any] func(*Buffer[T])

// WithPostFlush registers a hook invoked after each successful flush
func WithPostFlush[T any](fn PostFlushFunc[T]) Option[T] {
	return func(b *Buffer[T]) {
		b.postFlush = fn
	}
}

// NewBuffer creates a buffer for one metric name
func NewBuffer[T any](
	name string,
	keyFunc func(T) string,
	flush FlushFunc[T],
	reporter errtrack.Reporter,
	logger *slog.Logger,
	opts ...Option[T],
) *Buffer[T] {
	b := &Buffer[T]{
		name:     name,
		keyFunc:  keyFunc,
		flush:    flush,
		reporter: reporter,
		logger:   logger,
		items:    make(map[string]T),
	}
	for _, opt := range opts {
		opt(b)
	}
	return b
}

// Name returns the metric name the buffer accumulates
func (b *Buffer[T]) Name() string {
	return b.name
}

// Add inserts a record into the buffer. It is cheap and safe to call from
// the hot request path.
func (b *Buffer[T]) Add(item T) {
	key := b.keyFunc(item)

	b.mu.Lock()
	defer b.mu.Unlock()
	if _, exists := b.items[key]; !exists {
		b.order = append(b.order, key)
	}
	b.items[key] = item
}

// Len returns the number of pending records
func (b *Buffer[T]) Len() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return len(b.items)
}

// Handle drains the buffer: it snapshots the pending records, bulk-writes
// them via the flush function, and on success removes exactly the
// snapshotted keys. Records added concurrently during the flush survive
// for the next tick. On flush failure the records are kept, so delivery
// is at-least-once. An empty buffer is a silent no-op.
func (b *Buffer[T]) Handle(ctx context.Context) {
	b.mu.Lock()
	keys := make([]string, len(b.order))
	copy(keys, b.order)
	records := make([]T, 0, len(keys))
	for _, key := range keys {
		records = append(records, b.items[key])
	}
	b.mu.Unlock()

	if len(records) == 0 {
		return
	}

	if err := b.flush(ctx, records); err != nil {
		b.reporter.Report(ctx, fmt.Errorf("flushing %s buffer (%d records kept): %w", b.name, len(records), err))
		return
	}

	b.remove(keys)
	b.logger.Debug("flushed metric buffer", "metric", b.name, "records", len(records))

	if b.postFlush != nil {
		b.postFlush(ctx, records)
	}
}

// remove deletes the given keys, preserving the insertion order of
// everything added while the flush was in flight.
func (b *Buffer[T]) remove(keys []string) {
	flushed := make(map[string]struct{}, len(keys))
	for _, key := range keys {
		flushed[key] = struct{}{}
	}

	b.mu.Lock()
	defer b.mu.Unlock()
	remaining := b.order[:0]
	for _, key := range b.order {
		if _, ok := flushed[key]; ok {
			delete(b.items, key)
			continue
		}
		remaining = append(remaining, key)
	}
	b.order = remaining
}
