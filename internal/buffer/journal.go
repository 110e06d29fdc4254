package buffer

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"

	"beacon/internal/kv"
)

// Journal is a RingBuffer mirrored to a storage key as a JSON array, so the
// history survives across requests of the same scope. The stored array is the
// source of truth; when storage fails the in-memory ring carries on alone and
// the failure is logged.
type Journal[T any] struct {
	ring   *RingBuffer[T]
	store  kv.Store
	key    string
	logger *slog.Logger
}

// OpenJournal loads the existing history under key, keeping only the newest
// capacity entries. A corrupt or unreadable mirror starts an empty history.
func OpenJournal[T any](ctx context.Context, store kv.Store, key string, capacity int, logger *slog.Logger) *Journal[T] {
	if logger == nil {
		logger = slog.Default()
	}
	j := &Journal[T]{
		ring:   NewRingBuffer[T](capacity),
		store:  store,
		key:    key,
		logger: logger,
	}

	raw, err := store.Get(ctx, key)
	if err != nil {
		if !errors.Is(err, kv.ErrNotFound) {
			logger.WarnContext(ctx, "failed to read buffer mirror", "key", key, "error", err)
		}
		return j
	}

	var stored []T
	if err := json.Unmarshal([]byte(raw), &stored); err != nil {
		logger.WarnContext(ctx, "discarding corrupt buffer mirror", "key", key, "error", err)
		return j
	}
	if over := len(stored) - j.ring.Cap(); over > 0 {
		stored = stored[over:]
	}
	for _, item := range stored {
		j.ring.Enqueue(item)
	}
	return j
}

// Append adds item, evicting the oldest entry when full. The mirror is updated
// atomically against the stored history, so journals opened concurrently on the
// same key do not overwrite each other; the ring is then refreshed from the merged
// result. Returns true when an entry was evicted.
func (j *Journal[T]) Append(ctx context.Context, item T) bool {
	var (
		merged  []T
		evicted bool
	)
	err := kv.Update(ctx, j.store, j.key, func(current string, found bool) (string, error) {
		merged, evicted = j.decode(ctx, current, found), false
		merged = append(merged, item)
		if over := len(merged) - j.ring.Cap(); over > 0 {
			merged = merged[over:]
			evicted = true
		}
		data, err := json.Marshal(merged)
		if err != nil {
			return "", fmt.Errorf("encode buffer mirror: %w", err)
		}
		return string(data), nil
	})
	if err != nil {
		j.logger.WarnContext(ctx, "failed to write buffer mirror", "key", j.key, "error", err)
		return j.ring.Enqueue(item)
	}
	j.replace(merged)
	return evicted
}

// Items returns the history, oldest first.
func (j *Journal[T]) Items() []T {
	return j.ring.Snapshot()
}

func (j *Journal[T]) Len() int {
	return j.ring.Len()
}

// Clear empties the history and its mirror.
func (j *Journal[T]) Clear(ctx context.Context) {
	j.ring.DequeueBatch(j.ring.Len())
	if err := j.store.Delete(ctx, j.key); err != nil {
		j.logger.WarnContext(ctx, "failed to clear buffer mirror", "key", j.key, "error", err)
	}
}

// decode reads the stored history. An unreadable mirror is replaced by the
// in-memory history.
func (j *Journal[T]) decode(ctx context.Context, raw string, found bool) []T {
	if !found {
		return nil
	}
	var stored []T
	if err := json.Unmarshal([]byte(raw), &stored); err != nil {
		j.logger.WarnContext(ctx, "discarding corrupt buffer mirror", "key", j.key, "error", err)
		return j.ring.Snapshot()
	}
	return stored
}

func (j *Journal[T]) replace(items []T) {
	j.ring.DequeueBatch(j.ring.Len())
	for _, item := range items {
		j.ring.Enqueue(item)
	}
}
