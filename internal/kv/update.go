package kv

import (
	"context"
	"errors"
	"hash/fnv"
	"sync"
)

// maxUpdateRetries bounds optimistic retries in backends that detect write conflicts.
const maxUpdateRetries = 8

// ErrConflict is returned when an update kept losing to concurrent writers.
var ErrConflict = errors.New("kv: update conflict")

// UpdateFunc receives the current value, with found false when the key is absent
// or expired, and returns the value to store. It may run more than once.
type UpdateFunc func(current string, found bool) (string, error)

// Updater is implemented by backends that apply a read-modify-write atomically.
type Updater interface {
	Update(ctx context.Context, key string, fn UpdateFunc) error
}

// Update applies fn to key atomically when store implements Updater. Other stores
// are serialized under a process-wide lock per key.
func Update(ctx context.Context, store Store, key string, fn UpdateFunc) error {
	if u, ok := store.(Updater); ok {
		return u.Update(ctx, key, fn)
	}
	unlock := keyLocks.lock(key)
	defer unlock()

	current, err := store.Get(ctx, key)
	found := err == nil
	if err != nil && !errors.Is(err, ErrNotFound) {
		return err
	}
	next, err := fn(current, found)
	if err != nil {
		return err
	}
	return store.Set(ctx, key, next)
}

type stripedLocks [64]sync.Mutex

var keyLocks stripedLocks

func (l *stripedLocks) lock(key string) func() {
	h := fnv.New32a()
	_, _ = h.Write([]byte(key))
	mu := &l[h.Sum32()%uint32(len(l))]
	mu.Lock()
	return mu.Unlock
}
