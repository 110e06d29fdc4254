// Package consent persists the visitor's consent decision in the profile scope.
package consent

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"strconv"

	"beacon/internal/kv"
	"beacon/pkg/requestcontext"
)

// ErrAbsent is returned by Get when the visitor has never decided.
var ErrAbsent = fmt.Errorf("consent not decided: %w", kv.ErrNotFound)

// Store reads and writes the consent decision. It holds no state of its own;
// every call goes to the underlying scope.
type Store struct {
	kv     kv.Store
	logger *slog.Logger
}

// NewStore wraps a profile-scoped key/value store.
func NewStore(store kv.Store, logger *slog.Logger) *Store {
	if logger == nil {
		logger = slog.Default()
	}
	return &Store{kv: store, logger: logger}
}

// Get returns the stored decision, or ErrAbsent. When only the legacy flag is
// present the record is rebuilt from it with a zero timestamp.
func (s *Store) Get(ctx context.Context) (*Record, error) {
	raw, err := s.kv.Get(ctx, KeyRecord)
	switch {
	case err == nil:
		var rec Record
		jsonErr := json.Unmarshal([]byte(raw), &rec)
		if jsonErr == nil {
			rec.Necessary = true
			return &rec, nil
		}
		s.logger.WarnContext(ctx, "ignoring unreadable consent record", "error", jsonErr)
	case !errors.Is(err, kv.ErrNotFound):
		return nil, fmt.Errorf("read consent record: %w", err)
	}

	legacy, err := s.kv.Get(ctx, KeyLegacy)
	if errors.Is(err, kv.ErrNotFound) {
		return nil, ErrAbsent
	}
	if err != nil {
		return nil, fmt.Errorf("read legacy consent flag: %w", err)
	}
	granted, err := strconv.ParseBool(legacy)
	if err != nil {
		s.logger.WarnContext(ctx, "ignoring unreadable legacy consent flag", "value", legacy)
		return nil, ErrAbsent
	}
	return &Record{Necessary: true, Analytics: granted}, nil
}

// Set overwrites the decision with a full record stamped with the request time
// and mirrors the analytics flag to the legacy key.
func (s *Store) Set(ctx context.Context, prefs Preferences) (*Record, error) {
	rec := NewRecord(prefs, requestcontext.Now(ctx))
	data, err := json.Marshal(rec)
	if err != nil {
		return nil, fmt.Errorf("encode consent record: %w", err)
	}
	if err := s.kv.Set(ctx, KeyRecord, string(data)); err != nil {
		return nil, fmt.Errorf("write consent record: %w", err)
	}
	if err := s.kv.Set(ctx, KeyLegacy, strconv.FormatBool(rec.Analytics)); err != nil {
		// The record itself was written, which is what readers consult first.
		s.logger.WarnContext(ctx, "failed to mirror legacy consent flag", "error", err)
	}
	return &rec, nil
}

// Reset deletes the decision so the visitor is treated as first-time.
func (s *Store) Reset(ctx context.Context) error {
	errRecord := s.kv.Delete(ctx, KeyRecord)
	errLegacy := s.kv.Delete(ctx, KeyLegacy)
	if err := errors.Join(errRecord, errLegacy); err != nil {
		return fmt.Errorf("reset consent: %w", err)
	}
	return nil
}
