// Package identity mints and remembers the visitor and session identifiers.
package identity

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"

	"github.com/google/uuid"

	"beacon/internal/kv"
	"beacon/pkg/requestcontext"
)

// Storage keys. visitor_id lives in the profile scope, session_id in the session scope.
const (
	KeyVisitorID = "visitor_id"
	KeySessionID = "session_id"
)

const (
	visitorPrefix = "v_"
	sessionPrefix = "s_"
)

// Generator hands out identifiers for one profile/session pair.
type Generator struct {
	profile kv.Store
	session kv.Store
	logger  *slog.Logger
}

func New(profile, session kv.Store, logger *slog.Logger) *Generator {
	if logger == nil {
		logger = slog.Default()
	}
	return &Generator{profile: profile, session: session, logger: logger}
}

// VisitorID returns the profile's visitor id, minting and persisting one first if
// none exists. Never fails: when storage is unusable the fresh id is returned
// anyway and will simply not be remembered.
func (g *Generator) VisitorID(ctx context.Context) string {
	return g.getOrCreate(ctx, g.profile, KeyVisitorID, visitorPrefix, false)
}

// SessionID is VisitorID for the session scope. The id is written back on every
// call so a session store with a TTL expires it only after inactivity.
func (g *Generator) SessionID(ctx context.Context) string {
	return g.getOrCreate(ctx, g.session, KeySessionID, sessionPrefix, true)
}

func (g *Generator) getOrCreate(ctx context.Context, store kv.Store, key, prefix string, touch bool) string {
	if !touch {
		existing, err := store.Get(ctx, key)
		if err == nil && existing != "" {
			return existing
		}
		if err != nil && !errors.Is(err, kv.ErrNotFound) {
			g.logger.WarnContext(ctx, "failed to read identifier", "key", key, "error", err)
		}
	}

	// Two first requests racing on the same scope agree on a single id.
	var id string
	err := kv.Update(ctx, store, key, func(current string, found bool) (string, error) {
		id = current
		if !found || current == "" {
			id = Mint(ctx, prefix)
		}
		return id, nil
	})
	if err != nil {
		g.logger.WarnContext(ctx, "failed to persist identifier", "key", key, "error", err)
		if id == "" {
			id = Mint(ctx, prefix)
		}
	}
	return id
}

// Mint builds "<prefix><unix millis>_<random>" using the request time.
func Mint(ctx context.Context, prefix string) string {
	random := strings.ReplaceAll(uuid.NewString(), "-", "")[:12]
	return fmt.Sprintf("%s%d_%s", prefix, requestcontext.Now(ctx).UnixMilli(), random)
}
