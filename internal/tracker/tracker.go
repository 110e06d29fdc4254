// Package tracker is the outbound boundary of the analytics façade: the
// capability that used to be a globally registered third-party tracking function.
package tracker

import (
	"context"
	"errors"
	"time"
)

// Params is the free-form parameter object passed with every call.
type Params map[string]any

// Clone returns a shallow copy so queued calls are not affected by later mutation.
func (p Params) Clone() Params {
	if p == nil {
		return Params{}
	}
	out := make(Params, len(p))
	for k, v := range p {
		out[k] = v
	}
	return out
}

// Tracker accepts "config" and "event" calls and may silently fail.
type Tracker interface {
	Configure(ctx context.Context, measurementID string, params Params) error
	SendEvent(ctx context.Context, name string, params Params) error
}

// Closer is implemented by trackers that hold connections or workers.
type Closer interface {
	Close(ctx context.Context) error
}

// Loader produces a ready Tracker. It is the equivalent of injecting the
// third-party script; it runs at most once per process.
type Loader func(ctx context.Context) (Tracker, error)

// Close shuts t down if it holds resources.
func Close(ctx context.Context, t Tracker) error {
	if c, ok := t.(Closer); ok {
		return c.Close(ctx)
	}
	return nil
}

// Noop accepts every call and does nothing.
type Noop struct{}

func (Noop) Configure(context.Context, string, Params) error { return nil }
func (Noop) SendEvent(context.Context, string, Params) error { return nil }

// Command kinds, matching the two shapes of the outbound call.
const (
	KindConfig = "config"
	KindEvent  = "event"
)

// Command is the serialised form of one call, used by backends that ship calls
// somewhere else (a collector, a topic, a table).
type Command struct {
	Kind      string    `json:"kind"`
	Target    string    `json:"target"`
	Params    Params    `json:"params,omitempty"`
	VisitorID string    `json:"visitor_id,omitempty"`
	SessionID string    `json:"session_id,omitempty"`
	PageURL   string    `json:"page_url,omitempty"`
	Timestamp time.Time `json:"timestamp"`
}

// Well-known parameter names the façade attaches to every forwarded call.
const (
	ParamVisitorID = "visitor_id"
	ParamSessionID = "session_id"
	ParamPageURL   = "page_location"
)

// NewCommand builds a Command, lifting the identity parameters out of params.
func NewCommand(kind, target string, params Params, at time.Time) Command {
	cmd := Command{
		Kind:      kind,
		Target:    target,
		Params:    params.Clone(),
		Timestamp: at.UTC(),
	}
	cmd.VisitorID, _ = cmd.Params[ParamVisitorID].(string)
	cmd.SessionID, _ = cmd.Params[ParamSessionID].(string)
	cmd.PageURL, _ = cmd.Params[ParamPageURL].(string)
	return cmd
}

// Multi fans every call out to several trackers. A failing tracker does not stop
// the others; the errors are joined.
type Multi []Tracker

func (m Multi) Configure(ctx context.Context, measurementID string, params Params) error {
	var errs []error
	for _, t := range m {
		if err := t.Configure(ctx, measurementID, params); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

func (m Multi) SendEvent(ctx context.Context, name string, params Params) error {
	var errs []error
	for _, t := range m {
		if err := t.SendEvent(ctx, name, params); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

// Close closes every member that holds resources.
func (m Multi) Close(ctx context.Context) error {
	var errs []error
	for _, t := range m {
		if err := Close(ctx, t); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

// MultiLoader runs each loader and combines the results. Any loader failure fails
// the whole load, after closing the trackers that did load.
func MultiLoader(loaders ...Loader) Loader {
	return func(ctx context.Context) (Tracker, error) {
		if len(loaders) == 0 {
			return Noop{}, nil
		}
		if len(loaders) == 1 {
			return loaders[0](ctx)
		}
		loaded := make(Multi, 0, len(loaders))
		for _, load := range loaders {
			t, err := load(ctx)
			if err != nil {
				_ = loaded.Close(ctx)
				return nil, err
			}
			loaded = append(loaded, t)
		}
		return loaded, nil
	}
}
