package tracker

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"
)

// LoadState is the position of a Lazy tracker.
type LoadState int

const (
	// StateIdle: Load has not been called.
	StateIdle LoadState = iota
	// StateLoading: the loader is running; calls are queued.
	StateLoading
	// StateReady: calls go straight to the loaded tracker.
	StateReady
	// StateFailed: the loader failed; every call is a no-op.
	StateFailed
)

func (s LoadState) String() string {
	switch s {
	case StateLoading:
		return "loading"
	case StateReady:
		return "ready"
	case StateFailed:
		return "failed"
	default:
		return "idle"
	}
}

type pendingCall struct {
	ctx       context.Context
	configure bool
	target    string
	params    Params
}

// Lazy loads the real tracker on first use, in the background, exactly once.
// Calls made before the load finishes are queued and replayed in order. A failed
// load is logged once and never retried.
type Lazy struct {
	loader       Loader
	loadTimeout  time.Duration
	pendingLimit int
	logger       *slog.Logger
	metrics      *Metrics

	once sync.Once
	done chan struct{}

	mu      sync.Mutex
	state   LoadState
	tracker Tracker
	pending []pendingCall
}

// LazyOption configures a Lazy tracker.
type LazyOption func(*Lazy)

// WithLoadTimeout bounds how long the loader may run.
func WithLoadTimeout(d time.Duration) LazyOption {
	return func(l *Lazy) {
		l.loadTimeout = d
	}
}

// WithPendingLimit bounds the queue of calls made before the load finishes. When
// full, the oldest queued call is dropped.
func WithPendingLimit(n int) LazyOption {
	return func(l *Lazy) {
		if n > 0 {
			l.pendingLimit = n
		}
	}
}

func WithLogger(logger *slog.Logger) LazyOption {
	return func(l *Lazy) {
		if logger != nil {
			l.logger = logger
		}
	}
}

func WithMetrics(m *Metrics) LazyOption {
	return func(l *Lazy) {
		l.metrics = m
	}
}

func NewLazy(loader Loader, opts ...LazyOption) *Lazy {
	l := &Lazy{
		loader:       loader,
		loadTimeout:  15 * time.Second,
		pendingLimit: 500,
		logger:       slog.Default(),
		done:         make(chan struct{}),
	}
	for _, opt := range opts {
		opt(l)
	}
	return l
}

// Load starts the loader in the background. Only the first call has any effect.
// It never blocks.
func (l *Lazy) Load(ctx context.Context) {
	l.once.Do(func() {
		l.mu.Lock()
		l.state = StateLoading
		l.mu.Unlock()
		go l.run(context.WithoutCancel(ctx))
	})
}

// Wait blocks until the load has finished (either way) or ctx is done.
func (l *Lazy) Wait(ctx context.Context) error {
	select {
	case <-l.done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// State returns the current load state.
func (l *Lazy) State() LoadState {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.state
}

// Degraded reports whether loading failed.
func (l *Lazy) Degraded() bool {
	return l.State() == StateFailed
}

// Pending returns the number of queued calls.
func (l *Lazy) Pending() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return len(l.pending)
}

func (l *Lazy) Configure(ctx context.Context, measurementID string, params Params) error {
	return l.dispatch(pendingCall{ctx: ctx, configure: true, target: measurementID, params: params})
}

func (l *Lazy) SendEvent(ctx context.Context, name string, params Params) error {
	return l.dispatch(pendingCall{ctx: ctx, target: name, params: params})
}

// Close closes the loaded tracker, if any.
func (l *Lazy) Close(ctx context.Context) error {
	l.mu.Lock()
	t := l.tracker
	l.mu.Unlock()
	if t == nil {
		return nil
	}
	return Close(ctx, t)
}

func (l *Lazy) dispatch(call pendingCall) error {
	l.mu.Lock()
	switch l.state {
	case StateReady:
		t := l.tracker
		l.mu.Unlock()
		return invoke(call.ctx, t, call)
	case StateFailed:
		l.mu.Unlock()
		return nil
	default:
		call.ctx = context.WithoutCancel(call.ctx)
		call.params = call.params.Clone()
		if len(l.pending) >= l.pendingLimit {
			l.pending = l.pending[1:]
			l.metrics.incPendingDropped()
		}
		l.pending = append(l.pending, call)
		l.mu.Unlock()
		return nil
	}
}

func (l *Lazy) run(ctx context.Context) {
	defer close(l.done)

	t, err := l.load(ctx)
	if err != nil {
		l.mu.Lock()
		dropped := len(l.pending)
		l.pending = nil
		l.state = StateFailed
		l.mu.Unlock()
		l.metrics.setDegraded(true)
		l.logger.ErrorContext(ctx, "tracker failed to load, forwarding disabled",
			"error", err,
			"dropped_calls", dropped,
		)
		return
	}

	l.logger.InfoContext(ctx, "tracker loaded")
	l.drain(t)
}

// drain replays queued calls in order. New calls keep queueing behind them until
// the queue is empty, and only then does the tracker switch to direct dispatch.
func (l *Lazy) drain(t Tracker) {
	for {
		l.mu.Lock()
		batch := l.pending
		l.pending = nil
		if len(batch) == 0 {
			l.tracker = t
			l.state = StateReady
			l.mu.Unlock()
			return
		}
		l.mu.Unlock()

		for _, call := range batch {
			if err := invoke(call.ctx, t, call); err != nil {
				l.metrics.incDrainFailures()
				l.logger.WarnContext(call.ctx, "queued tracker call failed",
					"target", call.target,
					"error", err,
				)
			}
		}
	}
}

func (l *Lazy) load(ctx context.Context) (t Tracker, err error) {
	if l.loadTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, l.loadTimeout)
		defer cancel()
	}
	defer func() {
		if r := recover(); r != nil {
			l.metrics.loadOutcome("panic")
			t, err = nil, fmt.Errorf("tracker loader panicked: %v", r)
		}
	}()

	t, err = l.loader(ctx)
	if err != nil {
		l.metrics.loadOutcome("error")
		return nil, err
	}
	if t == nil {
		l.metrics.loadOutcome("error")
		return nil, fmt.Errorf("tracker loader returned no tracker")
	}
	l.metrics.loadOutcome("ok")
	return t, nil
}

// invoke calls into t, turning a panic into an error.
func invoke(ctx context.Context, t Tracker, call pendingCall) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("tracker call panicked: %v", r)
		}
	}()
	if call.configure {
		return t.Configure(ctx, call.target, call.params)
	}
	return t.SendEvent(ctx, call.target, call.params)
}
