// Package coordinator keeps snapshots of PowerBox data fresh by polling the
// device on an interval and degrading to the last good snapshot on failure.
package coordinator

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/raterudder/powerbox/pkg/common"
	"github.com/raterudder/powerbox/pkg/log"
	"github.com/raterudder/powerbox/pkg/retry"
)

// Fetcher is the subset of powerbox.Client the coordinators need.
type Fetcher interface {
	Fetch(ctx context.Context, endpoint string) (json.RawMessage, error)
	ConsecutiveErrors() int
}

// State is where a coordinator is in its refresh cycle.
type State int

const (
	StateIdle State = iota
	StateFetching
	StateSuccess
	StateDegraded
	StateFailed
)

func (s State) String() string {
	switch s {
	case StateIdle:
		return "idle"
	case StateFetching:
		return "fetching"
	case StateSuccess:
		return "success"
	case StateDegraded:
		return "degraded"
	case StateFailed:
		return "failed"
	default:
		return fmt.Sprintf("State(%d)", int(s))
	}
}

// MarshalText implements encoding.TextMarshaler.
func (s State) MarshalText() ([]byte, error) {
	return []byte(s.String()), nil
}

// UnmarshalText implements encoding.TextUnmarshaler.
func (s *State) UnmarshalText(b []byte) error {
	for st := StateIdle; st <= StateFailed; st++ {
		if st.String() == string(b) {
			*s = st
			return nil
		}
	}
	return fmt.Errorf("unknown coordinator state: %q", b)
}

// Result is what a refresh cycle hands back to its caller.
type Result[T any] struct {
	Snapshot T
	Stale    bool
}

// Status is a point-in-time view of a coordinator for status endpoints.
type Status struct {
	Name                string    `json:"name"`
	State               State     `json:"state"`
	Available           bool      `json:"available"`
	Stale               bool      `json:"stale"`
	LastSuccess         time.Time `json:"lastSuccess,omitzero"`
	PollIntervalSeconds float64   `json:"pollIntervalSeconds"`
	LastError           string    `json:"lastError,omitempty"`
}

// Coordinator polls one endpoint and keeps the last good parsed snapshot.
// Refresh cycles never overlap; readers may call the accessors at any time.
type Coordinator[T any] struct {
	name     string
	endpoint string
	fetcher  Fetcher
	parse    func(ctx context.Context, raw json.RawMessage) (T, error)
	interval func() time.Duration
	sleep    retry.SleepFunc
	now      func() time.Time

	// refreshMu keeps cycles from overlapping when Refresh is called
	// outside of Run
	refreshMu sync.Mutex

	mu           sync.RWMutex
	state        State
	snapshot     T
	hasSnapshot  bool
	stale        bool
	lastSuccess  time.Time
	lastErr      error
	pollInterval time.Duration
}

func newCoordinator[T any](name, endpoint string, f Fetcher, parse func(context.Context, json.RawMessage) (T, error), interval func() time.Duration) *Coordinator[T] {
	return &Coordinator[T]{
		name:         name,
		endpoint:     endpoint,
		fetcher:      f,
		parse:        parse,
		interval:     interval,
		sleep:        common.Sleep,
		now:          time.Now,
		pollInterval: interval(),
	}
}

// Name identifies the coordinator in logs and metrics.
func (c *Coordinator[T]) Name() string {
	return c.name
}

// adjustInterval recomputes the poll interval and logs when it changes.
func (c *Coordinator[T]) adjustInterval(ctx context.Context) {
	next := c.interval()

	c.mu.Lock()
	prev := c.pollInterval
	c.pollInterval = next
	c.mu.Unlock()

	if prev != next {
		log.Ctx(ctx).InfoContext(
			ctx,
			"poll interval changed",
			slog.Duration("from", prev),
			slog.Duration("to", next),
		)
	}
}

// Refresh runs one fetch-and-parse cycle.
//
// On success the new snapshot replaces the old one. On failure the previous
// snapshot is returned with Stale set and no error; only when there has never
// been a snapshot is the error returned.
func (c *Coordinator[T]) Refresh(ctx context.Context) (Result[T], error) {
	c.refreshMu.Lock()
	defer c.refreshMu.Unlock()

	c.mu.Lock()
	prevState := c.state
	c.state = StateFetching
	c.mu.Unlock()

	c.adjustInterval(ctx)
	res, err := c.cycle(ctx, prevState)
	c.adjustInterval(ctx)
	return res, err
}

func (c *Coordinator[T]) cycle(ctx context.Context, prevState State) (Result[T], error) {
	raw, err := c.fetcher.Fetch(ctx, c.endpoint)
	var snap T
	if err == nil {
		snap, err = c.parse(ctx, raw)
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	if err == nil {
		c.snapshot = snap
		c.hasSnapshot = true
		c.stale = false
		c.state = StateSuccess
		c.lastSuccess = c.now()
		c.lastErr = nil
		log.Ctx(ctx).DebugContext(ctx, "refresh succeeded")
		return Result[T]{Snapshot: snap}, nil
	}

	// shutting down is not a device failure
	if ctx.Err() != nil && (errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded)) {
		c.state = prevState
		return Result[T]{Snapshot: c.snapshot, Stale: c.stale}, err
	}

	c.lastErr = err
	if c.hasSnapshot {
		c.state = StateDegraded
		c.stale = true
		log.Ctx(ctx).WarnContext(ctx, "refresh failed, serving last known data", slog.Any("error", err))
		return Result[T]{Snapshot: c.snapshot, Stale: true}, nil
	}

	c.state = StateFailed
	log.Ctx(ctx).ErrorContext(ctx, "refresh failed with no data to serve", slog.Any("error", err))
	return Result[T]{}, fmt.Errorf("%s refresh: %w", c.name, err)
}

// Run refreshes immediately and then after every CurrentPollInterval until
// ctx is canceled. Refresh errors are logged and never stop the loop.
func (c *Coordinator[T]) Run(ctx context.Context) error {
	ctx = log.WithAttrs(ctx, slog.String("coordinator", c.name))
	log.Ctx(ctx).InfoContext(ctx, "starting coordinator", slog.Duration("interval", c.CurrentPollInterval()))
	for ctx.Err() == nil {
		// errors are already logged and recorded by Refresh
		_, _ = c.Refresh(ctx)
		if err := c.sleep(ctx, c.CurrentPollInterval()); err != nil {
			break
		}
	}
	log.Ctx(ctx).InfoContext(ctx, "coordinator stopped")
	return nil
}

// State returns the current cycle state.
func (c *Coordinator[T]) State() State {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.state
}

// LastRefreshSucceeded reports whether there is data to serve: true after a
// success, including while degraded, and false before the first success or
// while failed.
func (c *Coordinator[T]) LastRefreshSucceeded() bool {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.hasSnapshot && c.state != StateFailed
}

// Stale reports whether the served snapshot is older than the last attempt.
func (c *Coordinator[T]) Stale() bool {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.stale
}

// CurrentPollInterval is how long Run waits before the next cycle.
func (c *Coordinator[T]) CurrentPollInterval() time.Duration {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.pollInterval
}

// LastSuccess is when the snapshot was last replaced, zero if never.
func (c *Coordinator[T]) LastSuccess() time.Time {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.lastSuccess
}

// Snapshot returns the last good snapshot, or the zero value if none.
func (c *Coordinator[T]) Snapshot() T {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.snapshot
}

// Status summarizes the coordinator.
func (c *Coordinator[T]) Status() Status {
	c.mu.RLock()
	defer c.mu.RUnlock()
	st := Status{
		Name:                c.name,
		State:               c.state,
		Available:           c.hasSnapshot && c.state != StateFailed,
		Stale:               c.stale,
		LastSuccess:         c.lastSuccess,
		PollIntervalSeconds: c.pollInterval.Seconds(),
	}
	if c.lastErr != nil {
		st.LastError = c.lastErr.Error()
	}
	return st
}
