// Package fallback decides whether new calls get the degraded greeting
// instead of a live media stream.
package fallback

import (
	"context"
	"fmt"
	"log/slog"
	"strconv"
	"sync/atomic"
	"time"
)

// DefaultWindow is how long a single transport failure keeps the gate active.
const DefaultWindow = 120 * time.Second

// ForceSettingKey is the settings key holding the forced flag.
const ForceSettingKey = "fallback_force"

// Settings is a key-value store that keeps the forced flag across restarts.
type Settings interface {
	Get(ctx context.Context, key string) (string, error)
	Set(ctx context.Context, key, value string) error
}

// Status is a snapshot of the gate for status endpoints.
type Status struct {
	Active      bool      `json:"active"`
	Forced      bool      `json:"forced"`
	LastFailure time.Time `json:"last_failure,omitzero"`
	Window      string    `json:"window"`
}

// Gate is active when forced on, or when a transport failure happened within
// the window. It trips on one failure and heals by time only.
type Gate struct {
	window time.Duration
	store  Settings
	logger *slog.Logger
	now    func() time.Time

	forced      atomic.Bool
	lastFailure atomic.Int64 // unix nanos, 0 = never
}

// NewGate creates a gate. store may be nil, in which case the forced flag
// lives in memory only.
func NewGate(window time.Duration, store Settings, logger *slog.Logger) *Gate {
	if window <= 0 {
		window = DefaultWindow
	}
	return &Gate{
		window: window,
		store:  store,
		logger: logger.With("subsystem", "fallback"),
		now:    time.Now,
	}
}

// Restore loads the persisted forced flag.
func (g *Gate) Restore(ctx context.Context) error {
	if g.store == nil {
		return nil
	}
	v, err := g.store.Get(ctx, ForceSettingKey)
	if err != nil {
		return fmt.Errorf("loading %s: %w", ForceSettingKey, err)
	}
	forced := v == "true"
	g.forced.Store(forced)
	if forced {
		g.logger.Warn("fallback forced on at startup")
	}
	return nil
}

// Active reports whether new calls should be degraded.
func (g *Gate) Active() bool {
	if g.forced.Load() {
		return true
	}
	last := g.lastFailure.Load()
	if last == 0 {
		return false
	}
	return g.now().Sub(time.Unix(0, last)) < g.window
}

// SetForced turns the manual override on or off and persists it.
func (g *Gate) SetForced(ctx context.Context, forced bool) error {
	g.forced.Store(forced)
	g.logger.Info("fallback override changed", "forced", forced)
	if g.store == nil {
		return nil
	}
	if err := g.store.Set(ctx, ForceSettingKey, strconv.FormatBool(forced)); err != nil {
		return fmt.Errorf("saving %s: %w", ForceSettingKey, err)
	}
	return nil
}

// RecordFailure notes a media transport failure at the current time.
func (g *Gate) RecordFailure() {
	g.lastFailure.Store(g.now().UnixNano())
	g.logger.Warn("transport failure recorded", "window", g.window)
}

// Status returns the current gate state.
func (g *Gate) Status() Status {
	st := Status{
		Active: g.Active(),
		Forced: g.forced.Load(),
		Window: g.window.String(),
	}
	if last := g.lastFailure.Load(); last != 0 {
		st.LastFailure = time.Unix(0, last).UTC()
	}
	return st
}
