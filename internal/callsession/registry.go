package callsession

import (
	"log/slog"
	"sort"
	"sync"
	"sync/atomic"
)

// Counters are process-wide session totals.
type Counters struct {
	Started           atomic.Int64
	Replies           atomic.Int64
	RedirectFailures  atomic.Int64
	TransportFailures atomic.Int64
	DecodeErrors      atomic.Int64
}

// Snapshot is a copy of Counters at one instant.
type Snapshot struct {
	Active            int   `json:"active"`
	Started           int64 `json:"started"`
	Replies           int64 `json:"replies"`
	RedirectFailures  int64 `json:"redirect_failures"`
	TransportFailures int64 `json:"transport_failures"`
	DecodeErrors      int64 `json:"decode_errors"`
}

// Registry tracks the sessions currently being served.
type Registry struct {
	logger *slog.Logger
	stats  Counters

	mu       sync.RWMutex
	sessions map[string]*Session // keyed by session ID
}

// NewRegistry creates an empty registry.
func NewRegistry(logger *slog.Logger) *Registry {
	return &Registry{
		logger:   logger.With("subsystem", "call-sessions"),
		sessions: make(map[string]*Session),
	}
}

// Counters returns the registry's counters, shared by every session it creates.
func (r *Registry) Counters() *Counters {
	return &r.stats
}

// Add registers a session.
func (r *Registry) Add(s *Session) {
	r.mu.Lock()
	r.sessions[s.ID] = s
	n := len(r.sessions)
	r.mu.Unlock()

	r.stats.Started.Add(1)
	r.logger.Debug("session registered", "session_id", s.ID, "active", n)
}

// Remove unregisters a session. Unknown IDs are ignored.
func (r *Registry) Remove(id string) {
	r.mu.Lock()
	_, ok := r.sessions[id]
	delete(r.sessions, id)
	n := len(r.sessions)
	r.mu.Unlock()

	if ok {
		r.logger.Debug("session released", "session_id", id, "active", n)
	}
}

// Get returns a session by ID, or nil if not found.
func (r *Registry) Get(id string) *Session {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.sessions[id]
}

// Count returns the number of active sessions.
func (r *Registry) Count() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.sessions)
}

// List returns a snapshot of every active session, oldest first.
func (r *Registry) List() []Info {
	r.mu.RLock()
	out := make([]Info, 0, len(r.sessions))
	for _, s := range r.sessions {
		out = append(out, s.Info())
	}
	r.mu.RUnlock()

	sort.Slice(out, func(i, j int) bool {
		return out[i].StartedAt.Before(out[j].StartedAt)
	})
	return out
}

// Snapshot returns the current counter values.
func (r *Registry) Snapshot() Snapshot {
	return Snapshot{
		Active:            r.Count(),
		Started:           r.stats.Started.Load(),
		Replies:           r.stats.Replies.Load(),
		RedirectFailures:  r.stats.RedirectFailures.Load(),
		TransportFailures: r.stats.TransportFailures.Load(),
		DecodeErrors:      r.stats.DecodeErrors.Load(),
	}
}

// StopAll stops every active session. Each session still archives itself as
// its Run returns.
func (r *Registry) StopAll() {
	r.mu.RLock()
	sessions := make([]*Session, 0, len(r.sessions))
	for _, s := range r.sessions {
		sessions = append(sessions, s)
	}
	r.mu.RUnlock()

	for _, s := range sessions {
		s.Stop()
	}
	if len(sessions) > 0 {
		r.logger.Info("all call sessions stopped", "count", len(sessions))
	}
}
