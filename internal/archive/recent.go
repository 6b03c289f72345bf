package archive

import (
	"sync"
	"time"
)

// DefaultRecentCapacity is the default number of calls kept in memory.
const DefaultRecentCapacity = 50

// Entry is a recent-history summary of one call.
type Entry struct {
	ID         string    `json:"id"`
	CallID     string    `json:"call_id"`
	Text       string    `json:"text"`
	StartedAt  time.Time `json:"started_at"`
	FinishedAt time.Time `json:"finished_at"`
}

// RecentHistory is a bounded ring of the most recent calls.
type RecentHistory struct {
	mu      sync.Mutex
	entries []Entry // ring storage
	next    int
	size    int
}

// NewRecentHistory creates a history holding up to capacity entries.
func NewRecentHistory(capacity int) *RecentHistory {
	if capacity <= 0 {
		capacity = DefaultRecentCapacity
	}
	return &RecentHistory{entries: make([]Entry, capacity)}
}

// Add inserts rec as the newest entry, evicting the oldest when full.
func (h *RecentHistory) Add(rec Record) {
	h.mu.Lock()
	defer h.mu.Unlock()

	h.entries[h.next] = Entry{
		ID:         rec.ID,
		CallID:     rec.CallID,
		Text:       rec.Text,
		StartedAt:  rec.StartedAt,
		FinishedAt: rec.FinishedAt,
	}
	h.next = (h.next + 1) % len(h.entries)
	if h.size < len(h.entries) {
		h.size++
	}
}

// List returns a copy of the entries, newest first.
func (h *RecentHistory) List() []Entry {
	h.mu.Lock()
	defer h.mu.Unlock()

	out := make([]Entry, 0, h.size)
	for i := 1; i <= h.size; i++ {
		idx := (h.next - i + len(h.entries)) % len(h.entries)
		out = append(out, h.entries[idx])
	}
	return out
}

// Len returns the number of stored entries.
func (h *RecentHistory) Len() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.size
}
