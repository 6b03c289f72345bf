// Package archive persists finished call transcripts and keeps a short
// in-memory history of recent calls.
package archive

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"
)

// Record is the archived form of one call session.
type Record struct {
	ID         string    `json:"id"`
	CallID     string    `json:"call_id"`
	StartedAt  time.Time `json:"started_at"`
	FinishedAt time.Time `json:"finished_at"`
	Language   string    `json:"language"`
	Text       string    `json:"text"`
}

// Key is the object key for the record, grouped by the UTC start date.
func (r Record) Key() string {
	return fmt.Sprintf("calls/%s/call-%s.json", r.StartedAt.UTC().Format("2006-01-02"), r.ID)
}

// Sink is one archive destination.
type Sink interface {
	Name() string
	Put(ctx context.Context, rec Record) error
}

// Error reports a record that one sink failed to store. It is logged and
// never retried.
type Error struct {
	Sink      string
	SessionID string
	Err       error
}

func (e *Error) Error() string {
	return fmt.Sprintf("archiving session %s to %s: %v", e.SessionID, e.Sink, e.Err)
}

func (e *Error) Unwrap() error { return e.Err }

// Archiver records every finished session in the recent history and then
// writes it to each sink.
type Archiver struct {
	recent  *RecentHistory
	sinks   []Sink
	timeout time.Duration
	logger  *slog.Logger
}

// NewArchiver creates an archiver. Each sink write is bounded by timeout.
func NewArchiver(recent *RecentHistory, timeout time.Duration, logger *slog.Logger, sinks ...Sink) *Archiver {
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	return &Archiver{
		recent:  recent,
		sinks:   sinks,
		timeout: timeout,
		logger:  logger.With("subsystem", "archive"),
	}
}

// Archive stores rec everywhere. Failures in one sink do not stop the
// others; all of them are returned joined.
func (a *Archiver) Archive(ctx context.Context, rec Record) error {
	if a.recent != nil {
		a.recent.Add(rec)
	}

	var errs []error
	for _, s := range a.sinks {
		sctx, cancel := context.WithTimeout(ctx, a.timeout)
		err := s.Put(sctx, rec)
		cancel()
		if err != nil {
			ae := &Error{Sink: s.Name(), SessionID: rec.ID, Err: err}
			a.logger.Error("archive write failed", "sink", s.Name(), "session_id", rec.ID, "error", err)
			errs = append(errs, ae)
			continue
		}
		a.logger.Debug("archived", "sink", s.Name(), "session_id", rec.ID, "key", rec.Key())
	}
	return errors.Join(errs...)
}
