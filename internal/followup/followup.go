// Package followup delivers a call's follow-up text message once the
// caller's number and the sending number are known.
package followup

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
)

// Messenger sends a text message.
type Messenger interface {
	SendMessage(ctx context.Context, from, to, body string) error
}

// CallLookup asks the telephony platform for a call's numbers.
type CallLookup interface {
	LookupCall(ctx context.Context, callID string) (from, to string, err error)
}

// Numbers are the endpoints of a call as seen from the caller: From is the
// caller, To is the number they dialled.
type Numbers struct {
	From string
	To   string
}

// Route is where a follow-up goes: from Sender to Recipient.
type Route struct {
	Sender    string
	Recipient string
}

// DeliveryError reports a follow-up that was resolved but could not be sent.
// The message is dropped.
type DeliveryError struct {
	CallID string
	Err    error
}

func (e *DeliveryError) Error() string {
	return fmt.Sprintf("delivering follow-up for call %s: %v", e.CallID, e.Err)
}

func (e *DeliveryError) Unwrap() error { return e.Err }

// Stats is a point-in-time snapshot for metrics.
type Stats struct {
	Pending   int
	Delivered int64
	Failed    int64
}

// Service owns the per-call number cache and the pending follow-ups. It is
// shared by the media socket handler and the status webhook.
type Service struct {
	messenger Messenger
	lookup    CallLookup
	sender    string
	logger    *slog.Logger

	mu      sync.Mutex
	numbers map[string]Numbers
	pending map[string]string

	delivered atomic.Int64
	failed    atomic.Int64
}

// NewService creates a follow-up service. sender, when set, is always used
// as the sending number.
func NewService(messenger Messenger, lookup CallLookup, sender string, logger *slog.Logger) *Service {
	return &Service{
		messenger: messenger,
		lookup:    lookup,
		sender:    sender,
		logger:    logger.With("subsystem", "followup"),
		numbers:   make(map[string]Numbers),
		pending:   make(map[string]string),
	}
}

// Record merges non-empty numbers into the cache. Empty values never clear
// a known number.
func (s *Service) Record(callID, from, to string) {
	if callID == "" {
		return
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.recordLocked(callID, from, to)
}

func (s *Service) recordLocked(callID, from, to string) {
	n := s.numbers[callID]
	if from != "" {
		n.From = from
	}
	if to != "" {
		n.To = to
	}
	s.numbers[callID] = n
}

// Numbers returns the cached numbers for callID.
func (s *Service) Numbers(callID string) (Numbers, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	n, ok := s.numbers[callID]
	return n, ok
}

// Resolve works out the route for callID, consulting the cache first and
// the platform lookup for anything still missing.
func (s *Service) Resolve(ctx context.Context, callID string) (Route, bool) {
	s.mu.Lock()
	route := s.cachedRouteLocked(callID)
	s.mu.Unlock()

	if route.Sender != "" && route.Recipient != "" {
		return route, true
	}
	if s.lookup == nil {
		return route, false
	}

	from, to, err := s.lookup.LookupCall(ctx, callID)
	if err != nil {
		s.logger.Warn("call lookup failed", "call_id", callID, "error", err)
		return route, false
	}
	s.Record(callID, from, to)

	if route.Sender == "" {
		route.Sender = to
	}
	if route.Recipient == "" {
		route.Recipient = from
	}
	return route, route.Sender != "" && route.Recipient != ""
}

func (s *Service) cachedRouteLocked(callID string) Route {
	n := s.numbers[callID]
	route := Route{Sender: s.sender, Recipient: n.From}
	if route.Sender == "" {
		route.Sender = n.To
	}
	return route
}

// Deliver queues body for callID and sends it straight away if a route can
// be resolved. Otherwise it stays pending until Observe learns the numbers.
// A later Deliver for the same call replaces an unsent body.
func (s *Service) Deliver(ctx context.Context, callID, body string) error {
	if callID == "" || body == "" {
		return nil
	}

	s.mu.Lock()
	s.pending[callID] = body
	s.mu.Unlock()

	route, ok := s.Resolve(ctx, callID)
	if !ok {
		s.logger.Info("follow-up pending until numbers are known", "call_id", callID)
		return nil
	}

	body, ok = s.take(callID)
	if !ok {
		// Sent concurrently by Observe.
		return nil
	}
	return s.send(ctx, callID, route, body)
}

// Observe records numbers reported for a call and flushes its pending
// follow-up if the cache now resolves a route.
func (s *Service) Observe(ctx context.Context, callID, from, to string) error {
	if callID == "" {
		return nil
	}

	s.mu.Lock()
	s.recordLocked(callID, from, to)
	body, pending := s.pending[callID]
	route := s.cachedRouteLocked(callID)
	if !pending || route.Sender == "" || route.Recipient == "" {
		s.mu.Unlock()
		return nil
	}
	delete(s.pending, callID)
	s.mu.Unlock()

	return s.send(ctx, callID, route, body)
}

// Pending returns the unsent body for callID, if any.
func (s *Service) Pending(callID string) (string, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	body, ok := s.pending[callID]
	return body, ok
}

// Stats returns delivery counters.
func (s *Service) Stats() Stats {
	s.mu.Lock()
	pending := len(s.pending)
	s.mu.Unlock()
	return Stats{
		Pending:   pending,
		Delivered: s.delivered.Load(),
		Failed:    s.failed.Load(),
	}
}

func (s *Service) take(callID string) (string, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	body, ok := s.pending[callID]
	if ok {
		delete(s.pending, callID)
	}
	return body, ok
}

func (s *Service) send(ctx context.Context, callID string, route Route, body string) error {
	if err := s.messenger.SendMessage(ctx, route.Sender, route.Recipient, body); err != nil {
		s.failed.Add(1)
		de := &DeliveryError{CallID: callID, Err: err}
		s.logger.Error("follow-up delivery failed", "call_id", callID, "error", err)
		return de
	}
	s.delivered.Add(1)
	s.logger.Info("follow-up sent", "call_id", callID, "to", route.Recipient, "from", route.Sender)
	return nil
}
