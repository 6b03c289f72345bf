package followup

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"sync"
	"testing"
)

type sentMessage struct {
	from, to, body string
}

type fakeMessenger struct {
	mu   sync.Mutex
	sent []sentMessage
	err  error
}

func (m *fakeMessenger) SendMessage(_ context.Context, from, to, body string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.err != nil {
		return m.err
	}
	m.sent = append(m.sent, sentMessage{from, to, body})
	return nil
}

func (m *fakeMessenger) count() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.sent)
}

type fakeLookup struct {
	from, to string
	err      error
	calls    int
}

func (l *fakeLookup) LookupCall(context.Context, string) (string, string, error) {
	l.calls++
	return l.from, l.to, l.err
}

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func TestRecordIdempotent(t *testing.T) {
	s := NewService(&fakeMessenger{}, nil, "", testLogger())

	s.Record("CA1", "+8190", "+8150")
	s.Record("CA1", "", "")
	s.Record("CA1", "+8190", "")

	n, ok := s.Numbers("CA1")
	if !ok {
		t.Fatal("numbers not recorded")
	}
	if n.From != "+8190" || n.To != "+8150" {
		t.Errorf("numbers = %+v", n)
	}

	s.Record("CA1", "+8191", "")
	n, _ = s.Numbers("CA1")
	if n.From != "+8191" || n.To != "+8150" {
		t.Errorf("last non-empty write should win, got %+v", n)
	}
}

func TestResolve(t *testing.T) {
	tests := []struct {
		name    string
		sender  string
		from    string
		to      string
		lookup  *fakeLookup
		want    Route
		ok      bool
		lookups int
	}{
		{
			name: "cache only",
			from: "+8190", to: "+8150",
			lookup: &fakeLookup{},
			want:   Route{Sender: "+8150", Recipient: "+8190"},
			ok:     true,
		},
		{
			name:   "fixed sender wins",
			sender: "+8100",
			from:   "+8190", to: "+8150",
			lookup: &fakeLookup{},
			want:   Route{Sender: "+8100", Recipient: "+8190"},
			ok:     true,
		},
		{
			name:    "lookup fills gaps",
			from:    "+8190",
			lookup:  &fakeLookup{from: "+8199", to: "+8150"},
			want:    Route{Sender: "+8150", Recipient: "+8190"},
			ok:      true,
			lookups: 1,
		},
		{
			name:    "lookup fails",
			lookup:  &fakeLookup{err: errors.New("404")},
			ok:      false,
			lookups: 1,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			s := NewService(&fakeMessenger{}, tt.lookup, tt.sender, testLogger())
			s.Record("CA1", tt.from, tt.to)

			got, ok := s.Resolve(context.Background(), "CA1")
			if ok != tt.ok {
				t.Fatalf("ok = %v, want %v", ok, tt.ok)
			}
			if ok && got != tt.want {
				t.Errorf("route = %+v, want %+v", got, tt.want)
			}
			if tt.lookup.calls != tt.lookups {
				t.Errorf("lookups = %d, want %d", tt.lookup.calls, tt.lookups)
			}
		})
	}
}

func TestDeliverImmediate(t *testing.T) {
	m := &fakeMessenger{}
	s := NewService(m, &fakeLookup{}, "", testLogger())
	s.Record("CA1", "+8190", "+8150")

	if err := s.Deliver(context.Background(), "CA1", "hello"); err != nil {
		t.Fatalf("Deliver: %v", err)
	}
	if m.count() != 1 {
		t.Fatalf("sent %d messages, want 1", m.count())
	}
	if got := m.sent[0]; got != (sentMessage{"+8150", "+8190", "hello"}) {
		t.Errorf("sent %+v", got)
	}
	if _, ok := s.Pending("CA1"); ok {
		t.Error("pending entry should be consumed")
	}

	// Numbers arriving later must not resend.
	if err := s.Observe(context.Background(), "CA1", "+8190", "+8150"); err != nil {
		t.Fatalf("Observe: %v", err)
	}
	if m.count() != 1 {
		t.Errorf("sent %d messages after Observe, want 1", m.count())
	}
}

func TestDeliverDeferredExactlyOnce(t *testing.T) {
	m := &fakeMessenger{}
	s := NewService(m, &fakeLookup{err: errors.New("not found")}, "", testLogger())

	if err := s.Deliver(context.Background(), "CA1", "hours link"); err != nil {
		t.Fatalf("Deliver: %v", err)
	}
	if m.count() != 0 {
		t.Fatalf("sent %d messages before numbers known", m.count())
	}
	if body, ok := s.Pending("CA1"); !ok || body != "hours link" {
		t.Fatalf("pending = %q, %v", body, ok)
	}

	// Partial information keeps it pending.
	if err := s.Observe(context.Background(), "CA1", "+8190", ""); err != nil {
		t.Fatalf("Observe: %v", err)
	}
	if m.count() != 0 {
		t.Fatalf("sent with only one number known")
	}

	if err := s.Observe(context.Background(), "CA1", "", "+8150"); err != nil {
		t.Fatalf("Observe: %v", err)
	}
	if err := s.Observe(context.Background(), "CA1", "+8190", "+8150"); err != nil {
		t.Fatalf("Observe: %v", err)
	}

	if m.count() != 1 {
		t.Fatalf("sent %d messages, want exactly 1", m.count())
	}
	if got := m.sent[0]; got != (sentMessage{"+8150", "+8190", "hours link"}) {
		t.Errorf("sent %+v", got)
	}
	if st := s.Stats(); st.Pending != 0 || st.Delivered != 1 {
		t.Errorf("stats = %+v", st)
	}
}

func TestDeliverLastWriteWins(t *testing.T) {
	m := &fakeMessenger{}
	s := NewService(m, nil, "", testLogger())

	s.Deliver(context.Background(), "CA1", "first")
	s.Deliver(context.Background(), "CA1", "second")
	s.Observe(context.Background(), "CA1", "+8190", "+8150")

	if m.count() != 1 || m.sent[0].body != "second" {
		t.Errorf("sent %+v, want only the second body", m.sent)
	}
}

func TestConcurrentObserveSendsOnce(t *testing.T) {
	m := &fakeMessenger{}
	s := NewService(m, nil, "+8100", testLogger())
	s.Deliver(context.Background(), "CA1", "body")

	var wg sync.WaitGroup
	for i := 0; i < 20; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			s.Observe(context.Background(), "CA1", "+8190", "")
		}()
	}
	wg.Wait()

	if m.count() != 1 {
		t.Errorf("sent %d messages, want 1", m.count())
	}
}

func TestDeliverSendFailure(t *testing.T) {
	m := &fakeMessenger{err: errors.New("21211 invalid number")}
	s := NewService(m, nil, "", testLogger())
	s.Record("CA1", "+8190", "+8150")

	err := s.Deliver(context.Background(), "CA1", "body")
	var de *DeliveryError
	if !errors.As(err, &de) {
		t.Fatalf("expected DeliveryError, got %v", err)
	}
	if de.CallID != "CA1" {
		t.Errorf("CallID = %q", de.CallID)
	}
	if _, ok := s.Pending("CA1"); ok {
		t.Error("failed message should be dropped, not left pending")
	}
	if st := s.Stats(); st.Failed != 1 {
		t.Errorf("Failed = %d, want 1", st.Failed)
	}
}

func TestDeliverIgnoresEmpty(t *testing.T) {
	m := &fakeMessenger{}
	s := NewService(m, nil, "", testLogger())

	if err := s.Deliver(context.Background(), "", "body"); err != nil {
		t.Fatal(err)
	}
	if err := s.Deliver(context.Background(), "CA1", ""); err != nil {
		t.Fatal(err)
	}
	if st := s.Stats(); st.Pending != 0 {
		t.Errorf("Pending = %d, want 0", st.Pending)
	}
}
