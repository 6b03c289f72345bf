package callsession

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"sync"
	"testing"
	"time"

	"github.com/gorilla/websocket"

	"github.com/KW781kazu/voicebot/internal/archive"
	"github.com/KW781kazu/voicebot/internal/intent"
	"github.com/KW781kazu/voicebot/internal/media"
	"github.com/KW781kazu/voicebot/internal/stt"
	"github.com/KW781kazu/voicebot/internal/telephony"
)

var errBoom = errors.New("boom")

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

// fakeConn feeds frames pushed by the test and records what the session writes.
type fakeConn struct {
	frames chan []byte
	endErr error

	mu      sync.Mutex
	written [][]byte

	closed    chan struct{}
	closeOnce sync.Once
}

func newFakeConn() *fakeConn {
	return &fakeConn{
		frames: make(chan []byte),
		endErr: &websocket.CloseError{Code: websocket.CloseNormalClosure},
		closed: make(chan struct{}),
	}
}

func (c *fakeConn) ReadMessage() (int, []byte, error) {
	select {
	case f, ok := <-c.frames:
		if !ok {
			return 0, nil, c.endErr
		}
		return websocket.TextMessage, f, nil
	case <-c.closed:
		return 0, nil, errors.New("use of closed network connection")
	}
}

func (c *fakeConn) WriteMessage(_ int, data []byte) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.written = append(c.written, data)
	return nil
}

func (c *fakeConn) SetReadDeadline(time.Time) error { return nil }

func (c *fakeConn) Close() error {
	c.closeOnce.Do(func() { close(c.closed) })
	return nil
}

// push delivers one frame. It returns once the session has read it, so
// every earlier frame has been fully handled.
func (c *fakeConn) push(t *testing.T, frame []byte) {
	t.Helper()
	select {
	case c.frames <- frame:
	case <-time.After(2 * time.Second):
		t.Fatal("session did not read frame")
	}
}

func (c *fakeConn) pushJSON(t *testing.T, v any) {
	t.Helper()
	b, err := json.Marshal(v)
	if err != nil {
		t.Fatalf("marshal frame: %v", err)
	}
	c.push(t, b)
}

func (c *fakeConn) start(t *testing.T, callID, from, to string) {
	t.Helper()
	c.pushJSON(t, map[string]any{
		"event":     "start",
		"streamSid": "MZ" + callID,
		"start": map[string]any{
			"streamSid": "MZ" + callID,
			"callSid":   callID,
			"customParameters": map[string]string{
				telephony.ParamFrom: from,
				telephony.ParamTo:   to,
			},
			"mediaFormat": map[string]any{"encoding": "audio/x-mulaw", "sampleRate": 8000, "channels": 1},
		},
	})
}

func (c *fakeConn) media(t *testing.T, payload string) {
	t.Helper()
	c.pushJSON(t, map[string]any{
		"event": "media",
		"media": map[string]string{"track": "inbound", "payload": payload},
	})
}

// end makes the next read fail with the connection's end error.
func (c *fakeConn) end() {
	close(c.frames)
}

func (c *fakeConn) messages() [][]byte {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := make([][]byte, len(c.written))
	copy(out, c.written)
	return out
}

// silentFrame is 20ms of u-law silence.
func silentFrame() string {
	b := make([]byte, media.FrameSamples)
	for i := range b {
		b[i] = 0xFF
	}
	return base64.StdEncoding.EncodeToString(b)
}

// fakeStream is an engine stream whose events the test injects.
type fakeStream struct {
	events chan stt.Event

	// endOnCloseSend makes the engine finish as soon as input ends.
	endOnCloseSend bool

	mu        sync.Mutex
	sent      int
	closeSend int
	closed    bool
	closeOnce sync.Once
}

func newFakeStream() *fakeStream {
	return &fakeStream{events: make(chan stt.Event, 16), endOnCloseSend: true}
}

func (f *fakeStream) Send(context.Context, []byte) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.sent++
	return nil
}

func (f *fakeStream) CloseSend() error {
	f.mu.Lock()
	f.closeSend++
	f.mu.Unlock()
	if f.endOnCloseSend {
		f.finish()
	}
	return nil
}

func (f *fakeStream) Events() <-chan stt.Event { return f.events }

func (f *fakeStream) Err() error { return nil }

func (f *fakeStream) Close() error {
	f.mu.Lock()
	f.closed = true
	f.mu.Unlock()
	f.finish()
	return nil
}

func (f *fakeStream) finish() {
	f.closeOnce.Do(func() { close(f.events) })
}

func (f *fakeStream) final(text string) {
	f.events <- stt.Event{Text: text}
}

func (f *fakeStream) partial(text string) {
	f.events <- stt.Event{Text: text, Partial: true}
}

func (f *fakeStream) sentFrames() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.sent
}

type fakeEngine struct {
	stream   *fakeStream
	startErr error
}

func (e *fakeEngine) Start(context.Context, stt.Config) (stt.Stream, error) {
	if e.startErr != nil {
		return nil, e.startErr
	}
	return e.stream, nil
}

type redirectCall struct {
	callID string
	text   string
	params map[string]string
}

// fakeRedirector fails with errs in order, then succeeds.
type fakeRedirector struct {
	mu    sync.Mutex
	errs  []error
	calls []redirectCall

	called chan redirectCall
}

func newFakeRedirector(errs ...error) *fakeRedirector {
	return &fakeRedirector{errs: errs, called: make(chan redirectCall, 16)}
}

func (r *fakeRedirector) Redirect(_ context.Context, callID, text string, params map[string]string) error {
	r.mu.Lock()
	c := redirectCall{callID: callID, text: text, params: params}
	r.calls = append(r.calls, c)
	var err error
	if len(r.errs) > 0 {
		err, r.errs = r.errs[0], r.errs[1:]
	}
	r.mu.Unlock()
	r.called <- c
	return err
}

func (r *fakeRedirector) wait(t *testing.T) redirectCall {
	t.Helper()
	select {
	case c := <-r.called:
		return c
	case <-time.After(2 * time.Second):
		t.Fatal("no redirect")
		return redirectCall{}
	}
}

func (r *fakeRedirector) count() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.calls)
}

type numbersCall struct {
	callID, from, to string
}

type deliverCall struct {
	callID, body string
}

type fakeFollowUps struct {
	mu       sync.Mutex
	observed []numbersCall
	delivers []deliverCall
}

func (f *fakeFollowUps) Observe(_ context.Context, callID, from, to string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.observed = append(f.observed, numbersCall{callID, from, to})
	return nil
}

func (f *fakeFollowUps) Deliver(_ context.Context, callID, body string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.delivers = append(f.delivers, deliverCall{callID, body})
	return nil
}

func (f *fakeFollowUps) delivered() []deliverCall {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]deliverCall(nil), f.delivers...)
}

type fakeFailures struct {
	mu sync.Mutex
	n  int
}

func (f *fakeFailures) RecordFailure() {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.n++
}

func (f *fakeFailures) count() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.n
}

type fakeArchiver struct {
	mu      sync.Mutex
	records []archive.Record
}

func (a *fakeArchiver) Archive(_ context.Context, rec archive.Record) error {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.records = append(a.records, rec)
	return nil
}

func (a *fakeArchiver) archived() []archive.Record {
	a.mu.Lock()
	defer a.mu.Unlock()
	return append([]archive.Record(nil), a.records...)
}

// harness bundles a session and its fakes.
type harness struct {
	conn       *fakeConn
	stream     *fakeStream
	engine     *fakeEngine
	redirector *fakeRedirector
	followUps  *fakeFollowUps
	failures   *fakeFailures
	archiver   *fakeArchiver
	templates  intent.Templates
}

func newHarness(redirectErrs ...error) *harness {
	stream := newFakeStream()
	return &harness{
		conn:       newFakeConn(),
		stream:     stream,
		engine:     &fakeEngine{stream: stream},
		redirector: newFakeRedirector(redirectErrs...),
		followUps:  &fakeFollowUps{},
		failures:   &fakeFailures{},
		archiver:   &fakeArchiver{},
		templates: intent.Templates{
			HoursURL: "https://example.com/hours",
			FAQURL:   "https://example.com/faq",
			Address:  "東京都千代田区1-1",
		},
	}
}

func (h *harness) deps() Deps {
	return Deps{
		Engine:       h.engine,
		STT:          stt.Config{SampleRate: media.SampleRate, Encoding: "pcm", Language: "ja-JP"},
		Policy:       intent.NewKeywordPolicy(),
		Templates:    h.templates,
		Redirector:   h.redirector,
		FollowUps:    h.followUps,
		Failures:     h.failures,
		Archiver:     h.archiver,
		VAD:          media.VADConfig{CalibrationFrames: 2},
		DrainTimeout: time.Second,
		Logger:       discardLogger(),
	}
}

// run starts Run and returns a channel carrying its result.
func run(s *Session) <-chan error {
	done := make(chan error, 1)
	go func() { done <- s.Run(context.Background()) }()
	return done
}

func waitRun(t *testing.T, done <-chan error) error {
	t.Helper()
	select {
	case err := <-done:
		return err
	case <-time.After(3 * time.Second):
		t.Fatal("session did not finish")
		return nil
	}
}

// waitFor polls cond until it holds or the deadline passes.
func waitFor(t *testing.T, what string, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for !cond() {
		if time.Now().After(deadline) {
			t.Fatalf("timed out waiting for %s", what)
		}
		time.Sleep(5 * time.Millisecond)
	}
}
