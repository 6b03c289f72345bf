// Package callsession runs one phone call's media stream: it decodes audio,
// feeds speech recognition, answers the first utterance with a redirect and
// archives the transcript when the stream ends.
package callsession

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"

	"github.com/KW781kazu/voicebot/internal/archive"
	"github.com/KW781kazu/voicebot/internal/intent"
	"github.com/KW781kazu/voicebot/internal/media"
	"github.com/KW781kazu/voicebot/internal/stt"
	"github.com/KW781kazu/voicebot/internal/telephony"
)

// ErrUnknownCall is the cause of a RedirectError raised before the start
// event has named the call.
var ErrUnknownCall = errors.New("call id not yet known")

// RedirectError reports a failed reply. The session stays un-replied, so a
// later final utterance may try again.
type RedirectError struct {
	CallID string
	Err    error
}

func (e *RedirectError) Error() string {
	return fmt.Sprintf("redirecting call %q: %v", e.CallID, e.Err)
}

func (e *RedirectError) Unwrap() error { return e.Err }

// Conn is the server side of a media stream socket.
type Conn interface {
	ReadMessage() (messageType int, p []byte, err error)
	WriteMessage(messageType int, data []byte) error
	SetReadDeadline(t time.Time) error
	Close() error
}

// Redirector speaks a reply on a live call and reconnects it to a fresh stream.
type Redirector interface {
	Redirect(ctx context.Context, callID, text string, params map[string]string) error
}

// FollowUps resolves numbers and delivers follow-up messages.
type FollowUps interface {
	Observe(ctx context.Context, callID, from, to string) error
	Deliver(ctx context.Context, callID, body string) error
}

// FailureRecorder is told about media transport failures.
type FailureRecorder interface {
	RecordFailure()
}

// Archiver stores a finished session.
type Archiver interface {
	Archive(ctx context.Context, rec archive.Record) error
}

// Deps are the collaborators shared by every session.
type Deps struct {
	Engine     stt.Engine
	STT        stt.Config
	Policy     intent.Policy
	Templates  intent.Templates
	Redirector Redirector
	FollowUps  FollowUps
	Failures   FailureRecorder
	Archiver   Archiver
	VAD        media.VADConfig

	// DrainTimeout bounds how long teardown waits for the last finals.
	DrainTimeout time.Duration
	// IdleTimeout closes the stream when no frame arrives for this long.
	IdleTimeout time.Duration
	// AckTone is PCM played to the caller while the reply is being placed.
	AckTone []byte

	Logger *slog.Logger
}

// Session is one accepted media stream socket.
type Session struct {
	ID string

	deps   Deps
	conn   Conn
	vad    *media.VAD
	stats  *Counters
	logger *slog.Logger

	writeMu sync.Mutex

	mu         sync.Mutex
	state      State
	callID     string
	streamSID  string
	from, to   string
	startedAt  time.Time
	finishedAt time.Time
	finals     []string
	replied    bool

	closeOnce sync.Once
	stopping  atomic.Bool
}

// New creates a session for conn. stats may be nil.
func New(conn Conn, deps Deps, stats *Counters) *Session {
	if deps.DrainTimeout <= 0 {
		deps.DrainTimeout = 5 * time.Second
	}
	if deps.Logger == nil {
		deps.Logger = slog.Default()
	}
	if stats == nil {
		stats = &Counters{}
	}

	id := uuid.NewString()
	return &Session{
		ID:        id,
		deps:      deps,
		conn:      conn,
		vad:       media.NewVAD(deps.VAD),
		stats:     stats,
		logger:    deps.Logger.With("subsystem", "callsession", "session_id", id),
		state:     StateOpen,
		startedAt: time.Now().UTC(),
	}
}

// Run serves the stream until the remote side stops or disconnects, then
// drains transcription and archives the session. It returns the transport
// error that ended the stream, if any.
func (s *Session) Run(ctx context.Context) error {
	s.logger.Info("media stream opened")

	bridge, err := stt.OpenBridge(ctx, s.deps.Engine, s.deps.STT, s.logger)
	if err != nil {
		// Recognition is lost for this call but the socket keeps draining.
		s.logger.Error("transcription unavailable", "error", err)
	}
	s.setState(StateCalibrating)

	readerDone := make(chan struct{})
	if bridge != nil {
		go s.readFinals(ctx, bridge, readerDone)
	} else {
		close(readerDone)
	}

	runErr := s.pump(ctx, bridge)
	s.setState(StateClosing)

	if bridge != nil {
		s.drain(bridge, readerDone)
	}
	s.close(ctx)
	return runErr
}

// pump reads socket frames until stop, disconnect or a transport failure.
func (s *Session) pump(ctx context.Context, bridge *stt.Bridge) error {
	for {
		if s.deps.IdleTimeout > 0 {
			s.conn.SetReadDeadline(time.Now().Add(s.deps.IdleTimeout)) //nolint:errcheck
		}

		_, data, err := s.conn.ReadMessage()
		if err != nil {
			var ce *websocket.CloseError
			if errors.As(err, &ce) || ctx.Err() != nil || s.stopping.Load() {
				s.logger.Info("media stream disconnected", "reason", err)
				return nil
			}
			s.stats.TransportFailures.Add(1)
			if s.deps.Failures != nil {
				s.deps.Failures.RecordFailure()
			}
			s.logger.Error("media stream transport failure", "error", err)
			return fmt.Errorf("reading media stream: %w", err)
		}

		var ev inboundEvent
		if err := json.Unmarshal(data, &ev); err != nil {
			s.logger.Debug("ignoring malformed frame", "error", err)
			continue
		}

		switch ev.Event {
		case eventConnected:
			s.logger.Debug("media stream connected")
		case eventStart:
			s.handleStart(ctx, ev)
		case eventMedia:
			s.handleMedia(ctx, bridge, ev.Media)
		case eventMark:
			if ev.Mark != nil {
				s.logger.Debug("mark acknowledged", "name", ev.Mark.Name)
			}
		case eventStop:
			s.logger.Info("media stream stopped by remote")
			return nil
		}
	}
}

func (s *Session) handleStart(ctx context.Context, ev inboundEvent) {
	if ev.Start == nil {
		return
	}
	st := ev.Start

	s.mu.Lock()
	if st.CallSID != "" {
		s.callID = st.CallSID
	}
	if st.StreamSID != "" {
		s.streamSID = st.StreamSID
	} else if ev.StreamSID != "" {
		s.streamSID = ev.StreamSID
	}
	if v := st.CustomParameters[telephony.ParamFrom]; v != "" {
		s.from = v
	}
	if v := st.CustomParameters[telephony.ParamTo]; v != "" {
		s.to = v
	}
	callID := s.callID
	s.mu.Unlock()

	s.logger.Info("media stream started",
		"call_id", callID,
		"stream_sid", st.StreamSID,
		"encoding", st.MediaFormat.Encoding,
		"sample_rate", st.MediaFormat.SampleRate,
	)

	if callID == "" || s.deps.FollowUps == nil {
		return
	}
	from := st.CustomParameters[telephony.ParamFrom]
	to := st.CustomParameters[telephony.ParamTo]
	if err := s.deps.FollowUps.Observe(ctx, callID, from, to); err != nil {
		s.logger.Warn("deferred follow-up failed", "error", err)
	}
}

func (s *Session) handleMedia(ctx context.Context, bridge *stt.Bridge, m *mediaPayload) {
	if m == nil || m.Payload == "" {
		return
	}

	pcm, err := media.DecodeBase64Frame(m.Payload)
	if err != nil {
		s.stats.DecodeErrors.Add(1)
		s.logger.Debug("dropping frame", "error", err)
		return
	}

	switch s.vad.Process(pcm) {
	case media.SpeechStart:
		s.logger.Debug("speech started")
	case media.SpeechEnd:
		s.logger.Debug("speech ended")
	}
	if s.State() == StateCalibrating && s.vad.State() != media.VADCalibrating {
		threshold, _ := s.vad.Threshold()
		s.logger.Debug("vad calibrated", "threshold", threshold)
		s.setState(StateListening)
	}

	if bridge == nil {
		return
	}
	if err := bridge.Forward(ctx, pcm); err != nil {
		s.logger.Error("transcription forwarding stopped", "error", err)
	}
}

// readFinals handles finals in engine order until the bridge closes them.
func (s *Session) readFinals(ctx context.Context, bridge *stt.Bridge, done chan<- struct{}) {
	defer close(done)
	for text := range bridge.Finals() {
		s.handleFinal(ctx, text)
	}
}

// handleFinal records a final utterance and, while the call has not been
// answered, replies to it.
func (s *Session) handleFinal(ctx context.Context, text string) {
	s.mu.Lock()
	s.finals = append(s.finals, text)
	if s.replied {
		s.mu.Unlock()
		return
	}
	callID := s.callID
	params := map[string]string{telephony.ParamFrom: s.from, telephony.ParamTo: s.to}
	prev := s.state
	s.state = StateReplying
	s.mu.Unlock()

	reply := s.deps.Policy.Classify(text)
	s.logger.Info("replying", "call_id", callID, "intent", reply.Intent, "utterance", text, "follow_up", reply.FollowUp)

	if len(s.deps.AckTone) > 0 && callID != "" {
		if err := s.Play(ctx, s.deps.AckTone, ackMark); err != nil {
			s.logger.Warn("playing acknowledgement tone", "error", err)
		}
	}

	err := s.redirect(ctx, callID, reply.Text, params)

	s.mu.Lock()
	if err == nil {
		s.replied = true
	}
	// Teardown may have moved the state on while the redirect was in flight.
	if s.state == StateReplying {
		if err == nil {
			s.state = StateReconnected
		} else {
			s.state = prev
		}
	}
	s.mu.Unlock()

	if err != nil {
		s.stats.RedirectFailures.Add(1)
		s.logger.Error("reply failed", "error", err)
	} else {
		s.stats.Replies.Add(1)
	}

	if reply.FollowUp == "" || callID == "" || s.deps.FollowUps == nil {
		return
	}
	body := s.deps.Templates.Body(reply.FollowUp)
	if body == "" {
		s.logger.Warn("follow-up template is empty, not sending", "template", reply.FollowUp)
		return
	}
	if err := s.deps.FollowUps.Deliver(ctx, callID, body); err != nil {
		s.logger.Warn("follow-up not delivered", "error", err)
	}
}

func (s *Session) redirect(ctx context.Context, callID, text string, params map[string]string) error {
	if callID == "" {
		return &RedirectError{Err: ErrUnknownCall}
	}
	if err := s.deps.Redirector.Redirect(ctx, callID, text, params); err != nil {
		return &RedirectError{CallID: callID, Err: err}
	}
	return nil
}

// drain ends recognition input and waits for the remaining finals, closing
// the engine stream if it takes longer than the drain timeout.
func (s *Session) drain(bridge *stt.Bridge, readerDone <-chan struct{}) {
	if err := bridge.EndInput(); err != nil {
		s.logger.Warn("ending transcription input", "error", err)
	}

	timer := time.NewTimer(s.deps.DrainTimeout)
	defer timer.Stop()

	select {
	case <-readerDone:
	case <-timer.C:
		s.logger.Warn("transcription drain timed out", "timeout", s.deps.DrainTimeout)
	}
	bridge.Close() //nolint:errcheck
	<-readerDone
}

// close archives the session exactly once.
func (s *Session) close(ctx context.Context) {
	s.closeOnce.Do(func() {
		s.mu.Lock()
		s.finishedAt = time.Now().UTC()
		rec := archive.Record{
			ID:         s.ID,
			CallID:     s.callID,
			StartedAt:  s.startedAt,
			FinishedAt: s.finishedAt,
			Language:   s.deps.STT.Language,
			Text:       strings.Join(s.finals, ""),
		}
		s.mu.Unlock()

		if s.deps.Archiver != nil {
			// Archive even when the request context is gone.
			if err := s.deps.Archiver.Archive(context.WithoutCancel(ctx), rec); err != nil {
				s.logger.Warn("session archived with errors", "error", err)
			}
		}

		s.setState(StateClosed)
		s.logger.Info("media stream closed", "text", rec.Text, "duration", rec.FinishedAt.Sub(rec.StartedAt))
	})
}

// Play sends 16-bit PCM to the caller as u-law media frames followed by a
// mark named markName.
func (s *Session) Play(ctx context.Context, pcm []byte, markName string) error {
	streamSID := s.StreamSID()
	if streamSID == "" {
		return errors.New("stream not started")
	}

	ulaw, err := media.EncodeFrame(pcm)
	if err != nil {
		return err
	}

	for off := 0; off < len(ulaw); off += media.FrameSamples {
		if err := ctx.Err(); err != nil {
			return err
		}
		end := min(off+media.FrameSamples, len(ulaw))
		err := s.writeJSON(outboundMedia{
			Event:     eventMedia,
			StreamSID: streamSID,
			Media:     mediaPayload{Payload: base64.StdEncoding.EncodeToString(ulaw[off:end])},
		})
		if err != nil {
			return fmt.Errorf("writing media frame: %w", err)
		}
	}

	if err := s.writeJSON(outboundMark{Event: eventMark, StreamSID: streamSID, Mark: markPayload{Name: markName}}); err != nil {
		return fmt.Errorf("writing mark: %w", err)
	}
	return nil
}

func (s *Session) writeJSON(v any) error {
	b, err := json.Marshal(v)
	if err != nil {
		return err
	}
	s.writeMu.Lock()
	defer s.writeMu.Unlock()
	return s.conn.WriteMessage(websocket.TextMessage, b)
}

// Stop closes the socket so Run tears the session down as a normal
// disconnect. Used during shutdown.
func (s *Session) Stop() {
	if s.stopping.CompareAndSwap(false, true) {
		s.conn.Close() //nolint:errcheck
	}
}

// State returns the current lifecycle state.
func (s *Session) State() State {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state
}

func (s *Session) setState(st State) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.state = st
}

// CallID returns the platform call id, or "" before the start event.
func (s *Session) CallID() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.callID
}

// StreamSID returns the platform stream id, or "" before the start event.
func (s *Session) StreamSID() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.streamSID
}

// Replied reports whether a reply has been delivered on this call.
func (s *Session) Replied() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.replied
}

// Info is a point-in-time view of a session for status endpoints.
type Info struct {
	ID        string    `json:"id"`
	CallID    string    `json:"call_id"`
	State     string    `json:"state"`
	StartedAt time.Time `json:"started_at"`
	Finals    int       `json:"finals"`
	Replied   bool      `json:"replied"`
}

// Info returns a snapshot of the session.
func (s *Session) Info() Info {
	s.mu.Lock()
	defer s.mu.Unlock()
	return Info{
		ID:        s.ID,
		CallID:    s.callID,
		State:     s.state.String(),
		StartedAt: s.startedAt,
		Finals:    len(s.finals),
		Replied:   s.replied,
	}
}
