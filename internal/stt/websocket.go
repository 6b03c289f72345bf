package stt

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"sync"
	"sync/atomic"
	"time"

	"github.com/gorilla/websocket"
)

// WebSocketEngine speaks a simple JSON-over-websocket streaming protocol:
// binary frames carry PCM, the text frame "done" ends input, and the server
// replies with {"type":"transcript","text":...,"is_final":...} messages
// followed by {"type":"done"}.
type WebSocketEngine struct {
	url    string
	apiKey string
	dialer websocket.Dialer
}

// NewWebSocket creates an engine that dials rawURL for every stream.
func NewWebSocket(rawURL, apiKey string) *WebSocketEngine {
	return &WebSocketEngine{
		url:    rawURL,
		apiKey: apiKey,
		dialer: websocket.Dialer{HandshakeTimeout: 10 * time.Second},
	}
}

type wsResponse struct {
	Type    string `json:"type"`
	Text    string `json:"text"`
	IsFinal bool   `json:"is_final"`
	Error   string `json:"error"`
}

// Start dials the engine with the stream parameters in the query string.
func (e *WebSocketEngine) Start(ctx context.Context, cfg Config) (Stream, error) {
	u, err := url.Parse(e.url)
	if err != nil {
		return nil, fmt.Errorf("parsing stt url: %w", err)
	}
	q := u.Query()
	q.Set("encoding", cfg.Encoding)
	q.Set("sample_rate", strconv.Itoa(cfg.SampleRate))
	q.Set("language", cfg.Language)
	if cfg.Vocabulary != "" {
		q.Set("vocabulary", cfg.Vocabulary)
	}
	u.RawQuery = q.Encode()

	headers := http.Header{}
	if e.apiKey != "" {
		headers.Set("Authorization", "Bearer "+e.apiKey)
	}

	conn, resp, err := e.dialer.DialContext(ctx, u.String(), headers)
	if err != nil {
		if resp != nil {
			defer resp.Body.Close()
			body, _ := io.ReadAll(resp.Body)
			if len(body) > 0 {
				return nil, fmt.Errorf("websocket connect (status %d): %s", resp.StatusCode, string(body))
			}
			return nil, fmt.Errorf("websocket connect: status %d: %w", resp.StatusCode, err)
		}
		return nil, fmt.Errorf("websocket connect: %w", err)
	}

	s := &wsStream{
		conn:   conn,
		events: make(chan Event, 32),
		done:   make(chan struct{}),
	}
	go s.readLoop()
	return s, nil
}

type wsStream struct {
	conn    *websocket.Conn
	events  chan Event
	done    chan struct{}
	writeMu sync.Mutex

	sentDone  atomic.Bool
	closed    atomic.Bool
	closeOnce sync.Once

	errMu sync.Mutex
	err   error
}

func (s *wsStream) readLoop() {
	defer close(s.events)

	for {
		_, data, err := s.conn.ReadMessage()
		if err != nil {
			if s.closed.Load() || websocket.IsCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
				return
			}
			s.setErr(fmt.Errorf("reading stt message: %w", err))
			return
		}

		var msg wsResponse
		if err := json.Unmarshal(data, &msg); err != nil {
			continue
		}

		switch msg.Type {
		case "transcript":
			select {
			case s.events <- Event{Text: msg.Text, Partial: !msg.IsFinal}:
			case <-s.done:
				return
			}
		case "done":
			return
		case "error":
			s.setErr(errors.New(msg.Error))
			return
		}
	}
}

func (s *wsStream) Send(_ context.Context, pcm []byte) error {
	if s.closed.Load() || s.sentDone.Load() {
		return errors.New("stt stream closed")
	}
	s.writeMu.Lock()
	defer s.writeMu.Unlock()
	return s.conn.WriteMessage(websocket.BinaryMessage, pcm)
}

func (s *wsStream) CloseSend() error {
	if s.closed.Load() || !s.sentDone.CompareAndSwap(false, true) {
		return nil
	}
	s.writeMu.Lock()
	defer s.writeMu.Unlock()
	return s.conn.WriteMessage(websocket.TextMessage, []byte("done"))
}

func (s *wsStream) Events() <-chan Event { return s.events }

func (s *wsStream) Err() error {
	s.errMu.Lock()
	defer s.errMu.Unlock()
	return s.err
}

func (s *wsStream) Close() error {
	var err error
	s.closeOnce.Do(func() {
		s.closed.Store(true)
		close(s.done)

		s.writeMu.Lock()
		_ = s.conn.WriteMessage(websocket.CloseMessage,
			websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""))
		s.writeMu.Unlock()

		err = s.conn.Close()
	})
	return err
}

func (s *wsStream) setErr(err error) {
	s.errMu.Lock()
	defer s.errMu.Unlock()
	if s.err == nil {
		s.err = err
	}
}
