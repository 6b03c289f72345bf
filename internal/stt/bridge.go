package stt

import (
	"context"
	"log/slog"
	"strings"
	"sync"
	"sync/atomic"
)

// finalsBuffer bounds how many finals may queue before the consumer reads them.
const finalsBuffer = 16

// Bridge owns one engine stream for the life of a call session. Audio goes
// in through Forward; finals come out, in order, on Finals.
type Bridge struct {
	stream Stream
	logger *slog.Logger

	finals chan string
	done   chan struct{}

	failed    atomic.Bool
	endOnce   sync.Once
	closeOnce sync.Once

	mu  sync.Mutex
	err error
}

// OpenBridge starts an engine stream and the goroutine that reads from it.
// A start failure is returned as a *TranscriptionError.
func OpenBridge(ctx context.Context, engine Engine, cfg Config, logger *slog.Logger) (*Bridge, error) {
	stream, err := engine.Start(ctx, cfg)
	if err != nil {
		return nil, &TranscriptionError{Op: "start", Err: err}
	}

	b := &Bridge{
		stream: stream,
		logger: logger,
		finals: make(chan string, finalsBuffer),
		done:   make(chan struct{}),
	}
	go b.readLoop()
	return b, nil
}

func (b *Bridge) readLoop() {
	defer close(b.finals)

	for ev := range b.stream.Events() {
		text := strings.TrimSpace(ev.Text)
		if text == "" {
			continue
		}
		if ev.Partial {
			b.logger.Debug("partial transcript", "text", text)
			continue
		}
		b.logger.Info("final transcript", "text", text)
		select {
		case b.finals <- text:
		case <-b.done:
			return
		}
	}

	if err := b.stream.Err(); err != nil {
		b.setErr(&TranscriptionError{Op: "receive", Err: err})
		b.logger.Warn("transcription stream ended with error", "error", err)
	}
}

// Finals returns the ordered final transcripts. The channel is closed when
// the engine stream ends.
func (b *Bridge) Finals() <-chan string {
	return b.finals
}

// Forward sends one PCM frame to the engine. After the first failure the
// bridge stops forwarding and later calls return nil, so the caller can
// keep draining its own input.
func (b *Bridge) Forward(ctx context.Context, pcm []byte) error {
	if b.failed.Load() {
		return nil
	}
	if err := b.stream.Send(ctx, pcm); err != nil {
		b.failed.Store(true)
		te := &TranscriptionError{Op: "send", Err: err}
		b.setErr(te)
		return te
	}
	return nil
}

// EndInput tells the engine no more audio will arrive. Only the first call
// has any effect.
func (b *Bridge) EndInput() error {
	var err error
	b.endOnce.Do(func() {
		if cerr := b.stream.CloseSend(); cerr != nil {
			err = &TranscriptionError{Op: "end input", Err: cerr}
		}
	})
	return err
}

// Err returns the first transcription error seen, if any.
func (b *Bridge) Err() error {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.err
}

// Close releases the engine stream. Pending finals are discarded.
func (b *Bridge) Close() error {
	var err error
	b.closeOnce.Do(func() {
		close(b.done)
		err = b.stream.Close()
	})
	return err
}

func (b *Bridge) setErr(err error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.err == nil {
		b.err = err
	}
}
