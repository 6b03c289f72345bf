package stt

import (
	"context"
	"errors"
	"sync"
)

// fakeStream is an in-memory Stream driven by the test.
type fakeStream struct {
	mu        sync.Mutex
	sent      [][]byte
	sendErr   error
	closeSend int
	closed    bool
	err       error

	events    chan Event
	closeOnce sync.Once
}

func newFakeStream() *fakeStream {
	return &fakeStream{events: make(chan Event, 64)}
}

func (f *fakeStream) Send(_ context.Context, pcm []byte) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.sendErr != nil {
		return f.sendErr
	}
	f.sent = append(f.sent, pcm)
	return nil
}

func (f *fakeStream) CloseSend() error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.closeSend++
	return nil
}

func (f *fakeStream) Events() <-chan Event { return f.events }

func (f *fakeStream) Err() error {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.err
}

func (f *fakeStream) Close() error {
	f.mu.Lock()
	f.closed = true
	f.mu.Unlock()
	f.finish(nil)
	return nil
}

// finish ends the event stream with err.
func (f *fakeStream) finish(err error) {
	f.closeOnce.Do(func() {
		f.mu.Lock()
		f.err = err
		f.mu.Unlock()
		close(f.events)
	})
}

type fakeEngine struct {
	stream   *fakeStream
	startErr error
	cfg      Config
}

func (e *fakeEngine) Start(_ context.Context, cfg Config) (Stream, error) {
	e.cfg = cfg
	if e.startErr != nil {
		return nil, e.startErr
	}
	return e.stream, nil
}

var errBoom = errors.New("boom")
