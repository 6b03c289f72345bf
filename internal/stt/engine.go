// Package stt connects call audio to a streaming speech-to-text engine.
package stt

import (
	"context"
	"fmt"
)

// Config describes the audio a stream will receive.
type Config struct {
	SampleRate int
	Encoding   string
	Language   string
	// Vocabulary is an optional engine-side custom vocabulary name.
	Vocabulary string
}

// Event is one transcription result. Partial results may be revised by
// later events; finals never are.
type Event struct {
	Text    string
	Partial bool
}

// Engine opens recognition streams.
type Engine interface {
	Start(ctx context.Context, cfg Config) (Stream, error)
}

// Stream is a single bidirectional recognition session.
//
// Events is closed when the engine has delivered everything it will deliver.
// Err reports the reason the stream ended abnormally, or nil.
type Stream interface {
	Send(ctx context.Context, pcm []byte) error
	CloseSend() error
	Events() <-chan Event
	Err() error
	Close() error
}

// TranscriptionError reports a failure to start or feed the engine stream.
// It ends transcription for the session but never the call itself.
type TranscriptionError struct {
	Op  string
	Err error
}

func (e *TranscriptionError) Error() string {
	return fmt.Sprintf("transcription %s: %v", e.Op, e.Err)
}

func (e *TranscriptionError) Unwrap() error { return e.Err }
