package stt

import (
	"context"
	"fmt"
	"sync"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/transcribestreaming"
	"github.com/aws/aws-sdk-go-v2/service/transcribestreaming/types"
)

// TranscribeEngine streams audio to Amazon Transcribe.
type TranscribeEngine struct {
	client *transcribestreaming.Client
}

// NewTranscribe loads the default AWS credential chain for region and
// returns an engine backed by Amazon Transcribe streaming.
func NewTranscribe(ctx context.Context, region string) (*TranscribeEngine, error) {
	cfg, err := awsconfig.LoadDefaultConfig(ctx, awsconfig.WithRegion(region))
	if err != nil {
		return nil, fmt.Errorf("loading aws config: %w", err)
	}
	return &TranscribeEngine{client: transcribestreaming.NewFromConfig(cfg)}, nil
}

// Start opens a StartStreamTranscription session.
func (e *TranscribeEngine) Start(ctx context.Context, cfg Config) (Stream, error) {
	in := &transcribestreaming.StartStreamTranscriptionInput{
		LanguageCode:         types.LanguageCode(cfg.Language),
		MediaEncoding:        types.MediaEncodingPcm,
		MediaSampleRateHertz: aws.Int32(int32(cfg.SampleRate)),
	}
	if cfg.Vocabulary != "" {
		in.VocabularyName = aws.String(cfg.Vocabulary)
	}

	out, err := e.client.StartStreamTranscription(ctx, in)
	if err != nil {
		return nil, fmt.Errorf("starting stream transcription: %w", err)
	}

	s := &transcribeStream{
		es:     out.GetStream(),
		events: make(chan Event, 32),
		done:   make(chan struct{}),
	}
	go s.readLoop()
	return s, nil
}

type transcribeStream struct {
	es     *transcribestreaming.StartStreamTranscriptionEventStream
	events chan Event
	done   chan struct{}

	closeSendOnce sync.Once
	closeSendErr  error
	closeOnce     sync.Once
}

func (s *transcribeStream) readLoop() {
	defer close(s.events)
	for raw := range s.es.Events() {
		te, ok := raw.(*types.TranscriptResultStreamMemberTranscriptEvent)
		if !ok {
			continue
		}
		for _, ev := range transcriptEvents(te.Value) {
			select {
			case s.events <- ev:
			case <-s.done:
				return
			}
		}
	}
}

// transcriptEvents flattens one Transcribe result batch into events, taking
// the top alternative of each result.
func transcriptEvents(te types.TranscriptEvent) []Event {
	if te.Transcript == nil {
		return nil
	}
	var out []Event
	for _, r := range te.Transcript.Results {
		if len(r.Alternatives) == 0 {
			continue
		}
		text := aws.ToString(r.Alternatives[0].Transcript)
		if text == "" {
			continue
		}
		out = append(out, Event{Text: text, Partial: r.IsPartial})
	}
	return out
}

func (s *transcribeStream) Send(ctx context.Context, pcm []byte) error {
	return s.es.Send(ctx, &types.AudioStreamMemberAudioEvent{
		Value: types.AudioEvent{AudioChunk: pcm},
	})
}

func (s *transcribeStream) CloseSend() error {
	s.closeSendOnce.Do(func() {
		s.closeSendErr = s.es.Writer.Close()
	})
	return s.closeSendErr
}

func (s *transcribeStream) Events() <-chan Event { return s.events }

func (s *transcribeStream) Err() error { return s.es.Err() }

func (s *transcribeStream) Close() error {
	var err error
	s.closeOnce.Do(func() {
		close(s.done)
		err = s.es.Close()
	})
	return err
}
