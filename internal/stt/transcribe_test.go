package stt

import (
	"testing"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/transcribestreaming/types"
)

func TestTranscriptEvents(t *testing.T) {
	tests := []struct {
		name string
		in   types.TranscriptEvent
		want []Event
	}{
		{
			name: "nil transcript",
			in:   types.TranscriptEvent{},
		},
		{
			name: "partial and final",
			in: types.TranscriptEvent{Transcript: &types.Transcript{Results: []types.Result{
				{IsPartial: true, Alternatives: []types.Alternative{{Transcript: aws.String("営業")}}},
				{IsPartial: false, Alternatives: []types.Alternative{
					{Transcript: aws.String("営業時間は")},
					{Transcript: aws.String("衛生時間は")},
				}},
			}}},
			want: []Event{
				{Text: "営業", Partial: true},
				{Text: "営業時間は", Partial: false},
			},
		},
		{
			name: "empty alternatives skipped",
			in: types.TranscriptEvent{Transcript: &types.Transcript{Results: []types.Result{
				{IsPartial: false},
				{IsPartial: false, Alternatives: []types.Alternative{{}}},
			}}},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := transcriptEvents(tt.in)
			if len(got) != len(tt.want) {
				t.Fatalf("got %v, want %v", got, tt.want)
			}
			for i := range tt.want {
				if got[i] != tt.want[i] {
					t.Errorf("event %d = %+v, want %+v", i, got[i], tt.want[i])
				}
			}
		})
	}
}
