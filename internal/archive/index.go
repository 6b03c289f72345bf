package archive

import (
	"context"

	"github.com/KW781kazu/voicebot/internal/database"
)

// IndexSink stores records in the local transcript index so they can be
// listed and retained without reading the object store.
type IndexSink struct {
	repo database.CallTranscriptRepository
}

// NewIndexSink wraps a transcript repository.
func NewIndexSink(repo database.CallTranscriptRepository) *IndexSink {
	return &IndexSink{repo: repo}
}

func (s *IndexSink) Name() string { return "sqlite" }

func (s *IndexSink) Put(ctx context.Context, rec Record) error {
	return s.repo.Save(ctx, &database.CallTranscript{
		ID:         rec.ID,
		CallID:     rec.CallID,
		StartedAt:  rec.StartedAt,
		FinishedAt: rec.FinishedAt,
		Language:   rec.Language,
		Text:       rec.Text,
		ObjectKey:  rec.Key(),
	})
}
