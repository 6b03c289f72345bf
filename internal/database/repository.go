package database

import (
	"context"
	"time"
)

// SystemConfigRepository manages runtime settings that survive restarts,
// such as the forced fallback flag and archive retention.
type SystemConfigRepository interface {
	Get(ctx context.Context, key string) (string, error)
	Set(ctx context.Context, key, value string) error
}

// CallTranscript is the local index entry for an archived call.
type CallTranscript struct {
	ID         string
	CallID     string
	StartedAt  time.Time
	FinishedAt time.Time
	Language   string
	Text       string
	ObjectKey  string
	CreatedAt  time.Time
}

// CallTranscriptFilter narrows a transcript listing.
type CallTranscriptFilter struct {
	Limit  int
	Offset int
	CallID string
	Search string // substring of the transcript text
	Since  time.Time
	Until  time.Time
}

// CallTranscriptRepository manages the archived call index.
type CallTranscriptRepository interface {
	Save(ctx context.Context, t *CallTranscript) error
	GetByID(ctx context.Context, id string) (*CallTranscript, error)
	List(ctx context.Context, filter CallTranscriptFilter) ([]CallTranscript, int, error)
	DeleteFinishedBefore(ctx context.Context, cutoff time.Time) (int64, error)
}
