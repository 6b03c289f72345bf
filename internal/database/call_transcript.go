package database

import (
	"context"
	"database/sql"
	"fmt"
	"time"
)

type callTranscriptRepo struct {
	db *DB
}

// NewCallTranscriptRepository creates a CallTranscriptRepository.
func NewCallTranscriptRepository(db *DB) CallTranscriptRepository {
	return &callTranscriptRepo{db: db}
}

const callTranscriptColumns = `id, call_id, started_at, finished_at, language, text, object_key, created_at`

// Save inserts a transcript, replacing any earlier row with the same id.
func (r *callTranscriptRepo) Save(ctx context.Context, t *CallTranscript) error {
	_, err := r.db.ExecContext(ctx,
		`INSERT INTO call_transcripts (id, call_id, started_at, finished_at, language, text, object_key)
		 VALUES (?, ?, ?, ?, ?, ?, ?)
		 ON CONFLICT(id) DO UPDATE SET
		   call_id = excluded.call_id, started_at = excluded.started_at,
		   finished_at = excluded.finished_at, language = excluded.language,
		   text = excluded.text, object_key = excluded.object_key`,
		t.ID, t.CallID, t.StartedAt.UTC(), t.FinishedAt.UTC(), t.Language, t.Text, t.ObjectKey,
	)
	if err != nil {
		return fmt.Errorf("saving call transcript %s: %w", t.ID, err)
	}
	return nil
}

// GetByID returns the transcript with id, or nil if there is none.
func (r *callTranscriptRepo) GetByID(ctx context.Context, id string) (*CallTranscript, error) {
	row := r.db.QueryRowContext(ctx,
		`SELECT `+callTranscriptColumns+` FROM call_transcripts WHERE id = ?`, id)

	var t CallTranscript
	err := row.Scan(&t.ID, &t.CallID, &t.StartedAt, &t.FinishedAt, &t.Language, &t.Text, &t.ObjectKey, &t.CreatedAt)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("scanning call transcript: %w", err)
	}
	return &t, nil
}

// List returns transcripts matching filter, newest first, plus the total
// number of matches.
func (r *callTranscriptRepo) List(ctx context.Context, filter CallTranscriptFilter) ([]CallTranscript, int, error) {
	where := "1=1"
	args := []any{}

	if filter.CallID != "" {
		where += " AND call_id = ?"
		args = append(args, filter.CallID)
	}
	if filter.Search != "" {
		where += " AND text LIKE ?"
		args = append(args, "%"+filter.Search+"%")
	}
	if !filter.Since.IsZero() {
		where += " AND finished_at >= ?"
		args = append(args, filter.Since.UTC())
	}
	if !filter.Until.IsZero() {
		where += " AND finished_at < ?"
		args = append(args, filter.Until.UTC())
	}

	var total int
	if err := r.db.QueryRowContext(ctx, "SELECT COUNT(*) FROM call_transcripts WHERE "+where, args...).Scan(&total); err != nil {
		return nil, 0, fmt.Errorf("counting call transcripts: %w", err)
	}

	limit := filter.Limit
	if limit <= 0 {
		limit = 50
	}
	query := `SELECT ` + callTranscriptColumns + ` FROM call_transcripts WHERE ` + where +
		` ORDER BY finished_at DESC LIMIT ? OFFSET ?`
	args = append(args, limit, filter.Offset)

	rows, err := r.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, 0, fmt.Errorf("listing call transcripts: %w", err)
	}
	defer rows.Close()

	var out []CallTranscript
	for rows.Next() {
		var t CallTranscript
		if err := rows.Scan(&t.ID, &t.CallID, &t.StartedAt, &t.FinishedAt, &t.Language, &t.Text, &t.ObjectKey, &t.CreatedAt); err != nil {
			return nil, 0, fmt.Errorf("scanning call transcript row: %w", err)
		}
		out = append(out, t)
	}
	return out, total, rows.Err()
}

// DeleteFinishedBefore removes transcripts of calls that ended before cutoff
// and returns how many were removed.
func (r *callTranscriptRepo) DeleteFinishedBefore(ctx context.Context, cutoff time.Time) (int64, error) {
	res, err := r.db.ExecContext(ctx,
		`DELETE FROM call_transcripts WHERE finished_at < ?`, cutoff.UTC())
	if err != nil {
		return 0, fmt.Errorf("deleting expired call transcripts: %w", err)
	}
	return res.RowsAffected()
}
