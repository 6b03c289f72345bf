package api

import (
	"encoding/csv"
	"log/slog"
	"net/http"
	"net/url"
	"time"

	"github.com/KW781kazu/voicebot/internal/database"
	"github.com/go-chi/chi/v5"
)

// maxExportRows caps a CSV export.
const maxExportRows = 10000

// callTranscriptResponse is the JSON response for a single archived call.
type callTranscriptResponse struct {
	ID         string `json:"id"`
	CallID     string `json:"call_id"`
	StartedAt  string `json:"started_at"`
	FinishedAt string `json:"finished_at"`
	Language   string `json:"language"`
	Text       string `json:"text"`
	ObjectKey  string `json:"object_key,omitempty"`
	CreatedAt  string `json:"created_at"`
}

// toCallTranscriptResponse converts a database.CallTranscript to the API response.
func toCallTranscriptResponse(t *database.CallTranscript) callTranscriptResponse {
	return callTranscriptResponse{
		ID:         t.ID,
		CallID:     t.CallID,
		StartedAt:  t.StartedAt.UTC().Format(time.RFC3339),
		FinishedAt: t.FinishedAt.UTC().Format(time.RFC3339),
		Language:   t.Language,
		Text:       t.Text,
		ObjectKey:  t.ObjectKey,
		CreatedAt:  t.CreatedAt.UTC().Format(time.RFC3339),
	}
}

// parseCallFilter reads the call_id, search, since and until query
// parameters. It returns a client-facing error message, or "" on success.
func parseCallFilter(q url.Values) (database.CallTranscriptFilter, string) {
	filter := database.CallTranscriptFilter{
		CallID: q.Get("call_id"),
		Search: q.Get("search"),
	}
	if msg := validateStringLen("search", filter.Search, maxNameLen); msg != "" {
		return filter, msg
	}

	var msg string
	if filter.Since, msg = parseTimestamp("since", q.Get("since")); msg != "" {
		return filter, msg
	}
	if filter.Until, msg = parseTimestamp("until", q.Get("until")); msg != "" {
		return filter, msg
	}
	if !filter.Since.IsZero() && !filter.Until.IsZero() && filter.Until.Before(filter.Since) {
		return filter, "until must not be before since"
	}
	return filter, ""
}

// handleListCalls returns archived calls, newest first.
// Query params: limit, offset, call_id, search, since, until.
func (s *Server) handleListCalls(w http.ResponseWriter, r *http.Request) {
	pg, errMsg := parsePagination(r)
	if errMsg != "" {
		writeError(w, http.StatusBadRequest, errMsg)
		return
	}

	filter, errMsg := parseCallFilter(r.URL.Query())
	if errMsg != "" {
		writeError(w, http.StatusBadRequest, errMsg)
		return
	}
	filter.Limit = pg.Limit
	filter.Offset = pg.Offset

	calls, total, err := s.deps.Transcripts.List(r.Context(), filter)
	if err != nil {
		s.logger.Error("list calls: failed to query", "error", err)
		writeError(w, http.StatusInternalServerError, "internal error")
		return
	}

	items := make([]callTranscriptResponse, len(calls))
	for i := range calls {
		items[i] = toCallTranscriptResponse(&calls[i])
	}

	writeJSON(w, http.StatusOK, PaginatedResponse{
		Items:  items,
		Total:  total,
		Limit:  pg.Limit,
		Offset: pg.Offset,
	})
}

// handleGetCall returns a single archived call by ID.
func (s *Server) handleGetCall(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	if msg := validateRequiredStringLen("id", id, maxShortStringLen); msg != "" {
		writeError(w, http.StatusBadRequest, "invalid call id")
		return
	}

	call, err := s.deps.Transcripts.GetByID(r.Context(), id)
	if err != nil {
		s.logger.Error("get call: failed to query", "error", err, "id", id)
		writeError(w, http.StatusInternalServerError, "internal error")
		return
	}
	if call == nil {
		writeError(w, http.StatusNotFound, "call not found")
		return
	}

	writeJSON(w, http.StatusOK, toCallTranscriptResponse(call))
}

// handleExportCalls exports archived calls as CSV with the same filters as list.
func (s *Server) handleExportCalls(w http.ResponseWriter, r *http.Request) {
	filter, errMsg := parseCallFilter(r.URL.Query())
	if errMsg != "" {
		writeError(w, http.StatusBadRequest, errMsg)
		return
	}
	filter.Limit = maxExportRows

	calls, _, err := s.deps.Transcripts.List(r.Context(), filter)
	if err != nil {
		s.logger.Error("export calls: failed to query", "error", err)
		writeError(w, http.StatusInternalServerError, "internal error")
		return
	}

	w.Header().Set("Content-Type", "text/csv; charset=utf-8")
	w.Header().Set("Content-Disposition", "attachment; filename=calls.csv")

	cw := csv.NewWriter(w)
	cw.Write([]string{"ID", "Call-ID", "Started At", "Finished At", "Language", "Text", "Object Key"}) //nolint:errcheck
	for _, c := range calls {
		cw.Write([]string{ //nolint:errcheck
			c.ID,
			c.CallID,
			c.StartedAt.UTC().Format(time.RFC3339),
			c.FinishedAt.UTC().Format(time.RFC3339),
			c.Language,
			c.Text,
			c.ObjectKey,
		})
	}

	cw.Flush()
	if err := cw.Error(); err != nil {
		slog.Error("export calls: csv write error", "error", err)
	}
}
