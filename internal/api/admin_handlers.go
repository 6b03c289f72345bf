package api

import (
	"net/http"

	"github.com/KW781kazu/voicebot/internal/api/middleware"
	"github.com/KW781kazu/voicebot/internal/archive"
	"github.com/KW781kazu/voicebot/internal/callsession"
	"github.com/KW781kazu/voicebot/internal/fallback"
)

type fallbackResponse struct {
	FallbackForce bool `json:"fallback_force"`
	fallback.Status
}

// handleFallbackStatus returns the degraded-mode gate state.
func (s *Server) handleFallbackStatus(w http.ResponseWriter, r *http.Request) {
	if s.deps.Gate == nil {
		writeError(w, http.StatusServiceUnavailable, "fallback gate not configured")
		return
	}
	st := s.deps.Gate.Status()
	writeJSON(w, http.StatusOK, fallbackResponse{FallbackForce: st.Forced, Status: st})
}

// handleFallbackOn forces degraded mode until switched off.
func (s *Server) handleFallbackOn(w http.ResponseWriter, r *http.Request) {
	s.setFallback(w, r, true)
}

// handleFallbackOff clears the forced flag. A recent transport failure can
// still keep the gate active until its window passes.
func (s *Server) handleFallbackOff(w http.ResponseWriter, r *http.Request) {
	s.setFallback(w, r, false)
}

func (s *Server) setFallback(w http.ResponseWriter, r *http.Request, forced bool) {
	if s.deps.Gate == nil {
		writeError(w, http.StatusServiceUnavailable, "fallback gate not configured")
		return
	}
	if err := s.deps.Gate.SetForced(r.Context(), forced); err != nil {
		s.logger.Error("failed to set fallback force", "forced", forced, "error", err)
		writeError(w, http.StatusInternalServerError, "internal error")
		return
	}

	s.logger.Info("fallback force changed",
		"forced", forced,
		"admin", middleware.AdminSubjectFromContext(r.Context()),
	)
	st := s.deps.Gate.Status()
	writeJSON(w, http.StatusOK, fallbackResponse{FallbackForce: st.Forced, Status: st})
}

type sessionsResponse struct {
	Sessions []callsession.Info   `json:"sessions"`
	Stats    callsession.Snapshot `json:"stats"`
}

// handleListSessions returns the live media stream sessions, oldest first.
func (s *Server) handleListSessions(w http.ResponseWriter, r *http.Request) {
	if s.deps.Sessions == nil {
		writeJSON(w, http.StatusOK, sessionsResponse{Sessions: []callsession.Info{}})
		return
	}
	list := s.deps.Sessions.List()
	if list == nil {
		list = []callsession.Info{}
	}
	writeJSON(w, http.StatusOK, sessionsResponse{Sessions: list, Stats: s.deps.Sessions.Snapshot()})
}

// handleRecentCalls returns the in-memory recent history, newest first.
func (s *Server) handleRecentCalls(w http.ResponseWriter, r *http.Request) {
	entries := []archive.Entry{}
	if s.deps.Recent != nil {
		if list := s.deps.Recent.List(); list != nil {
			entries = list
		}
	}
	writeJSON(w, http.StatusOK, entries)
}
