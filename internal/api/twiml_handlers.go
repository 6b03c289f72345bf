package api

import (
	"net/http"

	"github.com/KW781kazu/voicebot/internal/telephony"
)

// Caller-facing prompts.
const (
	testGreeting     = "こちらはボイスボットのテストです。10秒後に切断します。"
	streamGreeting   = "お電話ありがとうございます。接続テストを開始します。ご用件をどうぞ。"
	degradedGreeting = "現在回線が混み合っています。恐れ入りますが、しばらくしてからおかけ直しください。"

	testPauseSeconds = 10
)

// handleTestTwiML answers a connectivity test call: a fixed message, a
// pause, then hangup.
func (s *Server) handleTestTwiML(w http.ResponseWriter, r *http.Request) {
	doc, err := telephony.SayTwiML(testGreeting, s.cfg.Language, testPauseSeconds)
	if err != nil {
		s.logger.Error("failed to render test twiml", "error", err)
		writeText(w, http.StatusInternalServerError, "internal error")
		return
	}
	writeXML(w, doc)
}

// handleStreamTwiML is the voice entry point. While the fallback gate is
// active the caller hears the degraded message and the call ends without a
// media stream. Otherwise the caller is greeted and connected to the stream
// socket with its numbers attached as stream parameters. The numbers are
// recorded for follow-up delivery only when the request is signed, if
// signature checks are enabled.
func (s *Server) handleStreamTwiML(w http.ResponseWriter, r *http.Request) {
	if err := r.ParseForm(); err != nil {
		s.logger.Warn("malformed voice webhook form", "error", err)
	}
	callID := r.Form.Get("CallSid")
	from := r.Form.Get("From")
	to := r.Form.Get("To")

	if s.deps.Gate != nil && s.deps.Gate.Active() {
		s.logger.Warn("fallback active, answering with degraded message", "call_id", callID)
		doc, err := telephony.SayTwiML(degradedGreeting, s.cfg.Language, 0)
		if err != nil {
			s.logger.Error("failed to render degraded twiml", "error", err)
			writeText(w, http.StatusInternalServerError, "internal error")
			return
		}
		writeXML(w, doc)
		return
	}

	// Unsigned numbers still reach the stream parameters but never the
	// follow-up cache.
	switch {
	case callID == "" || s.deps.Calls == nil:
	case s.deps.Signatures != nil && !s.deps.Signatures.Valid(r):
		s.logger.Warn("voice webhook signature invalid, not recording numbers",
			"remote_addr", r.RemoteAddr,
			"call_id", callID,
		)
	default:
		if err := s.deps.Calls.Observe(r.Context(), callID, from, to); err != nil {
			s.logger.Warn("recording call numbers failed", "call_id", callID, "error", err)
		}
	}

	doc, err := telephony.StreamTwiML(streamGreeting, s.cfg.Language, s.cfg.StreamURL(), map[string]string{
		telephony.ParamFrom: from,
		telephony.ParamTo:   to,
	})
	if err != nil {
		s.logger.Error("failed to render stream twiml", "error", err)
		writeText(w, http.StatusInternalServerError, "internal error")
		return
	}

	s.logger.Info("connecting call to media stream", "call_id", callID)
	writeXML(w, doc)
}

// handleCallStatus receives call progress callbacks. It always answers 200
// so the platform never retries; unsigned or malformed requests are logged
// and ignored.
func (s *Server) handleCallStatus(w http.ResponseWriter, r *http.Request) {
	if err := r.ParseForm(); err != nil {
		s.logger.Warn("malformed status callback", "error", err)
		writeText(w, http.StatusOK, "ok")
		return
	}

	if s.deps.Signatures != nil && !s.deps.Signatures.Valid(r) {
		s.logger.Warn("status callback signature invalid, ignoring",
			"remote_addr", r.RemoteAddr,
			"call_id", r.PostForm.Get("CallSid"),
		)
		writeText(w, http.StatusOK, "ok")
		return
	}

	callID := r.PostForm.Get("CallSid")
	from := r.PostForm.Get("From")
	to := r.PostForm.Get("To")

	s.logger.Info("call status",
		"call_id", callID,
		"status", r.PostForm.Get("CallStatus"),
		"from", from,
		"to", to,
		"error_code", r.PostForm.Get("ErrorCode"),
	)

	if callID != "" && s.deps.Calls != nil {
		if err := s.deps.Calls.Observe(r.Context(), callID, from, to); err != nil {
			s.logger.Warn("follow-up delivery from status callback failed", "call_id", callID, "error", err)
		}
	}

	writeText(w, http.StatusOK, "ok")
}
