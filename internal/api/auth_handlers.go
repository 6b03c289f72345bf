package api

import (
	"net/http"
	"strings"
	"time"

	"github.com/KW781kazu/voicebot/internal/adminauth"
)

type tokenRequest struct {
	Username string `json:"username"`
	Password string `json:"password"`
}

type tokenResponse struct {
	Token     string `json:"token"`
	TokenType string `json:"token_type"`
	ExpiresAt string `json:"expires_at"`
}

// handleIssueToken exchanges the admin username and password for a bearer
// token. It is disabled unless a password hash is configured.
func (s *Server) handleIssueToken(w http.ResponseWriter, r *http.Request) {
	if !s.deps.Credentials.Enabled() {
		writeError(w, http.StatusForbidden, "password login is disabled")
		return
	}

	var req tokenRequest
	if errMsg := readJSON(r, &req); errMsg != "" {
		writeError(w, http.StatusBadRequest, errMsg)
		return
	}

	req.Username = strings.TrimSpace(req.Username)
	if msg := validateRequiredStringLen("username", req.Username, maxNameLen); msg != "" {
		writeError(w, http.StatusBadRequest, msg)
		return
	}
	if msg := validateNoControlChars("username", req.Username); msg != "" {
		writeError(w, http.StatusBadRequest, msg)
		return
	}
	if msg := validateRequiredStringLen("password", req.Password, maxPasswordLen); msg != "" {
		writeError(w, http.StatusBadRequest, msg)
		return
	}

	ok, err := s.deps.Credentials.Check(req.Username, req.Password)
	if err != nil {
		s.logger.Error("admin login: stored password hash unusable", "error", err)
		writeError(w, http.StatusInternalServerError, "internal error")
		return
	}
	if !ok {
		s.logger.Warn("admin login failed", "username", req.Username, "remote_addr", r.RemoteAddr)
		writeError(w, http.StatusUnauthorized, "invalid credentials")
		return
	}

	token, expiresAt, err := adminauth.IssueToken(s.deps.AdminSecret, req.Username, adminauth.DefaultTokenTTL)
	if err != nil {
		s.logger.Error("admin login: issuing token", "error", err)
		writeError(w, http.StatusInternalServerError, "internal error")
		return
	}

	s.logger.Info("admin token issued", "username", req.Username)
	writeJSON(w, http.StatusOK, tokenResponse{
		Token:     token,
		TokenType: "Bearer",
		ExpiresAt: expiresAt.UTC().Format(time.RFC3339),
	})
}
