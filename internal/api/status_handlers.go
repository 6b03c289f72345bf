package api

import (
	"net/http"
	"time"

	"github.com/KW781kazu/voicebot/internal/fallback"
)

const appName = "voicebot"

type twilioEnvResponse struct {
	AccountSID bool `json:"account_sid"`
	AuthToken  bool `json:"auth_token"`
	From       bool `json:"from"`
}

type fallbackSummary struct {
	Force         bool `json:"force"`
	RecentWSError bool `json:"recent_ws_error"`
	Active        bool `json:"active"`
	WindowSeconds int  `json:"window_seconds"`
}

type rootResponse struct {
	Message   string            `json:"message"`
	App       string            `json:"app"`
	Version   string            `json:"version"`
	TwilioEnv twilioEnvResponse `json:"twilio_env"`
	Fallback  fallbackSummary   `json:"fallback"`
}

// handleRoot reports which telephony settings are present (never their
// values) and the state of the degraded-mode gate.
func (s *Server) handleRoot(w http.ResponseWriter, r *http.Request) {
	resp := rootResponse{
		Message: "ok",
		App:     appName,
		Version: s.deps.Version,
		TwilioEnv: twilioEnvResponse{
			AccountSID: s.cfg.TwilioAccountSID != "",
			AuthToken:  s.cfg.TwilioAuthToken != "",
			From:       s.cfg.TwilioFrom != "",
		},
	}
	if s.deps.Gate != nil {
		resp.Fallback = summarizeFallback(s.deps.Gate.Status())
	}
	writeJSON(w, http.StatusOK, resp)
}

func summarizeFallback(st fallback.Status) fallbackSummary {
	window, _ := time.ParseDuration(st.Window)
	return fallbackSummary{
		Force:         st.Forced,
		RecentWSError: !st.LastFailure.IsZero() && time.Since(st.LastFailure) < window,
		Active:        st.Active,
		WindowSeconds: int(window.Seconds()),
	}
}

// handleHealth returns basic health status. Unauthenticated.
func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

type deployStamp struct {
	Raw       string `json:"raw"`
	TimeUTC   string `json:"time_utc"`
	CommitSHA string `json:"commit_sha"`
}

type versionResponse struct {
	App           string      `json:"app"`
	Version       string      `json:"version"`
	DeployStamp   deployStamp `json:"deploy_stamp"`
	UptimeSeconds int64       `json:"uptime_seconds"`
}

// handleVersion returns build and process start information.
func (s *Server) handleVersion(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, versionResponse{
		App:     appName,
		Version: s.deps.Version,
		DeployStamp: deployStamp{
			Raw:       "deployed",
			TimeUTC:   s.deps.StartedAt.UTC().Format(time.RFC3339),
			CommitSHA: s.cfg.CommitSHA,
		},
		UptimeSeconds: int64(time.Since(s.deps.StartedAt).Seconds()),
	})
}
