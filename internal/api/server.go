package api

import (
	"context"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/KW781kazu/voicebot/internal/adminauth"
	apimw "github.com/KW781kazu/voicebot/internal/api/middleware"
	"github.com/KW781kazu/voicebot/internal/archive"
	"github.com/KW781kazu/voicebot/internal/callsession"
	"github.com/KW781kazu/voicebot/internal/config"
	"github.com/KW781kazu/voicebot/internal/database"
	"github.com/KW781kazu/voicebot/internal/fallback"
	"github.com/KW781kazu/voicebot/internal/telephony"
	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
)

// FallbackGate decides between the normal and the degraded call entry.
type FallbackGate interface {
	Active() bool
	SetForced(ctx context.Context, forced bool) error
	Status() fallback.Status
}

// CallObserver learns caller and callee numbers from status callbacks.
type CallObserver interface {
	Observe(ctx context.Context, callID, from, to string) error
}

// SessionLister exposes the live media stream sessions.
type SessionLister interface {
	List() []callsession.Info
	Snapshot() callsession.Snapshot
}

// RecentLister exposes the in-memory recent call history.
type RecentLister interface {
	List() []archive.Entry
}

// Deps are the services the HTTP surface is built on. Stream, Metrics,
// Signatures and Transcripts may be nil, in which case the routes that need
// them are not mounted (or, for Signatures, requests are not checked).
type Deps struct {
	Config      *config.Config
	Gate        FallbackGate
	Calls       CallObserver
	Sessions    SessionLister
	Recent      RecentLister
	Transcripts database.CallTranscriptRepository
	Stream      http.Handler
	Metrics     http.Handler
	Signatures  *telephony.SignatureValidator
	Credentials adminauth.Credentials
	AdminSecret []byte
	Version     string
	StartedAt   time.Time
	Logger      *slog.Logger
}

// Server holds HTTP handler dependencies and the chi router.
type Server struct {
	router *chi.Mux
	deps   Deps
	cfg    *config.Config
	logger *slog.Logger

	adminLimiter *apimw.IPRateLimiter
	loginLimiter *apimw.IPRateLimiter
}

// NewServer creates the HTTP handler with all routes mounted.
func NewServer(deps Deps) *Server {
	if deps.Logger == nil {
		deps.Logger = slog.Default()
	}
	if deps.StartedAt.IsZero() {
		deps.StartedAt = time.Now()
	}

	s := &Server{
		router:       chi.NewRouter(),
		deps:         deps,
		cfg:          deps.Config,
		logger:       deps.Logger.With("subsystem", "api"),
		adminLimiter: apimw.NewIPRateLimiter(apimw.AdminRateLimitConfig()),
		loginLimiter: apimw.NewIPRateLimiter(apimw.LoginRateLimitConfig()),
	}

	s.routes()
	return s
}

// ServeHTTP implements http.Handler.
func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	s.router.ServeHTTP(w, r)
}

// Close stops background goroutines owned by the server.
func (s *Server) Close() {
	s.adminLimiter.Stop()
	s.loginLimiter.Stop()
}

// routes configures all middleware and mounts all route groups.
func (s *Server) routes() {
	r := s.router

	// Global middleware stack.
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(apimw.StructuredLogger)
	r.Use(apimw.Recoverer)
	r.Use(apimw.SecurityHeaders(strings.HasPrefix(s.cfg.PublicURL, "https://")))
	r.Use(apimw.CORS(apimw.ParseCORSOrigins(s.cfg.CORSOrigins)))

	// Status endpoints.
	r.Get("/", s.handleRoot)
	r.Get("/health", s.handleHealth)
	r.Get("/healthz", s.handleHealth)
	r.Get("/version", s.handleVersion)

	// Telephony platform endpoints. Voice webhooks may arrive as GET or POST.
	r.Get("/twiml", s.handleTestTwiML)
	r.Post("/twiml", s.handleTestTwiML)
	r.Get("/twiml_stream", s.handleStreamTwiML)
	r.Post("/twiml_stream", s.handleStreamTwiML)
	r.Post("/twilio/status", s.handleCallStatus)
	if s.deps.Stream != nil {
		r.Method(http.MethodGet, "/stream", s.deps.Stream)
	}

	if s.deps.Metrics != nil {
		r.Method(http.MethodGet, "/metrics", s.deps.Metrics)
	}

	// Admin routes: rate limited, then bearer token. Token issue is rate
	// limited more strictly and needs no token.
	requireAdmin := chi.Chain(apimw.RateLimit(s.adminLimiter), apimw.RequireAdmin(s.deps.AdminSecret))

	r.Route("/admin/fallback", func(r chi.Router) {
		r.Use(requireAdmin...)
		r.Get("/", s.handleFallbackStatus)
		r.Get("/on", s.handleFallbackOn)
		r.Post("/on", s.handleFallbackOn)
		r.Get("/off", s.handleFallbackOff)
		r.Post("/off", s.handleFallbackOff)
	})

	r.Route("/api/v1", func(r chi.Router) {
		r.With(apimw.RateLimit(s.loginLimiter)).Post("/auth/token", s.handleIssueToken)

		r.Group(func(r chi.Router) {
			r.Use(requireAdmin...)
			r.Get("/sessions", s.handleListSessions)
			r.Route("/calls", func(r chi.Router) {
				r.Get("/recent", s.handleRecentCalls)
				if s.deps.Transcripts != nil {
					r.Get("/", s.handleListCalls)
					r.Get("/export", s.handleExportCalls)
					r.Get("/{id}", s.handleGetCall)
				}
			})
		})
	})

	r.NotFound(func(w http.ResponseWriter, r *http.Request) {
		writeError(w, http.StatusNotFound, "not found")
	})
	r.MethodNotAllowed(func(w http.ResponseWriter, r *http.Request) {
		writeError(w, http.StatusMethodNotAllowed, "method not allowed")
	})

	s.logger.Info("api routes mounted")
}
