package callsession

import (
	"log/slog"
	"net/http"

	"github.com/gorilla/websocket"
)

// maxFrameBytes bounds a single inbound JSON frame. Media frames are well
// under 1 KiB.
const maxFrameBytes = 64 << 10

// Handler upgrades media stream requests and runs one Session per socket.
type Handler struct {
	deps     Deps
	registry *Registry
	logger   *slog.Logger
	upgrader websocket.Upgrader
}

// NewHandler creates the media stream endpoint.
func NewHandler(deps Deps, registry *Registry, logger *slog.Logger) *Handler {
	return &Handler{
		deps:     deps,
		registry: registry,
		logger:   logger.With("subsystem", "stream"),
		upgrader: websocket.Upgrader{
			// The telephony platform connects without an Origin header.
			CheckOrigin: func(*http.Request) bool { return true },
		},
	}
}

func (h *Handler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	conn, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		// Upgrade has already written an error response.
		h.logger.Warn("media stream upgrade failed", "error", err, "remote_addr", r.RemoteAddr)
		return
	}
	defer conn.Close()
	conn.SetReadLimit(maxFrameBytes)

	s := New(conn, h.deps, h.registry.Counters())
	h.registry.Add(s)
	defer h.registry.Remove(s.ID)

	if err := s.Run(r.Context()); err != nil {
		h.logger.Warn("media stream ended with error", "session_id", s.ID, "error", err)
	}
}
