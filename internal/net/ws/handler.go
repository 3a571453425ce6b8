// Package ws upgrades player connections and runs their websocket
// sessions against the hub.
package ws

import (
	nethttp "net/http"

	"github.com/gorilla/websocket"
	"go.uber.org/zap"

	"breach-and-hold/server"
)

// HandlerConfig carries optional session wiring.
type HandlerConfig struct {
	Logger *zap.Logger
}

// Handler accepts websocket upgrades and serves player sessions.
type Handler struct {
	hub      *server.Hub
	logger   *zap.Logger
	upgrader websocket.Upgrader
}

// NewHandler constructs a websocket handler for the given hub.
func NewHandler(hub *server.Hub, cfg HandlerConfig) *Handler {
	logger := cfg.Logger
	if logger == nil {
		logger = zap.NewNop()
	}

	upgrader := websocket.Upgrader{
		ReadBufferSize:  1024,
		WriteBufferSize: 1024,
		CheckOrigin: func(r *nethttp.Request) bool {
			return true
		},
	}

	return &Handler{
		hub:      hub,
		logger:   logger,
		upgrader: upgrader,
	}
}

// Handle upgrades the request and runs the session until the client
// disconnects. Players must join over HTTP first; the id query parameter
// names the session owner and mode optionally selects the visibility
// wire shape.
func (h *Handler) Handle(w nethttp.ResponseWriter, r *nethttp.Request) {
	playerID := r.URL.Query().Get("id")
	if playerID == "" {
		nethttp.Error(w, "missing id", nethttp.StatusBadRequest)
		return
	}
	mode := r.URL.Query().Get("mode")

	conn, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		h.logger.Warn("websocket upgrade failed",
			zap.String("player", playerID),
			zap.Error(err))
		return
	}

	h.serve(playerID, mode, conn)
}
