// Package net mounts the HTTP surface: join, websocket upgrade, match
// control, and operator diagnostics.
package net

import (
	"encoding/json"
	nethttp "net/http"
	"net/http/pprof"
	"time"

	"go.uber.org/zap"

	"breach-and-hold/server"
	"breach-and-hold/server/internal/net/ws"
)

// HTTPHandlerConfig carries optional handler wiring.
type HTTPHandlerConfig struct {
	// ClientDir serves static client assets from disk when set.
	ClientDir string
	// EnablePprof mounts the profiling endpoints under /debug/pprof.
	EnablePprof bool
	Logger      *zap.Logger
}

// NewHTTPHandler builds the full route mux for the given hub.
func NewHTTPHandler(hub *server.Hub, cfg HTTPHandlerConfig) nethttp.Handler {
	logger := cfg.Logger
	if logger == nil {
		logger = zap.NewNop()
	}

	mux := nethttp.NewServeMux()

	mux.HandleFunc("/health", func(w nethttp.ResponseWriter, r *nethttp.Request) {
		w.Header().Set("Content-Type", "text/plain")
		w.Write([]byte("ok"))
	})

	mux.HandleFunc("/diagnostics", func(w nethttp.ResponseWriter, r *nethttp.Request) {
		size, oldest, newest := hub.KeyframeWindow()
		arena := hub.Arena()

		payload := struct {
			Status     string `json:"status"`
			ServerTime int64  `json:"serverTime"`
			Tick       uint64 `json:"tick"`
			TickRate   int    `json:"tickRate"`
			Heartbeat  int64  `json:"heartbeatMillis"`
			Players    any    `json:"players"`
			Telemetry  any    `json:"telemetry"`
			Journal    struct {
				Size   int    `json:"size"`
				Oldest uint64 `json:"oldestSequence"`
				Newest uint64 `json:"newestSequence"`
			} `json:"journal"`
			Arena struct {
				Width  float64 `json:"width"`
				Height float64 `json:"height"`
				Walls  int     `json:"walls"`
			} `json:"arena"`
		}{
			Status:     "ok",
			ServerTime: time.Now().UnixMilli(),
			Tick:       hub.CurrentTick(),
			TickRate:   hub.TickRate(),
			Heartbeat:  server.HeartbeatInterval().Milliseconds(),
			Players:    hub.DiagnosticsSnapshot(),
			Telemetry:  hub.TelemetrySnapshot(),
		}
		payload.Journal.Size = size
		payload.Journal.Oldest = oldest
		payload.Journal.Newest = newest
		if arena != nil {
			payload.Arena.Width = arena.Width
			payload.Arena.Height = arena.Height
			payload.Arena.Walls = len(arena.Walls)
		}

		data, err := json.Marshal(payload)
		if err != nil {
			httpError(w, "failed to encode", nethttp.StatusInternalServerError)
			return
		}

		w.Header().Set("Content-Type", "application/json")
		w.Write(data)
	})

	mux.HandleFunc("/join", func(w nethttp.ResponseWriter, r *nethttp.Request) {
		if r.Method != nethttp.MethodPost {
			httpError(w, "method not allowed", nethttp.StatusMethodNotAllowed)
			return
		}

		join := hub.Join()
		data, err := json.Marshal(join)
		if err != nil {
			httpError(w, "failed to encode", nethttp.StatusInternalServerError)
			return
		}
		w.Header().Set("Content-Type", "application/json")
		w.Write(data)
	})

	mux.HandleFunc("/match/reset", func(w nethttp.ResponseWriter, r *nethttp.Request) {
		if r.Method != nethttp.MethodPost {
			httpError(w, "method not allowed", nethttp.StatusMethodNotAllowed)
			return
		}

		// The reset runs on the simulation goroutine; the handler only
		// stages it.
		if _, ok, reason := hub.ResetMatch(); !ok {
			logger.Warn("match reset rejected", zap.String("reason", reason))
			httpError(w, "reset rejected: "+reason, nethttp.StatusServiceUnavailable)
			return
		}

		response := struct {
			Status string `json:"status"`
		}{Status: "queued"}

		data, err := json.Marshal(response)
		if err != nil {
			httpError(w, "failed to encode", nethttp.StatusInternalServerError)
			return
		}

		w.Header().Set("Content-Type", "application/json")
		w.Write(data)
	})

	wsHandler := ws.NewHandler(hub, ws.HandlerConfig{Logger: logger})
	mux.HandleFunc("/ws", wsHandler.Handle)

	if cfg.EnablePprof {
		mux.HandleFunc("/debug/pprof/", pprof.Index)
		mux.HandleFunc("/debug/pprof/cmdline", pprof.Cmdline)
		mux.HandleFunc("/debug/pprof/profile", pprof.Profile)
		mux.HandleFunc("/debug/pprof/symbol", pprof.Symbol)
		mux.HandleFunc("/debug/pprof/trace", pprof.Trace)
	}

	if cfg.ClientDir != "" {
		fs := nethttp.FileServer(nethttp.Dir(cfg.ClientDir))
		mux.Handle("/", fs)
	}

	return mux
}

func httpError(w nethttp.ResponseWriter, msg string, code int) {
	nethttp.Error(w, msg, code)
}
