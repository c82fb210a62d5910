package httpx

import (
	"context"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/gorilla/websocket"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/splax/edgeship/internal/ws"
)

// Relay is the subset of the log relay the realtime endpoints need.
type Relay interface {
	Join(room string, sub ws.Subscriber) error
	Disconnect(sub ws.Subscriber)
}

// RelayOptions tunes per-connection behaviour of the realtime endpoints.
type RelayOptions struct {
	Heartbeat  time.Duration
	SendBuffer int
	BusHealth  func(context.Context) error
}

// RelayRouter serves the websocket and SSE log streams.
type RelayRouter struct {
	mux      *http.ServeMux
	logger   *slog.Logger
	relay    Relay
	upgrader websocket.Upgrader
	opts     RelayOptions
	metrics  *metrics
}

// NewRelayRouter assembles the realtime routes.
func NewRelayRouter(logger *slog.Logger, relay Relay, opts RelayOptions) *RelayRouter {
	r := &RelayRouter{
		mux:    http.NewServeMux(),
		logger: logger,
		relay:  relay,
		upgrader: websocket.Upgrader{
			CheckOrigin: func(r *http.Request) bool { return true },
		},
		opts:    opts,
		metrics: loadMetrics(),
	}
	r.register()
	return r
}

// ServeHTTP delegates to underlying mux.
func (r *RelayRouter) ServeHTTP(w http.ResponseWriter, req *http.Request) {
	r.mux.ServeHTTP(w, req)
}

func (r *RelayRouter) register() {
	r.mux.HandleFunc("/ws", audit(r.logger, r.metrics, "/ws", r.handleWS))
	r.mux.HandleFunc("/logs/", audit(r.logger, r.metrics, "/logs", r.handleSSE))
	r.mux.HandleFunc("/healthz", audit(r.logger, r.metrics, "/healthz", r.handleHealthz))
	r.mux.Handle("/metrics", promhttp.Handler())
}

// handleWS upgrades the connection and joins a room for every subscribe frame. The client
// stays in its rooms until the socket closes.
func (r *RelayRouter) handleWS(w http.ResponseWriter, req *http.Request) {
	conn, err := r.upgrader.Upgrade(w, req, nil)
	if err != nil {
		r.logger.Error("websocket upgrade failed", "error", err)
		return
	}
	client := ws.NewClient(conn, r.logger, r.opts.SendBuffer)
	go client.WritePump(r.opts.Heartbeat)
	go func() {
		defer func() {
			r.relay.Disconnect(client)
			client.Close()
		}()
		err := client.ReadFrames(func(frame ws.Frame) {
			if frame.Event != ws.EventSubscribe {
				return
			}
			room := strings.TrimSpace(frame.Data)
			if err := r.relay.Join(room, client); err != nil {
				r.logger.Warn("subscribe rejected", "room", room, "error", err)
			}
		})
		if err != nil && !websocket.IsCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
			r.logger.Debug("websocket read ended", "error", err)
		}
	}()
}

// handleSSE streams a single room as Server-Sent Events for clients without websockets.
func (r *RelayRouter) handleSSE(w http.ResponseWriter, req *http.Request) {
	if req.Method != http.MethodGet {
		methodNotAllowed(w)
		return
	}
	room := strings.Trim(strings.TrimPrefix(req.URL.Path, "/logs/"), "/")
	if room == "" || strings.Contains(room, "/") {
		notFound(w)
		return
	}
	flusher, ok := w.(http.Flusher)
	if !ok {
		writeError(w, http.StatusInternalServerError, "streaming unsupported")
		return
	}
	client := ws.NewSSEClient(w, flusher, r.logger, r.opts.SendBuffer)
	if err := r.relay.Join(room, client); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	defer r.relay.Disconnect(client)

	headers := w.Header()
	headers.Set("Content-Type", "text/event-stream")
	headers.Set("Cache-Control", "no-cache")
	headers.Set("Connection", "keep-alive")
	headers.Set("X-Accel-Buffering", "no")
	w.WriteHeader(http.StatusOK)
	flusher.Flush()

	client.Serve(req.Context(), r.opts.Heartbeat)
}

func (r *RelayRouter) handleHealthz(w http.ResponseWriter, req *http.Request) {
	if req.Method != http.MethodGet {
		methodNotAllowed(w)
		return
	}
	writeHealth(w, req, "bus", r.opts.BusHealth)
}
