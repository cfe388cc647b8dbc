// Package api provides the engine's read-only operational HTTP/WebSocket
// surface: liveness, a SystemState snapshot, prometheus metrics, and a
// WebSocket broadcast of status transitions, fills, and signals for
// operator dashboards. None of it is a decision input: the
// engine trades exactly the same whether or not anything is connected
// here.
package api

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"github.com/gorilla/mux"
	"github.com/gorilla/websocket"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/cors"
	"go.uber.org/zap"

	"github.com/atlas-desktop/trading-backend/internal/events"
	"github.com/atlas-desktop/trading-backend/internal/metrics"
	"github.com/atlas-desktop/trading-backend/pkg/types"
)

// Snapshotter is the subset of orchestrator.Orchestrator the API depends
// on, so tests can supply a stub instead of a live orchestrator.
type Snapshotter interface {
	Snapshot() types.SystemState
}

// Config configures the HTTP listener.
type Config struct {
	Host         string
	Port         int
	ReadTimeout  time.Duration
	WriteTimeout time.Duration
}

// Server is the read-only operational HTTP/WebSocket server.
type Server struct {
	logger     *zap.Logger
	cfg        Config
	router     *mux.Router
	httpServer *http.Server
	hub        *Hub
	snapshot   Snapshotter
	upgrader   websocket.Upgrader
	startedAt  time.Time
}

// NewServer creates a Server and wires it to broadcast status/order/signal/
// risk-alert events published on bus. It does not subscribe to bar or tick
// events: those are high-volume and carry no operator-facing value.
func NewServer(logger *zap.Logger, cfg Config, snapshot Snapshotter, bus *events.Bus) *Server {
	s := &Server{
		logger:    logger.Named("api"),
		cfg:       cfg,
		router:    mux.NewRouter(),
		hub:       NewHub(logger.Named("api.hub")),
		snapshot:  snapshot,
		startedAt: time.Now(),
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 1024,
			CheckOrigin:     func(r *http.Request) bool { return true },
		},
	}
	s.setupRoutes()
	s.subscribeBroadcasts(bus)
	go s.hub.Run()
	return s
}

// setupRoutes configures the read-only HTTP surface.
func (s *Server) setupRoutes() {
	s.router.HandleFunc("/healthz", s.handleHealthz).Methods(http.MethodGet)
	s.router.HandleFunc("/status", s.handleStatus).Methods(http.MethodGet)
	s.router.Handle("/metrics", promhttp.HandlerFor(metrics.Registry, promhttp.HandlerOpts{})).Methods(http.MethodGet)
	s.router.HandleFunc("/ws", s.handleWebSocket)
}

// subscribeBroadcasts forwards status/order/signal/risk-alert events onto
// the WebSocket hub. The handler always returns nil: a dropped broadcast
// is not a pipeline error.
func (s *Server) subscribeBroadcasts(bus *events.Bus) {
	bus.Subscribe(events.EventTypeStatus, func(e events.Event) error {
		if ev, ok := e.(*events.StatusEvent); ok {
			s.hub.Broadcast(MsgTypeStatus, ev)
		}
		return nil
	})
	bus.Subscribe(events.EventTypeOrder, func(e events.Event) error {
		if ev, ok := e.(*events.OrderEvent); ok {
			s.hub.Broadcast(MsgTypeOrder, ev)
		}
		return nil
	})
	bus.Subscribe(events.EventTypeSignal, func(e events.Event) error {
		if ev, ok := e.(*events.SignalEvent); ok {
			s.hub.Broadcast(MsgTypeSignal, ev)
		}
		return nil
	})
	bus.Subscribe(events.EventTypeRiskAlert, func(e events.Event) error {
		if ev, ok := e.(*events.RiskAlertEvent); ok {
			s.hub.Broadcast(MsgTypeRiskAlert, ev)
		}
		return nil
	})
}

// Router exposes the underlying mux.Router, primarily for tests.
func (s *Server) Router() *mux.Router {
	return s.router
}

// Start serves HTTP until Stop is called.
func (s *Server) Start() error {
	addr := fmt.Sprintf("%s:%d", s.cfg.Host, s.cfg.Port)
	handler := cors.New(cors.Options{
		AllowedOrigins:   []string{"*"},
		AllowedMethods:   []string{http.MethodGet},
		AllowedHeaders:   []string{"*"},
		AllowCredentials: false,
	}).Handler(s.router)

	s.httpServer = &http.Server{
		Addr:         addr,
		Handler:      handler,
		ReadTimeout:  s.cfg.ReadTimeout,
		WriteTimeout: s.cfg.WriteTimeout,
	}

	s.logger.Info("starting operational API server", zap.String("addr", addr))
	err := s.httpServer.ListenAndServe()
	if err == http.ErrServerClosed {
		return nil
	}
	return err
}

// Stop gracefully shuts down the HTTP server.
func (s *Server) Stop(ctx context.Context) error {
	if s.httpServer == nil {
		return nil
	}
	return s.httpServer.Shutdown(ctx)
}

func (s *Server) handleHealthz(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(map[string]interface{}{
		"status":     "ok",
		"uptime_sec": time.Since(s.startedAt).Seconds(),
	})
}

func (s *Server) handleStatus(w http.ResponseWriter, r *http.Request) {
	state := s.snapshot.Snapshot()
	w.Header().Set("Content-Type", "application/json")
	if err := json.NewEncoder(w).Encode(state); err != nil {
		s.logger.Error("failed to encode status response", zap.Error(err))
	}
}

func (s *Server) handleWebSocket(w http.ResponseWriter, r *http.Request) {
	conn, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		s.logger.Error("websocket upgrade failed", zap.Error(err))
		return
	}

	client := NewClient(generateClientID(), s.hub, conn)
	s.hub.register <- client

	go client.WritePump()
	go client.ReadPump()
}

var clientCounter int64

func generateClientID() string {
	clientCounter++
	return fmt.Sprintf("client-%d-%d", time.Now().UnixNano(), clientCounter)
}
