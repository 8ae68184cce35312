// Package api exposes a read-only HTTP + WebSocket reporting surface over
// backtest runs recorded by RecordResult. It never starts, cancels, or
// otherwise drives a backtest: the driver owns the run, this package only
// observes it.
package api

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/mux"
	"github.com/gorilla/websocket"
	"github.com/rs/cors"
	"go.uber.org/zap"

	"github.com/quantcore/backtest/internal/backtest"
)

// Config controls how the Server binds and how generous its timeouts are.
type Config struct {
	Host            string
	Port            int
	ReadTimeout     time.Duration
	WriteTimeout    time.Duration
	WebSocketPath   string
}

// DefaultConfig returns sane listen defaults for local reporting use.
func DefaultConfig() Config {
	return Config{
		Host:          "127.0.0.1",
		Port:          8090,
		ReadTimeout:   10 * time.Second,
		WriteTimeout:  10 * time.Second,
		WebSocketPath: "/api/v1/stream",
	}
}

// Status is the lifecycle state of one recorded run.
type Status string

const (
	StatusRunning   Status = "running"
	StatusCompleted Status = "completed"
	StatusFailed    Status = "failed"
)

// RunState is what the Server remembers about one backtest run.
type RunState struct {
	ID      string
	Status  Status
	Started time.Time
	Result  *backtest.Result
	Err     string
}

// Message is one WebSocket envelope.
type Message struct {
	ID        string `json:"id"`
	Type      string `json:"type"` // event
	Method    string `json:"method"`
	Payload   any    `json:"payload,omitempty"`
	Timestamp int64  `json:"timestamp"`
}

// Server is the reporting HTTP/WebSocket surface. It is entirely passive:
// callers record run lifecycle via RegisterRun/RecordResult/RecordFailure
// from wherever the backtest actually runs (e.g. cmd/backtest's driver
// loop), and the Server only ever reads that state back out.
type Server struct {
	mu     sync.RWMutex
	logger *zap.Logger
	config Config

	router     *mux.Router
	httpServer *http.Server
	upgrader   websocket.Upgrader

	runs    map[string]*RunState
	clients map[string]*wsClient
}

// NewServer builds a Server with its routes wired. Call Start to listen.
func NewServer(logger *zap.Logger, config Config) *Server {
	s := &Server{
		logger:  logger,
		config:  config,
		router:  mux.NewRouter(),
		runs:    make(map[string]*RunState),
		clients: make(map[string]*wsClient),
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 1024,
			CheckOrigin:     func(r *http.Request) bool { return true },
		},
	}
	s.setupRoutes()
	return s
}

func (s *Server) setupRoutes() {
	s.router.HandleFunc("/api/v1/health", s.handleHealth).Methods(http.MethodGet)
	s.router.HandleFunc("/api/v1/runs", s.handleListRuns).Methods(http.MethodGet)
	s.router.HandleFunc("/api/v1/runs/{id}", s.handleGetRun).Methods(http.MethodGet)
	s.router.HandleFunc("/api/v1/runs/{id}/trades", s.handleGetTrades).Methods(http.MethodGet)
	s.router.HandleFunc("/api/v1/runs/{id}/netvalue", s.handleGetNetValue).Methods(http.MethodGet)
	s.router.HandleFunc(s.config.WebSocketPath, s.handleWebSocket)
}

// ServeHTTP lets Server be exercised directly against an httptest.Recorder
// or mounted under another handler, without going through Start's
// listener/CORS wrapping.
func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	s.router.ServeHTTP(w, r)
}

// Start binds and serves until Stop is called or ListenAndServe fails.
func (s *Server) Start() error {
	addr := fmt.Sprintf("%s:%d", s.config.Host, s.config.Port)

	handler := cors.New(cors.Options{
		AllowedOrigins:   []string{"*"},
		AllowedMethods:   []string{http.MethodGet},
		AllowedHeaders:   []string{"*"},
		AllowCredentials: false,
	}).Handler(s.router)

	s.httpServer = &http.Server{
		Addr:         addr,
		Handler:      handler,
		ReadTimeout:  s.config.ReadTimeout,
		WriteTimeout: s.config.WriteTimeout,
	}

	s.logger.Info("starting reporting API server", zap.String("addr", addr))
	return s.httpServer.ListenAndServe()
}

// Stop closes every WebSocket connection and shuts the HTTP server down.
func (s *Server) Stop(ctx context.Context) error {
	s.mu.Lock()
	for _, c := range s.clients {
		c.conn.Close()
	}
	s.mu.Unlock()

	if s.httpServer == nil {
		return nil
	}
	return s.httpServer.Shutdown(ctx)
}

// RegisterRun records a newly-started run under id.
func (s *Server) RegisterRun(id string) {
	s.mu.Lock()
	s.runs[id] = &RunState{ID: id, Status: StatusRunning, Started: time.Now()}
	s.mu.Unlock()

	s.broadcast("run:started", map[string]any{"id": id})
}

// RecordResult marks id as completed with result, broadcasting the
// completion to every connected WebSocket client.
func (s *Server) RecordResult(id string, result backtest.Result) {
	s.mu.Lock()
	state, ok := s.runs[id]
	if !ok {
		state = &RunState{ID: id, Started: time.Now()}
		s.runs[id] = state
	}
	state.Status = StatusCompleted
	state.Result = &result
	s.mu.Unlock()

	s.broadcast("run:complete", map[string]any{"id": id, "status": StatusCompleted})
}

// RecordFailure marks id as failed with err's message.
func (s *Server) RecordFailure(id string, err error) {
	s.mu.Lock()
	state, ok := s.runs[id]
	if !ok {
		state = &RunState{ID: id, Started: time.Now()}
		s.runs[id] = state
	}
	state.Status = StatusFailed
	if err != nil {
		state.Err = err.Error()
	}
	s.mu.Unlock()

	s.broadcast("run:failed", map[string]any{"id": id, "status": StatusFailed})
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{"status": "healthy", "time": time.Now().Unix()})
}

func (s *Server) handleListRuns(w http.ResponseWriter, r *http.Request) {
	s.mu.RLock()
	ids := make([]string, 0, len(s.runs))
	for id := range s.runs {
		ids = append(ids, id)
	}
	s.mu.RUnlock()

	writeJSON(w, http.StatusOK, map[string]any{"runs": ids})
}

func (s *Server) handleGetRun(w http.ResponseWriter, r *http.Request) {
	id := mux.Vars(r)["id"]

	s.mu.RLock()
	state, ok := s.runs[id]
	s.mu.RUnlock()

	if !ok {
		http.Error(w, "run not found", http.StatusNotFound)
		return
	}

	response := map[string]any{
		"id":      state.ID,
		"status":  state.Status,
		"started": state.Started.Unix(),
	}
	if state.Result != nil {
		response["result"] = state.Result
	}
	if state.Err != "" {
		response["error"] = state.Err
	}
	writeJSON(w, http.StatusOK, response)
}

func (s *Server) handleGetTrades(w http.ResponseWriter, r *http.Request) {
	id := mux.Vars(r)["id"]

	s.mu.RLock()
	state, ok := s.runs[id]
	s.mu.RUnlock()

	if !ok {
		http.Error(w, "run not found", http.StatusNotFound)
		return
	}
	if state.Result == nil {
		http.Error(w, "run not complete", http.StatusConflict)
		return
	}

	writeJSON(w, http.StatusOK, map[string]any{
		"id":     id,
		"trades": state.Result.Trades,
		"count":  len(state.Result.Trades),
	})
}

func (s *Server) handleGetNetValue(w http.ResponseWriter, r *http.Request) {
	id := mux.Vars(r)["id"]

	s.mu.RLock()
	state, ok := s.runs[id]
	s.mu.RUnlock()

	if !ok {
		http.Error(w, "run not found", http.StatusNotFound)
		return
	}
	if state.Result == nil {
		http.Error(w, "run not complete", http.StatusConflict)
		return
	}

	writeJSON(w, http.StatusOK, map[string]any{
		"id":     id,
		"series": state.Result.NetValueSeries,
	})
}

func writeJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(payload)
}

func newEventID() string {
	return uuid.NewString()
}
