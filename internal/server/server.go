// Package server provides HTTP and WebSocket handlers
package server

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"
	"strconv"
	"sync"
	"time"

	"github.com/coder/websocket"
	"github.com/coder/websocket/wsjson"

	"github.com/GriffinCanCode/insight-capsule/internal/pipeline"
	"github.com/GriffinCanCode/insight-capsule/internal/trace"
	"github.com/GriffinCanCode/insight-capsule/internal/vector"
)

// Command is a client-to-server WebSocket message.
type Command struct {
	Type string `json:"type"` // "start" | "stop"
}

// Ack answers a command.
type Ack struct {
	Type   string `json:"type"` // "ack"
	Action string `json:"action"`
	OK     bool   `json:"ok"`
}

// ErrorMessage reports a server-side rejection over the socket.
type ErrorMessage struct {
	Type    string `json:"type"` // "error"
	Message string `json:"message"`
}

// Searcher answers semantic queries over saved capsules.
type Searcher interface {
	Search(ctx context.Context, query string, limit int) ([]vector.Match, error)
}

// rateLimiter tracks message timestamps using a sliding window.
type rateLimiter struct {
	timestamps []time.Time
	mu         sync.Mutex
}

// allow checks if a message is allowed and records the timestamp if so.
func (r *rateLimiter) allow() bool {
	r.mu.Lock()
	defer r.mu.Unlock()

	now := time.Now()
	cutoff := now.Add(-RateLimitWindow)

	valid := r.timestamps[:0]
	for _, t := range r.timestamps {
		if t.After(cutoff) {
			valid = append(valid, t)
		}
	}
	r.timestamps = valid

	if len(r.timestamps) >= RateLimitMessages {
		return false
	}

	r.timestamps = append(r.timestamps, now)
	return true
}

// Server handles HTTP and WebSocket connections, fanning pipeline events
// out to every connected client.
type Server struct {
	orch   *pipeline.Orchestrator
	search Searcher // may be nil when the vector index is disabled

	mu         sync.RWMutex
	conns      map[*websocket.Conn]struct{}
	rateLimits map[*websocket.Conn]*rateLimiter
}

// New creates a new server and starts the event broadcaster.
func New(orch *pipeline.Orchestrator, search Searcher) *Server {
	s := &Server{
		orch:       orch,
		search:     search,
		conns:      make(map[*websocket.Conn]struct{}),
		rateLimits: make(map[*websocket.Conn]*rateLimiter),
	}

	go s.broadcastEvents()
	return s
}

// Handler returns the HTTP handler.
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()

	mux.HandleFunc("/ws", s.handleWebSocket)

	mux.HandleFunc("GET /api/status", s.handleStatus)
	mux.HandleFunc("POST /api/recording/start", s.handleRecordingStart)
	mux.HandleFunc("POST /api/recording/stop", s.handleRecordingStop)
	mux.HandleFunc("GET /api/search", s.handleSearch)

	// Apply middleware: trace -> CORS
	return corsMiddleware(trace.Middleware(mux))
}

func corsMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Access-Control-Allow-Origin", "*")
		w.Header().Set("Access-Control-Allow-Methods", "GET, POST, OPTIONS")
		w.Header().Set("Access-Control-Allow-Headers", "*")

		if r.Method == "OPTIONS" {
			w.WriteHeader(http.StatusOK)
			return
		}

		next.ServeHTTP(w, r)
	})
}

func (s *Server) handleWebSocket(w http.ResponseWriter, r *http.Request) {
	conn, err := websocket.Accept(w, r, &websocket.AcceptOptions{
		OriginPatterns: []string{"*"},
	})
	if err != nil {
		slog.Error("websocket accept error", "error", err)
		return
	}
	defer func() { _ = conn.Close(websocket.StatusNormalClosure, "") }()

	s.mu.Lock()
	s.conns[conn] = struct{}{}
	s.rateLimits[conn] = &rateLimiter{}
	s.mu.Unlock()

	defer func() {
		s.mu.Lock()
		delete(s.conns, conn)
		delete(s.rateLimits, conn)
		s.mu.Unlock()
	}()

	ctx := r.Context()
	log := trace.Logger(ctx)
	log.Info("websocket connected", "remote", r.RemoteAddr)

	for {
		var cmd Command
		if err := wsjson.Read(ctx, conn, &cmd); err != nil {
			log.Debug("websocket read error", "error", err)
			return
		}

		s.mu.RLock()
		rl := s.rateLimits[conn]
		s.mu.RUnlock()

		if !rl.allow() {
			log.Warn("rate limit exceeded", "remote", r.RemoteAddr)
			_ = wsjson.Write(ctx, conn, ErrorMessage{Type: "error", Message: "rate limit exceeded"})
			continue
		}

		switch cmd.Type {
		case "start":
			ok := s.orch.StartRecording()
			_ = wsjson.Write(ctx, conn, Ack{Type: "ack", Action: "start", OK: ok})
		case "stop":
			ok := s.orch.StopRecording()
			_ = wsjson.Write(ctx, conn, Ack{Type: "ack", Action: "stop", OK: ok})
		default:
			_ = wsjson.Write(ctx, conn, ErrorMessage{Type: "error", Message: "unknown command"})
		}
	}
}

// broadcastEvents fans every pipeline event out to all connections.
func (s *Server) broadcastEvents() {
	for ev := range s.orch.Events() {
		s.mu.RLock()
		for conn := range s.conns {
			go func(c *websocket.Conn, e pipeline.Event) {
				_ = wsjson.Write(context.Background(), c, e)
			}(conn, ev)
		}
		s.mu.RUnlock()
	}
}

func (s *Server) handleStatus(w http.ResponseWriter, r *http.Request) {
	status := map[string]any{
		"state": s.orch.State().String(),
		"busy":  s.orch.IsBusy(),
	}
	if res, ok := s.orch.LatestResult(); ok {
		status["latest"] = res
	}
	writeJSON(w, http.StatusOK, status)
}

func (s *Server) handleRecordingStart(w http.ResponseWriter, r *http.Request) {
	if !s.orch.StartRecording() {
		writeJSON(w, http.StatusConflict, map[string]string{"error": "pipeline busy or stream unavailable"})
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "recording_started"})
}

func (s *Server) handleRecordingStop(w http.ResponseWriter, r *http.Request) {
	if !s.orch.StopRecording() {
		writeJSON(w, http.StatusConflict, map[string]string{"error": "not recording or no audio captured"})
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "processing_started"})
}

func (s *Server) handleSearch(w http.ResponseWriter, r *http.Request) {
	if s.search == nil {
		writeJSON(w, http.StatusServiceUnavailable, map[string]string{"error": "vector index disabled"})
		return
	}

	query := r.URL.Query().Get("q")
	if query == "" {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "missing query parameter q"})
		return
	}

	limit := DefaultSearchLimit
	if raw := r.URL.Query().Get("n"); raw != "" {
		if n, err := strconv.Atoi(raw); err == nil && n > 0 {
			limit = min(n, MaxSearchLimit)
		}
	}

	matches, err := s.search.Search(r.Context(), query, limit)
	if err != nil {
		trace.Logger(r.Context()).Error("capsule search failed", "error", err)
		writeJSON(w, http.StatusInternalServerError, map[string]string{"error": "search failed"})
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"query": query, "matches": matches})
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		slog.Debug("response encode failed", "error", err)
	}
}
