// Package server exposes the orchestrator over HTTP: POST /chat for turns,
// GET /health for liveness, and GET / for service info.
package server

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"time"

	"github.com/polytool/polytool/core"
	"github.com/polytool/polytool/logging"
	"github.com/polytool/polytool/orchestrator"
)

// TurnHandler processes one chat turn. Satisfied by *orchestrator.Orchestrator.
type TurnHandler interface {
	HandleTurn(ctx context.Context, sessionID, message string) (*core.AgentReply, error)
}

// Options configure the Server.
type Options struct {
	// ServiceName appears in the info endpoint. Defaults to "polytool".
	ServiceName string

	// SessionCount, when set, adds a live session count to /health.
	SessionCount func() int

	Logger logging.Logger
}

// Server is the HTTP front end.
type Server struct {
	handler TurnHandler
	opts    Options
}

type chatRequest struct {
	Message   string `json:"message"`
	SessionID string `json:"session_id,omitempty"`
}

type errorResponse struct {
	Error      string `json:"error"`
	StatusCode int    `json:"status_code"`
	Timestamp  string `json:"timestamp"`
}

// New creates a server around a turn handler.
func New(handler TurnHandler, optFns ...func(o *Options)) *Server {
	opts := Options{
		ServiceName: "polytool",
		Logger:      logging.NoOpLogger{},
	}
	for _, fn := range optFns {
		fn(&opts)
	}
	return &Server{handler: handler, opts: opts}
}

// Routes returns the handler with all endpoints mounted.
func (s *Server) Routes() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("GET /{$}", s.handleInfo)
	mux.HandleFunc("GET /health", s.handleHealth)
	mux.HandleFunc("POST /chat", s.handleChat)
	return mux
}

func (s *Server) handleInfo(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{
		"service": s.opts.ServiceName,
		"message": "Welcome to " + s.opts.ServiceName,
		"endpoints": map[string]string{
			"chat":   "POST /chat",
			"health": "GET /health",
		},
	})
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	body := map[string]any{
		"status":    "healthy",
		"timestamp": time.Now().UTC().Format(time.RFC3339),
	}
	if s.opts.SessionCount != nil {
		body["sessions"] = s.opts.SessionCount()
	}
	writeJSON(w, http.StatusOK, body)
}

func (s *Server) handleChat(w http.ResponseWriter, r *http.Request) {
	var req chatRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		s.writeError(w, http.StatusBadRequest, "request body must be valid JSON")
		return
	}

	reply, err := s.handler.HandleTurn(r.Context(), req.SessionID, req.Message)
	if err != nil {
		s.opts.Logger.Warn("http.chat.failed", "session_id", req.SessionID, "error", err)
		switch {
		case errors.Is(err, orchestrator.ErrSessionBusy):
			s.writeError(w, http.StatusConflict, "session is processing another turn")
		case core.KindOf(err) == core.KindValidation:
			s.writeError(w, http.StatusBadRequest, err.Error())
		default:
			s.writeError(w, http.StatusInternalServerError, "internal error")
		}
		return
	}

	s.opts.Logger.Info("http.chat.done",
		"session_id", reply.SessionID,
		"degraded", reply.Degraded,
		"tool_calls", len(reply.ToolCalls),
	)
	writeJSON(w, http.StatusOK, reply)
}

func (s *Server) writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, errorResponse{
		Error:      msg,
		StatusCode: status,
		Timestamp:  time.Now().UTC().Format(time.RFC3339),
	})
}

func writeJSON(w http.ResponseWriter, status int, body any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(body)
}
