// Package gateway is the HTTP surface over the turn pipeline: conversation
// creation, SSE turn streaming, a WebSocket variant of the same, and health.
package gateway

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"

	"github.com/parleyhq/parley/internal/agent"
	"github.com/parleyhq/parley/internal/config"
	"github.com/parleyhq/parley/internal/store"
	"github.com/parleyhq/parley/pkg/protocol"
)

// Server handles the gateway's HTTP and WebSocket connections.
type Server struct {
	cfg           *config.Config
	orch          *agent.Orchestrator
	conversations store.ConversationStore

	upgrader    websocket.Upgrader
	rateLimiter *RateLimiter
	httpServer  *http.Server
	mux         *http.ServeMux
}

// NewServer creates the gateway server.
func NewServer(cfg *config.Config, orch *agent.Orchestrator, conversations store.ConversationStore) *Server {
	s := &Server{
		cfg:           cfg,
		orch:          orch,
		conversations: conversations,
	}
	s.upgrader = websocket.Upgrader{
		ReadBufferSize:  1024,
		WriteBufferSize: 1024,
	}
	s.rateLimiter = NewRateLimiter(cfg.Gateway.RateLimitRPM, 5)
	return s
}

// BuildMux creates and caches the HTTP mux with all routes registered.
func (s *Server) BuildMux() *http.ServeMux {
	if s.mux != nil {
		return s.mux
	}
	mux := http.NewServeMux()
	mux.HandleFunc("GET /health", s.handleHealth)
	mux.HandleFunc("GET /ws", s.handleWebSocket)
	mux.HandleFunc("POST /v1/offices/{office}/conversations", s.handleCreateConversation)
	mux.HandleFunc("POST /v1/offices/{office}/conversations/{id}/turns", s.handleTurn)
	s.mux = mux
	return mux
}

// Start listens until ctx is canceled, then shuts down gracefully.
func (s *Server) Start(ctx context.Context) error {
	addr := fmt.Sprintf("%s:%d", s.cfg.Gateway.Host, s.cfg.Gateway.Port)
	s.httpServer = &http.Server{
		Addr:    addr,
		Handler: s.BuildMux(),
	}

	slog.Info("gateway.starting", "addr", addr)

	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		s.httpServer.Shutdown(shutdownCtx)
	}()

	if err := s.httpServer.ListenAndServe(); err != http.ErrServerClosed {
		return fmt.Errorf("gateway server: %w", err)
	}
	return nil
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusOK)
	fmt.Fprint(w, `{"status":"ok"}`)
}

type createConversationRequest struct {
	Scope string `json:"scope,omitempty"`
}

func (s *Server) handleCreateConversation(w http.ResponseWriter, r *http.Request) {
	office := r.PathValue("office")
	if office == "" {
		writeError(w, http.StatusBadRequest, "office required")
		return
	}
	var req createConversationRequest
	if r.ContentLength > 0 {
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			writeError(w, http.StatusBadRequest, "invalid json body")
			return
		}
	}

	conv := &store.Conversation{OfficeID: office, Scope: req.Scope}
	if err := s.conversations.Create(r.Context(), conv); err != nil {
		slog.Error("gateway.conversation.create_failed", "office", office, "error", err)
		writeError(w, http.StatusInternalServerError, "could not create conversation")
		return
	}

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusCreated)
	json.NewEncoder(w).Encode(map[string]any{
		"id":     conv.ID,
		"office": conv.OfficeID,
		"scope":  conv.Scope,
	})
}

// handleTurn streams a turn as SSE: "delta" events for text fragments, one
// terminal "done" event, or an "error" event if the stream breaks.
func (s *Server) handleTurn(w http.ResponseWriter, r *http.Request) {
	if !s.rateLimiter.Allow(clientKey(r)) {
		writeError(w, http.StatusTooManyRequests, "rate limit exceeded")
		return
	}

	id, err := uuid.Parse(r.PathValue("id"))
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid conversation id")
		return
	}
	conv, err := s.conversations.Get(r.Context(), id)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			writeError(w, http.StatusNotFound, "conversation not found")
			return
		}
		slog.Error("gateway.conversation.lookup_failed", "conversation", id, "error", err)
		writeError(w, http.StatusInternalServerError, "could not load conversation")
		return
	}
	// A conversation is addressable only under its own office. Answer as
	// not-found so the route does not confirm IDs across offices.
	if conv.OfficeID != r.PathValue("office") {
		writeError(w, http.StatusNotFound, "conversation not found")
		return
	}

	var req protocol.TurnRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid json body")
		return
	}
	if max := s.cfg.Gateway.MaxMessageChars; max > 0 && len(req.Content) > max {
		writeError(w, http.StatusRequestEntityTooLarge,
			fmt.Sprintf("content exceeds %d chars", max))
		return
	}

	flusher, ok := w.(http.Flusher)
	if !ok {
		writeError(w, http.StatusInternalServerError, "streaming unsupported")
		return
	}
	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.WriteHeader(http.StatusOK)

	// Deltas arrive from a single goroutine, no locking needed.
	onDelta := func(text string) {
		writeSSE(w, protocol.EventDelta, map[string]string{"text": text})
		flusher.Flush()
	}

	res, err := s.orch.RunTurn(r.Context(), agent.RunRequest{
		ConversationID: id,
		Content:        req.Content,
		Messages:       req.Messages,
	}, onDelta)
	if err != nil {
		writeSSE(w, protocol.EventError, map[string]string{"message": publicError(err)})
		flusher.Flush()
		return
	}
	writeSSE(w, protocol.EventDone, map[string]any{
		"state":           res.State,
		"truncated":       res.Truncated,
		"steps":           res.Steps,
		"prompt_tokens":   res.Usage.PromptTokens,
		"response_tokens": res.Usage.ResponseTokens,
	})
	flusher.Flush()
}

func writeSSE(w http.ResponseWriter, event string, payload any) {
	data, err := json.Marshal(payload)
	if err != nil {
		return
	}
	fmt.Fprintf(w, "event: %s\ndata: %s\n\n", event, data)
}

// publicError maps internal failures to client-safe messages. Validation
// sentinels pass through; everything else is generic.
func publicError(err error) string {
	switch {
	case err == nil:
		return ""
	case isClientError(err):
		return err.Error()
	default:
		return "turn failed"
	}
}

func isClientError(err error) bool {
	for _, sentinel := range []error{agent.ErrEmptyTurn, agent.ErrTooManyMessages, store.ErrNotFound} {
		if errors.Is(err, sentinel) {
			return true
		}
	}
	return false
}

func writeError(w http.ResponseWriter, status int, msg string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(map[string]string{"error": msg})
}

// clientKey identifies a client for rate limiting: the remote IP, ignoring
// the ephemeral port.
func clientKey(r *http.Request) string {
	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		return r.RemoteAddr
	}
	return host
}
