package gateway

import (
	"encoding/json"
	"log/slog"
	"net/http"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"

	"github.com/parleyhq/parley/internal/agent"
	"github.com/parleyhq/parley/pkg/protocol"
)

// handleWebSocket serves turns over a socket: the client sends one turn
// request per message and receives the same delta/done/error events the SSE
// endpoint emits. Turns on one socket run sequentially.
func (s *Server) handleWebSocket(w http.ResponseWriter, r *http.Request) {
	conn, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		slog.Error("gateway.ws.upgrade_failed", "error", err)
		return
	}
	defer conn.Close()

	key := clientKey(r)
	for {
		_, payload, err := conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
				slog.Debug("gateway.ws.read_error", "error", err)
			}
			return
		}
		if !s.rateLimiter.Allow(key) {
			conn.WriteJSON(protocol.ErrorFrame("rate limit exceeded"))
			continue
		}
		s.runSocketTurn(r, conn, payload)
	}
}

func (s *Server) runSocketTurn(r *http.Request, conn *websocket.Conn, payload []byte) {
	var req protocol.TurnRequest
	if err := json.Unmarshal(payload, &req); err != nil {
		conn.WriteJSON(protocol.ErrorFrame("invalid json"))
		return
	}
	id, err := uuid.Parse(req.ConversationID)
	if err != nil {
		conn.WriteJSON(protocol.ErrorFrame("invalid conversation id"))
		return
	}
	if max := s.cfg.Gateway.MaxMessageChars; max > 0 && len(req.Content) > max {
		conn.WriteJSON(protocol.ErrorFrame("content too large"))
		return
	}

	// The turn streams from one goroutine, so WriteJSON needs no locking.
	res, err := s.orch.RunTurn(r.Context(), agent.RunRequest{
		ConversationID: id,
		Content:        req.Content,
		Messages:       req.Messages,
	}, func(text string) {
		conn.WriteJSON(protocol.DeltaFrame(text))
	})
	if err != nil {
		conn.WriteJSON(protocol.ErrorFrame(publicError(err)))
		return
	}
	conn.WriteJSON(protocol.TurnFrame{
		Type:           protocol.EventDone,
		State:          res.State,
		Truncated:      res.Truncated,
		Steps:          res.Steps,
		PromptTokens:   res.Usage.PromptTokens,
		ResponseTokens: res.Usage.ResponseTokens,
	})
}
