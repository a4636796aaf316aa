package httpapi

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"sync/atomic"

	"github.com/gorilla/websocket"
	"github.com/harun/concierge/pkg/channels"
	"github.com/harun/concierge/pkg/conversation"
	gonanoid "github.com/matoous/go-nanoid/v2"
)

var nanoFallback atomic.Int64

type messageRequest struct {
	SessionID string `json:"session_id"`
	Message   string `json:"message"`
}

type messageResponse struct {
	SessionID string               `json:"session_id"`
	Text      string               `json:"text"`
	Outcome   conversation.Outcome `json:"outcome"`
}

type errorResponse struct {
	Error             string `json:"error"`
	RetryAfterSeconds int    `json:"retry_after_seconds,omitempty"`
}

func (s *Server) handleMessage(w http.ResponseWriter, r *http.Request) {
	var req messageRequest
	body := http.MaxBytesReader(w, r.Body, maxBodyBytes)
	if err := json.NewDecoder(body).Decode(&req); err != nil {
		writeJSON(w, http.StatusBadRequest, errorResponse{
			Error: `invalid request body; send JSON like {"session_id": "abc", "message": "When is lunch?"}`,
		})
		return
	}
	if strings.TrimSpace(req.Message) == "" {
		writeJSON(w, http.StatusBadRequest, errorResponse{Error: conversation.ErrEmptyMessage.Error()})
		return
	}

	sessionID := strings.TrimSpace(req.SessionID)
	if sessionID == "" {
		sessionID = newSessionID()
	}

	dispatch := s.currentDispatch()
	res, err := dispatch(r.Context(), channels.InboundMessage{Channel: Name, SessionID: sessionID, Text: req.Message})
	switch {
	case errors.Is(err, conversation.ErrEmptyMessage):
		writeJSON(w, http.StatusBadRequest, errorResponse{Error: err.Error()})
	case err != nil:
		s.logger.Error().Err(err).Str("session_id", sessionID).Msg("Dispatch failed")
		writeJSON(w, http.StatusInternalServerError, messageResponse{
			SessionID: sessionID,
			Text:      channels.ReplyText(res, err),
			Outcome:   conversation.OutcomeNone,
		})
	default:
		s.logger.Debug().Str("session_id", sessionID).Str("outcome", res.Outcome.String()).Msg("Turn complete")
		writeJSON(w, http.StatusOK, messageResponse{SessionID: sessionID, Text: res.Text, Outcome: res.Outcome})
	}
}

// handleWebSocket serves one connection. Frames are processed in order; a
// frame without session_id uses the connection's own session.
func (s *Server) handleWebSocket(w http.ResponseWriter, r *http.Request) {
	conn, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		s.logger.Warn().Err(err).Msg("WebSocket upgrade failed")
		return
	}
	conn.SetReadLimit(maxBodyBytes)

	s.mu.Lock()
	s.conns[conn] = struct{}{}
	s.mu.Unlock()
	defer func() {
		s.mu.Lock()
		delete(s.conns, conn)
		s.mu.Unlock()
		_ = conn.Close()
	}()

	connSession := "ws:" + newSessionID()
	ip := clientIP(r)
	dispatch := s.currentDispatch()
	ctx := r.Context()

	s.logger.Info().Str("session_id", connSession).Str("ip", ip).Msg("WebSocket connected")

	for {
		_, data, err := conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				s.logger.Warn().Err(err).Str("session_id", connSession).Msg("WebSocket read failed")
			}
			return
		}

		var frame interface{}
		var req messageRequest
		switch {
		case json.Unmarshal(data, &req) != nil:
			frame = errorResponse{Error: `invalid frame; send JSON like {"message": "When is lunch?"}`}
		case strings.TrimSpace(req.Message) == "":
			frame = errorResponse{Error: conversation.ErrEmptyMessage.Error()}
		default:
			if allowed, retryAfter := s.limiter.Allow(ip); !allowed {
				frame = errorResponse{Error: "rate limit exceeded; retry later", RetryAfterSeconds: RetryAfterSeconds(retryAfter)}
				break
			}
			sessionID := strings.TrimSpace(req.SessionID)
			if sessionID == "" {
				sessionID = connSession
			}
			res, err := dispatch(ctx, channels.InboundMessage{Channel: Name, SessionID: sessionID, Text: req.Message})
			if err != nil {
				s.logger.Error().Err(err).Str("session_id", sessionID).Msg("Dispatch failed")
			}
			frame = messageResponse{SessionID: sessionID, Text: channels.ReplyText(res, err), Outcome: res.Outcome}
		}

		if err := conn.WriteJSON(frame); err != nil {
			s.logger.Warn().Err(err).Str("session_id", connSession).Msg("WebSocket write failed")
			return
		}
	}
}

func newSessionID() string {
	id, err := gonanoid.New()
	if err != nil {
		return fmt.Sprintf("anon-%d", nanoFallback.Add(1))
	}
	return id
}

func writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}
