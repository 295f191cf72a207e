package handlers

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"github.com/neurotune/neurotune-api/internal/logger"
	"github.com/neurotune/neurotune-api/internal/repository"
)

// Send/receive timing configuration and message size limits.
const (
	writeWait  = 10 * time.Second
	pongWait   = 60 * time.Second
	pingPeriod = (pongWait * 9) / 10
	maxMsgSize = 1 << 12 // 4 KB

	wsTypeConnected       = "connected"
	wsTypePing            = "ping"
	wsTypePong            = "pong"
	wsTypeRequestSchedule = "request_schedule"
	wsTypeSchedule        = "schedule"
	wsTypeError           = "error"
)

// wsEnvelope is the frame format in both directions
type wsEnvelope struct {
	Type      string      `json:"type"`
	SessionID string      `json:"session_id,omitempty"`
	Data      interface{} `json:"data,omitempty"`
	Error     string      `json:"error,omitempty"`
}

// SessionSocketHandler streams a session's schedule over a websocket
type SessionSocketHandler struct {
	store    SessionStore
	upgrader websocket.Upgrader
}

func NewSessionSocketHandler(store SessionStore, checkOrigin func(r *http.Request) bool) *SessionSocketHandler {
	return &SessionSocketHandler{
		store:    store,
		upgrader: websocket.Upgrader{CheckOrigin: checkOrigin},
	}
}

// Connect upgrades the request and serves the session protocol until the client leaves
func (h *SessionSocketHandler) Connect(c *gin.Context) {
	sessionID := c.Param("id")
	connID := uuid.New().String()
	fields := logger.Fields{"session_id": sessionID, "conn_id": connID}

	conn, err := h.upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		logger.Warn("WebSocket upgrade failed", logger.Fields{"session_id": sessionID, "error": err.Error()})
		return
	}
	defer func() { _ = conn.Close() }()

	conn.SetReadLimit(maxMsgSize)
	_ = conn.SetReadDeadline(time.Now().Add(pongWait))
	conn.SetPongHandler(func(string) error {
		return conn.SetReadDeadline(time.Now().Add(pongWait))
	})

	// All writes go through this goroutine; gorilla allows one concurrent writer.
	out := make(chan wsEnvelope, 8)
	done := make(chan struct{})
	go h.startReader(c.Request.Context(), conn, sessionID, out, done)

	ping := time.NewTicker(pingPeriod)
	defer ping.Stop()

	logger.Info("WebSocket connected", fields)
	if err := writeJSON(conn, wsEnvelope{Type: wsTypeConnected, SessionID: sessionID}); err != nil {
		return
	}

	for {
		select {
		case <-done:
			logger.Info("WebSocket disconnected", fields)
			return
		case msg := <-out:
			if err := writeJSON(conn, msg); err != nil {
				logger.Info("WebSocket write failed", logger.Fields{"session_id": sessionID, "error": err.Error()})
				return
			}
		case <-ping.C:
			_ = conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}

// startReader reads client frames and queues replies until the connection closes
func (h *SessionSocketHandler) startReader(ctx context.Context, conn *websocket.Conn, sessionID string, out chan<- wsEnvelope, done chan<- struct{}) {
	defer close(done)
	for {
		_, data, err := conn.ReadMessage()
		if err != nil {
			return
		}
		// any traffic proves the client is alive
		_ = conn.SetReadDeadline(time.Now().Add(pongWait))

		reply := h.handleMessage(ctx, sessionID, data)
		select {
		case out <- reply:
		case <-ctx.Done():
			return
		}
	}
}

func (h *SessionSocketHandler) handleMessage(ctx context.Context, sessionID string, data []byte) wsEnvelope {
	var msg wsEnvelope
	if err := json.Unmarshal(data, &msg); err != nil {
		return wsEnvelope{Type: wsTypeError, Error: "invalid message: expected a JSON object with a type"}
	}

	switch msg.Type {
	case wsTypePing:
		return wsEnvelope{Type: wsTypePong}
	case wsTypeRequestSchedule:
		return h.scheduleMessage(ctx, sessionID)
	default:
		return wsEnvelope{Type: wsTypeError, Error: "unknown message type: " + msg.Type}
	}
}

func (h *SessionSocketHandler) scheduleMessage(ctx context.Context, sessionID string) wsEnvelope {
	id, err := strconv.ParseUint(sessionID, 10, 32)
	if err != nil || id == 0 {
		return wsEnvelope{Type: wsTypeError, Error: "invalid session id"}
	}

	session, err := h.store.Get(ctx, uint(id))
	if errors.Is(err, repository.ErrSessionNotFound) {
		return wsEnvelope{Type: wsTypeError, Error: "session not found"}
	}
	if err != nil {
		logger.Error("WebSocket session lookup failed", err, logger.Fields{"session_id": sessionID})
		return wsEnvelope{Type: wsTypeError, Error: "failed to load session"}
	}

	schedule, err := session.DecodeSchedule()
	if err != nil {
		logger.Error("Stored schedule is unreadable", err, logger.Fields{"session_id": sessionID})
		return wsEnvelope{Type: wsTypeError, Error: "failed to load session"}
	}
	return wsEnvelope{Type: wsTypeSchedule, SessionID: sessionID, Data: schedule}
}

func writeJSON(conn *websocket.Conn, msg wsEnvelope) error {
	_ = conn.SetWriteDeadline(time.Now().Add(writeWait))
	return conn.WriteJSON(msg)
}
