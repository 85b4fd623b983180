package http

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"live-quiz-service/internal/app"
	"live-quiz-service/internal/auth"
	"live-quiz-service/internal/broadcast"
	"live-quiz-service/internal/domain"
	"live-quiz-service/internal/metrics"
)

const (
	writeWait      = 10 * time.Second
	pongWait       = 60 * time.Second
	pingPeriod     = (pongWait * 9) / 10
	maxMessageSize = 64 * 1024
	cleanupTimeout = 5 * time.Second
)

type WSHandler struct {
	service    *app.LiveService
	gate       *auth.Gate
	hub        *broadcast.Hub
	log        *slog.Logger
	sendBuffer int
	upgrader   websocket.Upgrader
}

func NewWSHandler(service *app.LiveService, gate *auth.Gate, hub *broadcast.Hub, log *slog.Logger) *WSHandler {
	if log == nil {
		log = slog.Default()
	}
	return &WSHandler{
		service:    service,
		gate:       gate,
		hub:        hub,
		log:        log,
		sendBuffer: 64,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 1024,
			CheckOrigin:     func(r *http.Request) bool { return true },
		},
	}
}

type inboundMessage struct {
	Type    string          `json:"type"`
	Payload json.RawMessage `json:"payload"`
}

// ServeWS authenticates the request, upgrades it and runs the connection
// until the peer goes away. One goroutine reads commands, another drains the
// connection's outbound sink so writes never race.
func (h *WSHandler) ServeWS(w http.ResponseWriter, r *http.Request) {
	identity, err := h.gate.AuthenticateRequest(r)
	if err != nil {
		http.Error(w, "invalid token", http.StatusUnauthorized)
		return
	}

	conn, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		h.log.Warn("ws upgrade failed", "err", err)
		return
	}

	connID := uuid.NewString()
	log := h.log.With("conn_id", connID)
	sink := broadcast.NewChannelSink(h.sendBuffer)
	h.hub.Register(connID, sink)
	metrics.ConnectionOpened()
	log.Debug("connection opened", "anonymous", identity == nil)

	writerDone := make(chan struct{})
	go func() {
		defer close(writerDone)
		h.writeLoop(conn, sink, log)
	}()

	h.readLoop(r.Context(), conn, app.Conn{ID: connID, Identity: identity}, log)

	ctx, cancel := context.WithTimeout(context.Background(), cleanupTimeout)
	defer cancel()
	if err := h.service.HandleDisconnect(ctx, connID); err != nil {
		log.Warn("disconnect cleanup failed", "err", err)
	}
	h.hub.Unregister(connID)
	sink.Close()
	<-writerDone
	conn.Close()
	metrics.ConnectionClosed()
	log.Debug("connection closed")
}

func (h *WSHandler) readLoop(ctx context.Context, conn *websocket.Conn, c app.Conn, log *slog.Logger) {
	conn.SetReadLimit(maxMessageSize)
	_ = conn.SetReadDeadline(time.Now().Add(pongWait))
	conn.SetPongHandler(func(string) error {
		return conn.SetReadDeadline(time.Now().Add(pongWait))
	})

	for {
		_, data, err := conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				log.Debug("ws read error", "err", err)
			}
			return
		}
		var inbound inboundMessage
		if err := json.Unmarshal(data, &inbound); err != nil {
			h.service.RejectMessage(c.ID, domain.ErrInvalidPayload)
			continue
		}
		cmd, err := app.DecodeCommand(inbound.Type, inbound.Payload)
		if err != nil {
			h.service.RejectMessage(c.ID, err)
			continue
		}
		h.service.Handle(ctx, c, cmd)
	}
}

func (h *WSHandler) writeLoop(conn *websocket.Conn, sink *broadcast.ChannelSink, log *slog.Logger) {
	ticker := time.NewTicker(pingPeriod)
	defer ticker.Stop()
	for {
		select {
		case ev, ok := <-sink.Events():
			_ = conn.SetWriteDeadline(time.Now().Add(writeWait))
			if !ok {
				if sink.Overflowed() {
					log.Warn("slow connection dropped", "buffer", h.sendBuffer)
					_ = conn.WriteMessage(websocket.CloseMessage, websocket.FormatCloseMessage(websocket.ClosePolicyViolation, "send buffer full"))
					conn.Close()
					return
				}
				_ = conn.WriteMessage(websocket.CloseMessage, []byte{})
				return
			}
			if err := conn.WriteJSON(ev); err != nil {
				log.Debug("ws write error", "err", err)
				// unblock the reader so the connection is torn down
				conn.Close()
				return
			}
		case <-ticker.C:
			_ = conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				conn.Close()
				return
			}
		}
	}
}
