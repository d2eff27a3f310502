package server

import (
	"context"
	"net/http"
	"sync"

	"github.com/collabboard/backend/internal/collab"
	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"
	"go.uber.org/zap"
)

const outboundBufferSize = 32

var upgrader = websocket.Upgrader{
	ReadBufferSize:  4096,
	WriteBufferSize: 4096,
	CheckOrigin:     func(r *http.Request) bool { return true },
}

// wsClient adapts one websocket connection to the engine's EventSender.
// A single write pump serializes frames onto the socket; Send never blocks,
// and events that would overflow the buffer are dropped (delivery is
// at-most-once by contract).
type wsClient struct {
	conn   *websocket.Conn
	events chan collab.ServerEvent
	done   chan struct{}
	once   sync.Once
	logger *zap.Logger
}

func newWSClient(conn *websocket.Conn, logger *zap.Logger) *wsClient {
	return &wsClient{
		conn:   conn,
		events: make(chan collab.ServerEvent, outboundBufferSize),
		done:   make(chan struct{}),
		logger: logger,
	}
}

// Send queues an event for delivery. Safe to call from any goroutine,
// including after the connection has closed.
func (c *wsClient) Send(event collab.ServerEvent) {
	select {
	case <-c.done:
	case c.events <- event:
	default:
	}
}

func (c *wsClient) writePump() {
	for {
		select {
		case <-c.done:
			return
		case event := <-c.events:
			frame := serverFrame{Type: event.Type, Payload: event.Payload}
			if err := c.conn.WriteJSON(frame); err != nil {
				c.logger.Debug("websocket write failed", zap.Error(err))
				c.close()
				return
			}
		}
	}
}

func (c *wsClient) close() {
	c.once.Do(func() {
		close(c.done)
		_ = c.conn.Close()
	})
}

// handleWebsocket authenticates the handshake, upgrades the connection, and
// runs the read loop. The credential arrives once, in the token query
// parameter; a connection that fails authentication never reaches the
// engine.
func (h *httpHandler) handleWebsocket(c *gin.Context) {
	token := c.Query("token")
	if token == "" {
		c.JSON(http.StatusUnauthorized, gin.H{"error": "authentication required"})
		return
	}
	subject, err := h.tokens.ValidateToken(token)
	if err != nil {
		h.logger.Warn("websocket token validation failed", zap.Error(err))
		c.JSON(http.StatusUnauthorized, gin.H{"error": "unauthorized"})
		return
	}
	account, err := h.users.VerifyIdentity(c.Request.Context(), subject)
	if err != nil {
		h.logger.Warn("websocket identity rejected", zap.String("user_id", subject), zap.Error(err))
		c.JSON(http.StatusUnauthorized, gin.H{"error": "unauthorized"})
		return
	}

	ws, err := upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		h.logger.Warn("websocket upgrade failed", zap.Error(err))
		return
	}

	client := newWSClient(ws, h.logger)
	go client.writePump()

	conn, err := h.engine.Connect(account, client)
	if err != nil {
		h.logger.Error("failed to register connection", zap.Error(err))
		client.close()
		return
	}

	// The request context dies with the HTTP handler once the connection is
	// hijacked; command handling and teardown use their own context.
	ctx := context.Background()
	defer func() {
		h.engine.Disconnect(ctx, conn)
		client.close()
	}()

	for {
		_, data, err := ws.ReadMessage()
		if err != nil {
			if websocket.IsCloseError(err,
				websocket.CloseNormalClosure,
				websocket.CloseGoingAway,
				websocket.CloseNoStatusReceived,
			) {
				h.logger.Debug("websocket peer closed", zap.String("connection_id", conn.ID()))
			} else {
				h.logger.Debug("websocket read failed",
					zap.String("connection_id", conn.ID()), zap.Error(err))
			}
			return
		}

		cmd, err := parseClientCommand(data)
		if err != nil {
			h.logger.Debug("discarding malformed frame",
				zap.String("connection_id", conn.ID()), zap.Error(err))
			client.Send(collab.ServerEvent{
				Type:    collab.EventError,
				Payload: collab.ErrorPayload{Message: "Invalid message format"},
			})
			continue
		}

		h.engine.HandleCommand(ctx, conn, cmd)
	}
}
