package websocket

import (
	"net/http"
	"time"

	"github.com/gorilla/websocket"
	"github.com/labstack/echo/v4"
)

const (
	writeWait  = 10 * time.Second
	pongWait   = 60 * time.Second
	pingPeriod = (pongWait * 9) / 10
)

// Handler upgrades signup event requests and attaches them to the hub.
type Handler struct {
	hub      *Hub
	upgrader websocket.Upgrader
}

// NewHandler only accepts browsers from allowedOrigins. With no origins the
// request must come from the same host.
func NewHandler(hub *Hub, allowedOrigins []string) *Handler {
	h := &Handler{hub: hub}
	if len(allowedOrigins) > 0 {
		allowed := make(map[string]bool, len(allowedOrigins))
		for _, o := range allowedOrigins {
			allowed[o] = true
		}
		h.upgrader.CheckOrigin = func(r *http.Request) bool {
			origin := r.Header.Get("Origin")
			return origin == "" || allowed[origin] || origin == "http://"+r.Host || origin == "https://"+r.Host
		}
	}
	return h
}

// HandleWebSocket handles the WebSocket connection for sessionID. greeting
// is written first, so the client starts from the current state.
func (h *Handler) HandleWebSocket(c echo.Context, sessionID string, greeting interface{}) error {
	conn, err := h.upgrader.Upgrade(c.Response(), c.Request(), nil)
	if err != nil {
		// The upgrader has already written the error response
		h.hub.logger.Info().Err(err).Str("session", sessionID).Msg("websocket upgrade refused")
		return nil
	}

	client := &Client{
		SessionID: sessionID,
		Conn:      conn,
		send:      make(chan Notification, sendBuffer),
	}
	client.send <- Notification{
		Type:      NotificationTypeConnected,
		Message:   "WebSocket connection established",
		Data:      greeting,
		SessionID: sessionID,
	}

	select {
	case h.hub.register <- client:
	case <-h.hub.done:
		conn.Close()
		return nil
	}

	go client.writePump()
	go client.readPump(h.hub)

	return nil
}

// readPump only watches for disconnects; clients drive signup over HTTP.
func (c *Client) readPump(hub *Hub) {
	defer func() {
		select {
		case hub.unregister <- c:
		case <-hub.done:
		}
	}()

	c.Conn.SetReadLimit(512)
	_ = c.Conn.SetReadDeadline(time.Now().Add(pongWait))
	c.Conn.SetPongHandler(func(string) error {
		return c.Conn.SetReadDeadline(time.Now().Add(pongWait))
	})

	for {
		if _, _, err := c.Conn.ReadMessage(); err != nil {
			return
		}
	}
}

func (c *Client) writePump() {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		c.Conn.Close()
	}()

	for {
		select {
		case n, ok := <-c.send:
			_ = c.Conn.SetWriteDeadline(time.Now().Add(writeWait))
			if !ok {
				_ = c.Conn.WriteMessage(websocket.CloseMessage, []byte{})
				return
			}
			if err := c.Conn.WriteJSON(n); err != nil {
				return
			}
		case <-ticker.C:
			_ = c.Conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.Conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}
