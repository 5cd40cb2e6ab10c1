package websocket

import (
	"context"
	"sync"

	"github.com/gorilla/websocket"
	"github.com/rs/zerolog"

	"github.com/HSouheill/coursemarket_backend/models"
)

const (
	NotificationTypeConnected = "connected"
	NotificationTypeSignup    = "signup_event"

	sendBuffer = 32
)

// Notification represents a message sent over WebSocket
type Notification struct {
	Type      string      `json:"type"`
	Message   string      `json:"message"`
	Data      interface{} `json:"data,omitempty"`
	SessionID string      `json:"sessionId,omitempty"`
}

// Client represents a connected WebSocket client
type Client struct {
	SessionID string
	Conn      *websocket.Conn
	send      chan Notification
}

// Hub fans signup events out to every socket opened by the same session.
type Hub struct {
	clients    map[string]map[*Client]bool
	register   chan *Client
	unregister chan *Client
	done       chan struct{}
	mu         sync.RWMutex
	logger     zerolog.Logger
}

func NewHub(logger zerolog.Logger) *Hub {
	return &Hub{
		clients:    make(map[string]map[*Client]bool),
		register:   make(chan *Client),
		unregister: make(chan *Client),
		done:       make(chan struct{}),
		logger:     logger.With().Str("component", "ws_hub").Logger(),
	}
}

// Run starts the hub's event loop and closes every connection when ctx ends.
func (h *Hub) Run(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			close(h.done)
			h.mu.Lock()
			for _, set := range h.clients {
				for client := range set {
					close(client.send)
					client.Conn.Close()
				}
			}
			h.clients = make(map[string]map[*Client]bool)
			h.mu.Unlock()
			return
		case client := <-h.register:
			h.mu.Lock()
			set, ok := h.clients[client.SessionID]
			if !ok {
				set = make(map[*Client]bool)
				h.clients[client.SessionID] = set
			}
			set[client] = true
			h.mu.Unlock()
		case client := <-h.unregister:
			h.mu.Lock()
			if set, ok := h.clients[client.SessionID]; ok && set[client] {
				delete(set, client)
				if len(set) == 0 {
					delete(h.clients, client.SessionID)
				}
				close(client.send)
			}
			client.Conn.Close()
			h.mu.Unlock()
		}
	}
}

// SendToSession queues n for every client of sessionID and returns how many
// accepted it. Clients whose buffer is full miss the message.
func (h *Hub) SendToSession(sessionID string, n Notification) int {
	h.mu.RLock()
	defer h.mu.RUnlock()

	delivered := 0
	for client := range h.clients[sessionID] {
		select {
		case client.send <- n:
			delivered++
		default:
			h.logger.Warn().Str("session", sessionID).Msg("dropping event for slow websocket client")
		}
	}
	return delivered
}

// Publish sends a signup lifecycle event to the session it belongs to.
func (h *Hub) Publish(event models.Event) {
	h.SendToSession(event.SessionID, Notification{
		Type:      NotificationTypeSignup,
		Message:   event.Message,
		Data:      event,
		SessionID: event.SessionID,
	})
}

// Connected returns how many sockets sessionID has open.
func (h *Hub) Connected(sessionID string) int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.clients[sessionID])
}
