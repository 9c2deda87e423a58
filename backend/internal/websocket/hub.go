package websocket

import (
	"context"
	"encoding/json"
	"sync"

	"github.com/gofiber/contrib/websocket"
	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/Abulk79/Virt/backend/internal/matching"
)

// Client represents a single WebSocket client connection.
type Client struct {
	ID   uuid.UUID
	Conn *websocket.Conn
	Send chan []byte // Buffered channel for outbound messages
}

// NewClient wraps a connection with a send buffer of size buffer.
func NewClient(conn *websocket.Conn, buffer int) *Client {
	return &Client{ID: uuid.New(), Conn: conn, Send: make(chan []byte, buffer)}
}

// Hub manages WebSocket clients and broadcasts committed trades to them.
type Hub struct {
	clients    map[*Client]bool
	broadcast  chan []byte
	Register   chan *Client
	Unregister chan *Client
	done       chan struct{}
	mu         sync.RWMutex
	log        zerolog.Logger
}

// NewHub creates and initializes a new Hub.
func NewHub(log zerolog.Logger) *Hub {
	return &Hub{
		clients:    make(map[*Client]bool),
		broadcast:  make(chan []byte, 256),
		Register:   make(chan *Client),
		Unregister: make(chan *Client),
		done:       make(chan struct{}),
		log:        log.With().Str("component", "ws_hub").Logger(),
	}
}

// Run is the hub's event loop. It returns when ctx is done.
func (h *Hub) Run(ctx context.Context) {
	h.log.Info().Msg("starting websocket hub")
	defer close(h.done)
	for {
		select {
		case <-ctx.Done():
			h.mu.Lock()
			for client := range h.clients {
				delete(h.clients, client)
				close(client.Send)
			}
			h.mu.Unlock()
			return

		case client := <-h.Register:
			h.mu.Lock()
			h.clients[client] = true
			h.mu.Unlock()
			h.log.Debug().Str("client_id", client.ID.String()).Msg("client registered")

		case client := <-h.Unregister:
			h.remove(client)

		case message := <-h.broadcast:
			h.mu.Lock()
			for client := range h.clients {
				select {
				case client.Send <- message:
				default:
					// A slow client is dropped rather than blocking the feed.
					h.log.Warn().Str("client_id", client.ID.String()).Msg("client send buffer full, dropping client")
					delete(h.clients, client)
					close(client.Send)
				}
			}
			h.mu.Unlock()
		}
	}
}

// Join registers client unless the hub has stopped.
func (h *Hub) Join(client *Client) bool {
	select {
	case h.Register <- client:
		return true
	case <-h.done:
		return false
	}
}

// Leave unregisters client. It does not block once the hub has stopped.
func (h *Hub) Leave(client *Client) {
	select {
	case h.Unregister <- client:
	case <-h.done:
	}
}

func (h *Hub) remove(client *Client) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if _, ok := h.clients[client]; ok {
		delete(h.clients, client)
		close(client.Send)
		h.log.Debug().Str("client_id", client.ID.String()).Msg("client unregistered")
	}
}

// Clients returns the number of registered clients.
func (h *Hub) Clients() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.clients)
}

// Publish queues every trade of res for broadcast. A full broadcast queue drops the trade.
func (h *Hub) Publish(ctx context.Context, res *matching.Result) error {
	if res == nil {
		return nil
	}
	for _, tr := range res.Trades {
		msg, err := json.Marshal(tr)
		if err != nil {
			return err
		}
		select {
		case h.broadcast <- msg:
		case <-ctx.Done():
			return ctx.Err()
		default:
			h.log.Warn().Str("ticker", tr.Ticker).Msg("broadcast queue full, dropping trade")
		}
	}
	return nil
}
