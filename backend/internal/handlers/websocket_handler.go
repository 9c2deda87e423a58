package handlers

import (
	"time"

	"github.com/gofiber/contrib/websocket"
	"github.com/gofiber/fiber/v2"

	ws "github.com/Abulk79/Virt/backend/internal/websocket"
)

const (
	writeWait      = 10 * time.Second
	pongWait       = 60 * time.Second
	pingPeriod     = pongWait * 9 / 10
	maxMessageSize = 512
)

// TradesWSEndpoint sends a snapshot of the last prices, then streams committed trades
// to the client until it disconnects.
func (h *Handler) TradesWSEndpoint(c *websocket.Conn) {
	_ = c.SetWriteDeadline(time.Now().Add(writeWait))
	if err := c.WriteJSON(fiber.Map{"event": "prices", "data": h.prices.GetCurrentPrices()}); err != nil {
		h.log.Debug().Err(err).Msg("websocket snapshot failed")
		return
	}
	client := ws.NewClient(c, 256)
	if !h.hub.Join(client) {
		return
	}
	h.log.Debug().Str("client_id", client.ID.String()).Str("remote", c.RemoteAddr().String()).Msg("websocket connection established")

	go h.clientWritePump(client)
	// The connection is released when the handler returns, so the read pump runs here.
	h.clientReadPump(client)
}

// clientWritePump pumps messages from the hub to the websocket connection.
func (h *Handler) clientWritePump(client *ws.Client) {
	ping := time.NewTicker(pingPeriod)
	defer func() {
		ping.Stop()
		client.Conn.Close()
	}()

	for {
		select {
		case message, ok := <-client.Send:
			_ = client.Conn.SetWriteDeadline(time.Now().Add(writeWait))
			if !ok {
				// The hub closed the channel.
				_ = client.Conn.WriteMessage(websocket.CloseMessage, []byte{})
				return
			}
			if err := client.Conn.WriteMessage(websocket.TextMessage, message); err != nil {
				h.log.Debug().Err(err).Str("client_id", client.ID.String()).Msg("websocket write failed")
				return
			}
		case <-ping.C:
			_ = client.Conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := client.Conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}

// clientReadPump discards client messages and detects disconnects.
func (h *Handler) clientReadPump(client *ws.Client) {
	defer func() {
		h.hub.Leave(client)
		client.Conn.Close()
	}()

	client.Conn.SetReadLimit(maxMessageSize)
	_ = client.Conn.SetReadDeadline(time.Now().Add(pongWait))
	client.Conn.SetPongHandler(func(string) error {
		return client.Conn.SetReadDeadline(time.Now().Add(pongWait))
	})

	for {
		if _, _, err := client.Conn.ReadMessage(); err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseAbnormalClosure) {
				h.log.Debug().Err(err).Str("client_id", client.ID.String()).Msg("client disconnected unexpectedly")
			}
			return
		}
	}
}
