package ws

import (
	"context"
	"log"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
	"github.com/gorilla/websocket"

	"github.com/tably/api/internal/auth"
)

const (
	// Time allowed to write a message to the peer
	writeWait = 10 * time.Second

	// Time allowed to read the next pong message from the peer
	pongWait = 60 * time.Second

	// Send pings to peer with this period (must be less than pongWait)
	pingPeriod = (pongWait * 9) / 10

	// Maximum message size allowed from peer
	maxMessageSize = 512
)

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	CheckOrigin: func(r *http.Request) bool {
		return true // origin is not trusted anyway; access is token-gated
	},
}

// Client is a single WebSocket connection subscribed to one topic.
type Client struct {
	hub   *Hub
	conn  *websocket.Conn
	topic string
	send  chan []byte
}

// ReadPump pumps messages from the connection to the hub. Clients never send
// application messages; the loop exists to detect disconnects and answer
// pings.
func (c *Client) ReadPump() {
	defer func() {
		c.hub.unregister <- c
		c.conn.Close()
	}()

	c.conn.SetReadLimit(maxMessageSize)
	c.conn.SetReadDeadline(time.Now().Add(pongWait))
	c.conn.SetPongHandler(func(string) error {
		c.conn.SetReadDeadline(time.Now().Add(pongWait))
		return nil
	})

	for {
		if _, _, err := c.conn.ReadMessage(); err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseAbnormalClosure) {
				log.Printf("websocket error: %v", err)
			}
			break
		}
	}
}

// WritePump pumps messages from the hub to the connection.
func (c *Client) WritePump() {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		c.conn.Close()
	}()

	for {
		select {
		case message, ok := <-c.send:
			c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if !ok {
				// The hub closed the channel
				c.conn.WriteMessage(websocket.CloseMessage, []byte{})
				return
			}

			w, err := c.conn.NextWriter(websocket.TextMessage)
			if err != nil {
				return
			}
			w.Write(message)

			// Add queued messages to the current websocket message
			n := len(c.send)
			for i := 0; i < n; i++ {
				w.Write([]byte{'\n'})
				w.Write(<-c.send)
			}

			if err := w.Close(); err != nil {
				return
			}

		case <-ticker.C:
			c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}

// ServeStaffWS handles staff subscriptions to a shop's order events.
// Endpoint: WS /ws/shops/{sid}/orders?token=JWT
func ServeStaffWS(hub *Hub, jwtSecret string, w http.ResponseWriter, r *http.Request) {
	tokenStr := r.URL.Query().Get("token")
	if tokenStr == "" {
		http.Error(w, "missing token", http.StatusUnauthorized)
		return
	}

	claims, err := auth.ValidateToken(jwtSecret, tokenStr)
	if err != nil {
		http.Error(w, "invalid token", http.StatusUnauthorized)
		return
	}

	shopID, err := uuid.Parse(chi.URLParam(r, "sid"))
	if err != nil {
		http.Error(w, "invalid shop id", http.StatusBadRequest)
		return
	}

	// OWNER can watch any shop, others only their own
	if claims.Role != "OWNER" && claims.ShopID != shopID {
		http.Error(w, "shop access denied", http.StatusForbidden)
		return
	}

	serve(hub, ShopTopic(shopID), w, r)
}

// OrderTokenChecker verifies an order token for the device websocket.
// Satisfied by the order service.
type OrderTokenChecker interface {
	CheckOrderToken(ctx context.Context, orderID uuid.UUID, token string) error
}

// ServeOrderWS handles the ordering device's subscription to its own order.
// Endpoint: WS /ws/orders/{id}?order_token=...
func ServeOrderWS(hub *Hub, checker OrderTokenChecker, w http.ResponseWriter, r *http.Request) {
	orderID, err := uuid.Parse(chi.URLParam(r, "id"))
	if err != nil {
		http.Error(w, "invalid order id", http.StatusBadRequest)
		return
	}

	token := r.URL.Query().Get("order_token")
	if token == "" {
		http.Error(w, "missing order token", http.StatusUnauthorized)
		return
	}

	if err := checker.CheckOrderToken(r.Context(), orderID, token); err != nil {
		http.Error(w, "invalid order token", http.StatusForbidden)
		return
	}

	serve(hub, OrderTopic(orderID), w, r)
}

func serve(hub *Hub, topic string, w http.ResponseWriter, r *http.Request) {
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		log.Printf("websocket upgrade error: %v", err)
		return
	}

	client := &Client{
		hub:   hub,
		conn:  conn,
		topic: topic,
		send:  make(chan []byte, 256),
	}
	client.hub.register <- client

	go client.WritePump()
	go client.ReadPump()
}
