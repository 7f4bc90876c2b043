package ws

import (
	"encoding/json"
	"sync"

	"github.com/google/uuid"
)

// Event is a message broadcast to subscribed clients.
type Event struct {
	Type    string          `json:"type"`
	Payload json.RawMessage `json:"payload"`
}

// Event types emitted by the order pipeline.
const (
	EventOrderCreated       = "order.created"
	EventOrderItemsAdded    = "order.items_added"
	EventItemsStatusUpdated = "items.status_updated"
)

// ShopTopic is the room staff views (kitchen display, admin) subscribe to.
func ShopTopic(shopID uuid.UUID) string { return "shop:" + shopID.String() }

// OrderTopic is the room a single ordering device subscribes to.
func OrderTopic(orderID uuid.UUID) string { return "order:" + orderID.String() }

// topicEvent routes an event to one topic's room.
type topicEvent struct {
	Topic string
	Event Event
}

// Hub maintains the set of active clients per topic and broadcasts events to
// them.
type Hub struct {
	rooms map[string]map[*Client]bool

	register   chan *Client
	unregister chan *Client
	broadcast  chan *topicEvent

	mu sync.RWMutex
}

// NewHub creates a new Hub.
func NewHub() *Hub {
	return &Hub{
		rooms:      make(map[string]map[*Client]bool),
		register:   make(chan *Client),
		unregister: make(chan *Client),
		broadcast:  make(chan *topicEvent, 256),
	}
}

// Run starts the hub's main loop. Call as a goroutine: go hub.Run()
func (h *Hub) Run() {
	for {
		select {
		case client := <-h.register:
			h.mu.Lock()
			if h.rooms[client.topic] == nil {
				h.rooms[client.topic] = make(map[*Client]bool)
			}
			h.rooms[client.topic][client] = true
			h.mu.Unlock()

		case client := <-h.unregister:
			h.mu.Lock()
			if clients, ok := h.rooms[client.topic]; ok {
				if _, exists := clients[client]; exists {
					delete(clients, client)
					close(client.send)
					if len(clients) == 0 {
						delete(h.rooms, client.topic)
					}
				}
			}
			h.mu.Unlock()

		case event := <-h.broadcast:
			h.mu.Lock()
			clients := h.rooms[event.Topic]

			message, err := json.Marshal(event.Event)
			if err != nil {
				h.mu.Unlock()
				continue
			}

			for client := range clients {
				select {
				case client.send <- message:
				default:
					// Client's send buffer is full, close and unregister
					close(client.send)
					delete(h.rooms[event.Topic], client)
					if len(h.rooms[event.Topic]) == 0 {
						delete(h.rooms, event.Topic)
					}
				}
			}
			h.mu.Unlock()
		}
	}
}

// Broadcast sends an event to all clients subscribed to a topic.
func (h *Hub) Broadcast(topic string, event Event) {
	h.broadcast <- &topicEvent{Topic: topic, Event: event}
}

// BroadcastOrderEvent sends the same event to the shop's staff room and the
// order's device room, so both views refresh from one change.
func (h *Hub) BroadcastOrderEvent(shopID, orderID uuid.UUID, event Event) {
	h.Broadcast(ShopTopic(shopID), event)
	h.Broadcast(OrderTopic(orderID), event)
}
