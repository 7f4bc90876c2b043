package ws

import (
	"encoding/json"
	"testing"
	"time"

	"github.com/google/uuid"
)

// mockClient creates a client for testing without a real WebSocket connection
func mockClient(hub *Hub, topic string) *Client {
	return &Client{
		hub:   hub,
		topic: topic,
		send:  make(chan []byte, 256),
	}
}

func TestHubRegistration(t *testing.T) {
	hub := NewHub()
	go hub.Run()

	topic := ShopTopic(uuid.New())
	client := mockClient(hub, topic)

	hub.register <- client
	time.Sleep(10 * time.Millisecond)

	hub.mu.RLock()
	defer hub.mu.RUnlock()

	if hub.rooms[topic] == nil {
		t.Fatal("topic room not created")
	}
	if !hub.rooms[topic][client] {
		t.Fatal("client not registered in topic room")
	}
}

func TestHubUnregistration(t *testing.T) {
	hub := NewHub()
	go hub.Run()

	topic := ShopTopic(uuid.New())
	client := mockClient(hub, topic)

	hub.register <- client
	time.Sleep(10 * time.Millisecond)

	hub.unregister <- client
	time.Sleep(10 * time.Millisecond)

	hub.mu.RLock()
	defer hub.mu.RUnlock()

	// Room should be cleaned up when empty
	if hub.rooms[topic] != nil {
		t.Fatal("topic room not cleaned up after last client unregistered")
	}
}

func TestBroadcastTopicIsolation(t *testing.T) {
	hub := NewHub()
	go hub.Run()

	shopA := ShopTopic(uuid.New())
	shopB := ShopTopic(uuid.New())

	clientA := mockClient(hub, shopA)
	clientB := mockClient(hub, shopB)

	hub.register <- clientA
	hub.register <- clientB
	time.Sleep(10 * time.Millisecond)

	payload := json.RawMessage(`{"order_id":"test-123"}`)
	hub.Broadcast(shopA, Event{Type: EventOrderCreated, Payload: payload})

	select {
	case msg := <-clientA.send:
		var received Event
		if err := json.Unmarshal(msg, &received); err != nil {
			t.Fatalf("failed to unmarshal message: %v", err)
		}
		if received.Type != EventOrderCreated {
			t.Errorf("expected type %q, got %q", EventOrderCreated, received.Type)
		}
		if string(received.Payload) != string(payload) {
			t.Errorf("expected payload %s, got %s", payload, received.Payload)
		}
	case <-time.After(100 * time.Millisecond):
		t.Fatal("clientA did not receive message")
	}

	select {
	case <-clientB.send:
		t.Fatal("clientB should not receive another shop's event")
	case <-time.After(50 * time.Millisecond):
		// Expected - no message received
	}
}

func TestBroadcastOrderEvent_ReachesBothRooms(t *testing.T) {
	hub := NewHub()
	go hub.Run()

	shopID := uuid.New()
	orderID := uuid.New()

	kitchen := mockClient(hub, ShopTopic(shopID))
	device := mockClient(hub, OrderTopic(orderID))
	otherDevice := mockClient(hub, OrderTopic(uuid.New()))

	hub.register <- kitchen
	hub.register <- device
	hub.register <- otherDevice
	time.Sleep(10 * time.Millisecond)

	hub.BroadcastOrderEvent(shopID, orderID, Event{
		Type:    EventItemsStatusUpdated,
		Payload: json.RawMessage(`{"status":"READY"}`),
	})

	for name, c := range map[string]*Client{"kitchen": kitchen, "device": device} {
		select {
		case msg := <-c.send:
			var received Event
			if err := json.Unmarshal(msg, &received); err != nil {
				t.Fatalf("%s: unmarshal: %v", name, err)
			}
			if received.Type != EventItemsStatusUpdated {
				t.Errorf("%s: type = %q", name, received.Type)
			}
		case <-time.After(100 * time.Millisecond):
			t.Fatalf("%s did not receive event", name)
		}
	}

	select {
	case <-otherDevice.send:
		t.Fatal("unrelated order device should not receive the event")
	case <-time.After(50 * time.Millisecond):
	}
}

func TestBroadcastToMultipleClientsInSameRoom(t *testing.T) {
	hub := NewHub()
	go hub.Run()

	topic := ShopTopic(uuid.New())
	clients := []*Client{mockClient(hub, topic), mockClient(hub, topic), mockClient(hub, topic)}

	for _, c := range clients {
		hub.register <- c
	}
	time.Sleep(10 * time.Millisecond)

	hub.Broadcast(topic, Event{
		Type:    EventOrderItemsAdded,
		Payload: json.RawMessage(`{"round":2}`),
	})

	for i, c := range clients {
		select {
		case msg := <-c.send:
			var received Event
			if err := json.Unmarshal(msg, &received); err != nil {
				t.Fatalf("client%d: unmarshal: %v", i+1, err)
			}
			if received.Type != EventOrderItemsAdded {
				t.Errorf("client%d: type = %q", i+1, received.Type)
			}
		case <-time.After(100 * time.Millisecond):
			t.Fatalf("client%d did not receive message", i+1)
		}
	}
}

func TestBroadcastToEmptyRoom(t *testing.T) {
	hub := NewHub()
	go hub.Run()

	bystander := mockClient(hub, ShopTopic(uuid.New()))
	hub.register <- bystander
	time.Sleep(10 * time.Millisecond)

	hub.Broadcast(OrderTopic(uuid.New()), Event{
		Type:    EventOrderCreated,
		Payload: json.RawMessage(`{}`),
	})

	select {
	case <-bystander.send:
		t.Fatal("client should not receive message for different topic")
	case <-time.After(50 * time.Millisecond):
		// Expected - no message
	}
}
