package hub

import (
	"encoding/json"
	"log"
	"sync"
	"time"
)

// Subscription scopes an observer to one clinic; ClinicID 0 means all
// clinics (public displays).
type Subscription struct {
	ClinicID int64
}

type Client struct {
	ID           string
	Send         chan []byte
	Subscription Subscription
}

type Hub struct {
	mu      sync.RWMutex
	clients map[string]*Client
}

type SubscribeMessage struct {
	Action   string `json:"action"`
	ClinicID int64  `json:"clinic_id"`
}

// Envelope is the wire frame for ticket events. Origin is "" for events
// published by the service and "observer" for echo-bridged frames, which
// carry no authority over ticket state.
type Envelope struct {
	Type      string          `json:"type"`
	Payload   json.RawMessage `json:"payload"`
	CreatedAt time.Time       `json:"created_at"`
	Origin    string          `json:"origin,omitempty"`
}

func New() *Hub {
	return &Hub{clients: make(map[string]*Client)}
}

func (h *Hub) Register(client *Client) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.clients[client.ID] = client
}

func (h *Hub) Unregister(client *Client) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if _, ok := h.clients[client.ID]; !ok {
		return
	}
	delete(h.clients, client.ID)
	close(client.Send)
}

func (h *Hub) UpdateSubscription(client *Client, sub Subscription) {
	h.mu.Lock()
	defer h.mu.Unlock()
	client.Subscription = sub
}

// Broadcast delivers payload to every observer subscribed to clinicID.
// Delivery is best-effort: a slow observer drops the frame rather than
// stalling the rest.
func (h *Hub) Broadcast(payload []byte, clinicID int64) {
	h.broadcastExcept(payload, clinicID, "")
}

// Rebroadcast fans an observer-originated frame out to every other
// observer. Legacy bridge behavior; the sender is excluded.
func (h *Hub) Rebroadcast(payload []byte, clinicID int64, senderID string) {
	h.broadcastExcept(payload, clinicID, senderID)
}

func (h *Hub) broadcastExcept(payload []byte, clinicID int64, exceptID string) {
	h.mu.RLock()
	defer h.mu.RUnlock()
	for _, client := range h.clients {
		if client.ID == exceptID {
			continue
		}
		if client.Subscription.ClinicID != 0 && clinicID != 0 && client.Subscription.ClinicID != clinicID {
			continue
		}
		select {
		case client.Send <- payload:
		default:
			log.Printf("hub drop frame client=%s", client.ID)
		}
	}
}

func ParseSubscribe(data []byte) (SubscribeMessage, bool) {
	var msg SubscribeMessage
	if err := json.Unmarshal(data, &msg); err != nil {
		return SubscribeMessage{}, false
	}
	if msg.Action != "subscribe" && msg.Action != "unsubscribe" {
		return SubscribeMessage{}, false
	}
	return msg, true
}

var bridgeTypes = map[string]bool{
	"ticket.created":       true,
	"ticket.called":        true,
	"ticket.state_changed": true,
}

// ParseBridgeEvent accepts only the three ticket event kinds and stamps
// the observer origin so downstream consumers can tell the frame was not
// produced by the service.
func ParseBridgeEvent(data []byte) (Envelope, bool) {
	var env Envelope
	if err := json.Unmarshal(data, &env); err != nil {
		return Envelope{}, false
	}
	if !bridgeTypes[env.Type] {
		return Envelope{}, false
	}
	env.Origin = "observer"
	if env.CreatedAt.IsZero() {
		env.CreatedAt = time.Now().UTC()
	}
	return env, true
}

// ClinicIDFromPayload pulls the clinic scope out of an event payload for
// subscription matching; 0 routes to all observers.
func ClinicIDFromPayload(payload []byte) int64 {
	var data struct {
		ClinicID int64 `json:"clinic_id"`
	}
	if err := json.Unmarshal(payload, &data); err != nil {
		return 0
	}
	return data.ClinicID
}
