package gateway

import (
	"context"
	"encoding/json"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/storyloom/coordinator/cmd/coordinator/engine"
	"github.com/storyloom/coordinator/common/models"
	rediscommon "github.com/storyloom/coordinator/common/redis"
)

// Logger interface for logging
type Logger interface {
	Info(msg string, keysAndValues ...interface{})
	Error(msg string, keysAndValues ...interface{})
	Warn(msg string, keysAndValues ...interface{})
	Debug(msg string, keysAndValues ...interface{})
}

// Envelope is the wire format for every event on the story channel
type Envelope struct {
	Event string      `json:"event"`
	Data  interface{} `json:"data,omitempty"`
}

// Message is an encoded event addressed to one story's subscribers.
// An empty UserID means fan out to everyone on the story.
type Message struct {
	StoryID uuid.UUID
	UserID  string
	Event   string
	Data    []byte
}

// Hub maintains the active connections per story and fans events out to a
// capability-tagged subscriber list: students and teacher monitors share
// one topic, the tag only gates what inbound actions a client may send.
type Hub struct {
	connections map[uuid.UUID][]*Client
	mutex       sync.RWMutex

	register   chan *Client
	unregister chan *Client
	broadcast  chan *Message

	registry *Registry
	redis    *rediscommon.Client // optional event mirror
	log      Logger
}

// NewHub creates a new Hub instance. redis may be nil to disable the
// external event mirror.
func NewHub(registry *Registry, redis *rediscommon.Client, log Logger) *Hub {
	return &Hub{
		connections: make(map[uuid.UUID][]*Client),
		register:    make(chan *Client),
		unregister:  make(chan *Client),
		broadcast:   make(chan *Message, 256),
		registry:    registry,
		redis:       redis,
		log:         log,
	}
}

// Run starts the hub's main loop
func (h *Hub) Run() {
	h.log.Info("broadcast hub started")

	for {
		select {
		case client := <-h.register:
			h.registerClient(client)

		case client := <-h.unregister:
			h.unregisterClient(client)

		case message := <-h.broadcast:
			h.deliver(message)
		}
	}
}

// Broadcast encodes an event and fans it out to every subscriber of the
// story. Implements engine.Broadcaster.
func (h *Hub) Broadcast(storyID uuid.UUID, event string, payload interface{}) {
	h.send(&Message{StoryID: storyID, Event: event, Data: h.encode(event, payload)})
}

// SendToUser encodes an event for a single subscriber (rejection notices,
// what-if replies). Implements engine.Broadcaster.
func (h *Hub) SendToUser(storyID uuid.UUID, userID string, event string, payload interface{}) {
	h.send(&Message{StoryID: storyID, UserID: userID, Event: event, Data: h.encode(event, payload)})
}

func (h *Hub) send(msg *Message) {
	if msg.Data == nil {
		return
	}
	select {
	case h.broadcast <- msg:
	default:
		h.log.Warn("broadcast queue full, dropping event",
			"story_id", msg.StoryID,
			"event", msg.Event)
	}
}

func (h *Hub) encode(event string, payload interface{}) []byte {
	data, err := json.Marshal(Envelope{Event: event, Data: payload})
	if err != nil {
		h.log.Error("failed to encode event", "event", event, "error", err)
		return nil
	}
	return data
}

// registerClient adds a client to its story's subscriber list
func (h *Hub) registerClient(client *Client) {
	h.mutex.Lock()
	defer h.mutex.Unlock()

	h.connections[client.storyID] = append(h.connections[client.storyID], client)
	h.log.Debug("client registered",
		"story_id", client.storyID,
		"user_id", client.userID,
		"role", client.role,
		"story_connections", len(h.connections[client.storyID]))
}

// unregisterClient removes a client. When a student's last connection for
// a story goes away, the presence registry marks them offline and the
// departure is broadcast; historical roster entries stay.
func (h *Hub) unregisterClient(client *Client) {
	h.mutex.Lock()

	clients := h.connections[client.storyID]
	removed := false
	for i, c := range clients {
		if c == client {
			h.connections[client.storyID] = append(clients[:i], clients[i+1:]...)
			close(client.send)
			removed = true
			break
		}
	}

	stillConnected := false
	for _, c := range h.connections[client.storyID] {
		if c.userID == client.userID {
			stillConnected = true
			break
		}
	}
	if len(h.connections[client.storyID]) == 0 {
		delete(h.connections, client.storyID)
	}
	h.mutex.Unlock()

	if !removed || stillConnected {
		return
	}

	if client.role == models.RoleStudent {
		h.registry.Disconnect(client.storyID, client.userID)
		h.Broadcast(client.storyID, engine.EventParticipantLeft, models.Participant{
			UserID: client.userID,
			Name:   client.name,
			Online: false,
		})
	}

	h.log.Debug("client unregistered",
		"story_id", client.storyID,
		"user_id", client.userID)
}

// deliver fans one encoded message out to the story's subscribers and
// mirrors it to Redis for out-of-process observers
func (h *Hub) deliver(message *Message) {
	h.mutex.RLock()
	clients := h.connections[message.StoryID]
	targets := make([]*Client, 0, len(clients))
	for _, client := range clients {
		if message.UserID != "" && client.userID != message.UserID {
			continue
		}
		targets = append(targets, client)
	}
	h.mutex.RUnlock()

	for _, client := range targets {
		select {
		case client.send <- message.Data:
		default:
			// Send buffer full: the client is too slow, drop the event
			// rather than block every other subscriber.
			h.log.Warn("client send buffer full, dropping event",
				"story_id", message.StoryID,
				"user_id", client.userID,
				"event", message.Event)
		}
	}

	if h.redis != nil && message.UserID == "" {
		go h.mirror(message)
	}
}

// mirror publishes a broadcast event to the story's Redis channel. Mirror
// failures never affect in-process delivery.
func (h *Hub) mirror(message *Message) {
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()

	channel := "story:events:" + message.StoryID.String()
	if err := h.redis.PublishEvent(ctx, channel, string(message.Data)); err != nil {
		h.log.Debug("event mirror publish failed", "channel", channel, "error", err)
	}
}

// ConnectionCount returns the number of active connections for a story
func (h *Hub) ConnectionCount(storyID uuid.UUID) int {
	h.mutex.RLock()
	defer h.mutex.RUnlock()

	return len(h.connections[storyID])
}
