package gateway

import (
	"context"
	"encoding/json"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"

	"github.com/storyloom/coordinator/cmd/coordinator/engine"
	"github.com/storyloom/coordinator/common/models"
	"github.com/storyloom/coordinator/common/ratelimit"
	"github.com/storyloom/coordinator/common/validation"
)

// contributions screens submission text before it reaches the session
// queue; moderation still has the final say
var contributions = validation.NewContributionValidator()

const (
	// Time allowed to write a message to the peer
	writeWait = 10 * time.Second

	// Time allowed to read the next pong message from the peer
	pongWait = 30 * time.Second

	// Send pings to peer with this period (must be less than pongWait)
	pingPeriod = 25 * time.Second

	// Maximum inbound message size (actions are small JSON objects;
	// story text is bounded by the product's contribution limit)
	maxMessageSize = 8192

	// Upper bound on a what-if generation round-trip
	whatIfTimeout = 30 * time.Second
)

// clientMessage is an inbound action from a connected client
type clientMessage struct {
	Action       string `json:"action"`
	Text         string `json:"text,omitempty"`
	BranchNodeID string `json:"branchNodeId,omitempty"`
	ChoiceIdx    int    `json:"choiceIdx"`
}

// WhatIfPayload answers a what-if query to the requesting client only
type WhatIfPayload struct {
	BranchNodeID string `json:"branchNodeId"`
	ChoiceIdx    int    `json:"choiceIdx"`
	Text         string `json:"text"`
}

// EventWhatIf is the reply event for alternate-path queries
const EventWhatIf = "branch:what_if"

// EventRateLimited notifies a client that an action was throttled
const EventRateLimited = "rate_limited"

// RateLimitedPayload tells the client when to retry
type RateLimitedPayload struct {
	Action            string `json:"action"`
	RetryAfterSeconds int64  `json:"retryAfterSeconds"`
}

// Client represents one WebSocket connection on a story channel
type Client struct {
	hub     *Hub
	conn    *websocket.Conn
	session *engine.Session
	storyID uuid.UUID
	userID  string
	name    string
	role    models.Role
	limiter *ratelimit.RateLimiter // optional, nil disables throttling
	send    chan []byte
	log     Logger
}

// NewClient creates a new Client instance
func NewClient(hub *Hub, conn *websocket.Conn, session *engine.Session, storyID uuid.UUID, userID, name string, role models.Role, limiter *ratelimit.RateLimiter, log Logger) *Client {
	return &Client{
		hub:     hub,
		conn:    conn,
		session: session,
		storyID: storyID,
		userID:  userID,
		name:    name,
		role:    role,
		limiter: limiter,
		send:    make(chan []byte, 512),
		log:     log,
	}
}

// readPump pumps inbound actions from the WebSocket connection into the
// story's serialized queue, and handles ping/pong to detect disconnects
func (c *Client) readPump() {
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
		_, raw, err := c.conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseAbnormalClosure) {
				c.log.Debug("websocket read error", "user_id", c.userID, "error", err)
			}
			break
		}

		var msg clientMessage
		if err := json.Unmarshal(raw, &msg); err != nil {
			c.log.Debug("malformed client message dropped", "user_id", c.userID, "error", err)
			continue
		}

		if !c.dispatch(&msg) {
			break
		}
	}
}

// dispatch routes one inbound action. The role tag gates capabilities:
// teacher monitors observe and may force-finish, but never write.
// Returns false when the connection should close.
func (c *Client) dispatch(msg *clientMessage) bool {
	switch msg.Action {
	case "submit":
		if c.role != models.RoleStudent {
			c.log.Warn("submit from non-student dropped", "user_id", c.userID)
			return true
		}
		if err := contributions.Validate(msg.Text); err != nil {
			c.log.Debug("submission failed validation", "user_id", c.userID, "error", err)
			return true
		}
		if c.throttled(ratelimit.ActionSubmit) {
			return true
		}
		if err := c.session.Submit(c.userID, msg.Text); err != nil {
			c.log.Debug("submit on closed session", "user_id", c.userID, "error", err)
		}

	case "vote":
		if c.role != models.RoleStudent {
			c.log.Warn("vote from non-student dropped", "user_id", c.userID)
			return true
		}
		nodeID, err := uuid.Parse(msg.BranchNodeID)
		if err != nil {
			c.log.Debug("vote with bad node id dropped", "user_id", c.userID)
			return true
		}
		if c.throttled(ratelimit.ActionVote) {
			return true
		}
		if err := c.session.CastVote(c.userID, nodeID, msg.ChoiceIdx); err != nil {
			c.log.Debug("vote on closed session", "user_id", c.userID, "error", err)
		}

	case "what_if":
		nodeID, err := uuid.Parse(msg.BranchNodeID)
		if err != nil {
			c.log.Debug("what-if with bad node id dropped", "user_id", c.userID)
			return true
		}
		if c.throttled(ratelimit.ActionWhatIf) {
			return true
		}
		go c.answerWhatIf(nodeID, msg.ChoiceIdx)

	case "finish":
		// The engine enforces that only a teacher identity succeeds.
		if err := c.session.Finish(c.userID, c.role); err != nil {
			c.log.Debug("finish on closed session", "user_id", c.userID, "error", err)
		}

	case "join_monitor":
		// Monitors are subscribed on connect; nothing to do.

	case "leave_monitor":
		return false

	default:
		c.log.Debug("unknown client action dropped", "user_id", c.userID, "action", msg.Action)
	}

	return true
}

// throttled checks the per-user action limit and notifies the client when
// the action is dropped. Limiter outages fail open.
func (c *Client) throttled(action string) bool {
	if c.limiter == nil {
		return false
	}

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()

	result, err := c.limiter.CheckActionLimit(ctx, c.userID, action)
	if err != nil || result.Allowed {
		return false
	}

	if data := c.hub.encode(EventRateLimited, RateLimitedPayload{
		Action:            action,
		RetryAfterSeconds: result.RetryAfterSeconds,
	}); data != nil {
		select {
		case c.send <- data:
		default:
		}
	}
	return true
}

// answerWhatIf runs the read-only alternate-path query off the connection
// goroutine and replies to the requester only
func (c *Client) answerWhatIf(nodeID uuid.UUID, choiceIdx int) {
	ctx, cancel := context.WithTimeout(context.Background(), whatIfTimeout)
	defer cancel()

	text, err := c.session.WhatIf(ctx, nodeID, choiceIdx)
	if err != nil {
		c.log.Debug("what-if query failed", "user_id", c.userID, "error", err)
		return
	}

	c.hub.SendToUser(c.storyID, c.userID, EventWhatIf, WhatIfPayload{
		BranchNodeID: nodeID.String(),
		ChoiceIdx:    choiceIdx,
		Text:         text,
	})
}

// writePump pumps events from the hub to the WebSocket connection
func (c *Client) writePump() {
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

			// One event per frame so clients can parse each JSON object
			// individually
			if err := c.conn.WriteMessage(websocket.TextMessage, message); err != nil {
				return
			}

			n := len(c.send)
			for i := 0; i < n; i++ {
				c.conn.SetWriteDeadline(time.Now().Add(writeWait))
				if err := c.conn.WriteMessage(websocket.TextMessage, <-c.send); err != nil {
					return
				}
			}

		case <-ticker.C:
			c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}
