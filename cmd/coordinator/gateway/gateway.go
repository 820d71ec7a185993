package gateway

import (
	"context"
	"fmt"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"

	"github.com/storyloom/coordinator/cmd/coordinator/engine"
	"github.com/storyloom/coordinator/common/models"
	"github.com/storyloom/coordinator/common/ratelimit"
)

// Gateway is the single per-story entry point: it owns the connect and
// snapshot-replay flow, and every client action it accepts is serialized
// into the story's session queue.
type Gateway struct {
	hub      *Hub
	registry *Registry
	manager  *engine.Manager
	limiter  *ratelimit.RateLimiter
	log      Logger
}

// New creates a new Gateway. limiter may be nil when Redis is not
// configured, which disables per-action throttling.
func New(hub *Hub, registry *Registry, manager *engine.Manager, limiter *ratelimit.RateLimiter, log Logger) *Gateway {
	return &Gateway{
		hub:      hub,
		registry: registry,
		manager:  manager,
		limiter:  limiter,
		log:      log,
	}
}

// Connect attaches an upgraded WebSocket connection to a story channel.
// Students are joined into the session and announced; teacher monitors
// subscribe read-only. Every client gets a consistent snapshot replay.
func (g *Gateway) Connect(ctx context.Context, conn *websocket.Conn, storyID uuid.UUID, p models.Participant, role models.Role) error {
	session, err := g.manager.Get(ctx, storyID)
	if err != nil {
		return fmt.Errorf("failed to open session: %w", err)
	}

	if role == models.RoleStudent {
		p = g.registry.Connect(storyID, p)
		if err := session.Join(p); err != nil {
			return fmt.Errorf("failed to join session: %w", err)
		}
	}

	client := NewClient(g.hub, conn, session, storyID, p.UserID, p.Name, role, g.limiter, g.log)
	g.hub.register <- client

	go client.writePump()
	go client.readPump()

	g.replaySnapshot(client, session)

	if role == models.RoleStudent {
		g.hub.Broadcast(storyID, engine.EventParticipantJoined, p)
	}

	g.log.Info("client connected",
		"story_id", storyID,
		"user_id", p.UserID,
		"role", role)

	return nil
}

// replaySnapshot sends the current roster, parts and turn/vote state to a
// (re)connecting client so every subscriber sees the same live view
func (g *Gateway) replaySnapshot(client *Client, session *engine.Session) {
	g.sendDirect(client, engine.EventParticipantList, g.registry.Roster(client.storyID))

	snap := session.Snapshot()
	if snap == nil {
		return
	}

	if snap.Turn != nil && snap.Status == models.StatusWriting {
		g.sendDirect(client, engine.EventRelayTurnChanged, turnPayload(snap))
	}

	if snap.ActiveNode != nil && snap.ActiveNode.Status == models.NodeVoting {
		g.sendDirect(client, engine.EventBranchNewChoices, engine.NewChoicesPayload{
			BranchNodeID: snap.ActiveNode.NodeID,
			Choices:      snap.ActiveNode.Choices,
		})
		g.sendDirect(client, engine.EventBranchVoteUpdate, engine.VoteUpdatePayload{
			VoteCounts: snap.ActiveNode.VoteCounts,
			TotalVotes: totalVotes(snap.ActiveNode.VoteCounts),
		})
	}

	snapshotEvent := "story_snapshot"
	if client.role == models.RoleTeacher {
		snapshotEvent = engine.EventTeacherSnapshot
	}
	g.sendDirect(client, snapshotEvent, engine.StorySnapshotPayload{
		Parts:  snap.Parts,
		Status: snap.Status,
	})
}

// sendDirect delivers an event to one client without going through the
// broadcast queue
func (g *Gateway) sendDirect(client *Client, event string, payload interface{}) {
	data := g.hub.encode(event, payload)
	if data == nil {
		return
	}
	select {
	case client.send <- data:
	default:
		g.log.Warn("client send buffer full during snapshot replay",
			"story_id", client.storyID,
			"user_id", client.userID)
	}
}

func turnPayload(snap *engine.Snapshot) engine.TurnChangedPayload {
	names := make(map[string]string, len(snap.Participants))
	for _, p := range snap.Participants {
		names[p.UserID] = p.Name
	}

	payload := engine.TurnChangedPayload{
		CurrentStudentID:   snap.Turn.HolderID,
		CurrentStudentName: names[snap.Turn.HolderID],
		TurnNumber:         snap.Turn.TurnNumber,
	}

	rotation := snap.Turn.Rotation
	for i, id := range rotation {
		if id == snap.Turn.HolderID {
			next := rotation[(i+1)%len(rotation)]
			payload.NextStudentID = next
			payload.NextStudentName = names[next]
			break
		}
	}

	return payload
}

func totalVotes(counts []int) int {
	total := 0
	for _, c := range counts {
		total += c
	}
	return total
}
