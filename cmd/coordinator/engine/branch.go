package engine

import (
	"context"
	"time"

	"github.com/google/uuid"

	"github.com/storyloom/coordinator/common/clients"
	"github.com/storyloom/coordinator/common/models"
)

// branchJoin opens the root vote once the first participant arrives on a
// fresh branch story
func (s *Session) branchJoin(p models.Participant) {
	if s.rootRequested {
		return
	}
	s.rootRequested = true

	result, ok := s.requestChoices("")
	if !ok {
		// Root vote could not be opened; the next accepted submission
		// retries the cycle.
		s.rootRequested = false
		return
	}

	if part := s.appendAIPart(result.Text, nil); part != nil {
		s.broadcast(EventBranchAIComplete, PartPayload{NewPart: part})
	}
	s.openVote(nil, result.Choices)
}

// branchSubmit accepts a free-writing contribution between votes and opens
// the next choice set from it
func (s *Session) branchSubmit(act submitAction) {
	if s.activeNode != nil && s.activeNode.Status == models.NodeVoting {
		s.log.Debug("submission during open vote dropped",
			"story_id", s.storyID,
			"user_id", act.userID)
		return
	}

	if !s.moderate(act.userID, act.text) {
		return
	}

	part := s.appendStudentPart(act.userID, act.text)
	if part == nil {
		return
	}
	s.broadcast(EventBranchStudentSubmitted, PartPayload{NewPart: part})

	result, ok := s.requestChoices("")
	if !ok {
		return
	}
	if aiPart := s.appendAIPart(result.Text, nil); aiPart != nil {
		s.broadcast(EventBranchAIComplete, PartPayload{NewPart: aiPart})
	}
	s.openVote(s.lastNode(), result.Choices)
}

// requestChoices asks the AI service for the next continuation and choice
// set. Returns ok=false after bounded retries are exhausted, with the
// failure already broadcast.
func (s *Session) requestChoices(selectedChoice string) (*clients.ContinuationResult, bool) {
	s.setAIWriting(true)
	result, err := s.ai.Continue(context.Background(), &clients.ContinuationRequest{
		StoryID:        s.storyID.String(),
		Mode:           string(s.mode),
		StorySoFar:     partTexts(s.parts),
		SelectedChoice: selectedChoice,
		WantChoices:    true,
		ChoiceCount:    s.cfg.ChoicesPerVote,
	})
	s.setAIWriting(false)

	if err != nil {
		s.log.Error("AI choices request failed", "story_id", s.storyID, "error", err)
		s.broadcast(EventBranchAIFailed, nil)
		return nil, false
	}
	if len(result.Choices) == 0 {
		s.log.Error("AI returned no choices", "story_id", s.storyID)
		s.broadcast(EventBranchAIFailed, nil)
		return nil, false
	}

	return result, true
}

// openVote creates a branch node in voting state, zero tallies, and starts
// the countdown
func (s *Session) openVote(parent *models.BranchNode, choices []string) {
	node := &models.BranchNode{
		NodeID:     uuid.New(),
		StoryID:    s.storyID,
		Choices:    choices,
		VoteCounts: make([]int, len(choices)),
		Status:     models.NodeVoting,
		CreatedAt:  time.Now().UTC(),
	}
	if parent != nil {
		parentID := parent.NodeID
		node.ParentID = &parentID
		node.Depth = parent.Depth + 1
	}

	if err := s.store.CreateBranchNode(context.Background(), node); err != nil {
		s.log.Error("failed to persist branch node", "story_id", s.storyID, "error", err)
	}

	s.nodes = append(s.nodes, node)
	s.votes[node.NodeID] = make(map[string]int)
	s.activeNode = node
	s.voteDeadline = time.Now().Add(s.cfg.VoteWindow)

	s.voteGen++
	gen := s.voteGen
	if s.voteTimer != nil {
		s.voteTimer.Stop()
	}
	nodeID := node.NodeID
	s.voteTimer = time.AfterFunc(s.cfg.VoteWindow, func() {
		s.enqueue(voteTimeoutAction{nodeID: nodeID, gen: gen})
	})

	s.broadcast(EventBranchNewChoices, NewChoicesPayload{
		BranchNodeID: node.NodeID,
		Choices:      choices,
	})

	s.log.Debug("vote opened",
		"story_id", s.storyID,
		"node_id", node.NodeID,
		"depth", node.Depth,
		"choices", len(choices))
}

// handleCastVote replaces any prior vote from the same voter and broadcasts
// updated tallies. Votes on decided nodes or out-of-range indices are
// invalid transitions: dropped and logged.
func (s *Session) handleCastVote(act castVoteAction) {
	node := s.activeNode
	if node == nil || node.NodeID != act.nodeID || node.Status != models.NodeVoting {
		s.log.Debug("vote on inactive or decided node dropped",
			"story_id", s.storyID,
			"node_id", act.nodeID,
			"user_id", act.userID)
		return
	}
	if act.choiceIdx < 0 || act.choiceIdx >= len(node.Choices) {
		s.log.Debug("vote with out-of-range choice dropped",
			"story_id", s.storyID,
			"node_id", act.nodeID,
			"choice", act.choiceIdx)
		return
	}

	voters := s.votes[node.NodeID]
	if prev, voted := voters[act.userID]; voted {
		node.VoteCounts[prev]--
	}
	voters[act.userID] = act.choiceIdx
	node.VoteCounts[act.choiceIdx]++

	if err := s.store.UpdateBranchNode(context.Background(), node); err != nil {
		s.log.Error("failed to persist vote tallies", "story_id", s.storyID, "error", err)
	}

	s.broadcast(EventBranchVoteUpdate, VoteUpdatePayload{
		VoteCounts: append([]int(nil), node.VoteCounts...),
		TotalVotes: len(voters),
	})

	if s.everyoneVoted(node) {
		s.resolveVote(node)
	}
}

// everyoneVoted reports whether all currently online students hold a live
// vote on the node. Offline participants never block resolution.
func (s *Session) everyoneVoted(node *models.BranchNode) bool {
	if s.presence == nil {
		return false
	}
	online := s.presence.OnlineStudents(s.storyID)
	if len(online) == 0 {
		return false
	}
	voters := s.votes[node.NodeID]
	for _, id := range online {
		if _, voted := voters[id]; !voted {
			return false
		}
	}
	return true
}

// handleVoteTimeout resolves the node when the countdown expires. Stale
// expiries for already-decided nodes are dropped.
func (s *Session) handleVoteTimeout(act voteTimeoutAction) {
	node := s.activeNode
	if node == nil || node.Status != models.NodeVoting {
		return
	}
	if !act.force {
		if act.gen != s.voteGen || node.NodeID != act.nodeID {
			s.log.Debug("stale vote timeout dropped", "story_id", s.storyID, "gen", act.gen)
			return
		}
	}

	s.resolveVote(node)
}

// resolveVote decides the winner by plurality. Ties break to the lowest
// choice index; a node with zero votes resolves to choice 0 rather than
// stalling the story. A node decides exactly once.
func (s *Session) resolveVote(node *models.BranchNode) {
	if node.Status == models.NodeDecided {
		return
	}

	s.cancelVoteTimer()

	selected := 0
	for i := 1; i < len(node.VoteCounts); i++ {
		if node.VoteCounts[i] > node.VoteCounts[selected] {
			selected = i
		}
	}

	node.Status = models.NodeDecided
	node.SelectedIdx = &selected

	if err := s.store.UpdateBranchNode(context.Background(), node); err != nil {
		s.log.Error("failed to persist vote result", "story_id", s.storyID, "error", err)
	}

	selectedText := node.Choices[selected]
	s.broadcast(EventBranchVoteResult, VoteResultPayload{
		SelectedIdx:  selected,
		SelectedText: selectedText,
	})

	s.log.Info("vote resolved",
		"story_id", s.storyID,
		"node_id", node.NodeID,
		"selected", selected,
		"tallies", node.VoteCounts)

	// Record the winning direction as a story part, then extend along it.
	s.appendAIPart(selectedText, map[string]string{"kind": "branch_choice"})

	result, ok := s.requestChoices(selectedText)
	if !ok {
		// Node stays decided with its tallies; the next accepted submission
		// restarts the vote cycle.
		return
	}

	if part := s.appendAIPart(result.Text, nil); part != nil {
		s.broadcast(EventBranchAIComplete, PartPayload{NewPart: part})
	}

	s.openVote(node, result.Choices)
}

func (s *Session) lastNode() *models.BranchNode {
	if len(s.nodes) == 0 {
		return nil
	}
	return s.nodes[len(s.nodes)-1]
}
