package engine

import (
	"context"
	"time"

	"github.com/storyloom/coordinator/common/clients"
	"github.com/storyloom/coordinator/common/models"
)

// relayJoin adds a student to the rotation. The rotation is a fixed cyclic
// sequence: members are appended on join and never silently re-ordered.
func (s *Session) relayJoin(p models.Participant) {
	for _, id := range s.rotation {
		if id == p.UserID {
			return
		}
	}
	s.rotation = append(s.rotation, p.UserID)

	if s.state == stateIdle {
		s.holderIdx = 0
		s.turnNumber = 1
		s.state = stateAwaiting
		s.startTurn()
	}
}

// startTurn arms the deadline timer for the current holder and announces
// the handover, including the next holder for anticipatory UI
func (s *Session) startTurn() {
	s.deadline = time.Now().Add(s.cfg.TurnDeadline)

	s.timerGen++
	gen := s.timerGen
	if s.turnTimer != nil {
		s.turnTimer.Stop()
	}
	s.turnTimer = time.AfterFunc(s.cfg.TurnDeadline, func() {
		// Expiry is just another queued action: if a submission was
		// accepted first, the generation check below makes this a no-op.
		s.enqueue(turnTimeoutAction{gen: gen})
	})

	holder := s.participants[s.holder()]
	next := s.participants[s.nextHolder()]

	s.broadcast(EventRelayTurnChanged, TurnChangedPayload{
		CurrentStudentID:   holder.UserID,
		CurrentStudentName: holder.Name,
		NextStudentID:      next.UserID,
		NextStudentName:    next.Name,
		TurnNumber:         s.turnNumber,
	})

	s.log.Debug("turn started",
		"story_id", s.storyID,
		"holder", holder.UserID,
		"turn", s.turnNumber)
}

func (s *Session) nextHolder() string {
	if len(s.rotation) == 0 {
		return ""
	}
	return s.rotation[(s.holderIdx+1)%len(s.rotation)]
}

// relaySubmit accepts a contribution from the current holder. Submissions
// from anyone else — including a holder whose turn already timed out — are
// invalid transitions: logged and dropped without a broadcast.
func (s *Session) relaySubmit(act submitAction) {
	if s.state != stateAwaiting {
		s.log.Debug("submission outside awaiting_submission dropped",
			"story_id", s.storyID,
			"user_id", act.userID,
			"state", s.state)
		return
	}
	if act.userID != s.holder() {
		s.log.Debug("submission from non-holder dropped",
			"story_id", s.storyID,
			"user_id", act.userID,
			"holder", s.holder())
		return
	}

	if !s.moderate(act.userID, act.text) {
		// Holder keeps the turn and the running deadline.
		return
	}

	// Submission accepted: from here on a queued timeout is stale.
	s.cancelTurnTimer()

	part := s.appendStudentPart(act.userID, act.text)
	if part == nil {
		// Store failure: keep the holder and re-arm the deadline so the
		// story cannot stall.
		s.startTurn()
		return
	}

	s.acceptedTurns++
	s.broadcast(EventRelayStudentSubmitted, PartPayload{NewPart: part})

	aiTurn, err := s.policy.ShouldAIWrite(s.acceptedTurns, len(s.parts), len(s.rotation))
	if err != nil {
		s.log.Error("turn policy evaluation failed", "story_id", s.storyID, "error", err)
	}
	if aiTurn {
		s.relayAITurn()
	}

	s.advanceTurn()
}

// relayAITurn requests an AI continuation between human turns. On upstream
// exhaustion the rotation advances anyway: the turn is released instead of
// stalling the story.
func (s *Session) relayAITurn() {
	s.setAIWriting(true)
	result, err := s.ai.Continue(context.Background(), &clients.ContinuationRequest{
		StoryID:    s.storyID.String(),
		Mode:       string(s.mode),
		StorySoFar: partTexts(s.parts),
	})
	s.setAIWriting(false)

	if err != nil {
		s.log.Error("AI continuation failed", "story_id", s.storyID, "error", err)
		s.broadcast(EventRelayAIFailed, nil)
		return
	}

	if part := s.appendAIPart(result.Text, nil); part != nil {
		s.broadcast(EventRelayAIComplete, PartPayload{NewPart: part})
	}
}

// advanceTurn hands the turn to the next rotation member and restarts the
// deadline. With a rotation of one, the holder simply gets the turn back.
func (s *Session) advanceTurn() {
	if s.status == models.StatusCompleted {
		return
	}

	s.holderIdx = (s.holderIdx + 1) % len(s.rotation)
	s.turnNumber++
	s.state = stateAwaiting
	s.startTurn()
}

// handleTurnTimeout skips the timed-out holder without writing a part.
// Stale expiries — a submission accepted in the same instant, or a timer
// from a previous turn — are dropped by the generation check.
func (s *Session) handleTurnTimeout(act turnTimeoutAction) {
	if s.mode != models.ModeRelay || s.state != stateAwaiting {
		return
	}
	if !act.force && act.gen != s.timerGen {
		s.log.Debug("stale turn timeout dropped", "story_id", s.storyID, "gen", act.gen)
		return
	}

	s.log.Info("turn timed out, skipping holder",
		"story_id", s.storyID,
		"holder", s.holder(),
		"turn", s.turnNumber)

	s.cancelTurnTimer()
	s.advanceTurn()
}

// soloSubmit is the thin path for solo and same_start stories: one author,
// no rotation, no deadline
func (s *Session) soloSubmit(act submitAction) {
	if !s.moderate(act.userID, act.text) {
		return
	}

	if part := s.appendStudentPart(act.userID, act.text); part != nil {
		s.broadcast(EventRelayStudentSubmitted, PartPayload{NewPart: part})
	}
}
