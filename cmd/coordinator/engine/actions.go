package engine

import (
	"github.com/google/uuid"

	"github.com/storyloom/coordinator/common/models"
)

// action is a unit of work on a session's serialized queue. Everything that
// mutates session state — client actions and timer expiries alike — enters
// through the same channel, so two actions for one story never interleave.
type action interface {
	isAction()
}

// joinAction adds a participant to the session
type joinAction struct {
	participant models.Participant
}

// submitAction is a proposed contribution from a participant
type submitAction struct {
	userID string
	text   string
}

// castVoteAction records or replaces a participant's vote on a branch node
type castVoteAction struct {
	userID    string
	nodeID    uuid.UUID
	choiceIdx int
}

// finishAction is the teacher-privileged force-finish
type finishAction struct {
	userID string
	role   models.Role
}

// turnTimeoutAction fires when a relay holder's deadline elapses.
// gen guards against a stale timer racing a submission that was accepted
// first: the handler drops any expiry whose generation is not current.
// force bypasses the generation check (tests and supervisor use it to
// time out the current holder deterministically).
type turnTimeoutAction struct {
	gen   uint64
	force bool
}

// voteTimeoutAction fires when a branch node's countdown elapses
type voteTimeoutAction struct {
	nodeID uuid.UUID
	gen    uint64
	force  bool
}

// syncAction closes done once every previously enqueued action has been
// processed
type syncAction struct {
	done chan struct{}
}

func (joinAction) isAction()        {}
func (submitAction) isAction()      {}
func (castVoteAction) isAction()    {}
func (finishAction) isAction()      {}
func (turnTimeoutAction) isAction() {}
func (voteTimeoutAction) isAction() {}
func (syncAction) isAction()        {}
