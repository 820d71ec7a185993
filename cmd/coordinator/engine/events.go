package engine

import (
	"github.com/google/uuid"

	"github.com/storyloom/coordinator/common/models"
)

// Event names on the per-story real-time channel. Students receive all
// non-teacher events; teacher monitors receive the same stream plus the
// teacher-only snapshot.
const (
	EventParticipantList   = "participant_list"
	EventParticipantJoined = "participant_joined"
	EventParticipantLeft   = "participant_left"

	EventRelayTurnChanged      = "relay:turn_changed"
	EventRelayTimerTick        = "relay:timer_tick"
	EventRelayStudentSubmitted = "relay:student_submitted"
	EventRelayAIWriting        = "relay:ai_writing"
	EventRelayAIComplete       = "relay:ai_complete"
	EventRelayAIFailed         = "relay:ai_failed"
	EventRelayStoryCompleted   = "relay:story_completed"
	EventRelayContentRejected  = "relay:content_rejected"

	EventBranchNewChoices       = "branch:new_choices"
	EventBranchVoteUpdate       = "branch:vote_update"
	EventBranchVoteTimerTick    = "branch:vote_timer_tick"
	EventBranchVoteResult       = "branch:vote_result"
	EventBranchAIWriting        = "branch:ai_writing"
	EventBranchAIComplete       = "branch:ai_complete"
	EventBranchAIFailed         = "branch:ai_failed"
	EventBranchStudentSubmitted = "branch:student_submitted"
	EventBranchStoryCompleted   = "branch:story_completed"
	EventBranchContentRejected  = "branch:content_rejected"

	EventTeacherSnapshot = "teacher:story_snapshot"
)

// TurnChangedPayload announces the new holder and, for anticipatory UI,
// the holder after that
type TurnChangedPayload struct {
	CurrentStudentID   string `json:"currentStudentId"`
	CurrentStudentName string `json:"currentStudentName"`
	NextStudentID      string `json:"nextStudentId"`
	NextStudentName    string `json:"nextStudentName"`
	TurnNumber         int    `json:"turnNumber"`
}

// TimerTickPayload is the relay countdown heartbeat
type TimerTickPayload struct {
	SecondsLeft  int `json:"secondsLeft"`
	TotalSeconds int `json:"totalSeconds"`
}

// PartPayload carries a newly appended part
type PartPayload struct {
	NewPart *models.Part `json:"newPart"`
}

// ContentRejectedPayload is sent to the submitting client only
type ContentRejectedPayload struct {
	Reason     string `json:"reason"`
	Suggestion string `json:"suggestion,omitempty"`
}

// NewChoicesPayload opens a branch vote
type NewChoicesPayload struct {
	BranchNodeID uuid.UUID `json:"branchNodeId"`
	Choices      []string  `json:"choices"`
}

// VoteUpdatePayload carries live tallies
type VoteUpdatePayload struct {
	VoteCounts []int `json:"voteCounts"`
	TotalVotes int   `json:"totalVotes"`
}

// VoteTimerTickPayload is the vote countdown heartbeat
type VoteTimerTickPayload struct {
	SecondsLeft int `json:"secondsLeft"`
}

// VoteResultPayload announces a decided branch node
type VoteResultPayload struct {
	SelectedIdx  int    `json:"selectedIdx"`
	SelectedText string `json:"selectedText"`
}

// StorySnapshotPayload is the teacher monitor's initial pull
type StorySnapshotPayload struct {
	Parts  []models.Part      `json:"parts"`
	Status models.StoryStatus `json:"status"`
}

// Broadcaster fans events out to a story's connected clients. The gateway
// implements it with a capability-tagged subscriber list per story.
type Broadcaster interface {
	Broadcast(storyID uuid.UUID, event string, payload interface{})
	SendToUser(storyID uuid.UUID, userID string, event string, payload interface{})
}

// Presence reports which student participants are currently connected to
// a story's channel. The registry marks participants offline on disconnect
// but never removes them.
type Presence interface {
	OnlineStudents(storyID uuid.UUID) []string
}
