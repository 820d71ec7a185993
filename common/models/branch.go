package models

import (
	"time"

	"github.com/google/uuid"
)

// BranchNodeStatus represents a branch node's voting lifecycle
type BranchNodeStatus string

const (
	NodeVoting  BranchNodeStatus = "voting"
	NodeDecided BranchNodeStatus = "decided"
)

// BranchNode is a decision point in a branch-mode story. Nodes form an
// arena keyed by story: parents are referenced by ID, never by pointer,
// so the tree serializes and replays cleanly on reconnect.
// A node transitions voting -> decided exactly once; votes received after
// the decision are dropped.
type BranchNode struct {
	NodeID      uuid.UUID        `db:"node_id" json:"branchNodeId"`
	StoryID     uuid.UUID        `db:"story_id" json:"storyId"`
	ParentID    *uuid.UUID       `db:"parent_id" json:"parentId,omitempty"` // nil for root
	Depth       int              `db:"depth" json:"depth"`
	Choices     []string         `db:"choices" json:"choices"`
	VoteCounts  []int            `db:"vote_counts" json:"voteCounts"`
	Status      BranchNodeStatus `db:"status" json:"status"`
	SelectedIdx *int             `db:"selected_idx" json:"selectedIdx,omitempty"` // nil until decided
	CreatedAt   time.Time        `db:"created_at" json:"createdAt"`
}

// Vote is a (node, voter) pair. A voter holds at most one live vote per
// node; a later vote replaces the earlier one.
type Vote struct {
	NodeID    uuid.UUID `db:"node_id" json:"branchNodeId"`
	VoterID   string    `db:"voter_id" json:"voterId"`
	ChoiceIdx int       `db:"choice_idx" json:"choiceIdx"`
}
