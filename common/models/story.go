package models

import (
	"time"

	"github.com/google/uuid"
)

// StoryMode represents the collaboration mode of a story
type StoryMode string

const (
	ModeSolo      StoryMode = "solo"
	ModeRelay     StoryMode = "relay"
	ModeSameStart StoryMode = "same_start"
	ModeBranch    StoryMode = "branch"
)

// StoryStatus represents the lifecycle status of a story
type StoryStatus string

const (
	StatusWriting   StoryStatus = "writing"
	StatusCompleted StoryStatus = "completed"
)

// AuthorType distinguishes human and AI contributions
type AuthorType string

const (
	AuthorStudent AuthorType = "student"
	AuthorAI      AuthorType = "ai"
)

// Story represents a collaborative story and its ordered parts.
// Parts are mutated only by coordinator-driven appends; a single writer
// owns each story at any instant.
type Story struct {
	StoryID   uuid.UUID   `db:"story_id" json:"story_id"`
	SessionID uuid.UUID   `db:"session_id" json:"session_id"`
	Mode      StoryMode   `db:"mode" json:"mode"`
	Status    StoryStatus `db:"status" json:"status"`
	Parts     []Part      `json:"parts"`
	CreatedAt time.Time   `db:"created_at" json:"created_at"`
}

// Part represents one contribution to a story. Immutable once appended
// except for the flagged toggle, which belongs to the moderation CRUD layer.
type Part struct {
	PartID     uuid.UUID         `db:"part_id" json:"part_id"`
	StoryID    uuid.UUID         `db:"story_id" json:"story_id"`
	AuthorType AuthorType        `db:"author_type" json:"author_type"`
	AuthorID   string            `db:"author_id" json:"author_id,omitempty"` // empty for AI parts
	Position   int               `db:"position" json:"position"`
	Text       string            `db:"text" json:"text"`
	Flagged    bool              `db:"flagged" json:"flagged"`
	Metadata   map[string]string `db:"metadata" json:"metadata,omitempty"`
	CreatedAt  time.Time         `db:"created_at" json:"created_at"`
}
