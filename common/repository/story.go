package repository

import (
	"context"

	"github.com/google/uuid"

	"github.com/storyloom/coordinator/common/models"
)

// StoryStore is the durable record of a story's ordered parts, status and
// branch tree. The coordinator treats it as an external collaborator: every
// mutation flows through a per-story serialized queue, so implementations
// never see concurrent writes for the same story.
type StoryStore interface {
	// GetStory returns the story with its parts in position order.
	GetStory(ctx context.Context, storyID uuid.UUID) (*models.Story, error)

	// AppendPart appends a part at the next position and returns it with
	// PartID, Position and CreatedAt populated.
	AppendPart(ctx context.Context, storyID uuid.UUID, part *models.Part) (*models.Part, error)

	// UpdateStatus moves a story between writing and completed.
	UpdateStatus(ctx context.Context, storyID uuid.UUID, status models.StoryStatus) error

	// CreateBranchNode persists a new branch node in voting state.
	CreateBranchNode(ctx context.Context, node *models.BranchNode) error

	// UpdateBranchNode persists tallies, status and selected index.
	UpdateBranchNode(ctx context.Context, node *models.BranchNode) error

	// GetBranchNodes returns all branch nodes for a story, oldest first.
	GetBranchNodes(ctx context.Context, storyID uuid.UUID) ([]*models.BranchNode, error)
}
