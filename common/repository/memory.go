package repository

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/storyloom/coordinator/common/models"
)

// MemoryStoryStore is an in-memory StoryStore for tests and local runs
type MemoryStoryStore struct {
	stories map[uuid.UUID]*models.Story
	nodes   map[uuid.UUID][]*models.BranchNode
	mu      sync.RWMutex
}

// NewMemoryStoryStore creates a new in-memory story store
func NewMemoryStoryStore() *MemoryStoryStore {
	return &MemoryStoryStore{
		stories: make(map[uuid.UUID]*models.Story),
		nodes:   make(map[uuid.UUID][]*models.BranchNode),
	}
}

// PutStory seeds a story (stories are created by the session CRUD flow,
// not by the coordinator)
func (r *MemoryStoryStore) PutStory(story *models.Story) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.stories[story.StoryID] = story
}

// GetStory retrieves a story and a copy of its parts
func (r *MemoryStoryStore) GetStory(ctx context.Context, storyID uuid.UUID) (*models.Story, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	story, ok := r.stories[storyID]
	if !ok {
		return nil, fmt.Errorf("story not found: %s", storyID)
	}

	out := *story
	out.Parts = make([]models.Part, len(story.Parts))
	copy(out.Parts, story.Parts)
	return &out, nil
}

// AppendPart appends a part at the next position
func (r *MemoryStoryStore) AppendPart(ctx context.Context, storyID uuid.UUID, part *models.Part) (*models.Part, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	story, ok := r.stories[storyID]
	if !ok {
		return nil, fmt.Errorf("story not found: %s", storyID)
	}

	part.PartID = uuid.New()
	part.StoryID = storyID
	part.Position = len(story.Parts)
	part.CreatedAt = time.Now().UTC()
	story.Parts = append(story.Parts, *part)

	return part, nil
}

// UpdateStatus updates a story's status
func (r *MemoryStoryStore) UpdateStatus(ctx context.Context, storyID uuid.UUID, status models.StoryStatus) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	story, ok := r.stories[storyID]
	if !ok {
		return fmt.Errorf("story not found: %s", storyID)
	}
	story.Status = status
	return nil
}

// CreateBranchNode stores a new branch node
func (r *MemoryStoryStore) CreateBranchNode(ctx context.Context, node *models.BranchNode) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	cp := *node
	r.nodes[node.StoryID] = append(r.nodes[node.StoryID], &cp)
	return nil
}

// UpdateBranchNode updates a stored branch node
func (r *MemoryStoryStore) UpdateBranchNode(ctx context.Context, node *models.BranchNode) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	for i, n := range r.nodes[node.StoryID] {
		if n.NodeID == node.NodeID {
			cp := *node
			r.nodes[node.StoryID][i] = &cp
			return nil
		}
	}
	return fmt.Errorf("branch node not found: %s", node.NodeID)
}

// GetBranchNodes returns all branch nodes for a story, oldest first
func (r *MemoryStoryStore) GetBranchNodes(ctx context.Context, storyID uuid.UUID) ([]*models.BranchNode, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	nodes := r.nodes[storyID]
	out := make([]*models.BranchNode, len(nodes))
	for i, n := range nodes {
		cp := *n
		out[i] = &cp
	}
	return out, nil
}
