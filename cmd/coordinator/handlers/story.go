package handlers

import (
	"net/http"

	"github.com/google/uuid"
	"github.com/labstack/echo/v4"

	"github.com/storyloom/coordinator/cmd/coordinator/engine"
	"github.com/storyloom/coordinator/cmd/coordinator/gateway"
	"github.com/storyloom/coordinator/common/bootstrap"
	"github.com/storyloom/coordinator/common/models"
	"github.com/storyloom/coordinator/common/repository"
)

// StoryHandler serves read-only story state over REST. Live stories answer
// from the in-memory session snapshot; everything else falls back to the
// story store.
type StoryHandler struct {
	manager    *engine.Manager
	registry   *gateway.Registry
	store      repository.StoryStore
	components *bootstrap.Components
}

// NewStoryHandler creates a new story handler
func NewStoryHandler(manager *engine.Manager, registry *gateway.Registry, store repository.StoryStore, components *bootstrap.Components) *StoryHandler {
	return &StoryHandler{
		manager:    manager,
		registry:   registry,
		store:      store,
		components: components,
	}
}

// SnapshotResponse is the REST view of a story's current state
type SnapshotResponse struct {
	StoryID      uuid.UUID            `json:"storyId"`
	Mode         models.StoryMode     `json:"mode"`
	Status       models.StoryStatus   `json:"status"`
	Parts        []models.Part        `json:"parts"`
	Participants []models.Participant `json:"participants"`
	Turn         *models.TurnState    `json:"turn,omitempty"`
	ActiveNode   *models.BranchNode   `json:"activeNode,omitempty"`
	SecondsLeft  int                  `json:"secondsLeft"`
	Live         bool                 `json:"live"`
}

// GetSnapshot returns the current state of a story
// GET /api/v1/stories/:id/snapshot
func (h *StoryHandler) GetSnapshot(c echo.Context) error {
	storyID, err := uuid.Parse(c.Param("id"))
	if err != nil {
		return c.JSON(http.StatusBadRequest, map[string]string{
			"error": "invalid story id",
		})
	}

	if sess, ok := h.manager.Lookup(storyID); ok {
		if snap := sess.Snapshot(); snap != nil {
			return c.JSON(http.StatusOK, SnapshotResponse{
				StoryID:      snap.StoryID,
				Mode:         snap.Mode,
				Status:       snap.Status,
				Parts:        snap.Parts,
				Participants: snap.Participants,
				Turn:         snap.Turn,
				ActiveNode:   snap.ActiveNode,
				SecondsLeft:  snap.SecondsLeft,
				Live:         true,
			})
		}
	}

	story, err := h.store.GetStory(c.Request().Context(), storyID)
	if err != nil {
		return c.JSON(http.StatusNotFound, map[string]string{
			"error": "story not found",
		})
	}

	return c.JSON(http.StatusOK, SnapshotResponse{
		StoryID:      story.StoryID,
		Mode:         story.Mode,
		Status:       story.Status,
		Parts:        story.Parts,
		Participants: h.registry.Roster(storyID),
	})
}

// GetBranchTree returns every branch node recorded for a story
// GET /api/v1/stories/:id/branches
func (h *StoryHandler) GetBranchTree(c echo.Context) error {
	storyID, err := uuid.Parse(c.Param("id"))
	if err != nil {
		return c.JSON(http.StatusBadRequest, map[string]string{
			"error": "invalid story id",
		})
	}

	nodes, err := h.store.GetBranchNodes(c.Request().Context(), storyID)
	if err != nil {
		h.components.Logger.Error("failed to load branch nodes",
			"story_id", storyID,
			"error", err)
		return c.JSON(http.StatusInternalServerError, map[string]string{
			"error": "failed to load branch nodes",
		})
	}

	return c.JSON(http.StatusOK, map[string]interface{}{
		"storyId": storyID,
		"nodes":   nodes,
	})
}
