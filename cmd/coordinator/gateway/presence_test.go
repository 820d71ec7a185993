package gateway

import (
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/storyloom/coordinator/common/models"
)

func TestRegistryAssignsColorsInJoinOrder(t *testing.T) {
	r := NewRegistry()
	storyID := uuid.New()

	first := r.Connect(storyID, models.Participant{UserID: "a", Name: "Ada"})
	second := r.Connect(storyID, models.Participant{UserID: "b", Name: "Ben"})

	assert.NotEmpty(t, first.Color)
	assert.NotEmpty(t, second.Color)
	assert.NotEqual(t, first.Color, second.Color)
	assert.True(t, first.Online)

	// An explicit color is kept as-is.
	third := r.Connect(storyID, models.Participant{UserID: "c", Name: "Cy", Color: "#123456"})
	assert.Equal(t, "#123456", third.Color)
}

func TestRegistryDisconnectMarksOfflineButKeepsEntry(t *testing.T) {
	r := NewRegistry()
	storyID := uuid.New()

	r.Connect(storyID, models.Participant{UserID: "a", Name: "Ada"})
	r.Connect(storyID, models.Participant{UserID: "b", Name: "Ben"})
	r.Disconnect(storyID, "a")

	roster := r.Roster(storyID)
	require.Len(t, roster, 2, "disconnecting never removes roster entries")
	assert.Equal(t, "a", roster[0].UserID)
	assert.False(t, roster[0].Online)
	assert.True(t, roster[1].Online)

	assert.Equal(t, []string{"b"}, r.OnlineStudents(storyID))
}

func TestRegistryReconnectKeepsColor(t *testing.T) {
	r := NewRegistry()
	storyID := uuid.New()

	joined := r.Connect(storyID, models.Participant{UserID: "a", Name: "Ada"})
	r.Disconnect(storyID, "a")

	back := r.Connect(storyID, models.Participant{UserID: "a", Name: "Ada"})
	assert.Equal(t, joined.Color, back.Color)
	assert.True(t, back.Online)

	roster := r.Roster(storyID)
	require.Len(t, roster, 1, "reconnecting must not duplicate the entry")
}

func TestRegistryRosterKeepsJoinOrder(t *testing.T) {
	r := NewRegistry()
	storyID := uuid.New()

	for _, id := range []string{"c", "a", "b"} {
		r.Connect(storyID, models.Participant{UserID: id})
	}

	roster := r.Roster(storyID)
	require.Len(t, roster, 3)
	assert.Equal(t, "c", roster[0].UserID)
	assert.Equal(t, "a", roster[1].UserID)
	assert.Equal(t, "b", roster[2].UserID)
}

func TestRegistryStoriesAreIsolated(t *testing.T) {
	r := NewRegistry()
	story1 := uuid.New()
	story2 := uuid.New()

	r.Connect(story1, models.Participant{UserID: "a"})
	r.Connect(story2, models.Participant{UserID: "b"})

	assert.Equal(t, []string{"a"}, r.OnlineStudents(story1))
	assert.Equal(t, []string{"b"}, r.OnlineStudents(story2))

	r.Evict(story1)
	assert.Empty(t, r.Roster(story1))
	require.Len(t, r.Roster(story2), 1)
}
