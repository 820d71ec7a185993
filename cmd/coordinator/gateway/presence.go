package gateway

import (
	"sync"

	"github.com/google/uuid"

	"github.com/storyloom/coordinator/cmd/coordinator/engine"
	"github.com/storyloom/coordinator/common/models"
)

// Registry tracks which participants are connected to each story's live
// channel. It is the sole authority on the online flag. Disconnecting marks
// a participant offline but never removes them, so teacher views and
// analytics retain historical participants.
type Registry struct {
	mu      sync.RWMutex
	rosters map[uuid.UUID]map[string]*models.Participant
	order   map[uuid.UUID][]string
}

// NewRegistry creates an empty presence registry
func NewRegistry() *Registry {
	return &Registry{
		rosters: make(map[uuid.UUID]map[string]*models.Participant),
		order:   make(map[uuid.UUID][]string),
	}
}

// Connect adds a participant to a story's roster, or marks a returning
// participant online again. First-time joiners without a color get one
// assigned from the shared palette. The stored entry is returned.
func (r *Registry) Connect(storyID uuid.UUID, p models.Participant) models.Participant {
	r.mu.Lock()
	defer r.mu.Unlock()

	roster, ok := r.rosters[storyID]
	if !ok {
		roster = make(map[string]*models.Participant)
		r.rosters[storyID] = roster
	}

	if existing, known := roster[p.UserID]; known {
		existing.Online = true
		existing.Name = p.Name
		if p.Color != "" {
			existing.Color = p.Color
		}
		return *existing
	}

	if p.Color == "" {
		p.Color = engine.PaletteColor(len(r.order[storyID]))
	}
	p.Online = true
	roster[p.UserID] = &p
	r.order[storyID] = append(r.order[storyID], p.UserID)
	return p
}

// Disconnect marks a participant offline. The roster entry stays.
func (r *Registry) Disconnect(storyID uuid.UUID, userID string) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if p, ok := r.rosters[storyID][userID]; ok {
		p.Online = false
	}
}

// Roster returns a story's participants in join order
func (r *Registry) Roster(storyID uuid.UUID) []models.Participant {
	r.mu.RLock()
	defer r.mu.RUnlock()

	ids := r.order[storyID]
	roster := make([]models.Participant, 0, len(ids))
	for _, id := range ids {
		if p, ok := r.rosters[storyID][id]; ok {
			roster = append(roster, *p)
		}
	}
	return roster
}

// OnlineStudents returns the user IDs currently online for a story.
// Implements the vote resolver's eligibility check: only connected
// participants can be required to vote.
func (r *Registry) OnlineStudents(storyID uuid.UUID) []string {
	r.mu.RLock()
	defer r.mu.RUnlock()

	var online []string
	for _, id := range r.order[storyID] {
		if p, ok := r.rosters[storyID][id]; ok && p.Online {
			online = append(online, id)
		}
	}
	return online
}

// Evict drops a story's roster entirely. Called when a story completes or
// its owning session is torn down.
func (r *Registry) Evict(storyID uuid.UUID) {
	r.mu.Lock()
	defer r.mu.Unlock()

	delete(r.rosters, storyID)
	delete(r.order, storyID)
}
