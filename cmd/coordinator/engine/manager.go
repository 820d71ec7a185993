package engine

import (
	"context"
	"fmt"
	"sync"

	"github.com/google/uuid"

	"github.com/storyloom/coordinator/common/cache"
	"github.com/storyloom/coordinator/common/clients"
	"github.com/storyloom/coordinator/common/repository"
)

// ManagerOptions contains shared dependencies for all sessions
type ManagerOptions struct {
	Store       repository.StoryStore
	Moderation  clients.ModerationGate
	AI          clients.ContinuationService
	Policy      *TurnPolicy
	Broadcaster Broadcaster
	Presence    Presence
	Cache       cache.Cache
	Config      Config
	Logger      Logger

	// OnEvict, when set, runs after a completed story's session has been
	// removed. Used to tear down per-story presence state.
	OnEvict func(storyID uuid.UUID)
}

// Manager owns the per-story sessions. Each story gets exactly one session
// on this process instance; horizontal scaling routes a story's actions to
// one instance (sticky routing), so no distributed locking is needed here.
type Manager struct {
	opts     ManagerOptions
	mu       sync.Mutex
	sessions map[uuid.UUID]*Session
}

// NewManager creates a new session manager
func NewManager(opts ManagerOptions) *Manager {
	return &Manager{
		opts:     opts,
		sessions: make(map[uuid.UUID]*Session),
	}
}

// Get returns the live session for a story, creating and starting one from
// the story store on first use
func (m *Manager) Get(ctx context.Context, storyID uuid.UUID) (*Session, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if sess, ok := m.sessions[storyID]; ok {
		return sess, nil
	}

	story, err := m.opts.Store.GetStory(ctx, storyID)
	if err != nil {
		return nil, fmt.Errorf("failed to load story %s: %w", storyID, err)
	}

	nodes, err := m.opts.Store.GetBranchNodes(ctx, storyID)
	if err != nil {
		return nil, fmt.Errorf("failed to load branch nodes for %s: %w", storyID, err)
	}

	sess := NewSession(Options{
		Story:       story,
		Nodes:       nodes,
		Store:       m.opts.Store,
		Moderation:  m.opts.Moderation,
		AI:          m.opts.AI,
		Policy:      m.opts.Policy,
		Broadcaster: m.opts.Broadcaster,
		Presence:    m.opts.Presence,
		Cache:       m.opts.Cache,
		Config:      m.opts.Config,
		Logger:      m.opts.Logger,
		OnComplete:  m.evict,
	})
	sess.Start()
	m.sessions[storyID] = sess

	m.opts.Logger.Info("session started",
		"story_id", storyID,
		"mode", story.Mode,
		"parts", len(story.Parts))

	return sess, nil
}

// Lookup returns an existing session without creating one
func (m *Manager) Lookup(storyID uuid.UUID) (*Session, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()

	sess, ok := m.sessions[storyID]
	return sess, ok
}

// evict removes a completed session and stops its loop. The final snapshot
// stays readable from the session pointer held by connected clients.
func (m *Manager) evict(sess *Session) {
	m.mu.Lock()
	delete(m.sessions, sess.storyID)
	m.mu.Unlock()

	// Stop after the current action finishes; called from the session loop.
	sess.Stop()

	if m.opts.OnEvict != nil {
		m.opts.OnEvict(sess.storyID)
	}

	m.opts.Logger.Info("session evicted", "story_id", sess.storyID)
}

// Shutdown stops all live sessions
func (m *Manager) Shutdown(ctx context.Context) {
	m.mu.Lock()
	sessions := make([]*Session, 0, len(m.sessions))
	for _, sess := range m.sessions {
		sessions = append(sessions, sess)
	}
	m.sessions = make(map[uuid.UUID]*Session)
	m.mu.Unlock()

	for _, sess := range sessions {
		sess.Stop()
	}

	m.opts.Logger.Info("all sessions stopped", "count", len(sessions))
}
