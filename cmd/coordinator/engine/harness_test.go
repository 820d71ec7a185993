package engine

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"

	"github.com/storyloom/coordinator/common/clients"
	"github.com/storyloom/coordinator/common/models"
	"github.com/storyloom/coordinator/common/repository"
)

type testLogger struct {
	t *testing.T
}

func (l testLogger) logf(level, msg string, kv []interface{}) {
	l.t.Helper()
	l.t.Logf("%s: %s %v", level, msg, kv)
}

func (l testLogger) Info(msg string, kv ...interface{})  { l.logf("INFO", msg, kv) }
func (l testLogger) Error(msg string, kv ...interface{}) { l.logf("ERROR", msg, kv) }
func (l testLogger) Warn(msg string, kv ...interface{})  { l.logf("WARN", msg, kv) }
func (l testLogger) Debug(msg string, kv ...interface{}) { l.logf("DEBUG", msg, kv) }

// fakeGate scripts moderation verdicts by text
type fakeGate struct {
	mu      sync.Mutex
	reject  map[string]*clients.Verdict
	down    bool
	calls   int
	touched []string
}

func newFakeGate() *fakeGate {
	return &fakeGate{reject: make(map[string]*clients.Verdict)}
}

func (g *fakeGate) rejectText(text, reason, suggestion string) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.reject[text] = &clients.Verdict{Accepted: false, Reason: reason, Suggestion: suggestion}
}

func (g *fakeGate) Classify(ctx context.Context, text string) (*clients.Verdict, error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.calls++
	g.touched = append(g.touched, text)
	if g.down {
		return nil, errors.New("moderation service unavailable")
	}
	if v, ok := g.reject[text]; ok {
		return v, nil
	}
	return &clients.Verdict{Accepted: true}, nil
}

// fakeAI scripts continuation results and failure injection
type fakeAI struct {
	mu            sync.Mutex
	continueCalls int
	altCalls      int
	failNext      int // fail this many Continue calls, then recover
	choices       []string
	altText       string
}

func newFakeAI() *fakeAI {
	return &fakeAI{altText: "an alternate path"}
}

func (a *fakeAI) Continue(ctx context.Context, req *clients.ContinuationRequest) (*clients.ContinuationResult, error) {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.continueCalls++
	if a.failNext > 0 {
		a.failNext--
		return nil, errors.New("continuation service exhausted retries")
	}
	return &clients.ContinuationResult{
		Text:    fmt.Sprintf("ai part %d", a.continueCalls),
		Choices: append([]string(nil), a.choices...),
	}, nil
}

func (a *fakeAI) AlternatePath(ctx context.Context, req *clients.ContinuationRequest) (string, error) {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.altCalls++
	if a.failNext > 0 {
		a.failNext--
		return "", errors.New("continuation service exhausted retries")
	}
	return a.altText, nil
}

type sentEvent struct {
	UserID  string // empty for broadcasts
	Event   string
	Payload interface{}
}

// fakeBroadcaster records every event in delivery order
type fakeBroadcaster struct {
	mu     sync.Mutex
	events []sentEvent
}

func (b *fakeBroadcaster) Broadcast(storyID uuid.UUID, event string, payload interface{}) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.events = append(b.events, sentEvent{Event: event, Payload: payload})
}

func (b *fakeBroadcaster) SendToUser(storyID uuid.UUID, userID string, event string, payload interface{}) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.events = append(b.events, sentEvent{UserID: userID, Event: event, Payload: payload})
}

func (b *fakeBroadcaster) all() []sentEvent {
	b.mu.Lock()
	defer b.mu.Unlock()
	return append([]sentEvent(nil), b.events...)
}

func (b *fakeBroadcaster) named(event string) []sentEvent {
	var out []sentEvent
	for _, e := range b.all() {
		if e.Event == event {
			out = append(out, e)
		}
	}
	return out
}

func (b *fakeBroadcaster) count(event string) int {
	return len(b.named(event))
}

// fakePresence scripts which students count as online
type fakePresence struct {
	mu     sync.Mutex
	online []string
}

func (p *fakePresence) setOnline(ids ...string) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.online = ids
}

func (p *fakePresence) OnlineStudents(storyID uuid.UUID) []string {
	p.mu.Lock()
	defer p.mu.Unlock()
	return append([]string(nil), p.online...)
}

// flakyStore wraps a store and fails a scripted number of appends
type flakyStore struct {
	repository.StoryStore
	mu          sync.Mutex
	failAppends int
}

func (s *flakyStore) AppendPart(ctx context.Context, storyID uuid.UUID, part *models.Part) (*models.Part, error) {
	s.mu.Lock()
	fail := s.failAppends > 0
	if fail {
		s.failAppends--
	}
	s.mu.Unlock()
	if fail {
		return nil, errors.New("store write failed")
	}
	return s.StoryStore.AppendPart(ctx, storyID, part)
}

// fakeCache is an in-memory cache.Cache that counts hits and misses
type fakeCache struct {
	mu     sync.Mutex
	data   map[string][]byte
	hits   int
	misses int
}

func newFakeCache() *fakeCache {
	return &fakeCache{data: make(map[string][]byte)}
}

func (c *fakeCache) Get(ctx context.Context, key string) ([]byte, bool, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if v, ok := c.data[key]; ok {
		c.hits++
		return v, true, nil
	}
	c.misses++
	return nil, false, nil
}

func (c *fakeCache) Set(ctx context.Context, key string, value []byte, ttl time.Duration) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.data[key] = value
	return nil
}

func (c *fakeCache) Delete(ctx context.Context, key string) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	delete(c.data, key)
	return nil
}

func (c *fakeCache) Close() error { return nil }

type harness struct {
	session     *Session
	store       *repository.MemoryStoryStore
	gate        *fakeGate
	ai          *fakeAI
	broadcaster *fakeBroadcaster
	presence    *fakePresence
	cache       *fakeCache
	story       *models.Story
}

func mustPolicy(t *testing.T, expr string) *TurnPolicy {
	t.Helper()
	policy, err := NewTurnPolicy(expr)
	if err != nil {
		t.Fatalf("failed to compile policy %q: %v", expr, err)
	}
	return policy
}

type harnessConfig struct {
	mode     models.StoryMode
	policy   string
	store    repository.StoryStore
	onDone   func(*Session)
	choices  []string
	deadline time.Duration
}

func newHarness(t *testing.T, hc harnessConfig) *harness {
	t.Helper()

	story := &models.Story{
		StoryID:   uuid.New(),
		SessionID: uuid.New(),
		Mode:      hc.mode,
		Status:    models.StatusWriting,
	}

	memStore := repository.NewMemoryStoryStore()
	memStore.PutStory(story)

	var store repository.StoryStore = memStore
	if hc.store != nil {
		store = hc.store
	}

	if hc.policy == "" {
		hc.policy = "turn % 3 == 0"
	}
	if hc.deadline == 0 {
		hc.deadline = time.Hour // tests drive expiry explicitly
	}

	gate := newFakeGate()
	ai := newFakeAI()
	ai.choices = hc.choices
	broadcaster := &fakeBroadcaster{}
	presence := &fakePresence{}
	cc := newFakeCache()

	sess := NewSession(Options{
		Story:       story,
		Store:       store,
		Moderation:  gate,
		AI:          ai,
		Policy:      mustPolicy(t, hc.policy),
		Broadcaster: broadcaster,
		Presence:    presence,
		Cache:       cc,
		Config: Config{
			TurnDeadline:   hc.deadline,
			VoteWindow:     time.Hour,
			WhatIfTTL:      time.Minute,
			ChoicesPerVote: 3,
		},
		Logger:     testLogger{t},
		OnComplete: hc.onDone,
	})
	sess.Start()
	t.Cleanup(sess.Stop)

	return &harness{
		session:     sess,
		store:       memStore,
		gate:        gate,
		ai:          ai,
		broadcaster: broadcaster,
		presence:    presence,
		cache:       cc,
		story:       story,
	}
}

func (h *harness) join(t *testing.T, ids ...string) {
	t.Helper()
	for _, id := range ids {
		if err := h.session.Join(models.Participant{UserID: id, Name: "Student " + id}); err != nil {
			t.Fatalf("join %s: %v", id, err)
		}
	}
	h.session.flush()
}

func (h *harness) submit(t *testing.T, userID, text string) {
	t.Helper()
	if err := h.session.Submit(userID, text); err != nil {
		t.Fatalf("submit from %s: %v", userID, err)
	}
	h.session.flush()
}

func (h *harness) snapshot() *Snapshot {
	h.session.flush()
	return h.session.Snapshot()
}

func (h *harness) activeNode(t *testing.T) *models.BranchNode {
	t.Helper()
	snap := h.snapshot()
	if snap.ActiveNode == nil {
		t.Fatal("no active branch node")
	}
	return snap.ActiveNode
}
