package engine

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"

	"github.com/storyloom/coordinator/common/cache"
	"github.com/storyloom/coordinator/common/clients"
	"github.com/storyloom/coordinator/common/models"
	"github.com/storyloom/coordinator/common/repository"
)

// Logger interface for logging
type Logger interface {
	Info(msg string, keysAndValues ...interface{})
	Error(msg string, keysAndValues ...interface{})
	Warn(msg string, keysAndValues ...interface{})
	Debug(msg string, keysAndValues ...interface{})
}

// Config holds per-session policy knobs
type Config struct {
	TurnDeadline   time.Duration
	VoteWindow     time.Duration
	WhatIfTTL      time.Duration
	ChoicesPerVote int
}

// Options contains dependencies for creating a session
type Options struct {
	Story       *models.Story
	Nodes       []*models.BranchNode // existing branch tree, for resume
	Store       repository.StoryStore
	Moderation  clients.ModerationGate
	AI          clients.ContinuationService
	Policy      *TurnPolicy
	Broadcaster Broadcaster
	Presence    Presence
	Cache       cache.Cache
	Config      Config
	Logger      Logger

	// OnComplete runs on the session loop after the story completes.
	// The manager uses it to evict finished sessions.
	OnComplete func(*Session)
}

type sessionState string

const (
	stateIdle      sessionState = "idle"
	stateAwaiting  sessionState = "awaiting_submission"
	stateAIWriting sessionState = "ai_writing"
	stateCompleted sessionState = "completed"
)

// Snapshot is a consistent, read-only view of a session, published after
// every processed action. Reads never enter the action queue, so snapshot
// requests stay cheap while an AI continuation is in flight.
type Snapshot struct {
	StoryID      uuid.UUID
	SessionID    uuid.UUID
	Mode         models.StoryMode
	Status       models.StoryStatus
	State        string
	Parts        []models.Part
	Participants []models.Participant
	Turn         *models.TurnState
	Nodes        []*models.BranchNode
	ActiveNode   *models.BranchNode
	SecondsLeft  int
}

// Session is the single-writer actor for one story. All client actions and
// timer expiries are serialized through one channel; two sessions run fully
// independently.
type Session struct {
	storyID   uuid.UUID
	sessionID uuid.UUID
	mode      models.StoryMode

	store       repository.StoryStore
	moderation  clients.ModerationGate
	ai          clients.ContinuationService
	policy      *TurnPolicy
	broadcaster Broadcaster
	presence    Presence
	cache       cache.Cache
	cfg         Config
	log         Logger
	onComplete  func(*Session)

	actions  chan action
	stopped  chan struct{}
	stopOnce sync.Once
	ticker   *time.Ticker

	// Everything below is owned by the run loop and never touched from
	// outside it.
	status        models.StoryStatus
	state         sessionState
	parts         []models.Part
	participants  map[string]models.Participant
	joinOrder     []string
	rotation      []string
	holderIdx     int
	turnNumber    int
	acceptedTurns int
	deadline      time.Time
	timerGen      uint64
	turnTimer     *time.Timer

	nodes         []*models.BranchNode
	votes         map[uuid.UUID]map[string]int
	activeNode    *models.BranchNode
	voteDeadline  time.Time
	voteGen       uint64
	voteTimer     *time.Timer
	aiInFlight    bool
	rootRequested bool

	snapshot atomic.Pointer[Snapshot]
}

// NewSession creates a session for a story. Call Start to begin processing.
func NewSession(opts Options) *Session {
	s := &Session{
		storyID:      opts.Story.StoryID,
		sessionID:    opts.Story.SessionID,
		mode:         opts.Story.Mode,
		store:        opts.Store,
		moderation:   opts.Moderation,
		ai:           opts.AI,
		policy:       opts.Policy,
		broadcaster:  opts.Broadcaster,
		presence:     opts.Presence,
		cache:        opts.Cache,
		cfg:          opts.Config,
		log:          opts.Logger,
		onComplete:   opts.OnComplete,
		actions:      make(chan action, 256),
		stopped:      make(chan struct{}),
		status:       opts.Story.Status,
		state:        stateIdle,
		parts:        append([]models.Part(nil), opts.Story.Parts...),
		participants: make(map[string]models.Participant),
		votes:        make(map[uuid.UUID]map[string]int),
	}

	if opts.Story.Status == models.StatusCompleted {
		s.state = stateCompleted
	}

	for _, node := range opts.Nodes {
		s.nodes = append(s.nodes, node)
		s.votes[node.NodeID] = make(map[string]int)
		if node.Status == models.NodeVoting {
			s.activeNode = node
		}
	}
	if s.activeNode != nil || len(s.nodes) > 0 {
		s.rootRequested = true
	}

	s.publishSnapshot()
	return s
}

// Start launches the session loop
func (s *Session) Start() {
	s.ticker = time.NewTicker(1 * time.Second)
	go s.run()
}

// Stop terminates the session loop and cancels all pending timers.
// A disconnecting client never triggers this: sessions are server-owned.
func (s *Session) Stop() {
	s.stopOnce.Do(func() {
		close(s.stopped)
	})
}

// StoryID returns the story this session coordinates
func (s *Session) StoryID() uuid.UUID {
	return s.storyID
}

// Join adds a participant to the session
func (s *Session) Join(p models.Participant) error {
	return s.enqueue(joinAction{participant: p})
}

// Submit proposes a contribution from a participant
func (s *Session) Submit(userID, text string) error {
	return s.enqueue(submitAction{userID: userID, text: text})
}

// CastVote records or replaces a vote on a branch node
func (s *Session) CastVote(userID string, nodeID uuid.UUID, choiceIdx int) error {
	return s.enqueue(castVoteAction{userID: userID, nodeID: nodeID, choiceIdx: choiceIdx})
}

// Finish force-finishes the story. Only a teacher identity succeeds; the
// check happens on the session loop against the supplied role.
func (s *Session) Finish(userID string, role models.Role) error {
	return s.enqueue(finishAction{userID: userID, role: role})
}

// ExpireTurn forces the current relay holder to time out, regardless of
// the wall-clock deadline
func (s *Session) ExpireTurn() error {
	return s.enqueue(turnTimeoutAction{force: true})
}

// ExpireVote forces the active branch vote to resolve with current tallies
func (s *Session) ExpireVote() error {
	return s.enqueue(voteTimeoutAction{force: true})
}

// Snapshot returns the latest published view of the session. Never blocks.
func (s *Session) Snapshot() *Snapshot {
	return s.snapshot.Load()
}

// WhatIf generates an illustrative alternate-path text for a non-selected
// choice. It mutates nothing: results are cached by (node, choice) so
// repeated queries are idempotent and cost no additional AI calls.
func (s *Session) WhatIf(ctx context.Context, nodeID uuid.UUID, choiceIdx int) (string, error) {
	snap := s.Snapshot()

	var node *models.BranchNode
	for _, n := range snap.Nodes {
		if n.NodeID == nodeID {
			node = n
			break
		}
	}
	if node == nil {
		return "", fmt.Errorf("%w: unknown branch node %s", ErrInvalidTransition, nodeID)
	}
	if choiceIdx < 0 || choiceIdx >= len(node.Choices) {
		return "", fmt.Errorf("%w: choice index %d out of range", ErrInvalidTransition, choiceIdx)
	}

	key := fmt.Sprintf("whatif:%s:%d", nodeID, choiceIdx)
	if s.cache != nil {
		if val, ok, err := s.cache.Get(ctx, key); err == nil && ok {
			return string(val), nil
		}
	}

	text, err := s.ai.AlternatePath(ctx, &clients.ContinuationRequest{
		StoryID:        s.storyID.String(),
		Mode:           string(s.mode),
		StorySoFar:     partTexts(snap.Parts),
		SelectedChoice: node.Choices[choiceIdx],
	})
	if err != nil {
		return "", &UpstreamError{Op: "alternate path", Err: err}
	}

	if s.cache != nil {
		if err := s.cache.Set(ctx, key, []byte(text), s.cfg.WhatIfTTL); err != nil {
			s.log.Warn("failed to cache what-if text", "story_id", s.storyID, "error", err)
		}
	}

	return text, nil
}

// enqueue places an action on the serialized queue
func (s *Session) enqueue(a action) error {
	select {
	case <-s.stopped:
		return ErrSessionClosed
	case s.actions <- a:
		return nil
	}
}

// flush blocks until all previously enqueued actions have been processed
func (s *Session) flush() {
	done := make(chan struct{})
	if err := s.enqueue(syncAction{done: done}); err != nil {
		return
	}
	<-done
}

func (s *Session) run() {
	defer s.ticker.Stop()

	for {
		select {
		case <-s.stopped:
			s.cancelTurnTimer()
			s.cancelVoteTimer()
			return
		case a := <-s.actions:
			s.safeApply(a)
			s.publishSnapshot()
		case <-s.ticker.C:
			s.handleTick()
		}
	}
}

// safeApply isolates a panic to the action that caused it. One story's
// failure must never take down the process or other stories' queues.
func (s *Session) safeApply(a action) {
	defer func() {
		if r := recover(); r != nil {
			s.log.Error("panic in session action", "story_id", s.storyID, "panic", r)
		}
	}()
	s.apply(a)
}

// apply processes one action. This is the per-story critical section: a
// timer expiry and a submission can both be queued, but whichever is
// applied first wins and the other evaluates against the updated state.
func (s *Session) apply(a action) {
	switch act := a.(type) {
	case joinAction:
		s.handleJoin(act)
	case submitAction:
		s.handleSubmit(act)
	case castVoteAction:
		s.handleCastVote(act)
	case finishAction:
		s.handleFinish(act)
	case turnTimeoutAction:
		s.handleTurnTimeout(act)
	case voteTimeoutAction:
		s.handleVoteTimeout(act)
	case syncAction:
		close(act.done)
	}
}

func (s *Session) handleJoin(act joinAction) {
	p := act.participant
	if s.status == models.StatusCompleted {
		s.log.Debug("join on completed story ignored", "story_id", s.storyID, "user_id", p.UserID)
		return
	}

	if _, known := s.participants[p.UserID]; !known {
		if p.Color == "" {
			p.Color = PaletteColor(len(s.joinOrder))
		}
		s.joinOrder = append(s.joinOrder, p.UserID)
	}
	p.Online = true
	s.participants[p.UserID] = p

	switch s.mode {
	case models.ModeRelay:
		s.relayJoin(p)
	case models.ModeBranch:
		s.branchJoin(p)
	}
}

func (s *Session) handleSubmit(act submitAction) {
	if s.status == models.StatusCompleted || s.aiInFlight {
		s.log.Debug("submission rejected",
			"story_id", s.storyID,
			"user_id", act.userID,
			"reason", "story completed or AI writing")
		return
	}

	switch s.mode {
	case models.ModeRelay:
		s.relaySubmit(act)
	case models.ModeBranch:
		s.branchSubmit(act)
	default:
		s.soloSubmit(act)
	}
}

func (s *Session) handleFinish(act finishAction) {
	if act.role != models.RoleTeacher {
		s.log.Warn("finish rejected for non-teacher identity",
			"story_id", s.storyID,
			"user_id", act.userID)
		return
	}
	if s.status == models.StatusCompleted {
		s.log.Debug("finish on completed story ignored", "story_id", s.storyID)
		return
	}

	s.cancelTurnTimer()
	s.cancelVoteTimer()

	// Final wrap-up continuation. If the AI service is down the story still
	// completes, just without a closing part.
	s.setAIWriting(true)
	result, err := s.ai.Continue(context.Background(), &clients.ContinuationRequest{
		StoryID:    s.storyID.String(),
		Mode:       string(s.mode),
		StorySoFar: partTexts(s.parts),
		Directive:  "wrap_up",
	})
	s.setAIWriting(false)

	if err != nil {
		s.log.Error("wrap-up continuation failed", "story_id", s.storyID, "error", err)
		s.broadcast(s.aiFailedEvent(), nil)
	} else if part := s.appendAIPart(result.Text, nil); part != nil {
		s.broadcast(s.aiCompleteEvent(), PartPayload{NewPart: part})
	}

	s.completeStory()
}

func (s *Session) completeStory() {
	s.status = models.StatusCompleted
	s.state = stateCompleted
	s.cancelTurnTimer()
	s.cancelVoteTimer()

	if err := s.store.UpdateStatus(context.Background(), s.storyID, models.StatusCompleted); err != nil {
		s.log.Error("failed to persist story completion", "story_id", s.storyID, "error", err)
	}

	if s.mode == models.ModeBranch {
		s.broadcast(EventBranchStoryCompleted, nil)
	} else {
		s.broadcast(EventRelayStoryCompleted, nil)
	}

	s.log.Info("story completed", "story_id", s.storyID, "parts", len(s.parts))

	if s.onComplete != nil {
		s.onComplete(s)
	}
}

func (s *Session) handleTick() {
	// Ticks are processed inline rather than enqueued so that a busy queue
	// cannot pile up stale heartbeats, but they only read loop-owned state.
	s.emitCountdowns()
}

func (s *Session) emitCountdowns() {
	if s.status == models.StatusCompleted {
		return
	}

	if s.mode == models.ModeRelay && s.state == stateAwaiting {
		left := int(time.Until(s.deadline).Seconds())
		if left < 0 {
			left = 0
		}
		s.broadcast(EventRelayTimerTick, TimerTickPayload{
			SecondsLeft:  left,
			TotalSeconds: int(s.cfg.TurnDeadline.Seconds()),
		})
	}

	if s.mode == models.ModeBranch && s.activeNode != nil && s.activeNode.Status == models.NodeVoting {
		left := int(time.Until(s.voteDeadline).Seconds())
		if left < 0 {
			left = 0
		}
		s.broadcast(EventBranchVoteTimerTick, VoteTimerTickPayload{SecondsLeft: left})
	}
}

// moderate runs proposed text through the moderation gate. A gate outage is
// surfaced to the submitter like a rejection: the turn is not burned.
func (s *Session) moderate(userID, text string) bool {
	ctx := clients.WithStoryID(clients.WithUserID(context.Background(), userID), s.storyID.String())

	verdict, err := s.moderation.Classify(ctx, text)
	if err != nil {
		s.log.Error("moderation gate unavailable", "story_id", s.storyID, "error", err)
		s.sendToUser(userID, s.contentRejectedEvent(), ContentRejectedPayload{
			Reason: "moderation unavailable, please try again",
		})
		return false
	}

	if !verdict.Accepted {
		s.log.Info("contribution rejected by moderation",
			"story_id", s.storyID,
			"user_id", userID,
			"reason", verdict.Reason)
		s.sendToUser(userID, s.contentRejectedEvent(), ContentRejectedPayload{
			Reason:     verdict.Reason,
			Suggestion: verdict.Suggestion,
		})
		return false
	}

	return true
}

func (s *Session) appendStudentPart(userID, text string) *models.Part {
	p := s.participants[userID]
	part := &models.Part{
		AuthorType: models.AuthorStudent,
		AuthorID:   userID,
		Text:       text,
		Metadata: map[string]string{
			"authorName":  p.Name,
			"authorColor": p.Color,
		},
	}

	appended, err := s.store.AppendPart(context.Background(), s.storyID, part)
	if err != nil {
		s.log.Error("failed to append student part", "story_id", s.storyID, "error", err)
		return nil
	}

	s.parts = append(s.parts, *appended)
	return appended
}

func (s *Session) appendAIPart(text string, metadata map[string]string) *models.Part {
	if text == "" {
		return nil
	}

	part := &models.Part{
		AuthorType: models.AuthorAI,
		Text:       text,
		Metadata:   metadata,
	}

	appended, err := s.store.AppendPart(context.Background(), s.storyID, part)
	if err != nil {
		s.log.Error("failed to append AI part", "story_id", s.storyID, "error", err)
		return nil
	}

	s.parts = append(s.parts, *appended)
	return appended
}

func (s *Session) setAIWriting(writing bool) {
	s.aiInFlight = writing
	if s.mode == models.ModeRelay {
		if writing {
			s.state = stateAIWriting
		}
	}
	if writing {
		if s.mode == models.ModeBranch {
			s.broadcast(EventBranchAIWriting, nil)
		} else {
			s.broadcast(EventRelayAIWriting, nil)
		}
	}
}

func (s *Session) aiCompleteEvent() string {
	if s.mode == models.ModeBranch {
		return EventBranchAIComplete
	}
	return EventRelayAIComplete
}

func (s *Session) aiFailedEvent() string {
	if s.mode == models.ModeBranch {
		return EventBranchAIFailed
	}
	return EventRelayAIFailed
}

func (s *Session) contentRejectedEvent() string {
	if s.mode == models.ModeBranch {
		return EventBranchContentRejected
	}
	return EventRelayContentRejected
}

func (s *Session) submittedEvent() string {
	if s.mode == models.ModeBranch {
		return EventBranchStudentSubmitted
	}
	return EventRelayStudentSubmitted
}

func (s *Session) broadcast(event string, payload interface{}) {
	if s.broadcaster != nil {
		s.broadcaster.Broadcast(s.storyID, event, payload)
	}
}

func (s *Session) sendToUser(userID, event string, payload interface{}) {
	if s.broadcaster != nil {
		s.broadcaster.SendToUser(s.storyID, userID, event, payload)
	}
}

func (s *Session) cancelTurnTimer() {
	s.timerGen++
	if s.turnTimer != nil {
		s.turnTimer.Stop()
		s.turnTimer = nil
	}
}

func (s *Session) cancelVoteTimer() {
	s.voteGen++
	if s.voteTimer != nil {
		s.voteTimer.Stop()
		s.voteTimer = nil
	}
}

func (s *Session) publishSnapshot() {
	snap := &Snapshot{
		StoryID:   s.storyID,
		SessionID: s.sessionID,
		Mode:      s.mode,
		Status:    s.status,
		State:     string(s.state),
	}

	snap.Parts = append([]models.Part(nil), s.parts...)
	for _, id := range s.joinOrder {
		snap.Participants = append(snap.Participants, s.participants[id])
	}

	if s.mode == models.ModeRelay && s.state != stateIdle {
		snap.Turn = &models.TurnState{
			HolderID:     s.holder(),
			Rotation:     append([]string(nil), s.rotation...),
			TurnNumber:   s.turnNumber,
			DeadlineUnix: s.deadline.Unix(),
		}
		left := int(time.Until(s.deadline).Seconds())
		if left < 0 {
			left = 0
		}
		snap.SecondsLeft = left
	}

	for _, node := range s.nodes {
		cp := *node
		snap.Nodes = append(snap.Nodes, &cp)
		if s.activeNode != nil && node.NodeID == s.activeNode.NodeID {
			snap.ActiveNode = snap.Nodes[len(snap.Nodes)-1]
		}
	}

	s.snapshot.Store(snap)
}

func (s *Session) holder() string {
	if len(s.rotation) == 0 {
		return ""
	}
	return s.rotation[s.holderIdx%len(s.rotation)]
}

func partTexts(parts []models.Part) []string {
	texts := make([]string, len(parts))
	for i, p := range parts {
		texts[i] = p.Text
	}
	return texts
}

var palette = []string{
	"#e63946", "#f4a261", "#2a9d8f", "#457b9d", "#8d5a97",
	"#e76f51", "#52b788", "#bc6c25", "#5f6caf", "#d62868",
}

// PaletteColor returns the display color assigned to the i-th participant
// to join a story.
func PaletteColor(i int) string {
	return palette[i%len(palette)]
}
