package engine

import (
	"context"
	"fmt"
	"math/rand"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/storyloom/coordinator/common/models"
	"github.com/storyloom/coordinator/common/repository"
)

func TestRelayRotationAdvancesOnSubmit(t *testing.T) {
	h := newHarness(t, harnessConfig{mode: models.ModeRelay, policy: "false"})
	h.join(t, "a", "b", "c")

	snap := h.snapshot()
	require.NotNil(t, snap.Turn)
	assert.Equal(t, "a", snap.Turn.HolderID)
	assert.Equal(t, 1, snap.Turn.TurnNumber)
	assert.Equal(t, []string{"a", "b", "c"}, snap.Turn.Rotation)

	h.submit(t, "a", "once upon a time")

	snap = h.snapshot()
	assert.Equal(t, "b", snap.Turn.HolderID)
	assert.Equal(t, 2, snap.Turn.TurnNumber)
	require.Len(t, snap.Parts, 1)
	assert.Equal(t, "a", snap.Parts[0].AuthorID)
	assert.Equal(t, models.AuthorStudent, snap.Parts[0].AuthorType)
	assert.Equal(t, 1, h.broadcaster.count(EventRelayStudentSubmitted))
}

func TestRelayNonHolderSubmissionDropped(t *testing.T) {
	h := newHarness(t, harnessConfig{mode: models.ModeRelay, policy: "false"})
	h.join(t, "a", "b")

	h.submit(t, "b", "jumping the queue")

	snap := h.snapshot()
	assert.Equal(t, "a", snap.Turn.HolderID)
	assert.Empty(t, snap.Parts)
	assert.Zero(t, h.broadcaster.count(EventRelayStudentSubmitted))
	// Not even a rejection notice: an out-of-turn submission is simply invalid
	assert.Zero(t, h.broadcaster.count(EventRelayContentRejected))
}

func TestRelayTimeoutSkipsHolderWithoutPart(t *testing.T) {
	h := newHarness(t, harnessConfig{mode: models.ModeRelay, policy: "false"})
	h.join(t, "a", "b", "c")

	require.NoError(t, h.session.ExpireTurn())

	snap := h.snapshot()
	assert.Equal(t, "b", snap.Turn.HolderID)
	assert.Equal(t, 2, snap.Turn.TurnNumber)
	assert.Empty(t, snap.Parts, "a skipped turn must not write a part")
}

func TestRelayLateSubmissionAfterTimeout(t *testing.T) {
	h := newHarness(t, harnessConfig{mode: models.ModeRelay, policy: "false"})
	h.join(t, "a", "b")

	// The expiry is queued ahead of the submission, so by the time the
	// submission is applied the turn already moved on.
	require.NoError(t, h.session.ExpireTurn())
	h.submit(t, "a", "too late")

	snap := h.snapshot()
	assert.Equal(t, "b", snap.Turn.HolderID)
	assert.Empty(t, snap.Parts)
}

func TestRelaySubmissionBeatsQueuedTimeout(t *testing.T) {
	h := newHarness(t, harnessConfig{mode: models.ModeRelay, policy: "false"})
	h.join(t, "a", "b")

	// Submission first: the accepted submission bumps the timer generation,
	// so a timeout that was already in flight for turn 1 is stale.
	h.submit(t, "a", "just in time")
	require.NoError(t, h.session.enqueue(turnTimeoutAction{gen: 1}))
	h.session.flush()

	snap := h.snapshot()
	require.Len(t, snap.Parts, 1)
	assert.Equal(t, "b", snap.Turn.HolderID, "stale timeout must not skip the new holder")
	assert.Equal(t, 2, snap.Turn.TurnNumber)
}

func TestRelayAITurnCadence(t *testing.T) {
	h := newHarness(t, harnessConfig{mode: models.ModeRelay, policy: "turn % 3 == 0"})
	h.join(t, "a", "b", "c")

	h.submit(t, "a", "part one")
	h.submit(t, "b", "part two")
	assert.Zero(t, h.broadcaster.count(EventRelayAIWriting))

	h.submit(t, "c", "part three")

	snap := h.snapshot()
	require.Len(t, snap.Parts, 4)
	assert.Equal(t, models.AuthorAI, snap.Parts[3].AuthorType)
	assert.Equal(t, 1, h.broadcaster.count(EventRelayAIWriting))
	assert.Equal(t, 1, h.broadcaster.count(EventRelayAIComplete))
	assert.Equal(t, "a", snap.Turn.HolderID, "rotation returns to the first student after the AI turn")

	for i, part := range snap.Parts {
		assert.Equal(t, i, part.Position, "parts keep append order")
	}
}

func TestRelayAIFailureAdvancesRotation(t *testing.T) {
	h := newHarness(t, harnessConfig{mode: models.ModeRelay, policy: "true"})
	h.ai.failNext = 1
	h.join(t, "a", "b")

	h.submit(t, "a", "part one")

	snap := h.snapshot()
	require.Len(t, snap.Parts, 1, "no AI part on upstream failure")
	assert.Equal(t, 1, h.broadcaster.count(EventRelayAIFailed))
	assert.Equal(t, "b", snap.Turn.HolderID, "rotation advances even when the AI fails")

	// Upstream recovers on the next turn.
	h.submit(t, "b", "part two")

	snap = h.snapshot()
	require.Len(t, snap.Parts, 3)
	assert.Equal(t, "part one", snap.Parts[0].Text)
	assert.Equal(t, "part two", snap.Parts[1].Text)
	assert.Equal(t, models.AuthorAI, snap.Parts[2].AuthorType)
}

func TestRelayModerationRejectKeepsTurn(t *testing.T) {
	h := newHarness(t, harnessConfig{mode: models.ModeRelay, policy: "false"})
	h.gate.rejectText("something rude", "inappropriate language", "try describing the scene instead")
	h.join(t, "a", "b")

	h.submit(t, "a", "something rude")

	snap := h.snapshot()
	assert.Equal(t, "a", snap.Turn.HolderID, "rejection must not burn the turn")
	assert.Equal(t, 1, snap.Turn.TurnNumber)
	assert.Empty(t, snap.Parts)

	rejections := h.broadcaster.named(EventRelayContentRejected)
	require.Len(t, rejections, 1)
	assert.Equal(t, "a", rejections[0].UserID, "rejection goes to the submitter only")
	payload := rejections[0].Payload.(ContentRejectedPayload)
	assert.Equal(t, "inappropriate language", payload.Reason)
	assert.Equal(t, "try describing the scene instead", payload.Suggestion)

	h.submit(t, "a", "something kind")
	snap = h.snapshot()
	require.Len(t, snap.Parts, 1)
	assert.Equal(t, "b", snap.Turn.HolderID)
}

func TestRelayModerationOutageKeepsTurn(t *testing.T) {
	h := newHarness(t, harnessConfig{mode: models.ModeRelay, policy: "false"})
	h.gate.down = true
	h.join(t, "a", "b")

	h.submit(t, "a", "anything at all")

	snap := h.snapshot()
	assert.Equal(t, "a", snap.Turn.HolderID)
	assert.Empty(t, snap.Parts)

	rejections := h.broadcaster.named(EventRelayContentRejected)
	require.Len(t, rejections, 1)
	payload := rejections[0].Payload.(ContentRejectedPayload)
	assert.Contains(t, payload.Reason, "moderation unavailable")
}

func TestRelayStoreFailureKeepsHolder(t *testing.T) {
	store := repository.NewMemoryStoryStore()
	flaky := &flakyStore{StoryStore: store, failAppends: 1}
	h := newHarness(t, harnessConfig{mode: models.ModeRelay, policy: "false", store: flaky})
	store.PutStory(h.story)
	h.join(t, "a", "b")

	h.submit(t, "a", "lost to the void")

	snap := h.snapshot()
	assert.Equal(t, "a", snap.Turn.HolderID, "holder keeps the turn on a store failure")
	assert.Empty(t, snap.Parts)

	h.submit(t, "a", "second attempt")
	snap = h.snapshot()
	require.Len(t, snap.Parts, 1)
	assert.Equal(t, "second attempt", snap.Parts[0].Text)
	assert.Equal(t, "b", snap.Turn.HolderID)
}

func TestRelayFinishTeacherOnly(t *testing.T) {
	var completed *Session
	h := newHarness(t, harnessConfig{
		mode:   models.ModeRelay,
		policy: "false",
		onDone: func(s *Session) { completed = s },
	})
	h.join(t, "a", "b")

	require.NoError(t, h.session.Finish("a", models.RoleStudent))
	h.session.flush()
	assert.Equal(t, models.StatusWriting, h.snapshot().Status, "a student cannot force-finish")
	assert.Nil(t, completed)

	require.NoError(t, h.session.Finish("teacher-1", models.RoleTeacher))
	h.session.flush()

	snap := h.session.Snapshot()
	assert.Equal(t, models.StatusCompleted, snap.Status)
	require.Len(t, snap.Parts, 1, "wrap-up continuation becomes the closing part")
	assert.Equal(t, models.AuthorAI, snap.Parts[0].AuthorType)
	assert.Equal(t, 1, h.broadcaster.count(EventRelayStoryCompleted))
	assert.Same(t, h.session, completed)

	stored, err := h.store.GetStory(context.Background(), h.story.StoryID)
	require.NoError(t, err)
	assert.Equal(t, models.StatusCompleted, stored.Status)
}

func TestRelayFinishSurvivesWrapUpFailure(t *testing.T) {
	h := newHarness(t, harnessConfig{mode: models.ModeRelay, policy: "false"})
	h.ai.failNext = 1
	h.join(t, "a")

	require.NoError(t, h.session.Finish("teacher-1", models.RoleTeacher))
	h.session.flush()

	snap := h.session.Snapshot()
	assert.Equal(t, models.StatusCompleted, snap.Status, "story completes even without a closing part")
	assert.Empty(t, snap.Parts)
	assert.Equal(t, 1, h.broadcaster.count(EventRelayAIFailed))
	assert.Equal(t, 1, h.broadcaster.count(EventRelayStoryCompleted))
}

func TestRelaySubmitAfterCompletionDropped(t *testing.T) {
	h := newHarness(t, harnessConfig{mode: models.ModeRelay, policy: "false"})
	h.join(t, "a", "b")

	require.NoError(t, h.session.Finish("teacher-1", models.RoleTeacher))
	h.session.flush()
	partsBefore := len(h.session.Snapshot().Parts)

	h.submit(t, "a", "one more thing")
	assert.Len(t, h.session.Snapshot().Parts, partsBefore)
}

func TestSoloSubmitHasNoRotation(t *testing.T) {
	h := newHarness(t, harnessConfig{mode: models.ModeSolo, policy: "false"})
	h.join(t, "a")

	h.submit(t, "a", "my own story")

	snap := h.snapshot()
	assert.Nil(t, snap.Turn, "solo stories have no turn state")
	require.Len(t, snap.Parts, 1)
	assert.Equal(t, "a", snap.Parts[0].AuthorID)
	assert.Zero(t, h.broadcaster.count(EventRelayTurnChanged))
}

// TestRelayHolderInvariantUnderInterleaving replays the broadcast stream
// after a burst of concurrent submissions and forced expiries. Every
// accepted part must have been written by the holder announced by the most
// recent turn handover.
func TestRelayHolderInvariantUnderInterleaving(t *testing.T) {
	h := newHarness(t, harnessConfig{mode: models.ModeRelay, policy: "false"})
	students := []string{"a", "b", "c", "d"}
	h.join(t, students...)

	rng := rand.New(rand.NewSource(42))
	var wg sync.WaitGroup
	for i := 0; i < 400; i++ {
		op := rng.Intn(5)
		user := students[rng.Intn(len(students))]
		text := fmt.Sprintf("contribution %d", i)
		wg.Add(1)
		go func() {
			defer wg.Done()
			if op == 0 {
				_ = h.session.ExpireTurn()
			} else {
				_ = h.session.Submit(user, text)
			}
		}()
	}
	wg.Wait()
	h.session.flush()

	holder := ""
	accepted := 0
	lastPosition := -1
	for _, e := range h.broadcaster.all() {
		switch e.Event {
		case EventRelayTurnChanged:
			holder = e.Payload.(TurnChangedPayload).CurrentStudentID
		case EventRelayStudentSubmitted:
			part := e.Payload.(PartPayload).NewPart
			require.Equal(t, holder, part.AuthorID,
				"part written by %s while %s held the turn", part.AuthorID, holder)
			require.Greater(t, part.Position, lastPosition, "part positions must be strictly increasing")
			lastPosition = part.Position
			accepted++
		}
	}

	snap := h.session.Snapshot()
	assert.Len(t, snap.Parts, accepted, "every accepted part was broadcast exactly once")
}
