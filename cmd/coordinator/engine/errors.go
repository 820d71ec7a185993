package engine

import (
	"errors"
	"fmt"
)

// ErrInvalidTransition marks an action that does not match the current
// session state (submit from a non-holder, vote on a decided node, a late
// submission after a timeout already advanced the turn). These are
// rejected silently to the caller: logged, never broadcast.
var ErrInvalidTransition = errors.New("invalid transition")

// ErrSessionClosed is returned when an action is enqueued on a stopped session
var ErrSessionClosed = errors.New("session closed")

// ModerationRejectedError surfaces a moderation gate rejection to the
// submitting client only. Session state is unchanged: the holder keeps the
// turn and may resubmit.
type ModerationRejectedError struct {
	Reason     string
	Suggestion string
}

func (e *ModerationRejectedError) Error() string {
	return fmt.Sprintf("moderation rejected: %s", e.Reason)
}

// UpstreamError wraps a failure from an external collaborator (moderation
// gate or AI continuation service) after retries were exhausted
type UpstreamError struct {
	Op  string
	Err error
}

func (e *UpstreamError) Error() string {
	return fmt.Sprintf("upstream %s failed: %v", e.Op, e.Err)
}

func (e *UpstreamError) Unwrap() error {
	return e.Err
}
