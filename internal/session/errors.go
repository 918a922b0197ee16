package session

import (
	"errors"
	"fmt"

	"github.com/telecare/consultation/internal/models"
)

// Call error taxonomy.
var (
	// ErrMediaAccessDenied indicates neither camera+mic nor audio-only
	// media could be acquired, the join is blocked.
	ErrMediaAccessDenied = errors.New("media access denied")
	// ErrTransportFailure indicates the peer connection failed before or
	// during the call. Not auto-retried, an explicit rejoin is required.
	ErrTransportFailure = errors.New("peer transport failure")
	// ErrFinalize indicates the end-of-call upload or room finalization
	// failed. Local teardown proceeds regardless.
	ErrFinalize = errors.New("call finalization failed")
	// ErrAlreadyStarted indicates the controller was started twice.
	ErrAlreadyStarted = errors.New("session already started")
	// ErrNotRunning indicates a command was sent to a stopped controller.
	ErrNotRunning = errors.New("session is not running")
)

// SignalApplyError marks a single signaling message that could not be
// applied. Isolated per message, never fatal to the rest of the batch.
type SignalApplyError struct {
	Message models.SignalingMessage
	Err     error
}

func (e *SignalApplyError) Error() string {
	return fmt.Sprintf("failed to apply %s: %v", e.Message, e.Err)
}

func (e *SignalApplyError) Unwrap() error {
	return e.Err
}
