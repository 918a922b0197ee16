// Package session implements the client-side state machine of one
// consultation call: joining the room, driving offer/answer/ICE exchange
// over the signaling relay, declaring the call connected, coordinating the
// audio recording and tearing everything down at the end.
package session

// Phase is the externally visible state of a call.
type Phase int

// Call phases.
const (
	PhaseIdle Phase = iota
	PhaseJoining
	PhaseNegotiating
	PhaseConnected
	PhaseEnding
	PhaseEnded
	PhaseFailed
)

func (p Phase) String() string {
	switch p {
	case PhaseIdle:
		return "idle"
	case PhaseJoining:
		return "joining"
	case PhaseNegotiating:
		return "negotiating"
	case PhaseConnected:
		return "connected"
	case PhaseEnding:
		return "ending"
	case PhaseEnded:
		return "ended"
	case PhaseFailed:
		return "failed"
	default:
		return "unknown"
	}
}
