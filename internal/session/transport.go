package session

import (
	"github.com/telecare/consultation/internal/media"
)

// SignalingState mirrors the negotiation state of the underlying peer
// transport, used to guard against renegotiation glare.
type SignalingState int

// Signaling states.
const (
	SignalingStateStable SignalingState = iota
	SignalingStateHaveLocalOffer
	SignalingStateHaveRemoteOffer
	SignalingStateClosed
)

func (s SignalingState) String() string {
	switch s {
	case SignalingStateStable:
		return "stable"
	case SignalingStateHaveLocalOffer:
		return "have-local-offer"
	case SignalingStateHaveRemoteOffer:
		return "have-remote-offer"
	case SignalingStateClosed:
		return "closed"
	default:
		return "unknown"
	}
}

// TransportState is the connection state of the peer transport.
type TransportState int

// Transport states.
const (
	TransportNew TransportState = iota
	TransportConnecting
	TransportConnected
	TransportDisconnected
	TransportFailed
	TransportClosed
)

func (s TransportState) String() string {
	switch s {
	case TransportNew:
		return "new"
	case TransportConnecting:
		return "connecting"
	case TransportConnected:
		return "connected"
	case TransportDisconnected:
		return "disconnected"
	case TransportFailed:
		return "failed"
	case TransportClosed:
		return "closed"
	default:
		return "unknown"
	}
}

// TransportEvents are the callbacks a PeerTransport surfaces. They may be
// invoked from transport-internal goroutines, the controller funnels them
// into its event loop.
type TransportEvents struct {
	OnICECandidate func(candidate string)
	OnRemoteTrack  func()
	OnStateChange  func(state TransportState)
}

// PeerTransport abstracts the peer connection so negotiation logic can be
// exercised against deterministic fakes.
type PeerTransport interface {
	AddLocalStream(stream *media.Stream) error
	CreateOffer() (sdp string, err error)
	CreateAnswer() (sdp string, err error)
	SetRemoteDescription(kind, sdp string) error
	AddICECandidate(candidate string) error
	SignalingState() SignalingState
	ReplaceVideoTrack(track *media.Track) error
	Close() error
}

// TransportFactory creates a fresh peer transport for one join cycle. The
// transport is destroyed and recreated on every join/rejoin.
type TransportFactory func(events TransportEvents) (PeerTransport, error)
