// Package rtc implements the peer transport over pion WebRTC.
package rtc

import (
	"encoding/json"
	"fmt"
	"io"
	"strings"

	"github.com/CzarSimon/httputil/logger"
	"github.com/pion/webrtc/v3"
	"github.com/telecare/consultation/internal/media"
	"github.com/telecare/consultation/internal/models"
	"github.com/telecare/consultation/internal/session"
	"go.uber.org/zap"
)

var log = logger.GetDefaultLogger("consultation/rtc")

// DefaultICEServers are the STUN servers used when none are configured.
var DefaultICEServers = []string{"stun:stun.l.google.com:19302"}

// NewFactory creates a transport factory producing a fresh peer connection
// per join cycle.
func NewFactory(iceServers []string) session.TransportFactory {
	if len(iceServers) == 0 {
		iceServers = DefaultICEServers
	}

	return func(events session.TransportEvents) (session.PeerTransport, error) {
		return NewTransport(iceServers, events)
	}
}

// Transport drives one pion peer connection.
type Transport struct {
	pc          *webrtc.PeerConnection
	videoSender *webrtc.RTPSender
}

// NewTransport creates a peer connection wired to the given event callbacks.
func NewTransport(iceServers []string, events session.TransportEvents) (*Transport, error) {
	cfg := webrtc.Configuration{
		ICEServers: []webrtc.ICEServer{
			{URLs: iceServers},
		},
	}

	pc, err := webrtc.NewPeerConnection(cfg)
	if err != nil {
		return nil, fmt.Errorf("failed to create peer connection %w", err)
	}

	pc.OnICECandidate(func(candidate *webrtc.ICECandidate) {
		if candidate == nil || events.OnICECandidate == nil {
			return
		}

		data, err := json.Marshal(candidate.ToJSON())
		if err != nil {
			log.Warn("failed to serialize ice candidate", zap.Error(err))
			return
		}
		events.OnICECandidate(string(data))
	})

	pc.OnTrack(func(track *webrtc.TrackRemote, receiver *webrtc.RTPReceiver) {
		if events.OnRemoteTrack != nil {
			events.OnRemoteTrack()
		}
		go drainRemoteTrack(track)
	})

	pc.OnConnectionStateChange(func(state webrtc.PeerConnectionState) {
		if events.OnStateChange != nil {
			events.OnStateChange(mapConnectionState(state))
		}
	})

	return &Transport{pc: pc}, nil
}

// AddLocalStream attaches the local tracks to the peer connection. The
// video sender is retained so screen share can swap its track later.
func (t *Transport) AddLocalStream(stream *media.Stream) error {
	if stream == nil {
		return nil
	}

	for _, track := range stream.Tracks() {
		sender, err := t.pc.AddTrack(track.Local())
		if err != nil {
			return fmt.Errorf("failed to add %s track %w", track.Kind(), err)
		}

		if track.Kind() == media.KindVideo {
			t.videoSender = sender
		}
		go drainSender(sender)
	}

	return nil
}

// CreateOffer creates and installs the local offer.
func (t *Transport) CreateOffer() (string, error) {
	offer, err := t.pc.CreateOffer(nil)
	if err != nil {
		return "", fmt.Errorf("failed to create offer %w", err)
	}

	err = t.pc.SetLocalDescription(offer)
	if err != nil {
		return "", fmt.Errorf("failed to set local description %w", err)
	}

	return offer.SDP, nil
}

// CreateAnswer creates and installs the local answer to a received offer.
func (t *Transport) CreateAnswer() (string, error) {
	answer, err := t.pc.CreateAnswer(nil)
	if err != nil {
		return "", fmt.Errorf("failed to create answer %w", err)
	}

	err = t.pc.SetLocalDescription(answer)
	if err != nil {
		return "", fmt.Errorf("failed to set local description %w", err)
	}

	return answer.SDP, nil
}

// SetRemoteDescription installs the peer's offer or answer.
func (t *Transport) SetRemoteDescription(kind, sdp string) error {
	sdpType := webrtc.SDPTypeOffer
	if kind == models.TypeAnswer {
		sdpType = webrtc.SDPTypeAnswer
	}

	err := t.pc.SetRemoteDescription(webrtc.SessionDescription{Type: sdpType, SDP: sdp})
	if err != nil {
		return fmt.Errorf("failed to set remote description %w", err)
	}

	return nil
}

// AddICECandidate applies a relayed candidate. Payloads are JSON candidate
// objects, raw candidate lines are tolerated.
func (t *Transport) AddICECandidate(candidate string) error {
	var init webrtc.ICECandidateInit
	if strings.HasPrefix(strings.TrimSpace(candidate), "{") {
		err := json.Unmarshal([]byte(candidate), &init)
		if err != nil {
			return fmt.Errorf("failed to parse ice candidate %w", err)
		}
	} else {
		init = webrtc.ICECandidateInit{Candidate: candidate}
	}

	err := t.pc.AddICECandidate(init)
	if err != nil {
		return fmt.Errorf("failed to add ice candidate %w", err)
	}

	return nil
}

// SignalingState reports the negotiation state of the peer connection.
func (t *Transport) SignalingState() session.SignalingState {
	switch t.pc.SignalingState() {
	case webrtc.SignalingStateStable:
		return session.SignalingStateStable
	case webrtc.SignalingStateHaveLocalOffer:
		return session.SignalingStateHaveLocalOffer
	case webrtc.SignalingStateHaveRemoteOffer:
		return session.SignalingStateHaveRemoteOffer
	case webrtc.SignalingStateClosed:
		return session.SignalingStateClosed
	default:
		return session.SignalingStateStable
	}
}

// ReplaceVideoTrack swaps the outgoing video track in place, used for
// starting and stopping screen share without renegotiation.
func (t *Transport) ReplaceVideoTrack(track *media.Track) error {
	if t.videoSender == nil {
		return fmt.Errorf("no video sender to replace track on")
	}

	var local webrtc.TrackLocal
	if track != nil {
		local = track.Local()
	}

	err := t.videoSender.ReplaceTrack(local)
	if err != nil {
		return fmt.Errorf("failed to replace video track %w", err)
	}

	return nil
}

// Close tears down the peer connection.
func (t *Transport) Close() error {
	err := t.pc.Close()
	if err != nil {
		return fmt.Errorf("failed to close peer connection %w", err)
	}

	return nil
}

func mapConnectionState(state webrtc.PeerConnectionState) session.TransportState {
	switch state {
	case webrtc.PeerConnectionStateNew:
		return session.TransportNew
	case webrtc.PeerConnectionStateConnecting:
		return session.TransportConnecting
	case webrtc.PeerConnectionStateConnected:
		return session.TransportConnected
	case webrtc.PeerConnectionStateDisconnected:
		return session.TransportDisconnected
	case webrtc.PeerConnectionStateFailed:
		return session.TransportFailed
	default:
		return session.TransportClosed
	}
}

// Incoming RTP and RTCP must be read to keep interceptors processing.

func drainRemoteTrack(track *webrtc.TrackRemote) {
	buf := make([]byte, 1500)
	for {
		_, _, err := track.Read(buf)
		if err != nil {
			if err != io.EOF {
				log.Debug("remote track read ended", zap.Error(err))
			}
			return
		}
	}
}

func drainSender(sender *webrtc.RTPSender) {
	buf := make([]byte, 1500)
	for {
		_, _, err := sender.Read(buf)
		if err != nil {
			return
		}
	}
}
