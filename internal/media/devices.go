package media

import (
	"context"
	"errors"
	"fmt"

	"github.com/CzarSimon/httputil/logger"
	"github.com/pion/webrtc/v3"
	"go.uber.org/zap"
)

var log = logger.GetDefaultLogger("consultation/media")

// Device acquisition errors.
var (
	// ErrAccessDenied indicates the user or platform refused device access.
	ErrAccessDenied = errors.New("media device access denied")
	// ErrNoDevice indicates no capture device of the requested kind exists.
	ErrNoDevice = errors.New("no media device available")
)

// Constraints selects which device kinds to acquire.
type Constraints struct {
	Audio bool
	Video bool
}

// Devices is the capability for acquiring local capture tracks. Injected
// rather than ambient so call logic can be tested with fakes.
type Devices interface {
	GetUserMedia(ctx context.Context, constraints Constraints) (*Stream, error)
	GetDisplayMedia(ctx context.Context) (*Track, error)
}

// SourceOpener starts feeding captured samples into the given track. It
// returns once capture has started and reports acquisition failures.
type SourceOpener func(ctx context.Context, track *Track) error

// WebRTCDevices is a Devices implementation producing pion sample tracks.
// Capture loops are injected per source, a nil opener means the device is
// absent.
type WebRTCDevices struct {
	Microphone SourceOpener
	Camera     SourceOpener
	Screen     SourceOpener
}

// GetUserMedia acquires microphone and camera tracks per the constraints.
func (d *WebRTCDevices) GetUserMedia(ctx context.Context, constraints Constraints) (*Stream, error) {
	var audio, video *Track
	var err error

	if constraints.Audio {
		audio, err = d.openTrack(ctx, KindAudio, SourceMicrophone, d.Microphone, audioCapability())
		if err != nil {
			return nil, err
		}
	}

	if constraints.Video {
		video, err = d.openTrack(ctx, KindVideo, SourceCamera, d.Camera, videoCapability())
		if err != nil {
			if audio != nil {
				audio.Stop()
			}
			return nil, err
		}
	}

	if audio == nil && video == nil {
		return nil, ErrNoDevice
	}

	return NewStream(audio, video), nil
}

// GetDisplayMedia acquires a screen capture track.
func (d *WebRTCDevices) GetDisplayMedia(ctx context.Context) (*Track, error) {
	return d.openTrack(ctx, KindVideo, SourceScreen, d.Screen, videoCapability())
}

func (d *WebRTCDevices) openTrack(ctx context.Context, kind, source string, opener SourceOpener, capability webrtc.RTPCodecCapability) (*Track, error) {
	if opener == nil {
		return nil, fmt.Errorf("%s: %w", source, ErrNoDevice)
	}

	local, err := webrtc.NewTrackLocalStaticSample(capability, kind, "consultation-"+source)
	if err != nil {
		return nil, fmt.Errorf("failed to create %s track %w", source, err)
	}

	track := NewTrack(kind, source, local)
	err = opener(ctx, track)
	if err != nil {
		log.Warn("failed to open capture source", zap.String("source", source), zap.Error(err))
		return nil, fmt.Errorf("%s: %w", source, ErrAccessDenied)
	}

	return track, nil
}

func audioCapability() webrtc.RTPCodecCapability {
	return webrtc.RTPCodecCapability{
		MimeType:    webrtc.MimeTypeOpus,
		ClockRate:   48000,
		Channels:    1,
		SDPFmtpLine: "minptime=10;useinbandfec=1",
	}
}

func videoCapability() webrtc.RTPCodecCapability {
	return webrtc.RTPCodecCapability{
		MimeType:  webrtc.MimeTypeVP8,
		ClockRate: 90000,
	}
}
