// Package media models local media acquisition, track control and audio
// recording for a consultation call. Capture hardware is injected as a
// capability so call logic never touches device state directly.
package media

import (
	"fmt"
	"sync"
	"time"

	"github.com/pion/webrtc/v3"
	pionmedia "github.com/pion/webrtc/v3/pkg/media"
)

// Track kinds.
const (
	KindAudio = "audio"
	KindVideo = "video"
)

// Track sources.
const (
	SourceMicrophone = "microphone"
	SourceCamera     = "camera"
	SourceScreen     = "screen"
)

// Sample is a single encoded media frame.
type Sample struct {
	Data     []byte
	Duration time.Duration
}

// Track wraps an outgoing media track. Samples written while the track is
// disabled are silenced (audio) or withheld (video), the track itself keeps
// being sent so no renegotiation is needed for mute or camera-off.
type Track struct {
	kind   string
	source string
	local  *webrtc.TrackLocalStaticSample

	mu      sync.Mutex
	enabled bool
	stopped bool
	sinks   []func(Sample)
	onEnded func()
}

// NewTrack creates an enabled track around a local WebRTC sample track.
func NewTrack(kind, source string, local *webrtc.TrackLocalStaticSample) *Track {
	return &Track{
		kind:    kind,
		source:  source,
		local:   local,
		enabled: true,
	}
}

// Kind returns the track kind, audio or video.
func (t *Track) Kind() string {
	return t.kind
}

// Source returns what the track captures.
func (t *Track) Source() string {
	return t.source
}

// Local returns the underlying WebRTC track for transport attachment.
func (t *Track) Local() webrtc.TrackLocal {
	return t.local
}

// Enabled checks if the track is currently audible/visible to the peer.
func (t *Track) Enabled() bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.enabled
}

// SetEnabled flips the track between live and silenced without stopping it.
func (t *Track) SetEnabled(enabled bool) {
	t.mu.Lock()
	t.enabled = enabled
	t.mu.Unlock()
}

// AddSink registers an observer for every sample written to the track.
func (t *Track) AddSink(sink func(Sample)) {
	t.mu.Lock()
	t.sinks = append(t.sinks, sink)
	t.mu.Unlock()
}

// OnEnded registers a callback fired once when the track stops, either
// through Stop or through the capture source going away.
func (t *Track) OnEnded(callback func()) {
	t.mu.Lock()
	t.onEnded = callback
	t.mu.Unlock()
}

// WriteSample feeds a captured sample through the track. Disabled audio
// tracks forward silence, disabled video tracks forward nothing.
func (t *Track) WriteSample(sample Sample) error {
	t.mu.Lock()
	if t.stopped {
		t.mu.Unlock()
		return fmt.Errorf("track %s/%s is stopped", t.kind, t.source)
	}
	enabled := t.enabled
	sinks := t.sinks
	t.mu.Unlock()

	if !enabled {
		if t.kind != KindAudio {
			return nil
		}
		sample = Sample{Data: make([]byte, len(sample.Data)), Duration: sample.Duration}
	}

	if t.local != nil {
		err := t.local.WriteSample(pionmedia.Sample{Data: sample.Data, Duration: sample.Duration})
		if err != nil {
			return fmt.Errorf("failed to write sample to track %w", err)
		}
	}

	for _, sink := range sinks {
		sink(sample)
	}

	return nil
}

// Stop releases the track. The ended callback fires exactly once.
func (t *Track) Stop() {
	t.mu.Lock()
	if t.stopped {
		t.mu.Unlock()
		return
	}
	t.stopped = true
	callback := t.onEnded
	t.mu.Unlock()

	if callback != nil {
		callback()
	}
}

// Stopped checks if the track has been released.
func (t *Track) Stopped() bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.stopped
}

// Stream is the local media stream of one call participant. At most one
// audio and one video track are live at a time.
type Stream struct {
	audio *Track
	video *Track
}

// NewStream creates a stream from its tracks, either of which may be nil.
func NewStream(audio, video *Track) *Stream {
	return &Stream{
		audio: audio,
		video: video,
	}
}

// Audio returns the audio track or nil.
func (s *Stream) Audio() *Track {
	return s.audio
}

// Video returns the video track or nil.
func (s *Stream) Video() *Track {
	return s.video
}

// Tracks returns the live tracks of the stream.
func (s *Stream) Tracks() []*Track {
	tracks := make([]*Track, 0, 2)
	if s.audio != nil {
		tracks = append(tracks, s.audio)
	}
	if s.video != nil {
		tracks = append(tracks, s.video)
	}

	return tracks
}

// Stop releases all tracks. Safe to call multiple times and on every
// teardown path, hardware release must not rely on garbage collection.
func (s *Stream) Stop() {
	for _, track := range s.Tracks() {
		track.Stop()
	}
}
