package media

import (
	"sync"
	"time"

	"go.uber.org/zap"
)

// DefaultRecordingContentType is the content type reported for recorded
// audio artifacts.
const DefaultRecordingContentType = "audio/ogg"

// Clip is the accumulated audio of one completed call.
type Clip struct {
	Data        []byte
	Duration    time.Duration
	ContentType string
}

// Recorder captures the local audio track of a call into an in-memory
// artifact. Its lifecycle is deliberately independent of the peer
// connection: it starts once when the call starts and keeps recording
// through renegotiations, screen-share swaps and reconnect attempts,
// stopping only when the call ends.
type Recorder struct {
	mu       sync.Mutex
	started  bool
	stopped  bool
	chunks   [][]byte
	size     int
	duration time.Duration
}

// NewRecorder creates an idle recorder.
func NewRecorder() *Recorder {
	return &Recorder{}
}

// Start begins capturing the audio track of the given stream. A stream
// without an audio track is logged and ignored, a session without a
// microphone must not take the call down.
func (r *Recorder) Start(stream *Stream) {
	r.mu.Lock()
	if r.started {
		r.mu.Unlock()
		return
	}
	r.started = true
	r.mu.Unlock()

	if stream == nil || stream.Audio() == nil {
		log.Warn("recording skipped, no audio track in local stream")
		return
	}

	stream.Audio().AddSink(r.capture)
}

// Started checks if the recorder has been started.
func (r *Recorder) Started() bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.started
}

// Stop finalizes the recording and returns the captured clip, or nil if
// no audio was captured. Safe to call more than once, later calls return
// nil.
func (r *Recorder) Stop() *Clip {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.stopped {
		return nil
	}
	r.stopped = true

	if r.size == 0 {
		log.Info("recording stopped without captured audio")
		return nil
	}

	data := make([]byte, 0, r.size)
	for _, chunk := range r.chunks {
		data = append(data, chunk...)
	}
	r.chunks = nil

	log.Info("recording stopped",
		zap.Int("sizeBytes", len(data)),
		zap.Duration("duration", r.duration),
	)

	return &Clip{
		Data:        data,
		Duration:    r.duration,
		ContentType: DefaultRecordingContentType,
	}
}

func (r *Recorder) capture(sample Sample) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.stopped || len(sample.Data) == 0 {
		return
	}

	chunk := make([]byte, len(sample.Data))
	copy(chunk, sample.Data)
	r.chunks = append(r.chunks, chunk)
	r.size += len(chunk)
	r.duration += sample.Duration
}
