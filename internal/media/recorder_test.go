package media

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestRecorder_CapturesAudioOnly(t *testing.T) {
	assert := assert.New(t)

	audio := NewTrack(KindAudio, SourceMicrophone, nil)
	video := NewTrack(KindVideo, SourceCamera, nil)
	stream := NewStream(audio, video)

	recorder := NewRecorder()
	recorder.Start(stream)
	assert.True(recorder.Started())

	for i := 0; i < 5; i++ {
		err := audio.WriteSample(Sample{Data: []byte{1, 2, 3, 4}, Duration: 20 * time.Millisecond})
		assert.NoError(err)
	}
	err := video.WriteSample(Sample{Data: []byte{9, 9, 9}, Duration: 33 * time.Millisecond})
	assert.NoError(err)

	clip := recorder.Stop()
	assert.NotNil(clip)
	assert.Len(clip.Data, 20)
	assert.Equal(100*time.Millisecond, clip.Duration)
	assert.Equal(DefaultRecordingContentType, clip.ContentType)
}

func TestRecorder_NoCapturedAudioReturnsNil(t *testing.T) {
	assert := assert.New(t)

	audio := NewTrack(KindAudio, SourceMicrophone, nil)
	recorder := NewRecorder()
	recorder.Start(NewStream(audio, nil))

	clip := recorder.Stop()
	assert.Nil(clip)
}

func TestRecorder_NoAudioTrackDoesNotCrash(t *testing.T) {
	assert := assert.New(t)

	recorder := NewRecorder()
	recorder.Start(NewStream(nil, NewTrack(KindVideo, SourceCamera, nil)))
	assert.True(recorder.Started())

	clip := recorder.Stop()
	assert.Nil(clip)
}

func TestRecorder_StopIsFinal(t *testing.T) {
	assert := assert.New(t)

	audio := NewTrack(KindAudio, SourceMicrophone, nil)
	recorder := NewRecorder()
	recorder.Start(NewStream(audio, nil))

	err := audio.WriteSample(Sample{Data: []byte{1}, Duration: 20 * time.Millisecond})
	assert.NoError(err)

	clip := recorder.Stop()
	assert.NotNil(clip)

	// Samples after stop are dropped and a second stop returns nothing.
	err = audio.WriteSample(Sample{Data: []byte{2}, Duration: 20 * time.Millisecond})
	assert.NoError(err)
	assert.Nil(recorder.Stop())
}

func TestRecorder_MutedTrackRecordsSilence(t *testing.T) {
	assert := assert.New(t)

	audio := NewTrack(KindAudio, SourceMicrophone, nil)
	recorder := NewRecorder()
	recorder.Start(NewStream(audio, nil))

	audio.SetEnabled(false)
	err := audio.WriteSample(Sample{Data: []byte{7, 7, 7, 7}, Duration: 20 * time.Millisecond})
	assert.NoError(err)

	clip := recorder.Stop()
	assert.NotNil(clip)
	assert.Equal([]byte{0, 0, 0, 0}, clip.Data)
}

func TestRecorder_StartIsIdempotent(t *testing.T) {
	assert := assert.New(t)

	audio := NewTrack(KindAudio, SourceMicrophone, nil)
	stream := NewStream(audio, nil)

	recorder := NewRecorder()
	recorder.Start(stream)
	recorder.Start(stream)

	err := audio.WriteSample(Sample{Data: []byte{1, 2}, Duration: 20 * time.Millisecond})
	assert.NoError(err)

	clip := recorder.Stop()
	assert.NotNil(clip)
	assert.Len(clip.Data, 2)
}
