package session_test

import (
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/telecare/consultation/internal/session"
)

func TestControls_HideAfterDelayWhenConnected(t *testing.T) {
	assert := assert.New(t)

	changes := newVisibilityLog()
	controls := session.NewControls(10*time.Millisecond, changes.record)
	defer controls.Stop()

	assert.True(controls.Visible())

	controls.SetConnected(true)
	waitFor(t, func() bool {
		return !controls.Visible()
	})
	assert.Equal([]bool{false}, changes.all())

	controls.Touch()
	assert.True(controls.Visible())
	waitFor(t, func() bool {
		return !controls.Visible()
	})
	assert.Equal([]bool{false, true, false}, changes.all())
}

func TestControls_TimerSuspendedUntilConnected(t *testing.T) {
	assert := assert.New(t)

	controls := session.NewControls(5*time.Millisecond, nil)
	defer controls.Stop()

	// Activity before the call is connected never starts the countdown.
	controls.Touch()
	time.Sleep(20 * time.Millisecond)
	assert.True(controls.Visible())
}

func TestControls_DisconnectForcesVisible(t *testing.T) {
	assert := assert.New(t)

	controls := session.NewControls(5*time.Millisecond, nil)
	defer controls.Stop()

	controls.SetConnected(true)
	waitFor(t, func() bool {
		return !controls.Visible()
	})

	controls.SetConnected(false)
	assert.True(controls.Visible())

	// And they stay visible, the timer is suspended again.
	time.Sleep(20 * time.Millisecond)
	assert.True(controls.Visible())
}

func TestControls_StopCancelsTimer(t *testing.T) {
	assert := assert.New(t)

	controls := session.NewControls(5*time.Millisecond, nil)
	controls.SetConnected(true)
	controls.Stop()

	time.Sleep(20 * time.Millisecond)
	assert.True(controls.Visible())
}

type visibilityLog struct {
	mu      sync.Mutex
	entries []bool
}

func newVisibilityLog() *visibilityLog {
	return &visibilityLog{}
}

func (l *visibilityLog) record(visible bool) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.entries = append(l.entries, visible)
}

func (l *visibilityLog) all() []bool {
	l.mu.Lock()
	defer l.mu.Unlock()

	entries := make([]bool, len(l.entries))
	copy(entries, l.entries)
	return entries
}
