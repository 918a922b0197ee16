package session

import (
	"sync"
	"time"
)

// DefaultHideDelay is how long the on-screen controls stay visible after
// the last user activity once the call is connected.
const DefaultHideDelay = 4 * time.Second

// Controls models the visibility of the on-screen call controls. Purely
// local UI state: while the call is not yet connected the auto-hide timer
// is suspended so the controls never disappear mid-negotiation.
type Controls struct {
	mu        sync.Mutex
	visible   bool
	connected bool
	hideDelay time.Duration
	timer     *time.Timer
	stopped   bool
	onChange  func(visible bool)
}

// NewControls creates a visible controls model with the given hide delay.
func NewControls(hideDelay time.Duration, onChange func(visible bool)) *Controls {
	if hideDelay <= 0 {
		hideDelay = DefaultHideDelay
	}

	return &Controls{
		visible:   true,
		hideDelay: hideDelay,
		onChange:  onChange,
	}
}

// Visible checks if the controls are currently shown.
func (c *Controls) Visible() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.visible
}

// SetConnected updates the call connectivity. Disconnecting forces the
// controls visible and suspends the auto-hide timer.
func (c *Controls) SetConnected(connected bool) {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.connected = connected
	if !connected {
		c.cancelTimerLocked()
		c.setVisibleLocked(true)
		return
	}

	c.restartTimerLocked()
}

// Touch reports user activity: the controls become visible and, if the
// call is connected, the auto-hide countdown restarts.
func (c *Controls) Touch() {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.stopped {
		return
	}

	c.setVisibleLocked(true)
	c.restartTimerLocked()
}

// Stop cancels the timer permanently.
func (c *Controls) Stop() {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.stopped = true
	c.cancelTimerLocked()
}

func (c *Controls) restartTimerLocked() {
	c.cancelTimerLocked()
	if !c.connected || c.stopped {
		return
	}

	c.timer = time.AfterFunc(c.hideDelay, c.hide)
}

func (c *Controls) cancelTimerLocked() {
	if c.timer != nil {
		c.timer.Stop()
		c.timer = nil
	}
}

func (c *Controls) hide() {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.stopped || !c.connected {
		return
	}

	c.setVisibleLocked(false)
}

func (c *Controls) setVisibleLocked(visible bool) {
	if c.visible == visible {
		return
	}

	c.visible = visible
	if c.onChange != nil {
		c.onChange(visible)
	}
}
