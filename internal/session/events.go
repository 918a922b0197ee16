package session

// eventKind discriminates the events consumed by the controller loop.
type eventKind int

const (
	evLocalCandidate eventKind = iota
	evRemoteTrack
	evTransportState
	evEnd
	evStartShare
	evStopShare
	evShareEnded
)

// event is a single unit of work for the controller loop. All negotiation
// state is mutated from the loop goroutine only, callbacks and user
// commands are funneled here instead of touching state directly.
type event struct {
	kind      eventKind
	candidate string
	state     TransportState
	done      chan error
}

func (c *Controller) enqueue(ev event) {
	select {
	case c.events <- ev:
	case <-c.stopChan():
		if ev.done != nil {
			ev.done <- ErrNotRunning
		}
	}
}
