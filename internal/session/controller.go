package session

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/CzarSimon/httputil/logger"
	"github.com/telecare/consultation/internal/media"
	"github.com/telecare/consultation/internal/models"
	"go.uber.org/zap"
)

var log = logger.GetDefaultLogger("consultation/session")

const defaultPollInterval = 1 * time.Second

// Uploader stores a recorded clip and returns the recording id to attach
// when finalizing the room.
type Uploader interface {
	Upload(ctx context.Context, roomID, userID string, clip *media.Clip) (string, error)
}

// Config wires a Controller to its collaborators. Room is the room record
// available at mount time, all remote interactions go through the injected
// Relay, Lifecycle, Devices, Uploader and TransportFactory.
type Config struct {
	Room         models.Room
	UserID       string
	Role         string
	Relay        Relay
	Lifecycle    Lifecycle
	Devices      media.Devices
	NewTransport TransportFactory
	Uploader     Uploader
	PollInterval time.Duration

	OnPhaseChange func(phase Phase)
	OnCallEnd     func(durationSeconds int64)
	OnError       func(err error)
}

// Controller owns the state machine of one consultation call. All
// negotiation state is confined to a single event loop goroutine, public
// methods communicate with it through events.
type Controller struct {
	cfg      Config
	recorder *media.Recorder
	controls *Controls

	mu        sync.Mutex
	phase     Phase
	room      models.Room
	stream    *media.Stream
	transport PeerTransport
	started   bool
	stopCh    chan struct{}

	// negotiation state, loop goroutine only
	seen               map[string]bool
	pendingCandidates  []string
	haveRemoteDesc     bool
	remoteTrackSeen    bool
	transportConnected bool
	sharing            bool
	screenTrack        *media.Track

	events  chan event
	endedCb sync.Once
	wg      sync.WaitGroup
}

// New creates a controller in the idle phase.
func New(cfg Config) (*Controller, error) {
	if cfg.Relay == nil || cfg.Lifecycle == nil || cfg.Devices == nil || cfg.NewTransport == nil {
		return nil, errors.New("session: relay, lifecycle, devices and transport factory are required")
	}
	if cfg.UserID == "" || cfg.Room.ID == "" {
		return nil, errors.New("session: room record and user identity are required")
	}
	if cfg.PollInterval <= 0 {
		cfg.PollInterval = defaultPollInterval
	}
	if cfg.Role == "" {
		cfg.Role, _ = cfg.Room.RoleOf(cfg.UserID)
	}

	return &Controller{
		cfg:      cfg,
		recorder: media.NewRecorder(),
		controls: NewControls(DefaultHideDelay, nil),
		phase:    PhaseIdle,
		room:     cfg.Room,
		seen:     make(map[string]bool),
		events:   make(chan event, 64),
		stopCh:   make(chan struct{}),
	}, nil
}

// Phase returns the current call phase.
func (c *Controller) Phase() Phase {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.phase
}

// Room returns the latest known room record.
func (c *Controller) Room() models.Room {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.room
}

// Controls returns the on-screen controls visibility model.
func (c *Controller) Controls() *Controls {
	return c.controls
}

// Start joins the room and begins negotiating the call. If the room record
// shows an ended room it is reset first so the same appointment can host a
// second call. Start returns once negotiation is underway, progress is
// reported through the configured callbacks.
func (c *Controller) Start(ctx context.Context) error {
	c.mu.Lock()
	if c.started {
		c.mu.Unlock()
		return ErrAlreadyStarted
	}
	c.started = true
	c.mu.Unlock()

	c.setPhase(PhaseJoining)

	if c.room.Status == models.StatusEnded {
		room, err := c.cfg.Lifecycle.Rejoin(ctx, c.room.ID, c.cfg.UserID)
		if err != nil {
			return c.fail(fmt.Errorf("failed to reset ended room %w", err))
		}
		c.setRoom(room)
	}

	err := c.acquireMedia(ctx)
	if err != nil {
		return c.fail(err)
	}

	c.recorder.Start(c.stream)

	room, err := c.cfg.Lifecycle.Join(ctx, c.room.AppointmentID, c.cfg.UserID, c.cfg.Role)
	if err != nil {
		return c.fail(fmt.Errorf("failed to join room %w", err))
	}
	c.setRoom(room)

	err = c.startCycle(ctx)
	if err != nil {
		return c.fail(err)
	}

	return nil
}

// Rejoin restarts negotiation after a transport failure. Never invoked
// automatically, failure surfaces to the user who decides to retry.
func (c *Controller) Rejoin(ctx context.Context) error {
	if c.Phase() != PhaseFailed {
		return fmt.Errorf("can only rejoin a failed session, phase is %s", c.Phase())
	}

	c.setPhase(PhaseJoining)
	c.resetStop()
	c.resetNegotiationState()

	// A session that failed on device access has no local stream yet. The
	// user may have granted permissions since, so try again here.
	if c.localStream() == nil {
		err := c.acquireMedia(ctx)
		if err != nil {
			return c.fail(err)
		}
		c.recorder.Start(c.stream)
	}

	if c.Room().Status == models.StatusEnded {
		room, err := c.cfg.Lifecycle.Rejoin(ctx, c.room.ID, c.cfg.UserID)
		if err != nil {
			return c.fail(fmt.Errorf("failed to reset ended room %w", err))
		}
		c.setRoom(room)
	}

	room, err := c.cfg.Lifecycle.Join(ctx, c.room.AppointmentID, c.cfg.UserID, c.cfg.Role)
	if err != nil {
		return c.fail(fmt.Errorf("failed to join room %w", err))
	}
	c.setRoom(room)

	err = c.startCycle(ctx)
	if err != nil {
		return c.fail(err)
	}

	return nil
}

// End finishes the call: the recording is stopped and uploaded, the room
// finalized and all local resources released. Finalization errors are
// reported but never block the local teardown.
func (c *Controller) End(ctx context.Context) error {
	switch c.Phase() {
	case PhaseIdle, PhaseEnding, PhaseEnded:
		return nil
	case PhaseFailed:
		// The loop is already stopped, finalize inline.
		return c.runEnd(ctx)
	}

	done := make(chan error, 1)
	c.enqueue(event{kind: evEnd, done: done})

	select {
	case err := <-done:
		if errors.Is(err, ErrNotRunning) {
			return nil
		}
		return err
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Close releases every local resource unconditionally: media tracks, the
// recorder and the peer transport. Used on unmount and safe on every exit
// path, it does not finalize the room.
func (c *Controller) Close() {
	c.closeStop()
	c.wg.Wait()

	c.mu.Lock()
	transport := c.transport
	stream := c.stream
	c.transport = nil
	c.mu.Unlock()

	// The loop is stopped, its share state can be touched directly.
	if c.screenTrack != nil {
		c.screenTrack.Stop()
		c.screenTrack = nil
		c.sharing = false
	}
	if transport != nil {
		err := transport.Close()
		if err != nil {
			log.Warn("failed to close peer transport", zap.Error(err))
		}
	}
	if stream != nil {
		stream.Stop()
	}
	c.recorder.Stop()
	c.controls.Stop()
}

// ToggleMicrophone flips the audio track between live and muted. The track
// keeps being sent, no renegotiation happens. Returns the new enabled state.
func (c *Controller) ToggleMicrophone() bool {
	return toggleTrack(c.localStream().Audio())
}

// ToggleCamera flips the video track between live and blanked. Returns the
// new enabled state.
func (c *Controller) ToggleCamera() bool {
	return toggleTrack(c.localStream().Video())
}

// StartScreenShare swaps the outgoing video track for a display capture
// track. The sender's single video slot is swapped, never duplicated.
func (c *Controller) StartScreenShare(ctx context.Context) error {
	return c.command(ctx, event{kind: evStartShare, done: make(chan error, 1)})
}

// StopScreenShare swaps the camera track back. The platform's native
// stop-sharing affordance triggers the same logic through the track's
// ended callback.
func (c *Controller) StopScreenShare(ctx context.Context) error {
	return c.command(ctx, event{kind: evStopShare, done: make(chan error, 1)})
}

// ---- join/negotiate internals ----

func (c *Controller) acquireMedia(ctx context.Context) error {
	if c.localStream() != nil {
		return nil
	}

	stream, err := c.cfg.Devices.GetUserMedia(ctx, media.Constraints{Audio: true, Video: true})
	if err != nil {
		log.Warn("failed to acquire camera and microphone, degrading to audio-only", zap.Error(err))
		stream, err = c.cfg.Devices.GetUserMedia(ctx, media.Constraints{Audio: true})
	}
	if err != nil {
		return fmt.Errorf("%w: %v", ErrMediaAccessDenied, err)
	}

	c.mu.Lock()
	c.stream = stream
	c.mu.Unlock()
	return nil
}

func (c *Controller) startCycle(ctx context.Context) error {
	transport, err := c.cfg.NewTransport(TransportEvents{
		OnICECandidate: func(candidate string) {
			c.enqueue(event{kind: evLocalCandidate, candidate: candidate})
		},
		OnRemoteTrack: func() {
			c.enqueue(event{kind: evRemoteTrack})
		},
		OnStateChange: func(state TransportState) {
			c.enqueue(event{kind: evTransportState, state: state})
		},
	})
	if err != nil {
		return fmt.Errorf("%w: %v", ErrTransportFailure, err)
	}

	err = transport.AddLocalStream(c.localStream())
	if err != nil {
		transport.Close()
		return fmt.Errorf("%w: %v", ErrTransportFailure, err)
	}

	c.mu.Lock()
	c.transport = transport
	c.mu.Unlock()

	if c.initiator() {
		offer, err := transport.CreateOffer()
		if err != nil {
			return fmt.Errorf("%w: %v", ErrTransportFailure, err)
		}
		c.publish(ctx, models.TypeOffer, offer)
	}

	c.setPhase(PhaseNegotiating)

	c.wg.Add(1)
	go c.run()
	return nil
}

// run is the single-threaded heart of the controller. Polling, transport
// callbacks and user commands all funnel through here so transition guards
// are enforced in one place.
func (c *Controller) run() {
	defer c.wg.Done()

	ticker := time.NewTicker(c.cfg.PollInterval)
	defer ticker.Stop()

	stop := c.stopChan()
	ctx := context.Background()
	for {
		select {
		case <-stop:
			return
		case <-ticker.C:
			c.pollSignals(ctx)
		case ev := <-c.events:
			c.handleEvent(ctx, ev)
		}
	}
}

func (c *Controller) handleEvent(ctx context.Context, ev event) {
	switch ev.kind {
	case evLocalCandidate:
		c.publish(ctx, models.TypeICECandidate, ev.candidate)
	case evRemoteTrack:
		c.remoteTrackSeen = true
		c.maybeConnected()
	case evTransportState:
		c.handleTransportState(ctx, ev.state)
	case evEnd:
		ev.done <- c.runEnd(ctx)
	case evStartShare:
		ev.done <- c.startShare(ctx)
	case evStopShare:
		ev.done <- c.stopShare()
	case evShareEnded:
		err := c.stopShare()
		if err != nil {
			log.Warn("failed to stop ended screen share", zap.Error(err))
		}
	}
}

func (c *Controller) pollSignals(ctx context.Context) {
	messages, err := c.cfg.Relay.Poll(ctx, c.room.ID, c.cfg.UserID)
	if err != nil {
		log.Warn("failed to poll signaling relay", zap.Error(err))
		return
	}

	c.applySignals(ctx, messages)
}

func (c *Controller) applySignals(ctx context.Context, messages []models.SignalingMessage) {
	for _, message := range messages {
		if c.seen[message.ID] {
			continue
		}
		c.seen[message.ID] = true

		err := c.applySignal(ctx, message)
		if err != nil {
			// One bad message must not abort the rest of the batch.
			log.Warn("skipped signaling message", zap.Error(&SignalApplyError{Message: message, Err: err}))
		}
	}
}

func (c *Controller) applySignal(ctx context.Context, message models.SignalingMessage) error {
	transport := c.currentTransport()
	if transport == nil {
		return errors.New("no active transport")
	}

	switch message.Type {
	case models.TypeOffer:
		return c.applyOffer(ctx, transport, message)
	case models.TypeAnswer:
		return c.applyAnswer(transport, message)
	case models.TypeICECandidate:
		return c.applyCandidate(transport, message)
	default:
		return fmt.Errorf("unknown signal type %s", message.Type)
	}
}

func (c *Controller) applyOffer(ctx context.Context, transport PeerTransport, message models.SignalingMessage) error {
	if c.initiator() {
		log.Warn("ignoring offer received by initiator", zap.String("messageId", message.ID))
		return nil
	}

	state := transport.SignalingState()
	if state != SignalingStateStable && state != SignalingStateHaveLocalOffer {
		// Duplicate offer in the same negotiation round, applying it
		// again would cause renegotiation glare.
		log.Info("ignoring offer in signaling state "+state.String(), zap.String("messageId", message.ID))
		return nil
	}

	err := transport.SetRemoteDescription(models.TypeOffer, message.Payload)
	if err != nil {
		return err
	}
	c.afterRemoteDescription(transport)

	answer, err := transport.CreateAnswer()
	if err != nil {
		return err
	}

	c.publish(ctx, models.TypeAnswer, answer)
	return nil
}

func (c *Controller) applyAnswer(transport PeerTransport, message models.SignalingMessage) error {
	if !c.initiator() {
		log.Warn("ignoring answer received by responder", zap.String("messageId", message.ID))
		return nil
	}

	if transport.SignalingState() != SignalingStateHaveLocalOffer {
		log.Info("ignoring answer in signaling state "+transport.SignalingState().String(), zap.String("messageId", message.ID))
		return nil
	}

	err := transport.SetRemoteDescription(models.TypeAnswer, message.Payload)
	if err != nil {
		return err
	}
	c.afterRemoteDescription(transport)

	return nil
}

func (c *Controller) applyCandidate(transport PeerTransport, message models.SignalingMessage) error {
	if !c.haveRemoteDesc {
		c.pendingCandidates = append(c.pendingCandidates, message.Payload)
		return nil
	}

	return transport.AddICECandidate(message.Payload)
}

func (c *Controller) afterRemoteDescription(transport PeerTransport) {
	c.haveRemoteDesc = true

	for _, candidate := range c.pendingCandidates {
		err := transport.AddICECandidate(candidate)
		if err != nil {
			log.Warn("failed to add queued ice candidate", zap.Error(err))
		}
	}
	c.pendingCandidates = nil
}

func (c *Controller) handleTransportState(ctx context.Context, state TransportState) {
	switch state {
	case TransportConnected:
		c.transportConnected = true
		c.maybeConnected()
	case TransportDisconnected:
		log.Warn("peer transport disconnected, awaiting recovery or failure")
	case TransportFailed:
		if c.Phase() == PhaseConnected {
			// A lost connection mid-call ends it the same way a user
			// initiated end does.
			err := c.runEnd(ctx)
			if err != nil {
				c.reportError(err)
			}
			return
		}
		c.failAsync(ErrTransportFailure)
	}
}

func (c *Controller) maybeConnected() {
	// Either signal alone is provisional, a call is connected only once
	// the transport is up and remote media has arrived.
	if c.Phase() != PhaseNegotiating || !c.transportConnected || !c.remoteTrackSeen {
		return
	}

	c.setPhase(PhaseConnected)
	c.controls.SetConnected(true)
}

// ---- end-of-call internals ----

func (c *Controller) runEnd(ctx context.Context) error {
	phase := c.Phase()
	if phase == PhaseEnding || phase == PhaseEnded {
		return nil
	}

	c.setPhase(PhaseEnding)
	c.controls.SetConnected(false)

	var finalizeErr error
	clip := c.recorder.Stop()
	recordingID := ""
	if clip != nil && c.cfg.Uploader != nil {
		id, err := c.cfg.Uploader.Upload(ctx, c.room.ID, c.cfg.UserID, clip)
		if err != nil {
			finalizeErr = fmt.Errorf("%w: recording upload failed: %v", ErrFinalize, err)
		} else {
			recordingID = id
		}
	}

	var duration int64
	result, err := c.cfg.Lifecycle.End(ctx, c.room.AppointmentID, c.cfg.UserID, recordingID)
	if err != nil {
		finalizeErr = fmt.Errorf("%w: room finalization failed: %v", ErrFinalize, err)
	} else {
		duration = result.DurationSeconds
	}

	c.teardownTransportAndMedia()
	c.setPhase(PhaseEnded)
	c.endedCb.Do(func() {
		if c.cfg.OnCallEnd != nil {
			c.cfg.OnCallEnd(duration)
		}
	})

	c.closeStop()

	if finalizeErr != nil {
		c.reportError(finalizeErr)
	}
	return finalizeErr
}

func (c *Controller) teardownTransportAndMedia() {
	c.mu.Lock()
	transport := c.transport
	stream := c.stream
	c.transport = nil
	c.mu.Unlock()

	if c.screenTrack != nil {
		c.screenTrack.Stop()
		c.screenTrack = nil
		c.sharing = false
	}
	if transport != nil {
		err := transport.Close()
		if err != nil {
			log.Warn("failed to close peer transport", zap.Error(err))
		}
	}
	if stream != nil {
		stream.Stop()
	}
}

// ---- screen share internals ----

func (c *Controller) startShare(ctx context.Context) error {
	if c.sharing {
		return nil
	}

	transport := c.currentTransport()
	if transport == nil {
		return ErrNotRunning
	}

	track, err := c.cfg.Devices.GetDisplayMedia(ctx)
	if err != nil {
		return fmt.Errorf("failed to acquire screen capture %w", err)
	}

	err = transport.ReplaceVideoTrack(track)
	if err != nil {
		track.Stop()
		return fmt.Errorf("failed to replace video track %w", err)
	}

	track.OnEnded(func() {
		c.enqueue(event{kind: evShareEnded})
	})

	c.sharing = true
	c.screenTrack = track
	return nil
}

func (c *Controller) stopShare() error {
	if !c.sharing {
		return nil
	}

	transport := c.currentTransport()
	if transport == nil {
		return ErrNotRunning
	}

	err := transport.ReplaceVideoTrack(c.localStream().Video())
	if err != nil {
		return fmt.Errorf("failed to restore camera track %w", err)
	}

	track := c.screenTrack
	c.sharing = false
	c.screenTrack = nil
	if track != nil {
		track.Stop()
	}

	return nil
}

// ---- helpers ----

func (c *Controller) initiator() bool {
	// The doctor always initiates the offer, the patient always answers.
	// The fixed asymmetry avoids both sides racing to create offers.
	return c.cfg.Role == models.RoleDoctor
}

func (c *Controller) publish(ctx context.Context, signalType, payload string) {
	req := models.PublishSignalRequest{
		SenderID: c.cfg.UserID,
		Type:     signalType,
		Payload:  payload,
	}

	err := c.cfg.Relay.Publish(ctx, c.room.ID, req)
	if err != nil {
		log.Warn("failed to publish signal", zap.String("type", signalType), zap.Error(err))
	}
}

func (c *Controller) command(ctx context.Context, ev event) error {
	c.enqueue(ev)

	select {
	case err := <-ev.done:
		return err
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (c *Controller) resetNegotiationState() {
	c.seen = make(map[string]bool)
	c.pendingCandidates = nil
	c.haveRemoteDesc = false
	c.remoteTrackSeen = false
	c.transportConnected = false
}

func (c *Controller) fail(err error) error {
	c.teardownFailedTransport()
	c.setPhase(PhaseFailed)
	c.reportError(err)
	return err
}

// failAsync marks the session failed from within the loop without tearing
// down the local media stream, the user may still rejoin.
func (c *Controller) failAsync(err error) {
	c.teardownFailedTransport()
	c.setPhase(PhaseFailed)
	c.reportError(err)
	c.closeStop()
}

func (c *Controller) teardownFailedTransport() {
	c.mu.Lock()
	transport := c.transport
	c.transport = nil
	c.mu.Unlock()

	if transport != nil {
		err := transport.Close()
		if err != nil {
			log.Warn("failed to close peer transport", zap.Error(err))
		}
	}
}

func (c *Controller) setPhase(phase Phase) {
	c.mu.Lock()
	changed := c.phase != phase
	c.phase = phase
	c.mu.Unlock()

	if changed && c.cfg.OnPhaseChange != nil {
		c.cfg.OnPhaseChange(phase)
	}
}

func (c *Controller) setRoom(room models.Room) {
	c.mu.Lock()
	c.room = room
	c.mu.Unlock()
}

func (c *Controller) stopChan() chan struct{} {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.stopCh
}

func (c *Controller) closeStop() {
	c.mu.Lock()
	defer c.mu.Unlock()

	select {
	case <-c.stopCh:
	default:
		close(c.stopCh)
	}
}

// resetStop replaces a closed stop channel ahead of a new join cycle.
func (c *Controller) resetStop() {
	c.mu.Lock()
	defer c.mu.Unlock()

	select {
	case <-c.stopCh:
		c.stopCh = make(chan struct{})
	default:
	}
}

func (c *Controller) localStream() *media.Stream {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.stream
}

func (c *Controller) currentTransport() PeerTransport {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.transport
}

func (c *Controller) reportError(err error) {
	log.Warn("session error", zap.Error(err))
	if c.cfg.OnError != nil {
		c.cfg.OnError(err)
	}
}

func toggleTrack(track *media.Track) bool {
	if track == nil {
		return false
	}

	track.SetEnabled(!track.Enabled())
	return track.Enabled()
}
