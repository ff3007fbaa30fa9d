// Package call is the per-client call state machine. One coordinator
// exists per signed-in user; every user action and every inbound
// signaling message becomes a typed event handled by a single loop, so
// the single-session invariant is enforced in one place.
package call

import (
	"errors"
	"sync"
	"time"

	"github.com/pion/webrtc/v3"
	"github.com/rs/zerolog/log"

	"github.com/worthym330/innovate-calls/internal/core"
	"github.com/worthym330/innovate-calls/internal/rtc"
	"github.com/worthym330/innovate-calls/internal/signal"
)

var (
	ErrClosed           = errors.New("call: coordinator closed")
	ErrBusy             = errors.New("call: another call is in progress")
	ErrNoCall           = errors.New("call: no call in progress")
	ErrNotRinging       = errors.New("call: no ringing call")
	ErrInvalidMediaKind = errors.New("call: invalid media kind")
)

// Callbacks notify the UI surface. They run on the coordinator loop and
// must not call coordinator commands synchronously.
type Callbacks struct {
	// OnStateChange fires on every state transition, including the
	// transient terminal states.
	OnStateChange func(state core.CallState)
	// OnIncoming fires when an offer arrives and the session enters
	// ringing.
	OnIncoming func(info core.CallInfo)
	// OnTerminated fires once per session, right after the state
	// returns to idle.
	OnTerminated func(info core.CallInfo, reason core.TerminationReason)
	// OnDeviceError surfaces capture failures for a user-facing alert.
	OnDeviceError func(err error)
}

type Option func(*Coordinator)

// WithRingTimeout bounds how long a session may stay in calling or
// ringing. Zero (the default) disables the timeout: absent a terminal
// message the session waits forever.
func WithRingTimeout(d time.Duration) Option {
	return func(c *Coordinator) { c.ringTimeout = d }
}

func WithCallbacks(callbacks Callbacks) Option {
	return func(c *Coordinator) { c.callbacks = callbacks }
}

// Coordinator owns at most one call session and is the only writer of
// its state. The UI reads the observables and invokes Start, Accept,
// Reject and End.
type Coordinator struct {
	sender      Sender
	factory     NegotiatorFactory
	callbacks   Callbacks
	ringTimeout time.Duration

	events chan event
	quit   chan struct{}
	done   chan struct{}

	closeOnce sync.Once

	// observable snapshot, written only by the loop
	obsMu      sync.RWMutex
	state      core.CallState
	info       *core.CallInfo
	negotiator Negotiator

	// loop-owned
	sess  *session
	epoch uint64
}

func NewCoordinator(sender Sender, factory NegotiatorFactory, opts ...Option) *Coordinator {
	c := &Coordinator{
		sender:  sender,
		factory: factory,
		events:  make(chan event, 64),
		quit:    make(chan struct{}),
		done:    make(chan struct{}),
		state:   core.CallIdle,
	}
	for _, opt := range opts {
		opt(c)
	}

	go c.loop()

	return c
}

// Start places an outgoing call. It returns once the session entered
// calling; capture and offer creation continue asynchronously.
func (c *Coordinator) Start(target core.UserID, kind core.MediaKind) error {
	if !kind.Valid() {
		return ErrInvalidMediaKind
	}

	reply := make(chan error, 1)
	return c.dispatch(cmdStart{target: target, kind: kind, reply: reply}, reply)
}

// Accept answers the ringing call. Capture and answer creation continue
// asynchronously; a capture failure rejects the call toward the caller.
func (c *Coordinator) Accept() error {
	reply := make(chan error, 1)
	return c.dispatch(cmdAccept{reply: reply}, reply)
}

// Reject declines the ringing call.
func (c *Coordinator) Reject() error {
	reply := make(chan error, 1)
	return c.dispatch(cmdReject{reply: reply}, reply)
}

// End hangs up the current call at any stage.
func (c *Coordinator) End() error {
	reply := make(chan error, 1)
	return c.dispatch(cmdEnd{reply: reply}, reply)
}

// HandleMessage feeds one inbound signaling message into the loop. Wire
// it to the transport's message handler.
func (c *Coordinator) HandleMessage(msg signal.Message) {
	c.post(inboundMessage{msg: msg})
}

func (c *Coordinator) State() core.CallState {
	c.obsMu.RLock()
	defer c.obsMu.RUnlock()
	return c.state
}

func (c *Coordinator) CallInfo() *core.CallInfo {
	c.obsMu.RLock()
	defer c.obsMu.RUnlock()
	if c.info == nil {
		return nil
	}
	info := *c.info
	return &info
}

func (c *Coordinator) LocalStream() *rtc.LocalStream {
	c.obsMu.RLock()
	defer c.obsMu.RUnlock()
	if c.negotiator == nil {
		return nil
	}
	return c.negotiator.LocalStream()
}

func (c *Coordinator) RemoteStream() *rtc.RemoteStream {
	c.obsMu.RLock()
	defer c.obsMu.RUnlock()
	if c.negotiator == nil {
		return nil
	}
	return c.negotiator.RemoteStream()
}

// Close tears down any current session without signaling the peer and
// stops the loop.
func (c *Coordinator) Close() error {
	c.closeOnce.Do(func() {
		close(c.quit)
	})
	<-c.done
	return nil
}

func (c *Coordinator) dispatch(ev event, reply chan error) error {
	select {
	case c.events <- ev:
	case <-c.quit:
		return ErrClosed
	}

	select {
	case err := <-reply:
		return err
	case <-c.quit:
		return ErrClosed
	}
}

func (c *Coordinator) post(ev event) {
	select {
	case c.events <- ev:
	case <-c.quit:
	}
}

func (c *Coordinator) loop() {
	defer close(c.done)

	for {
		select {
		case <-c.quit:
			c.cleanup()
			c.setState(core.CallIdle)
			return
		case ev := <-c.events:
			c.handle(ev)
		}
	}
}

// handle is the single transition function: all session state changes
// happen here, on one goroutine.
func (c *Coordinator) handle(ev event) {
	log.Debug().Str("service", "call").Str("event", ev.eventName()).Str("state", string(c.State())).Msg("handle event")

	switch ev := ev.(type) {
	case cmdStart:
		ev.reply <- c.handleStart(ev)
	case cmdAccept:
		ev.reply <- c.handleAccept()
	case cmdReject:
		ev.reply <- c.handleReject()
	case cmdEnd:
		ev.reply <- c.handleEnd()
	case inboundMessage:
		c.handleInbound(ev.msg)
	case offerReady:
		c.handleOfferReady(ev)
	case answerReady:
		c.handleAnswerReady(ev)
	case localCandidate:
		c.handleLocalCandidate(ev)
	case ringExpired:
		c.handleRingExpired(ev)
	}
}

func (c *Coordinator) handleStart(cmd cmdStart) error {
	if c.sess != nil {
		return ErrBusy
	}

	info := core.CallInfo{
		CallID:     core.NewCallID(),
		RemoteUser: cmd.target,
		Direction:  core.Outgoing,
		MediaKind:  cmd.kind,
	}
	sess := c.newActiveSession(info, cmd.kind)

	c.setState(core.CallCalling)

	go func() {
		offer, err := sess.negotiator.StartOutbound(sess.ctx)
		c.post(offerReady{epoch: sess.epoch, offer: offer, err: err})
	}()

	return nil
}

func (c *Coordinator) handleOfferReady(ev offerReady) {
	if c.sess == nil || c.sess.epoch != ev.epoch {
		return
	}

	if ev.err != nil {
		log.Error().Err(ev.err).Str("service", "call").Msg("outbound negotiation failed")
		if errors.Is(ev.err, rtc.ErrCapture) && c.callbacks.OnDeviceError != nil {
			c.callbacks.OnDeviceError(ev.err)
		}
		c.finish(core.ReasonFailed)
		return
	}

	info := c.sess.info
	c.send(signal.NewCallOffer(info.RemoteUser, info.CallID, info.MediaKind, ev.offer))
	c.armRingTimer()
}

func (c *Coordinator) handleAccept() error {
	if c.sess == nil || c.State() != core.CallRinging || c.sess.accepting {
		return ErrNotRinging
	}

	sess := c.sess
	sess.accepting = true
	offer := *sess.remoteOffer

	go func() {
		answer, err := sess.negotiator.StartInbound(sess.ctx, offer)
		c.post(answerReady{epoch: sess.epoch, answer: answer, err: err})
	}()

	return nil
}

func (c *Coordinator) handleAnswerReady(ev answerReady) {
	if c.sess == nil || c.sess.epoch != ev.epoch {
		return
	}

	info := c.sess.info

	if ev.err != nil {
		log.Error().Err(ev.err).Str("service", "call").Msg("inbound negotiation failed")

		// Capture denial is surfaced locally and the caller is left
		// ringing out; other negotiation failures reject the call.
		if errors.Is(ev.err, rtc.ErrCapture) {
			if c.callbacks.OnDeviceError != nil {
				c.callbacks.OnDeviceError(ev.err)
			}
		} else {
			c.send(signal.NewCallReject(info.RemoteUser, info.CallID))
		}

		c.finish(core.ReasonFailed)
		return
	}

	c.send(signal.NewCallAnswer(info.RemoteUser, info.CallID, ev.answer))
	c.sess.stopRingTimer()
	c.setState(core.CallActive)
}

func (c *Coordinator) handleReject() error {
	if c.sess == nil || c.State() != core.CallRinging {
		return ErrNotRinging
	}

	info := c.sess.info
	c.send(signal.NewCallReject(info.RemoteUser, info.CallID))
	c.finish(core.ReasonRejected)

	return nil
}

func (c *Coordinator) handleEnd() error {
	if c.sess == nil {
		return ErrNoCall
	}

	info := c.sess.info
	c.send(signal.NewCallEnd(info.RemoteUser, info.CallID))
	c.finish(core.ReasonEnded)

	return nil
}

func (c *Coordinator) handleInbound(msg signal.Message) {
	switch msg := msg.(type) {
	case *signal.IncomingCall:
		c.handleIncomingCall(msg)
	case *signal.CallAnswered:
		c.handleCallAnswered(msg)
	case *signal.CallRejected:
		if c.sessionFor(msg.CallID) {
			c.finish(core.ReasonRejected)
		}
	case *signal.CallEnded:
		if c.sessionFor(msg.CallID) {
			c.finish(core.ReasonEnded)
		}
	case *signal.CallFailed:
		if c.sessionFor(msg.CallID) {
			log.Warn().Str("service", "call").Str("reason", msg.Reason).Msg("call failed remotely")
			c.finish(core.ReasonFailed)
		}
	case *signal.ICECandidate:
		c.handleRemoteCandidate(msg)
	default:
		log.Warn().Str("service", "call").Str("kind", string(msg.GetKind())).Msg("unexpected message, dropped")
	}
}

func (c *Coordinator) handleIncomingCall(msg *signal.IncomingCall) {
	if c.sess != nil {
		// Busy: decline the second offer instead of overwriting the
		// current session.
		log.Warn().Str("service", "call").Str("from", msg.From.String()).Msg("busy, auto-rejecting offer")
		c.send(signal.NewCallReject(msg.From, msg.CallID))
		return
	}

	if !msg.MediaKind.Valid() {
		log.Warn().Str("service", "call").Str("media_kind", string(msg.MediaKind)).Msg("offer with invalid media kind, dropped")
		return
	}

	info := core.CallInfo{
		CallID:     msg.CallID,
		RemoteUser: msg.From,
		Direction:  core.Incoming,
		MediaKind:  msg.MediaKind,
	}
	sess := c.newActiveSession(info, msg.MediaKind)
	offer := msg.Offer
	sess.remoteOffer = &offer

	c.setState(core.CallRinging)
	c.armRingTimer()

	if c.callbacks.OnIncoming != nil {
		c.callbacks.OnIncoming(info)
	}
}

func (c *Coordinator) handleCallAnswered(msg *signal.CallAnswered) {
	if !c.sessionFor(msg.CallID) || c.sess.info.Direction != core.Outgoing || c.State() != core.CallCalling {
		log.Warn().Str("service", "call").Str("call_id", msg.CallID.String()).Msg("unexpected answer, dropped")
		return
	}

	// A failed answer application is logged but does not terminate the
	// session; the call may stay half-open until someone hangs up.
	if err := c.sess.negotiator.CompleteOutbound(msg.Answer); err != nil {
		log.Error().Err(err).Str("service", "call").Msg("apply remote answer")
	}

	c.sess.stopRingTimer()
	c.setState(core.CallActive)
}

func (c *Coordinator) handleRemoteCandidate(msg *signal.ICECandidate) {
	if !c.sessionFor(msg.CallID) {
		log.Debug().Str("service", "call").Str("call_id", msg.CallID.String()).Msg("candidate without session, dropped")
		return
	}

	if err := c.sess.negotiator.AddRemoteCandidate(msg.Candidate); err != nil {
		log.Error().Err(err).Str("service", "call").Msg("apply remote candidate")
	}
}

func (c *Coordinator) handleLocalCandidate(ev localCandidate) {
	if c.sess == nil || c.sess.epoch != ev.epoch {
		return
	}

	info := c.sess.info
	c.send(signal.NewICECandidate(info.RemoteUser, info.CallID, ev.candidate))
}

func (c *Coordinator) handleRingExpired(ev ringExpired) {
	if c.sess == nil || c.sess.epoch != ev.epoch {
		return
	}

	state := c.State()
	if state != core.CallCalling && state != core.CallRinging {
		return
	}

	info := c.sess.info
	log.Warn().Str("service", "call").Str("call_id", info.CallID.String()).Msg("ring timeout")
	c.send(signal.NewCallEnd(info.RemoteUser, info.CallID))
	c.finish(core.ReasonTimeout)
}

// newActiveSession installs a fresh session and its negotiator, wiring
// candidate discovery back into the loop.
func (c *Coordinator) newActiveSession(info core.CallInfo, kind core.MediaKind) *session {
	c.epoch++
	negotiator := c.factory(kind)
	sess := newSession(c.epoch, info, negotiator)

	epoch := sess.epoch
	negotiator.OnICECandidate(func(candidate webrtc.ICECandidateInit) {
		c.post(localCandidate{epoch: epoch, candidate: candidate})
	})

	c.sess = sess

	c.obsMu.Lock()
	infoCopy := info
	c.info = &infoCopy
	c.negotiator = negotiator
	c.obsMu.Unlock()

	return sess
}

func (c *Coordinator) armRingTimer() {
	if c.ringTimeout <= 0 || c.sess == nil {
		return
	}

	epoch := c.sess.epoch
	c.sess.ringTimer = time.AfterFunc(c.ringTimeout, func() {
		c.post(ringExpired{epoch: epoch})
	})
}

// finish runs the transient terminal state, cleans up and returns to
// idle, then notifies the UI.
func (c *Coordinator) finish(reason core.TerminationReason) {
	if c.sess == nil {
		return
	}

	info := c.sess.info

	c.setState(terminalState(reason))
	c.cleanup()
	c.setState(core.CallIdle)

	if c.callbacks.OnTerminated != nil {
		c.callbacks.OnTerminated(info, reason)
	}
}

// cleanup releases the session's media and connection. Idempotent: a
// hang-up racing a remote call-ended runs it twice without harm.
func (c *Coordinator) cleanup() {
	if c.sess == nil {
		return
	}

	c.sess.cancel()
	c.sess.stopRingTimer()
	if err := c.sess.negotiator.Close(); err != nil {
		log.Error().Err(err).Str("service", "call").Msg("close negotiator")
	}
	c.sess = nil

	c.obsMu.Lock()
	c.info = nil
	c.negotiator = nil
	c.obsMu.Unlock()
}

func (c *Coordinator) setState(state core.CallState) {
	c.obsMu.Lock()
	changed := c.state != state
	c.state = state
	c.obsMu.Unlock()

	if changed && c.callbacks.OnStateChange != nil {
		c.callbacks.OnStateChange(state)
	}
}

func (c *Coordinator) send(msg signal.Message) {
	if err := c.sender.Send(msg); err != nil {
		log.Warn().Err(err).Str("service", "call").Str("kind", string(msg.GetKind())).Msg("send failed, message dropped")
	}
}

// sessionFor reports whether the current session matches the message's
// call. Messages for finished or foreign calls are dropped by callers.
func (c *Coordinator) sessionFor(callID core.CallID) bool {
	return c.sess != nil && c.sess.info.CallID == callID
}

func terminalState(reason core.TerminationReason) core.CallState {
	switch reason {
	case core.ReasonRejected:
		return core.CallRejected
	case core.ReasonEnded:
		return core.CallEnded
	default:
		return core.CallFailed
	}
}
