package call

import (
	"context"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/pion/webrtc/v3"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/worthym330/innovate-calls/internal/core"
	"github.com/worthym330/innovate-calls/internal/rtc"
	"github.com/worthym330/innovate-calls/internal/signal"
)

var (
	userA = core.UserID("aaaaaaaa-0000-0000-0000-000000000001")
	userB = core.UserID("bbbbbbbb-0000-0000-0000-000000000002")
	userC = core.UserID("cccccccc-0000-0000-0000-000000000003")
)

// fakeNegotiator produces canned descriptions without touching devices
// or the network.
type fakeNegotiator struct {
	mu         sync.Mutex
	captureErr error

	handler    rtc.CandidateHandler
	local      *rtc.LocalStream
	remote     *rtc.RemoteStream
	closes     int
	answered   []webrtc.SessionDescription
	candidates []webrtc.ICECandidateInit
}

func newFakeNegotiator() *fakeNegotiator {
	return &fakeNegotiator{remote: rtc.NewRemoteStream()}
}

func (f *fakeNegotiator) OnICECandidate(handler rtc.CandidateHandler) {
	f.mu.Lock()
	f.handler = handler
	f.mu.Unlock()
}

func (f *fakeNegotiator) StartOutbound(ctx context.Context) (webrtc.SessionDescription, error) {
	if f.captureErr != nil {
		return webrtc.SessionDescription{}, f.captureErr
	}
	if err := ctx.Err(); err != nil {
		return webrtc.SessionDescription{}, err
	}

	f.mu.Lock()
	f.local = rtc.NewLocalStream(rtc.CaptureConstraints{}, nil)
	f.mu.Unlock()

	return webrtc.SessionDescription{Type: webrtc.SDPTypeOffer, SDP: "v=0 fake offer"}, nil
}

func (f *fakeNegotiator) CompleteOutbound(answer webrtc.SessionDescription) error {
	f.mu.Lock()
	f.answered = append(f.answered, answer)
	f.mu.Unlock()
	return nil
}

func (f *fakeNegotiator) StartInbound(ctx context.Context, offer webrtc.SessionDescription) (webrtc.SessionDescription, error) {
	if f.captureErr != nil {
		return webrtc.SessionDescription{}, f.captureErr
	}
	if err := ctx.Err(); err != nil {
		return webrtc.SessionDescription{}, err
	}

	f.mu.Lock()
	f.local = rtc.NewLocalStream(rtc.CaptureConstraints{}, nil)
	f.mu.Unlock()

	return webrtc.SessionDescription{Type: webrtc.SDPTypeAnswer, SDP: "v=0 fake answer"}, nil
}

func (f *fakeNegotiator) AddRemoteCandidate(candidate webrtc.ICECandidateInit) error {
	f.mu.Lock()
	f.candidates = append(f.candidates, candidate)
	f.mu.Unlock()
	return nil
}

func (f *fakeNegotiator) LocalStream() *rtc.LocalStream {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.local
}

func (f *fakeNegotiator) RemoteStream() *rtc.RemoteStream {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.remote
}

func (f *fakeNegotiator) Close() error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.closes++
	f.local = nil
	f.remote = nil
	return nil
}

func (f *fakeNegotiator) closeCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.closes
}

func (f *fakeNegotiator) remoteCandidateCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.candidates)
}

func (f *fakeNegotiator) emitCandidate(candidate webrtc.ICECandidateInit) {
	f.mu.Lock()
	handler := f.handler
	f.mu.Unlock()
	if handler != nil {
		handler(candidate)
	}
}

// fakeFactory hands out one fresh fake per call attempt and records the
// requested media kinds.
type fakeFactory struct {
	mu         sync.Mutex
	captureErr error
	kinds      []core.MediaKind
	negotiated []*fakeNegotiator
}

func (f *fakeFactory) new(kind core.MediaKind) Negotiator {
	f.mu.Lock()
	defer f.mu.Unlock()

	negotiator := newFakeNegotiator()
	negotiator.captureErr = f.captureErr
	f.kinds = append(f.kinds, kind)
	f.negotiated = append(f.negotiated, negotiator)
	return negotiator
}

func (f *fakeFactory) last() *fakeNegotiator {
	f.mu.Lock()
	defer f.mu.Unlock()
	if len(f.negotiated) == 0 {
		return nil
	}
	return f.negotiated[len(f.negotiated)-1]
}

type recordingSender struct {
	mu   sync.Mutex
	msgs []signal.Message
}

func (s *recordingSender) Send(msg signal.Message) error {
	s.mu.Lock()
	s.msgs = append(s.msgs, msg)
	s.mu.Unlock()
	return nil
}

func (s *recordingSender) byKind(kind signal.Kind) []signal.Message {
	s.mu.Lock()
	defer s.mu.Unlock()

	var out []signal.Message
	for _, msg := range s.msgs {
		if msg.GetKind() == kind {
			out = append(out, msg)
		}
	}
	return out
}

type uiRecorder struct {
	mu         sync.Mutex
	states     []core.CallState
	incoming   []core.CallInfo
	reasons    []core.TerminationReason
	deviceErrs []error
}

func (r *uiRecorder) callbacks() Callbacks {
	return Callbacks{
		OnStateChange: func(state core.CallState) {
			r.mu.Lock()
			r.states = append(r.states, state)
			r.mu.Unlock()
		},
		OnIncoming: func(info core.CallInfo) {
			r.mu.Lock()
			r.incoming = append(r.incoming, info)
			r.mu.Unlock()
		},
		OnTerminated: func(info core.CallInfo, reason core.TerminationReason) {
			r.mu.Lock()
			r.reasons = append(r.reasons, reason)
			r.mu.Unlock()
		},
		OnDeviceError: func(err error) {
			r.mu.Lock()
			r.deviceErrs = append(r.deviceErrs, err)
			r.mu.Unlock()
		},
	}
}

func (r *uiRecorder) lastReason() (core.TerminationReason, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if len(r.reasons) == 0 {
		return "", false
	}
	return r.reasons[len(r.reasons)-1], true
}

func (r *uiRecorder) sawState(state core.CallState) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, s := range r.states {
		if s == state {
			return true
		}
	}
	return false
}

func (r *uiRecorder) deviceErrCount() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.deviceErrs)
}

func waitFor(t *testing.T, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatal("condition not reached in time")
}

func waitState(t *testing.T, c *Coordinator, state core.CallState) {
	t.Helper()
	waitFor(t, func() bool { return c.State() == state })
}

func waitOffer(t *testing.T, sender *recordingSender) *signal.CallOffer {
	t.Helper()
	waitFor(t, func() bool { return len(sender.byKind(signal.KindCallOffer)) > 0 })
	return sender.byKind(signal.KindCallOffer)[0].(*signal.CallOffer)
}

func deliveredOffer(from core.UserID, kind core.MediaKind) *signal.IncomingCall {
	return signal.NewIncomingCall(from, userB, core.NewCallID(), kind,
		webrtc.SessionDescription{Type: webrtc.SDPTypeOffer, SDP: "v=0 remote offer"})
}

func TestStartTransitionsToCallingAndSendsOffer(t *testing.T) {
	factory := &fakeFactory{}
	sender := &recordingSender{}
	c := NewCoordinator(sender, factory.new)
	defer c.Close()

	require.NoError(t, c.Start(userB, core.VideoCall))
	assert.Equal(t, core.CallCalling, c.State())

	offer := waitOffer(t, sender)
	assert.Equal(t, userB, offer.Recipient())
	assert.Equal(t, core.VideoCall, offer.MediaKind)
	assert.NotEmpty(t, offer.CallID)
	assert.Equal(t, []core.MediaKind{core.VideoCall}, factory.kinds)

	info := c.CallInfo()
	require.NotNil(t, info)
	assert.Equal(t, core.Outgoing, info.Direction)
	assert.Equal(t, userB, info.RemoteUser)
}

func TestStartWhileBusy(t *testing.T) {
	factory := &fakeFactory{}
	c := NewCoordinator(&recordingSender{}, factory.new)
	defer c.Close()

	require.NoError(t, c.Start(userB, core.AudioCall))
	assert.ErrorIs(t, c.Start(userC, core.AudioCall), ErrBusy)
}

func TestStartInvalidMediaKind(t *testing.T) {
	c := NewCoordinator(&recordingSender{}, (&fakeFactory{}).new)
	defer c.Close()

	assert.ErrorIs(t, c.Start(userB, core.MediaKind("screen")), ErrInvalidMediaKind)
}

func TestCommandsRequireMatchingState(t *testing.T) {
	c := NewCoordinator(&recordingSender{}, (&fakeFactory{}).new)
	defer c.Close()

	assert.ErrorIs(t, c.Accept(), ErrNotRinging)
	assert.ErrorIs(t, c.Reject(), ErrNotRinging)
	assert.ErrorIs(t, c.End(), ErrNoCall)
}

func TestIncomingOfferRings(t *testing.T) {
	recorder := &uiRecorder{}
	c := NewCoordinator(&recordingSender{}, (&fakeFactory{}).new, WithCallbacks(recorder.callbacks()))
	defer c.Close()

	c.HandleMessage(deliveredOffer(userA, core.VideoCall))
	waitState(t, c, core.CallRinging)

	recorder.mu.Lock()
	require.Len(t, recorder.incoming, 1)
	incoming := recorder.incoming[0]
	recorder.mu.Unlock()

	assert.Equal(t, userA, incoming.RemoteUser)
	assert.Equal(t, core.Incoming, incoming.Direction)
	assert.Equal(t, core.VideoCall, incoming.MediaKind)
}

func TestSecondOfferAutoRejected(t *testing.T) {
	sender := &recordingSender{}
	c := NewCoordinator(sender, (&fakeFactory{}).new)
	defer c.Close()

	c.HandleMessage(deliveredOffer(userA, core.AudioCall))
	waitState(t, c, core.CallRinging)

	second := deliveredOffer(userC, core.AudioCall)
	c.HandleMessage(second)

	waitFor(t, func() bool { return len(sender.byKind(signal.KindCallReject)) == 1 })
	reject := sender.byKind(signal.KindCallReject)[0].(*signal.CallReject)
	assert.Equal(t, userC, reject.Recipient())
	assert.Equal(t, second.CallID, reject.CallID)
	assert.Equal(t, core.CallRinging, c.State())
}

func TestAcceptSendsAnswerAndActivates(t *testing.T) {
	sender := &recordingSender{}
	c := NewCoordinator(sender, (&fakeFactory{}).new)
	defer c.Close()

	offer := deliveredOffer(userA, core.AudioCall)
	c.HandleMessage(offer)
	waitState(t, c, core.CallRinging)

	require.NoError(t, c.Accept())
	waitState(t, c, core.CallActive)

	answers := sender.byKind(signal.KindCallAnswer)
	require.Len(t, answers, 1)
	answer := answers[0].(*signal.CallAnswer)
	assert.Equal(t, userA, answer.Recipient())
	assert.Equal(t, offer.CallID, answer.CallID)
	assert.NotNil(t, c.LocalStream())
	assert.NotNil(t, c.RemoteStream())
}

func TestAcceptCaptureDenialStaysSilent(t *testing.T) {
	factory := &fakeFactory{captureErr: fmt.Errorf("%w: permission denied", rtc.ErrCapture)}
	sender := &recordingSender{}
	recorder := &uiRecorder{}
	c := NewCoordinator(sender, factory.new, WithCallbacks(recorder.callbacks()))
	defer c.Close()

	c.HandleMessage(deliveredOffer(userA, core.VideoCall))
	waitState(t, c, core.CallRinging)

	require.NoError(t, c.Accept())
	waitState(t, c, core.CallIdle)

	reason, ok := recorder.lastReason()
	require.True(t, ok)
	assert.Equal(t, core.ReasonFailed, reason)
	assert.Equal(t, 1, recorder.deviceErrCount())
	assert.Empty(t, sender.byKind(signal.KindCallReject))
	assert.Empty(t, sender.byKind(signal.KindCallAnswer))
	assert.Nil(t, c.LocalStream())
	assert.Nil(t, c.RemoteStream())
}

func TestAcceptNegotiationFailureRejects(t *testing.T) {
	factory := &fakeFactory{captureErr: assert.AnError}
	sender := &recordingSender{}
	recorder := &uiRecorder{}
	c := NewCoordinator(sender, factory.new, WithCallbacks(recorder.callbacks()))
	defer c.Close()

	offer := deliveredOffer(userA, core.AudioCall)
	c.HandleMessage(offer)
	waitState(t, c, core.CallRinging)

	require.NoError(t, c.Accept())
	waitState(t, c, core.CallIdle)

	rejects := sender.byKind(signal.KindCallReject)
	require.Len(t, rejects, 1)
	assert.Equal(t, offer.CallID, rejects[0].(*signal.CallReject).CallID)
	assert.Equal(t, 0, recorder.deviceErrCount())
}

func TestAnswerActivatesCaller(t *testing.T) {
	factory := &fakeFactory{}
	sender := &recordingSender{}
	c := NewCoordinator(sender, factory.new)
	defer c.Close()

	require.NoError(t, c.Start(userB, core.AudioCall))
	offer := waitOffer(t, sender)

	answer := webrtc.SessionDescription{Type: webrtc.SDPTypeAnswer, SDP: "v=0 remote answer"}
	c.HandleMessage(signal.NewCallAnswered(userB, userA, offer.CallID, answer))
	waitState(t, c, core.CallActive)

	negotiator := factory.last()
	require.NotNil(t, negotiator)
	negotiator.mu.Lock()
	applied := negotiator.answered
	negotiator.mu.Unlock()
	require.Len(t, applied, 1)
	assert.Equal(t, answer.SDP, applied[0].SDP)
}

func TestCallerCaptureDenialFailsLocally(t *testing.T) {
	factory := &fakeFactory{captureErr: fmt.Errorf("%w: no device", rtc.ErrCapture)}
	sender := &recordingSender{}
	recorder := &uiRecorder{}
	c := NewCoordinator(sender, factory.new, WithCallbacks(recorder.callbacks()))
	defer c.Close()

	require.NoError(t, c.Start(userB, core.VideoCall))
	waitState(t, c, core.CallIdle)

	reason, ok := recorder.lastReason()
	require.True(t, ok)
	assert.Equal(t, core.ReasonFailed, reason)
	assert.Equal(t, 1, recorder.deviceErrCount())
	assert.True(t, recorder.sawState(core.CallFailed))
	assert.Empty(t, sender.byKind(signal.KindCallOffer))
}

func TestRemoteEndIsIdempotentCleanup(t *testing.T) {
	factory := &fakeFactory{}
	sender := &recordingSender{}
	recorder := &uiRecorder{}
	c := NewCoordinator(sender, factory.new, WithCallbacks(recorder.callbacks()))
	defer c.Close()

	require.NoError(t, c.Start(userB, core.AudioCall))
	offer := waitOffer(t, sender)
	c.HandleMessage(signal.NewCallAnswered(userB, userA, offer.CallID,
		webrtc.SessionDescription{Type: webrtc.SDPTypeAnswer, SDP: "v=0"}))
	waitState(t, c, core.CallActive)

	c.HandleMessage(signal.NewCallEnded(userB, userA, offer.CallID))
	waitState(t, c, core.CallIdle)

	// A duplicate terminal message finds no session and is dropped.
	c.HandleMessage(signal.NewCallEnded(userB, userA, offer.CallID))
	time.Sleep(50 * time.Millisecond)

	assert.Equal(t, core.CallIdle, c.State())
	assert.Equal(t, 1, factory.last().closeCount())
	assert.Nil(t, c.LocalStream())
	assert.Nil(t, c.RemoteStream())
	assert.Nil(t, c.CallInfo())

	reason, ok := recorder.lastReason()
	require.True(t, ok)
	assert.Equal(t, core.ReasonEnded, reason)
}

func TestRemoteRejectWhileCalling(t *testing.T) {
	sender := &recordingSender{}
	recorder := &uiRecorder{}
	c := NewCoordinator(sender, (&fakeFactory{}).new, WithCallbacks(recorder.callbacks()))
	defer c.Close()

	require.NoError(t, c.Start(userB, core.AudioCall))
	offer := waitOffer(t, sender)

	c.HandleMessage(signal.NewCallRejected(userB, userA, offer.CallID))
	waitState(t, c, core.CallIdle)

	reason, ok := recorder.lastReason()
	require.True(t, ok)
	assert.Equal(t, core.ReasonRejected, reason)
	assert.True(t, recorder.sawState(core.CallRejected))
}

func TestCandidateWithoutSessionIsDropped(t *testing.T) {
	c := NewCoordinator(&recordingSender{}, (&fakeFactory{}).new)
	defer c.Close()

	c.HandleMessage(signal.NewICECandidate(userA, core.NewCallID(),
		webrtc.ICECandidateInit{Candidate: "candidate:1"}))
	time.Sleep(50 * time.Millisecond)

	assert.Equal(t, core.CallIdle, c.State())
}

func TestCandidateForForeignCallIsDropped(t *testing.T) {
	factory := &fakeFactory{}
	sender := &recordingSender{}
	c := NewCoordinator(sender, factory.new)
	defer c.Close()

	require.NoError(t, c.Start(userB, core.AudioCall))
	waitOffer(t, sender)

	c.HandleMessage(signal.NewICECandidate(userA, core.NewCallID(),
		webrtc.ICECandidateInit{Candidate: "candidate:1"}))
	time.Sleep(50 * time.Millisecond)

	assert.Equal(t, 0, factory.last().remoteCandidateCount())
}

func TestLocalCandidateForwarded(t *testing.T) {
	factory := &fakeFactory{}
	sender := &recordingSender{}
	c := NewCoordinator(sender, factory.new)
	defer c.Close()

	require.NoError(t, c.Start(userB, core.AudioCall))
	offer := waitOffer(t, sender)

	factory.last().emitCandidate(webrtc.ICECandidateInit{Candidate: "candidate:1"})

	waitFor(t, func() bool { return len(sender.byKind(signal.KindICECandidate)) == 1 })
	candidate := sender.byKind(signal.KindICECandidate)[0].(*signal.ICECandidate)
	assert.Equal(t, userB, candidate.Recipient())
	assert.Equal(t, offer.CallID, candidate.CallID)
}

func TestRingTimeoutEndsCall(t *testing.T) {
	sender := &recordingSender{}
	recorder := &uiRecorder{}
	c := NewCoordinator(sender, (&fakeFactory{}).new,
		WithRingTimeout(50*time.Millisecond), WithCallbacks(recorder.callbacks()))
	defer c.Close()

	require.NoError(t, c.Start(userB, core.AudioCall))
	waitOffer(t, sender)
	waitState(t, c, core.CallIdle)

	reason, ok := recorder.lastReason()
	require.True(t, ok)
	assert.Equal(t, core.ReasonTimeout, reason)
	assert.Len(t, sender.byKind(signal.KindCallEnd), 1)
}

func TestCloseReleasesSession(t *testing.T) {
	factory := &fakeFactory{}
	sender := &recordingSender{}
	c := NewCoordinator(sender, factory.new)

	require.NoError(t, c.Start(userB, core.AudioCall))
	waitOffer(t, sender)

	require.NoError(t, c.Close())
	require.NoError(t, c.Close())

	assert.Equal(t, 1, factory.last().closeCount())
	assert.ErrorIs(t, c.Start(userB, core.AudioCall), ErrClosed)
}
