package call

import (
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

// loopback routes messages between in-process coordinators the way the
// relay does: rewrite to the delivered form, look up the recipient.
type loopback struct {
	mu      sync.Mutex
	clients map[core.UserID]*Coordinator
}

func newLoopback() *loopback {
	return &loopback{clients: make(map[core.UserID]*Coordinator)}
}

func (l *loopback) register(id core.UserID, c *Coordinator) {
	l.mu.Lock()
	l.clients[id] = c
	l.mu.Unlock()
}

type senderFunc func(msg signal.Message) error

func (f senderFunc) Send(msg signal.Message) error { return f(msg) }

func (l *loopback) sender(from core.UserID) Sender {
	return senderFunc(func(msg signal.Message) error {
		delivered, err := signal.Deliver(from, msg)
		if err != nil {
			return err
		}

		l.mu.Lock()
		recipient := l.clients[delivered.Recipient()]
		l.mu.Unlock()

		// Unknown recipients are dropped, as the relay drops them.
		if recipient != nil {
			recipient.HandleMessage(delivered)
		}
		return nil
	})
}

type client struct {
	id       core.UserID
	coord    *Coordinator
	factory  *fakeFactory
	recorder *uiRecorder
}

func newClient(t *testing.T, router *loopback, id core.UserID, opts ...Option) *client {
	factory := &fakeFactory{}
	recorder := &uiRecorder{}

	opts = append(opts, WithCallbacks(recorder.callbacks()))
	coord := NewCoordinator(router.sender(id), factory.new, opts...)
	router.register(id, coord)
	t.Cleanup(func() { coord.Close() })

	return &client{id: id, coord: coord, factory: factory, recorder: recorder}
}

func TestTwoClientsAcceptFlow(t *testing.T) {
	router := newLoopback()
	a := newClient(t, router, userA)
	b := newClient(t, router, userB)

	// A calls B with video; B rings with A's identity and media kind.
	require.NoError(t, a.coord.Start(userB, core.VideoCall))
	waitState(t, b.coord, core.CallRinging)

	b.recorder.mu.Lock()
	require.Len(t, b.recorder.incoming, 1)
	incoming := b.recorder.incoming[0]
	b.recorder.mu.Unlock()
	assert.Equal(t, userA, incoming.RemoteUser)
	assert.Equal(t, core.VideoCall, incoming.MediaKind)

	// B accepts; both sides go active with streams attached.
	require.NoError(t, b.coord.Accept())
	waitState(t, a.coord, core.CallActive)
	waitState(t, b.coord, core.CallActive)

	assert.NotNil(t, a.coord.LocalStream())
	assert.NotNil(t, a.coord.RemoteStream())
	assert.NotNil(t, b.coord.LocalStream())
	assert.NotNil(t, b.coord.RemoteStream())

	aInfo := a.coord.CallInfo()
	bInfo := b.coord.CallInfo()
	require.NotNil(t, aInfo)
	require.NotNil(t, bInfo)
	assert.Equal(t, aInfo.CallID, bInfo.CallID)

	// A hangs up; B is released.
	require.NoError(t, a.coord.End())
	waitState(t, a.coord, core.CallIdle)
	waitState(t, b.coord, core.CallIdle)

	assert.Nil(t, b.coord.LocalStream())
	assert.Nil(t, b.coord.RemoteStream())

	reason, ok := b.recorder.lastReason()
	require.True(t, ok)
	assert.Equal(t, core.ReasonEnded, reason)
}

func TestTwoClientsRejectFlow(t *testing.T) {
	router := newLoopback()
	a := newClient(t, router, userA)
	b := newClient(t, router, userB)

	require.NoError(t, a.coord.Start(userB, core.AudioCall))
	waitState(t, b.coord, core.CallRinging)

	require.NoError(t, b.coord.Reject())
	waitState(t, b.coord, core.CallIdle)
	waitState(t, a.coord, core.CallIdle)

	reason, ok := a.recorder.lastReason()
	require.True(t, ok)
	assert.Equal(t, core.ReasonRejected, reason)
	assert.True(t, a.recorder.sawState(core.CallRejected))
}

func TestBusyCalleeAutoRejectsThirdParty(t *testing.T) {
	router := newLoopback()
	a := newClient(t, router, userA)
	b := newClient(t, router, userB)
	c := newClient(t, router, userC)

	require.NoError(t, a.coord.Start(userB, core.AudioCall))
	waitState(t, b.coord, core.CallRinging)
	require.NoError(t, b.coord.Accept())
	waitState(t, a.coord, core.CallActive)

	require.NoError(t, c.coord.Start(userB, core.AudioCall))
	waitState(t, c.coord, core.CallIdle)

	reason, ok := c.recorder.lastReason()
	require.True(t, ok)
	assert.Equal(t, core.ReasonRejected, reason)
	assert.Equal(t, core.CallActive, b.coord.State())
}

func TestCalleeCaptureDenialLeavesCallerCalling(t *testing.T) {
	router := newLoopback()
	a := newClient(t, router, userA)
	b := newClient(t, router, userB)
	b.factory.captureErr = fmt.Errorf("%w: permission denied", rtc.ErrCapture)

	require.NoError(t, a.coord.Start(userB, core.VideoCall))
	waitState(t, b.coord, core.CallRinging)

	require.NoError(t, b.coord.Accept())
	waitState(t, b.coord, core.CallIdle)

	reason, ok := b.recorder.lastReason()
	require.True(t, ok)
	assert.Equal(t, core.ReasonFailed, reason)

	// No answer and no reject ever reach A: without a ring timeout the
	// caller keeps waiting.
	time.Sleep(100 * time.Millisecond)
	assert.Equal(t, core.CallCalling, a.coord.State())
}

func TestCandidatesFlowBetweenPeers(t *testing.T) {
	router := newLoopback()
	a := newClient(t, router, userA)
	b := newClient(t, router, userB)

	require.NoError(t, a.coord.Start(userB, core.AudioCall))
	waitState(t, b.coord, core.CallRinging)
	require.NoError(t, b.coord.Accept())
	waitState(t, a.coord, core.CallActive)

	a.factory.last().emitCandidate(webrtc.ICECandidateInit{Candidate: "candidate:a1"})
	b.factory.last().emitCandidate(webrtc.ICECandidateInit{Candidate: "candidate:b1"})

	waitFor(t, func() bool { return b.factory.last().remoteCandidateCount() == 1 })
	waitFor(t, func() bool { return a.factory.last().remoteCandidateCount() == 1 })
}
