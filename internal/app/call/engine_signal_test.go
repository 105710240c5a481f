package call

import (
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dkeye/Ring/internal/core"
	"github.com/dkeye/Ring/internal/domain"
	"github.com/dkeye/Ring/internal/media"
)

func TestOfferWhileBusyRepliesHangup(t *testing.T) {
	f := newFixture(t, Options{})

	f.engine.handleSignal(anyOffer)
	require.Equal(t, domain.PhaseRingingIncoming, f.engine.Snapshot().Phase)

	// A third party calls while we are already ringing.
	f.engine.handleSignal(core.SignalMessage{Kind: core.SignalOffer, From: peerC, To: selfID, SDP: "another", Media: domain.MediaAudio})

	hangups := f.bus.sentOf(core.SignalHangup)
	require.Len(t, hangups, 1)
	assert.Equal(t, peerC.ID, hangups[0].To.ID, "the busy reply goes to the new caller")

	snap := f.engine.Snapshot()
	assert.Equal(t, domain.PhaseRingingIncoming, snap.Phase)
	assert.Equal(t, peerB.ID, snap.Peer.ID, "the original ring is untouched")
}

func TestOfferDuringOutgoingCallRejected(t *testing.T) {
	f := newFixture(t, Options{})

	require.NoError(t, f.engine.StartCall(peerB, domain.MediaAudio))
	f.awaitSent(t, core.SignalOffer, 1)

	// Glare: the same peer calls us back. Both sides reject; neither
	// session is overwritten.
	f.engine.handleSignal(core.SignalMessage{Kind: core.SignalOffer, From: peerB, To: selfID, SDP: "glare", Media: domain.MediaAudio})

	require.Len(t, f.bus.sentOf(core.SignalHangup), 1)
	assert.Equal(t, domain.PhaseRingingOutgoing, f.engine.Snapshot().Phase)
}

func TestHangupFromWrongPeerIsNoOp(t *testing.T) {
	f := newFixture(t, Options{})

	f.engine.handleSignal(anyOffer)
	f.engine.handleSignal(core.SignalMessage{Kind: core.SignalHangup, From: peerC, To: selfID})

	assert.Equal(t, domain.PhaseRingingIncoming, f.engine.Snapshot().Phase)
}

func TestHangupWhileIdleIsNoOp(t *testing.T) {
	f := newFixture(t, Options{})
	f.engine.handleSignal(core.SignalMessage{Kind: core.SignalHangup, From: peerB, To: selfID})
	assert.Equal(t, domain.PhaseIdle, f.engine.Snapshot().Phase)
	assert.Empty(t, f.bus.sent)
}

func TestStrayAnswerIgnored(t *testing.T) {
	f := newFixture(t, Options{})

	// Answer with no call at all.
	f.engine.handleSignal(core.SignalMessage{Kind: core.SignalAnswer, From: peerB, To: selfID, SDP: "x"})
	assert.Equal(t, domain.PhaseIdle, f.engine.Snapshot().Phase)

	// Answer from the wrong peer while ringing out.
	require.NoError(t, f.engine.StartCall(peerB, domain.MediaAudio))
	f.awaitSent(t, core.SignalOffer, 1)
	f.engine.handleSignal(core.SignalMessage{Kind: core.SignalAnswer, From: peerC, To: selfID, SDP: "x"})
	assert.Equal(t, domain.PhaseRingingOutgoing, f.engine.Snapshot().Phase)
}

func TestCandidateBeforePeerSessionIsBuffered(t *testing.T) {
	f := newFixture(t, Options{})

	f.engine.handleSignal(anyOffer)
	// Candidate races ahead of the user's answer: no peer session exists.
	f.engine.handleSignal(core.SignalMessage{
		Kind:      core.SignalCandidate,
		From:      peerB,
		To:        selfID,
		Candidate: &core.Candidate{Candidate: "early-cand"},
	})

	require.NoError(t, f.engine.Answer())
	f.awaitPhase(t, domain.PhaseActive)

	require.Eventually(t, func() bool {
		p := f.lastPeer()
		return p != nil && len(p.gotCandidates()) == 1
	}, waitFor, tick)
	assert.Equal(t, "early-cand", f.lastPeer().gotCandidates()[0].Candidate)
}

func TestCandidateBeforeRemoteDescriptionIsBuffered(t *testing.T) {
	f := newFixture(t, Options{})

	require.NoError(t, f.engine.StartCall(peerB, domain.MediaAudio))
	f.awaitSent(t, core.SignalOffer, 1)

	// Candidate arrives before the answer: the peer session holds it.
	f.engine.handleSignal(core.SignalMessage{
		Kind:      core.SignalCandidate,
		From:      peerB,
		To:        selfID,
		Candidate: &core.Candidate{Candidate: "pre-answer"},
	})
	assert.Empty(t, f.lastPeer().gotCandidates())

	f.engine.handleSignal(core.SignalMessage{Kind: core.SignalAnswer, From: peerB, To: selfID, SDP: "remote-answer"})
	f.awaitPhase(t, domain.PhaseActive)

	got := f.lastPeer().gotCandidates()
	require.Len(t, got, 1)
	assert.Equal(t, "pre-answer", got[0].Candidate)
}

func TestCandidateFromStrangerIgnored(t *testing.T) {
	f := newFixture(t, Options{})

	f.engine.handleSignal(anyOffer)
	f.engine.handleSignal(core.SignalMessage{
		Kind:      core.SignalCandidate,
		From:      peerC,
		To:        selfID,
		Candidate: &core.Candidate{Candidate: "stranger"},
	})

	require.NoError(t, f.engine.Answer())
	f.awaitPhase(t, domain.PhaseActive)
	assert.Empty(t, f.lastPeer().gotCandidates())
}

func TestRemoteStreamGatedOnActive(t *testing.T) {
	f := newFixture(t, Options{})

	require.NoError(t, f.engine.StartCall(peerB, domain.MediaAudio))
	f.awaitSent(t, core.SignalOffer, 1)

	// A remote stream surfacing before the answer stays unpublished.
	f.lastPeer().onRemote(&core.RemoteStream{})
	assert.False(t, f.engine.Snapshot().HasRemote)

	f.engine.handleSignal(core.SignalMessage{Kind: core.SignalAnswer, From: peerB, To: selfID, SDP: "remote-answer"})
	f.awaitPhase(t, domain.PhaseActive)
	assert.True(t, f.engine.Snapshot().HasRemote)
}

// pairBus wires two engines together in memory, standing in for the relay.
type pairBus struct {
	mu     sync.Mutex
	inbox  map[domain.PeerID]chan core.SignalMessage
	closed map[domain.PeerID]bool
}

func newPairBus() *pairBus {
	return &pairBus{
		inbox:  make(map[domain.PeerID]chan core.SignalMessage),
		closed: make(map[domain.PeerID]bool),
	}
}

func (b *pairBus) endpoint(id domain.PeerID) *pairEndpoint { return &pairEndpoint{bus: b, id: id} }

type pairEndpoint struct {
	bus *pairBus
	id  domain.PeerID
}

func (e *pairEndpoint) Send(msg core.SignalMessage) error {
	e.bus.mu.Lock()
	defer e.bus.mu.Unlock()
	ch, ok := e.bus.inbox[msg.To.ID]
	if !ok || e.bus.closed[msg.To.ID] {
		return nil // at-most-once: absent recipients drop
	}
	select {
	case ch <- msg:
	default:
	}
	return nil
}

func (e *pairEndpoint) Subscribe(self domain.PeerIdentity) (<-chan core.SignalMessage, func(), error) {
	ch := make(chan core.SignalMessage, 32)
	e.bus.mu.Lock()
	e.bus.inbox[self.ID] = ch
	e.bus.mu.Unlock()
	cancel := func() {
		e.bus.mu.Lock()
		defer e.bus.mu.Unlock()
		if !e.bus.closed[self.ID] {
			e.bus.closed[self.ID] = true
			close(ch)
		}
	}
	return ch, cancel, nil
}

func newPairedEngine(t *testing.T, bus core.SignalBus, self domain.PeerIdentity) *Engine {
	t.Helper()
	source := func(kind domain.MediaKind) ([]core.LocalTrack, error) {
		tracks := []core.LocalTrack{media.NewTrack(domain.MediaAudio, nil, nil)}
		if kind.WantsCamera() {
			tracks = append(tracks, media.NewTrack(domain.MediaVideo, nil, nil))
		}
		return tracks, nil
	}
	factory := func(core.SessionID) (core.PeerSession, error) { return &fakePeer{}, nil }
	e := NewEngine(self, bus, media.NewController(source), factory, Options{})
	require.NoError(t, e.Run())
	t.Cleanup(e.Close)
	return e
}

// TestTwoPartyCallScenario walks the full §-to-§ exchange: A dials B, B
// rings, B answers, both land in active.
func TestTwoPartyCallScenario(t *testing.T) {
	bus := newPairBus()
	alice := domain.PeerIdentity{ID: "alice", Username: "alice"}
	bob := domain.PeerIdentity{ID: "bob", Username: "bob"}

	a := newPairedEngine(t, bus.endpoint(alice.ID), alice)
	b := newPairedEngine(t, bus.endpoint(bob.ID), bob)

	require.NoError(t, a.StartCall(bob, domain.MediaAudio))
	assert.Equal(t, domain.PhaseRingingOutgoing, a.Snapshot().Phase)

	require.Eventually(t, func() bool {
		return b.Snapshot().Phase == domain.PhaseRingingIncoming
	}, waitFor, tick)
	require.NotNil(t, b.Snapshot().Peer)
	assert.Equal(t, alice.ID, b.Snapshot().Peer.ID)

	require.NoError(t, b.Answer())
	require.Eventually(t, func() bool {
		return b.Snapshot().Phase == domain.PhaseActive &&
			a.Snapshot().Phase == domain.PhaseActive
	}, waitFor, tick)

	// B hangs up; A follows without echoing a hangup back.
	require.NoError(t, b.HangUp())
	require.Eventually(t, func() bool {
		return a.Snapshot().Phase == domain.PhaseIdle &&
			b.Snapshot().Phase == domain.PhaseIdle
	}, waitFor, tick)
}

// TestBusyThirdParty reproduces the arbitration scenario: B rings with C,
// A's offer is bounced with a hangup and B keeps ringing.
func TestBusyThirdParty(t *testing.T) {
	bus := newPairBus()
	alice := domain.PeerIdentity{ID: "alice", Username: "alice"}
	bob := domain.PeerIdentity{ID: "bob", Username: "bob"}
	carol := domain.PeerIdentity{ID: "carol", Username: "carol"}

	a := newPairedEngine(t, bus.endpoint(alice.ID), alice)
	b := newPairedEngine(t, bus.endpoint(bob.ID), bob)
	c := newPairedEngine(t, bus.endpoint(carol.ID), carol)

	require.NoError(t, c.StartCall(bob, domain.MediaAudio))
	require.Eventually(t, func() bool {
		return b.Snapshot().Phase == domain.PhaseRingingIncoming
	}, waitFor, tick)

	require.NoError(t, a.StartCall(bob, domain.MediaAudio))

	// A's call collapses back to idle off B's busy reply.
	require.Eventually(t, func() bool {
		return a.Snapshot().Phase == domain.PhaseIdle
	}, waitFor, tick)

	snap := b.Snapshot()
	assert.Equal(t, domain.PhaseRingingIncoming, snap.Phase)
	assert.Equal(t, carol.ID, snap.Peer.ID)
}
