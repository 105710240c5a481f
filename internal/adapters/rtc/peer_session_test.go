package rtc

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dkeye/Ring/internal/core"
)

const hostCandidate = "candidate:1 1 UDP 2130706431 127.0.0.1 54321 typ host"

func newStarted(t *testing.T, sid core.SessionID) *PeerSession {
	t.Helper()
	s, err := NewPeerSession(WebRTCConfig(nil), nil, sid)
	require.NoError(t, err)
	t.Cleanup(s.Close)
	require.NoError(t, s.Start(nil))
	return s
}

func TestWebRTCConfigDefaults(t *testing.T) {
	cfg := WebRTCConfig(nil)
	require.Len(t, cfg.ICEServers, 1)
	assert.Equal(t, []string{"stun:stun.l.google.com:19302"}, cfg.ICEServers[0].URLs)

	custom := WebRTCConfig([]string{"stun:stun.example.org:3478"})
	assert.Equal(t, []string{"stun:stun.example.org:3478"}, custom.ICEServers[0].URLs)
}

func TestOfferAnswerExchange(t *testing.T) {
	caller := newStarted(t, "caller")
	callee := newStarted(t, "callee")

	offer, err := caller.CreateOffer()
	require.NoError(t, err)
	require.Contains(t, offer, "m=audio")

	answer, err := callee.ApplyOfferAndCreateAnswer(offer)
	require.NoError(t, err)
	require.NotEmpty(t, answer)

	require.NoError(t, caller.ApplyAnswer(answer))
}

func TestCandidateBufferedUntilRemoteDescription(t *testing.T) {
	caller := newStarted(t, "caller")
	callee := newStarted(t, "callee")

	offer, err := caller.CreateOffer()
	require.NoError(t, err)

	// Candidate outruns the offer: it must be held, not dropped.
	require.NoError(t, callee.AddRemoteCandidate(core.Candidate{
		Candidate:     hostCandidate,
		SDPMLineIndex: 0,
	}))
	callee.mu.Lock()
	buffered := len(callee.pending)
	callee.mu.Unlock()
	require.Equal(t, 1, buffered)

	_, err = callee.ApplyOfferAndCreateAnswer(offer)
	require.NoError(t, err)

	callee.mu.Lock()
	defer callee.mu.Unlock()
	assert.Empty(t, callee.pending, "buffered candidates flush on remote description")
	assert.True(t, callee.remoteSet)
}

func TestCandidateAppliedDirectlyAfterRemoteDescription(t *testing.T) {
	caller := newStarted(t, "caller")
	callee := newStarted(t, "callee")

	offer, err := caller.CreateOffer()
	require.NoError(t, err)
	_, err = callee.ApplyOfferAndCreateAnswer(offer)
	require.NoError(t, err)

	require.NoError(t, callee.AddRemoteCandidate(core.Candidate{
		Candidate:     hostCandidate,
		SDPMLineIndex: 0,
	}))
	callee.mu.Lock()
	defer callee.mu.Unlock()
	assert.Empty(t, callee.pending)
}

func TestCloseIdempotent(t *testing.T) {
	s, err := NewPeerSession(WebRTCConfig(nil), nil, "sid")
	require.NoError(t, err)

	closedCount := 0
	s.OnClosed(func() { closedCount++ })

	// Never started, closed repeatedly: exactly one closed event.
	s.Close()
	s.Close()
	s.Close()
	assert.Equal(t, 1, closedCount)
}

func TestStartWithNilStreamProducesMediaSections(t *testing.T) {
	s := newStarted(t, "sid")
	offer, err := s.CreateOffer()
	require.NoError(t, err)
	assert.Contains(t, offer, "m=audio")
	assert.Contains(t, offer, "m=video")
}

func TestCandidateConversionRoundTrip(t *testing.T) {
	in := core.Candidate{Candidate: hostCandidate, SDPMid: "0", SDPMLineIndex: 0}
	out := fromInit(toInit(in))
	assert.Equal(t, in, out)

	// Empty mid stays empty through the pointer mapping.
	bare := core.Candidate{Candidate: hostCandidate}
	ci := toInit(bare)
	assert.Nil(t, ci.SDPMid)
	require.NotNil(t, ci.SDPMLineIndex)
	assert.Equal(t, bare, fromInit(ci))
}
