package core

import "github.com/pion/webrtc/v4"

type SessionID string

// RemoteStream is the remote side's media as it arrives. Non-nil only while
// a call is active; tracks accumulate as the peer adds them.
type RemoteStream struct {
	Tracks []*webrtc.TrackRemote
}

// PeerSession owns one network peer connection bound to one call session.
//
// Callback registration is single-shot: each On* method is called at most
// once, before Start. OnRemoteStream fires exactly once per successful
// negotiation; OnClosed fires exactly once per teardown, whether
// self-initiated, remote-initiated or a negotiation failure that never
// produced a remote stream.
type PeerSession interface {
	// Start attaches local tracks (recvonly transceivers when stream is
	// nil or trackless) and arms the connection callbacks.
	Start(stream *LocalStream) error

	// CreateOffer produces the local description for the caller side.
	CreateOffer() (sdp string, err error)
	// ApplyOfferAndCreateAnswer ingests the remote offer and produces the
	// callee's local description.
	ApplyOfferAndCreateAnswer(offerSDP string) (sdp string, err error)
	// ApplyAnswer ingests the remote answer on the caller side.
	ApplyAnswer(answerSDP string) error

	// AddRemoteCandidate applies a remote candidate, buffering it until
	// the remote description is set.
	AddRemoteCandidate(c Candidate) error

	OnICECandidate(fn func(Candidate))
	OnRemoteStream(fn func(*RemoteStream))
	OnClosed(fn func())

	// Close tears the connection down. Idempotent; safe on a session that
	// was never started.
	Close()
}

// PeerSessionFactory builds a fresh PeerSession for one call.
type PeerSessionFactory func(sid SessionID) (PeerSession, error)
