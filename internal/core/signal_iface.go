package core

import (
	"errors"

	"github.com/dkeye/Ring/internal/domain"
)

var (
	// ErrTransport marks a signal bus delivery failure. Non-fatal for an
	// established call; the engine surfaces it without changing phase.
	ErrTransport = errors.New("signal transport error")

	ErrBackpressure = errors.New("backpressure")
)

// SignalKind tags the variant of a SignalMessage.
type SignalKind string

const (
	SignalOffer     SignalKind = "offer"
	SignalAnswer    SignalKind = "answer"
	SignalCandidate SignalKind = "candidate"
	SignalHangup    SignalKind = "hangup"
)

// Candidate is one discovered network path, flattened for the wire.
type Candidate struct {
	Candidate     string `json:"candidate"`
	SDPMid        string `json:"sdpMid,omitempty"`
	SDPMLineIndex uint16 `json:"sdpMLineIndex,omitempty"`
}

// SignalMessage is the envelope exchanged over the relay. Transient only;
// produced and consumed by the bus adapter, never persisted.
type SignalMessage struct {
	Kind      SignalKind          `json:"kind"`
	From      domain.PeerIdentity `json:"from"`
	To        domain.PeerIdentity `json:"to"`
	SDP       string              `json:"sdp,omitempty"`
	Media     domain.MediaKind    `json:"media,omitempty"`
	Candidate *Candidate          `json:"candidate,omitempty"`
}

// SignalBus abstracts the per-identity addressable relay channel.
// No call logic lives behind it.
//
// Subscribe yields an infinite stream of messages addressed to self; the
// returned cancel tears the subscription down and closes the channel.
// Re-subscribing after an identity change must cancel the old subscription
// first so at most one listener per identity exists.
type SignalBus interface {
	Send(msg SignalMessage) error
	Subscribe(self domain.PeerIdentity) (<-chan SignalMessage, func(), error)
}
