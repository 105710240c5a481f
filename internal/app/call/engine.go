// Package call implements the call lifecycle state machine: the single
// source of truth for call phase, arbitration of concurrent attempts, and
// cleanup on every exit path.
package call

import (
	"errors"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog/log"

	"github.com/dkeye/Ring/internal/core"
	"github.com/dkeye/Ring/internal/domain"
)

var (
	ErrBusy     = errors.New("call already in progress")
	ErrNoCall   = errors.New("no call in progress")
	ErrBadPhase = errors.New("action not valid in current phase")
	ErrBadKind  = errors.New("unknown media kind")
)

// Options tune engine behavior that is deliberately configurable.
type Options struct {
	// DenyOnAnswerMediaFailure denies an incoming call when answering
	// fails to acquire any media at all. When false the call proceeds
	// track-less instead.
	DenyOnAnswerMediaFailure bool
	// RingTimeout bounds how long an unanswered outgoing call rings
	// before it is torn down as unreachable. Zero disables the timeout.
	RingTimeout time.Duration
}

// Engine owns the one call session a client may have. All state changes
// run through its mutex: user actions, inbound signal dispatch and the
// completions of asynchronous media acquisition all serialize here.
//
// Async completions carry the epoch they started under and are discarded
// when the session they belonged to is gone.
type Engine struct {
	self     domain.PeerIdentity
	bus      core.SignalBus
	media    core.MediaController
	sessions core.PeerSessionFactory
	opts     Options

	mu        sync.Mutex
	sess      *session
	epoch     uint64
	lastError string

	onChange    func(Snapshot)
	unsubscribe func()
	ringTimer   *time.Timer
}

func NewEngine(
	self domain.PeerIdentity,
	bus core.SignalBus,
	media core.MediaController,
	sessions core.PeerSessionFactory,
	opts Options,
) *Engine {
	return &Engine{
		self:     self,
		bus:      bus,
		media:    media,
		sessions: sessions,
		opts:     opts,
	}
}

// OnChange registers the single state observer. Must be called before Run.
// The callback runs outside the engine lock but is never concurrent with
// itself for ordered transitions of one flow.
func (e *Engine) OnChange(fn func(Snapshot)) { e.onChange = fn }

// Run subscribes to the signal bus and starts dispatching inbound messages.
func (e *Engine) Run() error {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.resubscribeLocked(e.self)
}

// Rebind re-subscribes under a new identity, tearing the previous
// subscription down first so at most one listener per identity exists.
func (e *Engine) Rebind(self domain.PeerIdentity) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.self = self
	return e.resubscribeLocked(self)
}

func (e *Engine) resubscribeLocked(self domain.PeerIdentity) error {
	if e.unsubscribe != nil {
		e.unsubscribe()
		e.unsubscribe = nil
	}
	ch, cancel, err := e.bus.Subscribe(self)
	if err != nil {
		return err
	}
	e.unsubscribe = cancel
	go e.recvLoop(ch)
	log.Info().Str("module", "call").Str("self", string(self.ID)).Msg("subscribed")
	return nil
}

func (e *Engine) recvLoop(ch <-chan core.SignalMessage) {
	for msg := range ch {
		e.handleSignal(msg)
	}
}

// Close tears the subscription down and hangs up any live call.
func (e *Engine) Close() {
	e.mu.Lock()
	if e.unsubscribe != nil {
		e.unsubscribe()
		e.unsubscribe = nil
	}
	var snap *Snapshot
	if e.sess != nil {
		s := e.teardownLocked(true, "")
		snap = &s
	}
	e.mu.Unlock()
	if snap != nil {
		e.changed(*snap)
	}
}

// Snapshot returns the current observable state.
func (e *Engine) Snapshot() Snapshot {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.snapshotLocked()
}

func (e *Engine) snapshotLocked() Snapshot {
	snap := Snapshot{Phase: domain.PhaseIdle, LastError: e.lastError}
	if e.sess == nil {
		return snap
	}
	peer := e.sess.peer
	snap.Phase = e.sess.phase
	snap.Peer = &peer
	snap.Kind = e.sess.kind
	snap.IsCaller = e.sess.isCaller
	snap.Muted = e.sess.muted
	snap.CameraOff = e.sess.cameraOff
	snap.HasLocal = e.sess.local != nil
	snap.HasRemote = e.sess.remote != nil
	return snap
}

func (e *Engine) changed(snap Snapshot) {
	if e.onChange != nil {
		e.onChange(snap)
	}
}

// StartCall begins an outgoing call. Rejected outright while any session
// exists; no queueing, no overwrite.
func (e *Engine) StartCall(peer domain.PeerIdentity, kind domain.MediaKind) error {
	if !kind.Valid() {
		return ErrBadKind
	}
	e.mu.Lock()
	if e.sess != nil {
		e.mu.Unlock()
		return ErrBusy
	}
	e.lastError = ""
	e.epoch++
	ep := e.epoch
	e.sess = &session{
		id:       core.SessionID(uuid.NewString()),
		peer:     peer,
		kind:     kind,
		isCaller: true,
		phase:    domain.PhaseRingingOutgoing,
	}
	e.armRingTimerLocked(ep)
	snap := e.snapshotLocked()
	e.mu.Unlock()

	e.changed(snap)
	log.Info().Str("module", "call").Str("peer", string(peer.ID)).Str("kind", string(kind)).Msg("outgoing call")
	go e.beginOutgoing(ep, peer, kind)
	return nil
}

// beginOutgoing runs the async half of StartCall: acquire media, build the
// peer session and send the offer. Acquisition may race with a cancelling
// event, so the session is re-validated after the blocking step.
func (e *Engine) beginOutgoing(ep uint64, peer domain.PeerIdentity, kind domain.MediaKind) {
	stream, err := e.media.Acquire(kind)

	e.mu.Lock()
	if !e.aliveLocked(ep, domain.PhaseRingingOutgoing) {
		e.mu.Unlock()
		e.media.Release(stream)
		return
	}
	if err != nil {
		// Degrade: the offer still goes out with no tracks attached.
		e.lastError = err.Error()
	}
	e.sess.local = stream

	ps, sdp, perr := e.negotiateLocalLocked(ep, stream, "")
	if perr != nil {
		snap := e.teardownLocked(false, "negotiation: "+perr.Error())
		e.mu.Unlock()
		e.changed(snap)
		return
	}
	e.sess.peerSc = ps
	e.sendLocked(core.SignalMessage{
		Kind:  core.SignalOffer,
		From:  e.self,
		To:    peer,
		SDP:   sdp,
		Media: kind,
	})
	snap := e.snapshotLocked()
	e.mu.Unlock()
	e.changed(snap)
}

// Answer accepts the ringing incoming call.
func (e *Engine) Answer() error {
	e.mu.Lock()
	if e.sess == nil {
		e.mu.Unlock()
		return ErrNoCall
	}
	if e.sess.phase != domain.PhaseRingingIncoming {
		e.mu.Unlock()
		return ErrBadPhase
	}
	e.lastError = ""
	ep := e.epoch
	kind := e.sess.kind
	e.mu.Unlock()

	go e.beginAnswer(ep, kind)
	return nil
}

// beginAnswer runs the async half of Answer. A total media failure either
// denies the call or degrades it, per Options.
func (e *Engine) beginAnswer(ep uint64, kind domain.MediaKind) {
	stream, err := e.media.Acquire(kind)

	e.mu.Lock()
	if !e.aliveLocked(ep, domain.PhaseRingingIncoming) {
		e.mu.Unlock()
		e.media.Release(stream)
		return
	}
	if err != nil {
		e.lastError = err.Error()
		if e.opts.DenyOnAnswerMediaFailure {
			snap := e.teardownLocked(true, e.lastError)
			e.mu.Unlock()
			e.changed(snap)
			return
		}
	}
	e.sess.local = stream

	ps, sdp, perr := e.negotiateLocalLocked(ep, stream, e.sess.pendingOffer)
	if perr != nil {
		snap := e.teardownLocked(true, "negotiation: "+perr.Error())
		e.mu.Unlock()
		e.changed(snap)
		return
	}
	e.sess.peerSc = ps
	e.sess.pendingOffer = ""
	e.flushCandidatesLocked()
	e.sendLocked(core.SignalMessage{
		Kind: core.SignalAnswer,
		From: e.self,
		To:   e.sess.peer,
		SDP:  sdp,
	})
	e.activateLocked()
	snap := e.snapshotLocked()
	e.mu.Unlock()
	e.changed(snap)
}

// negotiateLocalLocked creates and starts the peer session and produces the
// local description: an offer when remoteOffer is empty, an answer
// otherwise.
func (e *Engine) negotiateLocalLocked(ep uint64, stream *core.LocalStream, remoteOffer string) (core.PeerSession, string, error) {
	ps, err := e.sessions(e.sess.id)
	if err != nil {
		return nil, "", err
	}
	peer := e.sess.peer
	ps.OnICECandidate(func(c core.Candidate) {
		e.sendCandidate(ep, peer, c)
	})
	ps.OnRemoteStream(func(rs *core.RemoteStream) {
		e.remoteArrived(ep, rs)
	})
	ps.OnClosed(func() {
		e.peerClosed(ep)
	})

	if err := ps.Start(stream); err != nil {
		ps.Close()
		return nil, "", err
	}
	var sdp string
	if remoteOffer == "" {
		sdp, err = ps.CreateOffer()
	} else {
		sdp, err = ps.ApplyOfferAndCreateAnswer(remoteOffer)
	}
	if err != nil {
		ps.Close()
		return nil, "", err
	}
	return ps, sdp, nil
}

// Deny rejects the ringing incoming call. Shares the hang-up transition;
// local media is never touched because none was acquired.
func (e *Engine) Deny() error {
	e.mu.Lock()
	if e.sess == nil {
		e.mu.Unlock()
		return ErrNoCall
	}
	if e.sess.phase != domain.PhaseRingingIncoming {
		e.mu.Unlock()
		return ErrBadPhase
	}
	snap := e.teardownLocked(true, "")
	e.mu.Unlock()
	e.changed(snap)
	return nil
}

// HangUp terminates the current call in any non-idle phase.
func (e *Engine) HangUp() error {
	e.mu.Lock()
	if e.sess == nil {
		e.mu.Unlock()
		return ErrNoCall
	}
	snap := e.teardownLocked(true, "")
	e.mu.Unlock()
	e.changed(snap)
	return nil
}

// ToggleMute flips the audio tracks of the local stream.
func (e *Engine) ToggleMute() error {
	return e.toggle(domain.MediaAudio)
}

// ToggleCamera flips the video tracks of the local stream.
func (e *Engine) ToggleCamera() error {
	return e.toggle(domain.MediaVideo)
}

func (e *Engine) toggle(kind domain.MediaKind) error {
	e.mu.Lock()
	if e.sess == nil {
		e.mu.Unlock()
		return ErrNoCall
	}
	enabled, err := e.media.ToggleKind(e.sess.local, kind)
	if err != nil {
		// Flag stays as it was; the condition is observable instead.
		e.lastError = "toggle " + string(kind) + ": " + err.Error()
	} else {
		switch kind {
		case domain.MediaAudio:
			e.sess.muted = !enabled
		case domain.MediaVideo:
			e.sess.cameraOff = !enabled
		}
	}
	snap := e.snapshotLocked()
	e.mu.Unlock()
	e.changed(snap)
	return err
}

// aliveLocked reports whether the session an async completion belongs to
// still exists in the phase the completion expects.
func (e *Engine) aliveLocked(ep uint64, phase domain.CallPhase) bool {
	return e.epoch == ep && e.sess != nil && e.sess.phase == phase
}

// activateLocked moves the session to active and promotes any remote
// stream that surfaced during negotiation.
func (e *Engine) activateLocked() {
	e.sess.phase = domain.PhaseActive
	e.stopRingTimerLocked()
	if e.sess.earlyRemote != nil {
		e.sess.remote = e.sess.earlyRemote
		e.sess.earlyRemote = nil
	}
}

// teardownLocked is the single exit path to idle. Releases media, closes
// the peer session, optionally sends one hangup, and clears the session.
// The epoch bump invalidates every in-flight async completion first.
func (e *Engine) teardownLocked(sendHangup bool, reason string) Snapshot {
	s := e.sess
	e.epoch++
	e.sess = nil
	e.stopRingTimerLocked()
	if reason != "" {
		e.lastError = reason
	}
	if s == nil {
		return e.snapshotLocked()
	}
	s.phase = domain.PhaseTerminating
	e.media.Release(s.local)
	if s.peerSc != nil {
		s.peerSc.Close()
	}
	if sendHangup {
		e.sendLocked(core.SignalMessage{
			Kind: core.SignalHangup,
			From: e.self,
			To:   s.peer,
		})
	}
	log.Info().Str("module", "call").Str("peer", string(s.peer.ID)).Str("reason", reason).Msg("call ended")
	return e.snapshotLocked()
}

func (e *Engine) armRingTimerLocked(ep uint64) {
	if e.opts.RingTimeout <= 0 {
		return
	}
	e.ringTimer = time.AfterFunc(e.opts.RingTimeout, func() {
		e.ringExpired(ep)
	})
}

func (e *Engine) stopRingTimerLocked() {
	if e.ringTimer != nil {
		e.ringTimer.Stop()
		e.ringTimer = nil
	}
}

// ringExpired tears an unanswered outgoing call down as unreachable.
func (e *Engine) ringExpired(ep uint64) {
	e.mu.Lock()
	if !e.aliveLocked(ep, domain.PhaseRingingOutgoing) {
		e.mu.Unlock()
		return
	}
	snap := e.teardownLocked(true, "peer unreachable: no answer")
	e.mu.Unlock()
	e.changed(snap)
}

// remoteArrived records the negotiated remote stream for the session it
// belongs to.
func (e *Engine) remoteArrived(ep uint64, rs *core.RemoteStream) {
	e.mu.Lock()
	if e.epoch != ep || e.sess == nil {
		e.mu.Unlock()
		return
	}
	if e.sess.phase == domain.PhaseActive {
		e.sess.remote = rs
	} else {
		e.sess.earlyRemote = rs
	}
	snap := e.snapshotLocked()
	e.mu.Unlock()
	e.changed(snap)
}

// peerClosed handles the peer session's teardown event. Dispatch is
// asynchronous because rtc fires it synchronously from our own Close
// during teardown; the epoch guard discards that echo.
func (e *Engine) peerClosed(ep uint64) {
	go func() {
		e.mu.Lock()
		if e.epoch != ep || e.sess == nil {
			e.mu.Unlock()
			return
		}
		// Connection-level failure is equivalent to a remote hangup.
		snap := e.teardownLocked(false, "connection closed")
		e.mu.Unlock()
		e.changed(snap)
	}()
}

// sendCandidate forwards a locally gathered candidate to the peer.
func (e *Engine) sendCandidate(ep uint64, peer domain.PeerIdentity, c core.Candidate) {
	e.mu.Lock()
	if e.epoch != ep || e.sess == nil {
		e.mu.Unlock()
		return
	}
	cand := c
	e.sendLocked(core.SignalMessage{
		Kind:      core.SignalCandidate,
		From:      e.self,
		To:        peer,
		Candidate: &cand,
	})
	e.mu.Unlock()
}

// sendLocked delivers a message over the bus. Transport failures surface
// as a condition but never force a phase transition by themselves.
func (e *Engine) sendLocked(msg core.SignalMessage) {
	if err := e.bus.Send(msg); err != nil {
		e.lastError = "signaling: " + err.Error()
		log.Error().Err(err).Str("module", "call").Str("kind", string(msg.Kind)).Msg("send failed")
	}
}

// flushCandidatesLocked replays candidates that arrived before the peer
// session existed.
func (e *Engine) flushCandidatesLocked() {
	for _, c := range e.sess.pendingCandidates {
		if err := e.sess.peerSc.AddRemoteCandidate(c); err != nil {
			log.Error().Err(err).Str("module", "call").Msg("replay candidate")
		}
	}
	e.sess.pendingCandidates = nil
}
