package call

import (
	"github.com/rs/zerolog/log"

	"github.com/dkeye/Ring/internal/core"
	"github.com/dkeye/Ring/internal/domain"
)

// handleSignal is the single inbound entry point. The bus gives no
// cross-kind ordering guarantee, so every branch tolerates messages that
// no longer apply to the live phase.
func (e *Engine) handleSignal(msg core.SignalMessage) {
	switch msg.Kind {
	case core.SignalOffer:
		e.handleOffer(msg)
	case core.SignalAnswer:
		e.handleAnswer(msg)
	case core.SignalCandidate:
		e.handleCandidate(msg)
	case core.SignalHangup:
		e.handleHangup(msg)
	default:
		log.Warn().Str("module", "call").Str("kind", string(msg.Kind)).Msg("unknown signal")
	}
}

// handleOffer either starts ringing or, when any session already exists,
// rejects the caller with an immediate hangup. Never queued, never
// silently dropped.
func (e *Engine) handleOffer(msg core.SignalMessage) {
	e.mu.Lock()
	if e.sess != nil {
		e.sendLocked(core.SignalMessage{
			Kind: core.SignalHangup,
			From: e.self,
			To:   msg.From,
		})
		e.mu.Unlock()
		log.Info().Str("module", "call").Str("from", string(msg.From.ID)).Msg("busy: offer rejected")
		return
	}
	kind := msg.Media
	if !kind.Valid() {
		kind = domain.MediaAudio
	}
	e.lastError = ""
	e.epoch++
	e.sess = &session{
		id:           core.SessionID(string(msg.From.ID) + ":" + string(e.self.ID)),
		peer:         msg.From,
		kind:         kind,
		isCaller:     false,
		phase:        domain.PhaseRingingIncoming,
		pendingOffer: msg.SDP,
	}
	snap := e.snapshotLocked()
	e.mu.Unlock()
	e.changed(snap)
	log.Info().Str("module", "call").Str("from", string(msg.From.ID)).Str("kind", string(kind)).Msg("incoming call")
}

// handleAnswer completes the caller side of negotiation.
func (e *Engine) handleAnswer(msg core.SignalMessage) {
	e.mu.Lock()
	if e.sess == nil ||
		e.sess.phase != domain.PhaseRingingOutgoing ||
		!e.sess.peer.SamePeer(msg.From) {
		e.mu.Unlock()
		log.Warn().Str("module", "call").Str("from", string(msg.From.ID)).Msg("stray answer")
		return
	}
	if e.sess.peerSc == nil {
		// The offer was never produced; nothing to apply the answer to.
		e.mu.Unlock()
		log.Warn().Str("module", "call").Msg("answer before local negotiation")
		return
	}
	if err := e.sess.peerSc.ApplyAnswer(msg.SDP); err != nil {
		snap := e.teardownLocked(true, "negotiation: "+err.Error())
		e.mu.Unlock()
		e.changed(snap)
		return
	}
	e.activateLocked()
	snap := e.snapshotLocked()
	e.mu.Unlock()
	e.changed(snap)
	log.Info().Str("module", "call").Str("from", string(msg.From.ID)).Msg("call active")
}

// handleCandidate forwards a remote candidate to the peer session, or
// buffers it while none exists yet. The peer session buffers further until
// its remote description is set.
func (e *Engine) handleCandidate(msg core.SignalMessage) {
	if msg.Candidate == nil {
		return
	}
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.sess == nil || !e.sess.peer.SamePeer(msg.From) {
		return
	}
	if e.sess.peerSc == nil {
		e.sess.pendingCandidates = append(e.sess.pendingCandidates, *msg.Candidate)
		return
	}
	if err := e.sess.peerSc.AddRemoteCandidate(*msg.Candidate); err != nil {
		log.Error().Err(err).Str("module", "call").Msg("add remote candidate")
	}
}

// handleHangup is always processable: a no-op in idle, a no-op when the
// sender is not the session's peer, cleanup otherwise. Never answered
// with a hangup of our own.
func (e *Engine) handleHangup(msg core.SignalMessage) {
	e.mu.Lock()
	if e.sess == nil || !e.sess.peer.SamePeer(msg.From) {
		e.mu.Unlock()
		return
	}
	snap := e.teardownLocked(false, "")
	e.mu.Unlock()
	e.changed(snap)
	log.Info().Str("module", "call").Str("from", string(msg.From.ID)).Msg("remote hangup")
}
