package rtc

import (
	"sync"

	"github.com/pion/webrtc/v4"
	"github.com/rs/zerolog/log"

	"github.com/dkeye/Ring/internal/core"
)

// PeerSession wraps one pion PeerConnection for one call session.
// It implements core.PeerSession.
type PeerSession struct {
	pc  *webrtc.PeerConnection
	sid core.SessionID

	mu        sync.Mutex
	remoteSet bool
	pending   []webrtc.ICECandidateInit
	remote    *core.RemoteStream

	onICE    func(core.Candidate)
	onRemote func(*core.RemoteStream)
	onClosed func()

	remoteOnce sync.Once
	closedOnce sync.Once
	closePC    sync.Once
}

// WebRTCConfig builds the connection configuration from STUN URLs,
// falling back to a public server when none are configured.
func WebRTCConfig(stunURLs []string) webrtc.Configuration {
	if len(stunURLs) == 0 {
		stunURLs = []string{"stun:stun.l.google.com:19302"}
	}
	return webrtc.Configuration{
		ICEServers: []webrtc.ICEServer{
			{URLs: stunURLs},
		},
	}
}

// NewPeerSession builds a session from the configuration. api carries the
// media engine matching the local capture codecs; nil selects the default
// engine (receive-only setups and tests).
func NewPeerSession(cfg webrtc.Configuration, api *webrtc.API, sid core.SessionID) (*PeerSession, error) {
	var (
		pc  *webrtc.PeerConnection
		err error
	)
	if api != nil {
		pc, err = api.NewPeerConnection(cfg)
	} else {
		pc, err = webrtc.NewPeerConnection(cfg)
	}
	if err != nil {
		return nil, err
	}
	return &PeerSession{pc: pc, sid: sid}, nil
}

// Factory returns a core.PeerSessionFactory over the given configuration.
func Factory(cfg webrtc.Configuration, api *webrtc.API) core.PeerSessionFactory {
	return func(sid core.SessionID) (core.PeerSession, error) {
		return NewPeerSession(cfg, api, sid)
	}
}

// Start attaches local tracks and arms the connection callbacks.
// A nil or trackless stream gets recvonly transceivers so the produced
// description still carries valid media sections.
func (s *PeerSession) Start(stream *core.LocalStream) error {
	attached := 0
	if stream != nil {
		for _, t := range stream.Tracks {
			if t.RTP() == nil {
				continue
			}
			if _, err := s.pc.AddTrack(t.RTP()); err != nil {
				log.Error().Err(err).Str("module", "rtc").Str("sid", string(s.sid)).Msg("add track")
				continue
			}
			attached++
		}
	}
	if attached == 0 {
		if err := s.addRecvOnlyTransceivers(); err != nil {
			return err
		}
	}

	s.pc.OnICEConnectionStateChange(func(st webrtc.ICEConnectionState) {
		log.Info().Str("module", "rtc").Str("sid", string(s.sid)).Str("ice_state", st.String()).Msg("ICE state")
	})

	s.pc.OnConnectionStateChange(func(st webrtc.PeerConnectionState) {
		log.Info().Str("module", "rtc").Str("sid", string(s.sid)).Str("peer_connection_state", st.String()).Msg("Peer state")
		if st == webrtc.PeerConnectionStateFailed ||
			st == webrtc.PeerConnectionStateClosed {
			s.fireClosed()
		}
	})

	s.pc.OnICECandidate(func(cand *webrtc.ICECandidate) {
		if cand == nil || s.onICE == nil {
			return
		}
		s.onICE(fromInit(cand.ToJSON()))
	})

	s.pc.OnTrack(func(track *webrtc.TrackRemote, receiver *webrtc.RTPReceiver) {
		log.Info().
			Str("module", "rtc").
			Str("sid", string(s.sid)).
			Str("kind", track.Kind().String()).
			Str("track_id", track.ID()).
			Str("stream_id", track.StreamID()).
			Msg("OnTrack received")

		s.mu.Lock()
		if s.remote == nil {
			s.remote = &core.RemoteStream{}
		}
		s.remote.Tracks = append(s.remote.Tracks, track)
		remote := s.remote
		s.mu.Unlock()

		// First remote track completes negotiation; later tracks only
		// extend the already-published stream.
		s.remoteOnce.Do(func() {
			if s.onRemote != nil {
				s.onRemote(remote)
			}
		})
	})

	return nil
}

func (s *PeerSession) addRecvOnlyTransceivers() error {
	for _, kind := range []webrtc.RTPCodecType{webrtc.RTPCodecTypeAudio, webrtc.RTPCodecTypeVideo} {
		if _, err := s.pc.AddTransceiverFromKind(kind, webrtc.RTPTransceiverInit{
			Direction: webrtc.RTPTransceiverDirectionRecvonly,
		}); err != nil {
			return err
		}
	}
	return nil
}

func (s *PeerSession) CreateOffer() (string, error) {
	offer, err := s.pc.CreateOffer(nil)
	if err != nil {
		return "", err
	}
	if err := s.pc.SetLocalDescription(offer); err != nil {
		return "", err
	}
	return offer.SDP, nil
}

func (s *PeerSession) ApplyOfferAndCreateAnswer(offerSDP string) (string, error) {
	offer := webrtc.SessionDescription{Type: webrtc.SDPTypeOffer, SDP: offerSDP}
	if err := s.setRemoteDescription(offer); err != nil {
		return "", err
	}
	answer, err := s.pc.CreateAnswer(nil)
	if err != nil {
		return "", err
	}
	if err := s.pc.SetLocalDescription(answer); err != nil {
		return "", err
	}
	return answer.SDP, nil
}

func (s *PeerSession) ApplyAnswer(answerSDP string) error {
	answer := webrtc.SessionDescription{Type: webrtc.SDPTypeAnswer, SDP: answerSDP}
	return s.setRemoteDescription(answer)
}

func (s *PeerSession) setRemoteDescription(desc webrtc.SessionDescription) error {
	if err := s.pc.SetRemoteDescription(desc); err != nil {
		return err
	}

	s.mu.Lock()
	s.remoteSet = true
	pending := s.pending
	s.pending = nil
	s.mu.Unlock()

	for _, ci := range pending {
		if err := s.pc.AddICECandidate(ci); err != nil {
			log.Error().Err(err).Str("module", "rtc").Str("sid", string(s.sid)).Msg("apply buffered candidate")
		}
	}
	return nil
}

// AddRemoteCandidate applies a remote candidate. Candidates that arrive
// before the remote description are buffered and flushed once it is set.
func (s *PeerSession) AddRemoteCandidate(c core.Candidate) error {
	ci := toInit(c)

	s.mu.Lock()
	if !s.remoteSet {
		s.pending = append(s.pending, ci)
		s.mu.Unlock()
		return nil
	}
	s.mu.Unlock()

	return s.pc.AddICECandidate(ci)
}

func (s *PeerSession) OnICECandidate(fn func(core.Candidate)) { s.onICE = fn }

func (s *PeerSession) OnRemoteStream(fn func(*core.RemoteStream)) { s.onRemote = fn }

func (s *PeerSession) OnClosed(fn func()) { s.onClosed = fn }

// Close tears the connection down. Safe to call repeatedly or on a session
// that never started.
func (s *PeerSession) Close() {
	s.closePC.Do(func() {
		if err := s.pc.Close(); err != nil {
			log.Error().Err(err).Str("module", "rtc").Str("sid", string(s.sid)).Msg("close error")
		} else {
			log.Info().Str("module", "rtc").Str("sid", string(s.sid)).Msg("closed")
		}
	})
	s.fireClosed()
}

func (s *PeerSession) fireClosed() {
	s.closedOnce.Do(func() {
		if s.onClosed != nil {
			s.onClosed()
		}
	})
}

func toInit(c core.Candidate) webrtc.ICECandidateInit {
	ci := webrtc.ICECandidateInit{Candidate: c.Candidate}
	if c.SDPMid != "" {
		mid := c.SDPMid
		ci.SDPMid = &mid
	}
	idx := c.SDPMLineIndex
	ci.SDPMLineIndex = &idx
	return ci
}

func fromInit(ci webrtc.ICECandidateInit) core.Candidate {
	c := core.Candidate{Candidate: ci.Candidate}
	if ci.SDPMid != nil {
		c.SDPMid = *ci.SDPMid
	}
	if ci.SDPMLineIndex != nil {
		c.SDPMLineIndex = *ci.SDPMLineIndex
	}
	return c
}
