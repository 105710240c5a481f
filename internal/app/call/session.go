package call

import (
	"github.com/dkeye/Ring/internal/core"
	"github.com/dkeye/Ring/internal/domain"
)

// session is the single in-progress call record. Owned exclusively by the
// Engine; every field mutation happens under the engine mutex.
type session struct {
	id       core.SessionID
	peer     domain.PeerIdentity
	kind     domain.MediaKind
	isCaller bool
	phase    domain.CallPhase

	local  *core.LocalStream
	remote *core.RemoteStream
	peerSc core.PeerSession

	// Callee side: the offer is buffered here until the user answers.
	pendingOffer string
	// Candidates that arrived before a peer session existed.
	pendingCandidates []core.Candidate
	// Remote stream that surfaced before the phase reached active.
	earlyRemote *core.RemoteStream

	muted     bool
	cameraOff bool
}

// Snapshot is the observable call state for the presentation layer.
type Snapshot struct {
	Phase     domain.CallPhase     `json:"phase"`
	Peer      *domain.PeerIdentity `json:"peer,omitempty"`
	Kind      domain.MediaKind     `json:"kind,omitempty"`
	IsCaller  bool                 `json:"is_caller,omitempty"`
	Muted     bool                 `json:"muted,omitempty"`
	CameraOff bool                 `json:"camera_off,omitempty"`
	HasLocal  bool                 `json:"has_local_stream,omitempty"`
	HasRemote bool                 `json:"has_remote_stream,omitempty"`
	LastError string               `json:"last_error,omitempty"`
}
