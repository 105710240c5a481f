package domain

// CallPhase is the lifecycle position of the single local call.
type CallPhase string

const (
	PhaseIdle            CallPhase = "idle"
	PhaseRingingOutgoing CallPhase = "ringing_outgoing"
	PhaseRingingIncoming CallPhase = "ringing_incoming"
	PhaseActive          CallPhase = "active"
	PhaseTerminating     CallPhase = "terminating"
)

// Terminal reports whether the phase means no live call remains.
func (p CallPhase) Terminal() bool { return p == PhaseIdle }

// MediaKind selects which device tracks a call negotiates.
// Fixed for a session's lifetime once chosen.
type MediaKind string

const (
	MediaAudio MediaKind = "audio"
	MediaVideo MediaKind = "video"
)

func (k MediaKind) Valid() bool { return k == MediaAudio || k == MediaVideo }

// WantsCamera reports whether this kind requires camera capture.
// Microphone is requested for every kind.
func (k MediaKind) WantsCamera() bool { return k == MediaVideo }
