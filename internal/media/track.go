package media

import (
	"sync"
	"sync/atomic"

	"github.com/pion/webrtc/v4"

	"github.com/dkeye/Ring/internal/domain"
)

// Track implements core.LocalTrack over any sendable pion track plus a
// capture stop hook.
type Track struct {
	kind    domain.MediaKind
	rtp     webrtc.TrackLocal
	enabled atomic.Bool
	stop    func()
	once    sync.Once
}

// NewTrack builds an enabled track. stop may be nil.
func NewTrack(kind domain.MediaKind, rtp webrtc.TrackLocal, stop func()) *Track {
	t := &Track{kind: kind, rtp: rtp, stop: stop}
	t.enabled.Store(true)
	return t
}

func (t *Track) Kind() domain.MediaKind { return t.kind }

func (t *Track) RTP() webrtc.TrackLocal { return t.rtp }

func (t *Track) SetEnabled(on bool) { t.enabled.Store(on) }

func (t *Track) Enabled() bool { return t.enabled.Load() }

// Stop halts capture for this track. Idempotent.
func (t *Track) Stop() {
	t.once.Do(func() {
		if t.stop != nil {
			t.stop()
		}
	})
}
