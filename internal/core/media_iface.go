package core

import (
	"fmt"

	"github.com/pion/webrtc/v4"

	"github.com/dkeye/Ring/internal/domain"
)

// MediaErrorCode discriminates acquisition failures.
type MediaErrorCode string

const (
	MediaNoDevice         MediaErrorCode = "no_device"
	MediaPermissionDenied MediaErrorCode = "permission_denied"
	MediaOther            MediaErrorCode = "other"
)

// MediaError is returned by MediaController.Acquire. Acquisition failure
// degrades a call rather than aborting it, so callers inspect the code and
// keep going with a nil stream.
type MediaError struct {
	Code MediaErrorCode
	Err  error
}

func (e *MediaError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("media %s: %v", e.Code, e.Err)
	}
	return "media " + string(e.Code)
}

func (e *MediaError) Unwrap() error { return e.Err }

// LocalTrack is one captured device track attached to a LocalStream.
// Owned by the MediaController; borrowed by the call session.
type LocalTrack interface {
	Kind() domain.MediaKind
	// RTP returns the sendable track; attached to the peer connection
	// by the peer session.
	RTP() webrtc.TrackLocal
	SetEnabled(bool)
	Enabled() bool
	Stop()
}

// LocalStream groups the tracks of one acquisition.
type LocalStream struct {
	ID     string
	Tracks []LocalTrack
}

// TracksOf returns every track of the given kind.
func (s *LocalStream) TracksOf(kind domain.MediaKind) []LocalTrack {
	if s == nil {
		return nil
	}
	out := make([]LocalTrack, 0, len(s.Tracks))
	for _, t := range s.Tracks {
		if t.Kind() == kind {
			out = append(out, t)
		}
	}
	return out
}

// MediaController acquires and releases local capture.
//
// Acquire requests the microphone always and the camera only for video
// calls. On success mute/camera flags are reset to enabled. On failure it
// returns a *MediaError and a nil stream.
//
// Release stops every track and is idempotent, including on nil streams.
//
// ToggleKind flips the enabled flag of every track of the kind and returns
// the new enabled state; when no such track exists it reports an error and
// changes nothing.
type MediaController interface {
	Acquire(kind domain.MediaKind) (*LocalStream, error)
	Release(stream *LocalStream)
	ToggleKind(stream *LocalStream, kind domain.MediaKind) (bool, error)
}
