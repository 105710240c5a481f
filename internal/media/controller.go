// Package media owns local device capture for calls: acquisition, release
// and per-kind enable toggles. It reports failures as values so a call can
// proceed track-less instead of aborting.
package media

import (
	"errors"
	"os"
	"strings"

	"github.com/google/uuid"
	"github.com/rs/zerolog/log"

	"github.com/dkeye/Ring/internal/core"
	"github.com/dkeye/Ring/internal/domain"
)

// ErrNoTrack is reported by ToggleKind when the stream has no track of the
// requested kind.
var ErrNoTrack = errors.New("no track of requested kind")

// CaptureSource produces the local tracks for one acquisition. The device
// source is platform dependent; tests substitute their own.
type CaptureSource func(kind domain.MediaKind) ([]core.LocalTrack, error)

// Controller implements core.MediaController over a CaptureSource.
type Controller struct {
	source CaptureSource
}

func NewController(source CaptureSource) *Controller {
	return &Controller{source: source}
}

// Acquire captures the microphone and, for video calls, the camera.
// Failures come back as *core.MediaError with a nil stream.
func (c *Controller) Acquire(kind domain.MediaKind) (*core.LocalStream, error) {
	tracks, err := c.source(kind)
	if err != nil {
		merr := classify(err)
		log.Warn().Err(merr).Str("module", "media").Str("kind", string(kind)).Msg("acquire failed")
		return nil, merr
	}
	for _, t := range tracks {
		t.SetEnabled(true)
	}
	stream := &core.LocalStream{ID: uuid.NewString(), Tracks: tracks}
	log.Info().Str("module", "media").Str("stream", stream.ID).Int("tracks", len(tracks)).Msg("acquired")
	return stream, nil
}

// Release stops every track of the stream. Safe on nil and on streams that
// were already released.
func (c *Controller) Release(stream *core.LocalStream) {
	if stream == nil {
		return
	}
	for _, t := range stream.Tracks {
		t.Stop()
	}
	log.Info().Str("module", "media").Str("stream", stream.ID).Msg("released")
}

// ToggleKind flips every track of the kind and returns the new enabled
// state. When no such track exists nothing changes and ErrNoTrack is
// returned.
func (c *Controller) ToggleKind(stream *core.LocalStream, kind domain.MediaKind) (bool, error) {
	tracks := stream.TracksOf(kind)
	if len(tracks) == 0 {
		return false, ErrNoTrack
	}
	next := !tracks[0].Enabled()
	for _, t := range tracks {
		t.SetEnabled(next)
	}
	log.Info().Str("module", "media").Str("kind", string(kind)).Bool("enabled", next).Msg("toggled")
	return next, nil
}

// classify maps a raw capture error onto the media error taxonomy.
func classify(err error) *core.MediaError {
	var merr *core.MediaError
	if errors.As(err, &merr) {
		return merr
	}
	msg := strings.ToLower(err.Error())
	switch {
	case errors.Is(err, os.ErrPermission),
		strings.Contains(msg, "permission denied"),
		strings.Contains(msg, "access denied"):
		return &core.MediaError{Code: core.MediaPermissionDenied, Err: err}
	case strings.Contains(msg, "no device"),
		strings.Contains(msg, "not found"),
		strings.Contains(msg, "failed to find"):
		return &core.MediaError{Code: core.MediaNoDevice, Err: err}
	default:
		return &core.MediaError{Code: core.MediaOther, Err: err}
	}
}
