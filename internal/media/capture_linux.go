//go:build linux

package media

import (
	"fmt"

	"github.com/pion/interceptor"
	"github.com/pion/mediadevices"
	"github.com/pion/mediadevices/pkg/codec/opus"
	"github.com/pion/mediadevices/pkg/codec/vpx"
	_ "github.com/pion/mediadevices/pkg/driver/camera"
	_ "github.com/pion/mediadevices/pkg/driver/microphone"
	"github.com/pion/mediadevices/pkg/frame"
	"github.com/pion/mediadevices/pkg/prop"
	"github.com/pion/webrtc/v4"
	"github.com/rs/zerolog/log"

	"github.com/dkeye/Ring/internal/core"
	"github.com/dkeye/Ring/internal/domain"
)

// DeviceStack builds the production controller and the webrtc API whose
// media engine is populated with the same codecs the capture encoders use.
// Peer connections negotiating device tracks must come from this API.
func DeviceStack() (*Controller, *webrtc.API, error) {
	vpxParams, err := vpx.NewVP8Params()
	if err != nil {
		return nil, nil, err
	}
	vpxParams.BitRate = 1_500_000 // 1.5 Mbps

	opusParams, err := opus.NewParams()
	if err != nil {
		return nil, nil, err
	}

	selector := mediadevices.NewCodecSelector(
		mediadevices.WithVideoEncoders(&vpxParams),
		mediadevices.WithAudioEncoders(&opusParams),
	)

	mediaEngine := &webrtc.MediaEngine{}
	selector.Populate(mediaEngine)

	registry := &interceptor.Registry{}
	if err := webrtc.RegisterDefaultInterceptors(mediaEngine, registry); err != nil {
		return nil, nil, err
	}
	api := webrtc.NewAPI(
		webrtc.WithMediaEngine(mediaEngine),
		webrtc.WithInterceptorRegistry(registry),
	)

	return NewController(deviceSource(selector)), api, nil
}

// deviceSource captures via pion/mediadevices (V4L2 + malgo). The video
// attempt falls back to audio-only so a missing camera does not block an
// audio path, mirroring the degradation policy of Acquire.
func deviceSource(selector *mediadevices.CodecSelector) CaptureSource {
	return func(kind domain.MediaKind) ([]core.LocalTrack, error) {
		type attempt struct {
			video bool
			label string
		}
		attempts := []attempt{{kind.WantsCamera(), string(kind)}}
		if kind.WantsCamera() {
			attempts = append(attempts, attempt{false, "audio-only"})
		}

		var lastErr error
		for _, a := range attempts {
			constraints := mediadevices.MediaStreamConstraints{
				Codec: selector,
				Audio: func(_ *mediadevices.MediaTrackConstraints) {},
			}
			if a.video {
				constraints.Video = func(c *mediadevices.MediaTrackConstraints) {
					// Raw formats only; some cameras expose a broken
					// MJPEG node that poisons the VP8 encoder.
					c.FrameFormat = prop.FrameFormatOneOf{
						frame.FormatYUYV,
						frame.FormatI420,
						frame.FormatI444,
						frame.FormatRGBA,
					}
					c.Width = prop.IntRanged{Max: 640}
					c.Height = prop.IntRanged{Max: 480}
				}
			}

			stream, err := mediadevices.GetUserMedia(constraints)
			if err != nil {
				log.Warn().Err(err).Str("module", "media").Str("attempt", a.label).Msg("GetUserMedia failed")
				lastErr = err
				continue
			}

			var out []core.LocalTrack
			for _, track := range stream.GetTracks() {
				track.OnEnded(func(err error) {
					if err != nil {
						log.Warn().Err(err).Str("module", "media").Msg("local track ended")
					}
				})
				kind := domain.MediaAudio
				if track.Kind() == webrtc.RTPCodecTypeVideo {
					kind = domain.MediaVideo
				}
				t := track
				out = append(out, NewTrack(kind, t, func() { _ = t.Close() }))
			}
			log.Info().Str("module", "media").Str("attempt", a.label).Int("tracks", len(out)).Msg("captured")
			return out, nil
		}

		if lastErr == nil {
			lastErr = fmt.Errorf("no capture attempt succeeded")
		}
		return nil, lastErr
	}
}
