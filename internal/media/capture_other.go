//go:build !linux

package media

import (
	"errors"
	"fmt"
	"runtime"

	"github.com/pion/webrtc/v4"

	"github.com/dkeye/Ring/internal/core"
	"github.com/dkeye/Ring/internal/domain"
)

// DeviceStack on non-Linux platforms has no capture backend. Calls still
// work receive-only; Acquire reports NoDevice and the engine degrades.
func DeviceStack() (*Controller, *webrtc.API, error) {
	src := func(domain.MediaKind) ([]core.LocalTrack, error) {
		return nil, &core.MediaError{
			Code: core.MediaNoDevice,
			Err:  errors.New(noCaptureMsg()),
		}
	}
	return NewController(src), nil, nil
}

func noCaptureMsg() string {
	return fmt.Sprintf("no device capture backend on %s", runtime.GOOS)
}
