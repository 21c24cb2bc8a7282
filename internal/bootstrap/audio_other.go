//go:build !windows && !linux

package bootstrap

import (
	"runtime"

	"typevoice/internal/corerr"
)

// micCaptureArgs has no supported capture backend on this platform.
func micCaptureArgs() ([]string, string, error) {
	return nil, "", corerr.New("E_RECORDING_UNSUPPORTED_PLATFORM", "backend recording is not supported on "+runtime.GOOS)
}
