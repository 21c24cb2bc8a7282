//go:build windows

package bootstrap

import "os"

// micCaptureArgs returns the ffmpeg input arguments for the platform's
// default microphone device.
//
// original_source/record_input.rs resolves this through a three-strategy
// Core Audio / dshow matcher (follow-default, fixed-device, auto-select)
// with a cached "last working spec" and a full resolution audit log. That
// system is scoped out here (see DESIGN.md): a single configurable dshow
// device name covers the same recorder contract (start/stop/abort a mic
// capture) without porting Windows Core Audio endpoint enumeration.
func micCaptureArgs() ([]string, string, error) {
	device := os.Getenv("TYPEVOICE_AUDIO_DEVICE")
	if device == "" {
		device = "virtual-audio-capturer"
	}
	return []string{"-f", "dshow", "-i", "audio=" + device}, ".wav", nil
}
