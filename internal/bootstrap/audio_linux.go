//go:build linux

package bootstrap

import "os"

// micCaptureArgs returns the ffmpeg input arguments for the platform's
// default microphone device, via PulseAudio's "default" source (the
// default input), overridable for test rigs and alternate setups.
func micCaptureArgs() ([]string, string, error) {
	device := os.Getenv("TYPEVOICE_AUDIO_DEVICE")
	if device == "" {
		device = "default"
	}
	return []string{"-f", "pulse", "-i", device}, ".wav", nil
}
