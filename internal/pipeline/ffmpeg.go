package pipeline

import (
	"fmt"

	"typevoice/internal/domain"
)

// buildFFmpegArgs reproduces original_source/pipeline.rs's
// build_ffmpeg_preprocess_args: downmix to mono 16kHz PCM, with an optional
// silenceremove filter at the edges when trimming is enabled.
func buildFFmpegArgs(input, output string, cfg domain.PreprocessParams) []string {
	args := []string{
		"-y", "-hide_banner", "-loglevel", "error",
		"-i", input,
		"-ac", "1",
		"-ar", "16000",
		"-c:a", "pcm_s16le",
	}

	if cfg.SilenceTrimEnabled {
		start := float64(cfg.SilenceTrimStartMs) / 1000.0
		end := float64(cfg.SilenceTrimEndMs) / 1000.0
		filter := fmt.Sprintf(
			"silenceremove=start_periods=1:start_duration=%.3f:start_threshold=%gdB:stop_periods=-1:stop_duration=%.3f:stop_threshold=%gdB",
			start, cfg.SilenceThresholdDb, end, cfg.SilenceThresholdDb,
		)
		args = append(args, "-af", filter)
	}

	args = append(args, "-vn", output)
	return args
}
