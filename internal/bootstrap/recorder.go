package bootstrap

import (
	"context"
	"os"
	"path/filepath"
	"strings"
	"sync"

	"github.com/google/uuid"

	"typevoice/internal/corerr"
	"typevoice/internal/procctl"
)

// recordingOutcome carries a finished capture's process result back to
// whichever goroutine is waiting on it (Stop, Abort, or nobody if the
// capture is simply still running when the process exits on its own).
type recordingOutcome struct {
	res procctl.Result
	err error
}

// activeRecording tracks one in-flight backend capture. procctl.Controller
// only exposes a blocking Run-until-exit-or-cancel call, so the recorder
// keeps its own cancel func per recording to give start_backend_recording /
// stop_backend_recording / abort_backend_recording independent control over
// a specific capture rather than the whole controller.
type activeRecording struct {
	cancel  context.CancelFunc
	done    chan recordingOutcome
	outPath string
}

// recorder spawns ffmpeg microphone captures and lets the hotkey dispatcher
// (via hotkey.Driver) or the UI command surface stop or abort a specific
// one by id, grounded on procctl.Controller's signal/grace/kill cancel
// contract (C3) — the same contract the pipeline uses for FFmpeg
// preprocessing, reused here for capture instead of transform.
type recorder struct {
	ffmpegPath string
	workDir    string
	procs      *procctl.Controller

	mu     sync.Mutex
	active map[string]*activeRecording
}

func newRecorder(ffmpegPath, workDir string, procs *procctl.Controller) *recorder {
	return &recorder{ffmpegPath: ffmpegPath, workDir: workDir, procs: procs, active: make(map[string]*activeRecording)}
}

// Start spawns a new capture and returns its recording id immediately;
// the ffmpeg process keeps running until Stop or Abort cancels it.
func (r *recorder) Start(_ context.Context) (string, error) {
	args, ext, err := micCaptureArgs()
	if err != nil {
		return "", err
	}

	if err := os.MkdirAll(r.workDir, 0o755); err != nil {
		return "", corerr.Wrap("E_RECORDING_WORKDIR", "failed to prepare recording work directory", err)
	}

	recID := uuid.NewString()
	outPath := filepath.Join(r.workDir, "rec-"+recID+ext)

	runCtx, cancel := context.WithCancel(context.Background())
	done := make(chan recordingOutcome, 1)

	r.mu.Lock()
	r.active[recID] = &activeRecording{cancel: cancel, done: done, outPath: outPath}
	r.mu.Unlock()

	go func() {
		res, runErr := r.procs.Run(runCtx, procctl.Options{
			Name: r.ffmpegPath,
			Args: append(append([]string{}, args...), "-y", outPath),
		})
		done <- recordingOutcome{res: res, err: runErr}
	}()

	return recID, nil
}

// Stop cancels recID's capture, which FFmpeg treats as a request to
// finalize and close the output file cleanly (the same interrupt-then-kill
// budget procctl.Controller applies to the preprocess stage), and returns
// the finished file's path and extension for registration as a
// RecordingAsset.
func (r *recorder) Stop(_ context.Context, recID string) (path, ext string, err error) {
	rec, ok := r.takeLocked(recID)
	if !ok {
		return "", "", corerr.New("E_RECORDING_NOT_FOUND", "recording not found: "+recID)
	}

	rec.cancel()
	<-rec.done

	info, statErr := os.Stat(rec.outPath)
	if statErr != nil || info.Size() == 0 {
		_ = os.Remove(rec.outPath)
		return "", "", corerr.New("E_RECORDING_EMPTY", "recording produced no audio: "+recID)
	}

	return rec.outPath, strings.TrimPrefix(filepath.Ext(rec.outPath), "."), nil
}

// Abort cancels recID's capture and discards the file without registering
// an asset.
func (r *recorder) Abort(_ context.Context, recID string) error {
	rec, ok := r.takeLocked(recID)
	if !ok {
		return corerr.New("E_RECORDING_NOT_FOUND", "recording not found: "+recID)
	}

	rec.cancel()
	<-rec.done
	_ = os.Remove(rec.outPath)
	return nil
}

func (r *recorder) takeLocked(recID string) (*activeRecording, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	rec, ok := r.active[recID]
	if ok {
		delete(r.active, recID)
	}
	return rec, ok
}
