package pipeline

import (
	"os"
	"testing"

	"typevoice/internal/asset"
	"typevoice/internal/config"
	"typevoice/internal/corerr"
	"typevoice/internal/dictionary"
	"typevoice/internal/domain"
	"typevoice/internal/metrics"
	"typevoice/internal/trace"
)

type noopSink struct{}

func (noopSink) TaskEvent(domain.TaskEvent) {}
func (noopSink) TaskDone(domain.TaskDone)   {}

func newTestStore(t *testing.T) *config.Store {
	t.Helper()
	dir := t.TempDir()
	store := config.NewStore(dir + "/settings.json")
	rewrite, hotkeys, overlay := false, false, false
	if err := store.Save(config.Settings{
		RewriteEnabled:     &rewrite,
		HotkeysEnabled:     &hotkeys,
		HotkeysShowOverlay: &overlay,
	}); err != nil {
		t.Fatalf("save settings: %v", err)
	}
	return store
}

// newTestOrchestrator wires enough of Deps that a task admitted by Start
// can run its background goroutine to a (failing) terminal state without
// a nil-pointer panic, even in tests that only mean to exercise Start's
// synchronous guards: a real asset.Registry (so an unregistered asset id
// fails cleanly at Record instead of panicking), a trace.Writer rooted at
// a temp file, and a metrics.JSONLWriter rooted at a temp file.
func newTestOrchestrator(t *testing.T, ffmpegPath string) *Orchestrator {
	t.Helper()
	dir := t.TempDir()

	tr, err := trace.NewWriter(dir+"/trace.jsonl", trace.DefaultOptions())
	if err != nil {
		t.Fatalf("new trace writer: %v", err)
	}

	return New(Deps{
		Trace:       tr,
		Assets:      asset.New(),
		TaskMetrics: metrics.NewJSONLWriter(dir + "/metrics.jsonl"),
		FFmpegPath:  ffmpegPath,
	}, newTestStore(t), noopSink{})
}

func TestStartFailsWhenFFmpegMissing(t *testing.T) {
	o := newTestOrchestrator(t, "/no/such/ffmpeg/binary")

	_, err := o.Start(StartReq{RecordMode: domain.RecordModeAsset, RecordingAssetID: "asset-1"})
	if corerr.CodeOf(err, "") != "E_FFMPEG_NOT_FOUND" {
		t.Fatalf("unexpected error: %v", err)
	}
}

func TestStartRejectsMissingAssetID(t *testing.T) {
	ffmpeg := fakeExecutable(t)
	o := newTestOrchestrator(t, ffmpeg)

	_, err := o.Start(StartReq{RecordMode: domain.RecordModeAsset})
	if corerr.CodeOf(err, "") != "E_ASSET_REQUIRED" {
		t.Fatalf("unexpected error: %v", err)
	}
}

func TestStartRejectsMissingFixtureName(t *testing.T) {
	ffmpeg := fakeExecutable(t)
	o := newTestOrchestrator(t, ffmpeg)

	_, err := o.Start(StartReq{RecordMode: domain.RecordModeFixture})
	if corerr.CodeOf(err, "") != "E_ASSET_REQUIRED" {
		t.Fatalf("unexpected error: %v", err)
	}
}

func TestStartRejectsUnknownRecordMode(t *testing.T) {
	ffmpeg := fakeExecutable(t)
	o := newTestOrchestrator(t, ffmpeg)

	_, err := o.Start(StartReq{})
	if corerr.CodeOf(err, "") != "E_ASSET_REQUIRED" {
		t.Fatalf("unexpected error: %v", err)
	}
}

func TestStartRejectsSecondTaskWhileActive(t *testing.T) {
	ffmpeg := fakeExecutable(t)
	o := newTestOrchestrator(t, ffmpeg)

	o.mu.Lock()
	o.task = &domain.Task{ID: "running-task", State: domain.TaskStateActive}
	o.lastSeenID = "running-task"
	o.mu.Unlock()

	_, err := o.Start(StartReq{RecordMode: domain.RecordModeAsset, RecordingAssetID: "asset-1"})
	if corerr.CodeOf(err, "") != "E_TASK_ALREADY_ACTIVE" {
		t.Fatalf("unexpected error: %v", err)
	}
}

func TestStartAllowsNewTaskOnceTerminal(t *testing.T) {
	ffmpeg := fakeExecutable(t)
	o := newTestOrchestrator(t, ffmpeg)

	o.mu.Lock()
	o.task = &domain.Task{ID: "finished-task", State: domain.TaskStateCompleted}
	o.lastSeenID = "finished-task"
	o.mu.Unlock()

	// A blank asset id still fails validation, but past the already-active
	// guard, and before any background goroutine would be spawned.
	_, err := o.Start(StartReq{RecordMode: domain.RecordModeAsset})
	if corerr.CodeOf(err, "") == "E_TASK_ALREADY_ACTIVE" {
		t.Fatal("expected the already-active guard to have cleared for a terminal task")
	}
	if corerr.CodeOf(err, "") != "E_ASSET_REQUIRED" {
		t.Fatalf("unexpected error: %v", err)
	}
}

func TestStartResolvesGlossaryWhenRewriteAndDictionaryEnabled(t *testing.T) {
	ffmpeg := fakeExecutable(t)
	dir := t.TempDir()

	store := config.NewStore(dir + "/settings.json")
	rewrite, hotkeys, overlay := true, false, false
	if err := store.Save(config.Settings{
		RewriteEnabled:     &rewrite,
		RewriteTemplateID:  "default",
		LLMBaseURL:         "http://localhost:1234",
		LLMModel:           "test-model",
		HotkeysEnabled:     &hotkeys,
		HotkeysShowOverlay: &overlay,
	}); err != nil {
		t.Fatalf("save settings: %v", err)
	}

	dict := dictionary.NewStore(dir + "/dictionary.json")
	if _, err := dict.Save(dictionary.File{Entries: []dictionary.Entry{
		{SourceTerm: "api", PreferredTerm: "Application Programming Interface", Enabled: true},
	}}); err != nil {
		t.Fatalf("save dictionary: %v", err)
	}

	tr, err := trace.NewWriter(dir+"/trace.jsonl", trace.DefaultOptions())
	if err != nil {
		t.Fatalf("new trace writer: %v", err)
	}

	o := New(Deps{
		Trace:       tr,
		Assets:      asset.New(),
		TaskMetrics: metrics.NewJSONLWriter(dir + "/metrics.jsonl"),
		FFmpegPath:  ffmpeg,
		Dictionary:  dict,
	}, store, noopSink{})

	taskID, err := o.Start(StartReq{RecordMode: domain.RecordModeAsset, RecordingAssetID: "asset-1"})
	if err != nil {
		t.Fatalf("Start: %v", err)
	}

	o.mu.Lock()
	got := o.task.Rewrite.Glossary
	o.mu.Unlock()

	if taskID == "" {
		t.Fatal("expected a task id")
	}
	if len(got) != 1 || got[0] != "api -> Application Programming Interface" {
		t.Fatalf("expected the resolved glossary to be threaded onto the task, got %v", got)
	}
}

func TestCancelUnknownTaskID(t *testing.T) {
	o := newTestOrchestrator(t, fakeExecutable(t))

	err := o.Cancel("does-not-exist")
	if corerr.CodeOf(err, "") != "E_CMD_CANCEL" {
		t.Fatalf("unexpected error: %v", err)
	}
}

func TestCancelIsNoopOnTerminalTask(t *testing.T) {
	o := newTestOrchestrator(t, fakeExecutable(t))

	o.mu.Lock()
	o.task = &domain.Task{ID: "t1", State: domain.TaskStateCompleted}
	o.lastSeenID = "t1"
	o.mu.Unlock()

	if err := o.Cancel("t1"); err != nil {
		t.Fatalf("expected no-op success, got: %v", err)
	}
}

func TestCancelTripsTokenOnActiveTask(t *testing.T) {
	o := newTestOrchestrator(t, fakeExecutable(t))

	cancelled := false
	o.mu.Lock()
	o.task = &domain.Task{ID: "t1", State: domain.TaskStateActive}
	o.lastSeenID = "t1"
	o.cancelFunc = func() { cancelled = true }
	o.mu.Unlock()

	if err := o.Cancel("t1"); err != nil {
		t.Fatalf("Cancel: %v", err)
	}
	if !cancelled {
		t.Fatal("expected cancelFunc to have been invoked")
	}

	o.mu.Lock()
	state := o.task.State
	o.mu.Unlock()
	if state != domain.TaskStateCancelling {
		t.Fatalf("expected task state Cancelling, got %v", state)
	}
}

// fakeExecutable returns the path to a real, on-disk (but never run) file
// so Start's os.Stat(FFmpegPath) preflight passes without spawning an
// actual ffmpeg process in tests that only exercise the synchronous guard
// paths before Start hands off to the background goroutine.
func fakeExecutable(t *testing.T) string {
	t.Helper()
	f, err := os.CreateTemp(t.TempDir(), "fake-ffmpeg")
	if err != nil {
		t.Fatalf("create fake ffmpeg: %v", err)
	}
	f.Close()
	return f.Name()
}
