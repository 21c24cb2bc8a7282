// Package bootstrap wires every leaf component (config, trace, session,
// asset, ASR, procctl, history, metrics, pipeline, hotkey, settingsapply,
// export, toolchain, devfeed) into the Wails-bound App the desktop shell
// drives, reproducing the teacher's New/NewWithAssets/Run/Startup/Bind
// wiring shape with the command surface replaced end to end.
package bootstrap

import (
	"context"
	"encoding/json"
	"fmt"
	"io/fs"
	"log/slog"
	"net/http"
	"os"
	"os/exec"
	"path/filepath"
	"runtime"
	"strings"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/wailsapp/wails/v2"
	"github.com/wailsapp/wails/v2/pkg/options"
	"github.com/wailsapp/wails/v2/pkg/options/assetserver"
	wailsruntime "github.com/wailsapp/wails/v2/pkg/runtime"

	"typevoice/internal/asr"
	"typevoice/internal/asset"
	"typevoice/internal/config"
	"typevoice/internal/corerr"
	"typevoice/internal/devfeed"
	"typevoice/internal/dictionary"
	"typevoice/internal/domain"
	"typevoice/internal/export"
	"typevoice/internal/history"
	"typevoice/internal/hotkey"
	"typevoice/internal/metrics"
	"typevoice/internal/paths"
	"typevoice/internal/pipeline"
	"typevoice/internal/procctl"
	"typevoice/internal/session"
	"typevoice/internal/settingsapply"
	"typevoice/internal/toolchain"
	"typevoice/internal/trace"
)

// App binds the full command surface (§6) to Wails as methods, and
// implements both pipeline.EventSink and hotkey.Sink/Driver so the
// orchestrator and hotkey dispatcher can drive it without knowing about
// Wails at all.
type App struct {
	dataDir string
	assets  fs.FS

	store    *config.Store
	resolver *config.Resolver
	tr       *trace.Writer

	sessions  *session.Registry
	assetsReg *asset.Registry
	asrSup    *asr.Supervisor
	procs     *procctl.Controller
	hist      *history.Store
	dict      *dictionary.Store

	taskMetrics *metrics.JSONLWriter
	promReg     *prometheus.Registry
	prom        *metrics.Prometheus

	orchestrator *pipeline.Orchestrator
	applier      *settingsapply.Applier
	dispatcher   *hotkey.Dispatcher
	recorder     *recorder
	collector    *contextCollector

	feed     *devfeed.Hub
	diagHTTP *diagnosticsServer
	checker  *toolchain.Checker

	pythonBinary string

	mu         sync.Mutex
	runtimeCtx context.Context
	lastTaskID string

	sweepStop chan struct{}
}

// New builds the application using the default on-disk frontend, for dev
// builds that run out of ./frontend instead of an embedded bundle.
func New() (*App, error) {
	return NewWithAssets(nil)
}

// NewWithAssets builds and wires every component rooted at the resolved
// data directory (TYPEVOICE_DATA_DIR, else ~/.typevoice).
func NewWithAssets(assets fs.FS) (*App, error) {
	dataDir, err := paths.DataDir()
	if err != nil {
		return nil, fmt.Errorf("resolve data dir: %w", err)
	}
	if err := os.MkdirAll(dataDir, 0o755); err != nil {
		return nil, fmt.Errorf("create data dir: %w", err)
	}

	store := config.NewStore(paths.SettingsPath(dataDir))
	resolver := config.NewResolver()

	tr, err := trace.NewWriter(paths.TracePath(dataDir), trace.DefaultOptions())
	if err != nil {
		return nil, fmt.Errorf("open trace writer: %w", err)
	}

	hist, err := history.Open(paths.HistoryDBPath(dataDir))
	if err != nil {
		return nil, fmt.Errorf("open history store: %w", err)
	}

	ffmpegPath := resolveFFmpegPath()

	pythonBinary := strings.TrimSpace(os.Getenv("TYPEVOICE_PYTHON_BIN"))
	if pythonBinary == "" {
		pythonBinary = "python3"
	}
	asrRepoRoot := strings.TrimSpace(os.Getenv("TYPEVOICE_ASR_REPO_ROOT"))

	promReg := prometheus.NewRegistry()

	a := &App{
		dataDir:      dataDir,
		assets:       assets,
		store:        store,
		resolver:     resolver,
		tr:           tr,
		sessions:     session.New(),
		assetsReg:    asset.New(),
		asrSup:       asr.New(pythonBinary, asrRepoRoot),
		procs:        procctl.New(),
		hist:         hist,
		dict:         dictionary.NewStore(paths.DictionaryPath(dataDir)),
		taskMetrics:  metrics.NewJSONLWriter(paths.MetricsPath(dataDir)),
		promReg:      promReg,
		prom:         metrics.NewPrometheus(promReg),
		checker:      toolchain.NewChecker(),
		pythonBinary: pythonBinary,
		feed:         devfeed.NewHub(),
	}

	a.recorder = newRecorder(ffmpegPath, filepath.Join(dataDir, "recordings"), a.procs)
	a.collector = newContextCollector(tr, hist, a.currentContextPolicy)

	a.orchestrator = pipeline.New(pipeline.Deps{
		Trace:       tr,
		Sessions:    a.sessions,
		Assets:      a.assetsReg,
		ASR:         a.asrSup,
		Procs:       a.procs,
		History:     hist,
		Dictionary:  a.dict,
		TaskMetrics: a.taskMetrics,
		Prom:        a.prom,
		FFmpegPath:  ffmpegPath,
		WorkDir:     filepath.Join(dataDir, "work"),
		FixturesDir: filepath.Join(dataDir, "fixtures"),
	}, store, a)

	dispatcher, err := hotkey.New(a, a)
	if err != nil {
		return nil, fmt.Errorf("start hotkey dispatcher: %w", err)
	}
	a.dispatcher = dispatcher

	a.applier = settingsapply.New(resolver, a.asrSup, a.dispatcher, tr)

	if cfg, applyErr := store.Load(); applyErr == nil {
		if hkCfg, hkErr := resolver.ResolveHotkeyConfig(cfg); hkErr == nil {
			_ = dispatcher.Apply(hkCfg)
		}
	}

	if addr, feedErr := a.feed.ListenAndServe("127.0.0.1:0"); feedErr == nil {
		_ = addr // exposed to developer tooling via runtime_toolchain_status's sibling diagnostics surface, not a bound command
	}

	a.diagHTTP = newDiagnosticsServer(a.checker, dataDir, pythonBinary, promReg, paths.MetricsPath(dataDir))
	_, _ = a.diagHTTP.ListenAndServe("127.0.0.1:0")

	a.sweepStop = make(chan struct{})
	go a.runAssetSweeper()

	return a, nil
}

// Run starts the Wails desktop application and binds the command surface.
func (a *App) Run() error {
	assetOptions := &assetserver.Options{}
	if a.assets != nil {
		assetOptions.Assets = a.assets
	} else {
		assetOptions.Handler = http.FileServer(http.Dir("./frontend"))
	}

	return wails.Run(&options.App{
		Title:       "TypeVoice",
		Width:       420,
		Height:      640,
		AssetServer: assetOptions,
		OnStartup:   a.Startup,
		OnShutdown: func(ctx context.Context) {
			a.Shutdown()
		},
		Bind: []interface{}{a},
	})
}

// Startup stores the Wails runtime context for push events and dialogs.
func (a *App) Startup(ctx context.Context) {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.runtimeCtx = ctx
	slog.Info("app starting", "data_dir", a.dataDir)
}

// Shutdown tears down every background component, orphaning any still-open
// recording session rather than leaving it silently consumable after
// restart.
func (a *App) Shutdown() {
	a.mu.Lock()
	a.runtimeCtx = nil
	a.mu.Unlock()

	slog.Info("app shutting down")
	orphaned := a.sessions.Orphan()
	if len(orphaned) > 0 {
		slog.Info("orphaned open recording sessions", "count", len(orphaned))
	}
	close(a.sweepStop)
	a.asrSup.Stop()
	_ = a.dispatcher.Close()
	_ = a.feed.Close()
	_ = a.diagHTTP.Close()
	_ = a.hist.Close()
}

func (a *App) runAssetSweeper() {
	ticker := time.NewTicker(time.Minute)
	defer ticker.Stop()
	for {
		select {
		case <-a.sweepStop:
			return
		case <-ticker.C:
			a.assetsReg.Sweep()
		}
	}
}

func (a *App) currentContextPolicy() domain.ContextPolicy {
	settings, err := a.store.Load()
	if err != nil {
		return domain.DefaultContextBudget()
	}
	opts, err := a.resolver.ResolveStartOptions(settings)
	if err != nil {
		return domain.DefaultContextBudget()
	}
	return opts.ContextPolicy
}

// ---- settings command surface ----

// GetSettings returns the on-disk settings document verbatim.
func (a *App) GetSettings() (config.Settings, error) {
	return a.store.Load()
}

// SaveSettings persists settings wholesale, then best-effort applies any
// live reconfiguration (ASR restart, hotkey re-registration) the diff
// implies; an apply error is returned but the save itself still stands.
func (a *App) SaveSettings(settings config.Settings) (config.Settings, error) {
	if err := a.store.Save(settings); err != nil {
		return config.Settings{}, err
	}
	slog.Info("settings saved")
	applyErr := a.applier.Apply(context.Background(), settings)
	return settings, applyErr
}

// PatchSettings applies a sparse update (present key mutates, explicit
// null clears, absent leaves untouched) and persists the result.
func (a *App) PatchSettings(patch map[string]any) (config.Settings, error) {
	raw, err := json.Marshal(patch)
	if err != nil {
		return config.Settings{}, err
	}
	next, err := a.store.Patch(raw)
	if err != nil {
		return config.Settings{}, err
	}
	applyErr := a.applier.Apply(context.Background(), next)
	return next, applyErr
}

// CheckHotkeyAvailability probes whether shortcut could be registered.
func (a *App) CheckHotkeyAvailability(shortcut, ignoreSelf string) domain.HotkeyAvailability {
	return a.dispatcher.CheckAvailability(shortcut, ignoreSelf)
}

// ---- task command surface ----

// StartTask begins a pipeline run (§6 start_task).
func (a *App) StartTask(req pipeline.StartReq) (string, error) {
	taskID, err := a.orchestrator.Start(req)
	if err != nil {
		return "", err
	}
	a.mu.Lock()
	a.lastTaskID = taskID
	a.mu.Unlock()
	return taskID, nil
}

// CancelTask trips taskID's cancel token (§6 cancel_task).
func (a *App) CancelTask(taskID string) error {
	return a.orchestrator.Cancel(taskID)
}

// ---- backend recording command surface ----

// StartBackendRecording spawns the recorder subprocess (§6).
func (a *App) StartBackendRecording() (string, error) {
	return a.recorder.Start(context.Background())
}

// StopRecordingResult is the §6 stop_backend_recording reply shape.
type StopRecordingResult struct {
	RecordingID      string `json:"recording_id"`
	RecordingAssetID string `json:"recording_asset_id"`
	Ext              string `json:"ext"`
}

// StopBackendRecording finalizes a capture and registers its asset (§6).
func (a *App) StopBackendRecording(recordingID string) (StopRecordingResult, error) {
	path, ext, err := a.recorder.Stop(context.Background(), recordingID)
	if err != nil {
		return StopRecordingResult{}, err
	}
	asset := a.assetsReg.Register(path, ext)
	return StopRecordingResult{RecordingID: recordingID, RecordingAssetID: asset.ID, Ext: ext}, nil
}

// AbortBackendRecording cancels a capture without producing an asset (§6).
func (a *App) AbortBackendRecording(recordingID string) error {
	return a.recorder.Abort(context.Background(), recordingID)
}

// AbortRecordingSession discards an un-consumed session (§6).
func (a *App) AbortRecordingSession(sessionID string) error {
	if err := a.sessions.Abort(sessionID); err != nil {
		if corerr.CodeOf(err, "") == "E_RECORDING_SESSION_ALREADY_CONSUMED" {
			return nil
		}
		return err
	}
	return nil
}

// ---- diagnostics / export command surface ----

// RuntimeToolchainStatus reports preflight readiness (§6).
func (a *App) RuntimeToolchainStatus() domain.ToolchainStatus {
	_, status := a.checker.Run(a.dataDir, a.pythonBinary)
	return status
}

// ExportTextRequest is the §6 export_text command body.
type ExportTextRequest struct {
	Text             string                   `json:"text"`
	AutoPasteEnabled bool                     `json:"auto_paste_enabled"`
	TargetHint       *domain.ExportTargetHint `json:"target_hint,omitempty"`
}

// ExportText copies text to the clipboard and optionally auto-pastes it
// into the last foreground window (§6, C9).
func (a *App) ExportText(req ExportTextRequest) (domain.ExportResult, error) {
	res := domain.ExportResult{}

	if err := export.CopyToClipboard(req.Text); err != nil {
		res.ErrorCode = corerr.CodeOf(err, "E_EXPORT_COPY_FAILED")
		return res, err
	}
	res.Copied = true

	if !req.AutoPasteEnabled {
		return res, nil
	}
	res.AutoPasteAttempted = true

	hint := export.TargetHint{}
	if req.TargetHint != nil {
		hint.WindowsHWND = req.TargetHint.WindowsHWND
	}
	if err := export.AutoPaste(context.Background(), req.Text, hint); err != nil {
		res.ErrorCode = corerr.CodeOf(err, "E_EXPORT_PASTE_FAILED")
		return res, nil
	}
	res.AutoPasteOK = true
	return res, nil
}

// GetHistory returns the most recent persisted task outcomes.
func (a *App) GetHistory(limit int) ([]domain.HistoryItem, error) {
	return a.hist.List(limit)
}

// ClearHistory drops all persisted history.
func (a *App) ClearHistory() error {
	return a.hist.Clear()
}

// GetDictionary returns the current glossary document.
func (a *App) GetDictionary() (dictionary.File, error) {
	return a.dict.Load()
}

// SaveDictionary normalizes and persists entries as the glossary document.
func (a *App) SaveDictionary(entries []dictionary.Entry) (dictionary.File, error) {
	return a.dict.Save(dictionary.File{Entries: entries})
}

// ExportDictionary returns the glossary document as pretty JSON.
func (a *App) ExportDictionary() (string, error) {
	return a.dict.Export()
}

// ImportDictionary merges or replaces the glossary from a JSON payload
// (either a bare entries array or a {"entries": [...]} object), returning
// the resulting entry count.
func (a *App) ImportDictionary(rawJSON string, mode string) (int, error) {
	return a.dict.Import(rawJSON, dictionary.ImportMode(mode))
}

// ---- pipeline.EventSink ----

// TaskEvent forwards a stage transition to the Wails runtime and devfeed.
func (a *App) TaskEvent(ev domain.TaskEvent) {
	a.emit("task_event", ev)
	if ev.Status == domain.EventStatusFailed || ev.Status == domain.EventStatusCancelled {
		a.dispatcher.NotifyTaskFinished(ev.TaskID)
	}
	a.feed.TaskEvent(ev)
}

// TaskDone forwards the terminal success payload.
func (a *App) TaskDone(done domain.TaskDone) {
	a.emit("task_done", done)
	a.dispatcher.NotifyTaskFinished(done.TaskID)
	a.feed.TaskDone(done)
}

// ---- hotkey.Sink ----

// HotkeyRecord forwards a press/release event to the Wails runtime; the
// accompanying overlay visibility signal is driven separately from
// StartRecording/StopRecording/AbortRecording rather than derived from
// this event's Kind/State, since handleToggle emits HotkeyPressed for all
// three toggle-phase transitions and the two cannot be disambiguated from
// the event shape alone (see DESIGN.md).
func (a *App) HotkeyRecord(ev domain.HotkeyRecordEvent) {
	a.emit("hotkey_record", ev)
}

// ---- hotkey.Driver ----

// CaptureContext implements the gathering half of context capture.
func (a *App) CaptureContext() (domain.ContextPack, error) {
	return a.collector.Capture()
}

// OpenSession reserves a new recording session.
func (a *App) OpenSession(ctx domain.ContextPack) string {
	return a.sessions.Open(ctx).ID
}

// AbortSession releases an un-consumed session.
func (a *App) AbortSession(sessionID string) error {
	return a.sessions.Abort(sessionID)
}

// StartRecording spawns the mic capture and signals the overlay to show.
func (a *App) StartRecording(ctx context.Context) (string, error) {
	recID, err := a.recorder.Start(ctx)
	if err != nil {
		return "", err
	}
	a.setOverlayVisible(true)
	return recID, nil
}

// StopRecording finalizes the capture, registers its asset, and signals
// the overlay to hide before any auto-paste is attempted (§4.9).
func (a *App) StopRecording(ctx context.Context, recordingID string) (string, string, error) {
	path, ext, err := a.recorder.Stop(ctx, recordingID)
	a.setOverlayVisible(false)
	if err != nil {
		return "", "", err
	}
	asset := a.assetsReg.Register(path, ext)
	return asset.ID, ext, nil
}

// AbortRecording discards the capture and hides the overlay.
func (a *App) AbortRecording(ctx context.Context, recordingID string) error {
	err := a.recorder.Abort(ctx, recordingID)
	a.setOverlayVisible(false)
	return err
}

// CancelActiveTask cancels whatever task this process most recently
// started, a no-op if it is already terminal (P4's cancel budget applies
// only while the task is non-terminal).
func (a *App) CancelActiveTask() error {
	a.mu.Lock()
	taskID := a.lastTaskID
	a.mu.Unlock()
	if taskID == "" {
		return nil
	}
	return a.orchestrator.Cancel(taskID)
}

type overlayState struct {
	Visible bool `json:"visible"`
}

// setOverlayVisible emits overlay_state only when hotkeys_show_overlay is
// configured; the overlay's own rendering is out of scope (spec.md's
// Non-goals), this is only the visibility signal named in §6's event
// surface.
func (a *App) setOverlayVisible(visible bool) {
	settings, err := a.store.Load()
	if err != nil || settings.HotkeysShowOverlay == nil || !*settings.HotkeysShowOverlay {
		return
	}
	a.emit("overlay_state", overlayState{Visible: visible})
}

func (a *App) emit(name string, payload any) {
	a.mu.Lock()
	ctx := a.runtimeCtx
	a.mu.Unlock()
	if ctx != nil {
		wailsruntime.EventsEmit(ctx, name, payload)
	}
}

// resolveFFmpegPath mirrors toolchain.Checker's tool-resolution precedence
// (TYPEVOICE_FFMPEG, then TYPEVOICE_TOOLCHAIN_DIR, then PATH) so the binary
// the pipeline actually runs is the same one runtime_toolchain_status
// verified. Resolution failures are not fatal here; pipeline.Start's own
// os.Stat preflight reports E_FFMPEG_NOT_FOUND if the result still isn't
// runnable.
func resolveFFmpegPath() string {
	if explicit := strings.TrimSpace(os.Getenv("TYPEVOICE_FFMPEG")); explicit != "" {
		return explicit
	}
	if dir := strings.TrimSpace(os.Getenv("TYPEVOICE_TOOLCHAIN_DIR")); dir != "" {
		name := "ffmpeg"
		if runtime.GOOS == "windows" {
			name = "ffmpeg.exe"
		}
		return filepath.Join(dir, name)
	}
	if path, err := exec.LookPath("ffmpeg"); err == nil {
		return path
	}
	return "ffmpeg"
}
