// Package pipeline is the orchestrator (C8): it drives one Task through
// Record→Preprocess→Transcribe→Rewrite(optional)→Persist→Export, enforces
// at-most-one concurrency, and honours a cancel token within the 300ms
// budget. The state machine is grounded on the teacher's jobs.Manager
// (isValidTransition, one-active-job-at-a-time), generalized from the
// teacher's four-state Job to the spec's six-stage Task, and the
// goroutine-per-run dispatch in bootstrap.App.runTranscriptionJob is
// adapted into Orchestrator.Start.
package pipeline

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"typevoice/internal/asr"
	"typevoice/internal/asset"
	"typevoice/internal/config"
	"typevoice/internal/contextpack"
	"typevoice/internal/corerr"
	"typevoice/internal/dictionary"
	"typevoice/internal/domain"
	"typevoice/internal/export"
	"typevoice/internal/history"
	"typevoice/internal/llm"
	"typevoice/internal/metrics"
	"typevoice/internal/procctl"
	"typevoice/internal/session"
	"typevoice/internal/trace"
)

// EventSink receives the orchestrator's event and terminal-done output
// (§6). Bootstrap wires this to Wails runtime event emission.
type EventSink interface {
	TaskEvent(domain.TaskEvent)
	TaskDone(domain.TaskDone)
}

// StartReq carries only intent; all mutable policy comes from the config
// resolver at task-entry time (§4.8).
type StartReq struct {
	TriggerSource      domain.TriggerSource
	RecordMode         domain.RecordMode
	RecordingAssetID   string
	FixtureName        string
	RecordingSessionID string
}

// Deps bundles every leaf component the orchestrator drives. Dictionary
// may be nil (no glossary is resolved). There is no LLM client here: the
// rewrite stage builds one fresh per task from StartOpts when rewrite is
// enabled, since base URL/model/key can change between tasks without a
// settings-applier restart.
type Deps struct {
	Trace       *trace.Writer
	Sessions    *session.Registry
	Assets      *asset.Registry
	ASR         *asr.Supervisor
	Procs       *procctl.Controller
	History     *history.Store
	Dictionary  *dictionary.Store
	TaskMetrics *metrics.JSONLWriter
	Prom        *metrics.Prometheus
	FFmpegPath  string
	WorkDir     string
	FixturesDir string
}

// Orchestrator owns the single non-terminal Task invariant (P3) and the
// per-task cancel token (P4).
type Orchestrator struct {
	deps     Deps
	resolver *config.Resolver
	store    *config.Store
	sink     EventSink

	mu         sync.Mutex
	task       *domain.Task
	cancelFunc context.CancelFunc
	lastSeenID string
}

// New builds an Orchestrator. sink receives every task_event/task_done.
func New(deps Deps, store *config.Store, sink EventSink) *Orchestrator {
	return &Orchestrator{deps: deps, resolver: config.NewResolver(), store: store, sink: sink}
}

// Start resolves settings into StartOpts, verifies ffmpeg is on the
// resolved path (fail fast per §4.8), allocates a task id, and runs the
// stage sequence on a detached goroutine. It returns as soon as the task
// is admitted, not when it finishes.
func (o *Orchestrator) Start(req StartReq) (string, error) {
	o.mu.Lock()
	if o.task != nil && !o.task.State.IsTerminal() {
		o.mu.Unlock()
		return "", corerr.New("E_TASK_ALREADY_ACTIVE", "a task is already running")
	}
	o.mu.Unlock()

	settings, err := o.store.Load()
	if err != nil {
		return "", corerr.Wrap("E_INTERNAL", "failed to load settings", err)
	}
	opts, err := o.resolver.ResolveStartOptions(settings)
	if err != nil {
		return "", err
	}

	if _, statErr := os.Stat(o.deps.FFmpegPath); statErr != nil {
		return "", corerr.Wrap("E_FFMPEG_NOT_FOUND", "ffmpeg binary not found at configured path", statErr)
	}

	switch req.RecordMode {
	case domain.RecordModeAsset:
		if strings.TrimSpace(req.RecordingAssetID) == "" {
			return "", corerr.New("E_ASSET_REQUIRED", "recording_asset_id is required for record_mode=recording_asset")
		}
	case domain.RecordModeFixture:
		if strings.TrimSpace(req.FixtureName) == "" {
			return "", corerr.New("E_ASSET_REQUIRED", "fixture_name is required for record_mode=fixture")
		}
	default:
		return "", corerr.New("E_ASSET_REQUIRED", "record_mode must be recording_asset or fixture")
	}

	var glossary []string
	if opts.RewriteEnabled && opts.ContextPolicy.IncludeGlossary && o.deps.Dictionary != nil {
		if dict, dictErr := o.deps.Dictionary.Load(); dictErr == nil {
			glossary = dictionary.GlossaryLines(dict)
		}
		// A dictionary load failure is best-effort, same as the other
		// ContextPack fields (§4.6): rewrite simply runs without a glossary.
	}

	taskID := uuid.NewString()
	task := &domain.Task{
		ID:             taskID,
		TriggerSource:  req.TriggerSource,
		RecordMode:     req.RecordMode,
		AssetID:        req.RecordingAssetID,
		SessionID:      req.RecordingSessionID,
		FixtureName:    req.FixtureName,
		Rewrite:        domain.RewriteDecision{Enabled: opts.RewriteEnabled, TemplateID: opts.RewriteTemplateID, Glossary: glossary},
		Stage:          domain.StageRecord,
		State:          domain.TaskStateActive,
		StartedAt:      time.Now(),
		StageStartedAt: map[domain.Stage]time.Time{},
		StageElapsedMs: map[domain.Stage]int64{},
	}

	ctx, cancel := context.WithCancel(context.Background())
	o.mu.Lock()
	o.task = task
	o.cancelFunc = cancel
	o.lastSeenID = taskID
	o.mu.Unlock()

	go o.run(ctx, task, opts, req)
	return taskID, nil
}

// Cancel trips the cancel token for taskID. Per §5/§8: unknown task ids
// return E_CMD_CANCEL; a terminal or not-currently-tracked task is a
// no-op success (idempotence).
func (o *Orchestrator) Cancel(taskID string) error {
	o.mu.Lock()
	defer o.mu.Unlock()

	if taskID != o.lastSeenID {
		return corerr.New("E_CMD_CANCEL", "unknown task id")
	}
	if o.task == nil || o.task.State.IsTerminal() {
		return nil
	}
	o.task.State = domain.TaskStateCancelling
	if o.cancelFunc != nil {
		o.cancelFunc()
	}
	return nil
}

// run executes the stage sequence. Every exit path emits exactly one
// terminal signal: task_done, or a TaskEvent with status failed/cancelled
// (P1), and always writes a task_perf metrics record.
func (o *Orchestrator) run(ctx context.Context, task *domain.Task, opts domain.StartOpts, req StartReq) {
	taskSpan := o.deps.Trace.BeginTask(task.ID, "PIPELINE.run", map[string]any{"trigger_source": task.TriggerSource})
	perf := metrics.TaskPerf{TaskID: task.ID, CreatedAtMs: task.StartedAt.UnixMilli()}
	defer func() {
		perf.TotalMs = time.Since(task.StartedAt).Milliseconds()
		_ = o.deps.TaskMetrics.Append(perf)
	}()

	audioPath, _, sessionCtx, err := o.stageRecord(ctx, task, req)
	if err != nil {
		o.finishFailed(taskSpan, task, domain.StageRecord, err, &perf)
		return
	}
	defer os.Remove(audioPath)

	preprocessedPath, err := o.stagePreprocess(ctx, task, opts, audioPath, &perf)
	if err != nil {
		o.finishFailed(taskSpan, task, domain.StagePreprocess, err, &perf)
		return
	}
	defer os.Remove(preprocessedPath)

	asrResult, err := o.stageTranscribe(ctx, task, opts, preprocessedPath, &perf)
	if err != nil {
		o.finishFailed(taskSpan, task, domain.StageTranscribe, err, &perf)
		return
	}

	finalText, rewriteMs, rewriteAttempted := o.stageRewrite(ctx, task, opts, asrResult.Text, sessionCtx)
	if rewriteAttempted {
		ms := rewriteMs
		perf.RewriteMs = ms
	}

	if err := o.stagePersist(task, opts, asrResult, finalText, &perf); err != nil {
		o.finishFailed(taskSpan, task, domain.StagePersist, err, &perf)
		return
	}

	if err := o.stageExport(ctx, task, finalText); err != nil {
		o.finishFailed(taskSpan, task, domain.StageExport, err, &perf)
		return
	}

	task.State = domain.TaskStateCompleted
	perf.Outcome = "completed"
	perf.DeviceUsed = asrResult.Metrics.DeviceUsed
	perf.Rtf = asrResult.Metrics.Rtf
	taskSpan.Ok(map[string]any{"stage": "done"})

	done := domain.TaskDone{
		TaskID:         task.ID,
		AsrText:        asrResult.Text,
		FinalText:      finalText,
		Rtf:            asrResult.Metrics.Rtf,
		DeviceUsed:     asrResult.Metrics.DeviceUsed,
		PreprocessMs:   perf.PreprocessMs,
		AsrMs:          perf.AsrMs,
		RewriteEnabled: opts.RewriteEnabled,
	}
	if rewriteAttempted {
		ms := rewriteMs
		done.RewriteMs = &ms
	}
	if opts.RewriteEnabled && opts.RewriteTemplateID != "" {
		templateID := opts.RewriteTemplateID
		done.TemplateID = &templateID
	}
	o.sink.TaskDone(done)
}

// finishFailed emits the terminal failed (or cancelled, if ctx was the
// cause) event for stage and closes the task-level trace span.
func (o *Orchestrator) finishFailed(taskSpan *trace.Span, task *domain.Task, stage domain.Stage, err error, perf *metrics.TaskPerf) {
	code := corerr.CodeOf(err, "E_INTERNAL")
	status := domain.EventStatusFailed
	if code == "E_CANCELLED" {
		status = domain.EventStatusCancelled
		task.State = domain.TaskStateCancelled
		perf.Outcome = "cancelled"
	} else {
		task.State = domain.TaskStateFailed
		perf.Outcome = "failed"
	}
	perf.ErrorCode = code

	taskSpan.Err(code, trace.ErrChain(err), map[string]any{"stage": string(stage)})
	o.sink.TaskEvent(domain.TaskEvent{
		TaskID:    task.ID,
		Stage:     stage,
		Status:    status,
		Message:   err.Error(),
		ErrorCode: code,
	})
}

// emitStage reports a started/completed transition for a non-terminal
// stage event.
func (o *Orchestrator) emitStage(taskID string, stage domain.Stage, status domain.EventStatus, elapsedMs *int64, message string) {
	o.sink.TaskEvent(domain.TaskEvent{TaskID: taskID, Stage: stage, Status: status, ElapsedMs: elapsedMs, Message: message})
}

// checkCancelled turns a tripped context into the stable E_CANCELLED code
// so finishFailed can route it to a cancelled (not failed) terminal event.
func checkCancelled(ctx context.Context) error {
	if ctx.Err() != nil {
		return corerr.New("E_CANCELLED", "task cancelled")
	}
	return nil
}

// stageRecord resolves the audio source (asset or fixture), best-effort
// binds the recording session's ContextPack, and returns the audio path.
func (o *Orchestrator) stageRecord(ctx context.Context, task *domain.Task, req StartReq) (string, string, domain.ContextPack, error) {
	o.emitStage(task.ID, domain.StageRecord, domain.EventStatusStarted, nil, "resolving recording input")
	start := time.Now()

	var path, ext string
	switch req.RecordMode {
	case domain.RecordModeAsset:
		a, err := o.deps.Assets.Consume(req.RecordingAssetID)
		if err != nil {
			return "", "", domain.ContextPack{}, corerr.Wrap("E_ASSET_NOT_FOUND", "recording asset not found", err)
		}
		path, ext = a.Path, a.Ext
	case domain.RecordModeFixture:
		path = filepath.Join(o.deps.FixturesDir, req.FixtureName)
		if _, err := os.Stat(path); err != nil {
			return "", "", domain.ContextPack{}, corerr.Wrap("E_FIXTURE_NOT_FOUND", "fixture not found: "+req.FixtureName, err)
		}
		ext = strings.TrimPrefix(filepath.Ext(path), ".")
	}

	var sessionCtx domain.ContextPack
	if req.RecordingSessionID != "" {
		if c, err := o.deps.Sessions.Consume(req.RecordingSessionID, task.ID); err == nil {
			sessionCtx = c
		}
		// A session consume failure is best-effort: the rewrite stage simply
		// runs with an empty ContextPack rather than failing Record.
	}

	if err := checkCancelled(ctx); err != nil {
		return "", "", domain.ContextPack{}, err
	}

	elapsed := time.Since(start).Milliseconds()
	o.emitStage(task.ID, domain.StageRecord, domain.EventStatusCompleted, &elapsed, "recording input ready")
	return path, ext, sessionCtx, nil
}

// stagePreprocess runs ffmpeg to normalise audio to mono 16kHz PCM.
func (o *Orchestrator) stagePreprocess(ctx context.Context, task *domain.Task, opts domain.StartOpts, inputPath string, perf *metrics.TaskPerf) (string, error) {
	o.emitStage(task.ID, domain.StagePreprocess, domain.EventStatusStarted, nil, "running ffmpeg preprocess")
	start := time.Now()

	outputPath := inputPath + ".pre.wav"
	args := buildFFmpegArgs(inputPath, outputPath, opts.Preprocess)

	res, err := o.deps.Procs.Run(ctx, procctl.Options{Name: o.deps.FFmpegPath, Args: args, Dir: o.deps.WorkDir})
	if err != nil {
		if corerr.CodeOf(err, "") == "E_CANCELLED" {
			return "", err
		}
		if corerr.CodeOf(err, "") == "E_PROCESS_EXIT_NONZERO" {
			return "", corerr.Wrap("E_FFMPEG_FAILED", fmt.Sprintf("ffmpeg exited %d: %s", res.ExitCode, string(res.Stderr)), err)
		}
		return "", corerr.Wrap("E_PREPROCESS_FAILED", "ffmpeg preprocess failed to run", err)
	}
	if res.ExitCode != 0 {
		return "", corerr.New("E_FFMPEG_FAILED", fmt.Sprintf("ffmpeg exited %d: %s", res.ExitCode, string(res.Stderr)))
	}

	elapsed := time.Since(start).Milliseconds()
	perf.PreprocessMs = elapsed
	o.emitStage(task.ID, domain.StagePreprocess, domain.EventStatusCompleted, &elapsed, "preprocess complete")
	return outputPath, nil
}

// stageTranscribe calls the ASR supervisor and enforces the GPU-only
// device requirement (P5).
func (o *Orchestrator) stageTranscribe(ctx context.Context, task *domain.Task, opts domain.StartOpts, audioPath string, perf *metrics.TaskPerf) (asr.Result, error) {
	o.emitStage(task.ID, domain.StageTranscribe, domain.EventStatusStarted, nil, "running ASR")
	start := time.Now()

	if err := o.deps.ASR.EnsureStarted(ctx, opts.ASRModel); err != nil {
		return asr.Result{}, err
	}
	result, err := o.deps.ASR.Transcribe(ctx, opts.ASRModel, audioPath, "auto")
	if err != nil {
		return asr.Result{}, err
	}
	if result.Metrics.DeviceUsed != "cuda" {
		return asr.Result{}, corerr.New("E_ASR_CUDA_REQUIRED", "ASR runner did not report device_used=cuda")
	}
	if strings.TrimSpace(result.Text) == "" {
		return asr.Result{}, corerr.New("E_ASR_FAILED", "Empty ASR text")
	}
	if err := checkCancelled(ctx); err != nil {
		return asr.Result{}, err
	}

	elapsed := time.Since(start).Milliseconds()
	perf.AsrMs = elapsed
	o.emitStage(task.ID, domain.StageTranscribe, domain.EventStatusCompleted, &elapsed, "ASR complete")
	return result, nil
}

// stageRewrite is non-fatal (P8): any failure falls back to the ASR text
// and reports rewriteAttempted=false so the caller skips rewrite_ms.
func (o *Orchestrator) stageRewrite(ctx context.Context, task *domain.Task, opts domain.StartOpts, asrText string, sessionCtx domain.ContextPack) (string, int64, bool) {
	if !opts.RewriteEnabled || strings.TrimSpace(opts.RewriteTemplateID) == "" {
		return asrText, 0, false
	}

	o.emitStage(task.ID, domain.StageRewrite, domain.EventStatusStarted, nil, "calling rewrite endpoint")
	start := time.Now()

	apiKey, err := llm.LoadAPIKey()
	if err != nil {
		elapsed := time.Since(start).Milliseconds()
		o.emitStage(task.ID, domain.StageRewrite, domain.EventStatusFailed, &elapsed, err.Error())
		return asrText, elapsed, true
	}

	snap := contextpack.Snapshot{RecentHistory: sessionCtx.History, ClipboardText: sessionCtx.ClipboardText, GlossaryLines: task.Rewrite.Glossary}
	if sessionCtx.PreviousWindow != nil {
		snap.PreviousWindow = &contextpack.PreviousWindowInfo{
			Title:            sessionCtx.PreviousWindow.Title,
			ProcessImagePath: sessionCtx.PreviousWindow.ProcessImagePath,
		}
		snap.ScreenshotBytes = sessionCtx.PreviousWindow.ScreenshotBytes
	}
	prepared := contextpack.Prepare(asrText, snap, opts.ContextPolicy)

	client := llm.New(llm.Config{BaseURL: opts.LLMBaseURL, Model: opts.LLMModel}, apiKey)
	rewritten, err := client.Rewrite(ctx, rewriteSystemPrompt, prepared.UserText)
	elapsed := time.Since(start).Milliseconds()
	if err != nil {
		code := corerr.CodeOf(err, "E_LLM_FAILED")
		o.emitStage(task.ID, domain.StageRewrite, domain.EventStatusFailed, &elapsed, "rewrite failed: "+code)
		o.sink.TaskEvent(domain.TaskEvent{TaskID: task.ID, Stage: domain.StageRewrite, Status: domain.EventStatusFailed, ElapsedMs: &elapsed, ErrorCode: code, Message: err.Error()})
		return asrText, elapsed, true
	}

	o.emitStage(task.ID, domain.StageRewrite, domain.EventStatusCompleted, &elapsed, "rewrite complete")
	return rewritten, elapsed, true
}

const rewriteSystemPrompt = "You clean up a speech-to-text transcript for the user's current context. " +
	"Use the TRANSCRIPT section as the primary source of truth; use CONTEXT only to disambiguate terms, " +
	"names, or formatting. Return only the rewritten text, no preamble."

// stagePersist appends the task outcome to the history store.
func (o *Orchestrator) stagePersist(task *domain.Task, opts domain.StartOpts, asrResult asr.Result, finalText string, perf *metrics.TaskPerf) error {
	o.emitStage(task.ID, domain.StagePersist, domain.EventStatusStarted, nil, "persisting history row")
	start := time.Now()

	item := domain.HistoryItem{
		TaskID:       task.ID,
		CreatedAtMs:  task.StartedAt.UnixMilli(),
		AsrText:      asrResult.Text,
		FinalText:    finalText,
		TemplateID:   opts.RewriteTemplateID,
		Rtf:          asrResult.Metrics.Rtf,
		DeviceUsed:   asrResult.Metrics.DeviceUsed,
		PreprocessMs: perf.PreprocessMs,
		AsrMs:        perf.AsrMs,
	}
	if err := o.deps.History.Append(item); err != nil {
		return corerr.Wrap("E_INTERNAL", "failed to persist history row", err)
	}

	elapsed := time.Since(start).Milliseconds()
	o.emitStage(task.ID, domain.StagePersist, domain.EventStatusCompleted, &elapsed, "history row persisted")
	return nil
}

// stageExport copies the final text to the clipboard. Auto-paste is a
// separate export_text command (§6), not part of the pipeline's own
// Export stage, so a momentary clipboard-only failure here is the only
// way this stage can fail.
func (o *Orchestrator) stageExport(ctx context.Context, task *domain.Task, finalText string) error {
	o.emitStage(task.ID, domain.StageExport, domain.EventStatusStarted, nil, "copying to clipboard")
	start := time.Now()

	if err := export.CopyToClipboard(finalText); err != nil {
		return err
	}

	elapsed := time.Since(start).Milliseconds()
	o.emitStage(task.ID, domain.StageExport, domain.EventStatusCompleted, &elapsed, "export complete")
	return nil
}
