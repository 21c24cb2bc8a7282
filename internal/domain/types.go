// Package domain holds the shared data model for the task orchestration
// subsystem: tasks, recording sessions, recording assets, context packs,
// and the settings snapshot the rest of the core consumes.
package domain

import "time"

// Stage identifies one step of the pipeline state machine.
type Stage string

const (
	StageRecord     Stage = "Record"
	StagePreprocess Stage = "Preprocess"
	StageTranscribe Stage = "Transcribe"
	StageRewrite    Stage = "Rewrite"
	StagePersist    Stage = "Persist"
	StageExport     Stage = "Export"
)

// StageOrder lists stages in their required monotonic emission order (P2).
var StageOrder = []Stage{StageRecord, StagePreprocess, StageTranscribe, StageRewrite, StagePersist, StageExport}

// EventStatus is the status carried by a stage event.
type EventStatus string

const (
	EventStatusStarted   EventStatus = "started"
	EventStatusCompleted EventStatus = "completed"
	EventStatusFailed    EventStatus = "failed"
	EventStatusCancelled EventStatus = "cancelled"
)

// TaskState is the coarse lifecycle state of a Task.
type TaskState string

const (
	TaskStatePending    TaskState = "Pending"
	TaskStateActive     TaskState = "Active"
	TaskStateCancelling TaskState = "Cancelling"
	TaskStateCompleted  TaskState = "Completed"
	TaskStateFailed     TaskState = "Failed"
	TaskStateCancelled  TaskState = "Cancelled"
)

// IsTerminal reports whether state represents a finished task.
func (s TaskState) IsTerminal() bool {
	switch s {
	case TaskStateCompleted, TaskStateFailed, TaskStateCancelled:
		return true
	default:
		return false
	}
}

// TriggerSource identifies what initiated a Task.
type TriggerSource string

const (
	TriggerUI      TriggerSource = "ui"
	TriggerHotkey  TriggerSource = "hotkey"
	TriggerFixture TriggerSource = "fixture"
)

// RecordMode selects where Record-stage audio comes from.
type RecordMode string

const (
	RecordModeAsset   RecordMode = "recording_asset"
	RecordModeFixture RecordMode = "fixture"
)

// RewriteDecision is the rewrite policy frozen at task start.
type RewriteDecision struct {
	Enabled    bool
	TemplateID string
	Glossary   []string
}

// Task is one run of the end-to-end pipeline.
//
// Invariant: at most one Task is non-terminal in the process at any time
// (enforced by pipeline.Orchestrator, not by this type).
type Task struct {
	ID             string
	TriggerSource  TriggerSource
	RecordMode     RecordMode
	AssetID        string
	SessionID      string
	FixtureName    string
	Rewrite        RewriteDecision
	Stage          Stage
	State          TaskState
	StartedAt      time.Time
	StageStartedAt map[Stage]time.Time
	StageElapsedMs map[Stage]int64
}

// RecordingSessionState is the terminal disposition of a RecordingSession.
type RecordingSessionState string

const (
	SessionStateOpen     RecordingSessionState = "open"
	SessionStateConsumed RecordingSessionState = "consumed"
	SessionStateAborted  RecordingSessionState = "aborted"
	SessionStateOrphaned RecordingSessionState = "orphaned"
)

// RecordingSession is the short-lived reservation opened at hotkey press.
//
// Invariant: a session is consumed by at most one Task (P9); it has no
// wall-clock TTL — only open/consume/abort transitions reclaim it.
type RecordingSession struct {
	ID       string
	OpenedAt time.Time
	Context  ContextPack
	State    RecordingSessionState
	TaskID   string // set once consumed
}

// WindowSnapshot is the previous-foreground-window capture taken at press
// time. Pixel data is treated as opaque bytes.
type WindowSnapshot struct {
	Title            string
	ProcessImagePath string
	Rectangle        Rectangle
	ScreenshotBytes  []byte
}

// Rectangle is a pixel-space window bounding box.
type Rectangle struct {
	X, Y, Width, Height int
}

// HistoryItem is one persisted prior task outcome, used by the context
// collector to source "last N history entries."
type HistoryItem struct {
	TaskID       string
	CreatedAtMs  int64
	AsrText      string
	FinalText    string
	TemplateID   string
	Rtf          float64
	DeviceUsed   string
	PreprocessMs int64
	AsrMs        int64
}

// ContextPack is the immutable snapshot of surroundings taken at press time
// and injected into the Rewrite stage.
type ContextPack struct {
	History        []HistoryItem
	ClipboardText  string
	PreviousWindow *WindowSnapshot
}

// RecordingAssetState tracks consumption of a finished audio file.
type RecordingAssetState string

const (
	AssetStatePending  RecordingAssetState = "pending"
	AssetStateConsumed RecordingAssetState = "consumed"
)

// RecordingAsset is a finished audio file registered under an opaque id.
//
// Invariant: once consumed the file is removed; unconsumed assets past
// their lease are swept by a background reclaimer.
type RecordingAsset struct {
	ID        string
	Path      string
	Ext       string
	LeaseTill time.Time
	State     RecordingAssetState
}

// PreprocessParams are the FFmpeg preprocessing knobs taken verbatim from
// settings when present; only the Enabled flag is a required field.
type PreprocessParams struct {
	SilenceTrimEnabled bool
	SilenceThresholdDb float64
	SilenceTrimStartMs uint64
	SilenceTrimEndMs   uint64
}

// DefaultPreprocessParams mirrors the structural defaults used when a
// present-but-partial preprocess object omits individual numeric fields.
func DefaultPreprocessParams() PreprocessParams {
	return PreprocessParams{
		SilenceTrimEnabled: false,
		SilenceThresholdDb: -50.0,
		SilenceTrimStartMs: 300,
		SilenceTrimEndMs:   300,
	}
}

// StartOpts is the typed, strictly-resolved snapshot produced by the config
// resolver (C2) at task start. The required flags (rewrite_enabled,
// hotkeys_enabled, hotkeys_show_overlay) have no hidden default; unset
// preprocess numbers and context-capture flags take the resolver's
// structural defaults (IncludeGlossary defaults to true, the others to false).
type StartOpts struct {
	RewriteEnabled     bool
	RewriteTemplateID  string
	HotkeysEnabled     bool
	HotkeysShowOverlay bool
	LLMBaseURL         string
	LLMModel           string
	Preprocess         PreprocessParams
	ASRModel           string
	ASRResident        bool
	ScreenshotMaxEdge  int
	ContextPolicy      ContextPolicy
}

// ContextPolicy are the collector's boolean capture flags, all sourced
// from settings (C6).
type ContextPolicy struct {
	IncludeHistory            bool
	IncludeClipboard          bool
	IncludePreviousWindow     bool
	IncludePreviousScreenshot bool
	IncludeGlossary           bool
	MaxHistoryItems           int
	HistoryWindow             time.Duration
	MaxCharsPerHistoryItem    int
	MaxCharsClipboard         int
	MaxCharsGlossary          int
	MaxTotalContextChars      int
}

// DefaultContextBudget mirrors original_source/context_pack.rs's constants.
func DefaultContextBudget() ContextPolicy {
	return ContextPolicy{
		MaxHistoryItems:        3,
		HistoryWindow:          30 * time.Minute,
		MaxCharsPerHistoryItem: 600,
		MaxCharsClipboard:      800,
		MaxCharsGlossary:       1800,
		MaxTotalContextChars:   3000,
	}
}

// TaskDone is the terminal success payload (§6 event surface: task_done).
type TaskDone struct {
	TaskID         string  `json:"task_id"`
	AsrText        string  `json:"asr_text"`
	FinalText      string  `json:"final_text"`
	Rtf            float64 `json:"rtf"`
	DeviceUsed     string  `json:"device_used"`
	PreprocessMs   int64   `json:"preprocess_ms"`
	AsrMs          int64   `json:"asr_ms"`
	RewriteMs      *int64  `json:"rewrite_ms,omitempty"`
	RewriteEnabled bool    `json:"rewrite_enabled"`
	TemplateID     *string `json:"template_id,omitempty"`
}

// TaskEvent is the per-transition event payload (§6 event surface: task_event).
type TaskEvent struct {
	TaskID     string      `json:"task_id"`
	Stage      Stage       `json:"stage"`
	Status     EventStatus `json:"status"`
	ElapsedMs  *int64      `json:"elapsed_ms,omitempty"`
	Message    string      `json:"message"`
	ErrorCode  string      `json:"error_code,omitempty"`
	StepID     string      `json:"step_id,omitempty"`
	Diagnostic string      `json:"diagnostic,omitempty"`
}
