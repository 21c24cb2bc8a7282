package domain

import "time"

// DiagnosticStatus indicates whether a single startup check passed.
type DiagnosticStatus string

const (
	DiagnosticStatusPass DiagnosticStatus = "pass"
	DiagnosticStatusFail DiagnosticStatus = "fail"
)

// DiagnosticItem is one startup check result with optional hint.
type DiagnosticItem struct {
	ID        string           `json:"id"`
	Name      string           `json:"name"`
	Status    DiagnosticStatus `json:"status"`
	ErrorCode string           `json:"errorCode,omitempty"`
	Message   string           `json:"message"`
	Hint      string           `json:"hint,omitempty"`
}

// DiagnosticReport aggregates startup checks for UI and API responses.
type DiagnosticReport struct {
	GeneratedAt time.Time        `json:"generatedAt"`
	HasFailures bool             `json:"hasFailures"`
	Items       []DiagnosticItem `json:"items"`
}

// ToolchainStatus is the reply shape of the runtime_toolchain_status
// command (§6).
type ToolchainStatus struct {
	Ready           bool   `json:"ready"`
	Code            string `json:"code,omitempty"`
	Message         string `json:"message,omitempty"`
	Platform        string `json:"platform"`
	ExpectedVersion string `json:"expected_version"`
}

// ExportTargetHint is the optional platform-specific window handle carried
// in an export_text command, captured at recording-press time.
type ExportTargetHint struct {
	WindowsHWND int64 `json:"windowsHwnd,omitempty"`
}

// ExportResult is the reply shape of the export_text command (§6, C9).
type ExportResult struct {
	Copied             bool   `json:"copied"`
	AutoPasteAttempted bool   `json:"auto_paste_attempted"`
	AutoPasteOK        bool   `json:"auto_paste_ok"`
	ErrorCode          string `json:"error_code,omitempty"`
}

// HotkeyKind distinguishes a push-to-talk binding from a toggle binding.
type HotkeyKind string

const (
	HotkeyKindPTT    HotkeyKind = "ptt"
	HotkeyKindToggle HotkeyKind = "toggle"
)

// HotkeyPressState is the physical key transition that produced a
// HotkeyRecordEvent.
type HotkeyPressState string

const (
	HotkeyPressed  HotkeyPressState = "Pressed"
	HotkeyReleased HotkeyPressState = "Released"
)

// HotkeyRecordEvent is the §6 event surface's hotkey_record payload.
type HotkeyRecordEvent struct {
	Kind               HotkeyKind       `json:"kind"`
	State              HotkeyPressState `json:"state"`
	Shortcut           string           `json:"shortcut"`
	TsMs               int64            `json:"ts_ms"`
	RecordingSessionID string           `json:"recording_session_id,omitempty"`
	CaptureStatus      string           `json:"capture_status,omitempty"`
	CaptureErrorCode   string           `json:"capture_error_code,omitempty"`
}

// HotkeyAvailability is the reply shape of the hotkey check_availability
// probe (§4.10).
type HotkeyAvailability struct {
	Available  bool   `json:"available"`
	Reason     string `json:"reason,omitempty"`
	ReasonCode string `json:"reason_code,omitempty"`
}
