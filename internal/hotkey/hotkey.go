// Package hotkey listens for the global PTT / Toggle shortcuts and drives
// the orchestrator through them (C10). Registration is always scoped to
// the shortcuts this package itself registered — unlike
// original_source/hotkeys.rs's HotkeyManager, which calls
// global_shortcut().unregister_all() before every re-apply, this package
// never touches a registration it did not make (§4.10's explicit
// redesign: "never unregister_all").
package hotkey

import (
	"context"
	"strconv"
	"strings"
	"sync"
	"time"

	"typevoice/internal/config"
	"typevoice/internal/corerr"
	"typevoice/internal/domain"
	"typevoice/internal/pipeline"
)

func nowMs() int64 { return time.Now().UnixMilli() }

// Sink receives hotkey_record events (§6 event surface).
type Sink interface {
	HotkeyRecord(domain.HotkeyRecordEvent)
}

// Driver is the set of actions a hotkey press/release drives. Bootstrap
// wiring supplies the concrete implementation, binding session.Registry,
// the recorder subprocess, and pipeline.Orchestrator.
type Driver interface {
	CaptureContext() (domain.ContextPack, error)
	OpenSession(ctx domain.ContextPack) string
	AbortSession(sessionID string) error
	StartRecording(ctx context.Context) (recordingID string, err error)
	StopRecording(ctx context.Context, recordingID string) (assetID, ext string, err error)
	AbortRecording(ctx context.Context, recordingID string) error
	StartTask(req pipeline.StartReq) (taskID string, err error)
	CancelActiveTask() error
}

// backend is the OS-level registration surface; Register/Unregister block
// until the OS call completes, and onEvent (passed to the constructor) is
// invoked from the backend's own dedicated thread for every press/release.
type backend interface {
	Register(id int, shortcut string) error
	Unregister(id int) error
	Close() error
}

type registration struct {
	kind     domain.HotkeyKind
	shortcut string
}

type pttState struct {
	active      bool
	recordingID string
	sessionID   string
}

// toggle phases: idle -> recording -> active -> idle, per §4.10's
// "Pressed cycles through idle -> recording -> cancel-active".
type togglePhase string

const (
	togglePhaseIdle      togglePhase = ""
	togglePhaseRecording togglePhase = "recording"
	togglePhaseActive    togglePhase = "active"
)

type toggleState struct {
	phase       togglePhase
	recordingID string
	sessionID   string
	taskID      string
}

// Dispatcher owns the live OS registrations and the PTT/toggle state
// machines. Exactly one Dispatcher exists per process.
type Dispatcher struct {
	mu      sync.Mutex
	backend backend
	sink    Sink
	driver  Driver

	regs   map[int]registration
	nextID int

	ptt    pttState
	toggle toggleState
}

// New builds a Dispatcher and starts its OS-level backend. Apply must be
// called before any shortcut is live.
func New(sink Sink, driver Driver) (*Dispatcher, error) {
	d := &Dispatcher{
		sink:   sink,
		driver: driver,
		regs:   make(map[int]registration),
	}
	b, err := newBackend(d.onEvent)
	if err != nil {
		return nil, corerr.Wrap("E_HOTKEY_BACKEND_UNAVAILABLE", "failed to start hotkey backend", err)
	}
	d.backend = b
	return d, nil
}

// Close tears down every live registration and the backend thread.
func (d *Dispatcher) Close() error {
	d.mu.Lock()
	for id := range d.regs {
		_ = d.backend.Unregister(id)
	}
	d.regs = make(map[int]registration)
	d.mu.Unlock()
	return d.backend.Close()
}

// Apply re-registers this dispatcher's own shortcuts from scratch, never
// touching a registration owned by some other OS-level caller (§4.10).
func (d *Dispatcher) Apply(cfg config.HotkeyConfig) error {
	d.mu.Lock()
	defer d.mu.Unlock()

	for id := range d.regs {
		_ = d.backend.Unregister(id)
	}
	d.regs = make(map[int]registration)

	if !cfg.Enabled {
		return nil
	}

	if cfg.PTT != "" {
		if err := d.registerLocked(domain.HotkeyKindPTT, cfg.PTT); err != nil {
			return corerr.Wrap("E_HK_REGISTER_PTT", "failed to register PTT shortcut "+cfg.PTT, err)
		}
	}
	if cfg.Toggle != "" {
		if err := d.registerLocked(domain.HotkeyKindToggle, cfg.Toggle); err != nil {
			return corerr.Wrap("E_HK_REGISTER_TOGGLE", "failed to register toggle shortcut "+cfg.Toggle, err)
		}
	}
	return nil
}

func (d *Dispatcher) registerLocked(kind domain.HotkeyKind, shortcut string) error {
	candidate := normalizeShortcut(shortcut)
	id := d.nextID
	d.nextID++
	if err := d.backend.Register(id, candidate); err != nil {
		return err
	}
	d.regs[id] = registration{kind: kind, shortcut: candidate}
	return nil
}

// CheckAvailability probes whether an OS-level registration of shortcut
// would succeed, without leaving it registered, unless shortcut is
// already held by this dispatcher itself (ignoreSelf names that case so a
// settings UI can re-validate its own currently-bound value).
func (d *Dispatcher) CheckAvailability(shortcut, ignoreSelf string) domain.HotkeyAvailability {
	candidate := normalizeShortcut(shortcut)
	if candidate == "" {
		return domain.HotkeyAvailability{Available: false, Reason: "shortcut is empty", ReasonCode: "E_HOTKEY_SHORTCUT_EMPTY"}
	}
	if ignoreSelf != "" && strings.EqualFold(candidate, normalizeShortcut(ignoreSelf)) {
		return domain.HotkeyAvailability{Available: true}
	}

	d.mu.Lock()
	probeID := d.nextID
	d.nextID++
	d.mu.Unlock()

	if err := d.backend.Register(probeID, candidate); err != nil {
		return domain.HotkeyAvailability{Available: false, Reason: err.Error(), ReasonCode: "E_HOTKEY_REGISTER_FAILED"}
	}
	if err := d.backend.Unregister(probeID); err != nil {
		return domain.HotkeyAvailability{Available: false, Reason: "registered but cleanup failed: " + err.Error(), ReasonCode: "E_HOTKEY_CLEANUP_FAILED"}
	}
	return domain.HotkeyAvailability{Available: true}
}

// NotifyTaskFinished lets bootstrap resume the toggle cycle's idle phase
// once the task the toggle cycle started reaches a terminal state,
// covering the case where the task finishes on its own (success, failure,
// or an out-of-band cancel_task) rather than via a third toggle press.
func (d *Dispatcher) NotifyTaskFinished(taskID string) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.toggle.phase == togglePhaseActive && d.toggle.taskID == taskID {
		d.toggle = toggleState{}
	}
}

// onEvent is invoked by the backend's own thread for every press
// (pressed=true) or release (pressed=false) of a registered id.
func (d *Dispatcher) onEvent(id int, pressed bool) {
	d.mu.Lock()
	reg, ok := d.regs[id]
	d.mu.Unlock()
	if !ok {
		return
	}

	switch reg.kind {
	case domain.HotkeyKindPTT:
		d.handlePTT(reg.shortcut, pressed)
	case domain.HotkeyKindToggle:
		if pressed {
			d.handleToggle(reg.shortcut)
		}
	}
}

func (d *Dispatcher) handlePTT(shortcut string, pressed bool) {
	if pressed {
		d.mu.Lock()
		already := d.ptt.active
		d.mu.Unlock()
		if already {
			return
		}

		pack, err := d.driver.CaptureContext()
		if err != nil {
			d.emit(domain.HotkeyKindPTT, domain.HotkeyPressed, shortcut, "", "err", corerr.CodeOf(err, "E_HOTKEY_CAPTURE"))
			return
		}
		sessionID := d.driver.OpenSession(pack)

		recID, err := d.driver.StartRecording(context.Background())
		if err != nil {
			_ = d.driver.AbortSession(sessionID)
			d.emit(domain.HotkeyKindPTT, domain.HotkeyPressed, shortcut, sessionID, "err", corerr.CodeOf(err, "E_HOTKEY_CAPTURE"))
			return
		}

		d.mu.Lock()
		d.ptt = pttState{active: true, recordingID: recID, sessionID: sessionID}
		d.mu.Unlock()
		d.emit(domain.HotkeyKindPTT, domain.HotkeyPressed, shortcut, sessionID, "ok", "")
		return
	}

	d.mu.Lock()
	st := d.ptt
	d.ptt = pttState{}
	d.mu.Unlock()
	if !st.active {
		return
	}

	assetID, _, err := d.driver.StopRecording(context.Background(), st.recordingID)
	if err != nil {
		_ = d.driver.AbortSession(st.sessionID)
		d.emit(domain.HotkeyKindPTT, domain.HotkeyReleased, shortcut, st.sessionID, "err", corerr.CodeOf(err, "E_HOTKEY_CAPTURE"))
		return
	}

	if _, err := d.driver.StartTask(pipeline.StartReq{
		TriggerSource:      domain.TriggerHotkey,
		RecordMode:         domain.RecordModeAsset,
		RecordingAssetID:   assetID,
		RecordingSessionID: st.sessionID,
	}); err != nil {
		d.emit(domain.HotkeyKindPTT, domain.HotkeyReleased, shortcut, st.sessionID, "err", corerr.CodeOf(err, "E_HOTKEY_CAPTURE"))
		return
	}
	d.emit(domain.HotkeyKindPTT, domain.HotkeyReleased, shortcut, st.sessionID, "ok", "")
}

func (d *Dispatcher) handleToggle(shortcut string) {
	d.mu.Lock()
	phase := d.toggle.phase
	d.mu.Unlock()

	switch phase {
	case togglePhaseIdle:
		pack, err := d.driver.CaptureContext()
		if err != nil {
			d.emit(domain.HotkeyKindToggle, domain.HotkeyPressed, shortcut, "", "err", corerr.CodeOf(err, "E_HOTKEY_CAPTURE"))
			return
		}
		sessionID := d.driver.OpenSession(pack)
		recID, err := d.driver.StartRecording(context.Background())
		if err != nil {
			_ = d.driver.AbortSession(sessionID)
			d.emit(domain.HotkeyKindToggle, domain.HotkeyPressed, shortcut, sessionID, "err", corerr.CodeOf(err, "E_HOTKEY_CAPTURE"))
			return
		}
		d.mu.Lock()
		d.toggle = toggleState{phase: togglePhaseRecording, recordingID: recID, sessionID: sessionID}
		d.mu.Unlock()
		d.emit(domain.HotkeyKindToggle, domain.HotkeyPressed, shortcut, sessionID, "ok", "")

	case togglePhaseRecording:
		d.mu.Lock()
		st := d.toggle
		d.mu.Unlock()

		assetID, _, err := d.driver.StopRecording(context.Background(), st.recordingID)
		if err != nil {
			_ = d.driver.AbortSession(st.sessionID)
			d.mu.Lock()
			d.toggle = toggleState{}
			d.mu.Unlock()
			d.emit(domain.HotkeyKindToggle, domain.HotkeyPressed, shortcut, st.sessionID, "err", corerr.CodeOf(err, "E_HOTKEY_CAPTURE"))
			return
		}

		taskID, err := d.driver.StartTask(pipeline.StartReq{
			TriggerSource:      domain.TriggerHotkey,
			RecordMode:         domain.RecordModeAsset,
			RecordingAssetID:   assetID,
			RecordingSessionID: st.sessionID,
		})
		if err != nil {
			d.mu.Lock()
			d.toggle = toggleState{}
			d.mu.Unlock()
			d.emit(domain.HotkeyKindToggle, domain.HotkeyPressed, shortcut, st.sessionID, "err", corerr.CodeOf(err, "E_HOTKEY_CAPTURE"))
			return
		}

		d.mu.Lock()
		d.toggle = toggleState{phase: togglePhaseActive, taskID: taskID}
		d.mu.Unlock()
		d.emit(domain.HotkeyKindToggle, domain.HotkeyPressed, shortcut, st.sessionID, "ok", "")

	case togglePhaseActive:
		_ = d.driver.CancelActiveTask()
		d.mu.Lock()
		d.toggle = toggleState{}
		d.mu.Unlock()
		d.emit(domain.HotkeyKindToggle, domain.HotkeyPressed, shortcut, "", "ok", "")
	}
}

func (d *Dispatcher) emit(kind domain.HotkeyKind, state domain.HotkeyPressState, shortcut, sessionID, status, errCode string) {
	if d.sink == nil {
		return
	}
	d.sink.HotkeyRecord(domain.HotkeyRecordEvent{
		Kind:               kind,
		State:              state,
		Shortcut:           shortcut,
		TsMs:               nowMs(),
		RecordingSessionID: sessionID,
		CaptureStatus:      status,
		CaptureErrorCode:   errCode,
	})
}

// normalizeShortcut reproduces original_source/hotkeys.rs's
// normalized_shortcut: split on '+', trim, uppercase, drop empties, rejoin.
func normalizeShortcut(raw string) string {
	parts := strings.Split(raw, "+")
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		p = strings.ToUpper(strings.TrimSpace(p))
		if p != "" {
			out = append(out, p)
		}
	}
	return strings.Join(out, "+")
}

// parseShortcut parses a normalized "MOD+MOD+KEY" shortcut into a
// platform modifier mask and virtual key code, grounded on
// Joey-Kot-STT-for-Windows's parseHotkey.
func parseShortcut(shortcut string) (mod uint32, vk uint32, err error) {
	if shortcut == "" {
		return 0, 0, corerr.New("E_HOTKEY_SHORTCUT_EMPTY", "shortcut is empty")
	}
	parts := strings.Split(shortcut, "+")
	keyToken := strings.ToLower(parts[len(parts)-1])
	for _, p := range parts[:len(parts)-1] {
		switch strings.ToLower(p) {
		case "alt", "menu":
			mod |= modAlt
		case "ctrl", "control":
			mod |= modControl
		case "shift":
			mod |= modShift
		case "win", "meta", "super":
			mod |= modWin
		}
	}

	if len(keyToken) == 1 {
		ch := keyToken[0]
		switch {
		case ch >= 'a' && ch <= 'z':
			return mod, uint32(ch - 'a' + 'A'), nil
		case ch >= '0' && ch <= '9':
			return mod, uint32(ch), nil
		}
	}
	switch keyToken {
	case "esc", "escape":
		return mod, vkEscape, nil
	case "space":
		return mod, vkSpace, nil
	case "enter", "return":
		return mod, vkReturn, nil
	case "tab":
		return mod, vkTab, nil
	}
	if strings.HasPrefix(keyToken, "f") {
		if n, convErr := strconv.Atoi(strings.TrimPrefix(keyToken, "f")); convErr == nil && n >= 1 && n <= 24 {
			return mod, vkF1 + uint32(n-1), nil
		}
	}
	return 0, 0, corerr.New("E_HOTKEY_SHORTCUT_UNPARSEABLE", "unrecognised key token: "+keyToken)
}

const (
	modAlt     uint32 = 0x0001
	modControl uint32 = 0x0002
	modShift   uint32 = 0x0004
	modWin     uint32 = 0x0008

	vkEscape uint32 = 0x1B
	vkSpace  uint32 = 0x20
	vkReturn uint32 = 0x0D
	vkTab    uint32 = 0x09
	vkF1     uint32 = 0x70
)
