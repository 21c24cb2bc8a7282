package hotkey

import (
	"context"
	"sync"
	"testing"

	"typevoice/internal/config"
	"typevoice/internal/domain"
	"typevoice/internal/pipeline"
)

type fakeBackend struct {
	mu       sync.Mutex
	regs     map[int]string
	failNext bool
	onEvent  func(id int, pressed bool)
}

func (b *fakeBackend) Register(id int, shortcut string) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.failNext {
		b.failNext = false
		return errTest
	}
	if b.regs == nil {
		b.regs = make(map[int]string)
	}
	b.regs[id] = shortcut
	return nil
}

func (b *fakeBackend) Unregister(id int) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	delete(b.regs, id)
	return nil
}

func (b *fakeBackend) Close() error { return nil }

type errString string

func (e errString) Error() string { return string(e) }

const errTest = errString("register failed")

type fakeDriver struct {
	mu            sync.Mutex
	captureErr    error
	startRecErr   error
	stopRecErr    error
	startTaskErr  error
	nextRecording int
	started       []string
	stopped       []string
	canceled      int
}

func (f *fakeDriver) CaptureContext() (domain.ContextPack, error) {
	return domain.ContextPack{ClipboardText: "hi"}, f.captureErr
}

func (f *fakeDriver) OpenSession(ctx domain.ContextPack) string { return "session-1" }

func (f *fakeDriver) AbortSession(sessionID string) error { return nil }

func (f *fakeDriver) StartRecording(ctx context.Context) (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.startRecErr != nil {
		return "", f.startRecErr
	}
	f.nextRecording++
	id := "rec-" + string(rune('0'+f.nextRecording))
	f.started = append(f.started, id)
	return id, nil
}

func (f *fakeDriver) StopRecording(ctx context.Context, recordingID string) (string, string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.stopped = append(f.stopped, recordingID)
	if f.stopRecErr != nil {
		return "", "", f.stopRecErr
	}
	return "asset-1", "wav", nil
}

func (f *fakeDriver) AbortRecording(ctx context.Context, recordingID string) error { return nil }

func (f *fakeDriver) StartTask(req pipeline.StartReq) (string, error) {
	if f.startTaskErr != nil {
		return "", f.startTaskErr
	}
	return "task-1", nil
}

func (f *fakeDriver) CancelActiveTask() error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.canceled++
	return nil
}

type fakeSink struct {
	mu     sync.Mutex
	events []domain.HotkeyRecordEvent
}

func (s *fakeSink) HotkeyRecord(e domain.HotkeyRecordEvent) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.events = append(s.events, e)
}

func (s *fakeSink) last() domain.HotkeyRecordEvent {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.events[len(s.events)-1]
}

func newTestDispatcher(driver Driver, sink Sink) (*Dispatcher, *fakeBackend) {
	b := &fakeBackend{}
	d := &Dispatcher{sink: sink, driver: driver, regs: make(map[int]registration)}
	b.onEvent = d.onEvent
	d.backend = b
	return d, b
}

func TestNormalizeShortcutUppercasesAndTrims(t *testing.T) {
	got := normalizeShortcut(" ctrl + alt +f9 ")
	if got != "CTRL+ALT+F9" {
		t.Fatalf("got %q", got)
	}
}

func TestApplyRegistersOnlyConfiguredShortcuts(t *testing.T) {
	d, b := newTestDispatcher(&fakeDriver{}, &fakeSink{})

	if err := d.Apply(config.HotkeyConfig{Enabled: true, PTT: "F9", Toggle: "F10"}); err != nil {
		t.Fatalf("Apply: %v", err)
	}
	if len(b.regs) != 2 {
		t.Fatalf("expected 2 registrations, got %d", len(b.regs))
	}

	if err := d.Apply(config.HotkeyConfig{Enabled: true, PTT: "F9"}); err != nil {
		t.Fatalf("Apply: %v", err)
	}
	if len(b.regs) != 1 {
		t.Fatalf("expected scoped re-apply to leave exactly 1 registration, got %d", len(b.regs))
	}
}

func TestApplyDisabledClearsRegistrations(t *testing.T) {
	d, b := newTestDispatcher(&fakeDriver{}, &fakeSink{})
	if err := d.Apply(config.HotkeyConfig{Enabled: true, PTT: "F9"}); err != nil {
		t.Fatalf("Apply: %v", err)
	}
	if err := d.Apply(config.HotkeyConfig{Enabled: false}); err != nil {
		t.Fatalf("Apply: %v", err)
	}
	if len(b.regs) != 0 {
		t.Fatalf("expected no registrations once disabled, got %d", len(b.regs))
	}
}

func TestCheckAvailabilityUnregistersAfterProbe(t *testing.T) {
	d, b := newTestDispatcher(&fakeDriver{}, &fakeSink{})
	avail := d.CheckAvailability("F9", "")
	if !avail.Available {
		t.Fatalf("expected available, got %+v", avail)
	}
	if len(b.regs) != 0 {
		t.Fatalf("probe must not leave a live registration, got %d", len(b.regs))
	}
}

func TestCheckAvailabilityIgnoreSelfSkipsProbe(t *testing.T) {
	d, b := newTestDispatcher(&fakeDriver{}, &fakeSink{})
	b.failNext = true
	avail := d.CheckAvailability("F9", "f9")
	if !avail.Available {
		t.Fatalf("expected ignore_self to short-circuit to available, got %+v", avail)
	}
}

func TestPTTPressThenReleaseDrivesRecordingAndTask(t *testing.T) {
	drv := &fakeDriver{}
	sink := &fakeSink{}
	d, b := newTestDispatcher(drv, sink)
	if err := d.Apply(config.HotkeyConfig{Enabled: true, PTT: "F9"}); err != nil {
		t.Fatalf("Apply: %v", err)
	}

	var id int
	for pid := range b.regs {
		id = pid
	}

	b.onEvent(id, true)
	if len(drv.started) != 1 {
		t.Fatalf("expected recording started once, got %d", len(drv.started))
	}
	if sink.last().State != domain.HotkeyPressed || sink.last().CaptureStatus != "ok" {
		t.Fatalf("unexpected press event: %+v", sink.last())
	}

	b.onEvent(id, false)
	if len(drv.stopped) != 1 {
		t.Fatalf("expected recording stopped once, got %d", len(drv.stopped))
	}
	if sink.last().State != domain.HotkeyReleased || sink.last().CaptureStatus != "ok" {
		t.Fatalf("unexpected release event: %+v", sink.last())
	}
}

func TestPTTCaptureFailureNeverStartsRecording(t *testing.T) {
	drv := &fakeDriver{captureErr: errTest}
	sink := &fakeSink{}
	d, b := newTestDispatcher(drv, sink)
	_ = d.Apply(config.HotkeyConfig{Enabled: true, PTT: "F9"})

	var id int
	for pid := range b.regs {
		id = pid
	}
	b.onEvent(id, true)

	if len(drv.started) != 0 {
		t.Fatalf("capture failure must not start recording, started=%d", len(drv.started))
	}
	if sink.last().CaptureStatus != "err" {
		t.Fatalf("expected capture_status=err, got %+v", sink.last())
	}
}

func TestToggleCyclesIdleRecordingActive(t *testing.T) {
	drv := &fakeDriver{}
	sink := &fakeSink{}
	d, b := newTestDispatcher(drv, sink)
	_ = d.Apply(config.HotkeyConfig{Enabled: true, Toggle: "F10"})

	var id int
	for pid := range b.regs {
		id = pid
	}

	b.onEvent(id, true) // idle -> recording
	if d.toggle.phase != togglePhaseRecording {
		t.Fatalf("expected recording phase, got %q", d.toggle.phase)
	}

	b.onEvent(id, true) // recording -> active
	if d.toggle.phase != togglePhaseActive {
		t.Fatalf("expected active phase, got %q", d.toggle.phase)
	}
	if len(drv.stopped) != 1 {
		t.Fatalf("expected one stop, got %d", len(drv.stopped))
	}

	b.onEvent(id, true) // active -> idle (cancel)
	if d.toggle.phase != togglePhaseIdle {
		t.Fatalf("expected idle phase after cancel, got %q", d.toggle.phase)
	}
	if drv.canceled != 1 {
		t.Fatalf("expected CancelActiveTask called once, got %d", drv.canceled)
	}
}

func TestNotifyTaskFinishedResetsActiveToggle(t *testing.T) {
	d, _ := newTestDispatcher(&fakeDriver{}, &fakeSink{})
	d.toggle = toggleState{phase: togglePhaseActive, taskID: "task-1"}
	d.NotifyTaskFinished("task-1")
	if d.toggle.phase != togglePhaseIdle {
		t.Fatalf("expected idle after notify, got %q", d.toggle.phase)
	}
}
