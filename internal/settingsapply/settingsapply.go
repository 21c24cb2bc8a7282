// Package settingsapply reacts to a committed settings document (C11):
// it restarts the ASR supervisor only when the effective model id
// changed, and re-applies hotkey registration through the dispatcher's
// own scoped list, debounced so a burst of quick edits in a settings UI
// collapses into one hotkey re-registration. Settings themselves are
// never mutated from here — config.Store remains the single writer.
package settingsapply

import (
	"context"
	"sync"
	"time"

	"github.com/bep/debounce"

	"typevoice/internal/asr"
	"typevoice/internal/config"
	"typevoice/internal/corerr"
	"typevoice/internal/trace"
)

// ASRRestarter is the subset of *asr.Supervisor this package depends on.
type ASRRestarter interface {
	Snapshot() (asr.State, string)
	Restart(ctx context.Context, modelID string) error
}

// HotkeyApplier is the subset of *hotkey.Dispatcher this package depends
// on. Named here rather than imported so settingsapply has no compile-time
// dependency on the hotkey backend.
type HotkeyApplier interface {
	Apply(cfg config.HotkeyConfig) error
}

// Applier is constructed once per process and fed every committed
// settings document in order.
type Applier struct {
	resolver *config.Resolver
	asrSup   ASRRestarter
	hotkeys  HotkeyApplier
	trace    *trace.Writer

	mu        sync.Mutex
	prev      config.Settings
	havePrev  bool
	debounced func(func())
}

// New builds an Applier. hotkeys may be nil when the host process has no
// hotkey backend wired (e.g. headless/test runs).
func New(resolver *config.Resolver, asrSup ASRRestarter, hotkeys HotkeyApplier, tr *trace.Writer) *Applier {
	return &Applier{
		resolver:  resolver,
		asrSup:    asrSup,
		hotkeys:   hotkeys,
		trace:     tr,
		debounced: debounce.New(150 * time.Millisecond),
	}
}

// Apply diffs next against the previously committed document and acts on
// the two things that matter downstream: the ASR model id and the hotkey
// configuration. It never mutates next or touches the settings file.
func (a *Applier) Apply(ctx context.Context, next config.Settings) error {
	a.mu.Lock()
	prev := a.prev
	havePrev := a.havePrev
	a.prev = next
	a.havePrev = true
	a.mu.Unlock()

	span := a.trace.Begin("SettingsApplier.apply", map[string]any{"asr_model": next.ASRModel})

	if havePrev && prev.ASRModel != next.ASRModel && a.asrSup != nil {
		if state, _ := a.asrSup.Snapshot(); state != asr.StateNotStarted {
			if err := a.asrSup.Restart(ctx, next.ASRModel); err != nil {
				span.Err(corerr.CodeOf(err, "E_ASR_RESTART"), trace.ErrChain(err), nil)
				return err
			}
		}
	}

	hotkeyCfg, err := a.resolver.ResolveHotkeyConfig(next)
	if err != nil {
		span.Err(corerr.CodeOf(err, "E_SETTINGS_HOTKEY"), trace.ErrChain(err), nil)
		return err
	}

	if a.hotkeys != nil {
		a.debounced(func() {
			if err := a.hotkeys.Apply(hotkeyCfg); err != nil {
				a.trace.Event("", "SettingsApplier.hotkeys", "err", map[string]any{"code": corerr.CodeOf(err, "E_HK_APPLY")})
			}
		})
	}

	span.Ok(nil)
	return nil
}
