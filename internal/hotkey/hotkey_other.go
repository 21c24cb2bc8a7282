//go:build !windows

package hotkey

import "typevoice/internal/corerr"

// noopBackend reports every shortcut as unavailable rather than silently
// accepting a registration it cannot deliver events for. Global hotkey
// capture has no single stable Linux mechanism the way Win32's low-level
// keyboard hook does (X11 global grabs, evdev, and compositor-specific
// portals are all distinct, desktop-environment-dependent integration
// surfaces) — none of the example repos carry one, so this backend is
// stdlib-only by necessity, not preference.
type noopBackend struct{}

func newBackend(onEvent func(id int, pressed bool)) (backend, error) {
	_ = onEvent
	return &noopBackend{}, nil
}

func (noopBackend) Register(id int, shortcut string) error {
	return corerr.New("E_HOTKEY_UNSUPPORTED_PLATFORM", "global hotkey registration is not available on this platform")
}

func (noopBackend) Unregister(id int) error { return nil }

func (noopBackend) Close() error { return nil }
