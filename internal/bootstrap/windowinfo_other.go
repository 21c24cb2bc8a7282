//go:build !windows

package bootstrap

import "typevoice/internal/domain"

// capturePreviousWindow has no portable previous-foreground-window query
// outside Windows's user32 surface (a Linux equivalent would need an X11 or
// Wayland compositor protocol client, which appears nowhere in the
// reference pack — see DESIGN.md). Context capture on this platform simply
// omits the previous-window section; this is not treated as a field-level
// capture failure since the platform never supported it in the first place.
func capturePreviousWindow() (domain.WindowSnapshot, bool, *windowCaptureError) {
	return domain.WindowSnapshot{}, false, nil
}
