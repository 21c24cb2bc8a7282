// Package export performs the terminal Export stage (C9): copying the
// final text to the clipboard, and optionally auto-pasting it into
// whatever window last had foreground focus. Clipboard copy is grounded on
// Joey-Kot-STT-for-Windows's use of github.com/atotto/clipboard
// (original_source/export.rs uses the Rust arboard crate for the same
// concern). Auto-paste deliberately does NOT synthesize keystrokes — per
// spec.md §4.9 that technique (ctrl+v key-down/key-up injection, as
// Joey-Kot does with github.com/micmonay/keybd_event) is excluded; instead
// each platform uses its native accessibility/messaging surface, matching
// original_source/export.rs's windows/linux modules (see DESIGN.md for why
// keybd_event was not wired in).
package export

import (
	"context"
	"strings"

	"github.com/atotto/clipboard"

	"typevoice/internal/corerr"
)

// TargetHint carries an optional platform-specific window handle captured
// at recording-press time, used as a fallback when the foreground window
// has changed by the time Export runs.
type TargetHint struct {
	WindowsHWND int64
}

// CopyToClipboard writes text to the system clipboard.
func CopyToClipboard(text string) error {
	if strings.TrimSpace(text) == "" {
		return corerr.New("E_EXPORT_EMPTY_TEXT", "empty text cannot be exported")
	}
	if err := clipboard.WriteAll(text); err != nil {
		return corerr.Wrap("E_EXPORT_COPY_FAILED", "clipboard write failed", err)
	}
	return nil
}

// AutoPaste inserts text into the currently (or last-known) foreground
// window, via the platform backend in export_<os>.go. A failure here never
// rolls back the clipboard copy that already succeeded.
func AutoPaste(ctx context.Context, text string, hint TargetHint) error {
	if strings.TrimSpace(text) == "" {
		return corerr.New("E_EXPORT_EMPTY_TEXT", "empty text cannot be exported")
	}
	return autoPaste(ctx, text, hint)
}
