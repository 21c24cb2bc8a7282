package bootstrap

import (
	"strings"
	"time"

	"github.com/atotto/clipboard"

	"typevoice/internal/domain"
	"typevoice/internal/history"
	"typevoice/internal/trace"
)

// windowCaptureError names the platform API that failed and carries its
// OS-reported cause, so the child trace span records exactly what §4.6
// requires: the platform API name and the OS last-error behind it.
type windowCaptureError struct {
	api     string
	lastErr error
}

func (e *windowCaptureError) Error() string {
	if e.lastErr == nil {
		return e.api + " returned no usable window info"
	}
	return e.api + " failed: " + e.lastErr.Error()
}

// contextCollector gathers the "surroundings" snapshot at hotkey-press
// time: recent history via history.Store.RecentWithin, clipboard text via
// github.com/atotto/clipboard (the same dependency export.CopyToClipboard
// uses for the opposite direction), and the previous foreground window's
// title and process path on platforms that support it. Screenshot capture
// is never populated: no screenshot library appears anywhere in the
// reference pack, so domain.WindowSnapshot.ScreenshotBytes stays nil and
// ContextPolicy.IncludePreviousScreenshot is a no-op here (see DESIGN.md).
//
// A failure to capture any one field must not fail the whole collection
// (§4.6); each failure is instead recorded as a child trace span under the
// collection's own span, carrying the specific cause.
type contextCollector struct {
	tr      *trace.Writer
	history *history.Store
	policy  func() domain.ContextPolicy
}

func newContextCollector(tr *trace.Writer, h *history.Store, policy func() domain.ContextPolicy) *contextCollector {
	return &contextCollector{tr: tr, history: h, policy: policy}
}

// Capture implements the gathering half of hotkey.Driver.CaptureContext;
// contextpack.Prepare (C6) implements the rendering half against whatever
// this returns.
func (c *contextCollector) Capture() (domain.ContextPack, error) {
	policy := c.policy()
	var pack domain.ContextPack

	span := c.tr.Begin("CONTEXT.capture", nil)
	defer span.Ok(nil)

	if policy.IncludeHistory && c.history != nil && policy.MaxHistoryItems > 0 {
		nowMs := time.Now().UnixMilli()
		windowMs := policy.HistoryWindow.Milliseconds()
		items, err := c.history.RecentWithin(nowMs, windowMs, policy.MaxHistoryItems)
		if err == nil {
			pack.History = items
		} else {
			span.Child("CONTEXT.history", map[string]any{"api": "history.RecentWithin"}).
				Err("E_CONTEXT_HISTORY", []string{err.Error()}, nil)
		}
	}

	if policy.IncludeClipboard {
		text, err := clipboard.ReadAll()
		if err == nil {
			pack.ClipboardText = strings.TrimSpace(text)
		} else {
			span.Child("CONTEXT.clipboard", map[string]any{"api": "clipboard.ReadAll"}).
				Err("E_CONTEXT_CLIPBOARD", []string{err.Error()}, nil)
		}
	}

	if policy.IncludePreviousWindow {
		snap, ok, capErr := capturePreviousWindow()
		if ok {
			pack.PreviousWindow = &snap
		} else if capErr != nil {
			span.Child("CONTEXT.previous_window", map[string]any{"api": capErr.api}).
				Err("E_CONTEXT_PREVIOUS_WINDOW", []string{capErr.Error()}, nil)
		}
	}

	return pack, nil
}
