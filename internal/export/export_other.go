//go:build !windows && !linux

package export

import (
	"context"

	"typevoice/internal/corerr"
)

// autoPaste has no native auto-paste surface on platforms other than
// Windows and Linux; callers still get a clipboard copy, just no paste.
func autoPaste(ctx context.Context, text string, hint TargetHint) error {
	return corerr.New("E_EXPORT_PASTE_UNSUPPORTED", "auto paste is not supported on this platform")
}
