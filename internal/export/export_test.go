package export

import (
	"context"
	"testing"

	"typevoice/internal/corerr"
)

func TestCopyToClipboardRejectsEmptyText(t *testing.T) {
	err := CopyToClipboard("   ")
	if corerr.CodeOf(err, "") != "E_EXPORT_EMPTY_TEXT" {
		t.Fatalf("unexpected error: %v", err)
	}
}

func TestAutoPasteRejectsEmptyText(t *testing.T) {
	err := AutoPaste(context.Background(), "\n\t", TargetHint{})
	if corerr.CodeOf(err, "") != "E_EXPORT_EMPTY_TEXT" {
		t.Fatalf("unexpected error: %v", err)
	}
}
