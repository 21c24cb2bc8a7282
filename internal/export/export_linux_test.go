//go:build linux

package export

import (
	"testing"

	"github.com/godbus/dbus/v5"
)

func TestHasFocusedStateChecksBit19(t *testing.T) {
	if hasFocusedState(nil) {
		t.Fatal("empty state set should not report focused")
	}
	if hasFocusedState([]uint32{0, 0}) {
		t.Fatal("all-zero state set should not report focused")
	}
	if !hasFocusedState([]uint32{1 << 19, 0}) {
		t.Fatal("expected state bit 19 to be detected as focused")
	}
}

func TestHasInterfaceFindsExactMatch(t *testing.T) {
	ifaces := []string{"org.a11y.atspi.Accessible", "org.a11y.atspi.EditableText"}
	if !hasInterface(ifaces, atspiEditableTextIface) {
		t.Fatal("expected EditableText interface to be found")
	}
	if hasInterface(ifaces, atspiComponentIface) {
		t.Fatal("did not expect Component interface to be found")
	}
}

func TestRefFromVariantParsesServiceAndPath(t *testing.T) {
	ref := refFromVariant([]any{":1.42", dbus.ObjectPath("/org/a11y/atspi/accessible/123")})
	if ref == nil || ref.service != ":1.42" || ref.path != dbus.ObjectPath("/org/a11y/atspi/accessible/123") {
		t.Fatalf("unexpected ref: %+v", ref)
	}

	if refFromVariant([]any{"only-one"}) != nil {
		t.Fatal("expected nil for malformed variant")
	}
}
