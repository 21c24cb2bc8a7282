//go:build linux

package export

import (
	"context"
	"os"

	"github.com/godbus/dbus/v5"

	"typevoice/internal/corerr"
)

const (
	atspiBusName           = "org.a11y.atspi.Registry"
	atspiAccessibleIface   = "org.a11y.atspi.Accessible"
	atspiEditableTextIface = "org.a11y.atspi.EditableText"
	atspiTextIface         = "org.a11y.atspi.Text"
	atspiComponentIface    = "org.a11y.atspi.Component"
	maxTraverseNodes       = 2048
)

// objectRef mirrors AT-SPI's (service, path) object reference pair.
type objectRef struct {
	service string
	path    dbus.ObjectPath
}

// autoPaste reproduces original_source/export.rs's linux module: connect to
// the AT-SPI accessibility bus, depth-first search (bounded at
// maxTraverseNodes) for the focused object exposing EditableText, and call
// its InsertText method — never a synthesized keypress.
func autoPaste(ctx context.Context, text string, hint TargetHint) error {
	_ = hint // no window-handle concept on the AT-SPI accessibility tree

	sessionConn, err := dbus.ConnectSessionBus(dbus.WithContext(ctx))
	if err != nil {
		return corerr.Wrap("E_EXPORT_PASTE_UNAVAILABLE", "failed to connect to session bus", err)
	}
	defer sessionConn.Close()

	addr, err := accessibilityBusAddress(sessionConn)
	if err != nil {
		return err
	}

	a11yConn, err := dbus.Dial(addr, dbus.WithContext(ctx))
	if err != nil {
		return corerr.Wrap("E_EXPORT_PASTE_UNAVAILABLE", "failed to connect to AT-SPI bus", err)
	}
	defer a11yConn.Close()
	if err := a11yConn.Auth(nil); err != nil {
		return corerr.Wrap("E_EXPORT_PASTE_UNAVAILABLE", "failed to authenticate on AT-SPI bus", err)
	}

	target, err := findFocusedEditableObject(a11yConn)
	if err != nil {
		return err
	}
	if target == nil {
		return corerr.New("E_EXPORT_TARGET_NOT_EDITABLE", "focused editable target not found via AT-SPI")
	}
	if ownedBySelf(a11yConn, target.service) {
		return corerr.New("E_EXPORT_TARGET_SELF_APP", "focused accessibility target belongs to this process")
	}

	if comp := a11yConn.Object(target.service, target.path); comp != nil {
		_ = comp.Call(atspiComponentIface+".GrabFocus", 0).Err
	}

	insertPos := 0
	textObj := a11yConn.Object(target.service, target.path)
	var caret int32
	if call := textObj.Call(atspiTextIface+".GetCaretOffset", 0); call.Err == nil {
		if err := call.Store(&caret); err == nil && caret > 0 {
			insertPos = int(caret)
		}
	}

	editable := a11yConn.Object(target.service, target.path)
	var ok bool
	call := editable.Call(atspiEditableTextIface+".InsertText", 0, int32(insertPos), text, int32(len([]rune(text))))
	if call.Err != nil {
		return corerr.Wrap("E_EXPORT_PASTE_FAILED", "EditableText.InsertText call failed", call.Err)
	}
	if err := call.Store(&ok); err == nil && !ok {
		return corerr.New("E_EXPORT_PASTE_FAILED", "EditableText.InsertText returned false")
	}
	return nil
}

// accessibilityBusAddress resolves the AT-SPI bus address via the
// org.a11y.Bus well-known session-bus service.
func accessibilityBusAddress(conn *dbus.Conn) (string, error) {
	obj := conn.Object("org.a11y.Bus", "/org/a11y/bus")
	var addr string
	if err := obj.Call("org.a11y.Bus.GetAddress", 0).Store(&addr); err != nil {
		return "", corerr.Wrap("E_EXPORT_PASTE_UNAVAILABLE", "failed to resolve AT-SPI bus address", err)
	}
	return addr, nil
}

// findFocusedEditableObject walks the AT-SPI accessibility tree depth-first,
// bounded at maxTraverseNodes, looking for a node that both implements
// EditableText and reports itself focused.
func findFocusedEditableObject(conn *dbus.Conn) (*objectRef, error) {
	registry := conn.Object(atspiBusName, "/org/a11y/atspi/accessible/root")

	var children [][]any
	if err := registry.Call(atspiAccessibleIface+".GetChildren", 0).Store(&children); err != nil {
		return nil, corerr.Wrap("E_EXPORT_PASTE_UNAVAILABLE", "failed to query AT-SPI applications", err)
	}

	stack := make([]objectRef, 0, len(children))
	for _, c := range children {
		if ref := refFromVariant(c); ref != nil {
			stack = append(stack, *ref)
		}
	}

	visited := 0
	for len(stack) > 0 && visited < maxTraverseNodes {
		node := stack[len(stack)-1]
		stack = stack[:len(stack)-1]
		visited++

		obj := conn.Object(node.service, node.path)

		var interfaces []string
		if err := obj.Call(atspiAccessibleIface+".GetInterfaces", 0).Store(&interfaces); err != nil {
			continue
		}
		var states []uint32
		if err := obj.Call("org.a11y.atspi.Accessible.GetState", 0).Store(&states); err != nil {
			continue
		}

		if hasInterface(interfaces, atspiEditableTextIface) && hasFocusedState(states) {
			n := node
			return &n, nil
		}

		var grandchildren [][]any
		if err := obj.Call(atspiAccessibleIface+".GetChildren", 0).Store(&grandchildren); err == nil {
			for _, c := range grandchildren {
				if ref := refFromVariant(c); ref != nil {
					stack = append(stack, *ref)
				}
			}
		}
	}

	return nil, nil
}

// ownedBySelf resolves the Unix pid behind an AT-SPI bus name via the
// standard org.freedesktop.DBus credentials query and compares it to our
// own pid, the AT-SPI analogue of the Windows backend's GetWindowThreadProcessId check.
func ownedBySelf(conn *dbus.Conn, service string) bool {
	var pid uint32
	if err := conn.BusObject().Call("org.freedesktop.DBus.GetConnectionUnixProcessID", 0, service).Store(&pid); err != nil {
		return false
	}
	return pid != 0 && pid == uint32(os.Getpid())
}

func refFromVariant(v []any) *objectRef {
	if len(v) != 2 {
		return nil
	}
	service, ok := v[0].(string)
	if !ok {
		return nil
	}
	path, ok := v[1].(dbus.ObjectPath)
	if !ok {
		return nil
	}
	return &objectRef{service: service, path: path}
}

func hasInterface(interfaces []string, want string) bool {
	for _, i := range interfaces {
		if i == want {
			return true
		}
	}
	return false
}

// hasFocusedState checks AT-SPI's STATE_FOCUSED bit (bit 19) in the
// two-uint32 state bitset AT-SPI returns from GetState.
func hasFocusedState(states []uint32) bool {
	const stateFocusedBit = 19
	if len(states) == 0 {
		return false
	}
	word, bit := stateFocusedBit/32, uint(stateFocusedBit%32)
	if word >= len(states) {
		return false
	}
	return states[word]&(1<<bit) != 0
}
