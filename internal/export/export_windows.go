//go:build windows

package export

import (
	"context"
	"fmt"
	"os"
	"time"
	"unsafe"

	"golang.org/x/sys/windows"

	"typevoice/internal/corerr"
)

var (
	user32                    = windows.NewLazySystemDLL("user32.dll")
	procGetForegroundWindow   = user32.NewProc("GetForegroundWindow")
	procSetForegroundWindow   = user32.NewProc("SetForegroundWindow")
	procIsWindow              = user32.NewProc("IsWindow")
	procGetWindowThreadProcID = user32.NewProc("GetWindowThreadProcessId")
	procSendMessageTimeoutW   = user32.NewProc("SendMessageTimeoutW")
)

const (
	wmPaste         = 0x0302
	smtoAbortIfHung = 0x0002
)

// autoPaste reproduces original_source/export.rs's windows module:
// SendMessageTimeoutW(WM_PASTE) against whichever foreign foreground window
// is in focus, falling back to the press-time hwnd hint, and using
// golang.org/x/sys/windows's lazy-DLL loader instead of a raw
// syscall.NewLazyDLL call (the same mechanism, the ecosystem-idiomatic
// entry point).
func autoPaste(ctx context.Context, text string, hint TargetHint) error {
	fg, _, _ := procGetForegroundWindow.Call()
	fgHwnd := windows.HWND(fg)
	if fgHwnd != 0 && !isForeignWindow(fgHwnd) {
		return corerr.New("E_EXPORT_TARGET_SELF_APP", "foreground window belongs to this process")
	}

	target, ok := resolveTargetWindow(hint)
	if !ok {
		return corerr.New("E_EXPORT_TARGET_UNAVAILABLE", "no external foreground window available for auto paste")
	}

	if err := ensureForegroundWindow(target); err != nil {
		return err
	}

	var result uintptr
	ok2, _, lastErr := procSendMessageTimeoutW.Call(
		uintptr(target), wmPaste, 0, 0, smtoAbortIfHung, 1200, uintptr(unsafe.Pointer(&result)),
	)
	if ok2 == 0 {
		return corerr.New("E_EXPORT_PASTE_FAILED", fmt.Sprintf("SendMessageTimeoutW(WM_PASTE) failed: last_error=%v, hwnd=%v", lastErr, target))
	}
	return nil
}

func resolveTargetWindow(hint TargetHint) (windows.HWND, bool) {
	fg, _, _ := procGetForegroundWindow.Call()
	hwnd := windows.HWND(fg)
	if isForeignWindow(hwnd) {
		return hwnd, true
	}

	if hint.WindowsHWND != 0 {
		hwnd = windows.HWND(hint.WindowsHWND)
		if isForeignWindow(hwnd) {
			return hwnd, true
		}
	}
	return 0, false
}

func ensureForegroundWindow(target windows.HWND) error {
	setOk, _, _ := procSetForegroundWindow.Call(uintptr(target))
	if isForegroundWindow(target) {
		return nil
	}

	deadline := time.Now().Add(300 * time.Millisecond)
	for time.Now().Before(deadline) {
		if isForegroundWindow(target) {
			return nil
		}
		time.Sleep(20 * time.Millisecond)
	}

	current, _, _ := procGetForegroundWindow.Call()
	return corerr.New("E_EXPORT_TARGET_FOCUS_FAILED", fmt.Sprintf(
		"failed to focus target window before paste: set_fg_ok=%v, target=%v, foreground=%v", setOk, target, current))
}

func isForegroundWindow(target windows.HWND) bool {
	if target == 0 {
		return false
	}
	current, _, _ := procGetForegroundWindow.Call()
	return current != 0 && windows.HWND(current) == target
}

func isForeignWindow(hwnd windows.HWND) bool {
	if hwnd == 0 {
		return false
	}
	isWin, _, _ := procIsWindow.Call(uintptr(hwnd))
	if isWin == 0 {
		return false
	}
	var pid uint32
	procGetWindowThreadProcID.Call(uintptr(hwnd), uintptr(unsafe.Pointer(&pid)))
	return pid != 0 && pid != uint32(os.Getpid())
}
