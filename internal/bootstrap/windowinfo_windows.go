//go:build windows

package bootstrap

import (
	"os"
	"unsafe"

	"golang.org/x/sys/windows"

	"typevoice/internal/domain"
)

var (
	user32Wi                     = windows.NewLazySystemDLL("user32.dll")
	procGetForegroundWindowWi    = user32Wi.NewProc("GetForegroundWindow")
	procGetWindowTextW           = user32Wi.NewProc("GetWindowTextW")
	procGetWindowRect            = user32Wi.NewProc("GetWindowRect")
	procGetWindowThreadProcIDWi  = user32Wi.NewProc("GetWindowThreadProcessId")
	kernel32Wi                   = windows.NewLazySystemDLL("kernel32.dll")
	procOpenProcessWi            = kernel32Wi.NewProc("OpenProcess")
	procQueryFullProcessImageWi  = kernel32Wi.NewProc("QueryFullProcessImageNameW")
	procCloseHandleWi            = kernel32Wi.NewProc("CloseHandle")
)

const (
	processQueryLimitedInformation = 0x1000
	maxWindowTextChars             = 512
	maxProcessPathChars            = 1024
)

type rect struct {
	Left, Top, Right, Bottom int32
}

// capturePreviousWindow reads the current foreground window's title,
// owning process image path, and bounding rectangle, the same user32
// surface export_windows.go's autoPaste uses to resolve a target window.
// Per §4.6, a window owned by this process itself is excluded the same way
// export_windows.go's isForeignWindow excludes it from auto-paste targeting
// (P10) — otherwise the app's own overlay would get captured as "previous
// window" whenever it happens to hold focus at hotkey-press time.
func capturePreviousWindow() (domain.WindowSnapshot, bool, *windowCaptureError) {
	hwndPtr, _, callErr := procGetForegroundWindowWi.Call()
	hwnd := windows.HWND(hwndPtr)
	if hwnd == 0 {
		return domain.WindowSnapshot{}, false, nil
	}

	if pid := windowPid(hwnd); pid != 0 && pid == uint32(os.Getpid()) {
		return domain.WindowSnapshot{}, false, nil
	}

	title := windowTitle(hwnd)
	imagePath := processImagePath(hwnd)
	rectangle := windowRectangle(hwnd)

	if title == "" && imagePath == "" {
		return domain.WindowSnapshot{}, false, &windowCaptureError{api: "GetWindowTextW", lastErr: callErr}
	}
	return domain.WindowSnapshot{
		Title:            title,
		ProcessImagePath: imagePath,
		Rectangle:        rectangle,
	}, true, nil
}

// windowPid resolves hwnd's owning process id, the same lookup
// processImagePath uses internally.
func windowPid(hwnd windows.HWND) uint32 {
	var pid uint32
	procGetWindowThreadProcIDWi.Call(uintptr(hwnd), uintptr(unsafe.Pointer(&pid)))
	return pid
}

func windowTitle(hwnd windows.HWND) string {
	buf := make([]uint16, maxWindowTextChars)
	n, _, _ := procGetWindowTextW.Call(uintptr(hwnd), uintptr(unsafe.Pointer(&buf[0])), uintptr(len(buf)))
	if n == 0 {
		return ""
	}
	return windows.UTF16ToString(buf[:n])
}

func windowRectangle(hwnd windows.HWND) domain.Rectangle {
	var r rect
	ok, _, _ := procGetWindowRect.Call(uintptr(hwnd), uintptr(unsafe.Pointer(&r)))
	if ok == 0 {
		return domain.Rectangle{}
	}
	return domain.Rectangle{X: int(r.Left), Y: int(r.Top), Width: int(r.Right - r.Left), Height: int(r.Bottom - r.Top)}
}

func processImagePath(hwnd windows.HWND) string {
	pid := windowPid(hwnd)
	if pid == 0 {
		return ""
	}

	h, _, _ := procOpenProcessWi.Call(uintptr(processQueryLimitedInformation), 0, uintptr(pid))
	if h == 0 {
		return ""
	}
	defer procCloseHandleWi.Call(h)

	buf := make([]uint16, maxProcessPathChars)
	size := uint32(len(buf))
	ok, _, _ := procQueryFullProcessImageWi.Call(h, 0, uintptr(unsafe.Pointer(&buf[0])), uintptr(unsafe.Pointer(&size)))
	if ok == 0 {
		return ""
	}
	return windows.UTF16ToString(buf[:size])
}
