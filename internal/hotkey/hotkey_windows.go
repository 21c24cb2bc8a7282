//go:build windows

package hotkey

import (
	"runtime"
	"sync"
	"time"
	"unsafe"

	"golang.org/x/sys/windows"

	"typevoice/internal/corerr"
)

// windowsBackend reproduces Joey-Kot-STT-for-Windows's low-level keyboard
// hook approach (WH_KEYBOARD_LL), not RegisterHotKey: RegisterHotKey only
// ever fires on key-down, so it cannot distinguish Pressed from Released
// for PTT. A hook callback sees both WM_KEYDOWN and WM_KEYUP and lets us
// require the configured modifier mask via GetAsyncKeyState, using
// golang.org/x/sys/windows's lazy-DLL loader rather than the teacher's
// raw syscall.NewLazyDLL call.
type windowsBackend struct {
	hook      windows.Handle
	threadID  uint32
	onEvent   func(id int, pressed bool)
	closeCh   chan struct{}
	doneCh    chan struct{}
	mu        sync.Mutex
	bindings  map[uint32][]binding // keyed by vk
	swallowed map[uint32]bool
}

type binding struct {
	id  int
	mod uint32
}

var (
	user32                  = windows.NewLazySystemDLL("user32.dll")
	procSetWindowsHookExW   = user32.NewProc("SetWindowsHookExW")
	procUnhookWindowsHookEx = user32.NewProc("UnhookWindowsHookEx")
	procCallNextHookEx      = user32.NewProc("CallNextHookEx")
	procGetMessageW         = user32.NewProc("GetMessageW")
	procPostThreadMessageW  = user32.NewProc("PostThreadMessageW")
	procGetAsyncKeyState    = user32.NewProc("GetAsyncKeyState")
	procGetCurrentThreadId  = windows.NewLazySystemDLL("kernel32.dll").NewProc("GetCurrentThreadId")
)

const (
	whKeyboardLL = 13
	wmKeyDown    = 0x0100
	wmKeyUp      = 0x0101
	wmSysKeyDown = 0x0104
	wmSysKeyUp   = 0x0105
	wmQuit       = 0x0012
	llkhfInject  = 0x10

	vkShift   = 0x10
	vkControl = 0x11
	vkMenu    = 0x12
	vkLWin    = 0x5B
	vkRWin    = 0x5C
)

type kbdllhookstruct struct {
	VkCode      uint32
	ScanCode    uint32
	Flags       uint32
	Time        uint32
	DwExtraInfo uintptr
}

type msgT struct {
	Hwnd    uintptr
	Message uint32
	WParam  uintptr
	LParam  uintptr
	Time    uint32
	PtX     int32
	PtY     int32
}

func newBackend(onEvent func(id int, pressed bool)) (backend, error) {
	b := &windowsBackend{
		onEvent:   onEvent,
		closeCh:   make(chan struct{}),
		doneCh:    make(chan struct{}),
		bindings:  make(map[uint32][]binding),
		swallowed: make(map[uint32]bool),
	}

	started := make(chan error, 1)
	var threadID uint32
	go func() {
		runtime.LockOSThread()
		defer runtime.UnlockOSThread()
		defer close(b.doneCh)

		tid, _, _ := procGetCurrentThreadId.Call()
		threadID = uint32(tid)

		cb := windows.NewCallback(b.hookProc)
		h, _, _ := procSetWindowsHookExW.Call(uintptr(whKeyboardLL), cb, 0, 0)
		if h == 0 {
			started <- corerr.New("E_HOTKEY_BACKEND_UNAVAILABLE", "SetWindowsHookExW failed")
			return
		}
		b.hook = windows.Handle(h)
		started <- nil

		var msg msgT
		for {
			ret, _, _ := procGetMessageW.Call(uintptr(unsafe.Pointer(&msg)), 0, 0, 0)
			if int32(ret) <= 0 {
				break
			}
		}
		procUnhookWindowsHookEx.Call(uintptr(b.hook))
	}()

	if err := <-started; err != nil {
		return nil, err
	}
	b.mu.Lock()
	b.threadID = threadID
	b.mu.Unlock()
	return b, nil
}

func (b *windowsBackend) hookProc(nCode, wParam, lParam uintptr) uintptr {
	if int32(nCode) < 0 {
		ret, _, _ := procCallNextHookEx.Call(0, nCode, wParam, lParam)
		return ret
	}

	msg := uint32(wParam)
	k := (*kbdllhookstruct)(unsafe.Pointer(lParam))
	vk := k.VkCode

	if k.Flags&llkhfInject != 0 {
		ret, _, _ := procCallNextHookEx.Call(0, nCode, wParam, lParam)
		return ret
	}

	if msg == wmKeyDown || msg == wmSysKeyDown {
		b.mu.Lock()
		cands := b.bindings[vk]
		b.mu.Unlock()
		for _, c := range cands {
			if modsSatisfied(c.mod) {
				b.mu.Lock()
				b.swallowed[vk] = true
				b.mu.Unlock()
				go b.onEvent(c.id, true)
				return 1
			}
		}
	}

	if msg == wmKeyUp || msg == wmSysKeyUp {
		b.mu.Lock()
		wasSwallowed := b.swallowed[vk]
		delete(b.swallowed, vk)
		cands := b.bindings[vk]
		b.mu.Unlock()
		if wasSwallowed {
			for _, c := range cands {
				go b.onEvent(c.id, false)
			}
			return 1
		}
	}

	ret, _, _ := procCallNextHookEx.Call(0, nCode, wParam, lParam)
	return ret
}

func modsSatisfied(required uint32) bool {
	if required == 0 {
		return true
	}
	down := func(vk int) bool {
		st, _, _ := procGetAsyncKeyState.Call(uintptr(vk))
		return st&0x8000 != 0
	}
	if required&modControl != 0 && !down(vkControl) {
		return false
	}
	if required&modAlt != 0 && !down(vkMenu) {
		return false
	}
	if required&modShift != 0 && !down(vkShift) {
		return false
	}
	if required&modWin != 0 && !down(vkLWin) && !down(vkRWin) {
		return false
	}
	return true
}

func (b *windowsBackend) Register(id int, shortcut string) error {
	mod, vk, err := parseShortcut(shortcut)
	if err != nil {
		return err
	}
	b.mu.Lock()
	defer b.mu.Unlock()
	b.bindings[vk] = append(b.bindings[vk], binding{id: id, mod: mod})
	return nil
}

func (b *windowsBackend) Unregister(id int) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	for vk, cands := range b.bindings {
		out := cands[:0]
		for _, c := range cands {
			if c.id != id {
				out = append(out, c)
			}
		}
		if len(out) == 0 {
			delete(b.bindings, vk)
		} else {
			b.bindings[vk] = out
		}
	}
	return nil
}

func (b *windowsBackend) Close() error {
	close(b.closeCh)
	if b.threadID != 0 {
		procPostThreadMessageW.Call(uintptr(b.threadID), wmQuit, 0, 0)
	}
	select {
	case <-b.doneCh:
	case <-time.After(2 * time.Second):
	}
	return nil
}
