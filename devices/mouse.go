//go:build !headless

// mouse.go - bus 6: cursor position and button state, modelled on
// video_backend_ebiten.go's input handling (ebiten.CursorPosition /
// ebiten.IsMouseButtonPressed).

package devices

import (
	"sync"

	"github.com/hajimehoshi/ebiten/v2"

	"github.com/pocketvm/pocketvm/vm"
)

// Mouse ports (bus 6).
const (
	MouseXHi      byte = 0x0
	MouseXLo      byte = 0x1
	MouseYHi      byte = 0x2
	MouseYLo      byte = 0x3
	MouseButtons  byte = 0x4
)

// Mouse button bits within MouseButtons.
const (
	MouseButtonLeft byte = 1 << iota
	MouseButtonRight
	MouseButtonMiddle
)

// Mouse implements the device-callback contract for bus 6, polled once
// per display frame.
type Mouse struct {
	mu      sync.RWMutex
	x, y    uint16
	buttons byte
}

// NewMouse returns a Mouse at position (0, 0) with no buttons held.
func NewMouse() *Mouse {
	return &Mouse{}
}

// Poll samples the current cursor position and button state, clamped to
// the display's 640x480 geometry. Call this once per frame from
// Display.OnFrame.
func (m *Mouse) Poll() {
	x, y := ebiten.CursorPosition()
	if x < 0 {
		x = 0
	}
	if y < 0 {
		y = 0
	}
	if x >= DisplayWidth {
		x = DisplayWidth - 1
	}
	if y >= DisplayHeight {
		y = DisplayHeight - 1
	}

	var buttons byte
	if ebiten.IsMouseButtonPressed(ebiten.MouseButtonLeft) {
		buttons |= MouseButtonLeft
	}
	if ebiten.IsMouseButtonPressed(ebiten.MouseButtonRight) {
		buttons |= MouseButtonRight
	}
	if ebiten.IsMouseButtonPressed(ebiten.MouseButtonMiddle) {
		buttons |= MouseButtonMiddle
	}

	m.mu.Lock()
	m.x, m.y = uint16(x), uint16(y)
	m.buttons = buttons
	m.mu.Unlock()
}

// Handle is the vm.DeviceFunc bound to bus 6.
func (m *Mouse) Handle(bus *vm.Bus, port byte, dir vm.Direction) {
	if dir != vm.DirRead {
		return
	}
	m.mu.RLock()
	defer m.mu.RUnlock()
	switch port {
	case MouseXHi, MouseXLo:
		bus.Write16(MouseXHi, m.x)
	case MouseYHi, MouseYLo:
		bus.Write16(MouseYHi, m.y)
	case MouseButtons:
		bus.Buffer()[port] = m.buttons
	}
}
