//go:build !headless

// controller.go - buses 4 and 5: 8-button gamepad state polled from the
// keyboard, modelled on video_backend_ebiten.go's handleKeyboardInput.

package devices

import (
	"sync"

	"github.com/hajimehoshi/ebiten/v2"

	"github.com/pocketvm/pocketvm/vm"
)

// Controller ports (buses 4, 5).
const ControllerButtons byte = 0x0

// Button bit positions within the ControllerButtons byte.
const (
	ButtonUp byte = 1 << iota
	ButtonDown
	ButtonLeft
	ButtonRight
	ButtonA
	ButtonB
	ButtonStart
	ButtonSelect
)

// defaultControllerKeys maps player-one keyboard keys to buttons; a second
// Controller instance can be given a different mapping via SetKeymap for
// player two.
var defaultControllerKeys = map[ebiten.Key]byte{
	ebiten.KeyArrowUp:    ButtonUp,
	ebiten.KeyArrowDown:  ButtonDown,
	ebiten.KeyArrowLeft:  ButtonLeft,
	ebiten.KeyArrowRight: ButtonRight,
	ebiten.KeyZ:          ButtonA,
	ebiten.KeyX:          ButtonB,
	ebiten.KeyEnter:      ButtonStart,
	ebiten.KeyShiftLeft:  ButtonSelect,
}

// Controller implements the device-callback contract for a gamepad bus. It
// is polled once per display frame via Poll, not per BSI access, so BSI
// always reads a value that was current as of the last frame.
type Controller struct {
	mu      sync.RWMutex
	buttons byte
	keymap  map[ebiten.Key]byte
}

// NewController returns a Controller using the default keyboard mapping.
func NewController() *Controller {
	return &Controller{keymap: defaultControllerKeys}
}

// SetKeymap replaces the keyboard-to-button mapping, e.g. to give a second
// controller a distinct key set.
func (c *Controller) SetKeymap(keymap map[ebiten.Key]byte) {
	c.mu.Lock()
	c.keymap = keymap
	c.mu.Unlock()
}

// Poll samples the current keyboard state into the button bitmask. Call
// this once per frame from Display.OnFrame.
func (c *Controller) Poll() {
	c.mu.Lock()
	defer c.mu.Unlock()
	var mask byte
	for key, bit := range c.keymap {
		if ebiten.IsKeyPressed(key) {
			mask |= bit
		}
	}
	c.buttons = mask
}

// Handle is the vm.DeviceFunc bound to a controller bus.
func (c *Controller) Handle(bus *vm.Bus, port byte, dir vm.Direction) {
	if port != ControllerButtons || dir != vm.DirRead {
		return
	}
	c.mu.RLock()
	defer c.mu.RUnlock()
	bus.Buffer()[port] = c.buttons
}
