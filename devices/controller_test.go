//go:build !headless

package devices

import (
	"testing"

	"github.com/hajimehoshi/ebiten/v2"

	"github.com/pocketvm/pocketvm/vm"
)

// Poll touches ebiten's global keyboard state, which only exists once a
// game loop is running; these tests instead drive Controller the way Poll
// itself would, by setting buttons directly, and check the Handle side.
func TestControllerHandleReturnsButtonMask(t *testing.T) {
	c := NewController()
	c.buttons = ButtonUp | ButtonA

	bus := vm.NewBus(4, c.Handle)
	got := bus.Read(ControllerButtons)
	if got != ButtonUp|ButtonA {
		t.Fatalf("got %08b, want %08b", got, ButtonUp|ButtonA)
	}
}

func TestControllerHandleIgnoresWrites(t *testing.T) {
	c := NewController()
	c.buttons = ButtonStart

	bus := vm.NewBus(4, c.Handle)
	bus.Write(ControllerButtons, 0xFF)
	if c.buttons != ButtonStart {
		t.Fatalf("a write to ControllerButtons mutated internal state: %08b", c.buttons)
	}
}

func TestControllerSetKeymapReplacesMapping(t *testing.T) {
	c := NewController()
	custom := map[ebiten.Key]byte{ebiten.KeyW: ButtonUp}
	c.SetKeymap(custom)
	if len(c.keymap) != 1 {
		t.Fatalf("keymap not replaced: %v", c.keymap)
	}
	if _, ok := c.keymap[ebiten.KeyW]; !ok {
		t.Fatalf("custom key missing from keymap")
	}
}
