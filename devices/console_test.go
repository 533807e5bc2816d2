package devices

import (
	"testing"

	"github.com/pocketvm/pocketvm/vm"
)

func TestConsoleDataDrainsInOrder(t *testing.T) {
	c := NewConsole()
	c.Feed('h', 'i')

	bus := vm.NewBus(1, c.Handle)
	if got := bus.Read(ConsoleData); got != 'h' {
		t.Fatalf("first byte = %q, want 'h'", got)
	}
	if got := bus.Read(ConsoleData); got != 'i' {
		t.Fatalf("second byte = %q, want 'i'", got)
	}
	if got := bus.Read(ConsoleData); got != 0 {
		t.Fatalf("read past queue end = %q, want 0", got)
	}
}

func TestConsoleModeRoundTrip(t *testing.T) {
	c := NewConsole()
	bus := vm.NewBus(1, c.Handle)

	bus.Write(ConsoleMode, ModeRaw)
	if got := bus.Read(ConsoleMode); got != ModeRaw {
		t.Fatalf("mode = %d, want ModeRaw", got)
	}
}

func TestConsoleOnInputFiresAfterFeed(t *testing.T) {
	c := NewConsole()
	fired := 0
	c.OnInput(func() { fired++ })

	c.Feed('a')
	c.Feed('b', 'c')

	requireEqualIntForDevices(t, "OnInput calls", fired, 2)
	requireEqualIntForDevices(t, "pending bytes", c.Pending(), 3)
}

func TestTranslateChunkAppliesCRAndDEL(t *testing.T) {
	got := translateChunk([]byte{'a', '\r', 0x7F, 'b'})
	want := []byte{'a', '\n', 0x08, 'b'}
	if len(got) != len(want) {
		t.Fatalf("translateChunk length = %d, want %d", len(got), len(want))
	}
	for i := range want {
		if got[i] != want[i] {
			t.Fatalf("byte %d = %02x, want %02x", i, got[i], want[i])
		}
	}
}

func TestPollIntervalFollowsMode(t *testing.T) {
	c := NewConsole()
	c.setMode(ModeRaw)
	if got := c.pollInterval(); got != rawPollInterval {
		t.Fatalf("raw mode poll interval = %v, want %v", got, rawPollInterval)
	}
	c.setMode(ModeLine)
	if got := c.pollInterval(); got != linePollInterval {
		t.Fatalf("line mode poll interval = %v, want %v", got, linePollInterval)
	}
}

func requireEqualIntForDevices(t *testing.T, name string, got, want int) {
	t.Helper()
	if got != want {
		t.Fatalf("%s = %d, want %d", name, got, want)
	}
}
