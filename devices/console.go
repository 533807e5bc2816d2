// console.go - bus 1: terminal I/O device, modelled on terminal_host.go's
// raw-mode stdin reader and video_backend_ebiten.go's clipboard paste.

package devices

import (
	"fmt"
	"os"
	"sync"
	"syscall"
	"time"

	"golang.design/x/clipboard"
	"golang.org/x/term"

	"github.com/pocketvm/pocketvm/vm"
)

// Console ports (bus 1, spec SPEC_FULL.md §4.10).
const (
	ConsoleData     byte = 0x0
	ConsoleMode     byte = 0x1
	ConsoleVectorLo byte = 0x2
)

const (
	ModeLine byte = 0
	ModeRaw  byte = 1
)

// Console implements the device-callback contract for bus 1: an input
// queue drained one byte at a time by BSI, and BSO writes echoed to
// stdout. The raw-stdin reader runs only after Start is called; without
// it, input arrives through Feed alone.
type Console struct {
	mu    sync.Mutex
	input []byte
	mode  byte

	fd           int
	oldTermState *term.State
	nonblockSet  bool
	stopCh       chan struct{}
	done         chan struct{}
	stopped      sync.Once

	onInput func()
}

// NewConsole returns a Console with an empty input queue in line mode.
func NewConsole() *Console {
	return &Console{
		stopCh: make(chan struct{}),
		done:   make(chan struct{}),
	}
}

// Handle is the vm.DeviceFunc bound to bus 1.
func (c *Console) Handle(bus *vm.Bus, port byte, dir vm.Direction) {
	switch port {
	case ConsoleData:
		if dir == vm.DirRead {
			bus.Buffer()[port] = c.nextByte()
		} else {
			fmt.Print(string(bus.Buffer()[port]))
		}
	case ConsoleMode:
		if dir == vm.DirRead {
			bus.Buffer()[port] = c.currentMode()
		} else {
			c.setMode(bus.Buffer()[port])
		}
	}
}

func (c *Console) nextByte() byte {
	c.mu.Lock()
	defer c.mu.Unlock()
	if len(c.input) == 0 {
		return 0
	}
	b := c.input[0]
	c.input = c.input[1:]
	return b
}

func (c *Console) currentMode() byte {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.mode
}

func (c *Console) setMode(m byte) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.mode = m
}

// Pending reports how many bytes are queued but not yet drained by BSI.
func (c *Console) Pending() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.input)
}

// Feed appends bytes to the input queue, from the stdin reader goroutine,
// a clipboard paste, or a test.
func (c *Console) Feed(b ...byte) {
	c.mu.Lock()
	c.input = append(c.input, b...)
	c.mu.Unlock()
	if c.onInput != nil {
		c.onInput()
	}
}

// OnInput registers a callback fired after Feed appends bytes, used by the
// host to request a console interrupt via Machine.SignalInterrupt.
func (c *Console) OnInput(f func()) {
	c.onInput = f
}

// rawPollInterval and linePollInterval bound how long the reader goroutine
// sleeps after a nonblocking read returns nothing, chosen by the port's
// own current mode: raw mode answers individual keystrokes quickly, line
// mode waits longer between polls. In both modes every chunk read is fed
// to the queue as soon as it arrives.
const (
	rawPollInterval  = 2 * time.Millisecond
	linePollInterval = 20 * time.Millisecond
)

// readChunkSize is the read(2) buffer size; multiple bytes arriving in one
// burst (e.g. a pasted or fast-typed line) are translated and queued with
// a single Feed call rather than one Feed per byte.
const readChunkSize = 64

// Start puts stdin into raw, non-blocking mode and begins reading chunks
// of bytes into the input queue. Call Stop to restore stdin.
func (c *Console) Start() {
	c.fd = int(os.Stdin.Fd())

	oldState, err := term.MakeRaw(c.fd)
	if err != nil {
		fmt.Fprintf(os.Stderr, "console: failed to set raw mode: %v\n", err)
		close(c.done)
		return
	}
	c.oldTermState = oldState

	if err := syscall.SetNonblock(c.fd, true); err != nil {
		fmt.Fprintf(os.Stderr, "console: failed to set nonblocking stdin: %v\n", err)
		_ = term.Restore(c.fd, c.oldTermState)
		c.oldTermState = nil
		close(c.done)
		return
	}
	c.nonblockSet = true

	go c.pollStdin()
}

// pollStdin drains stdin into the input queue until stopCh closes,
// translating each chunk and batching it into one Feed call.
func (c *Console) pollStdin() {
	defer close(c.done)
	chunk := make([]byte, readChunkSize)
	for {
		select {
		case <-c.stopCh:
			return
		default:
		}
		n, err := syscall.Read(c.fd, chunk)
		if n > 0 {
			c.Feed(translateChunk(chunk[:n])...)
		}
		switch {
		case err == syscall.EAGAIN || err == syscall.EWOULDBLOCK, n == 0:
			time.Sleep(c.pollInterval())
		case err != nil:
			return
		}
	}
}

// pollInterval reports how long pollStdin should sleep after an empty
// read, based on the port's current mode.
func (c *Console) pollInterval() time.Duration {
	if c.currentMode() == ModeRaw {
		return rawPollInterval
	}
	return linePollInterval
}

// translateChunk applies raw mode's CR->LF and DEL->BS substitutions
// across a whole read chunk at once.
func translateChunk(chunk []byte) []byte {
	out := make([]byte, len(chunk))
	for i, b := range chunk {
		switch b {
		case '\r':
			b = '\n'
		case 0x7F:
			b = 0x08
		}
		out[i] = b
	}
	return out
}

// Stop terminates the stdin reader and restores the terminal to its prior
// state.
func (c *Console) Stop() {
	c.stopped.Do(func() { close(c.stopCh) })
	<-c.done
	if c.nonblockSet {
		_ = syscall.SetNonblock(c.fd, false)
		c.nonblockSet = false
	}
	if c.oldTermState != nil {
		_ = term.Restore(c.fd, c.oldTermState)
		c.oldTermState = nil
	}
}

// PasteClipboard reads the system clipboard and feeds its bytes into the
// input queue as a single burst.
func (c *Console) PasteClipboard() {
	data := clipboard.Read(clipboard.FmtText)
	if len(data) == 0 {
		return
	}
	c.Feed(data...)
}
