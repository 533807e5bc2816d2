//go:build !headless

// display.go - bus 2: 640x480 palette-indexed framebuffer, modelled on
// video_backend_ebiten.go's EbitenOutput (an ebiten.Game implementation
// driving its own window and event loop).

package devices

import (
	"fmt"
	"image"
	"image/color"
	"image/png"
	"io"
	"sync"

	"github.com/hajimehoshi/ebiten/v2"
	"golang.org/x/image/draw"

	"github.com/pocketvm/pocketvm/vm"
)

// DisplayWidth and DisplayHeight are fixed by the system's geometry.
const (
	DisplayWidth  = 640
	DisplayHeight = 480
)

// Display ports (bus 2).
const (
	DisplayHeadHi byte = 0x0
	DisplayHeadLo byte = 0x1
	DisplayPixel  byte = 0x2
	DisplayCtrl   byte = 0x3
)

const ctrlVSyncRequest = 0x01

// grayscalePalette is the default 256-entry palette; index i maps to the
// gray level i, giving every program a usable palette with no extra setup.
var grayscalePalette = func() [256]color.RGBA {
	var p [256]color.RGBA
	for i := range p {
		p[i] = color.RGBA{R: byte(i), G: byte(i), B: byte(i), A: 0xFF}
	}
	return p
}()

// Display implements the device-callback contract for bus 2 and the
// ebiten.Game interface. A write head address (ports 0/1) advances by one
// on every pixel write (port 2); the framebuffer is palette-indexed, one
// byte per pixel.
type Display struct {
	mu        sync.RWMutex
	pixels    [DisplayWidth * DisplayHeight]byte
	head      uint16
	palette   [256]color.RGBA
	vsyncChan chan struct{}
	frame     *ebiten.Image
	frames    uint64

	pollHooks []func()
}

// NewDisplay returns a Display with the default grayscale palette and an
// all-zero framebuffer.
func NewDisplay() *Display {
	return &Display{
		palette:   grayscalePalette,
		vsyncChan: make(chan struct{}, 1),
	}
}

// SetPalette replaces the 256-entry palette used to map pixel bytes to
// RGBA when composing a frame.
func (d *Display) SetPalette(p [256]color.RGBA) {
	d.mu.Lock()
	d.palette = p
	d.mu.Unlock()
}

// OnFrame registers a hook invoked once per Update tick, used to poll
// ebiten input state for the controller and mouse devices (ebiten only
// drives a single Game loop, so they piggyback on this one).
func (d *Display) OnFrame(f func()) {
	d.pollHooks = append(d.pollHooks, f)
}

// Handle is the vm.DeviceFunc bound to bus 2.
func (d *Display) Handle(bus *vm.Bus, port byte, dir vm.Direction) {
	if dir != vm.DirWrite {
		return
	}
	switch port {
	case DisplayHeadHi, DisplayHeadLo:
		d.mu.Lock()
		d.head = bus.Read16(DisplayHeadHi)
		d.mu.Unlock()
	case DisplayPixel:
		v := bus.Buffer()[port]
		d.mu.Lock()
		if int(d.head) < len(d.pixels) {
			d.pixels[d.head] = v
		}
		d.head++
		d.mu.Unlock()
	case DisplayCtrl:
		if bus.Buffer()[port]&ctrlVSyncRequest != 0 {
			select {
			case <-d.vsyncChan:
			default:
			}
		}
	}
}

// Update implements ebiten.Game: runs registered poll hooks and handles the
// window-close request.
func (d *Display) Update() error {
	if ebiten.IsWindowBeingClosed() {
		return ebiten.Termination
	}
	for _, h := range d.pollHooks {
		h()
	}
	return nil
}

// Draw implements ebiten.Game: blits the palette-indexed framebuffer into
// the ebiten screen image.
func (d *Display) Draw(screen *ebiten.Image) {
	if d.frame == nil {
		d.frame = ebiten.NewImage(DisplayWidth, DisplayHeight)
	}
	rgba := make([]byte, DisplayWidth*DisplayHeight*4)
	d.mu.RLock()
	for i, idx := range d.pixels {
		c := d.palette[idx]
		rgba[i*4] = c.R
		rgba[i*4+1] = c.G
		rgba[i*4+2] = c.B
		rgba[i*4+3] = c.A
	}
	d.mu.RUnlock()
	d.frame.WritePixels(rgba)
	screen.DrawImage(d.frame, nil)

	d.frames++
	select {
	case d.vsyncChan <- struct{}{}:
	default:
	}
}

// Layout implements ebiten.Game: the window always presents the fixed
//640x480 logical screen, regardless of host window size.
func (d *Display) Layout(outsideWidth, outsideHeight int) (int, int) {
	return DisplayWidth, DisplayHeight
}

// Run starts the ebiten window and event loop; it blocks until the window
// is closed, so callers drive the CPU clock from a separate goroutine.
func (d *Display) Run(title string) error {
	ebiten.SetWindowSize(DisplayWidth, DisplayHeight)
	ebiten.SetWindowTitle(title)
	ebiten.SetWindowResizable(true)
	if err := ebiten.RunGame(d); err != nil {
		return fmt.Errorf("display: %w", err)
	}
	return nil
}

// Snapshot encodes the current framebuffer as a PNG, scaled to width x
// height using golang.org/x/image/draw (width/height <= 0 means no
// scaling).
func (d *Display) Snapshot(w io.Writer, width, height int) error {
	d.mu.RLock()
	img := image.NewRGBA(image.Rect(0, 0, DisplayWidth, DisplayHeight))
	for i, idx := range d.pixels {
		img.Set(i%DisplayWidth, i/DisplayWidth, d.palette[idx])
	}
	d.mu.RUnlock()

	if width <= 0 || height <= 0 {
		return png.Encode(w, img)
	}
	scaled := image.NewRGBA(image.Rect(0, 0, width, height))
	draw.BiLinear.Scale(scaled, scaled.Bounds(), img, img.Bounds(), draw.Over, nil)
	return png.Encode(w, scaled)
}
