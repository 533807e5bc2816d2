// main.go - host entry point: wires a vm.Machine to the devices package and
// runs it at a fixed clock rate, modelled on the top-level main.go's
// peripheral-construction-then-bus-registration sequence.

package main

import (
	"flag"
	"fmt"
	"os"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/pocketvm/pocketvm/devices"
	"github.com/pocketvm/pocketvm/monitor"
	"github.com/pocketvm/pocketvm/vm"
)

// Bus assignments fixed by SPEC_FULL.md §4.10.
const (
	busConsole    = 0x1
	busDisplay    = 0x2
	busAudio      = 0x3
	busController = 0x4
	busMouse      = 0x6
	busFile       = 0xA
)

// romLoadAddr is where -rom is copied into memory and where the CPU
// starts fetching. It must be nonzero: PC==0 is the machine's halt
// signal (vm/cpu.go's PcBreak convention), so a ROM loaded at 0 with PC
// left at its zero value would halt on the very first tick.
const romLoadAddr = 0x0100

func main() {
	rom := flag.String("rom", "", "path to the ROM image to load at address 0x0100")
	hz := flag.Int("hz", 1_000_000, "CPU clock rate in ticks per second")
	headless := flag.Bool("headless", false, "run without a display, audio, or input devices")
	fileDir := flag.String("filedir", ".", "base directory the file device is confined to")
	flag.Parse()

	if *rom == "" {
		fmt.Fprintln(os.Stderr, "usage: pocketvm -rom <path> [-hz N] [-headless] [-filedir DIR]")
		os.Exit(1)
	}

	image, err := os.ReadFile(*rom)
	if err != nil {
		fmt.Fprintf(os.Stderr, "pocketvm: reading ROM: %v\n", err)
		os.Exit(1)
	}

	m := vm.NewMachine()
	if err := m.LoadROM(romLoadAddr, image); err != nil {
		fmt.Fprintf(os.Stderr, "pocketvm: loading ROM: %v\n", err)
		os.Exit(1)
	}
	m.CPU.PC = romLoadAddr

	mon := monitor.New(m)

	console := devices.NewConsole()
	m.RegisterBus(busConsole, mon.TraceBus(busConsole, console.Handle))
	fileDev := devices.NewFileDevice(&m.Mem, *fileDir)
	m.RegisterBus(busFile, fileDev.Handle)

	var group errgroup.Group

	console.Start()
	defer console.Stop()

	if !*headless {
		audio := devices.NewAudio()
		m.RegisterBus(busAudio, audio.Handle)
		if err := audio.Start(); err != nil {
			fmt.Fprintf(os.Stderr, "pocketvm: audio: %v\n", err)
		} else {
			defer audio.Stop()
		}

		display := devices.NewDisplay()
		m.RegisterBus(busDisplay, display.Handle)

		controller := devices.NewController()
		m.RegisterBus(busController, controller.Handle)
		display.OnFrame(controller.Poll)

		mouse := devices.NewMouse()
		m.RegisterBus(busMouse, mouse.Handle)
		display.OnFrame(mouse.Poll)

		stop := make(chan struct{})
		group.Go(func() error {
			return runClock(m, *hz, console, stop)
		})

		if err := display.Run("pocketvm"); err != nil {
			fmt.Fprintf(os.Stderr, "pocketvm: display: %v\n", err)
		}
		close(stop)
	} else {
		if err := runClock(m, *hz, console, nil); err != nil {
			fmt.Fprintf(os.Stderr, "pocketvm: %v\n", err)
			os.Exit(1)
		}
	}

	if err := group.Wait(); err != nil {
		fmt.Fprintf(os.Stderr, "pocketvm: %v\n", err)
		os.Exit(1)
	}
}

// runClock drives the CPU at the requested rate until stop is closed (or
// forever, in headless mode, where stop is nil); console input is fed to
// the machine's interrupt line as it arrives so a blocked read doesn't
// stall the clock.
func runClock(m *vm.Machine, hz int, console *devices.Console, stop <-chan struct{}) error {
	period := time.Second / time.Duration(hz)
	ticker := time.NewTicker(period)
	defer ticker.Stop()

	console.OnInput(func() {
		m.SignalInterrupt(busConsole)
	})

	for {
		select {
		case <-stop:
			return nil
		case <-ticker.C:
			if err := m.Step(); err != nil && err != vm.ErrPcBreak {
				fmt.Fprintf(os.Stderr, "pocketvm: tick error at PC=%04x: %v\n", m.CPU.PC, err)
			}
		}
	}
}
