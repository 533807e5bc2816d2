// monitor.go - debugger state machine attached to a Machine from the
// outside, modelled on debug_monitor.go's MachineMonitor (activate/
// deactivate, breakpoints, scrollback, register/disassembly dump).

package monitor

import (
	"fmt"
	"sort"
	"sync"

	"github.com/pocketvm/pocketvm/vm"
)

// OutputLine holds one line of monitor scrollback.
type OutputLine struct {
	Text string
}

// State is whether the monitor is currently shown.
type State int

const (
	Inactive State = iota
	Active
)

// MachineMonitor is a debugger attached to a *vm.Machine from the
// outside: it never runs inside the CPU's own Step, only around it.
type MachineMonitor struct {
	mu    sync.Mutex
	state State

	m *vm.Machine

	breakpoints map[uint16]bool
	condBreaks  map[uint16]string // address -> Lua condition, evaluated via script
	watches     map[uint16]byte   // address -> last observed value

	output    []OutputLine
	maxOutput int

	wasHalted bool

	script *Console
}

// New returns a MachineMonitor attached to m, inactive until Activate is
// called.
func New(m *vm.Machine) *MachineMonitor {
	mon := &MachineMonitor{
		m:           m,
		breakpoints: make(map[uint16]bool),
		condBreaks:  make(map[uint16]string),
		watches:     make(map[uint16]byte),
		maxOutput:   500,
	}
	mon.script = newConsole(mon)
	return mon
}

// IsActive reports whether the monitor is currently shown.
func (mon *MachineMonitor) IsActive() bool {
	mon.mu.Lock()
	defer mon.mu.Unlock()
	return mon.state == Active
}

// Activate enters the monitor and prints the initial register dump.
func (mon *MachineMonitor) Activate() {
	mon.mu.Lock()
	defer mon.mu.Unlock()
	if mon.state == Active {
		return
	}
	mon.state = Active
	mon.appendOutput("MACHINE MONITOR - commands: step run break breakif clear watch unwatch reg lua")
	mon.showRegistersLocked()
}

// Deactivate exits the monitor; the CPU's own clock (driven by the host)
// resumes ticking normally.
func (mon *MachineMonitor) Deactivate() {
	mon.mu.Lock()
	defer mon.mu.Unlock()
	mon.state = Inactive
}

func (mon *MachineMonitor) appendOutput(format string, args ...any) {
	line := OutputLine{Text: fmt.Sprintf(format, args...)}
	mon.output = append(mon.output, line)
	if len(mon.output) > mon.maxOutput {
		mon.output = mon.output[len(mon.output)-mon.maxOutput:]
	}
}

// Output returns a copy of the scrollback buffer.
func (mon *MachineMonitor) Output() []OutputLine {
	mon.mu.Lock()
	defer mon.mu.Unlock()
	out := make([]OutputLine, len(mon.output))
	copy(out, mon.output)
	return out
}

func (mon *MachineMonitor) showRegistersLocked() {
	mon.appendOutput("PC=%04x  param.count=%d  return.count=%d",
		mon.m.CPU.PC, mon.m.CPU.Param.Count(), mon.m.CPU.Return.Count())
}

// ShowRegisters appends a register dump to the scrollback.
func (mon *MachineMonitor) ShowRegisters() {
	mon.mu.Lock()
	defer mon.mu.Unlock()
	mon.showRegistersLocked()
}

// SetBreakpoint arms a breakpoint at addr.
func (mon *MachineMonitor) SetBreakpoint(addr uint16) {
	mon.mu.Lock()
	defer mon.mu.Unlock()
	mon.breakpoints[addr] = true
	mon.appendOutput("breakpoint set at %04x", addr)
}

// SetConditionalBreakpoint arms a breakpoint at addr that only fires when
// cond, a Lua boolean expression evaluated through the scripting console,
// is true at the time PC reaches addr.
func (mon *MachineMonitor) SetConditionalBreakpoint(addr uint16, cond string) {
	mon.mu.Lock()
	defer mon.mu.Unlock()
	mon.breakpoints[addr] = true
	mon.condBreaks[addr] = cond
	mon.appendOutput("conditional breakpoint set at %04x: %s", addr, cond)
}

// ClearBreakpoint disarms a breakpoint at addr.
func (mon *MachineMonitor) ClearBreakpoint(addr uint16) {
	mon.mu.Lock()
	defer mon.mu.Unlock()
	delete(mon.breakpoints, addr)
	delete(mon.condBreaks, addr)
}

// Breakpoints returns the sorted list of currently armed addresses.
func (mon *MachineMonitor) Breakpoints() []uint16 {
	mon.mu.Lock()
	defer mon.mu.Unlock()
	addrs := make([]uint16, 0, len(mon.breakpoints))
	for a := range mon.breakpoints {
		addrs = append(addrs, a)
	}
	sort.Slice(addrs, func(i, j int) bool { return addrs[i] < addrs[j] })
	return addrs
}

// hasBreakpointLocked reports whether addr is armed and, for a conditional
// breakpoint, whether its Lua condition currently holds. Callers already
// hold mon.mu.
func (mon *MachineMonitor) hasBreakpointLocked(addr uint16) bool {
	if !mon.breakpoints[addr] {
		return false
	}
	if cond, ok := mon.condBreaks[addr]; ok {
		return mon.script.EvalCondition(cond)
	}
	return true
}

// SetWatch arms a write watchpoint at addr, baselined against its current
// value so the first changed-value report is against real memory, not 0.
func (mon *MachineMonitor) SetWatch(addr uint16) {
	mon.mu.Lock()
	defer mon.mu.Unlock()
	mon.watches[addr] = mon.m.Mem.Read(addr)
	mon.appendOutput("watchpoint set at %04x", addr)
}

// ClearWatch disarms the watchpoint at addr.
func (mon *MachineMonitor) ClearWatch(addr uint16) {
	mon.mu.Lock()
	defer mon.mu.Unlock()
	delete(mon.watches, addr)
}

// Watches returns the sorted list of currently armed watchpoint addresses.
func (mon *MachineMonitor) Watches() []uint16 {
	mon.mu.Lock()
	defer mon.mu.Unlock()
	addrs := make([]uint16, 0, len(mon.watches))
	for a := range mon.watches {
		addrs = append(addrs, a)
	}
	sort.Slice(addrs, func(i, j int) bool { return addrs[i] < addrs[j] })
	return addrs
}

// checkWatchesLocked compares every armed watchpoint against the machine's
// current memory and reports any address whose value changed since the
// last check, updating the stored baseline. Callers already hold mon.mu.
func (mon *MachineMonitor) checkWatchesLocked() {
	for addr, old := range mon.watches {
		cur := mon.m.Mem.Read(addr)
		if cur != old {
			mon.appendOutput("watch %04x: %02x -> %02x at PC=%04x", addr, old, cur, mon.m.CPU.PC)
			mon.watches[addr] = cur
		}
	}
}

// disasmNextLocked names the opcode at the current PC for the step trace,
// falling back to "???" for a reserved opcode slot rather than erroring;
// there is nothing at PC to disassemble once the machine has halted.
func (mon *MachineMonitor) disasmNextLocked() string {
	if mon.m.CPU.PC == 0 {
		return "-"
	}
	name, err := vm.OpcodeName(mon.m.Mem.Read(mon.m.CPU.PC))
	if err != nil {
		return "???"
	}
	return name
}

// Step executes exactly one CPU tick and appends a trace line; breakpoints
// are not consulted (Run checks them). A tick that halts on ErrPcBreak
// marks the monitor halted so a subsequent Run stops immediately rather
// than re-executing past BRK.
func (mon *MachineMonitor) Step() error {
	err := mon.m.Step()
	mon.mu.Lock()
	mon.appendOutput("step -> PC=%04x next=%s", mon.m.CPU.PC, mon.disasmNextLocked())
	mon.checkWatchesLocked()
	if err == vm.ErrPcBreak {
		mon.wasHalted = true
		mon.appendOutput("halted at %04x", mon.m.CPU.PC)
	}
	mon.mu.Unlock()
	return err
}

// Run steps the machine until an armed breakpoint is hit, the machine
// halts, or n ticks have elapsed, whichever comes first, returning the
// number of ticks actually run.
func (mon *MachineMonitor) Run(n int) int {
	mon.mu.Lock()
	halted := mon.wasHalted
	mon.mu.Unlock()
	if halted {
		return 0
	}
	for i := 0; i < n; i++ {
		err := mon.m.Step()
		mon.mu.Lock()
		mon.checkWatchesLocked()
		if err == vm.ErrPcBreak {
			mon.wasHalted = true
			mon.appendOutput("halted at %04x", mon.m.CPU.PC)
			mon.mu.Unlock()
			return i + 1
		}
		hit := mon.hasBreakpointLocked(mon.m.CPU.PC)
		if hit {
			mon.appendOutput("breakpoint hit at %04x", mon.m.CPU.PC)
		}
		mon.mu.Unlock()
		if hit {
			return i + 1
		}
	}
	return n
}

// Eval runs a line of the embedded scripting language against this
// monitor (see script.go).
func (mon *MachineMonitor) Eval(src string) (string, error) {
	return mon.script.Eval(src)
}
