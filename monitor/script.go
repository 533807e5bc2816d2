// script.go - embedded scripting console for the monitor, backed by
// gopher-lua. The teacher's go.mod already lists github.com/yuin/gopher-lua
// among its dependencies but no file in that tree actually calls it; here it
// gets a home: scriptable breakpoint conditions and a peek/poke console
// reachable from the "lua" monitor command.

package monitor

import (
	"fmt"
	"strings"

	lua "github.com/yuin/gopher-lua"

	"github.com/pocketvm/pocketvm/vm"
)

// Console wraps a lua.LState bound to one MachineMonitor, exposing the
// machine's memory and PC as Lua globals/functions so breakpoint
// conditions and ad hoc peeks can be written as Lua expressions.
type Console struct {
	mon *MachineMonitor
	ls  *lua.LState
}

func newConsole(mon *MachineMonitor) *Console {
	ls := lua.NewState(lua.Options{SkipOpenLibs: false})
	c := &Console{mon: mon, ls: ls}
	c.registerBuiltins()
	return c
}

// registerBuiltins installs peek/peek16/poke/pc helper functions into the Lua
// global table, each closing over the bound MachineMonitor.
func (c *Console) registerBuiltins() {
	c.ls.SetGlobal("peek", c.ls.NewFunction(c.luaPeek))
	c.ls.SetGlobal("peek16", c.ls.NewFunction(c.luaPeek16))
	c.ls.SetGlobal("poke", c.ls.NewFunction(c.luaPoke))
	c.ls.SetGlobal("pc", c.ls.NewFunction(c.luaPC))
}

func (c *Console) luaPeek(ls *lua.LState) int {
	addr := uint16(ls.CheckInt(1))
	ls.Push(lua.LNumber(c.mon.m.Mem.Read(addr)))
	return 1
}

func (c *Console) luaPeek16(ls *lua.LState) int {
	addr := uint16(ls.CheckInt(1))
	ls.Push(lua.LNumber(c.mon.m.Mem.Read16(addr)))
	return 1
}

func (c *Console) luaPoke(ls *lua.LState) int {
	addr := uint16(ls.CheckInt(1))
	val := byte(ls.CheckInt(2))
	c.mon.m.Mem.Write(addr, val)
	return 0
}

func (c *Console) luaPC(ls *lua.LState) int {
	ls.Push(lua.LNumber(c.mon.m.CPU.PC))
	return 1
}

// Eval runs src as a Lua chunk. If the chunk's last statement is an
// expression, its result (if any) is rendered back as a string; otherwise
// Eval returns the empty string.
func (c *Console) Eval(src string) (string, error) {
	src = strings.TrimSpace(src)
	if src == "" {
		return "", nil
	}
	top := c.ls.GetTop()
	fn, err := c.ls.LoadString(wrapAsReturn(src))
	if err != nil {
		// not an expression: run src unmodified as a statement
		if fn, err = c.ls.LoadString(src); err != nil {
			return "", fmt.Errorf("monitor: lua eval failed: %w", err)
		}
	}
	c.ls.Push(fn)
	if err := c.ls.PCall(0, lua.MultRet, nil); err != nil {
		return "", fmt.Errorf("monitor: lua eval failed: %w", err)
	}
	if c.ls.GetTop() <= top {
		return "", nil
	}
	ret := c.ls.Get(-1)
	c.ls.Pop(1)
	if ret == lua.LNil {
		return "", nil
	}
	return ret.String(), nil
}

// wrapAsReturn turns a bare expression into a returning chunk so simple
// one-liners like "peek(0x100)" produce a visible result; Eval falls back
// to running src unmodified (as a statement) if that fails to parse.
func wrapAsReturn(src string) string {
	if strings.HasPrefix(strings.TrimSpace(src), "return ") {
		return src
	}
	return "return " + src
}

// EvalCondition evaluates src as a boolean Lua breakpoint condition; a
// parse or runtime error is treated as false so a bad condition never
// wedges the CPU loop.
func (c *Console) EvalCondition(src string) bool {
	out, err := c.Eval(src)
	if err != nil {
		return false
	}
	return out == "true"
}

// Close releases the Lua state.
func (c *Console) Close() {
	c.ls.Close()
}

// TraceBus wraps device, a bus callback, so every bsi/bso it services is
// appended to the monitor's scrollback before the real callback runs.
// Attach with m.RegisterBus(id, mon.TraceBus(id, device)) in place of a
// direct registration to watch a single bus's traffic.
func (mon *MachineMonitor) TraceBus(id byte, device vm.DeviceFunc) vm.DeviceFunc {
	return func(bus *vm.Bus, port byte, dir vm.Direction) {
		verb := "bsi"
		if dir == vm.DirWrite {
			verb = "bso"
		}
		mon.mu.Lock()
		mon.appendOutput("%s bus=%d port=%02x PC=%04x", verb, id, port, mon.m.CPU.PC)
		mon.mu.Unlock()
		device(bus, port, dir)
	}
}
