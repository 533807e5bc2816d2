// commands.go - command line parsing for the monitor console, modelled on
// debug_commands.go's ParseCommand/ParseAddress.

package monitor

import (
	"strconv"
	"strings"
)

// Command is a parsed monitor input line: a command name plus its
// whitespace-separated arguments.
type Command struct {
	Name string
	Args []string
}

// ParseCommand splits a raw input line into a command name and arguments.
// The name is lower-cased; blank input yields a zero-value Command.
func ParseCommand(input string) Command {
	input = strings.TrimSpace(input)
	if input == "" {
		return Command{}
	}
	parts := strings.Fields(input)
	return Command{Name: strings.ToLower(parts[0]), Args: parts[1:]}
}

// ParseAddress parses a monitor address in $hex, 0xhex, bare hex, or
// #decimal form.
func ParseAddress(s string) (uint16, bool) {
	s = strings.TrimSpace(s)
	if s == "" {
		return 0, false
	}
	switch {
	case strings.HasPrefix(s, "#"):
		v, err := strconv.ParseUint(s[1:], 10, 16)
		return uint16(v), err == nil
	case strings.HasPrefix(s, "$"):
		v, err := strconv.ParseUint(s[1:], 16, 16)
		return uint16(v), err == nil
	case strings.HasPrefix(s, "0x"), strings.HasPrefix(s, "0X"):
		v, err := strconv.ParseUint(s[2:], 16, 16)
		return uint16(v), err == nil
	default:
		v, err := strconv.ParseUint(s, 16, 16)
		return uint16(v), err == nil
	}
}

// Dispatch runs one parsed Command against mon, appending its result to
// the scrollback. Unknown commands report themselves rather than erroring,
// matching the monitor's own tolerant style.
func (mon *MachineMonitor) Dispatch(cmd Command) {
	switch cmd.Name {
	case "":
		return
	case "step", "s":
		n := 1
		if len(cmd.Args) > 0 {
			if v, err := strconv.Atoi(cmd.Args[0]); err == nil {
				n = v
			}
		}
		for i := 0; i < n; i++ {
			if err := mon.Step(); err != nil {
				mon.mu.Lock()
				mon.appendOutput("step stopped: %v", err)
				mon.mu.Unlock()
				return
			}
		}
	case "run", "g":
		n := 1 << 20
		if len(cmd.Args) > 0 {
			if v, err := strconv.Atoi(cmd.Args[0]); err == nil {
				n = v
			}
		}
		mon.Run(n)
	case "break", "b":
		if len(cmd.Args) == 0 {
			bps := mon.Breakpoints()
			mon.mu.Lock()
			for _, a := range bps {
				mon.appendOutput("  %04x", a)
			}
			mon.mu.Unlock()
			return
		}
		addr, ok := ParseAddress(cmd.Args[0])
		if !ok {
			mon.mu.Lock()
			mon.appendOutput("bad address: %s", cmd.Args[0])
			mon.mu.Unlock()
			return
		}
		mon.SetBreakpoint(addr)
	case "breakif", "bi":
		if len(cmd.Args) < 2 {
			mon.mu.Lock()
			mon.appendOutput("usage: breakif <addr> <lua condition>")
			mon.mu.Unlock()
			return
		}
		addr, ok := ParseAddress(cmd.Args[0])
		if !ok {
			mon.mu.Lock()
			mon.appendOutput("bad address: %s", cmd.Args[0])
			mon.mu.Unlock()
			return
		}
		mon.SetConditionalBreakpoint(addr, strings.Join(cmd.Args[1:], " "))
	case "clear", "cb":
		if len(cmd.Args) == 0 {
			return
		}
		addr, ok := ParseAddress(cmd.Args[0])
		if !ok {
			mon.mu.Lock()
			mon.appendOutput("bad address: %s", cmd.Args[0])
			mon.mu.Unlock()
			return
		}
		mon.ClearBreakpoint(addr)
	case "watch", "ww":
		if len(cmd.Args) == 0 {
			watches := mon.Watches()
			mon.mu.Lock()
			for _, a := range watches {
				mon.appendOutput("  %04x", a)
			}
			mon.mu.Unlock()
			return
		}
		addr, ok := ParseAddress(cmd.Args[0])
		if !ok {
			mon.mu.Lock()
			mon.appendOutput("bad address: %s", cmd.Args[0])
			mon.mu.Unlock()
			return
		}
		mon.SetWatch(addr)
	case "unwatch", "wc":
		if len(cmd.Args) == 0 {
			return
		}
		addr, ok := ParseAddress(cmd.Args[0])
		if !ok {
			mon.mu.Lock()
			mon.appendOutput("bad address: %s", cmd.Args[0])
			mon.mu.Unlock()
			return
		}
		mon.ClearWatch(addr)
	case "reg", "r":
		mon.ShowRegisters()
	case "lua":
		out, err := mon.Eval(strings.Join(cmd.Args, " "))
		mon.mu.Lock()
		if err != nil {
			mon.appendOutput("lua error: %v", err)
		} else if out != "" {
			mon.appendOutput("%s", out)
		}
		mon.mu.Unlock()
	default:
		mon.mu.Lock()
		mon.appendOutput("unknown command: %s", cmd.Name)
		mon.mu.Unlock()
	}
}

// Exec parses and dispatches a raw input line in one call.
func (mon *MachineMonitor) Exec(line string) {
	mon.Dispatch(ParseCommand(line))
}
