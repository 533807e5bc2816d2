// cpu.go - fetch/decode/execute engine: twin stacks, modifier flags, opcode dispatch

package vm

import (
	"fmt"
	"sync"
)

// Modifier flag bits and the opcode field, packed into the high bits of
// every instruction byte (spec §4.4).
const (
	flagSwap  = 0x80
	flagCopy  = 0x40
	flagShort = 0x20
	opMask    = 0x1F
)

// The 30 defined opcodes, in the 5-bit index order fixed by spec §4.4.
// Indices 30 and 31 are reserved and decode as a no-op (spec §7).
const (
	OpBRK byte = iota
	OpNOP
	OpLIT
	OpPOP
	OpDUP
	OpOVR
	OpROT
	OpSWP
	OpSTS
	OpADD
	OpSUB
	OpMUL
	OpDIV
	OpAND
	OpIOR
	OpXOR
	OpSHI
	OpEQU
	OpNEQ
	OpGRT
	OpLST
	OpJMP
	OpJNZ
	OpJSR
	OpLDA
	OpSTA
	OpLDR
	OpSTR
	OpBSI
	OpBSO
)

// opcodeNames is used by the debug dump and by monitor-style disassembly.
var opcodeNames = [32]string{
	"BRK", "NOP", "LIT", "POP", "DUP", "OVR", "ROT", "SWP",
	"STS", "ADD", "SUB", "MUL", "DIV", "AND", "IOR", "XOR",
	"SHI", "EQU", "NEQ", "GRT", "LST", "JMP", "JNZ", "JSR",
	"LDA", "STA", "LDR", "STR", "BSI", "BSO", "???", "???",
}

// OpcodeName returns the mnemonic for the 5-bit opcode field op (already
// masked with opMask, or any byte, since this masks it again), or
// ErrUnknownOpcode for the two reserved slots. Step itself never fails an
// instruction this way (spec §7 treats a reserved opcode as a no-op); this
// is for callers doing disassembly, such as the monitor.
func OpcodeName(op byte) (string, error) {
	name := opcodeNames[op&opMask]
	if name == "???" {
		return "", ErrUnknownOpcode
	}
	return name, nil
}

// CPU is the fetch-decode-execute engine: a program counter, a parameter
// stack, a return stack, and the interrupt controller's pending-bus state.
// It holds no reference to Memory or the bus table; those are borrowed
// handles passed into Step for the duration of one instruction, so the CPU
// has no cyclic ownership back to its Machine (design notes §9).
type CPU struct {
	PC     uint16
	Param  Stack
	Return Stack

	mu           sync.Mutex
	interruptDue bool
	interruptBus byte
}

// NewCPU returns a CPU ready to execute from address 0 (i.e. halted, per
// the PcBreak convention); callers set PC after loading a ROM.
func NewCPU() *CPU {
	return &CPU{}
}

// Reset zeroes PC and empties both stacks (spec §3).
func (c *CPU) Reset() {
	c.mu.Lock()
	c.interruptDue = false
	c.interruptBus = 0
	c.mu.Unlock()
	c.PC = 0
	c.Param.Reset()
	c.Return.Reset()
}

// SignalInterrupt is called by a device thread to request interrupt
// delivery on behalf of bus. It is only honoured when the master-enable
// cell is currently 1; in that case it atomically clears the cell and
// records the pending bus id, and returns true. Otherwise it is a no-op
// and returns false (spec §5).
//
// The same mutex also guards the CPU-side read of the pending flag at the
// top of Step, which is the only place the two threads could otherwise
// race on a torn read.
func (c *CPU) SignalInterrupt(mem *Memory, bus byte) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	if mem.Read(IntEnableAddr) != 1 {
		return false
	}
	mem.Write(IntEnableAddr, 0)
	c.interruptDue = true
	c.interruptBus = bus & 0x0F
	return true
}

// serviceInterrupt performs spec §4.5 step 1: if an interrupt is pending
// and the master-enable cell currently reads 0, push PC, read the vector
// from the interrupting bus's port 0, and transfer control. It reports
// whether an interrupt was serviced.
func (c *CPU) serviceInterrupt(mem *Memory, buses *[16]*Bus) (bool, error) {
	c.mu.Lock()
	due := c.interruptDue
	bus := c.interruptBus
	service := false
	if due && mem.Read(IntEnableAddr) == 0 {
		service = true
		c.interruptDue = false
	}
	c.mu.Unlock()

	if !service {
		return false, nil
	}
	if err := c.Return.Push16(c.PC); err != nil {
		return true, err
	}
	b := buses[bus]
	if b == nil {
		return true, ErrInvalidInterrupt
	}
	c.PC = b.Read16(0)
	return true, nil
}

// relAddr applies a signed 8-bit offset to base with two's-complement wrap
// modulo 65536 (spec §4.6).
func relAddr(base uint16, off byte) uint16 {
	return uint16(int32(base) + int32(int8(off)))
}

// Step performs one fetch-decode-execute cycle against the given memory
// and bus table, both borrowed for the call's duration. It returns
// ErrPcBreak when PC is 0 at fetch time (the normal termination signal),
// or a stack/interrupt error from the instruction it executed. A tick that
// services a pending interrupt ends once control has moved to the vector;
// the instruction there runs on the next tick.
func (c *CPU) Step(mem *Memory, buses *[16]*Bus) error {
	if serviced, err := c.serviceInterrupt(mem, buses); err != nil || serviced {
		return err
	}
	if c.PC == 0 {
		return ErrPcBreak
	}

	opcodeAddr := c.PC
	opByte := mem.Read(c.PC)
	c.PC++
	postPC := c.PC

	swap := opByte&flagSwap != 0
	copyMode := opByte&flagCopy != 0
	short := opByte&flagShort != 0
	op := opByte & opMask

	width := 8
	if short {
		width = 16
	}

	source, target := &c.Param, &c.Return
	if swap {
		source, target = &c.Return, &c.Param
	}
	if copyMode {
		source.ResetCopyCursor()
	}

	var err error
	switch op {
	case OpBRK:
		c.debugDump(mem)
		c.PC = 0

	case OpNOP:
		// no effect

	case OpLIT:
		if short {
			imm := mem.Read16(c.PC)
			c.PC += 2
			err = source.Push16(imm)
		} else {
			imm := mem.Read(c.PC)
			c.PC++
			err = source.Push8(imm)
		}

	case OpPOP:
		_, err = popW(source, width, copyMode)

	case OpDUP:
		var a uint32
		if a, err = popW(source, width, copyMode); err == nil {
			if err = pushW(source, width, a); err == nil {
				err = pushW(source, width, a)
			}
		}

	case OpOVR:
		var a, b uint32
		if a, err = popW(source, width, copyMode); err == nil {
			if b, err = popW(source, width, copyMode); err == nil {
				if err = pushW(source, width, b); err == nil {
					if err = pushW(source, width, a); err == nil {
						err = pushW(source, width, b)
					}
				}
			}
		}

	case OpROT:
		var a, b, cVal uint32
		if a, err = popW(source, width, copyMode); err == nil {
			if b, err = popW(source, width, copyMode); err == nil {
				if cVal, err = popW(source, width, copyMode); err == nil {
					if err = pushW(source, width, b); err == nil {
						if err = pushW(source, width, a); err == nil {
							err = pushW(source, width, cVal)
						}
					}
				}
			}
		}

	case OpSWP:
		var a, b uint32
		if a, err = popW(source, width, copyMode); err == nil {
			if b, err = popW(source, width, copyMode); err == nil {
				if err = pushW(source, width, a); err == nil {
					err = pushW(source, width, b)
				}
			}
		}

	case OpSTS:
		var a uint32
		if a, err = popW(source, width, copyMode); err == nil {
			err = pushW(target, width, a)
		}

	case OpADD, OpSUB, OpMUL, OpDIV:
		var a, b uint32
		if a, err = popW(source, width, copyMode); err == nil {
			if b, err = popW(source, width, copyMode); err == nil {
				var res uint32
				switch op {
				case OpADD:
					res = b + a
				case OpSUB:
					res = b - a
				case OpMUL:
					res = b * a
				case OpDIV:
					// Division by zero is undefined by the source spec;
					// this core defines it as 0 (see DESIGN.md).
					if a == 0 {
						res = 0
					} else {
						res = b / a
					}
				}
				err = pushW(source, width, res)
			}
		}

	case OpAND, OpIOR, OpXOR:
		var a, b uint32
		if a, err = popW(source, width, copyMode); err == nil {
			if b, err = popW(source, width, copyMode); err == nil {
				var res uint32
				switch op {
				case OpAND:
					res = b & a
				case OpIOR:
					res = b | a
				case OpXOR:
					res = b ^ a
				}
				err = pushW(source, width, res)
			}
		}

	case OpSHI:
		var shifts, value uint32
		if shifts, err = pop8Fixed(source, copyMode); err == nil {
			if value, err = popW(source, width, copyMode); err == nil {
				right := shifts & 0x0F
				left := (shifts >> 4) & 0x0F
				res := (value >> right) << left
				err = pushW(source, width, res)
			}
		}

	case OpEQU, OpNEQ, OpGRT, OpLST:
		var a, b uint32
		if a, err = popW(source, width, copyMode); err == nil {
			if b, err = popW(source, width, copyMode); err == nil {
				var res bool
				switch op {
				case OpEQU:
					res = b == a
				case OpNEQ:
					res = b != a
				case OpGRT:
					res = b > a
				case OpLST:
					res = b < a
				}
				v := byte(0)
				if res {
					v = 1
				}
				err = push8Fixed(source, uint32(v))
			}
		}

	case OpJMP:
		err = c.doJMP(source, width, copyMode, opcodeAddr)

	case OpJNZ:
		err = c.doJNZ(source, width, copyMode, opcodeAddr)

	case OpJSR:
		err = c.doJSR(source, target, width, copyMode, opcodeAddr, postPC)

	case OpLDA:
		var addr uint32
		if addr, err = popW(source, 16, copyMode); err == nil {
			var v uint32
			if short {
				v = uint32(mem.Read16(uint16(addr)))
			} else {
				v = uint32(mem.Read(uint16(addr)))
			}
			err = pushW(source, width, v)
		}

	case OpSTA:
		var addr, v uint32
		if addr, err = popW(source, 16, copyMode); err == nil {
			if v, err = popW(source, width, copyMode); err == nil {
				if short {
					mem.Write16(uint16(addr), uint16(v))
				} else {
					mem.Write(uint16(addr), byte(v))
				}
			}
		}

	case OpLDR:
		var off uint32
		if off, err = pop8Fixed(source, copyMode); err == nil {
			addr := relAddr(opcodeAddr, byte(off))
			var v uint32
			if short {
				v = uint32(mem.Read16(addr))
			} else {
				v = uint32(mem.Read(addr))
			}
			err = pushW(source, width, v)
		}

	case OpSTR:
		var off, v uint32
		if off, err = pop8Fixed(source, copyMode); err == nil {
			if v, err = popW(source, width, copyMode); err == nil {
				addr := relAddr(opcodeAddr, byte(off))
				if short {
					mem.Write16(addr, uint16(v))
				} else {
					mem.Write(addr, byte(v))
				}
			}
		}

	case OpBSI:
		var portByte uint32
		if portByte, err = pop8Fixed(source, copyMode); err == nil {
			busID := byte(portByte>>4) & 0x0F
			port := byte(portByte) & 0x0F
			if b := buses[busID]; b != nil {
				var v uint32
				if short {
					v = uint32(b.Read16(port))
				} else {
					v = uint32(b.Read(port))
				}
				err = pushW(source, width, v)
			}
		}

	case OpBSO:
		var portByte, v uint32
		if portByte, err = pop8Fixed(source, copyMode); err == nil {
			if v, err = popW(source, width, copyMode); err == nil {
				busID := byte(portByte>>4) & 0x0F
				port := byte(portByte) & 0x0F
				if b := buses[busID]; b != nil {
					if short {
						b.Write16(port, uint16(v))
					} else {
						b.Write(port, byte(v))
					}
				}
			}
		}

	default:
		// Reserved opcode slots (30, 31): treated as a no-op, PC already
		// advanced past the opcode byte.
	}

	return err
}

func (c *CPU) doJMP(source *Stack, width int, copyMode bool, opcodeAddr uint16) error {
	if width == 16 {
		addr, err := popW(source, 16, copyMode)
		if err != nil {
			return err
		}
		c.PC = uint16(addr)
		return nil
	}
	off, err := pop8Fixed(source, copyMode)
	if err != nil {
		return err
	}
	c.PC = relAddr(opcodeAddr, byte(off))
	return nil
}

func (c *CPU) doJNZ(source *Stack, width int, copyMode bool, opcodeAddr uint16) error {
	var target uint32
	var err error
	if width == 16 {
		target, err = popW(source, 16, copyMode)
	} else {
		target, err = pop8Fixed(source, copyMode)
	}
	if err != nil {
		return err
	}
	cond, err := pop8Fixed(source, copyMode)
	if err != nil {
		return err
	}
	if cond != 0 {
		if width == 16 {
			c.PC = uint16(target)
		} else {
			c.PC = relAddr(opcodeAddr, byte(target))
		}
	}
	return nil
}

func (c *CPU) doJSR(source, target *Stack, width int, copyMode bool, opcodeAddr, postPC uint16) error {
	var raw uint32
	var err error
	if width == 16 {
		raw, err = popW(source, 16, copyMode)
	} else {
		raw, err = pop8Fixed(source, copyMode)
	}
	if err != nil {
		return err
	}
	if err := target.Push16(postPC); err != nil {
		return err
	}
	if width == 16 {
		c.PC = uint16(raw)
	} else {
		c.PC = relAddr(opcodeAddr, byte(raw))
	}
	return nil
}

// popW pops one value of the given width (8 or 16) from s, using a
// non-destructive copy-cursor read when copyMode is set.
func popW(s *Stack, width int, copyMode bool) (uint32, error) {
	if copyMode {
		if width == 16 {
			v, err := s.Peek16()
			return uint32(v), err
		}
		v, err := s.Peek8()
		return uint32(v), err
	}
	if width == 16 {
		v, err := s.Pop16()
		return uint32(v), err
	}
	v, err := s.Pop8()
	return uint32(v), err
}

// pushW pushes v onto s at the given width, truncating to it.
func pushW(s *Stack, width int, v uint32) error {
	if width == 16 {
		return s.Push16(uint16(v))
	}
	return s.Push8(byte(v))
}

// pop8Fixed pops a value that is always 8 bits wide regardless of the
// short flag (shift-control bytes, jump offsets, port bytes).
func pop8Fixed(s *Stack, copyMode bool) (uint32, error) {
	if copyMode {
		v, err := s.Peek8()
		return uint32(v), err
	}
	v, err := s.Pop8()
	return uint32(v), err
}

// push8Fixed pushes a value that is always 8 bits wide (comparison
// booleans), regardless of the short flag.
func push8Fixed(s *Stack, v uint32) error {
	return s.Push8(byte(v))
}

// debugDump prints CPU state on BRK.
func (c *CPU) debugDump(mem *Memory) {
	fmt.Printf("BRK at PC=%04x  param.count=%d  return.count=%d\n",
		c.PC, c.Param.Count(), c.Return.Count())
}
