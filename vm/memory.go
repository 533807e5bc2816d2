// memory.go - flat 64KiB memory subsystem

package vm

import "encoding/binary"

// MemSize is the total addressable span of the flat memory array.
const MemSize = 1 << 16

// IntEnableAddr is the well-known cell gating interrupt delivery (spec §3).
const IntEnableAddr = 0x00B0

// Memory is a flat, zero-initialised 65,536 byte array addressed by a
// 16-bit unsigned integer. Every access wraps modulo MemSize; no access may
// fail.
type Memory struct {
	data [MemSize]byte
}

// Read returns the byte at addr.
func (m *Memory) Read(addr uint16) byte {
	return m.data[addr]
}

// Write stores v at addr.
func (m *Memory) Write(addr uint16, v byte) {
	m.data[addr] = v
}

// Read16 returns the big-endian 16-bit value at addr, addr+1 (wrapping).
// The pair is assembled through encoding/binary rather than by hand since
// addr+1 can wrap across the end of the array, ruling out a direct slice
// of the backing array.
func (m *Memory) Read16(addr uint16) uint16 {
	pair := [2]byte{m.data[addr], m.data[addr+1]}
	return binary.BigEndian.Uint16(pair[:])
}

// Write16 stores v as a big-endian pair at addr (high byte) and addr+1
// (low byte), wrapping.
func (m *Memory) Write16(addr uint16, v uint16) {
	var pair [2]byte
	binary.BigEndian.PutUint16(pair[:], v)
	m.data[addr] = pair[0]
	m.data[addr+1] = pair[1]
}

// Clear zeroes the entire memory array.
func (m *Memory) Clear() {
	for i := range m.data {
		m.data[i] = 0
	}
}

// Load copies image verbatim into memory starting at dest, returning
// ErrMemoryOverflow if the image would run past the end of memory.
func (m *Memory) Load(dest uint16, image []byte) error {
	if int(dest)+len(image) > MemSize {
		return ErrMemoryOverflow
	}
	copy(m.data[dest:], image)
	return nil
}
