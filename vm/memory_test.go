package vm

import "testing"

func TestMemoryEndiannessRoundTrip(t *testing.T) {
	var m Memory
	cases := []uint16{0x0000, 0x0001, 0x00FF, 0x1234, 0x7FFF, 0xFFFE}
	for _, addr := range cases {
		for _, v := range []uint16{0x0000, 0x00FF, 0xABCD, 0xFFFF} {
			m.Write16(addr, v)
			if got := m.Read16(addr); got != v {
				t.Fatalf("Read16(%04x) after Write16 = %04x, want %04x", addr, got, v)
			}
			hi := m.Read(addr)
			lo := m.Read(addr + 1)
			if hi != byte(v>>8) || lo != byte(v) {
				t.Fatalf("byte split for %04x wrong: hi=%02x lo=%02x want hi=%02x lo=%02x",
					v, hi, lo, byte(v>>8), byte(v))
			}
		}
	}
}

func TestMemoryWriteWrapsAtTopOfAddressSpace(t *testing.T) {
	var m Memory
	m.Write16(0xFFFF, 0xABCD)
	if got := m.Read(0xFFFF); got != 0xAB {
		t.Fatalf("Read(0xFFFF) = %02x, want ab", got)
	}
	if got := m.Read(0x0000); got != 0xCD {
		t.Fatalf("Read(0x0000) = %02x, want cd (wrapped low byte)", got)
	}
}

func TestMemoryLoadOverflowFails(t *testing.T) {
	var m Memory
	image := make([]byte, 10)
	if err := m.Load(MemSize-5, image); err != ErrMemoryOverflow {
		t.Fatalf("Load past end of memory: got %v, want ErrMemoryOverflow", err)
	}
}

func TestMemoryLoadCopiesVerbatim(t *testing.T) {
	var m Memory
	image := []byte{0x01, 0x02, 0x03}
	if err := m.Load(0x0100, image); err != nil {
		t.Fatalf("Load: %v", err)
	}
	for i, want := range image {
		if got := m.Read(0x0100 + uint16(i)); got != want {
			t.Fatalf("Read(0x%04x) = %02x, want %02x", 0x0100+i, got, want)
		}
	}
}

func TestMemoryClear(t *testing.T) {
	var m Memory
	m.Write(0x1234, 0xFF)
	m.Clear()
	if got := m.Read(0x1234); got != 0 {
		t.Fatalf("Read after Clear = %02x, want 0", got)
	}
}
