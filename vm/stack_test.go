package vm

import "testing"

func TestStackRoundTrip8(t *testing.T) {
	var s Stack
	values := []byte{0x01, 0x02, 0x03, 0xFF}
	for _, v := range values {
		if err := s.Push8(v); err != nil {
			t.Fatalf("Push8(%02x): %v", v, err)
		}
	}
	for i := len(values) - 1; i >= 0; i-- {
		got, err := s.Pop8()
		if err != nil {
			t.Fatalf("Pop8: %v", err)
		}
		if got != values[i] {
			t.Fatalf("Pop8 = %02x, want %02x", got, values[i])
		}
	}
}

func TestStackRoundTrip16(t *testing.T) {
	var s Stack
	values := []uint16{0x0102, 0xABCD, 0xFFFF, 0x0000}
	for _, v := range values {
		if err := s.Push16(v); err != nil {
			t.Fatalf("Push16(%04x): %v", v, err)
		}
	}
	for i := len(values) - 1; i >= 0; i-- {
		got, err := s.Pop16()
		if err != nil {
			t.Fatalf("Pop16: %v", err)
		}
		if got != values[i] {
			t.Fatalf("Pop16 = %04x, want %04x", got, values[i])
		}
	}
}

func TestStackOverflow(t *testing.T) {
	var s Stack
	for i := 0; i < StackSize; i++ {
		if err := s.Push8(byte(i)); err != nil {
			t.Fatalf("Push8 #%d: %v", i, err)
		}
	}
	if err := s.Push8(0); err != ErrStackOverflow {
		t.Fatalf("Push8 past capacity: got %v, want ErrStackOverflow", err)
	}
}

func TestStackUnderflow(t *testing.T) {
	var s Stack
	if _, err := s.Pop8(); err != ErrStackUnderflow {
		t.Fatalf("Pop8 on empty: got %v, want ErrStackUnderflow", err)
	}
}

func TestStackCopyNonDestructive(t *testing.T) {
	var s Stack
	values := []byte{0x10, 0x20, 0x30, 0x40}
	for _, v := range values {
		_ = s.Push8(v)
	}
	s.ResetCopyCursor()

	for i := len(values) - 1; i >= 0; i-- {
		got, err := s.Peek8()
		if err != nil {
			t.Fatalf("Peek8: %v", err)
		}
		if got != values[i] {
			t.Fatalf("Peek8 #%d = %02x, want %02x", i, got, values[i])
		}
	}
	if s.Count() != len(values) {
		t.Fatalf("Count after copy-pops = %d, want %d (unchanged)", s.Count(), len(values))
	}

	// One more copy-pop runs past the bottom.
	if _, err := s.Peek8(); err != ErrStackUnderflow {
		t.Fatalf("Peek8 past bottom: got %v, want ErrStackUnderflow", err)
	}
}

func TestStackResetCopyCursorRewalksFromTop(t *testing.T) {
	var s Stack
	_ = s.Push8(0x01)
	_ = s.Push8(0x02)

	s.ResetCopyCursor()
	first, _ := s.Peek8()
	second, _ := s.Peek8()
	requireEqualByte(t, "first copy-pop", first, 0x02)
	requireEqualByte(t, "second copy-pop", second, 0x01)

	// Without a reset the cursor is exhausted; a fresh instruction resets it.
	s.ResetCopyCursor()
	again, _ := s.Peek8()
	requireEqualByte(t, "copy-pop after reset", again, 0x02)
	requireEqualInt(t, "count unchanged by copy mode", s.Count(), 2)
}

func TestStackReset(t *testing.T) {
	var s Stack
	_ = s.Push8(1)
	_ = s.Push8(2)
	s.Reset()
	if s.Count() != 0 {
		t.Fatalf("Count after Reset = %d, want 0", s.Count())
	}
	if _, err := s.Pop8(); err != ErrStackUnderflow {
		t.Fatalf("Pop8 after Reset: got %v, want ErrStackUnderflow", err)
	}
}
