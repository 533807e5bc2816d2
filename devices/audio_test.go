//go:build !headless

package devices

import (
	"testing"

	"github.com/pocketvm/pocketvm/vm"
)

func TestAudioChannelSelectAndWriteRouteToRightChannel(t *testing.T) {
	a := NewAudio()
	bus := vm.NewBus(3, a.Handle)

	bus.Write(AudioSelectCh2, 0) // select the triangle channel
	bus.Write16(AudioFreqHi, 440)
	bus.Write(AudioVolume, 200)
	bus.Write(AudioCtrl, ctrlGate)

	snap := a.state.Load()
	requireEqualIntForDevices(t, "pulse1 freq", int(snap.channels[chanPulse1].freq), 0)
	requireEqualIntForDevices(t, "triangle freq", int(snap.channels[chanTriangle].freq), 440)
	if !snap.channels[chanTriangle].gated {
		t.Fatalf("triangle channel not gated after AudioCtrl write")
	}
}

func TestAudioSilentWhenUngated(t *testing.T) {
	a := NewAudio()
	bus := vm.NewBus(3, a.Handle)
	bus.Write(AudioSelectCh0, 0)
	bus.Write16(AudioFreqHi, 440)
	bus.Write(AudioVolume, 255)
	// no gate write: channel stays ungated

	buf := make([]byte, 4*8)
	n, err := a.Read(buf)
	if err != nil {
		t.Fatalf("Read: %v", err)
	}
	requireEqualIntForDevices(t, "bytes read", n, len(buf))
	for _, b := range buf {
		if b != 0 {
			t.Fatalf("ungated channel produced non-zero sample byte %02x", b)
		}
	}
}

func TestAudioGatedPulseProducesNonZeroSamples(t *testing.T) {
	a := NewAudio()
	bus := vm.NewBus(3, a.Handle)
	bus.Write(AudioSelectCh0, 0)
	bus.Write16(AudioFreqHi, 440)
	bus.Write(AudioVolume, 255)
	bus.Write(AudioCtrl, ctrlGate)

	buf := make([]byte, 4*64)
	if _, err := a.Read(buf); err != nil {
		t.Fatalf("Read: %v", err)
	}
	allZero := true
	for _, b := range buf {
		if b != 0 {
			allZero = false
			break
		}
	}
	if allZero {
		t.Fatalf("gated pulse channel produced an all-zero buffer")
	}
}
