//go:build !headless

// audio.go - bus 3: four-channel synth (pulse x2, triangle, noise) mixed
// into an oto.Player, modelled on audio_backend_oto.go's OtoPlayer. The
// four-port-per-register space of a real sound chip doesn't fit the 16-
// byte bus window, so channel select follows the indirect-register
// pattern the pack's own PSG/AY chips use: writing any value to one of
// ports 0-3 latches that channel, and the frequency/volume/control ports
// that follow apply to whichever channel is currently latched.

package devices

import (
	"math"
	"sync"
	"sync/atomic"

	"github.com/ebitengine/oto/v3"

	"github.com/pocketvm/pocketvm/vm"
)

const (
	numChannels   = 4
	chanPulse1    = 0
	chanPulse2    = 1
	chanTriangle  = 2
	chanNoise     = 3
	sampleRateHz  = 44100
)

// Audio ports (bus 3).
const (
	AudioSelectCh0 byte = 0x0
	AudioSelectCh1 byte = 0x1
	AudioSelectCh2 byte = 0x2
	AudioSelectCh3 byte = 0x3
	AudioFreqHi    byte = 0x4
	AudioFreqLo    byte = 0x5
	AudioVolume    byte = 0x6
	AudioCtrl      byte = 0x7
)

const ctrlGate = 0x01

// channel holds the control parameters set from the CPU thread via Handle.
type channel struct {
	freq   uint16
	volume byte
	gated  bool
}

// oscillator holds the continuously-evolving waveform state for one
// channel. Only nextSample ever touches it, since oto calls Read from a
// single dedicated goroutine, so it needs no synchronization.
type oscillator struct {
	phase float64
	lfsr  uint16
}

// chip is the channel control-parameter snapshot, written by Handle (the
// CPU thread) and read by nextSample (the oto callback goroutine); swapped
// atomically so the audio callback never blocks on the CPU thread.
type chip struct {
	channels [numChannels]channel
}

// Audio implements the device-callback contract for bus 3 and feeds an
// oto.Player via its io.Reader adapter.
type Audio struct {
	mu       sync.Mutex
	selected int
	state    atomic.Pointer[chip]

	oscillators [numChannels]oscillator

	ctx    *oto.Context
	player *oto.Player
}

// NewAudio returns an Audio device with all channels silent. Call Start to
// open the oto output; Start is optional so tests can construct and
// exercise Audio without opening an audio device.
func NewAudio() *Audio {
	a := &Audio{}
	a.state.Store(&chip{})
	return a
}

// Start opens the oto context and begins playback; safe to call once.
func (a *Audio) Start() error {
	ctx, ready, err := oto.NewContext(&oto.NewContextOptions{
		SampleRate:   sampleRateHz,
		ChannelCount: 1,
		Format:       oto.FormatFloat32LE,
		BufferSize:   4,
	})
	if err != nil {
		return err
	}
	<-ready
	a.ctx = ctx
	a.player = ctx.NewPlayer(a)
	a.player.Play()
	return nil
}

// Stop closes the player.
func (a *Audio) Stop() {
	if a.player != nil {
		a.player.Close()
		a.player = nil
	}
}

// Handle is the vm.DeviceFunc bound to bus 3.
func (a *Audio) Handle(bus *vm.Bus, port byte, dir vm.Direction) {
	if dir != vm.DirWrite {
		return
	}
	switch port {
	case AudioSelectCh0, AudioSelectCh1, AudioSelectCh2, AudioSelectCh3:
		a.mu.Lock()
		a.selected = int(port)
		a.mu.Unlock()

	case AudioFreqHi, AudioFreqLo:
		freq := bus.Read16(AudioFreqHi)
		a.mutate(func(c *chip) { c.channels[a.currentChannel()].freq = freq })

	case AudioVolume:
		v := bus.Buffer()[port]
		a.mutate(func(c *chip) { c.channels[a.currentChannel()].volume = v })

	case AudioCtrl:
		gate := bus.Buffer()[port]&ctrlGate != 0
		a.mutate(func(c *chip) { c.channels[a.currentChannel()].gated = gate })
	}
}

func (a *Audio) currentChannel() int {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.selected
}

// mutate copies the current chip state, applies fn, and atomically
// installs the result, so the Read callback never observes a torn write.
func (a *Audio) mutate(fn func(c *chip)) {
	cur := *a.state.Load()
	fn(&cur)
	a.state.Store(&cur)
}

// Read implements io.Reader for oto.Player: mixes the four channels into
// float32LE mono samples.
func (a *Audio) Read(p []byte) (int, error) {
	c := a.state.Load()
	numSamples := len(p) / 4
	for i := 0; i < numSamples; i++ {
		sample := a.nextSample(c)
		bits := math.Float32bits(sample)
		p[i*4] = byte(bits)
		p[i*4+1] = byte(bits >> 8)
		p[i*4+2] = byte(bits >> 16)
		p[i*4+3] = byte(bits >> 24)
	}
	return len(p), nil
}

func (a *Audio) nextSample(c *chip) float32 {
	var sum float32
	for i := range c.channels {
		ch := &c.channels[i]
		osc := &a.oscillators[i]
		if !ch.gated || ch.freq == 0 {
			continue
		}
		step := float64(ch.freq) / sampleRateHz
		osc.phase += step
		if osc.phase >= 1 {
			osc.phase -= math.Floor(osc.phase)
		}
		vol := float32(ch.volume) / 255
		switch i {
		case chanPulse1, chanPulse2:
			if osc.phase < 0.5 {
				sum += vol
			} else {
				sum -= vol
			}
		case chanTriangle:
			sum += vol * float32(4*math.Abs(osc.phase-0.5)-1)
		case chanNoise:
			if osc.lfsr == 0 {
				osc.lfsr = 0xACE1
			}
			bit := (osc.lfsr ^ (osc.lfsr >> 1)) & 1
			osc.lfsr = (osc.lfsr >> 1) | (bit << 14)
			if osc.lfsr&1 != 0 {
				sum += vol
			} else {
				sum -= vol
			}
		}
	}
	return sum / numChannels
}
