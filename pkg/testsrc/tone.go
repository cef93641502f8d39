package testsrc

import (
	"fmt"
	"math"

	"github.com/bluenviron/mediacommon/v2/pkg/codecs/g711"
)

const (
	toneSampleRate = 8000
)

// Tone generates a sine wave encoded with G711.
type Tone struct {
	// frequency in Hz.
	Frequency float64

	// volume between 0 and 1.
	Volume float64

	// samples in each buffer returned by Next().
	SamplesPerBuffer int

	// use mu-law instead of A-law.
	MULaw bool

	phase float64
}

// Initialize initializes a Tone.
func (t *Tone) Initialize() error {
	if t.Frequency <= 0 || t.Frequency >= toneSampleRate/2 {
		return fmt.Errorf("invalid frequency %v", t.Frequency)
	}

	if t.Volume < 0 || t.Volume > 1 {
		return fmt.Errorf("invalid volume %v", t.Volume)
	}

	if t.SamplesPerBuffer <= 0 {
		return fmt.Errorf("invalid samples per buffer %d", t.SamplesPerBuffer)
	}

	return nil
}

// ClockRate returns the sample rate.
func (t *Tone) ClockRate() int {
	return toneSampleRate
}

// Next returns the next buffer of G711 samples.
func (t *Tone) Next() ([]byte, error) {
	// 16-bit big endian LPCM
	lpcm := make([]byte, t.SamplesPerBuffer*2)
	step := 2 * math.Pi * t.Frequency / toneSampleRate

	for i := 0; i < t.SamplesPerBuffer; i++ {
		v := int16(math.Sin(t.phase) * t.Volume * math.MaxInt16)
		lpcm[i*2] = byte(uint16(v) >> 8)
		lpcm[i*2+1] = byte(uint16(v))

		t.phase += step
		if t.phase >= 2*math.Pi {
			t.phase -= 2 * math.Pi
		}
	}

	if t.MULaw {
		return g711.Mulaw(lpcm).Marshal()
	}
	return g711.Alaw(lpcm).Marshal()
}
