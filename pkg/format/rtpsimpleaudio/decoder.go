package rtpsimpleaudio

import (
	"fmt"

	"github.com/pion/rtp"
)

// Decoder extracts samples from RTP packets.
type Decoder struct {
	// size of a sample in bytes (optional).
	// It defaults to 1.
	SampleSize int
}

// Init initializes the decoder.
func (d *Decoder) Init() error {
	if d.SampleSize == 0 {
		d.SampleSize = 1
	}
	return nil
}

// Decode returns the samples of a packet and their count.
func (d *Decoder) Decode(pkt *rtp.Packet) ([]byte, int, error) {
	if len(pkt.Payload) == 0 {
		return nil, 0, fmt.Errorf("payload is empty")
	}

	if (len(pkt.Payload) % d.SampleSize) != 0 {
		return nil, 0, fmt.Errorf("payload contains a partial sample")
	}

	return pkt.Payload, len(pkt.Payload) / d.SampleSize, nil
}
