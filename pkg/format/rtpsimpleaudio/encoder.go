// Package rtpsimpleaudio contains a RTP packetizer for sample-based audio codecs,
// where every byte range aligned to the sample size can be decoded on its own.
// Specification: https://datatracker.ietf.org/doc/html/rfc3551#section-4.2
package rtpsimpleaudio

import (
	"crypto/rand"
	"fmt"

	"github.com/pion/rtp"
)

const (
	rtpVersion            = 2
	defaultPayloadMaxSize = 1450
)

func randUint32() (uint32, error) {
	var b [4]byte
	_, err := rand.Read(b[:])
	if err != nil {
		return 0, err
	}
	return uint32(b[0])<<24 | uint32(b[1])<<16 | uint32(b[2])<<8 | uint32(b[3]), nil
}

// Encoder splits buffers of samples into RTP packets.
type Encoder struct {
	// payload type of packets.
	PayloadType uint8

	// size of a sample in bytes (optional).
	// It defaults to 1, the size of G711 samples.
	SampleSize int

	// SSRC of packets (optional).
	// It defaults to a random value.
	SSRC *uint32

	// initial sequence number of packets (optional).
	// It defaults to a random value.
	InitialSequenceNumber *uint16

	// maximum size of packet payloads (optional).
	// It defaults to 1450.
	PayloadMaxSize int

	sequenceNumber uint16
	started        bool
}

// Init initializes the encoder.
func (e *Encoder) Init() error {
	if e.SampleSize == 0 {
		e.SampleSize = 1
	}

	if e.PayloadMaxSize == 0 {
		e.PayloadMaxSize = defaultPayloadMaxSize
	}

	// payloads must contain whole samples.
	e.PayloadMaxSize -= e.PayloadMaxSize % e.SampleSize
	if e.PayloadMaxSize == 0 {
		return fmt.Errorf("payload max size is smaller than a sample")
	}

	if e.SSRC == nil {
		v, err := randUint32()
		if err != nil {
			return err
		}
		e.SSRC = &v
	}

	if e.InitialSequenceNumber == nil {
		v, err := randUint32()
		if err != nil {
			return err
		}
		v2 := uint16(v)
		e.InitialSequenceNumber = &v2
	}

	e.sequenceNumber = *e.InitialSequenceNumber
	return nil
}

// Encode encodes a buffer of samples that starts at timestamp ts.
// Buffers bigger than the maximum payload size are split,
// and the timestamp of each packet is advanced by the samples before it.
// The marker bit is set on the first packet of the stream only,
// since a generated tone never contains silence.
func (e *Encoder) Encode(samples []byte, ts uint32) ([]*rtp.Packet, error) {
	if len(samples) == 0 {
		return nil, fmt.Errorf("buffer is empty")
	}

	if (len(samples) % e.SampleSize) != 0 {
		return nil, fmt.Errorf("buffer size %d is not a multiple of the sample size", len(samples))
	}

	n := (len(samples) + e.PayloadMaxSize - 1) / e.PayloadMaxSize
	ret := make([]*rtp.Packet, n)

	for i := range ret {
		start := i * e.PayloadMaxSize
		end := start + e.PayloadMaxSize
		if end > len(samples) {
			end = len(samples)
		}

		ret[i] = &rtp.Packet{
			Header: rtp.Header{
				Version:        rtpVersion,
				PayloadType:    e.PayloadType,
				SequenceNumber: e.sequenceNumber,
				Timestamp:      ts + uint32(start/e.SampleSize),
				SSRC:           *e.SSRC,
				Marker:         !e.started,
			},
			Payload: samples[start:end],
		}

		e.sequenceNumber++
		e.started = true
	}

	return ret, nil
}
