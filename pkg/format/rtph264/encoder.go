package rtph264

import (
	"fmt"

	"github.com/bluenviron/mediacommon/v2/pkg/codecs/h264"
	"github.com/pion/rtp"
)

func lenAggregated(nalus [][]byte, addNALU []byte) int {
	n := 1 // header

	for _, nalu := range nalus {
		n += 2 + len(nalu)
	}

	if addNALU != nil {
		n += 2 + len(addNALU)
	}

	return n
}

func packetCount(avail, le int) int {
	n := le / avail
	if (le % avail) != 0 {
		n++
	}
	return n
}

// Encoder is a RTP/H264 encoder working in non-interleaved mode
// (packetization-mode=1).
// Specification: https://datatracker.ietf.org/doc/html/rfc6184
type Encoder struct {
	// payload type of packets.
	PayloadType uint8

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
}

// Init initializes the encoder.
func (e *Encoder) Init() error {
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
	if e.PayloadMaxSize == 0 {
		e.PayloadMaxSize = defaultPayloadMaxSize
	}
	if e.PayloadMaxSize < 3 {
		return fmt.Errorf("payload max size is too small")
	}

	e.sequenceNumber = *e.InitialSequenceNumber
	return nil
}

// Encode encodes an access unit into RTP/H264 packets.
// Timestamps must be filled by the caller.
func (e *Encoder) Encode(au [][]byte) ([]*rtp.Packet, error) {
	if len(au) == 0 {
		return nil, fmt.Errorf("access unit is empty")
	}

	var rets []*rtp.Packet
	var batch [][]byte

	for _, nalu := range au {
		if len(nalu) == 0 {
			return nil, fmt.Errorf("NALU is empty")
		}

		if lenAggregated(batch, nalu) <= e.PayloadMaxSize {
			batch = append(batch, nalu)
			continue
		}

		if batch != nil {
			rets = append(rets, e.writeBatch(batch, false)...)
		}

		batch = [][]byte{nalu}
	}

	// marker is set on the last packet of the access unit
	rets = append(rets, e.writeBatch(batch, true)...)

	return rets, nil
}

func (e *Encoder) writeBatch(nalus [][]byte, marker bool) []*rtp.Packet {
	if len(nalus) == 1 {
		if len(nalus[0]) <= e.PayloadMaxSize {
			return []*rtp.Packet{e.newPacket(nalus[0], marker)}
		}

		return e.writeFragmented(nalus[0], marker)
	}

	return []*rtp.Packet{e.writeAggregated(nalus, marker)}
}

func (e *Encoder) newPacket(payload []byte, marker bool) *rtp.Packet {
	pkt := &rtp.Packet{
		Header: rtp.Header{
			Version:        rtpVersion,
			PayloadType:    e.PayloadType,
			SequenceNumber: e.sequenceNumber,
			SSRC:           *e.SSRC,
			Marker:         marker,
		},
		Payload: payload,
	}
	e.sequenceNumber++
	return pkt
}

func (e *Encoder) writeFragmented(nalu []byte, marker bool) []*rtp.Packet {
	avail := e.PayloadMaxSize - 2
	le := len(nalu) - 1
	n := packetCount(avail, le)

	ret := make([]*rtp.Packet, n)

	nri := (nalu[0] >> 5) & 0x03
	typ := nalu[0] & 0x1F
	nalu = nalu[1:]
	start := uint8(1)
	end := uint8(0)

	for i := range ret {
		le = avail
		if i == (n - 1) {
			end = 1
			le = len(nalu)
		}

		data := make([]byte, 2+le)
		data[0] = (nri << 5) | uint8(h264.NALUTypeFUA)
		data[1] = (start << 7) | (end << 6) | typ
		copy(data[2:], nalu)
		nalu = nalu[le:]

		ret[i] = e.newPacket(data, i == (n-1) && marker)
		start = 0
	}

	return ret
}

func (e *Encoder) writeAggregated(nalus [][]byte, marker bool) *rtp.Packet {
	payload := make([]byte, lenAggregated(nalus, nil))

	// F and NRI are the maximum of the aggregated units
	var nri uint8
	for _, nalu := range nalus {
		if v := nalu[0] & 0x60; v > nri {
			nri = v
		}
	}
	payload[0] = nri | uint8(h264.NALUTypeSTAPA)
	pos := 1

	for _, nalu := range nalus {
		le := len(nalu)
		payload[pos] = uint8(le >> 8)
		payload[pos+1] = uint8(le)
		pos += 2

		pos += copy(payload[pos:], nalu)
	}

	return e.newPacket(payload, marker)
}
