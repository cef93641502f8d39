package rtph264

import (
	"errors"
	"fmt"

	"github.com/bluenviron/mediacommon/v2/pkg/codecs/h264"
	"github.com/pion/rtp"
)

// ErrMorePacketsNeeded is returned by Decode while an access unit is incomplete.
var ErrMorePacketsNeeded = errors.New("need more packets")

// ErrJoinedMidFragment is returned when the first packets received are
// the continuation of a fragmented NALU. It is expected when a reader
// joins a running stream, and clears with the next NALU.
var ErrJoinedMidFragment = errors.New("stream joined in the middle of a fragmented NALU")

// splitSTAPA returns the NALUs aggregated in the payload of a STAP-A packet,
// without its one-byte header.
func splitSTAPA(payload []byte) ([][]byte, error) {
	var nalus [][]byte

	for len(payload) != 0 {
		if len(payload) < 2 {
			return nil, fmt.Errorf("invalid STAP-A packet (truncated size)")
		}

		size := int(payload[0])<<8 | int(payload[1])
		payload = payload[2:]

		if size == 0 || size > len(payload) {
			return nil, fmt.Errorf("invalid STAP-A packet (NALU size %d)", size)
		}

		nalus = append(nalus, payload[:size])
		payload = payload[size:]
	}

	if len(nalus) == 0 {
		return nil, fmt.Errorf("STAP-A packet doesn't contain any NALU")
	}

	return nalus, nil
}

// fuaBuffer reassembles a NALU from FU-A fragments.
type fuaBuffer struct {
	parts   [][]byte
	size    int
	nextSeq uint16
}

func (b *fuaBuffer) reset() {
	b.parts = b.parts[:0]
	b.size = 0
}

func (b *fuaBuffer) active() bool {
	return b.size != 0
}

// push adds a FU-A packet. It returns the NALU once the end fragment is received.
func (b *fuaBuffer) push(pkt *rtp.Packet) ([]byte, error) {
	if len(pkt.Payload) < 2 {
		b.reset()
		return nil, fmt.Errorf("invalid FU-A packet (invalid size)")
	}

	indicator := pkt.Payload[0]
	header := pkt.Payload[1]
	start := (header & 0x80) != 0
	end := (header & 0x40) != 0
	fragment := pkt.Payload[2:]

	switch {
	case start && end:
		b.reset()
		return nil, fmt.Errorf("invalid FU-A packet (can't contain both a start and end bit)")

	case start:
		b.reset()
		// the NALU header is rebuilt from the NRI of the indicator and the type of the FU header.
		b.parts = append(b.parts, []byte{(indicator & 0x60) | (header & 0x1F)}, fragment)
		b.size = 1 + len(fragment)
		b.nextSeq = pkt.SequenceNumber + 1
		return nil, ErrMorePacketsNeeded

	case !b.active():
		return nil, errNonStartingFragment

	case pkt.SequenceNumber != b.nextSeq:
		b.reset()
		return nil, fmt.Errorf("discarding NALU, expected packet %d, received %d",
			b.nextSeq, pkt.SequenceNumber)
	}

	b.parts = append(b.parts, fragment)
	b.size += len(fragment)
	b.nextSeq++

	if !end {
		return nil, ErrMorePacketsNeeded
	}

	nalu := make([]byte, 0, b.size)
	for _, p := range b.parts {
		nalu = append(nalu, p...)
	}
	b.reset()

	return nalu, nil
}

var errNonStartingFragment = errors.New("invalid FU-A packet (non-starting)")

// Decoder reassembles H264 access units from RTP packets
// sent in packetization mode 0 or 1 (single NALU, STAP-A and FU-A).
type Decoder struct {
	fua      fuaBuffer
	synced   bool
	nalus    [][]byte
	nalusLen int
}

// Init initializes the decoder.
func (d *Decoder) Init() error {
	return nil
}

func (d *Decoder) packetNALUs(pkt *rtp.Packet) ([][]byte, error) {
	if len(pkt.Payload) == 0 {
		d.fua.reset()
		return nil, fmt.Errorf("payload is too short")
	}

	typ := h264.NALUType(pkt.Payload[0] & 0x1F)

	if typ == h264.NALUTypeFUA {
		nalu, err := d.fua.push(pkt)
		if errors.Is(err, errNonStartingFragment) && !d.synced {
			return nil, ErrJoinedMidFragment
		}
		d.synced = true
		if err != nil {
			return nil, err
		}
		return [][]byte{nalu}, nil
	}

	d.fua.reset()
	d.synced = true

	switch typ {
	case h264.NALUTypeSTAPA:
		return splitSTAPA(pkt.Payload[1:])

	case h264.NALUTypeSTAPB, h264.NALUTypeMTAP16, h264.NALUTypeMTAP24, h264.NALUTypeFUB:
		return nil, fmt.Errorf("packet type not supported (%v)", typ)
	}

	return [][]byte{pkt.Payload}, nil
}

// Decode adds a RTP packet and returns the access unit it completes.
// It returns ErrMorePacketsNeeded until the packet with the marker bit is received.
func (d *Decoder) Decode(pkt *rtp.Packet) ([][]byte, error) {
	nalus, err := d.packetNALUs(pkt)
	if err != nil {
		return nil, err
	}

	for _, nalu := range nalus {
		d.nalusLen += len(nalu)
	}

	if d.nalusLen > h264.MaxAccessUnitSize {
		d.nalus = nil
		d.nalusLen = 0
		return nil, fmt.Errorf("access unit size exceeds %d", h264.MaxAccessUnitSize)
	}

	d.nalus = append(d.nalus, nalus...)

	if !pkt.Marker {
		return nil, ErrMorePacketsNeeded
	}

	au := d.nalus
	d.nalus = nil
	d.nalusLen = 0

	return au, nil
}
