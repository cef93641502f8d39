package base

import (
	"bufio"
	"encoding/binary"
	"fmt"
	"io"
)

const (
	// InterleavedFrameMagicByte is the first byte of an interleaved frame.
	InterleavedFrameMagicByte = '$'

	interleavedFrameHeaderSize = 4
	interleavedFrameMaxPayload = 0xFFFF
)

// InterleavedFrame carries a RTP or RTCP packet inside the RTSP TCP connection
// (RFC 2326, section 10.12). Even channels carry RTP, odd channels RTCP.
type InterleavedFrame struct {
	Channel int
	Payload []byte
}

// Unmarshal reads an interleaved frame.
func (f *InterleavedFrame) Unmarshal(br *bufio.Reader) error {
	var header [interleavedFrameHeaderSize]byte
	_, err := io.ReadFull(br, header[:])
	if err != nil {
		return err
	}

	if header[0] != InterleavedFrameMagicByte {
		return fmt.Errorf("invalid magic byte (0x%.2x)", header[0])
	}

	f.Channel = int(header[1])
	f.Payload = make([]byte, binary.BigEndian.Uint16(header[2:]))

	_, err = io.ReadFull(br, f.Payload)
	return err
}

// MarshalSize returns the size of the marshaled frame.
func (f InterleavedFrame) MarshalSize() int {
	return interleavedFrameHeaderSize + len(f.Payload)
}

// MarshalTo writes the frame into buf, that must be at least MarshalSize() long.
func (f InterleavedFrame) MarshalTo(buf []byte) (int, error) {
	if f.Channel < 0 || f.Channel > 255 {
		return 0, fmt.Errorf("invalid channel (%d)", f.Channel)
	}

	if len(f.Payload) > interleavedFrameMaxPayload {
		return 0, fmt.Errorf("payload size (%d) exceeds maximum (%d)", len(f.Payload), interleavedFrameMaxPayload)
	}

	buf[0] = InterleavedFrameMagicByte
	buf[1] = byte(f.Channel)
	binary.BigEndian.PutUint16(buf[2:], uint16(len(f.Payload)))
	return interleavedFrameHeaderSize + copy(buf[interleavedFrameHeaderSize:], f.Payload), nil
}

// Marshal encodes the frame.
func (f InterleavedFrame) Marshal() ([]byte, error) {
	buf := make([]byte, f.MarshalSize())
	_, err := f.MarshalTo(buf)
	return buf, err
}
