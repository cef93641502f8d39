package base

import (
	"bufio"
	"bytes"
	"testing"

	"github.com/stretchr/testify/require"
)

var casesInterleavedFrame = []struct {
	name string
	byts []byte
	fr   InterleavedFrame
}{
	{
		"rtp",
		[]byte{0x24, 0x0, 0x0, 0x4, 0x1, 0x2, 0x3, 0x4},
		InterleavedFrame{
			Channel: 0,
			Payload: []byte{0x01, 0x02, 0x03, 0x04},
		},
	},
	{
		"rtcp",
		[]byte{0x24, 0x3, 0x0, 0x4, 0x5, 0x6, 0x7, 0x8},
		InterleavedFrame{
			Channel: 3,
			Payload: []byte{0x05, 0x06, 0x07, 0x08},
		},
	},
}

func TestInterleavedFrameUnmarshal(t *testing.T) {
	for _, ca := range casesInterleavedFrame {
		t.Run(ca.name, func(t *testing.T) {
			var f InterleavedFrame
			err := f.Unmarshal(bufio.NewReader(bytes.NewBuffer(ca.byts)))
			require.NoError(t, err)
			require.Equal(t, ca.fr, f)
		})
	}
}

func TestInterleavedFrameMarshal(t *testing.T) {
	for _, ca := range casesInterleavedFrame {
		t.Run(ca.name, func(t *testing.T) {
			buf, err := ca.fr.Marshal()
			require.NoError(t, err)
			require.Equal(t, ca.byts, buf)
		})
	}
}

func TestInterleavedFrameUnmarshalErrors(t *testing.T) {
	for _, ca := range []struct {
		name string
		byts []byte
		err  string
	}{
		{
			"invalid magic byte",
			[]byte{0x55, 0x00, 0x00, 0x00},
			"invalid magic byte (0x55)",
		},
		{
			"payload too short",
			[]byte{0x24, 0x00, 0x00, 0x08, 0x01, 0x02},
			"unexpected EOF",
		},
	} {
		t.Run(ca.name, func(t *testing.T) {
			var f InterleavedFrame
			err := f.Unmarshal(bufio.NewReader(bytes.NewBuffer(ca.byts)))
			require.EqualError(t, err, ca.err)
		})
	}
}

func TestInterleavedFrameMarshalErrors(t *testing.T) {
	for _, ca := range []struct {
		name string
		fr   InterleavedFrame
		err  string
	}{
		{
			"invalid channel",
			InterleavedFrame{Channel: 256, Payload: []byte{1}},
			"invalid channel (256)",
		},
		{
			"payload too big",
			InterleavedFrame{Channel: 0, Payload: make([]byte, 70000)},
			"payload size (70000) exceeds maximum (65535)",
		},
	} {
		t.Run(ca.name, func(t *testing.T) {
			_, err := ca.fr.Marshal()
			require.EqualError(t, err, ca.err)
		})
	}
}
