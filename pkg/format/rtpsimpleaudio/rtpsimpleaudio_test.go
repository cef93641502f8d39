package rtpsimpleaudio

import (
	"bytes"
	"testing"

	"github.com/pion/rtp"
	"github.com/stretchr/testify/require"
)

func uint16Ptr(v uint16) *uint16 {
	return &v
}

func uint32Ptr(v uint32) *uint32 {
	return &v
}

func newTestEncoder(t *testing.T, maxSize int, sampleSize int) *Encoder {
	e := &Encoder{
		PayloadType:           0,
		SampleSize:            sampleSize,
		SSRC:                  uint32Ptr(0x9dbb7812),
		InitialSequenceNumber: uint16Ptr(0x44ed),
		PayloadMaxSize:        maxSize,
	}
	err := e.Init()
	require.NoError(t, err)
	return e
}

func TestEncode(t *testing.T) {
	for _, ca := range []struct {
		name       string
		maxSize    int
		sampleSize int
		samples    []byte
		pkts       []*rtp.Packet
	}{
		{
			"20ms of pcmu",
			0,
			1,
			bytes.Repeat([]byte{0xff}, 160),
			[]*rtp.Packet{{
				Header: rtp.Header{
					Version:        2,
					Marker:         true,
					PayloadType:    0,
					SequenceNumber: 17645,
					Timestamp:      1000,
					SSRC:           0x9dbb7812,
				},
				Payload: bytes.Repeat([]byte{0xff}, 160),
			}},
		},
		{
			"split",
			100,
			1,
			bytes.Repeat([]byte{0x55}, 250),
			[]*rtp.Packet{
				{
					Header: rtp.Header{
						Version:        2,
						Marker:         true,
						PayloadType:    0,
						SequenceNumber: 17645,
						Timestamp:      1000,
						SSRC:           0x9dbb7812,
					},
					Payload: bytes.Repeat([]byte{0x55}, 100),
				},
				{
					Header: rtp.Header{
						Version:        2,
						PayloadType:    0,
						SequenceNumber: 17646,
						Timestamp:      1100,
						SSRC:           0x9dbb7812,
					},
					Payload: bytes.Repeat([]byte{0x55}, 100),
				},
				{
					Header: rtp.Header{
						Version:        2,
						PayloadType:    0,
						SequenceNumber: 17647,
						Timestamp:      1200,
						SSRC:           0x9dbb7812,
					},
					Payload: bytes.Repeat([]byte{0x55}, 50),
				},
			},
		},
		{
			"two byte samples",
			5,
			2,
			[]byte{1, 2, 3, 4, 5, 6},
			[]*rtp.Packet{
				{
					Header: rtp.Header{
						Version:        2,
						Marker:         true,
						PayloadType:    0,
						SequenceNumber: 17645,
						Timestamp:      1000,
						SSRC:           0x9dbb7812,
					},
					Payload: []byte{1, 2, 3, 4},
				},
				{
					Header: rtp.Header{
						Version:        2,
						PayloadType:    0,
						SequenceNumber: 17646,
						Timestamp:      1002,
						SSRC:           0x9dbb7812,
					},
					Payload: []byte{5, 6},
				},
			},
		},
	} {
		t.Run(ca.name, func(t *testing.T) {
			e := newTestEncoder(t, ca.maxSize, ca.sampleSize)

			pkts, err := e.Encode(ca.samples, 1000)
			require.NoError(t, err)
			require.Equal(t, ca.pkts, pkts)

			d := &Decoder{SampleSize: ca.sampleSize}
			err = d.Init()
			require.NoError(t, err)

			var out []byte
			count := 0
			for _, pkt := range pkts {
				samples, n, err := d.Decode(pkt)
				require.NoError(t, err)
				out = append(out, samples...)
				count += n
			}
			require.Equal(t, ca.samples, out)
			require.Equal(t, len(ca.samples)/ca.sampleSize, count)
		})
	}
}

func TestEncodeMarkerOnlyFirst(t *testing.T) {
	e := newTestEncoder(t, 0, 1)

	pkts, err := e.Encode([]byte{1, 2}, 0)
	require.NoError(t, err)
	require.True(t, pkts[0].Marker)

	pkts, err = e.Encode([]byte{3, 4}, 2)
	require.NoError(t, err)
	require.False(t, pkts[0].Marker)
	require.Equal(t, uint16(17646), pkts[0].SequenceNumber)
}

func TestEncodeRandomInitialState(t *testing.T) {
	e := &Encoder{
		PayloadType: 0,
	}
	err := e.Init()
	require.NoError(t, err)
	require.NotEqual(t, nil, e.SSRC)
	require.NotEqual(t, nil, e.InitialSequenceNumber)
}

func TestErrors(t *testing.T) {
	e := &Encoder{SampleSize: 4, PayloadMaxSize: 3}
	require.EqualError(t, e.Init(), "payload max size is smaller than a sample")

	e = newTestEncoder(t, 0, 2)

	_, err := e.Encode(nil, 0)
	require.EqualError(t, err, "buffer is empty")

	_, err = e.Encode([]byte{1, 2, 3}, 0)
	require.EqualError(t, err, "buffer size 3 is not a multiple of the sample size")

	d := &Decoder{SampleSize: 2}
	err = d.Init()
	require.NoError(t, err)

	_, _, err = d.Decode(&rtp.Packet{})
	require.EqualError(t, err, "payload is empty")

	_, _, err = d.Decode(&rtp.Packet{Payload: []byte{1}})
	require.EqualError(t, err, "payload contains a partial sample")
}
