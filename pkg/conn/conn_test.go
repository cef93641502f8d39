package conn

import (
	"bytes"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/netlab/rtspserver/pkg/base"
)

func TestRead(t *testing.T) {
	for _, ca := range []struct {
		name string
		enc  []byte
		dec  interface{}
	}{
		{
			"request",
			[]byte("DESCRIBE rtsp://127.0.0.1:8554/test RTSP/1.0\r\n" +
				"Accept: application/sdp\r\n" +
				"CSeq: 2\r\n" +
				"\r\n"),
			&base.Request{
				Method: base.Describe,
				URL:    base.MustParseURL("rtsp://127.0.0.1:8554/test"),
				Header: base.Header{
					"Accept": base.HeaderValue{"application/sdp"},
					"CSeq":   base.HeaderValue{"2"},
				},
			},
		},
		{
			"response",
			[]byte("RTSP/1.0 200 OK\r\n" +
				"CSeq: 1\r\n" +
				"\r\n"),
			&base.Response{
				StatusCode:    base.StatusOK,
				StatusMessage: "OK",
				Header: base.Header{
					"CSeq": base.HeaderValue{"1"},
				},
			},
		},
		{
			"frame",
			[]byte{0x24, 0x6, 0x0, 0x4, 0x1, 0x2, 0x3, 0x4},
			&base.InterleavedFrame{
				Channel: 6,
				Payload: []byte{0x01, 0x02, 0x03, 0x04},
			},
		},
	} {
		t.Run(ca.name, func(t *testing.T) {
			c := NewConn(bytes.NewBuffer(ca.enc))
			dec, err := c.Read()
			require.NoError(t, err)
			require.Equal(t, ca.dec, dec)
		})
	}
}

func TestReadError(t *testing.T) {
	var buf bytes.Buffer
	c := NewConn(&buf)
	_, err := c.Read()
	require.Error(t, err)
}

func TestReadResponseIgnoreFrames(t *testing.T) {
	c := NewConn(bytes.NewBuffer(append(
		[]byte{0x24, 0x0, 0x0, 0x2, 0xAA, 0xBB},
		[]byte("RTSP/1.0 200 OK\r\nCSeq: 4\r\n\r\n")...)))

	res, err := c.ReadResponseIgnoreFrames()
	require.NoError(t, err)
	require.Equal(t, base.StatusOK, res.StatusCode)
	require.Equal(t, base.HeaderValue{"4"}, res.Header["CSeq"])
}

func TestWrite(t *testing.T) {
	var buf bytes.Buffer
	c := NewConn(&buf)

	err := c.WriteResponse(&base.Response{
		StatusCode: base.StatusOK,
		Header:     base.Header{"CSeq": base.HeaderValue{"1"}},
	})
	require.NoError(t, err)

	err = c.WriteInterleavedFrame(&base.InterleavedFrame{
		Channel: 1,
		Payload: []byte{1, 2},
	}, make([]byte, 16))
	require.NoError(t, err)

	require.Equal(t, append([]byte("RTSP/1.0 200 OK\r\nCSeq: 1\r\n\r\n"),
		0x24, 0x1, 0x0, 0x2, 0x1, 0x2), buf.Bytes())
}

func TestReadResponseUnexpectedRequest(t *testing.T) {
	c := NewConn(bytes.NewBuffer([]byte("OPTIONS rtsp://localhost/ RTSP/1.0\r\nCSeq: 1\r\n\r\n")))

	_, err := c.ReadResponseIgnoreFrames()
	require.EqualError(t, err, "received a OPTIONS request while waiting for a response")
}
