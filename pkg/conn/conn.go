// Package conn reads and writes RTSP messages and interleaved frames on a stream connection.
package conn

import (
	"bufio"
	"io"

	"github.com/netlab/rtspserver/pkg/base"
)

const readBufferSize = 4096

type marshaler interface {
	Marshal() ([]byte, error)
}

// Conn is a RTSP connection.
// Reads and writes can run in parallel, but not concurrently with themselves.
type Conn struct {
	w  io.Writer
	br *bufio.Reader

	// returned by ReadInterleavedFrame and overwritten by the next read.
	frame base.InterleavedFrame
}

// NewConn allocates a Conn.
func NewConn(rw io.ReadWriter) *Conn {
	return &Conn{
		w:  rw,
		br: bufio.NewReaderSize(rw, readBufferSize),
	}
}

// isResponse reports whether the next message starts with "RTSP/".
func (c *Conn) isResponse(head []byte) bool {
	return head[0] == 'R' && head[1] == 'T'
}

// Read reads the next message, that is a *base.Request,
// a *base.Response or a *base.InterleavedFrame.
func (c *Conn) Read() (interface{}, error) {
	head, err := c.br.Peek(2)
	if err != nil {
		return nil, err
	}

	if head[0] == base.InterleavedFrameMagicByte {
		return c.ReadInterleavedFrame()
	}
	if c.isResponse(head) {
		return c.ReadResponse()
	}
	return c.ReadRequest()
}

// ReadRequest reads a request.
func (c *Conn) ReadRequest() (*base.Request, error) {
	req := &base.Request{}
	return req, req.Unmarshal(c.br)
}

// ReadResponse reads a response.
func (c *Conn) ReadResponse() (*base.Response, error) {
	res := &base.Response{}
	return res, res.Unmarshal(c.br)
}

// ReadInterleavedFrame reads an interleaved frame.
func (c *Conn) ReadInterleavedFrame() (*base.InterleavedFrame, error) {
	return &c.frame, c.frame.Unmarshal(c.br)
}

// ReadResponseIgnoreFrames reads a response, skipping interleaved frames.
func (c *Conn) ReadResponseIgnoreFrames() (*base.Response, error) {
	for {
		msg, err := c.Read()
		if err != nil {
			return nil, err
		}

		switch msg := msg.(type) {
		case *base.Response:
			return msg, nil
		case *base.Request:
			return nil, errUnexpectedRequest{msg.Method}
		}
	}
}

func (c *Conn) write(m marshaler) error {
	buf, err := m.Marshal()
	if err != nil {
		return err
	}
	_, err = c.w.Write(buf)
	return err
}

// WriteRequest writes a request.
func (c *Conn) WriteRequest(req *base.Request) error {
	return c.write(req)
}

// WriteResponse writes a response.
func (c *Conn) WriteResponse(res *base.Response) error {
	return c.write(res)
}

// WriteInterleavedFrame writes an interleaved frame, using buf as scratch space.
// buf must be at least 4 bytes bigger than the payload.
func (c *Conn) WriteInterleavedFrame(fr *base.InterleavedFrame, buf []byte) error {
	n, err := fr.MarshalTo(buf)
	if err != nil {
		return err
	}
	_, err = c.w.Write(buf[:n])
	return err
}

type errUnexpectedRequest struct {
	method base.Method
}

func (e errUnexpectedRequest) Error() string {
	return "received a " + string(e.method) + " request while waiting for a response"
}
