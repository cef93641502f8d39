// Package base contains the wire primitives of RTSP/1.0.
package base

import (
	"bufio"
	"fmt"
	"strconv"
)

const (
	rtspProtocol10     = "RTSP/1.0"
	requestMaxMethod   = 64
	requestMaxURL      = 2048
	requestMaxProtocol = 64
)

// Method is a RTSP method.
type Method string

// methods.
const (
	Announce     Method = "ANNOUNCE"
	Describe     Method = "DESCRIBE"
	GetParameter Method = "GET_PARAMETER"
	Options      Method = "OPTIONS"
	Pause        Method = "PAUSE"
	Play         Method = "PLAY"
	Record       Method = "RECORD"
	Setup        Method = "SETUP"
	SetParameter Method = "SET_PARAMETER"
	Teardown     Method = "TEARDOWN"
)

// Request is a RTSP request.
type Request struct {
	Method Method

	// nil when the request line contains "*"
	URL *URL

	Header Header

	Body []byte
}

// Unmarshal reads a request.
func (req *Request) Unmarshal(br *bufio.Reader) error {
	method, err := readToken(br, ' ', requestMaxMethod)
	if err != nil {
		return err
	}

	if method == "" {
		return fmt.Errorf("empty method")
	}
	req.Method = Method(method)

	rawURL, err := readToken(br, ' ', requestMaxURL)
	if err != nil {
		return err
	}

	req.URL = nil
	if rawURL != "*" {
		req.URL, err = ParseURL(rawURL)
		if err != nil {
			return fmt.Errorf("invalid URL (%v)", rawURL)
		}
	}

	proto, err := readLineRest(br, requestMaxProtocol)
	if err != nil {
		return err
	}

	if proto != rtspProtocol10 {
		return fmt.Errorf("expected '%s', got '%s'", rtspProtocol10, proto)
	}

	err = req.Header.unmarshal(br)
	if err != nil {
		return err
	}

	req.Body, err = readBody(req.Header, br)
	return err
}

func (req Request) firstLine() string {
	u := "*"
	if req.URL != nil {
		u = req.URL.CloneWithoutCredentials().String()
	}
	return string(req.Method) + " " + u + " " + rtspProtocol10 + "\r\n"
}

// MarshalSize returns the size of the marshaled request.
func (req Request) MarshalSize() int {
	if len(req.Body) != 0 {
		req.Header = req.Header.withContentLength(len(req.Body))
	}
	return len(req.firstLine()) + req.Header.marshalSize() + len(req.Body)
}

// MarshalTo writes the request into buf.
func (req Request) MarshalTo(buf []byte) (int, error) {
	if len(req.Body) != 0 {
		req.Header = req.Header.withContentLength(len(req.Body))
	}

	n := copy(buf, req.firstLine())
	n += req.Header.marshalTo(buf[n:])
	n += copy(buf[n:], req.Body)
	return n, nil
}

// Marshal encodes the request.
func (req Request) Marshal() ([]byte, error) {
	buf := make([]byte, req.MarshalSize())
	n, err := req.MarshalTo(buf)
	return buf[:n], err
}

// String implements fmt.Stringer.
func (req Request) String() string {
	buf, _ := req.Marshal()
	return string(buf)
}

// CSeq returns the sequence number of the request.
func (req Request) CSeq() (int, bool) {
	v, ok := req.Header["CSeq"]
	if !ok || len(v) != 1 {
		return 0, false
	}

	tmp, err := strconv.ParseUint(v[0], 10, 31)
	if err != nil {
		return 0, false
	}

	return int(tmp), true
}
