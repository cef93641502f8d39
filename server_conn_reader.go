package rtspserver

import (
	"errors"
	"time"

	"github.com/netlab/rtspserver/pkg/base"
	"github.com/netlab/rtspserver/pkg/liberrors"
)

// readMode tells the reader of a connection what it can receive.
type readMode int

const (
	// only requests. Used until a session plays over the connection.
	readModeRequests readMode = iota

	// requests and interleaved frames. Used while a session plays over TCP.
	readModeInterleaved
)

// switchReadModeError is returned by a request handler to move the reader
// into another mode after the response has been sent.
type switchReadModeError struct {
	mode readMode
}

func (switchReadModeError) Error() string {
	return "switching read mode"
}

func isSwitchReadModeError(err error) bool {
	var e switchReadModeError
	return errors.As(err, &e)
}

type serverConnReader struct {
	sc *ServerConn

	chReadDone chan struct{}
}

func (cr *serverConnReader) initialize() {
	cr.chReadDone = make(chan struct{})

	go cr.run()
}

func (cr *serverConnReader) wait() {
	<-cr.chReadDone
}

func (cr *serverConnReader) run() {
	defer close(cr.chReadDone)

	mode := readModeRequests

	for {
		err := cr.read(mode)

		var sw switchReadModeError
		if errors.As(err, &sw) {
			mode = sw.mode
			continue
		}

		cr.sc.readError(err)
		return
	}
}

// read processes incoming messages until an error happens or the mode changes.
func (cr *serverConnReader) read(mode readMode) error {
	cr.sc.nconn.SetReadDeadline(time.Time{}) //nolint:errcheck

	var ss *ServerSession

	if mode == readModeInterleaved {
		ss = cr.sc.session

		// packets can be written only after the PLAY response.
		ss.asyncStartWriter()
	}

	for {
		what, err := cr.sc.conn.Read()
		if err != nil {
			return err
		}

		switch what := what.(type) {
		case *base.Request:
			err = cr.sc.readRequest(readReq{req: what, res: make(chan error)})
			if err != nil {
				return err
			}

		case *base.Response:
			return liberrors.ErrServerUnexpectedResponse{}

		case *base.InterleavedFrame:
			if ss == nil {
				return liberrors.ErrServerUnexpectedFrame{}
			}

			// RTCP receiver reports of the client. Frames on unknown channels are dropped.
			if cb, ok := ss.tcpCallbackByChannel[what.Channel]; ok {
				cb(what.Payload)
			}
		}
	}
}
