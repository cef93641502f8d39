package rtspserver

import (
	"errors"
	"net"
	"syscall"
	"time"
)

const (
	acceptRetryMin = 5 * time.Millisecond
	acceptRetryMax = 1 * time.Second
)

// listenerPort returns the TCP port a listener is bound to, or zero.
func listenerPort(ln net.Listener) int {
	if addr, ok := ln.Addr().(*net.TCPAddr); ok {
		return addr.Port
	}
	return 0
}

// isAcceptRetryable reports whether Accept failed because the process
// ran out of file descriptors, a condition that clears when clients leave.
func isAcceptRetryable(err error) bool {
	return errors.Is(err, syscall.EMFILE) || errors.Is(err, syscall.ENFILE)
}

// serverTCPListener accepts plain RTSP connections.
type serverTCPListener struct {
	s *Server

	ln net.Listener
}

func (sl *serverTCPListener) initialize() error {
	ln, err := sl.s.Listen(restrictNetwork("tcp", sl.s.RTSPAddress))
	if err != nil {
		return err
	}
	sl.ln = ln

	sl.s.wg.Add(1)
	go sl.run()

	return nil
}

func (sl *serverTCPListener) close() {
	sl.ln.Close()
}

func (sl *serverTCPListener) port() int {
	return listenerPort(sl.ln)
}

func (sl *serverTCPListener) run() {
	defer sl.s.wg.Done()

	var retry time.Duration

	for {
		nconn, err := sl.ln.Accept()
		if err != nil {
			if !isAcceptRetryable(err) {
				sl.s.acceptErr(err)
				return
			}

			if retry == 0 {
				retry = acceptRetryMin
			} else if retry *= 2; retry > acceptRetryMax {
				retry = acceptRetryMax
			}

			select {
			case <-time.After(retry):
				continue
			case <-sl.s.ctx.Done():
				return
			}
		}

		retry = 0
		sl.s.newConn(nconn, false)
	}
}
