package rtspserver

import (
	"context"
	"net"
	"time"

	"github.com/netlab/rtspserver/internal/asyncprocessor"
	"github.com/netlab/rtspserver/pkg/liberrors"
	"github.com/netlab/rtspserver/pkg/multicast"
)

// serverMulticastWriter sends the packets of a stream media to its multicast group.
type serverMulticastWriter struct {
	s       *Server
	onError func(error)

	ip       net.IP
	conn     *multicast.Writer
	writer   *asyncprocessor.Processor
	rtpAddr  *net.UDPAddr
	rtcpAddr *net.UDPAddr
}

func (h *serverMulticastWriter) initialize() error {
	ip, err := h.s.getMulticastIP()
	if err != nil {
		return err
	}

	conn, err := multicast.NewWriter(h.s.ListenPacket)
	if err != nil {
		return err
	}

	h.ip = ip
	h.conn = conn
	h.rtpAddr = &net.UDPAddr{IP: ip, Port: h.s.MulticastRTPPort}
	h.rtcpAddr = &net.UDPAddr{IP: ip, Port: h.s.MulticastRTCPPort}

	h.writer = &asyncprocessor.Processor{
		BufferSize: h.s.WriteQueueSize,
		OnError: func(_ context.Context, err error) {
			if h.onError != nil {
				h.onError(err)
			}
		},
	}
	err = h.writer.Initialize()
	if err != nil {
		conn.Close()
		return err
	}
	h.writer.Start()

	return nil
}

func (h *serverMulticastWriter) close() {
	h.writer.Close()
	h.conn.Close()
}

func (h *serverMulticastWriter) write(byts []byte, addr *net.UDPAddr) error {
	h.conn.SetWriteDeadline(time.Now().Add(h.s.WriteTimeout))
	_, err := h.conn.WriteTo(byts, addr)
	return err
}

func (h *serverMulticastWriter) writePacketRTP(byts []byte) error {
	ok := h.writer.Push(func() error {
		return h.write(byts, h.rtpAddr)
	})
	if !ok {
		return liberrors.ErrServerWriteQueueFull{}
	}

	return nil
}

func (h *serverMulticastWriter) writePacketRTCP(byts []byte) error {
	ok := h.writer.Push(func() error {
		return h.write(byts, h.rtcpAddr)
	})
	if !ok {
		return liberrors.ErrServerWriteQueueFull{}
	}

	return nil
}
