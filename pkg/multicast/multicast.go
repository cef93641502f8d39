// Package multicast contains a connection that sends UDP packets
// to a multicast group on every multicast-capable interface.
package multicast

import (
	"fmt"
	"net"
	"time"

	"golang.org/x/net/ipv4"
)

const (
	// same value as GStreamer's rtspsrc
	TTL = 16
)

// Writer is a write-only multicast connection.
type Writer struct {
	conns   []net.PacketConn
	connIPs []*ipv4.PacketConn
}

// NewWriter opens one socket per multicast-capable interface.
func NewWriter(
	listenPacket func(network, address string) (net.PacketConn, error),
) (*Writer, error) {
	intfs, err := net.Interfaces()
	if err != nil {
		return nil, err
	}

	w := &Writer{}

	for _, intf := range intfs {
		if (intf.Flags&net.FlagUp) == 0 || (intf.Flags&net.FlagMulticast) == 0 {
			continue
		}
		cintf := intf

		conn, err := listenPacket("udp4", ":0")
		if err != nil {
			w.Close()
			return nil, err
		}

		connIP := ipv4.NewPacketConn(conn)

		err = connIP.SetMulticastInterface(&cintf)
		if err != nil {
			// interfaces without an IPv4 address can't be used.
			conn.Close()
			continue
		}

		err = connIP.SetMulticastTTL(TTL)
		if err != nil {
			conn.Close()
			w.Close()
			return nil, err
		}

		connIP.SetMulticastLoopback(true) //nolint:errcheck

		w.conns = append(w.conns, conn)
		w.connIPs = append(w.connIPs, connIP)
	}

	if w.conns == nil {
		return nil, fmt.Errorf("no multicast-capable interfaces found")
	}

	return w, nil
}

// Close closes all sockets.
func (w *Writer) Close() error {
	for _, c := range w.conns {
		c.Close()
	}
	return nil
}

// Interfaces returns the number of interfaces in use.
func (w *Writer) Interfaces() int {
	return len(w.conns)
}

// SetWriteDeadline sets the write deadline of all sockets.
func (w *Writer) SetWriteDeadline(t time.Time) error {
	var err error
	for _, c := range w.conns {
		err2 := c.SetWriteDeadline(t)
		if err == nil {
			err = err2
		}
	}
	return err
}

// WriteTo sends the packet on every interface.
// It fails only if every interface fails.
func (w *Writer) WriteTo(b []byte, addr net.Addr) (int, error) {
	var n int
	var firstErr error
	ok := false

	for _, c := range w.conns {
		n2, err := c.WriteTo(b, addr)
		if err != nil {
			if firstErr == nil {
				firstErr = err
			}
			continue
		}
		n = n2
		ok = true
	}

	if !ok {
		return 0, firstErr
	}
	return n, nil
}
