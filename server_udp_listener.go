package rtspserver

import (
	"net"
	"net/netip"
	"sync"
	"time"
)

// udpReadFunc is called with a packet coming from a client.
// The buffer is reused after the call returns.
type udpReadFunc func([]byte)

// clientKey identifies a client regardless of whether its IPv4 address
// is written in 4-byte or IPv4-mapped form.
func clientKey(ip net.IP, port int) netip.AddrPort {
	addr, _ := netip.AddrFromSlice(ip)
	return netip.AddrPortFrom(addr.Unmap(), uint16(port))
}

// serverUDPListener is a UDP socket shared by all the sessions.
// Incoming packets are dispatched by source address.
type serverUDPListener struct {
	listenPacket func(network, address string) (net.PacketConn, error)
	writeTimeout time.Duration
	address      string

	pc      net.PacketConn
	mutex   sync.RWMutex
	readers map[netip.AddrPort]udpReadFunc

	done chan struct{}
}

func (u *serverUDPListener) initialize() error {
	pc, err := u.listenPacket(restrictNetwork("udp", u.address))
	if err != nil {
		return err
	}

	if uc, ok := pc.(*net.UDPConn); ok {
		err = uc.SetReadBuffer(udpKernelReadBufferSize)
		if err != nil {
			pc.Close()
			return err
		}
	}

	u.pc = pc
	u.readers = make(map[netip.AddrPort]udpReadFunc)
	u.done = make(chan struct{})

	go u.run()

	return nil
}

func (u *serverUDPListener) close() {
	u.pc.Close()
	<-u.done
}

func (u *serverUDPListener) port() int {
	return u.pc.LocalAddr().(*net.UDPAddr).Port
}

func (u *serverUDPListener) reader(key netip.AddrPort) (udpReadFunc, bool) {
	u.mutex.RLock()
	defer u.mutex.RUnlock()
	cb, ok := u.readers[key]
	return cb, ok
}

func (u *serverUDPListener) run() {
	defer close(u.done)

	// one extra byte detects oversized packets.
	buf := make([]byte, udpMaxPayloadSize+1)

	for {
		n, from, err := u.pc.ReadFrom(buf)
		if err != nil {
			return
		}

		ua, ok := from.(*net.UDPAddr)
		if !ok {
			continue
		}

		if cb, ok := u.reader(clientKey(ua.IP, ua.Port)); ok {
			cb(buf[:n])
		}
	}
}

func (u *serverUDPListener) write(buf []byte, addr *net.UDPAddr) error {
	// WriteTo is safe for concurrent use.
	err := u.pc.SetWriteDeadline(time.Now().Add(u.writeTimeout))
	if err != nil {
		return err
	}
	_, err = u.pc.WriteTo(buf, addr)
	return err
}

func (u *serverUDPListener) addClient(ip net.IP, port int, cb udpReadFunc) {
	u.mutex.Lock()
	defer u.mutex.Unlock()
	u.readers[clientKey(ip, port)] = cb
}

func (u *serverUDPListener) removeClient(ip net.IP, port int) {
	u.mutex.Lock()
	defer u.mutex.Unlock()
	delete(u.readers, clientKey(ip, port))
}
