// Package rtspserver is a RTSP 1.0 server that delivers RTP streams
// over UDP, UDP-multicast and TCP.
package rtspserver

import (
	"context"
	"fmt"
	"net"
	"strconv"
	"sync"
	"time"

	"github.com/netlab/rtspserver/pkg/base"
	"github.com/netlab/rtspserver/pkg/liberrors"
)

const (
	serverHeader            = "rtsp-testserver"
	udpMaxPayloadSize       = 1472 // 1500 (UDP MTU) - 20 (IP header) - 8 (UDP header)
	udpKernelReadBufferSize = 0x80000
)

func extractPort(address string) (int, error) {
	_, tmp, err := net.SplitHostPort(address)
	if err != nil {
		return 0, err
	}

	tmp2, err := strconv.ParseUint(tmp, 10, 16)
	if err != nil {
		return 0, err
	}

	return int(tmp2), nil
}

// nextMulticastIP returns the address that follows cur inside n,
// skipping the network and broadcast addresses.
func nextMulticastIP(cur net.IP, n *net.IPNet) net.IP {
	ip := cur.To4()
	mask := uint32(n.Mask[0])<<24 | uint32(n.Mask[1])<<16 | uint32(n.Mask[2])<<8 | uint32(n.Mask[3])
	netIP := n.IP.To4()
	base32 := uint32(netIP[0])<<24 | uint32(netIP[1])<<16 | uint32(netIP[2])<<8 | uint32(netIP[3])
	cur32 := uint32(ip[0])<<24 | uint32(ip[1])<<16 | uint32(ip[2])<<8 | uint32(ip[3])

	next := (base32 & mask) | ((cur32 + 1) & ^mask)
	if (next & ^mask) == ^mask || (next & ^mask) == 0 {
		next = (base32 & mask) | 1
	}

	return net.IPv4(byte(next>>24), byte(next>>16), byte(next>>8), byte(next)).To4()
}

type sessionRequestRes struct {
	ss  *ServerSession
	res *base.Response
	err error
}

type sessionRequestReq struct {
	sc     *ServerConn
	req    *base.Request
	id     string
	create bool
	res    chan sessionRequestRes
}

type getMulticastIPRes struct {
	ip  net.IP
	err error
}

type getMulticastIPReq struct {
	res chan getMulticastIPRes
}

type newConnReq struct {
	nconn     net.Conn
	webSocket bool
}

// Server is a RTSP server.
type Server struct {
	//
	// RTSP parameters (all optional except RTSPAddress)
	//
	// the RTSP handler, that receives the callbacks.
	Handler ServerHandler
	// address of the RTSP listener, i.e. 127.0.0.1:8554.
	RTSPAddress string
	// a port to receive and send RTP packets with the UDP transport.
	// If UDPRTPAddress and UDPRTCPAddress are filled, the server can support the UDP transport.
	UDPRTPAddress string
	// a port to receive and send RTCP packets with the UDP transport.
	UDPRTCPAddress string
	// a range of multicast IPs to use with the UDP-multicast transport.
	// If MulticastIPRange, MulticastRTPPort, MulticastRTCPPort are filled, the server
	// can support the UDP-multicast transport.
	MulticastIPRange string
	// a port to send RTP packets with the UDP-multicast transport.
	MulticastRTPPort int
	// a port to send RTCP packets with the UDP-multicast transport.
	MulticastRTCPPort int
	// address of a HTTP listener that accepts RTSP tunneled into WebSocket.
	WebSocketAddress string
	// timeout for reading the HTTP request that opens a WebSocket tunnel.
	// RTSP reads have no deadline: idle clients are closed by SessionTimeout.
	// It defaults to 10 seconds
	ReadTimeout time.Duration
	// timeout of write operations.
	// It defaults to 10 seconds
	WriteTimeout time.Duration
	// time after which an idle UDP session is closed.
	// It defaults to 60 seconds
	SessionTimeout time.Duration
	// size of the queue of outgoing packets of each session.
	// It defaults to 256. It must be a power of two.
	WriteQueueSize int
	// maximum size of outgoing RTP / RTCP packets.
	// This must be less than the UDP MTU (1472 bytes).
	// It defaults to 1472.
	MaxPacketSize int
	// function used to initialize the TCP listener.
	// It defaults to net.Listen.
	Listen func(network string, address string) (net.Listener, error)
	// function used to initialize UDP listeners.
	// It defaults to net.ListenPacket.
	ListenPacket func(network, address string) (net.PacketConn, error)

	//
	// private
	//

	timeNow            func() time.Time
	senderReportPeriod time.Duration
	checkStreamPeriod  time.Duration

	ctx             context.Context
	ctxCancel       func()
	wg              sync.WaitGroup
	multicastNet    *net.IPNet
	multicastNextIP net.IP
	tcpListener     *serverTCPListener
	wsListener      *serverWebSocketListener
	udpRTPListener  *serverUDPListener
	udpRTCPListener *serverUDPListener
	sessions        map[string]*ServerSession
	conns           map[*ServerConn]struct{}
	closeError      error

	// in
	chNewConn        chan newConnReq
	chAcceptErr      chan error
	chCloseConn      chan *ServerConn
	chHandleRequest  chan sessionRequestReq
	chCloseSession   chan *ServerSession
	chGetMulticastIP chan getMulticastIPReq
	chSessions       chan chan []*ServerSession

	// out
	done chan struct{}
}

// Start starts the server.
func (s *Server) Start() error {
	// RTSP parameters
	if s.ReadTimeout == 0 {
		s.ReadTimeout = 10 * time.Second
	}
	if s.WriteTimeout == 0 {
		s.WriteTimeout = 10 * time.Second
	}
	if s.SessionTimeout == 0 {
		s.SessionTimeout = 60 * time.Second
	}
	if s.WriteQueueSize == 0 {
		s.WriteQueueSize = 256
	} else if !isPowerOfTwo(s.WriteQueueSize) {
		return fmt.Errorf("WriteQueueSize must be a power of two")
	}
	if s.MaxPacketSize == 0 {
		s.MaxPacketSize = udpMaxPayloadSize
	} else if s.MaxPacketSize > udpMaxPayloadSize {
		return fmt.Errorf("MaxPacketSize must be less than %d", udpMaxPayloadSize)
	}
	if s.Listen == nil {
		s.Listen = net.Listen
	}
	if s.ListenPacket == nil {
		s.ListenPacket = net.ListenPacket
	}

	// private
	if s.timeNow == nil {
		s.timeNow = time.Now
	}
	if s.senderReportPeriod == 0 {
		s.senderReportPeriod = 10 * time.Second
	}
	if s.checkStreamPeriod == 0 {
		s.checkStreamPeriod = 1 * time.Second
	}

	if s.RTSPAddress == "" {
		return fmt.Errorf("RTSPAddress not provided")
	}

	if (s.UDPRTPAddress != "" && s.UDPRTCPAddress == "") ||
		(s.UDPRTPAddress == "" && s.UDPRTCPAddress != "") {
		return fmt.Errorf("UDPRTPAddress and UDPRTCPAddress must be used together")
	}

	if s.UDPRTPAddress != "" {
		rtpPort, err := extractPort(s.UDPRTPAddress)
		if err != nil {
			return err
		}

		rtcpPort, err := extractPort(s.UDPRTCPAddress)
		if err != nil {
			return err
		}

		if (rtpPort % 2) != 0 {
			return fmt.Errorf("RTP port must be even")
		}

		if rtcpPort != (rtpPort + 1) {
			return fmt.Errorf("RTP and RTCP ports must be consecutive")
		}
	}

	if s.MulticastIPRange != "" {
		if s.MulticastRTPPort == 0 || s.MulticastRTCPPort == 0 {
			return fmt.Errorf("MulticastRTPPort and MulticastRTCPPort must be filled")
		}

		if (s.MulticastRTPPort % 2) != 0 {
			return fmt.Errorf("RTP port must be even")
		}

		if s.MulticastRTCPPort != (s.MulticastRTPPort + 1) {
			return fmt.Errorf("RTP and RTCP ports must be consecutive")
		}

		var err error
		_, s.multicastNet, err = net.ParseCIDR(s.MulticastIPRange)
		if err != nil {
			return err
		}

		if s.multicastNet.IP.To4() == nil || !s.multicastNet.IP.IsMulticast() {
			return fmt.Errorf("MulticastIPRange must be an IPv4 multicast range")
		}

		s.multicastNextIP = s.multicastNet.IP
	}

	s.ctx, s.ctxCancel = context.WithCancel(context.Background())

	s.sessions = make(map[string]*ServerSession)
	s.conns = make(map[*ServerConn]struct{})
	s.chNewConn = make(chan newConnReq)
	s.chAcceptErr = make(chan error)
	s.chCloseConn = make(chan *ServerConn)
	s.chHandleRequest = make(chan sessionRequestReq)
	s.chCloseSession = make(chan *ServerSession)
	s.chGetMulticastIP = make(chan getMulticastIPReq)
	s.chSessions = make(chan chan []*ServerSession)

	if s.UDPRTPAddress != "" {
		s.udpRTPListener = &serverUDPListener{
			listenPacket: s.ListenPacket,
			writeTimeout: s.WriteTimeout,
			address:      s.UDPRTPAddress,
		}
		err := s.udpRTPListener.initialize()
		if err != nil {
			s.ctxCancel()
			return err
		}

		s.udpRTCPListener = &serverUDPListener{
			listenPacket: s.ListenPacket,
			writeTimeout: s.WriteTimeout,
			address:      s.UDPRTCPAddress,
		}
		err = s.udpRTCPListener.initialize()
		if err != nil {
			s.udpRTPListener.close()
			s.ctxCancel()
			return err
		}
	}

	s.tcpListener = &serverTCPListener{
		s: s,
	}
	err := s.tcpListener.initialize()
	if err != nil {
		if s.udpRTPListener != nil {
			s.udpRTPListener.close()
			s.udpRTCPListener.close()
		}
		s.ctxCancel()
		return err
	}

	if s.WebSocketAddress != "" {
		s.wsListener = &serverWebSocketListener{
			s: s,
		}
		err = s.wsListener.initialize()
		if err != nil {
			s.tcpListener.close()
			if s.udpRTPListener != nil {
				s.udpRTPListener.close()
				s.udpRTCPListener.close()
			}
			s.ctxCancel()
			return err
		}
	}

	s.done = make(chan struct{})
	go s.run()

	return nil
}

// Close closes all the server resources and waits for them to close.
func (s *Server) Close() {
	s.ctxCancel()
	<-s.done
}

// Wait waits until all server resources are closed.
// This can happen when a fatal error occurs or when Close() is called.
func (s *Server) Wait() error {
	<-s.done
	return s.closeError
}

// StartAndWait starts the server and waits until a fatal error.
func (s *Server) StartAndWait() error {
	err := s.Start()
	if err != nil {
		return err
	}

	return s.Wait()
}

// RTSPPort returns the port of the RTSP listener.
func (s *Server) RTSPPort() int {
	return s.tcpListener.port()
}

// WebSocketPort returns the port of the WebSocket listener, or zero if it is disabled.
func (s *Server) WebSocketPort() int {
	if s.wsListener == nil {
		return 0
	}
	return s.wsListener.port()
}

// Sessions returns a snapshot of the open sessions.
func (s *Server) Sessions() []*ServerSession {
	ch := make(chan []*ServerSession)

	select {
	case s.chSessions <- ch:
		return <-ch
	case <-s.ctx.Done():
		return nil
	}
}

func (s *Server) run() {
	defer close(s.done)

	s.closeError = s.runInner()

	s.ctxCancel()

	if s.wsListener != nil {
		s.wsListener.close()
	}

	if s.udpRTCPListener != nil {
		s.udpRTCPListener.close()
	}

	if s.udpRTPListener != nil {
		s.udpRTPListener.close()
	}

	s.tcpListener.close()

	s.wg.Wait()
}

func (s *Server) runInner() error {
	for {
		select {
		case err := <-s.chAcceptErr:
			return err

		case req := <-s.chNewConn:
			sc := &ServerConn{
				s:         s,
				nconn:     req.nconn,
				webSocket: req.webSocket,
			}
			sc.initialize()
			s.conns[sc] = struct{}{}

		case sc := <-s.chCloseConn:
			if _, ok := s.conns[sc]; !ok {
				continue
			}
			delete(s.conns, sc)

		case req := <-s.chHandleRequest:
			if ss, ok := s.sessions[req.id]; ok {
				if !req.sc.ip().Equal(ss.author.ip()) ||
					req.sc.zone() != ss.author.zone() {
					req.res <- sessionRequestRes{
						res: &base.Response{
							StatusCode: base.StatusBadRequest,
						},
						err: liberrors.ErrServerCannotUseSessionCreatedByOtherIP{},
					}
					continue
				}

				select {
				case ss.chHandleRequest <- req:
				case <-ss.ctx.Done():
					req.res <- sessionRequestRes{
						res: &base.Response{
							StatusCode: base.StatusBadRequest,
						},
						err: liberrors.ErrServerTerminated{},
					}
				}
			} else {
				if !req.create {
					req.res <- sessionRequestRes{
						res: &base.Response{
							StatusCode: base.StatusSessionNotFound,
						},
						err: liberrors.ErrServerSessionNotFound{},
					}
					continue
				}

				ss := &ServerSession{
					s:      s,
					author: req.sc,
				}
				ss.initialize()
				s.sessions[ss.secretID] = ss

				select {
				case ss.chHandleRequest <- req:
				case <-ss.ctx.Done():
					req.res <- sessionRequestRes{
						res: &base.Response{
							StatusCode: base.StatusBadRequest,
						},
						err: liberrors.ErrServerTerminated{},
					}
				}
			}

		case ss := <-s.chCloseSession:
			if sss, ok := s.sessions[ss.secretID]; !ok || sss != ss {
				continue
			}
			delete(s.sessions, ss.secretID)

		case req := <-s.chGetMulticastIP:
			ip := nextMulticastIP(s.multicastNextIP, s.multicastNet)
			s.multicastNextIP = ip
			req.res <- getMulticastIPRes{ip: ip}

		case ch := <-s.chSessions:
			ret := make([]*ServerSession, 0, len(s.sessions))
			for _, ss := range s.sessions {
				ret = append(ret, ss)
			}
			ch <- ret

		case <-s.ctx.Done():
			return liberrors.ErrServerTerminated{}
		}
	}
}

func (s *Server) getMulticastIP() (net.IP, error) {
	res := make(chan getMulticastIPRes)

	select {
	case s.chGetMulticastIP <- getMulticastIPReq{res: res}:
		out := <-res
		return out.ip, out.err

	case <-s.ctx.Done():
		return nil, liberrors.ErrServerTerminated{}
	}
}

func (s *Server) newConn(nconn net.Conn, webSocket bool) {
	select {
	case s.chNewConn <- newConnReq{nconn: nconn, webSocket: webSocket}:
	case <-s.ctx.Done():
		nconn.Close()
	}
}

func (s *Server) acceptErr(err error) {
	select {
	case s.chAcceptErr <- err:
	case <-s.ctx.Done():
	}
}

func (s *Server) closeConn(sc *ServerConn) {
	select {
	case s.chCloseConn <- sc:
	case <-s.ctx.Done():
	}
}

func (s *Server) closeSession(ss *ServerSession) {
	select {
	case s.chCloseSession <- ss:
	case <-s.ctx.Done():
	}
}

func (s *Server) handleRequest(req sessionRequestReq) (*base.Response, *ServerSession, error) {
	select {
	case s.chHandleRequest <- req:
		res := <-req.res
		return res.res, res.ss, res.err

	case <-s.ctx.Done():
		return &base.Response{StatusCode: base.StatusBadRequest}, req.sc.session, liberrors.ErrServerTerminated{}
	}
}
