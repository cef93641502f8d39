package rtspserver

import (
	"net"
	"sync/atomic"
	"time"

	"github.com/pion/rtcp"

	"github.com/netlab/rtspserver/pkg/description"
	"github.com/netlab/rtspserver/pkg/liberrors"
)

type serverSessionMedia struct {
	ss               *ServerSession
	media            *description.Media
	trackID          int
	udpRTPReadPort   int
	udpRTPWriteAddr  *net.UDPAddr
	udpRTCPReadPort  int
	udpRTCPWriteAddr *net.UDPAddr
	tcpChannel       int

	writePacketRTPInQueue  func([]byte) error
	writePacketRTCPInQueue func([]byte) error
	bytesReceived          *uint64
	bytesSent              *uint64
	rtpPacketsSent         *uint64
	rtcpPacketsReceived    *uint64
	rtcpPacketsSent        *uint64
	writeErrors            *uint64
}

func (sm *serverSessionMedia) initialize() {
	sm.bytesReceived = new(uint64)
	sm.bytesSent = new(uint64)
	sm.rtpPacketsSent = new(uint64)
	sm.rtcpPacketsReceived = new(uint64)
	sm.rtcpPacketsSent = new(uint64)
	sm.writeErrors = new(uint64)

	switch *sm.ss.setuppedTransport {
	case TransportUDP:
		sm.writePacketRTPInQueue = sm.writePacketRTPInQueueUDP
		sm.writePacketRTCPInQueue = sm.writePacketRTCPInQueueUDP

	case TransportTCP:
		sm.writePacketRTPInQueue = sm.writePacketRTPInQueueTCP
		sm.writePacketRTCPInQueue = sm.writePacketRTCPInQueueTCP

		if sm.ss.tcpCallbackByChannel == nil {
			sm.ss.tcpCallbackByChannel = make(map[int]func([]byte))
		}

		sm.ss.tcpCallbackByChannel[sm.tcpChannel] = sm.readPacketRTPTCP
		sm.ss.tcpCallbackByChannel[sm.tcpChannel+1] = sm.readPacketRTCPTCP
	}
}

func (sm *serverSessionMedia) start() {
	if *sm.ss.setuppedTransport == TransportUDP {
		// some clients send RTP packets to open NAT mappings.
		sm.ss.s.udpRTPListener.addClient(sm.ss.author.ip(), sm.udpRTPReadPort, sm.readPacketRTPUDP)
		sm.ss.s.udpRTCPListener.addClient(sm.ss.author.ip(), sm.udpRTCPReadPort, sm.readPacketRTCPUDP)
	}
}

func (sm *serverSessionMedia) stop() {
	if *sm.ss.setuppedTransport == TransportUDP {
		sm.ss.s.udpRTPListener.removeClient(sm.ss.author.ip(), sm.udpRTPReadPort)
		sm.ss.s.udpRTCPListener.removeClient(sm.ss.author.ip(), sm.udpRTCPReadPort)
	}
}

func (sm *serverSessionMedia) stats() SessionStatsMedia {
	return SessionStatsMedia{
		BytesSent:           atomic.LoadUint64(sm.bytesSent),
		RTPPacketsSent:      atomic.LoadUint64(sm.rtpPacketsSent),
		RTCPPacketsSent:     atomic.LoadUint64(sm.rtcpPacketsSent),
		RTCPPacketsReceived: atomic.LoadUint64(sm.rtcpPacketsReceived),
		WriteErrors:         atomic.LoadUint64(sm.writeErrors),
	}
}

func (sm *serverSessionMedia) readPacketRTPUDP(payload []byte) {
	atomic.AddUint64(sm.bytesReceived, uint64(len(payload)))
	atomic.StoreInt64(sm.ss.udpLastPacketTime, sm.ss.s.timeNow().Unix())
}

func (sm *serverSessionMedia) readPacketRTCPUDP(payload []byte) {
	atomic.AddUint64(sm.bytesReceived, uint64(len(payload)))

	packets, err := rtcp.Unmarshal(payload)
	if err != nil {
		return
	}

	atomic.StoreInt64(sm.ss.udpLastPacketTime, sm.ss.s.timeNow().Unix())
	atomic.AddUint64(sm.rtcpPacketsReceived, uint64(len(packets)))
}

func (sm *serverSessionMedia) readPacketRTPTCP(payload []byte) {
	atomic.AddUint64(sm.bytesReceived, uint64(len(payload)))
}

func (sm *serverSessionMedia) readPacketRTCPTCP(payload []byte) {
	atomic.AddUint64(sm.bytesReceived, uint64(len(payload)))

	packets, err := rtcp.Unmarshal(payload)
	if err != nil {
		return
	}

	atomic.AddUint64(sm.rtcpPacketsReceived, uint64(len(packets)))
}

func (sm *serverSessionMedia) push(cb func() error) error {
	sm.ss.writerMutex.RLock()
	defer sm.ss.writerMutex.RUnlock()

	if sm.ss.writer == nil {
		return nil
	}

	ok := sm.ss.writer.Push(cb)
	if !ok {
		atomic.AddUint64(sm.writeErrors, 1)
		return liberrors.ErrServerWriteQueueFull{}
	}

	return nil
}

func (sm *serverSessionMedia) writePacketRTP(byts []byte) error {
	return sm.push(func() error {
		return sm.writePacketRTPInQueue(byts)
	})
}

func (sm *serverSessionMedia) writePacketRTCP(byts []byte) error {
	return sm.push(func() error {
		return sm.writePacketRTCPInQueue(byts)
	})
}

func (sm *serverSessionMedia) writePacketRTPInQueueUDP(payload []byte) error {
	err := sm.ss.s.udpRTPListener.write(payload, sm.udpRTPWriteAddr)
	if err != nil {
		return err
	}

	atomic.AddUint64(sm.bytesSent, uint64(len(payload)))
	atomic.AddUint64(sm.rtpPacketsSent, 1)
	return nil
}

func (sm *serverSessionMedia) writePacketRTCPInQueueUDP(payload []byte) error {
	err := sm.ss.s.udpRTCPListener.write(payload, sm.udpRTCPWriteAddr)
	if err != nil {
		return err
	}

	atomic.AddUint64(sm.bytesSent, uint64(len(payload)))
	atomic.AddUint64(sm.rtcpPacketsSent, 1)
	return nil
}

func (sm *serverSessionMedia) writeInterleaved(channel int, payload []byte) error {
	sm.ss.tcpFrame.Channel = channel
	sm.ss.tcpFrame.Payload = payload
	sm.ss.tcpConn.nconn.SetWriteDeadline(time.Now().Add(sm.ss.s.WriteTimeout))
	return sm.ss.tcpConn.conn.WriteInterleavedFrame(sm.ss.tcpFrame, sm.ss.tcpBuffer)
}

func (sm *serverSessionMedia) writePacketRTPInQueueTCP(payload []byte) error {
	err := sm.writeInterleaved(sm.tcpChannel, payload)
	if err != nil {
		return err
	}

	atomic.AddUint64(sm.bytesSent, uint64(len(payload)))
	atomic.AddUint64(sm.rtpPacketsSent, 1)
	return nil
}

func (sm *serverSessionMedia) writePacketRTCPInQueueTCP(payload []byte) error {
	err := sm.writeInterleaved(sm.tcpChannel+1, payload)
	if err != nil {
		return err
	}

	atomic.AddUint64(sm.bytesSent, uint64(len(payload)))
	atomic.AddUint64(sm.rtcpPacketsSent, 1)
	return nil
}
