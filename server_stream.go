package rtspserver

import (
	"fmt"
	"net"
	"sync"
	"time"

	"github.com/pion/rtcp"
	"github.com/pion/rtp"

	"github.com/netlab/rtspserver/pkg/description"
	"github.com/netlab/rtspserver/pkg/headers"
	"github.com/netlab/rtspserver/pkg/liberrors"
)

func generateLocalSSRC(existing map[uint32]struct{}) (uint32, error) {
	for {
		ssrc, err := randUint32()
		if err != nil {
			return 0, err
		}

		if _, ok := existing[ssrc]; !ok && ssrc != 0 {
			existing[ssrc] = struct{}{}
			return ssrc, nil
		}
	}
}

// ServerStream represents a data stream.
// This is in charge of
// - storing stream description and statistics
// - distributing the stream to each reader
// - allocating multicast writers
type ServerStream struct {
	Server *Server
	Desc   *description.Session

	mutex                sync.RWMutex
	readers              map[*ServerSession]struct{}
	multicastReaderCount int
	activeUnicastReaders map[*ServerSession]struct{}
	medias               map[*description.Media]*serverStreamMedia
	closed               bool
}

// Initialize initializes a ServerStream.
func (st *ServerStream) Initialize() error {
	if st.Server == nil || st.Server.sessions == nil {
		return fmt.Errorf("server not present or not initialized")
	}

	if st.Desc == nil || len(st.Desc.Medias) == 0 {
		return fmt.Errorf("stream has no medias")
	}

	st.readers = make(map[*ServerSession]struct{})
	st.activeUnicastReaders = make(map[*ServerSession]struct{})
	st.medias = make(map[*description.Media]*serverStreamMedia, len(st.Desc.Medias))

	ssrcs := make(map[uint32]struct{})

	for i, medi := range st.Desc.Medias {
		sm := &serverStreamMedia{
			st:      st,
			media:   medi,
			trackID: i,
		}
		err := sm.initialize(ssrcs)
		if err != nil {
			for _, sm := range st.medias {
				sm.close()
			}
			return err
		}

		st.medias[medi] = sm
	}

	return nil
}

// Close closes a ServerStream.
// Every session that is reading the stream is closed too.
func (st *ServerStream) Close() {
	st.mutex.Lock()
	st.closed = true
	readers := make([]*ServerSession, 0, len(st.readers))
	for ss := range st.readers {
		readers = append(readers, ss)
	}
	st.mutex.Unlock()

	for _, ss := range readers {
		ss.Close()
	}

	for _, sm := range st.medias {
		sm.close()
	}
}

// Stats returns stream statistics.
func (st *ServerStream) Stats() *ServerStreamStats {
	st.mutex.RLock()
	readers := len(st.readers)
	st.mutex.RUnlock()

	ret := &ServerStreamStats{
		Readers: readers,
		Medias:  make(map[int]ServerStreamStatsMedia, len(st.medias)),
	}

	for _, sm := range st.medias {
		ms := sm.stats()
		ret.Medias[sm.trackID] = ms
		ret.BytesSent += ms.BytesSent
		ret.RTPPacketsSent += ms.RTPPacketsSent
		ret.RTCPPacketsSent += ms.RTCPPacketsSent
	}

	return ret
}

// checkUDPPorts fails when another reader from the same host already reads on rtpPort.
func (st *ServerStream) checkUDPPorts(ss *ServerSession, rtpPort int) error {
	for r := range st.readers {
		if r == ss || !r.author.ip().Equal(ss.author.ip()) || r.author.zone() != ss.author.zone() {
			continue
		}

		for _, sm := range r.setuppedMedias {
			if sm.udpRTPReadPort == rtpPort {
				return liberrors.ErrServerUDPPortsAlreadyInUse{Port: rtpPort}
			}
		}
	}
	return nil
}

func (st *ServerStream) startMulticastWriters() error {
	for _, sm := range st.medias {
		mw := &serverMulticastWriter{
			s:       st.Server,
			onError: sm.onMulticastError,
		}
		err := mw.initialize()
		if err != nil {
			st.stopMulticastWriters()
			return err
		}
		sm.multicastWriter = mw
	}
	return nil
}

func (st *ServerStream) stopMulticastWriters() {
	for _, sm := range st.medias {
		if sm.multicastWriter != nil {
			sm.multicastWriter.close()
			sm.multicastWriter = nil
		}
	}
}

func (st *ServerStream) readerAdd(
	ss *ServerSession,
	clientPorts *[2]int,
	transport Transport,
) error {
	st.mutex.Lock()
	defer st.mutex.Unlock()

	if st.closed {
		return liberrors.ErrServerStreamClosed{}
	}

	_, known := st.readers[ss]

	switch transport {
	case TransportUDP:
		err := st.checkUDPPorts(ss, clientPorts[0])
		if err != nil {
			return err
		}

	case TransportUDPMulticast:
		// writers are shared by all multicast readers.
		if !known {
			if st.multicastReaderCount == 0 {
				err := st.startMulticastWriters()
				if err != nil {
					return err
				}
			}
			st.multicastReaderCount++
		}
	}

	st.readers[ss] = struct{}{}

	return nil
}

func (st *ServerStream) readerRemove(ss *ServerSession) {
	st.mutex.Lock()
	defer st.mutex.Unlock()

	if _, ok := st.readers[ss]; st.closed || !ok {
		return
	}

	delete(st.readers, ss)
	delete(st.activeUnicastReaders, ss)

	if ss.setuppedTransport != nil && *ss.setuppedTransport == TransportUDPMulticast {
		st.multicastReaderCount--
		if st.multicastReaderCount == 0 {
			st.stopMulticastWriters()
		}
	}
}

func (st *ServerStream) readerSetActive(ss *ServerSession) {
	st.mutex.Lock()
	defer st.mutex.Unlock()

	if st.closed {
		return
	}

	if *ss.setuppedTransport != TransportUDPMulticast {
		st.activeUnicastReaders[ss] = struct{}{}
	}
}

func (st *ServerStream) readerSetInactive(ss *ServerSession) {
	st.mutex.Lock()
	defer st.mutex.Unlock()

	if st.closed {
		return
	}

	delete(st.activeUnicastReaders, ss)
}

func (st *ServerStream) multicastIP(medi *description.Media) net.IP {
	st.mutex.RLock()
	defer st.mutex.RUnlock()

	sm := st.medias[medi]
	if sm == nil || sm.multicastWriter == nil {
		return nil
	}
	return sm.multicastWriter.ip
}

func (st *ServerStream) rtpInfoEntry(medi *description.Media, now time.Time) *headers.RTPInfoEntry {
	sm, ok := st.medias[medi]
	if !ok {
		return nil
	}
	return sm.rtpInfoEntry(now)
}

func (st *ServerStream) media(medi *description.Media) (*serverStreamMedia, error) {
	if st.closed {
		return nil, liberrors.ErrServerStreamClosed{}
	}

	sm, ok := st.medias[medi]
	if !ok {
		return nil, fmt.Errorf("media not found")
	}
	return sm, nil
}

// WritePacketRTP writes a RTP packet to all the readers of the stream.
func (st *ServerStream) WritePacketRTP(medi *description.Media, pkt *rtp.Packet) error {
	return st.WritePacketRTPWithNTP(medi, pkt, st.Server.timeNow())
}

// WritePacketRTPWithNTP writes a RTP packet to all the readers of the stream.
// ntp is the absolute timestamp of the packet, and is sent with periodic RTCP sender reports.
func (st *ServerStream) WritePacketRTPWithNTP(medi *description.Media, pkt *rtp.Packet, ntp time.Time) error {
	st.mutex.RLock()
	defer st.mutex.RUnlock()

	sm, err := st.media(medi)
	if err != nil {
		return err
	}

	sf, ok := sm.formats[pkt.PayloadType]
	if !ok {
		return fmt.Errorf("payload type %d not found", pkt.PayloadType)
	}

	return sf.writePacketRTP(pkt, ntp)
}

// WritePacketRTCP writes a RTCP packet to all the readers of the stream.
func (st *ServerStream) WritePacketRTCP(medi *description.Media, pkt rtcp.Packet) error {
	st.mutex.RLock()
	defer st.mutex.RUnlock()

	sm, err := st.media(medi)
	if err != nil {
		return err
	}

	return sm.writePacketRTCP(pkt)
}
