package rtspserver

import (
	"sync/atomic"
	"time"

	"github.com/pion/rtcp"

	"github.com/netlab/rtspserver/pkg/description"
	"github.com/netlab/rtspserver/pkg/headers"
)

type serverStreamMedia struct {
	st      *ServerStream
	media   *description.Media
	trackID int

	formats         map[uint8]*serverStreamFormat
	multicastWriter *serverMulticastWriter
	bytesSent       *uint64
	rtcpPacketsSent *uint64
}

func (sm *serverStreamMedia) initialize(ssrcs map[uint32]struct{}) error {
	sm.bytesSent = new(uint64)
	sm.rtcpPacketsSent = new(uint64)
	sm.formats = make(map[uint8]*serverStreamFormat)

	for _, forma := range sm.media.Formats {
		localSSRC, err := generateLocalSSRC(ssrcs)
		if err != nil {
			for _, sf := range sm.formats {
				sf.close()
			}
			return err
		}

		sf := &serverStreamFormat{
			sm:        sm,
			format:    forma,
			localSSRC: localSSRC,
		}
		sf.initialize()

		sm.formats[forma.PayloadType()] = sf
	}

	return nil
}

func (sm *serverStreamMedia) close() {
	for _, sf := range sm.formats {
		sf.close()
	}

	if sm.multicastWriter != nil {
		sm.multicastWriter.close()
	}
}

func (sm *serverStreamMedia) stats() ServerStreamStatsMedia {
	ret := ServerStreamStatsMedia{
		BytesSent:       atomic.LoadUint64(sm.bytesSent),
		RTCPPacketsSent: atomic.LoadUint64(sm.rtcpPacketsSent),
	}

	for _, forma := range sm.media.Formats {
		sf := sm.formats[forma.PayloadType()]
		ret.RTPPacketsSent += atomic.LoadUint64(sf.rtpPacketsSent)
		if ret.LocalSSRC == 0 {
			ret.LocalSSRC = sf.localSSRC
		}
	}

	return ret
}

// rtpInfoEntry returns the position of the first format of the media,
// or nil if nothing has been sent yet.
func (sm *serverStreamMedia) rtpInfoEntry(now time.Time) *headers.RTPInfoEntry {
	sf := sm.formats[sm.media.Formats[0].PayloadType()]

	seq, ts, ok := sf.rtcpSender.Position(now)
	if !ok {
		return nil
	}

	return &headers.RTPInfoEntry{
		SequenceNumber: &seq,
		Timestamp:      &ts,
	}
}

func (sm *serverStreamMedia) onMulticastError(err error) {
	if h, ok := sm.st.Server.Handler.(ServerHandlerOnStreamWriteError); ok {
		h.OnStreamWriteError(&ServerHandlerOnStreamWriteErrorCtx{
			Error: err,
		})
	}
}

func (sm *serverStreamMedia) writePacketRTCP(pkt rtcp.Packet) error {
	byts, err := pkt.Marshal()
	if err != nil {
		return err
	}

	le := uint64(len(byts))

	// send unicast
	for r := range sm.st.activeUnicastReaders {
		ssm, ok := r.setuppedMedias[sm.media]
		if !ok {
			continue
		}

		err := ssm.writePacketRTCP(byts)
		if err != nil {
			r.onStreamWriteError(err)
			continue
		}

		atomic.AddUint64(sm.bytesSent, le)
		atomic.AddUint64(sm.rtcpPacketsSent, 1)
	}

	// send multicast
	if sm.multicastWriter != nil {
		err := sm.multicastWriter.writePacketRTCP(byts)
		if err != nil {
			return err
		}

		atomic.AddUint64(sm.bytesSent, le)
		atomic.AddUint64(sm.rtcpPacketsSent, 1)
	}

	return nil
}
