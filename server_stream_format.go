package rtspserver

import (
	"sync/atomic"
	"time"

	"github.com/pion/rtcp"
	"github.com/pion/rtp"

	"github.com/netlab/rtspserver/pkg/format"
	"github.com/netlab/rtspserver/pkg/rtcpsender"
)

type serverStreamFormat struct {
	sm        *serverStreamMedia
	format    format.Format
	localSSRC uint32

	rtcpSender     *rtcpsender.Sender
	rtcpReporter   *rtcpsender.Reporter
	rtpPacketsSent *uint64
}

func (sf *serverStreamFormat) initialize() {
	sf.rtpPacketsSent = new(uint64)

	sf.rtcpSender = &rtcpsender.Sender{
		ClockRate: sf.format.ClockRate(),
	}

	sf.rtcpReporter = &rtcpsender.Reporter{
		Sender:  sf.rtcpSender,
		Period:  sf.sm.st.Server.senderReportPeriod,
		TimeNow: sf.sm.st.Server.timeNow,
		Write: func(sr *rtcp.SenderReport) {
			sf.sm.st.WritePacketRTCP(sf.sm.media, sr) //nolint:errcheck
		},
	}
	sf.rtcpReporter.Start()
}

func (sf *serverStreamFormat) close() {
	sf.rtcpReporter.Close()
}

func (sf *serverStreamFormat) writePacketRTP(pkt *rtp.Packet, ntp time.Time) error {
	// every reader receives the stream with the same SSRC.
	pkt.SSRC = sf.localSSRC

	sf.rtcpSender.Sent(pkt, ntp, sf.sm.st.Server.timeNow(), sf.format.PTSEqualsDTS(pkt))

	byts := make([]byte, sf.sm.st.Server.MaxPacketSize)
	n, err := pkt.MarshalTo(byts)
	if err != nil {
		return err
	}
	byts = byts[:n]

	le := uint64(n)

	// send unicast
	for r := range sf.sm.st.activeUnicastReaders {
		ssm, ok := r.setuppedMedias[sf.sm.media]
		if !ok {
			continue
		}

		err := ssm.writePacketRTP(byts)
		if err != nil {
			r.onStreamWriteError(err)
			continue
		}

		atomic.AddUint64(sf.sm.bytesSent, le)
		atomic.AddUint64(sf.rtpPacketsSent, 1)
	}

	// send multicast
	if sf.sm.multicastWriter != nil {
		err := sf.sm.multicastWriter.writePacketRTP(byts)
		if err != nil {
			return err
		}

		atomic.AddUint64(sf.sm.bytesSent, le)
		atomic.AddUint64(sf.rtpPacketsSent, 1)
	}

	return nil
}
