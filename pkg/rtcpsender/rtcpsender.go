// Package rtcpsender builds the RTCP sender reports of an outgoing RTP stream.
package rtcpsender

import (
	"sync"
	"time"

	"github.com/pion/rtcp"
	"github.com/pion/rtp"

	"github.com/netlab/rtspserver/pkg/ntp"
)

// DefaultPeriod is the interval between reports when Reporter.Period is zero.
const DefaultPeriod = 10 * time.Second

// anchor binds a RTP timestamp to the wall clock and to the system clock.
type anchor struct {
	rtp    uint32
	ntp    time.Time
	system time.Time
}

// Sender keeps track of the packets sent on a RTP stream.
// It is safe for concurrent use.
type Sender struct {
	ClockRate int

	mutex    sync.Mutex
	anchored bool
	anchor   anchor
	ssrc     uint32
	lastSeq  uint16
	packets  uint32
	octets   uint32
}

// Sent records a packet sent at system time now.
// Packets that are not sync points, like B-frames whose PTS differs from DTS,
// are counted but do not move the anchor.
func (s *Sender) Sent(pkt *rtp.Packet, ntp time.Time, now time.Time, syncPoint bool) {
	s.mutex.Lock()
	defer s.mutex.Unlock()

	if syncPoint {
		s.anchored = true
		s.anchor = anchor{
			rtp:    pkt.Timestamp,
			ntp:    ntp,
			system: now,
		}
		s.ssrc = pkt.SSRC
	}

	s.lastSeq = pkt.SequenceNumber
	s.packets++
	s.octets += uint32(len(pkt.Payload))
}

// rtpTime extrapolates the RTP timestamp at system time now.
func (s *Sender) rtpTime(now time.Time) uint32 {
	elapsed := now.Sub(s.anchor.system)
	return s.anchor.rtp + uint32(int64(elapsed.Seconds()*float64(s.ClockRate)))
}

// Report returns the sender report at system time now.
// It returns nil until a sync point has been sent, or when the clock rate is unknown.
func (s *Sender) Report(now time.Time) *rtcp.SenderReport {
	s.mutex.Lock()
	defer s.mutex.Unlock()

	if !s.anchored || s.ClockRate == 0 {
		return nil
	}

	return &rtcp.SenderReport{
		SSRC:        s.ssrc,
		NTPTime:     ntp.Encode(s.anchor.ntp.Add(now.Sub(s.anchor.system))),
		RTPTime:     s.rtpTime(now),
		PacketCount: s.packets,
		OctetCount:  s.octets,
	}
}

// Position returns the sequence number and the RTP timestamp that a packet
// sent at system time now would carry. ok is false until a sync point has been sent.
func (s *Sender) Position(now time.Time) (seq uint16, ts uint32, ok bool) {
	s.mutex.Lock()
	defer s.mutex.Unlock()

	if !s.anchored || s.ClockRate == 0 {
		return 0, 0, false
	}

	return s.lastSeq + 1, s.rtpTime(now), true
}

// Reporter writes the report of a Sender periodically.
type Reporter struct {
	Sender  *Sender
	Period  time.Duration
	TimeNow func() time.Time
	Write   func(*rtcp.SenderReport)

	terminate chan struct{}
	done      chan struct{}
}

// Start starts the reporter.
func (r *Reporter) Start() {
	if r.Period == 0 {
		r.Period = DefaultPeriod
	}
	if r.TimeNow == nil {
		r.TimeNow = time.Now
	}

	r.terminate = make(chan struct{})
	r.done = make(chan struct{})

	go r.run()
}

// Close stops the reporter and waits for it to exit.
func (r *Reporter) Close() {
	close(r.terminate)
	<-r.done
}

func (r *Reporter) run() {
	defer close(r.done)

	t := time.NewTicker(r.Period)
	defer t.Stop()

	for {
		select {
		case <-t.C:
			if sr := r.Sender.Report(r.TimeNow()); sr != nil {
				r.Write(sr)
			}

		case <-r.terminate:
			return
		}
	}
}
