package core

import (
	"context"
	"time"

	"github.com/netlab/rtspserver/internal/launch"
	"github.com/netlab/rtspserver/pkg/description"
	"github.com/netlab/rtspserver/pkg/format"
	"github.com/netlab/rtspserver/pkg/format/rtph264"
	"github.com/netlab/rtspserver/pkg/testsrc"
)

// videoSource renders a test pattern and encodes it into H264.
type videoSource struct {
	conf   *launch.VideoTestSource
	stream *launch.Stream

	pattern *testsrc.VideoSource
	encoder *testsrc.H264Encoder
	forma   *format.H264
	rtpEnc  *rtph264.Encoder
	medi    *description.Media
}

func (s *videoSource) initialize() error {
	s.pattern = &testsrc.VideoSource{
		Pattern: s.conf.Pattern,
		Width:   s.conf.Width,
		Height:  s.conf.Height,
	}
	err := s.pattern.Initialize()
	if err != nil {
		return err
	}

	s.encoder = &testsrc.H264Encoder{
		Width:  s.conf.Width,
		Height: s.conf.Height,
		FPSNum: s.conf.FPSNum,
		FPSDen: s.conf.FPSDen,
	}
	err = s.encoder.Initialize()
	if err != nil {
		return err
	}

	s.forma = &format.H264{
		PayloadTyp:        s.stream.PayloadType,
		SPS:               s.encoder.SPS(),
		PPS:               s.encoder.PPS(),
		PacketizationMode: 1,
	}

	s.rtpEnc = &rtph264.Encoder{
		PayloadType:    s.stream.PayloadType,
		PayloadMaxSize: payloadMaxSize(s.stream.MTU),
	}
	err = s.rtpEnc.Init()
	if err != nil {
		return err
	}

	s.medi = &description.Media{
		Type:    description.MediaTypeVideo,
		Formats: []format.Format{s.forma},
	}

	return nil
}

func (s *videoSource) media() *description.Media {
	return s.medi
}

func (s *videoSource) close() {
}

// frameDuration returns the duration of n frames.
func (s *videoSource) frameDuration(n int64) time.Duration {
	return time.Duration(n) * time.Second * time.Duration(s.conf.FPSDen) / time.Duration(s.conf.FPSNum)
}

func (s *videoSource) withParams(au [][]byte, n int64, lastParams *int64) [][]byte {
	switch {
	case s.stream.ConfigInterval < 0:

	case s.stream.ConfigInterval > 0:
		interval := int64(time.Duration(s.stream.ConfigInterval) * time.Second /
			s.frameDuration(1))
		if *lastParams >= 0 && (n-*lastParams) < interval {
			return au
		}

	default:
		return au
	}

	*lastParams = n
	return append([][]byte{s.encoder.SPS(), s.encoder.PPS()}, au...)
}

func (s *videoSource) run(ctx context.Context, w *mediaWriter) error {
	randomStart, err := randUint32()
	if err != nil {
		return err
	}

	start := time.Now()
	lastParams := int64(-1)

	for n := int64(0); s.conf.NumBuffers < 0 || n < int64(s.conf.NumBuffers); n++ {
		pts := s.frameDuration(n)

		err := sleepUntil(ctx, start.Add(pts))
		if err != nil {
			return err
		}

		au, err := s.encoder.Encode(s.pattern.Next())
		if err != nil {
			return err
		}

		pkts, err := s.rtpEnc.Encode(s.withParams(au, n, &lastParams))
		if err != nil {
			return err
		}

		ts := randomStart + uint32(int64(pts)*int64(s.forma.ClockRate())/int64(time.Second))
		for _, pkt := range pkts {
			pkt.Timestamp = ts
		}

		err = w.write(pkts, start.Add(pts))
		if err != nil {
			return err
		}
	}

	return nil
}
