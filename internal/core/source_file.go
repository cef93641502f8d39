package core

import (
	"context"
	"io"
	"os"
	"time"

	"github.com/asticode/go-astits"
	"github.com/bluenviron/mediacommon/v2/pkg/codecs/h264"
	"github.com/bluenviron/mediacommon/v2/pkg/formats/mpegts"
	"github.com/pkg/errors"

	"github.com/netlab/rtspserver/internal/launch"
	"github.com/netlab/rtspserver/pkg/description"
	"github.com/netlab/rtspserver/pkg/format"
	"github.com/netlab/rtspserver/pkg/format/rtph264"
)

var errParamsFound = errors.New("parameters found")

func isEOF(err error) bool {
	return errors.Is(err, io.EOF) || errors.Is(err, astits.ErrNoMorePackets)
}

func findH264Track(r *mpegts.Reader) (*mpegts.Track, error) {
	for _, track := range r.Tracks() {
		if _, ok := track.Codec.(*mpegts.CodecH264); ok {
			return track, nil
		}
	}
	return nil, errors.New("H264 track not found")
}

func extractParams(au [][]byte) ([]byte, []byte) {
	var sps []byte
	var pps []byte

	for _, nalu := range au {
		if len(nalu) == 0 {
			continue
		}

		switch h264.NALUType(nalu[0] & 0x1F) {
		case h264.NALUTypeSPS:
			sps = nalu
		case h264.NALUTypePPS:
			pps = nalu
		}
	}

	return sps, pps
}

// fileSource reads H264 from a MPEG-TS file and loops it.
type fileSource struct {
	conf   *launch.FileSource
	stream *launch.Stream

	f      *os.File
	forma  *format.H264
	rtpEnc *rtph264.Encoder
	medi   *description.Media
}

func (s *fileSource) initialize() error {
	var err error
	s.f, err = os.Open(s.conf.Location)
	if err != nil {
		return err
	}

	s.forma = &format.H264{
		PayloadTyp:        s.stream.PayloadType,
		PacketizationMode: 1,
	}

	err = s.scanTracks()
	if err != nil {
		s.f.Close()
		return errors.Wrapf(err, "unable to read '%s'", s.conf.Location)
	}

	s.rtpEnc = &rtph264.Encoder{
		PayloadType:    s.stream.PayloadType,
		PayloadMaxSize: payloadMaxSize(s.stream.MTU),
	}
	err = s.rtpEnc.Init()
	if err != nil {
		s.f.Close()
		return err
	}

	s.medi = &description.Media{
		Type:    description.MediaTypeVideo,
		Formats: []format.Format{s.forma},
	}

	return nil
}

// scanTracks looks for the H264 track and its parameters,
// that are advertised in the session description.
func (s *fileSource) scanTracks() error {
	r := &mpegts.Reader{R: s.f}
	err := r.Initialize()
	if err != nil {
		return err
	}

	track, err := findH264Track(r)
	if err != nil {
		return err
	}

	r.OnDataH264(track, func(_ int64, _ int64, au [][]byte) error {
		sps, pps := extractParams(au)
		if sps != nil && pps != nil {
			s.forma.SafeSetParams(sps, pps)
			return errParamsFound
		}
		return nil
	})

	for {
		err = r.Read()
		if err != nil {
			if errors.Is(err, errParamsFound) || isEOF(err) {
				break
			}
			return err
		}
	}

	_, err = s.f.Seek(0, io.SeekStart)
	return err
}

func (s *fileSource) media() *description.Media {
	return s.medi
}

func (s *fileSource) close() {
	s.f.Close()
}

// fileClock maps the timestamps of a looped file into a continuous timeline.
// Every loop starts one frame interval after the biggest PTS of the previous one.
type fileClock struct {
	// position of the current loop, in 90kHz ticks.
	offset int64

	firstDTS *int64
	maxPTS   int64
	lastDTS  int64
	interval int64
}

// push returns the PTS and DTS of a frame, relative to the first loop.
func (c *fileClock) push(pts int64, dts int64) (int64, int64) {
	if c.firstDTS == nil {
		c.firstDTS = &dts
		c.lastDTS = dts
		c.maxPTS = pts - dts
	}

	if d := dts - c.lastDTS; d > 0 {
		c.interval = d
	}
	c.lastDTS = dts

	pts -= *c.firstDTS
	dts -= *c.firstDTS

	if pts > c.maxPTS {
		c.maxPTS = pts
	}

	return c.offset + pts, c.offset + dts
}

// rewind moves the clock at the beginning of the next loop.
// It returns false when the loop contained no frames.
func (c *fileClock) rewind() bool {
	if c.firstDTS == nil {
		return false
	}

	interval := c.interval
	if interval == 0 {
		interval = 90000 / launch.DefaultFPS
	}

	c.offset += c.maxPTS + interval
	c.firstDTS = nil
	c.interval = 0
	return true
}

func (s *fileSource) run(ctx context.Context, w *mediaWriter) error {
	randomStart, err := randUint32()
	if err != nil {
		return err
	}

	var clock fileClock
	var start time.Time

	for {
		r := &mpegts.Reader{R: s.f}
		err = r.Initialize()
		if err != nil {
			return err
		}

		track, err := findH264Track(r)
		if err != nil {
			return err
		}

		td := mpegts.TimeDecoder{}
		td.Initialize()

		r.OnDataH264(track, func(pts int64, dts int64, au [][]byte) error {
			pts, dts = clock.push(td.Decode(pts), td.Decode(dts))

			if start.IsZero() {
				start = time.Now()
			}

			ntp := start.Add(time.Duration(dts) * time.Second / 90000)

			err := sleepUntil(ctx, ntp)
			if err != nil {
				return err
			}

			if sps, pps := extractParams(au); sps != nil && pps != nil {
				s.forma.SafeSetParams(sps, pps)
			}

			pkts, err := s.rtpEnc.Encode(au)
			if err != nil {
				return err
			}

			// MPEG-TS and H264 share the 90kHz clock
			ts := randomStart + uint32(pts)
			for _, pkt := range pkts {
				pkt.Timestamp = ts
			}

			return w.write(pkts, ntp)
		})

		for {
			err = r.Read()
			if err != nil {
				break
			}
		}

		if !isEOF(err) {
			return err
		}

		if !clock.rewind() {
			return errors.Errorf("file '%s' contains no frames", s.conf.Location)
		}

		w.log.Debugf("file '%s' has ended, rewinding", s.conf.Location)

		_, err = s.f.Seek(0, io.SeekStart)
		if err != nil {
			return err
		}
	}
}
