package core

import (
	"context"
	"time"

	"github.com/netlab/rtspserver/internal/launch"
	"github.com/netlab/rtspserver/pkg/description"
	"github.com/netlab/rtspserver/pkg/format"
	"github.com/netlab/rtspserver/pkg/format/rtpsimpleaudio"
	"github.com/netlab/rtspserver/pkg/testsrc"
)

// audioSource generates a tone encoded with G711.
type audioSource struct {
	conf   *launch.AudioTestSource
	stream *launch.Stream

	tone   *testsrc.Tone
	forma  *format.G711
	rtpEnc *rtpsimpleaudio.Encoder
	medi   *description.Media
}

func (s *audioSource) initialize() error {
	mulaw := (s.stream.Codec == launch.CodecPCMU)

	s.tone = &testsrc.Tone{
		Frequency:        s.conf.Frequency,
		Volume:           s.conf.Volume,
		SamplesPerBuffer: s.conf.SamplesPerBuffer,
		MULaw:            mulaw,
	}
	err := s.tone.Initialize()
	if err != nil {
		return err
	}

	s.forma = &format.G711{
		PayloadTyp: s.stream.PayloadType,
		MULaw:      mulaw,
	}

	s.rtpEnc = &rtpsimpleaudio.Encoder{
		PayloadType:    s.stream.PayloadType,
		PayloadMaxSize: payloadMaxSize(s.stream.MTU),
	}
	err = s.rtpEnc.Init()
	if err != nil {
		return err
	}

	s.medi = &description.Media{
		Type:    description.MediaTypeAudio,
		Formats: []format.Format{s.forma},
	}

	return nil
}

func (s *audioSource) media() *description.Media {
	return s.medi
}

func (s *audioSource) close() {
}

func (s *audioSource) run(ctx context.Context, w *mediaWriter) error {
	randomStart, err := randUint32()
	if err != nil {
		return err
	}

	clockRate := int64(s.tone.ClockRate())
	start := time.Now()

	for samples := int64(0); ; samples += int64(s.conf.SamplesPerBuffer) {
		pts := time.Duration(samples) * time.Second / time.Duration(clockRate)

		err := sleepUntil(ctx, start.Add(pts))
		if err != nil {
			return err
		}

		frame, err := s.tone.Next()
		if err != nil {
			return err
		}

		pkts, err := s.rtpEnc.Encode(frame, randomStart+uint32(samples))
		if err != nil {
			return err
		}

		err = w.write(pkts, start.Add(pts))
		if err != nil {
			return err
		}
	}
}
