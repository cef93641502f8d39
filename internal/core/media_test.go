package core

import (
	"bufio"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/bluenviron/mediacommon/v2/pkg/codecs/h264"
	"github.com/bluenviron/mediacommon/v2/pkg/formats/mpegts"
	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/require"

	"github.com/netlab/rtspserver"
	"github.com/netlab/rtspserver/internal/launch"
	"github.com/netlab/rtspserver/pkg/description"
	"github.com/netlab/rtspserver/pkg/format"
	"github.com/netlab/rtspserver/pkg/testsrc"
)

func testLogger() *logrus.Logger {
	l := logrus.New()
	l.SetLevel(logrus.WarnLevel)
	return l
}

func startTestServer(t *testing.T) *rtspserver.Server {
	s := &rtspserver.Server{
		RTSPAddress: "127.0.0.1:8654",
	}
	err := s.Start()
	require.NoError(t, err)
	return s
}

func newTestFactory(t *testing.T, s *rtspserver.Server, lnch string, shared bool) *MediaFactory {
	f := &MediaFactory{
		Launch: lnch,
		Shared: shared,
		Server: s,
		Log:    testLogger(),
	}
	err := f.Initialize()
	require.NoError(t, err)
	return f
}

func waitDone(t *testing.T, m *Media) {
	select {
	case <-m.Done():
	case <-time.After(5 * time.Second):
		t.Fatal("sources did not stop")
	}
}

func writeTestTS(t *testing.T, fpath string, frames int) *testsrc.H264Encoder {
	enc := &testsrc.H264Encoder{
		Width:  64,
		Height: 48,
		FPSNum: 25,
		FPSDen: 1,
	}
	err := enc.Initialize()
	require.NoError(t, err)

	src := &testsrc.VideoSource{Pattern: testsrc.PatternSMPTE, Width: 64, Height: 48}
	err = src.Initialize()
	require.NoError(t, err)

	f, err := os.Create(fpath)
	require.NoError(t, err)
	defer f.Close()

	b := bufio.NewWriter(f)
	track := &mpegts.Track{Codec: &mpegts.CodecH264{}}
	w := mpegts.NewWriter(b, []*mpegts.Track{track})

	for i := 0; i < frames; i++ {
		au, err := enc.Encode(src.Next())
		require.NoError(t, err)

		au = append([][]byte{enc.SPS(), enc.PPS()}, au...)
		ts := int64(i) * 90000 / 25

		err = w.WriteH264(track, ts, ts, au)
		require.NoError(t, err)
	}

	err = b.Flush()
	require.NoError(t, err)

	return enc
}

func TestMediaVideo(t *testing.T) {
	s := startTestServer(t)
	defer s.Close()

	f := newTestFactory(t, s,
		"videotestsrc pattern=ball num-buffers=3 ! video/x-raw,width=64,height=48,framerate=20/1 ! "+
			"x264enc ! rtph264pay name=pay0 pt=96", false)
	defer f.Close()

	start := time.Now()

	m, err := f.Construct()
	require.NoError(t, err)
	defer f.Release(m)

	require.Len(t, m.Stream.Desc.Medias, 1)
	medi := m.Stream.Desc.Medias[0]
	require.Equal(t, description.MediaTypeVideo, medi.Type)

	forma, ok := medi.Formats[0].(*format.H264)
	require.True(t, ok)
	require.Equal(t, uint8(96), forma.PayloadTyp)
	require.Equal(t, 1, forma.PacketizationMode)

	var sps h264.SPS
	err = sps.Unmarshal(forma.SPS)
	require.NoError(t, err)
	require.Equal(t, 64, sps.Width())
	require.Equal(t, 48, sps.Height())
	require.Equal(t, float64(20), sps.FPS())

	// the third frame is due 100ms after the first one.
	waitDone(t, m)
	require.GreaterOrEqual(t, time.Since(start), 100*time.Millisecond)
}

func TestMediaAudio(t *testing.T) {
	s := startTestServer(t)
	defer s.Close()

	for _, ca := range []struct {
		name   string
		launch string
		pt     uint8
		mulaw  bool
	}{
		{
			"pcmu",
			"audiotestsrc ! mulawenc ! rtppcmupay name=pay0 pt=0",
			0,
			true,
		},
		{
			"pcma",
			"audiotestsrc freq=1000 ! alawenc ! rtppcmapay name=pay0 pt=8",
			8,
			false,
		},
	} {
		t.Run(ca.name, func(t *testing.T) {
			f := newTestFactory(t, s, ca.launch, false)
			defer f.Close()

			m, err := f.Construct()
			require.NoError(t, err)
			defer f.Release(m)

			require.Equal(t, description.MediaTypeAudio, m.Stream.Desc.Medias[0].Type)
			require.Equal(t, &format.G711{
				PayloadTyp: ca.pt,
				MULaw:      ca.mulaw,
			}, m.Stream.Desc.Medias[0].Formats[0])
		})
	}
}

func TestMediaMultipleStreams(t *testing.T) {
	s := startTestServer(t)
	defer s.Close()

	f := newTestFactory(t, s,
		"( videotestsrc ! x264enc ! rtph264pay name=pay0 pt=96 ) "+
			"( audiotestsrc ! mulawenc ! rtppcmupay name=pay1 pt=0 )", false)
	defer f.Close()

	m, err := f.Construct()
	require.NoError(t, err)
	defer f.Release(m)

	require.Len(t, m.Stream.Desc.Medias, 2)
	require.Equal(t, description.MediaTypeVideo, m.Stream.Desc.Medias[0].Type)
	require.Equal(t, description.MediaTypeAudio, m.Stream.Desc.Medias[1].Type)
}

func TestMediaFile(t *testing.T) {
	fpath := filepath.Join(t.TempDir(), "video.ts")
	enc := writeTestTS(t, fpath, 5)

	s := startTestServer(t)
	defer s.Close()

	f := newTestFactory(t, s,
		"filesrc location="+fpath+" ! tsdemux ! h264parse ! rtph264pay name=pay0 pt=96", false)
	defer f.Close()

	m, err := f.Construct()
	require.NoError(t, err)

	forma := m.Stream.Desc.Medias[0].Formats[0].(*format.H264)
	sps, pps := forma.SafeParams()
	require.Equal(t, enc.SPS(), sps)
	require.Equal(t, enc.PPS(), pps)

	// the file is looped, so sources keep running until the media is closed.
	select {
	case <-m.Done():
		t.Fatal("file source stopped")
	case <-time.After(500 * time.Millisecond):
	}

	f.Release(m)
	waitDone(t, m)
}

func TestMediaFileErrors(t *testing.T) {
	s := startTestServer(t)
	defer s.Close()

	dir := t.TempDir()

	empty := filepath.Join(dir, "empty.ts")
	err := os.WriteFile(empty, nil, 0o644)
	require.NoError(t, err)

	for _, ca := range []struct {
		name string
		path string
	}{
		{"missing", filepath.Join(dir, "missing.ts")},
		{"empty", empty},
	} {
		t.Run(ca.name, func(t *testing.T) {
			f := newTestFactory(t, s, "filesrc location="+ca.path+" ! tsdemux ! rtph264pay name=pay0", false)
			defer f.Close()

			_, err := f.Construct()
			require.Error(t, err)
		})
	}
}

func TestMediaFactoryShared(t *testing.T) {
	s := startTestServer(t)
	defer s.Close()

	shared := newTestFactory(t, s, "videotestsrc ! x264enc ! rtph264pay name=pay0 pt=96", true)

	m1, err := shared.Construct()
	require.NoError(t, err)
	m2, err := shared.Construct()
	require.NoError(t, err)
	require.Same(t, m1, m2)
	require.Equal(t, 2, shared.Clients())

	shared.Release(m1)
	shared.Release(m2)
	require.Equal(t, 0, shared.Clients())

	// the shared media keeps running without clients.
	select {
	case <-m1.Done():
		t.Fatal("shared media stopped")
	case <-time.After(200 * time.Millisecond):
	}

	shared.Close()
	waitDone(t, m1)

	_, err = shared.Construct()
	require.EqualError(t, err, "factory closed")

	private := newTestFactory(t, s, "videotestsrc ! x264enc ! rtph264pay name=pay0 pt=96", false)
	defer private.Close()

	m3, err := private.Construct()
	require.NoError(t, err)
	m4, err := private.Construct()
	require.NoError(t, err)
	require.NotSame(t, m3, m4)

	private.Release(m3)
	waitDone(t, m3)

	private.Release(m4)
	waitDone(t, m4)
}

func TestMediaFactoryMTU(t *testing.T) {
	s := &rtspserver.Server{
		RTSPAddress:   "127.0.0.1:8654",
		MaxPacketSize: 1200,
	}
	err := s.Start()
	require.NoError(t, err)
	defer s.Close()

	f := &MediaFactory{
		Launch: "videotestsrc ! x264enc ! rtph264pay name=pay0 mtu=1300",
		Server: s,
		Log:    testLogger(),
	}
	err = f.Initialize()
	require.EqualError(t, err, "mtu 1300 of pay0 exceeds the maximum packet size 1200")

	f = newTestFactory(t, s, "videotestsrc ! x264enc ! rtph264pay name=pay0 mtu=1200", false)
	f.Close()
}

func TestVideoSourceConfigInterval(t *testing.T) {
	for _, ca := range []struct {
		name     string
		interval int
		withConf []bool
	}{
		{"never", 0, []bool{false, false, false, false}},
		{"every idr", -1, []bool{true, true, true, true}},
		{"every second", 1, []bool{true, false, true, false}},
	} {
		t.Run(ca.name, func(t *testing.T) {
			pl, err := launch.Parse("videotestsrc ! video/x-raw,width=32,height=32,framerate=2/1 ! " +
				"x264enc ! rtph264pay name=pay0")
			require.NoError(t, err)
			pl.Streams[0].ConfigInterval = ca.interval

			src, err := newSource(pl.Streams[0])
			require.NoError(t, err)
			vs := src.(*videoSource)

			lastParams := int64(-1)
			for n, exp := range ca.withConf {
				au := vs.withParams([][]byte{{0x65}}, int64(n), &lastParams)
				require.Equal(t, exp, len(au) == 3, "frame %d", n)
			}
		})
	}
}

func TestFileClockLoop(t *testing.T) {
	var c fileClock

	// IPB stream, 30 fps, with a non-zero initial DTS.
	frames := [][2]int64{
		{129000, 126000},
		{135000, 129000},
		{132000, 132000},
	}

	var got [][2]int64
	for loop := 0; loop < 2; loop++ {
		for _, f := range frames {
			pts, dts := c.push(f[0], f[1])
			got = append(got, [2]int64{pts, dts})
		}
		require.True(t, c.rewind())
	}

	require.Equal(t, [][2]int64{
		{3000, 0},
		{9000, 3000},
		{6000, 6000},
		{15000, 12000},
		{21000, 15000},
		{18000, 18000},
	}, got)

	require.False(t, c.rewind())
}
