package core

import (
	"context"
	"encoding/json"
	"net"
	"net/http"
	"testing"
	"time"

	"github.com/bluenviron/mediacommon/v2/pkg/codecs/h264"
	"github.com/pion/rtp"
	"github.com/stretchr/testify/require"

	"github.com/netlab/rtspserver/internal/api"
	"github.com/netlab/rtspserver/internal/conf"
	"github.com/netlab/rtspserver/pkg/base"
	"github.com/netlab/rtspserver/pkg/conn"
	"github.com/netlab/rtspserver/pkg/description"
	"github.com/netlab/rtspserver/pkg/format"
	"github.com/netlab/rtspserver/pkg/format/rtph264"
	"github.com/netlab/rtspserver/pkg/headers"
)

func testConf() *conf.Conf {
	c := conf.Default()
	c.RTSPAddress = "127.0.0.1:8654"
	c.UDPRTPAddress = ""
	c.UDPRTCPAddress = ""
	c.MulticastIPRange = ""
	c.API.Enable = true
	c.API.Address = "127.0.0.1:9998"
	c.Mounts = map[string]*conf.Mount{
		"/test": {
			Launch: "videotestsrc ! video/x-raw,width=64,height=48,framerate=25/1 ! " +
				"x264enc ! rtph264pay name=pay0 pt=96",
		},
	}
	return c
}

func writeReqReadRes(t *testing.T, c *conn.Conn, req base.Request) *base.Response {
	err := c.WriteRequest(&req)
	require.NoError(t, err)

	res, err := c.ReadResponseIgnoreFrames()
	require.NoError(t, err)
	return res
}

func getJSON(t *testing.T, u string, dest interface{}) int {
	res, err := http.Get(u)
	require.NoError(t, err)
	defer res.Body.Close()

	if dest != nil && res.StatusCode == http.StatusOK {
		err = json.NewDecoder(res.Body).Decode(dest)
		require.NoError(t, err)
	}
	return res.StatusCode
}

func readAccessUnit(t *testing.T, c *conn.Conn) [][]byte {
	dec := &rtph264.Decoder{}
	err := dec.Init()
	require.NoError(t, err)

	for {
		fr, err := c.ReadInterleavedFrame()
		require.NoError(t, err)

		if fr.Channel != 0 {
			continue
		}

		var pkt rtp.Packet
		err = pkt.Unmarshal(fr.Payload)
		require.NoError(t, err)
		require.Equal(t, uint8(96), pkt.PayloadType)

		au, err := dec.Decode(&pkt)
		if err != nil {
			continue
		}
		return au
	}
}

func TestCorePlay(t *testing.T) {
	c := &Core{Conf: testConf(), Log: testLogger()}
	err := c.Initialize()
	require.NoError(t, err)
	defer c.Close()

	nconn, err := net.Dial("tcp", "127.0.0.1:8654")
	require.NoError(t, err)
	defer nconn.Close()
	rc := conn.NewConn(nconn)

	res := writeReqReadRes(t, rc, base.Request{
		Method: base.Describe,
		URL:    base.MustParseURL("rtsp://127.0.0.1:8654/missing"),
		Header: base.Header{"CSeq": base.HeaderValue{"1"}},
	})
	require.Equal(t, base.StatusNotFound, res.StatusCode)

	// the connection survives a refused request.
	res = writeReqReadRes(t, rc, base.Request{
		Method: base.Describe,
		URL:    base.MustParseURL("rtsp://127.0.0.1:8654/test"),
		Header: base.Header{"CSeq": base.HeaderValue{"2"}},
	})
	require.Equal(t, base.StatusOK, res.StatusCode)

	var desc description.Session
	err = desc.Unmarshal(res.Body)
	require.NoError(t, err)
	require.Len(t, desc.Medias, 1)

	forma, ok := desc.Medias[0].Formats[0].(*format.H264)
	require.True(t, ok)

	var sps h264.SPS
	err = sps.Unmarshal(forma.SPS)
	require.NoError(t, err)
	require.Equal(t, 64, sps.Width())

	res = writeReqReadRes(t, rc, base.Request{
		Method: base.Setup,
		URL:    base.MustParseURL("rtsp://127.0.0.1:8654/test/trackID=0"),
		Header: base.Header{
			"CSeq":      base.HeaderValue{"3"},
			"Transport": base.HeaderValue{"RTP/AVP/TCP;unicast;interleaved=0-1"},
		},
	})
	require.Equal(t, base.StatusOK, res.StatusCode)

	var sx headers.Session
	err = sx.Unmarshal(res.Header["Session"])
	require.NoError(t, err)

	res = writeReqReadRes(t, rc, base.Request{
		Method: base.Play,
		URL:    base.MustParseURL("rtsp://127.0.0.1:8654/test/"),
		Header: base.Header{
			"CSeq":    base.HeaderValue{"4"},
			"Session": base.HeaderValue{sx.Session},
		},
	})
	require.Equal(t, base.StatusOK, res.StatusCode)

	au := readAccessUnit(t, rc)
	require.NotEmpty(t, au)
	require.Equal(t, h264.NALUTypeIDR, h264.NALUType(au[0][0]&0x1F))

	var mounts api.MountList
	code := getJSON(t, "http://127.0.0.1:9998/v1/mounts", &mounts)
	require.Equal(t, http.StatusOK, code)
	require.Equal(t, 1, mounts.ItemCount)
	require.Equal(t, "/test", mounts.Items[0].Path)
	require.Equal(t, []string{"H264"}, mounts.Items[0].Streams)

	var sessions api.SessionList
	code = getJSON(t, "http://127.0.0.1:9998/v1/sessions", &sessions)
	require.Equal(t, http.StatusOK, code)
	require.Equal(t, 1, sessions.ItemCount)
	ses := sessions.Items[0]
	require.Equal(t, "play", ses.State)
	require.Equal(t, "/test", ses.Path)
	require.Equal(t, "TCP", *ses.Transport)

	var one api.Session
	code = getJSON(t, "http://127.0.0.1:9998/v1/sessions/"+ses.ID, &one)
	require.Equal(t, http.StatusOK, code)
	require.Equal(t, ses.ID, one.ID)

	kick, err := http.Post("http://127.0.0.1:9998/v1/sessions/"+ses.ID+"/kick", "application/json", nil)
	require.NoError(t, err)
	kick.Body.Close()
	require.Equal(t, http.StatusOK, kick.StatusCode)

	require.Eventually(t, func() bool {
		return len(c.Server().Sessions()) == 0
	}, 5*time.Second, 50*time.Millisecond)

	code = getJSON(t, "http://127.0.0.1:9998/v1/sessions/"+ses.ID, nil)
	require.Equal(t, http.StatusNotFound, code)
}

func TestCoreStartError(t *testing.T) {
	ln, err := net.Listen("tcp", "127.0.0.1:8654")
	require.NoError(t, err)
	defer ln.Close()

	c := &Core{Conf: testConf(), Log: testLogger()}
	err = c.Initialize()
	require.Error(t, err)
	require.Contains(t, err.Error(), "unable to start the RTSP server")
}

func TestCoreRun(t *testing.T) {
	cnf := testConf()
	cnf.API.Enable = false

	c := &Core{Conf: cnf, Log: testLogger()}
	err := c.Initialize()
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error)
	go func() {
		done <- c.Run(ctx)
	}()

	cancel()

	select {
	case err := <-done:
		require.NoError(t, err)
	case <-time.After(5 * time.Second):
		t.Fatal("Run did not return")
	}

	_, err = net.Dial("tcp", "127.0.0.1:8654")
	require.Error(t, err)
}
