package rtspserver

import (
	"net"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/pion/rtp"
	"github.com/stretchr/testify/require"

	"github.com/netlab/rtspserver/pkg/base"
	"github.com/netlab/rtspserver/pkg/conn"
	"github.com/netlab/rtspserver/pkg/description"
	"github.com/netlab/rtspserver/pkg/format"
	"github.com/netlab/rtspserver/pkg/headers"
	"github.com/netlab/rtspserver/pkg/liberrors"
	"github.com/netlab/rtspserver/pkg/multicast"
)

var (
	testSPS = []byte{
		0x67, 0x42, 0xc0, 0x28, 0xd9, 0x00, 0x78, 0x02,
		0x27, 0xe5, 0x84, 0x00, 0x00, 0x03, 0x00, 0x04,
		0x00, 0x00, 0x03, 0x00, 0xf0, 0x3c, 0x60, 0xc9,
		0x20,
	}
	testPPS = []byte{0x08, 0x06, 0x07, 0x08}
)

func testH264Desc() *description.Session {
	return &description.Session{
		Medias: []*description.Media{{
			Type: description.MediaTypeVideo,
			Formats: []format.Format{&format.H264{
				PayloadTyp:        96,
				SPS:               testSPS,
				PPS:               testPPS,
				PacketizationMode: 1,
			}},
		}},
	}
}

func testRTPPacket() *rtp.Packet {
	return &rtp.Packet{
		Header: rtp.Header{
			Version:        2,
			Marker:         true,
			PayloadType:    96,
			SequenceNumber: 123,
			Timestamp:      45343,
		},
		Payload: []byte{0x05, 0x01, 0x02, 0x03, 0x04},
	}
}

func writeReqReadRes(
	c *conn.Conn,
	req base.Request,
) (*base.Response, error) {
	err := c.WriteRequest(&req)
	if err != nil {
		return nil, err
	}

	return c.ReadResponseIgnoreFrames()
}

func readSession(t *testing.T, res *base.Response) headers.Session {
	var sx headers.Session
	err := sx.Unmarshal(res.Header["Session"])
	require.NoError(t, err)
	return sx
}

func doDescribe(t *testing.T, c *conn.Conn, u string) *description.Session {
	res, err := writeReqReadRes(c, base.Request{
		Method: base.Describe,
		URL:    base.MustParseURL(u),
		Header: base.Header{
			"CSeq":   base.HeaderValue{"1"},
			"Accept": base.HeaderValue{"application/sdp"},
		},
	})
	require.NoError(t, err)
	require.Equal(t, base.StatusOK, res.StatusCode)
	require.Equal(t, base.HeaderValue{"application/sdp"}, res.Header["Content-Type"])

	var desc description.Session
	err = desc.Unmarshal(res.Body)
	require.NoError(t, err)
	return &desc
}

func doSetup(t *testing.T, c *conn.Conn, u string, transport string, session string) *base.Response {
	h := base.Header{
		"CSeq":      base.HeaderValue{"2"},
		"Transport": base.HeaderValue{transport},
	}
	if session != "" {
		h["Session"] = base.HeaderValue{session}
	}

	res, err := writeReqReadRes(c, base.Request{
		Method: base.Setup,
		URL:    base.MustParseURL(u),
		Header: h,
	})
	require.NoError(t, err)
	return res
}

func doPlay(t *testing.T, c *conn.Conn, u string, session string) *base.Response {
	res, err := writeReqReadRes(c, base.Request{
		Method: base.Play,
		URL:    base.MustParseURL(u),
		Header: base.Header{
			"CSeq":    base.HeaderValue{"3"},
			"Session": base.HeaderValue{session},
		},
	})
	require.NoError(t, err)
	return res
}

func doTeardown(t *testing.T, c *conn.Conn, u string, session string) {
	res, err := writeReqReadRes(c, base.Request{
		Method: base.Teardown,
		URL:    base.MustParseURL(u),
		Header: base.Header{
			"CSeq":    base.HeaderValue{"4"},
			"Session": base.HeaderValue{session},
		},
	})
	require.NoError(t, err)
	require.Equal(t, base.StatusOK, res.StatusCode)
}

type testServerHandler struct {
	onConnOpen     func(*ServerHandlerOnConnOpenCtx)
	onConnClose    func(*ServerHandlerOnConnCloseCtx)
	onSessionOpen  func(*ServerHandlerOnSessionOpenCtx)
	onSessionClose func(*ServerHandlerOnSessionCloseCtx)
	onDescribe     func(*ServerHandlerOnDescribeCtx) (*base.Response, *ServerStream, error)
	onSetup        func(*ServerHandlerOnSetupCtx) (*base.Response, *ServerStream, error)
	onPlay         func(*ServerHandlerOnPlayCtx) (*base.Response, error)
	onPause        func(*ServerHandlerOnPauseCtx) (*base.Response, error)
}

func (sh *testServerHandler) OnConnOpen(ctx *ServerHandlerOnConnOpenCtx) {
	if sh.onConnOpen != nil {
		sh.onConnOpen(ctx)
	}
}

func (sh *testServerHandler) OnConnClose(ctx *ServerHandlerOnConnCloseCtx) {
	if sh.onConnClose != nil {
		sh.onConnClose(ctx)
	}
}

func (sh *testServerHandler) OnSessionOpen(ctx *ServerHandlerOnSessionOpenCtx) {
	if sh.onSessionOpen != nil {
		sh.onSessionOpen(ctx)
	}
}

func (sh *testServerHandler) OnSessionClose(ctx *ServerHandlerOnSessionCloseCtx) {
	if sh.onSessionClose != nil {
		sh.onSessionClose(ctx)
	}
}

func (sh *testServerHandler) OnDescribe(ctx *ServerHandlerOnDescribeCtx) (*base.Response, *ServerStream, error) {
	if sh.onDescribe != nil {
		return sh.onDescribe(ctx)
	}
	return &base.Response{StatusCode: base.StatusNotFound}, nil, nil
}

func (sh *testServerHandler) OnSetup(ctx *ServerHandlerOnSetupCtx) (*base.Response, *ServerStream, error) {
	if sh.onSetup != nil {
		return sh.onSetup(ctx)
	}
	return &base.Response{StatusCode: base.StatusNotFound}, nil, nil
}

func (sh *testServerHandler) OnPlay(ctx *ServerHandlerOnPlayCtx) (*base.Response, error) {
	if sh.onPlay != nil {
		return sh.onPlay(ctx)
	}
	return &base.Response{StatusCode: base.StatusOK}, nil
}

func (sh *testServerHandler) OnPause(ctx *ServerHandlerOnPauseCtx) (*base.Response, error) {
	if sh.onPause != nil {
		return sh.onPause(ctx)
	}
	return &base.Response{StatusCode: base.StatusOK}, nil
}

// startTestServer starts s and a stream that is returned by DESCRIBE and SETUP.
func startTestServer(t *testing.T, s *Server, h *testServerHandler) *ServerStream {
	stream := &ServerStream{}

	h.onDescribe = func(ctx *ServerHandlerOnDescribeCtx) (*base.Response, *ServerStream, error) {
		if ctx.Path != "/test" {
			return &base.Response{StatusCode: base.StatusNotFound}, nil, nil
		}
		return &base.Response{StatusCode: base.StatusOK}, stream, nil
	}
	h.onSetup = func(_ *ServerHandlerOnSetupCtx) (*base.Response, *ServerStream, error) {
		return &base.Response{StatusCode: base.StatusOK}, stream, nil
	}
	s.Handler = h

	err := s.Start()
	require.NoError(t, err)

	stream.Server = s
	stream.Desc = testH264Desc()
	err = stream.Initialize()
	require.NoError(t, err)

	return stream
}

func dialTest(t *testing.T) (net.Conn, *conn.Conn) {
	nconn, err := net.Dial("tcp", "127.0.0.1:8554")
	require.NoError(t, err)
	return nconn, conn.NewConn(nconn)
}

func TestServerStartErrors(t *testing.T) {
	for _, ca := range []struct {
		name string
		s    *Server
		err  string
	}{
		{
			"no address",
			&Server{},
			"RTSPAddress not provided",
		},
		{
			"udp rtp only",
			&Server{
				RTSPAddress:   "127.0.0.1:8554",
				UDPRTPAddress: "127.0.0.1:8000",
			},
			"UDPRTPAddress and UDPRTCPAddress must be used together",
		},
		{
			"udp non even",
			&Server{
				RTSPAddress:    "127.0.0.1:8554",
				UDPRTPAddress:  "127.0.0.1:8003",
				UDPRTCPAddress: "127.0.0.1:8004",
			},
			"RTP port must be even",
		},
		{
			"udp non consecutive",
			&Server{
				RTSPAddress:    "127.0.0.1:8554",
				UDPRTPAddress:  "127.0.0.1:8006",
				UDPRTCPAddress: "127.0.0.1:8009",
			},
			"RTP and RTCP ports must be consecutive",
		},
		{
			"write queue size",
			&Server{
				RTSPAddress:    "127.0.0.1:8554",
				WriteQueueSize: 100,
			},
			"WriteQueueSize must be a power of two",
		},
		{
			"max packet size",
			&Server{
				RTSPAddress:   "127.0.0.1:8554",
				MaxPacketSize: 2000,
			},
			"MaxPacketSize must be less than 1472",
		},
		{
			"multicast ports missing",
			&Server{
				RTSPAddress:      "127.0.0.1:8554",
				MulticastIPRange: "224.1.0.0/16",
			},
			"MulticastRTPPort and MulticastRTCPPort must be filled",
		},
		{
			"multicast range not multicast",
			&Server{
				RTSPAddress:       "127.0.0.1:8554",
				MulticastIPRange:  "10.0.0.0/8",
				MulticastRTPPort:  8002,
				MulticastRTCPPort: 8003,
			},
			"MulticastIPRange must be an IPv4 multicast range",
		},
	} {
		t.Run(ca.name, func(t *testing.T) {
			err := ca.s.Start()
			require.EqualError(t, err, ca.err)
		})
	}
}

func TestServerPortInUse(t *testing.T) {
	l, err := net.Listen("tcp", "127.0.0.1:8554")
	require.NoError(t, err)

	s := &Server{
		Handler:     &testServerHandler{},
		RTSPAddress: "127.0.0.1:8554",
	}
	err = s.Start()
	require.Error(t, err)

	l.Close()

	err = s.Start()
	require.NoError(t, err)
	defer s.Close()
	require.Equal(t, 8554, s.RTSPPort())
}

func TestServerCloseReleasesPort(t *testing.T) {
	s := &Server{
		Handler:        &testServerHandler{},
		RTSPAddress:    "127.0.0.1:8554",
		UDPRTPAddress:  "127.0.0.1:8000",
		UDPRTCPAddress: "127.0.0.1:8001",
	}

	err := s.Start()
	require.NoError(t, err)
	s.Close()
	require.EqualError(t, s.Wait(), "terminated")

	l, err := net.Listen("tcp", "127.0.0.1:8554")
	require.NoError(t, err)
	l.Close()

	pc, err := net.ListenPacket("udp", "127.0.0.1:8000")
	require.NoError(t, err)
	pc.Close()

	_, err = net.Dial("tcp", "127.0.0.1:8554")
	require.Error(t, err)
}

func TestServerCSeq(t *testing.T) {
	s := &Server{
		RTSPAddress: "127.0.0.1:8554",
	}
	err := s.Start()
	require.NoError(t, err)
	defer s.Close()

	nconn, c := dialTest(t)
	defer nconn.Close()

	res, err := writeReqReadRes(c, base.Request{
		Method: base.Options,
		URL:    base.MustParseURL("rtsp://127.0.0.1:8554/"),
		Header: base.Header{
			"CSeq": base.HeaderValue{"5"},
		},
	})
	require.NoError(t, err)
	require.Equal(t, base.StatusOK, res.StatusCode)
	require.Equal(t, base.HeaderValue{"5"}, res.Header["CSeq"])
	require.Equal(t, base.HeaderValue{"rtsp-testserver"}, res.Header["Server"])
}

func TestServerErrorCSeqMissing(t *testing.T) {
	nconnClosed := make(chan struct{})

	s := &Server{
		Handler: &testServerHandler{
			onConnClose: func(ctx *ServerHandlerOnConnCloseCtx) {
				require.EqualError(t, ctx.Error, "CSeq is missing")
				close(nconnClosed)
			},
		},
		RTSPAddress: "127.0.0.1:8554",
	}
	err := s.Start()
	require.NoError(t, err)
	defer s.Close()

	nconn, c := dialTest(t)
	defer nconn.Close()

	res, err := writeReqReadRes(c, base.Request{
		Method: base.Options,
		URL:    base.MustParseURL("rtsp://127.0.0.1:8554/"),
		Header: base.Header{},
	})
	require.NoError(t, err)
	require.Equal(t, base.StatusBadRequest, res.StatusCode)
	_, ok := res.Header["CSeq"]
	require.False(t, ok)

	<-nconnClosed
}

func TestServerOptions(t *testing.T) {
	s := &Server{
		Handler:     &testServerHandler{},
		RTSPAddress: "127.0.0.1:8554",
	}
	err := s.Start()
	require.NoError(t, err)
	defer s.Close()

	nconn, c := dialTest(t)
	defer nconn.Close()

	res, err := writeReqReadRes(c, base.Request{
		Method: base.Options,
		URL:    base.MustParseURL("rtsp://127.0.0.1:8554/test"),
		Header: base.Header{
			"CSeq": base.HeaderValue{"1"},
		},
	})
	require.NoError(t, err)
	require.Equal(t, base.StatusOK, res.StatusCode)
	require.Equal(t, base.HeaderValue{strings.Join([]string{
		string(base.Options),
		string(base.Describe),
		string(base.Setup),
		string(base.Play),
		string(base.Pause),
		string(base.GetParameter),
		string(base.Teardown),
	}, ", ")}, res.Header["Public"])
}

func TestServerDescribe(t *testing.T) {
	s := &Server{
		RTSPAddress: "127.0.0.1:8554",
	}
	stream := startTestServer(t, s, &testServerHandler{})
	defer s.Close()
	defer stream.Close()

	nconn, c := dialTest(t)
	defer nconn.Close()

	res, err := writeReqReadRes(c, base.Request{
		Method: base.Describe,
		URL:    base.MustParseURL("rtsp://127.0.0.1:8554/test"),
		Header: base.Header{
			"CSeq": base.HeaderValue{"1"},
		},
	})
	require.NoError(t, err)
	require.Equal(t, base.StatusOK, res.StatusCode)
	require.Equal(t, base.HeaderValue{"rtsp://127.0.0.1:8554/test/"}, res.Header["Content-Base"])

	body := string(res.Body)
	require.Contains(t, body, "m=video 0 RTP/AVP 96\r\n")
	require.Contains(t, body, "a=control:trackID=0\r\n")
	require.Contains(t, body, "a=rtpmap:96 H264/90000\r\n")
	require.Contains(t, body, "packetization-mode=1")
	require.Contains(t, body, "profile-level-id=42C028")

	var desc description.Session
	err = desc.Unmarshal(res.Body)
	require.NoError(t, err)
	require.Len(t, desc.Medias, 1)
	forma, ok := desc.Medias[0].Formats[0].(*format.H264)
	require.True(t, ok)
	require.Equal(t, testSPS, forma.SPS)
	require.Equal(t, testPPS, forma.PPS)

	// a non-OK DESCRIBE does not close the connection
	res, err = writeReqReadRes(c, base.Request{
		Method: base.Describe,
		URL:    base.MustParseURL("rtsp://127.0.0.1:8554/other"),
		Header: base.Header{
			"CSeq": base.HeaderValue{"2"},
		},
	})
	require.NoError(t, err)
	require.Equal(t, base.StatusNotFound, res.StatusCode)
}

func TestServerPlay(t *testing.T) {
	for _, transport := range []string{
		"udp",
		"tcp",
	} {
		t.Run(transport, func(t *testing.T) {
			sessionOpened := make(chan struct{})
			sessionClosed := make(chan struct{})

			h := &testServerHandler{
				onSessionOpen: func(_ *ServerHandlerOnSessionOpenCtx) {
					close(sessionOpened)
				},
				onSessionClose: func(ctx *ServerHandlerOnSessionCloseCtx) {
					_, ok := ctx.Error.(liberrors.ErrServerSessionTornDown)
					require.True(t, ok)
					close(sessionClosed)
				},
				onPlay: func(ctx *ServerHandlerOnPlayCtx) (*base.Response, error) {
					require.Equal(t, "/test", ctx.Path)
					require.Equal(t, ServerSessionStatePrePlay, ctx.Session.State())

					switch transport {
					case "udp":
						require.Equal(t, TransportUDP, *ctx.Session.SetuppedTransport())
					default:
						require.Equal(t, TransportTCP, *ctx.Session.SetuppedTransport())
					}

					require.Equal(t, "/test", ctx.Session.SetuppedPath())
					require.Len(t, ctx.Session.SetuppedMedias(), 1)

					return &base.Response{StatusCode: base.StatusOK}, nil
				},
			}

			s := &Server{
				RTSPAddress:    "127.0.0.1:8554",
				UDPRTPAddress:  "127.0.0.1:8000",
				UDPRTCPAddress: "127.0.0.1:8001",
			}
			stream := startTestServer(t, s, h)
			defer s.Close()
			defer stream.Close()

			nconn, c := dialTest(t)
			defer nconn.Close()

			desc := doDescribe(t, c, "rtsp://127.0.0.1:8554/test")
			require.Equal(t, "trackID=0", desc.Medias[0].Control)

			var l1, l2 net.PacketConn
			var th string

			if transport == "udp" {
				var err error
				l1, err = net.ListenPacket("udp", "127.0.0.1:35466")
				require.NoError(t, err)
				defer l1.Close()

				l2, err = net.ListenPacket("udp", "127.0.0.1:35467")
				require.NoError(t, err)
				defer l2.Close()

				th = "RTP/AVP;unicast;client_port=35466-35467"
			} else {
				th = "RTP/AVP/TCP;unicast;interleaved=0-1"
			}

			res := doSetup(t, c, "rtsp://127.0.0.1:8554/test/trackID=0", th, "")
			require.Equal(t, base.StatusOK, res.StatusCode)

			<-sessionOpened

			var resTH headers.Transport
			err := resTH.Unmarshal(res.Header["Transport"])
			require.NoError(t, err)
			require.NotNil(t, resTH.SSRC)

			if transport == "udp" {
				require.Equal(t, &[2]int{35466, 35467}, resTH.ClientPorts)
				require.Equal(t, &[2]int{8000, 8001}, resTH.ServerPorts)
			} else {
				require.Equal(t, &[2]int{0, 1}, resTH.InterleavedIDs)
			}

			session := readSession(t, res)
			if transport == "udp" {
				require.NotNil(t, session.Timeout)
				require.Equal(t, uint(60), *session.Timeout)
			} else {
				require.Nil(t, session.Timeout)
			}

			sessions := s.Sessions()
			require.Len(t, sessions, 1)
			require.NotEqual(t, "", sessions[0].ID())
			require.NotEqual(t, session.Session, sessions[0].ID())

			res = doPlay(t, c, "rtsp://127.0.0.1:8554/test", session.Session)
			require.Equal(t, base.StatusOK, res.StatusCode)
			require.Equal(t, base.HeaderValue{"npt=0.000-"}, res.Header["Range"])

			err = stream.WritePacketRTP(stream.Desc.Medias[0], testRTPPacket())
			require.NoError(t, err)

			var buf []byte

			if transport == "udp" {
				buf = make([]byte, 2048)
				l1.SetReadDeadline(time.Now().Add(2 * time.Second))
				n, _, err2 := l1.ReadFrom(buf)
				require.NoError(t, err2)
				buf = buf[:n]
			} else {
				nconn.SetReadDeadline(time.Now().Add(2 * time.Second))
				fr, err2 := c.ReadInterleavedFrame()
				require.NoError(t, err2)
				require.Equal(t, 0, fr.Channel)
				buf = append([]byte(nil), fr.Payload...)
			}

			var pkt rtp.Packet
			err = pkt.Unmarshal(buf)
			require.NoError(t, err)
			require.Equal(t, uint8(96), pkt.PayloadType)
			require.Equal(t, uint16(123), pkt.SequenceNumber)
			require.Equal(t, *resTH.SSRC, pkt.SSRC)
			require.Equal(t, []byte{0x05, 0x01, 0x02, 0x03, 0x04}, pkt.Payload)

			st := stream.Stats()
			require.Equal(t, 1, st.Readers)
			require.Equal(t, uint64(1), st.RTPPacketsSent)

			doTeardown(t, c, "rtsp://127.0.0.1:8554/test", session.Session)

			<-sessionClosed

			require.Eventually(t, func() bool {
				return len(s.Sessions()) == 0
			}, 2*time.Second, 10*time.Millisecond)
		})
	}
}

func TestServerPlayRTPInfo(t *testing.T) {
	now := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)

	s := &Server{
		RTSPAddress: "127.0.0.1:8554",
		timeNow: func() time.Time {
			return now
		},
	}
	stream := startTestServer(t, s, &testServerHandler{})
	defer s.Close()
	defer stream.Close()

	err := stream.WritePacketRTPWithNTP(stream.Desc.Medias[0], testRTPPacket(), now)
	require.NoError(t, err)

	nconn, c := dialTest(t)
	defer nconn.Close()

	res := doSetup(t, c, "rtsp://127.0.0.1:8554/test/trackID=0", "RTP/AVP/TCP;unicast;interleaved=0-1", "")
	require.Equal(t, base.StatusOK, res.StatusCode)
	session := readSession(t, res)

	res = doPlay(t, c, "rtsp://127.0.0.1:8554/test", session.Session)
	require.Equal(t, base.StatusOK, res.StatusCode)

	var ri headers.RTPInfo
	err = ri.Unmarshal(res.Header["RTP-Info"])
	require.NoError(t, err)

	seq := uint16(124)
	ts := uint32(45343)
	require.Equal(t, headers.RTPInfo{{
		URL:            "rtsp://127.0.0.1:8554/test/trackID=0",
		SequenceNumber: &seq,
		Timestamp:      &ts,
	}}, ri)
}

func TestServerPause(t *testing.T) {
	s := &Server{
		RTSPAddress: "127.0.0.1:8554",
	}
	stream := startTestServer(t, s, &testServerHandler{})
	defer s.Close()
	defer stream.Close()

	nconn, c := dialTest(t)
	defer nconn.Close()

	res := doSetup(t, c, "rtsp://127.0.0.1:8554/test/trackID=0", "RTP/AVP/TCP;unicast;interleaved=0-1", "")
	require.Equal(t, base.StatusOK, res.StatusCode)
	session := readSession(t, res)

	res = doPlay(t, c, "rtsp://127.0.0.1:8554/test", session.Session)
	require.Equal(t, base.StatusOK, res.StatusCode)

	res, err := writeReqReadRes(c, base.Request{
		Method: base.Pause,
		URL:    base.MustParseURL("rtsp://127.0.0.1:8554/test"),
		Header: base.Header{
			"CSeq":    base.HeaderValue{"4"},
			"Session": base.HeaderValue{session.Session},
		},
	})
	require.NoError(t, err)
	require.Equal(t, base.StatusOK, res.StatusCode)

	sessions := s.Sessions()
	require.Len(t, sessions, 1)
	require.Equal(t, ServerSessionStatePrePlay, sessions[0].State())

	res = doPlay(t, c, "rtsp://127.0.0.1:8554/test", session.Session)
	require.Equal(t, base.StatusOK, res.StatusCode)
	require.Equal(t, ServerSessionStatePlay, sessions[0].State())
}

func TestServerErrorInvalidState(t *testing.T) {
	nconnClosed := make(chan struct{})

	s := &Server{
		RTSPAddress: "127.0.0.1:8554",
	}
	stream := startTestServer(t, s, &testServerHandler{
		onConnClose: func(ctx *ServerHandlerOnConnCloseCtx) {
			require.EqualError(t, ctx.Error, "must be in state [initial prePlay], while is in state play")
			close(nconnClosed)
		},
	})
	defer s.Close()
	defer stream.Close()

	nconn, c := dialTest(t)
	defer nconn.Close()

	res := doSetup(t, c, "rtsp://127.0.0.1:8554/test/trackID=0", "RTP/AVP/TCP;unicast;interleaved=0-1", "")
	require.Equal(t, base.StatusOK, res.StatusCode)
	session := readSession(t, res)

	res = doPlay(t, c, "rtsp://127.0.0.1:8554/test", session.Session)
	require.Equal(t, base.StatusOK, res.StatusCode)

	res = doSetup(t, c, "rtsp://127.0.0.1:8554/test/trackID=0",
		"RTP/AVP/TCP;unicast;interleaved=2-3", session.Session)
	require.Equal(t, base.StatusMethodNotValidInThisState, res.StatusCode)

	<-nconnClosed
}

func TestServerErrorSession(t *testing.T) {
	for _, ca := range []struct {
		name    string
		method  base.Method
		session string
		err     string
	}{
		{
			"play missing",
			base.Play,
			"",
			"Session header is missing",
		},
		{
			"teardown missing",
			base.Teardown,
			"",
			"Session header is missing",
		},
		{
			"play unknown",
			base.Play,
			"abcdef",
			"session not found",
		},
		{
			"pause unknown",
			base.Pause,
			"abcdef",
			"session not found",
		},
	} {
		t.Run(ca.name, func(t *testing.T) {
			nconnClosed := make(chan struct{})

			s := &Server{
				Handler: &testServerHandler{
					onConnClose: func(ctx *ServerHandlerOnConnCloseCtx) {
						require.EqualError(t, ctx.Error, ca.err)
						close(nconnClosed)
					},
				},
				RTSPAddress: "127.0.0.1:8554",
			}
			err := s.Start()
			require.NoError(t, err)
			defer s.Close()

			nconn, c := dialTest(t)
			defer nconn.Close()

			h := base.Header{
				"CSeq": base.HeaderValue{"1"},
			}
			if ca.session != "" {
				h["Session"] = base.HeaderValue{ca.session}
			}

			res, err := writeReqReadRes(c, base.Request{
				Method: ca.method,
				URL:    base.MustParseURL("rtsp://127.0.0.1:8554/test"),
				Header: h,
			})
			require.NoError(t, err)
			require.Equal(t, base.StatusSessionNotFound, res.StatusCode)

			<-nconnClosed
		})
	}
}

func TestServerErrorMethodNotImplemented(t *testing.T) {
	s := &Server{
		Handler:     &testServerHandler{},
		RTSPAddress: "127.0.0.1:8554",
	}
	err := s.Start()
	require.NoError(t, err)
	defer s.Close()

	nconn, c := dialTest(t)
	defer nconn.Close()

	for i, method := range []base.Method{base.Announce, base.Record, base.SetParameter} {
		res, err := writeReqReadRes(c, base.Request{
			Method: method,
			URL:    base.MustParseURL("rtsp://127.0.0.1:8554/test"),
			Header: base.Header{
				"CSeq": base.HeaderValue{string(rune('1' + i))},
			},
		})
		require.NoError(t, err)
		require.Equal(t, base.StatusNotImplemented, res.StatusCode)
	}
}

func TestServerErrorMediaNotFound(t *testing.T) {
	s := &Server{
		RTSPAddress: "127.0.0.1:8554",
	}
	stream := startTestServer(t, s, &testServerHandler{})
	defer s.Close()
	defer stream.Close()

	nconn, c := dialTest(t)
	defer nconn.Close()

	res := doSetup(t, c, "rtsp://127.0.0.1:8554/test/trackID=5", "RTP/AVP/TCP;unicast;interleaved=0-1", "")
	require.Equal(t, base.StatusNotFound, res.StatusCode)
	_, ok := res.Header["Session"]
	require.False(t, ok)

	require.Eventually(t, func() bool {
		return len(s.Sessions()) == 0
	}, 2*time.Second, 10*time.Millisecond)
}

func TestServerGetParameterPing(t *testing.T) {
	s := &Server{
		Handler:     &testServerHandler{},
		RTSPAddress: "127.0.0.1:8554",
	}
	err := s.Start()
	require.NoError(t, err)
	defer s.Close()

	nconn, c := dialTest(t)
	defer nconn.Close()

	res, err := writeReqReadRes(c, base.Request{
		Method: base.GetParameter,
		URL:    base.MustParseURL("rtsp://127.0.0.1:8554/test"),
		Header: base.Header{
			"CSeq": base.HeaderValue{"1"},
		},
	})
	require.NoError(t, err)
	require.Equal(t, base.StatusOK, res.StatusCode)
	require.Equal(t, base.HeaderValue{"text/parameters"}, res.Header["Content-Type"])
}

func TestServerSessionTimeout(t *testing.T) {
	sessionClosed := make(chan struct{})

	s := &Server{
		RTSPAddress:       "127.0.0.1:8554",
		UDPRTPAddress:     "127.0.0.1:8000",
		UDPRTCPAddress:    "127.0.0.1:8001",
		SessionTimeout:    1 * time.Second,
		checkStreamPeriod: 100 * time.Millisecond,
	}
	stream := startTestServer(t, s, &testServerHandler{
		onSessionClose: func(ctx *ServerHandlerOnSessionCloseCtx) {
			require.EqualError(t, ctx.Error, "session timed out")
			close(sessionClosed)
		},
	})
	defer s.Close()
	defer stream.Close()

	nconn, c := dialTest(t)
	defer nconn.Close()

	res := doSetup(t, c, "rtsp://127.0.0.1:8554/test/trackID=0", "RTP/AVP;unicast;client_port=35466-35467", "")
	require.Equal(t, base.StatusOK, res.StatusCode)
	session := readSession(t, res)
	require.Equal(t, uint(1), *session.Timeout)

	res = doPlay(t, c, "rtsp://127.0.0.1:8554/test", session.Session)
	require.Equal(t, base.StatusOK, res.StatusCode)

	select {
	case <-sessionClosed:
	case <-time.After(5 * time.Second):
		t.Errorf("session did not time out")
	}
}

func TestServerWebSocket(t *testing.T) {
	s := &Server{
		RTSPAddress:      "127.0.0.1:8554",
		UDPRTPAddress:    "127.0.0.1:8000",
		UDPRTCPAddress:   "127.0.0.1:8001",
		WebSocketAddress: "127.0.0.1:8555",
	}
	stream := startTestServer(t, s, &testServerHandler{
		onConnOpen: func(ctx *ServerHandlerOnConnOpenCtx) {
			require.True(t, ctx.Conn.IsWebSocket())
		},
	})
	defer s.Close()
	defer stream.Close()

	require.Equal(t, 8555, s.WebSocketPort())

	wc, _, err := websocket.DefaultDialer.Dial("ws://127.0.0.1:8555/", nil) //nolint:bodyclose
	require.NoError(t, err)
	defer wc.Close()

	nconn := &wsNetConn{wc: wc}
	c := conn.NewConn(nconn)

	doDescribe(t, c, "rtsp://127.0.0.1:8554/test")

	// UDP is not available inside the tunnel
	res := doSetup(t, c, "rtsp://127.0.0.1:8554/test/trackID=0", "RTP/AVP;unicast;client_port=35466-35467", "")
	require.Equal(t, base.StatusUnsupportedTransport, res.StatusCode)

	res = doSetup(t, c, "rtsp://127.0.0.1:8554/test/trackID=0", "RTP/AVP/TCP;unicast;interleaved=0-1", "")
	require.Equal(t, base.StatusOK, res.StatusCode)
	session := readSession(t, res)

	res = doPlay(t, c, "rtsp://127.0.0.1:8554/test", session.Session)
	require.Equal(t, base.StatusOK, res.StatusCode)

	err = stream.WritePacketRTP(stream.Desc.Medias[0], testRTPPacket())
	require.NoError(t, err)

	nconn.SetReadDeadline(time.Now().Add(2 * time.Second))
	fr, err := c.ReadInterleavedFrame()
	require.NoError(t, err)
	require.Equal(t, 0, fr.Channel)

	var pkt rtp.Packet
	err = pkt.Unmarshal(fr.Payload)
	require.NoError(t, err)
	require.Equal(t, uint16(123), pkt.SequenceNumber)
}

func TestServerSetupMulticast(t *testing.T) {
	mw, err := multicast.NewWriter(net.ListenPacket)
	if err != nil {
		t.Skip("no multicast-capable interfaces")
	}
	mw.Close()

	s := &Server{
		RTSPAddress:       "127.0.0.1:8554",
		MulticastIPRange:  "224.1.0.0/16",
		MulticastRTPPort:  8002,
		MulticastRTCPPort: 8003,
	}
	stream := startTestServer(t, s, &testServerHandler{})
	defer s.Close()
	defer stream.Close()

	nconn, c := dialTest(t)
	defer nconn.Close()

	res := doSetup(t, c, "rtsp://127.0.0.1:8554/test/trackID=0", "RTP/AVP;multicast", "")
	require.Equal(t, base.StatusOK, res.StatusCode)

	var th headers.Transport
	err = th.Unmarshal(res.Header["Transport"])
	require.NoError(t, err)
	require.Equal(t, headers.TransportDeliveryMulticast, *th.Delivery)
	require.Equal(t, net.IPv4(224, 1, 0, 1).To4(), (*th.Destination).To4())
	require.Equal(t, &[2]int{8002, 8003}, th.Ports)

	session := readSession(t, res)
	require.NotNil(t, session.Timeout)
}

func TestNextMulticastIP(t *testing.T) {
	for _, ca := range []struct {
		name   string
		ipNet  string
		cur    string
		expect string
	}{
		{"first", "224.1.0.0/16", "224.1.0.0", "224.1.0.1"},
		{"next", "224.1.0.0/16", "224.1.0.1", "224.1.0.2"},
		{"carry", "224.1.0.0/16", "224.1.0.255", "224.1.1.0"},
		{"wrap", "224.1.0.0/16", "224.1.255.254", "224.1.0.1"},
		{"small range", "239.0.0.0/30", "239.0.0.2", "239.0.0.1"},
	} {
		t.Run(ca.name, func(t *testing.T) {
			_, n, err := net.ParseCIDR(ca.ipNet)
			require.NoError(t, err)
			ip := nextMulticastIP(net.ParseIP(ca.cur), n)
			require.Equal(t, ca.expect, ip.String())
		})
	}
}
