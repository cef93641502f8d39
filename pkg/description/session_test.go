package description

import (
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/netlab/rtspserver/pkg/format"
)

var casesSession = []struct {
	name string
	sdp  string
	desc Session
}{
	{
		"video and audio",
		"v=0\r\n" +
			"o=- 0 0 IN IP4 127.0.0.1\r\n" +
			"s=Stream\r\n" +
			"c=IN IP4 0.0.0.0\r\n" +
			"t=0 0\r\n" +
			"m=video 0 RTP/AVP 96\r\n" +
			"a=control:trackID=0\r\n" +
			"a=rtpmap:96 H264/90000\r\n" +
			"a=fmtp:96 packetization-mode=1; profile-level-id=640028; sprop-parameter-sets=Z2QAKKy0A8ARPyo=,aO4Bniw=\r\n" +
			"m=audio 0 RTP/AVP 0\r\n" +
			"a=control:trackID=1\r\n" +
			"a=rtpmap:0 PCMU/8000\r\n",
		Session{
			Title: "Stream",
			Medias: []*Media{
				{
					Type:    MediaTypeVideo,
					Control: "trackID=0",
					Formats: []format.Format{&format.H264{
						PayloadTyp:        96,
						PacketizationMode: 1,
						SPS:               []byte{0x67, 0x64, 0x00, 0x28, 0xac, 0xb4, 0x03, 0xc0, 0x11, 0x3f, 0x2a},
						PPS:               []byte{0x68, 0xee, 0x01, 0x9e, 0x2c},
					}},
				},
				{
					Type:    MediaTypeAudio,
					Control: "trackID=1",
					Formats: []format.Format{&format.G711{
						PayloadTyp: 0,
						MULaw:      true,
					}},
				},
			},
		},
	},
	{
		"multicast without title",
		"v=0\r\n" +
			"o=- 0 0 IN IP4 127.0.0.1\r\n" +
			"s= \r\n" +
			"c=IN IP4 224.1.0.0\r\n" +
			"t=0 0\r\n" +
			"m=audio 0 RTP/AVP 8\r\n" +
			"a=control:trackID=0\r\n" +
			"a=rtpmap:8 PCMA/8000\r\n",
		Session{
			Multicast: true,
			Medias: []*Media{
				{
					Type:    MediaTypeAudio,
					Control: "trackID=0",
					Formats: []format.Format{&format.G711{
						PayloadTyp: 8,
					}},
				},
			},
		},
	},
}

func TestSessionUnmarshal(t *testing.T) {
	for _, ca := range casesSession {
		t.Run(ca.name, func(t *testing.T) {
			var desc Session
			err := desc.Unmarshal([]byte(ca.sdp))
			require.NoError(t, err)
			require.Equal(t, ca.desc, desc)
		})
	}
}

func TestSessionMarshal(t *testing.T) {
	for _, ca := range casesSession {
		t.Run(ca.name, func(t *testing.T) {
			byts, err := ca.desc.Marshal()
			require.NoError(t, err)
			require.Equal(t, ca.sdp, string(byts))
		})
	}
}

func TestSessionUnmarshalErrors(t *testing.T) {
	for _, ca := range []struct {
		name string
		sdp  string
		err  string
	}{
		{
			"unsupported format",
			"v=0\r\n" +
				"o=- 0 0 IN IP4 127.0.0.1\r\n" +
				"s=Stream\r\n" +
				"t=0 0\r\n" +
				"m=video 0 RTP/AVP 97\r\n" +
				"a=rtpmap:97 VP8/90000\r\n",
			"media 1 is invalid: unsupported format (payload type 97, rtpmap 'VP8/90000')",
		},
		{
			"invalid payload type",
			"v=0\r\n" +
				"o=- 0 0 IN IP4 127.0.0.1\r\n" +
				"s=Stream\r\n" +
				"t=0 0\r\n" +
				"m=audio 0 RTP/AVP abc\r\n",
			"media 1 is invalid: invalid payload type 'abc'",
		},
	} {
		t.Run(ca.name, func(t *testing.T) {
			var desc Session
			err := desc.Unmarshal([]byte(ca.sdp))
			require.EqualError(t, err, ca.err)
		})
	}
}

func TestSessionFindFormat(t *testing.T) {
	desc := casesSession[0].desc

	var forma *format.G711
	medi := desc.FindFormat(&forma)
	require.NotNil(t, medi)
	require.Equal(t, MediaTypeAudio, medi.Type)
	require.Equal(t, true, forma.MULaw)
}

func TestParseFMTP(t *testing.T) {
	for _, ca := range []struct {
		name string
		in   string
		out  map[string]string
	}{
		{
			"h264",
			"packetization-mode=1; Profile-Level-Id=42C01E",
			map[string]string{"packetization-mode": "1", "profile-level-id": "42C01E"},
		},
		{
			"value with equals",
			"sprop-parameter-sets=Z0LAHtkDxWhAAAADAEAAAAwDxYuS,aMuMsg==;",
			map[string]string{"sprop-parameter-sets": "Z0LAHtkDxWhAAAADAEAAAAwDxYuS,aMuMsg=="},
		},
		{
			"garbage",
			" ; novalue;=x",
			nil,
		},
	} {
		t.Run(ca.name, func(t *testing.T) {
			require.Equal(t, ca.out, parseFMTP(ca.in))
		})
	}
}
