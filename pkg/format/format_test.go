package format

import (
	"testing"

	"github.com/stretchr/testify/require"
)

var casesFormat = []struct {
	name        string
	mediaType   string
	payloadType uint8
	rtpMap      string
	fmtp        map[string]string
	dec         Format
	encRtpMap   string
	encFmtp     map[string]string
}{
	{
		"audio g711 pcmu static",
		"audio",
		0,
		"",
		nil,
		&G711{
			PayloadTyp: 0,
			MULaw:      true,
		},
		"PCMU/8000",
		nil,
	},
	{
		"audio g711 pcma static",
		"audio",
		8,
		"",
		nil,
		&G711{
			PayloadTyp: 8,
		},
		"PCMA/8000",
		nil,
	},
	{
		"audio g711 pcmu dynamic",
		"audio",
		97,
		"PCMU/8000",
		nil,
		&G711{
			PayloadTyp: 97,
			MULaw:      true,
		},
		"PCMU/8000",
		nil,
	},
	{
		"video h264",
		"video",
		96,
		"H264/90000",
		map[string]string{
			"packetization-mode":   "1",
			"sprop-parameter-sets": "Z0LAKNoB4AiflwFqAgICgAAAAwCAAAAeR4wZUA==,aM4PyA==",
			"profile-level-id":     "42C028",
		},
		&H264{
			PayloadTyp: 96,
			SPS: []byte{
				0x67, 0x42, 0xc0, 0x28, 0xda, 0x01, 0xe0, 0x08,
				0x9f, 0x97, 0x01, 0x6a, 0x02, 0x02, 0x02, 0x80,
				0x00, 0x00, 0x03, 0x00, 0x80, 0x00, 0x00, 0x1e,
				0x47, 0x8c, 0x19, 0x50,
			},
			PPS:               []byte{0x68, 0xce, 0x0f, 0xc8},
			PacketizationMode: 1,
		},
		"H264/90000",
		map[string]string{
			"packetization-mode":   "1",
			"sprop-parameter-sets": "Z0LAKNoB4AiflwFqAgICgAAAAwCAAAAeR4wZUA==,aM4PyA==",
			"profile-level-id":     "42C028",
		},
	},
	{
		"video h264 without parameters",
		"video",
		96,
		"H264/90000",
		map[string]string{
			"packetization-mode": "1",
		},
		&H264{
			PayloadTyp:        96,
			PacketizationMode: 1,
		},
		"H264/90000",
		map[string]string{
			"packetization-mode": "1",
		},
	},
}

func TestUnmarshal(t *testing.T) {
	for _, ca := range casesFormat {
		t.Run(ca.name, func(t *testing.T) {
			dec, err := Unmarshal(ca.mediaType, ca.payloadType, ca.rtpMap, ca.fmtp)
			require.NoError(t, err)
			require.Equal(t, ca.dec, dec)
		})
	}
}

func TestMarshal(t *testing.T) {
	for _, ca := range casesFormat {
		t.Run(ca.name, func(t *testing.T) {
			require.Equal(t, ca.encRtpMap, ca.dec.RTPMap())
			fmtp := ca.dec.FMTP()
			if len(ca.encFmtp) == 0 {
				require.Empty(t, fmtp)
			} else {
				require.Equal(t, ca.encFmtp, fmtp)
			}
		})
	}
}

func TestUnmarshalErrors(t *testing.T) {
	for _, ca := range []struct {
		name        string
		payloadType uint8
		rtpMap      string
		fmtp        map[string]string
		err         string
	}{
		{
			"unsupported",
			97,
			"VP8/90000",
			nil,
			"unsupported format (payload type 97, rtpmap 'VP8/90000')",
		},
		{
			"h264 invalid packetization mode",
			96,
			"H264/90000",
			map[string]string{"packetization-mode": "aa"},
			"invalid packetization-mode (aa)",
		},
		{
			"g711 invalid clock",
			97,
			"PCMU/16000",
			nil,
			"unsupported clock rate (16000)",
		},
	} {
		t.Run(ca.name, func(t *testing.T) {
			_, err := Unmarshal("video", ca.payloadType, ca.rtpMap, ca.fmtp)
			require.EqualError(t, err, ca.err)
		})
	}
}
