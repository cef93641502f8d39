// Package format contains the RTP formats served by the server.
package format

import (
	"fmt"
	"strings"

	"github.com/pion/rtp"
)

// Format is a media format.
// It defines the payload type of RTP packets and how to encode them.
type Format interface {
	unmarshal(ctx *unmarshalContext) error

	// Codec returns the codec name.
	Codec() string

	// ClockRate returns the clock rate.
	ClockRate() int

	// PayloadType returns the payload type.
	PayloadType() uint8

	// RTPMap returns the rtpmap attribute.
	RTPMap() string

	// FMTP returns the fmtp attribute.
	FMTP() map[string]string

	// PTSEqualsDTS checks whether PTS is equal to DTS in RTP packets.
	PTSEqualsDTS(*rtp.Packet) bool
}

// unmarshalContext is the SDP description of a payload type.
type unmarshalContext struct {
	mediaType   string
	payloadType uint8
	codec       string // encoding name in lower case
	clock       string // clock rate, followed by "/channels" when present
	rtpMap      string
	fmtp        map[string]string
}

func (ctx *unmarshalContext) dynamic() bool {
	return ctx.payloadType >= 96 && ctx.payloadType <= 127
}

// factories are tried in order. The first that matches decodes the format.
var factories = []struct {
	matches func(ctx *unmarshalContext) bool
	create  func() Format
}{
	{
		func(ctx *unmarshalContext) bool {
			return ctx.dynamic() && ctx.codec == "h264" && ctx.clock == "90000"
		},
		func() Format { return &H264{} },
	},
	{
		func(ctx *unmarshalContext) bool {
			if ctx.dynamic() {
				return ctx.codec == "pcmu" || ctx.codec == "pcma"
			}
			_, ok := g711StaticTypes[ctx.payloadType]
			return ok
		},
		func() Format { return &G711{} },
	},
}

// Unmarshal decodes a format from its SDP attributes.
func Unmarshal(mediaType string, payloadType uint8, rtpMap string, fmtp map[string]string) (Format, error) {
	ctx := &unmarshalContext{
		mediaType:   mediaType,
		payloadType: payloadType,
		rtpMap:      rtpMap,
		fmtp:        fmtp,
	}

	if codec, clock, ok := strings.Cut(rtpMap, "/"); ok {
		ctx.codec = strings.ToLower(codec)
		ctx.clock = clock
	}

	for _, f := range factories {
		if !f.matches(ctx) {
			continue
		}

		forma := f.create()
		err := forma.unmarshal(ctx)
		if err != nil {
			return nil, err
		}
		return forma, nil
	}

	return nil, fmt.Errorf("unsupported format (payload type %d, rtpmap '%s')", payloadType, rtpMap)
}
