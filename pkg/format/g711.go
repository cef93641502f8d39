package format

import (
	"fmt"

	"github.com/pion/rtp"

	"github.com/netlab/rtspserver/pkg/format/rtpsimpleaudio"
)

const g711ClockRate = 8000

// static payload types of RFC 3551, table 4. The value is true for mu-law.
var g711StaticTypes = map[uint8]bool{
	0: true,
	8: false,
}

// G711 is the RTP format for the G711 codec, encoded with mu-law or A-law.
// Specification: https://datatracker.ietf.org/doc/html/rfc3551
type G711 struct {
	PayloadTyp uint8
	MULaw      bool
}

func (f *G711) unmarshal(ctx *unmarshalContext) error {
	f.PayloadTyp = ctx.payloadType

	if mulaw, ok := g711StaticTypes[ctx.payloadType]; ok {
		f.MULaw = mulaw
		return nil
	}

	if ctx.clock != "8000" && ctx.clock != "8000/1" {
		return fmt.Errorf("unsupported clock rate (%v)", ctx.clock)
	}

	f.MULaw = (ctx.codec == "pcmu")
	return nil
}

// Codec implements Format.
func (f *G711) Codec() string {
	return "G711"
}

// ClockRate implements Format.
func (f *G711) ClockRate() int {
	return g711ClockRate
}

// PayloadType implements Format.
func (f *G711) PayloadType() uint8 {
	return f.PayloadTyp
}

// EncodingName returns the name of the encoding in SDP.
func (f *G711) EncodingName() string {
	if f.MULaw {
		return "PCMU"
	}
	return "PCMA"
}

// RTPMap implements Format.
func (f *G711) RTPMap() string {
	return fmt.Sprintf("%s/%d", f.EncodingName(), g711ClockRate)
}

// FMTP implements Format.
func (f *G711) FMTP() map[string]string {
	return nil
}

// PTSEqualsDTS implements Format.
func (f *G711) PTSEqualsDTS(*rtp.Packet) bool {
	return true
}

// CreateEncoder creates an encoder able to encode the content of the format.
// Each G711 sample is one byte long.
func (f *G711) CreateEncoder() (*rtpsimpleaudio.Encoder, error) {
	e := &rtpsimpleaudio.Encoder{
		PayloadType: f.PayloadTyp,
		SampleSize:  1,
	}

	err := e.Init()
	if err != nil {
		return nil, err
	}

	return e, nil
}
