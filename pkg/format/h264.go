package format

import (
	"bytes"
	"encoding/base64"
	"encoding/hex"
	"fmt"
	"strconv"
	"strings"
	"sync"

	"github.com/bluenviron/mediacommon/v2/pkg/codecs/h264"
	"github.com/pion/rtp"

	"github.com/netlab/rtspserver/pkg/format/rtph264"
)

// H264 is the RTP format for the H264 codec.
// Specification: https://datatracker.ietf.org/doc/html/rfc6184
//
// SPS and PPS can be replaced while the format is in use,
// with SafeSetParams, when a source discovers them late.
type H264 struct {
	PayloadTyp        uint8
	SPS               []byte
	PPS               []byte
	PacketizationMode int

	mutex sync.RWMutex
}

func decodeParameterSet(v string) ([]byte, error) {
	byts, err := base64.StdEncoding.DecodeString(v)
	if err != nil {
		return nil, err
	}

	// some encoders include the Annex-B start code.
	return bytes.TrimPrefix(byts, []byte{0, 0, 0, 1}), nil
}

func (f *H264) unmarshal(ctx *unmarshalContext) error {
	f.PayloadTyp = ctx.payloadType

	if v, ok := ctx.fmtp["packetization-mode"]; ok {
		tmp, err := strconv.ParseUint(v, 10, 31)
		if err != nil {
			return fmt.Errorf("invalid packetization-mode (%v)", v)
		}
		f.PacketizationMode = int(tmp)
	}

	v, ok := ctx.fmtp["sprop-parameter-sets"]
	if !ok {
		return nil
	}

	spsEnc, ppsEnc, ok := strings.Cut(v, ",")
	if !ok {
		return nil
	}

	// extra parameter sets after the first PPS are ignored.
	ppsEnc, _, _ = strings.Cut(ppsEnc, ",")

	sps, err := decodeParameterSet(spsEnc)
	if err != nil {
		return fmt.Errorf("invalid sprop-parameter-sets (%v)", v)
	}

	pps, err := decodeParameterSet(ppsEnc)
	if err != nil {
		return fmt.Errorf("invalid sprop-parameter-sets (%v)", v)
	}

	// an undecodable SPS is dropped, and parameters are then expected in-band.
	var spsp h264.SPS
	if spsp.Unmarshal(sps) != nil {
		return nil
	}

	f.SPS = sps
	f.PPS = pps
	return nil
}

// Codec implements Format.
func (f *H264) Codec() string {
	return "H264"
}

// ClockRate implements Format.
func (f *H264) ClockRate() int {
	return 90000
}

// PayloadType implements Format.
func (f *H264) PayloadType() uint8 {
	return f.PayloadTyp
}

// RTPMap implements Format.
func (f *H264) RTPMap() string {
	return "H264/90000"
}

// FMTP implements Format.
func (f *H264) FMTP() map[string]string {
	sps, pps := f.SafeParams()

	fmtp := make(map[string]string)

	if f.PacketizationMode != 0 {
		fmtp["packetization-mode"] = strconv.Itoa(f.PacketizationMode)
	}

	if sps != nil && pps != nil {
		fmtp["sprop-parameter-sets"] = base64.StdEncoding.EncodeToString(sps) + "," +
			base64.StdEncoding.EncodeToString(pps)
	}

	// profile_idc, constraint flags and level_idc follow the NALU header.
	if len(sps) >= 4 {
		fmtp["profile-level-id"] = strings.ToUpper(hex.EncodeToString(sps[1:4]))
	}

	return fmtp
}

// startsRandomAccess reports whether a NALU of this type can start decoding.
func startsRandomAccess(typ h264.NALUType) bool {
	return typ == h264.NALUTypeIDR || typ == h264.NALUTypeSPS || typ == h264.NALUTypePPS
}

// PTSEqualsDTS implements Format.
// Only packets that carry the start of a random access NALU are considered
// to have PTS equal to DTS, since the order of other frames is unknown.
func (f *H264) PTSEqualsDTS(pkt *rtp.Packet) bool {
	p := pkt.Payload
	if len(p) == 0 {
		return false
	}

	typ := h264.NALUType(p[0] & 0x1F)

	if typ == h264.NALUTypeFUA {
		// only the starting fragment carries the type of the NALU.
		return len(p) >= 2 && (p[1]&0x80) != 0 && startsRandomAccess(h264.NALUType(p[1]&0x1F))
	}

	if typ != h264.NALUTypeSTAPA {
		return startsRandomAccess(typ)
	}

	for p = p[1:]; len(p) >= 3; {
		size := int(p[0])<<8 | int(p[1])
		if size == 0 || size > len(p)-2 {
			return false
		}

		if startsRandomAccess(h264.NALUType(p[2] & 0x1F)) {
			return true
		}

		p = p[2+size:]
	}

	return false
}

// CreateEncoder creates an encoder able to encode the content of the format.
func (f *H264) CreateEncoder() (*rtph264.Encoder, error) {
	e := &rtph264.Encoder{
		PayloadType: f.PayloadTyp,
	}

	err := e.Init()
	if err != nil {
		return nil, err
	}

	return e, nil
}

// CreateDecoder creates a decoder able to decode the content of the format.
func (f *H264) CreateDecoder() (*rtph264.Decoder, error) {
	d := &rtph264.Decoder{}

	err := d.Init()
	if err != nil {
		return nil, err
	}

	return d, nil
}

// SafeSetParams sets the codec parameters.
func (f *H264) SafeSetParams(sps []byte, pps []byte) {
	f.mutex.Lock()
	defer f.mutex.Unlock()
	f.SPS = sps
	f.PPS = pps
}

// SafeParams returns the codec parameters.
func (f *H264) SafeParams() ([]byte, []byte) {
	f.mutex.RLock()
	defer f.mutex.RUnlock()
	return f.SPS, f.PPS
}
