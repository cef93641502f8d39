// Package description contains the SDP description of a stream.
package description

import (
	"fmt"
	"reflect"
	"sort"
	"strconv"
	"strings"

	psdp "github.com/pion/sdp/v3"

	"github.com/netlab/rtspserver/pkg/format"
)

// MediaType is the type of a media stream.
type MediaType string

// media types.
const (
	MediaTypeVideo MediaType = "video"
	MediaTypeAudio MediaType = "audio"
)

// formatAttributes are the attributes of a media that refer to one payload type.
type formatAttributes struct {
	rtpMap string
	fmtp   map[string]string
}

// splitPayloadAttribute splits "<payload type> <value>".
func splitPayloadAttribute(v string) (uint8, string, bool) {
	pt, rest, ok := strings.Cut(strings.TrimSpace(v), " ")
	if !ok {
		return 0, "", false
	}

	tmp, err := strconv.ParseUint(pt, 10, 8)
	if err != nil {
		return 0, "", false
	}

	return uint8(tmp), strings.TrimSpace(rest), true
}

// parseFMTP decodes "key1=val1; key2=val2". Keys are lowercased.
func parseFMTP(v string) map[string]string {
	ret := make(map[string]string)

	for _, kv := range strings.Split(v, ";") {
		key, val, ok := strings.Cut(strings.TrimSpace(kv), "=")
		if !ok || key == "" {
			continue
		}
		ret[strings.ToLower(key)] = val
	}

	if len(ret) == 0 {
		return nil
	}
	return ret
}

func formatFMTP(fmtp map[string]string) string {
	keys := make([]string, 0, len(fmtp))
	for key := range fmtp {
		keys = append(keys, key)
	}
	sort.Strings(keys)

	var b strings.Builder
	for i, key := range keys {
		if i != 0 {
			b.WriteString("; ")
		}
		b.WriteString(key)
		b.WriteByte('=')
		b.WriteString(fmtp[key])
	}
	return b.String()
}

// Media is a media stream of a Session.
// It contains one or more formats.
type Media struct {
	// Media type.
	Type MediaType

	// Control attribute, relative to the URL of the stream.
	Control string

	// Formats contained into the media.
	Formats []format.Format
}

// Unmarshal decodes the media from a SDP media description.
func (m *Media) Unmarshal(md *psdp.MediaDescription) error {
	m.Type = MediaType(md.MediaName.Media)
	m.Control = ""

	attrs := make(map[uint8]*formatAttributes)
	get := func(pt uint8) *formatAttributes {
		if _, ok := attrs[pt]; !ok {
			attrs[pt] = &formatAttributes{}
		}
		return attrs[pt]
	}

	for _, attr := range md.Attributes {
		switch attr.Key {
		case "control":
			m.Control = attr.Value

		case "rtpmap":
			if pt, v, ok := splitPayloadAttribute(attr.Value); ok {
				get(pt).rtpMap = v
			}

		case "fmtp":
			if pt, v, ok := splitPayloadAttribute(attr.Value); ok {
				get(pt).fmtp = parseFMTP(v)
			}
		}
	}

	m.Formats = make([]format.Format, 0, len(md.MediaName.Formats))

	for _, v := range md.MediaName.Formats {
		tmp, err := strconv.ParseUint(v, 10, 8)
		if err != nil {
			return fmt.Errorf("invalid payload type '%s'", v)
		}
		pt := uint8(tmp)

		a := get(pt)

		forma, err := format.Unmarshal(string(m.Type), pt, a.rtpMap, a.fmtp)
		if err != nil {
			return err
		}

		m.Formats = append(m.Formats, forma)
	}

	if len(m.Formats) == 0 {
		return fmt.Errorf("no formats found")
	}

	return nil
}

// Marshal encodes the media into a SDP media description.
// Every format gets a rtpmap attribute and, if it has parameters, a fmtp attribute.
func (m Media) Marshal() *psdp.MediaDescription {
	md := &psdp.MediaDescription{
		MediaName: psdp.MediaName{
			Media:  string(m.Type),
			Protos: []string{"RTP", "AVP"},
		},
		Attributes: []psdp.Attribute{{
			Key:   "control",
			Value: m.Control,
		}},
	}

	for _, forma := range m.Formats {
		pt := strconv.FormatUint(uint64(forma.PayloadType()), 10)
		md.MediaName.Formats = append(md.MediaName.Formats, pt)

		if v := forma.RTPMap(); v != "" {
			md.Attributes = append(md.Attributes, psdp.Attribute{Key: "rtpmap", Value: pt + " " + v})
		}

		if fmtp := forma.FMTP(); len(fmtp) != 0 {
			md.Attributes = append(md.Attributes, psdp.Attribute{Key: "fmtp", Value: pt + " " + formatFMTP(fmtp)})
		}
	}

	return md
}

// FindFormat finds a format of the same type of forma.
// forma must be a pointer to a format pointer, like **format.H264.
// If found, the format is inserted into forma.
func (m Media) FindFormat(forma interface{}) bool {
	dest := reflect.ValueOf(forma).Elem()

	for _, f := range m.Formats {
		v := reflect.ValueOf(f)
		if v.Type() == dest.Type() {
			dest.Set(v)
			return true
		}
	}
	return false
}
