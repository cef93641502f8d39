package headers

import (
	"fmt"
	"strconv"
	"strings"

	"github.com/netlab/rtspserver/pkg/base"
)

// RTPInfoEntry is an entry of a RTP-Info header.
type RTPInfoEntry struct {
	URL            string
	SequenceNumber *uint16
	Timestamp      *uint32
}

// RTPInfo is a RTP-Info header.
type RTPInfo []*RTPInfoEntry

// Unmarshal decodes a RTP-Info header.
func (h *RTPInfo) Unmarshal(v base.HeaderValue) error {
	if len(v) == 0 {
		return fmt.Errorf("value not provided")
	}

	*h = nil

	for _, val := range v {
		for _, part := range strings.Split(val, ",") {
			kvs, err := parseKeyVals(strings.TrimSpace(part), ';')
			if err != nil {
				return err
			}

			e := &RTPInfoEntry{}

			for _, kv := range kvs {
				switch kv.key {
				case "url":
					e.URL = kv.val

				case "seq":
					tmp, err := strconv.ParseUint(kv.val, 10, 16)
					if err != nil {
						return fmt.Errorf("invalid seq (%v)", kv.val)
					}
					seq := uint16(tmp)
					e.SequenceNumber = &seq

				case "rtptime":
					tmp, err := strconv.ParseUint(kv.val, 10, 32)
					if err != nil {
						return fmt.Errorf("invalid rtptime (%v)", kv.val)
					}
					ts := uint32(tmp)
					e.Timestamp = &ts

				default:
					return fmt.Errorf("invalid key: %v", kv.key)
				}
			}

			if e.URL == "" {
				return fmt.Errorf("URL is missing")
			}

			*h = append(*h, e)
		}
	}

	return nil
}

// Marshal encodes a RTP-Info header.
func (h RTPInfo) Marshal() base.HeaderValue {
	entries := make([]string, len(h))

	for i, e := range h {
		s := "url=" + e.URL
		if e.SequenceNumber != nil {
			s += ";seq=" + strconv.FormatUint(uint64(*e.SequenceNumber), 10)
		}
		if e.Timestamp != nil {
			s += ";rtptime=" + strconv.FormatUint(uint64(*e.Timestamp), 10)
		}
		entries[i] = s
	}

	return base.HeaderValue{strings.Join(entries, ",")}
}
