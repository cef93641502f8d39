package headers

import (
	"fmt"
	"strconv"

	"github.com/netlab/rtspserver/pkg/base"
)

// Session is a Session header.
type Session struct {
	Session string

	// seconds, optional
	Timeout *uint
}

// Unmarshal decodes a Session header.
func (h *Session) Unmarshal(v base.HeaderValue) error {
	if len(v) == 0 {
		return fmt.Errorf("value not provided")
	}

	if len(v) > 1 {
		return fmt.Errorf("value provided multiple times (%v)", v)
	}

	kvs, err := parseKeyVals(v[0], ';')
	if err != nil {
		return err
	}

	if len(kvs) == 0 || kvs[0].val != "" {
		return fmt.Errorf("invalid value (%v)", v)
	}

	h.Session = kvs[0].key
	h.Timeout = nil

	for _, kv := range kvs[1:] {
		if kv.key == "timeout" {
			tmp, err := strconv.ParseUint(kv.val, 10, 32)
			if err != nil {
				return fmt.Errorf("invalid timeout (%v)", kv.val)
			}
			t := uint(tmp)
			h.Timeout = &t
		}
	}

	return nil
}

// Marshal encodes a Session header.
func (h Session) Marshal() base.HeaderValue {
	ret := h.Session
	if h.Timeout != nil {
		ret += ";timeout=" + strconv.FormatUint(uint64(*h.Timeout), 10)
	}
	return base.HeaderValue{ret}
}
