package base

import (
	"bufio"
	"fmt"
	"net/http"
	"sort"
	"strconv"
	"strings"
)

const (
	headerMaxEntryCount  = 255
	headerMaxKeyLength   = 1024
	headerMaxValueLength = 1024
)

// keys that http.CanonicalHeaderKey would spell differently.
var headerSpecialKeys = map[string]string{
	"cseq":             "CSeq",
	"rtp-info":         "RTP-Info",
	"www-authenticate": "WWW-Authenticate",
	"content-base":     "Content-Base",
	"keymgmt":          "KeyMgmt",
}

func headerKeyNormalize(in string) string {
	if v, ok := headerSpecialKeys[strings.ToLower(in)]; ok {
		return v
	}
	return http.CanonicalHeaderKey(in)
}

// HeaderValue is the value of a header field.
type HeaderValue []string

// Header is the header section of requests and responses.
type Header map[string]HeaderValue

func (h *Header) unmarshal(br *bufio.Reader) error {
	*h = make(Header)

	for {
		byt, err := br.ReadByte()
		if err != nil {
			return err
		}

		// empty line
		if byt == '\r' {
			return readLF(br)
		}
		br.UnreadByte() //nolint:errcheck

		if len(*h) >= headerMaxEntryCount {
			return fmt.Errorf("header count exceeds %d", headerMaxEntryCount)
		}

		key, err := readToken(br, ':', headerMaxKeyLength-1)
		if err != nil {
			return fmt.Errorf("unable to read header key: %w", err)
		}
		key = headerKeyNormalize(key)

		// leading whitespace of values is not part of them.
		for {
			byt, err = br.ReadByte()
			if err != nil {
				return err
			}
			if byt != ' ' && byt != '\t' {
				break
			}
		}
		br.UnreadByte() //nolint:errcheck

		val, err := readLineRest(br, headerMaxValueLength)
		if err != nil {
			return fmt.Errorf("unable to read value of header '%s': %w", key, err)
		}

		(*h)[key] = append((*h)[key], val)
	}
}

func (h Header) sortedKeys() []string {
	keys := make([]string, 0, len(h))
	for key := range h {
		keys = append(keys, key)
	}
	sort.Strings(keys)
	return keys
}

func (h Header) marshalSize() int {
	n := 0
	for key, vals := range h {
		for _, val := range vals {
			n += len(key) + len(": ") + len(val) + len("\r\n")
		}
	}
	return n + len("\r\n")
}

// keys are sorted to obtain deterministic output.
func (h Header) marshalTo(buf []byte) int {
	n := 0
	for _, key := range h.sortedKeys() {
		for _, val := range h[key] {
			n += copy(buf[n:], key+": "+val+"\r\n")
		}
	}
	n += copy(buf[n:], "\r\n")
	return n
}

func (h Header) withContentLength(l int) Header {
	out := make(Header, len(h)+1)
	for k, v := range h {
		out[k] = v
	}
	out["Content-Length"] = HeaderValue{strconv.FormatInt(int64(l), 10)}
	return out
}
