package headers

import (
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/netlab/rtspserver/pkg/base"
)

// Range is a Range header with a npt (normal play time) value.
// Live streams use a nil End.
type Range struct {
	Start time.Duration
	End   *time.Duration
}

func parseNPT(s string) (time.Duration, error) {
	if s == "now" {
		return 0, nil
	}

	parts := strings.Split(s, ":")
	if len(parts) > 3 {
		return 0, fmt.Errorf("invalid npt (%v)", s)
	}

	var d time.Duration
	mult := time.Second

	for i := len(parts) - 1; i >= 0; i-- {
		f, err := strconv.ParseFloat(parts[i], 64)
		if err != nil || f < 0 {
			return 0, fmt.Errorf("invalid npt (%v)", s)
		}
		d += time.Duration(f * float64(mult))
		mult *= 60
	}

	return d, nil
}

func marshalNPT(d time.Duration) string {
	return strconv.FormatFloat(d.Seconds(), 'f', 3, 64)
}

// Unmarshal decodes a Range header.
func (h *Range) Unmarshal(v base.HeaderValue) error {
	if len(v) == 0 {
		return fmt.Errorf("value not provided")
	}

	if len(v) > 1 {
		return fmt.Errorf("value provided multiple times (%v)", v)
	}

	// the time= parameter is ignored
	val := strings.SplitN(v[0], ";", 2)[0]

	if !strings.HasPrefix(val, "npt=") {
		return fmt.Errorf("unsupported range (%v)", val)
	}
	val = val[len("npt="):]

	i := strings.IndexByte(val, '-')
	if i < 0 {
		return fmt.Errorf("invalid range (%v)", val)
	}

	var err error
	h.Start, err = parseNPT(val[:i])
	if err != nil {
		return err
	}

	h.End = nil
	if end := val[i+1:]; end != "" {
		e, err := parseNPT(end)
		if err != nil {
			return err
		}
		h.End = &e
	}

	return nil
}

// Marshal encodes a Range header.
func (h Range) Marshal() base.HeaderValue {
	s := "npt=" + marshalNPT(h.Start) + "-"
	if h.End != nil {
		s += marshalNPT(*h.End)
	}
	return base.HeaderValue{s}
}
