package launch

import (
	"fmt"
	"strconv"
	"strings"

	"github.com/netlab/rtspserver/pkg/testsrc"
)

type elementKind int

const (
	kindSource elementKind = iota
	kindDemuxer
	kindConverter
	kindEncoder
	kindPayloader
)

// caps are the kind of data flowing on a link.
type caps int

const (
	capsAny caps = iota
	capsVideoRaw
	capsAudioRaw
	capsMPEGTS
	capsH264
	capsPCMU
	capsPCMA
)

func (c caps) String() string {
	switch c {
	case capsVideoRaw:
		return "video/x-raw"
	case capsAudioRaw:
		return "audio/x-raw"
	case capsMPEGTS:
		return "video/mpegts"
	case capsH264:
		return "video/x-h264"
	case capsPCMU:
		return "audio/x-mulaw"
	case capsPCMA:
		return "audio/x-alaw"
	}
	return "ANY"
}

type elementDef struct {
	kind  elementKind
	in    caps
	out   caps
	props []string
}

var elementDefs = map[string]elementDef{
	"videotestsrc": {
		kind:  kindSource,
		out:   capsVideoRaw,
		props: []string{"pattern", "width", "height", "framerate", "is-live", "num-buffers"},
	},
	"audiotestsrc": {
		kind:  kindSource,
		out:   capsAudioRaw,
		props: []string{"freq", "volume", "samplesperbuffer", "is-live", "wave"},
	},
	"filesrc": {
		kind:  kindSource,
		out:   capsMPEGTS,
		props: []string{"location"},
	},
	"tsdemux": {
		kind: kindDemuxer,
		in:   capsMPEGTS,
		out:  capsH264,
	},
	"videoconvert": {
		kind: kindConverter,
		in:   capsVideoRaw,
		out:  capsVideoRaw,
	},
	"videoscale": {
		kind: kindConverter,
		in:   capsVideoRaw,
		out:  capsVideoRaw,
	},
	"audioconvert": {
		kind: kindConverter,
		in:   capsAudioRaw,
		out:  capsAudioRaw,
	},
	"audioresample": {
		kind: kindConverter,
		in:   capsAudioRaw,
		out:  capsAudioRaw,
	},
	"queue": {
		kind:  kindConverter,
		in:    capsAny,
		out:   capsAny,
		props: []string{"max-size-buffers", "max-size-bytes", "max-size-time", "leaky"},
	},
	"capsfilter": {
		kind:  kindConverter,
		in:    capsAny,
		out:   capsAny,
		props: []string{"caps"},
	},
	"h264parse": {
		kind:  kindConverter,
		in:    capsH264,
		out:   capsH264,
		props: []string{"config-interval"},
	},
	"x264enc": {
		kind:  kindEncoder,
		in:    capsVideoRaw,
		out:   capsH264,
		props: []string{"key-int-max", "tune", "speed-preset", "bitrate", "byte-stream", "threads"},
	},
	"mulawenc": {
		kind: kindEncoder,
		in:   capsAudioRaw,
		out:  capsPCMU,
	},
	"alawenc": {
		kind: kindEncoder,
		in:   capsAudioRaw,
		out:  capsPCMA,
	},
	"rtph264pay": {
		kind:  kindPayloader,
		in:    capsH264,
		props: []string{"pt", "config-interval", "mtu"},
	},
	"rtppcmupay": {
		kind:  kindPayloader,
		in:    capsPCMU,
		props: []string{"pt", "mtu"},
	},
	"rtppcmapay": {
		kind:  kindPayloader,
		in:    capsPCMA,
		props: []string{"pt", "mtu"},
	},
}

func (d elementDef) hasProp(key string) bool {
	if key == "name" {
		return true
	}
	for _, p := range d.props {
		if p == key {
			return true
		}
	}
	return false
}

type element struct {
	index   int
	factory string
	name    string
	props   map[string]string
	def     elementDef
}

func (e *element) String() string {
	if e.name != "" {
		return e.factory + " " + e.name
	}
	return e.factory
}

func (e *element) setProp(key, val string) error {
	if !e.def.hasProp(key) {
		return fmt.Errorf("no property '%s' in element '%s'", key, e.factory)
	}

	if key == "name" {
		e.name = val
		return nil
	}

	e.props[key] = val
	return nil
}

func (e *element) intProp(key string, def int, min int, max int) (int, error) {
	v, ok := e.props[key]
	if !ok {
		return def, nil
	}

	tmp, err := strconv.ParseInt(v, 10, 64)
	if err != nil || tmp < int64(min) || tmp > int64(max) {
		return 0, fmt.Errorf("invalid value '%s' of property '%s' of element '%s'", v, key, e.factory)
	}

	return int(tmp), nil
}

func (e *element) floatProp(key string, def float64) (float64, error) {
	v, ok := e.props[key]
	if !ok {
		return def, nil
	}

	tmp, err := strconv.ParseFloat(v, 64)
	if err != nil {
		return 0, fmt.Errorf("invalid value '%s' of property '%s' of element '%s'", v, key, e.factory)
	}

	return tmp, nil
}

func (e *element) boolProp(key string, def bool) (bool, error) {
	v, ok := e.props[key]
	if !ok {
		return def, nil
	}

	switch strings.ToLower(v) {
	case "true", "1", "yes":
		return true, nil
	case "false", "0", "no":
		return false, nil
	}

	return false, fmt.Errorf("invalid value '%s' of property '%s' of element '%s'", v, key, e.factory)
}

func parseFraction(v string) (int, int, error) {
	parts := strings.SplitN(v, "/", 2)

	num, err := strconv.ParseUint(parts[0], 10, 31)
	if err != nil || num == 0 {
		return 0, 0, fmt.Errorf("invalid fraction '%s'", v)
	}

	den := uint64(1)
	if len(parts) == 2 {
		den, err = strconv.ParseUint(parts[1], 10, 31)
		if err != nil || den == 0 {
			return 0, 0, fmt.Errorf("invalid fraction '%s'", v)
		}
	}

	return int(num), int(den), nil
}

// capsFields parses a caps string like "video/x-raw,width=640,height=480".
func capsFields(v string) (string, map[string]string) {
	parts := strings.Split(v, ",")
	fields := make(map[string]string)

	for _, p := range parts[1:] {
		kv := strings.SplitN(strings.TrimSpace(p), "=", 2)
		if len(kv) != 2 {
			continue
		}

		// strip type annotations, i.e. width=(int)640
		val := kv[1]
		if strings.HasPrefix(val, "(") {
			if i := strings.IndexByte(val, ')'); i >= 0 {
				val = val[i+1:]
			}
		}

		fields[kv[0]] = val
	}

	return strings.TrimSpace(parts[0]), fields
}

func isCapsString(v string) bool {
	return strings.HasPrefix(v, "video/") || strings.HasPrefix(v, "audio/")
}

func (e *element) videoTestSource() (*VideoTestSource, error) {
	s := &VideoTestSource{
		Pattern: testsrc.PatternSMPTE,
		Width:   DefaultWidth,
		Height:  DefaultHeight,
		FPSNum:  DefaultFPS,
		FPSDen:  1,
		IsLive:  true,
	}

	if v, ok := e.props["pattern"]; ok {
		var err error
		s.Pattern, err = testsrc.ParsePattern(v)
		if err != nil {
			return nil, err
		}
	}

	var err error
	s.Width, err = e.intProp("width", s.Width, 2, 4096)
	if err != nil {
		return nil, err
	}

	s.Height, err = e.intProp("height", s.Height, 2, 4096)
	if err != nil {
		return nil, err
	}

	if v, ok := e.props["framerate"]; ok {
		s.FPSNum, s.FPSDen, err = parseFraction(v)
		if err != nil {
			return nil, err
		}
	}

	s.IsLive, err = e.boolProp("is-live", s.IsLive)
	if err != nil {
		return nil, err
	}

	s.NumBuffers, err = e.intProp("num-buffers", -1, -1, 1<<31-1)
	if err != nil {
		return nil, err
	}

	return s, nil
}

func (e *element) audioTestSource() (*AudioTestSource, error) {
	s := &AudioTestSource{
		Frequency:        440,
		Volume:           0.8,
		SamplesPerBuffer: DefaultSamplesPerBuffer,
		IsLive:           true,
	}

	if v, ok := e.props["wave"]; ok && v != "sine" && v != "0" {
		return nil, fmt.Errorf("unsupported wave '%s'", v)
	}

	var err error
	s.Frequency, err = e.floatProp("freq", s.Frequency)
	if err != nil {
		return nil, err
	}

	s.Volume, err = e.floatProp("volume", s.Volume)
	if err != nil {
		return nil, err
	}

	s.SamplesPerBuffer, err = e.intProp("samplesperbuffer", s.SamplesPerBuffer, 1, 1400)
	if err != nil {
		return nil, err
	}

	s.IsLive, err = e.boolProp("is-live", s.IsLive)
	if err != nil {
		return nil, err
	}

	return s, nil
}

func (e *element) fileSource() (*FileSource, error) {
	loc, ok := e.props["location"]
	if !ok || loc == "" {
		return nil, fmt.Errorf("filesrc requires the 'location' property")
	}

	return &FileSource{Location: loc}, nil
}

// applyCaps applies the fields of a caps filter to the source of a stream.
func applyCaps(src interface{}, val string) error {
	typ, fields := capsFields(val)

	vs, ok := src.(*VideoTestSource)
	if !ok || typ != "video/x-raw" {
		return nil
	}

	for key, v := range fields {
		switch key {
		case "width", "height":
			n, err := strconv.ParseUint(v, 10, 31)
			if err != nil || n < 2 || n > 4096 {
				return fmt.Errorf("invalid caps field %s=%s", key, v)
			}
			if key == "width" {
				vs.Width = int(n)
			} else {
				vs.Height = int(n)
			}

		case "framerate":
			num, den, err := parseFraction(v)
			if err != nil {
				return err
			}
			vs.FPSNum, vs.FPSDen = num, den
		}
	}

	return nil
}
