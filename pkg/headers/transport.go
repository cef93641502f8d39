package headers

import (
	"fmt"
	"net"
	"strconv"
	"strings"

	"github.com/netlab/rtspserver/pkg/base"
)

// TransportProtocol is the lower transport protocol of a stream.
type TransportProtocol int

// transport protocols.
const (
	TransportProtocolUDP TransportProtocol = iota
	TransportProtocolTCP
)

// TransportDelivery is a delivery method.
type TransportDelivery int

// delivery methods.
const (
	TransportDeliveryUnicast TransportDelivery = iota
	TransportDeliveryMulticast
)

// TransportMode is a transport mode.
type TransportMode int

// transport modes.
const (
	TransportModePlay TransportMode = iota
	TransportModeRecord
)

// String implements fmt.Stringer.
func (m TransportMode) String() string {
	if m == TransportModePlay {
		return "play"
	}
	return "record"
}

// Transport is a Transport header.
type Transport struct {
	Protocol TransportProtocol

	Delivery *TransportDelivery

	Destination *net.IP

	TTL *uint

	// multicast ports
	Ports *[2]int

	ClientPorts *[2]int

	ServerPorts *[2]int

	InterleavedIDs *[2]int

	SSRC *uint32

	Mode *TransportMode
}

func parsePorts(val string) (*[2]int, error) {
	parts := strings.Split(val, "-")

	parse := func(s string) (int, error) {
		v, err := strconv.ParseUint(s, 10, 16)
		if err != nil {
			return 0, fmt.Errorf("invalid ports (%v)", val)
		}
		return int(v), nil
	}

	switch len(parts) {
	case 1:
		p1, err := parse(parts[0])
		if err != nil {
			return nil, err
		}
		return &[2]int{p1, p1 + 1}, nil

	case 2:
		p1, err := parse(parts[0])
		if err != nil {
			return nil, err
		}
		p2, err := parse(parts[1])
		if err != nil {
			return nil, err
		}
		return &[2]int{p1, p2}, nil
	}

	return nil, fmt.Errorf("invalid ports (%v)", val)
}

func marshalPorts(p *[2]int) string {
	return strconv.FormatInt(int64(p[0]), 10) + "-" + strconv.FormatInt(int64(p[1]), 10)
}

func (h *Transport) unmarshal(str string) error {
	*h = Transport{}

	kvs, err := parseKeyVals(str, ';')
	if err != nil {
		return err
	}

	if len(kvs) == 0 {
		return fmt.Errorf("invalid value (%v)", str)
	}

	switch kvs[0].key {
	case "RTP/AVP", "RTP/AVP/UDP":
		h.Protocol = TransportProtocolUDP

	case "RTP/AVP/TCP":
		h.Protocol = TransportProtocolTCP

	default:
		return fmt.Errorf("invalid protocol (%v)", str)
	}

	for _, kv := range kvs[1:] {
		switch kv.key {
		case "unicast":
			v := TransportDeliveryUnicast
			h.Delivery = &v

		case "multicast":
			v := TransportDeliveryMulticast
			h.Delivery = &v

		case "destination":
			ip := net.ParseIP(kv.val)
			if ip == nil {
				// hostnames are not resolved
				continue
			}
			h.Destination = &ip

		case "ttl":
			v, err := strconv.ParseUint(kv.val, 10, 8)
			if err != nil {
				return fmt.Errorf("invalid ttl (%v)", kv.val)
			}
			vu := uint(v)
			h.TTL = &vu

		case "port":
			h.Ports, err = parsePorts(kv.val)
			if err != nil {
				return err
			}

		case "client_port":
			h.ClientPorts, err = parsePorts(kv.val)
			if err != nil {
				return err
			}

		case "server_port":
			h.ServerPorts, err = parsePorts(kv.val)
			if err != nil {
				return err
			}

		case "interleaved":
			h.InterleavedIDs, err = parsePorts(kv.val)
			if err != nil {
				return err
			}
			if h.InterleavedIDs[0] > 255 || h.InterleavedIDs[1] > 255 {
				return fmt.Errorf("invalid interleaved IDs (%v)", kv.val)
			}

		case "ssrc":
			v := strings.TrimLeft(kv.val, " ")
			if len(v) > 8 {
				return fmt.Errorf("invalid SSRC (%v)", kv.val)
			}
			tmp, err := strconv.ParseUint(v, 16, 32)
			if err != nil {
				return fmt.Errorf("invalid SSRC (%v)", kv.val)
			}
			ssrc := uint32(tmp)
			h.SSRC = &ssrc

		case "mode":
			switch strings.ToLower(kv.val) {
			case "play":
				v := TransportModePlay
				h.Mode = &v

			// "receive" is used by old clients
			case "record", "receive":
				v := TransportModeRecord
				h.Mode = &v

			default:
				return fmt.Errorf("invalid transport mode: '%s'", kv.val)
			}
		}
	}

	return nil
}

// Unmarshal decodes a Transport header.
func (h *Transport) Unmarshal(v base.HeaderValue) error {
	if len(v) == 0 {
		return fmt.Errorf("value not provided")
	}

	if len(v) > 1 {
		return fmt.Errorf("value provided multiple times (%v)", v)
	}

	return h.unmarshal(v[0])
}

func (h Transport) marshal() string {
	var parts []string

	if h.Protocol == TransportProtocolUDP {
		parts = append(parts, "RTP/AVP")
	} else {
		parts = append(parts, "RTP/AVP/TCP")
	}

	if h.Delivery != nil {
		if *h.Delivery == TransportDeliveryUnicast {
			parts = append(parts, "unicast")
		} else {
			parts = append(parts, "multicast")
		}
	}

	if h.Destination != nil {
		parts = append(parts, "destination="+h.Destination.String())
	}

	if h.TTL != nil {
		parts = append(parts, "ttl="+strconv.FormatUint(uint64(*h.TTL), 10))
	}

	if h.Ports != nil {
		parts = append(parts, "port="+marshalPorts(h.Ports))
	}

	if h.ClientPorts != nil {
		parts = append(parts, "client_port="+marshalPorts(h.ClientPorts))
	}

	if h.ServerPorts != nil {
		parts = append(parts, "server_port="+marshalPorts(h.ServerPorts))
	}

	if h.InterleavedIDs != nil {
		parts = append(parts, "interleaved="+marshalPorts(h.InterleavedIDs))
	}

	if h.SSRC != nil {
		parts = append(parts, "ssrc="+fmt.Sprintf("%08X", *h.SSRC))
	}

	if h.Mode != nil {
		parts = append(parts, "mode="+h.Mode.String())
	}

	return strings.Join(parts, ";")
}

// Marshal encodes a Transport header.
func (h Transport) Marshal() base.HeaderValue {
	return base.HeaderValue{h.marshal()}
}

// Transports is a Transport header with one or more transports,
// in order of client preference.
type Transports []Transport

// Unmarshal decodes a Transport header with multiple transports.
func (ts *Transports) Unmarshal(v base.HeaderValue) error {
	if len(v) == 0 {
		return fmt.Errorf("value not provided")
	}

	if len(v) > 1 {
		return fmt.Errorf("value provided multiple times (%v)", v)
	}

	*ts = nil

	for _, part := range strings.Split(v[0], ",") {
		var tr Transport
		err := tr.unmarshal(strings.TrimSpace(part))
		if err != nil {
			return err
		}
		*ts = append(*ts, tr)
	}

	return nil
}

// Marshal encodes a Transport header with multiple transports.
func (ts Transports) Marshal() base.HeaderValue {
	parts := make([]string, len(ts))
	for i, tr := range ts {
		parts[i] = tr.marshal()
	}
	return base.HeaderValue{strings.Join(parts, ",")}
}
