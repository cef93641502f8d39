package rtspserver

import (
	"github.com/netlab/rtspserver/pkg/headers"
)

// Transport is the protocol used to deliver RTP and RTCP packets to a session.
type Transport int

// transports.
const (
	TransportUDP Transport = iota
	TransportUDPMulticast
	TransportTCP
)

func transportFromHeader(th *headers.Transport) Transport {
	if th.Protocol == headers.TransportProtocolTCP {
		return TransportTCP
	}
	if th.Delivery != nil && *th.Delivery == headers.TransportDeliveryMulticast {
		return TransportUDPMulticast
	}
	return TransportUDP
}

// isUDP returns whether packets are sent as UDP datagrams.
// Sessions on these transports need keepalives.
func (t Transport) isUDP() bool {
	return t == TransportUDP || t == TransportUDPMulticast
}

// String implements fmt.Stringer.
func (t Transport) String() string {
	switch t {
	case TransportUDP:
		return "UDP"
	case TransportUDPMulticast:
		return "UDP-multicast"
	case TransportTCP:
		return "TCP"
	}
	return "unknown"
}
