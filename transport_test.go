package rtspserver

import (
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/netlab/rtspserver/pkg/headers"
)

func TestTransportFromHeader(t *testing.T) {
	unicast := headers.TransportDeliveryUnicast
	multicast := headers.TransportDeliveryMulticast

	for _, ca := range []struct {
		name  string
		th    headers.Transport
		tr    Transport
		label string
	}{
		{
			"udp",
			headers.Transport{Protocol: headers.TransportProtocolUDP, Delivery: &unicast},
			TransportUDP,
			"UDP",
		},
		{
			"udp without delivery",
			headers.Transport{Protocol: headers.TransportProtocolUDP},
			TransportUDP,
			"UDP",
		},
		{
			"multicast",
			headers.Transport{Protocol: headers.TransportProtocolUDP, Delivery: &multicast},
			TransportUDPMulticast,
			"UDP-multicast",
		},
		{
			"tcp",
			headers.Transport{Protocol: headers.TransportProtocolTCP},
			TransportTCP,
			"TCP",
		},
	} {
		t.Run(ca.name, func(t *testing.T) {
			tr := transportFromHeader(&ca.th)
			require.Equal(t, ca.tr, tr)
			require.Equal(t, ca.label, tr.String())
			require.Equal(t, ca.tr != TransportTCP, tr.isUDP())
		})
	}

	require.Equal(t, "unknown", Transport(10).String())
}
