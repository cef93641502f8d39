package rtspserver

import (
	"strconv"
	"time"

	"github.com/netlab/rtspserver/pkg/base"
	"github.com/netlab/rtspserver/pkg/description"
	"github.com/netlab/rtspserver/pkg/headers"
	"github.com/netlab/rtspserver/pkg/liberrors"
)

const multicastTTL = 127

func transportDelivery(d headers.TransportDelivery) *headers.TransportDelivery {
	return &d
}

// pickTransport returns the first transport, in the client's order of preference,
// that can be served on sc.
func pickTransport(sc *ServerConn, ths headers.Transports) *headers.Transport {
	for _, th := range ths {
		if th.Protocol == headers.TransportProtocolUDP {
			if sc.webSocket {
				continue
			}

			multicast := th.Delivery != nil && *th.Delivery == headers.TransportDeliveryMulticast
			if multicast && sc.s.multicastNet == nil {
				continue
			}
			if !multicast && sc.s.udpRTPListener == nil {
				continue
			}
		}

		picked := th
		return &picked
	}
	return nil
}

// checkTransport validates a transport against the ones already setupped.
func (ss *ServerSession) checkTransport(th *headers.Transport, transport Transport) error {
	if ss.setuppedTransport != nil && *ss.setuppedTransport != transport {
		return liberrors.ErrServerMediasDifferentTransports{}
	}

	if th.Mode != nil && *th.Mode != headers.TransportModePlay {
		return liberrors.ErrServerTransportHeaderInvalidMode{Mode: th.Mode}
	}

	switch transport {
	case TransportUDP:
		if th.ClientPorts == nil {
			return liberrors.ErrServerTransportHeaderNoClientPorts{}
		}

	case TransportTCP:
		if ids := th.InterleavedIDs; ids != nil {
			if ids[1] != ids[0]+1 {
				return liberrors.ErrServerTransportHeaderInvalidInterleavedIDs{}
			}
			if ss.isChannelPairInUse(ids[0]) {
				return liberrors.ErrServerTransportHeaderInterleavedIDsInUse{}
			}
		}
	}

	return nil
}

func (ss *ServerSession) isChannelPairInUse(channel int) bool {
	for _, sm := range ss.setuppedMedias {
		if channel >= sm.tcpChannel-1 && channel <= sm.tcpChannel+1 {
			return true
		}
	}
	return false
}

func (ss *ServerSession) findFreeChannelPair() int {
	ch := 0
	for ss.isChannelPairInUse(ch) {
		ch += 2
	}
	return ch
}

// bindMedia fills the delivery fields of sm and returns the Transport header of the response.
func (ss *ServerSession) bindMedia(
	sm *serverSessionMedia,
	transport Transport,
	in *headers.Transport,
	stream *ServerStream,
) headers.Transport {
	ssrc := stream.medias[sm.media].stats().LocalSSRC
	out := headers.Transport{SSRC: &ssrc}

	switch transport {
	case TransportUDP:
		sm.udpRTPReadPort = in.ClientPorts[0]
		sm.udpRTCPReadPort = in.ClientPorts[1]
		sm.udpRTPWriteAddr = ss.author.udpAddr(sm.udpRTPReadPort)
		sm.udpRTCPWriteAddr = ss.author.udpAddr(sm.udpRTCPReadPort)

		out.Protocol = headers.TransportProtocolUDP
		out.Delivery = transportDelivery(headers.TransportDeliveryUnicast)
		out.ClientPorts = in.ClientPorts
		out.ServerPorts = &[2]int{ss.s.udpRTPListener.port(), ss.s.udpRTCPListener.port()}

	case TransportUDPMulticast:
		ttl := uint(multicastTTL)
		dest := stream.multicastIP(sm.media)

		out.Protocol = headers.TransportProtocolUDP
		out.Delivery = transportDelivery(headers.TransportDeliveryMulticast)
		out.TTL = &ttl
		out.Destination = &dest
		out.Ports = &[2]int{ss.s.MulticastRTPPort, ss.s.MulticastRTCPPort}

	case TransportTCP:
		if in.InterleavedIDs != nil {
			sm.tcpChannel = in.InterleavedIDs[0]
		} else {
			sm.tcpChannel = ss.findFreeChannelPair()
		}

		out.Protocol = headers.TransportProtocolTCP
		out.Delivery = transportDelivery(headers.TransportDeliveryUnicast)
		out.InterleavedIDs = &[2]int{sm.tcpChannel, sm.tcpChannel + 1}
	}

	return out
}

func (ss *ServerSession) handleSetup(sc *ServerConn, req *base.Request) (*base.Response, error) {
	res, err := ss.checkState(ServerSessionStateInitial, ServerSessionStatePrePlay)
	if err != nil {
		return res, err
	}

	var ths headers.Transports
	err = ths.Unmarshal(req.Header["Transport"])
	if err != nil {
		return statusResponse(base.StatusBadRequest, liberrors.ErrServerTransportHeaderInvalid{Err: err})
	}

	th := pickTransport(sc, ths)
	if th == nil {
		return statusResponse(base.StatusUnsupportedTransport, nil)
	}

	path, query, trackID, err := splitSetupPath(req.URL)
	if err != nil {
		return statusResponse(base.StatusBadRequest, err)
	}

	if ss.state == ServerSessionStatePrePlay && path != ss.setuppedPath {
		return statusResponse(base.StatusBadRequest, liberrors.ErrServerMediasDifferentPaths{})
	}

	transport := transportFromHeader(th)

	err = ss.checkTransport(th, transport)
	if err != nil {
		return statusResponse(base.StatusBadRequest, err)
	}

	res, stream, err := ss.s.Handler.(ServerHandlerOnSetup).OnSetup(&ServerHandlerOnSetupCtx{
		Session:   ss,
		Conn:      sc,
		Request:   req,
		Path:      path,
		Query:     query,
		Transport: transport,
	})
	if res.StatusCode != base.StatusOK {
		return res, err
	}

	switch {
	case stream == nil:
		panic("OnSetup returned StatusOK without a stream")
	case ss.state == ServerSessionStatePrePlay && stream != ss.setuppedStream:
		panic("OnSetup returned a stream different from the one of the previous SETUP")
	}

	medi, id := mediaByTrackID(stream.Desc.Medias, trackID)
	if medi == nil {
		return statusResponse(base.StatusNotFound, liberrors.ErrServerMediaNotFound{})
	}

	if _, ok := ss.setuppedMedias[medi]; ok {
		return statusResponse(base.StatusBadRequest, liberrors.ErrServerMediaAlreadySetup{})
	}

	err2 := stream.readerAdd(ss, th.ClientPorts, transport)
	if err2 != nil {
		return statusResponse(base.StatusBadRequest, err2)
	}

	ss.propsMutex.Lock()
	defer ss.propsMutex.Unlock()

	if ss.state == ServerSessionStateInitial {
		ss.state = ServerSessionStatePrePlay
		ss.setuppedPath = path
		ss.setuppedQuery = query
		ss.setuppedStream = stream
		ss.setuppedTransport = &transport
	}

	sm := &serverSessionMedia{
		ss:      ss,
		media:   medi,
		trackID: id,
	}
	out := ss.bindMedia(sm, transport, th, stream)
	sm.initialize()

	if ss.setuppedMedias == nil {
		ss.setuppedMedias = make(map[*description.Media]*serverSessionMedia)
	}
	ss.setuppedMedias[medi] = sm
	ss.setuppedMediasOrdered = append(ss.setuppedMediasOrdered, sm)

	if res.Header == nil {
		res.Header = make(base.Header)
	}
	res.Header["Transport"] = out.Marshal()

	return res, err
}

// rtpInfo returns an RTP-Info entry for every setupped media, in SETUP order.
// Media that did not receive packets yet only carry their URL.
func (ss *ServerSession) rtpInfo(now time.Time, u *base.URL) headers.RTPInfo {
	ri := make(headers.RTPInfo, 0, len(ss.setuppedMediasOrdered))

	for _, sm := range ss.setuppedMediasOrdered {
		entry := ss.setuppedStream.rtpInfoEntry(sm.media, now)
		if entry == nil {
			entry = &headers.RTPInfoEntry{}
		}

		mu := &base.URL{
			Scheme: u.Scheme,
			Host:   u.Host,
			Path:   ss.setuppedPath + trackIDPrefix + strconv.Itoa(sm.trackID),
		}
		entry.URL = mu.String()

		ri = append(ri, entry)
	}

	return ri
}
