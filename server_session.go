package rtspserver

import (
	"context"
	"fmt"
	"log"
	"net"
	"slices"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"

	"github.com/netlab/rtspserver/internal/asyncprocessor"
	"github.com/netlab/rtspserver/pkg/base"
	"github.com/netlab/rtspserver/pkg/description"
	"github.com/netlab/rtspserver/pkg/headers"
	"github.com/netlab/rtspserver/pkg/liberrors"
)

// ServerSessionState is a state of a ServerSession.
type ServerSessionState int

// states.
const (
	ServerSessionStateInitial ServerSessionState = iota
	ServerSessionStatePrePlay
	ServerSessionStatePlay
)

// String implements fmt.Stringer.
func (s ServerSessionState) String() string {
	switch s {
	case ServerSessionStateInitial:
		return "initial"
	case ServerSessionStatePrePlay:
		return "prePlay"
	case ServerSessionStatePlay:
		return "play"
	}
	return "unknown"
}

// ServerSession is a server-side RTSP session.
type ServerSession struct {
	s      *Server
	author *ServerConn

	id                    string
	secretID              string // must not be shared, allows to take ownership of the session
	created               time.Time
	ctx                   context.Context
	ctxCancel             func()
	propsMutex            sync.RWMutex
	userData              interface{}
	conns                 map[*ServerConn]struct{}
	state                 ServerSessionState
	setuppedMedias        map[*description.Media]*serverSessionMedia
	setuppedMediasOrdered []*serverSessionMedia
	tcpCallbackByChannel  map[int]func([]byte)
	setuppedTransport     *Transport
	setuppedStream        *ServerStream
	setuppedPath          string
	setuppedQuery         string
	lastRequestTime       time.Time
	tcpConn               *ServerConn
	udpLastPacketTime     *int64
	udpCheckStreamTimer   *time.Timer
	writer                *asyncprocessor.Processor
	writerMutex           sync.RWMutex
	tcpFrame              *base.InterleavedFrame
	tcpBuffer             []byte

	// in
	chHandleRequest    chan sessionRequestReq
	chRemoveConn       chan *ServerConn
	chAsyncStartWriter chan struct{}
	chWriterError      chan error
}

func (ss *ServerSession) initialize() {
	ctx, ctxCancel := context.WithCancel(ss.s.ctx)

	// use an UUID without dashes, since dashes confuse some clients.
	ss.secretID = strings.ReplaceAll(uuid.New().String(), "-", "")
	ss.id = uuid.New().String()
	ss.created = ss.s.timeNow()
	ss.ctx = ctx
	ss.ctxCancel = ctxCancel
	ss.conns = make(map[*ServerConn]struct{})
	ss.lastRequestTime = ss.s.timeNow()
	ss.udpLastPacketTime = new(int64)
	ss.udpCheckStreamTimer = emptyTimer()

	ss.chHandleRequest = make(chan sessionRequestReq)
	ss.chRemoveConn = make(chan *ServerConn)
	ss.chAsyncStartWriter = make(chan struct{})
	ss.chWriterError = make(chan error)

	ss.s.wg.Add(1)
	go ss.run()
}

// Close closes the ServerSession.
func (ss *ServerSession) Close() {
	ss.ctxCancel()
}

// ID returns the public identifier of the session.
// It differs from the value of the Session header.
func (ss *ServerSession) ID() string {
	return ss.id
}

// Created returns the creation time of the session.
func (ss *ServerSession) Created() time.Time {
	return ss.created
}

// RemoteAddr returns the address of the client that created the session.
func (ss *ServerSession) RemoteAddr() *net.TCPAddr {
	return ss.author.RemoteAddr()
}

// State returns the state of the session.
func (ss *ServerSession) State() ServerSessionState {
	ss.propsMutex.RLock()
	defer ss.propsMutex.RUnlock()
	return ss.state
}

// SetuppedTransport returns the transport negotiated during SETUP.
func (ss *ServerSession) SetuppedTransport() *Transport {
	ss.propsMutex.RLock()
	defer ss.propsMutex.RUnlock()
	return ss.setuppedTransport
}

// SetuppedStream returns the stream associated with the session.
func (ss *ServerSession) SetuppedStream() *ServerStream {
	ss.propsMutex.RLock()
	defer ss.propsMutex.RUnlock()
	return ss.setuppedStream
}

// SetuppedPath returns the path sent during SETUP.
func (ss *ServerSession) SetuppedPath() string {
	ss.propsMutex.RLock()
	defer ss.propsMutex.RUnlock()
	return ss.setuppedPath
}

// SetuppedQuery returns the query sent during SETUP.
func (ss *ServerSession) SetuppedQuery() string {
	ss.propsMutex.RLock()
	defer ss.propsMutex.RUnlock()
	return ss.setuppedQuery
}

// SetuppedMedias returns the setupped medias, in SETUP order.
func (ss *ServerSession) SetuppedMedias() []*description.Media {
	ss.propsMutex.RLock()
	defer ss.propsMutex.RUnlock()

	ret := make([]*description.Media, len(ss.setuppedMediasOrdered))
	for i, sm := range ss.setuppedMediasOrdered {
		ret[i] = sm.media
	}
	return ret
}

// SetUserData sets some user data associated with the session.
func (ss *ServerSession) SetUserData(v interface{}) {
	ss.propsMutex.Lock()
	defer ss.propsMutex.Unlock()
	ss.userData = v
}

// UserData returns some user data associated with the session.
func (ss *ServerSession) UserData() interface{} {
	ss.propsMutex.RLock()
	defer ss.propsMutex.RUnlock()
	return ss.userData
}

// Stats returns session statistics.
func (ss *ServerSession) Stats() *SessionStats {
	ss.propsMutex.RLock()
	defer ss.propsMutex.RUnlock()

	ret := &SessionStats{
		Medias: make(map[int]SessionStatsMedia, len(ss.setuppedMediasOrdered)),
	}

	for _, sm := range ss.setuppedMediasOrdered {
		ms := sm.stats()
		ret.Medias[sm.trackID] = ms
		ret.BytesSent += ms.BytesSent
		ret.RTPPacketsSent += ms.RTPPacketsSent
		ret.RTCPPacketsSent += ms.RTCPPacketsSent
		ret.RTCPPacketsReceived += ms.RTCPPacketsReceived
		ret.WriteErrors += ms.WriteErrors
	}

	return ret
}

func (ss *ServerSession) onStreamWriteError(err error) {
	if h, ok := ss.s.Handler.(ServerHandlerOnStreamWriteError); ok {
		h.OnStreamWriteError(&ServerHandlerOnStreamWriteErrorCtx{
			Session: ss,
			Error:   err,
		})
	} else {
		log.Println(err.Error())
	}
}

func (ss *ServerSession) checkState(allowed ...ServerSessionState) (*base.Response, error) {
	if slices.Contains(allowed, ss.state) {
		return nil, nil
	}

	sorted := slices.Clone(allowed)
	slices.Sort(sorted)

	list := make([]fmt.Stringer, len(sorted))
	for i, st := range sorted {
		list[i] = st
	}

	return statusResponse(base.StatusMethodNotValidInThisState,
		liberrors.ErrServerInvalidState{AllowedList: list, State: ss.state})
}

func (ss *ServerSession) createWriter() {
	ss.writerMutex.Lock()
	defer ss.writerMutex.Unlock()

	ss.writer = &asyncprocessor.Processor{
		BufferSize: ss.s.WriteQueueSize,
		OnError: func(ctx context.Context, err error) {
			select {
			case ss.chWriterError <- err:
			case <-ctx.Done():
			case <-ss.ctx.Done():
			}
		},
	}
	ss.writer.Initialize() //nolint:errcheck
}

func (ss *ServerSession) startWriter() {
	ss.writer.Start()
}

func (ss *ServerSession) destroyWriter() {
	ss.writerMutex.Lock()
	w := ss.writer
	ss.writer = nil
	ss.writerMutex.Unlock()

	if w != nil {
		w.Close()
	}
}

func (ss *ServerSession) setState(state ServerSessionState) {
	ss.propsMutex.Lock()
	ss.state = state
	ss.propsMutex.Unlock()
}

func (ss *ServerSession) run() {
	defer ss.s.wg.Done()

	if h, ok := ss.s.Handler.(ServerHandlerOnSessionOpen); ok {
		h.OnSessionOpen(&ServerHandlerOnSessionOpenCtx{
			Session: ss,
			Conn:    ss.author,
		})
	}

	err := ss.runInner()

	ss.ctxCancel()

	// close all associated connections, both UDP and TCP
	// except for the ones that called TEARDOWN
	// (that are detached from the session just after the request)
	for sc := range ss.conns {
		sc.Close()

		// make sure that no packet is written after OnSessionClose().
		<-sc.done

		sc.removeSession(ss)
	}

	if ss.setuppedStream != nil {
		ss.setuppedStream.readerSetInactive(ss)
		ss.setuppedStream.readerRemove(ss)
	}

	if ss.state == ServerSessionStatePlay {
		for _, sm := range ss.setuppedMedias {
			sm.stop()
		}
	}

	ss.destroyWriter()

	ss.s.closeSession(ss)

	if h, ok := ss.s.Handler.(ServerHandlerOnSessionClose); ok {
		h.OnSessionClose(&ServerHandlerOnSessionCloseCtx{
			Session: ss,
			Error:   err,
		})
	}
}

func (ss *ServerSession) sessionHeader() base.HeaderValue {
	return headers.Session{
		Session: ss.secretID,
		Timeout: func() *uint {
			// timeout controls the sending of keepalives.
			// these are needed only when transport is UDP or UDP-multicast.
			if ss.setuppedTransport != nil && ss.setuppedTransport.isUDP() {
				v := uint(ss.s.SessionTimeout / time.Second)
				return &v
			}
			return nil
		}(),
	}.Marshal()
}

// onRequest serves a request routed to the session.
// A non-nil return value terminates the session.
func (ss *ServerSession) onRequest(req sessionRequestReq) error {
	ss.lastRequestTime = ss.s.timeNow()
	ss.conns[req.sc] = struct{}{}

	method := req.req.Method
	res, err := ss.handleRequestInner(req.sc, req.req)
	ok := err == nil || isSwitchReadModeError(err)

	var endErr error

	switch {
	// a session that failed its first SETUP is useless.
	case ss.state == ServerSessionStateInitial:
		endErr = liberrors.ErrServerSessionNotInUse{}

	case ok && method == base.Teardown:
		endErr = liberrors.ErrServerSessionTornDown{Author: req.sc.NetConn().RemoteAddr()}

	case ok:
		if res.Header == nil {
			res.Header = make(base.Header)
		}
		res.Header["Session"] = ss.sessionHeader()
	}

	returned := ss
	if endErr != nil {
		// the connection must not route further requests here.
		delete(ss.conns, req.sc)
		returned = nil
	}

	req.res <- sessionRequestRes{
		res: res,
		err: err,
		ss:  returned,
	}

	return endErr
}

// udpTimedOut reports whether neither RTSP keepalives nor RTCP packets
// arrived within the session timeout.
func (ss *ServerSession) udpTimedOut(now time.Time) bool {
	lastPacket := time.Unix(atomic.LoadInt64(ss.udpLastPacketTime), 0)
	return now.Sub(ss.lastRequestTime) >= ss.s.SessionTimeout &&
		now.Sub(lastPacket) >= ss.s.SessionTimeout
}

func (ss *ServerSession) playingOverTCP() bool {
	return ss.state == ServerSessionStatePlay && *ss.setuppedTransport == TransportTCP
}

func (ss *ServerSession) runInner() error {
	for {
		select {
		case req := <-ss.chHandleRequest:
			err := ss.onRequest(req)
			if err != nil {
				return err
			}

		case sc := <-ss.chRemoveConn:
			delete(ss.conns, sc)

			// UDP readers keep playing without a connection.
			if len(ss.conns) == 0 &&
				(ss.state != ServerSessionStatePlay || *ss.setuppedTransport == TransportTCP) {
				return liberrors.ErrServerSessionNotInUse{}
			}

		case <-ss.chAsyncStartWriter:
			if ss.playingOverTCP() {
				ss.startWriter()
			}

		case <-ss.udpCheckStreamTimer.C:
			if ss.udpTimedOut(ss.s.timeNow()) {
				return liberrors.ErrServerSessionTimedOut{}
			}
			ss.udpCheckStreamTimer = time.NewTimer(ss.s.checkStreamPeriod)

		case err := <-ss.chWriterError:
			return err

		case <-ss.ctx.Done():
			return liberrors.ErrServerTerminated{}
		}
	}
}

func (ss *ServerSession) handleRequestInner(sc *ServerConn, req *base.Request) (*base.Response, error) {
	if ss.tcpConn != nil && sc != ss.tcpConn {
		return statusResponse(base.StatusBadRequest, liberrors.ErrServerSessionLinkedToOtherConn{})
	}

	var path string
	var query string

	switch req.Method {
	case base.Pause, base.GetParameter, base.SetParameter, base.Play:
		path, query = splitPath(req.URL)
	}

	switch req.Method {
	case base.Options:
		return &base.Response{
			StatusCode: base.StatusOK,
			Header: base.Header{
				"Public": publicHeader(sc.s.Handler),
			},
		}, nil

	case base.Setup:
		return ss.handleSetup(sc, req)

	case base.Play:
		return ss.handlePlay(sc, req, path, query)

	case base.Pause:
		return ss.handlePause(sc, req, path, query)

	case base.Teardown:
		var err error
		if ss.playingOverTCP() {
			err = switchReadModeError{readModeRequests}
		}
		return statusResponse(base.StatusOK, err)

	case base.GetParameter:
		if h, ok := sc.s.Handler.(ServerHandlerOnGetParameter); ok {
			return h.OnGetParameter(&ServerHandlerOnGetParameterCtx{
				Session: ss,
				Conn:    sc,
				Request: req,
				Path:    path,
				Query:   query,
			})
		}

		// GET_PARAMETER is used like a ping when reading; reply with 200
		return &base.Response{
			StatusCode: base.StatusOK,
			Header: base.Header{
				"Content-Type": base.HeaderValue{"text/parameters"},
			},
			Body: []byte{},
		}, nil

	case base.SetParameter:
		if h, ok := sc.s.Handler.(ServerHandlerOnSetParameter); ok {
			return h.OnSetParameter(&ServerHandlerOnSetParameterCtx{
				Session: ss,
				Conn:    sc,
				Request: req,
				Path:    path,
				Query:   query,
			})
		}
	}

	return statusResponse(base.StatusNotImplemented, nil)
}

func (ss *ServerSession) handlePlay(
	sc *ServerConn,
	req *base.Request,
	path string,
	query string,
) (*base.Response, error) {
	// play can be sent twice, allow calling it even if we're already playing
	res, err := ss.checkState(ServerSessionStatePrePlay, ServerSessionStatePlay)
	if err != nil {
		return res, err
	}

	if ss.state == ServerSessionStatePrePlay && path != ss.setuppedPath {
		return statusResponse(base.StatusBadRequest, liberrors.ErrServerPathHasChanged{Prev: ss.setuppedPath, Cur: path})
	}

	if ss.state != ServerSessionStatePlay &&
		*ss.setuppedTransport != TransportUDPMulticast {
		ss.createWriter()
	}

	if h, ok := sc.s.Handler.(ServerHandlerOnPlay); ok {
		res, err = h.OnPlay(&ServerHandlerOnPlayCtx{
			Session: ss,
			Conn:    sc,
			Request: req,
			Path:    path,
			Query:   query,
		})
	} else {
		res = &base.Response{
			StatusCode: base.StatusOK,
		}
	}

	if res.StatusCode != base.StatusOK {
		if ss.state != ServerSessionStatePlay {
			ss.destroyWriter()
		}
		return res, err
	}

	if res.Header == nil {
		res.Header = make(base.Header)
	}

	if _, ok := res.Header["Range"]; !ok {
		res.Header["Range"] = headers.Range{}.Marshal()
	}

	if ss.state == ServerSessionStatePlay {
		return res, err
	}

	ss.setState(ServerSessionStatePlay)

	atomic.StoreInt64(ss.udpLastPacketTime, ss.s.timeNow().Unix())

	for _, sm := range ss.setuppedMedias {
		sm.start()
	}

	switch *ss.setuppedTransport {
	case TransportUDP:
		ss.udpCheckStreamTimer = time.NewTimer(ss.s.checkStreamPeriod)
		ss.startWriter()

	case TransportUDPMulticast:
		ss.udpCheckStreamTimer = time.NewTimer(ss.s.checkStreamPeriod)

	default: // TCP
		ss.tcpConn = sc
		ss.tcpFrame = &base.InterleavedFrame{}
		ss.tcpBuffer = make([]byte, ss.s.MaxPacketSize+4)
		err = switchReadModeError{readModeInterleaved}
		// startWriter() is called by ServerConn, through chAsyncStartWriter,
		// after the response has been sent
	}

	ss.setuppedStream.readerSetActive(ss)

	if ri := ss.rtpInfo(ss.s.timeNow(), req.URL); len(ri) != 0 {
		res.Header["RTP-Info"] = ri.Marshal()
	}

	return res, err
}

func (ss *ServerSession) handlePause(
	sc *ServerConn,
	req *base.Request,
	path string,
	query string,
) (*base.Response, error) {
	res, err := ss.checkState(ServerSessionStatePrePlay, ServerSessionStatePlay)
	if err != nil {
		return res, err
	}

	if h, ok := sc.s.Handler.(ServerHandlerOnPause); ok {
		res, err = h.OnPause(&ServerHandlerOnPauseCtx{
			Session: ss,
			Conn:    sc,
			Request: req,
			Path:    path,
			Query:   query,
		})
	} else {
		res = &base.Response{
			StatusCode: base.StatusOK,
		}
	}

	if res.StatusCode != base.StatusOK || ss.state != ServerSessionStatePlay {
		return res, err
	}

	ss.setuppedStream.readerSetInactive(ss)

	ss.destroyWriter()

	for _, sm := range ss.setuppedMedias {
		sm.stop()
	}

	ss.setState(ServerSessionStatePrePlay)

	switch *ss.setuppedTransport {
	case TransportUDP, TransportUDPMulticast:
		ss.udpCheckStreamTimer = emptyTimer()

	default: // TCP
		err = switchReadModeError{readModeRequests}
		ss.tcpConn = nil
	}

	return res, err
}

func (ss *ServerSession) handleRequest(req sessionRequestReq) (*base.Response, *ServerSession, error) {
	select {
	case ss.chHandleRequest <- req:
		res := <-req.res
		return res.res, res.ss, res.err

	case <-ss.ctx.Done():
		return &base.Response{StatusCode: base.StatusBadRequest}, req.sc.session, liberrors.ErrServerTerminated{}
	}
}

func (ss *ServerSession) removeConn(sc *ServerConn) {
	select {
	case ss.chRemoveConn <- sc:
	case <-ss.ctx.Done():
	}
}

func (ss *ServerSession) asyncStartWriter() {
	select {
	case ss.chAsyncStartWriter <- struct{}{}:
	case <-ss.ctx.Done():
	}
}
