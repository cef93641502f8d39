package rtspserver

import (
	"context"
	"errors"
	"net"
	gourl "net/url"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/netlab/rtspserver/pkg/base"
	"github.com/netlab/rtspserver/pkg/bytecounter"
	"github.com/netlab/rtspserver/pkg/conn"
	"github.com/netlab/rtspserver/pkg/description"
	"github.com/netlab/rtspserver/pkg/liberrors"
)

func getSessionID(header base.Header) string {
	h, ok := header["Session"]
	if !ok || len(h) != 1 {
		return ""
	}

	// parameters like the timeout follow the ID.
	id, _, _ := strings.Cut(h[0], ";")
	return strings.TrimSpace(id)
}

// multicastRequested reports whether a DESCRIBE asks for a multicast SDP.
// VLC switches to multicast only when the SDP contains a multicast address,
// and the vlcmulticast query parameter requests such a SDP.
func multicastRequested(multicastIPRange string, query string) bool {
	if multicastIPRange == "" {
		return false
	}

	q, err := gourl.ParseQuery(query)
	if err != nil {
		return false
	}

	_, ok := q["vlcmulticast"]
	return ok
}

// describedSession returns the description of a stream as it is served,
// with medias addressed by their index.
func describedSession(d *description.Session, multicast bool) *description.Session {
	out := &description.Session{
		Title:     d.Title,
		Multicast: multicast,
		Medias:    make([]*description.Media, len(d.Medias)),
	}

	for i, medi := range d.Medias {
		out.Medias[i] = &description.Media{
			Type:    medi.Type,
			Control: strings.TrimPrefix(trackIDPrefix, "/") + strconv.Itoa(i),
			Formats: medi.Formats,
		}
	}

	return out
}

// publicMethods are the methods listed in the Public header of OPTIONS responses,
// each with the handler interface that enables it, if any.
var publicMethods = []struct {
	method    base.Method
	supported func(h ServerHandler) bool
}{
	{base.Options, nil},
	{base.Describe, func(h ServerHandler) bool { _, ok := h.(ServerHandlerOnDescribe); return ok }},
	{base.Setup, func(h ServerHandler) bool { _, ok := h.(ServerHandlerOnSetup); return ok }},
	{base.Play, func(h ServerHandler) bool { _, ok := h.(ServerHandlerOnPlay); return ok }},
	{base.Pause, func(h ServerHandler) bool { _, ok := h.(ServerHandlerOnPause); return ok }},
	{base.GetParameter, nil},
	{base.SetParameter, func(h ServerHandler) bool { _, ok := h.(ServerHandlerOnSetParameter); return ok }},
	{base.Teardown, nil},
}

func publicHeader(h ServerHandler) base.HeaderValue {
	var methods []string
	for _, m := range publicMethods {
		if m.supported == nil || m.supported(h) {
			methods = append(methods, string(m.method))
		}
	}
	return base.HeaderValue{strings.Join(methods, ", ")}
}

type readReq struct {
	req *base.Request
	res chan error
}

// ServerConn is a server-side RTSP connection.
type ServerConn struct {
	s         *Server
	nconn     net.Conn
	webSocket bool

	ctx        context.Context
	ctxCancel  func()
	propsMutex sync.RWMutex
	userData   interface{}
	remoteAddr *net.TCPAddr
	bc         *bytecounter.ByteCounter
	conn       *conn.Conn
	session    *ServerSession

	// in
	chRequest       chan readReq
	chReadError     chan error
	chRemoveSession chan *ServerSession

	// out
	done chan struct{}
}

func (sc *ServerConn) initialize() {
	ctx, ctxCancel := context.WithCancel(sc.s.ctx)

	sc.bc = bytecounter.New(sc.nconn)
	sc.conn = conn.NewConn(sc.bc)
	sc.ctx = ctx
	sc.ctxCancel = ctxCancel

	if addr, ok := sc.nconn.RemoteAddr().(*net.TCPAddr); ok {
		sc.remoteAddr = addr
	} else {
		sc.remoteAddr = &net.TCPAddr{}
	}

	sc.chRequest = make(chan readReq)
	sc.chReadError = make(chan error)
	sc.chRemoveSession = make(chan *ServerSession)
	sc.done = make(chan struct{})

	sc.s.wg.Add(1)
	go sc.run()
}

// Close closes the ServerConn.
func (sc *ServerConn) Close() {
	sc.ctxCancel()
}

// NetConn returns the underlying net.Conn.
func (sc *ServerConn) NetConn() net.Conn {
	return sc.nconn
}

// RemoteAddr returns the address of the client.
func (sc *ServerConn) RemoteAddr() *net.TCPAddr {
	return sc.remoteAddr
}

// IsWebSocket returns whether the connection is tunneled into WebSocket.
func (sc *ServerConn) IsWebSocket() bool {
	return sc.webSocket
}

// SetUserData sets some user data associated with the connection.
func (sc *ServerConn) SetUserData(v interface{}) {
	sc.userData = v
}

// UserData returns some user data associated with the connection.
func (sc *ServerConn) UserData() interface{} {
	return sc.userData
}

// Session returns the associated session.
func (sc *ServerConn) Session() *ServerSession {
	sc.propsMutex.RLock()
	defer sc.propsMutex.RUnlock()

	return sc.session
}

// Stats returns connection statistics.
func (sc *ServerConn) Stats() *ConnStats {
	return &ConnStats{
		BytesReceived: sc.bc.BytesReceived(),
		BytesSent:     sc.bc.BytesSent(),
	}
}

func (sc *ServerConn) ip() net.IP {
	return sc.remoteAddr.IP
}

func (sc *ServerConn) zone() string {
	return sc.remoteAddr.Zone
}

func (sc *ServerConn) udpAddr(port int) *net.UDPAddr {
	return &net.UDPAddr{
		IP:   sc.ip(),
		Zone: sc.zone(),
		Port: port,
	}
}

func (sc *ServerConn) run() {
	defer sc.s.wg.Done()
	defer close(sc.done)

	if h, ok := sc.s.Handler.(ServerHandlerOnConnOpen); ok {
		h.OnConnOpen(&ServerHandlerOnConnOpenCtx{
			Conn: sc,
		})
	}

	reader := &serverConnReader{
		sc: sc,
	}
	reader.initialize()

	err := sc.runInner()

	sc.ctxCancel()

	sc.nconn.Close()

	reader.wait()

	if sc.session != nil {
		sc.session.removeConn(sc)
	}

	sc.s.closeConn(sc)

	if h, ok := sc.s.Handler.(ServerHandlerOnConnClose); ok {
		h.OnConnClose(&ServerHandlerOnConnCloseCtx{
			Conn:  sc,
			Error: err,
		})
	}
}

func (sc *ServerConn) runInner() error {
	for {
		select {
		case req := <-sc.chRequest:
			req.res <- sc.handleRequestOuter(req.req)

		case err := <-sc.chReadError:
			return err

		case ss := <-sc.chRemoveSession:
			sc.propsMutex.Lock()
			if sc.session == ss {
				sc.session = nil
			}
			sc.propsMutex.Unlock()

		case <-sc.ctx.Done():
			return liberrors.ErrServerTerminated{}
		}
	}
}

func (sc *ServerConn) handleDescribe(req *base.Request, path string, query string) (*base.Response, error) {
	h, ok := sc.s.Handler.(ServerHandlerOnDescribe)
	if !ok {
		return statusResponse(base.StatusNotImplemented, nil)
	}

	res, stream, err := h.OnDescribe(&ServerHandlerOnDescribeCtx{
		Conn:    sc,
		Request: req,
		Path:    path,
		Query:   query,
	})

	if res.StatusCode != base.StatusOK {
		return res, err
	}

	if stream == nil {
		panic("stream should be not nil when StatusCode is StatusOK")
	}

	desc := describedSession(stream.Desc, multicastRequested(sc.s.MulticastIPRange, query))

	byts, err2 := desc.Marshal()
	if err2 != nil {
		return statusResponse(base.StatusInternalServerError, err2)
	}

	if res.Header == nil {
		res.Header = make(base.Header)
	}
	res.Header["Content-Base"] = base.HeaderValue{req.URL.String() + "/"}
	res.Header["Content-Type"] = base.HeaderValue{"application/sdp"}
	res.Body = byts

	return res, err
}

func (sc *ServerConn) handleRequestInner(req *base.Request) (*base.Response, error) {
	if v, ok := req.Header["CSeq"]; !ok || len(v) != 1 {
		return statusResponse(base.StatusBadRequest, liberrors.ErrServerCSeqMissing{})
	}

	if req.Method != base.Options && req.URL == nil {
		return statusResponse(base.StatusBadRequest, liberrors.ErrServerInvalidPath{})
	}

	sxID := getSessionID(req.Header)

	// requests that carry a session ID are routed to the session.
	if sxID != "" {
		switch req.Method {
		case base.Options, base.Play, base.Pause, base.Teardown, base.GetParameter, base.SetParameter:
			return sc.handleRequestInSession(sxID, req, false)
		}
	}

	switch req.Method {
	case base.Options:
		return &base.Response{
			StatusCode: base.StatusOK,
			Header: base.Header{
				"Public": publicHeader(sc.s.Handler),
			},
		}, nil

	case base.Describe:
		path, query := splitPath(req.URL)
		return sc.handleDescribe(req, path, query)

	case base.Setup:
		if _, ok := sc.s.Handler.(ServerHandlerOnSetup); ok {
			return sc.handleRequestInSession(sxID, req, true)
		}

	case base.Play, base.Pause, base.Teardown:
		return statusResponse(base.StatusSessionNotFound, liberrors.ErrServerSessionMissing{})

	case base.GetParameter:
		if h, ok := sc.s.Handler.(ServerHandlerOnGetParameter); ok {
			path, query := splitPath(req.URL)
			return h.OnGetParameter(&ServerHandlerOnGetParameterCtx{
				Conn:    sc,
				Request: req,
				Path:    path,
				Query:   query,
			})
		}

		// keepalive of clients without a session.
		return &base.Response{
			StatusCode: base.StatusOK,
			Header: base.Header{
				"Content-Type": base.HeaderValue{"text/parameters"},
			},
			Body: []byte{},
		}, nil

	case base.SetParameter:
		if h, ok := sc.s.Handler.(ServerHandlerOnSetParameter); ok {
			path, query := splitPath(req.URL)
			return h.OnSetParameter(&ServerHandlerOnSetParameterCtx{
				Conn:    sc,
				Request: req,
				Path:    path,
				Query:   query,
			})
		}
	}

	return statusResponse(base.StatusNotImplemented, nil)
}

func (sc *ServerConn) handleRequestOuter(req *base.Request) error {
	if h, ok := sc.s.Handler.(ServerHandlerOnRequest); ok {
		h.OnRequest(sc, req)
	}

	res, err := sc.handleRequestInner(req)

	if res.Header == nil {
		res.Header = make(base.Header)
	}

	var errCSeq liberrors.ErrServerCSeqMissing
	if !errors.As(err, &errCSeq) {
		res.Header["CSeq"] = req.Header["CSeq"]
	}

	res.Header["Server"] = base.HeaderValue{serverHeader}

	if h, ok := sc.s.Handler.(ServerHandlerOnResponse); ok {
		h.OnResponse(sc, res)
	}

	sc.nconn.SetWriteDeadline(time.Now().Add(sc.s.WriteTimeout))
	err2 := sc.conn.WriteResponse(res)
	if err == nil && err2 != nil {
		err = err2
	}

	return err
}

func (sc *ServerConn) handleRequestInSession(
	sxID string,
	req *base.Request,
	create bool,
) (*base.Response, error) {
	sreq := sessionRequestReq{
		sc:     sc,
		req:    req,
		id:     sxID,
		create: create,
		res:    make(chan sessionRequestRes),
	}

	var res *base.Response
	var ss *ServerSession
	var err error

	if sc.session != nil {
		// the ID can be missing in SETUP requests, in case the client
		// did not receive it yet, but it can't refer to another session.
		if sxID != "" && sxID != sc.session.secretID {
			return statusResponse(base.StatusBadRequest, liberrors.ErrServerLinkedToOtherSession{})
		}

		res, ss, err = sc.session.handleRequest(sreq)
	} else {
		res, ss, err = sc.s.handleRequest(sreq)
	}

	sc.setSession(ss)
	return res, err
}

func (sc *ServerConn) setSession(ss *ServerSession) {
	sc.propsMutex.Lock()
	sc.session = ss
	sc.propsMutex.Unlock()
}

func (sc *ServerConn) readRequest(req readReq) error {
	select {
	case sc.chRequest <- req:
		return <-req.res

	case <-sc.ctx.Done():
		return liberrors.ErrServerTerminated{}
	}
}

func (sc *ServerConn) readError(err error) {
	select {
	case sc.chReadError <- err:
	case <-sc.ctx.Done():
	}
}

func (sc *ServerConn) removeSession(ss *ServerSession) {
	select {
	case sc.chRemoveSession <- ss:
	case <-sc.ctx.Done():
	}
}
