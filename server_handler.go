package rtspserver

import (
	"github.com/netlab/rtspserver/pkg/base"
)

// ServerHandler receives the events of a Server.
// It can implement any of the ServerHandlerOn* interfaces below;
// every callback that is not implemented falls back to a default behavior.
//
// Callbacks are invoked from the goroutine of the connection or session
// they refer to, and must not block.
type ServerHandler interface{}

// connection events.

// ServerHandlerOnConnOpenCtx is passed to OnConnOpen.
type ServerHandlerOnConnOpenCtx struct {
	Conn *ServerConn
}

// ServerHandlerOnConnOpen is called after a TCP or WebSocket connection is accepted.
type ServerHandlerOnConnOpen interface {
	OnConnOpen(*ServerHandlerOnConnOpenCtx)
}

// ServerHandlerOnConnCloseCtx is passed to OnConnClose.
type ServerHandlerOnConnCloseCtx struct {
	Conn *ServerConn

	// reason of the closure.
	Error error
}

// ServerHandlerOnConnClose is called after a connection is closed.
type ServerHandlerOnConnClose interface {
	OnConnClose(*ServerHandlerOnConnCloseCtx)
}

// ServerHandlerOnRequest is called before a request is processed.
type ServerHandlerOnRequest interface {
	OnRequest(*ServerConn, *base.Request)
}

// ServerHandlerOnResponse is called before a response is written.
type ServerHandlerOnResponse interface {
	OnResponse(*ServerConn, *base.Response)
}

// session events.

// ServerHandlerOnSessionOpenCtx is passed to OnSessionOpen.
type ServerHandlerOnSessionOpenCtx struct {
	Session *ServerSession

	// connection that sent the first SETUP.
	Conn *ServerConn
}

// ServerHandlerOnSessionOpen is called when a SETUP without Session header creates a session.
type ServerHandlerOnSessionOpen interface {
	OnSessionOpen(*ServerHandlerOnSessionOpenCtx)
}

// ServerHandlerOnSessionCloseCtx is passed to OnSessionClose.
type ServerHandlerOnSessionCloseCtx struct {
	Session *ServerSession

	// ErrServerSessionTornDown, ErrServerSessionTimedOut,
	// ErrServerSessionNotInUse or the error that closed the session.
	Error error
}

// ServerHandlerOnSessionClose is called after a session is closed.
// No packet is written to the session after this call.
type ServerHandlerOnSessionClose interface {
	OnSessionClose(*ServerHandlerOnSessionCloseCtx)
}

// ServerHandlerOnStreamWriteErrorCtx is passed to OnStreamWriteError.
type ServerHandlerOnStreamWriteErrorCtx struct {
	// reader that could not be reached, or nil for multicast writers.
	Session *ServerSession
	Error   error
}

// ServerHandlerOnStreamWriteError is called when a ServerStream fails to deliver a packet.
// When it is not implemented, errors are printed with the standard logger.
type ServerHandlerOnStreamWriteError interface {
	OnStreamWriteError(*ServerHandlerOnStreamWriteErrorCtx)
}

// method events.
//
// Method callbacks return a response, and optionally an error.
// The response is always written; a non-nil error then closes the
// connection. Refusals that keep the connection alive, like a 404
// for an unknown path, return a nil error.

// ServerHandlerOnDescribeCtx is passed to OnDescribe.
type ServerHandlerOnDescribeCtx struct {
	Conn    *ServerConn
	Request *base.Request
	Path    string
	Query   string
}

// ServerHandlerOnDescribe serves DESCRIBE.
// A 200 response must come with the stream whose description is returned.
// Without this interface, DESCRIBE is answered with 501.
type ServerHandlerOnDescribe interface {
	OnDescribe(*ServerHandlerOnDescribeCtx) (*base.Response, *ServerStream, error)
}

// ServerHandlerOnSetupCtx is passed to OnSetup.
type ServerHandlerOnSetupCtx struct {
	Session   *ServerSession
	Conn      *ServerConn
	Request   *base.Request
	Path      string
	Query     string
	Transport Transport
}

// ServerHandlerOnSetup serves SETUP.
// A 200 response must come with the stream the session reads from.
// Every SETUP of the same session must return the same stream.
type ServerHandlerOnSetup interface {
	OnSetup(*ServerHandlerOnSetupCtx) (*base.Response, *ServerStream, error)
}

// ServerHandlerOnPlayCtx is passed to OnPlay.
type ServerHandlerOnPlayCtx struct {
	Session *ServerSession
	Conn    *ServerConn
	Request *base.Request
	Path    string
	Query   string
}

// ServerHandlerOnPlay serves PLAY.
// The server fills Session, Range and RTP-Info of 200 responses.
type ServerHandlerOnPlay interface {
	OnPlay(*ServerHandlerOnPlayCtx) (*base.Response, error)
}

// ServerHandlerOnPauseCtx is passed to OnPause.
type ServerHandlerOnPauseCtx struct {
	Session *ServerSession
	Conn    *ServerConn
	Request *base.Request
	Path    string
	Query   string
}

// ServerHandlerOnPause serves PAUSE.
type ServerHandlerOnPause interface {
	OnPause(*ServerHandlerOnPauseCtx) (*base.Response, error)
}

// ServerHandlerOnGetParameterCtx is passed to OnGetParameter.
type ServerHandlerOnGetParameterCtx struct {
	Session *ServerSession
	Conn    *ServerConn
	Request *base.Request
	Path    string
	Query   string
}

// ServerHandlerOnGetParameter serves GET_PARAMETER.
// Without this interface, GET_PARAMETER is answered with an empty 200,
// which is what clients send as keepalive.
type ServerHandlerOnGetParameter interface {
	OnGetParameter(*ServerHandlerOnGetParameterCtx) (*base.Response, error)
}

// ServerHandlerOnSetParameterCtx is passed to OnSetParameter.
type ServerHandlerOnSetParameterCtx struct {
	Session *ServerSession
	Conn    *ServerConn
	Request *base.Request
	Path    string
	Query   string
}

// ServerHandlerOnSetParameter serves SET_PARAMETER.
// Without this interface, SET_PARAMETER is answered with 501.
type ServerHandlerOnSetParameter interface {
	OnSetParameter(*ServerHandlerOnSetParameterCtx) (*base.Response, error)
}
