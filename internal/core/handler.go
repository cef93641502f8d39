package core

import (
	"sync"

	"github.com/sirupsen/logrus"

	"github.com/netlab/rtspserver"
	"github.com/netlab/rtspserver/pkg/base"
)

type mediaRef struct {
	factory *MediaFactory
	media   *Media
	path    string
}

func (r *mediaRef) release() {
	r.factory.Release(r.media)
}

// serverHandler serves the mount points through the RTSP server.
type serverHandler struct {
	mounts *MountPoints
	log    logrus.FieldLogger

	mutex sync.Mutex

	// media created by DESCRIBE, waiting for a SETUP on the same connection.
	pending map[*rtspserver.ServerConn]*mediaRef

	sessions map[*rtspserver.ServerSession]*mediaRef
}

func newServerHandler(mounts *MountPoints, log logrus.FieldLogger) *serverHandler {
	return &serverHandler{
		mounts:   mounts,
		log:      log,
		pending:  make(map[*rtspserver.ServerConn]*mediaRef),
		sessions: make(map[*rtspserver.ServerSession]*mediaRef),
	}
}

func (h *serverHandler) connLog(sc *rtspserver.ServerConn) *logrus.Entry {
	return h.log.WithField("conn", sc.RemoteAddr().String())
}

func (h *serverHandler) sessionLog(ss *rtspserver.ServerSession) *logrus.Entry {
	return h.log.WithFields(logrus.Fields{
		"conn":    ss.RemoteAddr().String(),
		"session": ss.ID(),
	})
}

// OnConnOpen implements rtspserver.ServerHandlerOnConnOpen.
func (h *serverHandler) OnConnOpen(ctx *rtspserver.ServerHandlerOnConnOpenCtx) {
	l := h.connLog(ctx.Conn)
	if ctx.Conn.IsWebSocket() {
		l = l.WithField("transport", "WebSocket")
	}
	l.Info("conn opened")
}

// OnConnClose implements rtspserver.ServerHandlerOnConnClose.
func (h *serverHandler) OnConnClose(ctx *rtspserver.ServerHandlerOnConnCloseCtx) {
	h.connLog(ctx.Conn).Infof("conn closed: %v", ctx.Error)

	h.mutex.Lock()
	ref, ok := h.pending[ctx.Conn]
	delete(h.pending, ctx.Conn)
	h.mutex.Unlock()

	if ok {
		ref.release()
	}
}

// OnSessionOpen implements rtspserver.ServerHandlerOnSessionOpen.
func (h *serverHandler) OnSessionOpen(ctx *rtspserver.ServerHandlerOnSessionOpenCtx) {
	h.sessionLog(ctx.Session).Info("session opened")
}

// OnSessionClose implements rtspserver.ServerHandlerOnSessionClose.
func (h *serverHandler) OnSessionClose(ctx *rtspserver.ServerHandlerOnSessionCloseCtx) {
	h.sessionLog(ctx.Session).Infof("session closed: %v", ctx.Error)

	h.mutex.Lock()
	ref, ok := h.sessions[ctx.Session]
	delete(h.sessions, ctx.Session)
	h.mutex.Unlock()

	if ok {
		ref.release()
	}
}

// OnRequest implements rtspserver.ServerHandlerOnRequest.
func (h *serverHandler) OnRequest(sc *rtspserver.ServerConn, req *base.Request) {
	h.connLog(sc).Debugf("[c->s] %s %s", req.Method, req.URL)
}

// OnResponse implements rtspserver.ServerHandlerOnResponse.
func (h *serverHandler) OnResponse(sc *rtspserver.ServerConn, res *base.Response) {
	h.connLog(sc).Debugf("[s->c] %d %s", res.StatusCode, res.StatusMessage)
}

func (h *serverHandler) construct(path string) (*mediaRef, *base.Response) {
	f, mountPath, ok := h.mounts.Match(path)
	if !ok {
		return nil, &base.Response{
			StatusCode: base.StatusNotFound,
		}
	}

	m, err := f.Construct()
	if err != nil {
		h.log.WithField("path", mountPath).Errorf("unable to construct media: %v", err)
		return nil, &base.Response{
			StatusCode: base.StatusServiceUnavailable,
		}
	}

	return &mediaRef{
		factory: f,
		media:   m,
		path:    mountPath,
	}, nil
}

// OnDescribe implements rtspserver.ServerHandlerOnDescribe.
func (h *serverHandler) OnDescribe(
	ctx *rtspserver.ServerHandlerOnDescribeCtx,
) (*base.Response, *rtspserver.ServerStream, error) {
	ref, res := h.construct(ctx.Path)
	if res != nil {
		h.connLog(ctx.Conn).WithField("path", ctx.Path).Warnf("describe refused with code %d", res.StatusCode)
		return res, nil, nil
	}

	stream := ref.media.Stream

	if ref.factory.Shared {
		ref.release()
	} else {
		h.mutex.Lock()
		prev, ok := h.pending[ctx.Conn]
		h.pending[ctx.Conn] = ref
		h.mutex.Unlock()

		if ok {
			prev.release()
		}
	}

	return &base.Response{
		StatusCode: base.StatusOK,
	}, stream, nil
}

// OnSetup implements rtspserver.ServerHandlerOnSetup.
func (h *serverHandler) OnSetup(
	ctx *rtspserver.ServerHandlerOnSetupCtx,
) (*base.Response, *rtspserver.ServerStream, error) {
	l := h.sessionLog(ctx.Session).WithFields(logrus.Fields{
		"path":      ctx.Path,
		"transport": ctx.Transport.String(),
	})

	h.mutex.Lock()
	ref, ok := h.sessions[ctx.Session]
	h.mutex.Unlock()

	if ok {
		l.Debug("setup of an additional media")
		return &base.Response{
			StatusCode: base.StatusOK,
		}, ref.media.Stream, nil
	}

	_, mountPath, found := h.mounts.Match(ctx.Path)

	h.mutex.Lock()
	pending, hasPending := h.pending[ctx.Conn]
	if hasPending && found && pending.path == mountPath {
		delete(h.pending, ctx.Conn)
		ref = pending
	}
	h.mutex.Unlock()

	if ref == nil {
		var res *base.Response
		ref, res = h.construct(ctx.Path)
		if res != nil {
			l.Warnf("setup refused with code %d", res.StatusCode)
			return res, nil, nil
		}
	}

	h.mutex.Lock()
	h.sessions[ctx.Session] = ref
	h.mutex.Unlock()

	l.Info("setup")

	return &base.Response{
		StatusCode: base.StatusOK,
	}, ref.media.Stream, nil
}

// OnPlay implements rtspserver.ServerHandlerOnPlay.
func (h *serverHandler) OnPlay(ctx *rtspserver.ServerHandlerOnPlayCtx) (*base.Response, error) {
	l := h.sessionLog(ctx.Session).WithField("path", ctx.Path)
	if tr := ctx.Session.SetuppedTransport(); tr != nil {
		l = l.WithField("transport", tr.String())
	}
	l.Infof("playing %d medias", len(ctx.Session.SetuppedMedias()))

	return &base.Response{
		StatusCode: base.StatusOK,
	}, nil
}

// OnPause implements rtspserver.ServerHandlerOnPause.
func (h *serverHandler) OnPause(ctx *rtspserver.ServerHandlerOnPauseCtx) (*base.Response, error) {
	h.sessionLog(ctx.Session).WithField("path", ctx.Path).Info("paused")

	return &base.Response{
		StatusCode: base.StatusOK,
	}, nil
}

// OnStreamWriteError implements rtspserver.ServerHandlerOnStreamWriteError.
func (h *serverHandler) OnStreamWriteError(ctx *rtspserver.ServerHandlerOnStreamWriteErrorCtx) {
	if ctx.Session != nil {
		h.sessionLog(ctx.Session).Warnf("write error: %v", ctx.Error)
		return
	}
	h.log.Warnf("multicast write error: %v", ctx.Error)
}

// closeAll releases the media of every session and pending DESCRIBE.
func (h *serverHandler) closeAll() {
	h.mutex.Lock()
	refs := make([]*mediaRef, 0, len(h.pending)+len(h.sessions))
	for _, ref := range h.pending {
		refs = append(refs, ref)
	}
	for _, ref := range h.sessions {
		refs = append(refs, ref)
	}
	h.pending = make(map[*rtspserver.ServerConn]*mediaRef)
	h.sessions = make(map[*rtspserver.ServerSession]*mediaRef)
	h.mutex.Unlock()

	for _, ref := range refs {
		ref.release()
	}
}
