// Package api contains the control API.
package api

import (
	"context"
	"net"
	"net/http"
	"sort"
	"time"

	"github.com/gin-contrib/pprof"
	"github.com/gin-gonic/gin"
	"github.com/pkg/errors"
	"github.com/sirupsen/logrus"

	"github.com/netlab/rtspserver"
)

func init() {
	gin.SetMode(gin.ReleaseMode)
}

// Mount is a mount point as returned by the API.
type Mount struct {
	Path    string   `json:"path"`
	Launch  string   `json:"launch"`
	Shared  bool     `json:"shared"`
	Clients int      `json:"clients"`
	Streams []string `json:"streams"`
}

// MediaStats are the statistics of a session media.
type MediaStats struct {
	BytesSent           uint64 `json:"bytesSent"`
	RTPPacketsSent      uint64 `json:"rtpPacketsSent"`
	RTCPPacketsSent     uint64 `json:"rtcpPacketsSent"`
	RTCPPacketsReceived uint64 `json:"rtcpPacketsReceived"`
	WriteErrors         uint64 `json:"writeErrors"`
}

// Session is a session as returned by the API.
type Session struct {
	ID         string             `json:"id"`
	Created    time.Time          `json:"created"`
	RemoteAddr string             `json:"remoteAddr"`
	State      string             `json:"state"`
	Path       string             `json:"path"`
	Query      string             `json:"query"`
	Transport  *string            `json:"transport"`
	BytesSent  uint64             `json:"bytesSent"`
	Medias     map[int]MediaStats `json:"medias"`
}

// SessionList is a list of sessions.
type SessionList struct {
	ItemCount int        `json:"itemCount"`
	Items     []*Session `json:"items"`
}

// MountList is a list of mount points.
type MountList struct {
	ItemCount int      `json:"itemCount"`
	Items     []*Mount `json:"items"`
}

// Error is the body of failed requests.
type Error struct {
	Error string `json:"error"`
}

// MountLister lists mount points.
type MountLister interface {
	APIMounts() []*Mount
}

// SessionProvider gives access to the sessions of the server.
type SessionProvider interface {
	Sessions() []*rtspserver.ServerSession
}

func newSession(ss *rtspserver.ServerSession) *Session {
	stats := ss.Stats()

	s := &Session{
		ID:        ss.ID(),
		Created:   ss.Created(),
		State:     ss.State().String(),
		Path:      ss.SetuppedPath(),
		Query:     ss.SetuppedQuery(),
		BytesSent: stats.BytesSent,
		Medias:    make(map[int]MediaStats, len(stats.Medias)),
	}

	if addr := ss.RemoteAddr(); addr != nil {
		s.RemoteAddr = addr.String()
	}

	if tr := ss.SetuppedTransport(); tr != nil {
		v := tr.String()
		s.Transport = &v
	}

	for id, ms := range stats.Medias {
		s.Medias[id] = MediaStats{
			BytesSent:           ms.BytesSent,
			RTPPacketsSent:      ms.RTPPacketsSent,
			RTCPPacketsSent:     ms.RTCPPacketsSent,
			RTCPPacketsReceived: ms.RTCPPacketsReceived,
			WriteErrors:         ms.WriteErrors,
		}
	}

	return s
}

// API is the control API.
type API struct {
	Address  string
	Pprof    bool
	Mounts   MountLister
	Sessions SessionProvider
	Log      logrus.FieldLogger

	ln      net.Listener
	httpSrv *http.Server
	done    chan struct{}
	err     error
}

// Initialize binds the listener and starts serving.
func (a *API) Initialize() error {
	if a.Log == nil {
		a.Log = logrus.StandardLogger()
	}

	var err error
	a.ln, err = net.Listen("tcp", a.Address)
	if err != nil {
		return errors.Wrapf(err, "unable to listen on '%s'", a.Address)
	}

	a.httpSrv = &http.Server{
		Handler:           a.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
	}
	a.done = make(chan struct{})

	go a.run()

	a.Log.Infof("API listening on %s", a.ln.Addr())

	return nil
}

func (a *API) run() {
	defer close(a.done)

	err := a.httpSrv.Serve(a.ln)
	if !errors.Is(err, http.ErrServerClosed) {
		a.err = err
	}
}

// Close stops the API.
func (a *API) Close() {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	a.httpSrv.Shutdown(ctx) //nolint:errcheck
	<-a.done
}

// Wait waits until the API is closed or fails.
func (a *API) Wait() error {
	<-a.done
	return a.err
}

// Handler returns the HTTP handler of the API.
func (a *API) Handler() http.Handler {
	router := gin.New()
	router.Use(gin.LoggerWithFormatter(a.logFormatter))
	router.Use(gin.Recovery())
	router.NoRoute(func(ctx *gin.Context) {
		ctx.AbortWithStatusJSON(http.StatusNotFound, &Error{Error: "not found"})
	})

	if a.Pprof {
		pprof.Register(router)
	}

	v1 := router.Group("/v1")
	{
		v1.GET("/mounts", a.onMountsList)

		sessions := v1.Group("/sessions")
		{
			sessions.GET("", a.onSessionsList)
			sessions.GET("/:id", a.onSessionsGet)
			sessions.POST("/:id/kick", a.onSessionsKick)
		}
	}

	return router
}

func (a *API) logFormatter(p gin.LogFormatterParams) string {
	a.Log.WithFields(logrus.Fields{
		"client":  p.ClientIP,
		"status":  p.StatusCode,
		"latency": p.Latency.String(),
	}).Debugf("[API] %s %s", p.Method, p.Path)
	return ""
}

func (a *API) onMountsList(ctx *gin.Context) {
	items := a.Mounts.APIMounts()
	ctx.JSON(http.StatusOK, &MountList{
		ItemCount: len(items),
		Items:     items,
	})
}

func (a *API) onSessionsList(ctx *gin.Context) {
	sessions := a.Sessions.Sessions()

	items := make([]*Session, 0, len(sessions))
	for _, ss := range sessions {
		items = append(items, newSession(ss))
	}

	sort.Slice(items, func(i, j int) bool {
		return items[i].Created.Before(items[j].Created)
	})

	ctx.JSON(http.StatusOK, &SessionList{
		ItemCount: len(items),
		Items:     items,
	})
}

func (a *API) findSession(id string) *rtspserver.ServerSession {
	for _, ss := range a.Sessions.Sessions() {
		if ss.ID() == id {
			return ss
		}
	}
	return nil
}

func (a *API) onSessionsGet(ctx *gin.Context) {
	ss := a.findSession(ctx.Param("id"))
	if ss == nil {
		ctx.JSON(http.StatusNotFound, &Error{Error: "session not found"})
		return
	}

	ctx.JSON(http.StatusOK, newSession(ss))
}

func (a *API) onSessionsKick(ctx *gin.Context) {
	ss := a.findSession(ctx.Param("id"))
	if ss == nil {
		ctx.JSON(http.StatusNotFound, &Error{Error: "session not found"})
		return
	}

	a.Log.WithField("session", ss.ID()).Info("session kicked")
	ss.Close()

	ctx.Status(http.StatusOK)
}
