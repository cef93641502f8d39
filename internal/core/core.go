// Package core contains the main routine of the server.
package core

import (
	"context"
	"net"
	"os"
	"os/signal"
	"sort"
	"strconv"
	"sync"
	"syscall"
	"time"

	"github.com/pkg/errors"
	"github.com/sirupsen/logrus"
	"golang.org/x/sync/errgroup"

	"github.com/netlab/rtspserver"
	"github.com/netlab/rtspserver/internal/api"
	"github.com/netlab/rtspserver/internal/conf"
	"github.com/netlab/rtspserver/pkg/liberrors"
)

// Core is an instance of the server.
type Core struct {
	Conf *conf.Conf
	Log  *logrus.Logger

	mounts    *MountPoints
	handler   *serverHandler
	server    *rtspserver.Server
	api       *api.API
	closeOnce sync.Once
}

// Initialize starts the RTSP server, the mount points and the API.
func (c *Core) Initialize() error {
	if c.Log == nil {
		c.Log = logrus.StandardLogger()
	}
	c.Log.SetLevel(c.Conf.LogrusLevel())

	c.mounts = NewMountPoints()
	c.handler = newServerHandler(c.mounts, c.Log)

	c.server = &rtspserver.Server{
		Handler:          c.handler,
		RTSPAddress:      c.Conf.RTSPAddress,
		UDPRTPAddress:    c.Conf.UDPRTPAddress,
		UDPRTCPAddress:   c.Conf.UDPRTCPAddress,
		WebSocketAddress: c.Conf.WebSocketAddress,
		ReadTimeout:      time.Duration(c.Conf.ReadTimeout),
		WriteTimeout:     time.Duration(c.Conf.WriteTimeout),
		SessionTimeout:   time.Duration(c.Conf.SessionTimeout),
		WriteQueueSize:   c.Conf.WriteQueueSize,
	}

	if c.Conf.MulticastIPRange != "" {
		c.server.MulticastIPRange = c.Conf.MulticastIPRange
		c.server.MulticastRTPPort = c.Conf.MulticastRTPPort
		c.server.MulticastRTCPPort = c.Conf.MulticastRTCPPort
	}

	err := c.server.Start()
	if err != nil {
		return errors.Wrap(err, "unable to start the RTSP server")
	}

	paths := make([]string, 0, len(c.Conf.Mounts))
	for path := range c.Conf.Mounts {
		paths = append(paths, path)
	}
	sort.Strings(paths)

	for _, path := range paths {
		m := c.Conf.Mounts[path]

		f := &MediaFactory{
			Launch: m.Launch,
			Shared: m.Shared,
			Server: c.server,
			Log:    c.Log.WithField("path", path),
		}
		err = f.Initialize()
		if err != nil {
			c.closeMounts()
			c.server.Close()
			return errors.Wrapf(err, "mount '%s'", path)
		}

		c.mounts.AddFactory(path, f)
	}

	if c.Conf.API.Enable {
		c.api = &api.API{
			Address:  c.Conf.API.Address,
			Pprof:    c.Conf.API.Pprof,
			Mounts:   c,
			Sessions: c.server,
			Log:      c.Log,
		}
		err = c.api.Initialize()
		if err != nil {
			c.closeMounts()
			c.server.Close()
			return err
		}
	}

	host, _, _ := net.SplitHostPort(c.Conf.RTSPAddress)
	if host == "" {
		host = "0.0.0.0"
	}

	for _, path := range paths {
		c.Log.Infof("stream ready at rtsp://%s%s",
			net.JoinHostPort(host, strconv.Itoa(c.server.RTSPPort())), path)
	}

	return nil
}

func (c *Core) closeMounts() {
	for _, path := range c.mounts.List() {
		if f := c.mounts.RemoveFactory(path); f != nil {
			f.Close()
		}
	}
}

// Close stops everything.
func (c *Core) Close() {
	c.closeOnce.Do(func() {
		if c.api != nil {
			c.api.Close()
		}

		c.server.Close()
		c.handler.closeAll()
		c.closeMounts()
	})
}

// Server returns the RTSP server.
func (c *Core) Server() *rtspserver.Server {
	return c.server
}

// Mounts returns the mount points.
func (c *Core) Mounts() *MountPoints {
	return c.mounts
}

// APIMounts implements api.MountLister.
func (c *Core) APIMounts() []*api.Mount {
	paths := c.mounts.List()
	ret := make([]*api.Mount, 0, len(paths))

	for _, path := range paths {
		f, ok := c.mounts.Get(path)
		if !ok {
			continue
		}

		m := &api.Mount{
			Path:    path,
			Launch:  f.Launch,
			Shared:  f.Shared,
			Clients: f.Clients(),
		}

		for _, st := range f.Pipeline().Streams {
			m.Streams = append(m.Streams, st.Codec.String())
		}

		ret = append(ret, m)
	}

	return ret
}

// Run runs the server until ctx is canceled, SIGINT or SIGTERM is received
// or a component fails.
func (c *Core) Run(ctx context.Context) error {
	ctx, stop := signal.NotifyContext(ctx, os.Interrupt, syscall.SIGTERM)
	defer stop()

	g, gctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		<-gctx.Done()
		c.Log.Info("shutting down")
		c.Close()
		return nil
	})

	g.Go(func() error {
		return c.server.Wait()
	})

	if c.api != nil {
		g.Go(func() error {
			err := c.api.Wait()
			if err != nil {
				return errors.Wrap(err, "API failed")
			}
			return nil
		})
	}

	err := g.Wait()

	var eterm liberrors.ErrServerTerminated
	if errors.As(err, &eterm) {
		return nil
	}
	return err
}
