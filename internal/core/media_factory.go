package core

import (
	"sync"

	"github.com/pkg/errors"
	"github.com/sirupsen/logrus"

	"github.com/netlab/rtspserver"
	"github.com/netlab/rtspserver/internal/launch"
)

// MediaFactory builds the media served by a mount point.
type MediaFactory struct {
	Launch string
	Shared bool
	Server *rtspserver.Server
	Log    logrus.FieldLogger

	mutex    sync.Mutex
	pipeline *launch.Pipeline
	shared   *Media
	refs     int
	closed   bool
}

// Initialize parses the launch description.
func (f *MediaFactory) Initialize() error {
	if f.Server == nil {
		return errors.New("server not set")
	}

	if f.Log == nil {
		f.Log = logrus.StandardLogger()
	}

	var err error
	f.pipeline, err = launch.Parse(f.Launch)
	if err != nil {
		return errors.Wrap(err, "invalid launch")
	}

	// MaxPacketSize is set by Server.Start.
	if max := f.Server.MaxPacketSize; max > 0 {
		for _, st := range f.pipeline.Streams {
			if st.MTU > max {
				return errors.Errorf("mtu %d of pay%d exceeds the maximum packet size %d",
					st.MTU, st.Index, max)
			}
		}
	}

	return nil
}

// Pipeline returns the parsed launch description.
func (f *MediaFactory) Pipeline() *launch.Pipeline {
	return f.pipeline
}

// Construct returns a media for a new client.
// Shared factories return the same media to every client.
// Every Construct must be paired with a Release.
func (f *MediaFactory) Construct() (*Media, error) {
	f.mutex.Lock()
	defer f.mutex.Unlock()

	if f.closed {
		return nil, errors.New("factory closed")
	}

	if f.Shared && f.shared != nil {
		f.refs++
		return f.shared, nil
	}

	m := &Media{
		Server:   f.Server,
		Pipeline: f.pipeline,
		Log:      f.Log,
	}
	err := m.Initialize()
	if err != nil {
		return nil, err
	}

	if f.Shared {
		f.shared = m
		f.refs = 1
	}

	return m, nil
}

// Release gives back a media obtained with Construct.
// Non-shared media are closed immediately.
// Shared media keep running until the factory is closed, so that
// clients joining later see a continuous stream.
func (f *MediaFactory) Release(m *Media) {
	f.mutex.Lock()
	defer f.mutex.Unlock()

	if m == f.shared {
		f.refs--
		return
	}

	m.Close()
}

// Clients returns the number of clients using the shared media.
func (f *MediaFactory) Clients() int {
	f.mutex.Lock()
	defer f.mutex.Unlock()
	return f.refs
}

// Close closes the shared media, if any.
func (f *MediaFactory) Close() {
	f.mutex.Lock()
	defer f.mutex.Unlock()

	f.closed = true

	if f.shared != nil {
		f.shared.Close()
		f.shared = nil
		f.refs = 0
	}
}
