package core

import (
	"context"
	"crypto/rand"
	"sync"
	"time"

	"github.com/pion/rtp"
	"github.com/pkg/errors"
	"github.com/sirupsen/logrus"

	"github.com/netlab/rtspserver"
	"github.com/netlab/rtspserver/internal/launch"
	"github.com/netlab/rtspserver/pkg/description"
	"github.com/netlab/rtspserver/pkg/liberrors"
)

func randUint32() (uint32, error) {
	var b [4]byte
	_, err := rand.Read(b[:])
	if err != nil {
		return 0, err
	}
	return uint32(b[0])<<24 | uint32(b[1])<<16 | uint32(b[2])<<8 | uint32(b[3]), nil
}

// sleepUntil waits until t or until ctx is done.
func sleepUntil(ctx context.Context, t time.Time) error {
	d := time.Until(t)
	if d <= 0 {
		return ctx.Err()
	}

	timer := time.NewTimer(d)
	defer timer.Stop()

	select {
	case <-timer.C:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

type source interface {
	media() *description.Media
	run(ctx context.Context, w *mediaWriter) error
	close()
}

type mediaWriter struct {
	stream *rtspserver.ServerStream
	medi   *description.Media
	log    logrus.FieldLogger
}

func (w *mediaWriter) write(pkts []*rtp.Packet, ntp time.Time) error {
	for _, pkt := range pkts {
		err := w.stream.WritePacketRTPWithNTP(w.medi, pkt, ntp)
		if err != nil {
			var eclosed liberrors.ErrServerStreamClosed
			if errors.As(err, &eclosed) {
				return err
			}
			w.log.Warnf("unable to write packet: %v", err)
		}
	}
	return nil
}

func newSource(st *launch.Stream) (source, error) {
	switch src := st.Source.(type) {
	case *launch.VideoTestSource:
		s := &videoSource{conf: src, stream: st}
		return s, s.initialize()

	case *launch.AudioTestSource:
		s := &audioSource{conf: src, stream: st}
		return s, s.initialize()

	case *launch.FileSource:
		s := &fileSource{conf: src, stream: st}
		return s, s.initialize()
	}

	return nil, errors.Errorf("unsupported source %T", st.Source)
}

func payloadMaxSize(mtu int) int {
	if mtu <= 12 {
		return 0
	}
	return mtu - 12
}

// Media is a running instance of a launch description:
// a ServerStream fed by one goroutine per stream.
type Media struct {
	Server   *rtspserver.Server
	Pipeline *launch.Pipeline
	Log      logrus.FieldLogger

	// Stream is available after Initialize.
	Stream *rtspserver.ServerStream

	sources   []source
	ctx       context.Context
	ctxCancel func()
	wg        sync.WaitGroup
	closeOnce sync.Once
}

// Initialize builds the sources and starts them.
func (m *Media) Initialize() error {
	if m.Log == nil {
		m.Log = logrus.StandardLogger()
	}

	desc := &description.Session{}

	for _, st := range m.Pipeline.Streams {
		src, err := newSource(st)
		if err != nil {
			m.closeSources()
			return errors.Wrapf(err, "unable to setup stream %d", st.Index)
		}

		m.sources = append(m.sources, src)
		desc.Medias = append(desc.Medias, src.media())
	}

	m.Stream = &rtspserver.ServerStream{
		Server: m.Server,
		Desc:   desc,
	}
	err := m.Stream.Initialize()
	if err != nil {
		m.closeSources()
		return err
	}

	m.ctx, m.ctxCancel = context.WithCancel(context.Background())

	for i, src := range m.sources {
		w := &mediaWriter{
			stream: m.Stream,
			medi:   desc.Medias[i],
			log:    m.Log,
		}

		m.wg.Add(1)
		go m.runSource(src, w)
	}

	return nil
}

func (m *Media) closeSources() {
	for _, src := range m.sources {
		src.close()
	}
}

func (m *Media) runSource(src source, w *mediaWriter) {
	defer m.wg.Done()

	err := src.run(m.ctx, w)
	if err != nil && m.ctx.Err() == nil {
		var eclosed liberrors.ErrServerStreamClosed
		if !errors.As(err, &eclosed) {
			m.Log.Errorf("source stopped: %v", err)
		}
	}
}

// Close stops the sources and closes the stream,
// together with every session reading it.
func (m *Media) Close() {
	m.closeOnce.Do(func() {
		m.ctxCancel()
		m.closeSources()
		m.wg.Wait()
		m.Stream.Close()
	})
}

// Done returns a channel that is closed when every source has stopped.
func (m *Media) Done() <-chan struct{} {
	ch := make(chan struct{})
	go func() {
		m.wg.Wait()
		close(ch)
	}()
	return ch
}
