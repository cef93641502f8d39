package bytecounter

import (
	"bytes"
	"io"
	"sync"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestByteCounterPartialRead(t *testing.T) {
	var buf bytes.Buffer
	bc := New(&buf)

	_, err := bc.Write([]byte("OPTIONS * RTSP/1.0\r\n"))
	require.NoError(t, err)
	require.Equal(t, uint64(20), bc.BytesSent())

	p := make([]byte, 7)
	n, err := bc.Read(p)
	require.NoError(t, err)
	require.Equal(t, "OPTIONS", string(p[:n]))
	require.Equal(t, uint64(7), bc.BytesReceived())

	rest, err := io.ReadAll(bc)
	require.NoError(t, err)
	require.Len(t, rest, 13)
	require.Equal(t, uint64(20), bc.BytesReceived())
}

func TestByteCounterConcurrentWrites(t *testing.T) {
	bc := New(&lockedBuffer{})

	var wg sync.WaitGroup
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for j := 0; j < 100; j++ {
				bc.Write([]byte{1, 2, 3, 4}) //nolint:errcheck
			}
		}()
	}
	wg.Wait()

	require.Equal(t, uint64(8*100*4), bc.BytesSent())
	require.Equal(t, uint64(0), bc.BytesReceived())
}

type lockedBuffer struct {
	mutex sync.Mutex
	buf   bytes.Buffer
}

func (b *lockedBuffer) Read(p []byte) (int, error) {
	b.mutex.Lock()
	defer b.mutex.Unlock()
	return b.buf.Read(p)
}

func (b *lockedBuffer) Write(p []byte) (int, error) {
	b.mutex.Lock()
	defer b.mutex.Unlock()
	return b.buf.Write(p)
}
