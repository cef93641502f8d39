// Package bytecounter wraps a io.ReadWriter and counts the bytes that pass through it.
package bytecounter

import (
	"io"
	"sync/atomic"
)

// ByteCounter is a io.ReadWriter that counts read and written bytes.
type ByteCounter struct {
	rw       io.ReadWriter
	received atomic.Uint64
	sent     atomic.Uint64
}

// New allocates a ByteCounter.
func New(rw io.ReadWriter) *ByteCounter {
	return &ByteCounter{rw: rw}
}

// Read implements io.Reader.
func (bc *ByteCounter) Read(p []byte) (int, error) {
	n, err := bc.rw.Read(p)
	bc.received.Add(uint64(n))
	return n, err
}

// Write implements io.Writer.
func (bc *ByteCounter) Write(p []byte) (int, error) {
	n, err := bc.rw.Write(p)
	bc.sent.Add(uint64(n))
	return n, err
}

// BytesReceived returns the number of bytes read.
func (bc *ByteCounter) BytesReceived() uint64 {
	return bc.received.Load()
}

// BytesSent returns the number of bytes written.
func (bc *ByteCounter) BytesSent() uint64 {
	return bc.sent.Load()
}
