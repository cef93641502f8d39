// Package asyncprocessor contains a queue that detaches the goroutine that
// produces packets from the goroutine that writes them to a client.
package asyncprocessor

import (
	"context"
	"fmt"

	"github.com/netlab/rtspserver/pkg/ringbuffer"
)

// Processor runs queued write functions in order on its own goroutine.
// The first function that returns an error stops it and is passed to OnError.
type Processor struct {
	BufferSize int
	OnError    func(context.Context, error)

	running   bool
	buffer    *ringbuffer.RingBuffer[func() error]
	ctx       context.Context
	ctxCancel func()

	done chan struct{}
}

// Initialize initializes the processor.
func (p *Processor) Initialize() error {
	var err error
	p.buffer, err = ringbuffer.New[func() error](uint64(p.BufferSize))
	if err != nil {
		return fmt.Errorf("invalid buffer size: %w", err)
	}

	p.ctx, p.ctxCancel = context.WithCancel(context.Background())
	p.done = make(chan struct{})
	return nil
}

// Close stops the processor and waits for its goroutine.
func (p *Processor) Close() {
	p.ctxCancel()
	p.buffer.Close()

	if p.running {
		<-p.done
	}
}

// Start starts processing queued functions.
func (p *Processor) Start() {
	p.running = true
	go p.run()
}

func (p *Processor) run() {
	defer close(p.done)

	err := p.runInner()
	if err != nil && p.OnError != nil {
		p.OnError(p.ctx, err)
	}
}

func (p *Processor) runInner() error {
	for {
		cb, ok := p.buffer.Pull()
		if !ok {
			return nil
		}

		err := cb()
		if err != nil {
			return err
		}
	}
}

// Push queues a function. It returns false when the queue is full.
func (p *Processor) Push(cb func() error) bool {
	return p.buffer.Push(cb)
}
