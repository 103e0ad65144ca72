// Package memory provides an in-process broadcast channel for bridges that
// live in the same program, mirroring a window-to-window postMessage channel:
// a frame sent by one endpoint is observed by every other endpoint.
package memory

import (
	"context"
	"errors"
	"sync"

	"github.com/dayuer/msgbridge-go/internal/transport"
)

var (
	ErrBusFull        = errors.New("memory: bus queue full")
	ErrEndpointClosed = errors.New("memory: endpoint closed")
)

const defaultQueueSize = 256

type frame struct {
	from *Endpoint
	data []byte
}

// Bus routes frames between endpoints. Frames are queued by Send and fanned
// out by Run, so a sender never runs subscriber code on its own goroutine.
type Bus struct {
	queue chan frame

	mu        sync.RWMutex
	endpoints map[*Endpoint]struct{}
}

// NewBus creates a bus with a bounded queue. A size <= 0 uses the default.
func NewBus(size int) *Bus {
	if size <= 0 {
		size = defaultQueueSize
	}
	return &Bus{
		queue:     make(chan frame, size),
		endpoints: make(map[*Endpoint]struct{}),
	}
}

// Endpoint attaches a new participant to the bus.
func (b *Bus) Endpoint() *Endpoint {
	e := &Endpoint{bus: b}
	b.mu.Lock()
	b.endpoints[e] = struct{}{}
	b.mu.Unlock()
	return e
}

// Run delivers queued frames until ctx is cancelled.
func (b *Bus) Run(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			return
		case f := <-b.queue:
			b.deliver(f)
		}
	}
}

func (b *Bus) deliver(f frame) {
	b.mu.RLock()
	targets := make([]*Endpoint, 0, len(b.endpoints))
	for e := range b.endpoints {
		if e != f.from {
			targets = append(targets, e)
		}
	}
	b.mu.RUnlock()

	for _, e := range targets {
		e.subs.Deliver(f.data)
	}
}

// Pending returns the number of queued, undelivered frames.
func (b *Bus) Pending() int {
	return len(b.queue)
}

// EndpointCount returns the number of attached endpoints.
func (b *Bus) EndpointCount() int {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return len(b.endpoints)
}

// Endpoint is one participant's view of the bus. It satisfies
// transport.Transport.
type Endpoint struct {
	bus  *Bus
	subs transport.Subscribers

	mu     sync.Mutex
	closed bool
}

var _ transport.Transport = (*Endpoint)(nil)

// Send queues data for every other endpoint. The frame is dropped with
// ErrBusFull when the queue is at capacity.
func (e *Endpoint) Send(data []byte) error {
	e.mu.Lock()
	closed := e.closed
	e.mu.Unlock()
	if closed {
		return ErrEndpointClosed
	}

	buf := make([]byte, len(data))
	copy(buf, data)

	select {
	case e.bus.queue <- frame{from: e, data: buf}:
		return nil
	default:
		return ErrBusFull
	}
}

// Subscribe registers fn for frames sent by other endpoints.
func (e *Endpoint) Subscribe(fn func([]byte)) func() {
	return e.subs.Add(fn)
}

// Close detaches the endpoint from the bus. Idempotent.
func (e *Endpoint) Close() {
	e.mu.Lock()
	if e.closed {
		e.mu.Unlock()
		return
	}
	e.closed = true
	e.mu.Unlock()

	e.bus.mu.Lock()
	delete(e.bus.endpoints, e)
	e.bus.mu.Unlock()
	e.subs.Clear()
}
