// Package transport defines the broadcast channel a bridge rides on.
//
// A transport is fire-and-forget: Send hands a frame to the channel with no
// delivery acknowledgement, and every subscriber of every other participant
// may observe it. The channel may also carry traffic that has nothing to do
// with bridges, so receivers must filter what they get.
package transport

import "sync"

// Transport is the send/receive primitive used by a bridge.
type Transport interface {
	// Send broadcasts one frame.
	Send(frame []byte) error

	// Subscribe registers fn for every inbound frame and returns a func that
	// removes exactly this subscription. The returned func is idempotent.
	Subscribe(fn func(frame []byte)) (unsubscribe func())
}

// Subscribers is a registry of frame callbacks shared by the transport
// implementations. The zero value is ready to use.
type Subscribers struct {
	mu   sync.RWMutex
	next uint64
	fns  map[uint64]func([]byte)
}

// Add registers fn and returns its removal func.
func (s *Subscribers) Add(fn func([]byte)) func() {
	s.mu.Lock()
	if s.fns == nil {
		s.fns = make(map[uint64]func([]byte))
	}
	s.next++
	key := s.next
	s.fns[key] = fn
	s.mu.Unlock()

	var once sync.Once
	return func() {
		once.Do(func() {
			s.mu.Lock()
			delete(s.fns, key)
			s.mu.Unlock()
		})
	}
}

// Deliver calls every current subscriber with frame.
func (s *Subscribers) Deliver(frame []byte) {
	s.mu.RLock()
	fns := make([]func([]byte), 0, len(s.fns))
	for _, fn := range s.fns {
		fns = append(fns, fn)
	}
	s.mu.RUnlock()

	for _, fn := range fns {
		fn(frame)
	}
}

// Len returns the number of subscribers.
func (s *Subscribers) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.fns)
}

// Clear drops every subscriber.
func (s *Subscribers) Clear() {
	s.mu.Lock()
	s.fns = nil
	s.mu.Unlock()
}
