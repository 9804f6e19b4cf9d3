// Package stream fan-outs incident events to live subscribers (SSE
// clients).
package stream

import (
	"context"
	"sync"

	"brownie.dev/internal/metadata"
)

// Stream delivers incident events to all active subscribers. It satisfies
// metadata.IncidentPublisher.
type Stream struct {
	mu   sync.RWMutex
	subs map[int]chan metadata.IncidentEvent
	next int
}

var _ metadata.IncidentPublisher = (*Stream)(nil)

// New initialises an empty stream.
func New() *Stream {
	return &Stream{subs: make(map[int]chan metadata.IncidentEvent)}
}

// Subscribe registers a subscriber and returns a channel which will receive
// events. The channel is closed when the provided context ends.
func (s *Stream) Subscribe(ctx context.Context) <-chan metadata.IncidentEvent {
	ch := make(chan metadata.IncidentEvent, 16)

	s.mu.Lock()
	id := s.next
	s.next++
	s.subs[id] = ch
	s.mu.Unlock()

	go func() {
		<-ctx.Done()
		s.mu.Lock()
		delete(s.subs, id)
		close(ch)
		s.mu.Unlock()
	}()

	return ch
}

// Publish fan-outs the event to all subscribers.
func (s *Stream) Publish(evt metadata.IncidentEvent) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	for _, ch := range s.subs {
		select {
		case ch <- evt:
		default:
			// Drop when subscriber is slow to avoid blocking.
		}
	}
}
