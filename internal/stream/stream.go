// Package stream fans session lifecycle events out to live
// subscribers (SSE clients watching their tenant context).
package stream

import (
	"context"
	"sync"
	"time"
)

// SessionEvent describes a change in an actor's tenant context.
type SessionEvent struct {
	Event          string    `json:"event"`
	ActorID        string    `json:"actor_id,omitempty"`
	OrganizationID string    `json:"organization_id,omitempty"`
	Timestamp      time.Time `json:"timestamp"`
}

// Stream fan-outs session events to all active subscribers.
type Stream struct {
	mu   sync.RWMutex
	subs map[int]chan SessionEvent
	next int
}

// New initialises an empty stream.
func New() *Stream {
	return &Stream{subs: make(map[int]chan SessionEvent)}
}

// Subscribe registers a subscriber and returns a channel which will
// receive events. The channel is closed when the provided context ends.
func (s *Stream) Subscribe(ctx context.Context) <-chan SessionEvent {
	ch := make(chan SessionEvent, 16)

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
func (s *Stream) Publish(evt SessionEvent) {
	if evt.Timestamp.IsZero() {
		evt.Timestamp = time.Now().UTC()
	}
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
