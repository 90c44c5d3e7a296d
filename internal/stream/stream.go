// Package stream fans out compliance status changes to live subscribers
// (SSE clients such as the dashboard).
package stream

import (
	"sync"
	"time"

	"veridia.org/internal/compliance"
)

// StatusEvent describes one artifact change and its rollup impact.
type StatusEvent struct {
	OrganizationID string            `json:"organization_id"`
	Impact         compliance.Impact `json:"impact"`
	Timestamp      time.Time         `json:"timestamp"`
}

// Stream fan-outs status events to all active subscribers.
type Stream struct {
	mu   sync.RWMutex
	subs map[int]chan StatusEvent
	next int
}

// New initialises an empty stream.
func New() *Stream {
	return &Stream{subs: make(map[int]chan StatusEvent)}
}

// Subscribe registers a new subscriber and returns its id and channel.
func (s *Stream) Subscribe(buffer int) (int, <-chan StatusEvent) {
	if buffer <= 0 {
		buffer = 16
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	id := s.next
	s.next++
	ch := make(chan StatusEvent, buffer)
	s.subs[id] = ch
	return id, ch
}

// Unsubscribe removes a subscriber and closes its channel.
func (s *Stream) Unsubscribe(id int) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if ch, ok := s.subs[id]; ok {
		delete(s.subs, id)
		close(ch)
	}
}

// Publish delivers the event to every subscriber. Slow subscribers with a
// full buffer miss the event rather than blocking the publisher.
func (s *Stream) Publish(ev StatusEvent) {
	if ev.Timestamp.IsZero() {
		ev.Timestamp = time.Now().UTC()
	}
	s.mu.RLock()
	defer s.mu.RUnlock()
	for _, ch := range s.subs {
		select {
		case ch <- ev:
		default:
		}
	}
}
