// Package streaming fans controller events out to remote subscribers.
package streaming

import (
	"sync"
	"sync/atomic"

	"github.com/google/uuid"

	"github.com/KevinKickass/OpenSPIMCore/internal/dispatch"
)

const subscriberBuffer = 100

// EventStreamer delivers events to subscribers of one run, or of every event
// when subscribed with uuid.Nil. Slow subscribers lose events instead of
// blocking the publisher.
type EventStreamer struct {
	mu          sync.RWMutex
	subscribers map[uuid.UUID][]chan dispatch.Event
	closed      bool

	dropped atomic.Uint64
}

func NewEventStreamer() *EventStreamer {
	return &EventStreamer{
		subscribers: make(map[uuid.UUID][]chan dispatch.Event),
	}
}

func (s *EventStreamer) Subscribe(runID uuid.UUID) <-chan dispatch.Event {
	s.mu.Lock()
	defer s.mu.Unlock()

	ch := make(chan dispatch.Event, subscriberBuffer)
	if s.closed {
		close(ch)
		return ch
	}
	s.subscribers[runID] = append(s.subscribers[runID], ch)
	return ch
}

func (s *EventStreamer) Unsubscribe(runID uuid.UUID, ch <-chan dispatch.Event) {
	s.mu.Lock()
	defer s.mu.Unlock()

	subs := s.subscribers[runID]
	for i, sub := range subs {
		if sub == ch {
			s.subscribers[runID] = append(subs[:i], subs[i+1:]...)
			close(sub)
			break
		}
	}
	if len(s.subscribers[runID]) == 0 {
		delete(s.subscribers, runID)
	}
}

func (s *EventStreamer) Broadcast(ev dispatch.Event) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if ev.RunID != uuid.Nil {
		s.deliver(s.subscribers[ev.RunID], ev)
	}
	s.deliver(s.subscribers[uuid.Nil], ev)
}

func (s *EventStreamer) deliver(subs []chan dispatch.Event, ev dispatch.Event) {
	for _, ch := range subs {
		select {
		case ch <- ev:
		default:
			s.dropped.Add(1)
		}
	}
}

// Subscribers counts open subscriptions.
func (s *EventStreamer) Subscribers() int {
	s.mu.RLock()
	defer s.mu.RUnlock()

	n := 0
	for _, subs := range s.subscribers {
		n += len(subs)
	}
	return n
}

// Dropped counts events lost to full subscriber buffers.
func (s *EventStreamer) Dropped() uint64 {
	return s.dropped.Load()
}

// Close ends every subscription.
func (s *EventStreamer) Close() {
	s.mu.Lock()
	defer s.mu.Unlock()

	for id, subs := range s.subscribers {
		for _, ch := range subs {
			close(ch)
		}
		delete(s.subscribers, id)
	}
	s.closed = true
}
