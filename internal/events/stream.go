// SPDX-License-Identifier: MIT

// Package events provides in-process typed event fan-out. Each subscriber
// owns a buffered queue; publishing never blocks on a slow consumer.
package events

import (
	"sync"
	"sync/atomic"

	"github.com/netpulse-io/netpulse/internal/metrics"
)

const defaultBuffer = 64

// Subscription is one subscriber's queue on a stream.
type Subscription[T any] struct {
	ch     chan T
	stream *Stream[T]
	once   sync.Once
}

// C returns the read-only event channel.
func (s *Subscription[T]) C() <-chan T {
	return s.ch
}

// Close unsubscribes and releases the queue. Safe to call more than once.
func (s *Subscription[T]) Close() {
	s.once.Do(func() {
		s.stream.remove(s)
		close(s.ch)
	})
}

// Stream is a typed publish-subscribe channel. Delivery is best effort:
// events are dropped per subscriber on backpressure.
type Stream[T any] struct {
	name    string
	buffer  int
	mu      sync.RWMutex
	subs    map[*Subscription[T]]struct{}
	dropped atomic.Uint64
}

// NewStream creates a stream with the given name and per-subscriber buffer.
// A non-positive buffer falls back to the default of 64.
func NewStream[T any](name string, buffer int) *Stream[T] {
	if buffer <= 0 {
		buffer = defaultBuffer
	}
	return &Stream[T]{
		name:   name,
		buffer: buffer,
		subs:   make(map[*Subscription[T]]struct{}),
	}
}

// Subscribe registers a new queue on the stream.
func (s *Stream[T]) Subscribe() *Subscription[T] {
	sub := &Subscription[T]{
		ch:     make(chan T, s.buffer),
		stream: s,
	}
	s.mu.Lock()
	s.subs[sub] = struct{}{}
	s.mu.Unlock()
	return sub
}

// Publish delivers v to every subscriber queue with room.
func (s *Stream[T]) Publish(v T) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	for sub := range s.subs {
		select {
		case sub.ch <- v:
		default:
			// drop on backpressure to avoid producer blockage
			s.dropped.Add(1)
			metrics.RecordEventDropped(s.name)
		}
	}
}

// SubscriberCount returns the number of active subscriptions.
func (s *Stream[T]) SubscriberCount() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.subs)
}

// Dropped returns the total number of events dropped on backpressure.
func (s *Stream[T]) Dropped() uint64 {
	return s.dropped.Load()
}

func (s *Stream[T]) remove(sub *Subscription[T]) {
	s.mu.Lock()
	delete(s.subs, sub)
	s.mu.Unlock()
}
