// Package authstate broadcasts the latest value of a piece of state to any
// number of subscribers. A subscriber first receives the current value and
// then every later change, in publish order.
package authstate

import (
	"context"
	"sync"
)

// Hub fans a value stream out to subscribers. Publish never blocks on a slow
// subscriber: each subscriber owns an unbounded queue drained by its own
// goroutine.
type Hub[T any] struct {
	mu      sync.Mutex
	current T
	subs    map[*subscriber[T]]struct{}
	closed  bool
}

type subscriber[T any] struct {
	out    chan T
	notify chan struct{}

	mu     sync.Mutex
	queue  []T
	closed bool
}

// NewHub returns a hub whose current value is initial.
func NewHub[T any](initial T) *Hub[T] {
	return &Hub[T]{
		current: initial,
		subs:    make(map[*subscriber[T]]struct{}),
	}
}

// Current returns the last published value.
func (h *Hub[T]) Current() T {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.current
}

// Publish records v as current and queues it for every subscriber.
func (h *Hub[T]) Publish(v T) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.closed {
		return
	}
	h.current = v
	for s := range h.subs {
		s.push(v)
	}
}

// Subscribers returns the number of live subscriptions.
func (h *Hub[T]) Subscribers() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return len(h.subs)
}

// Subscribe returns a channel that yields the current value and then each
// published value. The channel closes when ctx is done, or after the queued
// values are delivered once the hub closes.
func (h *Hub[T]) Subscribe(ctx context.Context) <-chan T {
	s := &subscriber[T]{
		out:    make(chan T),
		notify: make(chan struct{}, 1),
	}

	h.mu.Lock()
	if h.closed {
		h.mu.Unlock()
		close(s.out)
		return s.out
	}
	s.push(h.current)
	h.subs[s] = struct{}{}
	h.mu.Unlock()

	go s.run(ctx, h)
	return s.out
}

// Close detaches all subscribers. Later publishes are ignored.
func (h *Hub[T]) Close() {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.closed {
		return
	}
	h.closed = true
	for s := range h.subs {
		s.shutdown()
	}
}

func (h *Hub[T]) remove(s *subscriber[T]) {
	h.mu.Lock()
	delete(h.subs, s)
	h.mu.Unlock()
}

func (s *subscriber[T]) run(ctx context.Context, h *Hub[T]) {
	defer close(s.out)
	defer h.remove(s)

	for {
		v, ok, done := s.pop()
		if done {
			return
		}
		if !ok {
			select {
			case <-s.notify:
				continue
			case <-ctx.Done():
				return
			}
		}
		select {
		case s.out <- v:
		case <-ctx.Done():
			return
		}
	}
}

func (s *subscriber[T]) push(v T) {
	s.mu.Lock()
	s.queue = append(s.queue, v)
	s.mu.Unlock()
	s.wake()
}

// pop returns the next queued value. done reports a closed, drained queue.
func (s *subscriber[T]) pop() (v T, ok bool, done bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if len(s.queue) == 0 {
		return v, false, s.closed
	}
	v = s.queue[0]
	var zero T
	s.queue[0] = zero
	s.queue = s.queue[1:]
	return v, true, false
}

func (s *subscriber[T]) shutdown() {
	s.mu.Lock()
	s.closed = true
	s.mu.Unlock()
	s.wake()
}

func (s *subscriber[T]) wake() {
	select {
	case s.notify <- struct{}{}:
	default:
	}
}
