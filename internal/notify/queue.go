// Package notify delivers state change notifications to observers in order.
package notify

import "sync"

// Queue hands published values to every subscriber, in publish order, from a
// single dispatcher goroutine. Publish never blocks.
type Queue[T any] struct {
	mu      sync.Mutex
	items   []T
	subs    []func(T)
	closed  bool
	wake    chan struct{}
	done    chan struct{}
	stopped chan struct{}
}

func NewQueue[T any]() *Queue[T] {
	q := &Queue[T]{
		wake:    make(chan struct{}, 1),
		done:    make(chan struct{}),
		stopped: make(chan struct{}),
	}
	go q.run()
	return q
}

// Subscribe registers fn for values published after the call.
func (q *Queue[T]) Subscribe(fn func(T)) {
	if fn == nil {
		return
	}
	q.mu.Lock()
	q.subs = append(q.subs, fn)
	q.mu.Unlock()
}

func (q *Queue[T]) Publish(v T) {
	q.mu.Lock()
	if q.closed {
		q.mu.Unlock()
		return
	}
	q.items = append(q.items, v)
	q.mu.Unlock()
	select {
	case q.wake <- struct{}{}:
	default:
	}
}

// Close drops undelivered values and waits for an in-flight delivery to
// return. After Close no subscriber is invoked. It must not be called from a
// subscriber.
func (q *Queue[T]) Close() {
	q.mu.Lock()
	if q.closed {
		q.mu.Unlock()
		<-q.stopped
		return
	}
	q.closed = true
	q.items = nil
	q.mu.Unlock()
	close(q.done)
	<-q.stopped
}

func (q *Queue[T]) run() {
	defer close(q.stopped)
	for {
		select {
		case <-q.done:
			return
		case <-q.wake:
		}
		for {
			q.mu.Lock()
			if q.closed || len(q.items) == 0 {
				q.mu.Unlock()
				break
			}
			var zero T
			v := q.items[0]
			q.items[0] = zero
			q.items = q.items[1:]
			subs := make([]func(T), len(q.subs))
			copy(subs, q.subs)
			q.mu.Unlock()
			for _, fn := range subs {
				fn(v)
			}
		}
	}
}
