package memzk

import (
	"sync"

	"github.com/pixperk/zkmutex/pkg/coord"
	"github.com/pixperk/zkmutex/pkg/types"
)

// delivers a session's events in order on its own goroutine
// push never blocks so the server can enqueue while holding its lock
type eventQueue struct {
	handler coord.EventHandler

	mu      sync.Mutex
	events  []types.Event
	stopped bool

	notify chan struct{}
	done   chan struct{}
}

func newEventQueue(handler coord.EventHandler) *eventQueue {
	if handler == nil {
		handler = func(types.Event) {}
	}

	q := &eventQueue{
		handler: handler,
		notify:  make(chan struct{}, 1),
		done:    make(chan struct{}),
	}
	go q.run()
	return q
}

func (q *eventQueue) push(ev types.Event) {
	q.mu.Lock()
	if q.stopped {
		q.mu.Unlock()
		return
	}
	q.events = append(q.events, ev)
	q.mu.Unlock()

	select {
	case q.notify <- struct{}{}:
	default:
	}
}

// stops accepting events; already queued ones are still delivered
func (q *eventQueue) stop() {
	q.mu.Lock()
	defer q.mu.Unlock()

	if q.stopped {
		return
	}
	q.stopped = true
	close(q.done)
}

func (q *eventQueue) run() {
	for {
		q.mu.Lock()
		batch := q.events
		q.events = nil
		stopped := q.stopped
		q.mu.Unlock()

		for _, ev := range batch {
			q.handler(ev)
		}

		if stopped && len(batch) == 0 {
			return
		}

		select {
		case <-q.notify:
		case <-q.done:
		}
	}
}
