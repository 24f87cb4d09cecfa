package lock

import (
	"context"
	"sync"

	"github.com/hashicorp/go-hclog"
	"github.com/pixperk/zkmutex/pkg/metrics"
	"github.com/pixperk/zkmutex/pkg/types"
)

// Dispatcher routes coordination events into the signals the lock waits on:
// the session gate, opened by the first established session, and one wait
// signal per watched predecessor path. Its Handle method is the
// coord.EventHandler for a connection; every Mutex on that connection shares it.
type Dispatcher struct {
	logger    hclog.Logger
	connected *Signal

	mu    sync.Mutex
	waits map[string][]*Signal // predecessor path -> waiters
}

func NewDispatcher(logger hclog.Logger) *Dispatcher {
	if logger == nil {
		logger = hclog.NewNullLogger()
	}

	return &Dispatcher{
		logger:    logger,
		connected: NewSignal(),
		waits:     make(map[string][]*Signal),
	}
}

// Handle routes one event. Safe for concurrent use.
func (d *Dispatcher) Handle(ev types.Event) {
	switch ev.Type {
	case types.EventSession:
		metrics.SessionEventsTotal.WithLabelValues(ev.State.String()).Inc()
		d.logger.Debug("session state changed", "state", ev.State)
		if ev.State == types.StateConnected {
			d.connected.Release(nil)
		}

	case types.EventNodeDeleted, types.EventNodeDataChanged:
		// a data change consumes the one-shot watch too; the waiter
		// re-ranks and re-arms, so waking it early is harmless
		d.fire(ev.Path, nil)

	case types.EventNotWatching:
		err := ev.Err
		if err == nil {
			err = types.ErrConnectionClosed
		}
		d.fire(ev.Path, err)
	}
}

// AwaitConnected blocks until a session has been established or ctx is done.
// Without a deadline on ctx it blocks for as long as the service is unreachable.
func (d *Dispatcher) AwaitConnected(ctx context.Context) error {
	return d.connected.Wait(ctx)
}

// Connected reports whether a session has been established.
func (d *Dispatcher) Connected() bool {
	return d.connected.Released()
}

// Expect registers a fresh wait signal for path. Register before arming the
// watch so a deletion racing the registration is never missed.
func (d *Dispatcher) Expect(path string) *Signal {
	sig := NewSignal()

	d.mu.Lock()
	d.waits[path] = append(d.waits[path], sig)
	d.mu.Unlock()

	return sig
}

// Forget drops sig from path's waiters if it is still registered.
func (d *Dispatcher) Forget(path string, sig *Signal) {
	d.mu.Lock()
	defer d.mu.Unlock()

	waiters := d.waits[path]
	for i, w := range waiters {
		if w == sig {
			waiters = append(waiters[:i], waiters[i+1:]...)
			break
		}
	}

	if len(waiters) == 0 {
		delete(d.waits, path)
	} else {
		d.waits[path] = waiters
	}
}

// Pending is the number of registered wait signals.
func (d *Dispatcher) Pending() int {
	d.mu.Lock()
	defer d.mu.Unlock()

	n := 0
	for _, waiters := range d.waits {
		n += len(waiters)
	}
	return n
}

func (d *Dispatcher) fire(path string, err error) {
	d.mu.Lock()
	waiters := d.waits[path]
	delete(d.waits, path)
	d.mu.Unlock()

	if len(waiters) == 0 {
		return
	}

	d.logger.Debug("predecessor watch fired", "path", path, "waiters", len(waiters), "error", err)
	for _, sig := range waiters {
		sig.Release(err)
	}
}
