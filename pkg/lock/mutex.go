// Package lock implements a fair distributed mutex on top of a
// coordination service.
//
// Every acquisition creates an ephemeral sequential contender node under a
// shared root. The node name carries a random GUID, so a create whose reply
// was lost can be found again rather than left behind to block the queue.
// The contender with the smallest sequence number holds the lock; every other contender watches only its immediate predecessor, so a
// release wakes exactly one waiter and the queue is served in creation
// order. A crashed holder's session expires, the service removes its node
// and the next contender proceeds.
package lock

import (
	"context"
	"errors"
	"fmt"
	"path"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/hashicorp/go-hclog"
	"github.com/pixperk/zkmutex/pkg/coord"
	"github.com/pixperk/zkmutex/pkg/metrics"
	"github.com/pixperk/zkmutex/pkg/types"
)

// Mutex is one client's handle on a named lock. It supports one acquisition
// at a time; concurrent Acquire calls on the same Mutex are rejected.
type Mutex struct {
	conn       coord.Conn
	dispatcher *Dispatcher
	root       string
	opts       Options
	logger     hclog.Logger

	mu        sync.Mutex
	node      string // full path of our contender, empty when none
	acquiring bool
	held      bool
}

// New waits for the session to be established, makes sure the root node
// exists and returns an unlocked Mutex.
func New(ctx context.Context, conn coord.Conn, dispatcher *Dispatcher, root string, opts ...Option) (*Mutex, error) {
	options := newOptions(opts...)

	if err := ValidateRoot(root); err != nil {
		return nil, err
	}
	if options.Prefix == "" || strings.Contains(options.Prefix, "/") {
		return nil, fmt.Errorf("%w: %q", types.ErrInvalidPrefix, options.Prefix)
	}

	if err := dispatcher.AwaitConnected(ctx); err != nil {
		return nil, fmt.Errorf("await session: %w", err)
	}

	m := &Mutex{
		conn:       conn,
		dispatcher: dispatcher,
		root:       root,
		opts:       options,
		logger:     options.Logger.With("root", root),
	}

	if err := m.ensureRoot(); err != nil {
		return nil, err
	}

	return m, nil
}

// ValidateRoot checks that root is a clean absolute node path other than "/".
func ValidateRoot(root string) error {
	if !strings.HasPrefix(root, "/") || root == "/" || strings.HasSuffix(root, "/") || path.Clean(root) != root {
		return fmt.Errorf("%w: %q", types.ErrInvalidRoot, root)
	}
	return nil
}

// creates the root node if missing
// losing a creation race still leaves the root in place, so it counts as success
func (m *Mutex) ensureRoot() error {
	exists, err := m.conn.Exists(m.root)
	if err != nil {
		return fmt.Errorf("check root %s: %w", m.root, err)
	}
	if exists {
		metrics.BootstrapTotal.WithLabelValues("exists").Inc()
		return nil
	}

	_, err = m.conn.Create(m.root, m.opts.RootData, types.ModePersistent)
	switch {
	case err == nil:
		metrics.BootstrapTotal.WithLabelValues("created").Inc()
		m.logger.Info("created lock root")
		return nil
	case errors.Is(err, types.ErrNodeExists):
		metrics.BootstrapTotal.WithLabelValues("raced").Inc()
		m.logger.Debug("lock root created concurrently")
		return nil
	default:
		return fmt.Errorf("create root %s: %w", m.root, err)
	}
}

// Root is the lock's root path.
func (m *Mutex) Root() string { return m.root }

// Owner is the id written into this Mutex's contender nodes.
func (m *Mutex) Owner() string { return m.opts.Owner }

// Node is the full path of the current contender node, empty when none.
func (m *Mutex) Node() string {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.node
}

// Held reports whether the last Acquire succeeded and Release has not run since.
func (m *Mutex) Held() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.held
}

// Token is the sequence number of the held contender node. Tokens grow
// strictly with every acquisition under the same root, so they can fence
// writes made by a holder whose session has since expired.
func (m *Mutex) Token() (uint64, bool) {
	m.mu.Lock()
	node, held := m.node, m.held
	m.mu.Unlock()

	if !held {
		return 0, false
	}
	seq, err := types.ParseSequence(path.Base(node))
	if err != nil {
		return 0, false
	}
	return seq, true
}

// Acquire blocks until this Mutex holds the lock.
//
// If ctx is done first the contender node is deleted and the returned error
// wraps both types.ErrAcquireCanceled and ctx.Err(). A contender missing from
// the listing right after its creation fails with types.ErrContenderMissing.
func (m *Mutex) Acquire(ctx context.Context) (err error) {
	m.mu.Lock()
	switch {
	case m.held:
		m.mu.Unlock()
		return types.ErrAlreadyHeld
	case m.acquiring:
		m.mu.Unlock()
		return types.ErrAcquireInFlight
	}
	m.acquiring = true
	m.mu.Unlock()

	start := time.Now()
	defer func() {
		m.mu.Lock()
		m.acquiring = false
		m.held = err == nil
		m.mu.Unlock()

		m.observeAcquire(start, err)
	}()

	if err := ctx.Err(); err != nil {
		return fmt.Errorf("%w: %w", types.ErrAcquireCanceled, err)
	}

	node, err := m.conn.Create(path.Join(m.root, m.opts.Prefix), []byte(m.opts.Owner), types.ModeProtectedEphemeralSequential)
	if err != nil {
		return fmt.Errorf("create contender under %s: %w", m.root, err)
	}

	m.mu.Lock()
	m.node = node
	m.mu.Unlock()

	logger := m.logger.With("node", path.Base(node))
	logger.Debug("contender created")

	if err := m.awaitTurn(ctx, path.Base(node), logger); err != nil {
		m.abandon(node, logger)
		return err
	}

	logger.Debug("lock acquired", "elapsed", time.Since(start))
	return nil
}

// ranks our node among its siblings until it is the smallest, waiting on
// the immediate predecessor in between
func (m *Mutex) awaitTurn(ctx context.Context, name string, logger hclog.Logger) error {
	if m.opts.SettleDelay > 0 {
		select {
		case <-time.After(m.opts.SettleDelay):
		case <-ctx.Done():
			return fmt.Errorf("%w: %w", types.ErrAcquireCanceled, ctx.Err())
		}
	}

	for {
		if err := ctx.Err(); err != nil {
			return fmt.Errorf("%w: %w", types.ErrAcquireCanceled, err)
		}

		children, err := m.conn.Children(m.root)
		if err != nil {
			return fmt.Errorf("list contenders of %s: %w", m.root, err)
		}

		// a lone child can only be ours
		if len(children) == 1 && children[0] == name {
			return nil
		}

		queue := rankContenders(children)
		idx := position(queue, name)
		if idx < 0 {
			return fmt.Errorf("%w: %s not among %d children of %s", types.ErrContenderMissing, name, len(children), m.root)
		}
		if idx == 0 {
			return nil
		}

		predecessor := path.Join(m.root, queue[idx-1].name)
		sig := m.dispatcher.Expect(predecessor)

		exists, err := m.conn.Watch(predecessor)
		if err != nil {
			m.dispatcher.Forget(predecessor, sig)
			return fmt.Errorf("watch predecessor %s: %w", predecessor, err)
		}
		if !exists {
			// gone between listing and watching, rank again
			m.dispatcher.Forget(predecessor, sig)
			continue
		}

		metrics.WaitTotal.WithLabelValues(m.root).Inc()
		logger.Debug("waiting on predecessor", "predecessor", queue[idx-1].name, "position", idx)

		err = sig.Wait(ctx)
		m.dispatcher.Forget(predecessor, sig)
		if ctxErr := ctx.Err(); ctxErr != nil {
			return fmt.Errorf("%w: %w", types.ErrAcquireCanceled, ctxErr)
		}
		if err != nil {
			return fmt.Errorf("wait on predecessor %s: %w", predecessor, err)
		}
		// rank again: a predecessor that vanished without releasing,
		// e.g. an expired waiter, does not make us the holder
	}
}

// deletes the contender after a failed acquisition so it does not block
// the queue until our session ends
func (m *Mutex) abandon(node string, logger hclog.Logger) {
	m.mu.Lock()
	if m.node == node {
		m.node = ""
	}
	m.mu.Unlock()

	err := m.conn.Delete(node, -1)
	if err != nil && !errors.Is(err, types.ErrNoNode) && !errors.Is(err, types.ErrSessionExpired) {
		logger.Warn("failed to delete abandoned contender", "error", err)
	}
}

// Release gives up the lock by deleting the contender node. A node that is
// already gone, or whose session has expired, counts as released,
// and calling Release without holding the lock is a no-op.
func (m *Mutex) Release(ctx context.Context) error {
	m.mu.Lock()
	node := m.node
	if node == "" || m.acquiring {
		m.mu.Unlock()
		return nil
	}
	m.node = ""
	m.held = false
	m.mu.Unlock()

	err := m.conn.Delete(node, -1)
	switch {
	case err == nil:
		metrics.ReleaseTotal.WithLabelValues(m.root, "deleted").Inc()
	case errors.Is(err, types.ErrNoNode), errors.Is(err, types.ErrSessionExpired):
		// an expired session took its ephemeral nodes with it
		metrics.ReleaseTotal.WithLabelValues(m.root, "already_gone").Inc()
		m.logger.Debug("contender already gone on release", "node", path.Base(node))
	default:
		// still ours as far as we know, let the caller retry
		m.mu.Lock()
		m.node = node
		m.held = true
		m.mu.Unlock()

		metrics.ReleaseTotal.WithLabelValues(m.root, "failure").Inc()
		return fmt.Errorf("delete contender %s: %w", node, err)
	}

	metrics.LocksHeld.WithLabelValues(m.root).Dec()
	m.logger.Debug("lock released", "node", path.Base(node))
	return nil
}

// Contenders lists the live contenders in queue order, holder first.
func (m *Mutex) Contenders() ([]types.Contender, error) {
	return Contenders(m.conn, m.root)
}

// Contenders lists the live contenders under root in queue order. Nodes
// that vanish while being read are skipped, as are children without a
// sequence suffix.
func Contenders(conn coord.Conn, root string) ([]types.Contender, error) {
	children, err := conn.Children(root)
	if err != nil {
		return nil, fmt.Errorf("list contenders of %s: %w", root, err)
	}
	queue := rankContenders(children)

	contenders := make([]types.Contender, 0, len(queue))
	for _, c := range queue {
		p := path.Join(root, c.name)

		data, err := conn.Get(p)
		if errors.Is(err, types.ErrNoNode) {
			continue
		}
		if err != nil {
			return nil, fmt.Errorf("read contender %s: %w", p, err)
		}

		contenders = append(contenders, types.Contender{
			Name:     c.name,
			Path:     p,
			Sequence: c.seq,
			Owner:    string(data),
		})
	}

	return contenders, nil
}

type rankedChild struct {
	name string
	seq  uint64
}

// orders children by the sequence the service assigned them
// names may start with a random guid, so lexical order is meaningless
// children without a sequence suffix are not contenders and are dropped
func rankContenders(children []string) []rankedChild {
	queue := make([]rankedChild, 0, len(children))
	for _, name := range children {
		seq, err := types.ParseSequence(name)
		if err != nil {
			continue
		}
		queue = append(queue, rankedChild{name: name, seq: seq})
	}

	sort.Slice(queue, func(i, j int) bool {
		if queue[i].seq != queue[j].seq {
			return queue[i].seq < queue[j].seq
		}
		return queue[i].name < queue[j].name
	})
	return queue
}

// index of name in queue, -1 if absent
func position(queue []rankedChild, name string) int {
	for i, c := range queue {
		if c.name == name {
			return i
		}
	}
	return -1
}

// Holder is the contender currently holding the lock, false if nobody does.
func (m *Mutex) Holder() (types.Contender, bool, error) {
	contenders, err := m.Contenders()
	if err != nil {
		return types.Contender{}, false, err
	}
	if len(contenders) == 0 {
		return types.Contender{}, false, nil
	}
	return contenders[0], true, nil
}

func (m *Mutex) observeAcquire(start time.Time, err error) {
	status := "success"
	switch {
	case errors.Is(err, types.ErrAcquireCanceled):
		status = "canceled"
	case err != nil:
		status = "failure"
	}

	metrics.AcquireTotal.WithLabelValues(m.root, status).Inc()
	if err == nil {
		metrics.AcquireDuration.WithLabelValues(m.root).Observe(time.Since(start).Seconds())
		metrics.LocksHeld.WithLabelValues(m.root).Inc()
	}
}
