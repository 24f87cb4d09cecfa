package coord

import (
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/go-zookeeper/zk"
	"github.com/hashicorp/go-hclog"
	"github.com/pixperk/zkmutex/pkg/types"
)

// ZooKeeper returns a Dialer for a ZooKeeper ensemble
func ZooKeeper(servers []string, sessionTimeout time.Duration, logger hclog.Logger) Dialer {
	if logger == nil {
		logger = hclog.NewNullLogger()
	}

	return func(handler EventHandler) (Conn, error) {
		if len(servers) == 0 {
			return nil, types.ErrNoServers
		}

		zkLogger := logger.StandardLogger(&hclog.StandardLoggerOptions{InferLevels: true})
		conn, events, err := zk.Connect(servers, sessionTimeout, zk.WithLogger(zkLogger))
		if err != nil {
			return nil, fmt.Errorf("connect to %v: %w", servers, err)
		}

		c := newZKConn(handler, logger)
		c.conn = conn

		go c.forwardSession(events)

		return c, nil
	}
}

type zkConn struct {
	conn    *zk.Conn
	handler EventHandler
	logger  hclog.Logger
	acl     []zk.ACL

	mu       sync.Mutex
	watching map[string]struct{} // paths with a forwarder parked on their watch

	closed    chan struct{}
	closeOnce sync.Once
}

func newZKConn(handler EventHandler, logger hclog.Logger) *zkConn {
	return &zkConn{
		handler:  handler,
		logger:   logger,
		acl:      zk.WorldACL(zk.PermAll),
		watching: make(map[string]struct{}),
		closed:   make(chan struct{}),
	}
}

// session events arrive on the connection channel until Close
func (c *zkConn) forwardSession(events <-chan zk.Event) {
	for ev := range events {
		if ev.Type != zk.EventSession {
			continue
		}
		c.logger.Debug("session event", "state", ev.State.String(), "server", ev.Server)
		c.handler(translateEvent(ev))
	}
}

func (c *zkConn) Exists(path string) (bool, error) {
	exists, _, err := c.conn.Exists(path)
	return exists, mapError(err)
}

func (c *zkConn) Create(path string, data []byte, mode types.CreateMode) (string, error) {
	if mode.IsProtected() {
		// retries the create and looks the node up by its guid when a
		// reply is lost, so an applied create is never orphaned
		created, err := c.conn.CreateProtectedEphemeralSequential(path, data, c.acl)
		if err != nil {
			return "", mapError(err)
		}
		return created, nil
	}

	var flags int32
	if mode.IsEphemeral() {
		flags |= zk.FlagEphemeral
	}
	if mode.IsSequential() {
		flags |= zk.FlagSequence
	}

	created, err := c.conn.Create(path, data, flags, c.acl)
	if err != nil {
		return "", mapError(err)
	}
	return created, nil
}

func (c *zkConn) Children(path string) ([]string, error) {
	children, _, err := c.conn.Children(path)
	if err != nil {
		return nil, mapError(err)
	}
	return children, nil
}

func (c *zkConn) Get(path string) ([]byte, error) {
	data, _, err := c.conn.Get(path)
	if err != nil {
		return nil, mapError(err)
	}
	return data, nil
}

// at most one forwarder is parked per path: while a watch on path is
// still armed it already covers the node's next change, so a repeated
// Watch only checks existence
func (c *zkConn) Watch(path string) (bool, error) {
	if c.pending(path) {
		return c.Exists(path)
	}

	_, _, ch, err := c.conn.GetW(path)
	if errors.Is(err, zk.ErrNoNode) {
		return false, nil
	}
	if err != nil {
		return false, mapError(err)
	}

	c.track(path)
	go c.forwardWatch(path, ch)

	return true, nil
}

func (c *zkConn) pending(path string) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	_, ok := c.watching[path]
	return ok
}

func (c *zkConn) track(path string) {
	c.mu.Lock()
	c.watching[path] = struct{}{}
	c.mu.Unlock()
}

func (c *zkConn) untrack(path string) {
	c.mu.Lock()
	delete(c.watching, path)
	c.mu.Unlock()
}

// the watch channel receives exactly one event and is then closed
// untracks before delivering so a Watch racing the event arms a new one
func (c *zkConn) forwardWatch(path string, ch <-chan zk.Event) {
	select {
	case ev, ok := <-ch:
		c.untrack(path)
		if ok {
			c.handler(translateEvent(ev))
		}
	case <-c.closed:
		c.untrack(path)
	}
}

func (c *zkConn) Delete(path string, version int32) error {
	return mapError(c.conn.Delete(path, version))
}

func (c *zkConn) Close() {
	c.closeOnce.Do(func() {
		close(c.closed)
		c.conn.Close()
	})
}

// converts a go-zookeeper event into the client neutral form
func translateEvent(ev zk.Event) types.Event {
	out := types.Event{
		Path:  ev.Path,
		State: translateState(ev.State),
		Err:   mapError(ev.Err),
	}

	switch ev.Type {
	case zk.EventSession:
		out.Type = types.EventSession
	case zk.EventNodeCreated:
		out.Type = types.EventNodeCreated
	case zk.EventNodeDeleted:
		out.Type = types.EventNodeDeleted
	case zk.EventNodeDataChanged:
		out.Type = types.EventNodeDataChanged
	case zk.EventNotWatching:
		out.Type = types.EventNotWatching
	}

	return out
}

func translateState(s zk.State) types.State {
	switch s {
	case zk.StateHasSession:
		return types.StateConnected
	case zk.StateConnecting, zk.StateConnected:
		// StateConnected only means the socket is up, the handshake is pending
		return types.StateConnecting
	case zk.StateDisconnected:
		return types.StateDisconnected
	case zk.StateExpired:
		return types.StateExpired
	default:
		return types.StateUnknown
	}
}

// maps go-zookeeper errors to package types sentinels
func mapError(err error) error {
	switch {
	case err == nil:
		return nil
	case errors.Is(err, zk.ErrNoNode):
		return types.ErrNoNode
	case errors.Is(err, zk.ErrNodeExists):
		return types.ErrNodeExists
	case errors.Is(err, zk.ErrNotEmpty):
		return types.ErrNotEmpty
	case errors.Is(err, zk.ErrBadVersion):
		return types.ErrBadVersion
	case errors.Is(err, zk.ErrNoChildrenForEphemerals):
		return types.ErrNoChildrenForEph
	case errors.Is(err, zk.ErrSessionExpired):
		return types.ErrSessionExpired
	case errors.Is(err, zk.ErrClosing), errors.Is(err, zk.ErrConnectionClosed):
		return types.ErrConnectionClosed
	default:
		return err
	}
}
