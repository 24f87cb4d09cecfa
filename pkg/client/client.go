package client

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/hashicorp/go-hclog"
	"github.com/pixperk/zkmutex/pkg/coord"
	"github.com/pixperk/zkmutex/pkg/lock"
	"github.com/pixperk/zkmutex/pkg/types"
)

const DefaultSessionTimeout = 10 * time.Second

type Config struct {
	// ZooKeeper ensemble as host:port, only used by Connect
	Servers []string
	// session timeout negotiated with the ensemble, only used by Connect
	SessionTimeout time.Duration
	// owner id written into every contender node, a random UUID if empty
	Owner  string
	Logger hclog.Logger
}

func DefaultConfig() Config {
	return Config{
		Servers:        []string{"127.0.0.1:2181"},
		SessionTimeout: DefaultSessionTimeout,
	}
}

// Client holds one coordination session and hands out locks on it. Every
// lock taken through a Client shares the session, so all of them are lost
// together when it expires.
type Client struct {
	conn       coord.Conn
	dispatcher *lock.Dispatcher
	owner      string
	logger     hclog.Logger
}

// Connect opens a ZooKeeper session and waits until it is established.
func Connect(ctx context.Context, cfg Config) (*Client, error) {
	if cfg.SessionTimeout <= 0 {
		cfg.SessionTimeout = DefaultSessionTimeout
	}
	if cfg.Logger == nil {
		cfg.Logger = hclog.NewNullLogger()
	}

	dial := coord.ZooKeeper(cfg.Servers, cfg.SessionTimeout, cfg.Logger.Named("zk"))
	return New(ctx, dial, cfg)
}

// New opens a session through dial and waits until it is established.
// The session is closed again if ctx ends first.
func New(ctx context.Context, dial coord.Dialer, cfg Config) (*Client, error) {
	logger := cfg.Logger
	if logger == nil {
		logger = hclog.NewNullLogger()
	}
	owner := cfg.Owner
	if owner == "" {
		owner = uuid.NewString()
	}

	dispatcher := lock.NewDispatcher(logger.Named("events"))

	conn, err := dial(dispatcher.Handle)
	if err != nil {
		return nil, fmt.Errorf("dial coordination service: %w", err)
	}

	if err := dispatcher.AwaitConnected(ctx); err != nil {
		conn.Close()
		return nil, fmt.Errorf("await session: %w", err)
	}

	logger.Info("session established", "owner", owner)

	return &Client{
		conn:       conn,
		dispatcher: dispatcher,
		owner:      owner,
		logger:     logger,
	}, nil
}

func (c *Client) Owner() string { return c.owner }

// Mutex returns an unlocked mutex on root, creating root if needed.
func (c *Client) Mutex(ctx context.Context, root string, opts ...lock.Option) (*lock.Mutex, error) {
	base := []lock.Option{
		lock.WithOwner(c.owner),
		lock.WithLogger(c.logger.Named("lock")),
	}
	return lock.New(ctx, c.conn, c.dispatcher, root, append(base, opts...)...)
}

// Acquire blocks until the lock on root is held or ctx is done.
func (c *Client) Acquire(ctx context.Context, root string, opts ...lock.Option) (*Lock, error) {
	m, err := c.Mutex(ctx, root, opts...)
	if err != nil {
		return nil, err
	}

	if err := m.Acquire(ctx); err != nil {
		return nil, fmt.Errorf("acquire lock %s: %w", root, err)
	}

	token, _ := m.Token()
	return &Lock{mutex: m, token: token}, nil
}

type Status struct {
	Root   string
	Holder *types.Contender
	// contenders waiting behind the holder, in order
	Queue []types.Contender
}

// Status reads the holder and queue of root. A missing root has neither.
func (c *Client) Status(ctx context.Context, root string) (*Status, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	status := &Status{Root: root}

	contenders, err := lock.Contenders(c.conn, root)
	if errors.Is(err, types.ErrNoNode) {
		return status, nil
	}
	if err != nil {
		return nil, err
	}

	if len(contenders) > 0 {
		status.Holder = &contenders[0]
		status.Queue = contenders[1:]
	}
	return status, nil
}

// Close ends the session. The service removes every contender node it
// owns, releasing any lock still held.
func (c *Client) Close() {
	c.conn.Close()
	c.logger.Info("session closed")
}
