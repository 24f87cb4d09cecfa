package main

import (
	"context"
	"fmt"
	"sync/atomic"
	"time"

	"github.com/hashicorp/go-hclog"
	"github.com/pixperk/zkmutex/pkg/client"
	"github.com/pixperk/zkmutex/pkg/coord"
	"github.com/pixperk/zkmutex/pkg/memzk"
	"github.com/urfave/cli/v2"
	"golang.org/x/sync/errgroup"
)

func demoCommand() *cli.Command {
	return &cli.Command{
		Name:  "demo",
		Usage: "run competing contenders against an in-process tree",
		Flags: []cli.Flag{
			&cli.IntFlag{Name: "contenders", Value: 5, Usage: "number of competing clients"},
			&cli.IntFlag{Name: "rounds", Value: 3, Usage: "acquisitions per client"},
			&cli.DurationFlag{Name: "hold", Value: 100 * time.Millisecond, Usage: "how long each holder keeps the lock"},
			&cli.DurationFlag{Name: "expire-after", Value: time.Second, Usage: "session timeout of the in-process tree"},
			&cli.BoolFlag{Name: "crash", Usage: "the first holder stops heartbeating instead of releasing"},
		},
		Action: demoAction,
	}
}

type demo struct {
	srv    *memzk.Server
	root   string
	rounds int
	hold   time.Duration
	expire time.Duration
	crash  bool
	logger hclog.Logger

	inside  atomic.Int32 // holders inside the critical section
	crashed atomic.Bool
}

func demoAction(c *cli.Context) error {
	d := &demo{
		srv:    memzk.NewServer(),
		root:   c.String("root"),
		rounds: c.Int("rounds"),
		hold:   c.Duration("hold"),
		expire: c.Duration("expire-after"),
		crash:  c.Bool("crash"),
		logger: newLogger(c),
	}

	if d.expire <= 0 {
		return cli.Exit("expire-after must be positive", 2)
	}

	ctx, cancel := context.WithCancel(c.Context)
	defer cancel()

	// expires sessions that stop heartbeating
	go d.srv.Run(ctx, d.expire/4)

	start := time.Now()
	g, gctx := errgroup.WithContext(ctx)
	for i := 0; i < c.Int("contenders"); i++ {
		owner := fmt.Sprintf("contender-%d", i)
		g.Go(func() error {
			return d.contend(gctx, owner)
		})
	}

	if err := g.Wait(); err != nil {
		return err
	}

	stats := d.srv.Stats()
	d.logger.Info("demo finished", "elapsed", time.Since(start), "nodes_left", stats.Nodes, "sessions_left", stats.Sessions)
	return nil
}

func (d *demo) contend(ctx context.Context, owner string) error {
	logger := d.logger.Named(owner)

	var sess *memzk.Session
	dial := func(handler coord.EventHandler) (coord.Conn, error) {
		sess = d.srv.Connect(d.expire, handler)
		return sess, nil
	}

	cl, err := client.New(ctx, dial, client.Config{Owner: owner, Logger: logger})
	if err != nil {
		return err
	}

	stopCh := make(chan struct{})
	go heartbeatLoop(ctx, sess, d.expire/3, stopCh, logger)

	crashed := false
	defer func() {
		if !crashed {
			close(stopCh)
			cl.Close()
		}
	}()

	for r := 0; r < d.rounds; r++ {
		l, err := cl.Acquire(ctx, d.root)
		if err != nil {
			return err
		}

		if n := d.inside.Add(1); n > 1 {
			return fmt.Errorf("%s entered the critical section with %d holders", owner, n)
		}
		logger.Info("holding lock", "round", r, "token", l.Token())

		if d.crash && d.crashed.CompareAndSwap(false, true) {
			// leave the lock behind; the session expires and the next contender takes over
			logger.Warn("crashing while holding the lock")
			crashed = true
			close(stopCh)
			d.inside.Add(-1)
			return nil
		}

		select {
		case <-time.After(d.hold):
		case <-ctx.Done():
		}
		d.inside.Add(-1)

		if err := l.Release(ctx); err != nil {
			return err
		}
	}

	return nil
}

// keeps a session alive the way a client library would
func heartbeatLoop(ctx context.Context, sess *memzk.Session, interval time.Duration, stopCh <-chan struct{}, logger hclog.Logger) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	var failureCount int

	for {
		select {
		case <-ticker.C:
			if err := sess.Ping(); err != nil {
				failureCount++
				logger.Warn("heartbeat failed", "attempt", failureCount, "error", err)
				if failureCount >= 2 {
					logger.Error("session lost, heartbeat stopped")
					return
				}
				continue
			}
			failureCount = 0

		case <-stopCh:
			return
		case <-ctx.Done():
			return
		}
	}
}
