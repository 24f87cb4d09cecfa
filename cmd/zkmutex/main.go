package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/hashicorp/go-hclog"
	"github.com/pixperk/zkmutex/pkg/client"
	"github.com/pixperk/zkmutex/pkg/gateway"
	"github.com/pixperk/zkmutex/pkg/lock"
	"github.com/pixperk/zkmutex/pkg/memzk"
	"github.com/urfave/cli/v2"
)

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := newApp().RunContext(ctx, os.Args); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func newApp() *cli.App {
	return &cli.App{
		Name:  "zkmutex",
		Usage: "fair distributed mutex on ZooKeeper",
		Flags: []cli.Flag{
			&cli.StringSliceFlag{
				Name:    "servers",
				Usage:   "ZooKeeper ensemble as host:port",
				Value:   cli.NewStringSlice(client.DefaultConfig().Servers...),
				EnvVars: []string{"ZKMUTEX_SERVERS"},
			},
			&cli.DurationFlag{
				Name:    "session-timeout",
				Usage:   "session timeout negotiated with the ensemble",
				Value:   client.DefaultSessionTimeout,
				EnvVars: []string{"ZKMUTEX_SESSION_TIMEOUT"},
			},
			&cli.DurationFlag{
				Name:    "connect-timeout",
				Usage:   "how long to wait for the session to be established",
				Value:   15 * time.Second,
				EnvVars: []string{"ZKMUTEX_CONNECT_TIMEOUT"},
			},
			&cli.StringFlag{
				Name:    "root",
				Usage:   "lock root node",
				Value:   lock.DefaultRoot,
				EnvVars: []string{"ZKMUTEX_ROOT"},
			},
			&cli.StringFlag{
				Name:    "owner",
				Usage:   "owner id written into contender nodes (random if empty)",
				EnvVars: []string{"ZKMUTEX_OWNER"},
			},
			&cli.StringFlag{
				Name:    "log-level",
				Usage:   "trace, debug, info, warn or error",
				Value:   "info",
				EnvVars: []string{"ZKMUTEX_LOG_LEVEL"},
			},
			&cli.StringFlag{
				Name:    "metrics-addr",
				Usage:   "serve prometheus metrics on this address, e.g. :9102",
				EnvVars: []string{"ZKMUTEX_METRICS_ADDR"},
			},
			&cli.BoolFlag{
				Name:    "memory",
				Usage:   "use an in-process tree instead of ZooKeeper",
				EnvVars: []string{"ZKMUTEX_MEMORY"},
			},
		},
		Before: func(c *cli.Context) error {
			return startMetrics(c.Context, c.String("metrics-addr"), newLogger(c))
		},
		Commands: []*cli.Command{
			runCommand(),
			statusCommand(),
			serveCommand(),
			demoCommand(),
		},
	}
}

func newLogger(c *cli.Context) hclog.Logger {
	return hclog.New(&hclog.LoggerOptions{
		Name:   "zkmutex",
		Level:  hclog.LevelFromString(c.String("log-level")),
		Output: os.Stderr,
	})
}

// connect opens the session every command works on
func connect(c *cli.Context, logger hclog.Logger) (*client.Client, error) {
	cfg := client.Config{
		Servers:        c.StringSlice("servers"),
		SessionTimeout: c.Duration("session-timeout"),
		Owner:          c.String("owner"),
		Logger:         logger,
	}

	ctx, cancel := context.WithTimeout(c.Context, c.Duration("connect-timeout"))
	defer cancel()

	if c.Bool("memory") {
		logger.Warn("using an in-process tree, locks are not shared with other processes")
		return client.New(ctx, memzk.NewServer().Dialer(0), cfg)
	}

	logger.Debug("connecting", "servers", cfg.Servers, "session_timeout", cfg.SessionTimeout)
	return client.Connect(ctx, cfg)
}

// serves metrics on addr until ctx is done
func startMetrics(ctx context.Context, addr string, logger hclog.Logger) error {
	if addr == "" {
		return nil
	}

	errCh := serveGateway(ctx, gateway.NewServer(addr, nil, logger.Named("metrics")), logger)
	go func() {
		if err := <-errCh; err != nil {
			logger.Error("metrics server failed", "error", err)
		}
	}()
	return nil
}

func serveGateway(ctx context.Context, gw *gateway.Server, logger hclog.Logger) <-chan error {
	errCh := make(chan error, 1)
	go func() {
		errCh <- gw.Start()
	}()

	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := gw.Stop(shutdownCtx); err != nil {
			logger.Warn("gateway shutdown failed", "error", err)
		}
	}()

	return errCh
}
