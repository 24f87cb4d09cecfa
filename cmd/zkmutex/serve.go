package main

import (
	"github.com/pixperk/zkmutex/pkg/gateway"
	"github.com/urfave/cli/v2"
)

func serveCommand() *cli.Command {
	return &cli.Command{
		Name:  "serve",
		Usage: "serve lock status, health and metrics over HTTP",
		Flags: []cli.Flag{
			&cli.StringFlag{
				Name:    "http-addr",
				Value:   ":8080",
				Usage:   "HTTP listen address",
				EnvVars: []string{"ZKMUTEX_HTTP_ADDR"},
			},
		},
		Action: func(c *cli.Context) error {
			logger := newLogger(c)

			cl, err := connect(c, logger)
			if err != nil {
				return err
			}
			defer cl.Close()

			gw := gateway.NewServer(c.String("http-addr"), cl, logger.Named("gateway"))
			errCh := serveGateway(c.Context, gw, logger)

			logger.Info("zkmutex gateway is ready, press Ctrl+C to stop")

			select {
			case err := <-errCh:
				return err
			case <-c.Context.Done():
				logger.Info("shutting down")
				return nil
			}
		},
	}
}
