package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/exec"
	"time"

	"github.com/urfave/cli/v2"
)

func runCommand() *cli.Command {
	return &cli.Command{
		Name:      "run",
		Usage:     "hold the lock while a command runs",
		ArgsUsage: "-- command [args...]",
		Description: "Acquires the lock, runs the command with ZKMUTEX_TOKEN set to the " +
			"fencing token and releases the lock when it exits.",
		Action: runAction,
	}
}

func runAction(c *cli.Context) error {
	args := c.Args().Slice()
	if len(args) == 0 {
		return cli.Exit("run needs a command", 2)
	}

	logger := newLogger(c)
	root := c.String("root")

	cl, err := connect(c, logger)
	if err != nil {
		return err
	}
	defer cl.Close()

	start := time.Now()
	l, err := cl.Acquire(c.Context, root)
	if err != nil {
		return err
	}
	logger.Info("lock acquired", "root", root, "token", l.Token(), "waited", time.Since(start))

	cmd := exec.CommandContext(c.Context, args[0], args[1:]...)
	cmd.Stdin = os.Stdin
	cmd.Stdout = os.Stdout
	cmd.Stderr = os.Stderr
	cmd.Env = append(os.Environ(), fmt.Sprintf("ZKMUTEX_TOKEN=%d", l.Token()))

	runErr := cmd.Run()

	// the run context may already be canceled
	releaseCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := l.Release(releaseCtx); err != nil {
		logger.Error("release failed, the lock is freed when the session ends", "error", err)
	} else {
		logger.Info("lock released", "root", root)
	}

	var exitErr *exec.ExitError
	if errors.As(runErr, &exitErr) {
		return cli.Exit("", exitErr.ExitCode())
	}
	return runErr
}
