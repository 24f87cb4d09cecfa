package main

import (
	"bytes"
	"context"
	"testing"
	"time"

	"github.com/pixperk/zkmutex/pkg/client"
	"github.com/pixperk/zkmutex/pkg/types"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/urfave/cli/v2"
)

func runApp(t *testing.T, args ...string) (string, error) {
	t.Helper()

	var out bytes.Buffer
	app := newApp()
	app.Writer = &out
	// keep exit codes from terminating the test binary
	app.ExitErrHandler = func(*cli.Context, error) {}

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	err := app.RunContext(ctx, append([]string{"zkmutex", "--log-level", "error"}, args...))
	return out.String(), err
}

func TestStatusOfFreeLock(t *testing.T) {
	out, err := runApp(t, "--memory", "--root", "/jobs", "status")
	require.NoError(t, err)
	assert.Equal(t, "/jobs is free\n", out)
}

func TestPrintStatus(t *testing.T) {
	var out bytes.Buffer
	err := printStatus(&out, &client.Status{
		Root:   "/locks",
		Holder: &types.Contender{Name: "seq-0000000003", Sequence: 3, Owner: "a"},
		Queue: []types.Contender{
			{Name: "seq-0000000004", Sequence: 4, Owner: "b"},
			{Name: "seq-0000000007", Sequence: 7, Owner: "c"},
		},
	})
	require.NoError(t, err)

	lines := bytes.Split(bytes.TrimSpace(out.Bytes()), []byte("\n"))
	require.Len(t, lines, 4)
	assert.Contains(t, string(lines[1]), "holder")
	assert.Contains(t, string(lines[1]), "seq-0000000003")
	assert.Contains(t, string(lines[3]), "seq-0000000007")
	assert.Contains(t, string(lines[3]), "c")
}

func TestRunRequiresCommand(t *testing.T) {
	_, err := runApp(t, "--memory", "run")
	require.Error(t, err)

	exitErr, ok := err.(cli.ExitCoder)
	require.True(t, ok)
	assert.Equal(t, 2, exitErr.ExitCode())
}

func TestRunPropagatesExitCode(t *testing.T) {
	_, err := runApp(t, "--memory", "run", "--", "sh", "-c", "exit 3")
	require.Error(t, err)

	exitErr, ok := err.(cli.ExitCoder)
	require.True(t, ok)
	assert.Equal(t, 3, exitErr.ExitCode())
}

func TestDemo(t *testing.T) {
	_, err := runApp(t, "demo",
		"--contenders", "3",
		"--rounds", "2",
		"--hold", "5ms",
		"--expire-after", "200ms",
	)
	require.NoError(t, err)
}

func TestDemoSurvivesCrashedHolder(t *testing.T) {
	_, err := runApp(t, "demo",
		"--contenders", "3",
		"--rounds", "2",
		"--hold", "5ms",
		"--expire-after", "200ms",
		"--crash",
	)
	require.NoError(t, err)
}
