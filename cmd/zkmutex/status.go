package main

import (
	"fmt"
	"io"
	"text/tabwriter"

	"github.com/pixperk/zkmutex/pkg/client"
	"github.com/urfave/cli/v2"
)

func statusCommand() *cli.Command {
	return &cli.Command{
		Name:  "status",
		Usage: "print the holder and the queue of a lock",
		Action: func(c *cli.Context) error {
			cl, err := connect(c, newLogger(c))
			if err != nil {
				return err
			}
			defer cl.Close()

			status, err := cl.Status(c.Context, c.String("root"))
			if err != nil {
				return err
			}
			return printStatus(c.App.Writer, status)
		},
	}
}

func printStatus(w io.Writer, status *client.Status) error {
	if status.Holder == nil {
		_, err := fmt.Fprintf(w, "%s is free\n", status.Root)
		return err
	}

	tw := tabwriter.NewWriter(w, 0, 4, 2, ' ', 0)
	fmt.Fprintln(tw, "POSITION\tNODE\tTOKEN\tOWNER")
	fmt.Fprintf(tw, "holder\t%s\t%d\t%s\n", status.Holder.Name, status.Holder.Sequence, status.Holder.Owner)
	for i, ct := range status.Queue {
		fmt.Fprintf(tw, "%d\t%s\t%d\t%s\n", i+1, ct.Name, ct.Sequence, ct.Owner)
	}
	return tw.Flush()
}
