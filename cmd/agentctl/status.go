package main

import (
	"fmt"
	"os"

	"github.com/dustin/go-humanize"
	"github.com/mattn/go-isatty"
	"github.com/spf13/cobra"
)

func newStatusCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "status",
		Short: "Show every tracked session and its upload state",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			c, err := bootstrap()
			if err != nil {
				return err
			}
			defer c.Close()

			snap := c.Snapshot()
			if len(snap) == 0 {
				fmt.Println("no tracked sessions")
				return nil
			}

			colorize := isatty.IsTerminal(os.Stdout.Fd())
			for _, s := range snap {
				marker := " "
				if s.Current {
					marker = "*"
				}
				state := s.State
				if colorize && s.PendingUploads {
					state = state + " (pending upload)"
				} else if s.PendingUploads {
					state = state + " [pending upload]"
				}
				fmt.Printf("%s %s  app=%s  state=%-10s  frozen_buffers=%d (%s)  begin_posted=%v  end_posted=%v\n",
					marker, s.UUID, s.AppToken, state, s.FrozenBuffers, humanize.Bytes(s.FrozenBytesPending), s.BeginPosted, s.EndPosted)
			}
			return nil
		},
	}
}
