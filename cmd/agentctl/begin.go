package main

import (
	"fmt"

	"github.com/spf13/cobra"
)

func newBeginCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "begin <app-token>",
		Short: "Begin a new session, ending whatever session is currently open",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			c, err := bootstrap()
			if err != nil {
				return err
			}
			defer c.Close()

			c.BeginSession(args[0])
			c.Sync()

			snap := c.Snapshot()
			for _, s := range snap {
				if s.Current {
					fmt.Printf("session started: %s\n", s.UUID)
					return nil
				}
			}
			return nil
		},
	}
}
