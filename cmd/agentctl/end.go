package main

import (
	"fmt"

	"github.com/spf13/cobra"
)

func newEndCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "end",
		Short: "End the current session",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			c, err := bootstrap()
			if err != nil {
				return err
			}
			defer c.Close()

			c.EndSession()
			c.Sync()
			fmt.Println("session end requested")
			return nil
		},
	}
}

func newSuspendCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "suspend",
		Short: "Suspend the current session",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			c, err := bootstrap()
			if err != nil {
				return err
			}
			defer c.Close()

			c.Suspend()
			c.Sync()
			fmt.Println("session suspended")
			return nil
		},
	}
}

func newResumeCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "resume",
		Short: "Resume the current session, or begin a new one if the idle timeout elapsed",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			c, err := bootstrap()
			if err != nil {
				return err
			}
			defer c.Close()

			c.Resume()
			c.Sync()
			fmt.Println("session resume requested")
			return nil
		},
	}
}
