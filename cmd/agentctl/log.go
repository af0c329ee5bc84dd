package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/centauriapp/agentcore/internal/logrecord"
)

var flagSeverity string
var flagTags string

func newLogCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "log <message>",
		Short: "Buffer one log record into the current session",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			c, err := bootstrap()
			if err != nil {
				return err
			}
			defer c.Close()

			severity, err := parseSeverity(flagSeverity)
			if err != nil {
				return err
			}

			c.Log(severity, flagTags, args[0])
			c.Sync()
			fmt.Println("record buffered")
			return nil
		},
	}
	cmd.Flags().StringVar(&flagSeverity, "severity", "info", "one of: error, warning, info, debug")
	cmd.Flags().StringVar(&flagTags, "tags", "", "free-form tag string carried on the record")
	return cmd
}

func parseSeverity(s string) (*logrecord.Severity, error) {
	var sev logrecord.Severity
	switch s {
	case "error":
		sev = logrecord.SeverityError
	case "warning":
		sev = logrecord.SeverityWarning
	case "info":
		sev = logrecord.SeverityInfo
	case "debug":
		sev = logrecord.SeverityDebug
	default:
		return nil, fmt.Errorf("unknown severity %q", s)
	}
	return &sev, nil
}

func newFlushCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "flush",
		Short: "Freeze and enqueue every session's accumulated records for upload",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			c, err := bootstrap()
			if err != nil {
				return err
			}
			defer c.Close()

			c.Flush()
			c.Sync()
			fmt.Println("flush requested")
			return nil
		},
	}
}
