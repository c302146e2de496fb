package main

import (
	"context"
	"time"

	"github.com/spf13/cobra"
)

func newConnectCmd() *cobra.Command {
	var settle time.Duration
	cmd := &cobra.Command{
		Use:   "connect <device-id>",
		Short: "Connect to a biosensor and report what it offers",
		Long: `Connect to a biosensor, collect its battery level, device information and
streaming features, print them and disconnect.

The device id is the 8 hex digit id from the advertised name, or the device address.`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return runWithBridge(cmd, func(ctx context.Context, s *session) error {
				return runConnect(ctx, s, args[0], settle)
			})
		},
	}

	cmd.Flags().DurationVar(&settle, "wait", 3*time.Second, "Time to collect device information after connecting")
	cmd.Flags().Duration("timeout", 20*time.Second, "Connection timeout")
	cmd.Flags().StringP("format", "f", "table", "Output format (table, json)")
	return cmd
}

func runConnect(ctx context.Context, s *session, id string, settle time.Duration) error {
	if err := s.connect(ctx, id); err != nil {
		return err
	}

	select {
	case <-time.After(settle):
	case <-ctx.Done():
	}
	s.bridge.Events().Flush()

	rec, _ := s.bridge.Registry().Lookup(id)
	out := s.cmd.OutOrStdout()
	if s.cfg.OutputFormat == "json" {
		return writeJSON(out, rec)
	}
	return displayRecordTable(out, rec)
}
