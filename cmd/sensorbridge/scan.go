package main

import (
	"context"
	"sync"
	"time"

	"github.com/spf13/cobra"
	"github.com/srg/sensorbridge/internal/device"
	"github.com/srg/sensorbridge/internal/discovery"
	"github.com/srg/sensorbridge/internal/event"
)

type scanOptions struct {
	duration time.Duration
	prefix   string
	all      bool
}

func newScanCmd() *cobra.Command {
	opts := &scanOptions{}
	cmd := &cobra.Command{
		Use:   "scan",
		Short: "Search for biosensors",
		Long: `Search for and list biosensors in the vicinity.

By default only devices whose advertised name starts with the configured
prefix are listed; --all lists every device.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runWithBridge(cmd, func(ctx context.Context, s *session) error {
				return runScan(ctx, s, opts)
			})
		},
	}

	cmd.Flags().DurationVarP(&opts.duration, "duration", "d", 0, "Scan duration (default from config, 0 in config for indefinite)")
	cmd.Flags().StringP("format", "f", "table", "Output format (table, json)")
	cmd.Flags().StringVar(&opts.prefix, "prefix", "", "Device name prefix (default from config)")
	cmd.Flags().BoolVarP(&opts.all, "all", "a", false, "List every device, not only prefix matches")
	return cmd
}

func runScan(ctx context.Context, s *session, opts *scanOptions) error {
	searchOpts := &discovery.Options{
		Timeout:        s.cfg.ScanTimeout,
		NamePrefix:     s.cfg.NamePrefix,
		FilterByPrefix: s.cfg.FilterByPrefix && !opts.all,
	}
	if opts.duration > 0 {
		searchOpts.Timeout = opts.duration
	}
	if opts.prefix != "" {
		searchOpts.NamePrefix = opts.prefix
		searchOpts.FilterByPrefix = !opts.all
	}

	var mu sync.Mutex
	var devices []device.Descriptor
	terminated := make(chan event.SearchTerminated, 1)

	defer event.On(s.bridge.Events(), func(e event.DeviceFound) {
		mu.Lock()
		defer mu.Unlock()
		devices = append(devices, e.Device)
	})()

	defer event.On(s.bridge.Events(), func(e event.SearchTerminated) {
		select {
		case terminated <- e:
		default:
		}
	})()

	handle, err := s.bridge.Search(searchOpts)
	if err != nil {
		return err
	}

	var searchErr error
	select {
	case e := <-terminated:
		if e.State == device.SessionFailed {
			searchErr = e.Err
		}
	case <-ctx.Done():
		handle.Stop()
	}

	mu.Lock()
	found := append([]device.Descriptor(nil), devices...)
	mu.Unlock()

	if searchErr != nil {
		return searchErr
	}

	out := s.cmd.OutOrStdout()
	if s.cfg.OutputFormat == "json" {
		if found == nil {
			found = []device.Descriptor{}
		}
		return writeJSON(out, found)
	}
	return displayDevicesTable(out, found)
}
