package main

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"strings"
	"time"

	"github.com/spf13/cobra"
	"github.com/srg/sensorbridge/internal/device"
	"github.com/srg/sensorbridge/internal/event"
)

type streamOptions struct {
	feature  string
	duration time.Duration
}

func newStreamCmd() *cobra.Command {
	opts := &streamOptions{}
	cmd := &cobra.Command{
		Use:   "stream <device-id>",
		Short: "Stream measurement samples from a biosensor",
		Long: `Connect to a biosensor, negotiate the stream settings (the maximum of every
available setting) and print samples until the duration elapses, the stream
ends or Ctrl+C is pressed.

Table output prints one line per batch; json output prints one object per batch.`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			feature, err := device.ParseFeature(opts.feature)
			if err != nil {
				return err
			}
			return runWithBridge(cmd, func(ctx context.Context, s *session) error {
				return runStream(ctx, s, args[0], feature, opts.duration)
			})
		},
	}

	cmd.Flags().StringVar(&opts.feature, "feature", "ecg", "Measurement stream (ecg, acc, ppg, ppi, gyro, magnetometer, hr)")
	cmd.Flags().DurationVarP(&opts.duration, "duration", "d", 0, "Stream duration (0 for indefinite)")
	cmd.Flags().Duration("timeout", 20*time.Second, "Connection timeout")
	cmd.Flags().StringP("format", "f", "table", "Output format (table, json)")
	return cmd
}

func runStream(ctx context.Context, s *session, id string, feature device.Feature, duration time.Duration) error {
	if err := s.connect(ctx, id, feature); err != nil {
		return err
	}

	out := s.cmd.OutOrStdout()
	printBatch := batchPrinter(out, s.cfg.OutputFormat)
	var batches, samples int

	// observers run on the dispatcher goroutine only, so the counters need no lock
	terminal := make(chan event.StreamStateChanged, 1)
	defer event.On(s.bridge.Events(), func(e event.SamplesReceived) {
		if e.Batch.DeviceID != id || e.Batch.Feature != feature {
			return
		}
		batches++
		samples += len(e.Batch.Samples)
		printBatch(e.Batch)
	})()
	defer event.On(s.bridge.Events(), func(e event.StreamStateChanged) {
		if e.DeviceID != id || e.Feature != feature {
			return
		}
		printStreamState(s.cmd.ErrOrStderr(), e)
		if e.State.Terminal() {
			terminal <- e
		}
	})()

	if err := s.bridge.StartStream(id, feature); err != nil {
		return err
	}

	var deadline <-chan time.Time
	if duration > 0 {
		timer := time.NewTimer(duration)
		defer timer.Stop()
		deadline = timer.C
	}

	var streamErr error
	select {
	case e := <-terminal:
		if e.State == device.SessionFailed {
			streamErr = e.Err
		}
	case <-deadline:
		_ = s.bridge.StopStream(id, feature)
	case <-ctx.Done():
		_ = s.bridge.StopStream(id, feature)
	}
	s.bridge.Events().Flush()

	if streamErr != nil {
		return streamErr
	}
	fmt.Fprintf(s.cmd.ErrOrStderr(), "%d batches, %d samples\n", batches, samples)
	return nil
}

func batchPrinter(w io.Writer, format string) func(device.SampleBatch) {
	if format == "json" {
		encoder := json.NewEncoder(w)
		return func(b device.SampleBatch) { _ = encoder.Encode(b) }
	}
	return func(b device.SampleBatch) {
		values := make([]string, len(b.Samples))
		for i, v := range b.Samples {
			values[i] = fmt.Sprint(v)
		}
		fmt.Fprintf(w, "%d\t%s\t%s\n", b.TimestampNs, b.Feature, strings.Join(values, " "))
	}
}
