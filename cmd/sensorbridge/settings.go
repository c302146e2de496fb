package main

import (
	"context"
	"time"

	"github.com/spf13/cobra"
	"github.com/srg/sensorbridge/internal/device"
)

func newSettingsCmd() *cobra.Command {
	var featureName string
	cmd := &cobra.Command{
		Use:   "settings <device-id>",
		Short: "Negotiate stream settings without streaming",
		Long: `Connect to a biosensor, query the available and the full settings of a
measurement stream and print the configuration a stream would start with.`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			feature, err := device.ParseFeature(featureName)
			if err != nil {
				return err
			}
			return runWithBridge(cmd, func(ctx context.Context, s *session) error {
				return runSettings(ctx, s, args[0], feature)
			})
		},
	}

	cmd.Flags().StringVar(&featureName, "feature", "ecg", "Measurement stream (ecg, acc, ppg, ppi, gyro, magnetometer, hr)")
	cmd.Flags().Duration("timeout", 20*time.Second, "Connection timeout")
	cmd.Flags().StringP("format", "f", "table", "Output format (table, json)")
	return cmd
}

type settingsOutput struct {
	DeviceID  string               `json:"device_id"`
	Feature   device.Feature       `json:"feature"`
	Available device.Settings      `json:"available"`
	Full      device.Settings      `json:"full"`
	Config    device.Configuration `json:"config"`
}

func runSettings(ctx context.Context, s *session, id string, feature device.Feature) error {
	if err := s.connect(ctx, id, feature); err != nil {
		return err
	}

	res, err := s.bridge.RequestStreamSettings(ctx, id, feature)
	if err != nil {
		return err
	}

	out := s.cmd.OutOrStdout()
	if s.cfg.OutputFormat == "json" {
		return writeJSON(out, settingsOutput{
			DeviceID:  id,
			Feature:   feature,
			Available: res.Available,
			Full:      res.Full,
			Config:    res.Config,
		})
	}
	return displaySettingsTable(out, feature, res.Available, res.Full, res.Config)
}
