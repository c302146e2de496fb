package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"
	"github.com/srg/sensorbridge/bridge"
	"github.com/srg/sensorbridge/internal/device"
	goble "github.com/srg/sensorbridge/internal/device/go-ble"
	"github.com/srg/sensorbridge/internal/event"
	"github.com/srg/sensorbridge/pkg/config"
)

// newTransport opens the BLE adapter. Tests replace it with a scripted transport.
var newTransport = func(cfg *config.Config, logger *logrus.Logger) (bridge.Transport, func() error, error) {
	adapter, err := goble.NewAdapter()
	if err != nil {
		return nil, nil, fmt.Errorf("failed to open BLE adapter: %w", goble.NormalizeError(err))
	}
	t := goble.NewTransport(adapter, goble.Options{
		ConnectTimeout: cfg.ConnectTimeout,
		CommandTimeout: cfg.CommandTimeout,
	}, logger)
	return t, t.Close, nil
}

// session carries what every command needs once the bridge is up
type session struct {
	cmd    *cobra.Command
	cfg    *config.Config
	logger *logrus.Logger
	bridge *bridge.Bridge
}

// loadConfig reads --config and applies the command's flag overrides
func loadConfig(cmd *cobra.Command) (*config.Config, error) {
	path, _ := cmd.Flags().GetString("config")
	cfg, err := config.Load(path)
	if err != nil {
		return nil, err
	}
	if cmd.Flags().Lookup("format") != nil && (cmd.Flags().Changed("format") || path == "") {
		cfg.OutputFormat, _ = cmd.Flags().GetString("format")
	}
	if cmd.Flags().Changed("timeout") {
		cfg.ConnectTimeout, _ = cmd.Flags().GetDuration("timeout")
	}
	return cfg, cfg.Validate()
}

// runWithBridge sets up config, logging, transport and bridge, runs fn, then
// tears everything down. fn's context ends on Ctrl+C.
func runWithBridge(cmd *cobra.Command, fn func(ctx context.Context, s *session) error) error {
	cfg, err := loadConfig(cmd)
	if err != nil {
		return err
	}
	logger, err := configureLogger(cmd, cfg)
	if err != nil {
		return err
	}

	// All arguments validated - don't show usage on runtime errors
	cmd.SilenceUsage = true

	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	transport, closeTransport, err := newTransport(cfg, logger)
	if err != nil {
		return err
	}
	defer func() {
		if closeTransport == nil {
			return
		}
		if err := closeTransport(); err != nil {
			logger.WithError(err).Warn("Failed to close transport")
		}
	}()

	b := bridge.New(transport, cfg, logger)
	b.Start(ctx)
	defer func() {
		if err := b.Close(); err != nil {
			logger.WithError(err).Warn("Bridge close reported errors")
		}
	}()

	return fn(ctx, &session{cmd: cmd, cfg: cfg, logger: logger, bridge: b})
}

// connect connects id and waits until the link is up. With a feature it also
// waits until the device reported that feature ready.
func (s *session) connect(ctx context.Context, id string, feature ...device.Feature) error {
	want := device.Feature(-1)
	if len(feature) > 0 {
		want = feature[0]
	}

	ready := make(chan error, 1)
	report := func(err error) {
		select {
		case ready <- err:
		default:
		}
	}

	unsubscribe := s.bridge.Events().Subscribe(func(ev event.Event) {
		switch e := ev.(type) {
		case event.ConnectionStateChanged:
			if e.DeviceID != id {
				return
			}
			printConnectionState(s.cmd.ErrOrStderr(), e)
			if e.State == device.Connected && want < 0 {
				report(nil)
			}
			if e.State == device.Disconnected {
				cause := e.Err
				if cause == nil {
					cause = ErrConnectionLost
				}
				report(fmt.Errorf("connect %s: %w", id, cause))
			}
		case event.StreamingFeaturesReady:
			if e.DeviceID != id || want < 0 || want == device.FeatureHR {
				return
			}
			if !e.Features.Contains(want) {
				report(fmt.Errorf("%s on %s: %w", want, id, ErrFeatureUnsupported))
				return
			}
			report(nil)
		case event.HRFeatureReady:
			if e.DeviceID == id && want == device.FeatureHR {
				report(nil)
			}
		}
	})
	defer unsubscribe()

	if err := s.bridge.ConnectToDevice(id); err != nil {
		return err
	}

	timeout := s.cfg.ConnectTimeout + s.cfg.CommandTimeout
	select {
	case err := <-ready:
		return err
	case <-time.After(timeout):
		return device.NewError(device.KindTimeout, "connect", id,
			fmt.Errorf("not ready within %s", timeout))
	case <-ctx.Done():
		return ctx.Err()
	}
}
