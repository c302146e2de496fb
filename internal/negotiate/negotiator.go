// Package negotiate derives a stream configuration from the two settings
// queries a device answers: the settings currently available and the full
// range it supports.
package negotiate

import (
	"context"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/srg/sensorbridge/internal/device"
	"github.com/srg/sensorbridge/internal/groutine"
)

const defaultQueryTimeout = 10 * time.Second

// Result of one negotiation. Config is only meaningful when Negotiate
// returned no error.
type Result struct {
	Available device.Settings      `json:"available"`
	Full      device.Settings      `json:"full"`
	Config    device.Configuration `json:"config"`
}

// Negotiator runs settings negotiations against a SettingsSource
type Negotiator struct {
	source           device.SettingsSource
	availableTimeout time.Duration
	fullTimeout      time.Duration
	logger           *logrus.Logger
}

// Option configures a Negotiator
type Option func(*Negotiator)

// WithTimeout bounds both settings queries by d
func WithTimeout(d time.Duration) Option {
	return WithQueryTimeouts(d, d)
}

// WithQueryTimeouts bounds the available and the full settings queries separately
func WithQueryTimeouts(available, full time.Duration) Option {
	return func(n *Negotiator) {
		if available > 0 {
			n.availableTimeout = available
		}
		if full > 0 {
			n.fullTimeout = full
		}
	}
}

// New creates a Negotiator over source
func New(source device.SettingsSource, logger *logrus.Logger, opts ...Option) *Negotiator {
	if logger == nil {
		logger = logrus.New()
	}
	n := &Negotiator{
		source:           source,
		availableTimeout: defaultQueryTimeout,
		fullTimeout:      defaultQueryTimeout,
		logger:           logger,
	}
	for _, o := range opts {
		o(n)
	}
	return n
}

type query func(ctx context.Context, id string, feature device.Feature) (device.Settings, error)

// Negotiate issues both queries concurrently and joins them. A failed query
// counts as an empty settings set; an empty available set fails the
// negotiation with ErrSettingsUnavailable whatever the full set holds.
// Otherwise Config holds the maximum of every available dimension.
func (n *Negotiator) Negotiate(ctx context.Context, id string, feature device.Feature) (Result, error) {
	if err := device.ValidateID(id); err != nil {
		return Result{}, err
	}

	log := n.logger.WithFields(logrus.Fields{
		"device_id": id,
		"feature":   feature,
	})
	log.Debug("Requesting stream settings...")

	available, full := zip(
		n.orEmpty(ctx, "available", n.availableTimeout, n.source.RequestAvailableSettings, id, feature),
		n.orEmpty(ctx, "full", n.fullTimeout, n.source.RequestFullSettings, id, feature),
	)

	res := Result{Available: available, Full: full}
	log.WithFields(logrus.Fields{
		"available": available,
		"full":      full,
	}).Info("Stream settings received")

	if err := ctx.Err(); err != nil {
		return res, device.FromContext("negotiate", id, err)
	}
	if available.IsEmpty() {
		return res, &device.Error{
			Kind:     device.KindSettingsUnavailable,
			Op:       "negotiate",
			DeviceID: id,
			Msg:      "settings are not available for " + feature.String(),
		}
	}

	res.Config = available.MaxSettings()
	log.WithField("config", res.Config).Info("Stream configuration selected")
	return res, nil
}

// orEmpty runs q on its own goroutine under timeout and yields its settings,
// or the empty set when q fails.
func (n *Negotiator) orEmpty(ctx context.Context, name string, timeout time.Duration, q query, id string, feature device.Feature) <-chan device.Settings {
	out := make(chan device.Settings, 1)
	groutine.Go(ctx, "settings-"+name+"-"+id, func(ctx context.Context) {
		qctx, cancel := context.WithTimeout(ctx, timeout)
		defer cancel()

		s, err := q(qctx, id, feature)
		if err != nil {
			n.logger.WithFields(logrus.Fields{
				"device_id": id,
				"feature":   feature,
				"query":     name,
				"error":     device.FromContext("settings", id, err),
			}).Warn("Stream settings are not available")
			s = device.EmptySettings()
		}
		out <- s
	})
	return out
}

// zip waits for both values; neither side short-circuits the other.
func zip[A, B any](a <-chan A, b <-chan B) (A, B) {
	return <-a, <-b
}
