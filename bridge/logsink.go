package bridge

import (
	"errors"
	"sync/atomic"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/srg/sensorbridge/internal/device"
	"github.com/srg/sensorbridge/internal/event"
	"golang.org/x/time/rate"
)

const summaryInterval = 5 * time.Second

// logSink logs every event the bridge delivers. Samples go to debug; an info
// summary of the streaming volume is throttled.
type logSink struct {
	logger  *logrus.Logger
	summary rate.Sometimes

	batches atomic.Uint64
	samples atomic.Uint64
}

func newLogSink(logger *logrus.Logger) *logSink {
	return &logSink{
		logger:  logger,
		summary: rate.Sometimes{First: 1, Interval: summaryInterval},
	}
}

// Observe is registered on the dispatcher
func (l *logSink) Observe(ev event.Event) {
	entry := l.logger.WithField("event", ev.EventName())

	switch e := ev.(type) {
	case event.PowerStateChanged:
		entry.WithField("powered", e.Powered).Info("Bluetooth power state changed")

	case event.ConnectionStateChanged:
		entry = entry.WithFields(logrus.Fields{
			"device_id": e.DeviceID,
			"state":     e.State,
		})
		if e.Err != nil {
			entry.WithError(e.Err).Warn("Connection state changed")
		} else {
			entry.Info("Connection state changed")
		}

	case event.DeviceFound:
		entry.WithFields(logrus.Fields{
			"session":   e.SessionID,
			"device_id": e.Device.ID,
			"name":      e.Device.Name,
			"rssi":      e.Device.RSSI,
		}).Info("Device found")

	case event.SearchTerminated:
		entry = entry.WithFields(logrus.Fields{
			"session": e.SessionID,
			"state":   e.State,
		})
		if e.State == device.SessionFailed {
			entry.WithError(e.Err).Error("Device search failed")
		} else {
			entry.Info("Device search ended")
		}

	case event.StreamingFeaturesReady:
		entry.WithFields(logrus.Fields{
			"device_id": e.DeviceID,
			"features":  e.Features,
		}).Info("Streaming features ready")

	case event.HRFeatureReady:
		entry.WithField("device_id", e.DeviceID).Info("Heart rate feature ready")

	case event.FtpFeatureReady:
		entry.WithField("device_id", e.DeviceID).Info("File transfer feature ready")

	case event.SDKModeAvailable:
		entry.WithField("device_id", e.DeviceID).Info("SDK mode available")

	case event.DeviceInfoReceived:
		entry.WithFields(logrus.Fields{
			"device_id": e.DeviceID,
			"name":      e.Name,
			"value":     e.Value,
		}).Info("Device information received")

	case event.BatteryLevelReceived:
		entry.WithFields(logrus.Fields{
			"device_id": e.DeviceID,
			"level":     e.Level,
		}).Info("Battery level received")

	case event.HeartRateReceived:
		entry.WithFields(logrus.Fields{
			"device_id": e.DeviceID,
			"hr":        e.HR,
			"rrs_ms":    e.RRsMs,
			"contact":   e.Contact,
		}).Debug("Heart rate received")

	case event.SettingsNegotiated:
		entry = entry.WithFields(logrus.Fields{
			"device_id": e.DeviceID,
			"feature":   e.Feature,
			"available": e.Available,
			"full":      e.Full,
		})
		if e.Err != nil {
			entry.WithError(e.Err).Warn("Stream settings not negotiated")
		} else {
			entry.WithField("config", e.Config).Info("Stream settings negotiated")
		}

	case event.StreamStateChanged:
		entry = entry.WithFields(logrus.Fields{
			"device_id": e.DeviceID,
			"feature":   e.Feature,
			"state":     e.State,
		})
		switch {
		case e.State == device.SessionFailed:
			entry.WithError(e.Err).Error("Stream failed")
		case e.Err != nil && !errors.Is(e.Err, device.ErrCancelled):
			entry.WithError(e.Err).Warn("Stream state changed")
		default:
			entry.Info("Stream state changed")
		}

	case event.SamplesReceived:
		l.observeSamples(entry, e.Batch)

	default:
		entry.Debug("Event")
	}
}

func (l *logSink) observeSamples(entry *logrus.Entry, batch device.SampleBatch) {
	batches := l.batches.Add(1)
	samples := l.samples.Add(uint64(len(batch.Samples)))

	entry = entry.WithFields(logrus.Fields{
		"device_id": batch.DeviceID,
		"feature":   batch.Feature,
	})
	if l.logger.IsLevelEnabled(logrus.DebugLevel) {
		for _, sample := range batch.Samples {
			entry.WithField("value", sample).Debug("Sample")
		}
	}

	l.summary.Do(func() {
		entry.WithFields(logrus.Fields{
			"batches":      batches,
			"samples":      samples,
			"timestamp_ns": batch.TimestampNs,
		}).Info("Streaming")
	})
}
