package bridge

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"

	"github.com/sirupsen/logrus"
	"github.com/srg/sensorbridge/internal/connection"
	"github.com/srg/sensorbridge/internal/device"
	"github.com/srg/sensorbridge/internal/discovery"
	"github.com/srg/sensorbridge/internal/event"
	"github.com/srg/sensorbridge/internal/groutine"
	"github.com/srg/sensorbridge/internal/negotiate"
	"github.com/srg/sensorbridge/internal/registry"
	"github.com/srg/sensorbridge/internal/stream"
	"github.com/srg/sensorbridge/pkg/config"
)

// Transport is the vendor transport the bridge drives. Events it produces on
// its own (power, connection, battery, device information) go to the sink.
type Transport interface {
	device.Transport
	SetEventSink(sink event.Sink)
}

// Bridge is the command surface over discovery, connection, negotiation and
// streaming. Every outcome is reported as an event on Events(); commands only
// return synchronous rejections.
type Bridge struct {
	transport Transport
	cfg       *config.Config
	logger    *logrus.Logger

	dispatcher  *event.Dispatcher
	registry    *registry.Registry
	connections *connection.Manager
	negotiator  *negotiate.Negotiator
	streams     *stream.Manager

	mu        sync.Mutex
	ctx       context.Context
	cancel    context.CancelFunc
	search    *discovery.Session
	observers []func()
	started   bool
	closed    bool

	pending sync.WaitGroup // negotiations in flight
}

// New wires a bridge over transport. A nil cfg uses the defaults.
func New(transport Transport, cfg *config.Config, logger *logrus.Logger) *Bridge {
	if logger == nil {
		logger = logrus.New()
	}
	if cfg == nil {
		cfg = config.DefaultConfig()
	}

	dispatcher := event.NewDispatcher(logger)
	ctx, cancel := context.WithCancel(context.Background())

	return &Bridge{
		transport:   transport,
		cfg:         cfg,
		logger:      logger,
		dispatcher:  dispatcher,
		registry:    registry.New(logger),
		connections: connection.NewManager(transport, logger),
		negotiator:  negotiate.New(transport, logger, negotiate.WithTimeout(cfg.SettingsTimeout)),
		streams: stream.NewManager(transport, logger,
			stream.WithStartTimeout(cfg.StreamStartTimeout),
			stream.WithBarrier(dispatcher.Barrier)),
		ctx:    ctx,
		cancel: cancel,
	}
}

// Start attaches the registry and the logging sink, then starts delivering
// events. Everything started on the bridge ends when ctx is done.
func (b *Bridge) Start(ctx context.Context) {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.started || b.closed {
		return
	}
	b.started = true

	b.cancel()
	b.ctx, b.cancel = context.WithCancel(ctx)

	b.observers = append(b.observers,
		b.registry.Attach(b.dispatcher),
		b.dispatcher.Subscribe(newLogSink(b.logger).Observe),
	)
	b.dispatcher.Start(ctx)
	b.transport.SetEventSink(b.dispatcher)

	b.logger.WithField("config", fmt.Sprintf("%+v", *b.cfg)).Debug("Bridge started")
}

// Events exposes the dispatcher for typed observers
func (b *Bridge) Events() *event.Dispatcher { return b.dispatcher }

// Registry returns the observed power and connection state
func (b *Bridge) Registry() *registry.Registry { return b.registry }

// Search starts a discovery session and returns its handle. The caller owns
// the handle; stopping it is idempotent and nothing of the session is
// delivered once Stop returned.
func (b *Bridge) Search(opts *discovery.Options) (*discovery.Session, error) {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.closed {
		return nil, errBridgeClosed
	}
	return b.startSearchLocked(opts), nil
}

func (b *Bridge) startSearchLocked(opts *discovery.Options) *discovery.Session {
	// finds queued before a natural end are still delivered; a cancel drops them
	var handle atomic.Pointer[discovery.Session]
	alive := func() bool {
		s := handle.Load()
		return s == nil || s.State() != device.SessionCancelled
	}

	s := discovery.Start(b.ctx, b.transport, opts, discovery.Handlers{
		OnDevice: func(sessionID string, d device.Descriptor) {
			b.dispatcher.PublishFrom(alive, event.DeviceFound{SessionID: sessionID, Device: d})
		},
		OnTerminate: func(sessionID string, state device.SessionState, err error) {
			b.dispatcher.Publish(event.SearchTerminated{SessionID: sessionID, State: state, Err: err})
		},
	}, discovery.WithLogger(b.logger), discovery.WithBarrier(b.dispatcher.Barrier))
	handle.Store(s)
	return s
}

// SearchForDevice toggles the bridge's discovery session: it starts one when
// none is running and stops the running one otherwise. It reports whether a
// search is running afterwards.
func (b *Bridge) SearchForDevice() bool {
	b.mu.Lock()
	if b.closed {
		b.mu.Unlock()
		b.logger.Warn("Search requested on a closed bridge")
		return false
	}

	if running := b.search; running != nil && running.Active() {
		b.search = nil
		b.mu.Unlock()

		running.Stop()
		b.logger.WithField("session", running.ID()).Info("Device search stopped")
		return false
	}

	// the toggle runs until toggled off; ScanTimeout is for the CLI scan
	b.search = b.startSearchLocked(&discovery.Options{
		NamePrefix:     b.cfg.NamePrefix,
		FilterByPrefix: b.cfg.FilterByPrefix,
	})
	id := b.search.ID()
	b.mu.Unlock()

	b.logger.WithField("session", id).Info("Device search started")
	return true
}

// ConnectToDevice starts a connection attempt. Only a malformed id or an
// immediate transport refusal is returned; the outcome arrives as
// ConnectionStateChanged events.
func (b *Bridge) ConnectToDevice(id string) error {
	if err := b.checkOpen("connect", id); err != nil {
		return err
	}
	return b.connections.Connect(id)
}

// DisconnectFromDevice stops the device's streams and releases the link
func (b *Bridge) DisconnectFromDevice(id string) error {
	if err := b.checkOpen("disconnect", id); err != nil {
		return err
	}
	for _, s := range b.streams.Sessions() {
		if s.DeviceID() == id {
			s.Stop()
		}
	}
	return b.connections.Disconnect(id)
}

// StartEcgStream negotiates ECG settings and starts streaming
func (b *Bridge) StartEcgStream(id string) error {
	return b.StartStream(id, device.FeatureECG)
}

// StartStream reserves the (device, feature) slot, then negotiates settings
// and streams in the background. Only InvalidArgument and Busy are returned;
// a negotiation or transport failure is logged and published as a Failed
// StreamStateChanged, and no samples are delivered for it.
func (b *Bridge) StartStream(id string, feature device.Feature) error {
	if err := b.checkOpen("stream", id); err != nil {
		return err
	}

	var session *stream.Session
	alive := func() bool { return session.State() != device.SessionCancelled }

	session, err := b.streams.Reserve(id, feature, stream.Handlers{
		OnBatch: func(batch device.SampleBatch) {
			b.dispatcher.PublishFrom(alive, event.SamplesReceived{Batch: batch})
		},
		OnState: func(state device.SessionState, err error) {
			b.dispatcher.Publish(event.StreamStateChanged{DeviceID: id, Feature: feature, State: state, Err: err})
		},
	})
	if err != nil {
		b.logger.WithError(err).WithFields(logrus.Fields{
			"device_id": id,
			"feature":   feature,
		}).Debug("Stream start rejected")
		return err
	}

	b.mu.Lock()
	if b.closed {
		b.mu.Unlock()
		session.Stop()
		return device.NewError(device.KindCancelled, "stream", id, errBridgeClosed)
	}
	ctx := b.ctx
	b.pending.Add(1)
	b.mu.Unlock()

	groutine.Go(ctx, fmt.Sprintf("negotiate-%s-%s", id, feature), func(ctx context.Context) {
		defer b.pending.Done()
		b.negotiateAndStream(ctx, session)
	})
	return nil
}

func (b *Bridge) negotiateAndStream(ctx context.Context, session *stream.Session) {
	id, feature := session.DeviceID(), session.Feature()
	fields := logrus.Fields{"device_id": id, "feature": feature}

	res, err := b.negotiator.Negotiate(ctx, id, feature)
	b.dispatcher.Publish(event.SettingsNegotiated{
		DeviceID:  id,
		Feature:   feature,
		Available: res.Available,
		Full:      res.Full,
		Config:    res.Config,
		Err:       err,
	})
	if err != nil {
		b.logger.WithError(err).WithFields(fields).Error("Stream settings negotiation failed")
		session.Fail(err)
		return
	}

	if err := session.Start(ctx, res.Config); err != nil {
		// the session was stopped while negotiating
		b.logger.WithError(err).WithFields(fields).Debug("Negotiated stream not started")
	}
}

// RequestStreamSettings runs a settings negotiation without streaming. The
// outcome is returned and also published as SettingsNegotiated.
func (b *Bridge) RequestStreamSettings(ctx context.Context, id string, feature device.Feature) (negotiate.Result, error) {
	if err := b.checkOpen("settings", id); err != nil {
		return negotiate.Result{}, err
	}
	res, err := b.negotiator.Negotiate(ctx, id, feature)
	b.dispatcher.Publish(event.SettingsNegotiated{
		DeviceID:  id,
		Feature:   feature,
		Available: res.Available,
		Full:      res.Full,
		Config:    res.Config,
		Err:       err,
	})
	return res, err
}

// StopStream cancels the live stream of a (device, feature) pair. No batch of
// it is delivered once StopStream returned.
func (b *Bridge) StopStream(id string, feature device.Feature) error {
	if err := device.ValidateID(id); err != nil {
		return err
	}
	s, ok := b.streams.Lookup(id, feature)
	if !ok {
		return device.InvalidArgument("stop stream", id, fmt.Sprintf("no %s stream", feature))
	}
	s.Stop()
	return nil
}

// Streams returns the live stream sessions
func (b *Bridge) Streams() []*stream.Session {
	return b.streams.Sessions()
}

// Close stops the search and every stream, disconnects owned devices, then
// delivers what is queued and stops the dispatcher. It is idempotent.
func (b *Bridge) Close() error {
	b.mu.Lock()
	if b.closed {
		b.mu.Unlock()
		return nil
	}
	b.closed = true
	search := b.search
	b.search = nil
	observers := b.observers
	b.observers = nil
	b.mu.Unlock()

	if search != nil {
		search.Stop()
	}
	b.streams.StopAll()
	b.cancel()
	b.pending.Wait()

	err := b.connections.DisconnectAll()
	if err != nil {
		b.logger.WithError(err).Warn("Failed to disconnect devices on close")
	}

	b.dispatcher.Stop()
	for _, unsubscribe := range observers {
		unsubscribe()
	}
	return err
}

var errBridgeClosed = errors.New("bridge is closed")

func (b *Bridge) checkOpen(op, id string) error {
	if err := device.ValidateID(id); err != nil {
		return err
	}
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.closed {
		return device.NewError(device.KindCancelled, op, id, errBridgeClosed)
	}
	return nil
}
