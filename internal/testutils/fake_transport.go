package testutils

import (
	"context"
	"fmt"
	"sync"
	"time"

	mapset "github.com/deckarep/golang-set/v2"
	"github.com/srg/sensorbridge/internal/device"
	"github.com/srg/sensorbridge/internal/event"
)

type settingsReply struct {
	settings device.Settings
	err      error
	delay    time.Duration
}

// StreamCall records one StartStreaming invocation
type StreamCall struct {
	DeviceID string
	Feature  device.Feature
	Config   device.Configuration
}

// FakeTransport is a scriptable in-memory device.Transport.
//
// Usage:
//
//	tr := testutils.NewFakeTransport().
//	    WithDevices(device.Descriptor{ID: "A1B2C3D4", Name: "Polar H10 A1B2C3D4"}).
//	    WithAvailableSettings(device.FeatureECG, device.EmptySettings().With(device.SettingSampleRate, 130)).
//	    WithStreamBatches(device.FeatureECG, batch1, batch2)
type FakeTransport struct {
	mu sync.Mutex

	sink event.Sink

	devices      []device.Descriptor
	lateDevices  []device.Descriptor
	searchErr    error
	searchEnds   bool
	searchPeriod time.Duration

	known         map[string]bool
	connectErr    error
	connectEvents []event.Event

	available map[device.Feature]settingsReply
	full      map[device.Feature]settingsReply

	batches     map[device.Feature][]device.SampleBatch
	lateBatches map[device.Feature][]device.SampleBatch
	batchPeriod time.Duration
	streamErr   error
	streamEnds  bool

	searches    int
	bounded     int
	connects    []string
	disconnects []string
	streams     []StreamCall
	settingsQs  int
	streaming   chan StreamCall
}

// NewFakeTransport creates a transport that knows no devices and whose
// searches and streams run until cancelled.
func NewFakeTransport() *FakeTransport {
	return &FakeTransport{
		sink:        event.Discard,
		known:       make(map[string]bool),
		available:   make(map[device.Feature]settingsReply),
		full:        make(map[device.Feature]settingsReply),
		batches:     make(map[device.Feature][]device.SampleBatch),
		lateBatches: make(map[device.Feature][]device.SampleBatch),
		streaming:   make(chan StreamCall, 16),
	}
}

// WithDevices adds devices reported by every search; their ids become connectable
func (f *FakeTransport) WithDevices(devices ...device.Descriptor) *FakeTransport {
	f.devices = append(f.devices, devices...)
	for _, d := range devices {
		f.known[d.ID] = true
	}
	return f
}

// WithLateDevices adds devices reported after the search was cancelled, the
// way a transport racing a cancellation would.
func (f *FakeTransport) WithLateDevices(devices ...device.Descriptor) *FakeTransport {
	f.lateDevices = append(f.lateDevices, devices...)
	return f
}

// WithSearchPeriod repeats the device list every period until cancelled
func (f *FakeTransport) WithSearchPeriod(period time.Duration) *FakeTransport {
	f.searchPeriod = period
	return f
}

// WithSearchError makes searches fail after reporting the devices
func (f *FakeTransport) WithSearchError(err error) *FakeTransport {
	f.searchErr = err
	return f
}

// WithCompletingSearch makes searches end on their own after reporting the devices
func (f *FakeTransport) WithCompletingSearch() *FakeTransport {
	f.searchEnds = true
	return f
}

// WithKnownDevice makes id connectable without being discovered
func (f *FakeTransport) WithKnownDevice(id string) *FakeTransport {
	f.known[id] = true
	return f
}

// WithConnectEvents adds events published after every successful connection,
// e.g. battery level or device information
func (f *FakeTransport) WithConnectEvents(events ...event.Event) *FakeTransport {
	f.connectEvents = append(f.connectEvents, events...)
	return f
}

// WithFeatures reports the streaming features of every connected device. HR
// also reports the heart rate feature ready.
func (f *FakeTransport) WithFeatures(features ...device.Feature) *FakeTransport {
	set := mapset.NewSet[device.Feature]()
	for _, feature := range features {
		if feature == device.FeatureHR {
			f.connectEvents = append(f.connectEvents, hrReady{})
			continue
		}
		set.Add(feature)
	}
	f.connectEvents = append(f.connectEvents, featuresReady{features: set})
	return f
}

// placeholders resolved to the connecting device id
type featuresReady struct{ features mapset.Set[device.Feature] }
type hrReady struct{}

func (featuresReady) EventName() string { return "streaming_features_ready" }
func (hrReady) EventName() string       { return "hr_feature_ready" }

// WithConnectError makes every connection request fail with err
func (f *FakeTransport) WithConnectError(err error) *FakeTransport {
	f.connectErr = err
	return f
}

// WithAvailableSettings scripts the available-settings query of a feature
func (f *FakeTransport) WithAvailableSettings(feature device.Feature, s device.Settings) *FakeTransport {
	f.available[feature] = settingsReply{settings: s}
	return f
}

// WithFullSettings scripts the full-settings query of a feature
func (f *FakeTransport) WithFullSettings(feature device.Feature, s device.Settings) *FakeTransport {
	f.full[feature] = settingsReply{settings: s}
	return f
}

// WithAvailableSettingsError makes the available-settings query fail
func (f *FakeTransport) WithAvailableSettingsError(feature device.Feature, err error) *FakeTransport {
	f.available[feature] = settingsReply{err: err}
	return f
}

// WithFullSettingsDelay delays the full-settings query reply
func (f *FakeTransport) WithFullSettingsDelay(feature device.Feature, delay time.Duration) *FakeTransport {
	reply := f.full[feature]
	reply.delay = delay
	f.full[feature] = reply
	return f
}

// WithStreamBatches scripts the batches delivered when a feature stream starts
func (f *FakeTransport) WithStreamBatches(feature device.Feature, batches ...device.SampleBatch) *FakeTransport {
	f.batches[feature] = append(f.batches[feature], batches...)
	return f
}

// WithLateBatches scripts batches delivered after the stream was cancelled
func (f *FakeTransport) WithLateBatches(feature device.Feature, batches ...device.SampleBatch) *FakeTransport {
	f.lateBatches[feature] = append(f.lateBatches[feature], batches...)
	return f
}

// WithBatchPeriod spaces scripted batches by period
func (f *FakeTransport) WithBatchPeriod(period time.Duration) *FakeTransport {
	f.batchPeriod = period
	return f
}

// WithStreamError makes streams fail after delivering their batches
func (f *FakeTransport) WithStreamError(err error) *FakeTransport {
	f.streamErr = err
	return f
}

// WithCompletingStream makes streams end on their own after delivering their batches
func (f *FakeTransport) WithCompletingStream() *FakeTransport {
	f.streamEnds = true
	return f
}

// SetEventSink sets where connection events are published
func (f *FakeTransport) SetEventSink(sink event.Sink) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if sink == nil {
		sink = event.Discard
	}
	f.sink = sink
}

func (f *FakeTransport) publish(ev event.Event) {
	f.mu.Lock()
	sink := f.sink
	f.mu.Unlock()
	sink.Publish(ev)
}

// Search implements device.Searcher
func (f *FakeTransport) Search(ctx context.Context, handler func(device.Descriptor)) error {
	f.mu.Lock()
	f.searches++
	if _, ok := ctx.Deadline(); ok {
		f.bounded++
	}
	f.mu.Unlock()

	for {
		for _, d := range f.devices {
			if ctx.Err() != nil {
				break
			}
			handler(d)
		}
		if f.searchErr != nil {
			return f.searchErr
		}
		if f.searchEnds {
			return nil
		}
		if f.searchPeriod <= 0 {
			break
		}
		select {
		case <-ctx.Done():
		case <-time.After(f.searchPeriod):
			continue
		}
		break
	}

	<-ctx.Done()
	for _, d := range f.lateDevices {
		handler(d)
	}
	return ctx.Err()
}

// ConnectDevice implements device.Connector. Known devices move to Connected
// through Connecting.
func (f *FakeTransport) ConnectDevice(id string) error {
	if err := device.ValidateID(id); err != nil {
		return err
	}

	f.mu.Lock()
	f.connects = append(f.connects, id)
	known, connectErr := f.known[id], f.connectErr
	f.mu.Unlock()

	if !known {
		return device.InvalidArgument("connect", id, "unknown device")
	}

	f.publish(event.ConnectionStateChanged{DeviceID: id, State: device.Connecting})
	if connectErr != nil {
		f.publish(event.ConnectionStateChanged{DeviceID: id, State: device.Disconnected, Err: connectErr})
		return nil
	}
	f.publish(event.ConnectionStateChanged{DeviceID: id, State: device.Connected})

	f.mu.Lock()
	events := append([]event.Event(nil), f.connectEvents...)
	f.mu.Unlock()
	for _, ev := range events {
		switch e := ev.(type) {
		case featuresReady:
			f.publish(event.StreamingFeaturesReady{DeviceID: id, Features: e.features.Clone()})
		case hrReady:
			f.publish(event.HRFeatureReady{DeviceID: id})
		default:
			f.publish(ev)
		}
	}
	return nil
}

// DisconnectDevice implements device.Connector
func (f *FakeTransport) DisconnectDevice(id string) error {
	if err := device.ValidateID(id); err != nil {
		return err
	}

	f.mu.Lock()
	f.disconnects = append(f.disconnects, id)
	f.mu.Unlock()

	f.publish(event.ConnectionStateChanged{DeviceID: id, State: device.Disconnected})
	return nil
}

// RequestAvailableSettings implements device.SettingsSource
func (f *FakeTransport) RequestAvailableSettings(ctx context.Context, id string, feature device.Feature) (device.Settings, error) {
	return f.reply(ctx, f.available, feature)
}

// RequestFullSettings implements device.SettingsSource
func (f *FakeTransport) RequestFullSettings(ctx context.Context, id string, feature device.Feature) (device.Settings, error) {
	return f.reply(ctx, f.full, feature)
}

func (f *FakeTransport) reply(ctx context.Context, replies map[device.Feature]settingsReply, feature device.Feature) (device.Settings, error) {
	f.mu.Lock()
	f.settingsQs++
	r, ok := replies[feature]
	f.mu.Unlock()

	if !ok {
		return device.EmptySettings(), fmt.Errorf("%s: %w", feature, device.ErrUnsupported)
	}
	if r.delay > 0 {
		select {
		case <-time.After(r.delay):
		case <-ctx.Done():
			return device.EmptySettings(), ctx.Err()
		}
	}
	if r.err != nil {
		return device.EmptySettings(), r.err
	}
	return r.settings, nil
}

// StartStreaming implements device.Streamer
func (f *FakeTransport) StartStreaming(ctx context.Context, id string, feature device.Feature, cfg device.Configuration, handler func(device.SampleBatch)) error {
	call := StreamCall{DeviceID: id, Feature: feature, Config: cfg}
	f.mu.Lock()
	f.streams = append(f.streams, call)
	batches := f.batches[feature]
	late := f.lateBatches[feature]
	f.mu.Unlock()

	select {
	case f.streaming <- call:
	default:
	}

	for _, b := range batches {
		if f.batchPeriod > 0 {
			select {
			case <-time.After(f.batchPeriod):
			case <-ctx.Done():
			}
		}
		if ctx.Err() != nil {
			break
		}
		handler(b)
	}
	if ctx.Err() == nil {
		if f.streamErr != nil {
			return f.streamErr
		}
		if f.streamEnds {
			return nil
		}
	}

	<-ctx.Done()
	for _, b := range late {
		handler(b)
	}
	return ctx.Err()
}

// StreamStarted returns a channel receiving each StartStreaming call
func (f *FakeTransport) StreamStarted() <-chan StreamCall {
	return f.streaming
}

// Searches returns the number of Search calls
func (f *FakeTransport) Searches() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.searches
}

// BoundedSearches returns the number of Search calls whose context carried a deadline
func (f *FakeTransport) BoundedSearches() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.bounded
}

// Connects returns the ids passed to ConnectDevice that passed validation
func (f *FakeTransport) Connects() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]string(nil), f.connects...)
}

// Disconnects returns the ids passed to DisconnectDevice that passed validation
func (f *FakeTransport) Disconnects() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]string(nil), f.disconnects...)
}

// Streams returns all StartStreaming calls
func (f *FakeTransport) Streams() []StreamCall {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]StreamCall(nil), f.streams...)
}

// SettingsQueries returns the number of settings queries
func (f *FakeTransport) SettingsQueries() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.settingsQs
}
