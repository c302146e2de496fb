// Package registry observes adapter power state and per-device connection
// state. It never drives transitions; it only records what the transport and
// the connection manager report.
package registry

import (
	"sort"
	"sync"
	"sync/atomic"

	"github.com/cornelk/hashmap"
	mapset "github.com/deckarep/golang-set/v2"
	"github.com/sirupsen/logrus"
	"github.com/srg/sensorbridge/internal/device"
	"github.com/srg/sensorbridge/internal/event"
)

// PowerState of the BLE adapter as last reported
type PowerState int

const (
	PowerUnknown PowerState = iota
	PowerOn
	PowerOff
)

func (p PowerState) String() string {
	switch p {
	case PowerOn:
		return "on"
	case PowerOff:
		return "off"
	default:
		return "unknown"
	}
}

// Record is a snapshot of everything observed about one device
type Record struct {
	DeviceID     string                   `json:"device_id"`
	Address      string                   `json:"address,omitempty"`
	State        device.ConnectionState   `json:"state"`
	Transitions  []device.ConnectionState `json:"transitions"`
	BatteryLevel *int                     `json:"battery_level,omitempty"`
	Info         map[string]string        `json:"info,omitempty"`
	Features     []device.Feature         `json:"features,omitempty"`
	HRReady      bool                     `json:"hr_ready"`
	FTPReady     bool                     `json:"ftp_ready,omitempty"`
	SDKMode      bool                     `json:"sdk_mode,omitempty"`
}

type entry struct {
	mu       sync.RWMutex
	rec      Record
	features mapset.Set[device.Feature]
}

// Registry tracks power and connection state of known devices
type Registry struct {
	power   atomic.Int32
	devices *hashmap.Map[string, *entry]
	logger  *logrus.Logger
}

// New creates an empty registry
func New(logger *logrus.Logger) *Registry {
	if logger == nil {
		logger = logrus.New()
	}
	return &Registry{
		devices: hashmap.New[string, *entry](),
		logger:  logger,
	}
}

// Attach registers the registry as an observer on d and returns the unregister func
func (r *Registry) Attach(d *event.Dispatcher) func() {
	return d.Subscribe(r.Observe)
}

// Observe applies one event to the registry. Unrelated events are ignored.
func (r *Registry) Observe(ev event.Event) {
	switch e := ev.(type) {
	case event.PowerStateChanged:
		if e.Powered {
			r.power.Store(int32(PowerOn))
		} else {
			r.power.Store(int32(PowerOff))
		}
	case event.ConnectionStateChanged:
		r.observeConnection(e)
	case event.BatteryLevelReceived:
		r.update(e.DeviceID, func(en *entry) {
			level := e.Level
			en.rec.BatteryLevel = &level
		})
	case event.DeviceInfoReceived:
		r.update(e.DeviceID, func(en *entry) {
			key := e.Name
			if key == "" {
				key = e.UUID
			}
			en.rec.Info[key] = e.Value
		})
	case event.StreamingFeaturesReady:
		r.update(e.DeviceID, func(en *entry) {
			if e.Features != nil {
				en.features = en.features.Union(e.Features)
			}
		})
	case event.HRFeatureReady:
		r.update(e.DeviceID, func(en *entry) { en.rec.HRReady = true })
	case event.FtpFeatureReady:
		r.update(e.DeviceID, func(en *entry) { en.rec.FTPReady = true })
	case event.SDKModeAvailable:
		r.update(e.DeviceID, func(en *entry) { en.rec.SDKMode = true })
	}
}

func (r *Registry) observeConnection(e event.ConnectionStateChanged) {
	r.update(e.DeviceID, func(en *entry) {
		if e.Address != "" {
			en.rec.Address = e.Address
		}
		if len(en.rec.Transitions) > 0 && en.rec.State == e.State {
			return
		}
		en.rec.State = e.State
		en.rec.Transitions = append(en.rec.Transitions, e.State)
		if e.State == device.Disconnected {
			en.rec.HRReady = false
			en.rec.FTPReady = false
			en.rec.SDKMode = false
			en.features.Clear()
		}
		r.logger.WithFields(logrus.Fields{
			"device_id": e.DeviceID,
			"state":     e.State,
		}).Debug("Connection state recorded")
	})
}

func (r *Registry) update(deviceID string, fn func(en *entry)) {
	if deviceID == "" {
		return
	}
	en, _ := r.devices.GetOrInsert(deviceID, newEntry(deviceID))
	en.mu.Lock()
	defer en.mu.Unlock()
	fn(en)
}

func newEntry(deviceID string) *entry {
	return &entry{
		rec: Record{
			DeviceID: deviceID,
			State:    device.Disconnected,
			Info:     make(map[string]string),
		},
		features: mapset.NewSet[device.Feature](),
	}
}

// Power returns the last reported adapter power state
func (r *Registry) Power() PowerState {
	return PowerState(r.power.Load())
}

// State returns the connection state of a device; unknown devices are Disconnected
func (r *Registry) State(deviceID string) device.ConnectionState {
	en, ok := r.devices.Get(deviceID)
	if !ok {
		return device.Disconnected
	}
	en.mu.RLock()
	defer en.mu.RUnlock()
	return en.rec.State
}

// Transitions returns the observed connection transitions of a device
func (r *Registry) Transitions(deviceID string) []device.ConnectionState {
	en, ok := r.devices.Get(deviceID)
	if !ok {
		return nil
	}
	en.mu.RLock()
	defer en.mu.RUnlock()
	out := make([]device.ConnectionState, len(en.rec.Transitions))
	copy(out, en.rec.Transitions)
	return out
}

// Known reports whether anything was observed for the device
func (r *Registry) Known(deviceID string) bool {
	_, ok := r.devices.Get(deviceID)
	return ok
}

// Lookup returns a snapshot of a device record
func (r *Registry) Lookup(deviceID string) (Record, bool) {
	en, ok := r.devices.Get(deviceID)
	if !ok {
		return Record{}, false
	}
	return en.snapshot(), true
}

// Snapshot returns all device records
func (r *Registry) Snapshot() []Record {
	out := make([]Record, 0, r.devices.Len())
	r.devices.Range(func(_ string, en *entry) bool {
		out = append(out, en.snapshot())
		return true
	})
	return out
}

func (en *entry) snapshot() Record {
	en.mu.RLock()
	defer en.mu.RUnlock()

	rec := en.rec
	rec.Transitions = append([]device.ConnectionState(nil), en.rec.Transitions...)
	rec.Info = make(map[string]string, len(en.rec.Info))
	for k, v := range en.rec.Info {
		rec.Info[k] = v
	}
	if en.rec.BatteryLevel != nil {
		level := *en.rec.BatteryLevel
		rec.BatteryLevel = &level
	}
	rec.Features = en.features.ToSlice()
	sort.Slice(rec.Features, func(i, j int) bool { return rec.Features[i] < rec.Features[j] })
	return rec
}
