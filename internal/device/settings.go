package device

import (
	"encoding/json"
	"fmt"
	"sort"
	"strings"

	orderedmap "github.com/wk8/go-ordered-map/v2"
)

// SettingType is one configuration dimension of a measurement stream
type SettingType byte

const (
	SettingSampleRate SettingType = iota
	SettingResolution
	SettingRange
	SettingRangeMilliUnit
	SettingChannels
	SettingFactor
)

var settingNames = map[SettingType]string{
	SettingSampleRate:     "sample_rate",
	SettingResolution:     "resolution",
	SettingRange:          "range",
	SettingRangeMilliUnit: "range_milliunit",
	SettingChannels:       "channels",
	SettingFactor:         "factor",
}

func (t SettingType) String() string {
	if name, ok := settingNames[t]; ok {
		return name
	}
	return fmt.Sprintf("setting(%d)", byte(t))
}

// MarshalText renders the dimension name in JSON output
func (t SettingType) MarshalText() ([]byte, error) {
	return []byte(t.String()), nil
}

// ParseSettingType converts a dimension name into a SettingType
func ParseSettingType(name string) (SettingType, error) {
	n := strings.ToLower(strings.TrimSpace(name))
	if n == "rate" {
		return SettingSampleRate, nil
	}
	for t, tname := range settingNames {
		if tname == n {
			return t, nil
		}
	}
	return 0, fmt.Errorf("unknown setting %q", name)
}

// Settings is a settings candidate: for every dimension the ordered set of
// admissible values. Values are immutable; With returns a modified copy.
// The zero value is the empty candidate.
type Settings struct {
	m *orderedmap.OrderedMap[SettingType, []uint32]
}

// EmptySettings is the sentinel substituted for a failed settings query
func EmptySettings() Settings {
	return Settings{}
}

// NewSettings builds a candidate from a dimension -> values map. Dimensions are
// kept in ascending SettingType order.
func NewSettings(values map[SettingType][]uint32) Settings {
	types := make([]SettingType, 0, len(values))
	for t := range values {
		types = append(types, t)
	}
	sort.Slice(types, func(i, j int) bool { return types[i] < types[j] })

	s := EmptySettings()
	for _, t := range types {
		s = s.With(t, values[t]...)
	}
	return s
}

// With returns a copy of s where dimension t admits values (deduplicated,
// ascending). Adding a dimension without values is a no-op.
func (s Settings) With(t SettingType, values ...uint32) Settings {
	if len(values) == 0 {
		return s
	}

	set := make(map[uint32]struct{}, len(values))
	merged := make([]uint32, 0, len(values))
	for _, v := range append(s.Values(t), values...) {
		if _, dup := set[v]; dup {
			continue
		}
		set[v] = struct{}{}
		merged = append(merged, v)
	}
	sort.Slice(merged, func(i, j int) bool { return merged[i] < merged[j] })

	out := orderedmap.New[SettingType, []uint32]()
	if s.m != nil {
		for pair := s.m.Oldest(); pair != nil; pair = pair.Next() {
			out.Set(pair.Key, pair.Value)
		}
	}
	out.Set(t, merged)
	return Settings{m: out}
}

// Len returns the number of dimensions
func (s Settings) Len() int {
	if s.m == nil {
		return 0
	}
	return s.m.Len()
}

// IsEmpty reports whether the candidate admits nothing at all
func (s Settings) IsEmpty() bool {
	return s.Len() == 0
}

// Values returns a copy of the admissible values for t, ascending
func (s Settings) Values(t SettingType) []uint32 {
	if s.m == nil {
		return nil
	}
	v, ok := s.m.Get(t)
	if !ok {
		return nil
	}
	out := make([]uint32, len(v))
	copy(out, v)
	return out
}

// Dimensions returns the dimensions in insertion order
func (s Settings) Dimensions() []SettingType {
	if s.m == nil {
		return nil
	}
	out := make([]SettingType, 0, s.m.Len())
	for pair := s.m.Oldest(); pair != nil; pair = pair.Next() {
		out = append(out, pair.Key)
	}
	return out
}

// MaxSettings resolves every dimension independently to its highest
// admissible value. It is only meaningful for a non-empty candidate.
func (s Settings) MaxSettings() Configuration {
	cfg := Configuration{}
	if s.m == nil {
		return cfg
	}
	for pair := s.m.Oldest(); pair != nil; pair = pair.Next() {
		if len(pair.Value) == 0 {
			continue
		}
		cfg = cfg.With(pair.Key, pair.Value[len(pair.Value)-1])
	}
	return cfg
}

func (s Settings) String() string {
	if s.m == nil {
		return "{}"
	}
	parts := make([]string, 0, s.m.Len())
	for pair := s.m.Oldest(); pair != nil; pair = pair.Next() {
		parts = append(parts, fmt.Sprintf("%s:%v", pair.Key, pair.Value))
	}
	return "{" + strings.Join(parts, " ") + "}"
}

// MarshalJSON keeps dimension order in the output object
func (s Settings) MarshalJSON() ([]byte, error) {
	out := orderedmap.New[string, []uint32]()
	if s.m != nil {
		for pair := s.m.Oldest(); pair != nil; pair = pair.Next() {
			out.Set(pair.Key.String(), pair.Value)
		}
	}
	return json.Marshal(out)
}

// Configuration is one resolved value per dimension, derived from a Settings
// candidate and consumed by a stream start.
type Configuration struct {
	m *orderedmap.OrderedMap[SettingType, uint32]
}

// With returns a copy of c with dimension t set to v
func (c Configuration) With(t SettingType, v uint32) Configuration {
	out := orderedmap.New[SettingType, uint32]()
	if c.m != nil {
		for pair := c.m.Oldest(); pair != nil; pair = pair.Next() {
			out.Set(pair.Key, pair.Value)
		}
	}
	out.Set(t, v)
	return Configuration{m: out}
}

// Get returns the value chosen for t
func (c Configuration) Get(t SettingType) (uint32, bool) {
	if c.m == nil {
		return 0, false
	}
	return c.m.Get(t)
}

// Len returns the number of resolved dimensions
func (c Configuration) Len() int {
	if c.m == nil {
		return 0
	}
	return c.m.Len()
}

// IsEmpty reports whether no dimension is resolved
func (c Configuration) IsEmpty() bool {
	return c.Len() == 0
}

// Each visits the dimensions in order
func (c Configuration) Each(fn func(t SettingType, v uint32)) {
	if c.m == nil {
		return
	}
	for pair := c.m.Oldest(); pair != nil; pair = pair.Next() {
		fn(pair.Key, pair.Value)
	}
}

// AsMap returns a plain copy, handy for comparisons
func (c Configuration) AsMap() map[SettingType]uint32 {
	out := make(map[SettingType]uint32, c.Len())
	c.Each(func(t SettingType, v uint32) { out[t] = v })
	return out
}

func (c Configuration) String() string {
	parts := make([]string, 0, c.Len())
	c.Each(func(t SettingType, v uint32) {
		parts = append(parts, fmt.Sprintf("%s:%d", t, v))
	})
	return "{" + strings.Join(parts, " ") + "}"
}

// MarshalJSON keeps dimension order in the output object
func (c Configuration) MarshalJSON() ([]byte, error) {
	out := orderedmap.New[string, uint32]()
	c.Each(func(t SettingType, v uint32) { out.Set(t.String(), v) })
	return json.Marshal(out)
}
