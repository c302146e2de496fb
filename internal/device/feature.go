package device

import (
	"fmt"
	"strings"
)

// Feature identifies a class of sensor data stream
type Feature int

const (
	FeatureECG Feature = iota
	FeaturePPG
	FeatureACC
	FeaturePPI
	FeatureGyro
	FeatureMagnetometer
	FeatureHR
)

var featureNames = map[Feature]string{
	FeatureECG:          "ecg",
	FeaturePPG:          "ppg",
	FeatureACC:          "acc",
	FeaturePPI:          "ppi",
	FeatureGyro:         "gyro",
	FeatureMagnetometer: "magnetometer",
	FeatureHR:           "hr",
}

func (f Feature) String() string {
	if name, ok := featureNames[f]; ok {
		return name
	}
	return fmt.Sprintf("Feature(%d)", int(f))
}

// MarshalText renders the feature name in JSON output
func (f Feature) MarshalText() ([]byte, error) {
	return []byte(f.String()), nil
}

// ParseFeature converts a feature name (case-insensitive) into a Feature
func ParseFeature(name string) (Feature, error) {
	n := strings.ToLower(strings.TrimSpace(name))
	for f, fname := range featureNames {
		if fname == n {
			return f, nil
		}
	}
	return 0, fmt.Errorf("unknown feature %q", name)
}

// Features lists all known features in declaration order
func Features() []Feature {
	return []Feature{FeatureECG, FeaturePPG, FeatureACC, FeaturePPI, FeatureGyro, FeatureMagnetometer, FeatureHR}
}
