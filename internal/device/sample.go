package device

import "time"

// SampleBatch is one frame of readings delivered by an active stream.
// Samples keep the order of the frame; for ECG they are microvolts, for
// multi-axis features they are interleaved x,y,z.
type SampleBatch struct {
	DeviceID    string    `json:"device_id"`
	Feature     Feature   `json:"feature"`
	TimestampNs uint64    `json:"timestamp_ns"` // sensor clock of the last sample
	ReceivedAt  time.Time `json:"received_at"`
	Samples     []int32   `json:"samples"`
}
