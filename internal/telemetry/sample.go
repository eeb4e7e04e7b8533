package telemetry

import "time"

// Signal names one value the acquisition loop polls from the vehicle.
type Signal string

const (
	SignalSpeed      Signal = "speed"
	SignalRPM        Signal = "rpm"
	SignalThrottle   Signal = "throttle"
	SignalEngineLoad Signal = "engine_load"
)

// Signals is the poll order used on every tick.
var Signals = []Signal{SignalSpeed, SignalRPM, SignalThrottle, SignalEngineLoad}

// LinkState describes the health of the connection to the signal source.
type LinkState string

const (
	LinkDisconnected LinkState = "disconnected"
	LinkConnected    LinkState = "connected"
	LinkDegraded     LinkState = "degraded"
)

// Sample is one poll of the vehicle bus.
type Sample struct {
	// Seq increases by one per published sample, starting at 1.
	Seq uint64 `json:"seq"`
	// Timestamp is monotonic seconds since the acquisition loop started.
	Timestamp float64 `json:"t"`
	// Time is the wall clock time the sample was taken.
	Time time.Time `json:"time"`

	SpeedKph    Reading `json:"speed_kph"`
	RPM         Reading `json:"rpm"`
	ThrottlePct Reading `json:"throttle_pct"`
	EngineLoad  Reading `json:"engine_load"`
}

// Snapshot is the latest sample plus the metrics derived from the history
// leading up to it. It holds no references, so copies never alias.
type Snapshot struct {
	Sample

	AccelCalculated Reading   `json:"accel_calculated"` // m/s²
	Jerk            Reading   `json:"jerk"`             // m/s³
	Link            LinkState `json:"link"`
}

// Moving reports whether the vehicle speed is known and above thresholdKph.
func (s Snapshot) Moving(thresholdKph float64) bool {
	return s.SpeedKph.Valid && s.SpeedKph.Value > thresholdKph
}

// Set stores r into the field matching signal. Unknown signals are ignored.
func (s *Sample) Set(signal Signal, r Reading) {
	switch signal {
	case SignalSpeed:
		s.SpeedKph = r
	case SignalRPM:
		s.RPM = r
	case SignalThrottle:
		s.ThrottlePct = r
	case SignalEngineLoad:
		s.EngineLoad = r
	}
}
