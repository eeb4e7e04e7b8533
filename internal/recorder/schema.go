package recorder

import "fmt"

// Tier selects how many columns a trip log carries. Each tier extends the
// previous one.
type Tier int

const (
	TierOBD Tier = iota + 1
	TierMotion
	TierLane
)

// Column names shared with the monitor when building records.
const (
	FieldTimestamp       = "timestamp"
	FieldSpeedKph        = "speed_kph"
	FieldThrottlePct     = "throttle_pct"
	FieldRPM             = "rpm"
	FieldEngineLoad      = "engine_load"
	FieldAccelCalculated = "accel_calculated"
	FieldEventType       = "event_type"
	FieldScore           = "score"
	FieldJerk            = "jerk"
)

var (
	obdFields = []string{
		FieldTimestamp, FieldSpeedKph, FieldThrottlePct, FieldRPM,
		FieldEngineLoad, FieldAccelCalculated, FieldEventType, FieldScore,
	}
	motionFields = []string{
		"accel_x", "accel_y", "accel_z", FieldJerk,
		"latitude", "longitude", "gps_speed", "gps_bearing",
	}
	laneFields = []string{
		"lane_center_offset", "lane_confidence", "lane_status", "video_frame",
	}
)

// Schema returns the ordered column list for the tier.
func (t Tier) Schema() []string {
	schema := append([]string{}, obdFields...)
	if t >= TierMotion {
		schema = append(schema, motionFields...)
	}
	if t >= TierLane {
		schema = append(schema, laneFields...)
	}
	return schema
}

func (t Tier) Valid() bool {
	return t >= TierOBD && t <= TierLane
}

func (t Tier) String() string {
	return fmt.Sprintf("tier%d", int(t))
}
