package telemetry

const kphToMps = 1 / 3.6

// Acceleration returns the finite-difference acceleration in m/s² between the
// last two (t, speed_kph) points. Fewer than two points or a non-positive
// time step yields 0.
func Acceleration(points []Point) float64 {
	return derivative(points, kphToMps)
}

// Jerk returns the finite-difference jerk in m/s³ between the last two
// (t, acceleration) points, with the same degenerate-input policy.
func Jerk(points []Point) float64 {
	return derivative(points, 1)
}

func derivative(points []Point, scale float64) float64 {
	if len(points) < 2 {
		return 0
	}
	prev, cur := points[len(points)-2], points[len(points)-1]
	dt := cur.T - prev.T
	if dt <= 0 {
		return 0
	}
	return (cur.V*scale - prev.V*scale) / dt
}
