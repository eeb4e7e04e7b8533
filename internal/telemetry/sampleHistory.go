package telemetry

// DefaultHistorySize is the number of speed and acceleration points kept.
const DefaultHistorySize = 10

// History is a fixed-capacity ring buffer. Once full, each Push evicts the
// oldest entry. It is not safe for concurrent use.
type History[T any] struct {
	data  []T
	head  int
	count int
}

func NewHistory[T any](capacity int) *History[T] {
	if capacity < 1 {
		capacity = 1
	}
	return &History[T]{data: make([]T, capacity)}
}

func (h *History[T]) Push(v T) {
	h.data[h.head] = v
	h.head = (h.head + 1) % len(h.data)
	if h.count < len(h.data) {
		h.count++
	}
}

func (h *History[T]) Len() int { return h.count }

func (h *History[T]) Cap() int { return len(h.data) }

// Last returns the newest entry.
func (h *History[T]) Last() (T, bool) {
	var zero T
	if h.count == 0 {
		return zero, false
	}
	return h.data[(h.head-1+len(h.data))%len(h.data)], true
}

// Items returns the entries oldest first, as a new slice.
func (h *History[T]) Items() []T {
	out := make([]T, h.count)
	if h.count < len(h.data) {
		copy(out, h.data[:h.count])
		return out
	}
	n := copy(out, h.data[h.head:])
	copy(out[n:], h.data[:h.head])
	return out
}

// Tail returns up to n of the newest entries, oldest first.
func (h *History[T]) Tail(n int) []T {
	items := h.Items()
	if n < len(items) {
		return items[len(items)-n:]
	}
	return items
}

func (h *History[T]) Clear() {
	clear(h.data)
	h.head = 0
	h.count = 0
}

// Point is one (timestamp, value) pair, timestamp in monotonic seconds.
type Point struct {
	T float64
	V float64
}

// SampleHistory holds (t, speed) or (t, acceleration) points in time order.
type SampleHistory struct {
	*History[Point]
}

func NewSampleHistory(capacity int) SampleHistory {
	return SampleHistory{NewHistory[Point](capacity)}
}

// Add appends p unless it is older than the newest point, keeping timestamps
// non-decreasing. It reports whether p was stored.
func (s SampleHistory) Add(p Point) bool {
	if last, ok := s.Last(); ok && p.T < last.T {
		return false
	}
	s.Push(p)
	return true
}
