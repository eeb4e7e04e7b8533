package scoring

import (
	"time"

	"sleepywoodpecker/carmonitor/internal/telemetry"
)

// Event classifies one tick of driving.
type Event string

const (
	EventNormal          Event = "normal"
	EventHarshBrake      Event = "harsh_brake"
	EventAggressiveAccel Event = "aggressive_accel"
	EventSpeeding        Event = "speeding"
)

const (
	MaxScore = 100.0

	// ScoreHistorySize bounds the history used for the average score.
	ScoreHistorySize = 100

	harshBrakePenalty      = 2.0
	aggressiveAccelPenalty = 1.5
	speedingPenalty        = 0.5
)

// Config holds the scoring thresholds. Zero fields are not defaulted here;
// use DefaultConfig as the starting point.
type Config struct {
	HarshBrakeThreshold      float64 // m/s², negative
	AggressiveAccelThreshold float64 // m/s²
	SpeedingThreshold        float64 // kph
	// RecoveryPerTick is added after each normal tick. At 10 Hz the default
	// heals one point in ten seconds of quiet driving.
	RecoveryPerTick float64
}

func DefaultConfig() Config {
	return Config{
		HarshBrakeThreshold:      -5.0,
		AggressiveAccelThreshold: 3.0,
		SpeedingThreshold:        120,
		RecoveryPerTick:          0.01,
	}
}

// Summary is the scoring state at a point in the trip.
type Summary struct {
	CurrentScore         float64       `json:"current_score"`
	AverageScore         float64       `json:"average_score"`
	Grade                string        `json:"grade"`
	HarshBrakeCount      int           `json:"harsh_braking_events"`
	AggressiveAccelCount int           `json:"aggressive_accel_events"`
	SpeedingCount        int           `json:"speeding_events"`
	TotalEvents          int           `json:"total_events"`
	Duration             time.Duration `json:"trip_duration"`
}

// Scorer keeps a running driver score in [0, 100]. It is owned by a single
// goroutine and does no locking.
type Scorer struct {
	cfg Config
	now func() time.Time

	score                float64
	harshBrakeCount      int
	aggressiveAccelCount int
	speedingCount        int
	history              *telemetry.History[float64]
	startTime            time.Time
}

func NewScorer(cfg Config) *Scorer {
	s := &Scorer{
		cfg:     cfg,
		now:     time.Now,
		history: telemetry.NewHistory[float64](ScoreHistorySize),
	}
	s.Reset()
	return s
}

// Reset starts a new trip: full score, zero counters, empty history.
func (s *Scorer) Reset() {
	s.score = MaxScore
	s.harshBrakeCount = 0
	s.aggressiveAccelCount = 0
	s.speedingCount = 0
	s.history.Clear()
	s.startTime = s.now()
}

// Update scores one tick and returns the new score and the tick's event.
// Braking outranks acceleration; speeding only names the event when neither
// fired, but always adds its penalty.
func (s *Scorer) Update(speedKph, accel float64) (float64, Event) {
	event := EventNormal
	penalty := 0.0

	if accel < s.cfg.HarshBrakeThreshold {
		s.harshBrakeCount++
		event = EventHarshBrake
		penalty = harshBrakePenalty
	} else if accel > s.cfg.AggressiveAccelThreshold {
		s.aggressiveAccelCount++
		event = EventAggressiveAccel
		penalty = aggressiveAccelPenalty
	}

	if speedKph > s.cfg.SpeedingThreshold {
		s.speedingCount++
		if event == EventNormal {
			event = EventSpeeding
		}
		penalty += speedingPenalty
	}

	s.score = max(0, s.score-penalty)

	if event == EventNormal && s.score < MaxScore {
		s.score = min(MaxScore, s.score+s.cfg.RecoveryPerTick)
	}

	s.history.Push(s.score)
	return s.score, event
}

func (s *Scorer) Score() float64 { return s.score }

func (s *Scorer) Grade() string { return Grade(s.score) }

func (s *Scorer) Summary() Summary {
	avg := MaxScore
	if scores := s.history.Items(); len(scores) > 0 {
		sum := 0.0
		for _, v := range scores {
			sum += v
		}
		avg = sum / float64(len(scores))
	}

	return Summary{
		CurrentScore:         s.score,
		AverageScore:         avg,
		Grade:                Grade(s.score),
		HarshBrakeCount:      s.harshBrakeCount,
		AggressiveAccelCount: s.aggressiveAccelCount,
		SpeedingCount:        s.speedingCount,
		TotalEvents:          s.harshBrakeCount + s.aggressiveAccelCount + s.speedingCount,
		Duration:             s.now().Sub(s.startTime),
	}
}

var gradeBands = []struct {
	min   float64
	grade string
}{
	{95, "A+"},
	{90, "A"},
	{85, "B+"},
	{80, "B"},
	{75, "C+"},
	{70, "C"},
	{65, "D"},
}

// Grade maps a score to its letter band.
func Grade(score float64) string {
	for _, band := range gradeBands {
		if score >= band.min {
			return band.grade
		}
	}
	return "F"
}
